// internal/models/progress.go
package models

// GenerationProgress 生成进度
type GenerationProgress struct {
	CurrentStep     string   `json:"currentStep"`
	CompletedSteps  []string `json:"completedSteps"`
	StreamedContent string   `json:"streamedContent"`
	IsGenerating    bool     `json:"isGenerating"`
	ExpectedSteps   int      `json:"expectedSteps"`
	Percent         int      `json:"percent"`
}

// ComputePercent 按已完成步骤估算百分比，结果截断在 [0,100]
func (p GenerationProgress) ComputePercent() int {
	expected := p.ExpectedSteps
	if expected <= 0 {
		expected = DefaultExpectedProgressSteps
	}
	pct := len(p.CompletedSteps) * 100 / expected
	if pct > 100 {
		pct = 100
	}
	if !p.IsGenerating && p.CurrentStep == "Complete" {
		pct = 100
	}
	return pct
}

// Clone 拷贝进度
func (p GenerationProgress) Clone() GenerationProgress {
	c := p
	c.CompletedSteps = append([]string{}, p.CompletedSteps...)
	c.Percent = p.ComputePercent()
	return c
}
