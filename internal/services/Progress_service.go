// internal/services/Progress_service.go
package services

import (
	"sort"
	"sync"
	"time"

	"github.com/Corphon/QuestWeaver/internal/models"
)

// ProgressTracker 一次生成的进度日志，由装配引擎单线程写入
type ProgressTracker struct {
	progress models.GenerationProgress
}

// NewProgressTracker 创建并立即进入生成状态
func NewProgressTracker(expectedSteps int) *ProgressTracker {
	t := &ProgressTracker{}
	t.Reset(expectedSteps)
	return t
}

// Reset 清空进度，开始新的生成
func (t *ProgressTracker) Reset(expectedSteps int) {
	if expectedSteps <= 0 {
		expectedSteps = models.DefaultExpectedProgressSteps
	}
	t.progress = models.GenerationProgress{
		CurrentStep:    "Starting generation",
		CompletedSteps: []string{},
		IsGenerating:   true,
		ExpectedSteps:  expectedSteps,
	}
}

// SetCurrent 更新正在进行的步骤
func (t *ProgressTracker) SetCurrent(label string) {
	if label != "" {
		t.progress.CurrentStep = label
	}
}

// CompleteStep 追加一个已完成步骤
func (t *ProgressTracker) CompleteStep(label string) {
	t.progress.CompletedSteps = append(t.progress.CompletedSteps, label)
	t.progress.CurrentStep = label
}

// AppendRaw 追加原始事件到诊断日志
func (t *ProgressTracker) AppendRaw(raw string) {
	if raw == "" {
		return
	}
	t.progress.StreamedContent += raw + "\n"
}

// ExpectScenes 根据后端声明的场景总数调整预期步骤数
func (t *ProgressTracker) ExpectScenes(total int) {
	if total > 0 {
		t.progress.ExpectedSteps = models.DefaultExpectedProgressSteps + total
	}
}

// Finish 生成正常结束
func (t *ProgressTracker) Finish(label string) {
	t.CompleteStep(label)
	t.progress.IsGenerating = false
}

// Fail 生成失败，已完成步骤保留
func (t *ProgressTracker) Fail(message string) {
	t.progress.CurrentStep = "Failed: " + message
	t.progress.IsGenerating = false
}

// IsGenerating 是否仍在生成
func (t *ProgressTracker) IsGenerating() bool {
	return t.progress.IsGenerating
}

// Snapshot 返回进度副本
func (t *ProgressTracker) Snapshot() models.GenerationProgress {
	return t.progress.Clone()
}

// RunStatus 生成任务状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAbandoned RunStatus = "abandoned"
)

// GenerationRun 一次生成任务的摘要
type GenerationRun struct {
	RunID      string    `json:"runId"`
	SessionID  string    `json:"sessionId"`
	Status     RunStatus `json:"status"`
	Percent    int       `json:"percent"`
	Message    string    `json:"message"`
	StartTime  time.Time `json:"startTime"`
	UpdateTime time.Time `json:"updateTime"`
}

// ProgressService 记录所有会话的生成任务
type ProgressService struct {
	runs  map[string]*GenerationRun
	mutex sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		runs: make(map[string]*GenerationRun),
	}
}

// StartRun 登记新的生成任务
func (s *ProgressService) StartRun(runID, sessionID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	s.runs[runID] = &GenerationRun{
		RunID:      runID,
		SessionID:  sessionID,
		Status:     RunRunning,
		Message:    "任务初始化中...",
		StartTime:  now,
		UpdateTime: now,
	}
}

// UpdateRun 更新任务进度，百分比只增不减
func (s *ProgressService) UpdateRun(runID string, percent int, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.Status != RunRunning {
		return
	}
	if percent > run.Percent {
		run.Percent = percent
	}
	if message != "" {
		run.Message = message
	}
	run.UpdateTime = time.Now()
}

// FinishRun 标记任务结束
func (s *ProgressService) FinishRun(runID string, status RunStatus, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.Status != RunRunning {
		return
	}
	run.Status = status
	if status == RunCompleted {
		run.Percent = 100
	}
	if message != "" {
		run.Message = message
	}
	run.UpdateTime = time.Now()
}

// GetRun 获取任务摘要副本
func (s *ProgressService) GetRun(runID string) (GenerationRun, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return GenerationRun{}, false
	}
	return *run, true
}

// ListRuns 按开始时间倒序列出任务
func (s *ProgressService) ListRuns(sessionID string) []GenerationRun {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	runs := make([]GenerationRun, 0, len(s.runs))
	for _, run := range s.runs {
		if sessionID == "" || run.SessionID == sessionID {
			runs = append(runs, *run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	return runs
}

// CleanupCompletedTasks 清理已结束且过期的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	now := time.Now()
	for id, run := range s.runs {
		if run.Status != RunRunning && now.Sub(run.UpdateTime) > maxAge {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}
