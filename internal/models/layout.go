// internal/models/layout.go
package models

// 布局常量
const (
	LayoutHorizontalGap = 220.0
	LayoutVerticalGap   = 120.0
	LayoutCanvasWidth   = 800.0
	LayoutCenterX       = LayoutCanvasWidth / 2
	LayoutTopY          = 40.0
)

// NodePosition 场景节点在画布上的位置
type NodePosition struct {
	SceneID  string  `json:"sceneId" yaml:"scene_id"`
	Title    string  `json:"title" yaml:"title"`
	Level    int     `json:"level" yaml:"level"`
	X        float64 `json:"x" yaml:"x"`
	Y        float64 `json:"y" yaml:"y"`
	IsEnding bool    `json:"isEnding" yaml:"is_ending"`
}

// GraphEdge 两个已定位节点之间的连线
type GraphEdge struct {
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	ChoiceID string `json:"choiceId" yaml:"choice_id"`
	Text     string `json:"text" yaml:"text"`
}

// GraphLayout 任务图布局结果
type GraphLayout struct {
	Nodes  []NodePosition `json:"nodes" yaml:"nodes"` // 访问顺序
	Edges  []GraphEdge    `json:"edges" yaml:"edges"`
	Levels [][]string     `json:"levels" yaml:"levels"`
	Width  float64        `json:"width" yaml:"width"`
	Height float64        `json:"height" yaml:"height"`
}

// Position 按场景ID查找节点位置
func (l GraphLayout) Position(sceneID string) (NodePosition, bool) {
	for _, n := range l.Nodes {
		if n.SceneID == sceneID {
			return n, true
		}
	}
	return NodePosition{}, false
}

// IsEmpty 没有任何定位节点
func (l GraphLayout) IsEmpty() bool {
	return len(l.Nodes) == 0
}
