// internal/models/scene.go
package models

import "fmt"

// Scene 任务图中的一个节点
type Scene struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	LocationID  string   `json:"locationId,omitempty" yaml:"location_id,omitempty"` // 弱引用，流式阶段可能尚未到达
	Characters  []string `json:"characters" yaml:"characters,omitempty"`
	Items       []string `json:"items" yaml:"items,omitempty"`
	Choices     []Choice `json:"choices" yaml:"choices"`
	IsEnding    bool     `json:"isEnding" yaml:"is_ending"`
}

// Choice 场景之间的一条边
type Choice struct {
	ID            string   `json:"id" yaml:"id"`
	Text          string   `json:"text" yaml:"text"`
	NextSceneID   string   `json:"nextSceneId,omitempty" yaml:"next_scene_id,omitempty"` // 空表示无目标
	RequiredItems []string `json:"requiredItems,omitempty" yaml:"required_items,omitempty"`
	Consequence   string   `json:"consequence,omitempty" yaml:"consequence,omitempty"`
}

// HasTarget 选择是否声明了目标场景
func (c Choice) HasTarget() bool {
	return c.NextSceneID != ""
}

// IsDeadEnd 结局场景或没有选择的场景都是遍历终点
func (s Scene) IsDeadEnd() bool {
	return s.IsEnding || len(s.Choices) == 0
}

// FillChoiceIDs 为缺少ID的选择补齐 <场景ID>_choice_<序号>，场景ID为空时不处理
func (s *Scene) FillChoiceIDs() {
	if s.ID == "" {
		return
	}
	for i := range s.Choices {
		if s.Choices[i].ID == "" {
			s.Choices[i].ID = fmt.Sprintf("%s_choice_%d", s.ID, i+1)
		}
	}
}

// ChoiceByID 按ID查找选择
func (s Scene) ChoiceByID(id string) (Choice, bool) {
	for _, c := range s.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// Clone 深拷贝场景
func (s Scene) Clone() Scene {
	c := s
	c.Characters = cloneStrings(s.Characters)
	c.Items = cloneStrings(s.Items)
	if s.Choices != nil {
		c.Choices = make([]Choice, len(s.Choices))
		for i, ch := range s.Choices {
			ch.RequiredItems = cloneStrings(ch.RequiredItems)
			c.Choices[i] = ch
		}
	}
	return c
}

// cloneStrings 拷贝切片，保留 nil 与空切片的区别
func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

// SceneView 当前场景的只读投影
type SceneView struct {
	Scene      Scene       `json:"scene"`
	Location   *Location   `json:"location,omitempty"`
	Characters []Character `json:"characters"`
	Items      []Item      `json:"items"`
	Choices    []Choice    `json:"choices"`
	IsDeadEnd  bool        `json:"isDeadEnd"`
}
