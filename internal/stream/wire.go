// internal/stream/wire.go
package stream

import (
	"encoding/json"

	"github.com/Corphon/QuestWeaver/internal/models"
)

// 后端线格式（snake_case），生成端编码时使用

type WireChoice struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	NextSceneID   *string  `json:"next_scene_id"`
	RequiredItems []string `json:"required_items,omitempty"`
	Consequence   string   `json:"consequence,omitempty"`
}

type WireScene struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	LocationID  string       `json:"location_id,omitempty"`
	Characters  []string     `json:"characters"`
	Items       []string     `json:"items"`
	Choices     []WireChoice `json:"choices"`
	IsEnding    bool         `json:"is_ending"`
}

type WireCharacter struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description"`
	Motivation  string `json:"motivation,omitempty"`
	IsAlly      bool   `json:"is_ally"`
	IsEnemy     bool   `json:"is_enemy"`
}

type WireLocation struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Characters  []string `json:"characters"`
	Items       []string `json:"items"`
}

type WireItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsKey       bool   `json:"is_key"`
	Effect      string `json:"effect,omitempty"`
}

// WireQuest 非流式接口的完整文档
type WireQuest struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Setting       string          `json:"setting"`
	QuestStyle    string          `json:"quest_style"`
	StartingPoint string          `json:"starting_point"`
	Scenes        []WireScene     `json:"scenes"`
	Characters    []WireCharacter `json:"characters"`
	Locations     []WireLocation  `json:"locations"`
	Items         []WireItem      `json:"items"`
}

// WireEvent 一条流事件
type WireEvent struct {
	Type        models.EventType `json:"type"`
	Content     any              `json:"content"`
	SceneNumber int              `json:"scene_number,omitempty"`
	TotalScenes int              `json:"total_scenes,omitempty"`
}

// Encode 编码为 data 行负载
func (e WireEvent) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// SceneToWire 规范场景转线格式
func SceneToWire(s models.Scene) WireScene {
	ws := WireScene{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		LocationID:  s.LocationID,
		Characters:  nonNil(s.Characters),
		Items:       nonNil(s.Items),
		Choices:     make([]WireChoice, 0, len(s.Choices)),
		IsEnding:    s.IsEnding,
	}
	for _, c := range s.Choices {
		wc := WireChoice{ID: c.ID, Text: c.Text, RequiredItems: c.RequiredItems, Consequence: c.Consequence}
		if c.HasTarget() {
			next := c.NextSceneID
			wc.NextSceneID = &next
		}
		ws.Choices = append(ws.Choices, wc)
	}
	return ws
}

// CharactersToWire 角色列表转线格式
func CharactersToWire(cs []models.Character) []WireCharacter {
	out := make([]WireCharacter, 0, len(cs))
	for _, c := range cs {
		out = append(out, WireCharacter{
			ID: c.ID, Name: c.Name, Role: c.Role, Description: c.Description,
			Motivation: c.Motivation, IsAlly: c.IsAlly, IsEnemy: c.IsEnemy,
		})
	}
	return out
}

// LocationsToWire 地点列表转线格式
func LocationsToWire(ls []models.Location) []WireLocation {
	out := make([]WireLocation, 0, len(ls))
	for _, l := range ls {
		out = append(out, WireLocation{
			ID: l.ID, Name: l.Name, Description: l.Description,
			Characters: nonNil(l.Characters), Items: nonNil(l.Items),
		})
	}
	return out
}

// ItemsToWire 物品列表转线格式
func ItemsToWire(is []models.Item) []WireItem {
	out := make([]WireItem, 0, len(is))
	for _, it := range is {
		out = append(out, WireItem{ID: it.ID, Name: it.Name, Description: it.Description, IsKey: it.IsKey, Effect: it.Effect})
	}
	return out
}

// QuestToWire 完整任务转线格式
func QuestToWire(q *models.Quest) WireQuest {
	wq := WireQuest{
		ID:            q.ID,
		Title:         q.Title,
		Description:   q.Description,
		Setting:       q.Setting,
		QuestStyle:    q.QuestStyle,
		StartingPoint: q.StartingPoint,
		Scenes:        make([]WireScene, 0, len(q.Scenes)),
		Characters:    CharactersToWire(q.Characters),
		Locations:     LocationsToWire(q.Locations),
		Items:         ItemsToWire(q.Items),
	}
	for _, s := range q.Scenes {
		wq.Scenes = append(wq.Scenes, SceneToWire(s))
	}
	return wq
}
