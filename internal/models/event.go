// internal/models/event.go
package models

// EventType 生成流事件类型
type EventType string

// 事件类型及其对任务的作用：
//
//	status       只更新 currentStep，不改动任务
//	title        替换 title
//	description  替换 description
//	characters   整体替换 characters
//	locations    整体替换 locations
//	items        整体替换 items
//	scene        追加一个场景
//	complete     结束生成，任务冻结
//	error        结束生成，记录错误
const (
	EventStatus      EventType = "status"
	EventTitle       EventType = "title"
	EventDescription EventType = "description"
	EventCharacters  EventType = "characters"
	EventLocations   EventType = "locations"
	EventItems       EventType = "items"
	EventScene       EventType = "scene"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
)

// KnownEventTypes 所有可识别的事件类型
var KnownEventTypes = map[EventType]bool{
	EventStatus:      true,
	EventTitle:       true,
	EventDescription: true,
	EventCharacters:  true,
	EventLocations:   true,
	EventItems:       true,
	EventScene:       true,
	EventComplete:    true,
	EventError:       true,
}

// IsTerminal complete 与 error 结束一次生成
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}

// StreamEvent 归一化之后的生成事件
type StreamEvent struct {
	Type        EventType   `json:"type"`
	Text        string      `json:"text,omitempty"` // title/description/status/complete/error 的文本
	Scene       *Scene      `json:"scene,omitempty"`
	Characters  []Character `json:"characters,omitempty"`
	Locations   []Location  `json:"locations,omitempty"`
	Items       []Item      `json:"items,omitempty"`
	SceneNumber int         `json:"sceneNumber,omitempty"`
	TotalScenes int         `json:"totalScenes,omitempty"`
	Raw         string      `json:"-"` // 原始 data 行负载
}
