// internal/stream/parser.go
package stream

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
)

// DataPrefix 事件行前缀
const DataPrefix = "data:"

// DataPayload 提取 data 行的负载。空行或其他行返回 false。
// 前缀后的一个空格可有可无。
func DataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, DataPrefix) {
		return "", false
	}
	payload := strings.TrimPrefix(line[len(DataPrefix):], " ")
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", false
	}
	return payload, true
}

// ParseLine 解析一行流数据。非 data 行返回 ok=false 且无错误。
func ParseLine(line string) (event models.StreamEvent, ok bool, err error) {
	payload, isData := DataPayload(line)
	if !isData {
		return models.StreamEvent{}, false, nil
	}
	event, err = ParseEvent(payload)
	return event, true, err
}

// ParseEvent 把一个 JSON 负载解析为归一化事件。
// 无效JSON、缺失或未知的 type 都返回 ProtocolError；未知类型时 event.Type 与 Raw 仍被填充。
func ParseEvent(payload string) (models.StreamEvent, error) {
	event := models.StreamEvent{Raw: payload}

	if !gjson.Valid(payload) {
		return event, apperrors.NewProtocolError("事件不是有效的JSON", nil)
	}

	root := gjson.Parse(payload)
	if !root.IsObject() {
		return event, apperrors.NewProtocolError("事件必须是JSON对象", nil)
	}

	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return event, apperrors.NewProtocolError("事件缺少 type 字段", nil)
	}
	event.Type = models.EventType(typ.Str)
	if !models.KnownEventTypes[event.Type] {
		return event, apperrors.NewProtocolError(fmt.Sprintf("未知的事件类型: %s", typ.Str), nil)
	}

	content := root.Get("content")
	event.SceneNumber = int(firstOf(root, "scene_number", "sceneNumber").Int())
	event.TotalScenes = int(firstOf(root, "total_scenes", "totalScenes").Int())

	switch event.Type {
	case models.EventTitle, models.EventDescription:
		if !content.Exists() {
			return event, apperrors.NewProtocolError(fmt.Sprintf("%s 事件缺少 content", event.Type), nil)
		}
		event.Text = content.String()

	case models.EventStatus, models.EventComplete, models.EventError:
		event.Text = content.String()

	case models.EventScene:
		if !content.IsObject() {
			return event, apperrors.NewProtocolError("scene 事件的 content 必须是对象", nil)
		}
		scene := NormalizeScene(content, event.SceneNumber)
		event.Scene = &scene

	case models.EventCharacters:
		arr, err := collectionContent(content, "characters")
		if err != nil {
			return event, err
		}
		event.Characters = NormalizeCharacters(arr)

	case models.EventLocations:
		arr, err := collectionContent(content, "locations")
		if err != nil {
			return event, err
		}
		event.Locations = NormalizeLocations(arr)

	case models.EventItems:
		arr, err := collectionContent(content, "items")
		if err != nil {
			return event, err
		}
		event.Items = NormalizeItems(arr)
	}

	return event, nil
}

// collectionContent 接受数组，或以集合名包装的对象
func collectionContent(content gjson.Result, key string) (gjson.Result, error) {
	if content.IsArray() {
		return content, nil
	}
	if content.IsObject() {
		if inner := content.Get(key); inner.IsArray() {
			return inner, nil
		}
	}
	if content.Type == gjson.Null || !content.Exists() {
		return gjson.Parse("[]"), nil
	}
	return gjson.Result{}, apperrors.NewProtocolError(fmt.Sprintf("%s 事件的 content 必须是数组", key), nil)
}
