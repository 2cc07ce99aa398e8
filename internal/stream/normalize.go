// internal/stream/normalize.go
package stream

import (
	"fmt"

	"github.com/tidwall/gjson"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
)

// 归一化规则：后端使用 snake_case，同时容忍 camelCase 写法，只在这里处理一次。
// 缺失字段的默认值：
//
//	scene.id            缺失时为 scene_<scene_number>，无序号则留空由装配引擎补齐
//	scene.choices       缺失或 null 时为空列表
//	scene.characters    缺失时为空列表，非字符串元素被丢弃
//	scene.items         同上
//	scene.is_ending     缺失时为 false
//	choice.id           缺失时为 <scene id>_choice_<序号>
//	choice.next_scene_id 缺失、null 或空串表示无目标
//	character.name      缺失时回退到 title
//	item.is_key         缺失时为 false

// firstOf 返回第一个存在的字段
func firstOf(obj gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := obj.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func stringOf(obj gjson.Result, keys ...string) string {
	v := firstOf(obj, keys...)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return v.String()
}

func boolOf(obj gjson.Result, keys ...string) bool {
	v := firstOf(obj, keys...)
	return v.Exists() && v.Bool()
}

// idList 读取字符串ID数组，丢弃非字符串元素
func idList(obj gjson.Result, keys ...string) []string {
	ids := []string{}
	v := firstOf(obj, keys...)
	if !v.IsArray() {
		return ids
	}
	v.ForEach(func(_, el gjson.Result) bool {
		if el.Type == gjson.String && el.Str != "" {
			ids = append(ids, el.Str)
		}
		return true
	})
	return ids
}

// NormalizeScene 把后端场景对象转换为规范场景
func NormalizeScene(obj gjson.Result, sceneNumber int) models.Scene {
	scene := models.Scene{
		ID:          stringOf(obj, "id"),
		Title:       stringOf(obj, "title", "name"),
		Description: stringOf(obj, "description"),
		LocationID:  stringOf(obj, "location_id", "locationId"),
		Characters:  idList(obj, "characters"),
		Items:       idList(obj, "items"),
		Choices:     []models.Choice{},
		IsEnding:    boolOf(obj, "is_ending", "isEnding"),
	}
	if scene.ID == "" && sceneNumber > 0 {
		scene.ID = fmt.Sprintf("scene_%d", sceneNumber)
	}

	choices := obj.Get("choices")
	if choices.IsArray() {
		choices.ForEach(func(_, c gjson.Result) bool {
			if c.IsObject() {
				scene.Choices = append(scene.Choices, NormalizeChoice(c))
			}
			return true
		})
	}
	// 场景ID未知时选择ID留空，由装配时补齐
	scene.FillChoiceIDs()
	return scene
}

// NormalizeChoice 转换一个选择，缺少的ID由所属场景补齐
func NormalizeChoice(obj gjson.Result) models.Choice {
	choice := models.Choice{
		ID:          stringOf(obj, "id"),
		Text:        stringOf(obj, "text", "title"),
		NextSceneID: stringOf(obj, "next_scene_id", "nextSceneId"),
		Consequence: stringOf(obj, "consequence"),
	}
	if req := firstOf(obj, "required_items", "requiredItems"); req.IsArray() {
		choice.RequiredItems = idList(obj, "required_items", "requiredItems")
	}
	return choice
}

// NormalizeCharacters 转换角色数组
func NormalizeCharacters(arr gjson.Result) []models.Character {
	out := []models.Character{}
	arr.ForEach(func(_, c gjson.Result) bool {
		if !c.IsObject() {
			return true
		}
		out = append(out, models.Character{
			ID:          stringOf(c, "id"),
			Name:        stringOf(c, "name", "title"),
			Role:        stringOf(c, "role"),
			Description: stringOf(c, "description"),
			Motivation:  stringOf(c, "motivation"),
			IsAlly:      boolOf(c, "is_ally", "isAlly"),
			IsEnemy:     boolOf(c, "is_enemy", "isEnemy"),
		})
		return true
	})
	return out
}

// NormalizeLocations 转换地点数组
func NormalizeLocations(arr gjson.Result) []models.Location {
	out := []models.Location{}
	arr.ForEach(func(_, l gjson.Result) bool {
		if !l.IsObject() {
			return true
		}
		out = append(out, models.Location{
			ID:          stringOf(l, "id"),
			Name:        stringOf(l, "name", "title"),
			Description: stringOf(l, "description"),
			Characters:  idList(l, "characters"),
			Items:       idList(l, "items"),
		})
		return true
	})
	return out
}

// NormalizeItems 转换物品数组
func NormalizeItems(arr gjson.Result) []models.Item {
	out := []models.Item{}
	arr.ForEach(func(_, it gjson.Result) bool {
		if !it.IsObject() {
			return true
		}
		out = append(out, models.Item{
			ID:          stringOf(it, "id"),
			Name:        stringOf(it, "name", "title"),
			Description: stringOf(it, "description"),
			IsKey:       boolOf(it, "is_key", "isKey"),
			Effect:      stringOf(it, "effect"),
		})
		return true
	})
	return out
}

// NormalizeQuestDocument 转换非流式接口返回的完整任务文档
func NormalizeQuestDocument(data []byte) (*models.Quest, error) {
	if !gjson.ValidBytes(data) {
		return nil, apperrors.NewProtocolError("任务文档不是有效的JSON", nil)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, apperrors.NewProtocolError("任务文档必须是JSON对象", nil)
	}

	quest := &models.Quest{
		ID:            stringOf(root, "id"),
		Title:         stringOf(root, "title"),
		Description:   stringOf(root, "description"),
		Setting:       stringOf(root, "setting"),
		QuestStyle:    stringOf(root, "quest_style", "questStyle"),
		StartingPoint: stringOf(root, "starting_point", "startingPoint"),
		Scenes:        []models.Scene{},
		Characters:    NormalizeCharacters(root.Get("characters")),
		Locations:     NormalizeLocations(root.Get("locations")),
		Items:         NormalizeItems(root.Get("items")),
	}

	n := 0
	root.Get("scenes").ForEach(func(_, s gjson.Result) bool {
		if !s.IsObject() {
			return true
		}
		n++
		quest.Scenes = append(quest.Scenes, NormalizeScene(s, n))
		return true
	})
	return quest, nil
}
