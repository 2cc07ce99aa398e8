// internal/services/navigator_service.go
package services

import (
	"fmt"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
)

// Navigator 单路径游玩的当前位置。
// 只读取任务，从不修改；由所属会话串行调用。
type Navigator struct {
	currentSceneID string
	ended          bool
}

// CurrentSceneID 当前场景ID，未选择时为空
func (n *Navigator) CurrentSceneID() string {
	return n.currentSceneID
}

// Ended 是否已到达终点
func (n *Navigator) Ended() bool {
	return n.ended
}

// Reset 清空当前位置
func (n *Navigator) Reset() {
	n.currentSceneID = ""
	n.ended = false
}

// SelectScene 直接跳转到任务中存在的场景；不存在时返回 NotFoundError 且状态不变
func (n *Navigator) SelectScene(q *models.Quest, sceneID string) error {
	scene, ok := q.SceneByID(sceneID)
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("场景不存在: %s", sceneID), nil)
	}
	n.moveTo(scene)
	return nil
}

// Choose 在 currentSceneID 上执行选择。
// 目标存在时成为当前场景；目标缺失或悬空时返回 DeadEnd，当前场景不变但进入终点状态。
// currentSceneID 为空时使用导航器记录的当前场景。相同输入重复调用得到相同状态。
func (n *Navigator) Choose(q *models.Quest, currentSceneID, choiceID string) (models.Scene, error) {
	if currentSceneID == "" {
		currentSceneID = n.currentSceneID
	}
	from, ok := q.SceneByID(currentSceneID)
	if !ok {
		return models.Scene{}, apperrors.NewNotFoundError(fmt.Sprintf("场景不存在: %s", currentSceneID), nil)
	}

	choice, ok := from.ChoiceByID(choiceID)
	if !ok {
		return models.Scene{}, apperrors.NewNotFoundError(
			fmt.Sprintf("场景 %s 中没有选择 %s", currentSceneID, choiceID), nil)
	}

	target, ok := q.SceneByID(choice.NextSceneID)
	if !choice.HasTarget() || !ok {
		n.ended = true
		if !choice.HasTarget() {
			return models.Scene{}, apperrors.NewDeadEndError(fmt.Sprintf("选择 %s 没有后续场景", choiceID))
		}
		return models.Scene{}, apperrors.NewDeadEndError(
			fmt.Sprintf("选择 %s 指向不存在的场景 %s", choiceID, choice.NextSceneID))
	}

	n.moveTo(target)
	return target.Clone(), nil
}

// moveTo 更新当前场景；结局场景或没有选择的场景进入终点状态
func (n *Navigator) moveTo(scene *models.Scene) {
	n.currentSceneID = scene.ID
	n.ended = scene.IsDeadEnd()
}

// ProjectScene 当前场景的只读投影：地点、角色与物品按任务集合中的顺序过滤
func ProjectScene(q *models.Quest, sceneID string) (models.SceneView, error) {
	scene, ok := q.SceneByID(sceneID)
	if !ok {
		return models.SceneView{}, apperrors.NewNotFoundError(fmt.Sprintf("场景不存在: %s", sceneID), nil)
	}

	view := models.SceneView{
		Scene:      scene.Clone(),
		Characters: []models.Character{},
		Items:      []models.Item{},
		Choices:    append([]models.Choice{}, scene.Choices...),
		IsDeadEnd:  scene.IsDeadEnd(),
	}
	if loc, ok := q.LocationByID(scene.LocationID); ok {
		l := loc.Clone()
		view.Location = &l
	}

	charSet := toSet(scene.Characters)
	for _, c := range q.Characters {
		if charSet[c.ID] {
			view.Characters = append(view.Characters, c)
		}
	}
	itemSet := toSet(scene.Items)
	for _, it := range q.Items {
		if itemSet[it.ID] {
			view.Items = append(view.Items, it)
		}
	}
	return view, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
