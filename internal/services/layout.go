// internal/services/layout.go
package services

import (
	"github.com/Corphon/QuestWeaver/internal/models"
)

type visit struct {
	sceneID string
	level   int
}

// ComputeLayout 从入口场景做迭代深度优先遍历，按深度分层并计算坐标。
// 已访问的场景保留首次分配的层级；不可达场景和悬空引用不参与布局。
// 只读，可在任务仍在装配时调用。
func ComputeLayout(q *models.Quest) models.GraphLayout {
	layout := models.GraphLayout{
		Nodes:  []models.NodePosition{},
		Edges:  []models.GraphEdge{},
		Levels: [][]string{},
	}
	entry, ok := q.EntryScene()
	if !ok {
		return layout
	}

	// 同ID重复时以先到达者为准
	index := make(map[string]int, len(q.Scenes))
	for i, s := range q.Scenes {
		if _, dup := index[s.ID]; !dup {
			index[s.ID] = i
		}
	}

	levelOf := make(map[string]int, len(q.Scenes))
	var order []string
	stack := []visit{{sceneID: entry.ID, level: 0}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := levelOf[top.sceneID]; seen {
			continue
		}
		levelOf[top.sceneID] = top.level
		order = append(order, top.sceneID)

		scene := q.Scenes[index[top.sceneID]]
		// 逆序入栈，使出栈顺序与选择顺序一致
		for i := len(scene.Choices) - 1; i >= 0; i-- {
			next := scene.Choices[i].NextSceneID
			if next == "" {
				continue
			}
			if _, exists := index[next]; !exists {
				continue
			}
			if _, seen := levelOf[next]; seen {
				continue
			}
			stack = append(stack, visit{sceneID: next, level: top.level + 1})
		}
	}

	for _, id := range order {
		lvl := levelOf[id]
		for len(layout.Levels) <= lvl {
			layout.Levels = append(layout.Levels, []string{})
		}
		layout.Levels[lvl] = append(layout.Levels[lvl], id)
	}

	positions := make(map[string]models.NodePosition, len(order))
	maxWidth := 0
	for lvl, ids := range layout.Levels {
		if len(ids) > maxWidth {
			maxWidth = len(ids)
		}
		offset := float64(len(ids)-1) / 2
		for i, id := range ids {
			scene := q.Scenes[index[id]]
			positions[id] = models.NodePosition{
				SceneID:  id,
				Title:    scene.Title,
				Level:    lvl,
				X:        models.LayoutCenterX + (float64(i)-offset)*models.LayoutHorizontalGap,
				Y:        models.LayoutTopY + float64(lvl)*models.LayoutVerticalGap,
				IsEnding: scene.IsEnding,
			}
		}
	}

	for _, id := range order {
		layout.Nodes = append(layout.Nodes, positions[id])
	}

	// 连线只连接两个已定位的节点
	for _, id := range order {
		scene := q.Scenes[index[id]]
		for _, c := range scene.Choices {
			if _, ok := positions[c.NextSceneID]; !ok {
				continue
			}
			layout.Edges = append(layout.Edges, models.GraphEdge{
				From:     id,
				To:       c.NextSceneID,
				ChoiceID: c.ID,
				Text:     c.Text,
			})
		}
	}

	layout.Width = models.LayoutCanvasWidth
	if w := float64(maxWidth-1)*models.LayoutHorizontalGap + 2*models.LayoutTopY; w > layout.Width {
		layout.Width = w
	}
	layout.Height = models.LayoutTopY*2 + float64(len(layout.Levels)-1)*models.LayoutVerticalGap
	return layout
}
