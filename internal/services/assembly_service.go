// internal/services/assembly_service.go
package services

import (
	"fmt"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/utils"
)

// ApplyResult 应用一个事件的结果
type ApplyResult struct {
	Changed  bool // 任务或进度发生了变化，需要发布快照
	Terminal bool // complete 或 error，生成结束
}

// Assembler 把有序事件流装配为任务文档。
// 非并发安全，由所属会话串行调用。
type Assembler struct {
	quest     *models.Quest
	progress  *ProgressTracker
	complete  bool
	failed    bool
	lastError string
	accepted  int

	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewAssembler 为一次生成创建空任务与新的进度日志
func NewAssembler(questID string, req models.GenerationRequest) *Assembler {
	expected := models.DefaultExpectedProgressSteps + req.EffectiveSceneCount()
	return &Assembler{
		quest:    models.NewQuest(questID, req),
		progress: NewProgressTracker(expected),
		logger:   utils.GetLogger(),
		metrics:  utils.GetMetricsCollector(),
	}
}

// Quest 当前任务（内部引用，调用方不得修改）
func (a *Assembler) Quest() *models.Quest {
	return a.quest
}

// Progress 进度副本
func (a *Assembler) Progress() models.GenerationProgress {
	return a.progress.Snapshot()
}

// IsComplete 是否已收到 complete
func (a *Assembler) IsComplete() bool {
	return a.complete
}

// IsFinished 生成已结束（完成或失败）
func (a *Assembler) IsFinished() bool {
	return a.complete || a.failed
}

// LastError 最近一次错误消息
func (a *Assembler) LastError() string {
	return a.lastError
}

// AcceptedEvents 已被接受的事件数
func (a *Assembler) AcceptedEvents() int {
	return a.accepted
}

// RecordProtocolError 记录一条被跳过的无效事件，不影响任务
func (a *Assembler) RecordProtocolError(raw string, err error) {
	a.progress.AppendRaw(raw)
	a.metrics.IncrementCounter(utils.MetricProtocolErrors)
	a.logger.Warn("跳过无效事件", map[string]interface{}{
		"quest_id": a.quest.ID,
		"error":    err.Error(),
	})
}

// ApplyEvent 按事件类型更新任务与进度。
// error 事件返回 GenerationError；任务冻结后到达的事件被忽略。
func (a *Assembler) ApplyEvent(ev models.StreamEvent) (ApplyResult, error) {
	a.progress.AppendRaw(ev.Raw)

	if a.IsFinished() {
		a.logger.Debug("任务已结束，忽略事件", map[string]interface{}{
			"quest_id": a.quest.ID,
			"type":     string(ev.Type),
		})
		return ApplyResult{}, nil
	}

	switch ev.Type {
	case models.EventStatus:
		a.progress.SetCurrent(ev.Text)

	case models.EventTitle:
		a.quest.Title = ev.Text
		a.progress.CompleteStep("Title: " + ev.Text)

	case models.EventDescription:
		a.quest.Description = ev.Text
		a.progress.CompleteStep("Description")

	case models.EventCharacters:
		a.replaceCharacters(ev.Characters)
		a.progress.CompleteStep(fmt.Sprintf("Characters (%d)", len(a.quest.Characters)))

	case models.EventLocations:
		a.replaceLocations(ev.Locations)
		a.progress.CompleteStep(fmt.Sprintf("Locations (%d)", len(a.quest.Locations)))

	case models.EventItems:
		a.replaceItems(ev.Items)
		a.progress.CompleteStep(fmt.Sprintf("Items (%d)", len(a.quest.Items)))

	case models.EventScene:
		if ev.Scene == nil {
			return ApplyResult{}, apperrors.NewProtocolError("scene 事件缺少场景", nil)
		}
		scene := a.appendScene(*ev.Scene)
		a.progress.ExpectScenes(ev.TotalScenes)
		a.progress.CompleteStep(sceneStepLabel(scene, ev, len(a.quest.Scenes)))

	case models.EventComplete:
		a.complete = true
		a.progress.Finish("Complete")

	case models.EventError:
		msg := ev.Text
		if msg == "" {
			msg = "生成后端返回错误"
		}
		a.Fail(msg)
		a.accepted++
		a.metrics.IncrementCounter(utils.MetricEventsApplied)
		return ApplyResult{Changed: true, Terminal: true}, apperrors.NewGenerationError(msg)

	default:
		// 未知类型只保留原始日志
		return ApplyResult{}, nil
	}

	a.accepted++
	a.metrics.IncrementCounter(utils.MetricEventsApplied)
	return ApplyResult{Changed: true, Terminal: ev.Type == models.EventComplete}, nil
}

// Fail 以错误结束生成，保留已装配的部分任务
func (a *Assembler) Fail(message string) {
	if a.IsFinished() {
		return
	}
	a.failed = true
	a.lastError = message
	a.progress.Fail(message)
}

// LoadDocument 一次性装入非流式接口返回的完整任务
func (a *Assembler) LoadDocument(doc *models.Quest) {
	if a.IsFinished() || doc == nil {
		return
	}

	a.quest.Title = doc.Title
	a.quest.Description = doc.Description
	if doc.Setting != "" {
		a.quest.Setting = doc.Setting
	}
	if doc.QuestStyle != "" {
		a.quest.QuestStyle = doc.QuestStyle
	}
	if doc.StartingPoint != "" {
		a.quest.StartingPoint = doc.StartingPoint
	}
	a.progress.CompleteStep("Title: " + doc.Title)

	a.replaceCharacters(doc.Characters)
	a.replaceLocations(doc.Locations)
	a.replaceItems(doc.Items)
	a.progress.ExpectScenes(len(doc.Scenes))
	for i, s := range doc.Scenes {
		scene := a.appendScene(s)
		a.progress.CompleteStep(fmt.Sprintf("Scene %d/%d: %s", i+1, len(doc.Scenes), scene.Title))
	}

	a.complete = true
	a.accepted++
	a.progress.Finish("Complete")
}

// 集合写入策略见 models.CollectionPolicies：characters/locations/items 整体替换

func (a *Assembler) replaceCharacters(cs []models.Character) {
	a.quest.Characters = append(make([]models.Character, 0, len(cs)), cs...)
}

func (a *Assembler) replaceLocations(ls []models.Location) {
	out := make([]models.Location, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Clone())
	}
	a.quest.Locations = out
}

func (a *Assembler) replaceItems(is []models.Item) {
	a.quest.Items = append(make([]models.Item, 0, len(is)), is...)
}

// appendScene 追加一个场景，缺失ID时按到达序号补齐
func (a *Assembler) appendScene(s models.Scene) models.Scene {
	scene := s.Clone()
	if scene.ID == "" {
		scene.ID = fmt.Sprintf("scene_%d", len(a.quest.Scenes)+1)
	}
	scene.FillChoiceIDs()
	if scene.Characters == nil {
		scene.Characters = []string{}
	}
	if scene.Items == nil {
		scene.Items = []string{}
	}
	if scene.Choices == nil {
		scene.Choices = []models.Choice{}
	}
	if a.quest.HasScene(scene.ID) {
		a.logger.Warn("场景ID重复，导航将使用先到达的场景", map[string]interface{}{
			"quest_id": a.quest.ID,
			"scene_id": scene.ID,
		})
	}
	a.quest.Scenes = append(a.quest.Scenes, scene)
	return scene
}

func sceneStepLabel(scene models.Scene, ev models.StreamEvent, arrived int) string {
	number := ev.SceneNumber
	if number <= 0 {
		number = arrived
	}
	if ev.TotalScenes > 0 {
		return fmt.Sprintf("Scene %d/%d: %s", number, ev.TotalScenes, scene.Title)
	}
	return fmt.Sprintf("Scene %d: %s", number, scene.Title)
}
