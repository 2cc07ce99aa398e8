// internal/services/generator_service.go
package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/stream"
	"github.com/Corphon/QuestWeaver/internal/utils"
)

// 生成器状态文本，作为 status 事件发出
const (
	StatusStarting    = "Starting quest generation..."
	StatusDescription = "Writing the plot description..."
	StatusCharacters  = "Creating characters..."
	StatusLocations   = "Creating locations..."
	StatusItems       = "Creating items..."
	StatusScenes      = "Creating scenes..."
	CompleteMessage   = "Quest created successfully!"
)

const (
	fallbackItemCount  = 3
	generatorSystemMsg = "You are a narrative designer who writes branching text quests."
)

// 各集合的必填字段，缺失的元素被丢弃
var (
	requiredCharacterFields = []string{"id", "name", "role", "description"}
	requiredLocationFields  = []string{"id", "name", "description"}
	requiredItemFields      = []string{"id", "name", "description"}
	requiredSceneFields     = []string{"id", "title", "description", "location_id", "choices"}
)

// EmitFunc 发送一个线格式事件，返回错误时生成中止
type EmitFunc func(ev stream.WireEvent) error

// GeneratorService 内置生成后端：有可用模型时用模型生成，否则使用确定性内容
type GeneratorService struct {
	llm     *LLMService
	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewGeneratorService 创建生成器，llm 可以为 nil
func NewGeneratorService(llm *LLMService) *GeneratorService {
	return &GeneratorService{
		llm:     llm,
		logger:  utils.GetLogger(),
		metrics: utils.GetMetricsCollector(),
	}
}

// Mode 当前生成模式
func (g *GeneratorService) Mode() string {
	if g.useLLM() {
		return "llm:" + g.llm.GetProviderName()
	}
	return "fallback"
}

func (g *GeneratorService) useLLM() bool {
	return g.llm != nil && g.llm.IsReady()
}

// Stream 按协议顺序发出事件：status/title/description/characters/locations/items/scene.../complete。
// 失败时发出 error 事件并返回错误。
func (g *GeneratorService) Stream(ctx context.Context, req models.GenerationRequest, emit EmitFunc) error {
	if err := req.Validate(); err != nil {
		return err
	}

	start := time.Now()
	g.metrics.IncrementCounter("generator_runs_total")
	err := g.run(ctx, req, emit)
	if err != nil {
		g.metrics.IncrementCounter("generator_failures_total")
		g.logger.Error("生成器失败", map[string]interface{}{"error": err.Error()})
		// 连接已断开时这条事件发不出去，忽略其错误
		_ = emit(stream.WireEvent{Type: models.EventError, Content: "Error: " + err.Error()})
		return err
	}
	g.metrics.RecordDuration("generator_duration_ms", time.Since(start))
	return nil
}

// Generate 非流式生成完整文档
func (g *GeneratorService) Generate(ctx context.Context, req models.GenerationRequest) (stream.WireQuest, error) {
	if err := req.Validate(); err != nil {
		return stream.WireQuest{}, err
	}

	resolved, _ := ResolveFileRequest(req)
	doc := stream.WireQuest{
		Setting:       resolved.ResolvedSetting(),
		QuestStyle:    resolved.ResolvedQuestStyle(),
		StartingPoint: resolved.StartingPoint,
		Scenes:        []stream.WireScene{},
		Characters:    []stream.WireCharacter{},
		Locations:     []stream.WireLocation{},
		Items:         []stream.WireItem{},
	}

	err := g.run(ctx, req, func(ev stream.WireEvent) error {
		switch ev.Type {
		case models.EventTitle:
			doc.Title, _ = ev.Content.(string)
		case models.EventDescription:
			doc.Description, _ = ev.Content.(string)
		case models.EventCharacters:
			doc.Characters, _ = ev.Content.([]stream.WireCharacter)
		case models.EventLocations:
			doc.Locations, _ = ev.Content.([]stream.WireLocation)
		case models.EventItems:
			doc.Items, _ = ev.Content.([]stream.WireItem)
		case models.EventScene:
			if s, ok := ev.Content.(stream.WireScene); ok {
				doc.Scenes = append(doc.Scenes, s)
			}
		}
		return nil
	})
	if err != nil {
		return stream.WireQuest{}, err
	}
	return doc, nil
}

// run 生成各部分并依次发出，每次发送前检查上下文
func (g *GeneratorService) run(ctx context.Context, req models.GenerationRequest, emit EmitFunc) error {
	req, fileParams := ResolveFileRequest(req)

	send := func(ev stream.WireEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(ev)
	}
	status := func(text string) error {
		return send(stream.WireEvent{Type: models.EventStatus, Content: text})
	}

	if err := status(StatusStarting); err != nil {
		return err
	}
	title := fileParams.Title
	if title == "" {
		title = QuestTitle(req)
	}
	if err := send(stream.WireEvent{Type: models.EventTitle, Content: title}); err != nil {
		return err
	}

	if err := status(StatusDescription); err != nil {
		return err
	}
	description := fileParams.Description
	if description == "" {
		description = g.description(ctx, req)
	}
	if err := send(stream.WireEvent{Type: models.EventDescription, Content: description}); err != nil {
		return err
	}

	if err := status(StatusCharacters); err != nil {
		return err
	}
	characters := g.characters(ctx, req)
	if err := send(stream.WireEvent{Type: models.EventCharacters, Content: stream.CharactersToWire(characters)}); err != nil {
		return err
	}

	if err := status(StatusLocations); err != nil {
		return err
	}
	locations := g.locations(ctx, req)
	if err := send(stream.WireEvent{Type: models.EventLocations, Content: stream.LocationsToWire(locations)}); err != nil {
		return err
	}

	if err := status(StatusItems); err != nil {
		return err
	}
	items := g.items(ctx, req)
	if err := send(stream.WireEvent{Type: models.EventItems, Content: stream.ItemsToWire(items)}); err != nil {
		return err
	}

	if err := status(StatusScenes); err != nil {
		return err
	}
	scenes := g.scenes(ctx, req, characters, locations, items)
	for i, scene := range scenes {
		ev := stream.WireEvent{
			Type:        models.EventScene,
			Content:     stream.SceneToWire(scene),
			SceneNumber: i + 1,
			TotalScenes: len(scenes),
		}
		if err := send(ev); err != nil {
			return err
		}
	}

	return send(stream.WireEvent{Type: models.EventComplete, Content: CompleteMessage})
}

// QuestTitle "Quest: <世界观>"，预置世界观按标题格式大写
func QuestTitle(req models.GenerationRequest) string {
	if req.Setting == models.SettingCustom {
		return "Quest: " + req.CustomSetting
	}
	return "Quest: " + cases.Title(language.English).String(string(req.Setting))
}

// complete 调用模型；失败时返回空结果并记录，调用方使用后备内容
func (g *GeneratorService) complete(ctx context.Context, kind, prompt string) (gjson.Result, bool) {
	if !g.useLLM() {
		return gjson.Result{}, false
	}
	text, err := g.llm.CompleteJSON(ctx, prompt, generatorSystemMsg)
	if err != nil {
		g.metrics.IncrementCounter("generator_fallback_total")
		g.logger.Warn("模型生成失败，使用后备内容", map[string]interface{}{
			"part":  kind,
			"error": err.Error(),
		})
		return gjson.Result{}, false
	}
	return gjson.Parse(text), true
}

// arrayOf 接受数组或以 key 包装的对象
func arrayOf(res gjson.Result, key string) gjson.Result {
	if res.IsArray() {
		return res
	}
	return res.Get(key)
}

func (g *GeneratorService) description(ctx context.Context, req models.GenerationRequest) string {
	prompt := fmt.Sprintf(`Write a short plot description for a quest in the "%s" setting, "%s" style.
Starting point: %s
%s
The description must be 2-3 sentences, intriguing, and set the overall tone of the adventure.
Return a JSON object: {"description": "..."}`,
		req.ResolvedSetting(), req.ResolvedQuestStyle(), req.StartingPoint, optionalLines(req))

	if res, ok := g.complete(ctx, "description", prompt); ok {
		text := res.Get("description").String()
		if res.Type == gjson.String {
			text = res.String()
		}
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return fmt.Sprintf("An exciting adventure in the world of %s, full of unexpected twists and hard choices.",
		req.ResolvedSetting())
}

func (g *GeneratorService) characters(ctx context.Context, req models.GenerationRequest) []models.Character {
	count := req.EffectiveCharacterCount()
	prompt := fmt.Sprintf(`Create %d characters for a quest in the "%s" setting.
Return a JSON object: {"characters": [{"id": "character_1", "name": "Unique name", "role": "role", "description": "description", "motivation": "motivation", "is_ally": true, "is_enemy": false}]}`,
		count, req.ResolvedSetting())

	if res, ok := g.complete(ctx, "characters", prompt); ok {
		valid := validateObjects(arrayOf(res, "characters"), requiredCharacterFields, "character", g.logger)
		if chars := stream.NormalizeCharacters(valid); len(chars) > 0 {
			return chars
		}
	}

	out := make([]models.Character, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, models.Character{
			ID:          fmt.Sprintf("character_%d", i),
			Name:        fmt.Sprintf("Character %d", i),
			Role:        "guide",
			Description: "A mysterious figure",
			Motivation:  "Help the hero",
			IsAlly:      true,
		})
	}
	return out
}

func (g *GeneratorService) locations(ctx context.Context, req models.GenerationRequest) []models.Location {
	count := req.EffectiveSceneCount()
	prompt := fmt.Sprintf(`Create %d locations for a quest in the "%s" setting. The first location is connected to "%s".
Return a JSON object: {"locations": [{"id": "location_1", "name": "Location name", "description": "Location description"}]}`,
		count, req.ResolvedSetting(), req.StartingPoint)

	if res, ok := g.complete(ctx, "locations", prompt); ok {
		valid := validateObjects(arrayOf(res, "locations"), requiredLocationFields, "location", g.logger)
		if locs := stream.NormalizeLocations(valid); len(locs) > 0 {
			return locs
		}
	}

	out := make([]models.Location, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, models.Location{
			ID:          fmt.Sprintf("location_%d", i),
			Name:        fmt.Sprintf("Location %d", i),
			Description: "A mysterious place",
			Characters:  []string{},
			Items:       []string{},
		})
	}
	return out
}

func (g *GeneratorService) items(ctx context.Context, req models.GenerationRequest) []models.Item {
	prompt := fmt.Sprintf(`Create 3-5 items for a quest in the "%s" setting.
Return a JSON object: {"items": [{"id": "item_1", "name": "Item name", "description": "Item description", "is_key": true, "effect": "Item effect"}]}`,
		req.ResolvedSetting())

	if res, ok := g.complete(ctx, "items", prompt); ok {
		valid := validateObjects(arrayOf(res, "items"), requiredItemFields, "item", g.logger)
		if items := stream.NormalizeItems(valid); len(items) > 0 {
			return items
		}
	}

	out := make([]models.Item, 0, fallbackItemCount)
	for i := 1; i <= fallbackItemCount; i++ {
		out = append(out, models.Item{
			ID:          fmt.Sprintf("item_%d", i),
			Name:        fmt.Sprintf("Item %d", i),
			Description: "A mysterious artifact",
			IsKey:       i == 1,
			Effect:      "Unknown effect",
		})
	}
	return out
}

func (g *GeneratorService) scenes(ctx context.Context, req models.GenerationRequest,
	characters []models.Character, locations []models.Location, items []models.Item) []models.Scene {
	count := req.EffectiveSceneCount()

	prompt := fmt.Sprintf(`Create %d scenes for a quest in the "%s" setting, "%s" style.
Characters: %s
Locations: %s
Items: %s
Return a JSON object: {"scenes": [{"id": "scene_1", "title": "Scene title", "description": "Scene description", "location_id": "location_1", "characters": ["character_1"], "items": ["item_1"], "choices": [{"id": "choice_1_1", "text": "Choice text", "next_scene_id": "scene_2", "consequence": "Consequence"}], "is_ending": false}]}`,
		count, req.ResolvedSetting(), req.ResolvedQuestStyle(),
		namesOf(characters, func(c models.Character) string { return c.ID + " " + c.Name }),
		namesOf(locations, func(l models.Location) string { return l.ID + " " + l.Name }),
		namesOf(items, func(it models.Item) string { return it.ID + " " + it.Name }))

	if res, ok := g.complete(ctx, "scenes", prompt); ok {
		valid := validateObjects(arrayOf(res, "scenes"), requiredSceneFields, "scene", g.logger)
		scenes := []models.Scene{}
		valid.ForEach(func(_, obj gjson.Result) bool {
			scenes = append(scenes, stream.NormalizeScene(obj, len(scenes)+1))
			return true
		})
		if len(scenes) > 0 {
			return FixSceneReferences(scenes, g.logger)
		}
	}

	return fallbackScenes(count, characters, locations)
}

// fallbackScenes 线性链 scene_1..scene_n，最后一个是结局
func fallbackScenes(count int, characters []models.Character, locations []models.Location) []models.Scene {
	locationID := "location_1"
	if len(locations) > 0 {
		locationID = locations[0].ID
	}
	sceneChars := []string{}
	if len(characters) > 0 {
		sceneChars = []string{characters[0].ID}
	}

	out := make([]models.Scene, 0, count)
	for i := 1; i <= count; i++ {
		scene := models.Scene{
			ID:          fmt.Sprintf("scene_%d", i),
			Title:       fmt.Sprintf("Scene %d", i),
			Description: fmt.Sprintf("Description of scene %d", i),
			LocationID:  locationID,
			Characters:  append([]string{}, sceneChars...),
			Items:       []string{},
			Choices:     []models.Choice{},
			IsEnding:    i == count,
		}
		if i < count {
			scene.Choices = append(scene.Choices, models.Choice{
				ID:          fmt.Sprintf("choice_%d_1", i),
				Text:        "Continue",
				NextSceneID: fmt.Sprintf("scene_%d", i+1),
				Consequence: "The story continues",
			})
		}
		out = append(out, scene)
	}
	return out
}

// validateObjects 只保留包含全部必填字段的对象；choices 只要求是数组
func validateObjects(arr gjson.Result, required []string, kind string, logger *utils.Logger) gjson.Result {
	if !arr.IsArray() {
		logger.Warn("模型输出不是数组", map[string]interface{}{"kind": kind})
		return gjson.Parse("[]")
	}

	kept := []string{}
	index := 0
	arr.ForEach(func(_, obj gjson.Result) bool {
		index++
		if !obj.IsObject() {
			logger.Warn("跳过无效元素", map[string]interface{}{"kind": kind, "index": index})
			return true
		}
		for _, field := range required {
			v := obj.Get(field)
			missing := !v.Exists()
			if field == "choices" {
				missing = !v.IsArray()
			} else if !missing && (v.Type == gjson.Null || v.String() == "") {
				missing = true
			}
			if missing {
				logger.Warn("元素缺少必填字段", map[string]interface{}{"kind": kind, "index": index, "field": field})
				return true
			}
		}
		kept = append(kept, obj.Raw)
		return true
	})
	return gjson.Parse("[" + strings.Join(kept, ",") + "]")
}

// FixSceneReferences 修正指向不存在场景的选择：
// 优先指向按编号的下一个场景，其次任意其他场景；都不存在时该场景变为结局。
func FixSceneReferences(scenes []models.Scene, logger *utils.Logger) []models.Scene {
	ids := make(map[string]bool, len(scenes))
	for _, s := range scenes {
		ids[s.ID] = true
	}

	for si := range scenes {
		scene := &scenes[si]
		for ci := range scene.Choices {
			choice := &scene.Choices[ci]
			if !choice.HasTarget() || ids[choice.NextSceneID] {
				continue
			}

			original := choice.NextSceneID
			target, ok := repairTarget(scene.ID, scenes, ids)
			if !ok {
				logger.Warn("无法修正场景引用，场景改为结局", map[string]interface{}{
					"scene_id": scene.ID,
					"target":   original,
				})
				scene.IsEnding = true
				scene.Choices = []models.Choice{}
				break
			}
			choice.NextSceneID = target
			logger.Info("修正场景引用", map[string]interface{}{
				"scene_id": scene.ID,
				"from":     original,
				"to":       target,
			})
		}
	}
	return scenes
}

func repairTarget(sceneID string, scenes []models.Scene, ids map[string]bool) (string, bool) {
	number := 1
	if idx := strings.LastIndex(sceneID, "_"); idx >= 0 {
		n, err := strconv.Atoi(sceneID[idx+1:])
		if err != nil {
			return "", false
		}
		number = n
	}
	if next := fmt.Sprintf("scene_%d", number+1); ids[next] {
		return next, true
	}
	for _, s := range scenes {
		if s.ID != sceneID {
			return s.ID, true
		}
	}
	return "", false
}

func optionalLines(req models.GenerationRequest) string {
	var lines []string
	if req.MainGoal != "" {
		lines = append(lines, "Main goal: "+req.MainGoal)
	}
	if len(req.Themes) > 0 {
		lines = append(lines, "Themes: "+strings.Join(req.Themes, ", "))
	}
	if req.Tone != "" {
		lines = append(lines, "Tone: "+req.Tone)
	}
	if req.Complexity != "" {
		lines = append(lines, "Complexity: "+req.Complexity)
	}
	return strings.Join(lines, "\n")
}

func namesOf[T any](list []T, name func(T) string) string {
	names := make([]string, 0, 3)
	for i, v := range list {
		if i == 3 {
			break
		}
		names = append(names, name(v))
	}
	return strings.Join(names, ", ")
}
