// internal/models/quest.go
package models

// Setting 表示任务世界观
type Setting string

const (
	SettingFantasy         Setting = "fantasy"
	SettingCyberpunk       Setting = "cyberpunk"
	SettingPostApocalyptic Setting = "post-apocalyptic"
	SettingSciFi           Setting = "sci-fi"
	SettingHorror          Setting = "horror"
	SettingWestern         Setting = "western"
	SettingCustom          Setting = "custom"
)

// 生成默认值
const (
	DefaultSetting               = SettingFantasy
	DefaultQuestStyle            = StyleAdventure
	DefaultSceneCount            = 3
	DefaultCharacterCount        = 3
	MaxSceneCount                = 20
	MaxFileContentBytes          = 1 << 20
	DefaultExpectedProgressSteps = 6
)

// QuestStyle 表示任务风格
type QuestStyle string

const (
	StyleDetective QuestStyle = "detective"
	StyleSurvival  QuestStyle = "survival"
	StylePolitics  QuestStyle = "politics"
	StyleAdventure QuestStyle = "adventure"
	StyleRomance   QuestStyle = "romance"
	StyleHorror    QuestStyle = "horror"
	StyleCustom    QuestStyle = "custom"
)

// CollectionPolicy 描述某一类事件如何写入任务集合
type CollectionPolicy string

const (
	// PolicyAppend 每个事件追加一个元素，保持到达顺序
	PolicyAppend CollectionPolicy = "append"
	// PolicyReplace 每个事件整体替换集合，不做字段合并
	PolicyReplace CollectionPolicy = "replace"
)

// CollectionPolicies 每个集合的写入策略。scenes 追加，其余整体替换。
var CollectionPolicies = map[string]CollectionPolicy{
	"scenes":     PolicyAppend,
	"characters": PolicyReplace,
	"locations":  PolicyReplace,
	"items":      PolicyReplace,
}

// Quest 任务根文档
type Quest struct {
	ID            string      `json:"id" yaml:"id"`
	Title         string      `json:"title" yaml:"title"`
	Description   string      `json:"description" yaml:"description"`
	Setting       string      `json:"setting" yaml:"setting"`
	QuestStyle    string      `json:"questStyle" yaml:"quest_style"`
	StartingPoint string      `json:"startingPoint" yaml:"starting_point"`
	Scenes        []Scene     `json:"scenes" yaml:"scenes"`
	Characters    []Character `json:"characters" yaml:"characters"`
	Locations     []Location  `json:"locations" yaml:"locations"`
	Items         []Item      `json:"items" yaml:"items"`
}

// NewQuest 为一次生成会话创建空任务
func NewQuest(id string, req GenerationRequest) *Quest {
	return &Quest{
		ID:            id,
		Setting:       req.ResolvedSetting(),
		QuestStyle:    req.ResolvedQuestStyle(),
		StartingPoint: req.StartingPoint,
		Scenes:        []Scene{},
		Characters:    []Character{},
		Locations:     []Location{},
		Items:         []Item{},
	}
}

// SceneByID 按ID查找场景
func (q *Quest) SceneByID(id string) (*Scene, bool) {
	if q == nil || id == "" {
		return nil, false
	}
	for i := range q.Scenes {
		if q.Scenes[i].ID == id {
			return &q.Scenes[i], true
		}
	}
	return nil, false
}

// HasScene 检查场景是否存在
func (q *Quest) HasScene(id string) bool {
	_, ok := q.SceneByID(id)
	return ok
}

// EntryScene 返回入口场景（到达顺序中的第一个场景）
func (q *Quest) EntryScene() (*Scene, bool) {
	if q == nil || len(q.Scenes) == 0 {
		return nil, false
	}
	return &q.Scenes[0], true
}

// LocationByID 按ID查找地点
func (q *Quest) LocationByID(id string) (*Location, bool) {
	if q == nil || id == "" {
		return nil, false
	}
	for i := range q.Locations {
		if q.Locations[i].ID == id {
			return &q.Locations[i], true
		}
	}
	return nil, false
}

// Clone 深拷贝任务，供观察者只读使用
func (q *Quest) Clone() *Quest {
	if q == nil {
		return nil
	}

	c := *q
	c.Scenes = make([]Scene, len(q.Scenes))
	for i, s := range q.Scenes {
		c.Scenes[i] = s.Clone()
	}
	c.Characters = append(make([]Character, 0, len(q.Characters)), q.Characters...)
	c.Locations = make([]Location, len(q.Locations))
	for i, l := range q.Locations {
		c.Locations[i] = l.Clone()
	}
	c.Items = append(make([]Item, 0, len(q.Items)), q.Items...)
	return &c
}
