// internal/services/file_params.go
package services

import (
	"strings"
	"unicode/utf8"

	"github.com/Corphon/QuestWeaver/internal/models"
)

// FileParameters 从上传文本中提取的生成参数
type FileParameters struct {
	Setting       models.Setting
	CustomSetting string
	StartingPoint string
	QuestStyle    models.QuestStyle
	CustomStyle   string
	Description   string
	Title         string
}

// 标签同时支持英文与俄文写法
var fileLabels = map[string]string{
	"SETTING":           "setting",
	"СЕТТИНГ":           "setting",
	"STARTING POINT":    "starting_point",
	"ОТПРАВНАЯ ТОЧКА":   "starting_point",
	"QUEST STYLE":       "quest_style",
	"СТИЛЬ КВЕСТА":      "quest_style",
	"DESCRIPTION":       "description",
	"WORLD DESCRIPTION": "description",
	"ОПИСАНИЕ МИРА":     "description",
	"MAIN STORY":        "story",
	"ОСНОВНАЯ ИСТОРИЯ":  "story",
}

// 多行字段，直到空行或下一个标签结束
var multilineLabels = map[string]bool{
	"description": true,
	"story":       true,
}

type keywordMapping[T ~string] struct {
	value    T
	keywords []string
}

var settingKeywords = []keywordMapping[models.Setting]{
	{models.SettingPostApocalyptic, []string{"post-apocalyp", "postapocalyp", "постапокалипсис"}},
	{models.SettingCyberpunk, []string{"cyberpunk", "киберпанк"}},
	{models.SettingSciFi, []string{"sci-fi", "science fiction", "научная фантастика"}},
	{models.SettingHorror, []string{"horror", "хоррор"}},
	{models.SettingWestern, []string{"western", "вестерн"}},
	{models.SettingFantasy, []string{"fantasy", "фэнтези"}},
}

var styleKeywords = []keywordMapping[models.QuestStyle]{
	{models.StyleDetective, []string{"detective", "детектив"}},
	{models.StyleSurvival, []string{"survival", "выживание"}},
	{models.StylePolitics, []string{"politic", "политика"}},
	{models.StyleAdventure, []string{"adventure", "приключение"}},
	{models.StyleRomance, []string{"romance", "романтика"}},
	{models.StyleHorror, []string{"horror", "хоррор"}},
}

// matchKeyword 按关键字匹配枚举值，未匹配返回空值
func matchKeyword[T ~string](text string, table []keywordMapping[T]) T {
	lower := strings.ToLower(text)
	for _, m := range table {
		for _, kw := range m.keywords {
			if strings.Contains(lower, kw) {
				return m.value
			}
		}
	}
	var zero T
	return zero
}

// splitLabel 识别 "LABEL: value" 行
func splitLabel(line string) (field, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	field, ok = fileLabels[strings.ToUpper(strings.TrimSpace(line[:idx]))]
	if !ok {
		return "", "", false
	}
	return field, strings.TrimSpace(line[idx+1:]), true
}

// ParseFileContent 解析带标签的文本。
// 未识别的世界观或风格文本作为自定义值保留；缺省时使用默认值。
func ParseFileContent(content string) FileParameters {
	params := FileParameters{
		Setting:    models.DefaultSetting,
		QuestStyle: models.DefaultQuestStyle,
	}
	values := map[string]string{}
	var firstLine string

	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		field, value, ok := splitLabel(line)
		if !ok {
			if firstLine == "" && line != "" {
				firstLine = line
			}
			continue
		}
		if multilineLabels[field] {
			parts := []string{}
			if value != "" {
				parts = append(parts, value)
			}
			for i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if next == "" && len(parts) > 0 {
					break
				}
				if _, _, isLabel := splitLabel(next); isLabel {
					break
				}
				i++
				if next != "" {
					parts = append(parts, next)
				}
			}
			value = strings.Join(parts, " ")
		}
		if _, seen := values[field]; !seen {
			values[field] = value
		}
	}

	if text := values["setting"]; text != "" {
		if s := matchKeyword(text, settingKeywords); s != "" {
			params.Setting = s
		} else {
			params.Setting = models.SettingCustom
			params.CustomSetting = text
		}
	}
	if text := values["quest_style"]; text != "" {
		if s := matchKeyword(text, styleKeywords); s != "" {
			params.QuestStyle = s
		} else {
			params.QuestStyle = models.StyleCustom
			params.CustomStyle = text
		}
	}

	params.StartingPoint = values["starting_point"]
	if params.StartingPoint == "" {
		params.StartingPoint = truncateRunes(firstLine, 200)
	}
	params.Description = values["description"]
	if story := values["story"]; story != "" {
		params.Title = strings.TrimSpace(strings.SplitN(story, ".", 2)[0])
	}
	return params
}

// ResolveFileRequest 文件输入时用文本中的标签填充表单字段
func ResolveFileRequest(req models.GenerationRequest) (models.GenerationRequest, FileParameters) {
	if req.InputMethod != models.InputFile {
		return req, FileParameters{}
	}
	params := ParseFileContent(req.FileContent)
	req.Setting = params.Setting
	req.CustomSetting = params.CustomSetting
	req.QuestStyle = params.QuestStyle
	req.CustomQuestStyle = params.CustomStyle
	if req.StartingPoint == "" {
		req.StartingPoint = params.StartingPoint
	}
	return req, params
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
