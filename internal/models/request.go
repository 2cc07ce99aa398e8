// internal/models/request.go
package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
)

// InputMethod 生成请求的输入方式
type InputMethod string

const (
	InputForm InputMethod = "form"
	InputFile InputMethod = "file"
)

// GenerationRequest 提交给生成后端的请求，字段名即后端线格式
type GenerationRequest struct {
	InputMethod      InputMethod `json:"input_method" validate:"required,oneof=form file"`
	Setting          Setting     `json:"setting" validate:"required,oneof=fantasy cyberpunk post-apocalyptic sci-fi horror western custom"`
	CustomSetting    string      `json:"custom_setting,omitempty" validate:"required_if=Setting custom"`
	StartingPoint    string      `json:"starting_point,omitempty" validate:"required_if=InputMethod form"`
	QuestStyle       QuestStyle  `json:"quest_style" validate:"required,oneof=detective survival politics adventure romance horror custom"`
	CustomQuestStyle string      `json:"custom_quest_style,omitempty" validate:"required_if=QuestStyle custom"`
	FileContent      string      `json:"file_content,omitempty" validate:"required_if=InputMethod file"`

	// 高级选项
	SceneCount     int      `json:"scene_count,omitempty" validate:"omitempty,min=1,max=20"`
	CharacterCount int      `json:"character_count,omitempty" validate:"omitempty,min=1,max=10"`
	Complexity     string   `json:"complexity,omitempty" validate:"omitempty,oneof=simple medium complex"`
	Tone           string   `json:"tone,omitempty" validate:"omitempty,oneof=light serious dark humorous"`
	MainGoal       string   `json:"main_goal,omitempty"`
	Themes         []string `json:"themes,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Normalize 去除首尾空白并填充默认值
func (r *GenerationRequest) Normalize() {
	r.InputMethod = InputMethod(strings.TrimSpace(string(r.InputMethod)))
	if r.InputMethod == "" {
		r.InputMethod = InputForm
	}
	r.Setting = Setting(strings.TrimSpace(string(r.Setting)))
	if r.Setting == "" {
		r.Setting = DefaultSetting
	}
	r.QuestStyle = QuestStyle(strings.TrimSpace(string(r.QuestStyle)))
	if r.QuestStyle == "" {
		r.QuestStyle = DefaultQuestStyle
	}
	r.CustomSetting = strings.TrimSpace(r.CustomSetting)
	r.CustomQuestStyle = strings.TrimSpace(r.CustomQuestStyle)
	r.StartingPoint = strings.TrimSpace(r.StartingPoint)
	if strings.TrimSpace(r.FileContent) == "" {
		r.FileContent = ""
	}
	r.MainGoal = strings.TrimSpace(r.MainGoal)
}

// Validate 校验请求，失败时返回 ValidationError
func (r *GenerationRequest) Validate() error {
	r.Normalize()

	if err := requestValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return apperrors.NewValidationError("请求参数无效: "+strings.Join(fields, ", "), err)
		}
		return apperrors.NewValidationError("请求参数无效", err)
	}

	if r.InputMethod == InputFile {
		if len(r.FileContent) > MaxFileContentBytes {
			return apperrors.NewValidationError(
				fmt.Sprintf("文件内容超过 %d 字节限制", MaxFileContentBytes), nil)
		}
		if !utf8.ValidString(r.FileContent) {
			return apperrors.NewValidationError("文件内容不是有效的UTF-8文本", nil)
		}
	}
	return nil
}

// ResolvedSetting 返回生效的世界观文本，custom 时使用自定义值
func (r GenerationRequest) ResolvedSetting() string {
	if r.Setting == SettingCustom {
		return r.CustomSetting
	}
	return string(r.Setting)
}

// ResolvedQuestStyle 返回生效的任务风格文本
func (r GenerationRequest) ResolvedQuestStyle() string {
	if r.QuestStyle == StyleCustom {
		return r.CustomQuestStyle
	}
	return string(r.QuestStyle)
}

// EffectiveSceneCount 未指定时返回默认场景数
func (r GenerationRequest) EffectiveSceneCount() int {
	if r.SceneCount <= 0 {
		return DefaultSceneCount
	}
	if r.SceneCount > MaxSceneCount {
		return MaxSceneCount
	}
	return r.SceneCount
}

// EffectiveCharacterCount 未指定时返回默认角色数
func (r GenerationRequest) EffectiveCharacterCount() int {
	if r.CharacterCount <= 0 {
		return DefaultCharacterCount
	}
	return r.CharacterCount
}
