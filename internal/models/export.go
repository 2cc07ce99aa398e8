// internal/models/export.go
package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	ExportJSON     ExportFormat = "json"
	ExportYAML     ExportFormat = "yaml"
	ExportMarkdown ExportFormat = "markdown"
)

// ParseExportFormat 解析导出格式，接受 md/yml 简写
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return ExportJSON, nil
	case "yaml", "yml":
		return ExportYAML, nil
	case "markdown", "md":
		return ExportMarkdown, nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("不支持的导出格式: %s", s), nil)
}

// ContentType 导出格式对应的 MIME 类型
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportYAML:
		return "application/x-yaml; charset=utf-8"
	case ExportMarkdown:
		return "text/markdown; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

// Extension 文件扩展名
func (f ExportFormat) Extension() string {
	switch f {
	case ExportYAML:
		return ".yaml"
	case ExportMarkdown:
		return ".md"
	}
	return ".json"
}

// ExportResult 导出结果
type ExportResult struct {
	QuestID     string       `json:"questId"`
	Title       string       `json:"title"`
	Format      ExportFormat `json:"format"`
	Content     string       `json:"content"`
	GeneratedAt time.Time    `json:"generatedAt"`
	SceneCount  int          `json:"sceneCount"`
	Complete    bool         `json:"complete"`
}
