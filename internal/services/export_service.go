// internal/services/export_service.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/storage"
	"github.com/Corphon/QuestWeaver/internal/utils"
)

// 导出文件保存在数据目录下的子目录
const exportsDir = "exports"

// ExportService 把任务导出为 JSON、YAML 或 Markdown，并管理已保存的导出文件
type ExportService struct {
	store  *storage.FileStorage // 未配置数据目录时为 nil
	logger *utils.Logger
}

// NewExportService 创建导出服务，dataDir 为空时不支持保存到磁盘
func NewExportService(dataDir string) *ExportService {
	s := &ExportService{logger: utils.GetLogger()}
	if dataDir == "" {
		return s
	}
	store, err := storage.NewFileStorage(dataDir)
	if err != nil {
		s.logger.Warn("导出目录不可用，保存功能已禁用", map[string]interface{}{
			"data_dir": dataDir,
			"error":    err.Error(),
		})
		return s
	}
	s.store = store
	return s
}

// ExportQuest 按格式导出任务；complete 标记任务是否已生成完毕
func (s *ExportService) ExportQuest(q *models.Quest, format models.ExportFormat, complete bool) (*models.ExportResult, error) {
	if q == nil {
		return nil, apperrors.NewNotFoundError("没有可导出的任务", nil)
	}

	var (
		content string
		err     error
	)
	switch format {
	case models.ExportJSON:
		content, err = formatQuestAsJSON(q)
	case models.ExportYAML:
		content, err = formatQuestAsYAML(q)
	case models.ExportMarkdown:
		content = formatQuestAsMarkdown(q, complete)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("不支持的导出格式: %s", format), nil)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("格式化导出内容失败", err)
	}

	return &models.ExportResult{
		QuestID:     q.ID,
		Title:       q.Title,
		Format:      format,
		Content:     content,
		GeneratedAt: time.Now(),
		SceneCount:  len(q.Scenes),
		Complete:    complete,
	}, nil
}

// SaveExport 把导出结果写入 <dataDir>/exports，返回路径与大小
func (s *ExportService) SaveExport(result *models.ExportResult) (string, int64, error) {
	if s.store == nil {
		return "", 0, apperrors.NewConflictError("未配置数据目录", nil)
	}

	timestamp := result.GeneratedAt.Format("20060102_150405")
	fileName := fmt.Sprintf("%s_%s%s", result.QuestID, timestamp, result.Format.Extension())
	filePath, err := s.store.SaveTextFile(exportsDir, fileName, []byte(result.Content))
	if err != nil {
		return "", 0, err
	}

	s.logger.Info("任务已导出", map[string]interface{}{
		"quest_id": result.QuestID,
		"format":   string(result.Format),
		"path":     filePath,
	})
	return filePath, int64(len(result.Content)), nil
}

// ListExports 已保存的导出文件，最近的在前
func (s *ExportService) ListExports() ([]storage.FileInfo, error) {
	if s.store == nil {
		return nil, apperrors.NewConflictError("未配置数据目录", nil)
	}
	return s.store.ListFiles(exportsDir)
}

// LoadExport 读取已保存的导出文件，格式由扩展名决定
func (s *ExportService) LoadExport(name string) (string, models.ExportFormat, error) {
	if s.store == nil {
		return "", "", apperrors.NewConflictError("未配置数据目录", nil)
	}
	format, err := models.ParseExportFormat(strings.TrimPrefix(filepath.Ext(name), "."))
	if err != nil {
		return "", "", err
	}
	data, err := s.store.LoadTextFile(exportsDir, name)
	if err != nil {
		return "", "", err
	}
	return string(data), format, nil
}

// DeleteExport 删除已保存的导出文件
func (s *ExportService) DeleteExport(name string) error {
	if s.store == nil {
		return apperrors.NewConflictError("未配置数据目录", nil)
	}
	if err := s.store.DeleteFile(exportsDir, name); err != nil {
		return err
	}
	s.logger.Info("导出文件已删除", map[string]interface{}{"name": name})
	return nil
}

func formatQuestAsJSON(q *models.Quest) (string, error) {
	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatQuestAsYAML(q *models.Quest) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(q); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatQuestAsMarkdown(q *models.Quest, complete bool) string {
	var content strings.Builder

	title := q.Title
	if title == "" {
		title = "Untitled quest"
	}
	content.WriteString(fmt.Sprintf("# %s\n\n", title))
	if q.Description != "" {
		content.WriteString(q.Description + "\n\n")
	}

	content.WriteString(fmt.Sprintf("- **Setting**: %s\n", q.Setting))
	content.WriteString(fmt.Sprintf("- **Style**: %s\n", q.QuestStyle))
	if q.StartingPoint != "" {
		content.WriteString(fmt.Sprintf("- **Starting point**: %s\n", q.StartingPoint))
	}
	if !complete {
		content.WriteString("- **Status**: generation incomplete\n")
	}
	content.WriteString("\n")

	content.WriteString("## Scenes\n\n")
	if len(q.Scenes) == 0 {
		content.WriteString("_No scenes yet._\n\n")
	}
	for i, scene := range q.Scenes {
		marker := ""
		if scene.IsEnding {
			marker = " (ending)"
		}
		content.WriteString(fmt.Sprintf("### %d. %s%s\n\n", i+1, scene.Title, marker))
		content.WriteString(fmt.Sprintf("`%s`", scene.ID))
		if loc, ok := q.LocationByID(scene.LocationID); ok {
			content.WriteString(fmt.Sprintf(" · %s", loc.Name))
		}
		content.WriteString("\n\n")
		if scene.Description != "" {
			content.WriteString(scene.Description + "\n\n")
		}
		for _, choice := range scene.Choices {
			target := "_dead end_"
			if choice.HasTarget() {
				target = fmt.Sprintf("`%s`", choice.NextSceneID)
			}
			content.WriteString(fmt.Sprintf("- %s → %s\n", choice.Text, target))
			if choice.Consequence != "" {
				content.WriteString(fmt.Sprintf("  - %s\n", choice.Consequence))
			}
		}
		if len(scene.Choices) > 0 {
			content.WriteString("\n")
		}
	}

	if len(q.Characters) > 0 {
		content.WriteString("## Characters\n\n")
		for _, c := range q.Characters {
			side := ""
			switch {
			case c.IsAlly:
				side = ", ally"
			case c.IsEnemy:
				side = ", enemy"
			}
			content.WriteString(fmt.Sprintf("- **%s** (%s%s): %s\n", c.Name, c.Role, side, c.Description))
		}
		content.WriteString("\n")
	}

	if len(q.Locations) > 0 {
		content.WriteString("## Locations\n\n")
		for _, l := range q.Locations {
			content.WriteString(fmt.Sprintf("- **%s**: %s\n", l.Name, l.Description))
		}
		content.WriteString("\n")
	}

	if len(q.Items) > 0 {
		content.WriteString("## Items\n\n")
		for _, it := range q.Items {
			key := ""
			if it.IsKey {
				key = " 🔑"
			}
			content.WriteString(fmt.Sprintf("- **%s**%s: %s", it.Name, key, it.Description))
			if it.Effect != "" {
				content.WriteString(fmt.Sprintf(" (%s)", it.Effect))
			}
			content.WriteString("\n")
		}
	}

	return content.String()
}
