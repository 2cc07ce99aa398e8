package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/stream"
)

var backendURL string

func defaultBackendURL() string {
	if url := strings.TrimSpace(os.Getenv("BACKEND_URL")); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// loadQuestFile 读取任务文档，支持导出的 JSON 与后端返回的文档
func loadQuestFile(path string) (*models.Quest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取任务文件失败: %w", err)
	}
	quest, err := stream.NormalizeQuestDocument(data)
	if err != nil {
		return nil, fmt.Errorf("解析任务文件失败: %w", err)
	}
	if quest.ID == "" {
		quest.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return quest, nil
}

// writeOutput 写入文件，out 为空或 "-" 时写到标准输出
func writeOutput(out, content string) error {
	if out == "" || out == "-" {
		_, err := fmt.Fprint(os.Stdout, content)
		return err
	}
	if err := os.WriteFile(out, []byte(content), 0644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", out, err)
	}
	fmt.Fprintf(os.Stderr, "✅ 已写入 %s\n", out)
	return nil
}
