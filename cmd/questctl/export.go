package main

import (
	"github.com/spf13/cobra"

	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/services"
)

func exportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export <quest.json>",
		Short: "把任务文件转换为 JSON、YAML 或 Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := models.ParseExportFormat(format)
			if err != nil {
				return err
			}
			quest, err := loadQuestFile(args[0])
			if err != nil {
				return err
			}
			result, err := services.NewExportService("").ExportQuest(quest, f, true)
			if err != nil {
				return err
			}
			return writeOutput(out, result.Content)
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "导出格式 json|yaml|md")
	cmd.Flags().StringVarP(&out, "out", "o", "", "输出文件，默认标准输出")
	return cmd
}
