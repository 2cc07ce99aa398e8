package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/services"
)

func layoutCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "layout <quest.json>",
		Short: "计算任务图的分层布局",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quest, err := loadQuestFile(args[0])
			if err != nil {
				return err
			}
			layout := services.ComputeLayout(quest)

			switch output {
			case "json":
				data, err := json.MarshalIndent(layout, "", "  ")
				if err != nil {
					return err
				}
				return writeOutput("", string(data)+"\n")
			case "yaml":
				data, err := yaml.Marshal(layout)
				if err != nil {
					return err
				}
				return writeOutput("", string(data))
			case "text":
				return writeOutput("", formatLayoutText(quest, layout))
			}
			return fmt.Errorf("不支持的输出格式: %s", output)
		},
	}
	cmd.Flags().StringVar(&output, "output", "text", "输出格式 text|json|yaml")
	return cmd
}

func formatLayoutText(quest *models.Quest, layout models.GraphLayout) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", quest.Title)
	if layout.IsEmpty() {
		b.WriteString("(没有可定位的场景)\n")
		return b.String()
	}
	for i, level := range layout.Levels {
		fmt.Fprintf(&b, "L%d:", i)
		for _, id := range level {
			pos, _ := layout.Position(id)
			marker := ""
			if pos.IsEnding {
				marker = "*"
			}
			fmt.Fprintf(&b, " %s%s(%.0f,%.0f)", id, marker, pos.X, pos.Y)
		}
		b.WriteString("\n")
	}
	for _, e := range layout.Edges {
		fmt.Fprintf(&b, "  %s -> %s  [%s] %s\n", e.From, e.To, e.ChoiceID, e.Text)
	}
	fmt.Fprintf(&b, "canvas %.0fx%.0f\n", layout.Width, layout.Height)
	return b.String()
}
