package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/services"
)

func playCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <quest.json>",
		Short: "在终端中游玩任务",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quest, err := loadQuestFile(args[0])
			if err != nil {
				return err
			}
			return playQuest(quest, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// playQuest 从入口场景开始，按编号选择；q 退出
func playQuest(quest *models.Quest, in io.Reader, out io.Writer) error {
	entry, ok := quest.EntryScene()
	if !ok {
		return apperrors.NewNotFoundError("任务中没有场景", nil)
	}

	var nav services.Navigator
	if err := nav.SelectScene(quest, entry.ID); err != nil {
		return err
	}

	fmt.Fprintf(out, "🎲 %s\n", quest.Title)
	if quest.Description != "" {
		fmt.Fprintln(out, quest.Description)
	}

	scanner := bufio.NewScanner(in)
	for {
		view, err := services.ProjectScene(quest, nav.CurrentSceneID())
		if err != nil {
			return err
		}
		printSceneView(out, view)
		if nav.Ended() {
			fmt.Fprintln(out, "🏁 任务结束")
			return nil
		}

		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "q" {
			return nil
		}
		n, err := strconv.Atoi(input)
		if err != nil || n < 1 || n > len(view.Choices) {
			fmt.Fprintln(out, "无效的选择")
			continue
		}

		if _, err := nav.Choose(quest, "", view.Choices[n-1].ID); err != nil {
			if apperrors.IsDeadEnd(err) {
				fmt.Fprintln(out, "🚧 这条路走不通了")
				fmt.Fprintln(out, "🏁 任务结束")
				return nil
			}
			return err
		}
	}
}

func printSceneView(out io.Writer, view models.SceneView) {
	fmt.Fprintf(out, "\n== %s ==\n", view.Scene.Title)
	if view.Location != nil {
		fmt.Fprintf(out, "📍 %s\n", view.Location.Name)
	}
	if view.Scene.Description != "" {
		fmt.Fprintln(out, view.Scene.Description)
	}
	for _, c := range view.Characters {
		fmt.Fprintf(out, "👤 %s (%s)\n", c.Name, c.Role)
	}
	for _, it := range view.Items {
		fmt.Fprintf(out, "🎒 %s\n", it.Name)
	}
	for i, choice := range view.Choices {
		fmt.Fprintf(out, "  %d. %s\n", i+1, choice.Text)
	}
}
