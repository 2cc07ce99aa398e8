// cmd/questctl/main.go
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "questctl",
		Short:         "QuestWeaver 命令行：生成、查看与导出任务",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&backendURL, "backend", defaultBackendURL(), "生成后端地址")

	root.AddCommand(generateCmd())
	root.AddCommand(layoutCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(playCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
