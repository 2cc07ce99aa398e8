package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Corphon/QuestWeaver/internal/backend"
	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/services"
)

type generateOptions struct {
	startingPoint string
	setting       string
	customSetting string
	style         string
	customStyle   string
	file          string
	scenes        int
	out           string
	format        string
	sync          bool
	timeout       time.Duration
}

func generateCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "通过生成后端创建任务并显示进度",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.startingPoint, "starting-point", "", "起点描述")
	cmd.Flags().StringVar(&opts.setting, "setting", string(models.DefaultSetting), "世界观")
	cmd.Flags().StringVar(&opts.customSetting, "custom-setting", "", "自定义世界观描述")
	cmd.Flags().StringVar(&opts.style, "style", string(models.DefaultQuestStyle), "任务风格")
	cmd.Flags().StringVar(&opts.customStyle, "custom-style", "", "自定义风格描述")
	cmd.Flags().StringVar(&opts.file, "file", "", "从带标签的文本文件读取参数")
	cmd.Flags().IntVar(&opts.scenes, "scenes", 0, "场景数量")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "输出文件，默认标准输出")
	cmd.Flags().StringVar(&opts.format, "format", "json", "输出格式 json|yaml|md")
	cmd.Flags().BoolVar(&opts.sync, "sync", false, "使用非流式接口")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "整体超时")
	return cmd
}

func (o *generateOptions) request() (models.GenerationRequest, error) {
	req := models.GenerationRequest{
		InputMethod:      models.InputForm,
		Setting:          models.Setting(o.setting),
		CustomSetting:    o.customSetting,
		StartingPoint:    o.startingPoint,
		QuestStyle:       models.QuestStyle(o.style),
		CustomQuestStyle: o.customStyle,
		SceneCount:       o.scenes,
	}
	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return req, fmt.Errorf("读取参数文件失败: %w", err)
		}
		req.InputMethod = models.InputFile
		req.FileContent = string(data)
	}
	req, _ = services.ResolveFileRequest(req)
	return req, req.Validate()
}

func runGenerate(cmd *cobra.Command, opts *generateOptions) error {
	format, err := models.ParseExportFormat(opts.format)
	if err != nil {
		return err
	}
	req, err := opts.request()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	client := backend.NewClient(backendURL, backend.WithIdleTimeout(60*time.Second))
	stderr := cmd.ErrOrStderr()

	var (
		quest    *models.Quest
		complete bool
	)
	if opts.sync {
		fmt.Fprintf(stderr, "⏳ 正在请求 %s ...\n", client.BaseURL())
		quest, err = client.Generate(ctx, req)
		if err != nil {
			return err
		}
		complete = true
	} else {
		quest, complete, err = streamQuest(ctx, client, req, stderr)
		if quest == nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(stderr, "⚠️ 生成未完成: %v\n", err)
		}
	}

	result, err := services.NewExportService("").ExportQuest(quest, format, complete)
	if err != nil {
		return err
	}
	if err := writeOutput(opts.out, result.Content); err != nil {
		return err
	}
	if !complete {
		return errors.New("生成未完成，已输出部分任务")
	}
	return nil
}

// streamQuest 读取事件流并装配任务，逐步打印进度
func streamQuest(ctx context.Context, client *backend.Client, req models.GenerationRequest, w io.Writer) (*models.Quest, bool, error) {
	reader, err := client.OpenStream(ctx, req)
	if err != nil {
		return nil, false, err
	}
	defer reader.Close()

	assembler := services.NewAssembler(uuid.NewString(), req)
	lastStep := ""
	for {
		item, err := reader.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("生成流在完成前关闭")
			}
			assembler.Fail(err.Error())
			return assembler.Quest(), false, err
		}
		if item.Err != nil {
			assembler.RecordProtocolError(item.Event.Raw, item.Err)
			fmt.Fprintf(w, "⚠️ 跳过无效事件: %v\n", item.Err)
			continue
		}

		res, err := assembler.ApplyEvent(item.Event)
		p := assembler.Progress()
		if p.CurrentStep != "" && p.CurrentStep != lastStep {
			fmt.Fprintf(w, "[%3d%%] %s\n", p.Percent, p.CurrentStep)
			lastStep = p.CurrentStep
		}
		if err != nil {
			return assembler.Quest(), false, err
		}
		if res.Terminal {
			fmt.Fprintf(w, "✅ 生成完成: %s（%d 个场景）\n", assembler.Quest().Title, len(assembler.Quest().Scenes))
			return assembler.Quest(), assembler.IsComplete(), nil
		}
	}
}
