// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/Corphon/QuestWeaver/internal/llm"
)

// ProviderName 注册名
const ProviderName = "openai"

// preset 兼容 OpenAI 接口的服务
type preset struct {
	name        string
	displayName string
	baseURL     string // 为空时使用 go-openai 默认地址
	models      []string
}

var presets = []preset{
	{ProviderName, "OpenAI", "", []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"}},
	{"openrouter", "OpenRouter", "https://openrouter.ai/api/v1", []string{
		"qwen/qwen3-235b-a22b:free",
		"mistralai/devstral-2512:free",
		"nousresearch/hermes-3-llama-3.1-405b:free",
	}},
	{"qwen", "Qwen", "https://dashscope.aliyuncs.com/compatible-mode/v1", []string{"qwen2.5-plus", "qwen2.5-max", "qwq-32b"}},
	{"glm", "GLM", "https://open.bigmodel.cn/api/paas/v4", []string{"glm-4.5-air", "glm-4.5", "glm-4-plus"}},
	{"grok", "Grok", "https://api.x.ai/v1", []string{"grok-3-mini", "grok-4-fast", "grok-4"}},
	{"githubmodels", "GitHub Models", "https://models.inference.ai.azure.com", []string{"gpt-4o", "o3-mini", "Phi-4"}},
}

func init() {
	for _, ps := range presets {
		ps := ps
		llm.Register(ps.name, func() llm.Provider {
			return &Provider{
				displayName:       ps.displayName,
				defaultBaseURL:    ps.baseURL,
				recommendedModels: append([]string(nil), ps.models...),
			}
		})
	}
}

// Provider OpenAI 兼容接口的提供者，base_url 可指向任何兼容服务
type Provider struct {
	client            *goopenai.Client
	displayName       string
	defaultBaseURL    string
	baseURL           string
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return fmt.Errorf("%s API密钥未提供", p.displayName)
	}

	cfg := goopenai.DefaultConfig(apiKey)
	baseURL := strings.TrimSpace(config["base_url"])
	if baseURL == "" {
		baseURL = p.defaultBaseURL
	}
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	p.baseURL = cfg.BaseURL
	p.client = goopenai.NewClientWithConfig(cfg)

	p.defaultModel = config["default_model"]
	if p.defaultModel == "" {
		p.defaultModel = p.recommendedModels[0]
	}
	return nil
}

func (p *Provider) GetName() string {
	return p.displayName
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

// BaseURL 实际使用的接口地址
func (p *Provider) BaseURL() string {
	return p.baseURL
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.client == nil {
		return nil, fmt.Errorf("%s 提供者未初始化", p.displayName)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.StopWords,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%s API错误(%d): %s", p.displayName, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("%s 请求失败: %w", p.displayName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s 响应中没有内容", p.displayName)
	}

	return &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelName:    resp.Model,
		ProviderName: p.GetName(),
	}, nil
}
