// internal/api/backend_handlers.go
package api

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/Corphon/QuestWeaver/internal/config"
	"github.com/Corphon/QuestWeaver/internal/llm"
	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/stream"
)

// LLMConfigRequest 更新模型配置
type LLMConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config"`
}

// GenerateQuestStream 内置生成后端的流式接口，每个事件写成一行 data
func (h *Handler) GenerateQuestStream(c *gin.Context) {
	var req models.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式无效", err.Error())
		return
	}
	// 流开始前校验，失败时仍可返回普通错误响应
	if err := req.Validate(); err != nil {
		h.Response.AppError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// 错误已经作为 error 事件发出
	_ = h.Generator.Stream(c.Request.Context(), req, func(ev stream.WireEvent) error {
		payload, err := ev.Encode()
		if err != nil {
			return err
		}
		if err := sse.Encode(c.Writer, sse.Event{Data: payload}); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
}

// GenerateQuest 内置生成后端的非流式接口，返回完整的 snake_case 文档
func (h *Handler) GenerateQuest(c *gin.Context) {
	var req models.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式无效", err.Error())
		return
	}

	doc, err := h.Generator.Generate(c.Request.Context(), req)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListGenerations 生成任务列表，可按 session_id 过滤
func (h *Handler) ListGenerations(c *gin.Context) {
	h.Response.Success(c, h.Runs.ListRuns(c.Query("session_id")))
}

// GetGeneration 单个生成任务
func (h *Handler) GetGeneration(c *gin.Context) {
	run, ok := h.Runs.GetRun(c.Param("run_id"))
	if !ok {
		h.Response.NotFound(c, "生成任务")
		return
	}
	h.Response.Success(c, run)
}

// GetLLMStatus 模型服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	cfg := config.GetCurrentConfig()
	status := gin.H{
		"provider":            cfg.LLMProvider,
		"mode":                h.Generator.Mode(),
		"available_providers": append([]string{config.ProviderFallback}, llm.ListProviders()...),
	}
	if h.LLM != nil {
		status["ready"] = h.LLM.IsReady()
		status["state"] = h.LLM.GetReadyState()
	}
	if model := cfg.LLMConfig["default_model"]; model != "" {
		status["model"] = model
	}
	h.Response.Success(c, status)
}

// GetLLMModels 指定提供者支持的模型
func (h *Handler) GetLLMModels(c *gin.Context) {
	provider := strings.ToLower(c.DefaultQuery("provider", config.GetCurrentConfig().LLMProvider))
	h.Response.Success(c, gin.H{
		"provider": provider,
		"models":   llm.GetSupportedModelsForProvider(provider),
	})
}

// UpdateLLMConfig 切换模型提供者并持久化配置
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req LLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式无效", err.Error())
		return
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Config == nil {
		req.Config = map[string]string{}
	}

	if provider != config.ProviderFallback && h.LLM != nil {
		if err := h.LLM.UpdateProvider(provider, req.Config); err != nil {
			h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "模型配置无效", err.Error())
			return
		}
	}
	if err := config.UpdateLLMConfig(provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "保存模型配置失败", err.Error())
		return
	}
	if provider == config.ProviderFallback && h.LLM != nil {
		h.LLM.Disable("Fallback generator in use")
	}

	h.Response.Success(c, gin.H{"provider": provider, "mode": h.Generator.Mode()}, "模型配置已更新")
}
