// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/QuestWeaver/internal/di"
	"github.com/Corphon/QuestWeaver/internal/services"
	"github.com/Corphon/QuestWeaver/internal/utils"
)

// RouterOptions 路由配置
type RouterOptions struct {
	DebugMode     bool
	RateLimit     int           // 每个IP每分钟的生成请求数，0 表示不限制
	WSPingTimeout time.Duration // WebSocket 连接无活动的最长时间
}

// SetupRouter 从容器取出服务并配置HTTP路由。
// 返回的 WebSocketManager 需要在退出时 Shutdown。
func SetupRouter(container *di.Container, opts RouterOptions) (*gin.Engine, *WebSocketManager, error) {
	sessions, err := di.Resolve[*services.SessionManager](container, di.ServiceSessions)
	if err != nil {
		return nil, nil, fmt.Errorf("会话管理器未正确初始化: %w", err)
	}
	generator, err := di.Resolve[*services.GeneratorService](container, di.ServiceGen)
	if err != nil {
		return nil, nil, fmt.Errorf("生成服务未正确初始化: %w", err)
	}
	exportService, err := di.Resolve[*services.ExportService](container, di.ServiceExport)
	if err != nil {
		return nil, nil, fmt.Errorf("导出服务未正确初始化: %w", err)
	}
	runs, err := di.Resolve[*services.ProgressService](container, di.ServiceProgress)
	if err != nil {
		return nil, nil, fmt.Errorf("进度服务未正确初始化: %w", err)
	}
	// LLM 服务可选
	llmService, _ := di.Resolve[*services.LLMService](container, di.ServiceLLM)

	if opts.WSPingTimeout <= 0 {
		opts.WSPingTimeout = 60 * time.Second
	}
	wsManager := NewWebSocketManager(opts.WSPingTimeout)
	handler := NewHandler(sessions, generator, exportService, runs, llmService, wsManager)
	r := newEngine(handler, opts)
	return r, wsManager, nil
}

func newEngine(handler *Handler, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(corsMiddleware())
	r.Use(MetricsMiddleware(utils.NewAPIMetrics()))
	if opts.DebugMode {
		r.Use(gin.Logger())
	}

	limiter := RateLimitMiddleware(NewRateLimiter(opts.RateLimit, time.Minute))

	// WebSocket 支持
	r.GET("/ws/sessions/:id", handler.WebSocketHandler.SessionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.Metrics)

		// 内置生成后端
		api.POST("/generate-quest-stream", limiter, handler.GenerateQuestStream)
		api.POST("/generate-quest", limiter, handler.GenerateQuest)

		generationsGroup := api.Group("/generations")
		{
			generationsGroup.GET("", handler.ListGenerations)
			generationsGroup.GET("/:run_id", handler.GetGeneration)
		}

		// ===============================
		// 会话相关路由
		// ===============================
		sessionsGroup := api.Group("/sessions")
		{
			sessionsGroup.POST("", handler.CreateSession)
			sessionsGroup.GET("", handler.ListSessions)
			sessionsGroup.GET("/:id", handler.GetSession)
			sessionsGroup.DELETE("/:id", handler.DeleteSession)

			sessionsGroup.POST("/:id/generate", limiter, handler.StartGeneration)
			sessionsGroup.POST("/:id/generate-sync", limiter, handler.GenerateSync)
			sessionsGroup.GET("/:id/events", handler.SessionEvents)

			sessionsGroup.GET("/:id/layout", handler.GetLayout)
			sessionsGroup.GET("/:id/scenes/:scene_id", handler.GetSceneView)
			sessionsGroup.POST("/:id/select", handler.SelectScene)
			sessionsGroup.POST("/:id/choose", handler.Choose)
			sessionsGroup.POST("/:id/reset", handler.ResetSession)
			sessionsGroup.GET("/:id/export", handler.ExportQuest)
		}

		// 已保存的导出文件
		exportsGroup := api.Group("/exports")
		{
			exportsGroup.GET("", handler.ListExports)
			exportsGroup.GET("/:name", handler.DownloadExport)
			exportsGroup.DELETE("/:name", handler.DeleteExport)
		}

		// ===============================
		// LLM配置相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		// WebSocket 管理路由
		wsGroup := api.Group("/ws")
		{
			wsGroup.GET("/status", handler.GetWebSocketStatus)
			wsGroup.POST("/cleanup", handler.CleanupWebSocketConnections)
		}
	}

	return r
}
