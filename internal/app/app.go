// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/QuestWeaver/internal/api"
	"github.com/Corphon/QuestWeaver/internal/backend"
	"github.com/Corphon/QuestWeaver/internal/config"
	"github.com/Corphon/QuestWeaver/internal/di"
	"github.com/Corphon/QuestWeaver/internal/services"
	"github.com/Corphon/QuestWeaver/internal/utils"

	// 注册 LLM 提供者
	_ "github.com/Corphon/QuestWeaver/internal/llm/providers/openai"
)

const (
	shutdownTimeout    = 30 * time.Second
	runCleanupInterval = 10 * time.Minute
	runRetention       = time.Hour
	wsPingTimeout      = 60 * time.Second
)

// httpServer 便于测试替换
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用实例
type App struct {
	config    *config.Config
	router    http.Handler
	server    httpServer
	wsManager *api.WebSocketManager
	stopChan  chan os.Signal
	mu        sync.Mutex
}

var (
	instance   *App
	instanceMu sync.Mutex
)

// GetApp 获取应用单例
func GetApp() *App {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 初始化配置、日志、服务与路由
func Initialize(cfg *config.Config) error {
	app := GetApp()
	app.config = cfg

	if err := config.InitConfig(cfg.DataDir); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	if err := initLogger(cfg); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(cfg); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, wsManager, err := api.SetupRouter(di.GetContainer(), api.RouterOptions{
		DebugMode:     cfg.DebugMode,
		RateLimit:     cfg.RateLimit,
		WSPingTimeout: wsPingTimeout,
	})
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router
	app.wsManager = wsManager
	app.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// initLogger 打开日志文件并设置级别
func initLogger(cfg *config.Config) error {
	logFile, err := utils.InitLogger(cfg.LogDir)
	if err != nil {
		return err
	}
	utils.GetLogger().SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	utils.GetLogger().Info("日志系统已初始化", map[string]interface{}{
		"file":  logFile,
		"level": cfg.LogLevel,
	})
	return nil
}

// InitServices 按依赖顺序创建服务并注册到容器
func InitServices(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("缺少基础配置")
	}
	container := di.GetContainer()
	logger := utils.GetLogger()

	// 1. 运行时配置
	appConfig := config.GetCurrentConfig()
	container.Register(di.ServiceConfig, appConfig)

	// 2. LLM 与生成后端
	llmService := services.NewLLMService(appConfig, utils.NewAPIMetrics())
	container.Register(di.ServiceLLM, llmService)

	generator := services.NewGeneratorService(llmService)
	container.Register(di.ServiceGen, generator)

	// 3. 会话使用的HTTP客户端，默认指向本进程的生成端点
	backendURL := cfg.BackendURL
	if backendURL == "" {
		backendURL = "http://localhost:" + cfg.Port
	}
	client := backend.NewClient(backendURL,
		backend.WithIdleTimeout(cfg.StreamIdleTimeout),
		backend.WithSyncTimeout(cfg.StreamTimeout),
	)
	container.Register(di.ServiceBackend, client)

	// 4. 运行记录与会话
	progress := services.NewProgressService()
	container.Register(di.ServiceProgress, progress)

	sessions := services.NewSessionManager(client, progress, services.SessionOptions{
		StreamTimeout: cfg.StreamTimeout,
		MaxSessions:   cfg.MaxSessions,
	})
	container.Register(di.ServiceSessions, sessions)

	// 5. 导出
	container.Register(di.ServiceExport, services.NewExportService(cfg.DataDir))

	logger.Info("服务初始化完成", map[string]interface{}{
		"backend_url":    backendURL,
		"generator_mode": generator.Mode(),
		"llm_state":      llmService.GetReadyState(),
		"services":       container.GetNames(),
	})
	return nil
}

// Run 启动服务器并阻塞到收到停止信号
func Run() error {
	app := GetApp()
	if app.server == nil {
		return errors.New("应用尚未初始化")
	}

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(app.stopChan)

	serverErr := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCleanup := make(chan struct{})
	go app.cleanupLoop(stopCleanup)
	defer close(stopCleanup)

	logger := utils.GetLogger()
	if app.config != nil {
		logger.Info("🌐 服务器已启动", map[string]interface{}{"port": app.config.Port})
	}

	select {
	case err := <-serverErr:
		app.cleanup()
		return fmt.Errorf("服务器运行失败: %w", err)
	case sig := <-app.stopChan:
		logger.Info("🛑 收到停止信号，正在关闭服务器", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := app.server.Shutdown(ctx)
	app.cleanup()
	if err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}
	logger.Info("✅ 服务器已关闭", nil)
	return nil
}

// cleanupLoop 定期清理过期的生成记录
func (a *App) cleanupLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(runCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			progress, err := di.Resolve[*services.ProgressService](di.GetContainer(), di.ServiceProgress)
			if err != nil {
				continue
			}
			if removed := progress.CleanupCompletedTasks(runRetention); removed > 0 {
				utils.GetLogger().Info("已清理过期生成记录", map[string]interface{}{"removed": removed})
			}
		}
	}
}

// cleanup 释放连接与会话，可重复调用
func (a *App) cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.wsManager != nil {
		a.wsManager.Shutdown()
		a.wsManager = nil
	}

	container := di.GetContainer()
	if sessions, err := di.Resolve[*services.SessionManager](container, di.ServiceSessions); err == nil && sessions != nil {
		sessions.CloseAll()
	}
	if progress, err := di.Resolve[*services.ProgressService](container, di.ServiceProgress); err == nil && progress != nil {
		progress.CleanupCompletedTasks(0)
	}

	if err := config.SaveConfig(); err != nil {
		utils.GetLogger().Warn("退出时保存配置失败", map[string]interface{}{"error": err.Error()})
	}
}

// GetConfig 获取应用配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetDIContainer 获取依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 是否调试模式
func IsDebugMode() bool {
	instanceMu.Lock()
	app := instance
	instanceMu.Unlock()

	if app == nil || app.config == nil {
		return false
	}
	return app.config.DebugMode
}
