package app

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/QuestWeaver/internal/config"
	"github.com/Corphon/QuestWeaver/internal/di"
	"github.com/Corphon/QuestWeaver/internal/services"
)

// setupTest 使用临时目录并重置全局状态
func setupTest(t *testing.T) *config.Config {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(tempDir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(tempDir, "logs"))
	t.Setenv("LLM_PROVIDER", "fallback")
	t.Setenv("PORT", "18080")

	instance = nil
	di.GetContainer().Clear()
	t.Cleanup(func() {
		instance = nil
		di.GetContainer().Clear()
	})

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NoError(t, config.InitConfig(cfg.DataDir))
	return cfg
}

type mockServer struct {
	shutdownCalled bool
}

func (m *mockServer) ListenAndServe() error { return nil }

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.shutdownCalled = true
	return nil
}

func TestGetAppSingleton(t *testing.T) {
	instance = nil
	t.Cleanup(func() { instance = nil })

	app1 := GetApp()
	require.NotNil(t, app1)
	assert.Same(t, app1, GetApp())
	assert.NotNil(t, app1.stopChan)
}

func TestInitServicesRegistersEverything(t *testing.T) {
	cfg := setupTest(t)

	require.NoError(t, InitServices(cfg))

	container := GetDIContainer()
	for _, name := range []string{
		di.ServiceConfig, di.ServiceLLM, di.ServiceGen, di.ServiceBackend,
		di.ServiceProgress, di.ServiceSessions, di.ServiceExport,
	} {
		assert.True(t, container.Has(name), name)
	}

	generator := di.MustResolve[*services.GeneratorService](container, di.ServiceGen)
	assert.Equal(t, "fallback", generator.Mode())

	_, err := di.Resolve[*services.SessionManager](container, di.ServiceSessions)
	assert.NoError(t, err)
}

func TestInitServicesRequiresConfig(t *testing.T) {
	assert.Error(t, InitServices(nil))
}

func TestInitializeBuildsRouter(t *testing.T) {
	cfg := setupTest(t)

	require.NoError(t, Initialize(cfg))
	app := GetApp()
	assert.NotNil(t, app.router)
	assert.NotNil(t, app.server)
	require.NotNil(t, app.wsManager)
	app.cleanup()

	_, err := os.Stat(filepath.Join(cfg.DataDir, "config.json"))
	assert.NoError(t, err, "config.json should be written")

	files, _ := os.ReadDir(cfg.LogDir)
	assert.NotEmpty(t, files, "log file should be created")
}

func TestRunStopsOnSignal(t *testing.T) {
	cfg := setupTest(t)
	require.NoError(t, InitServices(cfg))

	srv := &mockServer{}
	instance = &App{
		config:   cfg,
		server:   srv,
		stopChan: make(chan os.Signal, 1),
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		instance.stopChan <- syscall.SIGTERM
	}()

	require.NoError(t, Run())
	assert.True(t, srv.shutdownCalled)
}

func TestRunRequiresInitialize(t *testing.T) {
	instance = nil
	t.Cleanup(func() { instance = nil })
	assert.Error(t, Run())
}

func TestIsDebugMode(t *testing.T) {
	instance = nil
	t.Cleanup(func() { instance = nil })
	assert.False(t, IsDebugMode())

	instance = &App{}
	assert.False(t, IsDebugMode())

	instance.config = &config.Config{DebugMode: true}
	assert.True(t, IsDebugMode())
	assert.Same(t, instance.config, instance.GetConfig())
}
