package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("PORT", "9090")
	t.Setenv("BACKEND_URL", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CONFIG_SECRET", "")
	t.Setenv("STREAM_TIMEOUT", "")
	t.Setenv("STREAM_IDLE_TIMEOUT", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://localhost:9090", cfg.BackendURL)
	assert.Equal(t, ProviderFallback, cfg.LLMProvider)
	assert.Equal(t, 5*time.Minute, cfg.StreamTimeout)
	assert.Equal(t, 60*time.Second, cfg.StreamIdleTimeout)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestLoadParsesDurations(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STREAM_TIMEOUT", "90")
	t.Setenv("STREAM_IDLE_TIMEOUT", "15s")
	t.Setenv("BACKEND_URL", "http://backend:8000/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.StreamTimeout)
	assert.Equal(t, 15*time.Second, cfg.StreamIdleTimeout)
	assert.Equal(t, "http://backend:8000", cfg.BackendURL)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LLM_PROVIDER", "ollama")

	_, err := Load()
	assert.Error(t, err)
}

func TestInitConfigEncryptsAPIKey(t *testing.T) {
	dir := setBaseEnv(t)
	t.Setenv("CONFIG_SECRET", "s3cret")
	dataDir := filepath.Join(dir, "data")

	require.NoError(t, InitConfig(dataDir))
	require.NoError(t, UpdateLLMConfig(ProviderOpenAI, map[string]string{
		"api_key":       "sk-live-abc",
		"default_model": "gpt-4o",
	}))

	raw, err := os.ReadFile(filepath.Join(dataDir, "config.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-live-abc")

	var onDisk AppConfig
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.NotEmpty(t, onDisk.LLMConfig["api_key_enc"])

	// 重新初始化时从文件恢复并解密
	require.NoError(t, InitConfig(dataDir))
	cfg := GetCurrentConfig()
	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, "sk-live-abc", cfg.LLMConfig["api_key"])
	assert.Equal(t, "gpt-4o", cfg.LLMConfig["default_model"])

	cfg.LLMConfig["api_key"] = "mutated"
	assert.Equal(t, "sk-live-abc", GetCurrentConfig().LLMConfig["api_key"])
}

func TestUpdateLLMConfigRejectsUnknownProvider(t *testing.T) {
	dir := setBaseEnv(t)
	require.NoError(t, InitConfig(filepath.Join(dir, "data")))
	assert.Error(t, UpdateLLMConfig("mystery", nil))
}

func TestCompatibleProvidersAccepted(t *testing.T) {
	dir := setBaseEnv(t)
	t.Setenv("LLM_PROVIDER", "openrouter")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openrouter", cfg.LLMProvider)

	require.NoError(t, InitConfig(filepath.Join(dir, "data")))
	require.NoError(t, UpdateLLMConfig("qwen", map[string]string{"api_key": "k"}))
	assert.Equal(t, "qwen", GetCurrentConfig().LLMProvider)
	assert.True(t, IsKnownProvider("glm"))
	assert.False(t, IsKnownProvider("anthropic"))
}
