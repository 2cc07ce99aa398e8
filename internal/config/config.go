// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/Corphon/QuestWeaver/internal/utils"
)

// LLM 提供者名称
const (
	ProviderFallback = "fallback"
	ProviderOpenAI   = "openai"
)

// 可配置的提供者，除 fallback 外都走 OpenAI 兼容接口
var knownProviders = map[string]bool{
	ProviderFallback: true,
	ProviderOpenAI:   true,
	"openrouter":     true,
	"qwen":           true,
	"glm":            true,
	"grok":           true,
	"githubmodels":   true,
}

// IsKnownProvider 提供者名称是否可用于配置
func IsKnownProvider(name string) bool {
	return knownProviders[name]
}

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
	configSecret  string
)

// AppConfig 运行时可修改并持久化到 config.json 的配置
type AppConfig struct {
	Port       string `json:"port"`
	BackendURL string `json:"backend_url"`
	DataDir    string `json:"data_dir"`
	LogDir     string `json:"log_dir"`
	DebugMode  bool   `json:"debug_mode"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`
}

// Config 存储应用配置
type Config struct {
	Port              string
	BackendURL        string
	DataDir           string
	LogDir            string
	LogLevel          string
	DebugMode         bool
	StreamTimeout     time.Duration
	StreamIdleTimeout time.Duration
	MaxSessions       int
	RateLimit         int // 每个IP每分钟的生成请求数，0 表示不限制
	LLMProvider       string
	OpenAIAPIKey      string
	LLMBaseURL        string
	LLMModel          string
	ConfigSecret      string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	port := getEnv("PORT", "8080")
	config := &Config{
		Port:              port,
		BackendURL:        strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:"+port), "/"),
		DataDir:           getEnvPath("DATA_DIR", "data"),
		LogDir:            getEnvPath("LOG_DIR", "logs"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DebugMode:         getEnvBool("DEBUG_MODE", true),
		StreamTimeout:     getEnvDuration("STREAM_TIMEOUT", 5*time.Minute),
		StreamIdleTimeout: getEnvDuration("STREAM_IDLE_TIMEOUT", 60*time.Second),
		MaxSessions:       getEnvInt("MAX_SESSIONS", 100),
		RateLimit:         getEnvInt("GENERATION_RATE_LIMIT", 30),
		LLMProvider:       strings.ToLower(getEnv("LLM_PROVIDER", ProviderFallback)),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		ConfigSecret:      getEnv("CONFIG_SECRET", ""),
	}

	if !IsKnownProvider(config.LLMProvider) {
		return nil, fmt.Errorf("未知的LLM提供者: %s", config.LLMProvider)
	}

	if config.StreamTimeout <= 0 {
		return nil, fmt.Errorf("STREAM_TIMEOUT 必须大于0")
	}

	if config.LLMProvider != ProviderFallback && config.OpenAIAPIKey == "" {
		// 只记录警告，生成时会退回到内置内容
		log.Println("警告: 未设置OPENAI_API_KEY，生成将使用内置的后备内容")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，并确保目录存在
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}
	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(getEnv(key, ""))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数环境变量，无法解析时使用默认值
func getEnvInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("警告: %s=%q 不是整数，使用默认值 %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvDuration 获取时长环境变量，接受 "90s" 或纯秒数
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("警告: %s=%q 不是有效时长，使用默认值 %s", key, value, defaultValue)
	return defaultValue
}

// InitConfig 初始化配置管理器，合并 config.json 中保存的LLM设置
func InitConfig(dataDir string) error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = filepath.Join(dataDir, "config.json")
	configSecret = baseConfig.ConfigSecret

	currentConfig = &AppConfig{
		Port:        baseConfig.Port,
		BackendURL:  baseConfig.BackendURL,
		DataDir:     dataDir,
		LogDir:      baseConfig.LogDir,
		DebugMode:   baseConfig.DebugMode,
		LLMProvider: baseConfig.LLMProvider,
		LLMConfig: map[string]string{
			"api_key":       baseConfig.OpenAIAPIKey,
			"base_url":      baseConfig.LLMBaseURL,
			"default_model": baseConfig.LLMModel,
		},
	}

	// 尝试从文件加载已保存的配置
	if data, err := os.ReadFile(configFile); err == nil {
		var saved AppConfig
		if json.Unmarshal(data, &saved) == nil {
			// 基础配置始终以环境为准，只保留文件中的LLM设置
			saved.Port = currentConfig.Port
			saved.BackendURL = currentConfig.BackendURL
			saved.DataDir = currentConfig.DataDir
			saved.LogDir = currentConfig.LogDir
			saved.DebugMode = currentConfig.DebugMode

			if saved.LLMConfig == nil {
				saved.LLMConfig = map[string]string{}
			}
			if enc := saved.LLMConfig["api_key_enc"]; enc != "" && configSecret != "" {
				if key, err := utils.Decrypt(enc, configSecret); err == nil {
					saved.LLMConfig["api_key"] = key
				} else {
					log.Printf("警告: 无法解密已保存的API密钥: %v", err)
				}
			}
			delete(saved.LLMConfig, "api_key_enc")
			if saved.LLMConfig["api_key"] == "" {
				saved.LLMConfig["api_key"] = baseConfig.OpenAIAPIKey
			}
			if saved.LLMProvider == "" {
				saved.LLMProvider = baseConfig.LLMProvider
			}
			currentConfig = &saved
		}
	}

	return saveLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		baseConfig, err := Load()
		if err != nil {
			return &AppConfig{Port: "8080", LLMProvider: ProviderFallback, LLMConfig: map[string]string{}}
		}
		return &AppConfig{
			Port:        baseConfig.Port,
			BackendURL:  baseConfig.BackendURL,
			DataDir:     baseConfig.DataDir,
			LogDir:      baseConfig.LogDir,
			DebugMode:   baseConfig.DebugMode,
			LLMProvider: baseConfig.LLMProvider,
			LLMConfig: map[string]string{
				"api_key":       baseConfig.OpenAIAPIKey,
				"base_url":      baseConfig.LLMBaseURL,
				"default_model": baseConfig.LLMModel,
			},
		}
	}

	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置并保存
func UpdateLLMConfig(provider string, llmConfig map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	if !IsKnownProvider(provider) {
		return fmt.Errorf("未知的LLM提供者: %s", provider)
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = make(map[string]string, len(llmConfig))
	for k, v := range llmConfig {
		currentConfig.LLMConfig[k] = v
	}
	return saveLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveLocked()
}

// saveLocked 调用方需持有 configMutex。设置了 CONFIG_SECRET 时API密钥加密保存，否则不落盘。
func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	onDisk := *currentConfig
	onDisk.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		if k == "api_key" {
			continue
		}
		onDisk.LLMConfig[k] = v
	}
	if key := currentConfig.LLMConfig["api_key"]; key != "" && configSecret != "" {
		enc, err := utils.Encrypt(key, configSecret)
		if err != nil {
			return fmt.Errorf("加密API密钥失败: %w", err)
		}
		onDisk.LLMConfig["api_key_enc"] = enc
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	return os.WriteFile(configFile, data, 0600)
}
