// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Corphon/QuestWeaver/internal/config"
	"github.com/Corphon/QuestWeaver/internal/llm"
	"github.com/Corphon/QuestWeaver/internal/utils"
)

var ErrLLMNotReady = errors.New("llm service not ready")

const (
	llmCacheExpiration = 30 * time.Minute
	llmCacheMaxEntries = 200
)

// LLMService 持有当前提供者并为生成器提供 JSON 补全
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	defaultModel  string
	readyState    string
	cache         *LLMCache
	apiMetrics    *utils.APIMetrics
}

// LLMCache 相同提示词的补全结果缓存
type LLMCache struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	expiration time.Duration
}

type CacheEntry struct {
	Response  string
	CreatedAt time.Time
}

// NewLLMService 按配置创建服务；fallback 或缺少密钥时返回未就绪的服务而不是错误
func NewLLMService(cfg *config.AppConfig, apiMetrics *utils.APIMetrics) *LLMService {
	service := NewEmptyLLMService()
	service.apiMetrics = apiMetrics
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service
	}
	if cfg.LLMProvider == "" || cfg.LLMProvider == config.ProviderFallback {
		service.readyState = "Fallback generator in use"
		return service
	}
	if err := service.UpdateProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
		utils.GetLogger().Warn("LLM提供者初始化失败，使用内置生成", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"error":    err.Error(),
		})
	}
	return service
}

// NewEmptyLLMService 创建未配置提供者的服务
func NewEmptyLLMService() *LLMService {
	return &LLMService{
		readyState: "Uninitialized",
		cache:      newLLMCache(),
	}
}

func newLLMCache() *LLMCache {
	return &LLMCache{
		cache:      make(map[string]*CacheEntry),
		expiration: llmCacheExpiration,
	}
}

// SetProvider 直接注入提供者
func (s *LLMService) SetProvider(name string, provider llm.Provider, defaultModel string) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = name
	s.defaultModel = defaultModel
	s.readyState = "Ready"
	s.cache = newLLMCache()
}

// UpdateProvider 通过注册表创建并切换提供者
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.provider = nil
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}
	s.SetProvider(providerName, provider, cfg["default_model"])
	return nil
}

// Disable 移除提供者，生成器退回内置内容
func (s *LLMService) Disable(state string) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = nil
	s.providerName = ""
	s.readyState = state
}

// IsReady 是否有可用的提供者
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil
}

// GetReadyState 就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// CompleteJSON 请求模型返回 JSON 对象，返回清洗后的 JSON 文本
func (s *LLMService) CompleteJSON(ctx context.Context, prompt, systemPrompt string) (string, error) {
	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	model := s.defaultModel
	cache := s.cache
	state := s.readyState
	s.providerMutex.RUnlock()

	if provider == nil {
		return "", fmt.Errorf("%w: %s", ErrLLMNotReady, state)
	}

	cacheKey := generateCacheKey(prompt, systemPrompt, model, providerName)
	if cached, ok := cache.get(cacheKey); ok {
		return cached, nil
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt + "\n\nReturn your response in valid JSON format, without adding explanations or preambles.",
		Temperature:  0.7,
		Model:        model,
		JSONMode:     true,
	})
	if err != nil {
		return "", err
	}
	if s.apiMetrics != nil {
		s.apiMetrics.RecordLLMRequest(providerName, resp.ModelName, resp.TokensUsed, time.Since(start))
	}

	text := cleanJSONString(resp.Text)
	if text == "" {
		return "", errors.New("模型没有返回 JSON 内容")
	}
	cache.save(cacheKey, text)
	return text, nil
}

// generateCacheKey 生成缓存键
func generateCacheKey(prompt, systemPrompt, model, providerName string) string {
	hashInput := fmt.Sprintf("%s:::%s:::%s:::%s", prompt, systemPrompt, model, providerName)
	return fmt.Sprintf("%x", md5.Sum([]byte(hashInput)))
}

func (c *LLMCache) get(key string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists || time.Since(entry.CreatedAt) > c.expiration {
		return "", false
	}
	return entry.Response, true
}

func (c *LLMCache) save(key, response string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &CacheEntry{Response: response, CreatedAt: time.Now()}
	if len(c.cache) > llmCacheMaxEntries {
		c.cleanupOldest(llmCacheMaxEntries / 10)
	}
}

// cleanupOldest 清理最旧的缓存条目
func (c *LLMCache) cleanupOldest(count int) {
	type keyAge struct {
		key string
		age time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].age.Before(entries[j].age)
	})
	for i := 0; i < min(count, len(entries)); i++ {
		delete(c.cache, entries[i].key)
	}
}

// 清理JSON字符串，去除前后非JSON内容
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
)

// cleanJSONString 去掉 Markdown 围栏与前后说明文字，截取第一个完整的 JSON 对象或数组
func cleanJSONString(s string) string {
	s = strings.TrimSpace(jsonNoiseReplacer.Replace(s))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return ""
	}
	s = s[start:]

	open, closing := byte('{'), byte('}')
	if s[0] == '[' {
		open, closing = '[', ']'
	}

	// 简单的括号计数匹配
	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		char := s[i]
		switch {
		case escaped:
			escaped = false
		case char == '\\':
			escaped = true
		case char == '"':
			inString = !inString
		case inString:
		case char == open:
			balance++
		case char == closing:
			balance--
			if balance == 0 {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	if end := strings.LastIndexByte(s, closing); end != -1 {
		return strings.TrimSpace(s[:end+1])
	}
	return strings.TrimSpace(s)
}
