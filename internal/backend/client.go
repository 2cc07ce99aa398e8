// internal/backend/client.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/stream"
	"github.com/Corphon/QuestWeaver/internal/utils"
)

// 后端接口路径
const (
	StreamPath = "/api/generate-quest-stream"
	SyncPath   = "/api/generate-quest"
)

// QuestSource 生成后端的抽象，会话只依赖这个接口
type QuestSource interface {
	OpenStream(ctx context.Context, req models.GenerationRequest) (*stream.Reader, error)
	Generate(ctx context.Context, req models.GenerationRequest) (*models.Quest, error)
}

// Client 生成后端的HTTP客户端
type Client struct {
	baseURL     string
	httpClient  *http.Client
	idleTimeout time.Duration
	syncTimeout time.Duration
	logger      *utils.Logger
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 指定HTTP客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithIdleTimeout 两次数据到达之间的最长等待
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

// WithSyncTimeout 非流式请求的整体超时
func WithSyncTimeout(d time.Duration) Option {
	return func(c *Client) { c.syncTimeout = d }
}

// NewClient 创建后端客户端
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// 流式响应不能设置整体超时，由调用方的上下文控制
		httpClient:  &http.Client{},
		idleTimeout: 60 * time.Second,
		syncTimeout: 5 * time.Minute,
		logger:      utils.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL 后端地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, path string, req models.GenerationRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewProcessingError("编码生成请求失败", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewTransportError("创建请求失败", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// do 发送请求并检查状态码
func (c *Client) do(httpReq *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := httpReq.Context().Err(); ctxErr != nil {
			return nil, apperrors.NewTimeoutError("连接生成后端超时", ctxErr)
		}
		return nil, apperrors.NewTransportError("无法连接生成后端", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("生成后端返回状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}
	return resp, nil
}

// OpenStream 打开流式生成连接。调用方负责关闭返回的 Reader。
func (c *Client) OpenStream(ctx context.Context, req models.GenerationRequest) (*stream.Reader, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, StreamPath, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("生成流已打开", map[string]interface{}{
		"url":          c.baseURL + StreamPath,
		"content_type": resp.Header.Get("Content-Type"),
	})
	return stream.NewReader(resp.Body, c.idleTimeout), nil
}

// Generate 非流式生成，一次返回完整任务
func (c *Client) Generate(ctx context.Context, req models.GenerationRequest) (*models.Quest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if c.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.syncTimeout)
		defer cancel()
	}

	httpReq, err := c.newRequest(ctx, SyncPath, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransportError("读取任务文档失败", err)
	}
	return stream.NormalizeQuestDocument(data)
}
