// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 54 * time.Second
	wsPongWait     = 60 * time.Second
	wsSendBuffer   = 64
)

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个订阅会话的 WebSocket 客户端
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	clientID  string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	lastPing  atomic.Time
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection, sessionID, clientID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		clientID:  clientID,
		send:      make(chan []byte, wsSendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.lastPing.Store(time.Now())
	return client
}

// Close 安全关闭客户端连接，可重复调用
func (client *WebSocketClient) Close() {
	client.closeOnce.Do(func() {
		client.closed.Store(true)
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	})
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return client.closed.Load()
}

// Done 连接关闭时关闭的通道
func (client *WebSocketClient) Done() <-chan struct{} {
	return client.done
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(client.lastPing.Load()) > timeout
}

// SendJSON 把消息放入发送队列，队列满时丢弃
func (client *WebSocketClient) SendJSON(message interface{}) bool {
	if client.IsClosed() {
		return false
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ 序列化 WebSocket 消息失败: %v", err)
		return false
	}

	select {
	case client.send <- msgBytes:
		return true
	case <-client.done:
		return false
	default:
		log.Printf("⚠️ 客户端 %s 消息队列已满，消息被丢弃", client.clientID)
		return false
	}
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(code, errorMsg string) {
	client.SendJSON(map[string]interface{}{
		"type":      "error",
		"code":      code,
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// WebSocketManager 按会话管理所有 WebSocket 连接
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{} // sessionID -> clients
	mutex       sync.RWMutex
	pingTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewWebSocketManager 创建管理器并启动过期连接清理
func NewWebSocketManager(pingTimeout time.Duration) *WebSocketManager {
	manager := &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		pingTimeout: pingTimeout,
		stop:        make(chan struct{}),
	}
	go manager.run()
	return manager
}

// run 定期清理过期连接，直到 Shutdown
func (manager *WebSocketManager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			manager.cleanupExpiredConnections()
		case <-manager.stop:
			return
		}
	}
}

// Register 注册新客户端
func (manager *WebSocketManager) Register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.sessionID][client] = struct{}{}
	client.UpdatePing()

	log.Printf("✅ WebSocket 客户端已连接到会话 %s (客户端: %s)", client.sessionID, client.clientID)
}

// Unregister 注销并关闭客户端
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	if clients, exists := manager.connections[client.sessionID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(manager.connections, client.sessionID)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	log.Printf("🔌 WebSocket 客户端已断开连接 (会话: %s, 客户端: %s)", client.sessionID, client.clientID)
}

// cleanupExpiredConnections 清理过期和已关闭的连接
func (manager *WebSocketManager) cleanupExpiredConnections() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	removed := 0
	for sessionID, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(clients, client)
				client.Close()
				removed++
			}
		}
		if len(clients) == 0 {
			delete(manager.connections, sessionID)
		}
	}
	return removed
}

// CloseSession 关闭某个会话的所有连接（会话被删除时）
func (manager *WebSocketManager) CloseSession(sessionID string) {
	manager.mutex.Lock()
	clients := manager.connections[sessionID]
	delete(manager.connections, sessionID)
	manager.mutex.Unlock()

	for client := range clients {
		client.Close()
	}
}

// Shutdown 关闭所有连接并停止清理
func (manager *WebSocketManager) Shutdown() {
	manager.stopOnce.Do(func() {
		close(manager.stop)

		manager.mutex.Lock()
		defer manager.mutex.Unlock()

		log.Println("🛑 正在关闭 WebSocket 管理器...")
		for _, clients := range manager.connections {
			for client := range clients {
				client.Close()
			}
		}
		manager.connections = make(map[string]map[*WebSocketClient]struct{})
		log.Println("✅ WebSocket 管理器已关闭")
	})
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]interface{})
	totalConnections := 0

	for sessionID, clients := range manager.connections {
		active := make([]map[string]interface{}, 0, len(clients))
		for client := range clients {
			if client.IsClosed() {
				continue
			}
			active = append(active, map[string]interface{}{
				"client_id":    client.clientID,
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    client.lastPing.Load().Format(time.RFC3339),
			})
		}
		sort.Slice(active, func(i, j int) bool {
			return active[i]["client_id"].(string) < active[j]["client_id"].(string)
		})

		sessions[sessionID] = map[string]interface{}{
			"client_count": len(active),
			"clients":      active,
		}
		totalConnections += len(active)
	}

	return map[string]interface{}{
		"total_sessions":       len(manager.connections),
		"total_connections":    totalConnections,
		"sessions":             sessions,
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
	}
}
