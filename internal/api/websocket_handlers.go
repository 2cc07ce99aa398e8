// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Corphon/QuestWeaver/internal/services"
)

// wsMessage 客户端发来的消息
type wsMessage struct {
	Type     string `json:"type"`
	SceneID  string `json:"scene_id,omitempty"`
	ChoiceID string `json:"choice_id,omitempty"`
}

// WebSocketHandler 把会话快照推送给 WebSocket 客户端，并接受导航指令
type WebSocketHandler struct {
	sessions *services.SessionManager
	manager  *WebSocketManager
	response *ResponseHelper
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(sessions *services.SessionManager, manager *WebSocketManager) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		manager:  manager,
		response: NewResponseHelper(),
	}
}

// SessionWebSocket 处理会话 WebSocket 连接：
// 连接后立即收到当前快照，之后每次状态变化收到一条 snapshot 消息。
func (wh *WebSocketHandler) SessionWebSocket(c *gin.Context) {
	session, err := wh.sessions.Get(c.Param("id"))
	if err != nil {
		wh.response.AppError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ 会话 WebSocket 升级失败: %v", err)
		return
	}

	clientID := c.DefaultQuery("client_id", uuid.NewString())
	client := newWebSocketClient(conn, session.ID(), clientID)
	wh.manager.Register(client)
	defer wh.manager.Unregister(client)

	sub := session.Subscribe()
	defer sub.Close()

	go wh.handleWebSocketWrites(client)
	go wh.handleWebSocketReads(client, session)

	client.SendJSON(map[string]interface{}{
		"type":       "connected",
		"session_id": session.ID(),
		"client_id":  clientID,
		"timestamp":  time.Now().Format(time.RFC3339),
	})

	for {
		select {
		case snap, ok := <-sub.C:
			if !ok {
				// 会话已关闭
				return
			}
			client.SendJSON(map[string]interface{}{
				"type": "snapshot",
				"data": snap,
			})
		case <-client.Done():
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleWebSocketReads 读取客户端消息直到连接断开
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient, session *services.QuestSession) {
	defer client.Close()

	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("❌ WebSocket 读取错误: %v", err)
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var message wsMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			client.SendError(ErrorBadRequest, "消息不是有效的JSON")
			continue
		}
		wh.handleMessage(client, session, message)
	}
}

// handleWebSocketWrites 串行写出发送队列并定期 ping
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket 写入失败: %v", err)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("❌ WebSocket ping 失败: %v", err)
				return
			}

		case <-client.Done():
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleMessage 处理导航指令；新状态通过订阅推送，这里只回复错误
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, session *services.QuestSession, message wsMessage) {
	switch message.Type {
	case "select":
		if _, err := session.SelectScene(message.SceneID); err != nil {
			wh.sendAppError(client, err)
		}
	case "choose":
		if _, err := session.Choose(message.SceneID, message.ChoiceID); err != nil {
			wh.sendAppError(client, err)
		}
	case "ping":
		client.SendJSON(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Unix(),
		})
	default:
		client.SendError(ErrorBadRequest, "未知的消息类型: "+message.Type)
	}
}

func (wh *WebSocketHandler) sendAppError(client *WebSocketClient, err error) {
	_, code := statusForError(err)
	client.SendError(code, errorMessage(err))
}
