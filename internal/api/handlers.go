// internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/services"
	"github.com/Corphon/QuestWeaver/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	Sessions  *services.SessionManager  // 会话管理
	Generator *services.GeneratorService // 内置生成后端
	Export    *services.ExportService    // 导出服务
	Runs      *services.ProgressService  // 生成运行记录
	LLM       *services.LLMService       // 模型服务，可为 nil

	WebSocketHandler *WebSocketHandler // WebSocket 处理器
	WebSocketManager *WebSocketManager // WebSocket 连接管理
	Response         *ResponseHelper   // 响应助手

	heartbeat time.Duration
	startedAt time.Time
}

// SelectSceneRequest 直接跳转场景
type SelectSceneRequest struct {
	SceneID string `json:"scene_id" binding:"required"`
}

// ChooseRequest 在当前场景执行选择，scene_id 为空时使用会话的当前场景
type ChooseRequest struct {
	SceneID  string `json:"scene_id"`
	ChoiceID string `json:"choice_id" binding:"required"`
}

// NewHandler 创建API处理器
func NewHandler(sessions *services.SessionManager, generator *services.GeneratorService,
	export *services.ExportService, runs *services.ProgressService, llmService *services.LLMService,
	wsManager *WebSocketManager) *Handler {
	return &Handler{
		Sessions:         sessions,
		Generator:        generator,
		Export:           export,
		Runs:             runs,
		LLM:              llmService,
		WebSocketHandler: NewWebSocketHandler(sessions, wsManager),
		WebSocketManager: wsManager,
		Response:         NewResponseHelper(),
		heartbeat:        15 * time.Second,
		startedAt:        time.Now(),
	}
}

// session 按路径参数获取会话，失败时已写出响应
func (h *Handler) session(c *gin.Context) (*services.QuestSession, bool) {
	session, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err)
		return nil, false
	}
	return session, true
}

// ========================================
// 会话
// ========================================

// CreateSession 创建会话
func (h *Handler) CreateSession(c *gin.Context) {
	session, err := h.Sessions.Create()
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Created(c, session.Snapshot(), "会话已创建")
}

// ListSessions 列出会话
func (h *Handler) ListSessions(c *gin.Context) {
	h.Response.Success(c, h.Sessions.List())
}

// GetSession 会话当前快照
func (h *Handler) GetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.Response.Success(c, session.Snapshot())
}

// DeleteSession 关闭并删除会话
func (h *Handler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.Sessions.Delete(id); err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.WebSocketManager.CloseSession(id)
	h.Response.Success(c, gin.H{"id": id}, "会话已删除")
}

// StartGeneration 开始流式生成。默认立即返回 202，进度通过 events 或 WebSocket 获取；
// wait=true 时等待生成结束后返回最终快照。
func (h *Handler) StartGeneration(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req models.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式无效", err.Error())
		return
	}

	sub, err := session.BeginGeneration(c.Request.Context(), req)
	if err != nil {
		h.Response.ErrorWithData(c, err, session.Snapshot())
		return
	}
	sub.Close()

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		if err := session.Wait(c.Request.Context()); err != nil {
			h.Response.AppError(c, apperrors.NewTimeoutError("等待生成结束时连接已断开", err))
			return
		}
		snap := session.Snapshot()
		if snap.Phase == models.PhaseFailed {
			h.Response.Error(c, http.StatusBadGateway, ErrorGenerationError, snap.LastError)
			return
		}
		h.Response.Success(c, snap, "任务生成完成")
		return
	}

	c.JSON(http.StatusAccepted, &APIResponse{
		Success:   true,
		Data:      session.Snapshot(),
		Message:   "生成已开始",
		Timestamp: time.Now(),
		RequestID: c.GetString(requestIDKey),
	})
}

// GenerateSync 非流式生成，返回最终快照
func (h *Handler) GenerateSync(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req models.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式无效", err.Error())
		return
	}

	snap, err := session.GenerateSync(c.Request.Context(), req)
	if err != nil {
		h.Response.ErrorWithData(c, err, snap)
		return
	}
	h.Response.Success(c, snap, "任务生成完成")
}

// SessionEvents 以SSE推送会话快照。until_terminal=true 时在生成结束后关闭流。
func (h *Handler) SessionEvents(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	untilTerminal, _ := strconv.ParseBool(c.Query("until_terminal"))

	sub := session.Subscribe()
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case snap, ok := <-sub.C:
			if !ok {
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{
				Id:    strconv.FormatUint(snap.Version, 10),
				Event: "snapshot",
				Data:  snap,
			}); err != nil {
				return
			}
			c.Writer.Flush()
			if untilTerminal && snap.IsTerminal() {
				return
			}
		case <-ticker.C:
			sse.Encode(c.Writer, sse.Event{
				Event: "heartbeat",
				Data:  strconv.FormatInt(time.Now().Unix(), 10),
			})
			c.Writer.Flush()
		}
	}
}

// ========================================
// 导航与投影
// ========================================

// GetLayout 任务图布局
func (h *Handler) GetLayout(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.Response.Success(c, session.Layout())
}

// GetSceneView 场景投影；scene_id 为 current 时使用当前场景
func (h *Handler) GetSceneView(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	sceneID := c.Param("scene_id")
	if sceneID == "current" {
		sceneID = ""
	}
	view, err := session.SceneView(sceneID)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// SelectScene 直接跳转到场景
func (h *Handler) SelectScene(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req SelectSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "缺少场景ID", err.Error())
		return
	}

	snap, err := session.SelectScene(req.SceneID)
	if err != nil {
		h.Response.ErrorWithData(c, err, snap)
		return
	}
	h.Response.Success(c, snap)
}

// Choose 执行选择；死路返回 409 与 DEAD_END，同时附带快照
func (h *Handler) Choose(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req ChooseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "缺少选择ID", err.Error())
		return
	}

	snap, err := session.Choose(req.SceneID, req.ChoiceID)
	if err != nil {
		h.Response.ErrorWithData(c, err, snap)
		return
	}
	h.Response.Success(c, snap)
}

// ResetSession 丢弃任务回到初始状态
func (h *Handler) ResetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.Response.Success(c, session.Reset(), "会话已重置")
}

// ========================================
// 导出
// ========================================

// ExportQuest 导出任务。download=true 时作为文件下载，save=true 时同时写入数据目录。
func (h *Handler) ExportQuest(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	format, err := models.ParseExportFormat(c.DefaultQuery("format", "json"))
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorExportFormatInvalid, errorMessage(err))
		return
	}

	result, err := h.Export.ExportQuest(session.Quest(), format, !session.IsGenerating())
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	if save, _ := strconv.ParseBool(c.Query("save")); save {
		path, size, err := h.Export.SaveExport(result)
		if err != nil {
			h.Response.Error(c, http.StatusInternalServerError, ErrorExportFailed, "保存导出文件失败", err.Error())
			return
		}
		h.Response.Success(c, gin.H{"path": path, "size": size, "export": result}, "导出已保存")
		return
	}

	download, _ := strconv.ParseBool(c.Query("download"))
	h.Response.ExportResponse(c, result, download)
}

// ListExports 已保存的导出文件
func (h *Handler) ListExports(c *gin.Context) {
	files, err := h.Export.ListExports()
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, files)
}

// DownloadExport 下载已保存的导出文件
func (h *Handler) DownloadExport(c *gin.Context) {
	name := c.Param("name")
	content, format, err := h.Export.LoadExport(name)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.DownloadResponse(c, content, name, format.ContentType())
}

// DeleteExport 删除已保存的导出文件
func (h *Handler) DeleteExport(c *gin.Context) {
	name := c.Param("name")
	if err := h.Export.DeleteExport(name); err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"name": name}, "导出文件已删除")
}

// ========================================
// 运维
// ========================================

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	llmState := "disabled"
	if h.LLM != nil {
		llmState = h.LLM.GetReadyState()
	}
	h.Response.Success(c, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"sessions":       h.Sessions.Count(),
		"generator_mode": h.Generator.Mode(),
		"llm_state":      llmState,
	})
}

// Metrics 进程内指标
func (h *Handler) Metrics(c *gin.Context) {
	h.Response.Success(c, utils.GetMetricsCollector().GetMetrics())
}

// GetWebSocketStatus 获取 WebSocket 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := h.WebSocketManager.GetStatus()
	status["timestamp"] = time.Now().Format(time.RFC3339)
	c.JSON(http.StatusOK, status)
}

// CleanupWebSocketConnections 立即清理过期连接
func (h *Handler) CleanupWebSocketConnections(c *gin.Context) {
	removed := h.WebSocketManager.cleanupExpiredConnections()
	h.Response.Success(c, gin.H{"removed": removed}, "连接清理已执行")
}
