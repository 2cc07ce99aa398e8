// internal/services/session_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/Corphon/QuestWeaver/internal/backend"
	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/stream"
	"github.com/Corphon/QuestWeaver/internal/utils"
)

// SessionOptions 会话参数
type SessionOptions struct {
	StreamTimeout    time.Duration // 一次生成的整体超时
	SubscriberBuffer int           // 每个订阅者缓冲的快照数
	MaxSessions      int
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = 5 * time.Minute
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 16
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = 100
	}
	return o
}

// Subscription 快照订阅。
// 快照按版本递增的顺序送达，但不保证每个版本都送达：通道缓冲已满时丢弃
// 尚未读取的最旧快照，再投递新快照，因此慢速订阅者会跳过中间状态，
// 最新快照总会送达。发布从不因订阅者阻塞。需要完整事件序列的调用方应使用
// 进度中的 CompletedSteps 与 StreamedContent。
type Subscription struct {
	C <-chan models.SessionSnapshot

	id      uint64
	session *QuestSession
	once    sync.Once
}

// Close 取消订阅并关闭通道
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.session.unsubscribe(sub.id)
	})
}

// QuestSession 一个生成会话：唯一的任务写入者，多个只读观察者
type QuestSession struct {
	id        string
	createdAt time.Time
	source    backend.QuestSource
	runs      *ProgressService
	opts      SessionOptions

	// epoch 每次开始新生成或重置时递增，过期的读取协程据此停止
	epoch      atomic.Uint64
	generating atomic.Bool

	mu        sync.Mutex
	assembler *Assembler
	nav       Navigator
	phase     models.Phase
	lastError string
	version   uint64
	updatedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	runID     string
	runStart  time.Time
	closed    bool

	// lastSnapshotKey 上次发布时的导航指纹
	lastSnapshotKey string

	subs    map[uint64]chan models.SessionSnapshot
	nextSub uint64

	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

func newQuestSession(id string, source backend.QuestSource, runs *ProgressService, opts SessionOptions) *QuestSession {
	now := time.Now()
	return &QuestSession{
		id:        id,
		createdAt: now,
		updatedAt: now,
		source:    source,
		runs:      runs,
		opts:      opts.withDefaults(),
		phase:     models.PhaseNoQuest,
		subs:      make(map[uint64]chan models.SessionSnapshot),
		logger:    utils.GetLogger(),
		metrics:   utils.GetMetricsCollector(),
	}
}

// NewQuestSession 创建独立会话（不经过管理器）
func NewQuestSession(source backend.QuestSource, opts SessionOptions) *QuestSession {
	return newQuestSession(uuid.NewString(), source, nil, opts)
}

// ID 会话ID
func (s *QuestSession) ID() string {
	return s.id
}

// IsGenerating 无锁读取生成状态
func (s *QuestSession) IsGenerating() bool {
	return s.generating.Load()
}

// Snapshot 当前状态快照
func (s *QuestSession) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Info 会话列表条目
func (s *QuestSession) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := models.SessionInfo{
		ID:        s.id,
		Phase:     s.phase,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.assembler != nil {
		info.Title = s.assembler.Quest().Title
	}
	return info
}

// Subscribe 订阅快照，立即收到当前状态
func (s *QuestSession) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked()
}

func (s *QuestSession) subscribeLocked() *Subscription {
	ch := make(chan models.SessionSnapshot, s.opts.SubscriberBuffer)
	s.nextSub++
	id := s.nextSub

	if s.closed {
		close(ch)
	} else {
		s.subs[id] = ch
		ch <- s.snapshotLocked()
	}
	return &Subscription{C: ch, id: id, session: s}
}

func (s *QuestSession) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// BeginGeneration 校验请求、清空旧任务并打开生成流。
// 返回的订阅在新任务清空之后建立，随后按事件到达顺序收到快照。
func (s *QuestSession) BeginGeneration(ctx context.Context, req models.GenerationRequest) (*Subscription, error) {
	if err := req.Validate(); err != nil {
		s.recordRejected(err)
		return nil, err
	}

	s.mu.Lock()
	epoch, runCtx, err := s.startRunLocked(ctx, req)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sub := s.subscribeLocked()
	s.mu.Unlock()

	reader, err := s.source.OpenStream(runCtx, req)
	if err != nil {
		s.finish(epoch, err)
		sub.Close()
		return nil, err
	}

	go s.consume(runCtx, epoch, reader)
	return sub, nil
}

// GenerateSync 非流式生成：一次取回完整任务后按同样规则装配
func (s *QuestSession) GenerateSync(ctx context.Context, req models.GenerationRequest) (models.SessionSnapshot, error) {
	if err := req.Validate(); err != nil {
		s.recordRejected(err)
		return s.Snapshot(), err
	}

	s.mu.Lock()
	epoch, runCtx, err := s.startRunLocked(ctx, req)
	s.mu.Unlock()
	if err != nil {
		return s.Snapshot(), err
	}

	doc, genErr := s.source.Generate(runCtx, req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch.Load() != epoch || s.assembler == nil {
		return s.snapshotLocked(), apperrors.NewConflictError("生成已被新的请求取代", nil)
	}
	if genErr != nil {
		s.endRunLocked(genErr)
		return s.snapshotLocked(), genErr
	}

	s.assembler.LoadDocument(doc)
	s.metrics.IncrementCounter(utils.MetricEventsApplied)
	s.completeLocked()
	return s.snapshotLocked(), nil
}

// recordRejected 校验失败不触碰任务，只保留错误消息
func (s *QuestSession) recordRejected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
	s.publishLocked()
}

// startRunLocked 放弃旧生成并清空状态，调用方需持有 s.mu
func (s *QuestSession) startRunLocked(ctx context.Context, req models.GenerationRequest) (uint64, context.Context, error) {
	if s.closed {
		return 0, nil, apperrors.NewConflictError("会话已关闭", nil)
	}

	s.abandonLocked()
	epoch := s.epoch.Inc()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StreamTimeout)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.assembler = NewAssembler(uuid.NewString(), req)
	s.nav.Reset()
	s.phase = models.PhaseGenerating
	s.lastError = ""
	s.runID = uuid.NewString()
	s.runStart = time.Now()
	s.generating.Store(true)

	if s.runs != nil {
		s.runs.StartRun(s.runID, s.id)
	}
	s.metrics.IncrementCounter(utils.MetricGenerationsStarted)
	s.logger.Info("开始生成任务", map[string]interface{}{
		"session_id": s.id,
		"run_id":     s.runID,
		"quest_id":   s.assembler.Quest().ID,
		"input":      string(req.InputMethod),
	})

	s.publishLocked()
	return epoch, runCtx, nil
}

// abandonLocked 停止当前生成，不再等待其读取
func (s *QuestSession) abandonLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.generating.Load() {
		s.generating.Store(false)
		s.metrics.IncrementCounter(utils.MetricGenerationsAbandon)
		if s.runs != nil {
			s.runs.FinishRun(s.runID, RunAbandoned, "已被新的生成取代")
		}
	}
	s.closeDoneLocked()
}

func (s *QuestSession) closeDoneLocked() {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}

// consume 逐条读取事件并按到达顺序应用
func (s *QuestSession) consume(ctx context.Context, epoch uint64, reader *stream.Reader) {
	defer reader.Close()

	for {
		item, err := reader.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				err = apperrors.NewTransportError("生成流在完成前关闭", nil)
			case errors.Is(err, context.DeadlineExceeded):
				err = apperrors.NewTimeoutError("生成超时", err)
			case errors.Is(err, context.Canceled):
				err = apperrors.NewTransportError("生成已取消", err)
			}
			s.finish(epoch, err)
			return
		}
		if stop := s.apply(epoch, item); stop {
			return
		}
	}
}

// apply 应用一条事件，返回是否停止读取
func (s *QuestSession) apply(epoch uint64, item stream.Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch.Load() != epoch || s.assembler == nil {
		return true
	}

	if item.Err != nil {
		s.assembler.RecordProtocolError(item.Event.Raw, item.Err)
		return false
	}

	res, err := s.assembler.ApplyEvent(item.Event)
	if !res.Changed && err == nil {
		return false
	}
	if s.phase == models.PhaseGenerating {
		s.phase = models.PhasePartial
	}

	if err != nil {
		s.endRunLocked(err)
		return true
	}
	if res.Terminal {
		s.completeLocked()
		return true
	}

	if s.runs != nil {
		p := s.assembler.Progress()
		s.runs.UpdateRun(s.runID, p.Percent, p.CurrentStep)
	}
	s.publishLocked()
	return false
}

// finish 读取协程以错误结束；过期或已结束的生成忽略
func (s *QuestSession) finish(epoch uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch.Load() != epoch || s.assembler == nil || s.assembler.IsFinished() {
		return
	}
	s.endRunLocked(err)
}

// endRunLocked 以失败结束当前生成，保留部分任务
func (s *QuestSession) endRunLocked(err error) {
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
		if appErr.Err != nil && appErr.Type != apperrors.ErrorTypeGeneration {
			msg = appErr.Message + ": " + appErr.Err.Error()
		}
	}

	s.assembler.Fail(msg)
	s.phase = models.PhaseFailed
	s.lastError = msg
	s.stopRunLocked()

	s.metrics.IncrementCounter(utils.MetricGenerationsFailed)
	if s.runs != nil {
		s.runs.FinishRun(s.runID, RunFailed, msg)
	}
	s.logger.Error("生成任务失败", map[string]interface{}{
		"session_id": s.id,
		"run_id":     s.runID,
		"error_type": string(apperrors.TypeOf(err)),
		"error":      msg,
	})
	s.publishLocked()
}

// completeLocked 生成完成：未选择场景时自动进入入口场景
func (s *QuestSession) completeLocked() {
	quest := s.assembler.Quest()
	if s.nav.CurrentSceneID() == "" {
		if entry, ok := quest.EntryScene(); ok {
			s.nav.SelectScene(quest, entry.ID)
		}
	}

	switch {
	case len(quest.Scenes) == 0 || s.nav.Ended():
		s.phase = models.PhaseEnded
	default:
		s.phase = models.PhasePlaying
	}
	s.stopRunLocked()

	s.metrics.IncrementCounter(utils.MetricGenerationsComplete)
	s.metrics.RecordDuration(utils.MetricGenerationMillis, time.Since(s.runStart))
	if s.runs != nil {
		s.runs.FinishRun(s.runID, RunCompleted, "任务生成完成")
	}
	s.logger.Info("任务生成完成", map[string]interface{}{
		"session_id": s.id,
		"quest_id":   quest.ID,
		"scenes":     len(quest.Scenes),
		"duration":   time.Since(s.runStart).Milliseconds(),
	})
	s.publishLocked()
}

func (s *QuestSession) stopRunLocked() {
	s.generating.Store(false)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.closeDoneLocked()
}

// Wait 等待当前生成结束
func (s *QuestSession) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SelectScene 直接跳转到任意已到达的场景
func (s *QuestSession) SelectScene(sceneID string) (models.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assembler == nil {
		return s.snapshotLocked(), apperrors.NewNotFoundError("会话中没有任务", nil)
	}
	if err := s.nav.SelectScene(s.assembler.Quest(), sceneID); err != nil {
		return s.snapshotLocked(), err
	}

	s.metrics.IncrementCounter(utils.MetricNavigations)
	s.updateNavPhaseLocked()
	return s.snapshotLocked(), nil
}

// Choose 在 currentSceneID 上执行选择，为空时使用当前场景
func (s *QuestSession) Choose(currentSceneID, choiceID string) (models.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assembler == nil {
		return s.snapshotLocked(), apperrors.NewNotFoundError("会话中没有任务", nil)
	}

	_, err := s.nav.Choose(s.assembler.Quest(), currentSceneID, choiceID)
	if err != nil && !apperrors.IsDeadEnd(err) {
		return s.snapshotLocked(), err
	}
	if err != nil {
		s.metrics.IncrementCounter(utils.MetricDeadEnds)
	} else {
		s.metrics.IncrementCounter(utils.MetricNavigations)
	}
	s.updateNavPhaseLocked()
	return s.snapshotLocked(), err
}

// updateNavPhaseLocked 导航后更新状态，只有状态真的改变才发布。
// 生成进行中只移动当前场景，状态保持 Partial，由 complete 决定 Playing 或 Ended。
func (s *QuestSession) updateNavPhaseLocked() {
	last := s.lastSnapshotKey
	if !s.generating.Load() {
		s.phase = models.PhasePlaying
		if s.nav.Ended() {
			s.phase = models.PhaseEnded
		}
	}
	if key := s.navKeyLocked(); key != last {
		s.publishLocked()
	}
}

// Reset 丢弃任务与进度，回到无任务状态
func (s *QuestSession) Reset() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abandonLocked()
	s.epoch.Inc()
	s.assembler = nil
	s.nav.Reset()
	s.phase = models.PhaseNoQuest
	s.lastError = ""
	s.publishLocked()
	return s.snapshotLocked()
}

// Layout 当前任务的图布局，无任务时为空布局
func (s *QuestSession) Layout() models.GraphLayout {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assembler == nil {
		return ComputeLayout(nil)
	}
	return ComputeLayout(s.assembler.Quest())
}

// SceneView 指定场景的投影，sceneID 为空时使用当前场景
func (s *QuestSession) SceneView(sceneID string) (models.SceneView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assembler == nil {
		return models.SceneView{}, apperrors.NewNotFoundError("会话中没有任务", nil)
	}
	if sceneID == "" {
		sceneID = s.nav.CurrentSceneID()
	}
	if sceneID == "" {
		return models.SceneView{}, apperrors.NewNotFoundError("尚未选择当前场景", nil)
	}
	return ProjectScene(s.assembler.Quest(), sceneID)
}

// Quest 任务副本，无任务时为 nil
func (s *QuestSession) Quest() *models.Quest {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assembler == nil {
		return nil
	}
	return s.assembler.Quest().Clone()
}

// Close 停止生成并关闭所有订阅
func (s *QuestSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.abandonLocked()
	s.epoch.Inc()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *QuestSession) snapshotLocked() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		SessionID:      s.id,
		Version:        s.version,
		Phase:          s.phase,
		CurrentSceneID: s.nav.CurrentSceneID(),
		LastError:      s.lastError,
		UpdatedAt:      s.updatedAt,
		Progress:       models.GenerationProgress{CompletedSteps: []string{}},
	}
	if s.assembler != nil {
		snap.Quest = s.assembler.Quest().Clone()
		snap.Progress = s.assembler.Progress()
	}
	return snap
}

// publishLocked 向所有订阅者投递新快照，从不阻塞。
// 缓冲已满时丢弃最旧的一个快照再投递。
func (s *QuestSession) publishLocked() {
	s.version++
	s.updatedAt = time.Now()
	s.lastSnapshotKey = s.navKeyLocked()
	if len(s.subs) == 0 {
		return
	}

	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
			s.metrics.IncrementCounter(utils.MetricSnapshotsCoalesced)
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
	s.metrics.IncrementCounter(utils.MetricSnapshotsPublished)
}

// navKeyLocked 导航状态指纹，用于判断导航是否改变了状态
func (s *QuestSession) navKeyLocked() string {
	return fmt.Sprintf("%s|%s|%t", s.phase, s.nav.CurrentSceneID(), s.nav.Ended())
}

// SessionManager 管理进程内的所有会话
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*QuestSession
	source   backend.QuestSource
	runs     *ProgressService
	opts     SessionOptions
	logger   *utils.Logger
	metrics  *utils.MetricsCollector
}

// NewSessionManager 创建会话管理器
func NewSessionManager(source backend.QuestSource, runs *ProgressService, opts SessionOptions) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*QuestSession),
		source:   source,
		runs:     runs,
		opts:     opts.withDefaults(),
		logger:   utils.GetLogger(),
		metrics:  utils.GetMetricsCollector(),
	}
}

// Create 创建新会话
func (m *SessionManager) Create() (*QuestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.opts.MaxSessions {
		return nil, apperrors.NewConflictError(fmt.Sprintf("会话数量已达上限 %d", m.opts.MaxSessions), nil)
	}

	session := newQuestSession(uuid.NewString(), m.source, m.runs, m.opts)
	m.sessions[session.ID()] = session

	m.metrics.IncrementCounter(utils.MetricSessionsCreated)
	m.metrics.SetGauge(utils.MetricSessionsActive, int64(len(m.sessions)))
	m.logger.Info("会话已创建", map[string]interface{}{"session_id": session.ID()})
	return session, nil
}

// Get 获取会话
func (m *SessionManager) Get(id string) (*QuestSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", id), nil)
	}
	return session, nil
}

// Delete 关闭并移除会话
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", id), nil)
	}
	session.Close()
	m.metrics.SetGauge(utils.MetricSessionsActive, int64(count))
	return nil
}

// List 按创建时间列出会话
func (m *SessionManager) List() []models.SessionInfo {
	m.mu.RLock()
	sessions := make([]*QuestSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Count 当前会话数
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll 关闭全部会话，用于进程退出
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*QuestSession)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.metrics.SetGauge(utils.MetricSessionsActive, 0)
}
