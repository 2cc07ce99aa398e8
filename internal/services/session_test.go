package services

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
)

func TestSessionLostRelicEndToEnd(t *testing.T) {
	src := newFakeSource(lostRelicStream)
	s := NewQuestSession(src, SessionOptions{})

	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	defer sub.Close()

	final := waitFor(t, sub, func(snap models.SessionSnapshot) bool { return snap.IsTerminal() })
	require.NotNil(t, final.Quest)
	assert.Equal(t, "Lost Relic", final.Quest.Title)
	assert.Len(t, final.Quest.Scenes, 2)
	assert.Equal(t, models.PhasePlaying, final.Phase)
	assert.Equal(t, "s1", final.CurrentSceneID, "complete selects the entry scene")
	assert.False(t, final.Progress.IsGenerating)
	assert.Equal(t, 100, final.Progress.Percent)

	snap, err := s.Choose("s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "s2", snap.CurrentSceneID)
	assert.Equal(t, models.PhaseEnded, snap.Phase)

	layout := s.Layout()
	assert.Equal(t, [][]string{{"s1"}, {"s2"}}, layout.Levels)
}

func TestSessionSnapshotsAreOrdered(t *testing.T) {
	src := newFakeSource(lostRelicStream)
	s := NewQuestSession(src, SessionOptions{SubscriberBuffer: 64})

	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	defer sub.Close()

	var versions []uint64
	var sceneCounts []int
	waitFor(t, sub, func(snap models.SessionSnapshot) bool {
		versions = append(versions, snap.Version)
		if snap.Quest != nil {
			sceneCounts = append(sceneCounts, len(snap.Quest.Scenes))
		}
		return snap.IsTerminal()
	})

	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
	for i := 1; i < len(sceneCounts); i++ {
		assert.GreaterOrEqual(t, sceneCounts[i], sceneCounts[i-1])
	}
}

func TestSessionTitleOnlyPartialStream(t *testing.T) {
	pr, pw := io.Pipe()
	src := &fakeSource{}
	src.push(pr)
	s := NewQuestSession(src, SessionOptions{})
	defer s.Close()

	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	defer sub.Close()

	_, err = fmt.Fprint(pw, "data: {\"type\":\"title\",\"content\":\"Lost Relic\"}\n\n")
	require.NoError(t, err)

	snap := waitFor(t, sub, func(snap models.SessionSnapshot) bool {
		return snap.Quest != nil && snap.Quest.Title != ""
	})
	assert.Equal(t, "Lost Relic", snap.Quest.Title)
	assert.Empty(t, snap.Quest.Scenes)
	assert.True(t, snap.Progress.IsGenerating)
	assert.True(t, s.IsGenerating())
	assert.Equal(t, models.PhasePartial, snap.Phase)

	layout := s.Layout()
	assert.True(t, layout.IsEmpty())

	_ = pw.Close()
}

func TestSessionNavigationMidStreamKeepsPartial(t *testing.T) {
	pr, pw := io.Pipe()
	src := &fakeSource{}
	src.push(pr)
	s := NewQuestSession(src, SessionOptions{SubscriberBuffer: 64})
	defer s.Close()

	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	defer sub.Close()

	_, err = fmt.Fprint(pw, "data: {\"type\":\"scene\",\"content\":{\"id\":\"s1\",\"title\":\"Start\",\"choices\":[{\"id\":\"c1\",\"text\":\"Go north\",\"next_scene_id\":\"s2\"}]}}\n\n")
	require.NoError(t, err)
	waitFor(t, sub, func(snap models.SessionSnapshot) bool {
		return snap.Quest != nil && len(snap.Quest.Scenes) == 1
	})

	snap, err := s.SelectScene("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.CurrentSceneID)
	assert.Equal(t, models.PhasePartial, snap.Phase)

	_, err = fmt.Fprint(pw, "data: {\"type\":\"title\",\"content\":\"Lost Relic\"}\n\n")
	require.NoError(t, err)
	snap = waitFor(t, sub, func(snap models.SessionSnapshot) bool {
		return snap.Quest != nil && snap.Quest.Title == "Lost Relic"
	})
	assert.Equal(t, models.PhasePartial, snap.Phase)
	assert.Equal(t, "s1", snap.CurrentSceneID)
	assert.True(t, snap.Progress.IsGenerating)

	_, err = fmt.Fprint(pw, "data: {\"type\":\"scene\",\"content\":{\"id\":\"s2\",\"title\":\"Cave\",\"is_ending\":true}}\n\ndata: {\"type\":\"complete\",\"content\":\"done\"}\n\n")
	require.NoError(t, err)
	final := waitFor(t, sub, func(snap models.SessionSnapshot) bool { return snap.IsTerminal() })
	assert.Equal(t, models.PhasePlaying, final.Phase)
	assert.Equal(t, "s1", final.CurrentSceneID, "complete keeps the scene chosen during generation")

	_ = pw.Close()
}

func TestSessionEndingReachedMidStreamEndsOnComplete(t *testing.T) {
	pr, pw := io.Pipe()
	src := &fakeSource{}
	src.push(pr)
	s := NewQuestSession(src, SessionOptions{SubscriberBuffer: 64})
	defer s.Close()

	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	defer sub.Close()

	_, err = fmt.Fprint(pw, "data: {\"type\":\"scene\",\"content\":{\"id\":\"s1\",\"title\":\"Gate\",\"is_ending\":true}}\n\n")
	require.NoError(t, err)
	waitFor(t, sub, func(snap models.SessionSnapshot) bool {
		return snap.Quest != nil && len(snap.Quest.Scenes) == 1
	})

	snap, err := s.SelectScene("s1")
	require.NoError(t, err)
	assert.Equal(t, models.PhasePartial, snap.Phase)

	_, err = fmt.Fprint(pw, "data: {\"type\":\"complete\",\"content\":\"done\"}\n\n")
	require.NoError(t, err)
	final := waitFor(t, sub, func(snap models.SessionSnapshot) bool { return snap.IsTerminal() })
	assert.Equal(t, models.PhaseEnded, final.Phase)

	_ = pw.Close()
}

func TestSessionStreamClosedBeforeComplete(t *testing.T) {
	src := newFakeSource("data: {\"type\":\"title\",\"content\":\"Lost Relic\"}\n")
	s := NewQuestSession(src, SessionOptions{})

	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	sub.Close()
	waitDone(t, s)

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.NotEmpty(t, snap.LastError)
	assert.False(t, snap.Progress.IsGenerating)
	assert.Equal(t, "Lost Relic", snap.Quest.Title, "partial quest is kept")
}

func TestSessionErrorEventAbortsGeneration(t *testing.T) {
	body := "data: {\"type\":\"title\",\"content\":\"Lost Relic\"}\n" +
		"data: {\"type\":\"error\",\"content\":\"model crashed\"}\n" +
		"data: {\"type\":\"scene\",\"content\":{\"id\":\"s1\"}}\n"
	s := NewQuestSession(newFakeSource(body), SessionOptions{})

	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	sub.Close()
	waitDone(t, s)

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Equal(t, "model crashed", snap.LastError)
	assert.Empty(t, snap.Quest.Scenes)
}

func TestSessionSkipsMalformedLines(t *testing.T) {
	body := "data: not-json\n\n: keepalive\ndata: {\"type\":\"mystery\"}\n" + lostRelicStream
	s := NewQuestSession(newFakeSource(body), SessionOptions{})

	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	sub.Close()
	waitDone(t, s)

	snap := s.Snapshot()
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	assert.Len(t, snap.Quest.Scenes, 2)
	assert.Contains(t, snap.Progress.StreamedContent, "not-json")
	assert.Contains(t, snap.Progress.StreamedContent, "mystery")
}

func TestSessionValidationBeforeNetwork(t *testing.T) {
	src := newFakeSource(lostRelicStream)
	s := NewQuestSession(src, SessionOptions{})

	req := tavernRequest()
	req.StartingPoint = "   "
	sub, err := s.BeginGeneration(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.True(t, apperrors.IsValidationError(err))
	assert.Equal(t, 0, src.openCount())

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseNoQuest, snap.Phase)
	assert.Nil(t, snap.Quest)
	assert.NotEmpty(t, snap.LastError)
}

func TestSessionOpenFailure(t *testing.T) {
	src := &fakeSource{openErr: apperrors.NewTransportError("无法连接生成后端", nil)}
	s := NewQuestSession(src, SessionOptions{})

	_, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsTransportError(err))

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Contains(t, snap.LastError, "无法连接生成后端")
	assert.False(t, s.IsGenerating())
}

func TestSessionNewGenerationAbandonsPrevious(t *testing.T) {
	pr, pw := io.Pipe()
	src := &fakeSource{}
	src.push(pr)
	src.push(io.NopCloser(stringsReader(lostRelicStream)))
	runs := NewProgressService()
	s := newQuestSession("sess", src, runs, SessionOptions{})

	first, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	defer first.Close()
	_, err = fmt.Fprint(pw, "data: {\"type\":\"title\",\"content\":\"Old quest\"}\n")
	require.NoError(t, err)
	waitFor(t, first, func(snap models.SessionSnapshot) bool {
		return snap.Quest != nil && snap.Quest.Title == "Old quest"
	})

	second, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	defer second.Close()
	final := waitFor(t, second, func(snap models.SessionSnapshot) bool { return snap.IsTerminal() })
	assert.Equal(t, "Lost Relic", final.Quest.Title)

	// 旧流的后续数据不再被处理
	_, _ = fmt.Fprint(pw, "data: {\"type\":\"scene\",\"content\":{\"id\":\"old\"}}\n")
	_ = pw.Close()
	time.Sleep(50 * time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, "Lost Relic", snap.Quest.Title)
	assert.Len(t, snap.Quest.Scenes, 2)
	assert.Equal(t, models.PhasePlaying, snap.Phase)

	list := runs.ListRuns("sess")
	require.Len(t, list, 2)
	statuses := map[RunStatus]int{}
	for _, r := range list {
		statuses[r.Status]++
	}
	assert.Equal(t, 1, statuses[RunAbandoned])
	assert.Equal(t, 1, statuses[RunCompleted])
}

func TestSessionNavigationErrorsKeepState(t *testing.T) {
	s := NewQuestSession(newFakeSource(lostRelicStream), SessionOptions{})

	_, err := s.SelectScene("s1")
	assert.True(t, apperrors.IsNotFoundError(err), "no quest yet")

	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	sub.Close()
	waitDone(t, s)

	before := s.Snapshot()
	snap, err := s.SelectScene("ghost")
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Equal(t, before.Version, snap.Version)
	assert.Equal(t, "s1", snap.CurrentSceneID)

	snap, err = s.Choose("s1", "ghost")
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Equal(t, before.Version, snap.Version)
}

func TestSessionDeadEndEndsQuest(t *testing.T) {
	body := `data: {"type":"scene","content":{"id":"s1","title":"Start","choices":[{"id":"c1","text":"Jump","next_scene_id":null},{"id":"c2","text":"Walk","next_scene_id":"s2"}]}}
data: {"type":"scene","content":{"id":"s2","title":"Road","choices":[{"id":"c3","text":"Back","next_scene_id":"s1"}]}}
data: {"type":"complete"}
`
	s := NewQuestSession(newFakeSource(body), SessionOptions{})
	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	sub.Close()
	waitDone(t, s)

	first, err := s.Choose("s1", "c1")
	require.Error(t, err)
	assert.True(t, apperrors.IsDeadEnd(err))
	assert.Equal(t, "s1", first.CurrentSceneID)
	assert.Equal(t, models.PhaseEnded, first.Phase)

	second, err := s.Choose("s1", "c1")
	assert.True(t, apperrors.IsDeadEnd(err))
	assert.Equal(t, first.CurrentSceneID, second.CurrentSceneID)
	assert.Equal(t, first.Phase, second.Phase)
	assert.Equal(t, first.Version, second.Version)

	// 仍可从任意场景继续
	snap, err := s.SelectScene("s2")
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	snap, err = s.Choose("", "c3")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.CurrentSceneID)
}

func TestSessionEmptyQuestEnds(t *testing.T) {
	s := NewQuestSession(newFakeSource("data: {\"type\":\"title\",\"content\":\"Nothing\"}\ndata: {\"type\":\"complete\"}\n"), SessionOptions{})
	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	sub.Close()
	waitDone(t, s)

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseEnded, snap.Phase)
	assert.Empty(t, snap.CurrentSceneID)

	_, err = s.SceneView("")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestSessionResetClearsEverything(t *testing.T) {
	s := NewQuestSession(newFakeSource(lostRelicStream), SessionOptions{})
	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	sub.Close()
	waitDone(t, s)

	snap := s.Reset()
	assert.Equal(t, models.PhaseNoQuest, snap.Phase)
	assert.Nil(t, snap.Quest)
	assert.Empty(t, snap.CurrentSceneID)
	assert.Empty(t, snap.LastError)
	assert.Nil(t, s.Quest())
}

func TestSessionGenerateSync(t *testing.T) {
	src := &fakeSource{doc: relicQuest()}
	s := NewQuestSession(src, SessionOptions{})

	snap, err := s.GenerateSync(context.Background(), tavernRequest())
	require.NoError(t, err)
	assert.Equal(t, "Lost Relic", snap.Quest.Title)
	assert.Len(t, snap.Quest.Scenes, 2)
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	assert.Equal(t, "s1", snap.CurrentSceneID)
	assert.False(t, snap.Progress.IsGenerating)

	view, err := s.SceneView("")
	require.NoError(t, err)
	assert.Equal(t, "Start", view.Scene.Title)
	assert.Len(t, view.Characters, 2)

	src.genErr = apperrors.NewTransportError("生成后端返回状态 502", nil)
	snap, err = s.GenerateSync(context.Background(), tavernRequest())
	require.Error(t, err)
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Contains(t, snap.LastError, "502")
}

func TestSessionSlowSubscriberGetsLatest(t *testing.T) {
	s := NewQuestSession(newFakeSource(lostRelicStream), SessionOptions{SubscriberBuffer: 1})
	sub, err := s.BeginGeneration(context.Background(), tavernRequest())
	require.NoError(t, err)
	defer sub.Close()

	waitDone(t, s)
	// Snapshot 需要会话锁，返回时最终快照已投递
	latest := s.Snapshot()
	var received []uint64
	final := waitFor(t, sub, func(snap models.SessionSnapshot) bool {
		received = append(received, snap.Version)
		return snap.IsTerminal()
	})
	assert.Equal(t, latest.Version, final.Version)
	// 缓冲为 1：中间快照被丢弃，第一次读取即为最终快照
	assert.Equal(t, []uint64{final.Version}, received)
	assert.Greater(t, final.Version, uint64(1))
}

func TestSessionManagerLifecycle(t *testing.T) {
	m := NewSessionManager(newFakeSource(), NewProgressService(), SessionOptions{MaxSessions: 2})

	a, err := m.Create()
	require.NoError(t, err)
	b, err := m.Create()
	require.NoError(t, err)
	_, err = m.Create()
	assert.True(t, apperrors.IsConflictError(err))

	got, err := m.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, models.PhaseNoQuest, infos[0].Phase)

	sub := b.Subscribe()
	require.NoError(t, m.Delete(b.ID()))
	_, err = m.Get(b.ID())
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.True(t, apperrors.IsNotFoundError(m.Delete(b.ID())))

	// 删除会话会关闭订阅
	<-sub.C
	_, open := <-sub.C
	assert.False(t, open)

	m.CloseAll()
	assert.Equal(t, 0, m.Count())
}
