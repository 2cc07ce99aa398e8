package services

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/QuestWeaver/internal/models"
	"github.com/Corphon/QuestWeaver/internal/stream"
)

const lostRelicStream = `data: {"type":"status","content":"Starting"}

data: {"type":"title","content":"Lost Relic"}

data: {"type":"scene","content":{"id":"s1","title":"Start","choices":[{"id":"c1","text":"Go north","next_scene_id":"s2"}]},"scene_number":1,"total_scenes":2}

data: {"type":"scene","content":{"id":"s2","title":"Cave","is_ending":true,"choices":[]},"scene_number":2,"total_scenes":2}

data: {"type":"complete","content":"done"}
`

func tavernRequest() models.GenerationRequest {
	return models.GenerationRequest{
		InputMethod:   models.InputForm,
		StartingPoint: "A tavern",
		Setting:       models.SettingFantasy,
		QuestStyle:    models.StyleAdventure,
	}
}

// fakeSource 按调用顺序返回预置的响应体
type fakeSource struct {
	mu      sync.Mutex
	bodies  []io.ReadCloser
	doc     *models.Quest
	genErr  error
	openErr error
	opened  int
}

func newFakeSource(bodies ...string) *fakeSource {
	src := &fakeSource{}
	for _, b := range bodies {
		src.bodies = append(src.bodies, io.NopCloser(strings.NewReader(b)))
	}
	return src
}

func (f *fakeSource) push(body io.ReadCloser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
}

func (f *fakeSource) OpenStream(ctx context.Context, req models.GenerationRequest) (*stream.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if f.openErr != nil {
		return nil, f.openErr
	}
	if len(f.bodies) == 0 {
		return stream.NewReader(io.NopCloser(strings.NewReader("")), time.Second), nil
	}
	body := f.bodies[0]
	f.bodies = f.bodies[1:]
	return stream.NewReader(body, 0), nil
}

func (f *fakeSource) Generate(ctx context.Context, req models.GenerationRequest) (*models.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.doc.Clone(), nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// waitFor 读取订阅直到满足条件
func waitFor(t *testing.T, sub *Subscription, cond func(models.SessionSnapshot) bool) models.SessionSnapshot {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-sub.C:
			require.True(t, ok, "subscription closed")
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
			return models.SessionSnapshot{}
		}
	}
}

func waitDone(t *testing.T, s *QuestSession) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

// graph 构造只含场景与连线的任务
func graph(edges map[string][]string, order ...string) *models.Quest {
	q := &models.Quest{ID: "q"}
	for _, id := range order {
		scene := models.Scene{ID: id, Title: strings.ToUpper(id), Choices: []models.Choice{}}
		for i, next := range edges[id] {
			scene.Choices = append(scene.Choices, models.Choice{
				ID:          id + "_c" + string(rune('1'+i)),
				Text:        "to " + next,
				NextSceneID: next,
			})
		}
		q.Scenes = append(q.Scenes, scene)
	}
	return q
}

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}
