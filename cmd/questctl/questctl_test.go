package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/QuestWeaver/internal/services"
)

const lostRelicDoc = `{
  "title": "The Lost Relic",
  "description": "Find it.",
  "locations": [{"id": "loc_1", "name": "Old Temple"}],
  "characters": [{"id": "char_1", "name": "Mira", "role": "guide"}],
  "scenes": [
    {"id": "s1", "title": "Gate", "location_id": "loc_1", "characters": ["char_1"],
     "choices": [{"id": "c1", "text": "Enter", "next_scene_id": "s2"},
                 {"id": "c2", "text": "Jump", "next_scene_id": null}]},
    {"id": "s2", "title": "Altar", "is_ending": true, "choices": []}
  ]
}`

func writeQuest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relic.json")
	require.NoError(t, os.WriteFile(path, []byte(lostRelicDoc), 0644))
	return path
}

func TestLoadQuestFile(t *testing.T) {
	quest, err := loadQuestFile(writeQuest(t))
	require.NoError(t, err)
	assert.Equal(t, "relic", quest.ID)
	assert.Equal(t, "The Lost Relic", quest.Title)
	require.Len(t, quest.Scenes, 2)
	assert.Equal(t, "s2", quest.Scenes[0].Choices[0].NextSceneID)
	assert.False(t, quest.Scenes[0].Choices[1].HasTarget())

	_, err = loadQuestFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFormatLayoutText(t *testing.T) {
	quest, err := loadQuestFile(writeQuest(t))
	require.NoError(t, err)

	text := formatLayoutText(quest, services.ComputeLayout(quest))
	assert.Contains(t, text, "L0: s1(")
	assert.Contains(t, text, "L1: s2*(")
	assert.Contains(t, text, "s1 -> s2  [c1] Enter")
}

func TestPlayQuestReachesEnding(t *testing.T) {
	quest, err := loadQuestFile(writeQuest(t))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, playQuest(quest, strings.NewReader("9\n1\n"), &out))
	text := out.String()
	assert.Contains(t, text, "== Gate ==")
	assert.Contains(t, text, "📍 Old Temple")
	assert.Contains(t, text, "👤 Mira (guide)")
	assert.Contains(t, text, "无效的选择")
	assert.Contains(t, text, "== Altar ==")
	assert.Contains(t, text, "任务结束")
}

func TestPlayQuestDeadEnd(t *testing.T) {
	quest, err := loadQuestFile(writeQuest(t))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, playQuest(quest, strings.NewReader("2\n"), &out))
	assert.Contains(t, out.String(), "走不通")
	assert.NotContains(t, out.String(), "== Altar ==")
}

func TestGenerateOptionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.txt")
	require.NoError(t, os.WriteFile(path, []byte("SETTING: Cyberpunk\nSTARTING POINT: Neon alley\nQUEST STYLE: detective\n"), 0644))

	opts := &generateOptions{setting: "fantasy", style: "adventure", file: path}
	req, err := opts.request()
	require.NoError(t, err)
	assert.Equal(t, "cyberpunk", string(req.Setting))
	assert.Equal(t, "detective", string(req.QuestStyle))
	assert.Equal(t, "Neon alley", req.StartingPoint)

	_, err = (&generateOptions{setting: "fantasy", style: "adventure"}).request()
	assert.Error(t, err, "form input needs a starting point")
}
