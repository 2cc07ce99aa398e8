package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
)

func TestExportQuestJSON(t *testing.T) {
	svc := NewExportService("")
	result, err := svc.ExportQuest(relicQuest(), models.ExportJSON, true)
	require.NoError(t, err)

	var decoded models.Quest
	require.NoError(t, json.Unmarshal([]byte(result.Content), &decoded))
	assert.Equal(t, "Lost Relic", decoded.Title)
	assert.Len(t, decoded.Scenes, 2)
	assert.Equal(t, "q1", result.QuestID)
	assert.Equal(t, 2, result.SceneCount)
	assert.True(t, result.Complete)
}

func TestExportQuestYAML(t *testing.T) {
	svc := NewExportService("")
	result, err := svc.ExportQuest(relicQuest(), models.ExportYAML, false)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(result.Content), &decoded))
	assert.NotEmpty(t, decoded)
	assert.Contains(t, result.Content, "Lost Relic")
	assert.False(t, result.Complete)
}

func TestExportQuestMarkdown(t *testing.T) {
	svc := NewExportService("")
	result, err := svc.ExportQuest(relicQuest(), models.ExportMarkdown, false)
	require.NoError(t, err)

	md := result.Content
	assert.True(t, strings.HasPrefix(md, "# Lost Relic\n"))
	assert.Contains(t, md, "generation incomplete")
	assert.Contains(t, md, "### 1. Start")
	assert.Contains(t, md, "### 2. Cave (ending)")
	assert.Contains(t, md, "- Go north → `s2`")
	assert.Contains(t, md, "- Wait → _dead end_")
	assert.Contains(t, md, "`s1` · Tavern")
	assert.Contains(t, md, "## Characters")
	assert.Contains(t, md, "## Items")
}

func TestExportQuestErrors(t *testing.T) {
	svc := NewExportService("")

	_, err := svc.ExportQuest(nil, models.ExportJSON, true)
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = svc.ExportQuest(relicQuest(), models.ExportFormat("pdf"), true)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestSaveExport(t *testing.T) {
	dir := t.TempDir()
	svc := NewExportService(dir)

	result, err := svc.ExportQuest(relicQuest(), models.ExportMarkdown, true)
	require.NoError(t, err)

	path, size, err := svc.SaveExport(result)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "exports"), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "q1_"))
	assert.Equal(t, result.Format.Extension(), filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, result.Content, string(data))

	_, _, err = NewExportService("").SaveExport(result)
	assert.True(t, apperrors.IsConflictError(err))
}

func TestSavedExportsLifecycle(t *testing.T) {
	svc := NewExportService(t.TempDir())

	files, err := svc.ListExports()
	require.NoError(t, err)
	assert.Empty(t, files)

	result, err := svc.ExportQuest(relicQuest(), models.ExportYAML, true)
	require.NoError(t, err)
	path, _, err := svc.SaveExport(result)
	require.NoError(t, err)
	name := filepath.Base(path)

	files, err = svc.ListExports()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, name, files[0].Name)

	content, format, err := svc.LoadExport(name)
	require.NoError(t, err)
	assert.Equal(t, models.ExportYAML, format)
	assert.Equal(t, result.Content, content)

	_, _, err = svc.LoadExport("../config.json")
	assert.True(t, apperrors.IsValidationError(err))
	_, _, err = svc.LoadExport("missing.md")
	assert.True(t, apperrors.IsNotFoundError(err))

	require.NoError(t, svc.DeleteExport(name))
	assert.True(t, apperrors.IsNotFoundError(svc.DeleteExport(name)))

	_, err = NewExportService("").ListExports()
	assert.True(t, apperrors.IsConflictError(err))
}
