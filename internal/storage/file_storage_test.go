package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
)

func TestSaveAndLoad(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	path, err := fs.SaveTextFile("exports", "quest.md", []byte("# Quest"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fs.BaseDir, "exports", "quest.md"), path)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	data, err := fs.LoadTextFile("exports", "quest.md")
	require.NoError(t, err)
	assert.Equal(t, "# Quest", string(data))

	_, err = fs.SaveTextFile("exports", "quest.md", []byte("# Quest v2"))
	require.NoError(t, err)
	data, _ = fs.LoadTextFile("exports", "quest.md")
	assert.Equal(t, "# Quest v2", string(data))
}

func TestRejectsPathTraversal(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../secret", "a/b.json", ".hidden"} {
		_, err := fs.SaveTextFile("exports", name, []byte("x"))
		assert.True(t, apperrors.IsValidationError(err), name)
		_, err = fs.LoadTextFile("exports", name)
		assert.True(t, apperrors.IsValidationError(err), name)
	}
}

func TestMissingFiles(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, err = fs.LoadTextFile("exports", "nope.json")
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.True(t, apperrors.IsNotFoundError(fs.DeleteFile("exports", "nope.json")))

	files, err := fs.ListFiles("exports")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListAndDelete(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, err = fs.SaveTextFile("exports", "a.json", []byte("{}"))
	require.NoError(t, err)
	_, err = fs.SaveTextFile("exports", "b.yaml", []byte("title: x\n"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(fs.BaseDir, "exports", "nested"), 0755))

	files, err := fs.ListFiles("exports")
	require.NoError(t, err)
	require.Len(t, files, 2)
	names := []string{files[0].Name, files[1].Name}
	assert.ElementsMatch(t, []string{"a.json", "b.yaml"}, names)

	require.NoError(t, fs.DeleteFile("exports", "a.json"))
	files, _ = fs.ListFiles("exports")
	require.Len(t, files, 1)
	assert.Equal(t, "b.yaml", files[0].Name)
	assert.Equal(t, int64(len("title: x\n")), files[0].Size)
}
