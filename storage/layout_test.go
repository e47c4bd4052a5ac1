package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayout(t *testing.T) {
	root := t.TempDir()
	l, err := NewLayout(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "uploads"), l.UploadsDir())
	assert.Equal(t, filepath.Join(root, "exports"), l.ExportsDir())
	assert.NotEqual(t, l.UploadsDir(), l.ExportsDir())
	assert.DirExists(t, l.UploadsDir())
	assert.DirExists(t, l.ExportsDir())
}

func TestInputExt(t *testing.T) {
	assert.Equal(t, "md", InputExt("notes.md"))
	assert.Equal(t, "md", InputExt("Notes.MD"))
	assert.Equal(t, "html", InputExt("page.html"))
	assert.Equal(t, "md", InputExt("noextension"))
	assert.Equal(t, "md", InputExt(""))
	assert.Equal(t, "md", InputExt("weird.%$"))
}

func TestSaveUpload(t *testing.T) {
	t.Run("writes under uploads keyed by id", func(t *testing.T) {
		l, err := NewLayout(t.TempDir())
		require.NoError(t, err)

		path, err := l.SaveUpload("task1", "md", strings.NewReader("# hi"), 0)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(l.UploadsDir(), "task1.md"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "# hi", string(data))
	})

	t.Run("enforces the size limit", func(t *testing.T) {
		l, err := NewLayout(t.TempDir())
		require.NoError(t, err)

		_, err = l.SaveUpload("task1", "md", strings.NewReader(strings.Repeat("a", 100)), 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "size limit")

		// Nothing half-written is left behind.
		_, statErr := os.Stat(filepath.Join(l.UploadsDir(), "task1.md"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("empty extension defaults to md", func(t *testing.T) {
		l, err := NewLayout(t.TempDir())
		require.NoError(t, err)
		path, err := l.SaveUpload("task1", "", strings.NewReader("x"), 0)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(path, "task1.md"))
	})
}

func TestFindInput(t *testing.T) {
	l, err := NewLayout(t.TempDir())
	require.NoError(t, err)

	_, err = l.FindInput("task1")
	assert.Error(t, err)

	saved, err := l.SaveUpload("task1", "html", strings.NewReader("<p>hi</p>"), 0)
	require.NoError(t, err)

	found, err := l.FindInput("task1")
	require.NoError(t, err)
	assert.Equal(t, saved, found)
}

func TestRemoveTaskFiles(t *testing.T) {
	l, err := NewLayout(t.TempDir())
	require.NoError(t, err)

	input, err := l.SaveUpload("task1", "md", strings.NewReader("# hi"), 0)
	require.NoError(t, err)
	result := filepath.Join(l.ExportsDir(), "task1.docx")
	require.NoError(t, os.WriteFile(result, []byte("binary"), 0o644))

	require.NoError(t, l.RemoveTaskFiles("task1", result))

	_, err = os.Stat(input)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(result)
	assert.True(t, os.IsNotExist(err))

	// Removing an already-clean task is fine.
	assert.NoError(t, l.RemoveTaskFiles("task1", result))
}
