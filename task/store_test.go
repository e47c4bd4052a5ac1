package task

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Create(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create(NewID(), "notes.md", "docx")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, 0, created.Progress)
	assert.Empty(t, created.ResultPath)
	assert.Empty(t, created.ErrorMessage)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "notes.md", got.OriginalFilename)
	assert.Equal(t, "docx", got.OutputFormat)

	t.Run("empty format defaults to docx", func(t *testing.T) {
		created, err := s.Create(NewID(), "", "")
		require.NoError(t, err)
		assert.Equal(t, "docx", created.OutputFormat)
	})
}

func TestOpenStore_exclusiveAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	s, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// The database file is locked exclusively; anyone else sharing it has
	// to live inside the process that opened it.
	_, err = OpenStore(path)
	require.Error(t, err)
}

func TestStore_Get_unknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nonexistent")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStore_Claim(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(NewID(), "notes.md", "docx")
	require.NoError(t, err)

	claimed, err := s.Claim(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, 20, claimed.Progress)

	_, err = s.Claim(created.ID)
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = s.Claim("nonexistent")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStore_Claim_concurrent(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(NewID(), "notes.md", "docx")
	require.NoError(t, err)

	const claimers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Claim(created.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one concurrent claimer must win")
}

func TestStore_Finalize(t *testing.T) {
	t.Run("done sets result and progress 100", func(t *testing.T) {
		s := newTestStore(t)
		created, _ := s.Create(NewID(), "notes.md", "docx")
		_, err := s.Claim(created.ID)
		require.NoError(t, err)

		require.NoError(t, s.FinalizeDone(created.ID, "/exports/notes.docx"))

		got, err := s.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDone, got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.Equal(t, "/exports/notes.docx", got.ResultPath)
		assert.Empty(t, got.ErrorMessage)
	})

	t.Run("failed keeps last progress and clears result", func(t *testing.T) {
		s := newTestStore(t)
		created, _ := s.Create(NewID(), "notes.md", "docx")
		_, err := s.Claim(created.ID)
		require.NoError(t, err)
		require.NoError(t, s.SetProgress(created.ID, 40))

		require.NoError(t, s.FinalizeFailed(created.ID, "pandoc exploded"))

		got, err := s.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, 40, got.Progress)
		assert.Empty(t, got.ResultPath)
		assert.Equal(t, "pandoc exploded", got.ErrorMessage)
	})

	t.Run("terminal states are absorbing", func(t *testing.T) {
		s := newTestStore(t)
		created, _ := s.Create(NewID(), "notes.md", "docx")
		_, err := s.Claim(created.ID)
		require.NoError(t, err)
		require.NoError(t, s.FinalizeDone(created.ID, "/exports/out.docx"))

		assert.ErrorIs(t, s.FinalizeFailed(created.ID, "too late"), ErrTerminal)
		assert.ErrorIs(t, s.FinalizeDone(created.ID, "/exports/other.docx"), ErrTerminal)

		got, _ := s.Get(created.ID)
		assert.Equal(t, StatusDone, got.Status)
		assert.Equal(t, "/exports/out.docx", got.ResultPath)
	})

	t.Run("diagnostic excerpt is bounded", func(t *testing.T) {
		s := newTestStore(t)
		created, _ := s.Create(NewID(), "notes.md", "docx")
		_, err := s.Claim(created.ID)
		require.NoError(t, err)

		long := strings.Repeat("x", errorExcerptLimit*2)
		require.NoError(t, s.FinalizeFailed(created.ID, long))

		got, _ := s.Get(created.ID)
		assert.Len(t, got.ErrorMessage, errorExcerptLimit)
	})

	t.Run("truncation never splits a rune", func(t *testing.T) {
		s := newTestStore(t)
		created, _ := s.Create(NewID(), "notes.md", "docx")
		_, err := s.Claim(created.ID)
		require.NoError(t, err)

		// Three bytes per rune, so the byte limit lands mid-rune.
		long := strings.Repeat("→", errorExcerptLimit)
		require.NoError(t, s.FinalizeFailed(created.ID, long))

		got, _ := s.Get(created.ID)
		assert.LessOrEqual(t, len(got.ErrorMessage), errorExcerptLimit)
		assert.True(t, utf8.ValidString(got.ErrorMessage))
	})

	t.Run("empty diagnostic gets a placeholder", func(t *testing.T) {
		s := newTestStore(t)
		created, _ := s.Create(NewID(), "notes.md", "docx")
		_, err := s.Claim(created.ID)
		require.NoError(t, err)

		require.NoError(t, s.FinalizeFailed(created.ID, ""))
		got, _ := s.Get(created.ID)
		assert.NotEmpty(t, got.ErrorMessage)
	})
}

func TestStore_SetProgress(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create(NewID(), "notes.md", "docx")
	_, err := s.Claim(created.ID)
	require.NoError(t, err)

	require.NoError(t, s.SetProgress(created.ID, 40))
	got, _ := s.Get(created.ID)
	assert.Equal(t, 40, got.Progress)

	// Progress never moves backwards.
	require.NoError(t, s.SetProgress(created.ID, 30))
	got, _ = s.Get(created.ID)
	assert.Equal(t, 40, got.Progress)

	assert.ErrorIs(t, s.SetProgress("nonexistent", 40), ErrTaskNotFound)
}

func TestStore_ResetFailed(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create(NewID(), "notes.md", "docx")

	_, err := s.ResetFailed(created.ID)
	assert.ErrorIs(t, err, ErrNotFailed)

	_, err = s.Claim(created.ID)
	require.NoError(t, err)
	require.NoError(t, s.FinalizeFailed(created.ID, "boom"))

	reset, err := s.ResetFailed(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reset.Status)
	assert.Equal(t, 0, reset.Progress)
	assert.Empty(t, reset.ErrorMessage)

	// Eligible for exactly one more claim.
	_, err = s.Claim(created.ID)
	require.NoError(t, err)
	_, err = s.Claim(created.ID)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestStore_ListPage(t *testing.T) {
	s := newTestStore(t)
	var ids []string
	for i := 0; i < 12; i++ {
		created, err := s.Create(NewID(), fmt.Sprintf("doc-%d.md", i), "docx")
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	first, total, err := s.ListPage(1, 10)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, first, 10)
	// Newest first.
	assert.Equal(t, ids[11], first[0].ID)
	assert.Equal(t, ids[2], first[9].ID)

	second, _, err := s.ListPage(2, 10)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, ids[1], second[0].ID)
	assert.Equal(t, ids[0], second[1].ID)

	empty, _, err := s.ListPage(3, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_ListPending(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.Create(NewID(), "a.md", "docx")
	b, _ := s.Create(NewID(), "b.md", "docx")
	c, _ := s.Create(NewID(), "c.md", "docx")

	_, err := s.Claim(b.ID)
	require.NoError(t, err)

	ids, err := s.ListPending()
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID}, ids, "pending ids come back oldest first")
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create(NewID(), "notes.md", "docx")

	deleted, err := s.Delete(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, deleted.ID)

	_, err = s.Get(created.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = s.Delete(created.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, total, err := s.ListPage(1, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Zero(t, total)
}
