package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/script-studio/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "scripts"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return s
}

func TestNewStorage_CreatesDir(t *testing.T) {
	s := newTestStorage(t)

	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStorage_SaveScript(t *testing.T) {
	s := newTestStorage(t)
	jobID := "0b7c1a52-3c55-4e5e-9a55-0f6b0e1d2c3a"

	path, err := s.SaveScript(jobID, "first draft")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), jobID+".txt"), path)

	// Redelivery overwrites in place
	path, err = s.SaveScript(jobID, "final script")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "final script", string(data))

	files, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, files, 1, "temp files must not be left behind")
}

func TestStorage_Entries(t *testing.T) {
	s := newTestStorage(t)

	entries, err := s.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendEntry(domain.Entry{
		JobID:      "job-a",
		Outcome:    "SUCCEEDED",
		ScriptPath: "job-a.txt",
		OccurredAt: occurred,
		ArchivedAt: occurred.Add(time.Second),
	}))
	require.NoError(t, s.AppendEntry(domain.Entry{
		JobID:      "job-b",
		Outcome:    "FAILED",
		Message:    "quota exceeded",
		OccurredAt: occurred,
		ArchivedAt: occurred.Add(2 * time.Second),
	}))

	entries, err = s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "job-a", entries[0].JobID)
	assert.Equal(t, "job-a.txt", entries[0].ScriptPath)
	assert.True(t, occurred.Equal(entries[0].OccurredAt))
	assert.Equal(t, "FAILED", entries[1].Outcome)
	assert.Equal(t, "quota exceeded", entries[1].Message)
	assert.Empty(t, entries[1].ScriptPath)
}

func TestStorage_AppendEntryConcurrent(t *testing.T) {
	s := newTestStorage(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendEntry(domain.Entry{JobID: "job", Outcome: "SUCCEEDED"}))
		}()
	}
	wg.Wait()

	entries, err := s.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestStorage_EntriesCorruptLine(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), domain.LedgerFileName), []byte("{not json}\n"), 0o644))

	_, err := s.Entries()
	assert.ErrorContains(t, err, "line 1")
}
