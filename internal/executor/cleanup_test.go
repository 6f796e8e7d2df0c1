package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitorRemove(t *testing.T) {
	j := NewJanitor(zerolog.Nop())
	dir := filepath.Join(t.TempDir(), "job-1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))

	assert.True(t, j.Remove(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.True(t, j.Remove(dir), "missing directory counts as removed")
	assert.False(t, j.Remove(""))
}

func TestJanitorRetriesInBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j := NewJanitor(zerolog.Nop())
	j.retryBase = 5 * time.Millisecond
	var calls atomic.Int32
	j.removeAll = func(path string) error {
		if calls.Add(1) < 3 {
			return errors.New("busy")
		}
		return os.RemoveAll(path)
	}
	j.Start(ctx)

	dir := filepath.Join(t.TempDir(), "job-2")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	assert.False(t, j.Remove(dir))
	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestJanitorGivesUp(t *testing.T) {
	j := NewJanitor(zerolog.Nop())
	j.retryBase = time.Millisecond
	var calls atomic.Int32
	j.removeAll = func(string) error {
		calls.Add(1)
		return errors.New("permission denied")
	}

	j.Remove(filepath.Join(t.TempDir(), "job-3"))
	require.Eventually(t, func() bool {
		return calls.Load() == 1+cleanupMaxAttempts
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1+cleanupMaxAttempts), calls.Load())
}

func TestPurgeOrphans(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"job-a-1", "job-b-2", "keep"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "job-file"), nil, 0o644))

	j := NewJanitor(zerolog.Nop())
	assert.Equal(t, 2, j.PurgeOrphans(root))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"keep", "job-file"}, names)

	assert.Equal(t, 0, j.PurgeOrphans(filepath.Join(root, "absent")))
}
