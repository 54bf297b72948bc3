package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherRerunsOnWrite(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "query.chain")
	require.NoError(t, os.WriteFile(file, []byte("Person"), 0644))

	var calls atomic.Int32
	w, err := NewWatcher(func() error {
		calls.Add(1)
		return nil
	}, file)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(file, []byte("Person.Take(1)"), 0644))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
