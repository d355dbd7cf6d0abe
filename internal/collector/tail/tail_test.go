package tail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailerEmitsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("stale line\n"), 0o644))

	var lines []string
	tl := NewTailer(path, func(l string) { lines = append(lines, l) }, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	go tl.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("new line one\nnew line two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(lines) >= 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"new line one", "new line two"}, lines)
}

func TestTailerHandlesTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("aaaaaaaaaaaaaaaaaaaa\n"), 0o644))

	var lines []string
	tl := NewTailer(path, func(l string) { lines = append(lines, l) }, nil)
	require.NoError(t, tl.seekToEnd())

	require.NoError(t, os.WriteFile(path, []byte("short\n"), 0o644))
	tl.drain()

	require.Eventually(t, func() bool { return len(lines) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "short", lines[0])
}
