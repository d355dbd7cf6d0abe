// Package tail implements the Log Tailer: follows one log file by byte
// offset, emitting complete lines to a callback and tolerating truncation
// and rotation.
package tail

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/logfields"
	"log/slog"
)

// PollInterval is the fallback poll period when fsnotify is unavailable or
// the watched path does not yet exist.
const PollInterval = 500 * time.Millisecond

// Tailer follows a single file, emitting decoded lines via LineFunc.
type Tailer struct {
	Path     string
	LineFunc func(line string)
	Logger   *slog.Logger

	offset int64
}

// NewTailer constructs a Tailer for path, delivering each newline-terminated
// line read to onLine.
func NewTailer(path string, onLine func(line string), logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{Path: path, LineFunc: onLine, Logger: logger}
}

// Run follows the file until ctx is cancelled. It starts at end-of-file —
// only new lines are tailed, no backfill — and reopens the file whenever a
// shorter size is observed (truncation or rotation).
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.seekToEnd(); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "tail: initial seek failed").
			WithContext("path", t.Path).Build()
	}

	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		_ = watcher.Add(t.Path)
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.drain()
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.drain()
			}
		}
	}
}

func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func (t *Tailer) seekToEnd() error {
	f, err := os.Open(t.Path)
	if os.IsNotExist(err) {
		t.offset = 0
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	t.offset = info.Size()
	return nil
}

// drain reads any bytes appended since the last offset and delivers
// complete lines to LineFunc. A size smaller than the stored offset means
// the file was truncated or replaced; the tailer resets to the new start.
func (t *Tailer) drain() {
	f, err := os.Open(t.Path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		t.Logger.Info("tail: file truncated, resetting offset",
			logfields.Path(t.Path))
		t.offset = 0
	}
	if info.Size() == t.offset {
		return
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	reader := bufio.NewReader(f)
	var consumed int64
	for {
		raw, readErr := reader.ReadBytes('\n')
		if len(raw) > 0 && (readErr == nil || readErr == io.EOF) {
			if readErr == nil {
				consumed += int64(len(raw))
				line := decodeLossy(raw[:len(raw)-1])
				t.LineFunc(line)
			}
		}
		if readErr != nil {
			break
		}
	}
	t.offset += consumed
}

// decodeLossy replaces invalid UTF-8 sequences with the replacement
// character rather than failing,
func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return string([]rune(string(b)))
}
