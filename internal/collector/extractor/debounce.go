package extractor

import (
	"strings"
	"sync"
	"time"
)

// DefaultKeywords is the default keyword set that arms the debouncer.
var DefaultKeywords = []string{"error", "exception", "critical"}

// Debouncer implements the keyword-armed debounce buffer. Unlike a
// busy-poll loop, it uses a single reset timer: no wasted wakeups while
// idle.
type Debouncer struct {
	mu       sync.Mutex
	buffer   []string
	armed    bool
	keywords []string
	debounce time.Duration
	timer    *time.Timer
	onFlush  func(chunk string)
}

// NewDebouncer constructs a Debouncer that arms on any of keywords
// (case-insensitive substring match) and flushes chunk to onFlush after
// debounce with no further activity while armed. A nil/empty keywords slice
// uses DefaultKeywords.
func NewDebouncer(keywords []string, debounce time.Duration, onFlush func(chunk string)) *Debouncer {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	return &Debouncer{keywords: keywords, debounce: debounce, onFlush: onFlush}
}

// Feed appends one log line to the rolling buffer, arming on a keyword match
// and refreshing the flush timer while armed.
func (d *Debouncer) Feed(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buffer = append(d.buffer, line)
	if !d.armed {
		if !containsKeyword(line, d.keywords) {
			return
		}
		d.armed = true
	}
	d.resetTimerLocked()
}

func (d *Debouncer) resetTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if !d.armed || len(d.buffer) == 0 {
		d.mu.Unlock()
		return
	}
	chunk := strings.Join(d.buffer, "\n")
	d.buffer = nil
	d.armed = false
	d.mu.Unlock()
	d.onFlush(chunk)
}

// Stop cancels any pending flush timer without flushing.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func containsKeyword(line string, keywords []string) bool {
	lower := strings.ToLower(line)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
