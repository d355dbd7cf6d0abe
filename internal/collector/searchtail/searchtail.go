// Package searchtail implements the Search Tailer: a scheduled poll loop
// over a pluggable log-search backend, emitting new hits as they cross a
// stable pagination cursor.
package searchtail

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/logfields"
	"log/slog"
)

// Cursor opaquely tracks pagination position across poll cycles. Backends
// define their own encoding; the Search Tailer only persists and replays it.
type Cursor string

// Hit is one matched log record returned by a SearchBackend.
type Hit struct {
	ID        string
	Text      string
	Timestamp time.Time
}

// SearchBackend abstracts the external log index queried by the Search
// Tailer (out of scope; only this interface is specified).
type SearchBackend interface {
	Search(ctx context.Context, filter string, since time.Time, cursor Cursor, limit int) ([]Hit, Cursor, error)
}

// Options configures one Tailer.
type Options struct {
	Filter       string
	PollInterval time.Duration // P seconds,
	PageLimit    int
}

// Tailer polls a SearchBackend on a fixed schedule, delivering each new Hit
// in timestamp order to OnHit exactly once (cursor advances only after a
// successful, fully-delivered page).
type Tailer struct {
	backend SearchBackend
	opts    Options
	onHit   func(Hit)
	logger  *slog.Logger

	cursor Cursor
	since  time.Time

	scheduler gocron.Scheduler
}

// New constructs a Tailer. since is the starting watermark; an empty cursor
// means "start of index".
func New(backend SearchBackend, opts Options, since time.Time, onHit func(Hit), logger *slog.Logger) (*Tailer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryInternal, "searchtail: scheduler init failed").Build()
	}
	return &Tailer{backend: backend, opts: opts, since: since, onHit: onHit, logger: logger, scheduler: sched}, nil
}

// Start schedules the poll job to run every opts.PollInterval and begins
// the scheduler. Call Stop to halt it.
func (t *Tailer) Start(ctx context.Context) error {
	_, err := t.scheduler.NewJob(
		gocron.DurationJob(t.opts.PollInterval),
		gocron.NewTask(func() { t.poll(ctx) }),
	)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryInternal, "searchtail: job registration failed").Build()
	}
	t.scheduler.Start()
	return nil
}

// Stop halts the scheduler, blocking until the in-flight job (if any)
// finishes.
func (t *Tailer) Stop() error {
	return t.scheduler.Shutdown()
}

// poll runs one query cycle, advancing the cursor only once every hit on
// the page has been delivered.
func (t *Tailer) poll(ctx context.Context) {
	hits, next, err := t.backend.Search(ctx, t.opts.Filter, t.since, t.cursor, t.opts.PageLimit)
	if err != nil {
		t.logger.Warn("searchtail: search failed", logfields.Error(err))
		return
	}
	for _, h := range hits {
		t.onHit(h)
		if h.Timestamp.After(t.since) {
			t.since = h.Timestamp
		}
	}
	t.cursor = next
}
