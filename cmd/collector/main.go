// Command autorepair-collector is the collector binary: it tails a log
// source (a growing file or a paginated external search),
// extracts structured error evidence, and forwards deduplicated incident
// events to the Task Server API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/autorepair/autorepair/internal/collector/extractor"
	"github.com/autorepair/autorepair/internal/collector/searchtail"
	"github.com/autorepair/autorepair/internal/collector/sink"
	"github.com/autorepair/autorepair/internal/collector/tail"
	"github.com/autorepair/autorepair/internal/config"
	"github.com/autorepair/autorepair/internal/fingerprint"
	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/incident"
	"github.com/autorepair/autorepair/internal/metrics"
)

// version is set at build time with: -ldflags "-X main.version=1.0.0".
var version = "dev"

// CLI is the collector's root command. Exactly one of File/Search runs.
type CLI struct {
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	File   FileCmd   `cmd:"" help:"Tail a single growing log file"`
	Search SearchCmd `cmd:"" help:"Poll an external log search backend"`
}

// FileCmd wraps config.CollectorFile as a kong subcommand.
type FileCmd struct {
	config.CollectorFile
	OverridesFile string `name:"config" help:"Optional YAML sidecar overriding keywords/filter." type:"path"`
}

// SearchCmd wraps config.CollectorSearch as a kong subcommand.
type SearchCmd struct {
	config.CollectorSearch
	OverridesFile string `name:"config" help:"Optional YAML sidecar overriding keywords/filter." type:"path"`
}

func main() {
	cli := &CLI{}
	parser := kong.Parse(cli,
		kong.Description("autorepair collector: stream log evidence into the task server."),
		kong.Vars{"version": version},
	)

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	errorAdapter := foundationerrors.NewCLIErrorAdapter(cli.Verbose, logger)

	if err := parser.Run(logger); err != nil {
		errorAdapter.HandleError(err)
	}
}

// Run implements `collector file`: tail a local file and feed each flushed
// chunk through the Evidence Extractor and Event Sink.
func (f *FileCmd) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides, err := config.LoadCollectorOverrides(f.OverridesFile)
	if err != nil {
		return foundationerrors.ConfigError(err.Error()).Build()
	}
	overrides.Apply(&f.CollectorFile)

	s := sink.New(f.ServerURL+"/v1/tasks", f.APIKey, metrics.NoopRecorder{}, logger)
	s.DedupWindow = f.DedupWindow
	s.Client.Timeout = f.HTTPTimeout

	pipeline := newPipeline(f.CollectorFile, s, logger)
	debouncer := extractor.NewDebouncer(f.Keywords, time.Duration(f.DebounceSeconds*float64(time.Second)), pipeline.onChunk)

	tailer := tail.NewTailer(f.Path, debouncer.Feed, logger)
	logger.Info("collector: tailing file", slog.String("path", f.Path), slog.String("repo", f.RepoURL))
	err = tailer.Run(ctx)
	debouncer.Stop()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Run implements `collector search`: poll an external log search backend on
// a fixed schedule and feed each hit through the same extraction pipeline.
func (c *SearchCmd) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides, err := config.LoadCollectorOverrides(c.OverridesFile)
	if err != nil {
		return foundationerrors.ConfigError(err.Error()).Build()
	}
	overrides.Apply(&c.CollectorFile)

	s := sink.New(c.ServerURL+"/v1/tasks", c.APIKey, metrics.NoopRecorder{}, logger)
	s.DedupWindow = c.DedupWindow
	s.Client.Timeout = c.HTTPTimeout

	pipeline := newPipeline(c.CollectorFile, s, logger)
	debouncer := extractor.NewDebouncer(c.Keywords, time.Duration(c.DebounceSeconds*float64(time.Second)), pipeline.onChunk)

	backend := searchtail.NewHTTPBackend(c.SearchEndpoint, c.SearchIndex)
	opts := searchtail.Options{
		Filter:       c.SearchQuery,
		PollInterval: c.PollInterval,
		PageLimit:    c.BatchSize,
	}
	since := time.Now().Add(-c.SinceWindow)

	tailer, err := searchtail.New(backend, opts, since, func(h searchtail.Hit) {
		debouncer.Feed(h.Text)
	}, logger)
	if err != nil {
		return err
	}
	if err := tailer.Start(ctx); err != nil {
		return err
	}

	logger.Info("collector: polling search backend",
		slog.String("endpoint", c.SearchEndpoint), slog.String("index", c.SearchIndex), slog.String("repo", c.RepoURL))
	<-ctx.Done()
	err = tailer.Stop()
	debouncer.Stop()
	return err
}

// pipeline turns a flushed debounce chunk into an incident.Event and
// forwards it to the sink, closing over per-source repo/service identity.
type pipeline struct {
	opts   extractor.Options
	cfg    config.CollectorFile
	sink   *sink.Sink
	logger *slog.Logger
}

func newPipeline(cfg config.CollectorFile, s *sink.Sink, logger *slog.Logger) *pipeline {
	return &pipeline{opts: cfg.ExtractorOptions(), cfg: cfg, sink: s, logger: logger}
}

// onChunk runs the Evidence Extractor over chunk and, if the filter gate
// accepts it, delivers the resulting incident event to the Event Sink.
func (p *pipeline) onChunk(chunk string) {
	result := extractor.Extract(chunk, p.opts)
	if !result.Emit {
		return
	}

	messageKey := fingerprint.MessageKey(result.Message)
	fp := fingerprint.Fingerprint(result.ExceptionType, messageKey, result.Frames)
	if fingerprint.IsBasisEmpty(result.ExceptionType, messageKey, result.Frames) {
		fp = fingerprint.FallbackFingerprint(result.Excerpt)
	}

	ev := incident.Event{
		SchemaVersion: incident.SchemaVersion,
		EventID:       uuid.NewString(),
		OccurredAt:    time.Now().Unix(),
		Repo: incident.Repo{
			RepoURL:       p.cfg.RepoURL,
			CodeHost:      p.cfg.CodeHost,
			DefaultBranch: p.cfg.DefaultBranch,
		},
		Service: incident.Service{
			Name:        p.cfg.ServiceName,
			Environment: p.cfg.Environment,
		},
		Error: incident.ErrorBody{
			ExceptionType: result.ExceptionType,
			MessageKey:    messageKey,
			Fingerprint:   fp,
			Frames:        result.Frames,
			RawExcerpt:    result.Excerpt,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.sink.Send(ctx, ev); err != nil && !foundationerrors.HasCategory(err, foundationerrors.CategoryDedupSuppressed) {
		p.logger.Warn("collector: event delivery failed", slog.String("error", err.Error()))
	}
}
