// Command taskserver is the Task Server binary: it hosts the Task Server
// API, runs the Task Runner's worker pool against a single FIFO queue,
// and owns the Trace & Case Store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autorepair/autorepair/internal/config"
	"github.com/autorepair/autorepair/internal/fixer"
	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/metrics"
	"github.com/autorepair/autorepair/internal/notifier"
	"github.com/autorepair/autorepair/internal/server/api"
	"github.com/autorepair/autorepair/internal/server/runner"
	"github.com/autorepair/autorepair/internal/taskqueue"
	"github.com/autorepair/autorepair/internal/tracestore"
	"github.com/autorepair/autorepair/internal/workspace"
)

// version is set at build time with: -ldflags "-X main.version=1.0.0".
var version = "dev"

// CLI is the task server's root command.
type CLI struct {
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve ServeCmd `cmd:"" default:"withargs" help:"Run the Task Server API and worker pool"`
}

// ServeCmd starts the HTTP ingress, the metrics listener, and the Task
// Runner's worker pool, and blocks until an interrupt or terminate signal.
type ServeCmd struct {
	MetricsAddr string `name:"metrics-addr" help:"Address the Prometheus /metrics endpoint listens on." default:":9090" env:"METRICS_ADDR"`
	StaticDir   string `name:"static-dir" help:"Directory the bundled dashboard's static files are served from." env:"STATIC_DIR"`
}

func main() {
	cli := &CLI{}
	parser := kong.Parse(cli,
		kong.Description("autorepair task server: orchestrate incident-to-pull-request repair."),
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

// Run wires every Task Server component from config.ServerConfig and blocks
// until a shutdown signal arrives, then drains cooperatively.
func (s *ServeCmd) Run(logger *slog.Logger) error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return foundationerrors.ConfigError(fmt.Sprintf("taskserver: %v", err)).Build()
	}

	if err := os.MkdirAll(cfg.WorkspacesDir, 0o750); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryWorkspace, "taskserver: create workspaces dir failed").Build()
	}

	store, err := tracestore.Open(cfg.TraceDBPath)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryRuntime, "taskserver: open trace store failed").Build()
	}
	defer store.Close()

	recorder := metrics.NewPrometheusRecorder(prom.DefaultRegisterer)

	queue, err := buildQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	ws := workspace.New(cfg.WorkspacesDir)

	var notif *notifier.Notifier
	if cfg.SMTPEnabled {
		notif = notifier.New(notifier.Config{
			Enabled:  true,
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
		}, logger)
	}

	fixMode := runner.FixModeAgentic
	var fixerRunner fixer.Runner = fixer.AgenticRunner{Command: cfg.ClaudeCommand, Args: cfg.ClaudeArgs}
	if cfg.ClaudeFixMode == string(runner.FixModeBlocks) {
		fixMode = runner.FixModeBlocks
		fixerRunner = fixer.BlocksRunner{Command: cfg.ClaudeCommand, Args: cfg.ClaudeArgs}
	}

	pool := runner.New(runner.Config{
		Workers: cfg.MaxConcurrentTasks,
		Tokens: runner.CodeHostTokens{
			GitHub: cfg.GitHubToken,
			GitLab: cfg.GitLabToken,
		},
		FixMode:  fixMode,
		FixerRun: fixerRunner,
		Notifier: notif,
		Recorder: recorder,
		Logger:   logger,
	}, queue, ws, store)

	srv := api.New(api.Config{
		Host:                   cfg.HTTPHost,
		Port:                   cfg.HTTPPort,
		APIKey:                 cfg.APIKey,
		GitHubWebhookSecret:    cfg.GitHubWebhookSecret,
		PRCommentCommandPrefix: cfg.PRCommentCommandPrefix,
		StaticDir:              s.StaticDir,
	}, queue, store, recorder, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	go serveMetrics(s.MetricsAddr, logger)

	poolCtx, cancelPool := context.WithCancel(context.Background())
	go pool.Run(poolCtx)

	logger.Info("taskserver: started", slog.String("version", version), slog.Int("workers", cfg.MaxConcurrentTasks))
	<-ctx.Done()

	logger.Info("taskserver: shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	_ = srv.Stop(shutdownCtx)

	// Cooperative cancellation: workers finish the current step's I/O then
	// abort the trace with failure_step=CANCELLED.
	cancelPool()
	pool.Shutdown()
	return nil
}

// buildQueue constructs the Task Runner's queue: a durable NATS JetStream
// queue when TASK_QUEUE_NATS_URL is set, otherwise the default in-memory
// queue.
func buildQueue(cfg config.ServerConfig, logger *slog.Logger) (taskqueue.Queue, error) {
	if cfg.TaskQueueNATSURL == "" {
		return taskqueue.NewMemQueue(cfg.MaxErrorQueueLen), nil
	}
	queue, err := taskqueue.NewNATSQueue(context.Background(), cfg.TaskQueueNATSURL, taskqueue.DefaultSubject, logger)
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryRuntime, "taskserver: connect nats queue failed").
			WithContext("url", cfg.TaskQueueNATSURL).Build()
	}
	logger.Info("taskserver: using nats jetstream queue", slog.String("url", cfg.TaskQueueNATSURL))
	return queue, nil
}

// serveMetrics exposes the Prometheus registry on a side port so the main
// HTTP server's mux stays dedicated to the Task Server API routes.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("taskserver: metrics listener stopped", slog.String("error", err.Error()))
	}
}
