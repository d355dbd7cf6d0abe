// Package api implements the Task Server API: the single HTTP ingress
// accepting incident events, PR feedback, the GitHub webhook,
// read endpoints over the Trace & Case Store, and the bundled dashboard's
// static UI files.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/logfields"
	"github.com/autorepair/autorepair/internal/metrics"
	"github.com/autorepair/autorepair/internal/server/middleware"
	"github.com/autorepair/autorepair/internal/taskqueue"
	"github.com/autorepair/autorepair/internal/tracestore"
)

// Config carries the Task Server API's identity and policy settings,
// loaded from config.ServerConfig.
type Config struct {
	Host                   string
	Port                   int
	APIKey                 string
	GitHubWebhookSecret    string
	PRCommentCommandPrefix string
	StaticDir              string
}

// Server is the single-port HTTP server fronting the Task Server API.
type Server struct {
	cfg      Config
	handlers *Handlers
	adapter  *foundationerrors.HTTPErrorAdapter
	logger   *slog.Logger
	mchain   func(http.Handler) http.Handler

	httpServer *http.Server
}

// New constructs a Server. queue receives accepted jobs; store backs the
// read endpoints and the debug retrieval endpoint; recorder observes
// ingress counters.
func New(cfg Config, queue taskqueue.Queue, store *tracestore.Store, recorder metrics.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	adapter := foundationerrors.NewHTTPErrorAdapter(logger)
	h := &Handlers{
		cfg:      cfg,
		queue:    queue,
		store:    store,
		recorder: recorder,
		logger:   logger,
		adapter:  adapter,
	}
	return &Server{
		cfg:      cfg,
		handlers: h,
		adapter:  adapter,
		logger:   logger,
		mchain:   middleware.Chain(logger, adapter),
	}
}

// Mux builds the route table. Exported so tests can exercise routes
// directly with httptest, without a real listener.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/tasks", s.handlers.HandleIngestTask)
	mux.HandleFunc("POST /v1/pr-comments", s.handlers.HandlePRComment)
	mux.HandleFunc("POST /v1/webhooks/github", s.handlers.HandleGitHubWebhook)
	mux.HandleFunc("POST /v1/debug/retrieval", s.handlers.HandleDebugRetrieval)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handlers.HandleGetTask)
	mux.HandleFunc("GET /v1/traces", s.handlers.HandleListTraces)
	mux.HandleFunc("GET /v1/traces/{id}", s.handlers.HandleGetTrace)
	mux.HandleFunc("GET /v1/bug-cases", s.handlers.HandleListBugCases)
	mux.HandleFunc("GET /v1/bug-cases/{id}", s.handlers.HandleGetBugCase)
	mux.Handle("/", newStaticHandler(s.cfg.StaticDir))

	return s.mchain(mux)
}

// Start binds the listener and serves until Stop is called. It pre-binds
// the listener before returning so an address-in-use error surfaces
// synchronously rather than on the first request.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryDaemon, "api: bind failed").
			WithContext("addr", addr).Build()
	}

	s.httpServer = &http.Server{
		Handler:      s.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if serveErr := s.httpServer.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api: server stopped", logfields.Error(serveErr))
		}
	}()
	s.logger.Info("api: listening", slog.String("addr", addr))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
