// Package runner implements the Task Runner: a fixed-size worker pool
// draining a single FIFO queue, executing each job through the
// CREATE_FIX_BRANCH → … → CLEANUP state machine and persisting every
// transition as a Step.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autorepair/autorepair/internal/fixer"
	"github.com/autorepair/autorepair/internal/forge"
	"github.com/autorepair/autorepair/internal/git"
	"github.com/autorepair/autorepair/internal/incident"
	"github.com/autorepair/autorepair/internal/logfields"
	"github.com/autorepair/autorepair/internal/metrics"
	"github.com/autorepair/autorepair/internal/notifier"
	"github.com/autorepair/autorepair/internal/preflight"
	"github.com/autorepair/autorepair/internal/taskqueue"
	"github.com/autorepair/autorepair/internal/tracestore"
	"github.com/autorepair/autorepair/internal/workspace"
)

// cloneFunc matches git.CloneInto's signature; a seam so tests can avoid a
// real network clone.
type cloneFunc func(ctx context.Context, dir, repoURL string, auth git.Auth) (*git.Repo, error)

// forgeFactory matches forge.New's signature; a seam so tests can inject a
// fake Client instead of constructing a real GitHub/GitLab client.
type forgeFactory func(cfg forge.Config) (forge.Client, error)

// preflightFunc matches preflight.Check's signature; a seam so tests can
// skip running a real build/test command.
type preflightFunc func(ctx context.Context, repoDir string) error

// CodeHostTokens resolves the token for a code host, looked up once per job.
type CodeHostTokens struct {
	GitHub string
	GitLab string
}

func (t CodeHostTokens) For(host incident.CodeHost) string {
	if host == incident.CodeHostGitHub {
		return t.GitHub
	}
	return t.GitLab
}

// FixMode selects which Fixer Adapter mode the pool invokes.
type FixMode string

const (
	FixModeAgentic FixMode = "agentic"
	FixModeBlocks  FixMode = "blocks"
)

// Config carries everything a Pool needs to run jobs.
type Config struct {
	Workers  int
	Tokens   CodeHostTokens
	FixMode  FixMode
	FixerRun fixer.Runner // invoked for both the fix attempt and the summary prompt
	Notifier *notifier.Notifier
	Recorder metrics.Recorder
	Logger   *slog.Logger
}

// Pool is the Task Runner's fixed-size worker pool.
type Pool struct {
	cfg       Config
	queue     taskqueue.Queue
	workspace *workspace.Manager
	store     *tracestore.Store

	clone     cloneFunc
	newForge  forgeFactory
	preflight preflightFunc

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu     sync.Mutex
	active int
}

// New constructs a Pool. Call Run to start its workers.
func New(cfg Config, queue taskqueue.Queue, ws *workspace.Manager, store *tracestore.Store) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		cfg:       cfg,
		queue:     queue,
		workspace: ws,
		store:     store,
		clone:     git.CloneInto,
		newForge:  forge.New,
		preflight: preflight.Check,
	}
}

// Run starts cfg.Workers goroutines and blocks until ctx is cancelled, then
// waits for in-flight jobs to reach a cooperative stopping point.
func (p *Pool) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		workerID := fmt.Sprintf("worker-%d", i)
		go p.work(ctx, workerID)
	}
	<-ctx.Done()
	p.wg.Wait()
}

// Shutdown requests cooperative cancellation and waits for workers to drain.
func (p *Pool) Shutdown() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, workerID string) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		p.setActive(1)
		p.runJob(ctx, workerID, job)
		p.setActive(-1)
	}
}

func (p *Pool) setActive(delta int) {
	p.mu.Lock()
	p.active += delta
	p.cfg.Recorder.SetActiveWorkers(p.active)
	p.mu.Unlock()
}

// runJob drives one job through the state machine, persisting every
// transition. A panic or step error ends the trace FAILED; it never
// propagates out of runJob so the worker can pick up the next job.
func (p *Pool) runJob(ctx context.Context, workerID string, job incident.Job) {
	logger := p.cfg.Logger.With(logfields.TaskID(job.TaskID), logfields.Worker(workerID))
	start := time.Now()

	jc, err := p.newJobContext(ctx, job)
	if err != nil {
		logger.Error("runner: job setup failed", logfields.Error(err))
		p.cfg.Recorder.IncTaskOutcome(metrics.OutcomeFail)
		return
	}
	defer p.cleanupWorkspace(jc, logger)

	if err := p.store.CreateTrace(ctx, incident.Trace{
		TraceID:        jc.traceID,
		CreatedAt:      time.Now(),
		RepoURL:        jc.repoURL,
		CodeHost:       jc.codeHost,
		ErrorSignature: jc.signature,
		ErrorExcerpt:   jc.excerpt,
	}); err != nil {
		logger.Error("runner: create trace failed", logfields.Error(err))
		return
	}

	outcome := metrics.OutcomeOK
	if err := p.runSteps(ctx, jc, logger); err != nil {
		outcome = metrics.OutcomeFail
		var failStep incident.StepName = incident.StepCancelled
		if fs, ok := err.(*stepFailure); ok {
			failStep = fs.step
		}
		_ = p.store.FinishTraceFail(ctx, jc.traceID, failStep, err.Error())
		logger.Warn("runner: trace failed", logfields.Error(err))
	} else {
		_ = p.store.FinishTraceOK(ctx, jc.traceID, jc.prURL, jc.commitSHA)
	}

	p.cfg.Recorder.ObserveTraceDuration(time.Since(start))
	p.cfg.Recorder.IncTaskOutcome(outcome)
}

// stepFailure records which step failed so the trace can be closed with the
// right failure_step.
type stepFailure struct {
	step incident.StepName
	err  error
}

func (f *stepFailure) Error() string { return f.err.Error() }

// jobContext carries the mutable state threaded through one job's steps.
type jobContext struct {
	job       incident.Job
	traceID   string
	repoURL   string
	codeHost  incident.CodeHost
	signature string
	excerpt   string

	ws           *workspace.Workspace
	repoDir      string
	forgeCli     forge.Client
	branch       string
	commitSHA    string
	prURL        string
	summaryMD    string
	fixerStdout  string
	changedFiles []string
	cleaned      bool
}

func (p *Pool) newJobContext(ctx context.Context, job incident.Job) (*jobContext, error) {
	jc := &jobContext{job: job, traceID: job.TaskID}
	switch job.Kind {
	case incident.JobEvent:
		jc.repoURL = job.Event.Repo.RepoURL
		jc.codeHost = job.Event.Repo.CodeHost
		jc.signature = job.Event.Error.Fingerprint
		jc.excerpt = job.Event.Error.RawExcerpt
	case incident.JobPRComment:
		jc.repoURL = job.PRComment.RepoURL
		jc.codeHost = job.PRComment.CodeHost
		jc.excerpt = job.PRComment.Comment
	default:
		return nil, fmt.Errorf("runner: unknown job kind %q", job.Kind)
	}

	ws, err := p.workspace.Allocate(jc.repoURL)
	if err != nil {
		return nil, err
	}
	jc.ws = ws
	jc.repoDir = ws.Path + "/repo"

	token := p.cfg.Tokens.For(jc.codeHost)
	cli, err := p.newForge(forge.Config{CodeHost: jc.codeHost, RepoURL: jc.repoURL, Token: token, WorkingDir: jc.repoDir})
	if err != nil {
		_ = p.workspace.Release(ws)
		return nil, err
	}
	jc.forgeCli = cli
	return jc, nil
}

// cleanupWorkspace is the finally-path guarantee: if the CLEANUP step never
// ran (an earlier step failed or the job was cancelled), the workspace is
// still released here so a failed trace never leaks a directory.
func (p *Pool) cleanupWorkspace(jc *jobContext, logger *slog.Logger) {
	if jc.cleaned || jc.ws == nil {
		return
	}
	if err := p.workspace.Release(jc.ws); err != nil {
		logger.Warn("runner: workspace release failed", logfields.Error(err))
	}
}

// runSteps executes the state machine for jc, wrapping each transition with
// step(), and returns a *stepFailure naming the failing step on error.
func (p *Pool) runSteps(ctx context.Context, jc *jobContext, logger *slog.Logger) error {
	if err := p.step(ctx, jc, logger, incident.StepCreateFixBranch, func() error {
		return p.stepCreateFixBranch(ctx, jc)
	}); err != nil {
		return err
	}

	switch p.cfg.FixMode {
	case FixModeBlocks:
		if err := p.step(ctx, jc, logger, incident.StepAIProposePatch, func() error {
			return p.stepProposePatch(ctx, jc)
		}); err != nil {
			return err
		}
		if err := p.step(ctx, jc, logger, incident.StepApplyPatch, func() error {
			return p.stepApplyPatch(ctx, jc)
		}); err != nil {
			return err
		}
	default:
		if err := p.step(ctx, jc, logger, incident.StepAIAgenticEdit, func() error {
			return p.stepAgenticEdit(ctx, jc)
		}); err != nil {
			return err
		}
	}

	if err := p.step(ctx, jc, logger, incident.StepPreflightCheck, func() error {
		return p.preflight(ctx, jc.repoDir)
	}); err != nil {
		return err
	}

	if err := p.step(ctx, jc, logger, incident.StepAISummary, func() error {
		return p.stepSummary(ctx, jc)
	}); err != nil {
		return err
	}

	if err := p.step(ctx, jc, logger, incident.StepGitCommitPush, func() error {
		return p.stepCommitPush(ctx, jc)
	}); err != nil {
		return err
	}

	if err := p.step(ctx, jc, logger, incident.StepCreatePR, func() error {
		return p.stepCreatePR(ctx, jc)
	}); err != nil {
		return err
	}

	// NOTIFY is best-effort: its own failures never fail the trace.
	_ = p.step(ctx, jc, logger, incident.StepNotify, func() error {
		p.stepNotify(ctx, jc)
		return nil
	})

	if err := p.step(ctx, jc, logger, incident.StepCleanup, func() error {
		return p.stepCleanup(ctx, jc, logger)
	}); err != nil {
		return err
	}

	if err := p.recordBugCase(ctx, jc); err != nil {
		logger.Warn("runner: bug case revision not recorded", logfields.Error(err))
	}
	return nil
}

// step is the "step scope" helper: it starts the step,
// records its duration/outcome, and translates a returned error (or a
// recovered panic, so one misbehaving Fixer/forge call never kills a
// worker goroutine) into a *stepFailure carrying the step name.
func (p *Pool) step(ctx context.Context, jc *jobContext, logger *slog.Logger, name incident.StepName, fn func() error) error {
	if err := ctx.Err(); err != nil {
		_ = p.store.StartStep(ctx, jc.traceID, name)
		_ = p.store.FinishStepFail(ctx, jc.traceID, name, "cancelled")
		return &stepFailure{step: incident.StepCancelled, err: fmt.Errorf("runner: cancelled before %s", name)}
	}

	_ = p.store.StartStep(ctx, jc.traceID, name)
	start := time.Now()
	err := p.runStep(fn)
	dur := time.Since(start)
	p.cfg.Recorder.ObserveStepDuration(string(name), dur)

	if err != nil {
		p.cfg.Recorder.IncStepResult(string(name), metrics.OutcomeFail)
		_ = p.store.FinishStepFail(ctx, jc.traceID, name, err.Error())
		logger.Warn("runner: step failed", logfields.StepName(string(name)), logfields.Error(err))
		return &stepFailure{step: name, err: err}
	}
	p.cfg.Recorder.IncStepResult(string(name), metrics.OutcomeOK)
	_ = p.store.FinishStepOK(ctx, jc.traceID, name)
	return nil
}

// runStep calls fn, recovering any panic and converting it into an error so
// a single bad step cannot take down the worker goroutine.
func (p *Pool) runStep(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner: step panicked: %v", r)
		}
	}()
	return fn()
}
