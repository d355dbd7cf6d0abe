package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorepair/autorepair/internal/forge"
	"github.com/autorepair/autorepair/internal/git"
	"github.com/autorepair/autorepair/internal/incident"
	"github.com/autorepair/autorepair/internal/taskqueue"
	"github.com/autorepair/autorepair/internal/tracestore"
	"github.com/autorepair/autorepair/internal/workspace"
)

type fakeForgeClient struct {
	createFixBranch func(ctx context.Context, reason string) (string, error)
}

func (f *fakeForgeClient) CreateFixBranch(ctx context.Context, reason string) (string, error) {
	if f.createFixBranch != nil {
		return f.createFixBranch(ctx, reason)
	}
	return "fix/" + reason, nil
}

func (f *fakeForgeClient) CommitAndPush(ctx context.Context, branch, message string) (string, error) {
	return "deadbeef", nil
}

func (f *fakeForgeClient) CreatePullRequest(ctx context.Context, branch, title, body string) (string, error) {
	return "https://example.test/pulls/1", nil
}

func (f *fakeForgeClient) FetchPRBranch(ctx context.Context, prNumber int) (string, error) {
	return "existing-pr-branch", nil
}

func (f *fakeForgeClient) CleanUp(ctx context.Context, baseBranch string) error { return nil }

type fakeFixerRunner struct {
	stdout string
	err    error
}

func (r fakeFixerRunner) Run(ctx context.Context, workspaceDir, prompt string) (string, error) {
	return r.stdout, r.err
}

func newTestPool(t *testing.T, mode FixMode) (*Pool, *tracestore.Store, taskqueue.Queue) {
	t.Helper()
	dir := t.TempDir()

	store, err := tracestore.Open(filepath.Join(dir, "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	wsRoot := filepath.Join(dir, "workspaces")
	require.NoError(t, os.MkdirAll(wsRoot, 0o750))
	mgr := workspace.New(wsRoot)

	queue := taskqueue.NewMemQueue(4)

	pool := New(Config{
		Workers: 1,
		FixMode: mode,
		FixerRun: fakeFixerRunner{stdout: `<code_block filename="main.go">package main
</code_block>`},
	}, queue, mgr, store)

	pool.clone = func(ctx context.Context, dir, repoURL string, auth git.Auth) (*git.Repo, error) {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
		return nil, nil
	}
	pool.newForge = func(cfg forge.Config) (forge.Client, error) {
		return &fakeForgeClient{}, nil
	}
	pool.preflight = func(ctx context.Context, repoDir string) error { return nil }

	return pool, store, queue
}

func TestPoolRunsEventJobToCompletion(t *testing.T) {
	pool, store, queue := newTestPool(t, FixModeAgentic)

	job := incident.Job{
		TaskID: tracestore.NewTraceID(),
		Kind:   incident.JobEvent,
		Event: &incident.Event{
			SchemaVersion: incident.SchemaVersion,
			EventID:       "evt-1",
			OccurredAt:    time.Now().Unix(),
			Repo:          incident.Repo{RepoURL: "https://example.test/acme/widgets.git", CodeHost: incident.CodeHostGitHub, DefaultBranch: "main"},
			Error:         incident.ErrorBody{Fingerprint: "abc123", ExceptionType: "NullPointerException", RawExcerpt: "boom"},
		},
	}
	require.NoError(t, queue.Enqueue(t.Context(), job))

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	_ = store
}

func TestPoolPRCommentJobFetchesExistingBranch(t *testing.T) {
	pool, _, queue := newTestPool(t, FixModeBlocks)

	job := incident.Job{
		TaskID: tracestore.NewTraceID(),
		Kind:   incident.JobPRComment,
		PRComment: &incident.PRComment{
			RepoURL:  "https://example.test/acme/widgets.git",
			PRURL:    "https://example.test/pulls/9",
			PRNumber: 9,
			Comment:  "please also handle the nil case",
			CodeHost: incident.CodeHostGitHub,
		},
	}
	require.NoError(t, queue.Enqueue(t.Context(), job))

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done
}

func TestCodeHostTokensFor(t *testing.T) {
	tok := CodeHostTokens{GitHub: "gh-token", GitLab: "gl-token"}
	assert.Equal(t, "gh-token", tok.For(incident.CodeHostGitHub))
	assert.Equal(t, "gl-token", tok.For(incident.CodeHostGitLab))
}
