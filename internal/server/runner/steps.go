package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/fixer"
	"github.com/autorepair/autorepair/internal/git"
	"github.com/autorepair/autorepair/internal/incident"
	"github.com/autorepair/autorepair/internal/logfields"
	"github.com/autorepair/autorepair/internal/notifier"
	"github.com/autorepair/autorepair/internal/tracestore"
)

// stepCreateFixBranch clones the repo into the workspace and either creates
// a fresh fix branch (EVENT jobs) or checks out the existing PR head branch
// (PR_COMMENT jobs),
func (p *Pool) stepCreateFixBranch(ctx context.Context, jc *jobContext) error {
	if err := os.MkdirAll(filepath.Dir(jc.repoDir), 0o750); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryWorkspace, "runner: prepare repo dir failed").Build()
	}

	auth := git.Auth{Username: "x-access-token", Token: p.cfg.Tokens.For(jc.codeHost)}
	repo, err := p.clone(ctx, jc.repoDir, jc.repoURL, auth)
	if err != nil {
		return err
	}

	switch jc.job.Kind {
	case incident.JobPRComment:
		branch, err := jc.forgeCli.FetchPRBranch(ctx, jc.job.PRComment.PRNumber)
		if err != nil {
			return err
		}
		jc.branch = branch
		return nil
	default:
		reason := fingerprintReason(jc.signature)
		branch, err := jc.forgeCli.CreateFixBranch(ctx, reason)
		if err != nil {
			return err
		}
		if err := repo.CheckoutBranch(branch); err != nil {
			return err
		}
		jc.branch = branch
		return nil
	}
}

func fingerprintReason(fingerprint string) string {
	if fingerprint == "" {
		return "incident"
	}
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}

// stepAgenticEdit invokes an Agentic-mode Fixer Adapter, which edits the
// workspace in place.
func (p *Pool) stepAgenticEdit(ctx context.Context, jc *jobContext) error {
	prompt := fixPrompt(jc)
	_, err := p.cfg.FixerRun.Run(ctx, jc.repoDir, prompt)
	p.cfg.Recorder.IncFixerInvocation(string(FixModeAgentic), err == nil)
	return err
}

// stepProposePatch invokes a Blocks-mode Fixer Adapter and stashes its raw
// stdout on jc for stepApplyPatch.
func (p *Pool) stepProposePatch(ctx context.Context, jc *jobContext) error {
	prompt := fixPrompt(jc)
	out, err := p.cfg.FixerRun.Run(ctx, jc.repoDir, prompt)
	p.cfg.Recorder.IncFixerInvocation(string(FixModeBlocks), err == nil)
	if err != nil {
		return err
	}
	jc.fixerStdout = out
	return nil
}

// stepApplyPatch parses the Blocks-mode stdout and writes each block to its
// sanitized path under the workspace.
func (p *Pool) stepApplyPatch(ctx context.Context, jc *jobContext) error {
	blocks, err := fixer.ParseCodeBlocks(jc.fixerStdout)
	if err != nil {
		return err
	}
	written, err := fixer.ApplyBlocks(jc.repoDir, blocks)
	jc.changedFiles = written
	return err
}

func fixPrompt(jc *jobContext) string {
	if jc.job.Kind == incident.JobPRComment {
		return fmt.Sprintf("Address this pull request feedback and update the code accordingly:\n\n%s", jc.job.PRComment.Comment)
	}
	e := jc.job.Event
	var b strings.Builder
	b.WriteString("Fix the following error.\n")
	if e.Error.ExceptionType != "" {
		fmt.Fprintf(&b, "Exception: %s\n", e.Error.ExceptionType)
	}
	if e.Error.MessageKey != "" {
		fmt.Fprintf(&b, "Message: %s\n", e.Error.MessageKey)
	}
	if e.Error.RawExcerpt != "" {
		fmt.Fprintf(&b, "\n%s\n", e.Error.RawExcerpt)
	}
	return b.String()
}

// stepSummary asks the Fixer Adapter to summarize the change as Markdown
// for the PR body and notification email.
func (p *Pool) stepSummary(ctx context.Context, jc *jobContext) error {
	prompt := "Summarize the change you just made in Markdown, suitable for a pull request description."
	out, err := p.cfg.FixerRun.Run(ctx, jc.repoDir, prompt)
	if err != nil {
		return err
	}
	jc.summaryMD = out
	return nil
}

// stepCommitPush commits the working tree and pushes jc.branch via the
// forge adapter.
func (p *Pool) stepCommitPush(ctx context.Context, jc *jobContext) error {
	message := commitMessage(jc)
	sha, err := jc.forgeCli.CommitAndPush(ctx, jc.branch, message)
	if err != nil {
		return err
	}
	jc.commitSHA = sha
	return nil
}

func commitMessage(jc *jobContext) string {
	if jc.job.Kind == incident.JobPRComment {
		return "Address review feedback"
	}
	return fmt.Sprintf("Fix: %s", fingerprintReason(jc.signature))
}

// stepCreatePR opens the pull/merge request. For PR_COMMENT jobs the branch
// already has an open PR, so this step records the existing PR URL instead
// of opening a duplicate.
func (p *Pool) stepCreatePR(ctx context.Context, jc *jobContext) error {
	if jc.job.Kind == incident.JobPRComment {
		jc.prURL = jc.job.PRComment.PRURL
		return nil
	}
	title := prTitle(jc)
	url, err := jc.forgeCli.CreatePullRequest(ctx, jc.branch, title, jc.summaryMD)
	if err != nil {
		return err
	}
	jc.prURL = url
	return nil
}

func prTitle(jc *jobContext) string {
	if jc.job.Event != nil && jc.job.Event.Error.ExceptionType != "" {
		return fmt.Sprintf("Fix: %s", jc.job.Event.Error.ExceptionType)
	}
	return fmt.Sprintf("Fix: %s", fingerprintReason(jc.signature))
}

// stepNotify sends the best-effort summary email. Failures are logged by
// the Notifier itself and never surfaced here.
func (p *Pool) stepNotify(ctx context.Context, jc *jobContext) {
	if p.cfg.Notifier == nil {
		return
	}
	p.cfg.Notifier.Notify(ctx, notifier.Summary{
		RepoURL:      jc.repoURL,
		ErrorExcerpt: jc.excerpt,
		AIAnalysisMD: jc.summaryMD,
		PRURL:        jc.prURL,
	})
}

// stepCleanup checks out the default branch and releases the workspace. It
// also checks whether the fix branch has already landed on base, so an
// unmerged branch left behind by a failed PR is visible in the logs rather
// than silently discarded with the workspace.
func (p *Pool) stepCleanup(ctx context.Context, jc *jobContext, logger *slog.Logger) error {
	base := "main"
	if jc.job.Event != nil && jc.job.Event.Repo.DefaultBranch != "" {
		base = jc.job.Event.Repo.DefaultBranch
	}
	if jc.branch != "" {
		if repo, openErr := git.Open(jc.repoDir); openErr == nil {
			if merged, ancErr := repo.IsAncestor(jc.branch, base); ancErr == nil && !merged {
				logger.Warn("runner: fix branch not merged into base at cleanup",
					logfields.Branch(jc.branch), slog.String("base", base))
			}
		}
	}
	if err := jc.forgeCli.CleanUp(ctx, base); err != nil {
		return err
	}
	jc.cleaned = true
	return p.workspace.Release(jc.ws)
}

// recordBugCase appends a BugCaseRevision summarizing this trace's outcome
// to the (RepoURL, Signature) bucket, creating the bucket on first sight.
func (p *Pool) recordBugCase(ctx context.Context, jc *jobContext) error {
	if jc.job.Kind == incident.JobPRComment || jc.signature == "" {
		return nil
	}
	e := jc.job.Event
	_, err := p.store.RecordBugCaseRevision(ctx, tracestore.CaseRevisionInput{
		RepoURL:       jc.repoURL,
		CodeHost:      jc.codeHost,
		Signature:     jc.signature,
		ExceptionType: e.Error.ExceptionType,
		MessageKey:    e.Error.MessageKey,
		TopFrames:     e.Error.Frames,
		TraceID:       jc.traceID,
		TriggerType:   incident.TriggerError,
		TriggerText:   jc.excerpt,
		PRURL:         jc.prURL,
		PRTitle:       prTitle(jc),
		PRBody:        jc.summaryMD,
		CommitSHA:     jc.commitSHA,
		ChangedFiles:  jc.changedFiles,
		DiffText:      "",
		PreflightOK:   true,
	})
	return err
}
