package tracestore

import (
	"context"
	"database/sql"
	"time"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/incident"
)

func unixToTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// TraceRecord is a trace row with its ordered steps, as returned by
// GET /v1/traces/{id}.
type TraceRecord struct {
	incident.Trace
	Steps []incident.Step
}

// GetTrace loads one trace and its steps, ordered by started_at. It returns
// sql.ErrNoRows if traceID does not exist.
func (s *Store) GetTrace(ctx context.Context, traceID string) (TraceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT trace_id, created_at, finished_at, repo_url, code_host, error_signature, error_excerpt,
		       status, failure_step, failure_message, mr_url, commit_sha
		FROM traces WHERE trace_id=?`, traceID)

	var rec TraceRecord
	var codeHost string
	var createdAt int64
	var finishedAt sql.NullInt64
	var failureStep, failureMessage, prURL, commitSHA sql.NullString
	if err := row.Scan(&rec.TraceID, &createdAt, &finishedAt, &rec.RepoURL, &codeHost,
		&rec.ErrorSignature, &rec.ErrorExcerpt, &rec.Status, &failureStep, &failureMessage, &prURL, &commitSHA); err != nil {
		if err == sql.ErrNoRows {
			return TraceRecord{}, err
		}
		return TraceRecord{}, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: get trace failed").Build()
	}
	rec.CodeHost = incident.CodeHost(codeHost)
	rec.CreatedAt = unixToTime(createdAt)
	rec.FailureStep = failureStep.String
	rec.FailureMessage = failureMessage.String
	rec.PRURL = prURL.String
	rec.CommitSHA = commitSHA.String
	if finishedAt.Valid {
		t := unixToTime(finishedAt.Int64)
		rec.FinishedAt = &t
	}

	steps, err := s.listSteps(ctx, traceID)
	if err != nil {
		return TraceRecord{}, err
	}
	rec.Steps = steps
	return rec, nil
}

func (s *Store) listSteps(ctx context.Context, traceID string) ([]incident.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, step_name, started_at, finished_at, status, message
		FROM steps WHERE trace_id=? ORDER BY started_at ASC, id ASC`, traceID)
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: list steps failed").Build()
	}
	defer rows.Close()

	var out []incident.Step
	for rows.Next() {
		var st incident.Step
		var name string
		var startedAt int64
		var finishedAt sql.NullInt64
		var message sql.NullString
		if err := rows.Scan(&st.TraceID, &name, &startedAt, &finishedAt, &st.Status, &message); err != nil {
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: scan step failed").Build()
		}
		st.StepName = incident.StepName(name)
		st.StartedAt = unixToTime(startedAt)
		st.Message = message.String
		if finishedAt.Valid {
			t := unixToTime(finishedAt.Int64)
			st.FinishedAt = &t
		}
		out = append(out, st)
	}
	return out, nil
}

// ListTraces returns a page of traces ordered newest-first, optionally
// filtered by repoURL and/or status, for GET /v1/traces.
func (s *Store) ListTraces(ctx context.Context, repoURL string, status incident.TraceStatus, limit, offset int) ([]incident.Trace, int, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	where := "1=1"
	var args []any
	if repoURL != "" {
		where += " AND repo_url=?"
		args = append(args, repoURL)
	}
	if status != "" {
		where += " AND status=?"
		args = append(args, string(status))
	}

	countRow := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces WHERE "+where, args...)
	var total int
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: count traces failed").Build()
	}

	pagedArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, created_at, finished_at, repo_url, code_host, error_signature, error_excerpt,
		       status, failure_step, failure_message, mr_url, commit_sha
		FROM traces WHERE `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, pagedArgs...)
	if err != nil {
		return nil, 0, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: list traces failed").Build()
	}
	defer rows.Close()

	var out []incident.Trace
	for rows.Next() {
		var t incident.Trace
		var codeHost string
		var createdAt int64
		var finishedAt sql.NullInt64
		var failureStep, failureMessage, prURL, commitSHA sql.NullString
		if err := rows.Scan(&t.TraceID, &createdAt, &finishedAt, &t.RepoURL, &codeHost, &t.ErrorSignature, &t.ErrorExcerpt,
			&t.Status, &failureStep, &failureMessage, &prURL, &commitSHA); err != nil {
			return nil, 0, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: scan trace row failed").Build()
		}
		t.CodeHost = incident.CodeHost(codeHost)
		t.CreatedAt = unixToTime(createdAt)
		t.FailureStep = failureStep.String
		t.FailureMessage = failureMessage.String
		t.PRURL = prURL.String
		t.CommitSHA = commitSHA.String
		if finishedAt.Valid {
			ft := unixToTime(finishedAt.Int64)
			t.FinishedAt = &ft
		}
		out = append(out, t)
	}
	return out, total, nil
}

// BugCaseRecord is a bug case with its ordered revision history, as
// returned by GET /v1/bug-cases/{id}.
type BugCaseRecord struct {
	incident.BugCase
	Revisions []incident.BugCaseRevision
}

// GetBugCase loads one bug case and its revisions, newest first. It returns
// sql.ErrNoRows if caseID does not exist.
func (s *Store) GetBugCase(ctx context.Context, caseID string) (BugCaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT case_id, repo_url, code_host, signature, exception_type, message_key, top_frames,
		       status, quality_score, created_at, updated_at
		FROM bug_cases WHERE case_id=?`, caseID)

	var rec BugCaseRecord
	var codeHost, topFramesJSON string
	var createdAt, updatedAt int64
	if err := row.Scan(&rec.CaseID, &rec.RepoURL, &codeHost, &rec.Signature, &rec.ExceptionType, &rec.MessageKey,
		&topFramesJSON, &rec.Status, &rec.QualityScore, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return BugCaseRecord{}, err
		}
		return BugCaseRecord{}, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: get bug case failed").Build()
	}
	rec.CodeHost = incident.CodeHost(codeHost)
	rec.TopFrames = topFramesJSON
	rec.CreatedAt = unixToTime(createdAt)
	rec.UpdatedAt = unixToTime(updatedAt)

	revisions, err := s.listRevisions(ctx, caseID)
	if err != nil {
		return BugCaseRecord{}, err
	}
	rec.Revisions = revisions
	return rec, nil
}

func (s *Store) listRevisions(ctx context.Context, caseID string) ([]incident.BugCaseRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT revision_id, case_id, trace_id, trigger_type, trigger_text, pr_url, pr_title, pr_body,
		       commit_sha, changed_files_json, diff_text, preflight_ok, created_at
		FROM bug_case_revisions WHERE case_id=? ORDER BY revision_id DESC`, caseID)
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: list revisions failed").Build()
	}
	defer rows.Close()

	var out []incident.BugCaseRevision
	for rows.Next() {
		var rev incident.BugCaseRevision
		var traceID, prURL, prTitle, prBody, commitSHA, changedFilesJSON sql.NullString
		var triggerType string
		var preflightOK int
		var createdAt int64
		if err := rows.Scan(&rev.RevisionID, &rev.CaseID, &traceID, &triggerType, &rev.TriggerText, &prURL, &prTitle,
			&prBody, &commitSHA, &changedFilesJSON, &rev.DiffText, &preflightOK, &createdAt); err != nil {
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: scan revision failed").Build()
		}
		rev.TriggerType = incident.TriggerType(triggerType)
		rev.TraceID = traceID.String
		rev.PRURL = prURL.String
		rev.PRTitle = prTitle.String
		rev.PRBody = prBody.String
		rev.CommitSHA = commitSHA.String
		rev.ChangedFilesJSON = changedFilesJSON.String
		rev.PreflightOK = preflightOK != 0
		rev.CreatedAt = unixToTime(createdAt)
		out = append(out, rev)
	}
	return out, nil
}
