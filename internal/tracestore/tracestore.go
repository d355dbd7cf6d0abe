// Package tracestore implements the Trace & Case Store on an embedded
// SQLite database (modernc.org/sqlite), with WAL journaling and a
// connection-per-operation style.
package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/fingerprint"
	"github.com/autorepair/autorepair/internal/incident"
	"github.com/google/uuid"
)

// Store wraps a WAL-mode SQLite database implementing the Trace & Case
// Store contracts.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, applies WAL
// mode, runs the schema, and performs idempotent column migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: open failed").Build()
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers over one *sql.DB

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: enable WAL failed").Build()
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: apply schema failed").Build()
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// migrate inspects column metadata for each table in requiredColumns and
// adds any column absent from the live schema.
func (s *Store) migrate() error {
	for table, cols := range requiredColumns {
		existing, err := s.existingColumns(table)
		if err != nil {
			return err
		}
		for _, col := range cols {
			if existing[col.Name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.Name, col.Type)
			if _, err := s.db.Exec(stmt); err != nil {
				return foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: migrate column failed").
					WithContext("table", table).WithContext("column", col.Name).Build()
			}
		}
	}
	return nil
}

func (s *Store) existingColumns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: inspect columns failed").Build()
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: scan column metadata failed").Build()
		}
		cols[name] = true
	}
	return cols, nil
}

// NewTraceID returns an opaque unique id for a new trace.
func NewTraceID() string { return uuid.NewString() }

// CreateTrace inserts a new RUNNING trace (idempotent w.r.t. a single
// transition: calling it twice with the same TraceID is a no-op on the
// second call via INSERT OR IGNORE).
func (s *Store) CreateTrace(ctx context.Context, t incident.Trace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO traces (trace_id, created_at, repo_url, code_host, error_signature, error_excerpt, status)
		VALUES (?, ?, ?, ?, ?, ?, 'RUNNING')`,
		t.TraceID, t.CreatedAt.Unix(), t.RepoURL, string(t.CodeHost), t.ErrorSignature, truncate(t.ErrorExcerpt, incident.MaxErrorExcerptLen))
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: create trace failed").Build()
	}
	return nil
}

// FinishTraceOK marks a RUNNING trace DONE, recording optional PR URL and
// commit SHA. The WHERE status='RUNNING' guard makes this idempotent: a
// second call is a no-op.
func (s *Store) FinishTraceOK(ctx context.Context, traceID, prURL, commitSHA string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE traces SET status='DONE', finished_at=?, mr_url=?, commit_sha=?
		WHERE trace_id=? AND status='RUNNING'`,
		time.Now().Unix(), prURL, commitSHA, traceID)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: finish trace ok failed").Build()
	}
	return nil
}

// FinishTraceFail marks a RUNNING trace FAILED with the failing step and
// message.
func (s *Store) FinishTraceFail(ctx context.Context, traceID string, failureStep incident.StepName, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE traces SET status='FAILED', finished_at=?, failure_step=?, failure_message=?
		WHERE trace_id=? AND status='RUNNING'`,
		time.Now().Unix(), string(failureStep), truncate(message, incident.MaxMessageLen), traceID)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: finish trace fail failed").Build()
	}
	return nil
}

// StartStep inserts a RUNNING step row for traceID.
func (s *Store) StartStep(ctx context.Context, traceID string, name incident.StepName) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (trace_id, step_name, started_at, status) VALUES (?, ?, ?, 'RUNNING')`,
		traceID, string(name), time.Now().Unix())
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: start step failed").Build()
	}
	return nil
}

// FinishStepOK marks the most recent RUNNING step for (traceID, name) OK.
func (s *Store) FinishStepOK(ctx context.Context, traceID string, name incident.StepName) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE steps SET status='OK', finished_at=?
		WHERE id = (SELECT id FROM steps WHERE trace_id=? AND step_name=? AND status='RUNNING' ORDER BY id DESC LIMIT 1)`,
		time.Now().Unix(), traceID, string(name))
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: finish step ok failed").Build()
	}
	return nil
}

// FinishStepFail marks the most recent RUNNING step for (traceID, name)
// FAIL with message, guarded so a late write cannot resurrect a terminal
// step.
func (s *Store) FinishStepFail(ctx context.Context, traceID string, name incident.StepName, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE steps SET status='FAIL', finished_at=?, message=?
		WHERE id = (SELECT id FROM steps WHERE trace_id=? AND step_name=? AND status='RUNNING' ORDER BY id DESC LIMIT 1)`,
		time.Now().Unix(), truncate(message, incident.MaxMessageLen), traceID, string(name))
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: finish step fail failed").Build()
	}
	return nil
}

// RecordBugCaseRevision upserts the bug case keyed by (repoURL, signature)
// and appends an immutable revision row, refreshing the case's FTS entry.
func (s *Store) RecordBugCaseRevision(ctx context.Context, rev CaseRevisionInput) (caseID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: begin tx failed").Build()
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	row := tx.QueryRowContext(ctx, `SELECT case_id FROM bug_cases WHERE repo_url=? AND signature=?`, rev.RepoURL, rev.Signature)
	if err := row.Scan(&caseID); err == sql.ErrNoRows {
		caseID = uuid.NewString()
		topFramesJSON, _ := json.Marshal(rev.TopFrames)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bug_cases (case_id, repo_url, code_host, signature, exception_type, message_key, top_frames, status, quality_score, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'open', 0, ?, ?)`,
			caseID, rev.RepoURL, string(rev.CodeHost), rev.Signature, rev.ExceptionType, rev.MessageKey, string(topFramesJSON), now, now)
		if err != nil {
			return "", foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: insert bug case failed").Build()
		}
	} else if err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: lookup bug case failed").Build()
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE bug_cases SET updated_at=? WHERE case_id=?`, now, caseID); err != nil {
			return "", foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: touch bug case failed").Build()
		}
	}

	changedFilesJSON, _ := json.Marshal(rev.ChangedFiles)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bug_case_revisions (case_id, trace_id, trigger_type, trigger_text, pr_url, pr_title, pr_body, commit_sha, changed_files_json, diff_text, preflight_ok, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		caseID, rev.TraceID, string(rev.TriggerType), truncate(rev.TriggerText, incident.MaxTriggerTextLen),
		rev.PRURL, rev.PRTitle, truncate(rev.PRBody, incident.MaxPRBodyLen), rev.CommitSHA,
		string(changedFilesJSON), truncate(rev.DiffText, incident.MaxDiffTextLen), boolToInt(rev.PreflightOK), now)
	if err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: insert revision failed").Build()
	}

	ftsText := ftsTextFor(rev.ExceptionType, rev.MessageKey, rev.TopFrames)
	if _, err := tx.ExecContext(ctx, `DELETE FROM bug_cases_fts WHERE case_id=?`, caseID); err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: refresh fts delete failed").Build()
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO bug_cases_fts (case_id, text) VALUES (?, ?)`, caseID, ftsText); err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: refresh fts insert failed").Build()
	}

	if err := tx.Commit(); err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: commit revision failed").Build()
	}
	return caseID, nil
}

// CaseRevisionInput carries the fields needed to upsert a bug case and
// append a revision in one call.
type CaseRevisionInput struct {
	RepoURL       string
	CodeHost      incident.CodeHost
	Signature     string
	ExceptionType string
	MessageKey    string
	TopFrames     []incident.Frame
	TraceID       string
	TriggerType   incident.TriggerType
	TriggerText   string
	PRURL         string
	PRTitle       string
	PRBody        string
	CommitSHA     string
	ChangedFiles  []string
	DiffText      string
	PreflightOK   bool
}

func ftsTextFor(exceptionType, messageKey string, frames []incident.Frame) string {
	text := exceptionType + " " + messageKey
	for _, f := range frames {
		text += " " + f.File + " " + f.Function
	}
	return fingerprint.Normalize(text)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
