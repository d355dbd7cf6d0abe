package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/autorepair/autorepair/internal/collector/extractor"
	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/fingerprint"
	"github.com/autorepair/autorepair/internal/incident"
)

var hexSignatureRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// CaseRecord is a row of bug_cases as returned to API callers.
type CaseRecord struct {
	CaseID        string
	RepoURL       string
	CodeHost      incident.CodeHost
	Signature     string
	ExceptionType string
	MessageKey    string
	TopFrames     []incident.Frame
	Status        string
	QualityScore  float64
	CreatedAt     int64
	UpdatedAt     int64
}

// SearchSimilarCases implements its search_similar_cases: exact
// signature match first, falling back to an FTS MATCH over tokenized text
// when there is no exact match, including when the query yields no
// fingerprint basis. The query signature is
// derived by running text through the same extraction and fingerprinting
// pipeline used when a case was stored, so the two are comparable.
func (s *Store) SearchSimilarCases(ctx context.Context, repoURL, text string, limit int) ([]CaseRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	body := extractor.BuildErrorBody(extractor.Extract(text, extractor.DefaultOptions()))
	signature := ""
	if !fingerprint.IsBasisEmpty(body.ExceptionType, body.MessageKey, body.Frames) {
		signature = fingerprint.Fingerprint(body.ExceptionType, body.MessageKey, body.Frames)
	}

	if signature != "" {
		exact, err := s.casesBySignature(ctx, repoURL, signature, limit)
		if err != nil {
			return nil, err
		}
		if len(exact) > 0 {
			return exact, nil
		}
	}

	tokens := fingerprint.Tokenize(text)
	if len(tokens) == 0 {
		return nil, nil
	}
	return s.casesByFTS(ctx, repoURL, tokens, limit)
}

func (s *Store) casesBySignature(ctx context.Context, repoURL, signature string, limit int) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, repo_url, code_host, signature, exception_type, message_key, top_frames, status, quality_score, created_at, updated_at
		FROM bug_cases WHERE repo_url=? AND signature=? ORDER BY quality_score DESC, updated_at DESC LIMIT ?`,
		repoURL, signature, limit)
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: signature search failed").Build()
	}
	defer rows.Close()
	return scanCases(rows)
}

func (s *Store) casesByFTS(ctx context.Context, repoURL string, tokens []string, limit int) ([]CaseRecord, error) {
	query := strings.Join(tokens, " OR ")
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.case_id, c.repo_url, c.code_host, c.signature, c.exception_type, c.message_key, c.top_frames, c.status, c.quality_score, c.created_at, c.updated_at
		FROM bug_cases_fts f
		JOIN bug_cases c ON c.case_id = f.case_id
		WHERE f.text MATCH ? AND c.repo_url = ?
		ORDER BY bm25(f) ASC, c.quality_score DESC, c.updated_at DESC
		LIMIT ?`,
		query, repoURL, limit)
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: fts search failed").Build()
	}
	defer rows.Close()
	return scanCases(rows)
}

// QueryBugCases implements its query_bug_cases fallback chain:
// exact 64-char hex signature, then FTS tokens, then LIKE, then listing by
// updated_at. Returns (items, total) honouring limit∈[1,200], offset≥0.
func (s *Store) QueryBugCases(ctx context.Context, repoURL, q string, limit, offset int) ([]CaseRecord, int, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	switch {
	case hexSignatureRe.MatchString(q):
		return s.queryBySignatureExact(ctx, repoURL, q, limit, offset)
	case len(fingerprint.Tokenize(q)) > 0:
		return s.queryByFTS(ctx, repoURL, q, limit, offset)
	case q != "":
		return s.queryByLike(ctx, repoURL, q, limit, offset)
	default:
		return s.queryByUpdatedAt(ctx, repoURL, limit, offset)
	}
}

func (s *Store) queryBySignatureExact(ctx context.Context, repoURL, signature string, limit, offset int) ([]CaseRecord, int, error) {
	whereArgs := []any{signature}
	where := "signature = ?"
	if repoURL != "" {
		where += " AND repo_url = ?"
		whereArgs = append(whereArgs, repoURL)
	}
	return s.queryWithCount(ctx, where, whereArgs, "quality_score DESC, updated_at DESC", limit, offset)
}

func (s *Store) queryByFTS(ctx context.Context, repoURL, q string, limit, offset int) ([]CaseRecord, int, error) {
	tokens := fingerprint.Tokenize(q)
	query := strings.Join(tokens, " OR ")
	args := []any{query}
	where := "c.case_id IN (SELECT case_id FROM bug_cases_fts WHERE text MATCH ?)"
	if repoURL != "" {
		where += " AND c.repo_url = ?"
		args = append(args, repoURL)
	}
	countRow := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bug_cases c WHERE "+where, args...)
	var total int
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: count fts query failed").Build()
	}

	pagedArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.case_id, c.repo_url, c.code_host, c.signature, c.exception_type, c.message_key, c.top_frames, c.status, c.quality_score, c.created_at, c.updated_at
		FROM bug_cases c WHERE `+where+` ORDER BY c.quality_score DESC, c.updated_at DESC LIMIT ? OFFSET ?`, pagedArgs...)
	if err != nil {
		return nil, 0, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: fts query failed").Build()
	}
	defer rows.Close()
	items, err := scanCases(rows)
	return items, total, err
}

func (s *Store) queryByLike(ctx context.Context, repoURL, q string, limit, offset int) ([]CaseRecord, int, error) {
	like := "%" + q + "%"
	args := []any{like, like, like}
	where := "(exception_type LIKE ? OR message_key LIKE ? OR signature LIKE ?)"
	if repoURL != "" {
		where += " AND repo_url = ?"
		args = append(args, repoURL)
	}
	return s.queryWithCount(ctx, where, args, "updated_at DESC", limit, offset)
}

func (s *Store) queryByUpdatedAt(ctx context.Context, repoURL string, limit, offset int) ([]CaseRecord, int, error) {
	where := "1=1"
	var args []any
	if repoURL != "" {
		where = "repo_url = ?"
		args = append(args, repoURL)
	}
	return s.queryWithCount(ctx, where, args, "updated_at DESC", limit, offset)
}

func (s *Store) queryWithCount(ctx context.Context, where string, args []any, order string, limit, offset int) ([]CaseRecord, int, error) {
	countRow := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bug_cases WHERE "+where, args...)
	var total int
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: count query failed").Build()
	}

	pagedArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, repo_url, code_host, signature, exception_type, message_key, top_frames, status, quality_score, created_at, updated_at
		FROM bug_cases WHERE `+where+` ORDER BY `+order+` LIMIT ? OFFSET ?`, pagedArgs...)
	if err != nil {
		return nil, 0, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: query failed").Build()
	}
	defer rows.Close()
	items, err := scanCases(rows)
	return items, total, err
}

func scanCases(rows *sql.Rows) ([]CaseRecord, error) {
	var out []CaseRecord
	for rows.Next() {
		var c CaseRecord
		var codeHost, topFramesJSON string
		if err := rows.Scan(&c.CaseID, &c.RepoURL, &codeHost, &c.Signature, &c.ExceptionType, &c.MessageKey,
			&topFramesJSON, &c.Status, &c.QualityScore, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryEventStore, "tracestore: scan case row failed").Build()
		}
		c.CodeHost = incident.CodeHost(codeHost)
		_ = json.Unmarshal([]byte(topFramesJSON), &c.TopFrames)
		out = append(out, c)
	}
	return out, nil
}
