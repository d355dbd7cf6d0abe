package tracestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorepair/autorepair/internal/collector/extractor"
	"github.com/autorepair/autorepair/internal/incident"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTraceLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	traceID := NewTraceID()
	require.NoError(t, s.CreateTrace(ctx, incident.Trace{
		TraceID: traceID, CreatedAt: time.Now(), RepoURL: "https://github.com/o/r", CodeHost: incident.CodeHostGitHub,
	}))

	require.NoError(t, s.StartStep(ctx, traceID, incident.StepCreateFixBranch))
	require.NoError(t, s.FinishStepOK(ctx, traceID, incident.StepCreateFixBranch))

	require.NoError(t, s.StartStep(ctx, traceID, incident.StepPreflightCheck))
	require.NoError(t, s.FinishStepFail(ctx, traceID, incident.StepPreflightCheck, "vet failed"))

	require.NoError(t, s.FinishTraceFail(ctx, traceID, incident.StepPreflightCheck, "vet failed"))

	// Second terminal write must be a no-op (WHERE status='RUNNING' guard).
	require.NoError(t, s.FinishTraceOK(ctx, traceID, "https://example.com/pr/1", "deadbeef"))
}

func TestRecordBugCaseRevisionUpsertsAndAppends(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	input := CaseRevisionInput{
		RepoURL: "https://github.com/o/r", CodeHost: incident.CodeHostGitHub,
		Signature: "abc123", ExceptionType: "ValueError", MessageKey: "bad value",
		TriggerType: incident.TriggerError, TriggerText: "boom",
	}
	caseID1, err := s.RecordBugCaseRevision(ctx, input)
	require.NoError(t, err)

	caseID2, err := s.RecordBugCaseRevision(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, caseID1, caseID2, "same (repo_url, signature) must upsert the same case")
}

func TestSearchSimilarCasesExactSignature(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	_, err := s.RecordBugCaseRevision(ctx, CaseRevisionInput{
		RepoURL: "https://github.com/o/r", CodeHost: incident.CodeHostGitHub,
		Signature: "sig-1", ExceptionType: "KeyError", MessageKey: "missing key",
		TriggerType: incident.TriggerError,
	})
	require.NoError(t, err)

	results, err := s.casesBySignature(ctx, "https://github.com/o/r", "sig-1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "KeyError", results[0].ExceptionType)
}

func TestSearchSimilarCasesMatchesStoredSignatureForRealTraceback(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	traceback := "Traceback (most recent call last):\n" +
		"  File \"app.py\", line 10, in handler\n" +
		"    do_work()\n" +
		"  File \"app.py\", line 20, in do_work\n" +
		"    raise KeyError(\"missing key\")\n" +
		"KeyError: missing key"

	body := extractor.BuildErrorBody(extractor.Extract(traceback, extractor.DefaultOptions()))
	require.NotEmpty(t, body.Fingerprint)

	_, err := s.RecordBugCaseRevision(ctx, CaseRevisionInput{
		RepoURL: "https://github.com/o/r", CodeHost: incident.CodeHostGitHub,
		Signature: body.Fingerprint, ExceptionType: body.ExceptionType, MessageKey: body.MessageKey,
		TopFrames: body.Frames, TriggerType: incident.TriggerError,
	})
	require.NoError(t, err)

	results, err := s.SearchSimilarCases(ctx, "https://github.com/o/r", traceback, 10)
	require.NoError(t, err)
	require.Len(t, results, 1, "query signature must match the stored case's signature exactly")
	assert.Equal(t, body.Fingerprint, results[0].Signature)
}

func TestQueryBugCasesListsByUpdatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	_, err := s.RecordBugCaseRevision(ctx, CaseRevisionInput{
		RepoURL: "https://github.com/o/r", CodeHost: incident.CodeHostGitHub,
		Signature: "sig-2", ExceptionType: "TypeError", MessageKey: "bad type",
		TriggerType: incident.TriggerError,
	})
	require.NoError(t, err)

	items, total, err := s.QueryBugCases(ctx, "https://github.com/o/r", "", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
}
