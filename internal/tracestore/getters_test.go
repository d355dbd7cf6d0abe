package tracestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorepair/autorepair/internal/incident"
)

func TestGetTraceIncludesSteps(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	traceID := NewTraceID()
	require.NoError(t, s.CreateTrace(ctx, incident.Trace{
		TraceID: traceID, CreatedAt: time.Now(), RepoURL: "https://github.com/o/r", CodeHost: incident.CodeHostGitHub,
	}))
	require.NoError(t, s.StartStep(ctx, traceID, incident.StepCreateFixBranch))
	require.NoError(t, s.FinishStepOK(ctx, traceID, incident.StepCreateFixBranch))
	require.NoError(t, s.FinishTraceOK(ctx, traceID, "https://example.com/pr/1", "deadbeef"))

	rec, err := s.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, traceID, rec.TraceID)
	assert.Equal(t, "https://example.com/pr/1", rec.PRURL)
	require.Len(t, rec.Steps, 1)
	assert.Equal(t, incident.StepCreateFixBranch, rec.Steps[0].StepName)
	assert.Equal(t, incident.StepOK, rec.Steps[0].Status)
}

func TestGetTraceUnknownIDReturnsErrNoRows(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTrace(t.Context(), "missing")
	assert.Error(t, err)
}

func TestListTracesFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	ok := NewTraceID()
	require.NoError(t, s.CreateTrace(ctx, incident.Trace{TraceID: ok, CreatedAt: time.Now(), RepoURL: "https://github.com/o/r", CodeHost: incident.CodeHostGitHub}))
	require.NoError(t, s.FinishTraceOK(ctx, ok, "", ""))

	failed := NewTraceID()
	require.NoError(t, s.CreateTrace(ctx, incident.Trace{TraceID: failed, CreatedAt: time.Now(), RepoURL: "https://github.com/o/r", CodeHost: incident.CodeHostGitHub}))
	require.NoError(t, s.FinishTraceFail(ctx, failed, incident.StepPreflightCheck, "boom"))

	items, total, err := s.ListTraces(ctx, "https://github.com/o/r", incident.TraceFailed, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, failed, items[0].TraceID)
}

func TestGetBugCaseIncludesRevisions(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	caseID, err := s.RecordBugCaseRevision(ctx, CaseRevisionInput{
		RepoURL: "https://github.com/o/r", CodeHost: incident.CodeHostGitHub,
		Signature: "sig-3", ExceptionType: "KeyError", MessageKey: "missing key",
		TriggerType: incident.TriggerError, TriggerText: "boom",
	})
	require.NoError(t, err)

	rec, err := s.GetBugCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, "KeyError", rec.ExceptionType)
	require.Len(t, rec.Revisions, 1)
	assert.Equal(t, incident.TriggerError, rec.Revisions[0].TriggerType)
}
