package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorepair/autorepair/internal/incident"
	"github.com/autorepair/autorepair/internal/taskqueue"
	"github.com/autorepair/autorepair/internal/tracestore"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *tracestore.Store, taskqueue.Queue) {
	t.Helper()
	store, err := tracestore.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue := taskqueue.NewMemQueue(8)
	srv := New(Config{APIKey: apiKey}, queue, store, nil, nil)
	return srv, store, queue
}

func validEvent() incident.Event {
	return incident.Event{
		SchemaVersion: incident.SchemaVersion,
		EventID:       "evt-1",
		OccurredAt:    time.Now().Unix(),
		Repo:          incident.Repo{RepoURL: "https://github.com/acme/widgets", CodeHost: incident.CodeHostGitHub},
		Error:         incident.ErrorBody{Fingerprint: "fp-1", ExceptionType: "NullPointerException"},
	}
}

func TestHandleIngestTask_Accepted(t *testing.T) {
	srv, _, queue := newTestServer(t, "secret")

	body, _ := json.Marshal(validEvent())
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["task_id"])
	assert.Equal(t, 1, queue.Depth())
}

func TestHandleIngestTask_BadAPIKey(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	body, _ := json.Marshal(validEvent())
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleIngestTask_MissingFingerprint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	ev := validEvent()
	ev.Error.Fingerprint = ""
	body, _ := json.Marshal(ev)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"fingerprint_required"}`, rec.Body.String())
}

func TestHandlePRComment_Enqueues(t *testing.T) {
	srv, _, queue := newTestServer(t, "")

	body, _ := json.Marshal(map[string]any{
		"repo_url": "https://github.com/acme/widgets",
		"pr_url":   "https://github.com/acme/widgets/pull/9",
		"pr_number": 9,
		"comment":  "please also handle the nil case",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/pr-comments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, queue.Depth())
}

func TestHandleGetTrace_RoundTrip(t *testing.T) {
	srv, store, _ := newTestServer(t, "")
	ctx := t.Context()

	traceID := tracestore.NewTraceID()
	require.NoError(t, store.CreateTrace(ctx, incident.Trace{
		TraceID: traceID, CreatedAt: time.Now(), RepoURL: "https://github.com/acme/widgets", CodeHost: incident.CodeHostGitHub,
	}))
	require.NoError(t, store.FinishTraceOK(ctx, traceID, "https://github.com/acme/widgets/pull/1", "deadbeef"))

	req := httptest.NewRequest(http.MethodGet, "/v1/traces/"+traceID, nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	trace, ok := resp["trace"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, traceID, trace["TraceID"])
}

func TestHandleGetTrace_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/traces/missing", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListBugCases_Empty(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/bug-cases", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(0), resp["total"])
}

func TestHandleDebugRetrieval_RequiresErrorContent(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/debug/retrieval", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
