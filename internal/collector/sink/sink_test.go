package sink

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorepair/autorepair/internal/incident"
)

func newTestEvent(fp string) incident.Event {
	return incident.Event{
		SchemaVersion: incident.SchemaVersion,
		EventID:       "evt-1",
		OccurredAt:    time.Now().Unix(),
		Repo:          incident.Repo{RepoURL: "git@example.com:org/repo.git", CodeHost: incident.CodeHostGitHub},
		Error:         incident.ErrorBody{ExceptionType: "ValueError", Fingerprint: fp},
	}
}

func TestSendDeliversAndDedupes(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := New(srv.URL, "secret", nil, nil)
	ev := newTestEvent("fp-1")

	require.NoError(t, s.Send(t.Context(), ev))
	assert.Equal(t, 1, calls)

	err := s.Send(t.Context(), ev)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "second send within dedup window must not reach the server")
}

func TestSendServerErrorReturnsRemoteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(srv.URL, "", nil, nil)
	s.Policy.MaxRetries = 0
	err := s.Send(t.Context(), newTestEvent("fp-2"))
	require.Error(t, err)
}
