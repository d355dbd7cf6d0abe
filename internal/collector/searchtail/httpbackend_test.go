package searchtail

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackendSearchParsesHits(t *testing.T) {
	var gotBody esSearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"hits": {
				"hits": [
					{
						"_id": "abc",
						"sort": ["2024-01-01T00:00:00Z", "abc"],
						"_source": {
							"@timestamp": "2024-01-01T00:00:00Z",
							"service": {"name": "checkout"},
							"log": {"level": "ERROR"},
							"error": {"stack_trace": "boom"}
						}
					}
				]
			}
		}`))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "logs-2024")
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	hits, cursor, err := backend.Search(t.Context(), "level:ERROR", since, "", 50)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "abc", hits[0].ID)
	assert.Contains(t, hits[0].Text, "checkout")
	assert.Contains(t, hits[0].Text, "ERROR")
	assert.Contains(t, hits[0].Text, "boom")
	assert.NotEmpty(t, cursor)

	assert.Equal(t, 50, gotBody.Size)
	assert.Len(t, gotBody.Query.Bool.Must, 2)
}

func TestHTTPBackendSearchResumesFromCursor(t *testing.T) {
	var gotBody esSearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits":{"hits":[]}}`))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "logs-2024")
	cursor := Cursor(`["2024-01-01T00:00:00Z","abc"]`)

	_, next, err := backend.Search(t.Context(), "", time.Now(), cursor, 10)
	require.NoError(t, err)
	assert.Equal(t, cursor, next, "no hits returned, cursor should not advance")
	require.Len(t, gotBody.SearchAfter, 2)
}

func TestHTTPBackendSearchReturnsErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "logs-2024")
	_, _, err := backend.Search(t.Context(), "", time.Now(), "", 10)
	require.Error(t, err)
}

func TestRichestBodyPrefersStackTrace(t *testing.T) {
	source := map[string]any{
		"error":   map[string]any{"stack_trace": "trace"},
		"message": "plain message",
	}
	assert.Equal(t, "trace", richestBody(source))

	source = map[string]any{"message": "plain message"}
	assert.Equal(t, "plain message", richestBody(source))

	source = map[string]any{"log": map[string]any{"original": "original line"}}
	assert.Equal(t, "original line", richestBody(source))
}
