package searchtail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
)

// HTTPBackend implements SearchBackend against an Elasticsearch-compatible
// `_search` endpoint: a query combining the operator's filter expression
// with a "timestamp >= since" range, sorted ascending by (timestamp,
// event_id), paginated with search_after for a stable cursor.
type HTTPBackend struct {
	Endpoint string // base URL, e.g. "https://logs.internal:9200"
	Index    string
	Client   *http.Client
}

// NewHTTPBackend constructs an HTTPBackend with a bounded-timeout client.
func NewHTTPBackend(endpoint, index string) *HTTPBackend {
	return &HTTPBackend{
		Endpoint: endpoint,
		Index:    index,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type esSearchRequest struct {
	Size         int             `json:"size"`
	Query        esQuery         `json:"query"`
	Sort         []map[string]any `json:"sort"`
	SearchAfter  []any           `json:"search_after,omitempty"`
}

type esQuery struct {
	Bool esBool `json:"bool"`
}

type esBool struct {
	Must []map[string]any `json:"must"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

type esHit struct {
	ID     string         `json:"_id"`
	Sort   []any          `json:"sort"`
	Source map[string]any `json:"_source"`
}

// Search issues one query cycle against the configured index. filter is
// combined as a query_string clause; since bounds the timestamp range;
// cursor (if non-empty) resumes from the previous page's last sort key via
// search_after.
func (b *HTTPBackend) Search(ctx context.Context, filter string, since time.Time, cursor Cursor, limit int) ([]Hit, Cursor, error) {
	must := []map[string]any{
		{"range": map[string]any{"@timestamp": map[string]any{"gte": since.UTC().Format(time.RFC3339Nano)}}},
	}
	if filter != "" {
		must = append(must, map[string]any{"query_string": map[string]any{"query": filter}})
	}

	req := esSearchRequest{
		Size:  limit,
		Query: esQuery{Bool: esBool{Must: must}},
		Sort: []map[string]any{
			{"@timestamp": "asc"},
			{"_id": "asc"},
		},
	}
	if cursor != "" {
		var after []any
		if err := json.Unmarshal([]byte(cursor), &after); err == nil {
			req.SearchAfter = after
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, cursor, foundationerrors.WrapError(err, foundationerrors.CategoryInternal, "searchtail: marshal query failed").Build()
	}

	url := fmt.Sprintf("%s/%s/_search", b.Endpoint, b.Index)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, cursor, foundationerrors.NetworkError("searchtail: build request failed").Build()
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return nil, cursor, foundationerrors.NetworkError("searchtail: search request failed").WithContext("url", url).Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, cursor, foundationerrors.RemoteAPIError(fmt.Sprintf("searchtail: search returned status %d", resp.StatusCode)).Build()
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, cursor, foundationerrors.WrapError(err, foundationerrors.CategoryNetwork, "searchtail: decode response failed").Build()
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	nextCursor := cursor
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, Hit{
			ID:        h.ID,
			Text:      renderHitText(h.Source),
			Timestamp: extractTimestamp(h.Source),
		})
		if len(h.Sort) > 0 {
			if encoded, err := json.Marshal(h.Sort); err == nil {
				nextCursor = Cursor(encoded)
			}
		}
	}
	return hits, nextCursor, nil
}

// renderHitText concatenates @timestamp, service.name, log.level, and the
// richest available body field (error.stack_trace → message → log.original)
// into one text blob.
func renderHitText(source map[string]any) string {
	ts := stringField(source, "@timestamp")
	serviceName := nestedStringField(source, "service", "name")
	level := nestedStringField(source, "log", "level")
	body := richestBody(source)
	return fmt.Sprintf("%s %s %s %s", ts, serviceName, level, body)
}

func richestBody(source map[string]any) string {
	if v := nestedStringField(source, "error", "stack_trace"); v != "" {
		return v
	}
	if v := stringField(source, "message"); v != "" {
		return v
	}
	return nestedStringField(source, "log", "original")
}

func extractTimestamp(source map[string]any) time.Time {
	raw := stringField(source, "@timestamp")
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func nestedStringField(m map[string]any, outer, inner string) string {
	v, ok := m[outer]
	if !ok {
		return ""
	}
	nested, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	return stringField(nested, inner)
}
