// Package sink implements the Event Sink: in-memory fingerprint dedup
// plus HTTPS delivery of incident.Event to the Task Server API.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/incident"
	"github.com/autorepair/autorepair/internal/logfields"
	"github.com/autorepair/autorepair/internal/metrics"
	"github.com/autorepair/autorepair/internal/retry"
	"log/slog"
)

// DefaultDedupWindow is its suppression window: a fingerprint
// seen again within this duration is dropped rather than re-sent.
const DefaultDedupWindow = time.Hour

// Sink delivers incident.Events to the Task Server API over HTTPS, with a
// per-fingerprint dedup window and bounded retry on transient failures.
type Sink struct {
	Endpoint    string
	APIKey      string
	DedupWindow time.Duration
	Client      *http.Client
	Policy      retry.Policy
	Metrics     metrics.Recorder
	Logger      *slog.Logger

	mu      sync.Mutex
	lastSeen map[string]time.Time
}

// New constructs a Sink posting to endpoint (e.g. "https://server/v1/tasks")
// authenticated with apiKey via the X-API-Key header.
func New(endpoint, apiKey string, rec metrics.Recorder, logger *slog.Logger) *Sink {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		Endpoint:    endpoint,
		APIKey:      apiKey,
		DedupWindow: DefaultDedupWindow,
		Client:      &http.Client{Timeout: 10 * time.Second},
		Policy:      retry.DefaultPolicy(),
		Metrics:     rec,
		Logger:      logger,
		lastSeen:    make(map[string]time.Time),
	}
}

// Send delivers ev unless its fingerprint was already sent within
// DedupWindow, in which case it returns a DedupSuppressedError without making any network call.
// The fingerprint is recorded before delivery is attempted, so a failed
// delivery also suppresses repeats of that fingerprint for DedupWindow.
func (s *Sink) Send(ctx context.Context, ev incident.Event) error {
	fp := ev.Error.Fingerprint
	now := time.Now()

	s.mu.Lock()
	last, seen := s.lastSeen[fp]
	if seen && now.Sub(last) < s.DedupWindow {
		s.mu.Unlock()
		s.Metrics.IncEventsDeduped(string(ev.Repo.CodeHost))
		return foundationerrors.DedupSuppressedError(
			fmt.Sprintf("fingerprint %s suppressed within dedup window", fp)).Build()
	}
	s.lastSeen[fp] = now
	s.mu.Unlock()

	start := time.Now()
	body, err := json.Marshal(ev)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryValidation, "sink: marshal event failed").Build()
	}

	deliverErr := s.Policy.Do(ctx, isTransientHTTPError, func() error {
		return s.post(ctx, body)
	})

	s.Metrics.ObserveEventDeliveryDuration(time.Since(start), deliverErr == nil)
	if deliverErr == nil {
		s.Metrics.IncEventsReceived(string(ev.Repo.CodeHost))
	}
	return deliverErr
}

func (s *Sink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryRemoteAPI, "sink: build request failed").Build()
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("X-API-Key", s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryRemoteAPI, "sink: delivery failed").Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return foundationerrors.RemoteAPIError(fmt.Sprintf("sink: server error %d", resp.StatusCode)).
			WithContext("status", resp.StatusCode).Build()
	}
	if resp.StatusCode >= 400 {
		s.Logger.Warn("sink: event rejected", logfields.Status(resp.StatusCode))
		return foundationerrors.NewError(foundationerrors.CategoryValidation,
			fmt.Sprintf("sink: event rejected with status %d", resp.StatusCode)).
			WithRetry(foundationerrors.RetryNever).Build()
	}
	return nil
}

func isTransientHTTPError(err error) bool {
	ce, ok := foundationerrors.AsClassified(err)
	if !ok {
		return true
	}
	return ce.IsTransient()
}
