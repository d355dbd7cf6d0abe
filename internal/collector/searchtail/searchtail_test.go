package searchtail

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	pages   [][]Hit
	callIdx int
}

func (f *fakeBackend) Search(ctx context.Context, filter string, since time.Time, cursor Cursor, limit int) ([]Hit, Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callIdx >= len(f.pages) {
		return nil, cursor, nil
	}
	hits := f.pages[f.callIdx]
	f.callIdx++
	return hits, Cursor("next"), nil
}

func TestTailerDeliversHitsInOrder(t *testing.T) {
	backend := &fakeBackend{pages: [][]Hit{
		{{ID: "1", Text: "first", Timestamp: time.Now()}},
		{{ID: "2", Text: "second", Timestamp: time.Now()}},
	}}

	var mu sync.Mutex
	var got []Hit
	tl, err := New(backend, Options{Filter: "ERROR", PollInterval: 20 * time.Millisecond}, time.Now(),
		func(h Hit) {
			mu.Lock()
			got = append(got, h)
			mu.Unlock()
		}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	require.NoError(t, tl.Start(ctx))
	defer tl.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, 500*time.Millisecond, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)
}
