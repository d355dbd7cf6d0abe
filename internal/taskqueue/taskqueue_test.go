package taskqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorepair/autorepair/internal/incident"
)

func TestMemQueueFIFO(t *testing.T) {
	q := NewMemQueue(4)
	ctx := t.Context()

	require.NoError(t, q.Enqueue(ctx, incident.Job{TaskID: "a", Kind: incident.JobEvent}))
	require.NoError(t, q.Enqueue(ctx, incident.Job{TaskID: "b", Kind: incident.JobEvent}))
	assert.Equal(t, 2, q.Depth())

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.TaskID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", second.TaskID)
	assert.Equal(t, 0, q.Depth())
}

func TestMemQueueDequeueRespectsContextCancellation(t *testing.T) {
	q := NewMemQueue(1)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.Error(t, err)
}
