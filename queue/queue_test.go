package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rostertesting "github.com/rosterhq/roster/internal/testing"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(rostertesting.CreateTestDB(t))
}

func enqueueBatches(t *testing.T, q *Queue, jobID string, n int) {
	t.Helper()
	batches := make([]Payload, n)
	for i := range batches {
		batches[i] = Payload{Accounts: []string{"acct"}, PerAccountMax: 5}
	}
	require.NoError(t, q.Enqueue(jobID, batches))
}

func TestEnqueueDequeueRoundtrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue("job-1", []Payload{
		{Accounts: []string{"alpha", "beta"}, TargetLabel: "f", PerAccountMax: 7},
	}))

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, 0, msg.BatchIndex)
	assert.Equal(t, []string{"alpha", "beta"}, msg.Payload.Accounts)
	assert.Equal(t, "f", msg.Payload.TargetLabel)
	assert.Equal(t, 7, msg.Payload.PerAccountMax)
	assert.Equal(t, 1, msg.Attempts)
}

func TestDequeueEmpty(t *testing.T) {
	q := newTestQueue(t)

	msg, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestEnqueueRejectsEmpty(t *testing.T) {
	q := newTestQueue(t)
	assert.Error(t, q.Enqueue("job-1", nil))
}

func TestClaimHidesMessage(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	enqueueBatches(t, q, "job-1", 1)

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// Claimed messages stay invisible until nacked or reclaimed.
	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestAckRemoves(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	enqueueBatches(t, q, "job-1", 1)

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(msg.ID))

	n, err := q.PendingCount("job-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNackRedeliversWithAttemptCount(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	enqueueBatches(t, q, "job-1", 1)

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(msg.ID, 0))

	redelivered, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, msg.ID, redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempts)
}

func TestNackDelayHidesMessage(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	enqueueBatches(t, q, "job-1", 1)

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(msg.ID, time.Hour))

	hidden, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, hidden)
}

func TestReclaimStale(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	enqueueBatches(t, q, "job-1", 1)

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// Not stale yet.
	n, err := q.ReclaimStale(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With a zero cutoff every inflight message is stale.
	n, err = q.ReclaimStale(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	redelivered, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, msg.ID, redelivered.ID)
}

func TestDequeueFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	enqueueBatches(t, q, "job-1", 3)

	for want := 0; want < 3; want++ {
		msg, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, want, msg.BatchIndex)
	}
}
