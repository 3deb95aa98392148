package vhost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottermq/otterlane/internal/core/message"
)

func TestNoOpDeadLetterer(t *testing.T) {
	dl := &NoOpDeadLetterer{}
	q := &Queue{Name: "test-queue", Props: NewQueueProperties()}
	err := dl.DeadLetter(&QueuedMessage{Envelope: textEnvelope("x")}, q, ReasonExpired)
	assert.NoError(t, err, "NoOpDeadLetterer should never return error")
}

func TestDeadLetter_ExpiredCopyIsRewritten(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	q := te.queue(t, "orders", true, nil)

	env := textEnvelope("payload").SetTimeToLive(10)
	env.Durable = true
	env.ApplicationProperties["region"] = "eu"
	env.MessageAnnotations["x-opt-custom"] = "kept"
	env.DeliveryAnnotations["x-opt-hop"] = int64(3)
	require.NoError(t, q.Enqueue(t.Context(), env))
	deadline := te.clock.Now().UnixMilli() + 10

	te.clock.Advance(50 * time.Millisecond)
	require.Equal(t, 1, te.vh.SweepExpired())
	assert.Equal(t, uint64(1), q.ExpiredCount())
	assert.Equal(t, int64(0), q.MessageCount())
	assert.Equal(t, 0, te.store.MessageCount("test-vhost", "orders"), "source record removed")
	assert.Equal(t, 1, te.store.MessageCount("test-vhost", DefaultDeadLetterAddress))

	dlq := te.vh.GetQueue(DefaultDeadLetterAddress)
	te.clock.Advance(time.Hour)
	ds := dlq.Dequeue("inspector", 1)
	require.Len(t, ds, 1, "the dead-letter copy does not expire again")
	dead := ds[0].Envelope

	assert.Equal(t, env.ID, dead.ID)
	assert.Equal(t, "payload", bodyText(t, dead))
	assert.Equal(t, "eu", dead.ApplicationProperties["region"])
	assert.Empty(t, dead.DeliveryAnnotations)
	assert.Nil(t, dead.TimeToLiveMillis)
	assert.Nil(t, dead.AbsoluteExpiryTime)

	addr, ok := dead.MessageAnnotations.GetString(message.AnnotationOriginalAddress)
	require.True(t, ok)
	assert.Equal(t, "orders", addr)
	artemisAddr, ok := dead.MessageAnnotations.GetString(message.AnnotationArtemisOriginalAddress)
	require.True(t, ok)
	assert.Equal(t, "orders", artemisAddr)
	reason, _ := dead.MessageAnnotations.GetString(message.AnnotationDeadLetterReason)
	assert.Equal(t, ReasonExpired, reason)
	assert.Equal(t, deadline, dead.MessageAnnotations[message.AnnotationOriginalExpiry])
	assert.Equal(t, "kept", dead.MessageAnnotations["x-opt-custom"])

	assert.Equal(t, 1, te.metrics.Count("dead-lettered", "orders"))
}

func TestDeadLetter_SourceEnvelopeUntouched(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	q := te.queue(t, "q", false, nil)
	env := textEnvelope("x").SetTimeToLive(1)
	env.DeliveryAnnotations["x-opt-hop"] = "a"
	require.NoError(t, q.Enqueue(t.Context(), env))

	te.clock.Advance(time.Second)
	te.vh.SweepExpired()

	assert.Contains(t, env.DeliveryAnnotations, "x-opt-hop")
	assert.NotNil(t, env.TimeToLiveMillis)
}

func TestDeadLetter_DeliveryLimit(t *testing.T) {
	tests := []struct {
		name   string
		policy DeliveryCountPolicy
		want   uint32
	}{
		{"reset", DeliveryCountReset, 0},
		{"preserve", DeliveryCountPreserve, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEnv(t, VHostOptions{DeliveryCountPolicy: tt.policy})
			q := te.queue(t, "work", false, QueueArgs{ArgMaxDeliveryAttempts: int64(2)})
			require.NoError(t, q.Enqueue(t.Context(), textEnvelope("poison")))

			first := q.Dequeue("c1", 1)
			require.Len(t, first, 1)
			require.NoError(t, q.Redeliver(first[0].Ref))

			second := q.Dequeue("c1", 1)
			require.Len(t, second, 1)
			assert.Equal(t, uint32(1), second[0].Envelope.DeliveryCount)
			require.NoError(t, q.Redeliver(second[0].Ref))

			assert.Empty(t, q.Dequeue("c1", 1), "exhausted message is not redelivered")
			assert.Equal(t, int64(0), q.MessageCount())
			assert.Equal(t, uint64(1), q.KilledCount())
			assert.Equal(t, uint64(0), q.ExpiredCount())

			ds := te.vh.GetQueue(DefaultDeadLetterAddress).Dequeue("inspector", 1)
			require.Len(t, ds, 1)
			reason, _ := ds[0].Envelope.MessageAnnotations.GetString(message.AnnotationDeadLetterReason)
			assert.Equal(t, ReasonDeliveryLimit, reason)
			assert.NotContains(t, ds[0].Envelope.MessageAnnotations, message.AnnotationOriginalExpiry)
			assert.Equal(t, tt.want, ds[0].Envelope.DeliveryCount)
		})
	}
}

func TestDeadLetter_MissingDLQDrops(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	q := te.queue(t, "q", true, nil)
	env := textEnvelope("x").SetTimeToLive(10)
	env.Durable = true
	require.NoError(t, q.Enqueue(t.Context(), env))
	require.NoError(t, te.vh.DeleteQueue(DefaultDeadLetterAddress))

	te.clock.Advance(time.Second)
	assert.Equal(t, 1, te.vh.SweepExpired())

	assert.Equal(t, uint64(1), q.ExpiredCount())
	assert.Equal(t, uint64(1), q.DeadLetterDroppedCount())
	assert.Equal(t, 0, q.Len(), "never re-enqueued to the source")
	assert.Equal(t, 0, te.store.MessageCount("test-vhost", "q"))
	assert.Equal(t, 1, te.metrics.Count("dropped", "q"))
}

func TestDeadLetter_ExpiryInsideDLQDrops(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	dlq := te.vh.GetQueue(DefaultDeadLetterAddress)
	require.NoError(t, dlq.Enqueue(t.Context(), textEnvelope("x").SetTimeToLive(10)))

	te.clock.Advance(time.Second)
	assert.Equal(t, 1, te.vh.SweepExpired())
	assert.Equal(t, int64(0), dlq.MessageCount())
	assert.Equal(t, 0, dlq.Len())
	assert.Equal(t, uint64(1), dlq.DeadLetterDroppedCount())
}

func TestDeadLetter_EnqueueFailureDrops(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	q := te.queue(t, "q", true, nil)
	env := textEnvelope("x").SetTimeToLive(10)
	env.Durable = true
	require.NoError(t, q.Enqueue(t.Context(), env))

	te.store.FailSaves = true
	te.clock.Advance(time.Second)
	assert.Empty(t, q.Dequeue("c1", 1))

	dlq := te.vh.GetQueue(DefaultDeadLetterAddress)
	assert.Equal(t, int64(0), dlq.MessageCount())
	assert.Equal(t, uint64(1), q.DeadLetterDroppedCount())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, te.store.MessageCount("test-vhost", "q"))
}

func TestDeadLetter_DisabledStillCountsExpiry(t *testing.T) {
	clock := newFakeClock()
	vh := NewVhost("ttl-only", VHostOptions{Clock: clock.Now, EnableTTL: true})
	q, err := vh.CreateQueue("q", nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(t.Context(), textEnvelope("x").SetTimeToLive(5)))

	clock.Advance(time.Second)
	assert.Equal(t, 1, vh.SweepExpired())
	assert.Equal(t, uint64(1), q.ExpiredCount())
	assert.Equal(t, uint64(0), q.DeadLetterDroppedCount())
	assert.Nil(t, vh.GetQueue(DefaultDeadLetterAddress))
}
