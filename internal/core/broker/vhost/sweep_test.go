package vhost

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_ExpiresWithoutConsumers(t *testing.T) {
	defer leaktest.Check(t)()

	te := newTestEnv(t, VHostOptions{})
	q := te.queue(t, "idle", false, nil)
	require.NoError(t, q.Enqueue(t.Context(), textEnvelope("x").SetTimeToLive(10)))
	require.NoError(t, q.Enqueue(t.Context(), textEnvelope("y")))
	te.clock.Advance(time.Second)

	s := NewSweeper(te.vh, 5*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return q.ExpiredCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), q.MessageCount())
	assert.Equal(t, int64(1), te.vh.GetQueue(DefaultDeadLetterAddress).MessageCount())
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	defer leaktest.Check(t)()

	te := newTestEnv(t, VHostOptions{})
	s := NewSweeper(te.vh, time.Millisecond)
	s.Stop()

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestSweeper_ContextCancelEndsLoop(t *testing.T) {
	defer leaktest.Check(t)()

	te := newTestEnv(t, VHostOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSweeper(te.vh, time.Millisecond)
	s.Start(ctx)
	cancel()
	s.Stop()
}

func TestSweeper_DefaultPeriod(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	assert.Equal(t, DefaultExpiryScanPeriod, NewSweeper(te.vh, 0).period)
}

func TestSweeper_SweepOnce(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	a := te.queue(t, "a", false, nil)
	b := te.queue(t, "b", false, nil)
	require.NoError(t, a.Enqueue(t.Context(), textEnvelope("x").SetTimeToLive(1)))
	require.NoError(t, b.Enqueue(t.Context(), textEnvelope("y").SetTimeToLive(1)))
	te.clock.Advance(time.Second)

	s := NewSweeper(te.vh, time.Hour)
	assert.Equal(t, 2, s.SweepOnce())
	assert.Equal(t, 0, s.SweepOnce(), "a second pass finds nothing")
}
