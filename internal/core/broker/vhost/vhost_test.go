package vhost

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottermq/otterlane/internal/core/message"
	"github.com/ottermq/otterlane/pkg/metrics"
	"github.com/ottermq/otterlane/pkg/persistence"
	"github.com/ottermq/otterlane/pkg/persistence/implementations/memento"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	vh      *VHost
	clock   *fakeClock
	metrics *metrics.MockCollector
	store   *memento.MementoPersistence
}

// newTestEnv builds a vhost with TTL and DLX enabled on top of in-memory
// persistence. Options in opts override the defaults.
func newTestEnv(t *testing.T, opts VHostOptions) *testEnv {
	t.Helper()
	te := &testEnv{clock: newFakeClock(), metrics: metrics.NewMockCollector()}
	if opts.Persistence == nil {
		te.store = memento.New()
		opts.Persistence = te.store
	} else if m, ok := opts.Persistence.(*memento.MementoPersistence); ok {
		te.store = m
	}
	if opts.Metrics == nil {
		opts.Metrics = te.metrics
	}
	if opts.Clock == nil {
		opts.Clock = te.clock.Now
	}
	opts.EnableTTL, opts.EnableDLX = true, true
	te.vh = NewVhost("test-vhost", opts)
	return te
}

func (te *testEnv) queue(t *testing.T, name string, durable bool, args QueueArgs) *Queue {
	t.Helper()
	props := NewQueueProperties()
	props.Durable = durable
	for k, v := range args {
		props.Arguments[k] = v
	}
	q, err := te.vh.CreateQueue(name, props)
	require.NoError(t, err)
	return q
}

func textEnvelope(s string) *message.Envelope {
	return message.New(message.ProtocolCore, message.NewText(s))
}

func bodyText(t *testing.T, env *message.Envelope) string {
	t.Helper()
	b, ok := env.Body.(*message.StructuredBody)
	require.True(t, ok, "expected a structured body, got %T", env.Body)
	return b.Text
}

func TestNewVhost_CreatesDeadLetterQueue(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	dlq := te.vh.GetQueue(DefaultDeadLetterAddress)
	require.NotNil(t, dlq)
	assert.True(t, dlq.Props.Durable)
	assert.Equal(t, 0, te.store.MessageCount("test-vhost", DefaultDeadLetterAddress))
}

func TestNewVhost_CustomDeadLetterAddress(t *testing.T) {
	te := newTestEnv(t, VHostOptions{DeadLetterAddress: "graveyard"})
	assert.Equal(t, "graveyard", te.vh.DeadLetterAddress())
	assert.NotNil(t, te.vh.GetQueue("graveyard"))
	assert.Nil(t, te.vh.GetQueue(DefaultDeadLetterAddress))
}

func TestNewVhost_WithoutDLX(t *testing.T) {
	vh := NewVhost("plain", VHostOptions{})
	assert.Empty(t, vh.GetAllQueues())
	assert.IsType(t, &NoOpDeadLetterer{}, vh.DeadLetterer)
	assert.IsType(t, &EnvelopeTTLManager{}, vh.TTLManager)
	assert.IsType(t, &NoOpQueueLengthLimiter{}, vh.QueueLengthLimiter)
	assert.Equal(t, 0, vh.SweepExpired())
}

func TestCreateQueue_Redeclare(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	q := te.queue(t, "orders", true, QueueArgs{ArgMessageTTL: int32(500)})

	again, err := te.vh.CreateQueue("orders", &QueueProperties{Durable: true, Arguments: QueueArgs{ArgMessageTTL: int64(500)}})
	require.NoError(t, err)
	assert.Same(t, q, again, "matching redeclare returns the existing queue")

	_, err = te.vh.CreateQueue("orders", &QueueProperties{Durable: false})
	assert.ErrorIs(t, err, ErrQueueExists)

	_, err = te.vh.CreateQueue("", nil)
	assert.ErrorIs(t, err, ErrInvalidQueueName)
}

func TestCreateQueue_DurablePersistsMetadata(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	te.queue(t, "durable", true, nil)
	te.queue(t, "transient", false, nil)

	snaps, err := te.store.LoadAllQueues("test-vhost")
	require.NoError(t, err)
	names := make([]string, 0, len(snaps))
	for _, s := range snaps {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{DefaultDeadLetterAddress, "durable"}, names)
}

func TestDeleteQueue(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	q := te.queue(t, "gone", true, nil)
	env := textEnvelope("x")
	env.Durable = true
	require.NoError(t, q.Enqueue(t.Context(), env))
	require.Equal(t, 1, te.store.MessageCount("test-vhost", "gone"))

	require.NoError(t, te.vh.DeleteQueue("gone"))
	assert.Nil(t, te.vh.GetQueue("gone"))
	assert.Equal(t, 0, te.store.MessageCount("test-vhost", "gone"))
	assert.ErrorIs(t, te.vh.DeleteQueue("gone"), ErrQueueNotFound)

	_, err := te.vh.GetMessageCount("gone")
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestGetAllQueues_Sorted(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	te.queue(t, "b", false, nil)
	te.queue(t, "a", false, nil)

	var names []string
	for _, q := range te.vh.GetAllQueues() {
		names = append(names, q.Name)
	}
	assert.Equal(t, []string{DefaultDeadLetterAddress, "a", "b"}, names)
}

func TestParseDeliveryCountPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DeliveryCountPolicy
		wantErr bool
	}{
		{"", DeliveryCountReset, false},
		{"reset", DeliveryCountReset, false},
		{"preserve", DeliveryCountPreserve, false},
		{"keep", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDeliveryCountPolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

var _ persistence.Persistence = (*memento.MementoPersistence)(nil)

func TestCreateQueue_MetadataFailureLeavesNoQueue(t *testing.T) {
	store := memento.New()
	te := newTestEnv(t, VHostOptions{Persistence: store})
	store.FailMetadataSaves = true

	props := NewQueueProperties()
	props.Durable = true
	_, err := te.vh.CreateQueue("orders", props)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Nil(t, te.vh.GetQueue("orders"), "a queue whose metadata was not stored is not registered")

	transient, err := te.vh.CreateQueue("scratch", nil)
	require.NoError(t, err, "non-durable queues do not touch persistence")
	assert.NotNil(t, transient)

	store.FailMetadataSaves = false
	q, err := te.vh.CreateQueue("orders", props)
	require.NoError(t, err)

	env := textEnvelope("x")
	env.Durable = true
	require.NoError(t, q.Enqueue(t.Context(), env))
	assert.Equal(t, 1, te.store.MessageCount("test-vhost", "orders"))
}

func TestCreateQueue_ConcurrentDeclareSameQueue(t *testing.T) {
	te := newTestEnv(t, VHostOptions{})
	props := func() *QueueProperties {
		p := NewQueueProperties()
		p.Durable = true
		return p
	}

	var wg sync.WaitGroup
	queues := make([]*Queue, 16)
	for i := range queues {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := te.vh.CreateQueue("shared", props())
			assert.NoError(t, err)
			queues[i] = q
		}()
	}
	wg.Wait()
	for _, q := range queues {
		assert.Same(t, queues[0], q)
	}
}
