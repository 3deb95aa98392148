package vhost

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/internal/core/message"
	"github.com/ottermq/otterlane/pkg/persistence"
)

// ErrPersistence is returned when a durable enqueue could not be recorded.
var ErrPersistence = errors.New("persistence failure")

const ArgMaxDeliveryAttempts = "x-max-delivery-attempts"

type QueueArgs map[string]any

type QueueProperties struct {
	Durable    bool      `json:"durable"`
	AutoDelete bool      `json:"auto_delete"`
	Arguments  QueueArgs `json:"arguments"`
}

func NewQueueProperties() *QueueProperties {
	return &QueueProperties{Arguments: make(QueueArgs)}
}

func (qp *QueueProperties) ToPersistence() persistence.QueueProperties {
	return persistence.QueueProperties{
		Durable:    qp.Durable,
		AutoDelete: qp.AutoDelete,
		Arguments:  qp.Arguments,
	}
}

type messageState int32

const (
	StateEnqueued messageState = iota
	StateDelivered
	StateAcknowledged
	StateExpired
	StateRemoved
)

func (s messageState) String() string {
	switch s {
	case StateEnqueued:
		return "enqueued"
	case StateDelivered:
		return "delivered"
	case StateAcknowledged:
		return "acknowledged"
	case StateExpired:
		return "expired"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// QueuedMessage is an envelope owned by a queue. Every state change is a
// compare-and-swap on state; whoever wins the swap performs the side effects.
type QueuedMessage struct {
	Seq        uint64
	Envelope   *message.Envelope
	EnqueuedAt time.Time
	ExpiresAt  int64 // epoch millis, 0 = never
	persisted  bool
	state      atomic.Int32
}

func (m *QueuedMessage) State() messageState {
	return messageState(m.state.Load())
}

func (m *QueuedMessage) transition(from, to messageState) bool {
	return m.state.CompareAndSwap(int32(from), int32(to))
}

type lease struct {
	msg         *QueuedMessage
	consumerTag string
}

type Queue struct {
	Name  string           `json:"name"`
	Props *QueueProperties `json:"properties"`
	vh    *VHost

	mu        sync.Mutex
	ready     []*QueuedMessage  // ordered by Seq
	inflight  map[uint64]*lease // lease id -> lease
	lastLease uint64
	notify    chan struct{}

	nextSeq      atomic.Uint64
	messageCount atomic.Int64
	expiredCount atomic.Uint64
	killedCount  atomic.Uint64
	droppedCount atomic.Uint64
}

func NewQueue(name string, props *QueueProperties, vh *VHost) *Queue {
	if props == nil {
		props = NewQueueProperties()
	}
	return &Queue{
		Name:     name,
		Props:    props,
		vh:       vh,
		inflight: make(map[uint64]*lease),
		notify:   make(chan struct{}, 1),
	}
}

// MessageCount is the number of messages enqueued or in flight that are not
// yet acknowledged, expired or removed.
func (q *Queue) MessageCount() int64 { return q.messageCount.Load() }

// ExpiredCount is the cumulative number of messages that expired in this queue.
func (q *Queue) ExpiredCount() uint64 { return q.expiredCount.Load() }

// KilledCount is the cumulative number of messages dead-lettered after
// exhausting their delivery attempts.
func (q *Queue) KilledCount() uint64 { return q.killedCount.Load() }

// DeadLetterDroppedCount counts messages that could not be dead-lettered
// from this queue and were discarded.
func (q *Queue) DeadLetterDroppedCount() uint64 { return q.droppedCount.Load() }

// Len returns the number of messages waiting for a consumer.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// InFlight returns the number of outstanding leases.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// MaxDeliveryAttempts is the queue's x-max-delivery-attempts argument, or the
// vhost default. Zero means unlimited.
func (q *Queue) MaxDeliveryAttempts() uint32 {
	if n, ok := convertToPositiveInt64(q.Props.Arguments[ArgMaxDeliveryAttempts]); ok {
		return uint32(min(n, int64(^uint32(0))))
	}
	if q.vh == nil {
		return 0
	}
	return q.vh.maxDeliveryAttempts
}

// MessageTTL is the queue's x-message-ttl argument in milliseconds.
func (q *Queue) MessageTTL() (int64, bool) {
	return parseTTLArgument(q.Props.Arguments)
}

// MaxLength is the queue's x-max-length argument.
func (q *Queue) MaxLength() (int, bool) {
	return parseMaxLengthArgument(q.Props.Arguments)
}

func (q *Queue) durable() bool {
	return q.Props != nil && q.Props.Durable
}

// Enqueue stores env at the tail of the queue. The effective expiry is fixed
// here as an absolute time so a restart does not restart a TTL. A durable
// envelope on a durable queue is persisted before Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, env *message.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := q.vh.now()
	m := &QueuedMessage{
		Seq:        q.nextSeq.Add(1),
		Envelope:   env,
		EnqueuedAt: now,
		ExpiresAt:  q.vh.TTLManager.ExpiresAt(env, q, now),
	}

	if env.Durable && q.durable() {
		rec, err := messageRecord(m)
		if err == nil {
			err = q.vh.persistRecord(q, rec)
		}
		if err != nil {
			log.Error().Err(err).Str("queue", q.Name).Str("id", env.ID).Msg("Failed to persist message")
			return fmt.Errorf("%w: queue %s: %v", ErrPersistence, q.Name, err)
		}
		m.persisted = true
	}

	q.vh.QueueLengthLimiter.EnforceMaxLength(q)

	q.mu.Lock()
	q.insertReadyLocked(m)
	q.messageCount.Add(1)
	q.mu.Unlock()
	q.signal()

	q.vh.metrics.RecordQueuePublish(q.Name)
	q.vh.metrics.SetQueueDepth(q.Name, q.MessageCount())
	log.Debug().Str("queue", q.Name).Str("id", env.ID).Uint64("seq", m.Seq).Int64("expires_at", m.ExpiresAt).Msg("Enqueued message")
	return nil
}

// restore puts a recovered message back without persisting it again.
func (q *Queue) restore(m *QueuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insertReadyLocked(m)
	q.messageCount.Add(1)
	for {
		cur := q.nextSeq.Load()
		if m.Seq <= cur || q.nextSeq.CompareAndSwap(cur, m.Seq) {
			break
		}
	}
}

func (q *Queue) insertReadyLocked(m *QueuedMessage) {
	n := len(q.ready)
	if n == 0 || q.ready[n-1].Seq < m.Seq {
		q.ready = append(q.ready, m)
		return
	}
	i, found := slices.BinarySearchFunc(q.ready, m.Seq, func(e *QueuedMessage, seq uint64) int {
		return compareSeq(e.Seq, seq)
	})
	if found {
		return
	}
	q.ready = slices.Insert(q.ready, i, m)
}

func (q *Queue) removeReadyLocked(seq uint64) {
	i, found := slices.BinarySearchFunc(q.ready, seq, func(e *QueuedMessage, seq uint64) int {
		return compareSeq(e.Seq, seq)
	})
	if found {
		q.ready = slices.Delete(q.ready, i, i+1)
	}
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// expire claims an enqueued message as expired and hands it to the
// dead-letter router. The lazy check on dequeue and the sweep both end up
// here; only the caller that wins the claim has any effect.
func (q *Queue) expire(m *QueuedMessage) bool {
	if !m.transition(StateEnqueued, StateExpired) {
		return false
	}
	q.mu.Lock()
	q.removeReadyLocked(m.Seq)
	q.mu.Unlock()

	q.expiredCount.Add(1)
	q.retire(m, ReasonExpired)
	q.vh.metrics.RecordQueueExpired(q.Name)
	return true
}

// kill dead-letters a message whose lease was already claimed by the caller.
func (q *Queue) kill(m *QueuedMessage, reason string) {
	q.killedCount.Add(1)
	q.retire(m, reason)
}

// retire finishes a message that left the queue for the dead-letter address.
// The copy is routed before the source record is deleted.
func (q *Queue) retire(m *QueuedMessage, reason string) {
	q.messageCount.Add(-1)
	q.vh.saveStats(q)

	log.Debug().Str("queue", q.Name).Str("id", m.Envelope.ID).Uint64("seq", m.Seq).Str("reason", reason).Msg("Message leaving queue")
	if err := q.vh.DeadLetterer.DeadLetter(m, q, reason); err != nil {
		q.droppedCount.Add(1)
	}
	q.vh.deleteMessage(q, m)
	q.vh.metrics.SetQueueDepth(q.Name, q.MessageCount())
}

// SweepExpired expires every enqueued message whose deadline has passed and
// returns how many this call claimed.
func (q *Queue) SweepExpired(now time.Time) int {
	q.mu.Lock()
	var due []*QueuedMessage
	for _, m := range q.ready {
		if q.vh.TTLManager.CheckExpiration(m, now) {
			due = append(due, m)
		}
	}
	q.mu.Unlock()

	claimed := 0
	for _, m := range due {
		if q.expire(m) {
			claimed++
		}
	}
	return claimed
}

// Purge removes every message waiting for a consumer. In-flight messages are
// left to their consumers.
func (q *Queue) Purge() int {
	q.mu.Lock()
	var purged []*QueuedMessage
	for _, m := range q.ready {
		if m.transition(StateEnqueued, StateRemoved) {
			purged = append(purged, m)
		}
	}
	q.ready = nil
	q.mu.Unlock()

	for _, m := range purged {
		q.messageCount.Add(-1)
		q.vh.deleteMessage(q, m)
	}
	q.vh.metrics.SetQueueDepth(q.Name, q.MessageCount())
	log.Debug().Str("queue", q.Name).Int("count", len(purged)).Msg("Purged queue")
	return len(purged)
}

// Browse returns copies of the waiting envelopes in queue order.
func (q *Queue) Browse() []*message.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*message.Envelope, 0, len(q.ready))
	for _, m := range q.ready {
		if m.State() == StateEnqueued {
			out = append(out, m.Envelope.Clone())
		}
	}
	return out
}
