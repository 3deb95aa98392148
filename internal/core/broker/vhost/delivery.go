package vhost

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/internal/core/message"
	"github.com/ottermq/otterlane/pkg/persistence"
)

var ErrUnknownDelivery = errors.New("unknown delivery")

// DeliveryRef identifies one lease. It is what a consumer hands back to
// acknowledge, redeliver or release a message.
type DeliveryRef struct {
	Queue       string
	LeaseID     uint64
	Seq         uint64
	ConsumerTag string
}

// Delivery is a leased message. Envelope is a copy; changing it does not
// affect the queued message.
type Delivery struct {
	Ref         DeliveryRef
	Envelope    *message.Envelope
	Redelivered bool
}

// Dequeue leases up to credit messages to consumerTag, oldest first.
// Expired messages met on the way are routed to the dead-letter address
// instead of being delivered.
func (q *Queue) Dequeue(consumerTag string, credit int) []Delivery {
	if credit <= 0 {
		return nil
	}
	now := q.vh.now()

	var (
		deliveries []Delivery
		expired    []*QueuedMessage
	)
	q.mu.Lock()
	for len(q.ready) > 0 && len(deliveries) < credit {
		m := q.ready[0]
		q.ready = q.ready[1:]

		if m.State() != StateEnqueued {
			continue
		}
		if q.vh.TTLManager.CheckExpiration(m, now) {
			expired = append(expired, m)
			continue
		}
		if !m.transition(StateEnqueued, StateDelivered) {
			continue
		}
		q.lastLease++
		ref := DeliveryRef{Queue: q.Name, LeaseID: q.lastLease, Seq: m.Seq, ConsumerTag: consumerTag}
		q.inflight[ref.LeaseID] = &lease{msg: m, consumerTag: consumerTag}
		deliveries = append(deliveries, Delivery{
			Ref:         ref,
			Envelope:    m.Envelope.Clone(),
			Redelivered: m.Envelope.DeliveryCount > 0,
		})
	}
	more := len(q.ready) > 0
	q.mu.Unlock()

	if more {
		q.signal()
	}
	for _, m := range expired {
		q.expire(m)
	}
	for range deliveries {
		q.vh.metrics.RecordQueueDelivery(q.Name)
	}
	return deliveries
}

// Receive blocks until a message can be leased to consumerTag or ctx is done.
func (q *Queue) Receive(ctx context.Context, consumerTag string) (Delivery, error) {
	for {
		if ds := q.Dequeue(consumerTag, 1); len(ds) == 1 {
			return ds[0], nil
		}
		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// takeLeaseLocked removes a lease after moving its message out of Delivered.
// A lease that was already settled yields nil and no error.
func (q *Queue) takeLeaseLocked(ref DeliveryRef, to messageState) (*QueuedMessage, error) {
	l, ok := q.inflight[ref.LeaseID]
	if !ok {
		if ref.LeaseID == 0 || ref.LeaseID > q.lastLease {
			return nil, fmt.Errorf("%w: queue %s lease %d", ErrUnknownDelivery, q.Name, ref.LeaseID)
		}
		return nil, nil
	}
	if l.consumerTag != ref.ConsumerTag {
		return nil, fmt.Errorf("%w: lease %d belongs to another consumer", ErrUnknownDelivery, ref.LeaseID)
	}
	if !l.msg.transition(StateDelivered, to) {
		return nil, nil
	}
	delete(q.inflight, ref.LeaseID)
	return l.msg, nil
}

// Acknowledge settles a lease and removes the message for good.
func (q *Queue) Acknowledge(ref DeliveryRef) error {
	q.mu.Lock()
	m, err := q.takeLeaseLocked(ref, StateAcknowledged)
	q.mu.Unlock()
	if err != nil || m == nil {
		return err
	}

	q.messageCount.Add(-1)
	q.vh.deleteMessage(q, m)
	q.vh.metrics.RecordQueueAck(q.Name)
	q.vh.metrics.SetQueueDepth(q.Name, q.MessageCount())
	return nil
}

// Redeliver returns a leased message to the queue and counts the attempt.
// A message that has used up its delivery attempts is dead-lettered instead.
func (q *Queue) Redeliver(ref DeliveryRef) error {
	limit := q.MaxDeliveryAttempts()

	q.mu.Lock()
	l, ok := q.inflight[ref.LeaseID]
	exhausted := ok && limit > 0 && l.msg.Envelope.DeliveryCount+1 >= limit
	to := StateEnqueued
	if exhausted {
		to = StateExpired
	}
	m, err := q.takeLeaseLocked(ref, to)
	if err != nil || m == nil {
		q.mu.Unlock()
		return err
	}
	m.Envelope.DeliveryCount++
	var (
		rec    persistence.Message
		recErr error
	)
	if !exhausted {
		if m.persisted {
			rec, recErr = messageRecord(m)
		}
		q.insertReadyLocked(m)
	}
	q.mu.Unlock()

	if exhausted {
		log.Debug().Str("queue", q.Name).Str("id", m.Envelope.ID).Uint32("attempts", m.Envelope.DeliveryCount).Msg("Delivery limit reached")
		q.kill(m, ReasonDeliveryLimit)
		return nil
	}

	if m.persisted {
		if recErr == nil {
			recErr = q.vh.persistRecord(q, rec)
		}
		if recErr != nil {
			log.Warn().Err(recErr).Str("queue", q.Name).Uint64("seq", m.Seq).Msg("Failed to persist delivery count")
		}
	}
	q.signal()
	q.vh.metrics.RecordQueueRedelivery(q.Name)
	return nil
}

// Release returns a leased message without counting a delivery attempt, for
// messages the consumer could never see (e.g. the consumer's protocol could
// not encode it).
func (q *Queue) Release(ref DeliveryRef) error {
	q.mu.Lock()
	m, err := q.takeLeaseLocked(ref, StateEnqueued)
	if err != nil || m == nil {
		q.mu.Unlock()
		return err
	}
	q.insertReadyLocked(m)
	q.mu.Unlock()

	q.signal()
	q.vh.metrics.RecordQueueRelease(q.Name)
	return nil
}

// ReleaseConsumer redelivers every lease held by consumerTag. It is called
// when a consumer goes away with unsettled messages.
func (q *Queue) ReleaseConsumer(consumerTag string) int {
	q.mu.Lock()
	var refs []DeliveryRef
	for id, l := range q.inflight {
		if l.consumerTag == consumerTag {
			refs = append(refs, DeliveryRef{Queue: q.Name, LeaseID: id, Seq: l.msg.Seq, ConsumerTag: consumerTag})
		}
	}
	q.mu.Unlock()

	for _, ref := range refs {
		if err := q.Redeliver(ref); err != nil {
			log.Warn().Err(err).Str("queue", q.Name).Str("consumer", consumerTag).Msg("Failed to redeliver lease")
		}
	}
	return len(refs)
}
