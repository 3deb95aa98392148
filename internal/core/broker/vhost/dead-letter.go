package vhost

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/internal/core/message"
)

const (
	ReasonExpired       = "expired"
	ReasonDeliveryLimit = "delivery-limit"
	ReasonMaxLength     = "maxlen"
)

type DeadLetterer interface {
	DeadLetter(msg *QueuedMessage, queue *Queue, reason string) error
}

// NoOpDeadLetterer discards what it is given. Expired messages are still
// counted by the queue.
type NoOpDeadLetterer struct{}

func (d *NoOpDeadLetterer) DeadLetter(msg *QueuedMessage, queue *Queue, reason string) error {
	return nil
}

// DeadLetter routes messages to the vhost's dead-letter address. A message
// that cannot be routed is logged and dropped; it never goes back to its
// source queue.
type DeadLetter struct {
	vh *VHost
}

func (dl *DeadLetter) DeadLetter(msg *QueuedMessage, queue *Queue, reason string) error {
	address := dl.vh.deadLetterAddress
	if queue.Name == address {
		return dl.drop(msg, queue, reason, fmt.Errorf("message already in %s", address))
	}
	target := dl.vh.GetQueue(address)
	if target == nil {
		return dl.drop(msg, queue, reason, fmt.Errorf("%w: %s", ErrQueueNotFound, address))
	}

	dead := dl.rewrite(msg, queue, reason)
	if err := target.Enqueue(context.Background(), dead); err != nil {
		return dl.drop(msg, queue, reason, err)
	}

	dl.vh.metrics.RecordQueueDeadLettered(queue.Name, reason)
	log.Debug().
		Str("queue", queue.Name).
		Str("id", msg.Envelope.ID).
		Str("reason", reason).
		Str("dead_letter_address", address).
		Msg("Dead-lettered message")
	return nil
}

// rewrite builds the envelope stored in the dead-letter queue. Body and
// application properties are kept as they are.
func (dl *DeadLetter) rewrite(msg *QueuedMessage, queue *Queue, reason string) *message.Envelope {
	env := msg.Envelope.Clone()

	env.DeliveryAnnotations = make(message.Annotations)
	if env.MessageAnnotations == nil {
		env.MessageAnnotations = make(message.Annotations)
	}
	env.MessageAnnotations[message.AnnotationOriginalAddress] = queue.Name
	env.MessageAnnotations[message.AnnotationArtemisOriginalAddress] = queue.Name
	env.MessageAnnotations[message.AnnotationOriginalQueue] = queue.Name
	env.MessageAnnotations[message.AnnotationDeadLetterReason] = reason
	if reason == ReasonExpired && msg.ExpiresAt != 0 {
		env.MessageAnnotations[message.AnnotationOriginalExpiry] = msg.ExpiresAt
	}

	// The copy must not expire again in the dead-letter queue.
	env.ClearExpiry()

	if dl.vh.deliveryCountPolicy == DeliveryCountReset {
		env.DeliveryCount = 0
	}
	return env
}

func (dl *DeadLetter) drop(msg *QueuedMessage, queue *Queue, reason string, cause error) error {
	dl.vh.metrics.RecordDeadLetterDropped(queue.Name, reason)
	log.Warn().
		Err(cause).
		Str("queue", queue.Name).
		Str("id", msg.Envelope.ID).
		Str("reason", reason).
		Msg("Dropping message: dead-letter routing failed")
	return fmt.Errorf("%w: %v", ErrDeadLetterDropped, cause)
}
