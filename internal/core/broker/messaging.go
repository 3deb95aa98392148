package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/internal/core/adapters"
	"github.com/ottermq/otterlane/internal/core/broker/vhost"
	brokererrors "github.com/ottermq/otterlane/internal/core/errors"
	"github.com/ottermq/otterlane/internal/core/message"
)

var errShuttingDown = brokererrors.NewBrokerError("broker is shutting down", brokererrors.ResourceError)

// Delivery is a leased message encoded for the consumer's protocol.
type Delivery struct {
	Ref           vhost.DeliveryRef
	Protocol      message.Protocol
	MessageID     string
	Payload       []byte
	DeliveryCount uint32
	Redelivered   bool
}

// Send decodes wire with the producer's adapter and enqueues the envelope on
// address. It returns the envelope ID.
func (b *Broker) Send(ctx context.Context, protocol message.Protocol, address string, wire []byte) (string, error) {
	if b.ShuttingDown.Load() {
		return "", errShuttingDown
	}
	adapter, err := b.adapters.Get(protocol)
	if err != nil {
		return "", replyError(err)
	}
	env, err := adapter.Decode(wire)
	if err != nil {
		log.Debug().Err(err).Str("protocol", string(protocol)).Str("queue", address).Msg("Rejected message")
		return "", replyError(err)
	}
	if err := b.Publish(ctx, address, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// Publish enqueues an already decoded envelope. The queue takes ownership of env.
func (b *Broker) Publish(ctx context.Context, address string, env *message.Envelope) error {
	if b.ShuttingDown.Load() {
		return errShuttingDown
	}
	if env.ID == "" {
		env.ID = message.GenerateID()
	}
	q, err := b.queue(address)
	if err != nil {
		return err
	}
	if err := q.Enqueue(ctx, env); err != nil {
		return replyError(err)
	}
	return nil
}

// Receive waits for the next message on address and encodes it for protocol.
// A message the protocol cannot carry is skipped and released back to the
// queue without counting a delivery attempt, so it never blocks the messages
// behind it. When nothing waiting can be encoded the first encode error is
// returned.
func (b *Broker) Receive(ctx context.Context, protocol message.Protocol, address, consumerTag string) (*Delivery, error) {
	if b.ShuttingDown.Load() {
		return nil, errShuttingDown
	}
	adapter, err := b.adapters.Get(protocol)
	if err != nil {
		return nil, replyError(err)
	}
	q, err := b.queue(address)
	if err != nil {
		return nil, err
	}
	d, err := q.Receive(ctx, consumerTag)
	if err != nil {
		return nil, err
	}

	var (
		skipped  []vhost.DeliveryRef
		firstErr error
	)
	defer func() {
		for _, ref := range skipped {
			if rerr := q.Release(ref); rerr != nil {
				log.Error().Err(rerr).Str("queue", address).Uint64("seq", ref.Seq).Msg("Failed to release undeliverable message")
			}
		}
	}()
	for {
		payload, err := adapter.Encode(d.Envelope)
		if err == nil {
			return &Delivery{
				Ref:           d.Ref,
				Protocol:      protocol,
				MessageID:     d.Envelope.ID,
				Payload:       payload,
				DeliveryCount: d.Envelope.DeliveryCount,
				Redelivered:   d.Redelivered,
			}, nil
		}
		log.Debug().Err(err).Str("protocol", string(protocol)).Str("queue", address).Str("id", d.Envelope.ID).Msg("Message not deliverable to consumer")
		skipped = append(skipped, d.Ref)
		if firstErr == nil {
			firstErr = err
		}
		next := q.Dequeue(consumerTag, 1)
		if len(next) == 0 {
			return nil, replyError(firstErr)
		}
		d = next[0]
	}
}

// Ack settles a delivery.
func (b *Broker) Ack(ref vhost.DeliveryRef) error {
	q, err := b.existingQueue(ref.Queue)
	if err != nil {
		return err
	}
	return replyError(q.Acknowledge(ref))
}

// Redeliver hands a delivery back and counts the attempt.
func (b *Broker) Redeliver(ref vhost.DeliveryRef) error {
	q, err := b.existingQueue(ref.Queue)
	if err != nil {
		return err
	}
	return replyError(q.Redeliver(ref))
}

// Release hands a delivery back without counting it.
func (b *Broker) Release(ref vhost.DeliveryRef) error {
	q, err := b.existingQueue(ref.Queue)
	if err != nil {
		return err
	}
	return replyError(q.Release(ref))
}

// Disconnect redelivers every lease held by consumerTag and returns how many
// there were.
func (b *Broker) Disconnect(consumerTag string) int {
	total := 0
	for _, vh := range b.ListVHosts() {
		for _, q := range vh.GetAllQueues() {
			total += q.ReleaseConsumer(consumerTag)
		}
	}
	if total > 0 {
		log.Debug().Str("consumer", consumerTag).Int("leases", total).Msg("Consumer disconnected with unsettled messages")
	}
	return total
}

// DeclareQueue creates a queue on the default vhost, or returns the existing
// one when the properties match.
func (b *Broker) DeclareQueue(name string, props *vhost.QueueProperties) (*vhost.Queue, error) {
	q, err := b.defaultVHost().CreateQueue(name, props)
	if err != nil {
		return nil, replyError(err)
	}
	return q, nil
}

func (b *Broker) DeleteQueue(name string) error {
	return replyError(b.defaultVHost().DeleteQueue(name))
}

// queue resolves address, creating a durable queue when auto-creation is on.
func (b *Broker) queue(address string) (*vhost.Queue, error) {
	vh := b.defaultVHost()
	if q := vh.GetQueue(address); q != nil {
		return q, nil
	}
	if !b.config.AutoCreateQueues {
		return nil, replyError(fmt.Errorf("%w: %s", vhost.ErrQueueNotFound, address))
	}
	props := vhost.NewQueueProperties()
	props.Durable = true
	q, err := vh.CreateQueue(address, props)
	if err != nil {
		return nil, replyError(err)
	}
	return q, nil
}

func (b *Broker) existingQueue(name string) (*vhost.Queue, error) {
	q := b.defaultVHost().GetQueue(name)
	if q == nil {
		return nil, replyError(fmt.Errorf("%w: %s", vhost.ErrQueueNotFound, name))
	}
	return q, nil
}

// replyError attaches a reply code to the sentinel errors of the core.
// Context errors and errors that already carry a code pass through.
func replyError(err error) error {
	if err == nil {
		return nil
	}
	var re brokererrors.ReplyError
	if errors.As(err, &re) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, adapters.ErrMalformed):
		return brokererrors.Wrap(err, brokererrors.SyntaxError)
	case errors.Is(err, adapters.ErrUnsupportedBody), errors.Is(err, adapters.ErrUnknownProtocol):
		return brokererrors.Wrap(err, brokererrors.NotImplemented)
	case errors.Is(err, vhost.ErrQueueNotFound):
		return brokererrors.Wrap(err, brokererrors.NotFound)
	case errors.Is(err, vhost.ErrQueueExists),
		errors.Is(err, vhost.ErrInvalidQueueName),
		errors.Is(err, vhost.ErrUnknownDelivery):
		return brokererrors.Wrap(err, brokererrors.PreconditionFailed)
	case errors.Is(err, vhost.ErrPersistence):
		return brokererrors.Wrap(err, brokererrors.ResourceError)
	default:
		return brokererrors.Wrap(err, brokererrors.InternalError)
	}
}
