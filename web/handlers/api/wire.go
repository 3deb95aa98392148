package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ottermq/otterlane/internal/core/broker"
	"github.com/ottermq/otterlane/internal/core/broker/vhost"
	"github.com/ottermq/otterlane/internal/core/message"
	"github.com/ottermq/otterlane/internal/core/models"
)

const maxReceiveWait = 30 * time.Second

// SendWire godoc
// @Summary Send a protocol-encoded message
// @Description The request body is the message exactly as the named protocol puts it on the wire.
// @Tags wire
// @Accept octet-stream
// @Produce json
// @Param protocol path string true "amqp, amqp091 or mqtt"
// @Param queue path string true "Target address"
// @Success 201 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse "Malformed message"
// @Failure 501 {object} models.ErrorResponse "Unknown protocol"
// @Router /wire/{protocol}/{queue} [post]
// @Security BearerAuth
func SendWire(c *fiber.Ctx, b *broker.Broker) error {
	queueName := queueParam(c)
	if queueName == "" {
		return badRequest(c, "queue name is required")
	}
	// fasthttp reuses the body buffer after the handler returns.
	wire := append([]byte(nil), c.Body()...)
	id, err := b.Send(c.UserContext(), message.Protocol(c.Params("protocol")), queueName, wire)
	if err != nil {
		return replyError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(models.SuccessResponse{Message: id})
}

// ReceiveWire godoc
// @Summary Lease one message encoded for a protocol
// @Tags wire
// @Produce json
// @Param protocol path string true "amqp, amqp091 or mqtt"
// @Param queue path string true "Source address"
// @Param consumer query string true "Consumer tag"
// @Param wait query int false "Milliseconds to wait for a message" default(0)
// @Success 200 {object} models.WireDeliveryResponse
// @Success 204 "No message within the wait"
// @Failure 501 {object} models.ErrorResponse "Body cannot be represented in the protocol"
// @Router /wire/{protocol}/{queue}/receive [post]
// @Security BearerAuth
func ReceiveWire(c *fiber.Ctx, b *broker.Broker) error {
	consumer := c.Query("consumer")
	if consumer == "" {
		return badRequest(c, "consumer is required")
	}
	wait := min(time.Duration(c.QueryInt("wait", 0))*time.Millisecond, maxReceiveWait)
	if wait <= 0 {
		wait = time.Millisecond
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), wait)
	defer cancel()

	d, err := b.Receive(ctx, message.Protocol(c.Params("protocol")), queueParam(c), consumer)
	if errors.Is(err, context.DeadlineExceeded) {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err != nil {
		return replyError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.WireDeliveryResponse{
		Queue:         d.Ref.Queue,
		LeaseID:       d.Ref.LeaseID,
		ConsumerTag:   d.Ref.ConsumerTag,
		Protocol:      string(d.Protocol),
		MessageID:     d.MessageID,
		DeliveryCount: d.DeliveryCount,
		Redelivered:   d.Redelivered,
		Payload:       d.Payload,
	})
}

// SettleWire godoc
// @Summary Settle a lease
// @Description action is ack, redeliver or release.
// @Tags wire
// @Accept json
// @Param action path string true "ack, redeliver or release"
// @Param lease body models.SettleRequest true "Lease to settle"
// @Success 204
// @Failure 409 {object} models.ErrorResponse "Unknown delivery"
// @Router /wire/deliveries/{action} [post]
// @Security BearerAuth
func SettleWire(c *fiber.Ctx, b *broker.Broker) error {
	var request models.SettleRequest
	if err := c.BodyParser(&request); err != nil {
		return badRequest(c, err.Error())
	}
	ref := vhost.DeliveryRef{Queue: request.Queue, LeaseID: request.LeaseID, ConsumerTag: request.ConsumerTag}

	var err error
	switch c.Params("action") {
	case "ack":
		err = b.Ack(ref)
	case "redeliver":
		err = b.Redeliver(ref)
	case "release":
		err = b.Release(ref)
	default:
		return badRequest(c, "unknown action "+c.Params("action"))
	}
	if err != nil {
		return replyError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DisconnectConsumer godoc
// @Summary Return every lease held by a consumer
// @Tags wire
// @Produce json
// @Param consumer path string true "Consumer tag"
// @Success 200 {object} models.SuccessResponse
// @Router /wire/consumers/{consumer} [delete]
// @Security BearerAuth
func DisconnectConsumer(c *fiber.Ctx, b *broker.Broker) error {
	n := b.Disconnect(c.Params("consumer"))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"redelivered": n})
}
