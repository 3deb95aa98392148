package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ottermq/otterlane/internal/core/broker"
	"github.com/ottermq/otterlane/internal/core/models"
)

const defaultPeekCount = 20

// PublishMessage godoc
// @Summary Publish a message to a queue
// @Tags messages
// @Accept json
// @Produce json
// @Param vhost path string false "VHost name" default(/)
// @Param queue path string true "Queue name"
// @Param message body models.PublishMessageRequest true "Message details"
// @Success 201 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /queues/{vhost}/{queue}/messages [post]
// @Security BearerAuth
func PublishMessage(c *fiber.Ctx, b *broker.Broker) error {
	var request models.PublishMessageRequest
	if err := c.BodyParser(&request); err != nil {
		return badRequest(c, err.Error())
	}
	queueName := queueParam(c)
	if queueName == "" {
		return badRequest(c, "queue name is required")
	}
	id, err := b.Management.PublishMessage(c.UserContext(), vhostParam(c), queueName, request)
	if err != nil {
		return replyError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(models.SuccessResponse{
		Message: id,
	})
}

// GetMessages godoc
// @Summary Peek at waiting messages
// @Description Messages stay in the queue and no delivery is counted.
// @Tags messages
// @Produce json
// @Param vhost path string false "VHost name" default(/)
// @Param queue path string true "Queue name"
// @Param count query int false "Maximum number of messages" default(20)
// @Success 200 {object} models.MessageListResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /queues/{vhost}/{queue}/messages [get]
// @Security BearerAuth
func GetMessages(c *fiber.Ctx, b *broker.Broker) error {
	count := c.QueryInt("count", defaultPeekCount)
	if count <= 0 {
		return badRequest(c, "count must be positive")
	}
	msgs, err := b.Management.GetMessages(vhostParam(c), queueParam(c), count)
	if err != nil {
		return replyError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.MessageListResponse{Messages: msgs})
}
