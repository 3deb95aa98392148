package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ottermq/otterlane/internal/core/broker"
	"github.com/ottermq/otterlane/internal/core/models"
)

// ListQueues godoc
// @Summary List all queues
// @Tags queues
// @Produce json
// @Success 200 {object} models.QueueListResponse
// @Router /queues [get]
// @Security BearerAuth
func ListQueues(c *fiber.Ctx, b *broker.Broker) error {
	queues := b.Management.ListQueues()
	if queues == nil {
		queues = []models.QueueDTO{}
	}
	return c.Status(fiber.StatusOK).JSON(models.QueueListResponse{
		Queues: queues,
	})
}

// GetQueue godoc
// @Summary Get a queue
// @Tags queues
// @Produce json
// @Param vhost path string false "VHost name" default(/)
// @Param queue path string true "Queue name"
// @Success 200 {object} models.QueueDTO
// @Failure 404 {object} models.ErrorResponse
// @Router /queues/{vhost}/{queue} [get]
// @Security BearerAuth
func GetQueue(c *fiber.Ctx, b *broker.Broker) error {
	queueName := queueParam(c)
	if queueName == "" {
		return badRequest(c, "queue name is required")
	}
	queue, err := b.Management.GetQueue(vhostParam(c), queueName)
	if err != nil {
		return replyError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(*queue)
}

// CreateQueue godoc
// @Summary Create a new queue
// @Tags queues
// @Accept json
// @Produce json
// @Param vhost path string false "VHost name" default(/)
// @Param queue path string true "Queue name"
// @Param request body models.CreateQueueRequest true "Queue properties"
// @Success 201 {object} models.QueueDTO
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "Queue exists with different properties"
// @Router /queues/{vhost}/{queue} [put]
// @Security BearerAuth
func CreateQueue(c *fiber.Ctx, b *broker.Broker) error {
	queueName := queueParam(c)
	if queueName == "" {
		return badRequest(c, "queue name is required")
	}
	var request models.CreateQueueRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&request); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
	}
	queue, err := b.Management.CreateQueue(vhostParam(c), queueName, request)
	if err != nil {
		return replyError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(*queue)
}

// DeleteQueue godoc
// @Summary Delete a queue
// @Tags queues
// @Param vhost path string false "VHost name" default(/)
// @Param queue path string true "Queue name"
// @Param ifEmpty query bool false "Only delete an empty queue"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /queues/{vhost}/{queue} [delete]
// @Security BearerAuth
func DeleteQueue(c *fiber.Ctx, b *broker.Broker) error {
	queueName := queueParam(c)
	if queueName == "" {
		return badRequest(c, "queue name is required")
	}
	ifEmpty := c.QueryBool("ifEmpty")
	if err := b.Management.DeleteQueue(vhostParam(c), queueName, ifEmpty); err != nil {
		return replyError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PurgeQueue godoc
// @Summary Remove every waiting message from a queue
// @Tags queues
// @Produce json
// @Param vhost path string false "VHost name" default(/)
// @Param queue path string true "Queue name"
// @Success 200 {object} models.PurgeResponse
// @Router /queues/{vhost}/{queue}/contents [delete]
// @Security BearerAuth
func PurgeQueue(c *fiber.Ctx, b *broker.Broker) error {
	purged, err := b.Management.PurgeQueue(vhostParam(c), queueParam(c))
	if err != nil {
		return replyError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.PurgeResponse{Purged: purged})
}
