package api

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	brokererrors "github.com/ottermq/otterlane/internal/core/errors"
	"github.com/ottermq/otterlane/internal/core/models"
)

const defaultVHost = "/"

func vhostParam(c *fiber.Ctx) string {
	vhost := c.Params("vhost")
	if vhost == "" {
		return defaultVHost
	}
	if decoded, err := url.PathUnescape(vhost); err == nil {
		vhost = decoded
	}
	return vhost
}

func queueParam(c *fiber.Ctx) string {
	queue := c.Params("queue")
	if decoded, err := url.PathUnescape(queue); err == nil {
		queue = decoded
	}
	return queue
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{Error: msg})
}

// replyError maps a broker reply code to an HTTP status.
func replyError(c *fiber.Ctx, err error) error {
	code := brokererrors.CodeOf(err)
	status := fiber.StatusInternalServerError
	switch code {
	case brokererrors.NotFound:
		status = fiber.StatusNotFound
	case brokererrors.PreconditionFailed:
		status = fiber.StatusConflict
	case brokererrors.SyntaxError:
		status = fiber.StatusBadRequest
	case brokererrors.ResourceError:
		status = fiber.StatusServiceUnavailable
	case brokererrors.NotImplemented:
		status = fiber.StatusNotImplemented
	}
	return c.Status(status).JSON(models.ErrorResponse{Error: err.Error(), Code: code})
}
