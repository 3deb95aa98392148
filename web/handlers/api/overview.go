package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ottermq/otterlane/internal/core/broker"
)

// GetBasicBrokerInfo godoc
// @Summary Get basic broker information
// @Tags overview
// @Produce json
// @Success 200 {object} models.OverviewBrokerDetails
// @Router /overview/broker [get]
func GetBasicBrokerInfo(c *fiber.Ctx, b *broker.Broker) error {
	info := b.Management.GetBrokerInfo()
	return c.Status(fiber.StatusOK).JSON(info)
}

// GetOverview godoc
// @Summary Get queue totals and broker metrics
// @Tags overview
// @Produce json
// @Success 200 {object} models.OverviewDTO
// @Failure 500 {object} models.ErrorResponse "Failed to get overview"
// @Router /overview [get]
// @Security BearerAuth
func GetOverview(c *fiber.Ctx, b *broker.Broker) error {
	overview, err := b.Management.GetOverview()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get overview: " + err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(overview)
}

// Health reports whether the broker accepts traffic.
func Health(c *fiber.Ctx, b *broker.Broker) error {
	if b.ShuttingDown.Load() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "shutting_down"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}
