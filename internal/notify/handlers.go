package notify

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultSnoozeMin = 5

func RegisterRoutes(r fiber.Router, alarm *Alarm, authMiddleware fiber.Handler) {
	r.Post("/dismiss", authMiddleware, func(c *fiber.Ctx) error {
		if !alarm.Sounding() {
			return fiber.NewError(fiber.StatusConflict, "no alarm is sounding")
		}
		alarm.Dismiss()
		return c.JSON(fiber.Map{"sounding": false})
	})

	r.Post("/snooze", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Minutes int `json:"minutes"`
		}
		if err := c.BodyParser(&body); err != nil && len(c.Body()) > 0 {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if !alarm.Sounding() {
			return fiber.NewError(fiber.StatusConflict, "no alarm is sounding")
		}
		if body.Minutes <= 0 {
			body.Minutes = defaultSnoozeMin
		}
		alarm.Snooze(time.Duration(body.Minutes) * time.Minute)
		return c.JSON(fiber.Map{"sounding": false, "snoozed_minutes": body.Minutes})
	})

	r.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"sounding": alarm.Sounding()})
	})
}
