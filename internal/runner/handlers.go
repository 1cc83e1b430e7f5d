package runner

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"backend-travelalarm/internal/geofence"
	"backend-travelalarm/internal/progress"
	"backend-travelalarm/internal/shared/geo"
)

func lifecycleError(err error) error {
	switch {
	case errors.Is(err, ErrTripNotFound), errors.Is(err, ErrNoLocation):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrWrongStatus), errors.Is(err, ErrAnotherActive):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

// RegisterRoutes attaches trip lifecycle and tracking routes. It is
// mounted on the same group as the trip CRUD routes.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/:id/start", authMiddleware, func(c *fiber.Ctx) error {
		t, err := svc.StartTrip(c.Context(), c.Params("id"))
		if err != nil {
			return lifecycleError(err)
		}
		return c.JSON(t)
	})

	r.Post("/:id/stop", authMiddleware, func(c *fiber.Ctx) error {
		t, err := svc.StopTrip(c.Context(), c.Params("id"))
		if err != nil {
			return lifecycleError(err)
		}
		return c.JSON(t)
	})

	r.Post("/:id/pause", authMiddleware, func(c *fiber.Ctx) error {
		t, err := svc.PauseTrip(c.Context(), c.Params("id"))
		if err != nil {
			return lifecycleError(err)
		}
		return c.JSON(t)
	})

	r.Post("/:id/resume", authMiddleware, func(c *fiber.Ctx) error {
		t, err := svc.ResumeTrip(c.Context(), c.Params("id"))
		if err != nil {
			return lifecycleError(err)
		}
		return c.JSON(t)
	})

	r.Post("/:id/cancel", authMiddleware, func(c *fiber.Ctx) error {
		t, err := svc.CancelTrip(c.Context(), c.Params("id"))
		if err != nil {
			return lifecycleError(err)
		}
		return c.JSON(t)
	})

	r.Post("/:id/destination", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Lat    float64 `json:"lat"`
			Lng    float64 `json:"lng"`
			Name   string  `json:"name"`
			Reason string  `json:"reason"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name required")
		}
		t, err := svc.ChangeDestination(c.Context(), c.Params("id"), geo.Coordinate{Lat: body.Lat, Lng: body.Lng}, body.Name, body.Reason)
		if err != nil {
			return lifecycleError(err)
		}
		return c.JSON(t)
	})

	r.Post("/:id/location", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Lat        float64 `json:"lat"`
			Lng        float64 `json:"lng"`
			SpeedMps   float64 `json:"speed_mps"`
			AccuracyM  float64 `json:"accuracy_m"`
			BatteryPct int     `json:"battery_pct"`
			Timestamp  int64   `json:"timestamp"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		at := time.Now()
		if body.Timestamp > 0 {
			at = time.UnixMilli(body.Timestamp)
		}
		err := svc.ReportLocation(c.Context(), c.Params("id"), progress.Fix{
			Location:   geo.Coordinate{Lat: body.Lat, Lng: body.Lng},
			SpeedMps:   body.SpeedMps,
			AccuracyM:  body.AccuracyM,
			BatteryPct: body.BatteryPct,
			Timestamp:  at,
		})
		if err != nil {
			return lifecycleError(err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/:id/region", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			RegionID string `json:"region_id"`
			Event    string `json:"event"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		rid, err := geofence.ParseRegionID(body.RegionID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if rid.TripID != c.Params("id") {
			return fiber.NewError(fiber.StatusBadRequest, "region id does not match trip")
		}
		if err := svc.ReportRegionEvent(c.Context(), rid, body.Event == "exit"); err != nil {
			return lifecycleError(err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Get("/:id/location", func(c *fiber.Ctx) error {
		fix, err := svc.LastKnownLocation(c.Context(), c.Params("id"))
		if err != nil {
			return lifecycleError(err)
		}
		return c.JSON(fix)
	})

	r.Get("/:id/progress", func(c *fiber.Ctx) error {
		t := svc.runner.tracker.ActiveTrip()
		if t == nil || t.ID != c.Params("id") {
			return fiber.NewError(fiber.StatusNotFound, "trip is not being tracked")
		}
		snap := svc.runner.tracker.Snapshot()
		if snap == nil {
			return fiber.NewError(fiber.StatusNotFound, "no location fix yet")
		}
		return c.JSON(snap)
	})

	r.Get("/:id/history", func(c *fiber.Ctx) error {
		points, err := svc.recorder.Points(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(points)
	})

	r.Get("/:id/events", func(c *fiber.Ctx) error {
		events, err := svc.recorder.Events(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(events)
	})
}
