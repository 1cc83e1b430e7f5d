package trip

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Mutator applies mid-trip mutations through the live tracking session
// when one exists; a plain store write behind the tracker's back would
// be overwritten by the next fix it persists. A nil mutator or an
// untracked trip falls back to the store.
type Mutator interface {
	AddCheckpoint(ctx context.Context, tripID string, cp Checkpoint) bool
}

func RegisterRoutes(r fiber.Router, store *Store, mutator Mutator, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req Trip
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.OriginalDestName == "" {
			return fiber.NewError(fiber.StatusBadRequest, "original_dest_name required")
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		if req.AlarmRadiusM <= 0 {
			req.AlarmRadiusM = DefaultAlarmRadiusM
		}
		if req.NotifyRadiusM <= 0 {
			req.NotifyRadiusM = DefaultNotifyRadiusM
		}
		if req.CurrentDestName == "" {
			req.CurrentDestination = req.OriginalDestination
			req.CurrentDestName = req.OriginalDestName
		}
		req.Status = StatusPending
		req.CreatedAt = time.Now()
		for i := range req.Checkpoints {
			cp := &req.Checkpoints[i]
			if cp.ID == "" {
				cp.ID = uuid.NewString()
			}
			if cp.RadiusM <= 0 {
				cp.RadiusM = DefaultCheckpointRadiusM
			}
			cp.HasBeenReached = false
			cp.ReachedAt = nil
			if cp.CreatedAt.IsZero() {
				cp.CreatedAt = time.Now()
			}
		}
		if !store.SaveTrip(c.Context(), req) {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to save trip")
		}
		return c.Status(fiber.StatusCreated).JSON(req)
	})

	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(store.GetAllTrips(c.Context()))
	})

	r.Get("/active", func(c *fiber.Ctx) error {
		t := store.GetActiveTrip(c.Context())
		if t == nil {
			return fiber.NewError(fiber.StatusNotFound, "no active trip")
		}
		return c.JSON(t)
	})

	r.Get("/statistics", func(c *fiber.Ctx) error {
		return c.JSON(store.Statistics(c.Context()))
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		t := store.GetTripByID(c.Context(), c.Params("id"))
		if t == nil {
			return fiber.NewError(fiber.StatusNotFound, "trip not found")
		}
		return c.JSON(t)
	})

	r.Put("/:id", authMiddleware, func(c *fiber.Ctx) error {
		existing := store.GetTripByID(c.Context(), c.Params("id"))
		if existing == nil {
			return fiber.NewError(fiber.StatusNotFound, "trip not found")
		}
		if existing.Status != StatusPending {
			return fiber.NewError(fiber.StatusConflict, "only pending trips can be edited")
		}
		var req Trip
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.ID = existing.ID
		req.Status = existing.Status
		req.CreatedAt = existing.CreatedAt
		if req.AlarmRadiusM <= 0 {
			req.AlarmRadiusM = DefaultAlarmRadiusM
		}
		if req.NotifyRadiusM <= 0 {
			req.NotifyRadiusM = DefaultNotifyRadiusM
		}
		if !store.SaveTrip(c.Context(), req) {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to save trip")
		}
		return c.JSON(req)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if !store.DeleteTrip(c.Context(), c.Params("id")) {
			return fiber.NewError(fiber.StatusNotFound, "trip not found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/checkpoints", authMiddleware, func(c *fiber.Ctx) error {
		t := store.GetTripByID(c.Context(), c.Params("id"))
		if t == nil {
			return fiber.NewError(fiber.StatusNotFound, "trip not found")
		}
		if t.IsTerminal() {
			return fiber.NewError(fiber.StatusConflict, "trip already finished")
		}
		var cp Checkpoint
		if err := c.BodyParser(&cp); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if cp.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name required")
		}
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.RadiusM <= 0 {
			cp.RadiusM = DefaultCheckpointRadiusM
		}
		cp.HasBeenReached = false
		cp.ReachedAt = nil
		cp.CreatedAt = time.Now()
		if mutator != nil && mutator.AddCheckpoint(c.Context(), t.ID, cp) {
			return c.Status(fiber.StatusCreated).JSON(cp)
		}
		t.Checkpoints = append(t.Checkpoints, cp)
		if !store.SaveTrip(c.Context(), *t) {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to save trip")
		}
		return c.Status(fiber.StatusCreated).JSON(cp)
	})
}

func RegisterContactRoutes(r fiber.Router, store *Store, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req Contact
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name required")
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		if req.PrimaryMethod == "" {
			req.PrimaryMethod = MethodMessenger
		}
		req.CreatedAt = time.Now()
		if !store.SaveContact(c.Context(), req) {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to save contact")
		}
		return c.Status(fiber.StatusCreated).JSON(req)
	})

	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(store.GetAllContacts(c.Context()))
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		ct := store.GetContactByID(c.Context(), c.Params("id"))
		if ct == nil {
			return fiber.NewError(fiber.StatusNotFound, "contact not found")
		}
		return c.JSON(ct)
	})

	r.Put("/:id", authMiddleware, func(c *fiber.Ctx) error {
		existing := store.GetContactByID(c.Context(), c.Params("id"))
		if existing == nil {
			return fiber.NewError(fiber.StatusNotFound, "contact not found")
		}
		var req Contact
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.ID = existing.ID
		req.CreatedAt = existing.CreatedAt
		if !store.SaveContact(c.Context(), req) {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to save contact")
		}
		return c.JSON(req)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if !store.DeleteContact(c.Context(), c.Params("id")) {
			return fiber.NewError(fiber.StatusNotFound, "contact not found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func RegisterDataRoutes(r fiber.Router, store *Store, authMiddleware fiber.Handler) {
	r.Get("/export", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(store.ExportData(c.Context()))
	})

	r.Post("/import", authMiddleware, func(c *fiber.Ctx) error {
		var data Export
		if err := c.BodyParser(&data); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if !store.ImportData(c.Context(), data) {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to import data")
		}
		return c.JSON(fiber.Map{
			"trips":    len(data.Trips),
			"contacts": len(data.Contacts),
		})
	})
}
