package geofence

import (
	"context"
	"log"

	"backend-travelalarm/internal/trip"
)

// Handler receives deduplicated region transitions for a known trip.
type Handler interface {
	RegionEntered(ctx context.Context, t *trip.Trip, id RegionID)
	RegionExited(ctx context.Context, t *trip.Trip, id RegionID)
}

// Coordinator keeps the monitor's region set in sync with the active
// trip's checkpoints and destination, and routes transition callbacks
// to the handler.
type Coordinator struct {
	monitor Monitor
	store   *trip.Store
	handler Handler
}

func NewCoordinator(monitor Monitor, store *trip.Store, handler Handler) *Coordinator {
	return &Coordinator{monitor: monitor, store: store, handler: handler}
}

// BuildRegions derives the region set for a trip: an alarm and a notify
// region at the current destination plus one region per unreached
// checkpoint that wants entry notifications.
func BuildRegions(t *trip.Trip) []Region {
	regions := []Region{
		{
			ID:      RegionID{Kind: KindAlarm, TripID: t.ID},
			Center:  t.CurrentDestination,
			RadiusM: t.AlarmRadiusM,
		},
		{
			ID:      RegionID{Kind: KindNotify, TripID: t.ID},
			Center:  t.CurrentDestination,
			RadiusM: t.NotifyRadiusM,
		},
	}
	for i, c := range t.Checkpoints {
		if !c.NotifyOnEntry || c.HasBeenReached {
			continue
		}
		regions = append(regions, Region{
			ID:      RegionID{Kind: KindCheckpoint, TripID: t.ID, CheckpointIndex: i},
			Center:  c.Location,
			RadiusM: c.RadiusM,
		})
	}
	return regions
}

// SetupTripGeofences clears any previous set for the trip and registers
// the fresh batch. Registration is all-or-nothing; a partial failure is
// a whole-operation failure and the caller retries in full. Only the
// initial setup allows already-inside regions to fire immediately, to
// catch a trip started next to a checkpoint.
func (c *Coordinator) SetupTripGeofences(t *trip.Trip) error {
	if err := c.monitor.Clear(t.ID); err != nil {
		log.Printf("geofence: clear regions for trip %s: %v", t.ID, err)
		return err
	}
	regions := BuildRegions(t)
	if err := c.monitor.Register(regions, true); err != nil {
		log.Printf("geofence: register %d regions for trip %s: %v", len(regions), t.ID, err)
		return err
	}
	log.Printf("geofence: registered %d regions for trip %s", len(regions), t.ID)
	return nil
}

// Refresh re-registers the set after a destination change or checkpoint
// arrival. Already-inside regions do not fire on a refresh.
func (c *Coordinator) Refresh(t *trip.Trip) error {
	if err := c.monitor.Clear(t.ID); err != nil {
		return err
	}
	return c.monitor.Register(BuildRegions(t), false)
}

// Teardown drops every region for the trip.
func (c *Coordinator) Teardown(tripID string) error {
	return c.monitor.Clear(tripID)
}

// Run consumes transitions until the context ends or the monitor's
// channel closes. Stale callbacks for deleted trips are logged and
// discarded.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-c.monitor.Transitions():
			if !ok {
				return
			}
			c.handle(ctx, tr)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, tr Transition) {
	t := c.store.GetTripByID(ctx, tr.Region.ID.TripID)
	if t == nil {
		log.Printf("geofence: transition for unknown trip %s, discarding", tr.Region.ID.TripID)
		return
	}

	switch tr.Type {
	case TransitionEnter:
		c.handler.RegionEntered(ctx, t, tr.Region.ID)
	case TransitionExit:
		c.handler.RegionExited(ctx, t, tr.Region.ID)
	}
}
