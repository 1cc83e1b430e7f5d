package progress

import (
	"context"
	"log"
	"sync"
	"time"

	"backend-travelalarm/internal/geofence"
	"backend-travelalarm/internal/shared/geo"
	"backend-travelalarm/internal/trip"
)

// Fix is one location sample from the traveler's device.
type Fix struct {
	Location   geo.Coordinate `json:"location"`
	SpeedMps   float64        `json:"speed_mps"`
	AccuracyM  float64        `json:"accuracy_m"`
	BatteryPct int            `json:"battery_pct"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sink receives one-shot trip events. Implementations must not block
// the caller on I/O; sends happen on their own workers.
type Sink interface {
	CheckpointReached(ctx context.Context, t *trip.Trip, index int)
	DestinationReached(ctx context.Context, t *trip.Trip)
	ApproachingDestination(ctx context.Context, t *trip.Trip)
	LowBattery(ctx context.Context, t *trip.Trip)
	RoutineUpdate(ctx context.Context, t *trip.Trip, updateCounter int)
}

// Publisher fans progress snapshots out to live subscribers.
type Publisher interface {
	PublishProgress(tripID string, p trip.Progress)
}

// Refresher re-registers a trip's geofence set after its region inputs
// changed (checkpoint reached, destination moved).
type Refresher interface {
	Refresh(t *trip.Trip) error
}

// Tracker consumes location fixes for the active trip and converts them
// into exactly-once checkpoint and destination arrival events. Geofence
// transitions converge on the same state under the same lock, so the two
// detection paths cannot both fire for one checkpoint.
type Tracker struct {
	store     *trip.Store
	sink      Sink
	publisher Publisher
	refresher Refresher

	lowBatteryPct int

	mu               sync.Mutex
	active           *trip.Trip
	checkpointIndex  int
	destinationFired bool
	approachFired    bool
	lowBatteryFired  bool
	updateCount      int
}

func NewTracker(store *trip.Store, sink Sink, publisher Publisher, refresher Refresher, lowBatteryPct int) *Tracker {
	if lowBatteryPct <= 0 {
		lowBatteryPct = 20
	}
	return &Tracker{
		store:         store,
		sink:          sink,
		publisher:     publisher,
		refresher:     refresher,
		lowBatteryPct: lowBatteryPct,
	}
}

// StartTracking loads the active trip and resumes at the first unreached
// checkpoint, so a process restart never re-fires delivered events.
// With no active trip the tracker stays idle; that is not an error.
func (tk *Tracker) StartTracking(ctx context.Context) bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	t := tk.store.GetActiveTrip(ctx)
	if t == nil {
		log.Printf("progress: no active trip, tracker idle")
		tk.active = nil
		return false
	}

	tk.active = t
	tk.checkpointIndex = t.NextCheckpointIndex()
	tk.destinationFired = t.IsTerminal()
	tk.approachFired = false
	tk.lowBatteryFired = false
	tk.updateCount = 0

	log.Printf("progress: tracking trip %s (%d/%d checkpoints done)",
		t.ID, tk.checkpointIndex, len(t.Checkpoints))
	return true
}

func (tk *Tracker) StopTracking() {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.active = nil
	tk.checkpointIndex = 0
	tk.updateCount = 0
}

// ActiveTrip returns the session's transient trip reference, or nil.
func (tk *Tracker) ActiveTrip() *trip.Trip {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.active
}

// UpdateLocation processes one fix in arrival order. It returns the
// derived progress snapshot, or nil when no trip is being tracked.
// All mutations (checkpoint reached, completion) are written back
// through the store before the snapshot is returned.
func (tk *Tracker) UpdateLocation(ctx context.Context, fix Fix) *trip.Progress {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	t := tk.active
	if t == nil || t.IsTerminal() {
		return nil
	}

	tk.updateCount++
	t.UpdateLocation(fix.Location, fix.SpeedMps, fix.BatteryPct, fix.Timestamp)

	// Only the checkpoint at the current index is ever tested; a later
	// checkpoint being geographically closer must not be skipped to.
	if tk.checkpointIndex < len(t.Checkpoints) {
		cp := t.Checkpoints[tk.checkpointIndex]
		if geo.Distance(fix.Location, cp.Location) <= cp.RadiusM {
			tk.reachCheckpoint(ctx, tk.checkpointIndex)
		}
	}

	distToDest := geo.Distance(fix.Location, t.CurrentDestination)
	if distToDest <= t.NotifyRadiusM && !tk.approachFired && !tk.destinationFired {
		tk.approachFired = true
		tk.sink.ApproachingDestination(ctx, t)
	}
	if distToDest <= t.AlarmRadiusM && !tk.destinationFired {
		tk.reachDestination(ctx)
	}

	tk.checkBattery(ctx, fix.BatteryPct)

	if !t.IsTerminal() {
		tk.sink.RoutineUpdate(ctx, t, tk.updateCount)
	}

	tk.store.SaveTrip(ctx, *t)

	snapshot := tk.snapshotLocked(fix.Location, distToDest)
	if tk.publisher != nil {
		tk.publisher.PublishProgress(t.ID, snapshot)
	}
	return &snapshot
}

// Snapshot returns the current progress without a fresh fix, or nil
// when idle.
func (tk *Tracker) Snapshot() *trip.Progress {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	t := tk.active
	if t == nil {
		return nil
	}
	loc := t.CurrentLocation
	if loc == nil {
		loc = &t.StartLocation
	}
	s := tk.snapshotLocked(*loc, geo.Distance(*loc, t.CurrentDestination))
	return &s
}

// ChangeDestination redirects the tracked trip under the tracker's
// lock, so a fix processed concurrently cannot write back a stale copy
// of the trip. Approach and arrival detection re-arm against the new
// destination. The bool reports whether the trip is the tracked one;
// untracked trips are mutated through the store by the caller.
func (tk *Tracker) ChangeDestination(ctx context.Context, tripID string, loc geo.Coordinate, name, reason string) (*trip.Trip, bool) {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	t := tk.active
	if t == nil || t.ID != tripID {
		return nil, false
	}
	if !t.ChangeDestination(loc, name, reason) {
		return nil, true
	}
	tk.approachFired = false
	tk.destinationFired = false
	tk.store.SaveTrip(ctx, *t)

	log.Printf("progress: trip %s redirected to %s", t.ID, name)
	updated := *t
	return &updated, true
}

// AddCheckpoint appends a checkpoint to the tracked trip under the
// tracker's lock and re-registers its geofences. Returns false when the
// trip is not being tracked.
func (tk *Tracker) AddCheckpoint(ctx context.Context, tripID string, cp trip.Checkpoint) bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	t := tk.active
	if t == nil || t.ID != tripID || t.IsTerminal() {
		return false
	}
	t.Checkpoints = append(t.Checkpoints, cp)
	tk.store.SaveTrip(ctx, *t)

	if tk.refresher != nil {
		if err := tk.refresher.Refresh(t); err != nil {
			log.Printf("progress: geofence refresh after checkpoint added: %v", err)
		}
	}
	return true
}

// RegionEntered converges geofence arrivals onto the tracker's state.
// The already-reached flag, checked and set under the lock, is the
// dedup guard between this path and the raw-fix path.
func (tk *Tracker) RegionEntered(ctx context.Context, t *trip.Trip, id geofence.RegionID) {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	if tk.active == nil || tk.active.ID != id.TripID {
		log.Printf("progress: region enter for untracked trip %s, discarding", id.TripID)
		return
	}

	switch id.Kind {
	case geofence.KindCheckpoint:
		// Checkpoints advance strictly in order even when a geofence
		// for a later one fires first.
		if id.CheckpointIndex != tk.checkpointIndex {
			log.Printf("progress: out-of-order checkpoint region %d (at %d), ignoring",
				id.CheckpointIndex, tk.checkpointIndex)
			return
		}
		tk.reachCheckpoint(ctx, id.CheckpointIndex)
		tk.store.SaveTrip(ctx, *tk.active)
	case geofence.KindNotify:
		if !tk.approachFired && !tk.destinationFired {
			tk.approachFired = true
			tk.sink.ApproachingDestination(ctx, tk.active)
		}
	case geofence.KindAlarm:
		if !tk.destinationFired {
			tk.reachDestination(ctx)
			tk.store.SaveTrip(ctx, *tk.active)
		}
	}
}

// RegionExited is observed only; exits produce no alarm action.
func (tk *Tracker) RegionExited(_ context.Context, t *trip.Trip, id geofence.RegionID) {
	log.Printf("progress: trip %s exited region %s", t.ID, id.String())
}

func (tk *Tracker) reachCheckpoint(ctx context.Context, index int) {
	t := tk.active
	cp := &t.Checkpoints[index]
	if cp.HasBeenReached {
		// Already delivered (other detection path or resumed session);
		// just keep the index moving.
		tk.checkpointIndex = index + 1
		return
	}

	cp.MarkReached(time.Now())
	tk.checkpointIndex = index + 1
	t.AddEvent(trip.EventCheckpointReached, "Reached "+cp.Name, &cp.Location)

	log.Printf("progress: trip %s reached checkpoint %d (%s)", t.ID, index, cp.Name)
	tk.sink.CheckpointReached(ctx, t, index)

	if tk.refresher != nil {
		if err := tk.refresher.Refresh(t); err != nil {
			log.Printf("progress: geofence refresh after checkpoint: %v", err)
		}
	}
}

func (tk *Tracker) reachDestination(ctx context.Context) {
	t := tk.active
	tk.destinationFired = true
	t.Complete()
	tk.store.CompleteTrip(ctx, t.ID)

	log.Printf("progress: trip %s reached destination", t.ID)
	tk.sink.DestinationReached(ctx, t)

	if tk.refresher != nil {
		if err := tk.refresher.Refresh(t); err != nil {
			log.Printf("progress: geofence teardown after arrival: %v", err)
		}
	}
}

func (tk *Tracker) checkBattery(ctx context.Context, batteryPct int) {
	if batteryPct <= 0 {
		return
	}
	if batteryPct > tk.lowBatteryPct {
		tk.lowBatteryFired = false
		return
	}
	if tk.lowBatteryFired {
		return
	}
	tk.lowBatteryFired = true
	t := tk.active
	t.AddEvent(trip.EventLowBattery, "Battery low", nil)
	tk.sink.LowBattery(ctx, t)
}

func (tk *Tracker) snapshotLocked(from geo.Coordinate, distToDest float64) trip.Progress {
	t := tk.active
	total := len(t.Checkpoints)

	distToNext := distToDest
	if tk.checkpointIndex < total {
		distToNext = geo.Distance(from, t.Checkpoints[tk.checkpointIndex].Location)
	}

	pct := 0
	if total > 0 {
		pct = tk.checkpointIndex * 100 / total
	}
	if t.Status == trip.StatusCompleted {
		pct = 100
	}
	if pct > 100 {
		pct = 100
	}

	return trip.Progress{
		TripID:                   t.ID,
		Name:                     t.CurrentDestName,
		CheckpointIndex:          tk.checkpointIndex,
		TotalCheckpoints:         total,
		DistanceToNextCheckpoint: distToNext,
		DistanceToDestination:    distToDest,
		Percent:                  pct,
	}
}
