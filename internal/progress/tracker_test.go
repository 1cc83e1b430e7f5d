package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"backend-travelalarm/internal/geofence"
	"backend-travelalarm/internal/shared/geo"
	"backend-travelalarm/internal/trip"
)

type recordingSink struct {
	mu           sync.Mutex
	checkpoints  []int
	destination  int
	approaching  int
	lowBattery   int
	routineCount int
}

func (s *recordingSink) CheckpointReached(_ context.Context, _ *trip.Trip, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, index)
}

func (s *recordingSink) DestinationReached(_ context.Context, _ *trip.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destination++
}

func (s *recordingSink) ApproachingDestination(_ context.Context, _ *trip.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approaching++
}

func (s *recordingSink) LowBattery(_ context.Context, _ *trip.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowBattery++
}

func (s *recordingSink) RoutineUpdate(_ context.Context, _ *trip.Trip, _ int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routineCount++
}

var (
	homeLoc    = geo.Coordinate{Lat: 12.9249, Lng: 80.1000}
	bridgeLoc  = geo.Coordinate{Lat: 13.0000, Lng: 80.2000}
	stationLoc = geo.Coordinate{Lat: 13.0827, Lng: 80.2707}
)

func trackerTrip() trip.Trip {
	return trip.Trip{
		ID:                  "t1",
		TravelerName:        "Asha",
		StartLocation:       homeLoc,
		StartName:           "Home",
		OriginalDestination: stationLoc,
		OriginalDestName:    "Central Station",
		CurrentDestination:  stationLoc,
		CurrentDestName:     "Central Station",
		AlarmRadiusM:        500,
		NotifyRadiusM:       200,
		Status:              trip.StatusActive,
		Checkpoints: []trip.Checkpoint{
			{ID: "c1", Name: "Bridge", Location: bridgeLoc, RadiusM: 100, NotifyOnEntry: true, NotifyTraveler: true},
		},
	}
}

func newTestTracker(t *testing.T) (*Tracker, *trip.Store, *recordingSink) {
	t.Helper()
	srv := miniredis.RunT(t)
	store := trip.NewStore(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	sink := &recordingSink{}
	tracker := NewTracker(store, sink, nil, nil, 20)

	tr := trackerTrip()
	store.SaveTrip(context.Background(), tr)
	store.SetActiveTrip(context.Background(), tr.ID)
	return tracker, store, sink
}

func TestStartTrackingIdleWithoutActiveTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	store := trip.NewStore(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	tracker := NewTracker(store, &recordingSink{}, nil, nil, 20)

	if tracker.StartTracking(context.Background()) {
		t.Fatalf("expected idle start without active trip")
	}
	if got := tracker.UpdateLocation(context.Background(), Fix{Location: homeLoc}); got != nil {
		t.Fatalf("expected nil snapshot while idle, got %+v", got)
	}
}

func TestCheckpointReachedExactlyOnce(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, Timestamp: time.Now()})
	if len(sink.checkpoints) != 0 {
		t.Fatalf("expected no checkpoint at start")
	}

	// Two fixes inside the checkpoint radius: one event.
	tracker.UpdateLocation(ctx, Fix{Location: bridgeLoc, Timestamp: time.Now()})
	tracker.UpdateLocation(ctx, Fix{Location: bridgeLoc, Timestamp: time.Now()})

	if len(sink.checkpoints) != 1 || sink.checkpoints[0] != 0 {
		t.Fatalf("expected checkpoint 0 exactly once, got %v", sink.checkpoints)
	}

	saved := store.GetTripByID(ctx, "t1")
	if !saved.Checkpoints[0].HasBeenReached || saved.Checkpoints[0].ReachedAt == nil {
		t.Fatalf("expected reached state persisted")
	}
}

func TestDestinationArrivalCompletesTrip(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	tracker.UpdateLocation(ctx, Fix{Location: bridgeLoc, Timestamp: time.Now()})

	// 300m from the destination: inside alarm (500m), outside notify (200m).
	near := geo.Coordinate{Lat: 13.0800, Lng: 80.2707}
	snap := tracker.UpdateLocation(ctx, Fix{Location: near, Timestamp: time.Now()})

	if sink.destination != 1 {
		t.Fatalf("expected one destination event, got %d", sink.destination)
	}
	if snap == nil || snap.Percent != 100 {
		t.Fatalf("expected completed snapshot, got %+v", snap)
	}

	saved := store.GetTripByID(ctx, "t1")
	if saved.Status != trip.StatusCompleted {
		t.Fatalf("expected completed status, got %s", saved.Status)
	}
	if store.GetActiveTripID(ctx) != "" {
		t.Fatalf("expected active pointer cleared on arrival")
	}

	// Further fixes are ignored once the trip is terminal.
	if tracker.UpdateLocation(ctx, Fix{Location: stationLoc}) != nil {
		t.Fatalf("expected nil snapshot after completion")
	}
	if sink.destination != 1 {
		t.Fatalf("expected no duplicate destination event")
	}
}

func TestApproachFiresBeforeArrival(t *testing.T) {
	tracker, _, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	tracker.UpdateLocation(ctx, Fix{Location: bridgeLoc, Timestamp: time.Now()})

	// 150m out: inside both notify (200m) and alarm (500m) radius.
	close := geo.Coordinate{Lat: 13.08135, Lng: 80.2707}
	tracker.UpdateLocation(ctx, Fix{Location: close, Timestamp: time.Now()})

	if sink.approaching != 1 {
		t.Fatalf("expected one approach event, got %d", sink.approaching)
	}
	if sink.destination != 1 {
		t.Fatalf("expected arrival with the same fix, got %d", sink.destination)
	}
}

func TestCheckpointsAdvanceInOrderOnly(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()

	tr := trackerTrip()
	second := geo.Coordinate{Lat: 13.0400, Lng: 80.2400}
	tr.Checkpoints = append(tr.Checkpoints, trip.Checkpoint{
		ID: "c2", Name: "Market", Location: second, RadiusM: 100,
	})
	store.SaveTrip(ctx, tr)
	tracker.StartTracking(ctx)

	// Passing through the second checkpoint's area first must not count.
	tracker.UpdateLocation(ctx, Fix{Location: second, Timestamp: time.Now()})
	if len(sink.checkpoints) != 0 {
		t.Fatalf("expected no out-of-order checkpoint, got %v", sink.checkpoints)
	}

	tracker.UpdateLocation(ctx, Fix{Location: bridgeLoc, Timestamp: time.Now()})
	tracker.UpdateLocation(ctx, Fix{Location: second, Timestamp: time.Now()})

	if len(sink.checkpoints) != 2 || sink.checkpoints[0] != 0 || sink.checkpoints[1] != 1 {
		t.Fatalf("expected in-order checkpoints, got %v", sink.checkpoints)
	}
}

func TestGeofenceAndFixPathsDeduplicate(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	active := tracker.ActiveTrip()

	// Geofence callback first, then a raw fix inside the same checkpoint.
	tracker.RegionEntered(ctx, active, geofence.RegionID{
		Kind: geofence.KindCheckpoint, TripID: "t1", CheckpointIndex: 0,
	})
	tracker.UpdateLocation(ctx, Fix{Location: bridgeLoc, Timestamp: time.Now()})

	if len(sink.checkpoints) != 1 {
		t.Fatalf("expected single checkpoint event across both paths, got %v", sink.checkpoints)
	}

	saved := store.GetTripByID(ctx, "t1")
	if !saved.Checkpoints[0].HasBeenReached {
		t.Fatalf("expected persisted reached flag")
	}
}

func TestRegionEnteredIgnoresOutOfOrderCheckpoint(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()

	tr := trackerTrip()
	tr.Checkpoints = append(tr.Checkpoints, trip.Checkpoint{
		ID: "c2", Name: "Market", Location: geo.Coordinate{Lat: 13.04, Lng: 80.24}, RadiusM: 100,
	})
	store.SaveTrip(ctx, tr)
	tracker.StartTracking(ctx)

	tracker.RegionEntered(ctx, tracker.ActiveTrip(), geofence.RegionID{
		Kind: geofence.KindCheckpoint, TripID: "t1", CheckpointIndex: 1,
	})
	if len(sink.checkpoints) != 0 {
		t.Fatalf("expected later checkpoint region ignored, got %v", sink.checkpoints)
	}
}

func TestRegionEnteredAlarmTriggersArrival(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	tracker.RegionEntered(ctx, tracker.ActiveTrip(), geofence.RegionID{
		Kind: geofence.KindAlarm, TripID: "t1",
	})
	tracker.RegionEntered(ctx, tracker.ActiveTrip(), geofence.RegionID{
		Kind: geofence.KindAlarm, TripID: "t1",
	})

	if sink.destination != 1 {
		t.Fatalf("expected exactly one arrival, got %d", sink.destination)
	}
	if store.GetTripByID(ctx, "t1").Status != trip.StatusCompleted {
		t.Fatalf("expected completed trip")
	}
}

func TestRegionEnteredForUntrackedTripDiscarded(t *testing.T) {
	tracker, _, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	ghost := trackerTrip()
	ghost.ID = "ghost"
	tracker.RegionEntered(ctx, &ghost, geofence.RegionID{
		Kind: geofence.KindAlarm, TripID: "ghost",
	})
	if sink.destination != 0 {
		t.Fatalf("expected stale region enter discarded")
	}
}

func TestChangeDestinationSurvivesLaterFixes(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, Timestamp: time.Now()})

	newDest := geo.Coordinate{Lat: 13.0500, Lng: 80.2121}
	updated, tracked := tracker.ChangeDestination(ctx, "t1", newDest, "T Nagar", "friend moved")
	if !tracked || updated == nil {
		t.Fatalf("expected tracked trip mutated, got %+v tracked=%v", updated, tracked)
	}
	if updated.CurrentDestName != "T Nagar" {
		t.Fatalf("expected updated copy returned, got %q", updated.CurrentDestName)
	}

	// A fix processed after the change must not write the old
	// destination back.
	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, Timestamp: time.Now()})

	saved := store.GetTripByID(ctx, "t1")
	if saved.CurrentDestName != "T Nagar" {
		t.Fatalf("expected new destination after further fixes, got %q", saved.CurrentDestName)
	}
	if len(saved.LocationChanges) != 1 {
		t.Fatalf("expected recorded location change, got %d", len(saved.LocationChanges))
	}

	// Arrival fires against the new destination, not the old one.
	tracker.UpdateLocation(ctx, Fix{Location: newDest, Timestamp: time.Now()})
	if sink.destination != 1 {
		t.Fatalf("expected arrival at new destination, got %d", sink.destination)
	}
}

func TestChangeDestinationRearmsApproach(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()

	tr := trackerTrip()
	tr.AlarmRadiusM = 100
	tr.NotifyRadiusM = 2000
	tr.Checkpoints = nil
	store.SaveTrip(ctx, tr)
	tracker.StartTracking(ctx)

	// ~1.2km out: inside notify (2km), outside alarm (100m).
	near := geo.Coordinate{Lat: 13.0720, Lng: 80.2707}
	tracker.UpdateLocation(ctx, Fix{Location: near, Timestamp: time.Now()})
	if sink.approaching != 1 {
		t.Fatalf("expected approach for original destination, got %d", sink.approaching)
	}

	newDest := geo.Coordinate{Lat: 12.9500, Lng: 80.1500}
	if _, tracked := tracker.ChangeDestination(ctx, "t1", newDest, "T Nagar", "friend moved"); !tracked {
		t.Fatalf("expected tracked mutation")
	}

	// ~1km from the new destination: the approach alert fires again.
	nearNew := geo.Coordinate{Lat: 12.9590, Lng: 80.1500}
	tracker.UpdateLocation(ctx, Fix{Location: nearNew, Timestamp: time.Now()})
	if sink.approaching != 2 {
		t.Fatalf("expected re-armed approach after destination change, got %d", sink.approaching)
	}
	if sink.destination != 0 {
		t.Fatalf("expected no arrival yet, got %d", sink.destination)
	}
}

func TestChangeDestinationUntrackedTrip(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	if _, tracked := tracker.ChangeDestination(context.Background(), "t1", stationLoc, "Station", ""); tracked {
		t.Fatalf("expected untracked before StartTracking")
	}
}

func TestAddCheckpointWhileTracking(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	tracker.UpdateLocation(ctx, Fix{Location: bridgeLoc, Timestamp: time.Now()})

	market := geo.Coordinate{Lat: 13.0400, Lng: 80.2400}
	if !tracker.AddCheckpoint(ctx, "t1", trip.Checkpoint{ID: "c2", Name: "Market", Location: market, RadiusM: 100}) {
		t.Fatalf("expected checkpoint added to tracked trip")
	}
	if tracker.AddCheckpoint(ctx, "ghost", trip.Checkpoint{ID: "c3", Name: "Ghost"}) {
		t.Fatalf("expected untracked trip rejected")
	}

	tracker.UpdateLocation(ctx, Fix{Location: market, Timestamp: time.Now()})
	if len(sink.checkpoints) != 2 || sink.checkpoints[1] != 1 {
		t.Fatalf("expected added checkpoint reached, got %v", sink.checkpoints)
	}

	saved := store.GetTripByID(ctx, "t1")
	if len(saved.Checkpoints) != 2 || !saved.Checkpoints[1].HasBeenReached {
		t.Fatalf("expected persisted second checkpoint, got %+v", saved.Checkpoints)
	}
}

func TestLowBatteryEdgeTriggered(t *testing.T) {
	tracker, _, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, BatteryPct: 15, Timestamp: time.Now()})
	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, BatteryPct: 12, Timestamp: time.Now()})
	if sink.lowBattery != 1 {
		t.Fatalf("expected single low battery warning, got %d", sink.lowBattery)
	}

	// Recharge above the threshold re-arms the warning.
	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, BatteryPct: 80, Timestamp: time.Now()})
	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, BatteryPct: 10, Timestamp: time.Now()})
	if sink.lowBattery != 2 {
		t.Fatalf("expected re-armed warning, got %d", sink.lowBattery)
	}
}

func TestResumeSkipsReachedCheckpoints(t *testing.T) {
	tracker, store, sink := newTestTracker(t)
	ctx := context.Background()

	tr := trackerTrip()
	reached := time.Now()
	tr.Checkpoints[0].HasBeenReached = true
	tr.Checkpoints[0].ReachedAt = &reached
	store.SaveTrip(ctx, tr)

	tracker.StartTracking(ctx)

	// Re-entering the already reached checkpoint must stay silent.
	tracker.UpdateLocation(ctx, Fix{Location: bridgeLoc, Timestamp: time.Now()})
	if len(sink.checkpoints) != 0 {
		t.Fatalf("expected no re-fire after resume, got %v", sink.checkpoints)
	}

	snap := tracker.Snapshot()
	if snap == nil || snap.CheckpointIndex != 1 {
		t.Fatalf("expected resume at index 1, got %+v", snap)
	}
}

func TestRoutineUpdatesCounted(t *testing.T) {
	tracker, _, sink := newTestTracker(t)
	ctx := context.Background()
	tracker.StartTracking(ctx)

	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, Timestamp: time.Now()})
	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, Timestamp: time.Now()})
	if sink.routineCount != 2 {
		t.Fatalf("expected two routine updates, got %d", sink.routineCount)
	}
}

func TestSnapshotPublisher(t *testing.T) {
	srv := miniredis.RunT(t)
	store := trip.NewStore(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	var published []trip.Progress
	pub := publisherFunc(func(tripID string, p trip.Progress) {
		published = append(published, p)
	})
	tracker := NewTracker(store, &recordingSink{}, pub, nil, 20)
	ctx := context.Background()

	tr := trackerTrip()
	store.SaveTrip(ctx, tr)
	store.SetActiveTrip(ctx, tr.ID)
	tracker.StartTracking(ctx)

	tracker.UpdateLocation(ctx, Fix{Location: homeLoc, Timestamp: time.Now()})
	if len(published) != 1 || published[0].TripID != "t1" {
		t.Fatalf("expected published snapshot, got %v", published)
	}
	if published[0].TotalCheckpoints != 1 || published[0].CheckpointIndex != 0 {
		t.Fatalf("unexpected snapshot: %+v", published[0])
	}
}

type publisherFunc func(tripID string, p trip.Progress)

func (f publisherFunc) PublishProgress(tripID string, p trip.Progress) { f(tripID, p) }
