package runner

import (
	"context"
	"errors"
	"log"

	"backend-travelalarm/internal/geofence"
	"backend-travelalarm/internal/history"
	"backend-travelalarm/internal/notify"
	"backend-travelalarm/internal/progress"
	"backend-travelalarm/internal/shared/geo"
	"backend-travelalarm/internal/trip"
)

var (
	ErrTripNotFound  = errors.New("trip not found")
	ErrWrongStatus   = errors.New("trip is not in a valid status for this operation")
	ErrAnotherActive = errors.New("another trip is already active")
	ErrNoLocation    = errors.New("no location fix yet")
)

// stopRunnerFn is the drain step of the teardown transitions; tests
// interpose on it to exercise fixes landing mid-stop.
var stopRunnerFn = func(r *Runner) { r.Stop() }

// Service drives trip lifecycle transitions: it is the only place that
// moves a trip between statuses, flips the active-trip pointer, and
// starts or stops the background runner accordingly.
type Service struct {
	store       *trip.Store
	runner      *Runner
	coordinator *geofence.Coordinator
	dispatcher  *notify.Dispatcher
	provider    *ChannelProvider
	recorder    *history.Recorder
}

func NewService(store *trip.Store, runner *Runner, coordinator *geofence.Coordinator, dispatcher *notify.Dispatcher, provider *ChannelProvider, recorder *history.Recorder) *Service {
	return &Service{
		store:       store,
		runner:      runner,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		provider:    provider,
		recorder:    recorder,
	}
}

// StartTrip activates a pending trip and begins background tracking.
// Only one trip can be active at a time.
func (s *Service) StartTrip(ctx context.Context, id string) (*trip.Trip, error) {
	t := s.store.GetTripByID(ctx, id)
	if t == nil {
		return nil, ErrTripNotFound
	}
	if active := s.store.GetActiveTripID(ctx); active != "" && active != id {
		return nil, ErrAnotherActive
	}
	if !t.Start() {
		return nil, ErrWrongStatus
	}
	if !s.store.SaveTrip(ctx, *t) {
		return nil, errors.New("failed to save trip")
	}
	if !s.store.SetActiveTrip(ctx, t.ID) {
		return nil, errors.New("failed to mark trip active")
	}

	s.dispatcher.TripStarted(t)
	if err := s.runner.Start(ctx); err != nil {
		log.Printf("runner: could not start tracking for trip %s: %v", t.ID, err)
	}
	return t, nil
}

// StopTrip completes an active or paused trip on the traveler's request
// (the "I have arrived" button) and tears tracking down.
func (s *Service) StopTrip(ctx context.Context, id string) (*trip.Trip, error) {
	t := s.store.GetTripByID(ctx, id)
	if t == nil {
		return nil, ErrTripNotFound
	}
	if !t.Complete() {
		return nil, ErrWrongStatus
	}
	// Drain in-flight fixes before the final read. The tracker may have
	// persisted a reached checkpoint, or arrival itself, while the stop
	// was underway; saving the pre-stop copy would revert it.
	stopRunnerFn(s.runner)
	if fresh := s.store.GetTripByID(ctx, id); fresh != nil {
		t = fresh
		if t.Status != trip.StatusCompleted && !t.Complete() {
			return nil, ErrWrongStatus
		}
	}
	if !s.store.SaveTrip(ctx, *t) {
		return nil, errors.New("failed to save trip")
	}
	s.store.CompleteTrip(ctx, t.ID)
	if err := s.coordinator.Teardown(t.ID); err != nil {
		log.Printf("runner: geofence teardown for trip %s: %v", t.ID, err)
	}
	s.recorder.RecordEvent(ctx, t.ID, trip.EventTripCompleted, "Trip stopped by traveler")
	return t, nil
}

func (s *Service) PauseTrip(ctx context.Context, id string) (*trip.Trip, error) {
	t := s.store.GetTripByID(ctx, id)
	if t == nil {
		return nil, ErrTripNotFound
	}
	if !t.Pause() {
		return nil, ErrWrongStatus
	}
	stopRunnerFn(s.runner)
	if fresh := s.store.GetTripByID(ctx, id); fresh != nil {
		t = fresh
		if !t.Pause() {
			return nil, ErrWrongStatus
		}
	}
	if !s.store.SaveTrip(ctx, *t) {
		return nil, errors.New("failed to save trip")
	}
	return t, nil
}

func (s *Service) ResumeTrip(ctx context.Context, id string) (*trip.Trip, error) {
	t := s.store.GetTripByID(ctx, id)
	if t == nil {
		return nil, ErrTripNotFound
	}
	if !t.Resume() {
		return nil, ErrWrongStatus
	}
	if !s.store.SaveTrip(ctx, *t) {
		return nil, errors.New("failed to save trip")
	}
	if !s.store.SetActiveTrip(ctx, t.ID) {
		return nil, errors.New("failed to mark trip active")
	}
	if err := s.runner.Start(ctx); err != nil {
		log.Printf("runner: could not resume tracking for trip %s: %v", t.ID, err)
	}
	return t, nil
}

func (s *Service) CancelTrip(ctx context.Context, id string) (*trip.Trip, error) {
	t := s.store.GetTripByID(ctx, id)
	if t == nil {
		return nil, ErrTripNotFound
	}
	wasTracked := s.store.GetActiveTripID(ctx) == t.ID
	if !t.Cancel() {
		return nil, ErrWrongStatus
	}
	if wasTracked {
		stopRunnerFn(s.runner)
		if fresh := s.store.GetTripByID(ctx, id); fresh != nil {
			t = fresh
			if !t.Cancel() {
				return nil, ErrWrongStatus
			}
		}
		s.store.ClearActiveTrip(ctx)
		if err := s.coordinator.Teardown(t.ID); err != nil {
			log.Printf("runner: geofence teardown for trip %s: %v", t.ID, err)
		}
	}
	if !s.store.SaveTrip(ctx, *t) {
		return nil, errors.New("failed to save trip")
	}
	s.recorder.RecordEvent(ctx, t.ID, trip.EventTripCancelled, "Trip cancelled by traveler")
	return t, nil
}

// ChangeDestination redirects an in-flight trip to a new endpoint and
// rebuilds its geofences around the new destination. A tracked trip is
// mutated through the tracker, not the store, so the change cannot be
// overwritten by a fix that was already in the pipeline.
func (s *Service) ChangeDestination(ctx context.Context, id string, loc geo.Coordinate, name, reason string) (*trip.Trip, error) {
	if t, tracked := s.runner.tracker.ChangeDestination(ctx, id, loc, name, reason); tracked {
		if t == nil {
			return nil, ErrWrongStatus
		}
		s.dispatcher.DestinationChanged(t)
		if err := s.coordinator.Refresh(t); err != nil {
			log.Printf("runner: geofence refresh for trip %s: %v", t.ID, err)
		}
		return t, nil
	}

	t := s.store.GetTripByID(ctx, id)
	if t == nil {
		return nil, ErrTripNotFound
	}
	if !t.ChangeDestination(loc, name, reason) {
		return nil, ErrWrongStatus
	}
	if !s.store.SaveTrip(ctx, *t) {
		return nil, errors.New("failed to save trip")
	}
	s.dispatcher.DestinationChanged(t)
	return t, nil
}

// ReportLocation feeds one device fix into the tracking pipeline. The
// fix is queued and processed asynchronously by the runner's pump.
func (s *Service) ReportLocation(ctx context.Context, id string, fix progress.Fix) error {
	active := s.store.GetActiveTripID(ctx)
	if active == "" || active != id {
		return ErrWrongStatus
	}
	s.provider.Push(fix)
	return nil
}

// LastKnownLocation returns the most recent fix queued for the tracked
// trip. Only the active trip has a live location.
func (s *Service) LastKnownLocation(ctx context.Context, id string) (*progress.Fix, error) {
	active := s.store.GetActiveTripID(ctx)
	if active == "" || active != id {
		return nil, ErrWrongStatus
	}
	fix, ok := s.provider.LastKnown(ctx)
	if !ok {
		return nil, ErrNoLocation
	}
	return fix, nil
}

// ReportRegionEvent ingests a region transition reported by an external
// monitor such as the device OS geofence callback. The region id is the
// string form the coordinator registered.
func (s *Service) ReportRegionEvent(ctx context.Context, rid geofence.RegionID, exited bool) error {
	t := s.store.GetTripByID(ctx, rid.TripID)
	if t == nil {
		return ErrTripNotFound
	}
	if exited {
		s.runner.tracker.RegionExited(ctx, t, rid)
		return nil
	}
	s.runner.tracker.RegionEntered(ctx, t, rid)
	return nil
}
