package runner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"backend-travelalarm/internal/geofence"
	"backend-travelalarm/internal/history"
	"backend-travelalarm/internal/progress"
	"backend-travelalarm/internal/shared/geo"
	"backend-travelalarm/internal/trip"
)

var ErrNoActiveTrip = errors.New("no active trip to track")

// Observer receives raw fixes for region evaluation. Satisfied by
// geofence.LocalMonitor.
type Observer interface {
	Observe(p geo.Coordinate, at time.Time)
}

// Runner is the process-wide execution context that keeps tracking alive
// independent of any UI client being connected. It owns one tracking
// session at a time: the fix pump and the geofence transition loop. Its
// lifetime is detached from the caller's context so a disconnecting
// client never tears tracking down.
type Runner struct {
	store       *trip.Store
	tracker     *progress.Tracker
	coordinator *geofence.Coordinator
	observer    Observer
	recorder    *history.Recorder
	provider    Provider

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(store *trip.Store, tracker *progress.Tracker, coordinator *geofence.Coordinator, observer Observer, recorder *history.Recorder, provider Provider) *Runner {
	return &Runner{
		store:       store,
		tracker:     tracker,
		coordinator: coordinator,
		observer:    observer,
		recorder:    recorder,
		provider:    provider,
	}
}

// Start begins (or resumes, after a restart) tracking the active trip.
// Starting while already running is a no-op.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	t := r.store.GetActiveTrip(ctx)
	if t == nil {
		return ErrNoActiveTrip
	}

	if !r.tracker.StartTracking(ctx) {
		return ErrNoActiveTrip
	}

	// Geofence registration failure is retriable and non-fatal: the
	// tracker's raw-fix path still detects arrival on its own.
	if err := r.coordinator.SetupTripGeofences(t); err != nil {
		log.Printf("runner: geofence setup failed, continuing on fix path only: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	fixes, err := r.provider.Subscribe(runCtx)
	if err != nil {
		cancel()
		r.tracker.StopTracking()
		return err
	}

	r.cancel = cancel
	r.running = true

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.coordinator.Run(runCtx)
	}()
	go func() {
		defer r.wg.Done()
		r.pump(runCtx, fixes)
	}()

	log.Printf("runner: tracking started for trip %s", t.ID)
	return nil
}

// Stop cancels the subscription and waits for any fix currently being
// processed before returning.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.tracker.StopTracking()
	log.Printf("runner: tracking stopped")
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) pump(ctx context.Context, fixes <-chan progress.Fix) {
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			r.processFix(ctx, fix)

			if t := r.tracker.ActiveTrip(); t != nil && t.IsTerminal() {
				r.finish(t.ID)
				return
			}
		}
	}
}

// processFix handles one sample: record, evaluate regions, advance
// progress. A panic here would silently kill tracking for the active
// trip, so it is contained per fix.
func (r *Runner) processFix(ctx context.Context, fix progress.Fix) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("runner: recovered from panic in fix pump: %v", rec)
		}
	}()

	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	if t := r.tracker.ActiveTrip(); t != nil {
		r.recorder.RecordPoint(ctx, t.ID, history.Point{
			Lat:        fix.Location.Lat,
			Lng:        fix.Location.Lng,
			SpeedMps:   fix.SpeedMps,
			BatteryPct: fix.BatteryPct,
			AccuracyM:  fix.AccuracyM,
			RecordedAt: fix.Timestamp,
		})
	}

	if r.observer != nil {
		r.observer.Observe(fix.Location, fix.Timestamp)
	}

	r.tracker.UpdateLocation(ctx, fix)
}

// finish tears the session down from inside the pump once the trip hit
// a terminal state. The runner can be started again for the next trip.
func (r *Runner) finish(tripID string) {
	if err := r.coordinator.Teardown(tripID); err != nil {
		log.Printf("runner: geofence teardown for trip %s: %v", tripID, err)
	}

	r.mu.Lock()
	if r.running {
		r.running = false
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
	}
	r.mu.Unlock()

	r.tracker.StopTracking()
	log.Printf("runner: trip %s finished, tracking stopped", tripID)
}
