package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"backend-travelalarm/internal/trip"
)

// EventRecorder persists fan-out outcomes to the trip's event log.
type EventRecorder interface {
	RecordEvent(ctx context.Context, tripID string, kind trip.EventType, description string)
}

const sendTimeout = 30 * time.Second

// Dispatcher turns reached events into local alerts and contact
// notifications. Outbound sends are I/O and run on their own goroutine
// so the location path is never stalled; a failure for one contact
// never prevents attempting the rest.
type Dispatcher struct {
	alarm    *Alarm
	alerter  Alerter
	senders  map[trip.NotificationMethod]Sender
	recorder EventRecorder

	wg sync.WaitGroup
}

func NewDispatcher(alerter Alerter, senders map[trip.NotificationMethod]Sender, recorder EventRecorder) *Dispatcher {
	return &Dispatcher{
		alarm:    NewAlarm(alerter),
		alerter:  alerter,
		senders:  senders,
		recorder: recorder,
	}
}

func (d *Dispatcher) Alarm() *Alarm {
	return d.alarm
}

// Wait blocks until in-flight fan-outs finish. Used on shutdown and in
// tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) CheckpointReached(_ context.Context, t *trip.Trip, index int) {
	cp := t.Checkpoints[index]

	if cp.NotifyTraveler {
		d.alerter.Vibrate(t.ID, notifyPattern)
		d.alerter.Notify(t.ID, "Checkpoint reached", "You've passed "+cp.Name, false)
	}

	if cp.NotifyContacts {
		msg := fmt.Sprintf("%s has passed %s on the way to %s.", t.TravelerName, cp.Name, t.CurrentDestName)
		d.fanOut(t, trip.EventCheckpointReached, msg, true, 0)
	}
}

func (d *Dispatcher) DestinationReached(_ context.Context, t *trip.Trip) {
	d.alarm.Trigger(t.ID, "Destination reached", "You've arrived at "+t.CurrentDestName+". Time to wake up!")

	msg := fmt.Sprintf("%s has arrived at %s!", t.TravelerName, t.CurrentDestName)
	d.fanOut(t, trip.EventTripCompleted, msg, true, 0)
}

func (d *Dispatcher) ApproachingDestination(_ context.Context, t *trip.Trip) {
	d.alerter.Vibrate(t.ID, notifyPattern)
	d.alerter.Notify(t.ID, "Almost there", "You're approaching "+t.CurrentDestName, false)
}

func (d *Dispatcher) LowBattery(_ context.Context, t *trip.Trip) {
	d.alerter.Notify(t.ID, "Battery low", "Charge your phone to keep tracking alive", false)

	msg := fmt.Sprintf("%s's phone battery is low (%d%%). They're currently traveling to %s.",
		t.TravelerName, t.BatteryPct, t.CurrentDestName)
	d.fanOut(t, trip.EventLowBattery, msg, true, 0)
}

func (d *Dispatcher) RoutineUpdate(_ context.Context, t *trip.Trip, updateCounter int) {
	msg := fmt.Sprintf("Update from %s: currently traveling to %s.", t.TravelerName, t.CurrentDestName)
	d.fanOut(t, trip.EventContactNotified, msg, false, updateCounter)
}

// TripStarted announces the start to every contact.
func (d *Dispatcher) TripStarted(t *trip.Trip) {
	msg := fmt.Sprintf("%s has started their journey to %s.", t.TravelerName, t.CurrentDestName)
	d.fanOut(t, trip.EventTripStarted, msg, true, 0)
}

// DestinationChanged announces a mid-trip destination change.
func (d *Dispatcher) DestinationChanged(t *trip.Trip) {
	msg := fmt.Sprintf("%s has changed their destination to %s.", t.TravelerName, t.CurrentDestName)
	d.fanOut(t, trip.EventLocationChanged, msg, true, 0)
}

// fanOut notifies every contact. always bypasses the per-channel
// frequency policy; routine updates pass the update counter instead.
// The trip's fields are copied before handing off to the worker so the
// caller's lock can be released safely.
func (d *Dispatcher) fanOut(t *trip.Trip, kind trip.EventType, message string, always bool, updateCounter int) {
	if len(t.Contacts) == 0 {
		return
	}
	contacts := make([]trip.Contact, len(t.Contacts))
	copy(contacts, t.Contacts)
	tripID := t.ID

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		for _, c := range contacts {
			if !always && !c.ShouldNotifyOnUpdate(updateCounter, c.PrimaryMethod) {
				continue
			}
			d.notifyContact(ctx, tripID, c, kind, message)
		}
	}()
}

// notifyContact tries the primary channel and, when that fails with the
// contact opted into fallback, the fallback channel exactly once.
func (d *Dispatcher) notifyContact(ctx context.Context, tripID string, c trip.Contact, kind trip.EventType, message string) {
	err := d.send(ctx, c.PrimaryMethod, c, tripID, message)
	if err == nil {
		d.record(ctx, tripID, c, c.PrimaryMethod, kind)
		return
	}
	log.Printf("notify: %s via %s failed for contact %s: %v", kind, c.PrimaryMethod, c.ID, err)

	if !c.AutoFallback || c.FallbackMethod == "" {
		return
	}
	if err := d.send(ctx, c.FallbackMethod, c, tripID, message); err != nil {
		log.Printf("notify: fallback %s failed for contact %s: %v", c.FallbackMethod, c.ID, err)
		return
	}
	d.record(ctx, tripID, c, c.FallbackMethod, kind)
}

func (d *Dispatcher) send(ctx context.Context, method trip.NotificationMethod, c trip.Contact, tripID, message string) error {
	sender, ok := d.senders[method]
	if !ok {
		return fmt.Errorf("%w: no sender for %s", ErrChannelUnavailable, method)
	}
	return sender.Send(ctx, c, tripID, message)
}

func (d *Dispatcher) record(ctx context.Context, tripID string, c trip.Contact, method trip.NotificationMethod, kind trip.EventType) {
	if d.recorder == nil {
		return
	}
	d.recorder.RecordEvent(ctx, tripID, trip.EventContactNotified,
		fmt.Sprintf("Notified %s via %s (%s)", c.Name, method, kind))
}

// HubAlerter pushes local alerts to the trip's live stream; vibration
// and alarm audio execute device-side from the pushed payload.
type HubAlerter struct {
	hub InAppPublisher
}

func NewHubAlerter(hub InAppPublisher) *HubAlerter {
	return &HubAlerter{hub: hub}
}

func (a *HubAlerter) Notify(tripID, title, message string, persistent bool) {
	if a.hub != nil {
		a.hub.PublishNotification(tripID, title, message)
	}
}

func (a *HubAlerter) Vibrate(tripID string, patternMs []int) {
	log.Printf("notify: vibrate trip %s pattern %v", tripID, patternMs)
}

func (a *HubAlerter) PlayAlarmLoop(tripID string) {
	log.Printf("notify: alarm loop started for trip %s", tripID)
}

func (a *HubAlerter) StopAlarm(tripID string) {
	log.Printf("notify: alarm stopped for trip %s", tripID)
}
