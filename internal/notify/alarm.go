package notify

import (
	"log"
	"sync"
	"time"
)

// Alerter is the device alert surface: local notifications, vibration
// waveforms and alarm-stream audio. The server default pushes these to
// the traveler's live stream; vibration and audio execute device-side.
type Alerter interface {
	Notify(tripID, title, message string, persistent bool)
	Vibrate(tripID string, patternMs []int)
	PlayAlarmLoop(tripID string)
	StopAlarm(tripID string)
}

var (
	// 1s on, 0.5s off, repeated; the wake-up pattern.
	alarmPattern = []int{1000, 500, 1000, 500, 1000}
	// Short distinguishing buzz for checkpoints and warnings.
	notifyPattern = []int{300, 200, 300}
)

// Alarm is the process-wide "is the alarm sounding" state. Sound and
// vibration continue until an explicit Dismiss or Snooze; nothing else
// may silence them.
type Alarm struct {
	alerter Alerter

	mu          sync.Mutex
	sounding    bool
	tripID      string
	title       string
	message     string
	snoozeTimer *time.Timer
}

func NewAlarm(alerter Alerter) *Alarm {
	return &Alarm{alerter: alerter}
}

// Trigger starts the looping alarm for a trip. Triggering while already
// sounding is a no-op.
func (a *Alarm) Trigger(tripID, title, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sounding {
		return
	}
	a.sounding = true
	a.tripID = tripID
	a.title = title
	a.message = message
	a.cancelSnoozeLocked()

	a.alerter.Vibrate(tripID, alarmPattern)
	a.alerter.PlayAlarmLoop(tripID)
	a.alerter.Notify(tripID, title, message, true)
	log.Printf("notify: alarm sounding for trip %s", tripID)
}

// Dismiss stops sound and vibration synchronously and cancels any
// pending snooze re-trigger.
func (a *Alarm) Dismiss() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancelSnoozeLocked()
	if !a.sounding {
		return
	}
	a.alerter.StopAlarm(a.tripID)
	a.sounding = false
	log.Printf("notify: alarm dismissed for trip %s", a.tripID)
}

// Snooze silences the alarm and re-triggers it after the delay unless a
// Dismiss arrives first.
func (a *Alarm) Snooze(delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.sounding {
		return
	}
	a.alerter.StopAlarm(a.tripID)
	a.sounding = false
	a.cancelSnoozeLocked()

	tripID, title, message := a.tripID, a.title, a.message
	a.snoozeTimer = time.AfterFunc(delay, func() {
		a.Trigger(tripID, title, message)
	})
	log.Printf("notify: alarm snoozed %s for trip %s", delay, tripID)
}

func (a *Alarm) Sounding() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sounding
}

func (a *Alarm) cancelSnoozeLocked() {
	if a.snoozeTimer != nil {
		a.snoozeTimer.Stop()
		a.snoozeTimer = nil
	}
}
