package trip

import (
	"time"

	"backend-travelalarm/internal/shared/geo"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// NotificationMethod is a delivery channel for contact notifications.
type NotificationMethod string

const (
	MethodInApp     NotificationMethod = "in_app"
	MethodMessenger NotificationMethod = "messenger"
	MethodSMS       NotificationMethod = "sms"
	MethodCall      NotificationMethod = "call"
	MethodEmail     NotificationMethod = "email"
)

// NotificationFrequency throttles routine location-update messages per channel.
// Reached/arrival events bypass the throttle.
type NotificationFrequency string

const (
	FreqEveryUpdate     NotificationFrequency = "every_update"
	FreqEvery3rdUpdate  NotificationFrequency = "every_3rd_update"
	FreqEvery5thUpdate  NotificationFrequency = "every_5th_update"
	FreqCheckpointsOnly NotificationFrequency = "checkpoints_only"
	FreqArrivalOnly     NotificationFrequency = "arrival_only"
)

type EventType string

const (
	EventTripStarted       EventType = "trip_started"
	EventCheckpointReached EventType = "checkpoint_reached"
	EventLowBattery        EventType = "low_battery_warning"
	EventLocationChanged   EventType = "location_changed"
	EventContactNotified   EventType = "contact_notified"
	EventTripCompleted     EventType = "trip_completed"
	EventTripCancelled     EventType = "trip_cancelled"
)

const (
	DefaultAlarmRadiusM      = 500.0
	DefaultNotifyRadiusM     = 200.0
	DefaultCheckpointRadiusM = 200.0

	// Trip JSON keeps a bounded tail of the route; the full history
	// lives in postgres.
	maxEmbeddedHistory = 500
)

// Checkpoint is an intermediate waypoint with its own arrival radius.
// HasBeenReached is monotonic: once set it never reverts for the life
// of the trip.
type Checkpoint struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Location geo.Coordinate `json:"location"`
	RadiusM  float64        `json:"radius_m"`

	NotifyOnEntry  bool `json:"notify_on_entry"`
	NotifyContacts bool `json:"notify_contacts"`
	NotifyTraveler bool `json:"notify_traveler"`

	HasBeenReached bool       `json:"has_been_reached"`
	ReachedAt      *time.Time `json:"reached_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (c *Checkpoint) MarkReached(at time.Time) {
	c.HasBeenReached = true
	c.ReachedAt = &at
}

func (c Checkpoint) Contains(p geo.Coordinate) bool {
	return geo.Distance(c.Location, p) <= c.RadiusM
}

// Contact is a pickup person notified about trip progress.
type Contact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email,omitempty"`

	PrimaryMethod  NotificationMethod `json:"primary_method"`
	FallbackMethod NotificationMethod `json:"fallback_method,omitempty"`
	AutoFallback   bool               `json:"auto_fallback"`

	MessengerFrequency NotificationFrequency `json:"messenger_frequency"`
	SMSFrequency       NotificationFrequency `json:"sms_frequency"`
	EmailFrequency     NotificationFrequency `json:"email_frequency"`

	CreatedAt time.Time `json:"created_at"`
}

// ShouldNotifyOnUpdate reports whether a routine location update (the
// updateCounter'th one) should go out on the given channel. In-app and
// call channels are not throttled.
func (c Contact) ShouldNotifyOnUpdate(updateCounter int, method NotificationMethod) bool {
	var freq NotificationFrequency
	switch method {
	case MethodMessenger:
		freq = c.MessengerFrequency
	case MethodSMS:
		freq = c.SMSFrequency
	case MethodEmail:
		freq = c.EmailFrequency
	default:
		return true
	}

	switch freq {
	case FreqEveryUpdate:
		return true
	case FreqEvery3rdUpdate:
		return updateCounter%3 == 0
	case FreqEvery5thUpdate:
		return updateCounter%5 == 0
	default: // checkpoints_only, arrival_only
		return false
	}
}

// LocationPoint is one sample in a trip's embedded route tail.
type LocationPoint struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedMps   float64   `json:"speed_mps"`
	BatteryPct int       `json:"battery_pct"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LocationChange records a mid-trip destination change.
type LocationChange struct {
	OldLocation geo.Coordinate `json:"old_location"`
	OldName     string         `json:"old_name"`
	NewLocation geo.Coordinate `json:"new_location"`
	NewName     string         `json:"new_name"`
	Reason      string         `json:"reason,omitempty"`
	ChangedAt   time.Time      `json:"changed_at"`
}

type Event struct {
	Type        EventType         `json:"type"`
	Description string            `json:"description"`
	Location    *geo.Coordinate   `json:"location,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Trip is one journey from start to destination with ordered checkpoints.
type Trip struct {
	ID           string `json:"id"`
	TravelerID   string `json:"traveler_id"`
	TravelerName string `json:"traveler_name"`

	StartLocation       geo.Coordinate `json:"start_location"`
	StartName           string         `json:"start_name"`
	OriginalDestination geo.Coordinate `json:"original_destination"`
	OriginalDestName    string         `json:"original_dest_name"`
	CurrentDestination  geo.Coordinate `json:"current_destination"`
	CurrentDestName     string         `json:"current_dest_name"`

	AlarmRadiusM  float64 `json:"alarm_radius_m"`
	NotifyRadiusM float64 `json:"notify_radius_m"`

	Checkpoints []Checkpoint `json:"checkpoints"`
	Contacts    []Contact    `json:"contacts"`

	Status          Status          `json:"status"`
	CurrentLocation *geo.Coordinate `json:"current_location,omitempty"`
	CurrentSpeedMps float64         `json:"current_speed_mps"`
	BatteryPct      int             `json:"battery_pct"`

	LocationHistory []LocationPoint  `json:"location_history"`
	LocationChanges []LocationChange `json:"location_changes"`
	Events          []Event          `json:"events"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Start moves a pending trip to active.
func (t *Trip) Start() bool {
	if t.Status != StatusPending {
		return false
	}
	now := time.Now()
	t.Status = StatusActive
	t.StartedAt = &now
	t.AddEvent(EventTripStarted, t.TravelerName+" started trip from "+t.StartName, nil)
	return true
}

func (t *Trip) Pause() bool {
	if t.Status != StatusActive {
		return false
	}
	t.Status = StatusPaused
	return true
}

func (t *Trip) Resume() bool {
	if t.Status != StatusPaused {
		return false
	}
	t.Status = StatusActive
	return true
}

// Complete moves an active or paused trip to completed. Completed and
// cancelled are terminal.
func (t *Trip) Complete() bool {
	if t.Status != StatusActive && t.Status != StatusPaused {
		return false
	}
	now := time.Now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.AddEvent(EventTripCompleted, "Arrived at "+t.CurrentDestName, &t.CurrentDestination)
	return true
}

func (t *Trip) Cancel() bool {
	if t.Status == StatusCompleted || t.Status == StatusCancelled {
		return false
	}
	now := time.Now()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	t.AddEvent(EventTripCancelled, "Trip cancelled", nil)
	return true
}

// IsTerminal reports whether no further mutation is allowed.
func (t *Trip) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

// UpdateLocation records a fix into the trip's embedded state.
func (t *Trip) UpdateLocation(p geo.Coordinate, speedMps float64, batteryPct int, at time.Time) {
	if t.IsTerminal() {
		return
	}
	loc := p
	t.CurrentLocation = &loc
	t.CurrentSpeedMps = speedMps
	t.BatteryPct = batteryPct

	t.LocationHistory = append(t.LocationHistory, LocationPoint{
		Lat:        p.Lat,
		Lng:        p.Lng,
		SpeedMps:   speedMps,
		BatteryPct: batteryPct,
		RecordedAt: at,
	})
	if len(t.LocationHistory) > maxEmbeddedHistory {
		t.LocationHistory = t.LocationHistory[len(t.LocationHistory)-maxEmbeddedHistory:]
	}
}

// ChangeDestination swaps the current destination mid-trip and records
// the change.
func (t *Trip) ChangeDestination(newLoc geo.Coordinate, newName, reason string) bool {
	if t.IsTerminal() {
		return false
	}
	t.LocationChanges = append(t.LocationChanges, LocationChange{
		OldLocation: t.CurrentDestination,
		OldName:     t.CurrentDestName,
		NewLocation: newLoc,
		NewName:     newName,
		Reason:      reason,
		ChangedAt:   time.Now(),
	})
	t.CurrentDestination = newLoc
	t.CurrentDestName = newName
	t.AddEvent(EventLocationChanged, "Destination changed to "+newName, &newLoc)
	return true
}

func (t *Trip) AddEvent(kind EventType, description string, loc *geo.Coordinate) {
	t.Events = append(t.Events, Event{
		Type:        kind,
		Description: description,
		Location:    loc,
		OccurredAt:  time.Now(),
	})
}

// RemainingDistance returns meters from the last known location to the
// current destination, or -1 when no fix has arrived yet.
func (t *Trip) RemainingDistance() float64 {
	if t.CurrentLocation == nil {
		return -1
	}
	return geo.Distance(*t.CurrentLocation, t.CurrentDestination)
}

// ProgressPercent is reached checkpoints over total, clamped to [0,100].
// A completed trip always reports 100.
func (t *Trip) ProgressPercent() int {
	if t.Status == StatusCompleted {
		return 100
	}
	if len(t.Checkpoints) == 0 {
		return 0
	}
	reached := 0
	for _, c := range t.Checkpoints {
		if c.HasBeenReached {
			reached++
		}
	}
	pct := reached * 100 / len(t.Checkpoints)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ETA estimates minutes to arrival from the current speed, assuming a
// 15 m/s floor when stationary. Returns -1 without a fix.
func (t *Trip) ETA() int {
	remaining := t.RemainingDistance()
	if remaining < 0 {
		return -1
	}
	speed := t.CurrentSpeedMps
	if speed <= 0 {
		speed = 15.0
	}
	return int(remaining / speed / 60)
}

// NextCheckpointIndex is the first unreached checkpoint, or len(Checkpoints)
// when all have been reached.
func (t *Trip) NextCheckpointIndex() int {
	for i, c := range t.Checkpoints {
		if !c.HasBeenReached {
			return i
		}
	}
	return len(t.Checkpoints)
}

// Progress is a derived, non-persisted snapshot sent to live subscribers.
type Progress struct {
	TripID                   string  `json:"trip_id"`
	Name                     string  `json:"name"`
	CheckpointIndex          int     `json:"checkpoint_index"`
	TotalCheckpoints         int     `json:"total_checkpoints"`
	DistanceToNextCheckpoint float64 `json:"distance_to_next_checkpoint"`
	DistanceToDestination    float64 `json:"distance_to_destination"`
	Percent                  int     `json:"percent"`
}
