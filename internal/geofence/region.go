package geofence

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"backend-travelalarm/internal/shared/geo"
)

type Kind string

const (
	KindAlarm      Kind = "alarm"
	KindNotify     Kind = "notify"
	KindCheckpoint Kind = "checkpoint"
)

// RegionID identifies one monitored region. It stays structured inside
// the service; String/ParseRegionID exist only for the platform boundary.
type RegionID struct {
	Kind            Kind
	TripID          string
	CheckpointIndex int
}

func (id RegionID) String() string {
	if id.Kind == KindCheckpoint {
		return fmt.Sprintf("%s:%s:%d", id.Kind, id.TripID, id.CheckpointIndex)
	}
	return fmt.Sprintf("%s:%s", id.Kind, id.TripID)
}

func ParseRegionID(s string) (RegionID, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return RegionID{}, fmt.Errorf("malformed region id %q", s)
	}
	kind := Kind(parts[0])
	switch kind {
	case KindAlarm, KindNotify:
		if len(parts) != 2 {
			return RegionID{}, fmt.Errorf("malformed region id %q", s)
		}
		return RegionID{Kind: kind, TripID: parts[1]}, nil
	case KindCheckpoint:
		if len(parts) != 3 {
			return RegionID{}, fmt.Errorf("malformed region id %q", s)
		}
		idx, err := strconv.Atoi(parts[2])
		if err != nil {
			return RegionID{}, fmt.Errorf("malformed region id %q", s)
		}
		return RegionID{Kind: kind, TripID: parts[1], CheckpointIndex: idx}, nil
	default:
		return RegionID{}, fmt.Errorf("unknown region kind %q", parts[0])
	}
}

// Region is a named circular monitored area.
type Region struct {
	ID      RegionID
	Center  geo.Coordinate
	RadiusM float64
}

type TransitionType int

const (
	TransitionEnter TransitionType = iota
	TransitionExit
)

type Transition struct {
	Region Region
	Type   TransitionType
	At     time.Time
}

// Monitor is the platform region-monitoring facility. Register replaces
// the whole region set for each trip id present in the batch; the batch
// succeeds or fails as a unit. When initialTrigger is set, a region the
// device is already inside fires an enter on the next evaluation.
type Monitor interface {
	Register(regions []Region, initialTrigger bool) error
	Clear(tripID string) error
	Transitions() <-chan Transition
}

// LocalMonitor is an in-process Monitor driven by location fixes fed
// through Observe. It is the deployable stand-in for an OS region
// service: enter/exit detection is edge-triggered per region.
type LocalMonitor struct {
	mu      sync.Mutex
	regions map[string]*watchedRegion
	events  chan Transition
	closed  bool
}

type watchedRegion struct {
	region Region
	inside bool
	// armed regions may fire on the first fix already inside; unarmed
	// ones adopt the first fix as baseline silently.
	armed bool
}

func NewLocalMonitor() *LocalMonitor {
	return &LocalMonitor{
		regions: map[string]*watchedRegion{},
		events:  make(chan Transition, 64),
	}
}

func (m *LocalMonitor) Register(regions []Region, initialTrigger bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("monitor closed")
	}

	// Replace existing sets for every trip in the batch so re-running
	// setup never duplicates regions.
	seen := map[string]struct{}{}
	for _, r := range regions {
		seen[r.ID.TripID] = struct{}{}
	}
	for key, w := range m.regions {
		if _, ok := seen[w.region.ID.TripID]; ok {
			delete(m.regions, key)
		}
	}

	for _, r := range regions {
		m.regions[r.ID.String()] = &watchedRegion{region: r, armed: initialTrigger}
	}
	return nil
}

func (m *LocalMonitor) Clear(tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, w := range m.regions {
		if w.region.ID.TripID == tripID {
			delete(m.regions, key)
		}
	}
	return nil
}

func (m *LocalMonitor) Transitions() <-chan Transition {
	return m.events
}

// Observe evaluates a fix against every watched region and emits
// enter/exit transitions for regions whose containment state flipped.
func (m *LocalMonitor) Observe(p geo.Coordinate, at time.Time) {
	m.mu.Lock()
	var fired []Transition
	for _, w := range m.regions {
		inside := geo.Distance(w.region.Center, p) <= w.region.RadiusM
		switch {
		case inside && !w.inside:
			w.inside = true
			if w.armed {
				fired = append(fired, Transition{Region: w.region, Type: TransitionEnter, At: at})
			}
		case !inside && w.inside:
			w.inside = false
			fired = append(fired, Transition{Region: w.region, Type: TransitionExit, At: at})
		}
		// After the first evaluation every region reports real entries.
		w.armed = true
	}
	m.mu.Unlock()

	for _, tr := range fired {
		select {
		case m.events <- tr:
		default:
			// A full queue evicts the oldest pending transition; the
			// progress tracker independently detects arrival from raw
			// fixes.
			select {
			case <-m.events:
			default:
			}
			select {
			case m.events <- tr:
			default:
			}
		}
	}
}

func (m *LocalMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
}
