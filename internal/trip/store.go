package trip

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	tripsKey    = "travelalarm:trips"
	contactsKey = "travelalarm:contacts"
	activeKey   = "travelalarm:active_trip_id"
)

// Store owns the durable representation of trips and contacts plus the
// single active-trip pointer. Collections are stored as JSON lists and
// saved with a read-all, mutate, write-all pattern; the mutex serializes
// concurrent writers so no caller's change is silently dropped.
//
// All operations fail closed: on a serialization or I/O error they log
// and return false/empty/nil, never an error.
type Store struct {
	rdb *redis.Client
	mu  sync.Mutex
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) SaveTrip(ctx context.Context, t Trip) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	trips := s.loadTrips(ctx)
	replaced := false
	for i := range trips {
		if trips[i].ID == t.ID {
			trips[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		trips = append(trips, t)
	}
	return s.writeTrips(ctx, trips)
}

func (s *Store) GetAllTrips(ctx context.Context) []Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTrips(ctx)
}

func (s *Store) GetTripByID(ctx context.Context, id string) *Trip {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.loadTrips(ctx) {
		if t.ID == id {
			found := t
			return &found
		}
	}
	return nil
}

// DeleteTrip removes the trip and, when it was the active one, clears
// the active-trip pointer as part of the same operation.
func (s *Store) DeleteTrip(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	trips := s.loadTrips(ctx)
	kept := trips[:0]
	removed := false
	for _, t := range trips {
		if t.ID == id {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	if !removed {
		return false
	}
	if !s.writeTrips(ctx, kept) {
		return false
	}
	if s.activeTripID(ctx) == id {
		s.clearActive(ctx)
	}
	return true
}

func (s *Store) SetActiveTrip(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rdb == nil {
		return false
	}
	if err := s.rdb.Set(ctx, activeKey, id, 0).Err(); err != nil {
		log.Printf("trip store: set active trip: %v", err)
		return false
	}
	return true
}

func (s *Store) GetActiveTripID(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTripID(ctx)
}

func (s *Store) GetActiveTrip(ctx context.Context) *Trip {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.activeTripID(ctx)
	if id == "" {
		return nil
	}
	for _, t := range s.loadTrips(ctx) {
		if t.ID == id {
			found := t
			return &found
		}
	}
	return nil
}

func (s *Store) ClearActiveTrip(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearActive(ctx)
}

// CompleteTrip clears the active-trip pointer. The status mutation on
// the trip itself is the caller's responsibility.
func (s *Store) CompleteTrip(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeTripID(ctx) == id {
		s.clearActive(ctx)
	}
	return true
}

func (s *Store) SaveContact(ctx context.Context, c Contact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts := s.loadContacts(ctx)
	replaced := false
	for i := range contacts {
		if contacts[i].ID == c.ID {
			contacts[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		contacts = append(contacts, c)
	}
	return s.writeContacts(ctx, contacts)
}

func (s *Store) GetAllContacts(ctx context.Context) []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadContacts(ctx)
}

func (s *Store) GetContactByID(ctx context.Context, id string) *Contact {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.loadContacts(ctx) {
		if c.ID == id {
			found := c
			return &found
		}
	}
	return nil
}

func (s *Store) DeleteContact(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts := s.loadContacts(ctx)
	kept := contacts[:0]
	removed := false
	for _, c := range contacts {
		if c.ID == id {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	if !removed {
		return false
	}
	return s.writeContacts(ctx, kept)
}

// Export bundles the whole store for backup.
type Export struct {
	Trips        []Trip    `json:"trips"`
	Contacts     []Contact `json:"contacts"`
	ActiveTripID string    `json:"active_trip_id,omitempty"`
}

func (s *Store) ExportData(ctx context.Context) Export {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Export{
		Trips:        s.loadTrips(ctx),
		Contacts:     s.loadContacts(ctx),
		ActiveTripID: s.activeTripID(ctx),
	}
}

// ImportData replaces the trip and contact collections with the bundle's
// and restores the active-trip pointer when the bundle carries one.
func (s *Store) ImportData(ctx context.Context, data Export) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.writeTrips(ctx, data.Trips) {
		return false
	}
	if !s.writeContacts(ctx, data.Contacts) {
		return false
	}
	if data.ActiveTripID != "" {
		if err := s.rdb.Set(ctx, activeKey, data.ActiveTripID, 0).Err(); err != nil {
			log.Printf("trip store: restore active trip: %v", err)
			return false
		}
	}
	return true
}

func (s *Store) Statistics(ctx context.Context) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	trips := s.loadTrips(ctx)
	stats := map[string]int{
		"total_trips":    len(trips),
		"total_contacts": len(s.loadContacts(ctx)),
		"has_active":     0,
		"completed":      0,
		"cancelled":      0,
	}
	for _, t := range trips {
		switch t.Status {
		case StatusCompleted:
			stats["completed"]++
		case StatusCancelled:
			stats["cancelled"]++
		}
	}
	if s.activeTripID(ctx) != "" {
		stats["has_active"] = 1
	}
	return stats
}

func (s *Store) loadTrips(ctx context.Context) []Trip {
	if s.rdb == nil {
		return nil
	}
	raw, err := s.rdb.Get(ctx, tripsKey).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("trip store: load trips: %v", err)
		return nil
	}
	var trips []Trip
	if err := json.Unmarshal(raw, &trips); err != nil {
		log.Printf("trip store: decode trips: %v", err)
		return nil
	}
	return trips
}

func (s *Store) writeTrips(ctx context.Context, trips []Trip) bool {
	if s.rdb == nil {
		return false
	}
	raw, err := json.Marshal(trips)
	if err != nil {
		log.Printf("trip store: encode trips: %v", err)
		return false
	}
	if err := s.rdb.Set(ctx, tripsKey, raw, 0).Err(); err != nil {
		log.Printf("trip store: write trips: %v", err)
		return false
	}
	return true
}

func (s *Store) loadContacts(ctx context.Context) []Contact {
	if s.rdb == nil {
		return nil
	}
	raw, err := s.rdb.Get(ctx, contactsKey).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("trip store: load contacts: %v", err)
		return nil
	}
	var contacts []Contact
	if err := json.Unmarshal(raw, &contacts); err != nil {
		log.Printf("trip store: decode contacts: %v", err)
		return nil
	}
	return contacts
}

func (s *Store) writeContacts(ctx context.Context, contacts []Contact) bool {
	if s.rdb == nil {
		return false
	}
	raw, err := json.Marshal(contacts)
	if err != nil {
		log.Printf("trip store: encode contacts: %v", err)
		return false
	}
	if err := s.rdb.Set(ctx, contactsKey, raw, 0).Err(); err != nil {
		log.Printf("trip store: write contacts: %v", err)
		return false
	}
	return true
}

func (s *Store) activeTripID(ctx context.Context) string {
	if s.rdb == nil {
		return ""
	}
	id, err := s.rdb.Get(ctx, activeKey).Result()
	if err == redis.Nil {
		return ""
	}
	if err != nil {
		log.Printf("trip store: load active trip id: %v", err)
		return ""
	}
	return id
}

func (s *Store) clearActive(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, activeKey).Err(); err != nil {
		log.Printf("trip store: clear active trip: %v", err)
	}
}
