package history

import (
	"context"
	"log"
	"time"

	"backend-travelalarm/internal/db"
	"backend-travelalarm/internal/trip"
)

type Point struct {
	ID         int64     `json:"id"`
	TripID     string    `json:"trip_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedMps   float64   `json:"speed_mps"`
	BatteryPct int       `json:"battery_pct"`
	AccuracyM  float64   `json:"accuracy_m"`
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type EventRecord struct {
	ID          int64          `json:"id"`
	TripID      string         `json:"trip_id"`
	Type        trip.EventType `json:"type"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Recorder keeps the full append-only location and event history in
// postgres; the trip JSON only carries a bounded tail. Without a pool
// the recorder degrades to a no-op, matching how the rest of the stack
// treats postgres as optional.
type Recorder struct {
	db db.Querier
}

func NewRecorder(q db.Querier) *Recorder {
	return &Recorder{db: q}
}

func (r *Recorder) RecordPoint(ctx context.Context, tripID string, p Point) {
	if r.db == nil {
		return
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO location_points (trip_id, lat, lng, speed_mps, battery_pct, accuracy_m, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tripID, p.Lat, p.Lng, p.SpeedMps, p.BatteryPct, p.AccuracyM, p.RecordedAt)
	if err != nil {
		log.Printf("history: record point for trip %s: %v", tripID, err)
	}
}

func (r *Recorder) RecordEvent(ctx context.Context, tripID string, kind trip.EventType, description string) {
	if r.db == nil {
		return
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO trip_events (trip_id, type, description)
		VALUES ($1,$2,$3)
	`, tripID, string(kind), description)
	if err != nil {
		log.Printf("history: record event for trip %s: %v", tripID, err)
	}
}

func (r *Recorder) Points(ctx context.Context, tripID string) ([]Point, error) {
	if r.db == nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, trip_id, lat, lng, COALESCE(speed_mps,0), COALESCE(battery_pct,0), COALESCE(accuracy_m,0), recorded_at, created_at
		FROM location_points WHERE trip_id=$1
		ORDER BY recorded_at
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.ID, &p.TripID, &p.Lat, &p.Lng, &p.SpeedMps, &p.BatteryPct, &p.AccuracyM, &p.RecordedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

func (r *Recorder) Events(ctx context.Context, tripID string) ([]EventRecord, error) {
	if r.db == nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, trip_id, type, description, created_at
		FROM trip_events WHERE trip_id=$1
		ORDER BY created_at
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var kind string
		if err := rows.Scan(&e.ID, &e.TripID, &kind, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = trip.EventType(kind)
		events = append(events, e)
	}
	return events, nil
}
