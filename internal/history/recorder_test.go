package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"

	"backend-travelalarm/internal/trip"
)

func TestRecordPoint(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	r := NewRecorder(mock)
	at := time.Now()

	mock.ExpectExec(`INSERT INTO location_points`).
		WithArgs("t1", 13.0, 80.2, 5.0, 80, 10.0, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r.RecordPoint(context.Background(), "t1", Point{
		Lat: 13.0, Lng: 80.2, SpeedMps: 5.0, BatteryPct: 80, AccuracyM: 10.0, RecordedAt: at,
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordEventSwallowsError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	r := NewRecorder(mock)

	mock.ExpectExec(`INSERT INTO trip_events`).
		WithArgs("t1", "checkpoint_reached", "Reached Bridge").
		WillReturnError(errors.New("db down"))

	// Recording is best-effort; a failure must not propagate.
	r.RecordEvent(context.Background(), "t1", trip.EventCheckpointReached, "Reached Bridge")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPoints(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	r := NewRecorder(mock)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, trip_id, lat, lng`).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "trip_id", "lat", "lng", "speed", "battery", "accuracy", "recorded_at", "created_at"}).
			AddRow(int64(1), "t1", 13.0, 80.2, 5.0, 80, 10.0, now, now).
			AddRow(int64(2), "t1", 13.01, 80.21, 6.0, 79, 8.0, now, now))

	points, err := r.Points(context.Background(), "t1")
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if len(points) != 2 || points[0].Lat != 13.0 {
		t.Fatalf("unexpected points: %+v", points)
	}
}

func TestEvents(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	r := NewRecorder(mock)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, trip_id, type, description, created_at`).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "trip_id", "type", "description", "created_at"}).
			AddRow(int64(1), "t1", "trip_started", "Asha started trip", now))

	events, err := r.Events(context.Background(), "t1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != trip.EventTripStarted {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	r := NewRecorder(nil)

	r.RecordPoint(context.Background(), "t1", Point{})
	r.RecordEvent(context.Background(), "t1", trip.EventTripStarted, "x")

	points, err := r.Points(context.Background(), "t1")
	if err != nil || points != nil {
		t.Fatalf("expected empty no-op result, got %v %v", points, err)
	}
	events, err := r.Events(context.Background(), "t1")
	if err != nil || events != nil {
		t.Fatalf("expected empty no-op result, got %v %v", events, err)
	}
}
