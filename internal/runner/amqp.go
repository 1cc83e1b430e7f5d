package runner

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"backend-travelalarm/internal/progress"
	"backend-travelalarm/internal/shared/geo"
	"backend-travelalarm/internal/trip"
)

const (
	fixQueue    = "travelalarm.location_fixes"
	fixConsumer = "travelalarm-runner"
	fixPrefetch = 32
)

// fixMessage is the wire shape published by companion devices that
// report location over the broker instead of HTTP.
type fixMessage struct {
	TripID     string  `json:"trip_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	SpeedMps   float64 `json:"speed_mps"`
	AccuracyM  float64 `json:"accuracy_m"`
	BatteryPct int     `json:"battery_pct"`
	Timestamp  int64   `json:"timestamp"`
}

// FixConsumer bridges broker-delivered location fixes into the runner's
// fix provider. Fixes addressed to anything but the active trip are
// acked and dropped.
type FixConsumer struct {
	ch       *amqp.Channel
	store    *trip.Store
	provider *ChannelProvider
}

// NewFixConsumer returns nil when the broker is not configured; the
// HTTP location endpoint remains the only intake in that case.
func NewFixConsumer(ch *amqp.Channel, store *trip.Store, provider *ChannelProvider) (*FixConsumer, error) {
	if ch == nil {
		return nil, nil
	}
	if _, err := ch.QueueDeclare(fixQueue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	if err := ch.Qos(fixPrefetch, 0, false); err != nil {
		return nil, err
	}
	return &FixConsumer{ch: ch, store: store, provider: provider}, nil
}

// Run consumes until the context is cancelled or the channel closes.
func (c *FixConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(fixQueue, fixConsumer, false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			c.handle(ctx, d)
		}
	}
}

func (c *FixConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var msg fixMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Printf("runner: discarding malformed fix message: %v", err)
		_ = d.Ack(false)
		return
	}

	activeID := c.store.GetActiveTripID(ctx)
	if activeID == "" || msg.TripID != activeID {
		_ = d.Ack(false)
		return
	}

	at := time.Now()
	if msg.Timestamp > 0 {
		at = time.UnixMilli(msg.Timestamp)
	}

	c.provider.Push(progress.Fix{
		Location:   geo.Coordinate{Lat: msg.Lat, Lng: msg.Lng},
		SpeedMps:   msg.SpeedMps,
		AccuracyM:  msg.AccuracyM,
		BatteryPct: msg.BatteryPct,
		Timestamp:  at,
	})
	_ = d.Ack(false)
}
