package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"backend-travelalarm/internal/trip"
)

func TestHubBroadcastToTripSubscribers(t *testing.T) {
	hub := NewHub(nil)

	sub := hub.Register("t1")
	other := hub.Register("t2")
	defer hub.Unregister(other)

	hub.Broadcast("t1", []byte("hello"))

	select {
	case msg := <-sub.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected payload: %s", msg)
		}
	default:
		t.Fatalf("expected payload for t1 subscriber")
	}

	select {
	case msg := <-other.Send:
		t.Fatalf("unexpected payload for other trip: %s", msg)
	default:
	}

	hub.Unregister(sub)
	hub.Broadcast("t1", []byte("after"))
}

func TestHubPublishProgressEnvelope(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Register("t1")
	defer hub.Unregister(sub)

	hub.PublishProgress("t1", trip.Progress{TripID: "t1", Percent: 40})

	var env Envelope
	select {
	case msg := <-sub.Send:
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
	default:
		t.Fatalf("expected progress envelope")
	}
	if env.Type != "progress" {
		t.Fatalf("expected progress type, got %q", env.Type)
	}
}

func TestHubPublishNotificationEnvelope(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Register("t1")
	defer hub.Unregister(sub)

	hub.PublishNotification("t1", "Almost there", "Approaching Central Station")

	var env Envelope
	select {
	case msg := <-sub.Send:
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
	default:
		t.Fatalf("expected notification envelope")
	}
	if env.Type != "notification" {
		t.Fatalf("expected notification type, got %q", env.Type)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["title"] != "Almost there" {
		t.Fatalf("unexpected data: %v", env.Data)
	}
}

func TestHubMirrorsOverRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	publisher := NewHub(client)
	subscriberSide := NewHub(redis.NewClient(&redis.Options{Addr: srv.Addr()}))

	// Give the pubsub subscription a moment to establish.
	time.Sleep(50 * time.Millisecond)

	sub := subscriberSide.Register("t1")
	defer subscriberSide.Unregister(sub)

	publisher.Broadcast("t1", []byte("mirrored"))

	select {
	case msg := <-sub.Send:
		if string(msg) != "mirrored" {
			t.Fatalf("unexpected payload: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected mirrored payload over redis")
	}
}

func TestTripIDFromChannel(t *testing.T) {
	if got := tripIDFromChannel("trips:abc:stream"); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := tripIDFromChannel("bogus"); got != "" {
		t.Fatalf("expected empty for malformed channel, got %q", got)
	}
	if got := redisChannel("abc"); got != "trips:abc:stream" {
		t.Fatalf("unexpected channel name: %q", got)
	}
}
