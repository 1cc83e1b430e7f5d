package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"backend-travelalarm/internal/trip"

	"github.com/redis/go-redis/v9"
)

// Hub fans live trip updates out to websocket subscribers, mirrored over
// redis pub/sub so any instance serves any subscriber.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	TripID string
	Send   chan []byte
}

// Envelope wraps every message pushed to subscribers.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(tripID string) *Client {
	client := &Client{
		TripID: tripID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[tripID] == nil {
		h.clients[tripID] = map[*Client]struct{}{}
	}
	h.clients[tripID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tripClients, ok := h.clients[client.TripID]; ok {
		delete(tripClients, client)
		if len(tripClients) == 0 {
			delete(h.clients, client.TripID)
		}
	}
	close(client.Send)
}

func (h *Hub) Broadcast(tripID string, payload []byte) {
	h.mu.RLock()
	clients := h.clients[tripID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.Send <- payload:
		default:
		}
	}

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(tripID), payload).Err()
		if err != nil {
			log.Printf("stream: redis publish error: %v", err)
		}
	}
}

// PublishProgress satisfies the progress tracker's Publisher interface.
func (h *Hub) PublishProgress(tripID string, p trip.Progress) {
	payload, err := json.Marshal(Envelope{Type: "progress", Data: p})
	if err != nil {
		log.Printf("stream: encode progress: %v", err)
		return
	}
	h.Broadcast(tripID, payload)
}

// PublishNotification delivers an in-app message to the trip's subscribers.
func (h *Hub) PublishNotification(tripID, title, message string) {
	payload, err := json.Marshal(Envelope{Type: "notification", Data: map[string]string{
		"title":   title,
		"message": message,
	}})
	if err != nil {
		log.Printf("stream: encode notification: %v", err)
		return
	}
	h.Broadcast(tripID, payload)
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "trips:*:stream")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		tripID := tripIDFromChannel(msg.Channel)
		h.mu.RLock()
		clients := h.clients[tripID]
		h.mu.RUnlock()
		for client := range clients {
			select {
			case client.Send <- []byte(msg.Payload):
			default:
			}
		}
	}
}

func redisChannel(tripID string) string {
	return "trips:" + tripID + ":stream"
}

func tripIDFromChannel(ch string) string {
	// trips:{trip}:stream
	const prefix = "trips:"
	const suffix = ":stream"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
