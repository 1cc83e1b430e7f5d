package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend-travelalarm/internal/trip"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrChannelUnavailable marks a send that failed because the channel
// cannot deliver right now (no gateway, no permission, delivery error).
// It is what drives the per-contact fallback attempt.
var ErrChannelUnavailable = errors.New("notification channel unavailable")

// Sender delivers one message to one contact over a single channel.
type Sender interface {
	Send(ctx context.Context, contact trip.Contact, tripID, message string) error
}

const gatewayExchange = "notify.gateway"

// GatewayPublisher hands SMS, call, messenger and email sends to the
// platform gateway workers over an AMQP topic exchange, one routing key
// per channel.
type GatewayPublisher struct {
	ch *amqp.Channel
}

func NewGatewayPublisher(ch *amqp.Channel) (*GatewayPublisher, error) {
	if ch == nil {
		return nil, nil
	}
	if err := ch.ExchangeDeclare(gatewayExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &GatewayPublisher{ch: ch}, nil
}

type gatewayMessage struct {
	Channel     string `json:"channel"`
	TripID      string `json:"trip_id"`
	ContactID   string `json:"contact_id"`
	ContactName string `json:"contact_name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Email       string `json:"email,omitempty"`
	Message     string `json:"message"`
}

func (p *GatewayPublisher) publish(ctx context.Context, method trip.NotificationMethod, contact trip.Contact, tripID, message string) error {
	body, err := json.Marshal(gatewayMessage{
		Channel:     string(method),
		TripID:      tripID,
		ContactID:   contact.ID,
		ContactName: contact.Name,
		PhoneNumber: contact.PhoneNumber,
		Email:       contact.Email,
		Message:     message,
	})
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, gatewayExchange, "notify."+string(method), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return nil
}

// GatewaySender binds the publisher to one channel kind.
type GatewaySender struct {
	pub    *GatewayPublisher
	method trip.NotificationMethod
}

func NewGatewaySender(pub *GatewayPublisher, method trip.NotificationMethod) *GatewaySender {
	return &GatewaySender{pub: pub, method: method}
}

func (s *GatewaySender) Send(ctx context.Context, contact trip.Contact, tripID, message string) error {
	if s.pub == nil {
		return fmt.Errorf("%w: no gateway configured", ErrChannelUnavailable)
	}
	if s.method == trip.MethodEmail && contact.Email == "" {
		return fmt.Errorf("%w: contact has no email", ErrChannelUnavailable)
	}
	return s.pub.publish(ctx, s.method, contact, tripID, message)
}

// InAppPublisher is the live-stream surface for in-app notifications.
type InAppPublisher interface {
	PublishNotification(tripID, title, message string)
}

// InAppSender pushes to the trip's live stream subscribers.
type InAppSender struct {
	hub InAppPublisher
}

func NewInAppSender(hub InAppPublisher) *InAppSender {
	return &InAppSender{hub: hub}
}

func (s *InAppSender) Send(_ context.Context, contact trip.Contact, tripID, message string) error {
	if s.hub == nil {
		return fmt.Errorf("%w: no stream hub", ErrChannelUnavailable)
	}
	s.hub.PublishNotification(tripID, "Update for "+contact.Name, message)
	return nil
}
