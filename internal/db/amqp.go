package db

import (
	"backend-travelalarm/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

var dialAMQPFn = amqp.Dial

// ConnectAMQP opens a channel to the notification gateway broker.
// The broker is optional; an empty URL disables the gateway.
func ConnectAMQP(cfg config.Config) (*amqp.Connection, *amqp.Channel, error) {
	if cfg.AMQPURL == "" {
		return nil, nil, nil
	}

	conn, err := dialAMQPFn(cfg.AMQPURL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
