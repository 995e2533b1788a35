package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "pkagent.events"

	connectionName = "pkagent"
	heartbeat      = 10 * time.Second

	// 服务和 RabbitMQ 一起启动时 broker 往往还没就绪
	defaultDialAttempts = 5
	defaultDialBackoff  = time.Second
)

// NewConnection dials RabbitMQ with the default retry policy.
func NewConnection(url string) (*amqp091.Connection, error) {
	return NewConnectionWithRetry(url, defaultDialAttempts, defaultDialBackoff)
}

// NewConnectionWithRetry dials up to attempts times, doubling backoff after
// each failure. The connection is named so it can be found in the management UI.
func NewConnectionWithRetry(url string, attempts int, backoff time.Duration) (*amqp091.Connection, error) {
	if attempts < 1 {
		attempts = 1
	}
	cfg := amqp091.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: amqp091.Table{"connection_name": connectionName},
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		conn, err := amqp091.DialConfig(url, cfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

// DeclareExchange declares the durable topic exchange all events go through.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil)
}
