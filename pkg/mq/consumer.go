package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"pkagent/pkg/metrics"
	"pkagent/pkg/trace"
	"pkagent/pkg/util"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

// dispositionFor 决定一条消息处理结果：成功 ack，可重试错误重新入队，不可重试错误进 DLQ
func dispositionFor(err error) (disposition, string) {
	if err == nil {
		return dispositionAck, ""
	}
	retryable, errType := util.IsRetryableError(err)
	if retryable {
		return dispositionRequeue, errType
	}
	return dispositionDeadLetter, errType
}

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
	// deadLetter 发布到 DLQ，默认走 channel
	deadLetter func(ctx context.Context, routingKey string, body []byte, headers amqp091.Table) error

	stopOnce sync.Once
	done     chan struct{}
}

// NewConsumer creates a consumer for a specific routing key, with its dead letter queue.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(format string, err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf(format, err)
	}

	if err := DeclareExchange(ch); err != nil {
		return fail("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fail("failed to declare DLQ exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
		return fail("failed to declare DLQ queue: %w", err)
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fail("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		return fail("failed to bind queue: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
		deadLetter: func(ctx context.Context, routingKey string, body []byte, headers amqp091.Table) error {
			return publishToDLQ(ctx, ch, routingKey, body, headers)
		},
		done: make(chan struct{}),
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// IsConnected 用于 readiness 检查
func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// Stop 停止消费并关闭连接，可重复调用
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.Close()
	})
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"pkagent-"+c.routingKey,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-c.done:
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handleDelivery(msg)
		}
	}
}

// handleDelivery 保证每条消息都会被 ack、nack 或转入 DLQ
func (c *Consumer) handleDelivery(msg amqp091.Delivery) {
	start := time.Now()
	ctx := context.Background()
	if traceID, ok := msg.Headers[trace.HeaderName()].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx = trace.Ensure(ctx)

	log := c.logger.With(
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("trace_id", trace.FromContext(ctx)),
	)

	// panic 的消息重投只会再 panic，直接进 DLQ
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered, sending to DLQ", zap.Any("panic", r))
			metrics.RecordMQConsumeLatency(c.routingKey, "panic", time.Since(start))
			if !c.sendToDLQ(ctx, log, msg, fmt.Sprintf("panic: %v", r), "panic") {
				if err := msg.Nack(false, false); err != nil {
					log.Error("Failed to reject message after panic", zap.Error(err))
				}
			}
		}
	}()

	err := c.handler(ctx, msg.Body)
	action, errType := dispositionFor(err)

	switch action {
	case dispositionAck:
		metrics.RecordMQConsumeLatency(c.routingKey, "ack", time.Since(start))
		if err := msg.Ack(false); err != nil {
			log.Error("Failed to ack message", zap.Error(err))
		}
	case dispositionRequeue:
		log.Warn("Handler error, requeueing", zap.String("error_type", errType), zap.Error(err))
		metrics.RecordMQConsumeLatency(c.routingKey, "requeue", time.Since(start))
		if err := msg.Nack(false, true); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
	case dispositionDeadLetter:
		log.Error("Handler error, sending to DLQ", zap.String("error_type", errType), zap.Error(err))
		metrics.RecordMQConsumeLatency(c.routingKey, "dlq", time.Since(start))
		if !c.sendToDLQ(ctx, log, msg, err.Error(), errType) {
			log.Warn("Requeueing message the DLQ did not take")
			_ = msg.Nack(false, true)
		}
	}
}

// sendToDLQ publishes msg to the dead letter exchange and acks it. It
// returns false, leaving msg unacked, when the publish fails.
func (c *Consumer) sendToDLQ(ctx context.Context, log *zap.Logger, msg amqp091.Delivery, reason, errType string) bool {
	headers := dlqHeaders(reason, errType, "pkagent")
	if err := c.deadLetter(ctx, c.routingKey, msg.Body, headers); err != nil {
		log.Error("Failed to publish to DLQ", zap.Error(err))
		return false
	}
	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack dead-lettered message", zap.Error(err))
	}
	return true
}
