package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPoison — сообщение нельзя обработать повторно; уходит в DLQ без requeue.
var ErrPoison = errors.New("poison message")

// Handler обрабатывает сообщение. nil — ack, ErrPoison — nack без requeue,
// любая другая ошибка — nack с requeue.
type Handler func(ctx context.Context, msg *Message) error

// Consumer читает очередь до отмены ctx, переживая переподключения.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int
	declare  func(ch *amqp.Channel) error
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue    Queue
	Handler  Handler
	Prefetch int

	// Declare вызывается на канале перед каждым Consume (например,
	// DeclareDecisionQueue для эксклюзивной очереди).
	Declare func(ch *amqp.Channel) error
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
		declare:  cfg.Declare,
	}
}

// Run потребляет сообщения до отмены ctx.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("subscribe failed, waiting for reconnect", "error", err)
		} else {
			c.logger.Info("consumer started")
			c.drain(ctx, deliveries)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if c.declare != nil {
		if err := c.declare(ch); err != nil {
			return nil, err
		}
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(ctx, raw)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message", "error", err, "body", string(raw.Body))
		raw.Nack(false, false)
		return
	}

	err := c.handler(ctx, &msg)
	switch {
	case err == nil:
		raw.Ack(false)
	case errors.Is(err, ErrPoison):
		c.logger.Error("message rejected", "message_id", msg.ID, "type", msg.Type, "error", err)
		raw.Nack(false, false)
	default:
		c.logger.Warn("handler failed, requeueing", "message_id", msg.ID, "type", msg.Type, "error", err)
		raw.Nack(false, !raw.Redelivered)
	}
}

// ParsePayload разбирает payload сообщения в T. Ошибка разбора — ErrPoison.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: %s payload: %v", ErrPoison, msg.Type, err)
	}
	return out, nil
}
