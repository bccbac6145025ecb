package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

const (
	MessageTypeCampaignPending  MessageType = "campaign.pending"
	MessageTypeCampaignDecision MessageType = "campaign.decision"
)

// Message — конверт сообщения.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// CampaignPendingPayload — новая кампания ждёт запуска.
type CampaignPendingPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// DecisionPayload — решение ревьюера для стадии run.
type DecisionPayload struct {
	RunID    uuid.UUID       `json:"run_id"`
	Stage    domain.Stage    `json:"stage"`
	Attempt  int             `json:"attempt"`
	Decision domain.Decision `json:"decision"`
	Feedback string          `json:"feedback,omitempty"`
}

// Signal превращает решение в сигнал run.
func (p DecisionPayload) Signal() domain.Signal {
	return domain.NewDecisionSignal(p.Stage, p.Attempt, p.Decision, p.Feedback)
}

// NewMessage собирает конверт с новым ID.
func NewMessage(typ MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Publisher публикует сообщения кампаний.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish отправляет сообщение в exchange.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Type:         string(msg.Type),
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", key,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishCampaignPending сообщает orchestrator о новой кампании.
func (p *Publisher) PublishCampaignPending(ctx context.Context, runID uuid.UUID) error {
	msg, err := NewMessage(MessageTypeCampaignPending, CampaignPendingPayload{RunID: runID})
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeRuns, RoutingKeyPending, msg)
}

// PublishDecision рассылает решение всем экземплярам orchestrator.
func (p *Publisher) PublishDecision(ctx context.Context, d DecisionPayload) error {
	msg, err := NewMessage(MessageTypeCampaignDecision, d)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeDecisions, RoutingKeyDecision, msg)
}
