package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	// ExchangeRuns — новые кампании (direct).
	ExchangeRuns Exchange = "campaign.runs"

	// ExchangeDecisions — решения ревьюеров (fanout): каждый экземпляр
	// orchestrator получает каждое решение и доставляет его, если run у него.
	ExchangeDecisions Exchange = "campaign.decisions"

	ExchangeDLQ Exchange = "campaign.dlq"
)

const (
	QueueCampaignsPending Queue = "campaigns.pending"
	QueueDLQCampaigns     Queue = "dlq.campaigns"
)

const (
	RoutingKeyPending  RoutingKey = "pending"
	RoutingKeyDLQ      RoutingKey = "campaigns"
	RoutingKeyDecision RoutingKey = ""
)

// DecisionQueue возвращает имя очереди решений экземпляра orchestrator.
func DecisionQueue(instanceID string) Queue {
	return Queue("campaign.decisions." + instanceID)
}

// SetupTopology объявляет обменники и общие очереди. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Exchanges
		for _, ex := range []struct {
			name Exchange
			kind string
		}{
			{ExchangeRuns, amqp.ExchangeDirect},
			{ExchangeDecisions, amqp.ExchangeFanout},
			{ExchangeDLQ, amqp.ExchangeDirect},
		} {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		// 2. Queues. campaigns.pending уходит в DLQ после nack без requeue.
		pendingArgs := amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQ),
		}
		for _, q := range []struct {
			name Queue
			args amqp.Table
		}{
			{QueueCampaignsPending, pendingArgs},
			{QueueDLQCampaigns, nil},
		} {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		// 3. Bindings
		if err := ch.QueueBind(string(QueueCampaignsPending), string(RoutingKeyPending), string(ExchangeRuns), false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", QueueCampaignsPending, err)
		}
		if err := ch.QueueBind(string(QueueDLQCampaigns), string(RoutingKeyDLQ), string(ExchangeDLQ), false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", QueueDLQCampaigns, err)
		}
		return nil
	})
}

// DeclareDecisionQueue объявляет очередь решений экземпляра и привязывает
// её к fanout. Очередь эксклюзивная и удаляется вместе с соединением,
// поэтому объявляется заново после каждого переподключения.
func DeclareDecisionQueue(queue Queue) func(ch *amqp.Channel) error {
	return func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(string(queue), false, true, true, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(string(queue), string(RoutingKeyDecision), string(ExchangeDecisions), false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", queue, err)
		}
		return nil
	}
}

// TopologyInfo описывает топологию для логов при старте.
func TopologyInfo() string {
	return `
  campaign.runs (direct)
  └── campaigns.pending [pending] → orchestrator, DLQ dlq.campaigns

  campaign.decisions (fanout)
  └── campaign.decisions.<instance> (exclusive) → orchestrator instance

  campaign.dlq (direct)
  └── dlq.campaigns [campaigns]
`
}
