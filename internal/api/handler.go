package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/mq"
	"github.com/shaiso/campaign-orchestrator/internal/repo"
)

// CampaignStore — хранилище проекций runs.
type CampaignStore interface {
	Create(ctx context.Context, run *domain.CampaignRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.CampaignRun, error)
	List(ctx context.Context, filter repo.CampaignFilter) ([]domain.CampaignRun, error)
}

// EventStore — чтение истории runs.
type EventStore interface {
	ListSince(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.Event, error)
}

// Inbox — durable очередь решений, из которой их читает gate.
type Inbox interface {
	Enqueue(ctx context.Context, runID uuid.UUID, sig domain.Signal) (domain.QueuedSignal, error)
}

// Publisher — отправка команд оркестратору.
type Publisher interface {
	PublishCampaignPending(ctx context.Context, runID uuid.UUID) error
	PublishDecision(ctx context.Context, d mq.DecisionPayload) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	campaigns CampaignStore
	events    EventStore
	inbox     Inbox
	publisher Publisher
	logger    *slog.Logger

	watchInterval time.Duration
	upgrader      websocket.Upgrader
}

// Config — конфигурация для создания Handler.
type Config struct {
	Campaigns CampaignStore
	Events    EventStore
	Inbox     Inbox
	Publisher Publisher
	Logger    *slog.Logger

	// WatchInterval — период опроса истории для /watch (по умолчанию 500ms).
	WatchInterval time.Duration
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 500 * time.Millisecond
	}
	return &Handler{
		campaigns:     cfg.Campaigns,
		events:        cfg.Events,
		inbox:         cfg.Inbox,
		publisher:     cfg.Publisher,
		logger:        cfg.Logger,
		watchInterval: cfg.WatchInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}
