package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoChannel — канал недоступен (соединение разорвано или закрыто).
var ErrNoChannel = errors.New("no amqp channel available")

// Connection — AMQP соединение с переподключением.
//
// После разрыва соединение восстанавливается в фоне с экспоненциальной
// задержкой; подписчики узнают об этом через ReconnectNotify.
type Connection struct {
	url      string
	logger   *slog.Logger
	maxDelay time.Duration

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	closedCh    chan struct{}
	reconnectCh chan struct{}
}

// ConnectionConfig — параметры соединения.
type ConnectionConfig struct {
	URL    string
	Logger *slog.Logger

	// MaxReconnectDelay — верхняя граница задержки переподключения (30s по умолчанию).
	MaxReconnectDelay time.Duration
}

// Dial открывает соединение и запускает наблюдение за ним.
func Dial(cfg ConnectionConfig) (*Connection, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	c := &Connection{
		url:         cfg.URL,
		logger:      logger.With("component", "amqp"),
		maxDelay:    maxDelay,
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}

	go c.watch()
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("connected to rabbitmq")
	return nil
}

// watch ждёт закрытия соединения и переподключается.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn, closed := c.conn, c.closed
		c.mu.RUnlock()
		if closed {
			return
		}

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.closedCh:
			return
		case err := <-notify:
			if err != nil {
				c.logger.Warn("amqp connection lost", "error", err)
			}
			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect переподключается до успеха или Close. false — соединение закрыто.
func (c *Connection) reconnect() bool {
	delay := time.Second
	for {
		select {
		case <-c.closedCh:
			return false
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			c.logger.Warn("reconnect failed", "error", err, "next_delay", delay)
			delay = min(delay*2, c.maxDelay)
			continue
		}

		select {
		case c.reconnectCh <- struct{}{}:
		default:
		}
		return true
	}
}

// Channel возвращает текущий канал (nil, если соединения нет).
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify сигнализирует об успешном переподключении.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// IsConnected сообщает, открыто ли соединение.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// WithChannel выполняет fn на текущем канале.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := c.Channel()
	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	c.logger.Info("amqp connection closed")
	return errors.Join(errs...)
}
