package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/domain/event"
)

// Channel is the subset of *amqp091.Channel the publisher needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Config holds broker settings
type Config struct {
	URL         string
	Exchange    string
	DialTimeout time.Duration
}

// Publisher forwards domain events to a durable topic exchange. The routing
// key is the event type, e.g. "claim.approved".
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  Channel
	reopen   func() (Channel, error)
	exchange string
	logger   *zap.Logger
}

// Dial connects to the broker and declares the exchange
func Dial(cfg Config, logger *zap.Logger) (*Publisher, error) {
	rawURL, err := sanitizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	conn, err := amqp091.DialConfig(rawURL, amqp091.Config{Dial: amqp091.DefaultDial(timeout)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewPublisher(ch, cfg.Exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	p.reopen = func() (Channel, error) { return conn.Channel() }
	return p, nil
}

// NewPublisher declares the exchange on an open channel
func NewPublisher(ch Channel, exchange string, logger *zap.Logger) (*Publisher, error) {
	if exchange == "" {
		return nil, errors.New("exchange cannot be empty")
	}
	if err := declare(ch, exchange); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// HandleEvent is a dispatcher handler publishing evt as JSON
func (p *Publisher) HandleEvent(ctx context.Context, evt *event.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     evt.ID,
		CorrelationId: evt.CorrelationID,
		Timestamp:     evt.Timestamp,
		Type:          evt.Type.String(),
		Body:          body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, evt.Type.String(), false, false, msg)
	if err == nil {
		p.logger.Debug("Event published",
			zap.String("event_id", evt.ID),
			zap.String("routing_key", evt.Type.String()))
		return nil
	}

	p.logger.Warn("Publish failed, reopening channel",
		zap.String("event_id", evt.ID),
		zap.Error(err))
	if p.reopen == nil {
		return fmt.Errorf("failed to publish %s: %w", evt.Type, err)
	}
	ch, chErr := p.reopen()
	if chErr != nil {
		return fmt.Errorf("failed to publish %s: %w", evt.Type, errors.Join(err, chErr))
	}
	p.channel = ch
	if err := declare(ch, p.exchange); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, evt.Type.String(), false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close closes the channel and the connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

func declare(ch Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

// sanitizeURL strips quotes left by env files and checks the scheme
func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid broker url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("broker url scheme must be amqp or amqps")
	}
	return clean, nil
}
