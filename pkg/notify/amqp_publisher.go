package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"foundersforum/pkg/domain"
)

// RoutingKeyRegistered is the routing key of registration events.
const RoutingKeyRegistered = "registration.created"

// RegisteredEvent is the message body published for each registration.
type RegisteredEvent struct {
	Type         string    `json:"type"`
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Organization string    `json:"organization"`
	IsFounder    bool      `json:"is_founder"`
	CompanyName  string    `json:"company_name,omitempty"`
	IsPitching   bool      `json:"is_pitching"`
	PitchFileURL string    `json:"pitch_file_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AMQPPublisher publishes registration events to a topic exchange.
type AMQPPublisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "foundersforum.events"
	}
	p := &AMQPPublisher{url: url, exchange: exchange}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// NotifyRegistered publishes a persistent registration.created message.
// A closed connection is re-dialed once.
func (p *AMQPPublisher) NotifyRegistered(ctx context.Context, reg domain.Registration) error {
	msg, err := registeredMessage(reg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() || p.conn == nil || p.conn.IsClosed() {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyRegistered, false, false, msg); err != nil {
		return fmt.Errorf("publish registration event: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func registeredMessage(reg domain.Registration) (amqp.Publishing, error) {
	body, err := json.Marshal(RegisteredEvent{
		Type:         RoutingKeyRegistered,
		ID:           reg.ID,
		Name:         reg.Name,
		Email:        reg.Email,
		Organization: reg.Organization,
		IsFounder:    reg.IsFounder,
		CompanyName:  reg.CompanyName,
		IsPitching:   reg.IsPitching,
		PitchFileURL: reg.PitchFileURL,
		CreatedAt:    reg.CreatedAt,
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode registration event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    reg.ID,
		Timestamp:    reg.CreatedAt,
		Type:         RoutingKeyRegistered,
		Body:         body,
	}, nil
}
