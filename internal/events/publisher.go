// Package events публикует события жизненного цикла бронирований
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName = "visits"
	ExchangeKind = "topic"
)

// Ключи маршрутизации событий
const (
	BookingReserved  = "booking.reserved"
	BookingConfirmed = "booking.confirmed"
	BookingCancelled = "booking.cancelled"
	BookingCompleted = "booking.completed"
	BookingExpired   = "booking.expired"
)

// Publisher отправляет событие о бронировании
type Publisher interface {
	Publish(ctx context.Context, routingKey string, booking *model.Booking) error
	Close() error
}

// RoutingKeyFor возвращает ключ события для перехода в статус
func RoutingKeyFor(status model.BookingStatus) string {
	switch status {
	case model.BookingStatusConfirmed:
		return BookingConfirmed
	case model.BookingStatusCancelled:
		return BookingCancelled
	case model.BookingStatusCompleted:
		return BookingCompleted
	}
	return BookingReserved
}

// RabbitPublisher публикует события в topic exchange RabbitMQ
type RabbitPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
}

func NewRabbitPublisher(url string, logger *zap.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, ExchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	return &RabbitPublisher{conn: conn, channel: ch, logger: logger}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, booking *model.Booking) error {
	body, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("marshal booking: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx,
		ExchangeName,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    booking.ID.String(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	p.logger.Debug("Event published",
		zap.String("routing_key", routingKey),
		zap.String("booking_id", booking.ID.String()),
	)
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NopPublisher отбрасывает события, когда брокер не настроен
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, *model.Booking) error { return nil }
func (NopPublisher) Close() error                                          { return nil }

// Recorder запоминает опубликованные события; используется в тестах
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

type Event struct {
	RoutingKey string
	Booking    model.Booking
}

func (r *Recorder) Publish(_ context.Context, routingKey string, booking *model.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{RoutingKey: routingKey, Booking: *booking})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Keys возвращает ключи событий в порядке публикации
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, len(r.Events))
	for i, e := range r.Events {
		keys[i] = e.RoutingKey
	}
	return keys
}
