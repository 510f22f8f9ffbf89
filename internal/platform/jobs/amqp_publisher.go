package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tiendaplus/api/internal/services"
)

const defaultAMQPExchange = "orders"

// amqpChannel is the subset of *amqp.Channel used by the publisher.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPOrderEventPublisher publishes order lifecycle events to a RabbitMQ topic exchange.
// The event type is used as routing key.
type AMQPOrderEventPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

var _ services.OrderEventPublisher = (*AMQPOrderEventPublisher)(nil)

// DialAMQPOrderEventPublisher connects to the broker and declares the durable topic exchange.
func DialAMQPOrderEventPublisher(url, exchange string) (*AMQPOrderEventPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("amqp order publisher: url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp order publisher: dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp order publisher: open channel: %w", err)
	}
	publisher, err := newAMQPOrderEventPublisher(channel, exchange)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

func newAMQPOrderEventPublisher(channel amqpChannel, exchange string) (*AMQPOrderEventPublisher, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = defaultAMQPExchange
	}
	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp order publisher: declare exchange %s: %w", exchange, err)
	}
	return &AMQPOrderEventPublisher{channel: channel, exchange: exchange}, nil
}

// PublishOrderEvent sends the event as a persistent JSON message.
func (p *AMQPOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.channel == nil {
		return errors.New("amqp order publisher: not initialised")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         event.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish order event to %s/%s: %w", p.exchange, event.Type, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPOrderEventPublisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
