// Package rabbitmq relays events to a durable topic exchange, routed by event name.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/relay"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "minishop.events"

// Channel is the subset of *amqp.Channel the sink uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

type Sink struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
}

// Dial opens a connection and channel and prepares the exchange.
func Dial(url, exchange string) (*Sink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	s, err := New(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	s.conn = conn
	return s, nil
}

// New declares the exchange once and switches the channel into confirm mode.
func New(ch Channel, exchange string) (*Sink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("rabbitmq: enable confirm mode: %w", err)
	}
	return &Sink{ch: ch, exchange: exchange}, nil
}

func (s *Sink) Send(ctx context.Context, m relay.Message) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.Key,
		Type:         m.Name,
		Timestamp:    time.Now().UTC(),
		Body:         m.Body,
	}
	conf, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, s.exchange, m.Name, false, false, pub)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	if conf == nil {
		return nil
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq: await confirm: %w", err)
	}
	if !acked {
		return errors.New("rabbitmq: broker nacked message")
	}
	return nil
}

func (s *Sink) Close() error {
	err := s.ch.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}
