// Package kafka relays events to a single topic keyed by aggregate id.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/relay"
)

type Sink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewConfig returns the producer settings used by the relay.
func NewConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.DialTimeout = 5 * time.Second
	return cfg
}

func Dial(brokers []string, topic, clientID string) (*Sink, error) {
	p, err := sarama.NewSyncProducer(brokers, NewConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("kafka: new producer: %w", err)
	}
	return New(p, topic), nil
}

func New(p sarama.SyncProducer, topic string) *Sink {
	return &Sink{producer: p, topic: topic}
}

// Send blocks until the broker acks; sarama's sync producer has no context hook, so ctx is
// only checked before the write.
func (s *Sink) Send(ctx context.Context, m relay.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(m.Key),
		Value: sarama.ByteEncoder(m.Body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(m.Name)},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka: send: %w", err)
	}
	return nil
}

func (s *Sink) Close() error { return s.producer.Close() }
