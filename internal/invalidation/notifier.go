package invalidation

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// Notifier publishes events synchronously, keyed by dataset so that events
// for one dataset stay ordered within a partition.
type Notifier struct {
	prod  sarama.SyncProducer
	topic string
}

func NewNotifier(brokers []string, topic string) (*Notifier, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create invalidation producer: %w", err)
	}
	return NewNotifierWithProducer(prod, topic), nil
}

func NewNotifierWithProducer(prod sarama.SyncProducer, topic string) *Notifier {
	return &Notifier{prod: prod, topic: topic}
}

func (n *Notifier) Notify(ev Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, _, err = n.prod.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(ev.Dataset),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("publish invalidation for %q: %w", ev.Dataset, err)
	}
	return nil
}

func (n *Notifier) Close() error { return n.prod.Close() }
