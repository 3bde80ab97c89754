// Package mapevents publishes a record of every served GetMap request to
// Kafka. Publishing never blocks the request path: when the queue is full
// the event is dropped and counted.
package mapevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/wmsd/internal/core/observability"
	"github.com/mohammed-shakir/wmsd/internal/geo"
	"github.com/mohammed-shakir/wmsd/internal/logger"
)

type Event struct {
	RequestID string     `json:"request_id,omitempty"`
	Path      string     `json:"path,omitempty"`
	Layers    []string   `json:"layers"`
	Styles    []string   `json:"styles"`
	BBox      [4]float64 `json:"bbox"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	TS        time.Time  `json:"ts"`
}

// NewEvent stamps an event for a rendered map.
func NewEvent(ctx context.Context, path string, layers, styles []string, bbox geo.BBox, width, height int) Event {
	return Event{
		RequestID: logger.RequestID(ctx),
		Path:      path,
		Layers:    layers,
		Styles:    styles,
		BBox:      [4]float64{bbox.West, bbox.South, bbox.East, bbox.North},
		Width:     width,
		Height:    height,
		TS:        time.Now().UTC(),
	}
}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}

	// mu guards closed and the send on events against Close
	mu     sync.RWMutex
	closed bool
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("mapevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer wraps an existing producer; the publisher takes ownership
// and closes it on Close.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
	}
	go p.run()
	go p.drainErrors()
	return p
}

func (p *Publisher) run() {
	defer close(p.stopped)
	for ev := range p.events {
		b, err := json.Marshal(ev)
		if err != nil {
			observability.IncMapEvent("marshal_error")
			p.logger.Warn("mapevents: marshal", "err", err)
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.Path),
			Value: sarama.ByteEncoder(b),
		}
		p.prod.Input() <- msg
		observability.IncMapEvent("sent")
	}
}

func (p *Publisher) drainErrors() {
	for err := range p.prod.Errors() {
		if err != nil {
			observability.IncMapEvent("producer_error")
			p.logger.Warn("mapevents: producer error", "err", err.Err, "topic", err.Msg.Topic)
		}
	}
}

// Publish is safe to call after Close; the event is then discarded.
func (p *Publisher) Publish(_ context.Context, ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.IncMapEvent("closed")
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncMapEvent("dropped")
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("mapevents: close producer: %w", err)
	}
	return nil
}
