// Package kafkaconsumer applies dataset invalidation events from Kafka to the
// in-process dataset caches.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/wmsd/internal/core/observability"
	"github.com/mohammed-shakir/wmsd/internal/invalidation"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

// Target receives the dataset name of each valid event.
type Target interface {
	Dispatch(dataset string) int
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	target Target
}

func New(cfg Config, logger *slog.Logger, target Target) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 3 * time.Second
	}
	if cfg.RebalanceTimeout == 0 {
		cfg.RebalanceTimeout = 30 * time.Second
	}
	return &Consumer{cfg: cfg, logger: logger, target: target}
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("kafkaconsumer: missing target")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}
	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne evicts the dataset named by msg. Undecodable or invalid events
// are counted and skipped so one bad record cannot stall its partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("decode_error")
		c.logger.WarnContext(ctx, "skipping undecodable invalidation",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation("invalid")
		c.logger.WarnContext(ctx, "skipping invalid invalidation",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	n := c.target.Dispatch(ev.Dataset)
	if n > 0 {
		obs.IncInvalidation("evicted")
	} else {
		obs.IncInvalidation("not_cached")
	}
	c.logger.DebugContext(ctx, "dataset invalidated",
		"dataset", ev.Dataset, "op", ev.Op, "caches", n, "source", ev.Source)
	return nil
}
