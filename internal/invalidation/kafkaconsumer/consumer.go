// Package kafkaconsumer listens for dataset-published events and drops the
// in-process dataset cache so the next viewport change picks up the
// regenerated aggregate files.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/hexmapr/density-engine/internal/invalidation"
	"github.com/hexmapr/density-engine/internal/observability"
)

// CacheResetter empties the parsed dataset cache. Satisfied by
// dataset.Loader.
type CacheResetter interface {
	Reset()
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	resetter CacheResetter

	mu     sync.Mutex
	lastTS time.Time
}

func New(cfg Config, logger *slog.Logger, resetter CacheResetter) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:      cfg,
		logger:   logger,
		resetter: resetter,
	}
}

// Start consumes dataset-published events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.resetter == nil {
		return errors.New("kafkaconsumer: missing resetter")
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

	c.logger.Info("dataset invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("dataset invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single dataset-published message. Malformed or stale
// events are skipped rather than retried: redelivery cannot fix either.
func (c *Consumer) ProcessOne(_ context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncInvalidation("decode_error")
		c.logger.Warn("skipping undecodable event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncInvalidation("invalid")
		c.logger.Warn("skipping invalid event",
			"topic", msg.Topic, "offset", msg.Offset, "err", err)
		return nil
	}

	c.mu.Lock()
	stale := !ev.TS.After(c.lastTS)
	if !stale {
		c.lastTS = ev.TS
	}
	c.mu.Unlock()
	if stale {
		observability.IncInvalidation("stale")
		c.logger.Debug("skipping stale event", "ts", ev.TS, "offset", msg.Offset)
		return nil
	}

	c.resetter.Reset()
	observability.IncInvalidation("ok")
	c.logger.Info("dataset cache reset",
		"ts", ev.TS, "source", ev.Source, "resolutions", ev.Resolutions)
	return nil
}
