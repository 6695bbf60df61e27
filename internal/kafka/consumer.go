// Package kafka consumes attack events from a Kafka topic and feeds them
// into the correlation engine.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"threat-sentinel/internal/correlation"
	"threat-sentinel/internal/schema"
)

// Config configures the event consumer.
type Config struct {
	Brokers        []string      `json:"brokers" yaml:"brokers"`
	Topic          string        `json:"topic" yaml:"topic"`
	ConsumerGroup  string        `json:"consumer_group" yaml:"consumer_group"`
	MinBytes       int           `json:"min_bytes" yaml:"min_bytes"`
	MaxBytes       int           `json:"max_bytes" yaml:"max_bytes"`
	MaxWait        time.Duration `json:"max_wait" yaml:"max_wait"`
	CommitInterval time.Duration `json:"commit_interval" yaml:"commit_interval"`
}

// DefaultConfig returns default consumer configuration.
func DefaultConfig() Config {
	return Config{
		Topic:          "attack-events",
		ConsumerGroup:  "threat-sentinel",
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	if c.ConsumerGroup == "" {
		return errors.New("kafka: consumer group is required")
	}
	return nil
}

// EventConsumer reads JSON attack events from a topic, validates them against
// the canonical schema, and adds them to the correlation engine. Invalid
// events are counted and dropped; they never poison the partition.
type EventConsumer struct {
	reader    *kafka.Reader
	config    Config
	engine    *correlation.Engine
	validator *schema.Validator

	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	consumed atomic.Int64
	rejected atomic.Int64
	errors   atomic.Int64
	closed   atomic.Bool
	started  atomic.Bool
}

// NewEventConsumer creates a consumer feeding the given engine.
func NewEventConsumer(config Config, engine *correlation.Engine) (*EventConsumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		GroupID:        config.ConsumerGroup,
		Topic:          config.Topic,
		MinBytes:       config.MinBytes,
		MaxBytes:       config.MaxBytes,
		MaxWait:        config.MaxWait,
		CommitInterval: config.CommitInterval,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &EventConsumer{
		reader:    reader,
		config:    config,
		engine:    engine,
		validator: schema.NewValidator(),
		ctx:       ctx,
		cancel:    cancel,
	}

	slog.Info("kafka event consumer initialized",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"group", config.ConsumerGroup)
	return c, nil
}

// Start begins consuming in a background goroutine.
func (c *EventConsumer) Start() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop()
	}()
	return nil
}

func (c *EventConsumer) consumeLoop() {
	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.errors.Add(1)
			slog.Error("failed to fetch message", "error", err, "topic", c.config.Topic)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		c.handleMessage(msg.Value)

		if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
			slog.Error("failed to commit offset", "error", err, "offset", msg.Offset)
		}
	}
}

// handleMessage decodes, validates, and ingests one event payload.
func (c *EventConsumer) handleMessage(value []byte) {
	var event schema.AttackEvent
	if err := json.Unmarshal(value, &event); err != nil {
		c.rejected.Add(1)
		slog.Warn("dropping undecodable event", "error", err)
		return
	}
	if err := c.validator.Validate(&event); err != nil {
		c.rejected.Add(1)
		slog.Warn("dropping invalid event", "error", err, "ip", event.IPAddress)
		return
	}
	c.validator.Normalize(&event)
	c.engine.AddEvent(&event)
	c.consumed.Add(1)
}

// Metrics summarizes consumer activity.
type Metrics struct {
	Consumed int64 `json:"consumed"`
	Rejected int64 `json:"rejected"`
	Errors   int64 `json:"errors"`
}

// GetMetrics returns current consumer metrics.
func (c *EventConsumer) GetMetrics() Metrics {
	return Metrics{
		Consumed: c.consumed.Load(),
		Rejected: c.rejected.Load(),
		Errors:   c.errors.Load(),
	}
}

// Stop cancels the consume loop and closes the reader.
func (c *EventConsumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close consumer: %w", err)
	}
	slog.Info("kafka consumer stopped",
		"consumed", c.consumed.Load(),
		"rejected", c.rejected.Load())
	return nil
}
