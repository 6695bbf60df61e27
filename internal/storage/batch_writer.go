package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"threat-sentinel/internal/runbook"
	"threat-sentinel/internal/schema"
)

// BatchWriterConfig holds configuration for the event batch writer.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultBatchWriterConfig returns the default batch writer configuration.
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// BatchWriter buffers attack events and inserts them into ClickHouse in
// batches, flushing on size or on a timer.
type BatchWriter struct {
	config BatchWriterConfig

	// insert performs one batch insert. Swappable for tests.
	insert func(ctx context.Context, events []*schema.AttackEvent) error

	mu         sync.Mutex
	buffer     []*schema.AttackEvent
	flushTimer *time.Timer
	closed     bool

	totalWritten atomic.Uint64
	totalFailed  atomic.Uint64
	batchCount   atomic.Uint64
}

// NewBatchWriter creates a batch writer inserting through the given client.
func NewBatchWriter(client *ClickHouseClient, cfg BatchWriterConfig) *BatchWriter {
	bw := &BatchWriter{
		config: cfg,
		buffer: make([]*schema.AttackEvent, 0, cfg.BatchSize),
	}
	bw.insert = func(ctx context.Context, events []*schema.AttackEvent) error {
		return insertEvents(ctx, client, events)
	}
	bw.flushTimer = time.AfterFunc(cfg.FlushInterval, bw.timerFlush)
	return bw
}

// Write adds an event to the batch, flushing when the batch is full.
func (bw *BatchWriter) Write(event *schema.AttackEvent) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return fmt.Errorf("batch writer is closed")
	}

	bw.buffer = append(bw.buffer, event)
	if len(bw.buffer) >= bw.config.BatchSize {
		return bw.flushLocked()
	}
	return nil
}

func (bw *BatchWriter) timerFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return
	}
	if len(bw.buffer) > 0 {
		if err := bw.flushLocked(); err != nil {
			slog.Error("timer flush failed", "error", err)
		}
	}
	bw.flushTimer.Reset(bw.config.FlushInterval)
}

// flushLocked flushes the buffer with retries. Caller must hold the lock.
func (bw *BatchWriter) flushLocked() error {
	if len(bw.buffer) == 0 {
		return nil
	}

	events := bw.buffer
	bw.buffer = make([]*schema.AttackEvent, 0, bw.config.BatchSize)

	var lastErr error
	for attempt := 0; attempt <= bw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(bw.config.RetryDelay * time.Duration(attempt))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := bw.insert(ctx, events)
		cancel()
		if err != nil {
			lastErr = err
			slog.Warn("batch insert failed, retrying",
				"attempt", attempt+1,
				"max_retries", bw.config.MaxRetries,
				"error", err)
			continue
		}

		bw.totalWritten.Add(uint64(len(events)))
		bw.batchCount.Add(1)
		return nil
	}

	bw.totalFailed.Add(uint64(len(events)))
	return fmt.Errorf("batch insert failed after %d retries: %w", bw.config.MaxRetries, lastErr)
}

// Flush forces a flush of the current buffer.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked()
}

// Close stops the flush timer and writes any buffered events.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return nil
	}
	bw.closed = true
	err := bw.flushLocked()
	bw.mu.Unlock()

	bw.flushTimer.Stop()
	return err
}

// BatchWriterMetrics holds batch writer statistics.
type BatchWriterMetrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Batches uint64 `json:"batches"`
	Pending int    `json:"pending"`
}

// Metrics returns batch writer statistics.
func (bw *BatchWriter) Metrics() BatchWriterMetrics {
	bw.mu.Lock()
	pending := len(bw.buffer)
	bw.mu.Unlock()

	return BatchWriterMetrics{
		Written: bw.totalWritten.Load(),
		Failed:  bw.totalFailed.Load(),
		Batches: bw.batchCount.Load(),
		Pending: pending,
	}
}

func insertEvents(ctx context.Context, client *ClickHouseClient, events []*schema.AttackEvent) error {
	batch, err := client.PrepareBatch(ctx, `
		INSERT INTO attack_events (
			timestamp, received_at, ip_address, attack_type, severity,
			target, user_agent, details, schema_version
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, event := range events {
		details, _ := json.Marshal(event.Details)
		if err := batch.Append(
			event.Timestamp,
			event.ReceivedAt,
			event.IPAddress,
			event.AttackType,
			string(event.Severity),
			event.Target,
			event.UserAgent,
			string(details),
			event.SchemaVersion,
		); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	slog.Debug("batch inserted", "count", len(events))
	return nil
}

// ExecutionWriter persists finished runbook executions.
type ExecutionWriter struct {
	client *ClickHouseClient
}

// NewExecutionWriter creates an execution writer on the given client.
func NewExecutionWriter(client *ClickHouseClient) *ExecutionWriter {
	return &ExecutionWriter{client: client}
}

// Write inserts one finished execution record. Running executions are
// rejected; the table holds only final states.
func (w *ExecutionWriter) Write(ctx context.Context, exec *runbook.Execution) error {
	if exec.CompletedAt == nil {
		return fmt.Errorf("execution %s is not finished", exec.ID)
	}

	results, _ := json.Marshal(exec.ActionResults)
	return w.client.Exec(ctx, `
		INSERT INTO runbook_executions (
			id, runbook_name, alert_fingerprint, started_at, completed_at,
			status, actions_executed, actions_failed, action_results, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID.String(),
		exec.RunbookName,
		exec.AlertFingerprint,
		exec.StartedAt,
		*exec.CompletedAt,
		string(exec.Status),
		uint16(exec.ActionsExecuted),
		uint16(exec.ActionsFailed),
		string(results),
		exec.ErrorMessage,
	)
}
