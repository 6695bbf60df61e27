package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"threat-sentinel/internal/correlation"
	"threat-sentinel/internal/schema"
)

func testConsumer(t *testing.T) (*EventConsumer, *correlation.Engine) {
	t.Helper()

	engine := correlation.NewEngine(correlation.DefaultEngineConfig())
	cfg := DefaultConfig()
	cfg.Brokers = []string{"localhost:9092"}
	c, err := NewEventConsumer(cfg, engine)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Stop() })
	return c, engine
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("config without brokers should fail validation")
	}

	cfg.Brokers = []string{"localhost:9092"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config failed: %v", err)
	}

	cfg.Topic = ""
	if err := cfg.Validate(); err == nil {
		t.Error("config without topic should fail validation")
	}
}

func TestEventConsumer_HandleMessage(t *testing.T) {
	c, engine := testConsumer(t)

	event := schema.AttackEvent{
		Timestamp:  time.Now().UTC().Add(-time.Minute),
		IPAddress:  "203.0.113.20",
		AttackType: "sql_injection",
		Severity:   schema.SeverityHigh,
	}
	payload, _ := json.Marshal(event)
	c.handleMessage(payload)

	if got := engine.Statistics().TotalEvents; got != 1 {
		t.Errorf("engine events = %d, want 1", got)
	}
	m := c.GetMetrics()
	if m.Consumed != 1 || m.Rejected != 0 {
		t.Errorf("metrics = %+v, want 1 consumed", m)
	}

	if evs := engine.EventsForIP("203.0.113.20"); len(evs) != 1 || evs[0].SchemaVersion == "" {
		t.Error("ingested event should be normalized with a schema version")
	}
}

func TestEventConsumer_DropsBadPayloads(t *testing.T) {
	c, engine := testConsumer(t)

	c.handleMessage([]byte("{not json"))

	invalid := schema.AttackEvent{
		Timestamp:  time.Now().UTC(),
		IPAddress:  "not-an-ip",
		AttackType: "sql_injection",
		Severity:   schema.SeverityHigh,
	}
	payload, _ := json.Marshal(invalid)
	c.handleMessage(payload)

	if got := engine.Statistics().TotalEvents; got != 0 {
		t.Errorf("engine events = %d, want 0", got)
	}
	if m := c.GetMetrics(); m.Rejected != 2 {
		t.Errorf("rejected = %d, want 2", m.Rejected)
	}
}
