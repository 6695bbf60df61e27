package schema

import (
	"testing"
	"time"
)

func validEvent() *AttackEvent {
	return &AttackEvent{
		Timestamp:  time.Now().UTC(),
		IPAddress:  "203.0.113.7",
		AttackType: "honeypot_admin_panel",
		Severity:   SeverityHigh,
		Target:     "/admin",
		Details:    map[string]string{"username": "root"},
		UserAgent:  "curl/8.0",
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		mutate  func(*AttackEvent)
		wantErr bool
	}{
		{
			name:    "valid event",
			mutate:  func(e *AttackEvent) {},
			wantErr: false,
		},
		{
			name:    "missing ip",
			mutate:  func(e *AttackEvent) { e.IPAddress = "" },
			wantErr: true,
		},
		{
			name:    "malformed ip",
			mutate:  func(e *AttackEvent) { e.IPAddress = "not-an-ip" },
			wantErr: true,
		},
		{
			name:    "uppercase attack type",
			mutate:  func(e *AttackEvent) { e.AttackType = "Honeypot_Admin" },
			wantErr: true,
		},
		{
			name:    "invalid severity",
			mutate:  func(e *AttackEvent) { e.Severity = "extreme" },
			wantErr: true,
		},
		{
			name:    "timestamp too old",
			mutate:  func(e *AttackEvent) { e.Timestamp = time.Now().Add(-48 * time.Hour) },
			wantErr: true,
		},
		{
			name:    "timestamp in future",
			mutate:  func(e *AttackEvent) { e.Timestamp = time.Now().Add(1 * time.Hour) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(event)
			err := v.Validate(event)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_Normalize(t *testing.T) {
	v := NewValidator()
	event := validEvent()
	v.Normalize(event)

	if event.SchemaVersion != SchemaVersionCurrent {
		t.Errorf("schema version = %s, want %s", event.SchemaVersion, SchemaVersionCurrent)
	}
	if event.ReceivedAt.IsZero() {
		t.Error("received_at not set")
	}
	if event.Timestamp.Location() != time.UTC {
		t.Error("timestamp not normalized to UTC")
	}
}

func TestSeverity_Rank(t *testing.T) {
	ordered := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("severity %s should rank above %s", ordered[i], ordered[i-1])
		}
	}
	if Severity("bogus").IsValid() {
		t.Error("bogus severity should be invalid")
	}
}
