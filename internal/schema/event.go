// Package schema defines the canonical attack event model for threat-sentinel.
// All ingested events are normalized to this structure before correlation.
package schema

import (
	"time"
)

// AttackEvent represents one observed suspicious or malicious action.
// Events are immutable once created; the correlation engine retains them
// only while they remain inside the active time window.
type AttackEvent struct {
	// Required fields
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	IPAddress  string    `json:"ip_address" validate:"required,ip"`
	AttackType string    `json:"attack_type" validate:"required,attack_type_format,max=128"`
	Severity   Severity  `json:"severity" validate:"required,oneof=low medium high critical"`

	// Optional fields
	Target    string            `json:"target,omitempty" validate:"max=1024"`
	Details   map[string]string `json:"details,omitempty"`
	UserAgent string            `json:"user_agent,omitempty" validate:"max=1024"`

	// Internal fields (set by system)
	ReceivedAt    time.Time `json:"received_at,omitempty"`
	SchemaVersion string    `json:"schema_version,omitempty"`
}

// Severity represents the severity of an attack event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns the severity as an ordinal for comparisons, lowest first.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Detail returns a value from the open details map, with ok reporting
// whether the key was present.
func (e *AttackEvent) Detail(key string) (string, bool) {
	if e.Details == nil {
		return "", false
	}
	v, ok := e.Details[key]
	return v, ok
}

// SchemaVersionCurrent is the current version of the event schema.
const SchemaVersionCurrent = "1.0.0"
