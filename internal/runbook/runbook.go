// Package runbook provides declarative incident-response runbooks: trigger
// matching against alert labels and ordered action execution with retry and
// partial-failure semantics.
package runbook

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ActionType identifies the handler responsible for a runbook action.
type ActionType string

const (
	ActionIPBan          ActionType = "ip_ban"
	ActionNotify         ActionType = "notify"
	ActionReport         ActionType = "report"
	ActionServiceCommand ActionType = "service_command"
	ActionWait           ActionType = "wait"
)

// IsValid checks if the action type is a known value.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionIPBan, ActionNotify, ActionReport, ActionServiceCommand, ActionWait:
		return true
	}
	return false
}

// Runbook maps an alert's labels to an ordered list of automated response
// actions. The actions list is immutable once loaded; reload replaces the
// whole runbook set atomically.
type Runbook struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string           `json:"version,omitempty" yaml:"version,omitempty"`
	Enabled     bool             `json:"enabled" yaml:"enabled"`
	Trigger     TriggerCondition `json:"trigger" yaml:"trigger"`
	Priority    int              `json:"priority" yaml:"priority"`
	Actions     []Action         `json:"actions" yaml:"actions"`
}

// TriggerCondition declares which alerts a runbook responds to. Every present
// field must match the alert's corresponding label exactly (case-sensitive);
// unset fields are wildcards.
type TriggerCondition struct {
	Alertname string            `json:"alertname,omitempty" yaml:"alertname,omitempty"`
	Severity  string            `json:"severity,omitempty" yaml:"severity,omitempty"`
	Category  string            `json:"category,omitempty" yaml:"category,omitempty"`
	Service   string            `json:"service,omitempty" yaml:"service,omitempty"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Matches reports whether the trigger matches the given alert labels.
func (t *TriggerCondition) Matches(labels map[string]string) bool {
	fixed := []struct{ key, want string }{
		{"alertname", t.Alertname},
		{"severity", t.Severity},
		{"category", t.Category},
		{"service", t.Service},
	}
	for _, f := range fixed {
		if f.want != "" && labels[f.key] != f.want {
			return false
		}
	}
	for k, want := range t.Labels {
		if labels[k] != want {
			return false
		}
	}
	return true
}

// Action is one step in a runbook's response sequence.
type Action struct {
	Type   ActionType     `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Condition gates the action; nil means always run.
	Condition *Predicate `json:"condition,omitempty" yaml:"condition,omitempty"`

	// ContinueOnError defaults to true when omitted.
	ContinueOnError *bool   `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
	RetryCount      int     `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	RetryDelay      float64 `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"` // seconds
}

// ShouldContinue reports whether execution proceeds past a failure of this
// action. Unset means true.
func (a *Action) ShouldContinue() bool {
	return a.ContinueOnError == nil || *a.ContinueOnError
}

// RetryDelayDuration returns the configured inter-attempt delay.
func (a *Action) RetryDelayDuration() time.Duration {
	return time.Duration(a.RetryDelay * float64(time.Second))
}

// StringParam returns a string parameter from the action's params map.
func (a *Action) StringParam(key string) (string, bool) {
	v, ok := a.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// FloatParam returns a numeric parameter from the action's params map.
func (a *Action) FloatParam(key string) (float64, bool) {
	switch v := a.Params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// PredicateKind selects the predicate variant.
type PredicateKind string

const (
	PredicateAlways      PredicateKind = "always"
	PredicateLabelEquals PredicateKind = "label_equals"
	PredicateScoreAbove  PredicateKind = "score_above"
)

// Predicate is a closed, typed condition on an action. This replaces the
// free-form expression strings some response systems evaluate at runtime:
// a tagged union keeps the action model statically checkable and removes the
// injection surface of a generic evaluator.
type Predicate struct {
	Kind      PredicateKind `json:"kind" yaml:"kind"`
	Key       string        `json:"key,omitempty" yaml:"key,omitempty"`
	Value     string        `json:"value,omitempty" yaml:"value,omitempty"`
	Threshold float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Eval evaluates the predicate against the alert's labels and the threat
// score attached to the execution context.
func (p *Predicate) Eval(labels map[string]string, score float64) bool {
	if p == nil {
		return true
	}
	switch p.Kind {
	case PredicateAlways:
		return true
	case PredicateLabelEquals:
		return labels[p.Key] == p.Value
	case PredicateScoreAbove:
		return score > p.Threshold
	}
	return false
}

// Validate validates the predicate definition.
func (p *Predicate) Validate() error {
	switch p.Kind {
	case PredicateAlways:
		return nil
	case PredicateLabelEquals:
		if p.Key == "" {
			return fmt.Errorf("label_equals predicate requires key")
		}
		return nil
	case PredicateScoreAbove:
		return nil
	default:
		return fmt.Errorf("unknown predicate kind: %s", p.Kind)
	}
}

// Validate validates the runbook definition.
func (r *Runbook) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("runbook name is required")
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("runbook %s: at least one action is required", r.Name)
	}
	for i, action := range r.Actions {
		if !action.Type.IsValid() {
			return fmt.Errorf("runbook %s: action %d: unknown type %q", r.Name, i, action.Type)
		}
		if action.RetryCount < 0 {
			return fmt.Errorf("runbook %s: action %d: retry_count must be >= 0", r.Name, i)
		}
		if action.RetryDelay < 0 {
			return fmt.Errorf("runbook %s: action %d: retry_delay must be >= 0", r.Name, i)
		}
		if action.Condition != nil {
			if err := action.Condition.Validate(); err != nil {
				return fmt.Errorf("runbook %s: action %d: %w", r.Name, i, err)
			}
		}
	}
	return nil
}

// ParseJSON parses one runbook or an array of runbooks from JSON bytes.
func ParseJSON(data []byte) ([]*Runbook, error) {
	var many []*Runbook
	if err := json.Unmarshal(data, &many); err != nil {
		var one Runbook
		if singleErr := json.Unmarshal(data, &one); singleErr != nil {
			return nil, fmt.Errorf("failed to parse runbooks: %w", err)
		}
		many = []*Runbook{&one}
	}
	return validateAll(many)
}

// ParseYAML parses one runbook or an array of runbooks from YAML bytes.
func ParseYAML(data []byte) ([]*Runbook, error) {
	var many []*Runbook
	if err := yaml.Unmarshal(data, &many); err != nil {
		var one Runbook
		if singleErr := yaml.Unmarshal(data, &one); singleErr != nil {
			return nil, fmt.Errorf("failed to parse runbooks: %w", err)
		}
		many = []*Runbook{&one}
	}
	return validateAll(many)
}

func validateAll(runbooks []*Runbook) ([]*Runbook, error) {
	for i, rb := range runbooks {
		if rb == nil {
			return nil, fmt.Errorf("runbook %d: empty document", i)
		}
		if err := rb.Validate(); err != nil {
			return nil, fmt.Errorf("runbook %d: %w", i, err)
		}
	}
	return runbooks, nil
}
