package runbook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of a runbook execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusPartial   ExecutionStatus = "partial"
	StatusFailed    ExecutionStatus = "failed"
)

// ActionResult records the outcome of one action within an execution.
type ActionResult struct {
	Index   int            `json:"index"`
	Type    ActionType     `json:"type"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Execution is the record of one runbook run against one alert. It is never
// mutated after CompletedAt is set.
type Execution struct {
	ID               uuid.UUID       `json:"id"`
	RunbookName      string          `json:"runbook_name"`
	AlertFingerprint string          `json:"alert_fingerprint"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Status           ExecutionStatus `json:"status"`
	ActionsExecuted  int             `json:"actions_executed"`
	ActionsFailed    int             `json:"actions_failed"`
	ActionResults    []ActionResult  `json:"action_results"`
	ErrorMessage     string          `json:"error_message,omitempty"`
}

// ExecContext carries per-execution data into action handlers, such as the
// threat score computed for the alert's source.
type ExecContext struct {
	Score float64        `json:"score"`
	Data  map[string]any `json:"data,omitempty"`

	// Runbook is the name of the runbook being executed, filled in by the
	// executor so handlers can attribute their side effects.
	Runbook string `json:"runbook,omitempty"`
}

// ActionHandler executes actions of one type. Implementations must be safe
// for concurrent use; the executor may run several alerts at once.
type ActionHandler interface {
	Type() ActionType
	Execute(ctx context.Context, action Action, alert *Alert, execCtx ExecContext) (map[string]any, error)
}

// ExecutorConfig configures the runbook executor.
type ExecutorConfig struct {
	MaxLogEntries int // Bound on the in-memory execution log
}

// DefaultExecutorConfig returns default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxLogEntries: 1000,
	}
}

// Executor runs matched runbooks against alerts. Executions are recorded in
// a bounded append-only in-memory log; callers always receive a completed
// Execution record, never an error.
type Executor struct {
	config   ExecutorConfig
	handlers map[ActionType]ActionHandler

	// onComplete, when set, observes every finished execution. It is called
	// outside the executor lock and must be set before executions begin.
	onComplete func(*Execution)

	mu  sync.Mutex
	log []*Execution

	total     int
	completed int
	partial   int
	failed    int
}

// NewExecutor creates a new executor with no registered handlers.
func NewExecutor(config ExecutorConfig) *Executor {
	if config.MaxLogEntries <= 0 {
		config.MaxLogEntries = DefaultExecutorConfig().MaxLogEntries
	}
	return &Executor{
		config:   config,
		handlers: make(map[ActionType]ActionHandler),
	}
}

// SetOnComplete installs a callback observing every finished execution,
// typically a persistence writer. Must be called before executions begin.
func (x *Executor) SetOnComplete(fn func(*Execution)) {
	x.onComplete = fn
}

// RegisterHandler registers the handler for its action type, replacing any
// previous registration.
func (x *Executor) RegisterHandler(h ActionHandler) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.handlers[h.Type()] = h
	slog.Info("registered action handler", "type", h.Type())
}

func (x *Executor) handlerFor(t ActionType) ActionHandler {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.handlers[t]
}

// Execute runs the runbook's actions in order against the alert and returns
// the finished execution record. Action failures never propagate as errors;
// they are recorded per action. An unexpected panic marks the execution
// failed, and cancellation of ctx records failed with an explanatory message
// rather than silently dropping the run.
func (x *Executor) Execute(ctx context.Context, rb *Runbook, alert *Alert, execCtx ExecContext) *Execution {
	execCtx.Runbook = rb.Name
	exec := &Execution{
		ID:               uuid.New(),
		RunbookName:      rb.Name,
		AlertFingerprint: alert.Fingerprint,
		StartedAt:        time.Now().UTC(),
		Status:           StatusRunning,
		ActionResults:    make([]ActionResult, 0, len(rb.Actions)),
	}
	x.appendLog(exec)

	defer func() {
		if r := recover(); r != nil {
			x.finish(exec, StatusFailed, fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	slog.Info("executing runbook",
		"runbook", rb.Name,
		"alert", alert.Fingerprint,
		"actions", len(rb.Actions))

	for i, action := range rb.Actions {
		if ctx.Err() != nil {
			x.finish(exec, StatusFailed, fmt.Sprintf("execution cancelled before action %d: %v", i, ctx.Err()))
			return exec
		}

		if !action.Condition.Eval(alert.Labels, execCtx.Score) {
			x.recordResult(exec, ActionResult{
				Index:   i,
				Type:    action.Type,
				Success: true,
				Message: "skipped: condition not met",
			}, false)
			continue
		}

		// Wait actions are serviced by the executor itself.
		if action.Type == ActionWait {
			result := x.runWait(ctx, i, action)
			x.recordResult(exec, result, !result.Success)
			if !result.Success {
				x.finish(exec, StatusFailed, result.Message)
				return exec
			}
			continue
		}

		handler := x.handlerFor(action.Type)
		if handler == nil {
			// Missing handlers are skipped, never fatal, regardless of the
			// action's continue_on_error setting.
			x.recordResult(exec, ActionResult{
				Index:   i,
				Type:    action.Type,
				Success: false,
				Message: fmt.Sprintf("no handler registered for action type %q", action.Type),
			}, true)
			continue
		}

		data, err := x.runWithRetry(ctx, handler, action, alert, execCtx)
		result := ActionResult{
			Index: i,
			Type:  action.Type,
			Data:  data,
		}
		if err != nil {
			result.Success = false
			result.Message = err.Error()
		} else {
			result.Success = true
			result.Message = "ok"
		}
		x.recordResult(exec, result, err != nil)

		if err != nil {
			if ctx.Err() != nil {
				x.finish(exec, StatusFailed, fmt.Sprintf("execution cancelled during action %d: %v", i, ctx.Err()))
				return exec
			}
			if !action.ShouldContinue() {
				break
			}
		}
	}

	status := StatusCompleted
	if exec.ActionsFailed > 0 {
		status = StatusPartial
	}
	x.finish(exec, status, "")
	return exec
}

// runWait sleeps for the action's duration_seconds parameter, honoring
// cancellation.
func (x *Executor) runWait(ctx context.Context, index int, action Action) ActionResult {
	seconds, ok := action.FloatParam("duration_seconds")
	if !ok || seconds < 0 {
		return ActionResult{
			Index:   index,
			Type:    ActionWait,
			Success: true,
			Message: "skipped: no duration_seconds parameter",
		}
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return ActionResult{
			Index:   index,
			Type:    ActionWait,
			Success: true,
			Message: fmt.Sprintf("waited %.1fs", seconds),
		}
	case <-ctx.Done():
		return ActionResult{
			Index:   index,
			Type:    ActionWait,
			Success: false,
			Message: fmt.Sprintf("execution cancelled during wait: %v", ctx.Err()),
		}
	}
}

// runWithRetry invokes the handler with up to retry_count+1 attempts,
// sleeping retry_delay between failures. The first success short-circuits.
// A panicking handler is treated as a failed attempt.
func (x *Executor) runWithRetry(ctx context.Context, handler ActionHandler, action Action, alert *Alert, execCtx ExecContext) (map[string]any, error) {
	attempts := action.RetryCount + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		data, err := x.invoke(ctx, handler, action, alert, execCtx)
		if err == nil {
			return data, nil
		}
		lastErr = err
		slog.Warn("action attempt failed",
			"type", action.Type,
			"attempt", attempt,
			"of", attempts,
			"error", err)

		if attempt == attempts {
			break
		}
		if delay := action.RetryDelayDuration(); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("cancelled while retrying: %w", ctx.Err())
			}
			timer.Stop()
		} else if ctx.Err() != nil {
			return nil, fmt.Errorf("cancelled while retrying: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("action failed after %d attempts: %w", attempts, lastErr)
}

func (x *Executor) invoke(ctx context.Context, handler ActionHandler, action Action, alert *Alert, execCtx ExecContext) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, action, alert, execCtx)
}

func (x *Executor) recordResult(exec *Execution, result ActionResult, failed bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	exec.ActionResults = append(exec.ActionResults, result)
	if failed {
		exec.ActionsFailed++
	} else {
		exec.ActionsExecuted++
	}
}

func (x *Executor) finish(exec *Execution, status ExecutionStatus, errMsg string) {
	now := time.Now().UTC()

	x.mu.Lock()
	if exec.CompletedAt != nil {
		x.mu.Unlock()
		return
	}
	exec.Status = status
	exec.CompletedAt = &now
	if errMsg != "" {
		exec.ErrorMessage = errMsg
	}

	x.total++
	switch status {
	case StatusCompleted:
		x.completed++
	case StatusPartial:
		x.partial++
	case StatusFailed:
		x.failed++
	}
	x.mu.Unlock()

	if x.onComplete != nil {
		x.onComplete(exec)
	}
}

func (x *Executor) appendLog(exec *Execution) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.log = append(x.log, exec)
	if len(x.log) > x.config.MaxLogEntries {
		x.log = x.log[len(x.log)-x.config.MaxLogEntries:]
	}
}

// snapshot returns a copy of the execution that is safe to read outside the
// executor lock. The struct and its results slice are copied; in-flight
// executions keep mutating the original through recordResult and finish.
func (e *Execution) snapshot() *Execution {
	cp := *e
	cp.ActionResults = append([]ActionResult(nil), e.ActionResults...)
	if e.CompletedAt != nil {
		completed := *e.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

// RecentExecutions returns up to limit of the most recent executions, newest
// first. Records are copied under the lock so callers can read and encode
// them while executions are still in flight.
func (x *Executor) RecentExecutions(limit int) []*Execution {
	x.mu.Lock()
	defer x.mu.Unlock()

	if limit <= 0 || limit > len(x.log) {
		limit = len(x.log)
	}
	out := make([]*Execution, 0, limit)
	for i := len(x.log) - 1; i >= len(x.log)-limit; i-- {
		out = append(out, x.log[i].snapshot())
	}
	return out
}

// ExecutorStats aggregates execution outcomes.
type ExecutorStats struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Partial     int     `json:"partial"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats returns aggregate execution statistics.
func (x *Executor) Stats() ExecutorStats {
	x.mu.Lock()
	defer x.mu.Unlock()

	stats := ExecutorStats{
		Total:     x.total,
		Completed: x.completed,
		Partial:   x.partial,
		Failed:    x.failed,
	}
	if x.total > 0 {
		stats.SuccessRate = float64(x.completed) / float64(x.total)
	}
	return stats
}
