// Package alertmanager accepts Alertmanager-style webhook notifications and
// dispatches matching runbooks against them.
package alertmanager

import (
	"context"
	"log/slog"

	"threat-sentinel/internal/correlation"
	"threat-sentinel/internal/runbook"
	"threat-sentinel/internal/scoring"
)

// Dispatcher routes firing alerts through runbook matching and execution.
// When a correlation engine is attached, the source IP's current threat score
// is computed and carried into the execution context so score_above
// predicates can gate actions.
type Dispatcher struct {
	matcher  *runbook.Matcher
	executor *runbook.Executor
	engine   *correlation.Engine // optional
}

// NewDispatcher creates a dispatcher. engine may be nil, in which case every
// execution runs with a zero threat score.
func NewDispatcher(matcher *runbook.Matcher, executor *runbook.Executor, engine *correlation.Engine) *Dispatcher {
	return &Dispatcher{
		matcher:  matcher,
		executor: executor,
		engine:   engine,
	}
}

// Dispatch runs every matching runbook against the alert, in priority order,
// and returns the execution records. Only firing alerts are dispatched;
// resolved or unknown statuses are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *runbook.Alert) []*runbook.Execution {
	if alert.Status != "firing" {
		slog.Debug("ignoring non-firing alert", "status", alert.Status, "fingerprint", alert.Fingerprint)
		return nil
	}

	matched := d.matcher.FindMatching(alert.Labels)
	if len(matched) == 0 {
		slog.Debug("no runbooks match alert",
			"alertname", alert.Label("alertname"),
			"fingerprint", alert.Fingerprint)
		return nil
	}

	execCtx := runbook.ExecContext{}
	if d.engine != nil {
		if ip := sourceIP(alert); ip != "" {
			stats := d.engine.Statistics()
			score := scoring.ScoreIPActivity(ip, d.engine.EventsForIP(ip), int(stats.WindowMinutes))
			execCtx.Score = score.Score
			execCtx.Data = map[string]any{
				"threat_level":   string(score.Level),
				"recommendation": score.Recommendation,
			}
		}
	}

	executions := make([]*runbook.Execution, 0, len(matched))
	for _, rb := range matched {
		exec := d.executor.Execute(ctx, rb, alert, execCtx)
		executions = append(executions, exec)
		slog.Info("runbook dispatched",
			"runbook", rb.Name,
			"alert", alert.Label("alertname"),
			"status", exec.Status)
	}
	return executions
}

func sourceIP(alert *runbook.Alert) string {
	if ip := alert.Label("ip_address"); ip != "" {
		return ip
	}
	return alert.Label("ip")
}
