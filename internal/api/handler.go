package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"threat-sentinel/internal/actions"
	"threat-sentinel/internal/correlation"
	"threat-sentinel/internal/runbook"
	"threat-sentinel/internal/schema"
	"threat-sentinel/internal/scoring"
)

// Handler provides the HTTP query and ingest surface.
type Handler struct {
	engine    *correlation.Engine
	executor  *runbook.Executor
	matcher   *runbook.Matcher
	validator *schema.Validator
	bans      actions.BanStore // optional
}

// NewHandler creates a new API handler. bans may be nil when no ban store is
// configured.
func NewHandler(engine *correlation.Engine, executor *runbook.Executor, matcher *runbook.Matcher, bans actions.BanStore) *Handler {
	return &Handler{
		engine:    engine,
		executor:  executor,
		matcher:   matcher,
		validator: schema.NewValidator(),
		bans:      bans,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/events", h.HandleIngestEvent)
	mux.HandleFunc("GET /v1/patterns", h.HandleListPatterns)
	mux.HandleFunc("GET /v1/statistics", h.HandleStatistics)
	mux.HandleFunc("GET /v1/score/{ip}", h.HandleScoreIP)
	mux.HandleFunc("GET /v1/risk", h.HandleRisk)
	mux.HandleFunc("GET /v1/runbooks", h.HandleListRunbooks)
	mux.HandleFunc("GET /v1/executions", h.HandleListExecutions)
	mux.HandleFunc("GET /v1/executions/stats", h.HandleExecutionStats)
	mux.HandleFunc("GET /v1/bans", h.HandleListBans)
	mux.HandleFunc("DELETE /v1/bans/{ip}", h.HandleRemoveBan)
}

// HandleIngestEvent handles POST /v1/events requests. The body is either a
// single event object or an array; a batch is rejected whole if any member is
// invalid, so callers never have to guess which events were accepted.
func (h *Handler) HandleIngestEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_event", "failed to read request body")
		return
	}

	var events []schema.AttackEvent
	if bytes.HasPrefix(bytes.TrimLeft(body, " \t\r\n"), []byte("[")) {
		if err := json.Unmarshal(body, &events); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_event", "failed to parse event batch")
			return
		}
	} else {
		var event schema.AttackEvent
		if err := json.Unmarshal(body, &event); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_event", "failed to parse event body")
			return
		}
		events = append(events, event)
	}

	for i := range events {
		if err := h.validator.Validate(&events[i]); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
			return
		}
	}
	for i := range events {
		h.validator.Normalize(&events[i])
		h.engine.AddEvent(&events[i])
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"accepted": len(events),
	})
}

// HandleListPatterns handles GET /v1/patterns requests.
func (h *Handler) HandleListPatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := correlation.PatternFilter{}
	if mc := q.Get("min_confidence"); mc != "" {
		v, err := strconv.ParseFloat(mc, 64)
		if err != nil || v < 0 || v > 1 {
			h.writeError(w, http.StatusBadRequest, "invalid_filter", "min_confidence must be in [0,1]")
			return
		}
		filter.MinConfidence = v
	}
	if sev := q.Get("severity"); sev != "" {
		s := schema.Severity(sev)
		if !s.IsValid() {
			h.writeError(w, http.StatusBadRequest, "invalid_filter", "unknown severity")
			return
		}
		filter.Severity = s
	}
	if pt := q.Get("type"); pt != "" {
		filter.Type = correlation.PatternType(pt)
	}

	patterns := h.engine.Patterns(filter)

	if limit := q.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 && l < len(patterns) {
			patterns = patterns[:l]
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": patterns,
		"total":    len(patterns),
	})
}

// HandleStatistics handles GET /v1/statistics requests.
func (h *Handler) HandleStatistics(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Statistics())
}

// HandleScoreIP handles GET /v1/score/{ip} requests.
func (h *Handler) HandleScoreIP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if net.ParseIP(ip) == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_ip", "not a valid IP address")
		return
	}

	stats := h.engine.Statistics()
	score := scoring.ScoreIPActivity(ip, h.engine.EventsForIP(ip), int(stats.WindowMinutes))
	h.writeJSON(w, http.StatusOK, score)
}

// HandleRisk handles GET /v1/risk requests. The environment rollup scores
// every active IP to count critical sources, so cost grows with unique IPs in
// the window.
func (h *Handler) HandleRisk(w http.ResponseWriter, _ *http.Request) {
	stats := h.engine.Statistics()
	activity := h.engine.ActivityByIP()

	criticalIPs := 0
	highSeverity := 0
	for ip, events := range activity {
		score := scoring.ScoreIPActivity(ip, events, int(stats.WindowMinutes))
		if score.Level == scoring.LevelCritical {
			criticalIPs++
		}
		for _, ev := range events {
			if ev.Severity == schema.SeverityHigh || ev.Severity == schema.SeverityCritical {
				highSeverity++
			}
		}
	}

	risk := scoring.CalculateRiskAssessment(
		stats.TotalEvents,
		stats.PatternCount,
		criticalIPs,
		highSeverity,
		stats.WindowMinutes/60,
	)
	h.writeJSON(w, http.StatusOK, risk)
}

// HandleListRunbooks handles GET /v1/runbooks requests.
func (h *Handler) HandleListRunbooks(w http.ResponseWriter, _ *http.Request) {
	runbooks := h.matcher.Runbooks()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runbooks": runbooks,
		"total":    len(runbooks),
	})
}

// HandleListExecutions handles GET /v1/executions requests.
func (h *Handler) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	executions := h.executor.RecentExecutions(limit)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"total":      len(executions),
	})
}

// HandleExecutionStats handles GET /v1/executions/stats requests.
func (h *Handler) HandleExecutionStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.executor.Stats())
}

// HandleListBans handles GET /v1/bans requests.
func (h *Handler) HandleListBans(w http.ResponseWriter, r *http.Request) {
	if h.bans == nil {
		h.writeError(w, http.StatusNotImplemented, "no_ban_store", "no ban store configured")
		return
	}

	bans, err := h.bans.Active(r.Context())
	if err != nil {
		slog.Error("failed to list bans", "error", err)
		h.writeError(w, http.StatusInternalServerError, "list_error", "failed to list bans")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bans":  bans,
		"total": len(bans),
	})
}

// HandleRemoveBan handles DELETE /v1/bans/{ip} requests.
func (h *Handler) HandleRemoveBan(w http.ResponseWriter, r *http.Request) {
	if h.bans == nil {
		h.writeError(w, http.StatusNotImplemented, "no_ban_store", "no ban store configured")
		return
	}

	ip := r.PathValue("ip")
	if _, err := h.bans.Get(r.Context(), ip); err != nil {
		if errors.Is(err, actions.ErrBanNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "no active ban for this IP")
			return
		}
		slog.Error("failed to look up ban", "ip", ip, "error", err)
		h.writeError(w, http.StatusInternalServerError, "lookup_error", "failed to look up ban")
		return
	}

	if err := h.bans.Remove(r.Context(), ip); err != nil {
		slog.Error("failed to remove ban", "ip", ip, "error", err)
		h.writeError(w, http.StatusInternalServerError, "remove_error", "failed to remove ban")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
