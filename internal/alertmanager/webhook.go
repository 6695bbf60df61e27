package alertmanager

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"threat-sentinel/internal/runbook"
)

// WebhookPayload is the Alertmanager webhook body.
type WebhookPayload struct {
	Version     string            `json:"version"`
	GroupKey    string            `json:"groupKey"`
	Status      string            `json:"status"`
	Receiver    string            `json:"receiver"`
	GroupLabels map[string]string `json:"groupLabels,omitempty"`
	Alerts      []runbook.Alert   `json:"alerts"`
}

// WebhookHandler serves the alert intake endpoint.
type WebhookHandler struct {
	dispatcher *Dispatcher
}

// NewWebhookHandler creates an intake handler backed by the dispatcher.
func NewWebhookHandler(dispatcher *Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

// RegisterRoutes registers the webhook route on the given mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/alerts/webhook", h.HandleWebhook)
}

// HandleWebhook handles POST /v1/alerts/webhook requests. Each firing alert
// in the payload is dispatched independently; the response reports how many
// alerts were accepted and how many runbook executions they produced.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_payload", "failed to parse webhook payload")
		return
	}
	if len(payload.Alerts) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_payload", "payload contains no alerts")
		return
	}

	accepted := 0
	executions := 0
	for i := range payload.Alerts {
		alert := &payload.Alerts[i]
		if alert.Status == "" {
			alert.Status = payload.Status
		}
		if alert.Status != "firing" {
			continue
		}
		accepted++
		executions += len(h.dispatcher.Dispatch(r.Context(), alert))
	}

	slog.Info("processed alert webhook",
		"group_key", payload.GroupKey,
		"alerts", len(payload.Alerts),
		"accepted", accepted,
		"executions", executions)

	h.writeJSON(w, http.StatusOK, map[string]int{
		"alerts":     len(payload.Alerts),
		"accepted":   accepted,
		"executions": executions,
	})
}

func (h *WebhookHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (h *WebhookHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
