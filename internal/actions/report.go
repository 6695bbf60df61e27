package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"threat-sentinel/internal/runbook"
)

// IncidentReport is the document a report action produces.
type IncidentReport struct {
	ID          uuid.UUID         `json:"id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Alert       runbook.Alert     `json:"alert"`
	Score       float64           `json:"score"`
	Runbook     string            `json:"runbook,omitempty"`
	Context     map[string]any    `json:"context,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// ReportUploader archives a finished report, typically to object storage.
type ReportUploader interface {
	UploadReport(ctx context.Context, key string, body []byte) (string, error)
}

// ReportHandler writes an incident report to disk and optionally uploads it.
//
// Params:
//
//	notes - free-form string appended to the report
type ReportHandler struct {
	dir      string
	uploader ReportUploader // optional
}

// NewReportHandler creates a report handler writing into dir. A nil uploader
// disables archival.
func NewReportHandler(dir string, uploader ReportUploader) *ReportHandler {
	return &ReportHandler{dir: dir, uploader: uploader}
}

func (h *ReportHandler) Type() runbook.ActionType {
	return runbook.ActionReport
}

func (h *ReportHandler) Execute(ctx context.Context, action runbook.Action, alert *runbook.Alert, execCtx runbook.ExecContext) (map[string]any, error) {
	report := IncidentReport{
		ID:          uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Alert:       *alert,
		Score:       execCtx.Score,
		Runbook:     execCtx.Runbook,
		Context:     execCtx.Data,
	}
	if notes, ok := action.StringParam("notes"); ok {
		report.Notes = map[string]string{"operator": notes}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	name := fmt.Sprintf("incident-%s-%s.json",
		report.GeneratedAt.Format("20060102T150405"), report.ID.String()[:8])

	if err := os.MkdirAll(h.dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}

	data := map[string]any{
		"report_id": report.ID.String(),
		"path":      path,
	}

	if h.uploader != nil {
		location, err := h.uploader.UploadReport(ctx, name, buf.Bytes())
		if err != nil {
			// The local copy exists; archival failure is the action's failure.
			return data, fmt.Errorf("failed to archive report: %w", err)
		}
		data["archive_location"] = location
	}

	slog.Info("wrote incident report", "id", report.ID, "path", path)
	return data, nil
}
