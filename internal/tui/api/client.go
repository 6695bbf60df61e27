// Package api provides the HTTP client the TUI uses to query threat-sentinel.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client handles API communication with the sentinel backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Statistics mirrors the GET /v1/statistics response.
type Statistics struct {
	TotalEvents        int            `json:"total_events"`
	UniqueIPs          int            `json:"unique_ips"`
	PatternCount       int            `json:"pattern_count"`
	PatternsByType     map[string]int `json:"patterns_by_type"`
	PatternsBySeverity map[string]int `json:"patterns_by_severity"`
	WindowMinutes      float64        `json:"window_minutes"`
	OldestEvent        *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent        *time.Time     `json:"newest_event,omitempty"`
}

// Risk mirrors the GET /v1/risk response.
type Risk struct {
	Score       float64            `json:"score"`
	Level       string             `json:"level"`
	Status      string             `json:"status"`
	Factors     map[string]float64 `json:"factors"`
	WindowHours float64            `json:"window_hours"`
}

// Pattern is the subset of a correlated pattern the TUI displays.
type Pattern struct {
	PatternID   string    `json:"pattern_id"`
	Type        string    `json:"pattern_type"`
	Confidence  float64   `json:"confidence"`
	Severity    string    `json:"severity"`
	AttackerIPs []string  `json:"attacker_ips"`
	LastSeen    time.Time `json:"last_seen"`
	Description string    `json:"description"`
}

// PatternsResponse mirrors the GET /v1/patterns envelope.
type PatternsResponse struct {
	Patterns []Pattern `json:"patterns"`
	Total    int       `json:"total"`
}

// Execution is the subset of a runbook execution the TUI displays.
type Execution struct {
	ID               string     `json:"id"`
	RunbookName      string     `json:"runbook_name"`
	AlertFingerprint string     `json:"alert_fingerprint"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Status           string     `json:"status"`
	ActionsExecuted  int        `json:"actions_executed"`
	ActionsFailed    int        `json:"actions_failed"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// ExecutionsResponse mirrors the GET /v1/executions envelope.
type ExecutionsResponse struct {
	Executions []Execution `json:"executions"`
	Total      int         `json:"total"`
}

// ExecutionStats mirrors the GET /v1/executions/stats response.
type ExecutionStats struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Partial     int     `json:"partial"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetStatistics fetches correlation statistics.
func (c *Client) GetStatistics() (*Statistics, error) {
	var stats Statistics
	if err := c.get("/v1/statistics", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetRisk fetches the environment risk assessment.
func (c *Client) GetRisk() (*Risk, error) {
	var risk Risk
	if err := c.get("/v1/risk", &risk); err != nil {
		return nil, err
	}
	return &risk, nil
}

// GetPatterns fetches up to limit active patterns.
func (c *Client) GetPatterns(limit int) (*PatternsResponse, error) {
	var resp PatternsResponse
	if err := c.get(fmt.Sprintf("/v1/patterns?limit=%d", limit), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetExecutions fetches up to limit recent runbook executions.
func (c *Client) GetExecutions(limit int) (*ExecutionsResponse, error) {
	var resp ExecutionsResponse
	if err := c.get(fmt.Sprintf("/v1/executions?limit=%d", limit), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetExecutionStats fetches aggregate runbook execution statistics.
func (c *Client) GetExecutionStats() (*ExecutionStats, error) {
	var stats ExecutionStats
	if err := c.get("/v1/executions/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
