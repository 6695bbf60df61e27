package correlation

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"threat-sentinel/internal/schema"
)

// EngineConfig configures the correlation engine.
type EngineConfig struct {
	TimeWindow time.Duration // Sliding retention window for raw events
}

// DefaultEngineConfig returns default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TimeWindow: 60 * time.Minute,
	}
}

// Engine correlates attack events into attack patterns over a sliding time
// window. All mutation is serialized behind a single mutex: one event is
// processed to completion, including pattern re-detection, before the next.
type Engine struct {
	config EngineConfig

	mu          sync.Mutex
	events      []*schema.AttackEvent
	byIP        map[string][]*schema.AttackEvent
	honeypotIdx map[string][]*schema.AttackEvent
	loginIdx    map[string][]*schema.AttackEvent
	idorIdx     map[string][]*schema.AttackEvent
	patterns    []*AttackPattern

	// sink, when set, observes every accepted event before correlation.
	// Must be set before ingestion starts.
	sink func(*schema.AttackEvent)

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a new correlation engine.
func NewEngine(config EngineConfig) *Engine {
	if config.TimeWindow <= 0 {
		config.TimeWindow = DefaultEngineConfig().TimeWindow
	}
	return &Engine{
		config:      config,
		byIP:        make(map[string][]*schema.AttackEvent),
		honeypotIdx: make(map[string][]*schema.AttackEvent),
		loginIdx:    make(map[string][]*schema.AttackEvent),
		idorIdx:     make(map[string][]*schema.AttackEvent),
		now:         time.Now,
	}
}

// SetSink installs a callback observing every accepted event, typically a
// persistence writer. Must be called before ingestion starts.
func (e *Engine) SetSink(fn func(*schema.AttackEvent)) {
	e.sink = fn
}

// Event classifiers. Classification is case-insensitive substring matching on
// the attack type tag; an event may fall into several classes at once.

func isHoneypotType(attackType string) bool {
	return strings.Contains(strings.ToLower(attackType), "honeypot")
}

func isLoginType(attackType string) bool {
	t := strings.ToLower(attackType)
	return strings.Contains(t, "login") || strings.Contains(t, "brute")
}

func isIDORType(attackType string) bool {
	return strings.Contains(strings.ToLower(attackType), "idor")
}

// isExploitationType marks events that indicate active exploitation rather
// than probing, used by the multi-stage detector.
func isExploitationType(attackType string) bool {
	return isLoginType(attackType) || isIDORType(attackType)
}

// isExploitIndicatorType marks the narrower exploit class the APT detector
// pairs with honeypot activity.
func isExploitIndicatorType(attackType string) bool {
	t := strings.ToLower(attackType)
	return strings.Contains(t, "idor") || strings.Contains(t, "bypass")
}

// AddEvent ingests one attack event: it is appended to the window and the
// per-class indices, expired events are purged, and all detectors re-run
// against the current state. Cost is O(detectors x window size), which the
// bounded window keeps acceptable.
func (e *Engine) AddEvent(event *schema.AttackEvent) {
	if event == nil || event.IPAddress == "" {
		return
	}
	if e.sink != nil {
		e.sink(event)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, event)
	e.byIP[event.IPAddress] = append(e.byIP[event.IPAddress], event)
	if isHoneypotType(event.AttackType) {
		e.honeypotIdx[event.IPAddress] = append(e.honeypotIdx[event.IPAddress], event)
	}
	if isLoginType(event.AttackType) {
		e.loginIdx[event.IPAddress] = append(e.loginIdx[event.IPAddress], event)
	}
	if isIDORType(event.AttackType) {
		e.idorIdx[event.IPAddress] = append(e.idorIdx[event.IPAddress], event)
	}

	e.purgeExpired()
	e.runDetectors()
}

// purgeExpired drops every event older than now - TimeWindow from the flat
// list and all indices, removing index entries that become empty.
func (e *Engine) purgeExpired() {
	cutoff := e.now().Add(-e.config.TimeWindow)

	live := e.events[:0]
	for _, ev := range e.events {
		if ev.Timestamp.After(cutoff) {
			live = append(live, ev)
		}
	}
	e.events = live

	for _, idx := range []map[string][]*schema.AttackEvent{e.byIP, e.honeypotIdx, e.loginIdx, e.idorIdx} {
		for ip, evs := range idx {
			kept := evs[:0]
			for _, ev := range evs {
				if ev.Timestamp.After(cutoff) {
					kept = append(kept, ev)
				}
			}
			if len(kept) == 0 {
				delete(idx, ip)
			} else {
				idx[ip] = kept
			}
		}
	}
}

// runDetectors evaluates all pattern detectors against the windowed state.
// Callers must hold e.mu.
func (e *Engine) runDetectors() {
	e.detectReconnaissance()
	e.detectMultiStage()
	e.detectDistributed()
	e.detectCredentialStuffing()
	e.detectAPTIndicators()
}

// upsertPattern merges the occurrence into an existing pattern of the same
// type and identical attacker-IP set when it falls within the merge window of
// that pattern's last_seen; otherwise it is appended as a new pattern.
// Callers must hold e.mu.
func (e *Engine) upsertPattern(occ *AttackPattern) {
	for _, existing := range e.patterns {
		if existing.Type != occ.Type || !existing.sameIPSet(occ.AttackerIPs) {
			continue
		}
		if occ.LastSeen.Sub(existing.LastSeen) <= mergeWindow && occ.LastSeen.Sub(existing.LastSeen) >= -mergeWindow {
			existing.merge(occ)
			return
		}
	}

	occ.PatternID = newPatternID(occ.Type, occ.AttackerIPs, e.now())
	occ.RecommendedActions = recommendedActions(occ.Type)
	e.patterns = append(e.patterns, occ)
	slog.Info("attack pattern detected",
		"pattern_id", occ.PatternID,
		"type", occ.Type,
		"confidence", occ.Confidence,
		"attacker_ips", len(occ.AttackerIPs))
}

// PatternFilter selects patterns from the engine. Zero values mean no filter.
type PatternFilter struct {
	MinConfidence float64
	Severity      schema.Severity
	Type          PatternType
}

// Patterns returns detected patterns passing all supplied filters, sorted by
// last_seen descending. The returned patterns are copies.
func (e *Engine) Patterns(filter PatternFilter) []AttackPattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]AttackPattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		if p.Confidence < filter.MinConfidence {
			continue
		}
		if filter.Severity != "" && p.Severity != filter.Severity {
			continue
		}
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		result = append(result, *p)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].LastSeen.After(result[j].LastSeen)
	})
	return result
}

// EventsForIP returns copies of the live windowed events for an IP.
func (e *Engine) EventsForIP(ip string) []schema.AttackEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	evs := e.byIP[ip]
	out := make([]schema.AttackEvent, 0, len(evs))
	for _, ev := range evs {
		out = append(out, *ev)
	}
	return out
}

// ActivityByIP returns copies of the live windowed events grouped by source
// IP. Used for environment-wide rollups that need to score every active IP.
func (e *Engine) ActivityByIP() map[string][]schema.AttackEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]schema.AttackEvent, len(e.byIP))
	for ip, evs := range e.byIP {
		copies := make([]schema.AttackEvent, 0, len(evs))
		for _, ev := range evs {
			copies = append(copies, *ev)
		}
		out[ip] = copies
	}
	return out
}

// Statistics summarizes the live state of the engine.
type Statistics struct {
	TotalEvents        int                     `json:"total_events"`
	UniqueIPs          int                     `json:"unique_ips"`
	PatternCount       int                     `json:"pattern_count"`
	PatternsByType     map[PatternType]int     `json:"patterns_by_type"`
	PatternsBySeverity map[schema.Severity]int `json:"patterns_by_severity"`
	WindowMinutes      float64                 `json:"window_minutes"`
	OldestEvent        *time.Time              `json:"oldest_event,omitempty"`
	NewestEvent        *time.Time              `json:"newest_event,omitempty"`
}

// Statistics returns current correlation statistics.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Statistics{
		TotalEvents:        len(e.events),
		UniqueIPs:          len(e.byIP),
		PatternCount:       len(e.patterns),
		PatternsByType:     make(map[PatternType]int),
		PatternsBySeverity: make(map[schema.Severity]int),
		WindowMinutes:      e.config.TimeWindow.Minutes(),
	}

	for _, p := range e.patterns {
		stats.PatternsByType[p.Type]++
		stats.PatternsBySeverity[p.Severity]++
	}

	if len(e.events) > 0 {
		oldest := e.events[0].Timestamp
		newest := e.events[0].Timestamp
		for _, ev := range e.events[1:] {
			if ev.Timestamp.Before(oldest) {
				oldest = ev.Timestamp
			}
			if ev.Timestamp.After(newest) {
				newest = ev.Timestamp
			}
		}
		stats.OldestEvent = &oldest
		stats.NewestEvent = &newest
	}

	return stats
}

// PrunePatterns drops patterns whose last_seen is older than the given
// instant. The sliding window never expires patterns on its own; this is an
// explicit operator action.
func (e *Engine) PrunePatterns(olderThan time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.patterns[:0]
	dropped := 0
	for _, p := range e.patterns {
		if p.LastSeen.Before(olderThan) {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	e.patterns = kept
	return dropped
}
