package correlation

import (
	"fmt"
	"testing"
	"time"

	"threat-sentinel/internal/schema"
)

func event(ip, attackType string, sev schema.Severity, ts time.Time) *schema.AttackEvent {
	return &schema.AttackEvent{
		Timestamp:  ts,
		IPAddress:  ip,
		AttackType: attackType,
		Severity:   sev,
	}
}

func TestEngine_AddEvent_Indexing(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	now := time.Now().UTC()

	engine.AddEvent(event("10.0.0.1", "honeypot_admin", schema.SeverityHigh, now))
	engine.AddEvent(event("10.0.0.1", "login_failed", schema.SeverityMedium, now))
	engine.AddEvent(event("10.0.0.1", "idor_attempt", schema.SeverityHigh, now))
	engine.AddEvent(event("10.0.0.2", "brute_force_login", schema.SeverityMedium, now))

	if got := len(engine.byIP["10.0.0.1"]); got != 3 {
		t.Errorf("byIP[10.0.0.1] = %d events, want 3", got)
	}
	if got := len(engine.honeypotIdx["10.0.0.1"]); got != 1 {
		t.Errorf("honeypot index = %d events, want 1", got)
	}
	if got := len(engine.idorIdx["10.0.0.1"]); got != 1 {
		t.Errorf("idor index = %d events, want 1", got)
	}
	// brute_force_login matches both the login and brute substrings but is
	// indexed once.
	if got := len(engine.loginIdx["10.0.0.2"]); got != 1 {
		t.Errorf("login index = %d events, want 1", got)
	}
}

func TestEngine_WindowEviction(t *testing.T) {
	engine := NewEngine(EngineConfig{TimeWindow: 10 * time.Minute})
	now := time.Now().UTC()

	engine.AddEvent(event("10.0.0.1", "honeypot_admin", schema.SeverityHigh, now.Add(-20*time.Minute)))
	engine.AddEvent(event("10.0.0.2", "login_failed", schema.SeverityMedium, now))

	stats := engine.Statistics()
	if stats.TotalEvents != 1 {
		t.Errorf("total events = %d, want 1 (expired event should be purged)", stats.TotalEvents)
	}
	if stats.UniqueIPs != 1 {
		t.Errorf("unique IPs = %d, want 1", stats.UniqueIPs)
	}
	if len(engine.honeypotIdx) != 0 {
		t.Error("honeypot index entry should be removed when empty")
	}
}

func TestEngine_Statistics(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())

	stats := engine.Statistics()
	if stats.TotalEvents != 0 || stats.OldestEvent != nil || stats.NewestEvent != nil {
		t.Error("empty engine should report zero events and no timestamps")
	}
	if stats.WindowMinutes != 60 {
		t.Errorf("window minutes = %v, want 60", stats.WindowMinutes)
	}

	now := time.Now().UTC()
	first := now.Add(-5 * time.Minute)
	engine.AddEvent(event("10.0.0.1", "honeypot_admin", schema.SeverityHigh, first))
	engine.AddEvent(event("10.0.0.2", "login_failed", schema.SeverityMedium, now))

	stats = engine.Statistics()
	if stats.TotalEvents != 2 || stats.UniqueIPs != 2 {
		t.Errorf("stats = %d events / %d IPs, want 2/2", stats.TotalEvents, stats.UniqueIPs)
	}
	if stats.OldestEvent == nil || !stats.OldestEvent.Equal(first) {
		t.Errorf("oldest event = %v, want %v", stats.OldestEvent, first)
	}
	if stats.NewestEvent == nil || !stats.NewestEvent.Equal(now) {
		t.Errorf("newest event = %v, want %v", stats.NewestEvent, now)
	}
}

func TestEngine_PatternDedup(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	base := time.Now().UTC().Add(-30 * time.Minute)

	// First qualifying burst.
	engine.AddEvent(event("10.0.0.5", "honeypot_admin", schema.SeverityHigh, base))
	engine.AddEvent(event("10.0.0.5", "honeypot_wp_login", schema.SeverityHigh, base.Add(1*time.Second)))
	engine.AddEvent(event("10.0.0.5", "honeypot_admin", schema.SeverityHigh, base.Add(2*time.Second)))

	patterns := engine.Patterns(PatternFilter{Type: PatternReconnaissance})
	if len(patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(patterns))
	}
	firstID := patterns[0].PatternID

	// A new occurrence 100s later merges into the same pattern.
	engine.AddEvent(event("10.0.0.5", "honeypot_cgi_probe", schema.SeverityHigh, base.Add(100*time.Second)))

	patterns = engine.Patterns(PatternFilter{Type: PatternReconnaissance})
	if len(patterns) != 1 {
		t.Fatalf("after merge: patterns = %d, want 1", len(patterns))
	}
	merged := patterns[0]
	if merged.PatternID != firstID {
		t.Error("merge should keep the original pattern ID")
	}
	if !merged.LastSeen.Equal(base.Add(100 * time.Second)) {
		t.Errorf("last_seen = %v, want %v", merged.LastSeen, base.Add(100*time.Second))
	}
	// Three distinct types now, so the merged confidence is the max: 0.8.
	if merged.Confidence != 0.8 {
		t.Errorf("merged confidence = %v, want 0.8 (max of occurrences)", merged.Confidence)
	}

	// An occurrence more than 300s past last_seen becomes a second pattern.
	engine.AddEvent(event("10.0.0.5", "honeypot_admin", schema.SeverityHigh, base.Add(500*time.Second)))

	patterns = engine.Patterns(PatternFilter{Type: PatternReconnaissance})
	if len(patterns) != 2 {
		t.Fatalf("beyond merge window: patterns = %d, want 2", len(patterns))
	}
}

func TestEngine_PatternsFilterAndSort(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	base := time.Now().UTC().Add(-10 * time.Minute)

	// Reconnaissance from one IP.
	engine.AddEvent(event("10.0.0.5", "honeypot_admin", schema.SeverityHigh, base))
	engine.AddEvent(event("10.0.0.5", "honeypot_wp_login", schema.SeverityHigh, base.Add(time.Second)))
	engine.AddEvent(event("10.0.0.5", "honeypot_admin", schema.SeverityHigh, base.Add(2*time.Second)))

	// Credential stuffing from another, later.
	for i := 0; i < 10; i++ {
		ev := event("10.0.0.9", "login_failed", schema.SeverityMedium, base.Add(time.Duration(60+i)*time.Second))
		ev.Details = map[string]string{"username": fmt.Sprintf("user%d", i%5)}
		engine.AddEvent(ev)
	}

	all := engine.Patterns(PatternFilter{})
	if len(all) != 2 {
		t.Fatalf("patterns = %d, want 2", len(all))
	}
	if all[0].Type != PatternCredentialStuffing {
		t.Errorf("first pattern = %s, want credential_stuffing (sorted by last_seen desc)", all[0].Type)
	}

	high := engine.Patterns(PatternFilter{Severity: schema.SeverityHigh, MinConfidence: 0.9})
	if len(high) != 1 || high[0].Type != PatternCredentialStuffing {
		t.Errorf("filtered patterns = %v, want only credential_stuffing", high)
	}

	none := engine.Patterns(PatternFilter{MinConfidence: 0.99})
	if len(none) != 0 {
		t.Errorf("min_confidence 0.99 should filter everything, got %d", len(none))
	}
}

func TestEngine_ConfidenceBounds(t *testing.T) {
	engine := NewEngine(EngineConfig{TimeWindow: 3 * time.Hour})
	base := time.Now().UTC().Add(-2 * time.Hour)

	// Pile on enough varied activity to exercise every detector.
	for i := 0; i < 12; i++ {
		ev := event("10.0.1.1", "login_failed", schema.SeverityMedium, base.Add(time.Duration(i)*time.Second))
		ev.Details = map[string]string{"username": fmt.Sprintf("u%d", i)}
		ev.Target = "/login"
		engine.AddEvent(ev)
	}
	for i := 0; i < 8; i++ {
		ev := event(fmt.Sprintf("10.0.2.%d", i), "gateway_bypass", schema.SeverityCritical, base.Add(time.Duration(i)*time.Second))
		ev.Target = "/api/internal"
		ev.UserAgent = "botnet-agent"
		engine.AddEvent(ev)
	}
	engine.AddEvent(event("10.0.3.3", "honeypot_admin", schema.SeverityHigh, base))
	engine.AddEvent(event("10.0.3.3", "idor_attempt", schema.SeverityHigh, base.Add(31*time.Minute)))
	engine.AddEvent(event("10.0.3.3", "scanner_detection", schema.SeverityLow, base.Add(62*time.Minute)))

	for _, p := range engine.Patterns(PatternFilter{}) {
		if p.Confidence < 0 || p.Confidence > 1 {
			t.Errorf("pattern %s: confidence %v out of [0,1]", p.PatternID, p.Confidence)
		}
		if len(p.AttackerIPs) == 0 {
			t.Errorf("pattern %s: attacker_ips must not be empty", p.PatternID)
		}
		if len(p.RecommendedActions) == 0 {
			t.Errorf("pattern %s: missing recommended actions", p.PatternID)
		}
	}
}

func TestEngine_PrunePatterns(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	base := time.Now().UTC().Add(-20 * time.Minute)

	engine.AddEvent(event("10.0.0.5", "honeypot_admin", schema.SeverityHigh, base))
	engine.AddEvent(event("10.0.0.5", "honeypot_wp_login", schema.SeverityHigh, base.Add(time.Second)))
	engine.AddEvent(event("10.0.0.5", "honeypot_admin", schema.SeverityHigh, base.Add(2*time.Second)))

	if dropped := engine.PrunePatterns(base.Add(-1 * time.Minute)); dropped != 0 {
		t.Errorf("dropped %d patterns, want 0", dropped)
	}
	if dropped := engine.PrunePatterns(time.Now().UTC()); dropped != 1 {
		t.Errorf("dropped %d patterns, want 1", dropped)
	}
	if got := len(engine.Patterns(PatternFilter{})); got != 0 {
		t.Errorf("patterns after prune = %d, want 0", got)
	}
}
