package scoring

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"threat-sentinel/internal/correlation"
	"threat-sentinel/internal/schema"
)

func ipEvents(n int, attackType string, sev schema.Severity) []schema.AttackEvent {
	events := make([]schema.AttackEvent, 0, n)
	base := time.Now().UTC().Add(-5 * time.Minute)
	for i := 0; i < n; i++ {
		events = append(events, schema.AttackEvent{
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			IPAddress:  "203.0.113.50",
			AttackType: attackType,
			Severity:   sev,
		})
	}
	return events
}

func TestScoreIPActivity_KnownValues(t *testing.T) {
	// Five high-severity SQL injection events:
	// frequency  = min(25, 2x5)        = 10
	// diversity  = min(20, 5x1)        = 5
	// severity   = min(30, 50/75 x 30) = 20
	// attack_risk= min(25, 20/25 x 25) = 20
	events := ipEvents(5, "sql_injection", schema.SeverityHigh)
	score := ScoreIPActivity("203.0.113.50", events, 60)

	want := map[string]float64{
		"frequency":   10,
		"diversity":   5,
		"severity":    20,
		"attack_risk": 20,
	}
	for name, val := range want {
		if math.Abs(score.Factors[name]-val) > 1e-9 {
			t.Errorf("factor %s = %v, want %v", name, score.Factors[name], val)
		}
	}
	if math.Abs(score.Score-55) > 1e-9 {
		t.Errorf("score = %v, want 55", score.Score)
	}
	if score.Level != LevelHigh {
		t.Errorf("level = %s, want high", score.Level)
	}
	if math.Abs(score.Confidence-0.25) > 1e-9 {
		t.Errorf("confidence = %v, want 0.25 (5/20)", score.Confidence)
	}
}

func TestScoreIPActivity_FactorsSumToScore(t *testing.T) {
	events := ipEvents(30, "command_injection", schema.SeverityCritical)
	score := ScoreIPActivity("203.0.113.50", events, 60)

	var sum float64
	for _, v := range score.Factors {
		sum += v
	}
	if math.Abs(sum-score.Score) > 1e-9 {
		t.Errorf("factors sum %v != score %v", sum, score.Score)
	}
	if score.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 (capped)", score.Confidence)
	}
	if score.Score < 0 || score.Score > 100 {
		t.Errorf("score %v out of [0,100]", score.Score)
	}
}

func TestScoreIPActivity_WindowRestriction(t *testing.T) {
	old := schema.AttackEvent{
		Timestamp:  time.Now().UTC().Add(-3 * time.Hour),
		IPAddress:  "203.0.113.50",
		AttackType: "sql_injection",
		Severity:   schema.SeverityCritical,
	}
	score := ScoreIPActivity("203.0.113.50", []schema.AttackEvent{old}, 60)

	if score.Level != LevelNone || score.Score != 0 {
		t.Errorf("stale events should score none/0, got %s/%v", score.Level, score.Score)
	}
}

func TestScoreIPActivity_Idempotent(t *testing.T) {
	events := ipEvents(8, "gateway_bypass", schema.SeverityHigh)

	first := ScoreIPActivity("203.0.113.50", events, 60)
	second := ScoreIPActivity("203.0.113.50", events, 60)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("scoring is not idempotent: %+v vs %+v", first, second)
	}
}

func TestScoreIPActivity_UnknownTypeDefaultRisk(t *testing.T) {
	events := ipEvents(1, "never_seen_before", schema.SeverityLow)
	score := ScoreIPActivity("203.0.113.50", events, 60)

	// attack_risk = min(25, 5/25 x 25) = 5
	if math.Abs(score.Factors["attack_risk"]-5) > 1e-9 {
		t.Errorf("attack_risk = %v, want 5 (default weight)", score.Factors["attack_risk"])
	}
}

func pattern(t correlation.PatternType, confidence float64, ips, events int) correlation.AttackPattern {
	p := correlation.AttackPattern{
		Type:        t,
		Confidence:  confidence,
		AttackerIPs: make([]string, ips),
		Events:      make([]schema.AttackEvent, events),
	}
	return p
}

func TestScorePattern_KnownValues(t *testing.T) {
	// apt 35 + confidence 0.8x25 + ips min(20,5x1) + events min(20,2x3)
	// = 35 + 20 + 5 + 6 = 66
	score := ScorePattern(pattern(correlation.PatternAPTIndicators, 0.8, 1, 3))

	if math.Abs(score.Score-66) > 1e-9 {
		t.Errorf("score = %v, want 66", score.Score)
	}
	if score.Level != LevelHigh {
		t.Errorf("level = %s, want high", score.Level)
	}
	if score.Confidence != 0.8 {
		t.Errorf("confidence = %v, want the pattern's own 0.8", score.Confidence)
	}
}

func TestScorePattern_CriticalRecommendations(t *testing.T) {
	apt := ScorePattern(pattern(correlation.PatternAPTIndicators, 1.0, 4, 10))
	multi := ScorePattern(pattern(correlation.PatternMultiStageAttack, 1.0, 1, 10))
	recon := ScorePattern(pattern(correlation.PatternReconnaissance, 1.0, 4, 10))

	if apt.Level != LevelCritical || multi.Level != LevelCritical {
		t.Fatalf("apt/multi levels = %s/%s, want critical/critical", apt.Level, multi.Level)
	}
	if !strings.Contains(apt.Recommendation, "do not ban") {
		t.Errorf("APT critical recommendation must preserve the no-ban guidance, got %q", apt.Recommendation)
	}
	if !strings.Contains(multi.Recommendation, "multi-stage") {
		t.Errorf("multi-stage critical recommendation must be its own branch, got %q", multi.Recommendation)
	}
	if apt.Recommendation == multi.Recommendation {
		t.Error("APT and multi-stage critical recommendations must differ")
	}
	if recon.Level == LevelCritical && recon.Recommendation == apt.Recommendation {
		t.Error("generic critical text must differ from the APT branch")
	}
}

func TestScorePattern_UnknownTypeDefaultWeight(t *testing.T) {
	score := ScorePattern(pattern(correlation.PatternType("mystery"), 0.5, 1, 1))

	// 10 + 12.5 + 5 + 2 = 29.5
	if math.Abs(score.Score-29.5) > 1e-9 {
		t.Errorf("score = %v, want 29.5", score.Score)
	}
}

func TestLevelThresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{24.9, LevelLow},
		{25, LevelMedium},
		{49.9, LevelMedium},
		{50, LevelHigh},
		{74.9, LevelHigh},
		{75, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		if got := levelFor(tt.score); got != tt.want {
			t.Errorf("levelFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestCalculateRiskAssessment(t *testing.T) {
	tests := []struct {
		name       string
		events     int
		patterns   int
		critIPs    int
		highSev    int
		wantScore  float64
		wantLevel  Level
		wantStatus string
	}{
		{
			name:       "quiet environment",
			wantScore:  0,
			wantLevel:  LevelLow,
			wantStatus: "Normal security posture",
		},
		{
			name:       "saturated environment",
			events:     1000,
			patterns:   10,
			critIPs:    5,
			highSev:    200,
			wantScore:  100,
			wantLevel:  LevelCritical,
			wantStatus: "Under active attack",
		},
		{
			name:      "moderate activity",
			events:    100, // 10
			patterns:  2,   // 10
			critIPs:   1,   // 10
			highSev:   25,  // 5
			wantScore: 35,
			wantLevel: LevelMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk := CalculateRiskAssessment(tt.events, tt.patterns, tt.critIPs, tt.highSev, 1)
			if math.Abs(risk.Score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %v, want %v", risk.Score, tt.wantScore)
			}
			if risk.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", risk.Level, tt.wantLevel)
			}
			if tt.wantStatus != "" && risk.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", risk.Status, tt.wantStatus)
			}
		})
	}
}
