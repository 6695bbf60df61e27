// Package scoring converts attack events and detected patterns into numeric
// threat scores. Every entry point is a pure function over its inputs: no
// shared state, safe for concurrent use against immutable snapshots.
package scoring

import (
	"fmt"
	"time"

	"threat-sentinel/internal/correlation"
	"threat-sentinel/internal/schema"
)

// Level is the qualitative tier derived from a 0-100 threat score.
type Level string

const (
	LevelNone     Level = "none"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// ThreatScore is the output of a scoring call. Factors are the named additive
// components; their sum equals Score.
type ThreatScore struct {
	Score          float64            `json:"score"`
	Level          Level              `json:"level"`
	Factors        map[string]float64 `json:"factors"`
	Confidence     float64            `json:"confidence"`
	Recommendation string             `json:"recommendation"`
}

// Per-event severity weights used by the severity factor.
var severityWeights = map[schema.Severity]float64{
	schema.SeverityLow:      10,
	schema.SeverityMedium:   25,
	schema.SeverityHigh:     50,
	schema.SeverityCritical: 75,
}

// Per-attack-type risk weights. Unknown types default to 5.
var attackTypeRisk = map[string]float64{
	"sql_injection":     20,
	"xss_attack":        15,
	"command_injection": 25,
	"path_traversal":    15,
	"brute_force":       10,
	"scanner_detection": 8,
	"honeypot_access":   12,
	"gateway_bypass":    18,
	"idor_exploitation": 15,
	"rate_limit_bypass": 10,
}

const defaultAttackTypeRisk = 5

// Pattern-type weights for pattern scoring. Unknown types default to 10.
var patternTypeWeights = map[correlation.PatternType]float64{
	correlation.PatternReconnaissance:     15,
	correlation.PatternMultiStageAttack:   30,
	correlation.PatternDistributedAttack:  25,
	correlation.PatternCredentialStuffing: 20,
	correlation.PatternAPTIndicators:      35,
}

const defaultPatternTypeWeight = 10

// nowFn is swappable for tests.
var nowFn = time.Now

func capAt(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}

// levelFor maps a score to its tier. Shared by all entry points.
func levelFor(score float64) Level {
	switch {
	case score >= 75:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 25:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ScoreIPActivity scores the recent activity of a single IP. Only events
// within windowMinutes of now contribute. The four factors are pre-scaled so
// the sum lands in [0,100] for realistic inputs; the sum is reported as
// computed, not re-normalized.
func ScoreIPActivity(ip string, events []schema.AttackEvent, windowMinutes int) ThreatScore {
	cutoff := nowFn().Add(-time.Duration(windowMinutes) * time.Minute)
	recent := make([]schema.AttackEvent, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp.After(cutoff) {
			recent = append(recent, ev)
		}
	}

	if len(recent) == 0 {
		return ThreatScore{
			Score:          0,
			Level:          LevelNone,
			Factors:        map[string]float64{},
			Confidence:     0,
			Recommendation: fmt.Sprintf("No recent activity from %s", ip),
		}
	}

	count := float64(len(recent))

	types := make(map[string]struct{})
	var severitySum, riskSum float64
	for _, ev := range recent {
		types[ev.AttackType] = struct{}{}
		if w, ok := severityWeights[ev.Severity]; ok {
			severitySum += w
		}
		if r, ok := attackTypeRisk[ev.AttackType]; ok {
			riskSum += r
		} else {
			riskSum += defaultAttackTypeRisk
		}
	}

	factors := map[string]float64{
		"frequency":   capAt(2*count, 25),
		"diversity":   capAt(5*float64(len(types)), 20),
		"severity":    capAt(severitySum/count/75*30, 30),
		"attack_risk": capAt(riskSum/count/25*25, 25),
	}

	var score float64
	for _, v := range factors {
		score += v
	}

	level := levelFor(score)
	return ThreatScore{
		Score:          score,
		Level:          level,
		Factors:        factors,
		Confidence:     capAt(count/20, 1.0),
		Recommendation: ipRecommendation(ip, level),
	}
}

// ScorePattern scores a detected attack pattern. The resulting confidence is
// the pattern's own detector confidence.
func ScorePattern(pattern correlation.AttackPattern) ThreatScore {
	weight, ok := patternTypeWeights[pattern.Type]
	if !ok {
		weight = defaultPatternTypeWeight
	}

	factors := map[string]float64{
		"pattern_type": weight,
		"confidence":   pattern.Confidence * 25,
		"ip_count":     capAt(5*float64(len(pattern.AttackerIPs)), 20),
		"event_count":  capAt(2*float64(len(pattern.Events)), 20),
	}

	var score float64
	for _, v := range factors {
		score += v
	}

	level := levelFor(score)
	return ThreatScore{
		Score:          score,
		Level:          level,
		Factors:        factors,
		Confidence:     pattern.Confidence,
		Recommendation: patternRecommendation(pattern.Type, level),
	}
}

// RiskAssessment is an environment-wide rollup of current threat posture.
type RiskAssessment struct {
	Score       float64            `json:"score"`
	Level       Level              `json:"level"`
	Status      string             `json:"status"`
	Factors     map[string]float64 `json:"factors"`
	WindowHours float64            `json:"window_hours"`
}

// CalculateRiskAssessment rolls current totals into a 0-100 environment risk
// score with the shared four-tier level mapping.
func CalculateRiskAssessment(totalEvents, totalPatterns, criticalIPs, highSeverityEvents int, windowHours float64) RiskAssessment {
	factors := map[string]float64{
		"event_risk":    capAt(float64(totalEvents)/10, 30),
		"pattern_risk":  capAt(5*float64(totalPatterns), 25),
		"ip_risk":       capAt(10*float64(criticalIPs), 25),
		"severity_risk": capAt(float64(highSeverityEvents)/5, 20),
	}

	var score float64
	for _, v := range factors {
		score += v
	}

	level := levelFor(score)
	var status string
	switch level {
	case LevelCritical:
		status = "Under active attack"
	case LevelHigh:
		status = "Elevated threat activity"
	case LevelMedium:
		status = "Suspicious activity observed"
	default:
		status = "Normal security posture"
	}

	return RiskAssessment{
		Score:       score,
		Level:       level,
		Status:      status,
		Factors:     factors,
		WindowHours: windowHours,
	}
}

// ipRecommendation maps an IP activity level to operator guidance.
func ipRecommendation(ip string, level Level) string {
	switch level {
	case LevelCritical:
		return fmt.Sprintf("CRITICAL: ban %s immediately and audit every resource it touched", ip)
	case LevelHigh:
		return fmt.Sprintf("HIGH: rate-limit %s now and prepare a ban if activity continues", ip)
	case LevelMedium:
		return fmt.Sprintf("MEDIUM: watch %s closely; add to the monitoring shortlist", ip)
	default:
		return fmt.Sprintf("LOW: no action needed for %s beyond routine logging", ip)
	}
}

// patternRecommendation maps a pattern type and level to operator guidance.
// The APT and multi-stage critical texts are deliberate first-class branches:
// operators key runbook selection off the exact wording.
func patternRecommendation(t correlation.PatternType, level Level) string {
	if level == LevelCritical {
		switch t {
		case correlation.PatternAPTIndicators:
			return "CRITICAL APT: do not ban - engage threat intel, enable full packet capture, and track the actor"
		case correlation.PatternMultiStageAttack:
			return "CRITICAL multi-stage: assume compromise in progress - ban the source, rotate exposed credentials, start incident response"
		default:
			return "CRITICAL: immediate containment required - ban attacker IPs and escalate to on-call"
		}
	}

	switch level {
	case LevelHigh:
		return "HIGH: apply the pattern's recommended actions and re-score within the hour"
	case LevelMedium:
		return "MEDIUM: monitor the pattern; act if confidence or volume rises"
	default:
		return "LOW: record for trend analysis; no immediate action"
	}
}
