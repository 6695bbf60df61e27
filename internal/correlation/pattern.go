// Package correlation provides attack event correlation and pattern detection.
package correlation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"threat-sentinel/internal/schema"
)

// PatternType identifies the kind of attack pattern a detector produces.
type PatternType string

const (
	PatternReconnaissance     PatternType = "reconnaissance"
	PatternMultiStageAttack   PatternType = "multi_stage_attack"
	PatternDistributedAttack  PatternType = "distributed_attack"
	PatternCredentialStuffing PatternType = "credential_stuffing"
	PatternAPTIndicators      PatternType = "apt_indicators"
)

// IsValid checks if the pattern type is a known value.
func (p PatternType) IsValid() bool {
	switch p {
	case PatternReconnaissance, PatternMultiStageAttack, PatternDistributedAttack,
		PatternCredentialStuffing, PatternAPTIndicators:
		return true
	}
	return false
}

// AttackPattern is a higher-confidence conclusion inferred from correlating
// multiple attack events. Patterns live for the life of the process; only the
// raw events they were built from expire with the sliding window.
type AttackPattern struct {
	PatternID          string               `json:"pattern_id"`
	Type               PatternType          `json:"pattern_type"`
	Confidence         float64              `json:"confidence"`
	Severity           schema.Severity      `json:"severity"`
	AttackerIPs        []string             `json:"attacker_ips"`
	Events             []schema.AttackEvent `json:"events"`
	FirstSeen          time.Time            `json:"first_seen"`
	LastSeen           time.Time            `json:"last_seen"`
	Description        string               `json:"description"`
	RecommendedActions []string             `json:"recommended_actions"`
}

// mergeWindow is how close a new detector occurrence must be to an existing
// pattern's last_seen for the two to be considered the same ongoing pattern.
const mergeWindow = 300 * time.Second

// ipSetKey builds a canonical key for a set of attacker IPs.
func ipSetKey(ips []string) string {
	sorted := make([]string, len(ips))
	copy(sorted, ips)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// newPatternID derives a unique pattern identifier from the pattern type,
// attacker IP set and creation time.
func newPatternID(t PatternType, ips []string, created time.Time) string {
	return fmt.Sprintf("%s-%s-%d", t, ipSetKey(ips), created.UnixNano())
}

// sameIPSet reports whether the pattern covers exactly the given attacker set.
func (p *AttackPattern) sameIPSet(ips []string) bool {
	return ipSetKey(p.AttackerIPs) == ipSetKey(ips)
}

// merge folds a new occurrence of the same pattern into p: last_seen extends,
// events observed after the previous last_seen are appended, and confidence
// takes the max of the two.
func (p *AttackPattern) merge(occ *AttackPattern) {
	for _, ev := range occ.Events {
		if ev.Timestamp.After(p.LastSeen) {
			p.Events = append(p.Events, ev)
		}
	}
	if occ.LastSeen.After(p.LastSeen) {
		p.LastSeen = occ.LastSeen
	}
	if occ.FirstSeen.Before(p.FirstSeen) {
		p.FirstSeen = occ.FirstSeen
	}
	if occ.Confidence > p.Confidence {
		p.Confidence = occ.Confidence
	}
	p.Description = occ.Description
}

// clampConfidence keeps detector confidence inside [0, 1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Operator guidance per pattern type. The APT guidance deliberately withholds
// an immediate ban: banning a patient attacker destroys intelligence value.
func recommendedActions(t PatternType) []string {
	switch t {
	case PatternReconnaissance:
		return []string{
			"Ban attacker IP at the gateway",
			"Review honeypot logs for probed endpoints",
			"Confirm probed services are not exposed in production",
		}
	case PatternMultiStageAttack:
		return []string{
			"Ban attacker IP immediately",
			"Rotate credentials for targeted accounts",
			"Escalate to incident response for full timeline reconstruction",
		}
	case PatternDistributedAttack:
		return []string{
			"Enable rate limiting on the targeted endpoint",
			"Ban participating IPs or apply CIDR-level blocks",
			"Engage upstream DDoS mitigation if volume grows",
		}
	case PatternCredentialStuffing:
		return []string{
			"Ban attacker IP immediately",
			"Force password reset for attempted usernames",
			"Enable MFA enforcement for affected accounts",
		}
	case PatternAPTIndicators:
		return []string{
			"Do NOT ban the IP yet - preserve intelligence value",
			"Enable enhanced logging for all activity from this source",
			"Open a tracked investigation and monitor for lateral movement",
			"Prepare containment plan before tipping off the attacker",
		}
	}
	return nil
}
