package correlation

import (
	"fmt"
	"sort"
	"time"

	"threat-sentinel/internal/schema"
)

// Detector thresholds. These mirror operator-tuned values: loosening them
// floods the pattern list, tightening them misses slow attackers.
const (
	reconMinHoneypotEvents = 3
	reconMinDistinctTypes  = 2

	multiStageMinEvents        = 5
	multiStageHighDiverseTypes = 4

	distributedMinIPs       = 5
	distributedMaxSpan      = 300 * time.Second
	distributedBotnetUARate = 0.3

	stuffingMinAttempts   = 10
	stuffingMinUsernames  = 5
	stuffingRapidFireMean = 2 * time.Second

	aptMaxEvents        = 15
	aptMinSpan          = 1800 * time.Second
	aptMinDistinctTypes = 3
)

func copyEventsSorted(events []*schema.AttackEvent) []schema.AttackEvent {
	out := make([]schema.AttackEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func eventSpan(events []schema.AttackEvent) (first, last time.Time) {
	if len(events) == 0 {
		return
	}
	first, last = events[0].Timestamp, events[0].Timestamp
	for _, ev := range events[1:] {
		if ev.Timestamp.Before(first) {
			first = ev.Timestamp
		}
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	return
}

func distinctAttackTypes(events []schema.AttackEvent) int {
	types := make(map[string]struct{}, len(events))
	for _, ev := range events {
		types[ev.AttackType] = struct{}{}
	}
	return len(types)
}

// detectReconnaissance flags an IP that probes several distinct honeypot
// surfaces: repeated honeypot hits across at least two attack types.
func (e *Engine) detectReconnaissance() {
	for ip, evs := range e.honeypotIdx {
		if len(evs) < reconMinHoneypotEvents {
			continue
		}
		events := copyEventsSorted(evs)
		distinct := distinctAttackTypes(events)
		if distinct < reconMinDistinctTypes {
			continue
		}

		first, last := eventSpan(events)
		e.upsertPattern(&AttackPattern{
			Type:        PatternReconnaissance,
			Confidence:  clampConfidence(0.5 + 0.1*float64(distinct)),
			Severity:    schema.SeverityHigh,
			AttackerIPs: []string{ip},
			Events:      events,
			FirstSeen:   first,
			LastSeen:    last,
			Description: fmt.Sprintf("Reconnaissance from %s: %d honeypot probes across %d attack types", ip, len(events), distinct),
		})
	}
}

// detectMultiStage flags an IP that moved from probing to exploitation:
// enough volume plus at least one honeypot hit and one exploitation attempt.
func (e *Engine) detectMultiStage() {
	for ip, evs := range e.byIP {
		if len(evs) < multiStageMinEvents {
			continue
		}

		var sawHoneypot, sawExploitation bool
		for _, ev := range evs {
			if isHoneypotType(ev.AttackType) {
				sawHoneypot = true
			}
			if isExploitationType(ev.AttackType) {
				sawExploitation = true
			}
		}
		if !sawHoneypot || !sawExploitation {
			continue
		}

		events := copyEventsSorted(evs)
		confidence := 0.7
		if distinctAttackTypes(events) >= multiStageHighDiverseTypes {
			confidence = 0.9
		}

		first, last := eventSpan(events)
		e.upsertPattern(&AttackPattern{
			Type:        PatternMultiStageAttack,
			Confidence:  confidence,
			Severity:    schema.SeverityCritical,
			AttackerIPs: []string{ip},
			Events:      events,
			FirstSeen:   first,
			LastSeen:    last,
			Description: fmt.Sprintf("Multi-stage attack from %s: reconnaissance followed by exploitation (%d events)", ip, len(events)),
		})
	}
}

// detectDistributed flags a target hit by many distinct source IPs inside a
// tight burst. A low user-agent count relative to the IP count is a botnet
// signal and raises confidence.
func (e *Engine) detectDistributed() {
	byTarget := make(map[string][]*schema.AttackEvent)
	for _, ev := range e.events {
		if ev.Target == "" {
			continue
		}
		byTarget[ev.Target] = append(byTarget[ev.Target], ev)
	}

	for target, evs := range byTarget {
		ips := make(map[string]struct{})
		agents := make(map[string]struct{})
		for _, ev := range evs {
			ips[ev.IPAddress] = struct{}{}
			if ev.UserAgent != "" {
				agents[ev.UserAgent] = struct{}{}
			}
		}
		if len(ips) < distributedMinIPs {
			continue
		}

		events := copyEventsSorted(evs)
		first, last := eventSpan(events)
		if last.Sub(first) >= distributedMaxSpan {
			continue
		}

		confidence := 0.6 + 0.05*float64(len(ips))
		if confidence > 1.0 {
			confidence = 1.0
		}
		if float64(len(agents)) < distributedBotnetUARate*float64(len(ips)) {
			confidence += 0.2
		}

		attackerIPs := make([]string, 0, len(ips))
		for ip := range ips {
			attackerIPs = append(attackerIPs, ip)
		}
		sort.Strings(attackerIPs)

		e.upsertPattern(&AttackPattern{
			Type:        PatternDistributedAttack,
			Confidence:  clampConfidence(confidence),
			Severity:    schema.SeverityCritical,
			AttackerIPs: attackerIPs,
			Events:      events,
			FirstSeen:   first,
			LastSeen:    last,
			Description: fmt.Sprintf("Distributed attack on %s: %d source IPs within %.0fs", target, len(ips), last.Sub(first).Seconds()),
		})
	}
}

// detectCredentialStuffing flags an IP hammering logins across many distinct
// usernames. Sub-two-second mean spacing between attempts marks automation
// and raises confidence.
func (e *Engine) detectCredentialStuffing() {
	for ip, evs := range e.loginIdx {
		if len(evs) < stuffingMinAttempts {
			continue
		}

		usernames := make(map[string]struct{})
		for _, ev := range evs {
			if u, ok := ev.Detail("username"); ok && u != "" {
				usernames[u] = struct{}{}
			}
		}
		if len(usernames) < stuffingMinUsernames {
			continue
		}

		events := copyEventsSorted(evs)
		confidence := 0.5 + 0.05*float64(len(usernames))
		if confidence > 1.0 {
			confidence = 1.0
		}

		var totalGap time.Duration
		for i := 1; i < len(events); i++ {
			totalGap += events[i].Timestamp.Sub(events[i-1].Timestamp)
		}
		meanGap := totalGap / time.Duration(len(events)-1)
		if meanGap < stuffingRapidFireMean {
			confidence += 0.2
		}

		first, last := eventSpan(events)
		e.upsertPattern(&AttackPattern{
			Type:        PatternCredentialStuffing,
			Confidence:  clampConfidence(confidence),
			Severity:    schema.SeverityHigh,
			AttackerIPs: []string{ip},
			Events:      events,
			FirstSeen:   first,
			LastSeen:    last,
			Description: fmt.Sprintf("Credential stuffing from %s: %d failed logins across %d usernames", ip, len(events), len(usernames)),
		})
	}
}

// detectAPTIndicators flags low-and-slow activity: few events spread over a
// long span but touching several attack types. Pairing honeypot probes with
// exploit attempts raises confidence.
func (e *Engine) detectAPTIndicators() {
	for ip, evs := range e.byIP {
		if len(evs) > aptMaxEvents {
			continue
		}

		events := copyEventsSorted(evs)
		first, last := eventSpan(events)
		if last.Sub(first) <= aptMinSpan {
			continue
		}
		distinct := distinctAttackTypes(events)
		if distinct < aptMinDistinctTypes {
			continue
		}

		var sawHoneypot, sawExploit bool
		for _, ev := range events {
			if isHoneypotType(ev.AttackType) {
				sawHoneypot = true
			}
			if isExploitIndicatorType(ev.AttackType) {
				sawExploit = true
			}
		}
		confidence := 0.6
		if sawHoneypot && sawExploit {
			confidence = 0.8
		}

		e.upsertPattern(&AttackPattern{
			Type:        PatternAPTIndicators,
			Confidence:  confidence,
			Severity:    schema.SeverityCritical,
			AttackerIPs: []string{ip},
			Events:      events,
			FirstSeen:   first,
			LastSeen:    last,
			Description: fmt.Sprintf("APT indicators from %s: %d events across %d types over %.0f minutes", ip, len(events), distinct, last.Sub(first).Minutes()),
		})
	}
}
