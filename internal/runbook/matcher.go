package runbook

import (
	"sort"
	"sync"
	"time"
)

// Alert is the matcher's view of an inbound alert: a label set plus the
// metadata the executor records. Shaped after the Alertmanager webhook alert.
type Alert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations,omitempty"`
	StartsAt    time.Time         `json:"startsAt,omitempty"`
	EndsAt      time.Time         `json:"endsAt,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
}

// Label returns a label value, empty when absent.
func (a *Alert) Label(key string) string {
	if a.Labels == nil {
		return ""
	}
	return a.Labels[key]
}

// Matcher holds the loaded runbook set and matches alerts against it.
// Replace swaps the whole set atomically, so a reload never interleaves with
// an in-flight match.
type Matcher struct {
	mu       sync.RWMutex
	runbooks []*Runbook
}

// NewMatcher creates a matcher with an optional initial runbook set.
func NewMatcher(runbooks []*Runbook) *Matcher {
	m := &Matcher{}
	m.Replace(runbooks)
	return m
}

// Replace atomically installs a new runbook set, discarding the old one.
func (m *Matcher) Replace(runbooks []*Runbook) {
	set := make([]*Runbook, len(runbooks))
	copy(set, runbooks)

	m.mu.Lock()
	m.runbooks = set
	m.mu.Unlock()
}

// Runbooks returns the currently loaded set in load order.
func (m *Matcher) Runbooks() []*Runbook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Runbook, len(m.runbooks))
	copy(out, m.runbooks)
	return out
}

// FindMatching returns every enabled runbook whose trigger matches the
// alert's labels, sorted by priority descending. The sort is stable: equal
// priorities keep load order.
func (m *Matcher) FindMatching(labels map[string]string) []*Runbook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Runbook, 0, 4)
	for _, rb := range m.runbooks {
		if !rb.Enabled {
			continue
		}
		if rb.Trigger.Matches(labels) {
			matched = append(matched, rb)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})
	return matched
}
