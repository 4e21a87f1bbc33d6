package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates per-rule scan counters.
type Collector struct {
	mu      sync.RWMutex
	enabled bool
	started time.Time
	rules   map[string]*RuleMetrics
	cycles  uint64
	cleared uint64
}

// RuleMetrics captures per-rule counters tracked by the collector.
type RuleMetrics struct {
	Rule        string    `json:"rule"`
	Scanned     uint64    `json:"scanned"`
	Matched     uint64    `json:"matched"`
	Applied     uint64    `json:"applied"`
	Errors      uint64    `json:"errors"`
	LastMatched time.Time `json:"lastMatched,omitempty"`
	LastApplied time.Time `json:"lastApplied,omitempty"`
	LastErrored time.Time `json:"lastErrored,omitempty"`
}

// Totals aggregates counters across all rules in a snapshot.
type Totals struct {
	Scanned uint64 `json:"scanned"`
	Matched uint64 `json:"matched"`
	Applied uint64 `json:"applied"`
	Errors  uint64 `json:"errors"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Enabled        bool          `json:"enabled"`
	Started        time.Time     `json:"started,omitempty"`
	Cycles         uint64        `json:"cycles"`
	MarkersCleared uint64        `json:"markersCleared"`
	Totals         Totals        `json:"totals"`
	Rules          []RuleMetrics `json:"rules,omitempty"`
}

// NewCollector returns a collector with the provided opt-in state.
func NewCollector(enabled bool) *Collector {
	c := &Collector{}
	c.SetEnabled(enabled)
	return c
}

// Enabled reports whether collection is currently active.
func (c *Collector) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles collection, resetting counters when enabling.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	c.cycles = 0
	c.cleared = 0
	if !enabled {
		c.rules = nil
		c.started = time.Time{}
		return
	}
	c.started = time.Now()
	c.rules = make(map[string]*RuleMetrics)
}

// RecordCycle counts a completed scan cycle.
func (c *Collector) RecordCycle() {
	c.update(func() { c.cycles++ })
}

// RecordCleared counts markers removed by invalidation or reset.
func (c *Collector) RecordCleared(n int) {
	if n <= 0 {
		return
	}
	c.update(func() { c.cleared += uint64(n) })
}

// RecordScanned adds n evaluated candidates to a rule.
func (c *Collector) RecordScanned(rule string, n int) {
	if n <= 0 {
		return
	}
	c.updateRule(rule, func(metrics *RuleMetrics, _ time.Time) {
		metrics.Scanned += uint64(n)
	})
}

// RecordMatch increments the matched counter for a rule.
func (c *Collector) RecordMatch(rule string) {
	c.updateRule(rule, func(metrics *RuleMetrics, now time.Time) {
		metrics.Matched++
		metrics.LastMatched = now
	})
}

// RecordApplied increments the applied counter for a rule.
func (c *Collector) RecordApplied(rule string) {
	c.updateRule(rule, func(metrics *RuleMetrics, now time.Time) {
		metrics.Applied++
		metrics.LastApplied = now
	})
}

// RecordError increments the error counter for a rule.
func (c *Collector) RecordError(rule string) {
	c.updateRule(rule, func(metrics *RuleMetrics, now time.Time) {
		metrics.Errors++
		metrics.LastErrored = now
	})
}

func (c *Collector) update(mutate func()) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	mutate()
}

func (c *Collector) updateRule(rule string, mutate func(*RuleMetrics, time.Time)) {
	if c == nil || mutate == nil {
		return
	}
	now := time.Now()
	c.update(func() {
		if c.rules == nil {
			c.rules = make(map[string]*RuleMetrics)
		}
		metrics, exists := c.rules[rule]
		if !exists {
			metrics = &RuleMetrics{Rule: rule}
			c.rules[rule] = metrics
		}
		mutate(metrics, now)
	})
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Enabled: c.enabled}
	if !c.enabled {
		return snap
	}
	snap.Started = c.started
	snap.Cycles = c.cycles
	snap.MarkersCleared = c.cleared
	if len(c.rules) == 0 {
		return snap
	}
	snap.Rules = make([]RuleMetrics, 0, len(c.rules))
	for _, metrics := range c.rules {
		clone := *metrics
		snap.Rules = append(snap.Rules, clone)
		snap.Totals.Scanned += clone.Scanned
		snap.Totals.Matched += clone.Matched
		snap.Totals.Applied += clone.Applied
		snap.Totals.Errors += clone.Errors
	}
	sort.Slice(snap.Rules, func(i, j int) bool {
		return snap.Rules[i].Rule < snap.Rules[j].Rule
	})
	return snap
}
