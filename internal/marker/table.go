// Package marker records which rules have already evaluated which elements.
// A marker is the boolean outcome of one rule against one element; while it
// exists the rule skips that element.
package marker

import (
	"sort"

	"github.com/loglens/loglens/internal/dom"
)

// Prefix namespaces marker names when they are shown to operators.
const Prefix = "loglens-rule-"

// Name returns the public marker name for a rule.
func Name(rule string) string { return Prefix + rule }

type entry struct {
	el       dom.Element
	outcomes map[string]bool
}

// Table is a side table keyed by element identity and rule name. It is not
// safe for concurrent use.
type Table struct {
	entries map[string]*entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Get returns the recorded outcome of rule for el.
func (t *Table) Get(el dom.Element, rule string) (matched, ok bool) {
	e, found := t.entries[el.Key()]
	if !found {
		return false, false
	}
	matched, ok = e.outcomes[rule]
	return matched, ok
}

// Has reports whether rule has evaluated el.
func (t *Table) Has(el dom.Element, rule string) bool {
	_, ok := t.Get(el, rule)
	return ok
}

// Set records the outcome of rule for el.
func (t *Table) Set(el dom.Element, rule string, matched bool) {
	key := el.Key()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{el: el, outcomes: make(map[string]bool)}
		t.entries[key] = e
	}
	e.el = el
	e.outcomes[rule] = matched
}

// Clear removes every marker of el and returns how many were removed.
func (t *Table) Clear(el dom.Element) int {
	return t.ClearKey(el.Key())
}

// ClearKey is Clear by element key.
func (t *Table) ClearKey(key string) int {
	e, ok := t.entries[key]
	if !ok {
		return 0
	}
	delete(t.entries, key)
	return len(e.outcomes)
}

// ClearWithin removes the markers of root and every element inside it. A
// root implementing dom.Scope is asked once for all keys; otherwise each
// entry is tested with Contains.
func (t *Table) ClearWithin(root dom.Element) int {
	if len(t.entries) == 0 {
		return 0
	}
	if scope, ok := root.(dom.Scope); ok {
		keys := make([]string, 0, len(t.entries))
		for key := range t.entries {
			keys = append(keys, key)
		}
		if inside, err := scope.Within(keys); err == nil {
			removed := 0
			for _, key := range inside {
				removed += t.ClearKey(key)
			}
			return removed
		}
	}
	removed := 0
	for key, e := range t.entries {
		if root.Contains(e.el) {
			removed += len(e.outcomes)
			delete(t.entries, key)
		}
	}
	return removed
}

// Retain drops every entry whose key is not in live and returns how many
// elements were dropped. Callers pass the keys a full scan just returned, so
// elements that left their document go without asking the backend.
func (t *Table) Retain(live map[string]struct{}) int {
	removed := 0
	for key := range t.entries {
		if _, ok := live[key]; !ok {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of marked elements.
func (t *Table) Len() int { return len(t.entries) }

// Entry is a read-only view of one element's markers.
type Entry struct {
	Key      string          `json:"key"`
	Outcomes map[string]bool `json:"outcomes"`
}

// Snapshot lists the table sorted by element key.
func (t *Table) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for key, e := range t.entries {
		outcomes := make(map[string]bool, len(e.outcomes))
		for rule, v := range e.outcomes {
			outcomes[Name(rule)] = v
		}
		out = append(out, Entry{Key: key, Outcomes: outcomes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
