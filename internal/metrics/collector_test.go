package metrics

import (
	"testing"
	"time"
)

func TestCollectorRecordsCounters(t *testing.T) {
	c := NewCollector(true)
	c.RecordScanned("IpLens", 3)
	c.RecordMatch("IpLens")
	c.RecordApplied("IpLens")
	c.RecordError("IpLens")
	c.RecordMatch("TimeLens")
	c.RecordCycle()
	c.RecordCleared(4)
	c.RecordCleared(0)
	snap := c.Snapshot()
	if !snap.Enabled {
		t.Fatalf("expected snapshot to be enabled")
	}
	if snap.Totals.Scanned != 3 || snap.Totals.Matched != 2 || snap.Totals.Applied != 1 || snap.Totals.Errors != 1 {
		t.Fatalf("unexpected totals: %#v", snap.Totals)
	}
	if snap.Cycles != 1 || snap.MarkersCleared != 4 {
		t.Fatalf("unexpected engine counters: cycles=%d cleared=%d", snap.Cycles, snap.MarkersCleared)
	}
	if len(snap.Rules) != 2 || snap.Rules[0].Rule != "IpLens" || snap.Rules[1].Rule != "TimeLens" {
		t.Fatalf("expected rules sorted by name: %#v", snap.Rules)
	}
	rule := snap.Rules[0]
	if rule.LastMatched.IsZero() || rule.LastApplied.IsZero() || rule.LastErrored.IsZero() {
		t.Fatalf("expected timestamps to be recorded: %#v", rule)
	}
}

func TestCollectorToggle(t *testing.T) {
	c := NewCollector(false)
	c.RecordMatch("IpLens")
	if snap := c.Snapshot(); snap.Enabled || len(snap.Rules) != 0 {
		t.Fatalf("expected disabled snapshot: %#v", snap)
	}
	c.SetEnabled(true)
	c.RecordMatch("IpLens")
	c.RecordApplied("IpLens")
	snap := c.Snapshot()
	if !snap.Enabled || snap.Totals.Matched != 1 || snap.Totals.Applied != 1 {
		t.Fatalf("unexpected enabled snapshot: %#v", snap)
	}
	c.SetEnabled(false)
	snap = c.Snapshot()
	if snap.Enabled {
		t.Fatalf("expected disabled after toggle")
	}
	if !snap.Started.IsZero() {
		t.Fatalf("expected started timestamp reset, got %v", snap.Started)
	}
	time.Sleep(10 * time.Millisecond)
	c.SetEnabled(true)
	c.RecordMatch("IpLens")
	snap = c.Snapshot()
	if snap.Totals.Matched != 1 {
		t.Fatalf("expected counters to reset after re-enable: %#v", snap)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordMatch("IpLens")
	c.RecordCycle()
	if c.Enabled() {
		t.Fatalf("nil collector reported enabled")
	}
	if snap := c.Snapshot(); snap.Enabled {
		t.Fatalf("nil collector snapshot enabled")
	}
}
