package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loglens/loglens/internal/control/client"
	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/metrics"
)

type fakeSource struct {
	status  client.Status
	history []client.Evaluation
	err     error
}

func (f fakeSource) Status(context.Context) (client.Status, error) { return f.status, f.err }

func (f fakeSource) History(context.Context) ([]client.Evaluation, error) { return f.history, nil }

func TestFrameRendersRulesAndHistory(t *testing.T) {
	at := time.Date(2023, 7, 25, 17, 26, 19, 0, time.UTC)
	src := fakeSource{
		status: client.Status{
			URL:       "https://console.aws.amazon.com/cloudwatch/home",
			Rules:     []string{"TimeLens", "IpLens"},
			Cycles:    3,
			Interval:  5 * time.Second,
			LastCycle: at,
			Metrics: metrics.Snapshot{Rules: []metrics.RuleMetrics{
				{Rule: "IpLens", Scanned: 10, Matched: 2, Applied: 2},
			}},
		},
		history: []client.Evaluation{
			{Timestamp: at, Rule: "IpLens", Element: "el-1", Text: "10.0.0.1", Status: engine.EvaluationStatusApplied},
			{Timestamp: at, Element: "el-7", Status: engine.EvaluationStatusInvalidated, Markers: 3},
		},
	}
	r := New(src, nil)
	r.now = func() time.Time { return at }
	out := r.frame(context.Background())

	for _, want := range []string{"Cycles: 3  every 5s", "IpLens    10", "TimeLens  0", "invalidated", "3 markers", "10.0.0.1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("frame missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "invalidated") > strings.Index(out, "applied") {
		t.Fatalf("expected newest activity first:\n%s", out)
	}
}

func TestFrameShowsStatusError(t *testing.T) {
	r := New(fakeSource{err: errors.New("dial control socket: no such file")}, nil)
	out := r.frame(context.Background())
	if !strings.Contains(out, "error: dial control socket") {
		t.Fatalf("expected error line, got:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("truncate returned %q", got)
	}
	if got := truncate("abc", 4); got != "abc" {
		t.Fatalf("truncate returned %q", got)
	}
}
