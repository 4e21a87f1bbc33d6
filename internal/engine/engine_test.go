package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/dom"
	"github.com/loglens/loglens/internal/dom/htmldoc"
	"github.com/loglens/loglens/internal/loop"
	"github.com/loglens/loglens/internal/metrics"
	"github.com/loglens/loglens/internal/rules"
	"github.com/loglens/loglens/internal/util"
)

const consoleURL = "https://us-east-1.console.aws.amazon.com/cloudwatch/home?region=us-east-1#logsV2:logs-insights$3FqueryDetail$3D~(end~0~start~-3600~timeType~'RELATIVE~unit~'seconds~editorString~'fields*20*40timestamp*0a*7c*20filter*20*40message*20like*20*27x*27~queryId~'q1~source~(~'group1))"

const consolePage = `<html><body>
<table class="logs-table"><tbody>
<tr><td class="logs-table__body-cell" id="ts">2023-07-25T17:26:19.517Z</td><td class="logs-table__body-cell" id="ip">10.0.0.1</td><td class="logs-table__body-cell" id="msg">hello</td></tr>
<tr><td class="logs-table__body-cell" id="arn">arn:aws:states:us-east-1:123:execution:foo</td></tr>
</tbody></table>
<div class="data-table--tracelist"><div class="ReactVirtualized__Table__rowColumn" id="trace-ip">192.168.1.1</div><div class="ReactVirtualized__Table__rowColumn" id="trace-path">GET /</div></div>
</body></html>`

type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time, 1)}
}

func (t *manualTicker) C() <-chan time.Time {
	return t.ch
}

func (t *manualTicker) Stop() {}

func (t *manualTicker) Tick() {
	t.ch <- time.Now()
}

type fixture struct {
	loop   *loop.Loop
	doc    *htmldoc.Document
	engine *Engine
	logs   *bytes.Buffer
}

func newFixture(t *testing.T, ruleSet []rules.Rule) *fixture {
	t.Helper()
	l := loop.New()
	doc, err := htmldoc.ParseString(consoleURL, consolePage, l)
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	cfg := config.Default()
	if ruleSet == nil {
		ruleSet, err = rules.Build(cfg)
		if err != nil {
			t.Fatalf("build rules: %v", err)
		}
	}
	var logs bytes.Buffer
	logger := util.NewLoggerWithWriter(util.LevelDebug, &logs)
	eng := New(doc, l, logger, Options{
		Rules:             ruleSet,
		ObserveContainers: cfg.ObserveContainers,
		Frames:            cfg.Frames,
		Metrics:           metrics.NewCollector(true),
	})
	return &fixture{loop: l, doc: doc, engine: eng, logs: &logs}
}

func (f *fixture) el(t *testing.T, selector string) *htmldoc.Element {
	t.Helper()
	el, err := f.doc.Query(selector)
	if err != nil || el == nil {
		t.Fatalf("query %s: %v", selector, err)
	}
	return el
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	if err := f.loop.Drain(8); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestScanMarksEveryCandidateOnce(t *testing.T) {
	f := newFixture(t, nil)
	ipRule := f.engine.rules[1]
	docs := CollectDocuments(f.doc, f.engine.frames, util.Nop())

	matched, err := f.engine.Scan(ipRule, docs)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 IPv4 matches, got %d", len(matched))
	}
	msg := f.el(t, "#msg")
	if ok, marked := f.engine.Markers().Get(msg, ipRule.Name); !marked || ok {
		t.Fatalf("non-matching element should carry a false marker, got marked=%v ok=%v", marked, ok)
	}

	again, err := f.engine.Scan(ipRule, docs)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected rescan to select nothing, got %d", len(again))
	}

	ip := f.el(t, "#ip")
	if n := f.engine.Reset(ip.Key()); n != 1 {
		t.Fatalf("reset removed %d markers, want 1", n)
	}
	again, err = f.engine.Scan(ipRule, docs)
	if err != nil {
		t.Fatalf("scan after reset: %v", err)
	}
	if len(again) != 1 || again[0].Key() != ip.Key() {
		t.Fatalf("expected reset element to be selectable again, got %v", again)
	}
}

func TestRunCycleAnnotatesMatches(t *testing.T) {
	f := newFixture(t, nil)
	report := f.engine.RunCycle()
	if report.Matched != 4 || report.Applied != 4 || report.Errors != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	ip, _ := f.el(t, "#ip").InnerHTML()
	if ip != `<a href="https://tools.keycdn.com/geo?host=10.0.0.1" target="blank">10.0.0.1</a>` {
		t.Fatalf("ip cell not linked: %s", ip)
	}
	ts, _ := f.el(t, "#ts").InnerHTML()
	if !strings.Contains(ts, "timeType~&#39;ABSOLUTE~tz~&#39;UTC~") {
		t.Fatalf("timestamp cell not linked to a time window: %s", ts)
	}
	arn, _ := f.el(t, "#arn").InnerHTML()
	if !strings.Contains(arn, `class="loglens-button"`) || !strings.HasSuffix(arn, "<span>arn:aws:states:us-east-1:123:execution:foo</span>") {
		t.Fatalf("arn cell missing button: %s", arn)
	}
	if msg, _ := f.el(t, "#msg").InnerHTML(); msg != "hello" {
		t.Fatalf("unmatched cell modified: %s", msg)
	}
	if f.engine.inProgress {
		t.Fatalf("in-progress flag left set")
	}
	if got := f.engine.Status().ObservedContainers; got != 1 {
		t.Fatalf("expected one observed container, got %d", got)
	}
}

func TestActionsAreIdempotentAcrossRescans(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.RunCycle()
	f.drain(t)
	var before bytes.Buffer
	if err := f.doc.Render(&before); err != nil {
		t.Fatalf("render: %v", err)
	}

	if _, err := f.engine.ResetMatching("td, div"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	report := f.engine.RunCycle()
	if report.Matched != 4 || report.Applied != 0 {
		t.Fatalf("expected rematches without changes, got %+v", report)
	}
	f.drain(t)
	var after bytes.Buffer
	if err := f.doc.Render(&after); err != nil {
		t.Fatalf("render: %v", err)
	}
	if before.String() != after.String() {
		t.Fatalf("second pass changed the document:\n%s\n---\n%s", before.String(), after.String())
	}
}

func TestExternalChangeInvalidatesContainer(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.RunCycle()
	f.drain(t)

	traceIP := f.el(t, "#trace-ip")
	tracePath := f.el(t, "#trace-path")
	if !f.engine.Markers().Has(traceIP, "IpLens") || !f.engine.Markers().Has(tracePath, "IpLens") {
		t.Fatalf("expected markers after first cycle")
	}
	outside := f.el(t, "#ip")

	// The host re-renders the cell in place.
	if err := traceIP.SetInnerHTML("10.9.9.9"); err != nil {
		t.Fatalf("host mutation: %v", err)
	}
	f.drain(t)

	if f.engine.Markers().Has(traceIP, "IpLens") || f.engine.Markers().Has(tracePath, "IpLens") {
		t.Fatalf("markers inside the container survived the external change")
	}
	if !f.engine.Markers().Has(outside, "IpLens") {
		t.Fatalf("markers outside the container were cleared")
	}

	report := f.engine.RunCycle()
	if report.Applied != 1 {
		t.Fatalf("expected the changed cell to be relinked, got %+v", report)
	}
	got, _ := traceIP.InnerHTML()
	if got != `<a href="https://tools.keycdn.com/geo?host=10.9.9.9" target="blank">10.9.9.9</a>` {
		t.Fatalf("unexpected relinked markup: %s", got)
	}

	// The engine's own write must not count as an external change.
	f.drain(t)
	if !f.engine.Markers().Has(traceIP, "IpLens") {
		t.Fatalf("self-caused mutation invalidated the container")
	}
	invalidations := 0
	for _, ev := range f.engine.History() {
		if ev.Status == EvaluationStatusInvalidated {
			invalidations++
		}
	}
	if invalidations != 1 {
		t.Fatalf("expected exactly one invalidation, got %d", invalidations)
	}
}

func TestMutationsDuringCycleAreIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.RunCycle()
	f.drain(t)
	container := f.el(t, ".data-table--tracelist")
	cell := f.el(t, "#trace-ip")

	f.engine.inProgress = true
	f.engine.onMutations(container, []dom.Mutation{{Target: cell}})
	f.engine.inProgress = false
	if !f.engine.Markers().Has(cell, "IpLens") {
		t.Fatalf("mutation during a cycle cleared markers")
	}
	if !strings.Contains(f.logs.String(), "during scan cycle") {
		t.Fatalf("expected ignored notification to be logged")
	}
}

func TestBusyFlagCoalescesUntilNextTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.RunCycle()
	f.drain(t)
	container := f.el(t, ".data-table--tracelist")
	cell := f.el(t, "#trace-ip")

	f.engine.onMutations(container, []dom.Mutation{{Target: cell}})
	f.engine.Markers().Set(cell, "IpLens", true)
	f.engine.onMutations(container, []dom.Mutation{{Target: cell}})
	if !f.engine.Markers().Has(cell, "IpLens") {
		t.Fatalf("second notification in the same turn should be coalesced")
	}

	f.loop.RunPending()
	f.engine.onMutations(container, []dom.Mutation{{Target: cell}})
	if f.engine.Markers().Has(cell, "IpLens") {
		t.Fatalf("busy flag was not released on the next turn")
	}
}

func TestObserverAttachedOncePerContainer(t *testing.T) {
	f := newFixture(t, nil)
	docs := CollectDocuments(f.doc, f.engine.frames, util.Nop())
	if n := f.engine.ObserveContainers(docs); n != 1 {
		t.Fatalf("attached %d observers, want 1", n)
	}
	if n := f.engine.ObserveContainers(docs); n != 0 {
		t.Fatalf("attached %d observers on second call, want 0", n)
	}
}

func TestResetGestureClearsMarkers(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.RunCycle()
	ip := f.el(t, "#ip")
	if !ip.Fire(dom.GestureDoubleClick) {
		t.Fatalf("expected reset handler on annotated element")
	}
	if f.engine.Markers().Has(ip, "IpLens") || f.engine.Markers().Has(ip, "TimeLens") {
		t.Fatalf("gesture did not clear markers")
	}
	if !ip.Fire(dom.GestureAuxiliaryClick) {
		t.Fatalf("expected auxiliary click handler")
	}
	if f.el(t, "#msg").Fire(dom.GestureDoubleClick) {
		t.Fatalf("unannotated element should have no reset handler")
	}
	report := f.engine.RunCycle()
	if report.Matched != 1 || report.Applied != 0 {
		t.Fatalf("expected the reset cell to be re-evaluated without change, got %+v", report)
	}
}

func TestPredicatePanicIsIsolatedToItsRule(t *testing.T) {
	built, err := rules.Build(config.Default())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	boom := rules.Rule{
		Name:      "Boom",
		Selectors: []string{config.CloudWatchResultsField},
		When: func(text string) bool {
			if strings.TrimSpace(text) == "hello" {
				panic("kaboom")
			}
			return false
		},
		Action: &rules.LinkAction{Target: func(rules.ActionContext, string) (string, error) { return "x", nil }},
	}
	f := newFixture(t, []rules.Rule{boom, built[1]})

	report := f.engine.RunCycle()
	if report.Errors != 1 {
		t.Fatalf("expected one rule error, got %+v", report)
	}
	if got, _ := f.el(t, "#ip").InnerHTML(); !strings.HasPrefix(got, "<a ") {
		t.Fatalf("other rule did not run after the panic: %s", got)
	}
	if f.engine.Markers().Has(f.el(t, "#msg"), "Boom") {
		t.Fatalf("panicking element should stay unmarked")
	}
	if !f.engine.Markers().Has(f.el(t, "#ip"), "Boom") {
		t.Fatalf("markers written before the panic should persist")
	}

	docs := CollectDocuments(f.doc, f.engine.frames, util.Nop())
	_, err = f.engine.Scan(boom, docs)
	var ruleErr *RuleError
	if !errors.As(err, &ruleErr) || ruleErr.Rule != "Boom" || ruleErr.Element != f.el(t, "#msg").Key() {
		t.Fatalf("expected RuleError for Boom, got %v", err)
	}

	history := f.engine.History()
	if len(history) == 0 || history[0].Status != EvaluationStatusError {
		t.Fatalf("expected error recorded first in history: %+v", history)
	}
}

func TestActionErrorLeavesElementUnlinked(t *testing.T) {
	f := newFixture(t, nil)
	f.doc.SetURL("https://us-east-1.console.aws.amazon.com/cloudwatch/home#dashboards")
	report := f.engine.RunCycle()
	if report.Errors != 2 {
		t.Fatalf("expected time and arn actions to fail without query fields, got %+v", report)
	}
	if got, _ := f.el(t, "#ts").InnerHTML(); got != "2023-07-25T17:26:19.517Z" {
		t.Fatalf("failed action modified the cell: %s", got)
	}
	if !strings.Contains(f.logs.String(), "left") {
		t.Fatalf("expected unlinked warning in logs")
	}
	snap := f.engine.Status().Metrics
	if snap.Totals.Errors != 2 {
		t.Fatalf("expected two errors in metrics, got %+v", snap.Totals)
	}
}

func TestReloadDropsMarkers(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.RunCycle()
	if f.engine.Markers().Len() == 0 {
		t.Fatalf("expected markers after cycle")
	}
	built, _ := rules.Build(config.Default())
	f.engine.Reload(Options{Rules: built[1:2], Frames: f.engine.frames})
	if f.engine.Markers().Len() != 0 {
		t.Fatalf("reload kept markers")
	}
	if got := f.engine.Status().Rules; len(got) != 1 || got[0] != "IpLens" {
		t.Fatalf("unexpected rules after reload: %v", got)
	}
}

func TestCycleSkippedWhileInProgress(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.inProgress = true
	if report := f.engine.RunCycle(); !report.Skipped {
		t.Fatalf("expected overlapping cycle to be skipped")
	}
}

func TestRunSchedulesCyclesOnTheLoop(t *testing.T) {
	f := newFixture(t, nil)
	tick := newManualTicker()
	f.engine.tickerFactory = func(time.Duration) ticker { return tick }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopErr := make(chan error, 1)
	go func() { loopErr <- f.loop.Run(ctx) }()
	runErr := make(chan error, 1)
	go func() { runErr <- f.engine.Run(ctx) }()

	cycles := func() uint64 {
		var n uint64
		_ = f.loop.Call(context.Background(), func() error {
			n = f.engine.Status().Cycles
			return nil
		})
		return n
	}
	waitForCondition(t, time.Second, func() bool { return cycles() >= 1 })
	tick.Tick()
	waitForCondition(t, time.Second, func() bool { return cycles() >= 2 })

	cancel()
	for _, ch := range []chan error{runErr, loopErr} {
		select {
		case err := <-ch:
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context canceled error, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("goroutine did not exit after cancel")
		}
	}
}

type backendCalls struct {
	connected int
	contains  int
}

// countingDocument hands out elements that count the per-element lookups a
// remote backend would pay a round trip for.
type countingDocument struct {
	dom.Document
	calls *backendCalls
}

func (d countingDocument) QueryAll(selector string) ([]dom.Element, error) {
	els, err := d.Document.QueryAll(selector)
	for i, el := range els {
		els[i] = countingElement{Element: el, calls: d.calls}
	}
	return els, err
}

type countingElement struct {
	dom.Element
	calls *backendCalls
}

func (e countingElement) Connected() bool {
	e.calls.connected++
	return e.Element.Connected()
}

func (e countingElement) Contains(other dom.Element) bool {
	e.calls.contains++
	if c, ok := other.(countingElement); ok {
		other = c.Element
	}
	return e.Element.Contains(other)
}

func TestIdleCycleMakesNoPerElementCalls(t *testing.T) {
	f := newFixture(t, nil)
	calls := &backendCalls{}
	eng := New(countingDocument{Document: f.doc, calls: calls}, f.loop, util.Nop(), Options{
		Rules:             f.engine.rules,
		ObserveContainers: f.engine.containers,
		Frames:            f.engine.frames,
	})

	if report := eng.RunCycle(); report.Applied != 4 {
		t.Fatalf("unexpected first cycle: %+v", report)
	}
	f.drain(t)
	marked := eng.Markers().Len()
	*calls = backendCalls{}

	report := eng.RunCycle()
	if report.Matched != 0 || report.Applied != 0 || report.Pruned != 0 {
		t.Fatalf("expected an idle cycle, got %+v", report)
	}
	if calls.connected != 0 || calls.contains != 0 {
		t.Fatalf("idle cycle made %d Connected and %d Contains calls", calls.connected, calls.contains)
	}
	if got := eng.Markers().Len(); got != marked {
		t.Fatalf("idle cycle changed markers: %d -> %d", marked, got)
	}
}

func TestCycleDropsMarkersOfRemovedElements(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.RunCycle()
	f.drain(t)
	ip := f.el(t, "#ip")
	if !f.engine.Markers().Has(ip, "IpLens") {
		t.Fatalf("expected a marker on the address cell")
	}

	ip.Remove()
	report := f.engine.RunCycle()
	if report.Pruned != 1 {
		t.Fatalf("expected one pruned element, got %+v", report)
	}
	if f.engine.Markers().Has(ip, "IpLens") {
		t.Fatalf("marker of a removed element survived")
	}
	if !f.engine.Markers().Has(f.el(t, "#msg"), "IpLens") {
		t.Fatalf("marker of a connected element was dropped")
	}
}

func TestReloadDetachesContainerObservers(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.RunCycle()
	f.drain(t)
	if got := f.engine.Status().ObservedContainers; got != 1 {
		t.Fatalf("expected one observed container, got %d", got)
	}

	f.engine.Reload(Options{Rules: f.engine.rules, Frames: f.engine.frames})
	if got := f.engine.Status().ObservedContainers; got != 0 {
		t.Fatalf("reload kept %d observers", got)
	}
	f.engine.RunCycle()
	f.drain(t)
	if got := f.engine.Status().ObservedContainers; got != 0 {
		t.Fatalf("cycle observed %d containers no longer configured", got)
	}

	traceIP := f.el(t, "#trace-ip")
	if err := traceIP.SetInnerHTML("10.9.9.9"); err != nil {
		t.Fatalf("host mutation: %v", err)
	}
	f.drain(t)
	if !f.engine.Markers().Has(traceIP, "IpLens") {
		t.Fatalf("a container dropped by reload still invalidated markers")
	}
}

func TestHistoryTruncatesOnRuneBoundary(t *testing.T) {
	log := newEvaluationLog(4)
	text := strings.Repeat("é", historyTextLimit)
	log.record(Evaluation{Status: EvaluationStatusApplied, Text: text})

	got := log.snapshot()[0].Text
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "…") || len(got) > historyTextLimit+len("…") {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if short := truncateText("10.0.0.1", historyTextLimit); short != "10.0.0.1" {
		t.Fatalf("short text was changed: %q", short)
	}
}
