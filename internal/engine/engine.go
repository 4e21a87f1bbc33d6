// Package engine runs the scan cycle: it collects documents, evaluates every
// rule against unmarked candidates, applies actions to matches, and clears
// markers when observed containers change underneath it.
//
// Engine methods other than Run must be called on the loop that was passed
// as the dispatcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/dom"
	"github.com/loglens/loglens/internal/marker"
	"github.com/loglens/loglens/internal/metrics"
	"github.com/loglens/loglens/internal/rules"
	"github.com/loglens/loglens/internal/util"
)

// ErrLoopStopped is returned by Run when the dispatcher rejects a cycle.
var ErrLoopStopped = errors.New("engine: loop stopped")

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	*time.Ticker
}

func (t realTicker) C() <-chan time.Time {
	return t.Ticker.C
}

// Options configures an Engine.
type Options struct {
	Rules             []rules.Rule
	ObserveContainers []string
	Frames            config.FramesConfig
	Interval          time.Duration
	HistoryLimit      int
	Metrics           *metrics.Collector
}

// Engine is the scan context. It owns every piece of mutable scan state.
type Engine struct {
	top        dom.Document
	dispatcher dom.Dispatcher
	logger     *util.Logger
	invLogger  *util.Logger

	rules      []rules.Rule
	containers []string
	frames     config.FramesConfig
	interval   time.Duration

	markers *marker.Table
	metrics *metrics.Collector
	history *evaluationLog

	inProgress bool
	cycle      uint64
	seen       map[string]struct{}
	partial    bool
	lastCycle  time.Time
	lastTook   time.Duration
	lastDocs   int

	observed map[string]*observation
	busy     map[string]bool
	expected map[string]map[string]*expectation

	tickerFactory func(time.Duration) ticker
	now           func() time.Time
}

// New creates an engine scanning top and the frames reachable from it.
func New(top dom.Document, dispatcher dom.Dispatcher, logger *util.Logger, opts Options) *Engine {
	if logger == nil {
		logger = util.Nop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = config.DefaultInterval
	}
	return &Engine{
		top:        top,
		dispatcher: dispatcher,
		logger:     logger.Named("engine"),
		invLogger:  logger.Named("invalidator"),
		rules:      append([]rules.Rule(nil), opts.Rules...),
		containers: append([]string(nil), opts.ObserveContainers...),
		frames:     opts.Frames,
		interval:   interval,
		markers:    marker.NewTable(),
		metrics:    opts.Metrics,
		history:    newEvaluationLog(opts.HistoryLimit),
		observed:   make(map[string]*observation),
		busy:       make(map[string]bool),
		expected:   make(map[string]map[string]*expectation),
		tickerFactory: func(d time.Duration) ticker {
			return realTicker{time.NewTicker(d)}
		},
		now: time.Now,
	}
}

// Run schedules a scan cycle on the dispatcher immediately and then once per
// interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if !e.dispatcher.Post(e.tick) {
		return ErrLoopStopped
	}
	tick := e.tickerFactory(e.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C():
			if !e.dispatcher.Post(e.tick) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrLoopStopped
			}
		}
	}
}

func (e *Engine) tick() {
	e.RunCycle()
}

// CycleReport summarizes one scan cycle.
type CycleReport struct {
	Documents int
	Matched   int
	Applied   int
	Errors    int
	Pruned    int
	Skipped   bool
}

// RunCycle runs every rule once against the current document set.
func (e *Engine) RunCycle() CycleReport {
	var report CycleReport
	if e.inProgress {
		e.logger.Warnf("scan cycle already in progress; skipping")
		report.Skipped = true
		return report
	}
	e.inProgress = true
	started := e.now()
	e.cycle++
	defer func() {
		e.inProgress = false
		e.lastCycle = started
		e.lastTook = e.now().Sub(started)
	}()

	e.expireExpectations()
	docs := CollectDocuments(e.top, e.frames, e.logger)
	e.seen = make(map[string]struct{})
	e.partial = false
	report.Documents = len(docs)
	e.lastDocs = len(docs)
	e.logger.Debugf("running %d rules over %d documents", len(e.rules), len(docs))

	for _, rule := range e.rules {
		matched, err := e.Scan(rule, docs)
		if err != nil {
			report.Errors++
			e.metrics.RecordError(rule.Name)
			e.logger.Errorf("%v", err)
			var ruleErr *RuleError
			entry := Evaluation{Timestamp: e.now(), Rule: rule.Name, Status: EvaluationStatusError, Error: err.Error()}
			if errors.As(err, &ruleErr) {
				entry.Element = ruleErr.Element
			}
			e.history.record(entry)
		}
		report.Matched += len(matched)
		for _, el := range matched {
			applied, err := e.apply(rule, el)
			if err != nil {
				report.Errors++
				continue
			}
			if applied {
				report.Applied++
			}
		}
	}

	if e.partial {
		e.logger.Debugf("scan incomplete; keeping markers of unseen elements")
	} else {
		report.Pruned = e.markers.Retain(e.seen)
	}
	e.seen = nil
	e.ObserveContainers(docs)
	e.metrics.RecordCycle()
	return report
}

// Reload replaces the rule set and scan options. All markers are dropped so
// the new rules see every element, and every container observer is detached;
// the next cycle observes the containers the new options name. The interval
// of a running engine is not changed.
func (e *Engine) Reload(opts Options) {
	e.rules = append([]rules.Rule(nil), opts.Rules...)
	e.containers = append([]string(nil), opts.ObserveContainers...)
	e.frames = opts.Frames
	cleared := e.markers.Len()
	e.markers = marker.NewTable()
	detached := len(e.observed)
	for key, obs := range e.observed {
		obs.stop()
		delete(e.observed, key)
	}
	clear(e.busy)
	clear(e.expected)
	e.logger.Infof("reloaded %d rules (dropped markers of %d elements, detached %d observers)", len(e.rules), cleared, detached)
}

// Reset removes every marker of the element with the given key.
func (e *Engine) Reset(key string) int {
	n := e.markers.ClearKey(key)
	e.recordReset(key, n)
	return n
}

// ResetMatching removes the markers of every element matching selector in
// any collected document.
func (e *Engine) ResetMatching(selector string) (int, error) {
	total := 0
	var firstErr error
	for _, doc := range CollectDocuments(e.top, e.frames, e.logger) {
		els, err := doc.QueryAll(selector)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("reset %q: %w", selector, err)
			}
			continue
		}
		for _, el := range els {
			total += e.markers.Clear(el)
		}
	}
	if total > 0 {
		e.metrics.RecordCleared(total)
	}
	e.history.record(Evaluation{Timestamp: e.now(), Element: selector, Status: EvaluationStatusReset, Markers: total})
	return total, firstErr
}

func (e *Engine) recordReset(key string, n int) {
	e.metrics.RecordCleared(n)
	e.history.record(Evaluation{Timestamp: e.now(), Element: key, Status: EvaluationStatusReset, Markers: n})
	e.logger.Infof("reset %d markers on %s", n, key)
}

// Markers exposes the marker table.
func (e *Engine) Markers() *marker.Table { return e.markers }

// History returns the recent evaluation records.
func (e *Engine) History() []Evaluation { return e.history.snapshot() }

// Status is a point-in-time view of the engine.
type Status struct {
	URL                string           `json:"url"`
	Rules              []string         `json:"rules"`
	Containers         []string         `json:"containers,omitempty"`
	ObservedContainers int              `json:"observedContainers"`
	MarkedElements     int              `json:"markedElements"`
	Documents          int              `json:"documents"`
	InProgress         bool             `json:"inProgress"`
	Cycles             uint64           `json:"cycles"`
	LastCycle          time.Time        `json:"lastCycle,omitempty"`
	LastCycleTook      time.Duration    `json:"lastCycleTook"`
	Interval           time.Duration    `json:"interval"`
	Metrics            metrics.Snapshot `json:"metrics"`
}

// Status reports the engine state.
func (e *Engine) Status() Status {
	return Status{
		URL:                e.top.URL(),
		Rules:              rules.Names(e.rules),
		Containers:         append([]string(nil), e.containers...),
		ObservedContainers: len(e.observed),
		MarkedElements:     e.markers.Len(),
		Documents:          e.lastDocs,
		InProgress:         e.inProgress,
		Cycles:             e.cycle,
		LastCycle:          e.lastCycle,
		LastCycleTook:      e.lastTook,
		Interval:           e.interval,
		Metrics:            e.metrics.Snapshot(),
	}
}
