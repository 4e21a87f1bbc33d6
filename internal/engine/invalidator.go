package engine

import (
	"github.com/loglens/loglens/internal/dom"
)

type observation struct {
	el   dom.Element
	stop func()
}

type expectation struct {
	count int
	cycle uint64
}

// ObserveContainers attaches a change observer to every configured dynamic
// container found in docs that is not observed yet, and detaches observers
// whose containers no query returned. It returns the number of observers
// attached.
func (e *Engine) ObserveContainers(docs []dom.Document) int {
	attached := 0
	live := make(map[string]struct{})
	complete := true
	for _, doc := range docs {
		for _, sel := range e.containers {
			els, err := doc.QueryAll(sel)
			if err != nil {
				complete = false
				e.invLogger.Warnf("query container %q in %s: %v", sel, doc.URL(), err)
				continue
			}
			for _, el := range els {
				key := el.Key()
				live[key] = struct{}{}
				if _, ok := e.observed[key]; ok {
					continue
				}
				container := el
				stop, err := el.Observe(func(records []dom.Mutation) {
					e.onMutations(container, records)
				})
				if err != nil {
					e.invLogger.Debugf("observe %s: %v", key, err)
					continue
				}
				e.observed[key] = &observation{el: el, stop: stop}
				attached++
				e.invLogger.Debugf("observing container %s (%s)", key, sel)
			}
		}
	}
	if complete {
		e.pruneObservations(live)
	}
	return attached
}

func (e *Engine) pruneObservations(live map[string]struct{}) {
	for key, obs := range e.observed {
		if _, ok := live[key]; ok {
			continue
		}
		e.invLogger.Debugf("container %s is gone; detaching observer", key)
		obs.stop()
		delete(e.observed, key)
		delete(e.busy, key)
		delete(e.expected, key)
	}
}

// Expect announces that the engine is about to mutate el. The next mutation
// record targeting el in each observed container holding it is treated as
// self-caused.
func (e *Engine) Expect(el dom.Element) {
	for key, obs := range e.observed {
		if !obs.el.Contains(el) {
			continue
		}
		pending := e.expected[key]
		if pending == nil {
			pending = make(map[string]*expectation)
			e.expected[key] = pending
		}
		exp := pending[el.Key()]
		if exp == nil {
			exp = &expectation{}
			pending[el.Key()] = exp
		}
		exp.count++
		exp.cycle = e.cycle
	}
}

func (e *Engine) consumeExpectation(containerKey string, target dom.Element) bool {
	pending := e.expected[containerKey]
	if pending == nil || target == nil {
		return false
	}
	exp := pending[target.Key()]
	if exp == nil {
		return false
	}
	exp.count--
	if exp.count <= 0 {
		delete(pending, target.Key())
	}
	return true
}

// expireExpectations drops expectations older than the previous cycle so a
// record that never arrived cannot hide a later external change.
func (e *Engine) expireExpectations() {
	for key, pending := range e.expected {
		for el, exp := range pending {
			if exp.cycle+1 < e.cycle {
				delete(pending, el)
			}
		}
		if len(pending) == 0 {
			delete(e.expected, key)
		}
	}
}

func (e *Engine) onMutations(container dom.Element, records []dom.Mutation) {
	key := container.Key()
	external := 0
	for _, rec := range records {
		if e.consumeExpectation(key, rec.Target) {
			continue
		}
		external++
	}
	if external == 0 {
		e.invLogger.Debugf("ignoring %d self-caused mutation records in %s", len(records), key)
		return
	}
	if e.inProgress {
		e.invLogger.Debugf("ignoring %d mutation records in %s during scan cycle", external, key)
		return
	}
	if e.busy[key] {
		e.invLogger.Debugf("coalesced %d mutation records in %s", external, key)
		return
	}
	e.busy[key] = true
	if !e.dispatcher.Post(func() { delete(e.busy, key) }) {
		delete(e.busy, key)
	}

	n := e.markers.ClearWithin(container)
	e.metrics.RecordCleared(n)
	e.history.record(Evaluation{Timestamp: e.now(), Element: key, Status: EvaluationStatusInvalidated, Markers: n})
	e.invLogger.Infof("container %s changed; cleared %d markers", key, n)
}
