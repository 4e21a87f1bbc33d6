package engine

import (
	"fmt"

	"github.com/loglens/loglens/internal/dom"
	"github.com/loglens/loglens/internal/rules"
)

// RuleError reports a rule whose predicate failed on an element. The rest of
// that rule's scan is abandoned; other rules are unaffected.
type RuleError struct {
	Rule    string
	Element string
	Err     error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: element %s: %v", e.Rule, e.Element, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// Scan evaluates rule against every element of docs that matches one of its
// selectors and carries no marker for it yet. Each evaluated element is
// marked with the outcome, match or not. The matched elements are returned,
// including those matched before a RuleError stopped the scan. During a
// cycle every candidate key is recorded so markers of elements no longer
// returned by any query can be dropped without asking the backend.
func (e *Engine) Scan(rule rules.Rule, docs []dom.Document) ([]dom.Element, error) {
	selector := rule.Selector()
	var matched []dom.Element
	scanned := 0
	defer func() {
		e.metrics.RecordScanned(rule.Name, scanned)
	}()
	for _, doc := range docs {
		candidates, err := doc.QueryAll(selector)
		if err != nil {
			e.partial = true
			e.logger.Warnf("rule %s: query %s: %v", rule.Name, doc.URL(), err)
			continue
		}
		e.see(candidates)
		for _, el := range candidates {
			if e.markers.Has(el, rule.Name) {
				continue
			}
			ok, err := evaluate(rule.When, el.Text())
			if err != nil {
				e.partial = true
				return matched, &RuleError{Rule: rule.Name, Element: el.Key(), Err: err}
			}
			scanned++
			e.markers.Set(el, rule.Name, ok)
			if ok {
				e.metrics.RecordMatch(rule.Name)
				matched = append(matched, el)
			}
		}
	}
	if len(matched) > 0 {
		e.logger.Debugf("rule %s matched %d of %d new elements", rule.Name, len(matched), scanned)
	}
	return matched, nil
}

func evaluate(pred rules.Predicate, text string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predicate panic: %v", r)
		}
	}()
	return pred(text), nil
}

func (e *Engine) see(els []dom.Element) {
	if e.seen == nil {
		return
	}
	for _, el := range els {
		e.seen[el.Key()] = struct{}{}
	}
}
