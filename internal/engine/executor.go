package engine

import (
	"errors"
	"strings"

	"github.com/loglens/loglens/internal/dom"
	"github.com/loglens/loglens/internal/hashfrag"
	"github.com/loglens/loglens/internal/rules"
)

func (e *Engine) apply(rule rules.Rule, el dom.Element) (bool, error) {
	ctx := rules.ActionContext{
		DocumentURL: e.top.URL(),
		Logger:      e.logger,
		RuleName:    rule.Name,
		Expect:      e.Expect,
	}
	entry := Evaluation{Timestamp: e.now(), Rule: rule.Name, Element: el.Key(), Text: strings.TrimSpace(el.Text())}
	changed, err := rule.Action.Apply(ctx, el)
	if err != nil {
		entry.Status = EvaluationStatusError
		entry.Error = err.Error()
		e.history.record(entry)
		e.metrics.RecordError(rule.Name)
		if isMissingField(err) {
			e.logger.Warnf("rule %s left %s unlinked: %v", rule.Name, el.Key(), err)
		} else {
			e.logger.Errorf("rule %s action error on %s: %v", rule.Name, el.Key(), err)
		}
		return false, err
	}
	e.attachReset(el)
	if changed {
		entry.Status = EvaluationStatusApplied
		e.metrics.RecordApplied(rule.Name)
	} else {
		entry.Status = EvaluationStatusUnchanged
	}
	e.history.record(entry)
	return changed, nil
}

func isMissingField(err error) bool {
	return errors.Is(err, hashfrag.ErrNoTimeRange) || errors.Is(err, hashfrag.ErrNoQueryField)
}

// attachReset installs the operator escape hatch: a double or auxiliary
// click on an annotated element drops its markers.
func (e *Engine) attachReset(el dom.Element) {
	for _, gesture := range []string{dom.GestureDoubleClick, dom.GestureAuxiliaryClick} {
		if _, err := el.OnGesture(gesture, func() { e.Reset(el.Key()) }); err != nil {
			e.logger.Debugf("attach %s reset on %s: %v", gesture, el.Key(), err)
		}
	}
}
