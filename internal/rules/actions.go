package rules

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/dom"
	"github.com/loglens/loglens/internal/hashfrag"
	"github.com/loglens/loglens/internal/util"
)

// ErrNoTarget is returned when an action cannot compute its link target.
var ErrNoTarget = errors.New("rules: no link target")

// TextPlaceholder is replaced with the element's text in templates.
const TextPlaceholder = "{text}"

// ActionContext is passed to actions.
type ActionContext struct {
	// DocumentURL is the top document's address, fragment included.
	DocumentURL string
	Logger      *util.Logger
	RuleName    string
	// Expect is called right before the action mutates el.
	Expect func(el dom.Element)
}

// Action applies a rule's side effect to a matched element. It reports
// whether the element was changed.
type Action interface {
	Apply(ctx ActionContext, el dom.Element) (bool, error)
}

// TargetFunc computes a link target from the element's trimmed text.
type TargetFunc func(ctx ActionContext, text string) (string, error)

// BuildAction compiles an action configuration.
func BuildAction(ac config.ActionConfig) (Action, error) {
	switch ac.Type {
	case config.ActionLinkURL:
		target, err := templateTarget(ac.Params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ac.Type, err)
		}
		return &LinkAction{Target: target}, nil
	case config.ActionLinkTimeWindow:
		target, err := timeWindowTarget(ac.Params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ac.Type, err)
		}
		return &LinkAction{Target: target}, nil
	case config.ActionButtonURL:
		target, err := templateTarget(ac.Params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ac.Type, err)
		}
		return buttonFrom(ac.Params, target)
	case config.ActionButtonFilterAppend:
		target, err := filterAppendTarget(ac.Params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ac.Type, err)
		}
		return buttonFrom(ac.Params, target)
	default:
		return nil, fmt.Errorf("unsupported action type %q", ac.Type)
	}
}

func buttonFrom(params map[string]interface{}, target TargetFunc) (Action, error) {
	label, err := stringFrom(params, "label")
	if err != nil {
		return nil, fmt.Errorf("label: %w", err)
	}
	title, err := stringFrom(params, "title")
	if err != nil {
		return nil, fmt.Errorf("title: %w", err)
	}
	return &ButtonAction{Target: target, Label: label, Title: title}, nil
}

func templateTarget(params map[string]interface{}) (TargetFunc, error) {
	tmpl, err := stringFrom(params, "template")
	if err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	if tmpl == "" {
		return nil, fmt.Errorf("missing template")
	}
	return func(_ ActionContext, text string) (string, error) {
		return strings.ReplaceAll(tmpl, TextPlaceholder, url.QueryEscape(text)), nil
	}, nil
}

func timeWindowTarget(params map[string]interface{}) (TargetFunc, error) {
	before, err := intFromDefault(params, "before", 3)
	if err != nil {
		return nil, err
	}
	after, err := intFromDefault(params, "after", 1)
	if err != nil {
		return nil, err
	}
	if before < 0 || after < 0 {
		return nil, fmt.Errorf("before and after must not be negative")
	}
	return func(ctx ActionContext, text string) (string, error) {
		center, err := ParseTimestamp(text)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNoTarget, err)
		}
		target, err := hashfrag.RewriteURLTimeWindow(ctx.DocumentURL, center, before, after)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNoTarget, err)
		}
		return target, nil
	}, nil
}

func filterAppendTarget(params map[string]interface{}) (TargetFunc, error) {
	clause, err := stringFrom(params, "clause")
	if err != nil {
		return nil, fmt.Errorf("clause: %w", err)
	}
	if clause == "" {
		clause = " execution_arn = '" + TextPlaceholder + "' "
	}
	return func(ctx ActionContext, text string) (string, error) {
		filled := strings.ReplaceAll(clause, TextPlaceholder, text)
		target, err := hashfrag.AppendURLFilterClause(ctx.DocumentURL, filled)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNoTarget, err)
		}
		return target, nil
	}, nil
}

// LinkAction replaces the element's content with a link around its text.
type LinkAction struct {
	Target TargetFunc
}

// Apply implements Action.
func (a *LinkAction) Apply(ctx ActionContext, el dom.Element) (bool, error) {
	text := strings.TrimSpace(el.Text())
	target, err := a.Target(ctx, text)
	if err != nil {
		return false, err
	}
	return replaceContent(ctx, el, linkMarkup(target, text))
}

// ButtonAction places a link button before the element's original content,
// which is kept as selectable text.
type ButtonAction struct {
	Target TargetFunc
	Label  string
	Title  string
}

// Apply implements Action.
func (a *ButtonAction) Apply(ctx ActionContext, el dom.Element) (bool, error) {
	current, err := el.InnerHTML()
	if err != nil {
		return false, err
	}
	original, text, err := unwrapButton(current)
	if err != nil {
		return false, err
	}
	if text == "" {
		text = strings.TrimSpace(el.Text())
	}
	target, err := a.Target(ctx, text)
	if err != nil {
		return false, err
	}
	desired, err := buttonMarkup(target, a.Label, a.Title, original)
	if err != nil {
		return false, err
	}
	return replaceContent(ctx, el, desired)
}

func replaceContent(ctx ActionContext, el dom.Element, desired string) (bool, error) {
	current, err := el.InnerHTML()
	if err != nil {
		return false, err
	}
	same, err := sameMarkup(current, desired)
	if err != nil {
		return false, err
	}
	if same {
		if ctx.Logger != nil {
			ctx.Logger.Debugf("rule %s skipped %s (idempotent)", ctx.RuleName, el.Key())
		}
		return false, nil
	}
	if ctx.Expect != nil {
		ctx.Expect(el)
	}
	if err := el.SetInnerHTML(desired); err != nil {
		return false, err
	}
	return true, nil
}

func intFromDefault(m map[string]interface{}, key string, def int) (int, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

func stringFrom(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", nil
	}
	switch t := v.(type) {
	case string:
		return t, nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}
