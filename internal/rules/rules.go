package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loglens/loglens/internal/config"
)

// Rule represents a compiled rule ready for evaluation.
type Rule struct {
	Name      string
	Selectors []string
	// MatchKind names the predicate for inspection output.
	MatchKind string
	When      Predicate
	Action    Action
}

// Selector unions the rule's selectors into one selector group.
func (r Rule) Selector() string {
	return strings.Join(r.Selectors, ", ")
}

// Check verifies the structural invariants the scanner relies on.
func (r Rule) Check() error {
	if r.Name == "" {
		return errors.New("rule name cannot be empty")
	}
	if len(r.Selectors) == 0 {
		return fmt.Errorf("rule %s: at least one selector is required", r.Name)
	}
	if r.When == nil {
		return fmt.Errorf("rule %s: predicate is required", r.Name)
	}
	if r.Action == nil {
		return fmt.Errorf("rule %s: action is required", r.Name)
	}
	return nil
}

// Build compiles configuration into the ordered rule list.
func Build(cfg *config.Config) ([]Rule, error) {
	out := make([]Rule, 0, len(cfg.Rules))
	seen := make(map[string]struct{}, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		if _, dup := seen[rc.Name]; dup {
			return nil, fmt.Errorf("duplicate rule name %q", rc.Name)
		}
		seen[rc.Name] = struct{}{}
		pred, err := BuildPredicate(rc.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rc.Name, err)
		}
		act, err := BuildAction(rc.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rc.Name, err)
		}
		rule := Rule{
			Name:      rc.Name,
			Selectors: append([]string(nil), rc.Selectors...),
			MatchKind: rc.Match.Type,
			When:      pred,
			Action:    act,
		}
		if err := rule.Check(); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// Names lists rule names in order.
func Names(rules []Rule) []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	return names
}
