package rules

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/loglens/loglens/internal/config"
)

func TestBuildDefaultRules(t *testing.T) {
	rules, err := Build(config.Default())
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	want := []string{"TimeLens", "IpLens", "StepFunctionExecutionLens"}
	if diff := cmp.Diff(want, Names(rules)); diff != "" {
		t.Fatalf("rule order (-want +got):\n%s", diff)
	}
	ip := rules[1]
	if ip.Selector() != strings.Join([]string{config.CloudWatchResultsField, config.XRayResultsField, config.XRayResultsField2}, ", ") {
		t.Fatalf("unexpected union selector %q", ip.Selector())
	}
	if _, ok := rules[2].Action.(*ButtonAction); !ok {
		t.Fatalf("expected ARN rule to use a button action, got %T", rules[2].Action)
	}
}

func TestBuildRejectsDuplicateNames(t *testing.T) {
	cfg := config.Default()
	cfg.Rules = append(cfg.Rules, cfg.Rules[0])
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected duplicate rule name error")
	}
}

func TestRuleCheck(t *testing.T) {
	if err := (Rule{Name: "x", When: IsIPv4, Action: &LinkAction{}}).Check(); err == nil {
		t.Fatalf("expected missing selector to fail")
	}
	if err := (Rule{Selectors: []string{"td"}, When: IsIPv4, Action: &LinkAction{}}).Check(); err == nil {
		t.Fatalf("expected missing name to fail")
	}
	if err := (Rule{Name: "x", Selectors: []string{"td"}, When: IsIPv4, Action: &LinkAction{}}).Check(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
