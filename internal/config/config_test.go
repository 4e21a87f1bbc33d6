package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sample = `
interval: 2s
observeContainers:
  - .data-table--tracelist
frames:
  maxDepth: 1
rules:
  - name: IpLens
    selectors:
      - table.logs-table .logs-table__body-cell
    match:
      type: ipv4
    action:
      type: link.url
      params:
        template: https://tools.keycdn.com/geo?host={text}
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Interval != 2*time.Second {
		t.Fatalf("interval = %v", cfg.Interval)
	}
	if !cfg.Frames.SameOriginOnly {
		t.Fatalf("sameOriginOnly should default to true")
	}
	if cfg.Frames.MaxDepth != 1 {
		t.Fatalf("maxDepth = %d", cfg.Frames.MaxDepth)
	}
	if cfg.History.Limit != DefaultHistoryLimit || cfg.Browser.PollInterval != DefaultPollInterval {
		t.Fatalf("defaults not applied: %+v %+v", cfg.History, cfg.Browser)
	}
	if !cfg.Telemetry.Enabled {
		t.Fatalf("telemetry should default to enabled")
	}
	if diff := cmp.Diff([]string{"IpLens"}, cfg.RuleNames()); diff != "" {
		t.Fatalf("rule names (-want +got):\n%s", diff)
	}
}

func TestParseLegacyInterval(t *testing.T) {
	data := strings.Replace(sample, "interval: 2s", "executionIntervalMs: 1500", 1)
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Interval != 1500*time.Millisecond {
		t.Fatalf("interval = %v", cfg.Interval)
	}
}

func TestLintReportsEveryIssue(t *testing.T) {
	cfg := Config{
		Frames:            FramesConfig{MaxDepth: -1},
		ObserveContainers: []string{""},
		Rules: []RuleConfig{
			{Name: "a", Selectors: []string{"td"}, Match: MatchConfig{Type: MatchIPv4}, Action: ActionConfig{Type: ActionLinkTimeWindow}},
			{Name: "a", Selectors: []string{"td"}, Match: MatchConfig{Type: MatchRegex, Pattern: "("}, Action: ActionConfig{Type: ActionLinkTimeWindow}},
			{Name: "", Match: MatchConfig{Type: "nope"}},
		},
	}
	issues := cfg.Lint()
	var paths []string
	for _, issue := range issues {
		paths = append(paths, issue.Path)
	}
	want := []string{"frames.maxDepth", "observeContainers[0]", "rules[1].name", "rules[1]", "rules[2]"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("lint paths (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to fail")
	}
}

func TestValidateRejectsUnknownTypes(t *testing.T) {
	cases := []RuleConfig{
		{Name: "r", Selectors: []string{"td"}, Match: MatchConfig{Type: "fuzzy"}, Action: ActionConfig{Type: ActionLinkTimeWindow}},
		{Name: "r", Selectors: []string{"td"}, Match: MatchConfig{Type: MatchIPv4}, Action: ActionConfig{Type: "link.mailto"}},
		{Name: "r", Selectors: []string{"td"}, Match: MatchConfig{Type: MatchIPv4}, Action: ActionConfig{Type: ActionLinkURL}},
		{Name: "r", Selectors: []string{"td"}, Match: MatchConfig{Type: MatchPrefix}, Action: ActionConfig{Type: ActionLinkTimeWindow}},
		{Name: "r", Match: MatchConfig{Type: MatchIPv4}, Action: ActionConfig{Type: ActionLinkTimeWindow}},
	}
	for i, rc := range cases {
		if err := rc.Validate(); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, rc)
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	want := []string{"TimeLens", "IpLens", "StepFunctionExecutionLens"}
	if diff := cmp.Diff(want, cfg.RuleNames()); diff != "" {
		t.Fatalf("default rules (-want +got):\n%s", diff)
	}
}

func TestLintFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loglens.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	issues, err := LintFile(path)
	if err != nil {
		t.Fatalf("LintFile: %v", err)
	}
	if len(issues) != 1 || issues[0].Path != "rules" {
		t.Fatalf("unexpected issues: %v", issues)
	}

	if err := os.WriteFile(path, []byte("rules: [\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LintFile(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
