package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Match types understood by the rule builder.
const (
	MatchTimestamp       = "timestamp"
	MatchIPv4            = "ipv4"
	MatchStepFunctionArn = "stepFunctionArn"
	MatchRegex           = "regex"
	MatchPrefix          = "prefix"
)

// Action types understood by the rule builder.
const (
	ActionLinkURL            = "link.url"
	ActionLinkTimeWindow     = "link.timeWindow"
	ActionButtonFilterAppend = "button.filterAppend"
	ActionButtonURL          = "button.url"
)

// Config is the top-level configuration document.
type Config struct {
	Interval          time.Duration   `yaml:"interval"`
	LogLevel          string          `yaml:"logLevel"`
	ObserveContainers []string        `yaml:"observeContainers"`
	Frames            FramesConfig    `yaml:"frames"`
	Rules             []RuleConfig    `yaml:"rules"`
	Browser           BrowserConfig   `yaml:"browser"`
	History           HistoryConfig   `yaml:"history"`
	Telemetry         TelemetryConfig `yaml:"telemetry"`
}

// FramesConfig controls which nested documents are scanned.
type FramesConfig struct {
	SameOriginOnly bool `yaml:"sameOriginOnly"`
	MaxDepth       int  `yaml:"maxDepth"`
}

// BrowserConfig configures the live Chrome backend used by `loglens watch`.
type BrowserConfig struct {
	Headless     bool          `yaml:"headless"`
	Bin          string        `yaml:"bin"`
	ControlURL   string        `yaml:"controlURL"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// HistoryConfig bounds the evaluation history kept for inspection.
type HistoryConfig struct {
	Limit int `yaml:"limit"`
}

// TelemetryConfig toggles per-rule counters.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RuleConfig is one declarative scan rule.
type RuleConfig struct {
	Name      string       `yaml:"name"`
	Selectors []string     `yaml:"selectors"`
	Match     MatchConfig  `yaml:"match"`
	Action    ActionConfig `yaml:"action"`
}

// MatchConfig selects the predicate applied to an element's trimmed text.
type MatchConfig struct {
	Type        string `yaml:"type"`
	Pattern     string `yaml:"pattern"`
	Prefix      string `yaml:"prefix"`
	AllowSpaces bool   `yaml:"allowSpaces"`
}

// ActionConfig describes the side effect applied to matched elements.
type ActionConfig struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}

// UnmarshalYAML fills defaults for omitted fields and accepts the legacy
// millisecond interval.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawFrames struct {
		SameOriginOnly *bool `yaml:"sameOriginOnly"`
		MaxDepth       *int  `yaml:"maxDepth"`
	}
	type rawConfig struct {
		Interval          *time.Duration   `yaml:"interval"`
		LegacyIntervalMs  *int             `yaml:"executionIntervalMs"`
		LogLevel          string           `yaml:"logLevel"`
		ObserveContainers []string         `yaml:"observeContainers"`
		Frames            rawFrames        `yaml:"frames"`
		Rules             []RuleConfig     `yaml:"rules"`
		Browser           BrowserConfig    `yaml:"browser"`
		History           HistoryConfig    `yaml:"history"`
		Telemetry         *TelemetryConfig `yaml:"telemetry"`
	}

	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.LogLevel = raw.LogLevel
	c.ObserveContainers = raw.ObserveContainers
	c.Rules = raw.Rules
	c.Browser = raw.Browser
	c.History = raw.History

	switch {
	case raw.Interval != nil:
		c.Interval = *raw.Interval
	case raw.LegacyIntervalMs != nil:
		c.Interval = time.Duration(*raw.LegacyIntervalMs) * time.Millisecond
	default:
		c.Interval = 0
	}

	c.Frames.SameOriginOnly = true
	if raw.Frames.SameOriginOnly != nil {
		c.Frames.SameOriginOnly = *raw.Frames.SameOriginOnly
	}
	c.Frames.MaxDepth = DefaultMaxDepth
	if raw.Frames.MaxDepth != nil {
		c.Frames.MaxDepth = *raw.Frames.MaxDepth
	}

	c.Telemetry.Enabled = true
	if raw.Telemetry != nil {
		c.Telemetry = *raw.Telemetry
	}
	return nil
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Browser.PollInterval == 0 {
		c.Browser.PollInterval = DefaultPollInterval
	}
	if c.History.Limit == 0 {
		c.History.Limit = DefaultHistoryLimit
	}
}

// Validate performs basic sanity checks.
func (c *Config) Validate() error {
	if issues := c.Lint(); len(issues) > 0 {
		return issues[0]
	}
	return nil
}

// Validate checks a single rule.
func (r RuleConfig) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if len(r.Selectors) == 0 {
		return fmt.Errorf("rule %q must define at least one selector", r.Name)
	}
	for i, sel := range r.Selectors {
		if sel == "" {
			return fmt.Errorf("rule %q: selectors[%d] cannot be empty", r.Name, i)
		}
	}
	if err := r.Match.Validate(); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if err := r.Action.Validate(); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	return nil
}

// Validate ensures the match type is known and has what it needs.
func (m MatchConfig) Validate() error {
	switch m.Type {
	case MatchTimestamp, MatchIPv4, MatchStepFunctionArn:
		return nil
	case MatchRegex:
		if m.Pattern == "" {
			return fmt.Errorf("match.pattern is required for regex")
		}
		if _, err := regexp.Compile(m.Pattern); err != nil {
			return fmt.Errorf("match.pattern: %w", err)
		}
		return nil
	case MatchPrefix:
		if m.Prefix == "" {
			return fmt.Errorf("match.prefix is required for prefix")
		}
		return nil
	case "":
		return fmt.Errorf("match.type is required")
	default:
		return fmt.Errorf("unsupported match type %q", m.Type)
	}
}

// Validate ensures the action type is known.
func (a ActionConfig) Validate() error {
	switch a.Type {
	case ActionLinkURL, ActionButtonURL:
		tmpl, ok := a.Params["template"]
		if !ok {
			return fmt.Errorf("%s requires params.template", a.Type)
		}
		if _, ok := tmpl.(string); !ok {
			return fmt.Errorf("%s: params.template must be a string", a.Type)
		}
		return nil
	case ActionLinkTimeWindow, ActionButtonFilterAppend:
		return nil
	case "":
		return fmt.Errorf("action.type is required")
	default:
		return fmt.Errorf("unsupported action type %q", a.Type)
	}
}
