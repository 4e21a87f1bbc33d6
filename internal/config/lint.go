package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LintError is one configuration problem with the path of the offending field.
type LintError struct {
	Path    string
	Message string
}

func (e LintError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Lint reports every problem found in the configuration instead of stopping
// at the first one.
func (c *Config) Lint() []LintError {
	var issues []LintError
	add := func(path, format string, args ...interface{}) {
		issues = append(issues, LintError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if c.Interval < 0 {
		add("interval", "cannot be negative")
	}
	if c.Frames.MaxDepth < 0 {
		add("frames.maxDepth", "cannot be negative")
	}
	if c.History.Limit < 0 {
		add("history.limit", "cannot be negative")
	}
	if c.Browser.PollInterval < 0 {
		add("browser.pollInterval", "cannot be negative")
	}
	for i, sel := range c.ObserveContainers {
		if sel == "" {
			add(fmt.Sprintf("observeContainers[%d]", i), "selector cannot be empty")
		}
	}
	if len(c.Rules) == 0 {
		add("rules", "config must define at least one rule")
	}
	names := map[string]struct{}{}
	for i, r := range c.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		if r.Name != "" {
			if _, exists := names[r.Name]; exists {
				add(path+".name", "duplicate rule name %q", r.Name)
			}
			names[r.Name] = struct{}{}
		}
		if err := r.Validate(); err != nil {
			add(path, "%v", err)
		}
	}
	return issues
}

// LintFile decodes path and lints it. Decoding failures are returned as the
// error; lint findings are returned as issues.
func LintFile(path string) ([]LintError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return cfg.Lint(), nil
}
