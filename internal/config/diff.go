package config

import (
	"strings"

	"github.com/google/go-cmp/cmp"
)

// DiffSerialized returns a line diff between two serialized configuration
// payloads, or "" when they are identical.
func DiffSerialized(previous, current []byte) string {
	return cmp.Diff(splitLines(previous), splitLines(current))
}

// RuleNames lists rule names in order.
func (c *Config) RuleNames() []string {
	names := make([]string, 0, len(c.Rules))
	for _, r := range c.Rules {
		names = append(names, r.Name)
	}
	return names
}

// DiffRules returns a structural diff of the rule sets of two configs.
func DiffRules(previous, current *Config) string {
	var prev, curr []RuleConfig
	if previous != nil {
		prev = previous.Rules
	}
	if current != nil {
		curr = current.Rules
	}
	return cmp.Diff(prev, curr)
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
