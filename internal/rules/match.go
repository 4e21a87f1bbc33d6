package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loglens/loglens/internal/config"
)

// Predicate reports whether an element's text is a match. Predicates trim
// surrounding whitespace themselves and never match empty text.
type Predicate func(text string) bool

// StepFunctionArnPrefix starts every Step Functions ARN.
const StepFunctionArnPrefix = "arn:aws:states:"

// Examples: 2023-07-25T17:26:19.517Z, 2000-01-01T22:59:59.123+02:00
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.?\d*(.\d*:\d*)?Z?$`)

var ipv4Pattern = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)

// IsTimestamp matches ISO-8601 timestamps as rendered by CloudWatch.
func IsTimestamp(text string) bool {
	return timestampPattern.MatchString(strings.TrimSpace(text))
}

// IsIPv4 matches dotted-quad addresses.
func IsIPv4(text string) bool {
	return ipv4Pattern.MatchString(strings.TrimSpace(text))
}

// IsStepFunctionArn matches a single-token Step Functions ARN.
func IsStepFunctionArn(text string) bool {
	return hasPrefixToken(text, StepFunctionArnPrefix, false)
}

// PrefixPredicate matches text starting with prefix. Unless allowSpaces is
// set the text must be a single token.
func PrefixPredicate(prefix string, allowSpaces bool) Predicate {
	return func(text string) bool { return hasPrefixToken(text, prefix, allowSpaces) }
}

// RegexPredicate matches trimmed text against pattern.
func RegexPredicate(pattern string) (Predicate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile match.pattern: %w", err)
	}
	return func(text string) bool {
		trimmed := strings.TrimSpace(text)
		return trimmed != "" && re.MatchString(trimmed)
	}, nil
}

func hasPrefixToken(text, prefix string, allowSpaces bool) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !strings.HasPrefix(trimmed, prefix) {
		return false
	}
	return allowSpaces || !strings.Contains(trimmed, " ")
}

// BuildPredicate compiles a match configuration into a predicate.
func BuildPredicate(mc config.MatchConfig) (Predicate, error) {
	switch mc.Type {
	case config.MatchTimestamp:
		return IsTimestamp, nil
	case config.MatchIPv4:
		return IsIPv4, nil
	case config.MatchStepFunctionArn:
		return IsStepFunctionArn, nil
	case config.MatchPrefix:
		if mc.Prefix == "" {
			return nil, fmt.Errorf("prefix match requires match.prefix")
		}
		return PrefixPredicate(mc.Prefix, mc.AllowSpaces), nil
	case config.MatchRegex:
		return RegexPredicate(mc.Pattern)
	default:
		return nil, fmt.Errorf("unsupported match type %q", mc.Type)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z0700",
}

// ParseTimestamp parses text accepted by IsTimestamp. Text without a zone is
// read as UTC.
func ParseTimestamp(text string) (time.Time, error) {
	trimmed := strings.TrimSpace(text)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", trimmed)
}
