package config

import "time"

// Defaults applied to omitted fields.
const (
	DefaultInterval     = 5 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
	DefaultHistoryLimit = 64
	DefaultMaxDepth     = 2
)

// CloudWatch and X-Ray console selectors.
const (
	CloudWatchResultsField = "table.logs-table .logs-table__body-cell"
	XRayResultsTable       = ".data-table--tracelist"
	XRayResultsTable2      = ".awsui-table-container"
	XRayResultsField       = ".data-table--tracelist .ReactVirtualized__Table__rowColumn"
	XRayResultsField2      = ".awsui-table-container span>span"
)

// Default returns the built-in rule set for the AWS consoles.
func Default() *Config {
	return &Config{
		Interval:          DefaultInterval,
		LogLevel:          "info",
		ObserveContainers: []string{XRayResultsTable, XRayResultsTable2},
		Frames:            FramesConfig{SameOriginOnly: true, MaxDepth: DefaultMaxDepth},
		Rules: []RuleConfig{
			{
				Name:      "TimeLens",
				Selectors: []string{CloudWatchResultsField},
				Match:     MatchConfig{Type: MatchTimestamp},
				Action: ActionConfig{
					Type:   ActionLinkTimeWindow,
					Params: map[string]interface{}{"before": 3, "after": 1},
				},
			},
			{
				Name:      "IpLens",
				Selectors: []string{CloudWatchResultsField, XRayResultsField, XRayResultsField2},
				Match:     MatchConfig{Type: MatchIPv4},
				Action: ActionConfig{
					Type:   ActionLinkURL,
					Params: map[string]interface{}{"template": "https://tools.keycdn.com/geo?host={text}"},
				},
			},
			{
				Name:      "StepFunctionExecutionLens",
				Selectors: []string{CloudWatchResultsField},
				Match:     MatchConfig{Type: MatchStepFunctionArn},
				Action: ActionConfig{
					Type: ActionButtonFilterAppend,
					Params: map[string]interface{}{
						"clause": " execution_arn = '{text}' ",
						"title":  "Open new window with this Execution-ARN filter.",
					},
				},
			},
		},
		Browser:   BrowserConfig{Headless: false, PollInterval: DefaultPollInterval},
		History:   HistoryConfig{Limit: DefaultHistoryLimit},
		Telemetry: TelemetryConfig{Enabled: true},
	}
}
