package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/util"
)

// globalOptions holds the flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "loglens",
		Short: "Annotate AWS CloudWatch and X-Ray console pages with links",
		Long: `loglens scans the CloudWatch Logs Insights and X-Ray consoles for timestamps,
IPv4 addresses and Step Functions execution ARNs and turns them into links:
a time-window query around a timestamp, a geo lookup for an address, a
filtered query for an execution.

Run it against a live Chrome tab with "watch", or over saved HTML with
"annotate".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config (built-in rules when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace|debug|info|warn|error); overrides the config")

	root.AddCommand(
		newWatchCmd(opts),
		newAnnotateCmd(opts),
		newCodecCmd(),
		newRewriteCmd(),
		newCheckCmd(opts),
		newCtlCmd(),
		newBenchCmd(opts),
	)
	return root
}

// loadConfig reads the configured file, or returns the built-in rules with
// the raw bytes left empty.
func loadConfig(opts *globalOptions) (*config.Config, []byte, error) {
	if opts.configPath == "" {
		return config.Default(), nil, nil
	}
	raw, err := os.ReadFile(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, raw, nil
}

func newLogger(opts *globalOptions, cfg *config.Config, w io.Writer) *util.Logger {
	level := opts.logLevel
	if level == "" && cfg != nil {
		level = cfg.LogLevel
	}
	return util.NewLoggerWithWriter(util.ParseLogLevel(level), w)
}
