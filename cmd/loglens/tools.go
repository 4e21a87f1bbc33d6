package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/hashfrag"
	"github.com/loglens/loglens/internal/rules"
	"github.com/loglens/loglens/internal/urlcodec"
)

func newCodecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codec",
		Short: "Convert values to and from the console's fragment escaping",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "encode <text>...",
			Short: "Escape text for a fragment value",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), urlcodec.Encode(strings.Join(args, " ")))
				return nil
			},
		},
		&cobra.Command{
			Use:   "decode <value>",
			Short: "Unescape a fragment value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				plain, err := urlcodec.Decode(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), plain)
				return nil
			},
		},
	)
	return cmd
}

func newRewriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrite",
		Short: "Rewrite fields of a Logs Insights console URL",
	}
	cmd.AddCommand(newRewriteTimeCmd(), newRewriteFilterCmd())
	return cmd
}

func newRewriteTimeCmd() *cobra.Command {
	var (
		rawURL        string
		at            string
		before, after int
	)
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Replace the time range with an absolute window around a timestamp",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if before < 0 || after < 0 {
				return fmt.Errorf("--before and --after must not be negative")
			}
			center, err := rules.ParseTimestamp(at)
			if err != nil {
				return err
			}
			out, err := hashfrag.RewriteURLTimeWindow(rawURL, center, before, after)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&rawURL, "url", "", "console URL to rewrite")
	cmd.Flags().StringVar(&at, "at", "", "timestamp at the center of the window")
	cmd.Flags().IntVar(&before, "before", 3, "seconds before the timestamp")
	cmd.Flags().IntVar(&after, "after", 1, "seconds after the timestamp")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newRewriteFilterCmd() *cobra.Command {
	var rawURL, clause string
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Add a filter clause to the query carried by the URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := hashfrag.AppendURLFilterClause(rawURL, clause)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&rawURL, "url", "", "console URL to rewrite")
	cmd.Flags().StringVar(&clause, "clause", "", "filter clause, e.g. execution_arn = 'arn:...'")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("clause")
	return cmd
}

func newCheckCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file and report every issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if global.configPath == "" {
				return fmt.Errorf("check requires --config <path>")
			}
			lintErrs, err := config.LintFile(global.configPath)
			if err != nil {
				return err
			}
			if len(lintErrs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK")
				return nil
			}
			stderr := cmd.ErrOrStderr()
			fmt.Fprintf(stderr, "Configuration has %d issue(s):\n", len(lintErrs))
			for _, lintErr := range lintErrs {
				fmt.Fprintf(stderr, "- %s\n", lintErr.Error())
			}
			return fmt.Errorf("configuration validation failed")
		},
	}
}
