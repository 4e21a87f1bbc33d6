package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loglens/loglens/internal/control/client"
	"github.com/loglens/loglens/internal/ui/tui"
)

type ctlOptions struct {
	socket  string
	timeout time.Duration
	json    bool
}

func (o *ctlOptions) client() (*client.Client, error) {
	cli, err := client.New(o.socket)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return cli, nil
}

func (o *ctlOptions) context(parent context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.timeout)
}

func newCtlCmd() *cobra.Command {
	opts := &ctlOptions{}
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Inspect and drive a running watcher over its control socket",
	}
	cmd.PersistentFlags().StringVar(&opts.socket, "socket", "", "path to the loglens control socket")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 3*time.Second, "control request timeout")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON responses")

	cmd.AddCommand(
		ctlRequest(opts, "status", "Show engine state and per-rule counters", func(ctx context.Context, cli *client.Client, w io.Writer) error {
			status, err := cli.Status(ctx)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(w, status)
			}
			return printStatus(w, status)
		}),
		ctlRequest(opts, "history", "Show recent evaluations, oldest first", func(ctx context.Context, cli *client.Client, w io.Writer) error {
			entries, err := cli.History(ctx)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(w, entries)
			}
			return printHistory(w, entries)
		}),
		ctlRequest(opts, "markers", "List marked elements and their rule outcomes", func(ctx context.Context, cli *client.Client, w io.Writer) error {
			entries, err := cli.Markers(ctx)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(w, entries)
			}
			return printMarkers(w, entries)
		}),
		ctlRequest(opts, "scan", "Run one scan cycle now", func(ctx context.Context, cli *client.Client, w io.Writer) error {
			result, err := cli.Scan(ctx)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(w, result)
			}
			if result.Skipped {
				fmt.Fprintln(w, "Scan skipped: a cycle is already running")
				return nil
			}
			fmt.Fprintf(w, "Scanned %d documents: %d matched, %d applied, %d errors, %d pruned\n",
				result.Documents, result.Matched, result.Applied, result.Errors, result.Pruned)
			return nil
		}),
		ctlRequest(opts, "reload", "Reload the watcher's configuration", func(ctx context.Context, cli *client.Client, w io.Writer) error {
			if err := cli.Reload(ctx); err != nil {
				return err
			}
			fmt.Fprintln(w, "Reload requested")
			return nil
		}),
		newCtlResetCmd(opts),
		newCtlTUICmd(opts),
	)
	return cmd
}

func ctlRequest(opts *ctlOptions, use, short string, fn func(context.Context, *client.Client, io.Writer) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			return fn(ctx, cli, cmd.OutOrStdout())
		},
	}
}

func newCtlResetCmd(opts *ctlOptions) *cobra.Command {
	var key, selector string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear markers so elements are evaluated again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (key == "") == (selector == "") {
				return fmt.Errorf("reset requires exactly one of --key or --selector")
			}
			cli, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			var cleared int
			if key != "" {
				cleared, err = cli.ResetKey(ctx, key)
			} else {
				cleared, err = cli.ResetSelector(ctx, selector)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d markers\n", cleared)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "element key from `ctl markers`")
	cmd.Flags().StringVar(&selector, "selector", "", "clear every element matching this selector")
	return cmd
}

func newCtlTUICmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Launch the live dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := tui.New(cli, cmd.OutOrStdout()).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, st client.Status) error {
	fmt.Fprintf(w, "Page: %s\n", st.URL)
	fmt.Fprintf(w, "Rules: %s\n", strings.Join(st.Rules, ", "))
	fmt.Fprintf(w, "Cycles: %d every %s\n", st.Cycles, st.Interval)
	if !st.LastCycle.IsZero() {
		fmt.Fprintf(w, "Last cycle: %s (took %s)\n", st.LastCycle.Format(time.RFC3339), st.LastCycleTook)
	}
	fmt.Fprintf(w, "Documents: %d  Marked elements: %d  Observed containers: %d\n",
		st.Documents, st.MarkedElements, st.ObservedContainers)
	if !st.Metrics.Enabled {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Rule\tScanned\tMatched\tApplied\tErrors")
	for _, rm := range st.Metrics.Rules {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", rm.Rule, rm.Scanned, rm.Matched, rm.Applied, rm.Errors)
	}
	return tw.Flush()
}

func printHistory(w io.Writer, entries []client.Evaluation) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No evaluations recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Time\tStatus\tRule\tElement\tDetail")
	for _, ev := range entries {
		detail := ev.Text
		if ev.Error != "" {
			detail = ev.Error
		} else if ev.Markers > 0 {
			detail = fmt.Sprintf("%d markers", ev.Markers)
		}
		rule := ev.Rule
		if rule == "" {
			rule = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ev.Timestamp.Format(time.TimeOnly), ev.Status, rule, ev.Element, detail)
	}
	return tw.Flush()
}

func printMarkers(w io.Writer, entries []client.MarkerEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No marked elements")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Element\tOutcomes")
	for _, entry := range entries {
		names := make([]string, 0, len(entry.Outcomes))
		for name := range entry.Outcomes {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			outcome := "no match"
			if entry.Outcomes[name] {
				outcome = "matched"
			}
			parts = append(parts, name+"="+outcome)
		}
		fmt.Fprintf(tw, "%s\t%s\n", entry.Key, strings.Join(parts, " "))
	}
	return tw.Flush()
}
