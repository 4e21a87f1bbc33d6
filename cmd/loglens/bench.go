package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/dom/htmldoc"
	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/rules"
	"github.com/loglens/loglens/internal/util"
)

const benchURL = "https://us-east-1.console.aws.amazon.com/cloudwatch/home?region=us-east-1#logsV2:logs-insights$3FqueryDetail$3D~(end~0~start~-3600~timeType~'RELATIVE~unit~'seconds~editorString~'fields*20*40timestamp*2c*20*40message~source~(~'bench))"

type benchOptions struct {
	page       string
	url        string
	rows       int
	iterations int
	warmup     int
	output     string
	human      bool
	cpuProfile string
	memProfile string
}

type benchLatencyStats struct {
	Min    float64 `json:"minMs"`
	Mean   float64 `json:"meanMs"`
	Median float64 `json:"medianMs"`
	P95    float64 `json:"p95Ms"`
	Max    float64 `json:"maxMs"`
}

type benchAllocationStats struct {
	Total        uint64  `json:"totalAllocations"`
	PerCycle     float64 `json:"allocationsPerCycle"`
	BytesTotal   uint64  `json:"bytesTotal"`
	BytesPerCell float64 `json:"bytesPerCell"`
	HeapDelta    int64   `json:"heapAllocDeltaBytes"`
}

type benchSummary struct {
	Page             string               `json:"page"`
	Rules            []string             `json:"rules"`
	Iterations       int                  `json:"iterations"`
	WarmupIterations int                  `json:"warmupIterations"`
	Cells            int                  `json:"cellsPerIteration"`
	Matched          int                  `json:"matchedPerIteration"`
	Applied          int                  `json:"appliedPerIteration"`
	Cold             benchLatencyStats    `json:"coldCycle"`
	Rescan           benchLatencyStats    `json:"rescanCycle"`
	Allocations      benchAllocationStats `json:"allocations"`
	CellsPerSecond   float64              `json:"cellsPerSecond"`
}

type benchReport struct {
	Summary  benchSummary `json:"summary"`
	ColdMs   []float64    `json:"coldMs"`
	RescanMs []float64    `json:"rescanMs"`
}

func newBenchCmd(global *globalOptions) *cobra.Command {
	opts := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time scan cycles over a saved or synthetic results page",
		Long: `Run the configured rules over a results page repeatedly and report cycle
latency and allocations. Each iteration parses a fresh document, times the
first cycle (every cell annotated) and a second cycle (every cell already
marked).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd, global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.page, "page", "", "HTML page to scan (synthetic results table when empty)")
	cmd.Flags().StringVar(&opts.url, "url", benchURL, "address the page is scanned under")
	cmd.Flags().IntVar(&opts.rows, "rows", 500, "rows in the synthetic results table")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 10, "timed iterations")
	cmd.Flags().IntVar(&opts.warmup, "warmup", 0, "untimed iterations before timing")
	cmd.Flags().StringVar(&opts.output, "output", "-", "write JSON report to file ('-' for stdout)")
	cmd.Flags().BoolVar(&opts.human, "human", false, "print a tabular summary alongside the JSON output")
	cmd.Flags().StringVar(&opts.cpuProfile, "cpu-profile", "", "write CPU profile to file")
	cmd.Flags().StringVar(&opts.memProfile, "mem-profile", "", "write heap profile to file")
	return cmd
}

func runBench(cmd *cobra.Command, global *globalOptions, opts *benchOptions) error {
	if opts.iterations <= 0 {
		return fmt.Errorf("--iterations must be positive")
	}
	cfg, _, err := loadConfig(global)
	if err != nil {
		return err
	}
	if global.logLevel == "" {
		cfg.LogLevel = "warn"
	}
	logger := newLogger(global, cfg, cmd.ErrOrStderr())
	built, err := rules.Build(cfg)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	markup := syntheticPage(opts.rows)
	name := fmt.Sprintf("synthetic (%d rows)", opts.rows)
	if opts.page != "" {
		raw, err := os.ReadFile(opts.page)
		if err != nil {
			return fmt.Errorf("read page: %w", err)
		}
		markup, name = string(raw), opts.page
	}

	if opts.cpuProfile != "" {
		f, err := os.Create(opts.cpuProfile)
		if err != nil {
			return fmt.Errorf("create cpu profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("start cpu profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	for i := 0; i < opts.warmup; i++ {
		if _, _, _, err := benchIteration(markup, opts.url, cfg, built, logger); err != nil {
			return err
		}
	}

	var (
		cold, rescan []time.Duration
		report       engine.CycleReport
		cells        int
		start, end   runtime.MemStats
	)
	runtime.GC()
	runtime.ReadMemStats(&start)
	for i := 0; i < opts.iterations; i++ {
		c, r, first, err := benchIteration(markup, opts.url, cfg, built, logger)
		if err != nil {
			return err
		}
		cold = append(cold, c)
		rescan = append(rescan, r)
		report = first
	}
	runtime.ReadMemStats(&end)

	if cells, err = countCells(markup, opts.url, built); err != nil {
		return err
	}
	out := buildBenchReport(name, rules.Names(built), opts.iterations, opts.warmup, cells, report, cold, rescan, start, end)

	if opts.memProfile != "" {
		f, err := os.Create(opts.memProfile)
		if err != nil {
			return fmt.Errorf("create mem profile: %w", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("write mem profile: %w", err)
		}
	}

	if opts.human {
		if err := printBenchSummary(out.Summary, cmd.ErrOrStderr()); err != nil {
			return err
		}
	}
	return writeBenchReport(out, opts.output, cmd.OutOrStdout())
}

// benchIteration times a cold cycle and an immediate rescan over a freshly
// parsed document.
func benchIteration(markup, url string, cfg *config.Config, built []rules.Rule, logger *util.Logger) (time.Duration, time.Duration, engine.CycleReport, error) {
	doc, err := htmldoc.ParseString(url, markup, nil)
	if err != nil {
		return 0, 0, engine.CycleReport{}, err
	}
	opts := engineOptions(cfg, built, nil)
	opts.ObserveContainers = nil
	eng := engine.New(doc, nil, logger, opts)

	began := time.Now()
	first := eng.RunCycle()
	cold := time.Since(began)

	began = time.Now()
	eng.RunCycle()
	return cold, time.Since(began), first, nil
}

func countCells(markup, url string, built []rules.Rule) (int, error) {
	doc, err := htmldoc.ParseString(url, markup, nil)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for _, rule := range built {
		els, err := doc.QueryAll(rule.Selector())
		if err != nil {
			return 0, err
		}
		for _, el := range els {
			seen[el.Key()] = struct{}{}
		}
	}
	return len(seen), nil
}

func syntheticPage(rows int) string {
	var b strings.Builder
	b.WriteString(`<html><head></head><body><table class="logs-table"><tbody>`)
	base := time.Date(2023, 7, 25, 17, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, `<tr><td class="logs-table__body-cell">%s</td>`, base.Add(time.Duration(i)*time.Second).Format("2006-01-02T15:04:05.000Z"))
		fmt.Fprintf(&b, `<td class="logs-table__body-cell">10.%d.%d.%d</td>`, i/65536%256, i/256%256, i%256)
		fmt.Fprintf(&b, `<td class="logs-table__body-cell">arn:aws:states:us-east-1:123456789012:execution:bench:%d</td>`, i)
		fmt.Fprintf(&b, `<td class="logs-table__body-cell">request %d completed</td></tr>`, i)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func buildBenchReport(page string, ruleNames []string, iterations, warmup, cells int, last engine.CycleReport, cold, rescan []time.Duration, start, end runtime.MemStats) benchReport {
	coldStats, coldTotal := buildLatencyStats(cold)
	rescanStats, _ := buildLatencyStats(rescan)

	cycles := len(cold) + len(rescan)
	allocs := end.Mallocs - start.Mallocs
	bytesAllocated := end.TotalAlloc - start.TotalAlloc
	totalCells := cells * iterations

	return benchReport{
		Summary: benchSummary{
			Page:             page,
			Rules:            ruleNames,
			Iterations:       iterations,
			WarmupIterations: warmup,
			Cells:            cells,
			Matched:          last.Matched,
			Applied:          last.Applied,
			Cold:             coldStats,
			Rescan:           rescanStats,
			Allocations: benchAllocationStats{
				Total:        allocs,
				PerCycle:     safeDivide(float64(allocs), cycles),
				BytesTotal:   bytesAllocated,
				BytesPerCell: safeDivide(float64(bytesAllocated), totalCells),
				HeapDelta:    int64(end.HeapAlloc) - int64(start.HeapAlloc),
			},
			CellsPerSecond: perSecond(coldTotal, totalCells),
		},
		ColdMs:   millisAll(cold),
		RescanMs: millisAll(rescan),
	}
}

func buildLatencyStats(durations []time.Duration) (benchLatencyStats, time.Duration) {
	stats := benchLatencyStats{}
	if len(durations) == 0 {
		return stats, 0
	}
	total := time.Duration(0)
	for _, d := range durations {
		total += d
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	stats.Min = toMillis(sorted[0])
	stats.Mean = toMillis(total / time.Duration(len(durations)))
	stats.Median = toMillis(percentile(sorted, 0.50))
	stats.P95 = toMillis(percentile(sorted, 0.95))
	stats.Max = toMillis(sorted[len(sorted)-1])
	return stats, total
}

func safeDivide(total float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func perSecond(total time.Duration, n int) float64 {
	if total <= 0 || n == 0 {
		return 0
	}
	return float64(n) / total.Seconds()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func millisAll(durations []time.Duration) []float64 {
	out := make([]float64, len(durations))
	for i, d := range durations {
		out[i] = toMillis(d)
	}
	return out
}

func writeBenchReport(report benchReport, outputPath string, stdout io.Writer) error {
	w := stdout
	if path := strings.TrimSpace(outputPath); path != "" && path != "-" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create report dir: %w", err)
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printBenchSummary(summary benchSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Page:\t%s\n", summary.Page)
	fmt.Fprintf(tw, "Rules:\t%s\n", strings.Join(summary.Rules, ", "))
	fmt.Fprintf(tw, "Iterations:\t%d (+%d warmup)\n", summary.Iterations, summary.WarmupIterations)
	fmt.Fprintf(tw, "Cells/iteration:\t%d (%d matched, %d applied)\n", summary.Cells, summary.Matched, summary.Applied)
	for _, row := range []struct {
		label string
		stats benchLatencyStats
	}{{"Cold cycle (ms)", summary.Cold}, {"Rescan cycle (ms)", summary.Rescan}} {
		s := row.stats
		fmt.Fprintf(tw, "%s:\tmin %.2f | mean %.2f | median %.2f | p95 %.2f | max %.2f\n", row.label, s.Min, s.Mean, s.Median, s.P95, s.Max)
	}
	allocs := summary.Allocations
	fmt.Fprintf(tw, "Allocations:\t%d total (%.2f / cycle)\n", allocs.Total, allocs.PerCycle)
	fmt.Fprintf(tw, "Bytes allocated:\t%d (%.2f / cell)\n", allocs.BytesTotal, allocs.BytesPerCell)
	fmt.Fprintf(tw, "Cells/sec:\t%.2f\n", summary.CellsPerSecond)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
