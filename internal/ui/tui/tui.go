package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loglens/loglens/internal/control/client"
)

const (
	defaultRefresh = 500 * time.Millisecond
	textWidth      = 48
	historyRows    = 15
)

// Source provides the data shown on the dashboard. *client.Client
// satisfies it.
type Source interface {
	Status(ctx context.Context) (client.Status, error)
	History(ctx context.Context) ([]client.Evaluation, error)
}

// Renderer periodically polls the watcher and renders a textual dashboard.
type Renderer struct {
	Source  Source
	Writer  io.Writer
	Refresh time.Duration
	now     func() time.Time
}

// New returns a renderer configured with sensible defaults.
func New(src Source, w io.Writer) *Renderer {
	return &Renderer{Source: src, Writer: w, Refresh: defaultRefresh}
}

// Run starts the render loop until the context is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Writer == nil {
		r.Writer = os.Stdout
	}
	if r.Source == nil {
		return fmt.Errorf("tui renderer requires a control client")
	}

	refresh := r.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	fmt.Fprint(r.Writer, "\033[?25l")
	defer fmt.Fprint(r.Writer, "\033[?25h")

	r.render(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.render(ctx)
		}
	}
}

func (r *Renderer) render(ctx context.Context) {
	fmt.Fprint(r.Writer, "\033[H\033[2J"+r.frame(ctx))
}

func (r *Renderer) frame(ctx context.Context) string {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	var buf bytes.Buffer
	buf.WriteString("loglens inspector (Ctrl+C to exit)\n")
	buf.WriteString(now().Format(time.RFC1123))
	buf.WriteString("\n\n")

	status, err := r.Source.Status(ctx)
	if err != nil {
		buf.WriteString(fmt.Sprintf("error: %v\n", err))
		return buf.String()
	}
	buf.WriteString(formatStatus(status))
	buf.WriteString(renderRules(status))

	history, err := r.Source.History(ctx)
	if err != nil {
		buf.WriteString(fmt.Sprintf("history error: %v\n", err))
		return buf.String()
	}
	buf.WriteString(renderHistory(history))
	return buf.String()
}

func formatStatus(st client.Status) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Page: %s\n", truncate(st.URL, 96)))
	last := "never"
	if !st.LastCycle.IsZero() {
		last = fmt.Sprintf("%s (took %s)", st.LastCycle.Format(time.TimeOnly), st.LastCycleTook.Round(time.Microsecond))
	}
	b.WriteString(fmt.Sprintf("Cycles: %d  every %s  last %s\n", st.Cycles, st.Interval, last))
	b.WriteString(fmt.Sprintf("Documents: %d  Marked elements: %d  Observed containers: %d  Markers cleared: %d\n\n",
		st.Documents, st.MarkedElements, st.ObservedContainers, st.Metrics.MarkersCleared))
	return b.String()
}

func renderRules(st client.Status) string {
	var b strings.Builder
	b.WriteString("Rules:\n")
	if len(st.Rules) == 0 {
		b.WriteString("  (none)\n\n")
		return b.String()
	}
	counters := make(map[string][4]uint64, len(st.Metrics.Rules))
	for _, rm := range st.Metrics.Rules {
		counters[rm.Rule] = [4]uint64{rm.Scanned, rm.Matched, rm.Applied, rm.Errors}
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Rule\tScanned\tMatched\tApplied\tErrors")
	for _, name := range st.Rules {
		c := counters[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", name, c[0], c[1], c[2], c[3])
	}
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

func renderHistory(history []client.Evaluation) string {
	var b strings.Builder
	b.WriteString("Recent activity:\n")
	if len(history) == 0 {
		b.WriteString("  (none)\n")
		return b.String()
	}
	if len(history) > historyRows {
		history = history[len(history)-historyRows:]
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Time\tStatus\tRule\tElement\tDetail")
	for i := len(history) - 1; i >= 0; i-- {
		ev := history[i]
		rule := ev.Rule
		if rule == "" {
			rule = "-"
		}
		detail := ev.Text
		switch {
		case ev.Error != "":
			detail = ev.Error
		case ev.Markers > 0:
			detail = fmt.Sprintf("%d markers", ev.Markers)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ev.Timestamp.Format(time.TimeOnly), ev.Status, rule, ev.Element, truncate(detail, textWidth))
	}
	tw.Flush()
	return b.String()
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
