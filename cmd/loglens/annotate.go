package main

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/dom/htmldoc"
	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/metrics"
	"github.com/loglens/loglens/internal/rules"
	"github.com/loglens/loglens/internal/util"
)

type annotateOptions struct {
	url       string
	frames    []string
	out       string
	framesDir string
}

// frameSpec attaches the HTML file at path as the content of the first
// iframe matching selector.
type frameSpec struct {
	selector string
	path     string
}

func parseFrameSpec(raw string) (frameSpec, error) {
	i := strings.LastIndex(raw, "=")
	if i <= 0 || i == len(raw)-1 {
		return frameSpec{}, fmt.Errorf("invalid --frame %q: want selector=path", raw)
	}
	return frameSpec{selector: raw[:i], path: raw[i+1:]}, nil
}

func newAnnotateCmd(global *globalOptions) *cobra.Command {
	opts := &annotateOptions{}
	cmd := &cobra.Command{
		Use:   "annotate <page.html>",
		Short: "Run one scan cycle over a saved page and print the annotated HTML",
		Long: `Run one scan cycle over a saved console page.

The page's address (--url) supplies the fragment that time-window and filter
links are derived from. Frame contents can be attached with
--frame 'iframe#name=frame.html'; frame addresses are resolved against the
page address.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnnotate(cmd, global, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "address the page was saved from")
	cmd.Flags().StringArrayVar(&opts.frames, "frame", nil, "attach frame content as selector=path (repeatable)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the annotated page here instead of stdout")
	cmd.Flags().StringVar(&opts.framesDir, "frames-dir", "", "write annotated frame documents into this directory")
	return cmd
}

func runAnnotate(cmd *cobra.Command, global *globalOptions, opts *annotateOptions, path string) error {
	cfg, _, err := loadConfig(global)
	if err != nil {
		return err
	}
	logger := newLogger(global, cfg, cmd.ErrOrStderr())
	defer logger.Sync()

	built, err := rules.Build(cfg)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}
	top, err := parseFile(opts.url, path)
	if err != nil {
		return err
	}
	frames, err := attachFrames(top, opts.frames)
	if err != nil {
		return err
	}

	report := annotate(top, cfg, built, logger)
	logger.Infof("annotated %s: %d documents, %d matched, %d applied, %d errors",
		path, report.Documents, report.Matched, report.Applied, report.Errors)

	var out io.Writer = cmd.OutOrStdout()
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := top.Render(out); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	if opts.framesDir != "" {
		return writeFrames(opts.framesDir, frames)
	}
	return nil
}

// annotate runs a single cycle without a dispatcher; nothing is observed
// because the document never changes afterwards.
func annotate(top *htmldoc.Document, cfg *config.Config, built []rules.Rule, logger *util.Logger) engine.CycleReport {
	opts := engineOptions(cfg, built, metrics.NewCollector(false))
	opts.ObserveContainers = nil
	return engine.New(top, nil, logger, opts).RunCycle()
}

type attachedFrame struct {
	path string
	doc  *htmldoc.Document
}

func attachFrames(top *htmldoc.Document, specs []string) ([]attachedFrame, error) {
	var out []attachedFrame
	for _, raw := range specs {
		spec, err := parseFrameSpec(raw)
		if err != nil {
			return nil, err
		}
		iframe, err := top.Query(spec.selector)
		if err != nil {
			return nil, err
		}
		if iframe == nil {
			return nil, fmt.Errorf("no element matches frame selector %q", spec.selector)
		}
		doc, err := parseFile(resolveFrameURL(top.URL(), iframe.Attr("src")), spec.path)
		if err != nil {
			return nil, err
		}
		if err := top.AttachFrame(iframe, doc); err != nil {
			return nil, err
		}
		out = append(out, attachedFrame{path: spec.path, doc: doc})
	}
	return out, nil
}

func resolveFrameURL(base, src string) string {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "about:") {
		return base
	}
	b, err := url.Parse(base)
	if err != nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return b.ResolveReference(ref).String()
}

func parseFile(address, path string) (*htmldoc.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return htmldoc.Parse(address, bytes.NewReader(raw), nil)
}

func writeFrames(dir string, frames []attachedFrame) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create frames dir: %w", err)
	}
	for _, f := range frames {
		var buf bytes.Buffer
		if err := f.doc.Render(&buf); err != nil {
			return fmt.Errorf("render frame %s: %w", f.path, err)
		}
		target := filepath.Join(dir, filepath.Base(f.path))
		if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}
