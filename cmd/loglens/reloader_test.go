package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/dom/htmldoc"
	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/loop"
	"github.com/loglens/loglens/internal/metrics"
	"github.com/loglens/loglens/internal/rules"
	"github.com/loglens/loglens/internal/util"
)

const reloadInitial = `interval: 5s
rules:
  - name: IpLens
    selectors: ["td"]
    match:
      type: ipv4
    action:
      type: link.url
      params:
        template: "https://example.com/geo?host={text}"
`

type reloadFixture struct {
	path     string
	loop     *loop.Loop
	engine   *engine.Engine
	reloader *configReloader
	logs     *bytes.Buffer
}

func newReloadFixture(t *testing.T) *reloadFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(reloadInitial), 0o600); err != nil {
		t.Fatalf("write initial config: %v", err)
	}
	cfg, err := config.Parse([]byte(reloadInitial))
	if err != nil {
		t.Fatalf("parse initial config: %v", err)
	}
	built, err := rules.Build(cfg)
	if err != nil {
		t.Fatalf("build rules: %v", err)
	}

	l := loop.New()
	doc, err := htmldoc.ParseString("https://example.com/", `<table><tr><td>10.1.2.3</td></tr></table>`, l)
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	var logs bytes.Buffer
	logger := util.NewLoggerWithWriter(util.LevelDebug, &logs)
	collector := metrics.NewCollector(true)
	eng := engine.New(doc, l, logger, engineOptions(cfg, built, collector))
	return &reloadFixture{
		path:     path,
		loop:     l,
		engine:   eng,
		reloader: newConfigReloader(path, logger, l, eng, collector, cfg, []byte(reloadInitial)),
		logs:     &logs,
	}
}

func (f *reloadFixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *reloadFixture) ruleNames(t *testing.T) []string {
	t.Helper()
	var names []string
	if err := f.loop.Call(context.Background(), func() error {
		names = f.engine.Status().Rules
		return nil
	}); err != nil {
		t.Fatalf("read status: %v", err)
	}
	return names
}

func TestReloadLogsDiffOnFailureAndKeepsPreviousConfig(t *testing.T) {
	f := newReloadFixture(t)
	f.start(t)

	bad := strings.Replace(reloadInitial, "type: ipv4", "type: regex\n      pattern: \"(\"", 1)
	if err := os.WriteFile(f.path, []byte(bad), 0o600); err != nil {
		t.Fatalf("write bad config: %v", err)
	}

	err := f.reloader.Reload(context.Background(), "test reason")
	if err == nil {
		t.Fatalf("expected reload error, got nil")
	}
	if !strings.Contains(err.Error(), "match.pattern") {
		t.Fatalf("expected match.pattern error, got %v", err)
	}

	logOutput := f.logs.String()
	if !strings.Contains(logOutput, "config change rejected; diff vs last valid config") {
		t.Fatalf("expected diff log, got %s", logOutput)
	}
	if !strings.Contains(logOutput, "config validation failed with 1 issue(s)") {
		t.Fatalf("expected lint summary, got %s", logOutput)
	}
	if names := f.ruleNames(t); len(names) != 1 || names[0] != "IpLens" {
		t.Fatalf("unexpected rules after failed reload: %v", names)
	}
}

func TestReloadSwapsRulesAndDropsMarkers(t *testing.T) {
	f := newReloadFixture(t)
	f.start(t)

	var report engine.CycleReport
	if err := f.loop.Call(context.Background(), func() error {
		report = f.engine.RunCycle()
		return nil
	}); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Applied != 1 {
		t.Fatalf("expected one applied link, got %+v", report)
	}

	next := strings.Replace(reloadInitial, "name: IpLens", "name: AddressLens", 1)
	next = strings.Replace(next, "interval: 5s", "interval: 9s\nlogLevel: warn", 1)
	if err := os.WriteFile(f.path, []byte(next), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := f.reloader.Reload(context.Background(), "test reason"); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if names := f.ruleNames(t); len(names) != 1 || names[0] != "AddressLens" {
		t.Fatalf("unexpected rules after reload: %v", names)
	}
	var marked int
	var interval time.Duration
	if err := f.loop.Call(context.Background(), func() error {
		st := f.engine.Status()
		marked, interval = st.MarkedElements, st.Interval
		return nil
	}); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if marked != 0 {
		t.Fatalf("expected markers dropped on reload, got %d", marked)
	}
	if interval != 5*time.Second {
		t.Fatalf("interval of a running engine should not change, got %s", interval)
	}
	logOutput := f.logs.String()
	if !strings.Contains(logOutput, "takes effect after restart") {
		t.Fatalf("expected interval warning, got %s", logOutput)
	}
	if !strings.Contains(logOutput, "rule changes") || !strings.Contains(logOutput, "AddressLens") {
		t.Fatalf("expected rule diff, got %s", logOutput)
	}
}

func TestReloadWithoutConfigFile(t *testing.T) {
	r := newConfigReloader("", util.Nop(), nil, nil, nil, config.Default(), nil)
	if err := r.Reload(context.Background(), "test"); err == nil {
		t.Fatalf("expected error when no config file is in use")
	}
}

func TestWatchConfigDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(target, []byte(reloadInitial), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		t.Fatalf("watch dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requests := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- watchConfig(ctx, util.Nop(), watcher, target, requests) }()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(target, []byte(reloadInitial), 0o600); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	select {
	case reason := <-requests:
		if reason != "config file updated" {
			t.Fatalf("unexpected reason %q", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload request")
	}
	select {
	case reason := <-requests:
		t.Fatalf("expected writes to be coalesced, got extra request %q", reason)
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("watchConfig returned %v", err)
	}
}
