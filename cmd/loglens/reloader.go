package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/loop"
	"github.com/loglens/loglens/internal/metrics"
	"github.com/loglens/loglens/internal/rules"
	"github.com/loglens/loglens/internal/util"
)

type configReloader struct {
	mu             sync.Mutex
	path           string
	logger         *util.Logger
	loop           *loop.Loop
	engine         *engine.Engine
	metrics        *metrics.Collector
	lastConfig     *config.Config
	lastSerialized []byte
}

func newConfigReloader(path string, logger *util.Logger, l *loop.Loop, eng *engine.Engine, metrics *metrics.Collector, cfg *config.Config, serialized []byte) *configReloader {
	return &configReloader{
		path:           path,
		logger:         logger,
		loop:           l,
		engine:         eng,
		metrics:        metrics,
		lastConfig:     cfg,
		lastSerialized: append([]byte(nil), serialized...),
	}
}

func engineOptions(cfg *config.Config, built []rules.Rule, collector *metrics.Collector) engine.Options {
	return engine.Options{
		Rules:             built,
		ObserveContainers: cfg.ObserveContainers,
		Frames:            cfg.Frames,
		Interval:          cfg.Interval,
		HistoryLimit:      cfg.History.Limit,
		Metrics:           collector,
	}
}

// Reload re-reads the config file and swaps the engine's rules. A rejected
// file leaves the running rules untouched.
func (r *configReloader) Reload(ctx context.Context, reason string) error {
	if r.path == "" {
		return errors.New("no config file to reload; running built-in rules")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Infof("%s, reloading config", reason)
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		if issues, lintErr := config.LintFile(r.path); lintErr == nil && len(issues) > 0 {
			r.logLintErrors(issues)
		}
		r.logDiff(raw)
		return err
	}
	built, err := rules.Build(cfg)
	if err != nil {
		r.logDiff(raw)
		return fmt.Errorf("compile rules: %w", err)
	}

	if diff := config.DiffRules(r.lastConfig, cfg); diff != "" {
		r.logger.Debugf("rule changes:\n%s", diff)
	}
	if r.lastConfig != nil && r.lastConfig.Interval != cfg.Interval {
		r.logger.Warnf("interval change to %s takes effect after restart", cfg.Interval)
	}
	opts := engineOptions(cfg, built, r.metrics)
	if err := r.loop.Call(ctx, func() error {
		r.engine.Reload(opts)
		return nil
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("apply reload: %w", err)
	}
	if r.metrics != nil {
		r.metrics.SetEnabled(cfg.Telemetry.Enabled)
	}
	if cfg.LogLevel != "" {
		r.logger.SetLevel(util.ParseLogLevel(cfg.LogLevel))
	}

	r.lastConfig = cfg
	r.lastSerialized = append([]byte(nil), raw...)
	return nil
}

func (r *configReloader) logDiff(current []byte) {
	diff := config.DiffSerialized(r.lastSerialized, current)
	if diff == "" {
		r.logger.Warnf("config change rejected; unable to compute diff vs last valid config")
		return
	}
	r.logger.Warnf("config change rejected; diff vs last valid config:\n%s", diff)
}

func (r *configReloader) logLintErrors(errs []config.LintError) {
	r.logger.Warnf("config validation failed with %d issue(s):", len(errs))
	for _, lintErr := range errs {
		if lintErr.Path != "" {
			r.logger.Warnf(" - %s: %s", lintErr.Path, lintErr.Message)
			continue
		}
		r.logger.Warnf(" - %s", lintErr.Message)
	}
}

// watchConfig turns writes to target into debounced reload requests until
// ctx is done or the watcher closes.
func watchConfig(ctx context.Context, logger *util.Logger, watcher *fsnotify.Watcher, target string, reloadRequests chan<- string) error {
	const debounceWindow = 250 * time.Millisecond
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case reloadRequests <- "config file updated":
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}
