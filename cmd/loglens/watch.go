package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loglens/loglens/internal/browser"
	"github.com/loglens/loglens/internal/control"
	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/loop"
	"github.com/loglens/loglens/internal/metrics"
	"github.com/loglens/loglens/internal/rules"
)

type watchOptions struct {
	socket     string
	headless   bool
	controlURL string
}

func newWatchCmd(global *globalOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Open a console page in Chrome and keep annotating it",
		Long: `Open url in Chrome and run a scan cycle every interval until interrupted.

The engine is reachable over the control socket (see "loglens ctl"). With
--config the file is watched and reloaded on change; SIGHUP reloads too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runWatch(ctx, global, opts, cmd.Flags().Changed("headless"), args[0])
		},
	}
	cmd.Flags().StringVar(&opts.socket, "socket", "", "control socket path")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "run Chrome headless (overrides browser.headless)")
	cmd.Flags().StringVar(&opts.controlURL, "control-url", "", "attach to a running Chrome DevTools endpoint")
	return cmd
}

func runWatch(ctx context.Context, global *globalOptions, opts *watchOptions, headlessSet bool, url string) error {
	cfg, raw, err := loadConfig(global)
	if err != nil {
		return err
	}
	logger := newLogger(global, cfg, os.Stderr)
	defer logger.Sync()

	if headlessSet {
		cfg.Browser.Headless = opts.headless
	}
	if opts.controlURL != "" {
		cfg.Browser.ControlURL = opts.controlURL
	}
	built, err := rules.Build(cfg)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	b, err := browser.Connect(ctx, cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	rp, err := b.Open(ctx, url)
	if err != nil {
		return err
	}

	l := loop.New()
	l.OnPanic(func(r any) { logger.Errorf("loop task panicked: %v", r) })
	page := browser.NewPage(ctx, rp, l, logger)
	collector := metrics.NewCollector(cfg.Telemetry.Enabled)
	eng := engine.New(page.Document(), l, logger, engineOptions(cfg, built, collector))
	logger.Infof("watching %s with %d rules every %s", url, len(built), cfg.Interval)

	var cfgPath string
	if global.configPath != "" {
		if cfgPath, err = filepath.Abs(global.configPath); err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		cfgPath = filepath.Clean(cfgPath)
	}
	reloader := newConfigReloader(cfgPath, logger, l, eng, collector, cfg, raw)

	g, gctx := errgroup.WithContext(ctx)
	srv, err := control.NewServer(control.LoopBackend{Loop: l, Engine: eng}, logger, opts.socket, func(reason string) error {
		return reloader.Reload(gctx, reason)
	})
	if err != nil {
		return fmt.Errorf("start control server: %w", err)
	}

	reloadRequests := make(chan string, 1)
	if cfgPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(cfgPath)); err != nil {
			return fmt.Errorf("watch config dir: %w", err)
		}
		if err := watcher.Add(cfgPath); err != nil {
			logger.Debugf("unable to watch config file directly: %v", err)
		}
		g.Go(func() error { return watchConfig(gctx, logger, watcher, cfgPath, reloadRequests) })
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g.Go(func() error { return l.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return page.RunPoller(gctx, cfg.Browser.PollInterval) })
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case reason := <-reloadRequests:
				if err := reloader.Reload(gctx, reason); err != nil {
					logger.Errorf("reload failed: %v", err)
				}
			case <-hup:
				if err := reloader.Reload(gctx, "received SIGHUP"); err != nil {
					logger.Errorf("reload failed: %v", err)
				}
			}
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infof("stopped")
	return nil
}
