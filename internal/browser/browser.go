// Package browser drives a live Chrome tab over the DevTools protocol and
// exposes it as a dom.Document, so the scan engine can annotate the real
// CloudWatch and X-Ray consoles.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/util"
)

// DefaultNavigationTimeout bounds the initial page load.
const DefaultNavigationTimeout = 60 * time.Second

// Browser is a connected Chrome instance.
type Browser struct {
	cfg        config.BrowserConfig
	logger     *util.Logger
	browser    *rod.Browser
	launcher   *launcher.Launcher
	controlURL string
}

// Connect attaches to cfg.ControlURL, or launches a new Chrome when it is
// empty.
func Connect(ctx context.Context, cfg config.BrowserConfig, logger *util.Logger) (*Browser, error) {
	if logger == nil {
		logger = util.Nop()
	}
	b := &Browser{cfg: cfg, logger: logger.Named("browser")}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		url, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		b.launcher = l
		controlURL = url
		b.logger.Infof("launched chrome (headless=%v)", cfg.Headless)
	}

	rb := rod.New().ControlURL(controlURL).Context(ctx)
	if err := rb.Connect(); err != nil {
		if b.launcher != nil {
			b.launcher.Kill()
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.browser = rb
	b.controlURL = controlURL
	return b, nil
}

// ControlURL returns the DevTools WebSocket address.
func (b *Browser) ControlURL() string { return b.controlURL }

// Open creates a tab for url and waits for it to load.
func (b *Browser) Open(ctx context.Context, url string) (*rod.Page, error) {
	if b.browser == nil {
		return nil, errors.New("browser not connected")
	}
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := page.Context(ctx).Timeout(DefaultNavigationTimeout).WaitLoad(); err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	b.logger.Infof("opened %s", url)
	return page, nil
}

// Close disconnects and, for a launched Chrome, stops the process.
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		if b.launcher != nil {
			err = b.browser.Close()
		}
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher = nil
	}
	return err
}
