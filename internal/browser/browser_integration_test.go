//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/internal/browser"
	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/loop"
	"github.com/loglens/loglens/internal/rules"
)

func TestEngineAnnotatesLivePage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `<html><body><table class="logs-table"><tr><td class="logs-table__body-cell">10.0.0.1</td></tr></table></body></html>`)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	b, err := browser.Connect(ctx, config.BrowserConfig{Headless: true}, nil)
	require.NoError(t, err)
	defer b.Close()

	rp, err := b.Open(ctx, ts.URL)
	require.NoError(t, err)

	l := loop.New()
	go func() { _ = l.Run(ctx) }()

	page := browser.NewPage(ctx, rp, l, nil)
	cfg := config.Default()
	built, err := rules.Build(cfg)
	require.NoError(t, err)
	eng := engine.New(page.Document(), l, nil, engine.Options{Rules: built, Frames: cfg.Frames})

	var report engine.CycleReport
	require.NoError(t, l.Call(ctx, func() error {
		report = eng.RunCycle()
		return nil
	}))
	require.Equal(t, 1, report.Applied)

	var markup string
	require.NoError(t, l.Call(ctx, func() error {
		els, err := page.Document().QueryAll("td")
		if err != nil {
			return err
		}
		markup, err = els[0].InnerHTML()
		return err
	}))
	require.True(t, strings.Contains(markup, "tools.keycdn.com/geo?host=10.0.0.1"), markup)
}
