package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodRenderer renders pages in headless Chrome. It connects to controlURL
// when set and launches a local browser otherwise. The browser is started
// on first use.
type RodRenderer struct {
	controlURL string
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewRodRenderer creates a renderer; no browser is started until Render
func NewRodRenderer(controlURL string, timeout time.Duration, logger *slog.Logger) *RodRenderer {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RodRenderer{controlURL: controlURL, timeout: timeout, logger: logger}
}

func (r *RodRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("renderer: closed")
	}
	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.controlURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("renderer: launch: %w", err)
		}
		wsURL = u
		r.lnch = l
		r.logger.Info("launched local chrome", "component", "renderer", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if r.lnch != nil {
			r.lnch.Kill()
			r.lnch = nil
		}
		return nil, fmt.Errorf("renderer: connect: %w", err)
	}
	r.browser = b
	return b, nil
}

// Render navigates a fresh tab to pageURL and returns the DOM after load
func (r *RodRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	b, err := r.connect()
	if err != nil {
		return "", err
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return "", fmt.Errorf("renderer: new page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			r.logger.Debug("page close failed", "component", "renderer", "error", cerr)
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	p := page.Context(navCtx)
	if err := p.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("renderer: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("renderer: wait load %s: %w", pageURL, err)
	}

	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("renderer: html: %w", err)
	}
	return html, nil
}

// Close shuts down the browser and any launched Chrome process
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Kill()
		r.lnch = nil
	}
	return err
}
