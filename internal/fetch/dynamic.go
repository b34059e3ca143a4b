package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"prospector/internal/logging"
)

// Renderer resolves a URL to post-JavaScript HTML. Used as a fallback
// when a static fetch yields a near-empty document.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
	Close() error
}

// RodRenderer drives a headless browser. The browser launches lazily on
// the first Render call so a configured-but-unused renderer costs
// nothing.
type RodRenderer struct {
	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodRenderer returns an unstarted renderer.
func NewRodRenderer() *RodRenderer {
	return &RodRenderer{}
}

func (r *RodRenderer) ensureStarted() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	// The browser is shared across Render calls and must outlive any
	// one of them; per-call contexts apply to the page only.
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	r.browser = browser
	logging.Fetch("headless browser started for dynamic rendering")
	return browser, nil
}

// Render implements Renderer.
func (r *RodRenderer) Render(ctx context.Context, url string) (string, error) {
	browser, err := r.ensureStarted()
	if err != nil {
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Close shuts the browser down if it was ever started.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}
