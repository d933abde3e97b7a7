package browser

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
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/types"
)

// RodBrowser implements Browser on a Chromium instance driven by Rod.
type RodBrowser struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
	logger  *slog.Logger
}

// Launch starts Chromium (or connects to cfg.RemoteURL) and returns a ready
// RodBrowser.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) (*RodBrowser, error) {
	rb := &RodBrowser{
		cfg:    cfg,
		logger: logger.With("component", "browser"),
	}

	controlURL := cfg.RemoteURL
	if controlURL == "" {
		u, err := rb.launchBrowser()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	rb.browser = b

	rb.logger.Info("browser ready",
		"remote", cfg.RemoteURL != "",
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
	)
	return rb, nil
}

// launchBrowser starts a local Chromium with anti-automation flags.
func (rb *RodBrowser) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(rb.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled")

	if rb.cfg.NoSandbox {
		l = l.Set("no-sandbox").Set("disable-setuid-sandbox")
	}
	if rb.cfg.Bin != "" {
		l = l.Bin(rb.cfg.Bin)
	}
	if rb.cfg.ViewportWidth > 0 && rb.cfg.ViewportHeight > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", rb.cfg.ViewportWidth, rb.cfg.ViewportHeight))
	}

	return l.Launch()
}

// NewContext opens an incognito browsing context.
func (rb *RodBrowser) NewContext(ctx context.Context) (Context, error) {
	inc, err := rb.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	return &rodContext{browser: inc, cfg: rb.cfg, logger: rb.logger}, nil
}

// Close shuts down the browser.
func (rb *RodBrowser) Close() error {
	if rb.browser == nil {
		return nil
	}
	return rb.browser.Close()
}

type rodContext struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (rc *rodContext) NewPage(ctx context.Context) (Page, error) {
	if rc.IsClosed() {
		return nil, types.ErrSessionClosed
	}

	var (
		page *rod.Page
		err  error
	)
	if rc.cfg.Stealth {
		page, err = stealth.Page(rc.browser)
	} else {
		page, err = rc.browser.Page(proto.TargetCreateTarget{URL: BlankURL})
	}
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}

	if rc.cfg.ViewportWidth > 0 && rc.cfg.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             rc.cfg.ViewportWidth,
			Height:            rc.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			rc.logger.Warn("failed to set viewport", "error", err)
		}
	}

	return &rodPage{page: page}, nil
}

// IsClosed reports whether the context was closed or its connection is gone.
func (rc *rodContext) IsClosed() bool {
	rc.mu.Lock()
	closed := rc.closed
	rc.mu.Unlock()
	if closed {
		return true
	}
	_, err := rc.browser.Pages()
	return err != nil
}

func (rc *rodContext) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return nil
	}
	rc.closed = true
	return rc.browser.Close()
}

type rodPage struct {
	page *rod.Page

	mu     sync.Mutex
	closed bool
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	return p.page.Context(ctx).Navigate(url)
}

func (p *rodPage) WaitIdle(ctx context.Context) error {
	return p.page.Context(ctx).WaitStable(300 * time.Millisecond)
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Content(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Eval(ctx context.Context, expr string) (string, error) {
	res, err := p.page.Context(ctx).Eval(fmt.Sprintf(`() => JSON.stringify((%s) ?? null)`, expr))
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) AddStyle(ctx context.Context, css string) error {
	return p.page.Context(ctx).AddStyleTag("", css)
}

func (p *rodPage) Click(ctx context.Context, selector, textPattern string) error {
	pg := p.page.Context(ctx)

	var (
		el  *rod.Element
		err error
	)
	if textPattern == "" {
		el, err = pg.Element(selector)
	} else {
		el, err = pg.ElementR(selector, textPattern)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", selector, types.ErrElementNotFound)
		}
		return err
	}

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		// covered or not yet interactable: dispatch the click directly
		if _, evalErr := el.Eval(`() => this.click()`); evalErr != nil {
			return fmt.Errorf("click %s: %w", selector, err)
		}
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, nil)
}

func (p *rodPage) IsClosed() bool {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return true
	}
	_, err := p.page.Info()
	return err != nil
}

func (p *rodPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.page.Close()
}
