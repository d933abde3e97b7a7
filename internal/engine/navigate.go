package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/IshaanNene/specwatch/internal/browser"
	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/parser"
	"github.com/IshaanNene/specwatch/internal/types"
)

const (
	defaultStepTimeout    = 10 * time.Second
	defaultWaitForTimeout = 15 * time.Second
	defaultPoll           = 250 * time.Millisecond
)

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withTimeout is context.WithTimeout that treats d <= 0 as no extra bound.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// detailURL validates a listing link and strips its query string.
func detailURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if browser.IsBlank(raw) {
		return "", types.ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", types.ErrInvalidURL
	}
	return raw, nil
}

// dismissCookies clicks the consent overlay's reject button if one shows up
// within timeout. Not finding it is normal.
func dismissCookies(ctx context.Context, page browser.Page, sel config.Selectors, timeout time.Duration, logger *slog.Logger) {
	if sel.Cookie == "" {
		return
	}
	cctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	if err := page.Click(cctx, sel.Cookie, sel.CookieText); err != nil {
		logger.Debug("no cookie banner", "error", err)
	}
}

// PlaySteps runs a site's scripted navigation on page, leaving it on the
// filtered results page. Optional steps may fail without aborting.
func PlaySteps(ctx context.Context, page browser.Page, steps []config.NavStep, crawl config.CrawlConfig, logger *slog.Logger) error {
	logger.Info("playing navigation steps", "steps", len(steps))

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := playStep(ctx, page, step, crawl)
		if err == nil {
			continue
		}
		if step.Optional {
			logger.Debug("optional step skipped", "index", i, "action", step.Action, "error", err)
			continue
		}
		return fmt.Errorf("nav step %d (%s %s): %w", i, step.Action, step.Selector+step.URL, err)
	}
	return nil
}

func playStep(ctx context.Context, page browser.Page, step config.NavStep, crawl config.CrawlConfig) error {
	switch step.Action {
	case "navigate":
		nctx, cancel := withTimeout(ctx, crawl.NavTimeout)
		defer cancel()
		if err := page.Navigate(nctx, step.URL); err != nil {
			return err
		}
		return page.WaitIdle(nctx)

	case "click", "click_text":
		text := ""
		if step.Action == "click_text" {
			text = step.Text
		}
		cctx, cancel := withTimeout(ctx, stepTimeout(step, defaultStepTimeout))
		defer cancel()
		return page.Click(cctx, step.Selector, text)

	case "wait":
		return sleepCtx(ctx, step.Wait)

	case "wait_for":
		return waitFor(ctx, page, step.Selector, stepTimeout(step, defaultWaitForTimeout), crawl.HydrationPoll)

	case "eval":
		_, err := page.Eval(ctx, step.Script)
		return err

	case "expect":
		html, err := page.Content(ctx)
		if err != nil {
			return err
		}
		doc, err := parser.Parse(html, "")
		if err != nil {
			return err
		}
		if !parser.AnyContains(doc, step.Selector, step.Attr, step.Text) {
			return fmt.Errorf("no %s matching %q: %w", step.Selector, step.Text, types.ErrElementNotFound)
		}
		return nil

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func stepTimeout(step config.NavStep, def time.Duration) time.Duration {
	if step.Wait > 0 {
		return step.Wait
	}
	return def
}

// waitFor polls the rendered DOM until selector matches.
func waitFor(ctx context.Context, page browser.Page, selector string, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = defaultPoll
	}
	wctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	for {
		if html, err := page.Content(wctx); err == nil {
			if doc, err := parser.Parse(html, ""); err == nil && doc.Exists(selector) {
				return nil
			}
		}
		if err := sleepCtx(wctx, poll); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("waiting for %s: %w", selector, types.ErrElementNotFound)
		}
	}
}
