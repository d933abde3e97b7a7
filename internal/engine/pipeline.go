package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/IshaanNene/specwatch/internal/audit"
	"github.com/IshaanNene/specwatch/internal/browser"
	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/observability"
	"github.com/IshaanNene/specwatch/internal/pipeline"
	"github.com/IshaanNene/specwatch/internal/types"
)

// ExtractOptions bound one resilient navigate-and-extract call.
type ExtractOptions struct {
	NavAttempts  int           // page loads per pass
	Timeout      time.Duration // hard bound on the first extraction
	RetryTimeout time.Duration // hard bound on the recovery extraction
	// RecreateContextOnFailure allows the recovery pass to discard the whole
	// detail context when the failure looks like a wedged session.
	RecreateContextOnFailure bool
}

// Extractor loads listing detail pages and reads their hydration payload.
// It is used by the crawl loop and by the replay pass.
type Extractor struct {
	session  *Session
	crawl    config.CrawlConfig
	site     config.Site
	recorder *audit.Recorder
	records  *pipeline.Pipeline
	metrics  *observability.Metrics
	logger   *slog.Logger

	extracted int
}

func NewExtractor(session *Session, crawl config.CrawlConfig, site config.Site, recorder *audit.Recorder, metrics *observability.Metrics, logger *slog.Logger) *Extractor {
	return &Extractor{
		session:  session,
		crawl:    crawl,
		site:     site,
		recorder: recorder,
		records:  pipeline.Default(logger),
		metrics:  metrics,
		logger:   logger.With("component", "extractor"),
	}
}

// CrawlOptions are used for listings found by the crawl loop.
func (e *Extractor) CrawlOptions() ExtractOptions {
	return ExtractOptions{
		NavAttempts:              e.crawl.NavAttempts,
		Timeout:                  e.crawl.ExtractionTimeout,
		RetryTimeout:             e.crawl.RetryExtractionTimeout,
		RecreateContextOnFailure: true,
	}
}

// ReplayOptions are used for listings taken from the reprocess queue.
func (e *Extractor) ReplayOptions() ExtractOptions {
	return ExtractOptions{
		NavAttempts:  e.crawl.NavAttempts,
		Timeout:      e.crawl.RetryExtractionTimeout,
		RetryTimeout: e.crawl.RetryExtractionTimeout,
	}
}

// Extract navigates to rawURL and reads the vehicle record. A failed pass is
// retried exactly once on a fresh tab, and on a fresh context when the
// session looks wedged. The returned error is an *types.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, id, rawURL string, opts ExtractOptions) (types.VehicleRecord, error) {
	logger := e.logger.With("vehicle_id", id, "url", rawURL)

	target, err := detailURL(rawURL)
	if err != nil {
		logger.Warn("listing has no usable url")
		e.recorder.Failure(ctx, e.session.detail, id, err, nil)
		return types.VehicleRecord{}, &types.ExtractionError{VehicleID: id, URL: rawURL, Err: err}
	}

	rec, err := e.pass(ctx, id, target, opts.NavAttempts, opts.Timeout)
	if err == nil {
		return e.succeeded(ctx, rec), nil
	}
	if ctx.Err() != nil {
		return types.VehicleRecord{}, ctx.Err()
	}

	logger.Warn("extraction failed, retrying on a fresh tab", "error", err)
	e.metrics.ExtractionRetries.Add(1)
	e.recorder.Failure(ctx, e.session.detail, id, err, e.site.Selectors.DetailProbes)

	if rerr := e.recover(ctx, err, opts); rerr != nil {
		e.metrics.ExtractionFailures.Add(1)
		return types.VehicleRecord{}, &types.ExtractionError{VehicleID: id, URL: target, Err: errors.Join(err, rerr)}
	}

	rec, err = e.pass(ctx, id, target, opts.NavAttempts, opts.RetryTimeout)
	if err == nil {
		logger.Info("recovered on retry")
		return e.succeeded(ctx, rec), nil
	}
	if ctx.Err() != nil {
		return types.VehicleRecord{}, ctx.Err()
	}

	e.metrics.ExtractionFailures.Add(1)
	e.recorder.Failure(ctx, e.session.detail, id, err, e.site.Selectors.DetailProbes)
	return types.VehicleRecord{}, &types.ExtractionError{VehicleID: id, URL: target, Err: err}
}

// Throttle sleeps for a random duration in the configured vehicle delay
// range.
func (e *Extractor) Throttle(ctx context.Context) error {
	lo, hi := e.crawl.VehicleDelayMin, e.crawl.VehicleDelayMax
	d := lo
	if hi > lo {
		d += time.Duration(rand.Int63n(int64(hi-lo) + 1))
	}
	return sleepCtx(ctx, d)
}

func (e *Extractor) succeeded(ctx context.Context, rec types.VehicleRecord) types.VehicleRecord {
	e.metrics.VehiclesExtracted.Add(1)
	e.recorder.RawVehicle(rec.URL, rec)

	e.extracted++
	if n := e.crawl.TabRecycleEvery; n > 0 && e.extracted%n == 0 {
		e.logger.Debug("recycling detail tab", "extracted", e.extracted)
		if err := e.session.RecycleTab(ctx); err != nil {
			e.logger.Warn("tab recycle failed", "error", err)
		}
	}
	return rec
}

func (e *Extractor) recover(ctx context.Context, cause error, opts ExtractOptions) error {
	tabErr := e.session.RecycleTab(ctx)
	if !opts.RecreateContextOnFailure {
		return tabErr
	}
	if tabErr != nil || types.IsWedged(cause) || e.session.Wedged() {
		return e.session.RecreateContext(ctx)
	}
	return nil
}

func (e *Extractor) pass(ctx context.Context, id, target string, attempts int, timeout time.Duration) (types.VehicleRecord, error) {
	page, err := e.navigate(ctx, target, attempts)
	if err != nil {
		return types.VehicleRecord{}, err
	}
	rec, err := e.extract(ctx, page, id, target, timeout)
	if err != nil {
		return rec, err
	}
	clean, err := e.records.Process(&rec)
	switch {
	case err != nil:
		return types.VehicleRecord{}, err
	case clean == nil:
		return types.VehicleRecord{}, types.ErrEmptyPayload
	}
	return *clean, nil
}

func (e *Extractor) navigate(ctx context.Context, target string, attempts int) (browser.Page, error) {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		page, err := e.session.Detail(ctx)
		if err == nil {
			if err = e.load(ctx, page, target); err == nil {
				return page, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		last = err
		e.logger.Debug("navigation attempt failed", "url", target, "attempt", i, "error", err)
		if i < attempts {
			if err := sleepCtx(ctx, e.crawl.NavRetryDelay); err != nil {
				return nil, err
			}
		}
	}
	e.metrics.NavigationFailures.Add(1)
	return nil, &types.NavigationError{URL: target, Attempts: attempts, Err: last}
}

// load performs one navigation and checks the page actually rendered.
func (e *Extractor) load(ctx context.Context, page browser.Page, target string) error {
	nctx, cancel := withTimeout(ctx, e.crawl.NavTimeout)
	defer cancel()

	if err := page.Navigate(nctx, target); err != nil {
		return err
	}
	if err := page.WaitIdle(nctx); err != nil {
		return err
	}
	landed, err := page.URL(nctx)
	if err != nil {
		return err
	}
	if browser.IsBlank(landed) {
		return types.ErrBlankPage
	}

	dismissCookies(ctx, page, e.site.Selectors, e.crawl.CookieTimeout, e.logger)

	if err := page.AddStyle(nctx, browser.NoTransitionsCSS); err != nil {
		return fmt.Errorf("disabling transitions: %w", err)
	}
	html, err := page.Content(nctx)
	if err != nil {
		return err
	}
	if len(html) < e.crawl.MinContentLength {
		return fmt.Errorf("%w: %d bytes", types.ErrContentTooShort, len(html))
	}
	return nil
}

// extract races the payload read against the hard extraction timeout. The
// abandoned read is not waited for; its page is discarded by the caller's
// recovery path.
func (e *Extractor) extract(ctx context.Context, page browser.Page, id, target string, timeout time.Duration) (types.VehicleRecord, error) {
	xctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		rec types.VehicleRecord
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rec, err := e.hydrate(xctx, page, id, target)
		done <- outcome{rec, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() != nil {
			return types.VehicleRecord{}, ctx.Err()
		}
		return o.rec, o.err
	case <-xctx.Done():
		if err := ctx.Err(); err != nil {
			return types.VehicleRecord{}, err
		}
		return types.VehicleRecord{}, types.ErrExtractionTimeout
	}
}

// hydrate polls for the client-side payload until it carries the minimum
// fields, then maps it into a record.
func (e *Extractor) hydrate(ctx context.Context, page browser.Page, id, target string) (types.VehicleRecord, error) {
	poll := e.crawl.HydrationPoll
	if poll <= 0 {
		poll = defaultPoll
	}
	hctx, cancel := withTimeout(ctx, e.crawl.HydrationTimeout)
	defer cancel()

	var payload *types.Payload
	for {
		if raw, err := page.Eval(hctx, e.site.Selectors.Payload); err == nil {
			var p types.Payload
			if json.Unmarshal([]byte(raw), &p) == nil && p.Hydrated() {
				payload = &p
				break
			}
		}
		if page.IsClosed() {
			return types.VehicleRecord{}, types.ErrSessionClosed
		}
		if err := sleepCtx(hctx, poll); err != nil {
			if ctx.Err() != nil {
				return types.VehicleRecord{}, types.ErrExtractionTimeout
			}
			return types.VehicleRecord{}, types.ErrEmptyPayload
		}
	}

	return payload.Record(id, e.title(ctx, page), target), nil
}

func (e *Extractor) title(ctx context.Context, page browser.Page) string {
	raw, err := page.Eval(ctx, "document.title")
	if err == nil {
		var t string
		if json.Unmarshal([]byte(raw), &t) == nil && strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t)
		}
	}
	return "BMW " + e.site.Model
}
