package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/specwatch/internal/audit"
	"github.com/IshaanNene/specwatch/internal/browser"
	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/observability"
	"github.com/IshaanNene/specwatch/internal/parser"
	"github.com/IshaanNene/specwatch/internal/scoring"
	"github.com/IshaanNene/specwatch/internal/types"
)

// State is a page-loop state.
type State int

const (
	StateFetching State = iota
	StateDiscovering
	StateExtracting
	StatePaginating
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateDiscovering:
		return "discovering"
	case StateExtracting:
		return "extracting"
	case StatePaginating:
		return "paginating"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Enqueuer accepts listings whose extraction failed for a later replay.
type Enqueuer interface {
	Enqueue(ctx context.Context, id, url string) error
}

// Discovered is one candidate seen on a results page this run.
type Discovered struct {
	ID           string
	Registration string
	URL          string
	Page         int
	Index        int
	Skipped      bool // already known; not extracted
}

// CrawlResult is what one pass over the results pages produced.
type CrawlResult struct {
	Results    []types.ScoredVehicle
	Discovered []Discovered
	Pages      int
	State      State // StateDone or StateAborted
	Exit       error // why the loop ended; never a run failure
}

// ExitReason renders Exit for the audit logs.
func (r CrawlResult) ExitReason() string {
	if r.Exit == nil {
		return r.State.String()
	}
	return r.Exit.Error()
}

// Observed returns the ids that were listed on the site this run but skipped
// because they were already known.
func (r CrawlResult) Observed() []string {
	var ids []string
	for _, d := range r.Discovered {
		if d.Skipped {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// ExpectedPages returns the page cap for a site-reported listing count. A
// positive maxPages override wins when it is smaller. Zero means no cap.
func ExpectedPages(expected int, known bool, pageSize, maxPages int) int {
	pages := 0
	if known && pageSize > 0 {
		pages = max((expected+pageSize-1)/pageSize, 1)
	}
	if maxPages > 0 && (pages == 0 || maxPages < pages) {
		pages = maxPages
	}
	return pages
}

// Crawler walks the results pages in the listing tab and runs every new
// listing through the extractor, one at a time.
type Crawler struct {
	rc        RunContext
	crawl     config.CrawlConfig
	listing   browser.Page
	dedup     *DedupStore
	extractor *Extractor
	scorer    *scoring.Scorer
	queue     Enqueuer
	recorder  *audit.Recorder
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewCrawler(rc RunContext, crawl config.CrawlConfig, listing browser.Page, dedup *DedupStore, extractor *Extractor,
	scorer *scoring.Scorer, queue Enqueuer, recorder *audit.Recorder, metrics *observability.Metrics, logger *slog.Logger) *Crawler {
	return &Crawler{
		rc:        rc,
		crawl:     crawl,
		listing:   listing,
		dedup:     dedup,
		extractor: extractor,
		scorer:    scorer,
		queue:     queue,
		recorder:  recorder,
		metrics:   metrics,
		logger:    logger.With("component", "crawler"),
		now:       time.Now,
	}
}

type candidate struct {
	id   string
	reg  string
	href string
}

// Run drives the page loop from the page currently loaded in the listing
// tab. pageCap of zero leaves only the duplicate guards and the pagination
// controls to end the loop. An error is returned only when the run itself
// cannot continue.
func (c *Crawler) Run(ctx context.Context, pageCap int) (CrawlResult, error) {
	var (
		res        CrawlResult
		guard      = NewPageGuard()
		sel        = c.rc.Site.Selectors
		pageNumber = 1
		state      = StateFetching
		pageURL    string
		html       string
		doc        *parser.Document
		next       parser.NextState
		queue      []candidate
	)

	end := func(s State, reason error) {
		state, res.State, res.Exit = s, s, reason
	}

	for state != StateDone && state != StateAborted {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		logger := c.logger.With("page", pageNumber)

		switch state {
		case StateFetching:
			u, err := c.listing.URL(ctx)
			if err != nil {
				return res, fmt.Errorf("reading results url: %w", err)
			}
			if guard.VisitURL(u) {
				end(StateAborted, fmt.Errorf("%w: url %s", types.ErrDuplicatePage, u))
				continue
			}
			h, err := c.listing.Content(ctx)
			if err != nil {
				return res, fmt.Errorf("reading results page: %w", err)
			}
			if guard.VisitContent(h) {
				end(StateAborted, fmt.Errorf("%w: content hash", types.ErrDuplicatePage))
				continue
			}
			d, err := parser.Parse(h, u)
			if err != nil {
				return res, fmt.Errorf("parsing results page: %w", err)
			}
			pageURL, html, doc = u, h, d
			state = StateDiscovering

		case StateDiscovering:
			refs, err := parser.Discover(doc, sel)
			if err != nil {
				return res, &types.ConfigError{Model: c.rc.Model, Field: "selectors", Err: err}
			}
			queue = queue[:0]
			for _, ref := range refs {
				c.metrics.ListingsDiscovered.Add(1)
				id, ok := types.VehicleIDFromURL(ref.Href, c.now())
				if !ok {
					logger.Warn("listing link carries no vehicle id", "href", ref.Href)
				}
				skip := c.dedup.ContainsRegistration(ref.Registration) || (ok && c.dedup.ContainsID(id))
				res.Discovered = append(res.Discovered, Discovered{
					ID:           id,
					Registration: ref.Registration,
					URL:          ref.Href,
					Page:         pageNumber,
					Index:        ref.DiscoveryIndex,
					Skipped:      skip,
				})
				if skip {
					c.metrics.ListingsSkipped.Add(1)
					continue
				}
				queue = append(queue, candidate{id: id, reg: ref.Registration, href: ref.Href})
			}
			next = parser.NextControl(doc, sel.Next)
			c.recorder.Page(audit.PageInfo{
				PageNumber:   pageNumber,
				URL:          pageURL,
				Discovered:   len(refs),
				Filtered:     len(queue),
				NextPresent:  next.Present,
				NextDisabled: next.Disabled,
				NextHref:     next.Href,
			}, html)
			logger.Info("listings discovered", "found", len(refs), "new", len(queue))
			state = StateExtracting

		case StateExtracting:
			for _, cand := range queue {
				if err := c.process(ctx, cand, &res); err != nil {
					return res, err
				}
			}
			c.metrics.PagesCrawled.Add(1)
			res.Pages = pageNumber
			state = StatePaginating

		case StatePaginating:
			switch {
			case !next.Usable():
				end(StateDone, types.ErrNoNextPage)
			case pageCap > 0 && pageNumber >= pageCap:
				// The site still offers a next page, so following it would
				// exceed the cap.
				end(StateAborted, fmt.Errorf("%w: next page after %d of %d", types.ErrPageCapExceeded, pageNumber, pageCap))
			default:
				err := c.advance(ctx)
				switch {
				case errors.Is(err, types.ErrPaginationStall):
					end(StateDone, err)
				case err != nil:
					return res, err
				default:
					pageNumber++
					state = StateFetching
				}
			}
		}
	}

	if state == StateAborted {
		c.metrics.LoopAborts.Add(1)
	}
	c.logger.Info("page loop finished", "state", state, "page", pageNumber, "reason", res.ExitReason(), "vehicles", len(res.Results))
	c.recorder.LoopExit(pageNumber, res.ExitReason())
	return res, nil
}

// process extracts and scores one candidate. Per-listing failures are
// absorbed here; only cancellation is returned.
func (c *Crawler) process(ctx context.Context, cand candidate, res *CrawlResult) error {
	// An earlier listing on the same page may have carried the same plate.
	if c.dedup.ContainsRegistration(cand.reg) || c.dedup.ContainsID(cand.id) {
		return nil
	}
	rec, err := c.extractor.Extract(ctx, cand.id, cand.href, c.extractor.CrawlOptions())
	switch {
	case err == nil:
		rec.Registration = cand.reg
		scored := c.scorer.Score(rec, c.now())
		res.Results = append(res.Results, scored)
		c.dedup.AddID(cand.id)
		c.dedup.AddRegistration(cand.reg)
		c.logger.Info("vehicle scored", "vehicle_id", cand.id, "score_percent", scored.ScorePercent)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, types.ErrInvalidURL):
		c.logger.Warn("listing skipped", "vehicle_id", cand.id, "error", err)
	default:
		c.logger.Warn("listing queued for replay", "vehicle_id", cand.id, "error", err)
		if qerr := c.queue.Enqueue(ctx, cand.id, cand.href); qerr != nil {
			c.logger.Error("enqueue failed", "vehicle_id", cand.id, "error", qerr)
		} else {
			c.metrics.QueuedForReplay.Add(1)
		}
	}
	return c.extractor.Throttle(ctx)
}

// advance activates the next-page control and waits for the URL to change,
// trying the click once more before declaring the results exhausted.
func (c *Crawler) advance(ctx context.Context) error {
	sel := c.rc.Site.Selectors.Next
	before, err := c.listing.URL(ctx)
	if err != nil {
		return fmt.Errorf("reading results url: %w", err)
	}

	for try := 1; try <= 2; try++ {
		cctx, cancel := withTimeout(ctx, c.crawl.NavTimeout)
		err := c.listing.Click(cctx, sel, "")
		if err == nil {
			err = c.listing.WaitIdle(cctx)
		}
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Debug("next-page click failed", "try", try, "error", err)
		}
		if err := sleepCtx(ctx, c.crawl.SettleDelay); err != nil {
			return err
		}

		after, err := c.listing.URL(ctx)
		if err == nil && after != before && !browser.IsBlank(after) {
			return nil
		}
	}
	return types.ErrPaginationStall
}
