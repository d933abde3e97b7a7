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
	"github.com/IshaanNene/specwatch/internal/ledger"
	"github.com/IshaanNene/specwatch/internal/notify"
	"github.com/IshaanNene/specwatch/internal/observability"
	"github.com/IshaanNene/specwatch/internal/parser"
	"github.com/IshaanNene/specwatch/internal/scoring"
	"github.com/IshaanNene/specwatch/internal/storage"
	"github.com/IshaanNene/specwatch/internal/types"
)

// Queue is the durable reprocess queue.
type Queue interface {
	Enqueuer
	Pending(ctx context.Context) ([]types.QueueItem, error)
	Drain(ctx context.Context) ([]types.QueueItem, error)
	Fail(ctx context.Context, id, url string) error
}

// Deps are the collaborators of one campaign attempt. Browser and Ledger are
// owned by the attempt and released by Close.
type Deps struct {
	Browser  browser.Browser
	Seen     SeenStore
	Ledger   storage.LedgerStore
	Queue    Queue
	Notifier notify.Notifier
}

// Close releases the browser and the ledger backends.
func (d *Deps) Close() error {
	var errs []error
	if d.Browser != nil {
		errs = append(errs, d.Browser.Close())
	}
	if d.Ledger != nil {
		errs = append(errs, d.Ledger.Close())
	}
	return errors.Join(errs...)
}

// Summary describes a finished campaign.
type Summary struct {
	Vehicles      int
	Pages         int
	ExpectedCount int
	ExitReason    string
	Replayed      int
	Failed        int
	LedgerSize    int
	Archived      int
}

// Campaign crawls one model end to end: navigation, page loop, replay,
// reconciliation, persistence and digest.
type Campaign struct {
	cfg      *config.Config
	rc       RunContext
	deps     *Deps
	recorder *audit.Recorder
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewCampaign(cfg *config.Config, rc RunContext, deps *Deps, recorder *audit.Recorder, metrics *observability.Metrics, logger *slog.Logger) *Campaign {
	return &Campaign{
		cfg:      cfg,
		rc:       rc,
		deps:     deps,
		recorder: recorder,
		metrics:  metrics,
		logger:   rc.Logger(logger).With("component", "campaign"),
		now:      time.Now,
	}
}

// Run executes the campaign. Per-listing failures never surface here; an
// error means the attempt as a whole failed.
func (c *Campaign) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	c.logger.Info("campaign starting")

	dedup := NewDedupStore(c.deps.Seen)
	if err := dedup.Load(ctx); err != nil {
		return sum, fmt.Errorf("loading seen sets: %w", err)
	}

	session, err := OpenSession(ctx, c.deps.Browser, c.metrics, c.logger)
	if err != nil {
		return sum, err
	}
	defer session.Close()

	listing := session.Listing()
	if err := PlaySteps(ctx, listing, c.rc.Site.NavSteps, c.cfg.Crawl, c.logger); err != nil {
		c.recorder.Capture(ctx, listing, fmt.Sprintf("crash_%d", c.now().Unix()))
		return sum, fmt.Errorf("reaching results page: %w", err)
	}

	expected, known, err := c.expectedCount(ctx, listing)
	if err != nil {
		return sum, err
	}
	pageCap := ExpectedPages(expected, known, c.cfg.Crawl.PageSize, c.rc.Options.MaxPages)
	sum.ExpectedCount = expected
	c.logger.Info("results page reached", "expected_count", expected, "count_known", known, "page_cap", pageCap)

	extractor := NewExtractor(session, c.cfg.Crawl, c.rc.Site, c.recorder, c.metrics, c.logger)
	scorer := scoring.New(c.rc.Site.SpecWeights)
	crawler := NewCrawler(c.rc, c.cfg.Crawl, listing, dedup, extractor, scorer, c.deps.Queue, c.recorder, c.metrics, c.logger)

	crawl, err := crawler.Run(ctx, pageCap)
	if err != nil {
		c.recorder.Capture(ctx, listing, fmt.Sprintf("crash_%d", c.now().Unix()))
		return sum, err
	}
	sum.Pages, sum.ExitReason = crawl.Pages, crawl.ExitReason()
	c.recorder.Missing(expected, len(crawl.Discovered))

	results := crawl.Results
	replayed, failed, err := c.replay(ctx, extractor, scorer, dedup, &results)
	if err != nil {
		return sum, err
	}
	sum.Replayed, sum.Failed = replayed, failed

	rec, err := c.reconcile(ctx, results, crawl.Observed())
	if err != nil {
		return sum, err
	}
	sum.LedgerSize, sum.Archived = len(rec.Ledger), len(rec.Archived)

	if err := dedup.Persist(ctx); err != nil {
		return sum, fmt.Errorf("persisting seen sets: %w", err)
	}
	c.writeReports(dedup, crawl, results)
	c.recorder.SpecReport(results)

	c.digest(ctx, results)

	sum.Vehicles = len(results)
	c.recorder.Summary(sum.Vehicles, sum.Pages, sum.ExitReason)
	c.logger.Info("campaign finished",
		"vehicles", sum.Vehicles, "pages", sum.Pages, "exit_reason", sum.ExitReason,
		"replayed", sum.Replayed, "failed", sum.Failed, "ledger", sum.LedgerSize, "archived", sum.Archived)
	return sum, nil
}

// Replay runs only the reprocess-queue pass and merges what it recovers into
// the ledger without ageing any entry.
func (c *Campaign) Replay(ctx context.Context) (Summary, error) {
	var sum Summary

	dedup := NewDedupStore(c.deps.Seen)
	if err := dedup.Load(ctx); err != nil {
		return sum, fmt.Errorf("loading seen sets: %w", err)
	}
	session, err := OpenSession(ctx, c.deps.Browser, c.metrics, c.logger)
	if err != nil {
		return sum, err
	}
	defer session.Close()

	extractor := NewExtractor(session, c.cfg.Crawl, c.rc.Site, c.recorder, c.metrics, c.logger)
	var results []types.ScoredVehicle
	sum.Replayed, sum.Failed, err = c.replay(ctx, extractor, scoring.New(c.rc.Site.SpecWeights), dedup, &results)
	if err != nil {
		return sum, err
	}

	prev, err := c.deps.Ledger.LoadLedger(ctx)
	if err != nil {
		return sum, err
	}
	merged := ledger.Merge(prev, results)
	if err := c.deps.Ledger.SaveLedger(ctx, merged); err != nil {
		return sum, err
	}
	if err := dedup.Persist(ctx); err != nil {
		return sum, err
	}
	sum.Vehicles, sum.LedgerSize = len(results), len(merged)
	c.logger.Info("replay finished", "recovered", sum.Replayed, "failed", sum.Failed, "ledger", sum.LedgerSize)
	return sum, nil
}

func (c *Campaign) expectedCount(ctx context.Context, listing browser.Page) (int, bool, error) {
	html, err := listing.Content(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("reading results page: %w", err)
	}
	doc, err := parser.Parse(html, "")
	if err != nil {
		return 0, false, fmt.Errorf("parsing results page: %w", err)
	}
	n, ok := parser.ExpectedCount(doc, c.rc.Site.Selectors.ExpectedCount)
	if !ok {
		c.logger.Warn("results count not found, page cap disabled")
	}
	return n, ok, nil
}

// replay runs this model's queued listings through the extractor. Successes
// are appended to results; failures are recorded as permanent. The model's
// records are cleared once every item has been tried.
func (c *Campaign) replay(ctx context.Context, extractor *Extractor, scorer *scoring.Scorer, dedup *DedupStore, results *[]types.ScoredVehicle) (recovered, failed int, err error) {
	items, err := c.deps.Queue.Pending(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(items) == 0 {
		return 0, 0, nil
	}
	c.logger.Info("replaying queued listings", "count", len(items))

	done := make(map[string]bool, len(*results))
	for _, r := range *results {
		done[r.ID] = true
	}

	for _, item := range items {
		if done[item.ID] {
			continue
		}
		rec, xerr := extractor.Extract(ctx, item.ID, item.URL, extractor.ReplayOptions())
		switch {
		case xerr == nil:
			*results = append(*results, scorer.Score(rec, c.now()))
			dedup.AddID(item.ID)
			done[item.ID] = true
			recovered++
			c.metrics.ReplayRecovered.Add(1)
		case ctx.Err() != nil:
			return recovered, failed, ctx.Err()
		default:
			failed++
			c.metrics.PermanentFailures.Add(1)
			c.logger.Warn("replay failed", "vehicle_id", item.ID, "url", item.URL, "error", xerr)
			c.recorder.ExtractorError(item.URL, xerr)
			if ferr := c.deps.Queue.Fail(ctx, item.ID, item.URL); ferr != nil {
				c.logger.Error("recording permanent failure", "vehicle_id", item.ID, "error", ferr)
			}
		}
		if err := extractor.Throttle(ctx); err != nil {
			return recovered, failed, err
		}
	}

	if _, err := c.deps.Queue.Drain(ctx); err != nil {
		return recovered, failed, err
	}
	return recovered, failed, nil
}

// reconcileBase is the ledger a run reconciles against. It is written once
// per run id before the ledger changes, so a retried attempt of the same run
// ages each entry once rather than once per attempt.
type reconcileBase struct {
	RunID   string              `json:"run_id"`
	Entries []types.LedgerEntry `json:"entries"`
}

// baseLedger returns the pre-run ledger for this run id, recording it on the
// first attempt.
func (c *Campaign) baseLedger(ctx context.Context) ([]types.LedgerEntry, error) {
	path := c.rc.Paths.LedgerBase()
	var base reconcileBase
	found, err := storage.ReadJSON(path, &base)
	if err != nil {
		c.logger.Warn("ignoring unreadable ledger base", "path", path, "error", err)
		found = false
	}
	if found && base.RunID == c.rc.RunID {
		c.logger.Info("reconciling against the ledger from the first attempt", "entries", len(base.Entries))
		return base.Entries, nil
	}

	prev, err := c.deps.Ledger.LoadLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	if err := storage.WriteJSON(path, reconcileBase{RunID: c.rc.RunID, Entries: prev}); err != nil {
		return nil, fmt.Errorf("recording ledger base: %w", err)
	}
	return prev, nil
}

// reconcile ages the ledger against this run's results. Aged-out entries are
// archived before the ledger is saved: if saving fails the retry archives
// them again, while the reverse order would lose them.
func (c *Campaign) reconcile(ctx context.Context, results []types.ScoredVehicle, observed []string) (ledger.Result, error) {
	prev, err := c.baseLedger(ctx)
	if err != nil {
		return ledger.Result{}, err
	}
	res := ledger.Reconcile(prev, results, observed, c.now())

	if len(res.Archived) > 0 {
		if err := c.deps.Ledger.AppendArchive(ctx, res.Archived); err != nil {
			return res, fmt.Errorf("archiving: %w", err)
		}
	}
	if err := c.deps.Ledger.SaveLedger(ctx, res.Ledger); err != nil {
		return res, fmt.Errorf("saving ledger: %w", err)
	}

	c.metrics.LedgerSize.Store(int64(len(res.Ledger)))
	c.metrics.LedgerArchived.Add(int64(len(res.Archived)))
	c.metrics.LedgerInserted.Add(int64(res.Inserted))
	c.logger.Info("ledger reconciled",
		"size", len(res.Ledger), "refreshed", res.Refreshed, "retained", res.Retained,
		"missing", res.Missing, "inserted", res.Inserted, "archived", len(res.Archived))
	return res, nil
}

// writeReports writes the per-model skipped and missing listings files.
func (c *Campaign) writeReports(dedup *DedupStore, crawl CrawlResult, results []types.ScoredVehicle) {
	extracted := make(map[string]bool, len(results))
	for _, r := range results {
		extracted[r.ID] = true
	}

	var skipped []string
	for _, id := range dedup.IDs() {
		if !extracted[id] {
			skipped = append(skipped, id)
		}
	}
	if err := storage.WriteLines(c.rc.Paths.SkippedIDs(), skipped); err != nil {
		c.logger.Warn("writing skipped ids", "error", err)
	}

	var missing []string
	for _, d := range crawl.Discovered {
		if d.Skipped || extracted[d.ID] {
			continue
		}
		missing = append(missing, fmt.Sprintf("ID: %s, Page: %d, Index: %d, URL: %s", d.ID, d.Page, d.Index, d.URL))
	}
	if err := storage.WriteLines(c.rc.Paths.MissingVehicles(), missing); err != nil {
		c.logger.Warn("writing missing vehicles", "error", err)
	}
}

// digest builds the ranked digest, keeps a copy in the alerts file and sends
// it unless this is a dry run. Delivery failures are logged, never fatal.
func (c *Campaign) digest(ctx context.Context, results []types.ScoredVehicle) {
	msg, ok := notify.BuildDigest(results)
	if !ok {
		c.logger.Info("no new vehicles, digest skipped")
		return
	}
	entry := fmt.Sprintf("%s — %s\n%s\n\n", c.now().UTC().Format(time.RFC3339), msg.Subject, msg.Body)
	if err := storage.AppendText(c.rc.Paths.Alerts(), entry); err != nil {
		c.logger.Warn("writing alerts file", "error", err)
	}
	if c.rc.Options.DryRun {
		c.logger.Info("dry run, digest not sent", "subject", msg.Subject)
		return
	}
	if err := c.deps.Notifier.Send(ctx, msg); err != nil {
		c.metrics.DigestFailures.Add(1)
		c.logger.Warn("digest delivery failed", "notifier", c.deps.Notifier.Name(), "error", err)
		return
	}
	c.metrics.DigestsSent.Add(1)
}
