package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics tracks campaign counters. All fields are safe for concurrent use;
// the crawl itself is sequential but the HTTP endpoint reads concurrently.
type Metrics struct {
	// Crawl loop
	PagesCrawled       atomic.Int64
	ListingsDiscovered atomic.Int64
	ListingsSkipped    atomic.Int64
	LoopAborts         atomic.Int64

	// Extraction pipeline
	VehiclesExtracted  atomic.Int64
	NavigationFailures atomic.Int64
	ExtractionFailures atomic.Int64
	ExtractionRetries  atomic.Int64
	ContextRecreations atomic.Int64
	TabRecycles        atomic.Int64

	// Reprocess queue
	QueuedForReplay   atomic.Int64
	ReplayRecovered   atomic.Int64
	PermanentFailures atomic.Int64

	// Ledger
	LedgerSize     atomic.Int64
	LedgerArchived atomic.Int64
	LedgerInserted atomic.Int64
	DigestsSent    atomic.Int64
	DigestFailures atomic.Int64

	// Supervisor
	CampaignAttempts atomic.Int64
	CampaignFailures atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

type metric struct {
	name  string
	help  string
	kind  string
	value int64
}

func (m *Metrics) all() []metric {
	return []metric{
		{"specwatch_pages_crawled_total", "Results pages processed", "counter", m.PagesCrawled.Load()},
		{"specwatch_listings_discovered_total", "Listing candidates discovered", "counter", m.ListingsDiscovered.Load()},
		{"specwatch_listings_skipped_total", "Candidates skipped as already seen", "counter", m.ListingsSkipped.Load()},
		{"specwatch_loop_aborts_total", "Page loops ended by a guard", "counter", m.LoopAborts.Load()},
		{"specwatch_vehicles_extracted_total", "Vehicles extracted and scored", "counter", m.VehiclesExtracted.Load()},
		{"specwatch_navigation_failures_total", "Detail pages that failed to load", "counter", m.NavigationFailures.Load()},
		{"specwatch_extraction_failures_total", "Extraction attempts that failed", "counter", m.ExtractionFailures.Load()},
		{"specwatch_extraction_retries_total", "Extractions retried on a fresh tab", "counter", m.ExtractionRetries.Load()},
		{"specwatch_context_recreations_total", "Browser contexts recreated", "counter", m.ContextRecreations.Load()},
		{"specwatch_tab_recycles_total", "Detail tabs recycled", "counter", m.TabRecycles.Load()},
		{"specwatch_replay_queued_total", "Listings queued for replay", "counter", m.QueuedForReplay.Load()},
		{"specwatch_replay_recovered_total", "Listings recovered by replay", "counter", m.ReplayRecovered.Load()},
		{"specwatch_permanent_failures_total", "Listings that failed replay", "counter", m.PermanentFailures.Load()},
		{"specwatch_ledger_size", "Entries in the last written ledger", "gauge", m.LedgerSize.Load()},
		{"specwatch_ledger_archived_total", "Ledger entries archived", "counter", m.LedgerArchived.Load()},
		{"specwatch_ledger_inserted_total", "Ledger entries created", "counter", m.LedgerInserted.Load()},
		{"specwatch_digests_sent_total", "Digests delivered", "counter", m.DigestsSent.Load()},
		{"specwatch_digest_failures_total", "Digests that failed to send", "counter", m.DigestFailures.Load()},
		{"specwatch_campaign_attempts_total", "Campaign attempts started", "counter", m.CampaignAttempts.Load()},
		{"specwatch_campaign_failures_total", "Campaign attempts that failed", "counter", m.CampaignFailures.Load()},
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	for _, metric := range m.all() {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", metric.name, metric.kind)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) StartServer(ctx context.Context, port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv
}

// Snapshot returns all metrics keyed by name without the prefix.
func (m *Metrics) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	for _, metric := range m.all() {
		out[metric.name[len("specwatch_"):]] = metric.value
	}
	return out
}
