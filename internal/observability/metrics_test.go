package observability

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServeHTTP(t *testing.T) {
	m := NewMetrics(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.PagesCrawled.Add(2)
	m.VehiclesExtracted.Add(46)
	m.LedgerSize.Store(46)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"specwatch_pages_crawled_total 2\n",
		"specwatch_vehicles_extracted_total 46\n",
		"# TYPE specwatch_ledger_size gauge\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestSnapshot(t *testing.T) {
	m := NewMetrics(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.QueuedForReplay.Add(3)
	snap := m.Snapshot()
	if snap["replay_queued_total"] != 3 {
		t.Errorf("snapshot = %v", snap)
	}
	if _, ok := snap["campaign_attempts_total"]; !ok {
		t.Error("snapshot missing campaign attempts")
	}
}
