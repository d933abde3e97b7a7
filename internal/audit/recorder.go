// Package audit writes the diagnostic trail of a campaign: append-only run
// logs that are always kept, and DOM dumps, screenshots and per-page reports
// that are only captured in audit mode.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IshaanNene/specwatch/internal/browser"
	"github.com/IshaanNene/specwatch/internal/parser"
	"github.com/IshaanNene/specwatch/internal/storage"
	"github.com/IshaanNene/specwatch/internal/types"
)

// Log and report file names.
const (
	RestartLog     = "restart_log.txt"
	RunSummary     = "run_summary.txt"
	LoopExitLog    = "loop_exit_log.txt"
	FailLog        = "fail_log.txt"
	ExtractorErrs  = "extractor_errors.txt"
	MissingSummary = "missing_summary.txt"
	SpecMatches    = "spec_matches.txt"
	UnmatchedSpecs = "unmatched_specs.txt"
	RawVehicleData = "raw_vehicle_data.txt"
	PaginationLog  = "pagination_log.txt"
)

// Recorder writes into one model's audit directory. Every write is
// best-effort: failures are logged and never surface to the caller.
type Recorder struct {
	dir     string
	enabled bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder creates a recorder for dir. enabled turns on artifact capture.
func NewRecorder(dir string, enabled bool, logger *slog.Logger) *Recorder {
	return &Recorder{
		dir:     dir,
		enabled: enabled,
		logger:  logger.With("component", "audit"),
		now:     time.Now,
	}
}

func (r *Recorder) Dir() string   { return r.dir }
func (r *Recorder) Enabled() bool { return r.enabled }

func (r *Recorder) stamp() string { return r.now().UTC().Format(time.RFC3339) }

func (r *Recorder) path(name string) string { return filepath.Join(r.dir, name) }

// Append adds raw text to a log file. Logs are kept in every mode.
func (r *Recorder) Append(name, text string) {
	if err := storage.AppendText(r.path(name), text); err != nil {
		r.logger.Warn("audit append failed", "file", name, "error", err)
	}
}

// Logf appends one timestamped line to the named log.
func (r *Recorder) Logf(name, format string, args ...any) {
	r.Append(name, fmt.Sprintf("%s — %s\n", r.stamp(), fmt.Sprintf(format, args...)))
}

// Restart records a failed attempt that will be retried.
func (r *Recorder) Restart(err error) {
	r.Logf(RestartLog, "Restarting due to: %v", err)
}

// Abort records the supervisor giving up.
func (r *Recorder) Abort(retries int) {
	r.Logf(RestartLog, "Aborted after %d retries", retries)
}

// LoopExit records how the page loop ended.
func (r *Recorder) LoopExit(page int, reason string) {
	r.Logf(LoopExitLog, "Exited at page %d — Reason: %s", page, reason)
}

// Summary appends a run summary block.
func (r *Recorder) Summary(vehicles, pages int, exitReason string) {
	if exitReason == "" {
		exitReason = "Unknown error"
	}
	r.Append(RunSummary, fmt.Sprintf(
		"Run completed at %s\nTotal vehicles processed: %d\nPages scraped: %d\nExit reason: %s\n\n",
		r.stamp(), vehicles, pages, exitReason))
}

// --- Artifacts (audit mode only) ---

// Write stores an artifact.
func (r *Recorder) Write(name string, data []byte) {
	if !r.enabled {
		return
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.logger.Warn("audit dir", "error", err)
		return
	}
	if err := os.WriteFile(r.path(name), data, 0o644); err != nil {
		r.logger.Warn("audit write failed", "file", name, "error", err)
	}
}

// WriteJSON stores v as indented JSON.
func (r *Recorder) WriteJSON(name string, v any) {
	if !r.enabled {
		return
	}
	if err := storage.WriteJSON(r.path(name), v); err != nil {
		r.logger.Warn("audit write failed", "file", name, "error", err)
	}
}

// Capture dumps the page's DOM to <label>.html and a screenshot to
// <label>.png.
func (r *Recorder) Capture(ctx context.Context, page browser.Page, label string) {
	if !r.enabled || page == nil || page.IsClosed() {
		return
	}
	if html, err := page.Content(ctx); err == nil {
		r.Write(label+".html", []byte(html))
	} else {
		r.logger.Debug("capture content", "label", label, "error", err)
	}
	if png, err := page.Screenshot(ctx); err == nil {
		r.Write(label+".png", png)
	} else {
		r.logger.Debug("capture screenshot", "label", label, "error", err)
	}
}

// Failure records a listing that could not be extracted. The fail log line
// and selector check are always written; DOM and screenshot only in audit
// mode.
func (r *Recorder) Failure(ctx context.Context, page browser.Page, vehicleID string, cause error, probes []string) []parser.ProbeResult {
	r.Logf(FailLog, "Vehicle %s failed: %v", vehicleID, cause)

	if page == nil || page.IsClosed() {
		return nil
	}
	html, err := page.Content(ctx)
	if err != nil {
		return nil
	}
	var results []parser.ProbeResult
	if doc, err := parser.Parse(html, ""); err == nil && len(probes) > 0 {
		results = parser.Probe(doc, probes)
		var b strings.Builder
		for _, p := range results {
			status := "missing"
			if p.Found {
				status = "found"
			}
			fmt.Fprintf(&b, "%s: %s\n", p.Selector, status)
		}
		r.Append(fmt.Sprintf("selector_check_%s.txt", vehicleID), b.String())
	}

	if r.enabled {
		r.Write(fmt.Sprintf("fail_dom_%s.html", vehicleID), []byte(html))
		if png, err := page.Screenshot(ctx); err == nil {
			r.Write(fmt.Sprintf("fail_page_%s.png", vehicleID), png)
		}
	}
	return results
}

// ExtractorError records a replay failure.
func (r *Recorder) ExtractorError(url string, cause error) {
	r.Append(ExtractorErrs, fmt.Sprintf("URL: %s\nError: %v\n\n", url, cause))
}

// PageInfo is the per-page pagination report.
type PageInfo struct {
	PageNumber   int    `json:"pageNumber"`
	URL          string `json:"url"`
	Discovered   int    `json:"discovered"`
	Filtered     int    `json:"filtered"`
	NextPresent  bool   `json:"nextButtonPresent"`
	NextDisabled bool   `json:"nextButtonDisabled"`
	NextHref     string `json:"nextHref,omitempty"`
}

// Page records one results page: its DOM, its pagination report and a line
// in the pagination log.
func (r *Recorder) Page(info PageInfo, html string) {
	if !r.enabled {
		return
	}
	r.Write(fmt.Sprintf("page_%d_dom.html", info.PageNumber), []byte(html))
	r.WriteJSON(fmt.Sprintf("page_%d_pagination.json", info.PageNumber), info)
	r.Append(PaginationLog, fmt.Sprintf("Page %d — URL: %s\n", info.PageNumber, info.URL))
}

// RawVehicle appends the extracted record.
func (r *Recorder) RawVehicle(url string, rec types.VehicleRecord) {
	if !r.enabled {
		return
	}
	data, err := json.MarshalIndent(struct {
		URL  string              `json:"url"`
		Data types.VehicleRecord `json:"data"`
	}{url, rec}, "", "  ")
	if err != nil {
		return
	}
	r.Append(RawVehicleData, string(data)+"\n\n")
}

// SpecReport writes every result's matched keywords and leftover features.
func (r *Recorder) SpecReport(results []types.ScoredVehicle) {
	if !r.enabled {
		return
	}
	for _, v := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "ID: %s, Score: %d%%\n", v.ID, v.ScorePercent)
		for i, m := range v.MatchedSpecs {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "• %s (%d)", m.Keyword, m.Weight)
		}
		b.WriteString("\n\n")
		r.Append(SpecMatches, b.String())

		if len(v.UnmatchedSpecs) > 0 {
			r.Append(UnmatchedSpecs, fmt.Sprintf("ID: %s\nUnmatched:\n%s\n\n", v.ID, strings.Join(v.UnmatchedSpecs, "\n")))
		}
	}
}

// Missing records a shortfall between the site-reported count and what was
// discovered.
func (r *Recorder) Missing(expected, seen int) {
	if expected <= 0 || seen >= expected {
		return
	}
	r.Logf(MissingSummary, "Expected: %d, Seen: %d, Missing: %d", expected, seen, expected-seen)
}
