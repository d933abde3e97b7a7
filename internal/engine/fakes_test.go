package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/specwatch/internal/audit"
	"github.com/IshaanNene/specwatch/internal/browser"
	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/notify"
	"github.com/IshaanNene/specwatch/internal/observability"
	"github.com/IshaanNene/specwatch/internal/scoring"
	"github.com/IshaanNene/specwatch/internal/storage"
	"github.com/IshaanNene/specwatch/internal/types"
)

const (
	siteOrigin = "https://usedcars.test"
	startURL   = siteOrigin + "/search"
	payloadJS  = "window.UVL && window.UVL.AD"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var testSelectors = config.Selectors{
	Container:        "article.advert",
	RegistrationAttr: "data-registration",
	Link:             "a.link",
	ExpectedCount:    "button.count",
	Next:             "a.next",
	Cookie:           "button.cookie",
	CookieText:       "Reject",
	Payload:          payloadJS,
	DetailProbes:     []string{".specification"},
}

func testSite(model string) config.Site {
	return config.Site{
		Model:     model,
		BaseURL:   siteOrigin,
		Selectors: testSelectors,
		NavSteps: []config.NavStep{
			{Action: "navigate", URL: startURL},
			{Action: "click_text", Selector: "button.cookie", Text: "Reject", Optional: true},
			{Action: "wait_for", Selector: "a.link"},
		},
		SpecWeights: []config.SpecWeight{
			{Keyword: "Comfort Plus Pack", Weight: 4},
			{Keyword: "Sky Lounge", Weight: 4},
			{Keyword: "Bowers & Wilkins", Weight: 4},
		},
	}
}

func testConfig(t *testing.T, models ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Campaign.Models = models
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.AuditDir = filepath.Join(dir, "audit")
	cfg.Notify.Type = "none"
	cfg.Crawl.NavTimeout = 2 * time.Second
	cfg.Crawl.NavRetryDelay = 0
	cfg.Crawl.CookieTimeout = 5 * time.Millisecond
	cfg.Crawl.HydrationTimeout = 40 * time.Millisecond
	cfg.Crawl.HydrationPoll = time.Millisecond
	cfg.Crawl.ExtractionTimeout = 300 * time.Millisecond
	cfg.Crawl.RetryExtractionTimeout = 300 * time.Millisecond
	cfg.Crawl.MinContentLength = 20
	cfg.Crawl.VehicleDelayMin = 0
	cfg.Crawl.VehicleDelayMax = 0
	cfg.Crawl.SettleDelay = 0
	return cfg
}

// listing is one advert card on a results page.
type listing struct {
	id  string
	reg string
}

func listings(from, n int) []listing {
	out := make([]listing, n)
	for i := range out {
		out[i] = listing{id: fmt.Sprintf("v%03d", from+i), reg: fmt.Sprintf("REG%03d", from+i)}
	}
	return out
}

func resultsHTML(available int, cards []listing, hasNext bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><button class="count">%d available</button>`, available)
	for _, c := range cards {
		fmt.Fprintf(&b, `<article class="advert" data-registration="%s"><a class="link" href="/vehicle/%s?src=results">%s</a></article>`, c.reg, c.id, c.id)
	}
	if hasNext {
		b.WriteString(`<a class="next" href="#">Next</a>`)
	} else {
		b.WriteString(`<a class="next" aria-disabled="true">Next</a>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func vehicleURL(id string) string { return siteOrigin + "/vehicle/" + id }

func payloadJSON(id string) string {
	return fmt.Sprintf(`{"advert_id":%q,"condition_and_state":{"mileage":12000,"manufactured_year":2023},`+
		`"dates":{"registration":"2023-03-01"},"fuel_category":"Hybrid",`+
		`"features":{"additional":[{"description":"Comfort Plus Pack leather"}],"standard":[{"description":"Sky Lounge glass roof"}]}}`, id)
}

// fakeSite is the shared state behind every fake context and tab: the
// results pages, the detail payloads and what was requested.
type fakeSite struct {
	mu sync.Mutex

	// results returns the URL and markup of results page i (0-based).
	results   func(i int) (url, html string)
	pageCount int  // clicking next beyond this leaves the page unchanged
	stuck     bool // next never changes the page
	dropped   int  // next clicks that are swallowed before one takes effect

	broken map[string]int // detail URL -> loads whose payload stays empty
	hang   map[string]int // detail URL -> loads whose payload read blocks

	navigations []string // detail URLs loaded, in order
	nextClicks  int
	contexts    int
	pages       int
}

func newFakeSite(results func(i int) (string, string), pageCount int) *fakeSite {
	return &fakeSite{
		results:   results,
		pageCount: pageCount,
		broken:    make(map[string]int),
		hang:      make(map[string]int),
	}
}

// pagedSite serves cards split into pages of pageSize.
func pagedSite(available, pageSize int, cards []listing) *fakeSite {
	pages := (len(cards) + pageSize - 1) / pageSize
	return newFakeSite(func(i int) (string, string) {
		lo, hi := i*pageSize, min((i+1)*pageSize, len(cards))
		return fmt.Sprintf("%s/results?page=%d", siteOrigin, i+1), resultsHTML(available, cards[lo:hi], i+1 < pages)
	}, pages)
}

func (s *fakeSite) clicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextClicks
}

func (s *fakeSite) detailLoads(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.navigations {
		if u == url {
			n++
		}
	}
	return n
}

type fakeBrowser struct {
	site *fakeSite
}

func (b *fakeBrowser) NewContext(ctx context.Context) (browser.Context, error) {
	b.site.mu.Lock()
	b.site.contexts++
	b.site.mu.Unlock()
	return &fakeContext{site: b.site}, nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakeContext struct {
	site   *fakeSite
	mu     sync.Mutex
	closed bool
}

func (c *fakeContext) NewPage(ctx context.Context) (browser.Page, error) {
	if c.IsClosed() {
		return nil, types.ErrSessionClosed
	}
	c.site.mu.Lock()
	c.site.pages++
	c.site.mu.Unlock()
	return &fakePage{site: c.site, ctx: c, url: browser.BlankURL}, nil
}

func (c *fakeContext) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakePage struct {
	site *fakeSite
	ctx  *fakeContext

	mu      sync.Mutex
	url     string
	results int  // results page index when showing results
	listing bool // showing results pages
	broken  bool
	hang    bool
	closed  bool
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if url == startURL {
		p.listing, p.results = true, 0
		p.url, _ = p.site.results(0)
		return nil
	}
	p.listing = false
	p.url = url
	p.site.navigations = append(p.site.navigations, url)
	p.broken, p.hang = false, false
	if p.site.broken[url] > 0 {
		p.site.broken[url]--
		p.broken = true
	}
	if p.site.hang[url] > 0 {
		p.site.hang[url]--
		p.hang = true
	}
	return nil
}

func (p *fakePage) WaitIdle(ctx context.Context) error { return ctx.Err() }

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listing {
		_, html := p.site.results(p.results)
		return html, nil
	}
	return `<html><body><div class="specification">vehicle details</div></body></html>`, nil
}

func (p *fakePage) Eval(ctx context.Context, expr string) (string, error) {
	p.mu.Lock()
	url, broken, hang := p.url, p.broken, p.hang
	p.mu.Unlock()

	switch expr {
	case "document.title":
		return `"BMW X5 xDrive50e M Sport"`, nil
	case payloadJS:
		if hang {
			// Ignores ctx, like a wedged renderer.
			time.Sleep(time.Second)
			return "null", nil
		}
		if broken {
			return "null", nil
		}
		id := url[strings.LastIndex(url, "/")+1:]
		return payloadJSON(id), nil
	}
	return "null", nil
}

func (p *fakePage) AddStyle(ctx context.Context, css string) error { return nil }

func (p *fakePage) Click(ctx context.Context, selector, textPattern string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.listing || selector != testSelectors.Next {
		return types.ErrElementNotFound
	}
	p.site.nextClicks++
	if p.site.dropped > 0 {
		p.site.dropped--
		return nil
	}
	if p.site.stuck || p.results+1 >= p.site.pageCount {
		return nil
	}
	p.results++
	p.url, _ = p.site.results(p.results)
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) { return []byte("png"), nil }

func (p *fakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || p.ctx.IsClosed()
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// memSeen is an in-memory SeenStore.
type memSeen struct {
	ids, regs []string
}

func (m *memSeen) LoadSeen(context.Context) ([]string, []string, error) {
	return append([]string(nil), m.ids...), append([]string(nil), m.regs...), nil
}

func (m *memSeen) SaveSeen(_ context.Context, ids, regs []string) error {
	m.ids, m.regs = ids, regs
	return nil
}

// recordingNotifier keeps every message it is asked to send.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

// fileDeps wires a fake browser to the real file-backed stores.
func fileDeps(site *fakeSite, n notify.Notifier) DepsFactory {
	return func(ctx context.Context, rc RunContext) (*Deps, error) {
		return &Deps{
			Browser:  &fakeBrowser{site: site},
			Seen:     storage.NewSeenFile(rc.Paths),
			Ledger:   storage.NewFileLedger(rc.Paths, false, discard()),
			Queue:    storage.NewReprocessQueue(rc.Paths),
			Notifier: n,
		}, nil
	}
}

// harness assembles a crawler over a fake site with the listing tab already
// on the first results page.
type harness struct {
	site      *fakeSite
	session   *Session
	dedup     *DedupStore
	extractor *Extractor
	crawler   *Crawler
	queue     *storage.ReprocessQueue
	metrics   *observability.Metrics
	rc        RunContext
}

func newHarness(t *testing.T, site *fakeSite, seen *memSeen) *harness {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig(t, "X5")
	metrics := observability.NewMetrics(discard())

	rc := RunContext{
		RunID: NewRunID(), Model: "X5", Attempt: 1, Site: testSite("X5"),
		Paths: storage.NewPaths(cfg.Storage.DataDir, cfg.Storage.AuditDir, "X5"),
	}
	session, err := OpenSession(ctx, &fakeBrowser{site: site}, metrics, discard())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	if err := session.Listing().Navigate(ctx, startURL); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	dedup := NewDedupStore(seen)
	if err := dedup.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	recorder := audit.NewRecorder(rc.Paths.AuditDir, false, discard())
	extractor := NewExtractor(session, cfg.Crawl, rc.Site, recorder, metrics, discard())
	queue := storage.NewReprocessQueue(rc.Paths)
	crawler := NewCrawler(rc, cfg.Crawl, session.Listing(), dedup, extractor, scoring.New(rc.Site.SpecWeights), queue, recorder, metrics, discard())

	return &harness{site: site, session: session, dedup: dedup, extractor: extractor, crawler: crawler, queue: queue, metrics: metrics, rc: rc}
}
