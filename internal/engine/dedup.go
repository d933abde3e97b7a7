package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/IshaanNene/specwatch/internal/types"
)

// SeenStore persists the two dedup sequences.
type SeenStore interface {
	LoadSeen(ctx context.Context) (ids, regs []string, err error)
	SaveSeen(ctx context.Context, ids, regs []string) error
}

// orderedSet keeps insertion order so the persisted files stay stable.
type orderedSet struct {
	items []string
	index map[string]struct{}
}

func newOrderedSet() orderedSet {
	return orderedSet{index: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *orderedSet) has(v string) bool {
	_, ok := s.index[v]
	return ok
}

// DedupStore holds the listing ids and registrations seen by this and every
// previous run of one model. Entries are only ever added; the crawl is
// sequential so no locking is needed.
type DedupStore struct {
	store SeenStore
	ids   orderedSet
	regs  orderedSet
}

// NewDedupStore creates an empty store backed by store.
func NewDedupStore(store SeenStore) *DedupStore {
	return &DedupStore{
		store: store,
		ids:   newOrderedSet(),
		regs:  newOrderedSet(),
	}
}

// Load merges the persisted sequences into the store. Ids have any query
// suffix stripped and duplicates are dropped.
func (d *DedupStore) Load(ctx context.Context) error {
	ids, regs, err := d.store.LoadSeen(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		d.AddID(id)
	}
	for _, reg := range regs {
		d.AddRegistration(reg)
	}
	return nil
}

// Persist writes both sequences back in insertion order.
func (d *DedupStore) Persist(ctx context.Context) error {
	return d.store.SaveSeen(ctx, d.IDs(), d.Registrations())
}

func (d *DedupStore) ContainsID(id string) bool {
	return d.ids.has(types.StripQuery(id))
}

func (d *DedupStore) ContainsRegistration(reg string) bool {
	reg = strings.TrimSpace(reg)
	return reg != "" && d.regs.has(reg)
}

// AddID records id. Blank ids are ignored.
func (d *DedupStore) AddID(id string) {
	if id = types.StripQuery(id); id != "" {
		d.ids.add(id)
	}
}

// AddRegistration records reg. Blank registrations are ignored so listings
// without a plate are never collapsed into one.
func (d *DedupStore) AddRegistration(reg string) {
	if reg = strings.TrimSpace(reg); reg != "" {
		d.regs.add(reg)
	}
}

// IDs returns a copy of the seen ids in insertion order.
func (d *DedupStore) IDs() []string {
	return append([]string(nil), d.ids.items...)
}

// Registrations returns a copy of the seen registrations in insertion order.
func (d *DedupStore) Registrations() []string {
	return append([]string(nil), d.regs.items...)
}

// PageGuard remembers which results pages the crawl loop has already
// processed this run, by canonical URL and by a hash of the rendered markup.
type PageGuard struct {
	urls   map[string]struct{}
	hashes map[string]struct{}
}

func NewPageGuard() *PageGuard {
	return &PageGuard{
		urls:   make(map[string]struct{}),
		hashes: make(map[string]struct{}),
	}
}

// VisitURL marks rawURL as processed and reports whether it already was.
func (g *PageGuard) VisitURL(rawURL string) (repeat bool) {
	key := hashString(CanonicalizeURL(rawURL))
	if _, ok := g.urls[key]; ok {
		return true
	}
	g.urls[key] = struct{}{}
	return false
}

// VisitContent marks the page markup as processed and reports whether an
// identical page was already seen.
func (g *PageGuard) VisitContent(html string) (repeat bool) {
	key := hashString(html)
	if _, ok := g.hashes[key]; ok {
		return true
	}
	g.hashes[key] = struct{}{}
	return false
}

// CanonicalizeURL normalizes a URL for duplicate detection:
// - lowercases scheme and host
// - removes fragment and default ports
// - sorts query parameters
// - removes trailing slash (except root)
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = u.Hostname()
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// hashString returns a compact 128-bit hex digest.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:16])
}
