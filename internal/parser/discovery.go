package parser

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/types"
)

// Discover returns the listing candidates on a results page in page order.
//
// With a container selector each container yields at most one candidate:
// its first link, and the registration read from inside it (or from the
// container's own attribute). Without one, every link is a candidate and the
// registration is read from the link's RegistrationAttr. Candidates
// repeating an earlier href are dropped.
func Discover(doc *Document, sel config.Selectors) ([]types.ListingRef, error) {
	var refs []types.ListingRef
	seen := make(map[string]bool)

	add := func(link, regNode *html.Node) {
		href := doc.Resolve(Attr(link, "href"))
		if href != "" {
			if seen[href] {
				return
			}
			seen[href] = true
		}
		refs = append(refs, types.ListingRef{
			Registration:   NormalizeRegistration(Value(regNode, sel.RegistrationAttr)),
			Href:           href,
			DiscoveryIndex: len(refs),
		})
	}

	if sel.Container == "" {
		links, err := doc.Query(sel.Link)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			var regNode *html.Node
			if sel.RegistrationAttr != "" {
				regNode = link
			}
			add(link, regNode)
		}
		return refs, nil
	}

	containers, err := doc.Query(sel.Container)
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		link := doc.First(c, sel.Link)
		if link == nil {
			continue
		}
		var regNode *html.Node
		switch {
		case sel.Registration != "":
			regNode = doc.First(c, sel.Registration)
		case sel.RegistrationAttr != "":
			regNode = c
		}
		add(link, regNode)
	}
	return refs, nil
}

// NormalizeRegistration uppercases a registration plate and strips its
// whitespace so "ab12 cde" and "AB12CDE" compare equal.
func NormalizeRegistration(reg string) string {
	return strings.ToUpper(strings.Join(strings.Fields(reg), ""))
}

var availablePattern = regexp.MustCompile(`(?i)(\d{1,4})\s*available`)

// ExpectedCount parses the site-reported "N available" indicator. ok is
// false when the control is missing or carries no count.
func ExpectedCount(doc *Document, selector string) (count int, ok bool) {
	if selector == "" {
		return 0, false
	}
	nodes, err := doc.Query(selector)
	if err != nil {
		return 0, false
	}
	for _, n := range nodes {
		m := availablePattern.FindStringSubmatch(Text(n))
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// NextState describes the "next page" control.
type NextState struct {
	Present  bool
	Disabled bool
	Href     string
}

// Usable reports whether the control can be activated.
func (s NextState) Usable() bool { return s.Present && !s.Disabled }

// NextControl locates the next-page control and reports whether it is
// disabled (aria-disabled, a disabled attribute, or a *disabled* class).
func NextControl(doc *Document, selector string) NextState {
	n := doc.First(doc.root, selector)
	if n == nil {
		return NextState{}
	}
	state := NextState{Present: true, Href: doc.Resolve(Attr(n, "href"))}
	if strings.EqualFold(Attr(n, "aria-disabled"), "true") {
		state.Disabled = true
	}
	for _, a := range n.Attr {
		if a.Key == "disabled" {
			state.Disabled = true
		}
	}
	if strings.Contains(strings.ToLower(Attr(n, "class")), "disabled") {
		state.Disabled = true
	}
	return state
}

// ProbeResult records whether a diagnostic selector matched.
type ProbeResult struct {
	Selector string
	Found    bool
}

// Probe checks each selector against the document.
func Probe(doc *Document, selectors []string) []ProbeResult {
	out := make([]ProbeResult, 0, len(selectors))
	for _, s := range selectors {
		out = append(out, ProbeResult{Selector: s, Found: doc.Exists(s)})
	}
	return out
}

// AnyContains reports whether some node matching selector has attr (or its
// text, when attr is empty) containing want, case-insensitively.
func AnyContains(doc *Document, selector, attr, want string) bool {
	nodes, err := doc.Query(selector)
	if err != nil {
		return false
	}
	want = strings.ToLower(want)
	for _, n := range nodes {
		if strings.Contains(strings.ToLower(Value(n, attr)), want) {
			return true
		}
	}
	return false
}
