// Package parser reads listing candidates, result counts and pagination state
// out of rendered results-page markup.
package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// XPathPrefix marks a selector as XPath rather than CSS.
const XPathPrefix = "xpath:"

// Document is a parsed page. Selectors are CSS unless prefixed with
// XPathPrefix.
type Document struct {
	root *html.Node
	doc  *goquery.Document
	base *url.URL
}

// Parse parses rendered markup. baseURL is used to resolve relative links and
// may be empty.
func Parse(markup, baseURL string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	d := &Document{root: root, doc: goquery.NewDocumentFromNode(root)}
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil {
			d.base = u
		}
	}
	return d, nil
}

// Query returns every node matching selector, in document order.
func (d *Document) Query(selector string) ([]*html.Node, error) {
	return d.QueryWithin(d.root, selector)
}

// QueryWithin returns the descendants of n matching selector. XPath
// selectors should be relative (".//a") to stay inside n.
func (d *Document) QueryWithin(n *html.Node, selector string) ([]*html.Node, error) {
	if expr, ok := strings.CutPrefix(selector, XPathPrefix); ok {
		return queryXPath(n, expr)
	}
	return queryCSS(n, selector)
}

// First returns the first node matching selector inside n, or nil.
func (d *Document) First(n *html.Node, selector string) *html.Node {
	nodes, err := d.QueryWithin(n, selector)
	if err != nil || len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// Exists reports whether any node matches selector.
func (d *Document) Exists(selector string) bool {
	return d.First(d.root, selector) != nil
}

// Resolve makes href absolute against the document's base URL. Unparseable
// hrefs yield "".
func (d *Document) Resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if d.base != nil {
		ref = d.base.ResolveReference(ref)
	}
	ref.Fragment = ""
	return ref.String()
}

// Text returns the whitespace-collapsed text content of n.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	return strings.Join(strings.Fields(goquery.NewDocumentFromNode(n).Text()), " ")
}

// Attr returns the value of attribute name on n, or "".
func Attr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// Value reads attr from n when attr is set, otherwise n's text.
func Value(n *html.Node, attr string) string {
	if attr == "" || attr == "text" {
		return Text(n)
	}
	return strings.TrimSpace(Attr(n, attr))
}
