package parser

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// queryCSS runs a CSS selector over the descendants of n via goquery.
func queryCSS(n *html.Node, selector string) ([]*html.Node, error) {
	if _, err := cascadia.Compile(selector); err != nil {
		return nil, fmt.Errorf("invalid css selector %q: %w", selector, err)
	}
	return goquery.NewDocumentFromNode(n).Find(selector).Nodes, nil
}
