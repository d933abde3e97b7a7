package parser

import (
	"fmt"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// queryXPath evaluates an XPath expression relative to n.
func queryXPath(n *html.Node, expr string) ([]*html.Node, error) {
	nodes, err := htmlquery.QueryAll(n, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	return nodes, nil
}
