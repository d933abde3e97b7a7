// Package browser defines the browser automation surface the crawl engine
// depends on, and a go-rod implementation of it.
package browser

import (
	"context"
	"strings"
)

// Browser opens isolated browsing contexts.
type Browser interface {
	NewContext(ctx context.Context) (Context, error)
	Close() error
}

// Context is an isolated browsing context owning a set of tabs. Its only
// recovery primitive is Close followed by a fresh NewContext.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	IsClosed() bool
	Close() error
}

// Page is one tab. Every blocking call is bounded by ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitIdle blocks until the network and DOM have settled.
	WaitIdle(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	// Eval evaluates a JavaScript expression and returns its JSON encoding.
	Eval(ctx context.Context, expr string) (string, error)
	AddStyle(ctx context.Context, css string) error
	// Click activates the first element matching selector. A non-empty
	// textPattern (a regular expression) restricts matches by text content.
	// Returns types.ErrElementNotFound when nothing matches before ctx ends.
	Click(ctx context.Context, selector, textPattern string) error
	Screenshot(ctx context.Context) ([]byte, error)
	IsClosed() bool
	Close() error
}

// BlankURL is the placeholder a tab reports when navigation silently failed.
const BlankURL = "about:blank"

// IsBlank reports whether u is the blank placeholder or empty.
func IsBlank(u string) bool {
	u = strings.TrimSpace(u)
	return u == "" || strings.HasPrefix(u, BlankURL)
}

// NoTransitionsCSS disables transitions and animations so snapshots and
// timings are deterministic.
const NoTransitionsCSS = `*, *::before, *::after {
  transition: none !important;
  animation: none !important;
  caret-color: transparent !important;
}`
