package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/specwatch/internal/browser"
	"github.com/IshaanNene/specwatch/internal/observability"
)

// Session owns the browser resources of one campaign. The results page lives
// in its own context so the detail context can be thrown away and recreated
// without losing the crawl position.
type Session struct {
	browser browser.Browser
	metrics *observability.Metrics
	logger  *slog.Logger

	listCtx browser.Context
	listing browser.Page

	detailCtx browser.Context
	detail    browser.Page
}

// OpenSession opens the listing context and its tab. The detail tab is
// opened lazily.
func OpenSession(ctx context.Context, b browser.Browser, metrics *observability.Metrics, logger *slog.Logger) (*Session, error) {
	s := &Session{
		browser: b,
		metrics: metrics,
		logger:  logger.With("component", "session"),
	}
	listCtx, err := b.NewContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing context: %w", err)
	}
	page, err := listCtx.NewPage(ctx)
	if err != nil {
		listCtx.Close()
		return nil, fmt.Errorf("listing tab: %w", err)
	}
	s.listCtx, s.listing = listCtx, page
	return s, nil
}

// Listing returns the results-page tab.
func (s *Session) Listing() browser.Page { return s.listing }

// Detail returns the current detail tab, reopening the tab or the whole
// detail context if either has gone away.
func (s *Session) Detail(ctx context.Context) (browser.Page, error) {
	switch {
	case s.detailCtx == nil:
		if err := s.openDetailContext(ctx); err != nil {
			return nil, err
		}
		return s.detail, nil
	case s.detailCtx.IsClosed():
		if err := s.RecreateContext(ctx); err != nil {
			return nil, err
		}
		return s.detail, nil
	}
	if s.detail == nil || s.detail.IsClosed() {
		if err := s.newDetailPage(ctx); err != nil {
			return nil, err
		}
	}
	return s.detail, nil
}

// RecycleTab closes the detail tab and opens a fresh one in the same context.
func (s *Session) RecycleTab(ctx context.Context) error {
	if s.detail != nil {
		if err := s.detail.Close(); err != nil {
			s.logger.Debug("closing detail tab", "error", err)
		}
		s.detail = nil
	}
	if s.detailCtx == nil || s.detailCtx.IsClosed() {
		return s.RecreateContext(ctx)
	}
	if err := s.newDetailPage(ctx); err != nil {
		return err
	}
	s.metrics.TabRecycles.Add(1)
	return nil
}

// RecreateContext discards the detail context with every tab in it and opens
// a new context with one fresh tab.
func (s *Session) RecreateContext(ctx context.Context) error {
	if s.detailCtx != nil {
		if err := s.detailCtx.Close(); err != nil {
			s.logger.Debug("closing detail context", "error", err)
		}
	}
	s.detailCtx, s.detail = nil, nil

	if err := s.openDetailContext(ctx); err != nil {
		return err
	}
	s.metrics.ContextRecreations.Add(1)
	s.logger.Info("detail context recreated")
	return nil
}

// Wedged reports whether the detail tab or its context reports closed.
func (s *Session) Wedged() bool {
	if s.detailCtx == nil {
		return false
	}
	return s.detailCtx.IsClosed() || (s.detail != nil && s.detail.IsClosed())
}

func (s *Session) openDetailContext(ctx context.Context) error {
	dc, err := s.browser.NewContext(ctx)
	if err != nil {
		return fmt.Errorf("detail context: %w", err)
	}
	s.detailCtx = dc
	return s.newDetailPage(ctx)
}

func (s *Session) newDetailPage(ctx context.Context) error {
	page, err := s.detailCtx.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("detail tab: %w", err)
	}
	s.detail = page
	return nil
}

// Close releases both contexts.
func (s *Session) Close() error {
	var errs []error
	if s.detailCtx != nil {
		errs = append(errs, s.detailCtx.Close())
	}
	if s.listCtx != nil {
		errs = append(errs, s.listCtx.Close())
	}
	return errors.Join(errs...)
}
