// Package fetch provides the two page-fetch strategies behind a single
// contract: a lightweight HTTP+DOM client and a headless-browser client.
// Both delegate field extraction to pkg/extract so results are
// interchangeable.
package fetch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"certcrawler/pkg/config"
	"certcrawler/pkg/models"
)

// PageFetchClient is the contract both strategies implement. A client is a
// single shared resource per session: Initialize once, Cleanup once.
type PageFetchClient interface {
	// Initialize prepares the underlying transport (HTTP client or browser
	// context). Must be called before any fetch.
	Initialize(ctx context.Context) error

	// FetchTotalPages determines the site's pagination extent and the
	// record count on the (partially filled) last page.
	FetchTotalPages(ctx context.Context) (totalPages, lastPageCount int, err error)

	// CrawlPage fetches one site index page and returns its list records
	// mapped into the local (pageId, indexInPage) space. Zero records from
	// a page that should have some is an error (utils.ErrNoRecords).
	CrawlPage(ctx context.Context, sitePage, attempt int) ([]models.ListRecord, error)

	// CrawlDetail fetches one product page and returns the detail record,
	// with fields equal to the base list record dropped from the delta.
	CrawlDetail(ctx context.Context, rec models.ListRecord, attempt int) (*models.DetailRecord, error)

	// Cleanup releases the transport. Safe to call more than once.
	Cleanup()
}

// ContextRefresher is the capability interface for strategies whose
// underlying context accumulates state across a pass. The orchestrator
// refreshes before the detail pass; strategies without reusable context
// simply don't implement it.
type ContextRefresher interface {
	RefreshContext(ctx context.Context) error
}

// NewPageFetchClient selects a strategy from configuration. Selection is a
// construction-time decision, never a runtime fallback chain.
func NewPageFetchClient(cfg *config.AppConfig, log *logrus.Logger) (PageFetchClient, error) {
	switch cfg.FetchStrategy {
	case "", config.StrategyHTTP:
		return NewHTTPStrategy(cfg, log), nil
	case config.StrategyBrowser:
		return NewBrowserStrategy(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown fetch strategy %q", cfg.FetchStrategy)
	}
}
