package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"certcrawler/pkg/config"
	"certcrawler/pkg/extract"
	"certcrawler/pkg/models"
	"certcrawler/pkg/pageindex"
	"certcrawler/pkg/pool"
	"certcrawler/pkg/utils"
)

// HTTPStrategy is the default fetch strategy: direct GET with a rotated
// user agent, parsed with goquery. Cheap and high-throughput; fails on
// script-rendered content.
type HTTPStrategy struct {
	cfg     *config.AppConfig
	log     *logrus.Logger
	fetcher *Fetcher
	agents  *agentPool
	index   *pageindex.Manager

	mu         sync.Mutex
	totalPages int
	offset     int
}

// NewHTTPStrategy creates the HTTP+DOM strategy. Initialize must run
// before any fetch.
func NewHTTPStrategy(cfg *config.AppConfig, log *logrus.Logger) *HTTPStrategy {
	return &HTTPStrategy{
		cfg:    cfg,
		log:    log,
		agents: newAgentPool(cfg.Site.UserAgent),
		index:  pageindex.NewManager(cfg.Site.ProductsPerPage),
	}
}

// Initialize builds the shared HTTP client.
func (c *HTTPStrategy) Initialize(_ context.Context) error {
	client := NewClient(c.cfg.HTTPClientSettings, c.log)
	c.fetcher = NewFetcher(client, c.cfg, c.log)
	return nil
}

// Cleanup closes idle connections.
func (c *HTTPStrategy) Cleanup() {
	if c.fetcher != nil {
		c.fetcher.client.CloseIdleConnections()
	}
}

// FetchTotalPages reads the pagination extent from the first index page,
// then counts records on the last (oldest, possibly partial) page. The
// results seed the offset arithmetic used by every later CrawlPage call.
func (c *HTTPStrategy) FetchTotalPages(ctx context.Context) (int, int, error) {
	doc, err := c.fetchListDocument(ctx, 1)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching first index page: %w", err)
	}
	totalPages, err := extract.TotalPages(doc)
	if err != nil {
		return 0, 0, err
	}

	lastPageCount := c.cfg.Site.ProductsPerPage
	if totalPages > 1 {
		lastDoc, err := c.fetchListDocument(ctx, totalPages)
		if err != nil {
			return 0, 0, fmt.Errorf("fetching last index page %d: %w", totalPages, err)
		}
		lastPageCount = len(extract.ListItems(lastDoc))
	} else {
		lastPageCount = len(extract.ListItems(doc))
	}

	c.mu.Lock()
	c.totalPages = totalPages
	c.offset = c.index.Offset(lastPageCount)
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"total_pages": totalPages, "last_page_count": lastPageCount}).Info("Resolved site pagination")
	return totalPages, lastPageCount, nil
}

// CrawlPage fetches one site index page and maps its records into the
// local address space.
func (c *HTTPStrategy) CrawlPage(ctx context.Context, sitePage, attempt int) ([]models.ListRecord, error) {
	if err := pool.SleepJitter(ctx, c.cfg.MinRequestDelay, c.cfg.MaxRequestDelay); err != nil {
		return nil, err
	}

	doc, err := c.fetchListDocument(ctx, sitePage)
	if err != nil {
		return nil, err
	}

	items := extract.ListItems(doc)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: site page %d (attempt %d)", utils.ErrNoRecords, sitePage, attempt)
	}

	c.mu.Lock()
	totalPages, offset := c.totalPages, c.offset
	c.mu.Unlock()
	if totalPages <= 0 {
		return nil, fmt.Errorf("pagination not resolved before crawling page %d", sitePage)
	}

	localPage := pageindex.ToLocalPageNumber(sitePage, totalPages)
	records := make([]models.ListRecord, 0, len(items))
	for domIdx, item := range items {
		absURL, err := c.resolveURL(item.URL)
		if err != nil {
			c.log.WithFields(logrus.Fields{"site_page": sitePage, "href": item.URL}).Warnf("Skipping record with unresolvable URL: %v", err)
			continue
		}
		// The site lists newest-first within a page; the local space is
		// oldest-first, so the in-page index reverses.
		siteIdx := len(items) - 1 - domIdx
		pageID, indexInPage := c.index.MapToLocal(localPage, siteIdx, offset)
		records = append(records, models.ListRecord{
			URL:           absURL,
			Manufacturer:  item.Manufacturer,
			Model:         item.Model,
			CertificateID: item.CertificateID,
			PageID:        pageID,
			IndexInPage:   indexInPage,
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: site page %d had no usable records", utils.ErrNoRecords, sitePage)
	}
	return records, nil
}

// CrawlDetail fetches one product page and extracts the detail delta over
// the base list record.
func (c *HTTPStrategy) CrawlDetail(ctx context.Context, rec models.ListRecord, attempt int) (*models.DetailRecord, error) {
	if rec.URL == "" {
		return nil, utils.ErrMissingIdentity
	}
	if err := pool.SleepJitter(ctx, c.cfg.MinRequestDelay, c.cfg.MaxRequestDelay); err != nil {
		return nil, err
	}

	body, err := c.fetcher.FetchDocumentBody(ctx, rec.URL, c.agents.Next())
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrParsing, err)
	}

	detail := extract.Detail(doc, rec, c.cfg.Site.CompanyInfoQuery)
	detail.CollectedAt = time.Now()
	return detail, nil
}

func (c *HTTPStrategy) fetchListDocument(ctx context.Context, sitePage int) (*goquery.Document, error) {
	pageURL, err := c.listPageURL(sitePage)
	if err != nil {
		return nil, err
	}
	body, err := c.fetcher.FetchDocumentBody(ctx, pageURL, c.agents.Next())
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrParsing, err)
	}
	return doc, nil
}

func (c *HTTPStrategy) listPageURL(sitePage int) (string, error) {
	base, err := url.Parse(c.cfg.Site.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	ref, err := url.Parse(fmt.Sprintf(c.cfg.Site.ListPagePath, sitePage))
	if err != nil {
		return "", fmt.Errorf("invalid list page path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *HTTPStrategy) resolveURL(href string) (string, error) {
	if href == "" {
		return "", utils.ErrMissingIdentity
	}
	base, err := url.Parse(c.cfg.Site.BaseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
