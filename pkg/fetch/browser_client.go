package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"certcrawler/pkg/config"
	"certcrawler/pkg/extract"
	"certcrawler/pkg/models"
	"certcrawler/pkg/pageindex"
	"certcrawler/pkg/pool"
	"certcrawler/pkg/utils"
)

// Asset types blocked in the browser context. The extraction only needs
// markup; skipping media and styling cuts page load down substantially.
var blockedURLPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.css", "*analytics*", "*gtag*",
}

// BrowserStrategy drives a headless Chrome instance via chromedp. Heavier
// than the HTTP strategy but handles script-rendered content. One shared
// browser per session; tabs are leased per request and always closed.
type BrowserStrategy struct {
	cfg   *config.AppConfig
	log   *logrus.Logger
	index *pageindex.Manager

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	totalPages  int
	offset      int
}

// NewBrowserStrategy creates the browser-automation strategy. Initialize
// must run before any fetch.
func NewBrowserStrategy(cfg *config.AppConfig, log *logrus.Logger) *BrowserStrategy {
	return &BrowserStrategy{
		cfg:   cfg,
		log:   log,
		index: pageindex.NewManager(cfg.Site.ProductsPerPage),
	}
}

// Initialize launches the browser. The allocator is detached from the
// caller's context so per-operation timeouts don't tear the browser down.
func (c *BrowserStrategy) Initialize(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

func (c *BrowserStrategy) startLocked() error {
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.IsHeadless()),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if ua := strings.TrimSpace(c.cfg.Site.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	browserCtx, browserStop := chromedp.NewContext(allocCtx)

	// Spin the browser up now so a broken Chrome install fails Initialize
	// instead of the first crawl.
	if err := chromedp.Run(browserCtx); err != nil {
		browserStop()
		allocCancel()
		return fmt.Errorf("%w: launching browser: %v", utils.ErrBrowserContext, err)
	}

	c.allocCtx = allocCtx
	c.allocCancel = allocCancel
	c.browserCtx = browserCtx
	c.browserStop = browserStop
	c.log.WithField("headless", c.cfg.IsHeadless()).Info("Browser context initialized")
	return nil
}

// Cleanup tears the browser down. Safe to call more than once.
func (c *BrowserStrategy) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *BrowserStrategy) stopLocked() {
	if c.browserStop != nil {
		c.browserStop()
		c.browserStop = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
	c.browserCtx = nil
	c.allocCtx = nil
}

// RefreshContext rebuilds the browser context. Stale contexts accumulate
// memory and cookies across a pass; the orchestrator refreshes before the
// detail pass.
func (c *BrowserStrategy) RefreshContext(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info("Refreshing browser context")
	c.stopLocked()
	return c.startLocked()
}

// leaseContext returns a live browser context, rebuilding it first if the
// liveness probe fails.
func (c *BrowserStrategy) leaseContext() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx == nil {
		if err := c.startLocked(); err != nil {
			return nil, err
		}
		return c.browserCtx, nil
	}

	probeCtx, cancel := context.WithTimeout(c.browserCtx, 5*time.Second)
	defer cancel()
	var probe int
	if err := chromedp.Run(probeCtx, chromedp.Evaluate("1+1", &probe)); err != nil || probe != 2 {
		c.log.Warnf("Browser liveness probe failed, rebuilding context: %v", err)
		c.stopLocked()
		if err := c.startLocked(); err != nil {
			return nil, err
		}
	}
	return c.browserCtx, nil
}

// FetchTotalPages resolves the site's pagination extent and last-page
// record count through the browser.
func (c *BrowserStrategy) FetchTotalPages(ctx context.Context) (int, int, error) {
	firstURL, err := c.listPageURL(1)
	if err != nil {
		return 0, 0, err
	}
	doc, err := c.fetchDocument(ctx, firstURL, c.cfg.PageTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching first index page: %w", err)
	}
	totalPages, err := extract.TotalPages(doc)
	if err != nil {
		return 0, 0, err
	}

	lastPageCount := len(extract.ListItems(doc))
	if totalPages > 1 {
		lastURL, err := c.listPageURL(totalPages)
		if err != nil {
			return 0, 0, err
		}
		lastDoc, err := c.fetchDocument(ctx, lastURL, c.cfg.PageTimeout)
		if err != nil {
			return 0, 0, fmt.Errorf("fetching last index page %d: %w", totalPages, err)
		}
		lastPageCount = len(extract.ListItems(lastDoc))
	}

	c.mu.Lock()
	c.totalPages = totalPages
	c.offset = c.index.Offset(lastPageCount)
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"total_pages": totalPages, "last_page_count": lastPageCount}).Info("Resolved site pagination")
	return totalPages, lastPageCount, nil
}

// CrawlPage renders one site index page and maps its records into the
// local address space. Extraction semantics match the HTTP strategy
// exactly; only the transport differs.
func (c *BrowserStrategy) CrawlPage(ctx context.Context, sitePage, attempt int) ([]models.ListRecord, error) {
	if err := pool.SleepJitter(ctx, c.cfg.MinRequestDelay, c.cfg.MaxRequestDelay); err != nil {
		return nil, err
	}

	pageURL, err := c.listPageURL(sitePage)
	if err != nil {
		return nil, err
	}
	doc, err := c.fetchDocument(ctx, pageURL, c.cfg.PageTimeout)
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

// CrawlDetail renders one product page and extracts the detail delta.
func (c *BrowserStrategy) CrawlDetail(ctx context.Context, rec models.ListRecord, attempt int) (*models.DetailRecord, error) {
	if rec.URL == "" {
		return nil, utils.ErrMissingIdentity
	}
	if err := pool.SleepJitter(ctx, c.cfg.MinRequestDelay, c.cfg.MaxRequestDelay); err != nil {
		return nil, err
	}

	doc, err := c.fetchDocument(ctx, rec.URL, c.cfg.ProductDetailTimeout)
	if err != nil {
		return nil, err
	}

	detail := extract.Detail(doc, rec, c.cfg.Site.CompanyInfoQuery)
	detail.CollectedAt = time.Now()
	return detail, nil
}

// fetchDocument leases a tab, navigates, waits for the document to settle,
// and returns the rendered DOM parsed with goquery. The tab is always
// closed, success or not.
func (c *BrowserStrategy) fetchDocument(ctx context.Context, pageURL string, timeout time.Duration) (*goquery.Document, error) {
	browserCtx, err := c.leaseContext()
	if err != nil {
		return nil, err
	}

	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()

	// Race the per-operation timeout against the session context.
	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err = chromedp.Run(runCtx,
		network.Enable(),
		network.SetBlockedURLs(blockedURLPatterns),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrCrawlStopped, ctx.Err())
		}
		return nil, fmt.Errorf("%w: navigating %s: %v", utils.ErrBrowserContext, pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrParsing, err)
	}
	return doc, nil
}

func (c *BrowserStrategy) listPageURL(sitePage int) (string, error) {
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

func (c *BrowserStrategy) resolveURL(href string) (string, error) {
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
