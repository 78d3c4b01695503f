package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"certcrawler/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Site
	if c.Site.BaseURL == "" {
		return warnings, fmt.Errorf("%w: site.base_url is required", utils.ErrConfigValidation)
	}
	parsed, parseErr := url.Parse(c.Site.BaseURL)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return warnings, fmt.Errorf("%w: site.base_url '%s' is not an absolute URL", utils.ErrConfigValidation, c.Site.BaseURL)
	}
	if c.Site.ListPagePath == "" {
		c.Site.ListPagePath = "/products?page=%d"
	}
	if !strings.Contains(c.Site.ListPagePath, "%d") {
		return warnings, fmt.Errorf("%w: site.list_page_path must contain one %%d page placeholder", utils.ErrConfigValidation)
	}
	if c.Site.RecordNamespace == "" {
		c.Site.RecordNamespace = "cert"
	}
	if c.Site.ProductsPerPage <= 0 {
		warnings = append(warnings, "site.products_per_page should be > 0, defaulting to 12")
		c.Site.ProductsPerPage = 12
	}

	// Per-phase concurrency
	if c.InitialConcurrency <= 0 {
		warnings = append(warnings, "initial_concurrency should be > 0, defaulting to 4")
		c.InitialConcurrency = 4
	}
	if c.DetailConcurrency <= 0 {
		warnings = append(warnings, fmt.Sprintf(
			"detail_concurrency not specified or invalid, defaulting to initial_concurrency (%d)",
			c.InitialConcurrency))
		c.DetailConcurrency = c.InitialConcurrency
	}
	if c.RetryConcurrency <= 0 {
		// Lower than first-pass concurrency to ease load after failures
		c.RetryConcurrency = (c.InitialConcurrency + 1) / 2
	}
	if c.RetryConcurrency > c.InitialConcurrency {
		warnings = append(warnings, fmt.Sprintf(
			"retry_concurrency (%d) > initial_concurrency (%d); retry rounds are meant to run lighter",
			c.RetryConcurrency, c.InitialConcurrency))
	}

	// Timeouts
	if c.PageTimeout <= 0 {
		c.PageTimeout = 30 * time.Second
	}
	if c.ProductDetailTimeout <= 0 {
		c.ProductDetailTimeout = 45 * time.Second
	}

	// Inter-request delay bounds
	if c.MinRequestDelay < 0 {
		warnings = append(warnings, "min_request_delay cannot be negative, setting to 0")
		c.MinRequestDelay = 0
	}
	if c.MaxRequestDelay < c.MinRequestDelay {
		if c.MaxRequestDelay != 0 {
			warnings = append(warnings, fmt.Sprintf(
				"max_request_delay (%v) < min_request_delay (%v), raising to min",
				c.MaxRequestDelay, c.MinRequestDelay))
		}
		c.MaxRequestDelay = c.MinRequestDelay
	}

	// Retry rounds
	if c.RetryStartAttempt <= 0 {
		c.RetryStartAttempt = 2 // attempt 1 is the first pass
	}
	if c.RetryMaxAttempt < c.RetryStartAttempt {
		warnings = append(warnings, fmt.Sprintf(
			"retry_max_attempt (%d) < retry_start_attempt (%d), defaulting to start+2",
			c.RetryMaxAttempt, c.RetryStartAttempt))
		c.RetryMaxAttempt = c.RetryStartAttempt + 2
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = 2 * time.Second
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = 60 * time.Second
	}
	if c.RetryBackoffBase > c.RetryBackoffMax {
		warnings = append(warnings, fmt.Sprintf(
			"retry_backoff_base (%v) > retry_backoff_max (%v), using max for base",
			c.RetryBackoffBase, c.RetryBackoffMax))
		c.RetryBackoffBase = c.RetryBackoffMax
	}

	// Low-level HTTP retry
	if c.HTTPMaxRetries < 0 {
		warnings = append(warnings, "http_max_retries cannot be negative, setting to 0")
		c.HTTPMaxRetries = 0
	}
	if c.HTTPMaxRetries == 0 && c.HTTPInitialRetryDelay == 0 {
		c.HTTPMaxRetries = 1
	}
	if c.HTTPMaxRetries > 0 {
		if c.HTTPInitialRetryDelay <= 0 {
			c.HTTPInitialRetryDelay = 500 * time.Millisecond
		}
		if c.HTTPMaxRetryDelay <= 0 {
			c.HTTPMaxRetryDelay = 10 * time.Second
		}
	}
	if c.HTTPInitialRetryDelay > c.HTTPMaxRetryDelay && c.HTTPMaxRetryDelay > 0 {
		c.HTTPInitialRetryDelay = c.HTTPMaxRetryDelay
	}

	// Crawl scope
	if c.PageRangeLimit < 0 {
		warnings = append(warnings, "page_range_limit cannot be negative, setting to 0 (unlimited)")
		c.PageRangeLimit = 0
	}

	// Gap re-collection
	if c.GapBatchSize <= 0 {
		c.GapBatchSize = 5
	}
	if c.GapBatchDelay < 0 {
		warnings = append(warnings, "gap_batch_delay cannot be negative, setting to 0")
		c.GapBatchDelay = 0
	}

	// Critical-failure gate
	if c.CriticalFailureRatio <= 0 {
		c.CriticalFailureRatio = 0.30
	}
	if c.CriticalFailureRatio >= 1 {
		warnings = append(warnings, fmt.Sprintf(
			"critical_failure_ratio (%v) >= 1 disables the abort gate", c.CriticalFailureRatio))
	}

	// Fetch strategy
	switch c.FetchStrategy {
	case "":
		c.FetchStrategy = StrategyHTTP
	case StrategyHTTP, StrategyBrowser:
	default:
		return warnings, fmt.Errorf("%w: fetch_strategy '%s' must be '%s' or '%s'",
			utils.ErrConfigValidation, c.FetchStrategy, StrategyHTTP, StrategyBrowser)
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults for the shared HTTP client.
func (c *AppConfig) validateHTTPClientSettings() {
	s := &c.HTTPClientSettings
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.MaxIdleConns <= 0 {
		s.MaxIdleConns = 100
	}
	if s.MaxIdleConnsPerHost <= 0 {
		s.MaxIdleConnsPerHost = 10
	}
	if s.IdleConnTimeout <= 0 {
		s.IdleConnTimeout = 90 * time.Second
	}
	if s.TLSHandshakeTimeout <= 0 {
		s.TLSHandshakeTimeout = 10 * time.Second
	}
	if s.ExpectContinueTimeout <= 0 {
		s.ExpectContinueTimeout = 1 * time.Second
	}
	if s.DialerTimeout <= 0 {
		s.DialerTimeout = 15 * time.Second
	}
	if s.DialerKeepAlive <= 0 {
		s.DialerKeepAlive = 30 * time.Second
	}
}
