package config

import "time"

// SiteConfig describes the certification-registry site being collected.
// The engine is purpose-built for one site's pagination and DOM shape, so
// this stays deliberately small.
type SiteConfig struct {
	BaseURL          string `yaml:"base_url"`
	ListPagePath     string `yaml:"list_page_path,omitempty"`     // printf template with one %d for the site page number
	UserAgent        string `yaml:"user_agent,omitempty"`         // fixed agent; empty = rotate built-in pool
	RecordNamespace  string `yaml:"record_namespace,omitempty"`   // prefix for synthetic detail ids
	ProductsPerPage  int    `yaml:"products_per_page,omitempty"`  // per-page record count the site paginates with
	CompanyInfoQuery string `yaml:"company_info_query,omitempty"` // optional selector for the manufacturer fallback
}

// AppConfig holds the global application configuration
type AppConfig struct {
	Site SiteConfig `yaml:"site"`

	// Per-phase worker budgets
	InitialConcurrency int `yaml:"initial_concurrency,omitempty"` // list pages
	DetailConcurrency  int `yaml:"detail_concurrency,omitempty"`  // product details
	RetryConcurrency   int `yaml:"retry_concurrency,omitempty"`   // retry rounds, kept lower

	// Per-operation timeouts
	PageTimeout          time.Duration `yaml:"page_timeout,omitempty"`
	ProductDetailTimeout time.Duration `yaml:"product_detail_timeout,omitempty"`

	// Randomized inter-request delay bounds (applied before every request)
	MinRequestDelay time.Duration `yaml:"min_request_delay,omitempty"`
	MaxRequestDelay time.Duration `yaml:"max_request_delay,omitempty"`

	// Retry rounds for failed pages/items
	RetryStartAttempt int           `yaml:"retry_start_attempt,omitempty"`
	RetryMaxAttempt   int           `yaml:"retry_max_attempt,omitempty"`
	RetryBackoffBase  time.Duration `yaml:"retry_backoff_base,omitempty"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max,omitempty"`

	// Low-level HTTP retry inside a single attempt (transient network blips)
	HTTPMaxRetries        int           `yaml:"http_max_retries,omitempty"`
	HTTPInitialRetryDelay time.Duration `yaml:"http_initial_retry_delay,omitempty"`
	HTTPMaxRetryDelay     time.Duration `yaml:"http_max_retry_delay,omitempty"`

	// Crawl scope
	PageRangeLimit int `yaml:"page_range_limit,omitempty"` // 0 = unlimited

	// Gap re-collection
	GapBatchSize  int           `yaml:"gap_batch_size,omitempty"` // max site pages per batch
	GapBatchDelay time.Duration `yaml:"gap_batch_delay,omitempty"`

	// Session abort policy
	CriticalFailureRatio float64 `yaml:"critical_failure_ratio,omitempty"`

	// Fetch strategy selection ("http" or "browser"); factory decision, not
	// a runtime fallback chain
	FetchStrategy string `yaml:"fetch_strategy,omitempty"`
	Headless      *bool  `yaml:"headless,omitempty"` // browser strategy only; nil = headless

	// Storage / export
	StateDir    string `yaml:"state_dir"`
	SnapshotDir string `yaml:"snapshot_dir,omitempty"` // best-effort JSON snapshots; empty disables

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Fetch strategy names accepted by the factory.
const (
	StrategyHTTP    = "http"
	StrategyBrowser = "browser"
)

// IsHeadless resolves the tri-state headless toggle (nil means headless).
func (c *AppConfig) IsHeadless() bool {
	if c.Headless == nil {
		return true
	}
	return *c.Headless
}
