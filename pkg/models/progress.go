package models

import "time"

// ProgressSnapshot is one progress event emitted on every meaningful state
// change. Consumers must tolerate out-of-order duplicate snapshots
// (delivery is at-least-once, not exactly-once).
type ProgressSnapshot struct {
	SessionID      string        `json:"session_id"`
	Stage          Stage         `json:"stage"`
	Status         string        `json:"status"`
	Current        int           `json:"current"`
	Total          int           `json:"total"`
	Percentage     float64       `json:"percentage"`
	CurrentStep    string        `json:"current_step"`
	ElapsedTime    time.Duration `json:"elapsed_time"`
	RemainingTime  time.Duration `json:"remaining_time"`
	ProcessedItems int           `json:"processed_items"`
	NewItems       int           `json:"new_items"`
	UpdatedItems   int           `json:"updated_items"`
	Message        string        `json:"message,omitempty"`
}

// PageFailure is one page's full error history for post-mortem reporting.
type PageFailure struct {
	PageNumber int      `json:"page_number"`
	Errors     []string `json:"errors"`
}

// ItemFailure is one detail URL's full error history.
type ItemFailure struct {
	URL    string   `json:"url"`
	Errors []string `json:"errors"`
}

// FailureReport is emitted once per stage after its retries exhaust.
type FailureReport struct {
	Stage Stage         `json:"stage"`
	Pages []PageFailure `json:"pages,omitempty"`
	Items []ItemFailure `json:"items,omitempty"`
}

// CrawlStatusSummary is the read-only answer to a status query. It always
// reflects the last successfully committed state.
type CrawlStatusSummary struct {
	DBLastUpdated    time.Time  `json:"db_last_updated"`
	DBProductCount   int        `json:"db_product_count"`
	SiteTotalPages   int        `json:"site_total_pages"`
	SiteProductCount int        `json:"site_product_count"`
	Diff             int        `json:"diff"`
	NeedCrawling     bool       `json:"need_crawling"`
	CrawlingRange    CrawlRange `json:"crawling_range"`
}
