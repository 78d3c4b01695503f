package models

import (
	"fmt"
	"time"
)

// ListRecord is one row extracted from a paginated index page. Identity is
// (PageID, IndexInPage); URL is the natural cross-reference key to a
// DetailRecord. Records are immutable once pushed into a session's result
// set: merges create new values, never mutate in place.
type ListRecord struct {
	URL           string `json:"url"`
	Manufacturer  string `json:"manufacturer,omitempty"`
	Model         string `json:"model,omitempty"`
	CertificateID string `json:"certificate_id,omitempty"`
	PageID        int    `json:"page_id"`
	IndexInPage   int    `json:"index_in_page"`
}

// Key returns the dense local identity of the record.
func (r ListRecord) Key() RecordKey {
	return RecordKey{PageID: r.PageID, IndexInPage: r.IndexInPage}
}

// RecordKey is the dense local address of a record: zero-based page id and
// index within that page, counted oldest-first.
type RecordKey struct {
	PageID      int
	IndexInPage int
}

// DetailRecord is the superset of ListRecord produced by the detail pass.
// Identity is URL.
type DetailRecord struct {
	ListRecord

	CertificationDate     string   `json:"certification_date,omitempty"`
	SoftwareVersion       string   `json:"software_version,omitempty"`
	HardwareVersion       string   `json:"hardware_version,omitempty"`
	FirmwareVersion       string   `json:"firmware_version,omitempty"`
	VendorID              string   `json:"vendor_id,omitempty"`
	ProductID             string   `json:"product_id,omitempty"`
	SpecVersion           string   `json:"spec_version,omitempty"`
	ProductFamily         string   `json:"product_family,omitempty"`
	DeviceType            string   `json:"device_type,omitempty"`
	ApplicationCategories []string `json:"application_categories,omitempty"`

	CollectedAt time.Time `json:"collected_at,omitempty"`
}

// SyntheticID builds the stable "<namespace>-<pageId>-<indexInPage>" id used
// by downstream consumers.
func (r DetailRecord) SyntheticID(namespace string) string {
	return fmt.Sprintf("%s-%d-%d", namespace, r.PageID, r.IndexInPage)
}

// CrawlRange is an inclusive site-page interval to crawl. Site pages are
// newest-first, so iteration runs from StartPage down to EndPage.
type CrawlRange struct {
	StartPage int `json:"start_page"`
	EndPage   int `json:"end_page"`
}

// PageCount returns the number of site pages covered by the range.
func (r CrawlRange) PageCount() int {
	if r.StartPage <= 0 || r.StartPage < r.EndPage {
		return 0
	}
	return r.StartPage - r.EndPage + 1
}

// IsEmpty reports whether the range covers no pages.
func (r CrawlRange) IsEmpty() bool { return r.PageCount() == 0 }

// GapRange is a contiguous site-page interval derived from a sorted, gapped
// set of missing local pageIds.
type GapRange struct {
	StartPage        int   `json:"start_page"` // larger site page number (older items)
	EndPage          int   `json:"end_page"`   // smaller site page number (newer items)
	MissingPageIDs   []int `json:"missing_page_ids"`
	EstimatedRecords int   `json:"estimated_records"`
}

// GapProvenance distinguishes how a local pageId came to be considered
// missing.
type GapProvenance string

const (
	GapCompletelyMissing GapProvenance = "completelyMissing" // no records stored for the page
	GapPartiallyMissing  GapProvenance = "partiallyMissing"  // some records stored, fewer than expected
)

// MissingPage is a single missing local pageId with its provenance.
type MissingPage struct {
	PageID     int           `json:"page_id"`
	Provenance GapProvenance `json:"provenance"`
}
