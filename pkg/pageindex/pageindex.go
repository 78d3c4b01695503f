// Package pageindex maps the site's reverse-chronological pagination onto
// the dense local record space. All functions are pure arithmetic, no I/O.
package pageindex

import (
	"certcrawler/pkg/models"
)

// Manager performs the page/offset arithmetic for a fixed products-per-page
// count.
type Manager struct {
	productsPerPage int
}

// NewManager returns a Manager for the given per-page record count.
func NewManager(productsPerPage int) *Manager {
	if productsPerPage <= 0 {
		productsPerPage = 12
	}
	return &Manager{productsPerPage: productsPerPage}
}

// ProductsPerPage returns the configured per-page record count.
func (m *Manager) ProductsPerPage() int { return m.productsPerPage }

// ToLocalPageNumber converts a site page number to the local page number.
// The site lists newest-first, so the oldest site page maps to local index 0.
func ToLocalPageNumber(sitePage, totalSitePages int) int {
	return totalSitePages - sitePage
}

// Offset accounts for a partially filled final site page so subsequent
// pages' indices are not miscounted. A full last page yields offset 0.
func (m *Manager) Offset(lastPageProductCount int) int {
	if lastPageProductCount <= 0 || lastPageProductCount >= m.productsPerPage {
		return 0
	}
	return m.productsPerPage - lastPageProductCount
}

// MapToLocal computes the dense (pageId, indexInPage) address for a record
// at siteIndexInPage on the given local page number, with the last-page
// offset applied. A negative absolute position falls back to
// siteIndexInPage; this clamp mirrors the behavior observed on edge pages
// and is covered explicitly by tests rather than re-derived.
func (m *Manager) MapToLocal(sitePageNumber, siteIndexInPage, offset int) (pageID, indexInPage int) {
	absolutePosition := m.productsPerPage*sitePageNumber + siteIndexInPage - offset
	if absolutePosition < 0 {
		absolutePosition = siteIndexInPage
	}
	return absolutePosition / m.productsPerPage, absolutePosition % m.productsPerPage
}

// TotalSiteRecords returns the number of records the site claims to hold.
func (m *Manager) TotalSiteRecords(totalSitePages, lastPageProductCount int) int {
	if totalSitePages <= 0 {
		return 0
	}
	return totalSitePages*m.productsPerPage - m.Offset(lastPageProductCount)
}

// CalculateCrawlingRange decides which site pages to crawl. If the local
// store is empty the crawl starts at the site's last (oldest) page and
// proceeds backward toward page 1 for userLimit pages (or to page 1 if
// unlimited). If not empty, it starts where local coverage ends and
// proceeds for the remaining delta or userLimit, whichever is smaller,
// always floored at page 1.
func (m *Manager) CalculateCrawlingRange(totalSitePages, lastPageProductCount, userLimit, localRecordCount int) models.CrawlRange {
	if totalSitePages <= 0 {
		return models.CrawlRange{}
	}

	startPage := totalSitePages
	if localRecordCount > 0 {
		totalRecords := m.TotalSiteRecords(totalSitePages, lastPageProductCount)
		remaining := totalRecords - localRecordCount
		if remaining <= 0 {
			return models.CrawlRange{} // local store already covers the site
		}
		// Site pages 1..remainingPages are the not-yet-covered newest pages.
		startPage = (remaining + m.productsPerPage - 1) / m.productsPerPage
	}

	endPage := 1
	if userLimit > 0 && startPage-userLimit+1 > endPage {
		endPage = startPage - userLimit + 1
	}
	return models.CrawlRange{StartPage: startPage, EndPage: endPage}
}

// SiteSpanForLocalPage returns the inclusive site-page window a missing
// local pageId can straddle. The last-page offset shifts local pages by a
// fraction of a site page, so one local page maps onto two adjacent site
// pages; both are re-collected to guarantee the missing records are seen.
func SiteSpanForLocalPage(localPageID, totalSitePages int) (older, newer int) {
	newer = totalSitePages - localPageID
	older = newer + 1
	if newer < 1 {
		newer = 1
	}
	if older > totalSitePages {
		older = totalSitePages
	}
	if older < newer {
		older = newer
	}
	return older, newer
}
