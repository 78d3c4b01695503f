// Package gaps finds holes in the local record space and re-collects them
// as bounded site-page ranges.
package gaps

import (
	"github.com/sirupsen/logrus"

	"certcrawler/pkg/models"
	"certcrawler/pkg/pageindex"
)

// Detector compares the expected local id space against what the store
// actually holds.
type Detector struct {
	index *pageindex.Manager
	log   *logrus.Entry
}

// NewDetector creates a Detector for the given index arithmetic.
func NewDetector(index *pageindex.Manager, log *logrus.Entry) *Detector {
	return &Detector{index: index, log: log}
}

// DetectMissing walks every expected local pageId and reports the ones the
// store is missing, with provenance: completelyMissing when no records
// exist for the page, partiallyMissing when fewer than expected exist.
// presentCounts maps local pageId to the stored record count for that page.
func (d *Detector) DetectMissing(totalSitePages, lastPageProductCount int, presentCounts map[int]int) []models.MissingPage {
	totalRecords := d.index.TotalSiteRecords(totalSitePages, lastPageProductCount)
	if totalRecords <= 0 {
		return nil
	}

	ppp := d.index.ProductsPerPage()
	lastPageID := (totalRecords - 1) / ppp

	var missing []models.MissingPage
	for pageID := 0; pageID <= lastPageID; pageID++ {
		expected := ppp
		if pageID == lastPageID {
			if rem := totalRecords % ppp; rem != 0 {
				expected = rem
			}
		}

		count := presentCounts[pageID]
		switch {
		case count == 0:
			missing = append(missing, models.MissingPage{PageID: pageID, Provenance: models.GapCompletelyMissing})
		case count < expected:
			missing = append(missing, models.MissingPage{PageID: pageID, Provenance: models.GapPartiallyMissing})
		}
	}

	d.log.WithFields(logrus.Fields{
		"expected_pages": lastPageID + 1,
		"missing_pages":  len(missing),
	}).Info("Gap detection complete")
	return missing
}

// PageIDs extracts just the ids from a missing-page set, in input order.
func PageIDs(missing []models.MissingPage) []int {
	ids := make([]int, len(missing))
	for i, m := range missing {
		ids[i] = m.PageID
	}
	return ids
}
