// Package reconcile performs the post-pass cleanup: canonical
// deduplication/ordering and cross-stage consistency checks.
package reconcile

import (
	"sort"

	"certcrawler/pkg/models"
)

// DedupListRecords collapses duplicates by (pageId, indexInPage), later
// entries winning, and returns the canonical list ordering: pageId
// descending, indexInPage ascending. List output is newest-page-first to
// match the site's own ordering.
func DedupListRecords(records []models.ListRecord) []models.ListRecord {
	byKey := make(map[models.RecordKey]models.ListRecord, len(records))
	for _, r := range records {
		byKey[r.Key()] = r
	}

	out := make([]models.ListRecord, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageID != out[j].PageID {
			return out[i].PageID > out[j].PageID
		}
		return out[i].IndexInPage < out[j].IndexInPage
	})
	return out
}

// DedupDetailRecords collapses duplicates by URL, later entries winning,
// and returns pageId ascending, indexInPage ascending. Detail output is
// oldest-first for stable downstream pagination.
func DedupDetailRecords(records []models.DetailRecord) []models.DetailRecord {
	byURL := make(map[string]models.DetailRecord, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		if _, seen := byURL[r.URL]; !seen {
			order = append(order, r.URL)
		}
		byURL[r.URL] = r
	}

	out := make([]models.DetailRecord, 0, len(byURL))
	for _, url := range order {
		out = append(out, byURL[url])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageID != out[j].PageID {
			return out[i].PageID < out[j].PageID
		}
		return out[i].IndexInPage < out[j].IndexInPage
	})
	return out
}
