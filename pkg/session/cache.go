package session

import "certcrawler/pkg/models"

// mergeRecords merges newRecords into existing by URL: new non-empty fields
// overwrite old ones for the same key, unknown URLs append in arrival
// order. The merge is idempotent (merging the same input twice changes
// nothing) and commutative per URL field-wise, which makes concurrent
// merges from different retry attempts safe: partial successes are
// append-merged, never replaced wholesale.
func mergeRecords(existing, newRecords []models.ListRecord) []models.ListRecord {
	merged := make([]models.ListRecord, len(existing))
	copy(merged, existing)

	byURL := make(map[string]int, len(merged))
	for i, rec := range merged {
		byURL[rec.URL] = i
	}

	for _, rec := range newRecords {
		if rec.URL == "" {
			continue // no identity, cannot be deduplicated
		}
		idx, exists := byURL[rec.URL]
		if !exists {
			byURL[rec.URL] = len(merged)
			merged = append(merged, rec)
			continue
		}
		merged[idx] = overlayRecord(merged[idx], rec)
	}
	return merged
}

// overlayRecord returns old with new's non-empty fields applied on top.
func overlayRecord(old, new models.ListRecord) models.ListRecord {
	out := old
	if new.Manufacturer != "" {
		out.Manufacturer = new.Manufacturer
	}
	if new.Model != "" {
		out.Model = new.Model
	}
	if new.CertificateID != "" {
		out.CertificateID = new.CertificateID
	}
	// Identity fields always follow the newest extraction: a later attempt
	// sees the site's current pagination state.
	out.PageID = new.PageID
	out.IndexInPage = new.IndexInPage
	return out
}
