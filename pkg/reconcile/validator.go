package reconcile

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"certcrawler/pkg/models"
)

// Mismatch is one field-level disagreement between a list record and its
// detail record.
type Mismatch struct {
	URL    string `json:"url"`
	Field  string `json:"field"`
	List   string `json:"list_value"`
	Detail string `json:"detail_value"`
}

// Report is the outcome of cross-referencing the two record sets by URL.
// Diagnostic only: findings are surfaced for operator review and never
// block persistence.
type Report struct {
	OrphanDetails  []string   `json:"orphan_details"`  // detail with no list entry
	MissingDetails []string   `json:"missing_details"` // list with no detail entry
	Mismatches     []Mismatch `json:"mismatches"`
}

// Clean reports whether the validator found nothing to flag.
func (r Report) Clean() bool {
	return len(r.OrphanDetails) == 0 && len(r.MissingDetails) == 0 && len(r.Mismatches) == 0
}

// Validate cross-references list vs detail sets by URL. A field mismatch
// is flagged only when both sides carry a non-empty value that differs.
func Validate(lists []models.ListRecord, details []models.DetailRecord, log *logrus.Entry) Report {
	listByURL := make(map[string]models.ListRecord, len(lists))
	for _, l := range lists {
		listByURL[l.URL] = l
	}
	detailByURL := make(map[string]models.DetailRecord, len(details))
	for _, d := range details {
		detailByURL[d.URL] = d
	}

	var report Report

	for url, d := range detailByURL {
		l, ok := listByURL[url]
		if !ok {
			report.OrphanDetails = append(report.OrphanDetails, url)
			continue
		}
		report.Mismatches = append(report.Mismatches, compareRecords(l, d)...)
	}
	for url := range listByURL {
		if _, ok := detailByURL[url]; !ok {
			report.MissingDetails = append(report.MissingDetails, url)
		}
	}

	sort.Strings(report.OrphanDetails)
	sort.Strings(report.MissingDetails)
	sort.Slice(report.Mismatches, func(i, j int) bool {
		if report.Mismatches[i].URL != report.Mismatches[j].URL {
			return report.Mismatches[i].URL < report.Mismatches[j].URL
		}
		return report.Mismatches[i].Field < report.Mismatches[j].Field
	})

	log.WithFields(logrus.Fields{
		"orphan_details":  len(report.OrphanDetails),
		"missing_details": len(report.MissingDetails),
		"mismatches":      len(report.Mismatches),
	}).Info("Consistency validation complete")
	return report
}

func compareRecords(l models.ListRecord, d models.DetailRecord) []Mismatch {
	var out []Mismatch
	check := func(field, listVal, detailVal string) {
		if listVal != "" && detailVal != "" && listVal != detailVal {
			out = append(out, Mismatch{URL: l.URL, Field: field, List: listVal, Detail: detailVal})
		}
	}
	check("model", l.Model, d.Model)
	check("manufacturer", l.Manufacturer, d.Manufacturer)
	check("certificateId", l.CertificateID, d.CertificateID)
	check("pageId", fmt.Sprint(l.PageID), fmt.Sprint(d.PageID))
	check("indexInPage", fmt.Sprint(l.IndexInPage), fmt.Sprint(d.IndexInPage))
	return out
}
