package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"certcrawler/pkg/utils"
)

// ListItem is one raw entry from an index page, in DOM order (newest
// first). Address mapping into the local record space happens in the
// fetch layer, not here.
type ListItem struct {
	URL           string
	Manufacturer  string
	Model         string
	CertificateID string
}

var pageOfRe = regexp.MustCompile(`(?i)(?:page\s+\d+\s+of|/)\s*(\d+)`)

// TotalPages reads the pagination extent from an index page. It tries the
// explicit total-pages element first, then the last-page link's page
// parameter, then a "Page X of N" pattern in the pagination text.
func TotalPages(doc *goquery.Document) (int, error) {
	if txt := strings.TrimSpace(doc.Find(selTotalPages).First().Text()); txt != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(txt, "/"))); err == nil && n > 0 {
			return n, nil
		}
		if m := pageOfRe.FindStringSubmatch(txt); m != nil {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return n, nil
			}
		}
	}

	if href, ok := doc.Find(selLastPageLink).First().Attr("href"); ok {
		if n := pageNumberFromHref(href); n > 0 {
			return n, nil
		}
	}

	if txt := strings.TrimSpace(doc.Find(selPagination).First().Text()); txt != "" {
		if m := pageOfRe.FindStringSubmatch(txt); m != nil {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return n, nil
			}
		}
	}

	return 0, fmt.Errorf("%w: pagination extent not found", utils.ErrParsing)
}

var pageParamRe = regexp.MustCompile(`(?i)[?&](?:page|p)=(\d+)`)

func pageNumberFromHref(href string) int {
	if m := pageParamRe.FindStringSubmatch(href); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// ListItems extracts the product entries from an index page in DOM order.
// Entries without a link are skipped; empty optional fields stay empty.
func ListItems(doc *goquery.Document) []ListItem {
	var items []ListItem
	doc.Find(selListItem).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Find(selItemLink).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		items = append(items, ListItem{
			URL:           strings.TrimSpace(href),
			Manufacturer:  cleanText(s.Find(selItemMaker).First().Text()),
			Model:         cleanText(s.Find(selItemModel).First().Text()),
			CertificateID: cleanText(s.Find(selItemCertID).First().Text()),
		})
	})
	return items
}

var spaceRe = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
