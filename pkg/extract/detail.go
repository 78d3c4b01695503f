package extract

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"certcrawler/pkg/models"
)

// Detail extracts a detail record from a product page. Fields come from
// two alternative DOM shapes: the key/value table provides defaults and
// the label/value list overrides them. Base-record fields are only
// overwritten when the extracted value is non-empty and actually differs.
func Detail(doc *goquery.Document, base models.ListRecord, companyInfoQuery string) *models.DetailRecord {
	fields := collectFields(doc)
	rec := &models.DetailRecord{ListRecord: base}

	if v := parseCertID(fields.get("certificationid", "certificateid", "certid")); v != "" && v != base.CertificateID {
		rec.CertificateID = v
	}
	if v := parseModel(fields.get("model", "modelname", "productname")); v != "" && v != base.Model {
		rec.Model = v
	}

	rec.CertificationDate = parseCertDate(fields.get("certificationdate", "certifieddate", "datecertified"))
	rec.SoftwareVersion = parseVersion(fields.get("softwareversion", "swversion"))
	rec.HardwareVersion = parseVersion(fields.get("hardwareversion", "hwversion"))
	rec.FirmwareVersion = parseVersion(fields.get("firmwareversion", "fwversion"))
	rec.VendorID = parseNumericID(fields.get("vendorid", "vid"))
	rec.ProductID = parseNumericID(fields.get("productid", "pid"))
	rec.SpecVersion = parseVersion(fields.get("specificationversion", "specversion"))
	rec.ProductFamily = afterColonOrSelf(fields.get("productfamily", "family"))

	rec.DeviceType = resolveDeviceType(doc, fields)

	if m := resolveManufacturer(doc, fields, companyInfoQuery); m != "" && m != base.Manufacturer {
		rec.Manufacturer = m
	}

	rec.ApplicationCategories = resolveApplicationCategories(doc, rec.DeviceType)
	return rec
}

// fieldMap holds normalized label → raw value pairs from both DOM shapes.
type fieldMap map[string]string

// get returns the first non-empty value among alternative label spellings.
func (f fieldMap) get(labels ...string) string {
	for _, l := range labels {
		if v, ok := f[l]; ok && v != "" {
			return v
		}
	}
	return ""
}

// collectFields merges the key/value table and the label/value list into a
// single map. List values win over table values for the same label.
func collectFields(doc *goquery.Document) fieldMap {
	fields := make(fieldMap)

	doc.Find(selDetailTable).Each(func(_ int, row *goquery.Selection) {
		label := row.Find("th").First().Text()
		value := row.Find("td").Last().Text()
		if label == "" {
			cells := row.Find("td")
			if cells.Length() >= 2 {
				label = cells.First().Text()
				value = cells.Last().Text()
			}
		}
		if key := normalizeLabel(label); key != "" {
			fields[key] = cleanText(value)
		}
	})

	doc.Find(selDetailLabelList).Each(func(_ int, li *goquery.Selection) {
		text := cleanText(li.Text())
		label, value, ok := strings.Cut(text, ":")
		if !ok {
			return
		}
		if key := normalizeLabel(label); key != "" && cleanText(value) != "" {
			fields[key] = cleanText(value)
		}
	})

	return fields
}

// normalizeLabel lowercases a label and strips everything but letters and
// digits, so "Certification ID", "certification-id" and "Certification Id:"
// all collapse to the same key.
func normalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseCertID(raw string) string {
	if raw == "" {
		return ""
	}
	if m := certIDRe.FindString(raw); m != "" {
		return m
	}
	return afterColonOrSelf(raw)
}

func parseCertDate(raw string) string {
	if raw == "" {
		return time.Now().Format("2006-01-02")
	}
	if m := dateRe.FindString(raw); m != "" {
		return m
	}
	return afterColonOrSelf(raw)
}

func parseVersion(raw string) string {
	if raw == "" {
		return ""
	}
	if m := versionRe.FindString(raw); m != "" {
		return m
	}
	return afterColonOrSelf(raw)
}

func parseNumericID(raw string) string {
	if raw == "" {
		return ""
	}
	if m := hexIDRe.FindString(raw); m != "" {
		return m
	}
	if m := decimalIDRe.FindString(raw); m != "" {
		return m
	}
	return afterColonOrSelf(raw)
}

func parseModel(raw string) string {
	return afterColonOrSelf(raw)
}

// afterColon returns the trimmed text after the first colon, or "" when no
// colon is present.
func afterColon(raw string) string {
	if _, rest, ok := strings.Cut(raw, ":"); ok {
		return cleanText(rest)
	}
	return ""
}

func afterColonOrSelf(raw string) string {
	if v := afterColon(raw); v != "" {
		return v
	}
	return cleanText(raw)
}

// resolveDeviceType tries the explicit label, then the category link, then
// a vocabulary scan over the whole page text.
func resolveDeviceType(doc *goquery.Document, fields fieldMap) string {
	if v := afterColonOrSelf(fields.get("devicetype", "producttype", "type")); v != "" {
		return v
	}
	if link := cleanText(doc.Find(selCategoryLink).First().Text()); link != "" {
		return link
	}
	pageText := strings.ToLower(doc.Text())
	for _, term := range deviceTypeVocabulary {
		if strings.Contains(pageText, term) {
			return term
		}
	}
	return ""
}

// resolveManufacturer tries the explicit label, then a known-brand
// substring match against the page title, then the configured company-info
// selector, then a loose label scan.
func resolveManufacturer(doc *goquery.Document, fields fieldMap, companyInfoQuery string) string {
	if v := afterColonOrSelf(fields.get("manufacturer", "company", "vendor")); v != "" {
		return v
	}
	title := cleanText(doc.Find(selPageTitle).First().Text())
	for _, brand := range knownBrands {
		if strings.Contains(strings.ToLower(title), strings.ToLower(brand)) {
			return brand
		}
	}
	if companyInfoQuery != "" {
		if v := cleanText(doc.Find(companyInfoQuery).First().Text()); v != "" {
			return afterColonOrSelf(v)
		}
	}
	for key, value := range fields {
		if strings.Contains(key, "manufactur") || strings.Contains(key, "brand") {
			if v := afterColonOrSelf(value); v != "" {
				return v
			}
		}
	}
	return ""
}

// resolveApplicationCategories reads the list under an "Application
// Categories" heading; absent that, the resolved device type becomes the
// single category.
func resolveApplicationCategories(doc *goquery.Document, deviceType string) []string {
	var cats []string
	doc.Find("h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(h.Text()), "application categories") {
			return true
		}
		h.NextFiltered("ul, ol").Find("li").Each(func(_ int, li *goquery.Selection) {
			if v := cleanText(li.Text()); v != "" {
				cats = append(cats, v)
			}
		})
		return false
	})
	if len(cats) > 0 {
		return cats
	}
	if deviceType != "" {
		return []string{deviceType}
	}
	return nil
}
