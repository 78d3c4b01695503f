package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certcrawler/pkg/models"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		want    int
		wantErr bool
	}{
		{
			name: "explicit total element",
			html: `<div class="pagination"><span class="total-pages">464</span></div>`,
			want: 464,
		},
		{
			name: "last page link",
			html: `<div class="pagination"><a class="last" href="/products?page=37">Last</a></div>`,
			want: 37,
		},
		{
			name: "page x of n text",
			html: `<div class="pagination">Page 1 of 212</div>`,
			want: 212,
		},
		{
			name:    "no pagination",
			html:    `<div class="content">nothing here</div>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TotalPages(parseDoc(t, tt.html))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

const listPageHTML = `
<div class="product-list">
  <div class="product-item">
    <a class="product-link" href="/products/alpha">Alpha</a>
    <span class="manufacturer">Acme</span>
    <span class="model">  A-100
    </span>
    <span class="cert-id">ACM100-X</span>
  </div>
  <div class="product-item">
    <a class="product-link" href="/products/beta">Beta</a>
    <span class="model">B-200</span>
  </div>
  <div class="product-item">
    <span class="model">orphan without link</span>
  </div>
</div>`

func TestListItems(t *testing.T) {
	items := ListItems(parseDoc(t, listPageHTML))
	require.Len(t, items, 2, "entry without a link is skipped")

	assert.Equal(t, "/products/alpha", items[0].URL)
	assert.Equal(t, "Acme", items[0].Manufacturer)
	assert.Equal(t, "A-100", items[0].Model, "whitespace collapsed")
	assert.Equal(t, "ACM100-X", items[0].CertificateID)

	assert.Equal(t, "/products/beta", items[1].URL)
	assert.Empty(t, items[1].Manufacturer, "optional field stays empty")
}

func TestDetail_TableDefaultsListOverrides(t *testing.T) {
	html := `
<h1>Acme A-100</h1>
<table class="cert-info">
  <tr><th>Certification ID</th><td>ACM100-X</td></tr>
  <tr><th>Software Version</th><td>v1.2.3</td></tr>
  <tr><th>Vendor ID</th><td>0x04E8</td></tr>
</table>
<ul class="cert-details">
  <li>Software Version: 2.0.1</li>
  <li>Product ID: 12345</li>
</ul>`

	base := models.ListRecord{URL: "u", PageID: 3, IndexInPage: 1}
	rec := Detail(parseDoc(t, html), base, "")

	assert.Equal(t, "ACM100-X", rec.CertificateID, "table value used as default")
	assert.Equal(t, "2.0.1", rec.SoftwareVersion, "list value overrides table")
	assert.Equal(t, "0x04E8", rec.VendorID)
	assert.Equal(t, "12345", rec.ProductID, "4-6 digit decimal id accepted")
}

func TestDetail_CertIDAfterColonFallback(t *testing.T) {
	html := `
<table class="cert-info">
  <tr><th>Certification ID</th><td>Registry entry: INTERNALREF</td></tr>
</table>`

	rec := Detail(parseDoc(t, html), models.ListRecord{URL: "u"}, "")
	assert.Equal(t, "INTERNALREF", rec.CertificateID)
}

func TestDetail_DateFallbacks(t *testing.T) {
	today := time.Now().Format("2006-01-02")

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "date pattern",
			html: `<table class="cert-info"><tr><th>Certification Date</th><td>Issued 2024-03-15 by lab</td></tr></table>`,
			want: "2024-03-15",
		},
		{
			name: "after colon",
			html: `<ul class="cert-details"><li>Certification Date: March release</li></ul>`,
			want: "March release",
		},
		{
			name: "missing falls back to today",
			html: `<div>no date anywhere</div>`,
			want: today,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Detail(parseDoc(t, tt.html), models.ListRecord{URL: "u"}, "")
			assert.Equal(t, tt.want, rec.CertificationDate)
		})
	}
}

func TestDetail_VersionPattern(t *testing.T) {
	html := `
<table class="cert-info">
  <tr><th>Firmware Version</th><td>firmware v4.17.2 (stable)</td></tr>
  <tr><th>Hardware Version</th><td>rev: C</td></tr>
  <tr><th>Specification Version</th><td>5.3</td></tr>
</table>`

	rec := Detail(parseDoc(t, html), models.ListRecord{URL: "u"}, "")
	assert.Equal(t, "v4.17.2", rec.FirmwareVersion)
	assert.Equal(t, "C", rec.HardwareVersion, "no version pattern, text after colon")
	assert.Equal(t, "5.3", rec.SpecVersion)
}

func TestDetail_DeviceTypeResolutionChain(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "explicit label wins",
			html: `<table class="cert-info"><tr><th>Device Type</th><td>Speaker</td></tr></table>
			       <a href="/category/audio">Audio Devices</a>`,
			want: "Speaker",
		},
		{
			name: "category link second",
			html: `<a href="/category/audio">Audio Devices</a><p>some headset text</p>`,
			want: "Audio Devices",
		},
		{
			name: "vocabulary scan last",
			html: `<p>This wireless headset pairs quickly.</p>`,
			want: "headset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Detail(parseDoc(t, tt.html), models.ListRecord{URL: "u"}, "")
			assert.Equal(t, tt.want, rec.DeviceType)
		})
	}
}

func TestDetail_ManufacturerResolutionChain(t *testing.T) {
	tests := []struct {
		name  string
		html  string
		query string
		want  string
	}{
		{
			name: "explicit label",
			html: `<ul class="cert-details"><li>Manufacturer: Initech</li></ul>`,
			want: "Initech",
		},
		{
			name: "known brand in title",
			html: `<h1>Sony WH-1000XM5 certification record</h1>`,
			want: "Sony",
		},
		{
			name:  "company info selector",
			html:  `<div class="company-box">Globex Corporation</div>`,
			query: ".company-box",
			want:  "Globex Corporation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Detail(parseDoc(t, tt.html), models.ListRecord{URL: "u"}, tt.query)
			assert.Equal(t, tt.want, rec.Manufacturer)
		})
	}
}

func TestDetail_ApplicationCategories(t *testing.T) {
	withHeading := `
<h3>Application Categories</h3>
<ul><li>Audio</li><li>Wearables</li></ul>`

	rec := Detail(parseDoc(t, withHeading), models.ListRecord{URL: "u"}, "")
	assert.Equal(t, []string{"Audio", "Wearables"}, rec.ApplicationCategories)

	noHeading := `<table class="cert-info"><tr><th>Device Type</th><td>Charger</td></tr></table>`
	rec = Detail(parseDoc(t, noHeading), models.ListRecord{URL: "u"}, "")
	assert.Equal(t, []string{"Charger"}, rec.ApplicationCategories, "device type becomes the single category")
}

func TestDetail_BaseFieldsDroppedWhenEqual(t *testing.T) {
	html := `
<table class="cert-info">
  <tr><th>Manufacturer</th><td>Acme</td></tr>
  <tr><th>Certification ID</th><td>ACM100-X</td></tr>
  <tr><th>Model</th><td>A-200</td></tr>
</table>`

	base := models.ListRecord{
		URL:           "u",
		Manufacturer:  "Acme",
		Model:         "A-100",
		CertificateID: "ACM100-X",
		PageID:        7,
		IndexInPage:   2,
	}
	rec := Detail(parseDoc(t, html), base, "")

	// Equal values keep the base record untouched; differing ones overwrite.
	assert.Equal(t, "Acme", rec.Manufacturer)
	assert.Equal(t, "ACM100-X", rec.CertificateID)
	assert.Equal(t, "A-200", rec.Model)
	assert.Equal(t, 7, rec.PageID)
	assert.Equal(t, "cert-7-2", rec.SyntheticID("cert"))
}
