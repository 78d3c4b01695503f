// Package extract implements the DOM field mapping for the registry's two
// page shapes. Both fetch strategies hand their parsed documents here so
// extraction results are identical regardless of transport.
package extract

// Selectors for the registry's markup. Purpose-built for one site; not a
// general scraping surface.
const (
	// List (index) pages
	selListItem     = ".product-list .product-item"
	selItemLink     = "a.product-link"
	selItemMaker    = ".manufacturer"
	selItemModel    = ".model"
	selItemCertID   = ".cert-id"
	selPagination   = ".pagination"
	selTotalPages   = ".pagination .total-pages"
	selLastPageLink = ".pagination a.last"

	// Detail pages: a key/value table and a label/value list; values from
	// the list override the table when both carry the same field.
	selDetailTable     = "table.cert-info tr"
	selDetailLabelList = "ul.cert-details li"
	selCategoryLink    = "a[href*='category']"
	selPageTitle       = "h1, title"
)
