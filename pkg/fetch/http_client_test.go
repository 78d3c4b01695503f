package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certcrawler/pkg/config"
	"certcrawler/pkg/models"
	"certcrawler/pkg/utils"
)

// listPageHTML renders an index page with the given item count and a
// pagination block advertising totalPages.
func listPageHTML(page, itemCount, totalPages int) string {
	var b strings.Builder
	b.WriteString(`<div class="product-list">`)
	for i := 0; i < itemCount; i++ {
		fmt.Fprintf(&b, `<div class="product-item">
			<a class="product-link" href="/products/p%d-%d">Item</a>
			<span class="manufacturer">Maker %d</span>
			<span class="model">M-%d-%d</span>
		</div>`, page, i, i, page, i)
	}
	b.WriteString(`</div>`)
	fmt.Fprintf(&b, `<div class="pagination"><span class="total-pages">%d</span></div>`, totalPages)
	return b.String()
}

// registrySite serves a fake 3-page registry: pages 1 and 2 full (3 items),
// page 3 partial (2 items).
func registrySite(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		switch page {
		case "1", "2":
			n := 3
			p := 1
			if page == "2" {
				p = 2
			}
			fmt.Fprint(w, listPageHTML(p, n, 3))
		case "3":
			fmt.Fprint(w, listPageHTML(3, 2, 3))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func strategyConfig(baseURL string) *config.AppConfig {
	return &config.AppConfig{
		Site: config.SiteConfig{
			BaseURL:         baseURL,
			ListPagePath:    "/products?page=%d",
			ProductsPerPage: 3,
		},
		HTTPMaxRetries:        1,
		HTTPInitialRetryDelay: 1e6, // 1ms
		HTTPMaxRetryDelay:     5e6,
	}
}

func TestHTTPStrategy_FetchTotalPages(t *testing.T) {
	server := registrySite(t)
	c := NewHTTPStrategy(strategyConfig(server.URL), testLogger())
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Cleanup()

	totalPages, lastPageCount, err := c.FetchTotalPages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, totalPages)
	assert.Equal(t, 2, lastPageCount, "last page is partially filled")
}

func TestHTTPStrategy_CrawlPageMapsRecords(t *testing.T) {
	server := registrySite(t)
	c := NewHTTPStrategy(strategyConfig(server.URL), testLogger())
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Cleanup()

	_, _, err := c.FetchTotalPages(context.Background())
	require.NoError(t, err)

	// Site page 2 is local page 1; last-page offset is 1 (3-2).
	records, err := c.CrawlPage(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// DOM order is newest-first; local addresses count oldest-first.
	assert.Equal(t, models.RecordKey{PageID: 1, IndexInPage: 1}, records[0].Key())
	assert.Equal(t, models.RecordKey{PageID: 1, IndexInPage: 0}, records[1].Key())
	assert.Equal(t, models.RecordKey{PageID: 0, IndexInPage: 2}, records[2].Key())

	assert.Equal(t, server.URL+"/products/p2-0", records[0].URL, "relative hrefs resolved against base")
	assert.Equal(t, "Maker 0", records[0].Manufacturer)
}

func TestHTTPStrategy_EmptyPageIsStructuralError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div class="product-list"></div><div class="pagination"><span class="total-pages">5</span></div>`)
	}))
	t.Cleanup(server.Close)

	c := NewHTTPStrategy(strategyConfig(server.URL), testLogger())
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Cleanup()

	_, _, err := c.FetchTotalPages(context.Background())
	require.NoError(t, err)

	_, err = c.CrawlPage(context.Background(), 2, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrNoRecords), "empty page must not be a quiet success")
}

func TestHTTPStrategy_CrawlDetail(t *testing.T) {
	cfg := strategyConfig("https://registry.example.com")
	c := NewHTTPStrategy(cfg, testLogger())
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Cleanup()

	httpmock.ActivateNonDefault(c.fetcher.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://registry.example.com/products/alpha",
		httpmock.NewStringResponder(http.StatusOK, `
			<h1>Acme Alpha</h1>
			<table class="cert-info">
				<tr><th>Certification ID</th><td>ACM100-X</td></tr>
				<tr><th>Certification Date</th><td>2024-05-01</td></tr>
				<tr><th>Vendor ID</th><td>0x04E8</td></tr>
			</table>`))

	base := models.ListRecord{URL: "https://registry.example.com/products/alpha", PageID: 2, IndexInPage: 1}
	rec, err := c.CrawlDetail(context.Background(), base, 1)
	require.NoError(t, err)

	assert.Equal(t, "ACM100-X", rec.CertificateID)
	assert.Equal(t, "2024-05-01", rec.CertificationDate)
	assert.Equal(t, "0x04E8", rec.VendorID)
	assert.False(t, rec.CollectedAt.IsZero())
}

func TestHTTPStrategy_CrawlDetailRejectsMissingIdentity(t *testing.T) {
	c := NewHTTPStrategy(strategyConfig("https://registry.example.com"), testLogger())
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Cleanup()

	_, err := c.CrawlDetail(context.Background(), models.ListRecord{}, 1)
	assert.True(t, errors.Is(err, utils.ErrMissingIdentity))
}

func TestNewPageFetchClient_StrategySelection(t *testing.T) {
	cfg := strategyConfig("https://registry.example.com")

	client, err := NewPageFetchClient(cfg, testLogger())
	require.NoError(t, err)
	_, ok := client.(*HTTPStrategy)
	assert.True(t, ok, "empty strategy defaults to HTTP")

	cfg.FetchStrategy = config.StrategyBrowser
	client, err = NewPageFetchClient(cfg, testLogger())
	require.NoError(t, err)
	_, refreshable := client.(ContextRefresher)
	assert.True(t, refreshable, "browser strategy supports context refresh")

	cfg.FetchStrategy = "carrier-pigeon"
	_, err = NewPageFetchClient(cfg, testLogger())
	assert.Error(t, err)
}
