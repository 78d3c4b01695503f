package reconcile

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certcrawler/pkg/models"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func lr(url string, pageID, idx int) models.ListRecord {
	return models.ListRecord{URL: url, PageID: pageID, IndexInPage: idx}
}

func dr(url string, pageID, idx int) models.DetailRecord {
	return models.DetailRecord{ListRecord: lr(url, pageID, idx)}
}

func TestDedupListRecords_KeyAndOrder(t *testing.T) {
	records := []models.ListRecord{
		lr("a", 1, 0),
		lr("b", 0, 1),
		lr("c", 2, 1),
		lr("d", 2, 0),
		{URL: "a-newer", PageID: 1, IndexInPage: 0, Model: "updated"},
	}

	out := DedupListRecords(records)
	require.Len(t, out, 4, "duplicate (1,0) collapsed")

	// pageId descending, indexInPage ascending
	assert.Equal(t, models.RecordKey{PageID: 2, IndexInPage: 0}, out[0].Key())
	assert.Equal(t, models.RecordKey{PageID: 2, IndexInPage: 1}, out[1].Key())
	assert.Equal(t, models.RecordKey{PageID: 1, IndexInPage: 0}, out[2].Key())
	assert.Equal(t, models.RecordKey{PageID: 0, IndexInPage: 1}, out[3].Key())

	assert.Equal(t, "a-newer", out[2].URL, "later-inserted duplicate wins")
}

func TestDedupDetailRecords_KeyAndOrder(t *testing.T) {
	records := []models.DetailRecord{
		dr("u3", 2, 0),
		dr("u1", 0, 1),
		dr("u2", 0, 0),
		dr("u1", 0, 1), // duplicate URL
	}
	records[3].Manufacturer = "later"

	out := DedupDetailRecords(records)
	require.Len(t, out, 3)

	// pageId ascending, indexInPage ascending
	assert.Equal(t, "u2", out[0].URL)
	assert.Equal(t, "u1", out[1].URL)
	assert.Equal(t, "u3", out[2].URL)
	assert.Equal(t, "later", out[1].Manufacturer, "later-inserted duplicate wins")
}

func TestDedup_Deterministic(t *testing.T) {
	records := []models.ListRecord{
		lr("a", 3, 1), lr("b", 1, 0), lr("a2", 3, 1), lr("c", 0, 2), lr("b", 1, 0),
	}
	first := DedupListRecords(records)
	second := DedupListRecords(first)
	assert.Equal(t, first, second, "dedup of deduped output is identity")
}

func TestValidate_CrossReferences(t *testing.T) {
	lists := []models.ListRecord{
		{URL: "u1", Model: "M1", Manufacturer: "Acme", PageID: 0, IndexInPage: 0},
		{URL: "u2", Model: "M2", PageID: 0, IndexInPage: 1},
		{URL: "u3", PageID: 1, IndexInPage: 0},
	}
	details := []models.DetailRecord{
		{ListRecord: models.ListRecord{URL: "u1", Model: "M1-rev2", Manufacturer: "Acme", PageID: 0, IndexInPage: 0}},
		{ListRecord: models.ListRecord{URL: "u2", Model: "M2", PageID: 0, IndexInPage: 1}},
		{ListRecord: models.ListRecord{URL: "u9", PageID: 9, IndexInPage: 0}},
	}

	report := Validate(lists, details, testLogger())

	assert.Equal(t, []string{"u9"}, report.OrphanDetails)
	assert.Equal(t, []string{"u3"}, report.MissingDetails)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, Mismatch{URL: "u1", Field: "model", List: "M1", Detail: "M1-rev2"}, report.Mismatches[0])
	assert.False(t, report.Clean())
}

func TestValidate_EmptySideNotAMismatch(t *testing.T) {
	lists := []models.ListRecord{{URL: "u1", PageID: 0, IndexInPage: 0}} // no model
	details := []models.DetailRecord{
		{ListRecord: models.ListRecord{URL: "u1", Model: "filled by detail pass", PageID: 0, IndexInPage: 0}},
	}

	report := Validate(lists, details, testLogger())
	assert.True(t, report.Clean(), "one-sided values are enrichment, not conflict")
}
