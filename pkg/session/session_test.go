package session

import (
	"errors"
	"io"
	"sync"
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

type captureObserver struct {
	mu        sync.Mutex
	snapshots []models.ProgressSnapshot
	reports   []models.FailureReport
}

func (c *captureObserver) OnProgress(s models.ProgressSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, s)
}

func (c *captureObserver) OnFailureReport(r models.FailureReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func TestMergeRecords_Idempotent(t *testing.T) {
	a := []models.ListRecord{
		{URL: "https://example.com/p/1", Manufacturer: "Acme", PageID: 10, IndexInPage: 0},
		{URL: "https://example.com/p/2", Model: "X200", PageID: 10, IndexInPage: 1},
	}
	b := []models.ListRecord{
		{URL: "https://example.com/p/2", Manufacturer: "Beta", Model: "X200", PageID: 11, IndexInPage: 3},
		{URL: "https://example.com/p/3", CertificateID: "CERT-3", PageID: 11, IndexInPage: 4},
	}

	once := mergeRecords(a, b)
	twice := mergeRecords(once, b)

	assert.Equal(t, once, twice, "merging the same batch again must not change the result")
	assert.Len(t, once, 3)
}

func TestMergeRecords_NewFieldsOverlayOld(t *testing.T) {
	existing := []models.ListRecord{
		{URL: "https://example.com/p/1", Manufacturer: "Acme", Model: "Old", CertificateID: "CERT-1", PageID: 5, IndexInPage: 2},
	}
	incoming := []models.ListRecord{
		{URL: "https://example.com/p/1", Model: "New", PageID: 6, IndexInPage: 0},
	}

	merged := mergeRecords(existing, incoming)
	require.Len(t, merged, 1)

	rec := merged[0]
	assert.Equal(t, "Acme", rec.Manufacturer, "empty incoming field keeps the old value")
	assert.Equal(t, "New", rec.Model, "non-empty incoming field overwrites")
	assert.Equal(t, "CERT-1", rec.CertificateID)
	assert.Equal(t, 6, rec.PageID, "position always follows the newest observation")
	assert.Equal(t, 0, rec.IndexInPage)
}

func TestUpdatePageProductsCache_PreservesPartialResults(t *testing.T) {
	s := New(12, 0.30, testLogger())

	first := s.UpdatePageProductsCache(42, []models.ListRecord{
		{URL: "https://example.com/p/1", PageID: 42, IndexInPage: 0},
	})
	assert.Len(t, first, 1)

	second := s.UpdatePageProductsCache(42, []models.ListRecord{
		{URL: "https://example.com/p/1", Manufacturer: "Acme", PageID: 42, IndexInPage: 0},
		{URL: "https://example.com/p/2", PageID: 42, IndexInPage: 1},
	})
	require.Len(t, second, 2)
	assert.Equal(t, "Acme", second[0].Manufacturer)

	// Returned slice is a copy; mutating it must not leak into the cache.
	second[0].Manufacturer = "mutated"
	assert.Equal(t, "Acme", s.PageProducts(42)[0].Manufacturer)
}

func TestValidatePageCompleteness(t *testing.T) {
	s := New(3, 0.30, testLogger())
	s.UpdatePageProductsCache(1, []models.ListRecord{
		{URL: "u1", PageID: 1, IndexInPage: 0},
		{URL: "u2", PageID: 1, IndexInPage: 1},
	})

	assert.False(t, s.ValidatePageCompleteness(1, false, 0), "2 of 3 expected records")

	s.UpdatePageProductsCache(1, []models.ListRecord{{URL: "u3", PageID: 1, IndexInPage: 2}})
	assert.True(t, s.ValidatePageCompleteness(1, false, 0))

	// Last page expects its own (smaller) count.
	s.UpdatePageProductsCache(2, []models.ListRecord{{URL: "u4", PageID: 2, IndexInPage: 0}})
	assert.False(t, s.ValidatePageCompleteness(2, false, 0))
	assert.True(t, s.ValidatePageCompleteness(2, true, 1))
}

func TestHasCriticalFailures_Threshold(t *testing.T) {
	tests := []struct {
		name     string
		failed   int
		total    int
		critical bool
	}{
		{"well under threshold", 5, 100, false},
		{"just under threshold", 29, 100, false},
		{"exactly at threshold", 30, 100, false},
		{"just over threshold", 31, 100, true},
		{"zero total never critical", 10, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(12, 0.30, testLogger())
			s.SetTotal(tt.total)
			for i := 0; i < tt.failed; i++ {
				s.MarkPageFailed(i+1, 1, errors.New("boom"))
			}
			assert.Equal(t, tt.critical, s.HasCriticalFailures())
		})
	}
}

func TestHasCriticalFailures_CountsPagesAndItems(t *testing.T) {
	s := New(12, 0.30, testLogger())
	s.SetTotal(10)
	s.MarkPageFailed(1, 1, errors.New("page error"))
	s.RecordItemFailure("https://example.com/p/9", 1, errors.New("item error"))
	s.RecordItemFailure("https://example.com/p/10", 1, errors.New("item error"))
	s.RecordItemFailure("https://example.com/p/11", 1, errors.New("item error"))

	// 1 page + 3 items = 4/10 > 0.30
	assert.True(t, s.HasCriticalFailures())
}

func TestSetStage_EmitsProgress(t *testing.T) {
	obs := &captureObserver{}
	s := New(12, 0.30, testLogger(), obs)

	s.SetStage(models.StageListInit, "starting list pass")
	s.SetStage(models.StageListFetching, "")

	require.Len(t, obs.snapshots, 2)
	assert.Equal(t, models.StageListInit, obs.snapshots[0].Stage)
	assert.Equal(t, "starting list pass", obs.snapshots[0].Message)
	assert.Equal(t, models.StageListFetching, obs.snapshots[1].Stage)
	assert.Equal(t, s.SessionID(), obs.snapshots[0].SessionID)
}

func TestAdvance_ProgressPercentage(t *testing.T) {
	obs := &captureObserver{}
	s := New(12, 0.30, testLogger(), obs)
	s.SetTotal(4)

	s.Advance("page 1")
	s.Advance("page 2")

	require.Len(t, obs.snapshots, 2)
	assert.InDelta(t, 25.0, obs.snapshots[0].Percentage, 0.001)
	assert.InDelta(t, 50.0, obs.snapshots[1].Percentage, 0.001)
	assert.Equal(t, 2, obs.snapshots[1].ProcessedItems)
}

func TestPageStatusTransitions(t *testing.T) {
	s := New(12, 0.30, testLogger())

	s.MarkPageWaiting(7)
	st, ok := s.PageStatus(7)
	require.True(t, ok)
	assert.Equal(t, models.PageStateWaiting, st.Status)

	s.MarkPageAttempting(7, 2)
	st, _ = s.PageStatus(7)
	assert.Equal(t, models.PageStateAttempting, st.Status)
	assert.Equal(t, 2, st.Attempt)
	assert.False(t, st.StartTime.IsZero())

	s.MarkPageSuccess(7)
	st, _ = s.PageStatus(7)
	assert.Equal(t, models.PageStateSuccess, st.Status)
	assert.True(t, st.Status.IsTerminal())
	assert.False(t, st.EndTime.IsZero())
}

func TestFailureLedger_AppendOnlyHistory(t *testing.T) {
	s := New(12, 0.30, testLogger())

	s.MarkPageFailed(3, 1, errors.New("timeout"))
	s.MarkPageFailed(3, 2, errors.New("connection reset"))

	history := s.PageErrorHistory(3)
	require.Len(t, history, 2)
	assert.Equal(t, "attempt 1: timeout", history[0])
	assert.Equal(t, "attempt 2: connection reset", history[1])

	// Clearing the retry set keeps the history intact.
	s.FailedPageSet().Clear()
	assert.Len(t, s.PageErrorHistory(3), 2)
	assert.Empty(t, s.FailedPageSet().Snapshot())
}

func TestFailedSets_SnapshotAndClear(t *testing.T) {
	s := New(12, 0.30, testLogger())
	s.MarkPageFailed(5, 1, errors.New("e"))
	s.MarkPageFailed(2, 1, errors.New("e"))
	s.RecordItemFailure("https://example.com/b", 1, errors.New("e"))
	s.RecordItemFailure("https://example.com/a", 1, errors.New("e"))

	assert.Equal(t, []int{2, 5}, s.FailedPageSet().Snapshot())
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, s.FailedItemSet().Snapshot())

	s.FailedItemSet().Clear()
	assert.Empty(t, s.FailedItemSet().Snapshot())
	assert.Equal(t, []int{2, 5}, s.FailedPageSet().Snapshot(), "page set unaffected by item clear")
}

func TestBuildFailureReport(t *testing.T) {
	obs := &captureObserver{}
	s := New(12, 0.30, testLogger(), obs)

	s.MarkPageFailed(9, 1, errors.New("server error"))
	s.MarkPageFailed(4, 1, errors.New("parse error"))
	s.RecordItemFailure("https://example.com/p/77", 2, errors.New("timeout"))

	report := s.BuildFailureReport(models.StageListProcessing)

	assert.Equal(t, models.StageListProcessing, report.Stage)
	require.Len(t, report.Pages, 2)
	assert.Equal(t, 4, report.Pages[0].PageNumber)
	assert.Equal(t, 9, report.Pages[1].PageNumber)
	require.Len(t, report.Items, 1)
	assert.Equal(t, []string{"attempt 2: timeout"}, report.Items[0].Errors)
	require.Len(t, obs.reports, 1)
}

func TestReset_ClearsEverything(t *testing.T) {
	s := New(12, 0.30, testLogger())
	oldID := s.SessionID()

	s.SetStage(models.StageDetailFetching, "")
	s.SetTotal(10)
	s.Advance("x")
	s.MarkPageFailed(1, 1, errors.New("e"))
	s.UpdatePageProductsCache(1, []models.ListRecord{{URL: "u", PageID: 1}})
	s.PutDetail(models.DetailRecord{ListRecord: models.ListRecord{URL: "u"}})

	s.Reset()

	assert.NotEqual(t, oldID, s.SessionID())
	assert.Equal(t, models.StagePreparation, s.Stage())
	assert.Empty(t, s.FailedPageSet().Snapshot())
	assert.Empty(t, s.PageProducts(1))
	assert.Empty(t, s.Details())
	assert.False(t, s.HasCriticalFailures())
}
