// Package session owns the mutable state of a single crawl run: the stage
// state machine, per-page and per-item status tracking, the page products
// cache, and aggregate progress.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"certcrawler/pkg/models"
)

// Observer receives progress and failure events from the session. The
// orchestrator invokes observers synchronously from its own control flow;
// delivery is at-least-once and consumers must tolerate duplicates.
type Observer interface {
	OnProgress(models.ProgressSnapshot)
	OnFailureReport(models.FailureReport)
}

// State is the session state machine. Exactly one live State exists per
// orchestrator run; Reset prepares it for the next run. All mutation goes
// through its methods; concurrent workers never touch a page's cache entry
// except through the merge function.
type State struct {
	mu  sync.RWMutex
	log *logrus.Entry

	sessionID    string
	stage        models.Stage
	stageMessage string
	startTime    time.Time

	// Aggregate progress for the current stage
	current, total                         int
	processedItems, newItems, updatedItems int

	pages        map[int]*models.PageStatus
	pageProducts map[int][]models.ListRecord
	details      map[string]models.DetailRecord

	ledger *failureLedger

	productsPerPage int
	criticalRatio   float64

	observers []Observer
}

// New creates a State in the preparation stage with a fresh session id.
func New(productsPerPage int, criticalRatio float64, log *logrus.Entry, observers ...Observer) *State {
	if criticalRatio <= 0 {
		criticalRatio = 0.30
	}
	s := &State{
		log:             log,
		productsPerPage: productsPerPage,
		criticalRatio:   criticalRatio,
		observers:       observers,
	}
	s.resetLocked()
	return s
}

// Reset clears all maps and counters and returns the stage to preparation.
// Called at the start of a new run; a stopped session is never resumed.
func (s *State) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

func (s *State) resetLocked() {
	s.sessionID = uuid.NewString()
	s.stage = models.StagePreparation
	s.stageMessage = ""
	s.startTime = time.Now()
	s.current, s.total = 0, 0
	s.processedItems, s.newItems, s.updatedItems = 0, 0, 0
	s.pages = make(map[int]*models.PageStatus)
	s.pageProducts = make(map[int][]models.ListRecord)
	s.details = make(map[string]models.DetailRecord)
	s.ledger = newFailureLedger()
}

// SessionID returns the id of the current run.
func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Stage returns the current pipeline stage.
func (s *State) Stage() models.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// SetStage advances the state machine and emits a progress snapshot.
// Transitions are one-directional; only Reset returns to preparation.
func (s *State) SetStage(stage models.Stage, message string) {
	s.mu.Lock()
	s.stage = stage
	s.stageMessage = message
	snapshot := s.snapshotLocked(string(stage), message)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"stage": stage, "message": message}).Info("Stage transition")
	s.notifyProgress(snapshot)
}

// SetTotal sets the denominator for the current stage's progress and zeroes
// the numerator.
func (s *State) SetTotal(total int) {
	s.mu.Lock()
	s.total = total
	s.current = 0
	s.mu.Unlock()
}

// Advance increments the progress numerator and emits a snapshot.
func (s *State) Advance(step string) {
	s.mu.Lock()
	s.current++
	s.processedItems++
	snapshot := s.snapshotLocked("progress", step)
	s.mu.Unlock()
	s.notifyProgress(snapshot)
}

// CountNew increments the new-items counter (record not previously stored).
func (s *State) CountNew(n int) {
	s.mu.Lock()
	s.newItems += n
	s.mu.Unlock()
}

// CountUpdated increments the updated-items counter.
func (s *State) CountUpdated(n int) {
	s.mu.Lock()
	s.updatedItems += n
	s.mu.Unlock()
}

// snapshotLocked builds a ProgressSnapshot; caller holds s.mu.
func (s *State) snapshotLocked(status, step string) models.ProgressSnapshot {
	elapsed := time.Since(s.startTime)
	var remaining time.Duration
	var pct float64
	if s.total > 0 && s.current > 0 {
		pct = float64(s.current) / float64(s.total) * 100
		// Linear extrapolation; the UI-side estimator refines this.
		remaining = time.Duration(float64(elapsed) / float64(s.current) * float64(s.total-s.current))
	}
	return models.ProgressSnapshot{
		SessionID:      s.sessionID,
		Stage:          s.stage,
		Status:         status,
		Current:        s.current,
		Total:          s.total,
		Percentage:     pct,
		CurrentStep:    step,
		ElapsedTime:    elapsed,
		RemainingTime:  remaining,
		ProcessedItems: s.processedItems,
		NewItems:       s.newItems,
		UpdatedItems:   s.updatedItems,
		Message:        s.stageMessage,
	}
}

func (s *State) notifyProgress(snapshot models.ProgressSnapshot) {
	for _, o := range s.observers {
		o.OnProgress(snapshot)
	}
}

// --- Per-page status tracking ---

// MarkPageWaiting creates (or resets to waiting) the status entry for a page.
func (s *State) MarkPageWaiting(pageNumber int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[pageNumber] = &models.PageStatus{PageNumber: pageNumber, Status: models.PageStateWaiting}
}

// MarkPageAttempting transitions a page to attempting under the given
// attempt number.
func (s *State) MarkPageAttempting(pageNumber, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.pageLocked(pageNumber)
	st.Status = models.PageStateAttempting
	st.Attempt = attempt
	st.StartTime = time.Now()
}

// MarkPageSuccess settles a page as fully collected.
func (s *State) MarkPageSuccess(pageNumber int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.pageLocked(pageNumber)
	st.Status = models.PageStateSuccess
	st.EndTime = time.Now()
}

// MarkPageIncomplete settles a page whose partial extraction was kept but
// still counts as a retry candidate.
func (s *State) MarkPageIncomplete(pageNumber int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.pageLocked(pageNumber)
	st.Status = models.PageStateIncomplete
	st.EndTime = time.Now()
}

// MarkPageStopped settles a page that never started because the session was
// cancelled.
func (s *State) MarkPageStopped(pageNumber int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.pageLocked(pageNumber)
	st.Status = models.PageStateStopped
	st.EndTime = time.Now()
}

// MarkPageFailed settles a page attempt as failed and appends the
// attempt-prefixed error to the ledger.
func (s *State) MarkPageFailed(pageNumber, attempt int, err error) {
	s.mu.Lock()
	st := s.pageLocked(pageNumber)
	st.Status = models.PageStateFailed
	st.Attempt = attempt
	st.EndTime = time.Now()
	s.mu.Unlock()

	s.ledger.recordPageFailure(pageNumber, attempt, err)
}

// pageLocked returns (creating if needed) the status entry; caller holds mu.
func (s *State) pageLocked(pageNumber int) *models.PageStatus {
	st, ok := s.pages[pageNumber]
	if !ok {
		st = &models.PageStatus{PageNumber: pageNumber, Status: models.PageStateWaiting}
		s.pages[pageNumber] = st
	}
	return st
}

// PageStatus returns a copy of a page's status entry.
func (s *State) PageStatus(pageNumber int) (models.PageStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.pages[pageNumber]
	if !ok {
		return models.PageStatus{}, false
	}
	return *st, true
}

// NotePageFailure appends a page failure to the ledger without changing
// the page's status. Used for incomplete pages whose partial extraction
// is kept while the page still retries.
func (s *State) NotePageFailure(pageNumber, attempt int, err error) {
	s.ledger.recordPageFailure(pageNumber, attempt, err)
}

// RecordItemFailure appends a detail URL failure to the ledger.
func (s *State) RecordItemFailure(url string, attempt int, err error) {
	s.ledger.recordItemFailure(url, attempt, err)
}

// --- Page products cache ---

// UpdatePageProductsCache append-merges newRecords into the page's cache by
// URL (new data overwriting old fields for the same key) and returns the
// merged list. Partial successes from different attempts are preserved.
// Idempotent under repeated identical input.
func (s *State) UpdatePageProductsCache(pageNumber int, newRecords []models.ListRecord) []models.ListRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := mergeRecords(s.pageProducts[pageNumber], newRecords)
	s.pageProducts[pageNumber] = merged

	out := make([]models.ListRecord, len(merged))
	copy(out, merged)
	return out
}

// PageProducts returns a copy of the cached records for a page.
func (s *State) PageProducts(pageNumber int) []models.ListRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ListRecord(nil), s.pageProducts[pageNumber]...)
}

// AllListRecords flattens the page products cache into a single slice.
func (s *State) AllListRecords() []models.ListRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []models.ListRecord
	for _, recs := range s.pageProducts {
		all = append(all, recs...)
	}
	return all
}

// ValidatePageCompleteness reports whether a page's cached record count
// matches the expected per-page count (or the known last-page count). Used
// to distinguish true failures from partial successes worth keeping.
func (s *State) ValidatePageCompleteness(pageNumber int, isLastPage bool, lastPageExpectedCount int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expected := s.productsPerPage
	if isLastPage && lastPageExpectedCount > 0 {
		expected = lastPageExpectedCount
	}
	return len(s.pageProducts[pageNumber]) >= expected
}

// --- Detail record cache ---

// PutDetail stores a collected detail record, keyed by URL.
func (s *State) PutDetail(rec models.DetailRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[rec.URL] = rec
}

// Details returns a copy of all collected detail records.
func (s *State) Details() []models.DetailRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DetailRecord, 0, len(s.details))
	for _, rec := range s.details {
		out = append(out, rec)
	}
	return out
}

// --- Failure accounting ---

// HasCriticalFailures reports whether the failed-page-or-item ratio over
// the stage total exceeds the critical threshold. Crossing it halts the
// whole session rather than silently producing an incomplete dataset.
func (s *State) HasCriticalFailures() bool {
	s.mu.RLock()
	total := s.total
	s.mu.RUnlock()
	if total <= 0 {
		return false
	}
	failed := s.ledger.failedPageCount() + s.ledger.failedItemCount()
	return float64(failed)/float64(total) > s.criticalRatio
}

// FailedPageSet exposes the failed-page set for the retry coordinator.
func (s *State) FailedPageSet() PageFailedSet { return PageFailedSet{ledger: s.ledger} }

// FailedItemSet exposes the failed-item set for the retry coordinator.
func (s *State) FailedItemSet() ItemFailedSet { return ItemFailedSet{ledger: s.ledger} }

// PageErrorHistory returns the full error history recorded for a page.
func (s *State) PageErrorHistory(pageNumber int) []string {
	return s.ledger.pageErrorHistory(pageNumber)
}

// BuildFailureReport assembles the per-stage failure report from the ledger
// and hands it to the observers.
func (s *State) BuildFailureReport(stage models.Stage) models.FailureReport {
	s.ledger.mu.Lock()
	report := models.FailureReport{Stage: stage}
	for page, errs := range s.ledger.pageErrors {
		report.Pages = append(report.Pages, models.PageFailure{
			PageNumber: page,
			Errors:     append([]string(nil), errs...),
		})
	}
	for url, errs := range s.ledger.itemErrors {
		report.Items = append(report.Items, models.ItemFailure{
			URL:    url,
			Errors: append([]string(nil), errs...),
		})
	}
	s.ledger.mu.Unlock()

	sortFailureReport(&report)
	for _, o := range s.observers {
		o.OnFailureReport(report)
	}
	return report
}

func sortFailureReport(report *models.FailureReport) {
	sort.Slice(report.Pages, func(i, j int) bool {
		return report.Pages[i].PageNumber < report.Pages[j].PageNumber
	})
	sort.Slice(report.Items, func(i, j int) bool {
		return report.Items[i].URL < report.Items[j].URL
	})
}
