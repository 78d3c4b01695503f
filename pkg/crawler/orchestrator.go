// Package crawler sequences the two-pass crawl: list collection, detail
// collection, retries, reconciliation, and persistence.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"certcrawler/pkg/config"
	"certcrawler/pkg/fetch"
	"certcrawler/pkg/gaps"
	"certcrawler/pkg/metrics"
	"certcrawler/pkg/models"
	"certcrawler/pkg/pageindex"
	"certcrawler/pkg/pool"
	"certcrawler/pkg/reconcile"
	"certcrawler/pkg/retry"
	"certcrawler/pkg/session"
	"certcrawler/pkg/storage"
	"certcrawler/pkg/utils"
)

// Orchestrator owns the session lifecycle. Exactly one session runs at a
// time; the session's cancel context is the only stop mechanism, there are
// no module-level flags.
type Orchestrator struct {
	cfg    *config.AppConfig
	log    *logrus.Entry
	client fetch.PageFetchClient
	store  storage.RecordStore
	state  *session.State
	index  *pageindex.Manager
	met    *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc // non-nil while a session is active
	done   chan struct{}

	// pagination facts from the last preparation, for status queries while
	// a session is in flight
	totalPages    int
	lastPageCount int
}

// New wires an Orchestrator. Observers receive progress and failure
// events; metrics may be nil.
func New(cfg *config.AppConfig, client fetch.PageFetchClient, store storage.RecordStore, met *metrics.Metrics, log *logrus.Entry, observers ...session.Observer) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		log:    log,
		client: client,
		store:  store,
		met:    met,
		index:  pageindex.NewManager(cfg.Site.ProductsPerPage),
		state:  session.New(cfg.Site.ProductsPerPage, cfg.CriticalFailureRatio, log.WithField("component", "session"), observers...),
	}
}

// State exposes the session state for status display.
func (o *Orchestrator) State() *session.State { return o.state }

// StartCrawling begins a new session in the background. Returns false
// without side effects when a session is already active.
func (o *Orchestrator) StartCrawling() bool {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		o.log.Warn("Start requested while a session is active")
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			o.mu.Lock()
			o.cancel = nil
			o.mu.Unlock()
			cancel()
		}()
		o.runSession(ctx)
	}()
	return true
}

// StopCrawling cancels the active session. Returns false when idle.
// Stopping is not resumable: the next session starts fresh.
func (o *Orchestrator) StopCrawling() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		o.log.Warn("Stop requested while idle")
		return false
	}
	o.log.Info("Stop requested, cancelling session")
	o.cancel()
	return true
}

// Wait blocks until the active session (if any) finishes.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// runSession drives one full crawl: prepare, list pass, persist, detail
// pass, persist, validate.
func (o *Orchestrator) runSession(ctx context.Context) {
	o.state.Reset()
	sessionLog := o.log.WithField("session_id", o.state.SessionID())
	sessionLog.Info("Session starting")

	o.state.SetStage(models.StagePreparation, "resolving site pagination")
	if err := o.client.Initialize(ctx); err != nil {
		o.failSession(sessionLog, "fetch client initialization failed", err)
		return
	}
	defer o.client.Cleanup()

	totalPages, lastPageCount, err := o.client.FetchTotalPages(ctx)
	if err != nil {
		o.failSession(sessionLog, "resolving site pagination failed", err)
		return
	}
	o.mu.Lock()
	o.totalPages, o.lastPageCount = totalPages, lastPageCount
	o.mu.Unlock()

	storedCount, err := o.store.StoredRecordCount()
	if err != nil {
		o.failSession(sessionLog, "reading store summary failed", err)
		return
	}

	crawlRange := o.index.CalculateCrawlingRange(totalPages, lastPageCount, o.cfg.PageRangeLimit, storedCount)
	if crawlRange.IsEmpty() {
		sessionLog.Info("Local store already covers the site, nothing to crawl")
		o.state.SetStage(models.StageCompleted, "store already up to date")
		return
	}
	sessionLog.WithFields(logrus.Fields{
		"start_page": crawlRange.StartPage,
		"end_page":   crawlRange.EndPage,
		"pages":      crawlRange.PageCount(),
	}).Info("Crawling range determined")

	listRecords, ok := o.runListPass(ctx, sessionLog, crawlRange, totalPages, lastPageCount)
	if !ok {
		return
	}

	added, updated, err := o.store.SaveListRecords(listRecords)
	if err != nil {
		o.failSession(sessionLog, "persisting list records failed", err)
		return
	}
	o.state.CountNew(added)
	o.state.CountUpdated(updated)
	o.met.AddRecords("new", added)
	o.met.AddRecords("updated", updated)

	detailRecords, ok := o.runDetailPass(ctx, sessionLog, listRecords)
	if !ok {
		return
	}

	dAdded, dUpdated, err := o.store.SaveDetailRecords(detailRecords)
	if err != nil {
		o.failSession(sessionLog, "persisting detail records failed", err)
		return
	}
	o.state.CountNew(dAdded)
	o.state.CountUpdated(dUpdated)
	o.met.AddRecords("new", dAdded)
	o.met.AddRecords("updated", dUpdated)

	report := reconcile.Validate(listRecords, detailRecords, sessionLog)
	if !report.Clean() {
		sessionLog.WithFields(logrus.Fields{
			"orphan_details":  len(report.OrphanDetails),
			"missing_details": len(report.MissingDetails),
			"mismatches":      len(report.Mismatches),
		}).Warn("Consistency validator flagged findings for review")
	}

	o.exportSnapshots(sessionLog, listRecords, detailRecords, report)

	o.state.SetStage(models.StageCompleted, fmt.Sprintf("%d list, %d detail records persisted", len(listRecords), len(detailRecords)))
	sessionLog.Info("Session completed")
}

// runListPass collects the index pages in the range, retries failures, and
// returns the deduplicated list records.
func (o *Orchestrator) runListPass(ctx context.Context, log *logrus.Entry, r models.CrawlRange, totalPages, lastPageCount int) ([]models.ListRecord, bool) {
	o.state.SetStage(models.StageListInit, fmt.Sprintf("site pages %d~%d", r.StartPage, r.EndPage))

	pages := make([]int, 0, r.PageCount())
	for p := r.StartPage; p >= r.EndPage; p-- {
		pages = append(pages, p)
		o.state.MarkPageWaiting(p)
	}
	o.state.SetTotal(len(pages))

	o.state.SetStage(models.StageListFetching, "")
	pool.Run(ctx, pages, o.cfg.InitialConcurrency, func(ctx context.Context, page int) error {
		return o.crawlListPage(ctx, page, 1, totalPages, lastPageCount)
	}, log.WithField("pass", "list"))

	o.state.SetStage(models.StageListProcessing, "retrying failed pages")
	remaining := retry.Rounds[int, int](ctx, o.state.FailedPageSet(),
		func(page int) (int, bool) { return page, page > 0 },
		func(ctx context.Context, page, attempt int) error {
			if err := pool.SleepBackoff(ctx, attempt, o.cfg.RetryBackoffBase, o.cfg.RetryBackoffMax); err != nil {
				return fmt.Errorf("%w: %v", utils.ErrCrawlStopped, err)
			}
			o.met.IncRetryAttempt()
			return o.crawlListPage(ctx, page, attempt, totalPages, lastPageCount)
		},
		retry.Options{
			StartAttempt: o.cfg.RetryStartAttempt,
			MaxAttempt:   o.cfg.RetryMaxAttempt,
			Concurrency:  o.cfg.RetryConcurrency,
		},
		log.WithField("pass", "list-retry"))

	o.state.BuildFailureReport(models.StageListProcessing)
	if len(remaining) > 0 {
		log.WithField("failed_pages", len(remaining)).Warn("List pass finished with unrecovered pages")
	}

	if err := ctx.Err(); err != nil {
		o.failSession(log, "session stopped during list pass", err)
		return nil, false
	}
	if o.state.HasCriticalFailures() {
		o.failSession(log, "critical failure ratio exceeded in list pass", utils.ErrCriticalFailure)
		return nil, false
	}

	records := reconcile.DedupListRecords(o.state.AllListRecords())
	log.WithField("records", len(records)).Info("List pass complete")
	return records, true
}

// crawlListPage fetches one site index page, merges its records into the
// session cache, and settles the page's status.
func (o *Orchestrator) crawlListPage(ctx context.Context, page, attempt, totalPages, lastPageCount int) error {
	o.state.MarkPageAttempting(page, attempt)

	opCtx, cancel := context.WithTimeout(ctx, o.cfg.PageTimeout)
	defer cancel()

	start := time.Now()
	records, err := o.client.CrawlPage(opCtx, page, attempt)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			o.state.MarkPageStopped(page)
			o.met.ObservePage("list", "stopped", elapsed)
			return fmt.Errorf("%w: page %d", utils.ErrCrawlStopped, page)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// The per-operation timeout is a transient failure, not a stop.
			err = fmt.Errorf("page %d timed out after %s", page, o.cfg.PageTimeout)
		}
		o.state.MarkPageFailed(page, attempt, err)
		o.met.ObservePage("list", "error", elapsed)
		o.met.IncFailure(utils.CategorizeError(err))
		return err
	}

	merged := o.state.UpdatePageProductsCache(page, records)

	isLastPage := page == totalPages
	if !o.state.ValidatePageCompleteness(page, isLastPage, lastPageCount) {
		o.state.MarkPageIncomplete(page)
		incompleteErr := fmt.Errorf("%w: page %d holds %d records", utils.ErrPageIncomplete, page, len(merged))
		o.state.NotePageFailure(page, attempt, incompleteErr)
		o.met.ObservePage("list", "incomplete", elapsed)
		return incompleteErr
	}

	o.state.MarkPageSuccess(page)
	o.state.Advance(fmt.Sprintf("page %d", page))
	o.met.ObservePage("list", "success", elapsed)
	return nil
}

// runDetailPass collects every product page, retries failures, and returns
// the deduplicated detail records.
func (o *Orchestrator) runDetailPass(ctx context.Context, log *logrus.Entry, listRecords []models.ListRecord) ([]models.DetailRecord, bool) {
	o.state.SetStage(models.StageDetailInit, fmt.Sprintf("%d products", len(listRecords)))

	// A pass through the browser leaves the context heavy with cookies and
	// accumulated state; strategies that can refresh do so here.
	if refresher, ok := o.client.(fetch.ContextRefresher); ok {
		if err := refresher.RefreshContext(ctx); err != nil {
			o.failSession(log, "refreshing fetch context failed", err)
			return nil, false
		}
	}

	byURL := make(map[string]models.ListRecord, len(listRecords))
	for _, rec := range listRecords {
		byURL[rec.URL] = rec
	}
	o.state.SetTotal(len(listRecords))

	o.state.SetStage(models.StageDetailFetching, "")
	pool.Run(ctx, listRecords, o.cfg.DetailConcurrency, func(ctx context.Context, rec models.ListRecord) error {
		return o.crawlDetail(ctx, rec, 1)
	}, log.WithField("pass", "detail"))

	o.state.SetStage(models.StageDetailProcessing, "retrying failed products")
	remaining := retry.Rounds[string, models.ListRecord](ctx, o.state.FailedItemSet(),
		func(url string) (models.ListRecord, bool) {
			rec, ok := byURL[url]
			return rec, ok && url != ""
		},
		func(ctx context.Context, rec models.ListRecord, attempt int) error {
			if err := pool.SleepBackoff(ctx, attempt, o.cfg.RetryBackoffBase, o.cfg.RetryBackoffMax); err != nil {
				return fmt.Errorf("%w: %v", utils.ErrCrawlStopped, err)
			}
			o.met.IncRetryAttempt()
			return o.crawlDetail(ctx, rec, attempt)
		},
		retry.Options{
			StartAttempt: o.cfg.RetryStartAttempt,
			MaxAttempt:   o.cfg.RetryMaxAttempt,
			Concurrency:  o.cfg.RetryConcurrency,
		},
		log.WithField("pass", "detail-retry"))

	o.state.BuildFailureReport(models.StageDetailProcessing)
	if len(remaining) > 0 {
		log.WithField("failed_items", len(remaining)).Warn("Detail pass finished with unrecovered products")
	}

	if err := ctx.Err(); err != nil {
		o.failSession(log, "session stopped during detail pass", err)
		return nil, false
	}
	if o.state.HasCriticalFailures() {
		o.failSession(log, "critical failure ratio exceeded in detail pass", utils.ErrCriticalFailure)
		return nil, false
	}

	details := reconcile.DedupDetailRecords(o.state.Details())
	log.WithField("records", len(details)).Info("Detail pass complete")
	return details, true
}

// crawlDetail fetches one product page and stores the result in the
// session cache.
func (o *Orchestrator) crawlDetail(ctx context.Context, rec models.ListRecord, attempt int) error {
	opCtx, cancel := context.WithTimeout(ctx, o.cfg.ProductDetailTimeout)
	defer cancel()

	start := time.Now()
	detail, err := o.client.CrawlDetail(opCtx, rec, attempt)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			o.met.ObservePage("detail", "stopped", elapsed)
			return fmt.Errorf("%w: %s", utils.ErrCrawlStopped, rec.URL)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("product %s timed out after %s", rec.URL, o.cfg.ProductDetailTimeout)
		}
		o.state.RecordItemFailure(rec.URL, attempt, err)
		o.met.ObservePage("detail", "error", elapsed)
		o.met.IncFailure(utils.CategorizeError(err))
		return err
	}

	o.state.PutDetail(*detail)
	o.state.Advance(rec.URL)
	o.met.ObservePage("detail", "success", elapsed)
	return nil
}

// failSession logs the cause and leaves the state machine in the terminal
// failed stage with the full error history inspectable.
func (o *Orchestrator) failSession(log *logrus.Entry, msg string, err error) {
	if utils.IsStopped(err) {
		log.Warnf("%s: %v", msg, err)
	} else {
		log.Errorf("%s: %v", msg, err)
	}
	o.met.IncFailure(utils.CategorizeError(err))
	o.state.SetStage(models.StageFailed, fmt.Sprintf("%s: %v", msg, err))
}

// exportSnapshots writes the final record sets and validator report as
// JSON. Best-effort: failures are logged, never fatal.
func (o *Orchestrator) exportSnapshots(log *logrus.Entry, lists []models.ListRecord, details []models.DetailRecord, report reconcile.Report) {
	if o.cfg.SnapshotDir == "" {
		return
	}
	if _, err := storage.WriteSnapshot(o.cfg.SnapshotDir, "list_records", lists, log); err != nil {
		log.Warnf("List snapshot export failed: %v", err)
	}
	if _, err := storage.WriteSnapshot(o.cfg.SnapshotDir, "detail_records", details, log); err != nil {
		log.Warnf("Detail snapshot export failed: %v", err)
	}
	if !report.Clean() {
		if _, err := storage.WriteSnapshot(o.cfg.SnapshotDir, "validator_report", report, log); err != nil {
			log.Warnf("Validator report export failed: %v", err)
		}
	}
}

// CheckCrawlingStatus answers the read-only status query. Safe to call
// anytime; while a session is active it reuses that session's pagination
// facts instead of hitting the site again.
func (o *Orchestrator) CheckCrawlingStatus(ctx context.Context) (models.CrawlStatusSummary, error) {
	var summary models.CrawlStatusSummary

	count, err := o.store.StoredRecordCount()
	if err != nil {
		return summary, err
	}
	lastUpdated, err := o.store.LastUpdated()
	if err != nil {
		return summary, err
	}

	o.mu.Lock()
	active := o.cancel != nil
	totalPages, lastPageCount := o.totalPages, o.lastPageCount
	o.mu.Unlock()

	if !active || totalPages == 0 {
		if err := o.client.Initialize(ctx); err != nil {
			return summary, err
		}
		if !active {
			defer o.client.Cleanup()
		}
		totalPages, lastPageCount, err = o.client.FetchTotalPages(ctx)
		if err != nil {
			return summary, err
		}
	}

	siteProductCount := o.index.TotalSiteRecords(totalPages, lastPageCount)
	crawlRange := o.index.CalculateCrawlingRange(totalPages, lastPageCount, o.cfg.PageRangeLimit, count)

	summary = models.CrawlStatusSummary{
		DBLastUpdated:    lastUpdated,
		DBProductCount:   count,
		SiteTotalPages:   totalPages,
		SiteProductCount: siteProductCount,
		Diff:             siteProductCount - count,
		NeedCrawling:     !crawlRange.IsEmpty(),
		CrawlingRange:    crawlRange,
	}
	return summary, nil
}

// RunGapCollection detects missing local pages and re-collects them as
// sequential site-page ranges through the same engine. Returns an error
// when a session is already active or detection cannot run; individual
// range failures are recorded, not fatal.
func (o *Orchestrator) RunGapCollection(ctx context.Context) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return utils.ErrSessionActive
	}
	gapCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel()
		close(done)
	}()

	o.state.Reset()
	gapLog := o.log.WithField("component", "gaps")

	if err := o.client.Initialize(gapCtx); err != nil {
		return err
	}
	defer o.client.Cleanup()

	totalPages, lastPageCount, err := o.client.FetchTotalPages(gapCtx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.totalPages, o.lastPageCount = totalPages, lastPageCount
	o.mu.Unlock()

	present, err := o.store.PresentRecordCounts()
	if err != nil {
		return err
	}

	detector := gaps.NewDetector(o.index, gapLog)
	missing := detector.DetectMissing(totalPages, lastPageCount, present)
	if len(missing) == 0 {
		gapLog.Info("No gaps detected")
		return nil
	}

	ranges := gaps.Coalesce(gaps.PageIDs(missing), totalPages, o.cfg.GapBatchSize, o.index.ProductsPerPage())
	gapLog.WithFields(logrus.Fields{"missing_pages": len(missing), "ranges": len(ranges)}).Info("Gap ranges derived")

	processor := gaps.NewBatchProcessor(o.cfg, o.collectGapRange(totalPages, lastPageCount, gapLog), gapLog)
	failures := processor.Process(gapCtx, ranges)
	for _, f := range failures {
		gapLog.WithFields(logrus.Fields{
			"start_page": f.Range.StartPage,
			"end_page":   f.Range.EndPage,
		}).Errorf("Gap range failed: %v", f.Err)
	}

	if err := gapCtx.Err(); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrCrawlStopped, err)
	}
	if len(failures) == len(ranges) {
		return fmt.Errorf("%w: all %d gap ranges failed", utils.ErrRetryFailed, len(ranges))
	}
	return nil
}

// collectGapRange builds the runner that re-collects one site-page range:
// list pages first, then details for the recovered records, everything at
// gap concurrency (1) to bound cumulative load.
func (o *Orchestrator) collectGapRange(totalPages, lastPageCount int, log *logrus.Entry) gaps.RangeRunner {
	return func(ctx context.Context, r models.GapRange) error {
		pages := make([]int, 0, r.StartPage-r.EndPage+1)
		for p := r.StartPage; p >= r.EndPage; p-- {
			pages = append(pages, p)
			o.state.MarkPageWaiting(p)
		}

		pool.Run(ctx, pages, 1, func(ctx context.Context, page int) error {
			return o.crawlListPage(ctx, page, 1, totalPages, lastPageCount)
		}, log)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrCrawlStopped, err)
		}

		var recovered []models.ListRecord
		for _, p := range pages {
			recovered = append(recovered, o.state.PageProducts(p)...)
		}
		records := reconcile.DedupListRecords(recovered)
		if len(records) == 0 {
			return fmt.Errorf("%w: range %d~%d yielded no records", utils.ErrNoRecords, r.StartPage, r.EndPage)
		}

		if _, _, err := o.store.SaveListRecords(records); err != nil {
			return err
		}

		pool.Run(ctx, records, 1, func(ctx context.Context, rec models.ListRecord) error {
			return o.crawlDetail(ctx, rec, 1)
		}, log)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrCrawlStopped, err)
		}

		details := reconcile.DedupDetailRecords(o.state.Details())
		if _, _, err := o.store.SaveDetailRecords(details); err != nil {
			return err
		}

		o.met.IncGapRange()
		return nil
	}
}
