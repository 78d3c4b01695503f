package gaps

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"certcrawler/pkg/config"
	"certcrawler/pkg/models"
	"certcrawler/pkg/pageindex"
	"certcrawler/pkg/pool"
	"certcrawler/pkg/utils"
)

// Coalesce turns a scattered set of missing local pageIds into contiguous
// site-page ranges, largest site page first (oldest items first). The
// last-page offset makes one local page straddle two adjacent site pages,
// so ids whose windows touch (difference <= 2) join the same range. Ranges
// wider than batchCap site pages are sliced into fixed-width sub-ranges,
// each keeping only its own missing ids.
func Coalesce(missingPageIDs []int, totalSitePages, batchCap, productsPerPage int) []models.GapRange {
	if len(missingPageIDs) == 0 || totalSitePages <= 0 {
		return nil
	}
	if batchCap <= 0 {
		batchCap = 5
	}

	ids := append([]int(nil), missingPageIDs...)
	sort.Ints(ids)

	var ranges []models.GapRange
	groupStart := 0
	for i := 1; i <= len(ids); i++ {
		if i < len(ids) && ids[i]-ids[i-1] <= 2 {
			continue
		}
		group := ids[groupStart:i]
		ranges = append(ranges, sliceRange(group, totalSitePages, batchCap, productsPerPage)...)
		groupStart = i
	}
	return ranges
}

// sliceRange converts one contiguous id group into its site-page range and
// splits it into batchCap-wide sub-ranges.
func sliceRange(group []int, totalSitePages, batchCap, productsPerPage int) []models.GapRange {
	older, _ := pageindex.SiteSpanForLocalPage(group[0], totalSitePages)
	_, newer := pageindex.SiteSpanForLocalPage(group[len(group)-1], totalSitePages)

	var out []models.GapRange
	for start := older; start >= newer; start -= batchCap {
		end := start - batchCap + 1
		if end < newer {
			end = newer
		}
		sub := models.GapRange{StartPage: start, EndPage: end}
		for _, id := range group {
			idOlder, idNewer := pageindex.SiteSpanForLocalPage(id, totalSitePages)
			if idNewer <= sub.StartPage && idOlder >= sub.EndPage {
				sub.MissingPageIDs = append(sub.MissingPageIDs, id)
			}
		}
		sub.EstimatedRecords = len(sub.MissingPageIDs) * productsPerPage
		out = append(out, sub)
	}
	return out
}

// RangeRunner re-collects one site-page range through the crawl engine.
type RangeRunner func(ctx context.Context, r models.GapRange) error

// RangeFailure records a range whose re-collection failed as a whole.
type RangeFailure struct {
	Range models.GapRange
	Err   error
}

// BatchProcessor drives gap ranges through the engine strictly
// sequentially with an inter-batch delay, so re-collection never adds
// sustained load on top of a regular crawl.
type BatchProcessor struct {
	cfg *config.AppConfig
	log *logrus.Entry
	run RangeRunner
}

// NewBatchProcessor creates a processor that executes ranges with run.
func NewBatchProcessor(cfg *config.AppConfig, run RangeRunner, log *logrus.Entry) *BatchProcessor {
	return &BatchProcessor{cfg: cfg, log: log, run: run}
}

// Process executes the ranges in order. A failing range is recorded and
// the rest continue; cancellation between ranges stops the run with the
// remaining ranges untouched.
func (p *BatchProcessor) Process(ctx context.Context, ranges []models.GapRange) []RangeFailure {
	var failures []RangeFailure

	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			p.log.WithField("remaining_ranges", len(ranges)-i).Warn("Gap collection stopped before completion")
			failures = append(failures, RangeFailure{Range: r, Err: fmt.Errorf("%w: %v", utils.ErrCrawlStopped, err)})
			continue
		}

		if i > 0 && p.cfg.GapBatchDelay > 0 {
			if err := pool.SleepJitter(ctx, p.cfg.GapBatchDelay, p.cfg.GapBatchDelay); err != nil {
				failures = append(failures, RangeFailure{Range: r, Err: fmt.Errorf("%w: %v", utils.ErrCrawlStopped, err)})
				continue
			}
		}

		rangeLog := p.log.WithFields(logrus.Fields{
			"start_page":  r.StartPage,
			"end_page":    r.EndPage,
			"missing_ids": len(r.MissingPageIDs),
		})
		rangeLog.Info("Re-collecting gap range")

		if err := p.run(ctx, r); err != nil {
			rangeLog.Errorf("Gap range failed: %v", err)
			failures = append(failures, RangeFailure{Range: r, Err: err})
			continue
		}
		rangeLog.Info("Gap range re-collected")
	}
	return failures
}
