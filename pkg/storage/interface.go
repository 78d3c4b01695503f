// Package storage is the persistence boundary. The engine hands
// deduplicated record sets to a RecordStore and reads back the two facts
// range computation depends on: stored record count and page coverage.
package storage

import (
	"context"
	"time"

	"certcrawler/pkg/models"
)

// RecordStore persists collected records between sessions.
type RecordStore interface {
	// StoredRecordCount returns the number of list records currently held.
	StoredRecordCount() (int, error)

	// MaxLocalPageID returns the largest local pageId with at least one
	// stored record, or -1 when the store is empty.
	MaxLocalPageID() (int, error)

	// LastUpdated returns the time of the last successful save, zero when
	// nothing has been saved yet.
	LastUpdated() (time.Time, error)

	// SaveListRecords upserts list records by (pageId, indexInPage) and
	// reports how many were new vs overwritten.
	SaveListRecords(records []models.ListRecord) (added, updated int, err error)

	// SaveDetailRecords upserts detail records by URL.
	SaveDetailRecords(records []models.DetailRecord) (added, updated int, err error)

	// ListRecords returns all stored list records.
	ListRecords() ([]models.ListRecord, error)

	// DetailRecords returns all stored detail records.
	DetailRecords() ([]models.DetailRecord, error)

	// PresentRecordCounts maps each local pageId to its stored list-record
	// count. Feeds gap detection.
	PresentRecordCounts() (map[int]int, error)

	// RunGC runs periodic value-log garbage collection until ctx is done.
	// Run it in a goroutine.
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the store.
	Close() error
}
