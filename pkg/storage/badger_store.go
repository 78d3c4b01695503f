package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"certcrawler/pkg/log"
	"certcrawler/pkg/models"
	"certcrawler/pkg/utils"
)

const (
	listKeyPrefix   = "list:"   // list:<pageId>:<indexInPage>
	detailKeyPrefix = "detail:" // detail:<url>
	metaUpdatedKey  = "meta:last_updated"

	recordsDBDir = "records_db" // subdirectory within stateDir
)

// BadgerStore implements RecordStore on BadgerDB. The store is persistent
// across sessions: the crawl engine computes its next range from what is
// already here.
type BadgerStore struct {
	db        *badger.DB
	log       *logrus.Entry
	listCount atomic.Int64 // cached list-record count for O(1) reads
}

// NewBadgerStore opens (or creates) the record database under stateDir,
// namespaced by the registry's record namespace.
func NewBadgerStore(stateDir, namespace string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(namespace)+"_"+recordsDBDir)
	logger.Infof("Opening record database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger database at %s: %v", utils.ErrDatabase, dbPath, err)
	}

	store := &BadgerStore{db: db, log: logger}
	count, err := store.countListKeys()
	if err != nil {
		logger.Warnf("Failed to count existing records on open: %v", err)
	} else {
		store.listCount.Store(int64(count))
	}

	logger.WithField("stored_records", count).Info("Record database ready")
	return store, nil
}

func (s *BadgerStore) countListKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(listKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for transaction conflicts.
// Conflicts between overlapping MVCC transactions resolve in microseconds,
// so a tight loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func listKey(pageID, indexInPage int) []byte {
	return []byte(fmt.Sprintf("%s%08d:%04d", listKeyPrefix, pageID, indexInPage))
}

func detailKey(url string) []byte {
	return []byte(detailKeyPrefix + url)
}

// SaveListRecords implements RecordStore.
func (s *BadgerStore) SaveListRecords(records []models.ListRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	var added, updated int
	for _, rec := range records {
		val, err := json.Marshal(rec)
		if err != nil {
			return added, updated, fmt.Errorf("%w: encoding list record %s: %v", utils.ErrDatabase, rec.URL, err)
		}
		key := listKey(rec.PageID, rec.IndexInPage)

		isNew := false
		err = s.dbUpdate(func(txn *badger.Txn) error {
			_, errGet := txn.Get(key)
			if errors.Is(errGet, badger.ErrKeyNotFound) {
				isNew = true
			} else if errGet != nil {
				return errGet
			}
			return txn.Set(key, val)
		})
		if err != nil {
			return added, updated, fmt.Errorf("%w: saving list record %s: %v", utils.ErrDatabase, string(key), err)
		}
		if isNew {
			added++
			s.listCount.Add(1)
		} else {
			updated++
		}
	}

	if err := s.touchLastUpdated(); err != nil {
		s.log.Warnf("Failed to stamp last-updated: %v", err)
	}
	s.log.WithFields(logrus.Fields{"added": added, "updated": updated}).Info("Saved list records")
	return added, updated, nil
}

// SaveDetailRecords implements RecordStore.
func (s *BadgerStore) SaveDetailRecords(records []models.DetailRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	var added, updated int
	for _, rec := range records {
		val, err := json.Marshal(rec)
		if err != nil {
			return added, updated, fmt.Errorf("%w: encoding detail record %s: %v", utils.ErrDatabase, rec.URL, err)
		}
		key := detailKey(rec.URL)

		isNew := false
		err = s.dbUpdate(func(txn *badger.Txn) error {
			_, errGet := txn.Get(key)
			if errors.Is(errGet, badger.ErrKeyNotFound) {
				isNew = true
			} else if errGet != nil {
				return errGet
			}
			return txn.Set(key, val)
		})
		if err != nil {
			return added, updated, fmt.Errorf("%w: saving detail record %s: %v", utils.ErrDatabase, rec.URL, err)
		}
		if isNew {
			added++
		} else {
			updated++
		}
	}

	if err := s.touchLastUpdated(); err != nil {
		s.log.Warnf("Failed to stamp last-updated: %v", err)
	}
	s.log.WithFields(logrus.Fields{"added": added, "updated": updated}).Info("Saved detail records")
	return added, updated, nil
}

func (s *BadgerStore) touchLastUpdated() error {
	stamp, _ := time.Now().UTC().MarshalText()
	return s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaUpdatedKey), stamp)
	})
}

// StoredRecordCount implements RecordStore.
func (s *BadgerStore) StoredRecordCount() (int, error) {
	return int(s.listCount.Load()), nil
}

// MaxLocalPageID implements RecordStore.
func (s *BadgerStore) MaxLocalPageID() (int, error) {
	maxID := -1
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(listKeyPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the end of the list keyspace; the first valid key in
		// reverse order carries the largest pageId.
		it.Seek([]byte(listKeyPrefix + "~"))
		if !it.Valid() {
			return nil
		}
		pageID, _, err := parseListKey(it.Item().Key())
		if err != nil {
			return err
		}
		maxID = pageID
		return nil
	})
	if err != nil {
		return -1, fmt.Errorf("%w: scanning max pageId: %v", utils.ErrDatabase, err)
	}
	return maxID, nil
}

// LastUpdated implements RecordStore.
func (s *BadgerStore) LastUpdated() (time.Time, error) {
	var t time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(metaUpdatedKey))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			return t.UnmarshalText(val)
		})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: reading last-updated: %v", utils.ErrDatabase, err)
	}
	return t, nil
}

// PresentRecordCounts implements RecordStore.
func (s *BadgerStore) PresentRecordCounts() (map[int]int, error) {
	counts := make(map[int]int)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(listKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			pageID, _, err := parseListKey(it.Item().Key())
			if err != nil {
				s.log.Warnf("Skipping malformed list key: %v", err)
				continue
			}
			counts[pageID]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning page coverage: %v", utils.ErrDatabase, err)
	}
	return counts, nil
}

func parseListKey(key []byte) (pageID, indexInPage int, err error) {
	rest, ok := strings.CutPrefix(string(key), listKeyPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("not a list key: %s", key)
	}
	pagePart, idxPart, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed list key: %s", key)
	}
	if pageID, err = strconv.Atoi(pagePart); err != nil {
		return 0, 0, fmt.Errorf("malformed list key %s: %w", key, err)
	}
	if indexInPage, err = strconv.Atoi(idxPart); err != nil {
		return 0, 0, fmt.Errorf("malformed list key %s: %w", key, err)
	}
	return pageID, indexInPage, nil
}

// ListRecords implements RecordStore.
func (s *BadgerStore) ListRecords() ([]models.ListRecord, error) {
	var records []models.ListRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(listKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			errVal := it.Item().Value(func(val []byte) error {
				var rec models.ListRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					s.log.Warnf("Skipping undecodable list record at %s: %v", it.Item().Key(), err)
					return nil
				}
				records = append(records, rec)
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning list records: %v", utils.ErrDatabase, err)
	}
	return records, nil
}

// DetailRecords implements RecordStore.
func (s *BadgerStore) DetailRecords() ([]models.DetailRecord, error) {
	var records []models.DetailRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(detailKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			errVal := it.Item().Value(func(val []byte) error {
				var rec models.DetailRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					s.log.Warnf("Skipping undecodable detail record at %s: %v", it.Item().Key(), err)
					return nil
				}
				records = append(records, rec)
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning detail records: %v", utils.ErrDatabase, err)
	}
	return records, nil
}

// RunGC implements RecordStore.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started")
	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for {
				// Rewrite value-log files that are at least half reclaimable.
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debug("BadgerDB GC goroutine stopping")
			return
		}
	}
}

// Close implements RecordStore.
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	s.log.Info("Closing record database...")
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing record database: %v", err)
		return err
	}
	return nil
}
