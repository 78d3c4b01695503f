package session

import (
	"fmt"
	"sort"
	"sync"
)

// failureLedger keeps the append-only error histories backing post-mortem
// reporting: failed page numbers and failed item URLs, each mapped to the
// ordered list of error strings (one per attempt). An entry exists iff the
// id is currently or was ever in the failed set; entries are never purged,
// only appended to.
type failureLedger struct {
	mu          sync.Mutex
	failedPages map[int]bool
	failedItems map[string]bool
	pageErrors  map[int][]string
	itemErrors  map[string][]string
}

func newFailureLedger() *failureLedger {
	return &failureLedger{
		failedPages: make(map[int]bool),
		failedItems: make(map[string]bool),
		pageErrors:  make(map[int][]string),
		itemErrors:  make(map[string][]string),
	}
}

// recordPageFailure marks the page failed and appends its attempt-prefixed
// error string.
func (l *failureLedger) recordPageFailure(pageNumber, attempt int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failedPages[pageNumber] = true
	l.pageErrors[pageNumber] = append(l.pageErrors[pageNumber], fmt.Sprintf("attempt %d: %v", attempt, err))
}

// recordItemFailure marks the detail URL failed and appends its
// attempt-prefixed error string.
func (l *failureLedger) recordItemFailure(url string, attempt int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failedItems[url] = true
	l.itemErrors[url] = append(l.itemErrors[url], fmt.Sprintf("attempt %d: %v", attempt, err))
}

func (l *failureLedger) failedPageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failedPages)
}

func (l *failureLedger) failedItemCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failedItems)
}

func (l *failureLedger) snapshotFailedPages() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	pages := make([]int, 0, len(l.failedPages))
	for p := range l.failedPages {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

func (l *failureLedger) clearFailedPages() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failedPages = make(map[int]bool)
}

func (l *failureLedger) snapshotFailedItems() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]string, 0, len(l.failedItems))
	for u := range l.failedItems {
		items = append(items, u)
	}
	sort.Strings(items)
	return items
}

func (l *failureLedger) clearFailedItems() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failedItems = make(map[string]bool)
}

// pageErrorHistory returns a copy of the full error history for a page.
func (l *failureLedger) pageErrorHistory(pageNumber int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.pageErrors[pageNumber]...)
}

// PageFailedSet adapts the ledger's failed-page set to the retry
// coordinator's FailedSet contract.
type PageFailedSet struct{ ledger *failureLedger }

// Snapshot returns the currently failed page numbers, ascending.
func (s PageFailedSet) Snapshot() []int { return s.ledger.snapshotFailedPages() }

// Clear empties the failed-page set; the error ledger is untouched.
func (s PageFailedSet) Clear() { s.ledger.clearFailedPages() }

// ItemFailedSet adapts the ledger's failed-item set to the retry
// coordinator's FailedSet contract.
type ItemFailedSet struct{ ledger *failureLedger }

// Snapshot returns the currently failed detail URLs, sorted.
func (s ItemFailedSet) Snapshot() []string { return s.ledger.snapshotFailedItems() }

// Clear empties the failed-item set; the error ledger is untouched.
func (s ItemFailedSet) Clear() { s.ledger.clearFailedItems() }
