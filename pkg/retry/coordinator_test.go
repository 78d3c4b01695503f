package retry

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// memSet is a minimal FailedSet backed by a map, mirroring how the session
// tracks failed page numbers.
type memSet struct {
	mu  sync.Mutex
	ids map[int]bool
}

func newMemSet(ids ...int) *memSet {
	s := &memSet{ids: make(map[int]bool)}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

func (s *memSet) Snapshot() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (s *memSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[int]bool)
}

func (s *memSet) add(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = true
}

func identity(id int) (int, bool) { return id, true }

func TestRounds_AlwaysFailingTerminates(t *testing.T) {
	set := newMemSet(1, 2, 3)
	var mu sync.Mutex
	attemptsSeen := []int{}

	remaining := Rounds(context.Background(), set, identity,
		func(ctx context.Context, item, attempt int) error {
			mu.Lock()
			attemptsSeen = append(attemptsSeen, attempt)
			mu.Unlock()
			set.add(item) // repopulate with the new attempt's failure
			return errors.New("permanent failure")
		},
		Options{StartAttempt: 1, MaxAttempt: 5, Concurrency: 2},
		testLogger(),
	)

	// Exactly 5 rounds of 3 items, never an infinite loop.
	assert.Len(t, attemptsSeen, 15)
	sort.Ints(attemptsSeen)
	assert.Equal(t, 1, attemptsSeen[0])
	assert.Equal(t, 5, attemptsSeen[len(attemptsSeen)-1])
	assert.Equal(t, []int{1, 2, 3}, remaining)
}

func TestRounds_EarlyStopOnSuccess(t *testing.T) {
	set := newMemSet(10, 20)
	rounds := 0
	var mu sync.Mutex

	remaining := Rounds(context.Background(), set, identity,
		func(ctx context.Context, item, attempt int) error {
			mu.Lock()
			rounds = attempt
			mu.Unlock()
			if attempt >= 3 {
				return nil // succeeds on the third attempt
			}
			set.add(item)
			return errors.New("transient")
		},
		Options{StartAttempt: 2, MaxAttempt: 9, Concurrency: 1},
		testLogger(),
	)

	assert.Empty(t, remaining)
	assert.Equal(t, 3, rounds, "no rounds run after the failed set empties")
}

func TestRounds_FiltersUnresolvableIDs(t *testing.T) {
	set := newMemSet(1, 2, 3)
	ran := newMemSet()

	remaining := Rounds(context.Background(), set,
		func(id int) (int, bool) { return id, id != 2 }, // id 2 has no identity
		func(ctx context.Context, item, attempt int) error {
			ran.add(item)
			return nil
		},
		Options{StartAttempt: 1, MaxAttempt: 3, Concurrency: 2},
		testLogger(),
	)

	assert.Empty(t, remaining)
	assert.Equal(t, []int{1, 3}, ran.Snapshot())
}

func TestRounds_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set := newMemSet(1, 2)
	remaining := Rounds(ctx, set, identity,
		func(ctx context.Context, item, attempt int) error {
			t.Fatal("worker must not run after cancellation")
			return nil
		},
		Options{StartAttempt: 1, MaxAttempt: 5, Concurrency: 2},
		testLogger(),
	)

	require.Equal(t, []int{1, 2}, remaining, "failed ids survive an aborted run")
}

func TestRounds_NoFailures(t *testing.T) {
	set := newMemSet()
	calls := 0
	remaining := Rounds(context.Background(), set, identity,
		func(ctx context.Context, item, attempt int) error {
			calls++
			return nil
		},
		Options{StartAttempt: 1, MaxAttempt: 5, Concurrency: 2},
		testLogger(),
	)
	assert.Empty(t, remaining)
	assert.Zero(t, calls)
}
