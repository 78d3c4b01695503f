package models

import "time"

// PageState represents the crawl status of a single site page within a
// session. Transitions are monotonic within an attempt cycle; Attempt
// increases across retry rounds.
type PageState string

const (
	PageStateWaiting    PageState = "waiting"    // created, not yet dispatched
	PageStateAttempting PageState = "attempting" // in flight
	PageStateSuccess    PageState = "success"    // full expected record count extracted
	PageStateFailed     PageState = "failed"     // attempt errored
	PageStateIncomplete PageState = "incomplete" // partial extraction kept, still a retry candidate
	PageStateStopped    PageState = "stopped"    // never started because the session was cancelled
)

// String implements fmt.Stringer for logging
func (s PageState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsTerminal reports whether the state marks the page as settled for the
// current round.
func (s PageState) IsTerminal() bool {
	switch s {
	case PageStateSuccess, PageStateFailed, PageStateIncomplete, PageStateStopped:
		return true
	}
	return false
}

// PageStatus tracks one site page across attempts. One entry exists per page
// number; entries are never deleted, only reset on an explicit re-run.
type PageStatus struct {
	PageNumber int       `json:"page_number"`
	Status     PageState `json:"status"`
	Attempt    int       `json:"attempt"`
	StartTime  time.Time `json:"start_time,omitempty"`
	EndTime    time.Time `json:"end_time,omitempty"`
}

// Stage is one phase of the two-pass pipeline. The orchestrator drives
// transitions one-directionally; only an explicit session reset returns to
// the initial stage.
type Stage string

const (
	StagePreparation      Stage = "preparation"
	StageListInit         Stage = "productList:init"
	StageListFetching     Stage = "productList:fetching"
	StageListProcessing   Stage = "productList:processing"
	StageDetailInit       Stage = "productDetail:init"
	StageDetailFetching   Stage = "productDetail:fetching"
	StageDetailProcessing Stage = "productDetail:processing"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
)

// String implements fmt.Stringer for logging
func (s Stage) String() string { return string(s) }

// IsTerminal reports whether the stage ends the session.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Pass returns the coarse pass a stage belongs to ("list", "detail" or "").
func (s Stage) Pass() string {
	switch s {
	case StageListInit, StageListFetching, StageListProcessing:
		return "list"
	case StageDetailInit, StageDetailFetching, StageDetailProcessing:
		return "detail"
	}
	return ""
}
