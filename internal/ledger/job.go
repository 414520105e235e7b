// Package ledger is the durable, single-table record of every job the
// mediator tracks from the moment a descriptor is observed in the blackhole
// until it reaches a terminal state. All state transitions flow through it;
// in-memory queues elsewhere in the process are strict caches of its views.
package ledger

import "time"

// State is a job's lifecycle position. Values are stored verbatim in the
// `data` table and are read directly by the dashboard, so they must not be
// renamed without a migration.
type State string

const (
	StateFound      State = "found"
	StateUploaded   State = "uploaded"
	StateInCloud    State = "in premiumize cloud"
	StateDownloaded State = "downloaded"
	StateCleaned    State = "downloaded and online cleaned up"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// TimeLayout is the UTC timestamp format stored in the ledger.
const TimeLayout = "2006-01-02 15:04:05"

// Job is one row of the `data` table.
type Job struct {
	ID               int64
	State            State
	CreatedAt        time.Time
	DoneAt           *time.Time
	CategoryPath     string
	NZBName          string
	FullPath         string
	DLID             *string
	DLFolderID       *string
	DLRetryCount     int
	CldDLTimeoutTime *time.Time
	CldDLMoveRetryC  int
	StateRetryCount  int
	Message          *string
}
