// ABOUTME: ConnectionRecord: one physical connection with its lifecycle state.
// ABOUTME: State transitions happen only under the owning pool's mutex.

package pool

import (
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-toolpool/internal/transport"
)

// recordState is the lifecycle state of one pooled connection.
type recordState int

const (
	// stateIdle: parked in the pool, claimable by one acquirer.
	stateIdle recordState = iota
	// stateInUse: checked out to exactly one caller.
	stateInUse
	// stateClosing: broken or evicted; never returned to the idle set.
	stateClosing
)

func (s recordState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateInUse:
		return "in-use"
	case stateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// record tracks one physical connection. The handle is owned exclusively by
// this record; all other fields are guarded by the pool's mutex so that a
// claim (idle -> in-use) is atomic with respect to concurrent acquires and
// the reaper.
type record struct {
	id            string
	handle        transport.Handle
	state         recordState
	createdAt     time.Time
	lastUsedAt    time.Time
	checkFailures int
}

func newRecord(handle transport.Handle, now time.Time, state recordState) *record {
	return &record{
		id:         uuid.NewString(),
		handle:     handle,
		state:      state,
		createdAt:  now,
		lastUsedAt: now,
	}
}
