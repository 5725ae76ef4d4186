// Package mirror holds the relational shadow copy of on-chain wager
// state: wagers, the append-only audit event log, notifications, and
// uploaded proof records. The chain is the source of truth; this mirror is
// a best-effort cache kept current by the reconciliation engine.
package mirror

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("mirror: not found")
	ErrInvalidTransition = errors.New("mirror: invalid status transition")
	ErrInvalidConfig     = errors.New("mirror: invalid config")
)

// Status is the mirrored wager lifecycle state. Transitions are monotonic:
// Pending -> Countered | Cancelled, Countered -> Resolved. Resolved and
// Cancelled are terminal.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCountered Status = "Countered"
	StatusResolved  Status = "Resolved"
	StatusCancelled Status = "Cancelled"
)

// Outcome is the mirrored resolution outcome.
type Outcome string

const (
	OutcomeCreatorWon Outcome = "CreatorWon"
	OutcomeCounterWon Outcome = "CounterWon"
	OutcomeDraw       Outcome = "Draw"
)

// TransitionFrom returns the only status a wager may hold immediately
// before moving to the given status. Statuses that cannot be entered by a
// transition (Pending) report ok=false.
func TransitionFrom(to Status) (Status, bool) {
	switch to {
	case StatusCountered:
		return StatusPending, true
	case StatusCancelled:
		return StatusPending, true
	case StatusResolved:
		return StatusCountered, true
	default:
		return "", false
	}
}

// Wager is the mirrored copy of an on-chain wager. ID matches the
// on-chain numeric identifier, stored as text. Stake is kept in rounded
// display units.
type Wager struct {
	ID          string
	CreatorID   string
	CounterID   string // empty until countered
	Stake       int64
	Description string
	Status      Status
	Outcome     Outcome // empty until resolved
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Event is one append-only audit log row. ID is derived from the
// transaction hash and log index, so a replayed log collides instead of
// duplicating.
type Event struct {
	ID        string
	WagerID   string
	Type      string
	CreatedAt time.Time
}

// Notification is a persisted message for one recipient. The row is the
// durable record; the realtime push is best effort.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Message   string
	WagerID   string
	Read      bool
	CreatedAt time.Time
}

// Proof is an uploaded evidence record for a wager. Immutable once
// created.
type Proof struct {
	ID         string
	WagerID    string
	UploaderID string
	Text       string
	ImageURL   string
	CreatedAt  time.Time
}

// WagerUpdate carries the optional column changes applied together with a
// status transition.
type WagerUpdate struct {
	CounterID *string
	Outcome   *Outcome
}
