package mirror

import "context"

// Store is the persistence contract for the wager mirror. The Postgres
// implementation lives in mirror/postgres; MemoryStore backs tests.
type Store interface {
	// InsertWager creates the mirror row for a newly created wager.
	// Inserting an id that already exists reports created=false and
	// leaves the existing row untouched.
	InsertWager(ctx context.Context, w Wager) (created bool, err error)

	// GetWager returns the mirrored wager or ErrNotFound.
	GetWager(ctx context.Context, id string) (Wager, error)

	// TransitionWager applies a compare-and-set status change: the row
	// must currently hold the one status the transition table allows
	// before `to` (see TransitionFrom). A row in any other status yields
	// ErrInvalidTransition; a missing row yields ErrNotFound.
	TransitionWager(ctx context.Context, id string, to Status, upd WagerUpdate) error

	// InsertEvent appends an audit event. A duplicate id (same
	// transaction hash and log index) is a no-op with inserted=false.
	InsertEvent(ctx context.Context, e Event) (inserted bool, err error)

	// InsertNotification persists a notification and returns the stored
	// row with CreatedAt filled.
	InsertNotification(ctx context.Context, n Notification) (Notification, error)

	// ListNotifications returns a user's notifications, newest first.
	ListNotifications(ctx context.Context, userID string) ([]Notification, error)

	// MarkNotificationRead flips the read bit. Idempotent; a missing row
	// yields ErrNotFound.
	MarkNotificationRead(ctx context.Context, id string) error

	// InsertProof persists an uploaded proof record.
	InsertProof(ctx context.Context, p Proof) error

	// LastProcessedBlock returns the watcher cursor for the contract, or
	// ok=false when no cursor has been stored yet.
	LastProcessedBlock(ctx context.Context, contract string) (block uint64, ok bool, err error)

	// SaveProcessedBlock advances the watcher cursor. The cursor never
	// moves backwards.
	SaveProcessedBlock(ctx context.Context, contract string, block uint64) error
}
