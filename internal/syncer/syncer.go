// Package syncer rebuilds the wager mirror from chain state. Unlike the
// live relay it has no logs to replay: it walks every wager id the
// contract has issued, materializes users for every wallet it meets, and
// backfills the wager, event, and notification rows the parties would
// have received. All row ids are derived from content, so re-running the
// sync converges instead of duplicating.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/wagr-app/wagr-relay/internal/identity"
	"github.com/wagr-app/wagr-relay/internal/mirror"
	"github.com/wagr-app/wagr-relay/internal/token"
	"github.com/wagr-app/wagr-relay/internal/wagrabi"
)

var ErrInvalidConfig = errors.New("syncer: invalid config")

// ChainReader enumerates and reads on-chain wagers. *chain.Reader
// satisfies it.
type ChainReader interface {
	NextID(ctx context.Context) (*big.Int, error)
	ReadWager(ctx context.Context, id *big.Int) (wagrabi.WagerRecord, error)
}

// IDSource derives stable row ids for backfilled events and
// notifications.
type IDSource interface {
	DeriveID(parts ...string) string
}

// Stats summarizes one sync run.
type Stats struct {
	OnChain       int
	Synced        int
	AlreadyKnown  int
	Failed        int
	Events        int
	Notifications int
}

type Syncer struct {
	store  mirror.Store
	users  *identity.Resolver
	reader ChainReader
	ids    IDSource
	log    *slog.Logger
	now    func() time.Time
}

func New(store mirror.Store, users *identity.Resolver, reader ChainReader, ids IDSource, log *slog.Logger) (*Syncer, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if users == nil {
		return nil, fmt.Errorf("%w: nil user resolver", ErrInvalidConfig)
	}
	if reader == nil {
		return nil, fmt.Errorf("%w: nil chain reader", ErrInvalidConfig)
	}
	if ids == nil {
		return nil, fmt.Errorf("%w: nil id source", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Syncer{store: store, users: users, reader: reader, ids: ids, log: log, now: time.Now}, nil
}

// Run syncs every on-chain wager into the mirror. A wager that fails to
// read or write is logged and skipped; the rest of the run continues.
func (s *Syncer) Run(ctx context.Context) (Stats, error) {
	next, err := s.reader.NextID(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("syncer: read nextId: %w", err)
	}
	total := int(next.Int64())
	stats := Stats{OnChain: total}
	s.log.Info("starting wager sync", "onchain", total)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.syncWager(ctx, big.NewInt(int64(i)), &stats); err != nil {
			stats.Failed++
			s.log.Error("sync wager failed", "wager", i, "err", err)
		}
	}

	s.log.Info("wager sync complete",
		"synced", stats.Synced, "known", stats.AlreadyKnown, "failed", stats.Failed,
		"events", stats.Events, "notifications", stats.Notifications)
	return stats, nil
}

func (s *Syncer) syncWager(ctx context.Context, id *big.Int, stats *Stats) error {
	rec, err := s.reader.ReadWager(ctx, id)
	if err != nil {
		return err
	}
	wagerID := id.String()

	creatorID, err := s.users.Ensure(ctx, rec.Creator.Hex())
	if err != nil {
		return fmt.Errorf("ensure creator: %w", err)
	}
	counterID := ""
	if rec.Counter != wagrabi.ZeroAddress {
		counterID, err = s.users.Ensure(ctx, rec.Counter.Hex())
		if err != nil {
			return fmt.Errorf("ensure counter: %w", err)
		}
	}

	createdAt := time.Unix(rec.CreatedAt.Int64(), 0).UTC()
	stake := token.RoundUnits(rec.CreatorStake, token.StakeDecimals)
	status, err := mirrorStatus(rec.Status)
	if err != nil {
		return err
	}
	outcome := mirrorOutcome(rec.Outcome)

	created, err := s.store.InsertWager(ctx, mirror.Wager{
		ID:          wagerID,
		CreatorID:   creatorID,
		CounterID:   counterID,
		Stake:       stake,
		Description: rec.Description,
		Status:      status,
		Outcome:     outcome,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	})
	if err != nil {
		return err
	}
	if created {
		stats.Synced++
	} else {
		stats.AlreadyKnown++
	}

	desc := shorten(rec.Description, 50)
	if err := s.backfill(ctx, stats, wagerID, wagrabi.EventWagerCreated, createdAt, []note{
		{creatorID, fmt.Sprintf("Your wager \"%s\" has been created with %d USDC stake.", desc, stake)},
	}); err != nil {
		return err
	}

	if rec.Status >= wagrabi.StatusCountered && rec.Counter != wagrabi.ZeroAddress {
		notes := []note{
			{creatorID, "Your wager has been accepted! The challenge is on."},
		}
		if counterID != "" {
			notes = append(notes, note{counterID,
				fmt.Sprintf("You joined the wager \"%s\" with %d USDC stake.", desc, stake)})
		}
		if err := s.backfill(ctx, stats, wagerID, wagrabi.EventWagerCountered, createdAt, notes); err != nil {
			return err
		}
	}

	switch rec.Status {
	case wagrabi.StatusResolved:
		msg := resolvedOutcomeMessage(rec.Outcome)
		notes := []note{{creatorID, msg}}
		if counterID != "" {
			notes = append(notes, note{counterID, msg})
		}
		if err := s.backfill(ctx, stats, wagerID, wagrabi.EventWagerResolved, s.now().UTC(), notes); err != nil {
			return err
		}
	case wagrabi.StatusCancelled:
		notes := []note{
			{creatorID, fmt.Sprintf("Your wager \"%s\" has been cancelled.", desc)},
		}
		if counterID != "" {
			notes = append(notes, note{counterID, "A wager you joined has been cancelled. Funds have been returned."})
		}
		if err := s.backfill(ctx, stats, wagerID, wagrabi.EventWagerCancelled, s.now().UTC(), notes); err != nil {
			return err
		}
	}

	s.log.Info("wager synced", "wager", wagerID, "status", string(status))
	return nil
}

type note struct {
	UserID  string
	Message string
}

// backfill writes the audit event for a lifecycle stage plus the
// notifications its parties would have received live.
func (s *Syncer) backfill(ctx context.Context, stats *Stats, wagerID, eventType string, at time.Time, notes []note) error {
	inserted, err := s.store.InsertEvent(ctx, mirror.Event{
		ID:        s.ids.DeriveID("event", wagerID, eventType),
		WagerID:   wagerID,
		Type:      eventType,
		CreatedAt: at,
	})
	if err != nil {
		return fmt.Errorf("backfill %s event: %w", eventType, err)
	}
	if inserted {
		stats.Events++
	}

	for _, n := range notes {
		if _, err := s.store.InsertNotification(ctx, mirror.Notification{
			ID:        s.ids.DeriveID("notification", wagerID, n.UserID, eventType),
			UserID:    n.UserID,
			Type:      eventType,
			Message:   n.Message,
			WagerID:   wagerID,
			CreatedAt: at,
		}); err != nil {
			return fmt.Errorf("backfill %s notification: %w", eventType, err)
		}
		stats.Notifications++
	}
	return nil
}

func mirrorStatus(st wagrabi.Status) (mirror.Status, error) {
	switch st {
	case wagrabi.StatusPending:
		return mirror.StatusPending, nil
	case wagrabi.StatusCountered:
		return mirror.StatusCountered, nil
	case wagrabi.StatusResolved:
		return mirror.StatusResolved, nil
	case wagrabi.StatusCancelled:
		return mirror.StatusCancelled, nil
	default:
		return "", fmt.Errorf("syncer: unmapped status %d", st)
	}
}

func mirrorOutcome(o wagrabi.Outcome) mirror.Outcome {
	switch o {
	case wagrabi.OutcomeCreatorWon:
		return mirror.OutcomeCreatorWon
	case wagrabi.OutcomeCounterWon:
		return mirror.OutcomeCounterWon
	case wagrabi.OutcomeDraw:
		return mirror.OutcomeDraw
	default:
		return ""
	}
}

func resolvedOutcomeMessage(o wagrabi.Outcome) string {
	switch o {
	case wagrabi.OutcomeCreatorWon:
		return "The wager has been resolved. Creator wins!"
	case wagrabi.OutcomeCounterWon:
		return "The wager has been resolved. Challenger wins!"
	case wagrabi.OutcomeDraw:
		return "The wager has been resolved as a draw."
	default:
		return "The wager has been resolved."
	}
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
