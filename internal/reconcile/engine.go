// Package reconcile applies decoded contract events to the wager mirror
// and fans out the resulting notifications. One engine instance owns all
// mirror writes for its contract; events for the same wager are
// serialized, events for different wagers may be applied concurrently.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/wagr-app/wagr-relay/internal/idempotency"
	"github.com/wagr-app/wagr-relay/internal/identity"
	"github.com/wagr-app/wagr-relay/internal/metrics"
	"github.com/wagr-app/wagr-relay/internal/mirror"
	"github.com/wagr-app/wagr-relay/internal/token"
	"github.com/wagr-app/wagr-relay/internal/wagrabi"
)

var (
	ErrInvalidConfig = errors.New("reconcile: invalid config")
	// ErrUnknownUser marks an event whose wallet has no registered user.
	// The event is not applied; the historical sync tool can repair the
	// gap later because the chain remains the source of truth.
	ErrUnknownUser = errors.New("reconcile: unknown user for address")
)

// ChainReader reads current contract state. Countered and resolved
// events carry only the wager id, so the engine re-fetches the record to
// learn the party addresses.
type ChainReader interface {
	ReadWager(ctx context.Context, id *big.Int) (wagrabi.WagerRecord, error)
}

// Notifier persists and pushes one notification. *notify.Fanout
// satisfies it.
type Notifier interface {
	Notify(ctx context.Context, recipientAddr, userID, typ, message, wagerID string) (mirror.Notification, error)
}

// Recorder receives every applied event for the external audit journal.
// Optional; a nil recorder disables journaling.
type Recorder interface {
	Record(ctx context.Context, eventID string, ev wagrabi.Event) error
}

// Engine is the reconciliation core: decode, dedupe, mirror, notify.
type Engine struct {
	log      *slog.Logger
	store    mirror.Store
	users    *identity.Resolver
	reader   ChainReader
	notifier Notifier
	recorder Recorder

	locks keyedLocks
}

func New(store mirror.Store, users *identity.Resolver, reader ChainReader, notifier Notifier, recorder Recorder, log *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if users == nil {
		return nil, fmt.Errorf("%w: nil user resolver", ErrInvalidConfig)
	}
	if reader == nil {
		return nil, fmt.Errorf("%w: nil chain reader", ErrInvalidConfig)
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: nil notifier", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		log:      log,
		store:    store,
		users:    users,
		reader:   reader,
		notifier: notifier,
		recorder: recorder,
		locks:    keyedLocks{m: make(map[string]*lockEntry)},
	}, nil
}

// HandleLog decodes one raw contract log and applies it. Undecodable
// logs are dropped with a warning, never retried: an unknown topic or a
// malformed payload stays unknown on replay.
func (e *Engine) HandleLog(ctx context.Context, log types.Log) error {
	metrics.LogsReceived.Inc()

	ev, err := wagrabi.DecodeLog(log)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, wagrabi.ErrUnknownEvent) {
			reason = "unknown_event"
		}
		metrics.DecodeFailures.WithLabelValues(reason).Inc()
		e.log.Warn("dropping undecodable log",
			"block", log.BlockNumber, "tx", log.TxHash.Hex(), "index", log.Index, "err", err)
		return nil
	}

	return e.Apply(ctx, idempotency.EventID(log.TxHash, log.Index), ev)
}

// Apply runs one decoded event through the mirror. The audit-event row
// is the dedupe gate: a replayed event id is skipped wholesale, so the
// same log never double-notifies. Events for the same wager are applied
// one at a time.
func (e *Engine) Apply(ctx context.Context, eventID string, ev wagrabi.Event) error {
	wagerID := ev.WagerID().String()

	unlock := e.locks.lock(wagerID)
	defer unlock()

	// The audit-event row references its wager row, so a new wager must
	// be mirrored before the gate row can be written. The wager insert is
	// itself idempotent (created=false on replay), and the gate below
	// still decides whether the notification fires.
	counterID := ""
	if cev, ok := ev.(wagrabi.WagerCreated); ok {
		id, err := e.mirrorCreated(ctx, cev)
		if err != nil {
			metrics.HandlerFailures.WithLabelValues(ev.Name()).Inc()
			return err
		}
		counterID = id
	}

	inserted, err := e.store.InsertEvent(ctx, mirror.Event{
		ID:      eventID,
		WagerID: wagerID,
		Type:    ev.Name(),
	})
	if err != nil {
		metrics.HandlerFailures.WithLabelValues(ev.Name()).Inc()
		return fmt.Errorf("reconcile: record event %s: %w", eventID, err)
	}
	if !inserted {
		metrics.DuplicatesSkipped.WithLabelValues(ev.Name()).Inc()
		e.log.Info("skipping already-processed event", "event", ev.Name(), "id", eventID, "wager", wagerID)
		return nil
	}

	switch ev := ev.(type) {
	case wagrabi.WagerCreated:
		err = e.notifyCreated(ctx, ev, counterID)
	case wagrabi.WagerCountered:
		err = e.applyCountered(ctx, ev)
	case wagrabi.WagerResolved:
		err = e.applyResolved(ctx, ev)
	case wagrabi.WagerCancelled:
		err = e.applyCancelled(ctx, ev)
	default:
		err = fmt.Errorf("reconcile: no handler for event %s", ev.Name())
	}
	if err != nil {
		metrics.HandlerFailures.WithLabelValues(ev.Name()).Inc()
		return err
	}

	metrics.EventsApplied.WithLabelValues(ev.Name()).Inc()
	if e.recorder != nil {
		if err := e.recorder.Record(ctx, eventID, ev); err != nil {
			e.log.Warn("audit journal publish failed", "event", ev.Name(), "id", eventID, "err", err)
		}
	}
	return nil
}

// mirrorCreated inserts the wager row for a created event and returns
// the designated counter's user id, "" when the wager is open or the
// invited wallet has no account yet.
func (e *Engine) mirrorCreated(ctx context.Context, ev wagrabi.WagerCreated) (string, error) {
	wagerID := ev.ID.String()

	creatorID, err := e.resolveStrict(ctx, ev.Creator.Hex())
	if err != nil {
		return "", fmt.Errorf("reconcile: wager %s creator: %w", wagerID, err)
	}

	// An open wager has no designated counterparty; a designated one may
	// not have signed up yet. Either way the row is created and only the
	// challenge notification is skipped.
	counterID := ""
	if ev.AllowedCounter != wagrabi.ZeroAddress {
		counterID, err = e.resolveLoose(ctx, ev.AllowedCounter.Hex())
		if err != nil {
			return "", fmt.Errorf("reconcile: wager %s allowed counter: %w", wagerID, err)
		}
	}

	created, err := e.store.InsertWager(ctx, mirror.Wager{
		ID:          wagerID,
		CreatorID:   creatorID,
		CounterID:   counterID,
		Stake:       token.RoundUnits(ev.Stake, token.StakeDecimals),
		Description: ev.Description,
		Status:      mirror.StatusPending,
	})
	if err != nil {
		return "", fmt.Errorf("reconcile: insert wager %s: %w", wagerID, err)
	}
	if !created {
		e.log.Info("wager row already mirrored", "wager", wagerID)
	}

	e.log.Info("wager mirrored", "wager", wagerID, "creator", ev.Creator.Hex(), "stake", ev.Stake.String())
	return counterID, nil
}

func (e *Engine) notifyCreated(ctx context.Context, ev wagrabi.WagerCreated, counterID string) error {
	if counterID == "" {
		return nil
	}
	wagerID := ev.ID.String()
	return e.notify(ctx, ev.AllowedCounter.Hex(), counterID, ev.Name(), challengeMessage(ev.Stake, wagerID), wagerID)
}

func (e *Engine) applyCountered(ctx context.Context, ev wagrabi.WagerCountered) error {
	wagerID := ev.ID.String()

	rec, err := e.reader.ReadWager(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("reconcile: read wager %s: %w", wagerID, err)
	}

	creatorID, err := e.resolveStrict(ctx, rec.Creator.Hex())
	if err != nil {
		return fmt.Errorf("reconcile: wager %s creator: %w", wagerID, err)
	}
	counterID, err := e.resolveStrict(ctx, ev.Counter.Hex())
	if err != nil {
		return fmt.Errorf("reconcile: wager %s counter: %w", wagerID, err)
	}

	if err := e.store.TransitionWager(ctx, wagerID, mirror.StatusCountered, mirror.WagerUpdate{
		CounterID: &counterID,
	}); err != nil {
		return fmt.Errorf("reconcile: counter wager %s: %w", wagerID, err)
	}

	if err := e.notify(ctx, rec.Creator.Hex(), creatorID, ev.Name(), counteredMessage(wagerID, ev.Counter), wagerID); err != nil {
		return err
	}

	e.log.Info("wager countered", "wager", wagerID, "counter", ev.Counter.Hex())
	return nil
}

func (e *Engine) applyResolved(ctx context.Context, ev wagrabi.WagerResolved) error {
	wagerID := ev.ID.String()

	rec, err := e.reader.ReadWager(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("reconcile: read wager %s: %w", wagerID, err)
	}

	creatorID, err := e.resolveStrict(ctx, rec.Creator.Hex())
	if err != nil {
		return fmt.Errorf("reconcile: wager %s creator: %w", wagerID, err)
	}
	counterID, err := e.resolveStrict(ctx, rec.Counter.Hex())
	if err != nil {
		return fmt.Errorf("reconcile: wager %s counter: %w", wagerID, err)
	}

	outcome, err := mirrorOutcome(ev.Outcome)
	if err != nil {
		return fmt.Errorf("reconcile: wager %s: %w", wagerID, err)
	}
	if err := e.store.TransitionWager(ctx, wagerID, mirror.StatusResolved, mirror.WagerUpdate{
		Outcome: &outcome,
	}); err != nil {
		return fmt.Errorf("reconcile: resolve wager %s: %w", wagerID, err)
	}

	// Both parties get a personalized verdict.
	parties := []struct {
		addr   string
		userID string
		msg    string
	}{
		{rec.Creator.Hex(), creatorID, resolvedMessage(wagerID, rec.Creator, ev.Winner, ev.ResolutionType)},
		{rec.Counter.Hex(), counterID, resolvedMessage(wagerID, rec.Counter, ev.Winner, ev.ResolutionType)},
	}
	for _, p := range parties {
		if err := e.notify(ctx, p.addr, p.userID, ev.Name(), p.msg, wagerID); err != nil {
			return err
		}
	}

	e.log.Info("wager resolved", "wager", wagerID, "outcome", string(outcome), "winner", ev.Winner.Hex())
	return nil
}

func (e *Engine) applyCancelled(ctx context.Context, ev wagrabi.WagerCancelled) error {
	wagerID := ev.ID.String()

	creatorID, err := e.resolveStrict(ctx, ev.Creator.Hex())
	if err != nil {
		return fmt.Errorf("reconcile: wager %s creator: %w", wagerID, err)
	}

	w, err := e.store.GetWager(ctx, wagerID)
	if err != nil {
		return fmt.Errorf("reconcile: cancel wager %s: %w", wagerID, err)
	}
	if err := e.store.TransitionWager(ctx, wagerID, mirror.StatusCancelled, mirror.WagerUpdate{}); err != nil {
		return fmt.Errorf("reconcile: cancel wager %s: %w", wagerID, err)
	}

	if err := e.notify(ctx, ev.Creator.Hex(), creatorID, ev.Name(), cancelledCreatorMessage(w.Description), wagerID); err != nil {
		return err
	}

	// Only a pending wager can be cancelled, so the counterparty slot can
	// hold at most the designated (invited) counter. Tell them too.
	if w.CounterID != "" {
		rec, err := e.reader.ReadWager(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("reconcile: read wager %s: %w", wagerID, err)
		}
		if rec.AllowedCounter != wagrabi.ZeroAddress {
			if err := e.notify(ctx, rec.AllowedCounter.Hex(), w.CounterID, ev.Name(), cancelledCounterMessage(), wagerID); err != nil {
				return err
			}
		}
	}

	e.log.Info("wager cancelled", "wager", wagerID, "refund", ev.Amount.String())
	return nil
}

// resolveStrict maps an address to a user id; a missing user fails the
// event.
func (e *Engine) resolveStrict(ctx context.Context, addr string) (string, error) {
	id, err := e.users.Resolve(ctx, addr)
	if errors.Is(err, identity.ErrUserNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownUser, identity.Normalize(addr))
	}
	return id, err
}

// resolveLoose maps an address to a user id; a missing user yields "".
func (e *Engine) resolveLoose(ctx context.Context, addr string) (string, error) {
	id, err := e.users.Resolve(ctx, addr)
	if errors.Is(err, identity.ErrUserNotFound) {
		return "", nil
	}
	return id, err
}

func (e *Engine) notify(ctx context.Context, addr, userID, typ, message, wagerID string) error {
	if _, err := e.notifier.Notify(ctx, addr, userID, typ, message, wagerID); err != nil {
		return fmt.Errorf("reconcile: notify %s for wager %s: %w", userID, wagerID, err)
	}
	metrics.NotificationsPersisted.Inc()
	return nil
}

func mirrorOutcome(o wagrabi.Outcome) (mirror.Outcome, error) {
	switch o {
	case wagrabi.OutcomeCreatorWon:
		return mirror.OutcomeCreatorWon, nil
	case wagrabi.OutcomeCounterWon:
		return mirror.OutcomeCounterWon, nil
	case wagrabi.OutcomeDraw:
		return mirror.OutcomeDraw, nil
	default:
		return "", fmt.Errorf("unmapped outcome %d", o)
	}
}

// keyedLocks hands out one mutex per wager id. Entries are refcounted and
// dropped once no goroutine holds or waits on them.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *keyedLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.m[key]
	if !ok {
		entry = &lockEntry{}
		l.m[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
