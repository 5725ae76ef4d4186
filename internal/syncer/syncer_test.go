package syncer

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/wagr-app/wagr-relay/internal/idempotency"
	"github.com/wagr-app/wagr-relay/internal/identity"
	"github.com/wagr-app/wagr-relay/internal/mirror"
	"github.com/wagr-app/wagr-relay/internal/wagrabi"
)

var (
	aliceAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bobAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeChain struct {
	wagers []wagrabi.WagerRecord
	broken map[int]error
}

func (c *fakeChain) NextID(context.Context) (*big.Int, error) {
	return big.NewInt(int64(len(c.wagers))), nil
}

func (c *fakeChain) ReadWager(_ context.Context, id *big.Int) (wagrabi.WagerRecord, error) {
	i := int(id.Int64())
	if err := c.broken[i]; err != nil {
		return wagrabi.WagerRecord{}, err
	}
	return c.wagers[i], nil
}

func record(status wagrabi.Status, outcome wagrabi.Outcome, counter common.Address) wagrabi.WagerRecord {
	return wagrabi.WagerRecord{
		Creator:      aliceAddr,
		Counter:      counter,
		CreatorStake: big.NewInt(5_000_000),
		CounterStake: big.NewInt(5_000_000),
		CreatedAt:    big.NewInt(1_700_000_000),
		Description:  "first to 10k steps",
		Status:       status,
		Outcome:      outcome,
	}
}

func newSyncer(t *testing.T, chain *fakeChain) (*Syncer, *mirror.MemoryStore, *identity.MemoryStore) {
	t.Helper()

	users := identity.NewMemoryStore()
	resolver, err := identity.NewResolver(users, 84532, idempotency.Source{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	store := mirror.NewMemoryStore()
	s, err := New(store, resolver, chain, idempotency.Source{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, store, users
}

func TestRun_SyncsFullLifecycle(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{wagers: []wagrabi.WagerRecord{
		record(wagrabi.StatusPending, wagrabi.OutcomeNone, wagrabi.ZeroAddress),
		record(wagrabi.StatusCountered, wagrabi.OutcomeNone, bobAddr),
		record(wagrabi.StatusResolved, wagrabi.OutcomeCreatorWon, bobAddr),
		record(wagrabi.StatusCancelled, wagrabi.OutcomeNone, wagrabi.ZeroAddress),
	}}
	s, store, users := newSyncer(t, chain)
	ctx := context.Background()

	stats, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.OnChain != 4 || stats.Synced != 4 || stats.Failed != 0 {
		t.Fatalf("stats: %+v", stats)
	}
	// Two distinct wallets across all wagers.
	if users.Created() != 2 {
		t.Fatalf("users created: %d", users.Created())
	}

	cases := []struct {
		id      string
		status  mirror.Status
		outcome mirror.Outcome
		counter bool
	}{
		{"0", mirror.StatusPending, "", false},
		{"1", mirror.StatusCountered, "", true},
		{"2", mirror.StatusResolved, mirror.OutcomeCreatorWon, true},
		{"3", mirror.StatusCancelled, "", false},
	}
	for _, tc := range cases {
		w, err := store.GetWager(ctx, tc.id)
		if err != nil {
			t.Fatalf("GetWager(%s): %v", tc.id, err)
		}
		if w.Status != tc.status || w.Outcome != tc.outcome {
			t.Fatalf("wager %s: %+v", tc.id, w)
		}
		if (w.CounterID != "") != tc.counter {
			t.Fatalf("wager %s counter id: %q", tc.id, w.CounterID)
		}
		if w.Stake != 5 {
			t.Fatalf("wager %s stake: %d", tc.id, w.Stake)
		}
	}

	// Created is backfilled for all four; countered for #1 and #2;
	// resolved for #2; cancelled for #3.
	if stats.Events != 4+2+1+1 {
		t.Fatalf("events: %d", stats.Events)
	}
}

func TestRun_BackfillsLifecycleNotifications(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{wagers: []wagrabi.WagerRecord{
		record(wagrabi.StatusResolved, wagrabi.OutcomeCounterWon, bobAddr),
	}}
	s, store, _ := newSyncer(t, chain)
	ctx := context.Background()

	if _, err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	alice, err := s.users.Resolve(ctx, aliceAddr.Hex())
	if err != nil {
		t.Fatalf("resolve alice: %v", err)
	}
	rows, err := store.ListNotifications(ctx, alice)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	// Created, countered, and resolved for the creator.
	if len(rows) != 3 {
		t.Fatalf("creator notifications: %+v", rows)
	}
	var sawResolved bool
	for _, n := range rows {
		if n.Type == "WagerResolved" {
			sawResolved = true
			if n.Message != "The wager has been resolved. Challenger wins!" {
				t.Fatalf("resolved message: %q", n.Message)
			}
		}
	}
	if !sawResolved {
		t.Fatalf("no resolved notification: %+v", rows)
	}
}

func TestRun_IsIdempotent(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{wagers: []wagrabi.WagerRecord{
		record(wagrabi.StatusCountered, wagrabi.OutcomeNone, bobAddr),
	}}
	s, store, users := newSyncer(t, chain)
	ctx := context.Background()

	if _, err := s.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstEvents := len(store.Events())
	firstNotes := len(store.Notifications())

	stats, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Synced != 0 || stats.AlreadyKnown != 1 {
		t.Fatalf("second run stats: %+v", stats)
	}
	if len(store.Events()) != firstEvents {
		t.Fatalf("events duplicated: %d -> %d", firstEvents, len(store.Events()))
	}
	if len(store.Notifications()) != firstNotes {
		t.Fatalf("notifications duplicated: %d -> %d", firstNotes, len(store.Notifications()))
	}
	if users.Created() != 2 {
		t.Fatalf("users duplicated: %d", users.Created())
	}
}

func TestRun_SkipsUnreadableWager(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{
		wagers: []wagrabi.WagerRecord{
			record(wagrabi.StatusPending, wagrabi.OutcomeNone, wagrabi.ZeroAddress),
			record(wagrabi.StatusPending, wagrabi.OutcomeNone, wagrabi.ZeroAddress),
		},
		broken: map[int]error{0: errors.New("rpc timeout")},
	}
	s, store, _ := newSyncer(t, chain)
	ctx := context.Background()

	stats, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 || stats.Synced != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if _, err := store.GetWager(ctx, "1"); err != nil {
		t.Fatalf("surviving wager: %v", err)
	}
}

func TestRun_TruncatesLongDescriptions(t *testing.T) {
	t.Parallel()

	long := record(wagrabi.StatusPending, wagrabi.OutcomeNone, wagrabi.ZeroAddress)
	long.Description = strings.Repeat("x", 80)
	chain := &fakeChain{wagers: []wagrabi.WagerRecord{long}}
	s, store, _ := newSyncer(t, chain)
	ctx := context.Background()

	if _, err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	notes := store.Notifications()
	if len(notes) != 1 {
		t.Fatalf("notifications: %d", len(notes))
	}
	if want := "\"" + strings.Repeat("x", 50) + "...\""; !strings.Contains(notes[0].Message, want) {
		t.Fatalf("message: %q", notes[0].Message)
	}
}
