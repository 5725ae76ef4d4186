package mirror

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used as a test double.
type MemoryStore struct {
	mu            sync.Mutex
	wagers        map[string]Wager
	events        map[string]Event
	eventOrder    []string
	notifications map[string]Notification
	notifOrder    []string
	proofs        map[string]Proof
	cursors       map[string]uint64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wagers:        make(map[string]Wager),
		events:        make(map[string]Event),
		notifications: make(map[string]Notification),
		proofs:        make(map[string]Proof),
		cursors:       make(map[string]uint64),
		now:           time.Now,
	}
}

func (s *MemoryStore) InsertWager(_ context.Context, w Wager) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wagers[w.ID]; ok {
		return false, nil
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now().UTC()
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = w.CreatedAt
	}
	s.wagers[w.ID] = w
	return true, nil
}

func (s *MemoryStore) GetWager(_ context.Context, id string) (Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wagers[id]
	if !ok {
		return Wager{}, ErrNotFound
	}
	return w, nil
}

func (s *MemoryStore) TransitionWager(_ context.Context, id string, to Status, upd WagerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wagers[id]
	if !ok {
		return ErrNotFound
	}
	from, ok := TransitionFrom(to)
	if !ok || w.Status != from {
		return ErrInvalidTransition
	}

	w.Status = to
	if upd.CounterID != nil {
		w.CounterID = *upd.CounterID
	}
	if upd.Outcome != nil {
		w.Outcome = *upd.Outcome
	}
	w.UpdatedAt = s.now().UTC()
	s.wagers[id] = w
	return nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, e Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return false, nil
	}
	// The event table references wager(id); mirror that constraint here
	// so write-ordering mistakes fail in tests the way they fail on
	// Postgres.
	if _, ok := s.wagers[e.WagerID]; !ok {
		return false, fmt.Errorf("mirror: event %s references unknown wager %s: %w", e.ID, e.WagerID, ErrNotFound)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.events[e.ID] = e
	s.eventOrder = append(s.eventOrder, e.ID)
	return true, nil
}

func (s *MemoryStore) InsertNotification(_ context.Context, n Notification) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	s.notifications[n.ID] = n
	s.notifOrder = append(s.notifOrder, n.ID)
	return n, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Notification
	for _, id := range s.notifOrder {
		n := s.notifications[id]
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

func (s *MemoryStore) InsertProof(_ context.Context, p Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.proofs[p.ID] = p
	return nil
}

func (s *MemoryStore) LastProcessedBlock(_ context.Context, contract string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.cursors[contract]
	return b, ok, nil
}

func (s *MemoryStore) SaveProcessedBlock(_ context.Context, contract string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.cursors[contract]; ok && cur > block {
		return nil
	}
	s.cursors[contract] = block
	return nil
}

// Events returns the appended audit events in insertion order. Test
// helper.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, len(s.eventOrder))
	for _, id := range s.eventOrder {
		out = append(out, s.events[id])
	}
	return out
}

// Notifications returns all notification rows in insertion order. Test
// helper.
func (s *MemoryStore) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Notification, 0, len(s.notifOrder))
	for _, id := range s.notifOrder {
		out = append(out, s.notifications[id])
	}
	return out
}

// Proofs returns all proof rows. Test helper.
func (s *MemoryStore) Proofs() []Proof {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Proof, 0, len(s.proofs))
	for _, p := range s.proofs {
		out = append(out, p)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
