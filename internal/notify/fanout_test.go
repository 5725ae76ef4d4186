package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wagr-app/wagr-relay/internal/metrics"
	"github.com/wagr-app/wagr-relay/internal/mirror"
)

type recordingEmitter struct {
	address string
	event   string
	data    any
	calls   int
}

func (e *recordingEmitter) Emit(_ context.Context, address, event string, data any) int {
	e.address = address
	e.event = event
	e.data = data
	e.calls++
	return 1
}

func TestFanout_PersistsThenEmits(t *testing.T) {
	t.Parallel()

	store := mirror.NewMemoryStore()
	em := &recordingEmitter{}
	f, err := NewFanout(store, em, nil)
	if err != nil {
		t.Fatalf("NewFanout: %v", err)
	}
	f.WithIDSource(func() string { return "note-1" })

	n, err := f.Notify(context.Background(), "0xAbCd", "user-1", "WagerCountered", "Your wager #7 has been countered", "7")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.ID != "note-1" || n.UserID != "user-1" || n.WagerID != "7" {
		t.Fatalf("stored notification: %+v", n)
	}
	if n.CreatedAt.IsZero() {
		t.Fatalf("stored notification has zero timestamp")
	}

	rows := store.Notifications()
	if len(rows) != 1 {
		t.Fatalf("persisted rows: got %d want 1", len(rows))
	}

	if em.calls != 1 {
		t.Fatalf("emit calls: got %d want 1", em.calls)
	}
	if em.event != "notification" {
		t.Fatalf("emit event: got %q", em.event)
	}
	if !strings.EqualFold(em.address, "0xAbCd") {
		t.Fatalf("emit address: got %q", em.address)
	}
	p, ok := em.data.(Payload)
	if !ok {
		t.Fatalf("emit data: %T", em.data)
	}
	if p.ID != "note-1" || p.WagerID != "7" || p.Message != "Your wager #7 has been countered" {
		t.Fatalf("payload: %+v", p)
	}
	if p.CreatedAt.IsZero() {
		t.Fatalf("payload has zero timestamp")
	}
}

type droppingEmitter struct{}

func (droppingEmitter) Emit(context.Context, string, string, any) int { return 0 }

// Not parallel: asserts deltas on a process-wide counter.
func TestFanout_CountsRealtimeDeliveries(t *testing.T) {
	store := mirror.NewMemoryStore()
	f, err := NewFanout(store, &recordingEmitter{}, nil)
	if err != nil {
		t.Fatalf("NewFanout: %v", err)
	}

	before := testutil.ToFloat64(metrics.NotificationsPushed)
	for i := 0; i < 2; i++ {
		if _, err := f.Notify(context.Background(), "0x01", "user-1", "WagerCountered", "msg", "7"); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if got := testutil.ToFloat64(metrics.NotificationsPushed) - before; got != 2 {
		t.Fatalf("pushed counter delta: got %v want 2", got)
	}

	// An empty room delivers nothing and counts nothing.
	f, err = NewFanout(store, droppingEmitter{}, nil)
	if err != nil {
		t.Fatalf("NewFanout: %v", err)
	}
	before = testutil.ToFloat64(metrics.NotificationsPushed)
	if _, err := f.Notify(context.Background(), "0x02", "user-2", "WagerCountered", "msg", "7"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := testutil.ToFloat64(metrics.NotificationsPushed) - before; got != 0 {
		t.Fatalf("pushed counter delta for dropped push: got %v want 0", got)
	}
}

type failingStore struct {
	mirror.Store
}

func (failingStore) InsertNotification(context.Context, mirror.Notification) (mirror.Notification, error) {
	return mirror.Notification{}, errors.New("disk full")
}

func TestFanout_NoEmitWhenPersistFails(t *testing.T) {
	t.Parallel()

	em := &recordingEmitter{}
	f, err := NewFanout(failingStore{mirror.NewMemoryStore()}, em, nil)
	if err != nil {
		t.Fatalf("NewFanout: %v", err)
	}

	if _, err := f.Notify(context.Background(), "0x01", "user-1", "WagerCreated", "msg", "1"); err == nil {
		t.Fatalf("expected error")
	}
	if em.calls != 0 {
		t.Fatalf("emit calls after failed persist: got %d want 0", em.calls)
	}
}

func TestNewFanout_RejectsNilDeps(t *testing.T) {
	t.Parallel()

	if _, err := NewFanout(nil, &recordingEmitter{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil store: %v", err)
	}
	if _, err := NewFanout(mirror.NewMemoryStore(), nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil emitter: %v", err)
	}
}
