package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wagr-app/wagr-relay/internal/idempotency"
	"github.com/wagr-app/wagr-relay/internal/metrics"
	"github.com/wagr-app/wagr-relay/internal/mirror"
)

// Emitter pushes an event to an address room. *Hub satisfies it.
type Emitter interface {
	Emit(ctx context.Context, address, event string, data any) int
}

// Payload is the realtime notification body sent to the recipient's room.
type Payload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	WagerID   string    `json:"wagerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Fanout persists a notification and then pushes it in realtime.
// Persistence comes first: a dropped push only delays delivery until the
// recipient's next fetch.
type Fanout struct {
	store   mirror.Store
	emitter Emitter
	log     *slog.Logger
	newID   func() string
}

func NewFanout(store mirror.Store, emitter Emitter, log *slog.Logger) (*Fanout, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if emitter == nil {
		return nil, fmt.Errorf("%w: nil emitter", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fanout{store: store, emitter: emitter, log: log, newID: idempotency.NewID}, nil
}

// Notify writes the notification row for userID and emits it to the room
// for recipientAddr. The returned notification carries the stored id and
// timestamp.
func (f *Fanout) Notify(ctx context.Context, recipientAddr, userID, typ, message, wagerID string) (mirror.Notification, error) {
	if f == nil || f.store == nil {
		return mirror.Notification{}, fmt.Errorf("%w: nil fanout", ErrInvalidConfig)
	}

	n, err := f.store.InsertNotification(ctx, mirror.Notification{
		ID:      f.newID(),
		UserID:  userID,
		Type:    typ,
		Message: message,
		WagerID: wagerID,
	})
	if err != nil {
		return mirror.Notification{}, fmt.Errorf("notify: persist notification: %w", err)
	}

	delivered := f.emitter.Emit(ctx, recipientAddr, "notification", Payload{
		ID:        n.ID,
		Type:      n.Type,
		Message:   n.Message,
		WagerID:   n.WagerID,
		CreatedAt: n.CreatedAt,
	})
	metrics.NotificationsPushed.Add(float64(delivered))
	f.log.Debug("notification fanned out", "user", userID, "type", typ, "delivered", delivered)
	return n, nil
}

// WithIDSource overrides row id generation. Test hook.
func (f *Fanout) WithIDSource(newID func() string) *Fanout {
	f.newID = newID
	return f
}
