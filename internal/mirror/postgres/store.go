package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wagr-app/wagr-relay/internal/mirror"
)

// Store is the Postgres-backed wager mirror.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", mirror.ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the mirror tables. The identity schema must exist
// first: wager and notification rows reference "user"(id).
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("mirror/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) InsertWager(ctx context.Context, w mirror.Wager) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}
	if w.ID == "" || w.CreatorID == "" {
		return false, fmt.Errorf("mirror/postgres: wager id and creator id are required")
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO wager (id, "creatorId", "counterId", stake, description, status, outcome, "createdAt", "updatedAt")
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), COALESCE($8, now()), COALESCE($8, now()))
		ON CONFLICT (id) DO NOTHING
	`, w.ID, w.CreatorID, w.CounterID, w.Stake, w.Description, string(w.Status), string(w.Outcome), nullableTime(w.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("mirror/postgres: insert wager: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetWager(ctx context.Context, id string) (mirror.Wager, error) {
	if s == nil || s.pool == nil {
		return mirror.Wager{}, fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}

	var (
		w         mirror.Wager
		counterID *string
		outcome   *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, "creatorId", "counterId", stake, description, status, outcome, "createdAt", "updatedAt"
		FROM wager
		WHERE id = $1
	`, id).Scan(&w.ID, &w.CreatorID, &counterID, &w.Stake, &w.Description, (*string)(&w.Status), &outcome, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mirror.Wager{}, mirror.ErrNotFound
		}
		return mirror.Wager{}, fmt.Errorf("mirror/postgres: get wager: %w", err)
	}
	if counterID != nil {
		w.CounterID = *counterID
	}
	if outcome != nil {
		w.Outcome = mirror.Outcome(*outcome)
	}
	return w, nil
}

func (s *Store) TransitionWager(ctx context.Context, id string, to mirror.Status, upd mirror.WagerUpdate) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}
	from, ok := mirror.TransitionFrom(to)
	if !ok {
		return mirror.ErrInvalidTransition
	}

	var (
		counterID *string
		outcome   *string
	)
	if upd.CounterID != nil {
		counterID = upd.CounterID
	}
	if upd.Outcome != nil {
		o := string(*upd.Outcome)
		outcome = &o
	}

	// Compare-and-set on the current status: two events racing for the
	// same wager cannot both apply, and out-of-order deliveries are
	// rejected instead of overwriting terminal state.
	tag, err := s.pool.Exec(ctx, `
		UPDATE wager
		SET status = $2,
			"counterId" = COALESCE($3, "counterId"),
			outcome = COALESCE($4, outcome),
			"updatedAt" = now()
		WHERE id = $1 AND status = $5
	`, id, string(to), counterID, outcome, string(from))
	if err != nil {
		return fmt.Errorf("mirror/postgres: transition wager: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetWager(ctx, id); errors.Is(err, mirror.ErrNotFound) {
		return mirror.ErrNotFound
	} else if err != nil {
		return err
	}
	return mirror.ErrInvalidTransition
}

func (s *Store) InsertEvent(ctx context.Context, e mirror.Event) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}

	// The deterministic id makes a replayed log a conflict, not a
	// duplicate row.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO event (id, wager_id, type, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.WagerID, e.Type, nullableTime(e.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("mirror/postgres: insert event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) InsertNotification(ctx context.Context, n mirror.Notification) (mirror.Notification, error) {
	if s == nil || s.pool == nil {
		return mirror.Notification{}, fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO notification (id, user_id, type, message, wager_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, COALESCE($6, now()))
		ON CONFLICT (id) DO UPDATE SET id = notification.id
		RETURNING created_at
	`, n.ID, n.UserID, n.Type, n.Message, n.WagerID, nullableTime(n.CreatedAt)).Scan(&n.CreatedAt)
	if err != nil {
		return mirror.Notification{}, fmt.Errorf("mirror/postgres: insert notification: %w", err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string) ([]mirror.Notification, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, COALESCE(message, ''), wager_id, read, created_at
		FROM notification
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("mirror/postgres: list notifications: %w", err)
	}
	defer rows.Close()

	var out []mirror.Notification
	for rows.Next() {
		var n mirror.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.WagerID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("mirror/postgres: scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror/postgres: list notifications rows: %w", err)
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `UPDATE notification SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mirror/postgres: mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mirror.ErrNotFound
	}
	return nil
}

func (s *Store) InsertProof(ctx context.Context, p mirror.Proof) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO proof (id, wager_id, uploader_id, text, image_url, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), COALESCE($6, now()))
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.WagerID, p.UploaderID, p.Text, p.ImageURL, nullableTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("mirror/postgres: insert proof: %w", err)
	}
	return nil
}

func (s *Store) LastProcessedBlock(ctx context.Context, contract string) (uint64, bool, error) {
	if s == nil || s.pool == nil {
		return 0, false, fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}

	var block int64
	err := s.pool.QueryRow(ctx, `
		SELECT last_block FROM relay_cursor WHERE contract = $1
	`, contract).Scan(&block)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("mirror/postgres: get cursor: %w", err)
	}
	return uint64(block), true, nil
}

func (s *Store) SaveProcessedBlock(ctx context.Context, contract string, block uint64) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", mirror.ErrInvalidConfig)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_cursor (contract, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (contract) DO UPDATE
		SET last_block = GREATEST(relay_cursor.last_block, EXCLUDED.last_block), updated_at = now()
	`, contract, int64(block))
	if err != nil {
		return fmt.Errorf("mirror/postgres: save cursor: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ mirror.Store = (*Store)(nil)
