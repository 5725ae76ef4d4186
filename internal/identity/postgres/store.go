package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wagr-app/wagr-relay/internal/identity"
)

// Store is the Postgres-backed identity lookup.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", identity.ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the identity tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", identity.ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("identity/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) UserIDByAddress(ctx context.Context, address string) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("%w: nil store", identity.ErrInvalidConfig)
	}

	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT u.id
		FROM "user" u
		INNER JOIN wallet_address wa ON wa.user_id = u.id
		WHERE lower(wa.address) = lower($1)
	`, address).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", identity.ErrUserNotFound
		}
		return "", fmt.Errorf("identity/postgres: lookup user by address: %w", err)
	}
	return id, nil
}

func (s *Store) CreateUser(ctx context.Context, reg identity.Registration) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", identity.ErrInvalidConfig)
	}
	if reg.UserID == "" || reg.Address == "" {
		return fmt.Errorf("%w: user id and address are required", identity.ErrInvalidConfig)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("identity/postgres: begin create user: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO "user" (id, name, email, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, reg.UserID, reg.Name, reg.Email)
	if err != nil {
		return fmt.Errorf("identity/postgres: insert user: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_address (id, user_id, address, chain_id, is_primary, created_at)
		VALUES ($1, $2, $3, $4, TRUE, now())
		ON CONFLICT (id) DO NOTHING
	`, reg.WalletID, reg.UserID, reg.Address, reg.ChainID)
	if err != nil {
		return fmt.Errorf("identity/postgres: insert wallet address: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO account (id, account_id, provider_id, user_id, created_at, updated_at)
		VALUES ($1, $2, 'siwe', $3, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, reg.AccountID, reg.Address, reg.UserID)
	if err != nil {
		return fmt.Errorf("identity/postgres: insert account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("identity/postgres: commit create user: %w", err)
	}
	return nil
}

var _ identity.Store = (*Store)(nil)
