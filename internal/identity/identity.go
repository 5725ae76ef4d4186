// Package identity maps wallet addresses to internal user records.
//
// The live relay only resolves: users are expected to exist by the time
// their wallet shows up in a chain event, and a miss is a per-event fatal.
// The historical sync tool additionally materializes users on first sight.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUserNotFound  = errors.New("identity: user not found")
	ErrInvalidConfig = errors.New("identity: invalid config")
)

// Normalize lowercases a hex wallet address. On-chain addresses arrive in
// mixed (checksum) case; every lookup and socket room key uses the
// lowercase form.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Registration is the row bundle the sync tool materializes for a wallet
// seen for the first time: the user, its wallet address, and the siwe
// account record the auth layer expects.
type Registration struct {
	UserID    string
	Name      string
	Email     string
	Address   string // normalized
	ChainID   int64
	WalletID  string
	AccountID string
	CreatedAt time.Time
}

// Store is the identity persistence contract.
type Store interface {
	// UserIDByAddress resolves a normalized wallet address to a user id,
	// or ErrUserNotFound.
	UserIDByAddress(ctx context.Context, address string) (string, error)

	// CreateUser inserts a registration bundle. Inserting an address that
	// already exists is a no-op.
	CreateUser(ctx context.Context, reg Registration) error
}

// Resolver resolves wallet addresses against a Store.
type Resolver struct {
	store   Store
	chainID int64
	ids     IDSource
}

// IDSource produces row ids for lazily created identity records.
type IDSource interface {
	DeriveID(parts ...string) string
}

func NewResolver(store Store, chainID int64, ids IDSource) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidConfig)
	}
	if ids == nil {
		return nil, fmt.Errorf("%w: nil id source", ErrInvalidConfig)
	}
	return &Resolver{store: store, chainID: chainID, ids: ids}, nil
}

// Resolve maps an address (any case) to a user id. ErrUserNotFound when
// no user owns the address.
func (r *Resolver) Resolve(ctx context.Context, address string) (string, error) {
	if r == nil || r.store == nil {
		return "", fmt.Errorf("%w: nil resolver", ErrInvalidConfig)
	}
	addr := Normalize(address)
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrUserNotFound)
	}
	return r.store.UserIDByAddress(ctx, addr)
}

// Ensure resolves an address, creating the user (with wallet address and
// siwe account rows) when it has never been seen. Row ids are derived
// from the address, so concurrent or repeated calls converge on the same
// rows. Only the historical sync tool calls this; the live relay never
// creates users.
func (r *Resolver) Ensure(ctx context.Context, address string) (string, error) {
	if r == nil || r.store == nil {
		return "", fmt.Errorf("%w: nil resolver", ErrInvalidConfig)
	}
	addr := Normalize(address)
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidConfig)
	}

	id, err := r.store.UserIDByAddress(ctx, addr)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return "", err
	}

	reg := Registration{
		UserID:    r.ids.DeriveID("user", addr),
		Name:      shortAddress(addr),
		Email:     addr + "@wallet.local",
		Address:   addr,
		ChainID:   r.chainID,
		WalletID:  r.ids.DeriveID("wallet", addr),
		AccountID: r.ids.DeriveID("account", addr),
	}
	if err := r.store.CreateUser(ctx, reg); err != nil {
		return "", err
	}
	return r.store.UserIDByAddress(ctx, addr)
}

// shortAddress renders 0x1234...abcd, the display name the frontend shows
// before the user picks one.
func shortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
