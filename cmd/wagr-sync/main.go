// Command wagr-sync rebuilds the wager mirror from chain state: it walks
// every wager id the contract has issued, creates users for the wallets
// it meets, and backfills wager, event, and notification rows. Safe to
// re-run; all backfilled ids are derived from content.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wagr-app/wagr-relay/internal/chain"
	"github.com/wagr-app/wagr-relay/internal/idempotency"
	"github.com/wagr-app/wagr-relay/internal/identity"
	identitypg "github.com/wagr-app/wagr-relay/internal/identity/postgres"
	mirrorpg "github.com/wagr-app/wagr-relay/internal/mirror/postgres"
	"github.com/wagr-app/wagr-relay/internal/syncer"
)

func main() {
	var (
		postgresDSN  = flag.String("postgres-dsn", "", "Postgres DSN (required)")
		httpRPCURL   = flag.String("http-rpc-url", "", "HTTP RPC URL for contract reads (required)")
		contractAddr = flag.String("contract-address", "", "Wagr contract address (required)")
		chainID      = flag.Int64("chain-id", 84532, "chain id recorded on created wallet addresses")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *postgresDSN == "" || *httpRPCURL == "" || *contractAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn, --http-rpc-url, and --contract-address are required")
		os.Exit(2)
	}
	if !common.IsHexAddress(*contractAddr) {
		fmt.Fprintln(os.Stderr, "error: --contract-address must be a valid hex address")
		os.Exit(2)
	}
	if *chainID <= 0 {
		fmt.Fprintln(os.Stderr, "error: --chain-id must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		log.Error("init pgx pool", "err", err)
		os.Exit(2)
	}
	defer pool.Close()

	identityStore, err := identitypg.New(pool)
	if err != nil {
		log.Error("init identity store", "err", err)
		os.Exit(2)
	}
	if err := identityStore.EnsureSchema(ctx); err != nil {
		log.Error("ensure identity schema", "err", err)
		os.Exit(2)
	}
	mirrorStore, err := mirrorpg.New(pool)
	if err != nil {
		log.Error("init mirror store", "err", err)
		os.Exit(2)
	}
	if err := mirrorStore.EnsureSchema(ctx); err != nil {
		log.Error("ensure mirror schema", "err", err)
		os.Exit(2)
	}

	users, err := identity.NewResolver(identityStore, *chainID, idempotency.Source{})
	if err != nil {
		log.Error("init user resolver", "err", err)
		os.Exit(2)
	}

	client, err := chain.Dial(ctx, *httpRPCURL)
	if err != nil {
		log.Error("dial http rpc", "err", err)
		os.Exit(2)
	}
	defer client.Close()

	reader, err := chain.NewReader(client, common.HexToAddress(*contractAddr))
	if err != nil {
		log.Error("init contract reader", "err", err)
		os.Exit(2)
	}

	s, err := syncer.New(mirrorStore, users, reader, idempotency.Source{}, log)
	if err != nil {
		log.Error("init syncer", "err", err)
		os.Exit(2)
	}

	stats, err := s.Run(ctx)
	if err != nil {
		log.Error("sync failed", "err", err)
		os.Exit(1)
	}
	log.Info("sync finished",
		"onchain", stats.OnChain, "synced", stats.Synced, "known", stats.AlreadyKnown,
		"failed", stats.Failed, "events", stats.Events, "notifications", stats.Notifications)
	if stats.Failed > 0 {
		os.Exit(1)
	}
}
