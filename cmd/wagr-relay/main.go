// Command wagr-relay mirrors the Wagr contract into Postgres and pushes
// realtime notifications: it subscribes to contract logs over a
// websocket RPC endpoint, reconciles each event into the database, and
// serves the HTTP/websocket API the frontend talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wagr-app/wagr-relay/internal/chain"
	"github.com/wagr-app/wagr-relay/internal/idempotency"
	"github.com/wagr-app/wagr-relay/internal/identity"
	identitypg "github.com/wagr-app/wagr-relay/internal/identity/postgres"
	"github.com/wagr-app/wagr-relay/internal/journal"
	mirrorpg "github.com/wagr-app/wagr-relay/internal/mirror/postgres"
	"github.com/wagr-app/wagr-relay/internal/notify"
	"github.com/wagr-app/wagr-relay/internal/reconcile"
	"github.com/wagr-app/wagr-relay/internal/relayapi"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:8080", "HTTP listen address")

		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required)")

		wsRPCURL     = flag.String("ws-rpc-url", "", "websocket RPC URL for the log subscription (required)")
		httpRPCURL   = flag.String("http-rpc-url", "", "HTTP RPC URL for contract reads (required)")
		contractAddr = flag.String("contract-address", "", "Wagr contract address (required)")
		chainID      = flag.Int64("chain-id", 84532, "chain id of the wallet addresses")
		startBlock   = flag.Uint64("start-block", 0, "contract deployment block, used on first run only")

		frontendOrigin = flag.String("frontend-origin", "*", "browser origin allowed by CORS and the websocket handshake")

		backfillBatch = flag.Uint64("backfill-batch", 5000, "max block range per backfill query")
		reconnectMin  = flag.Duration("reconnect-min", time.Second, "minimum reconnect backoff")
		reconnectMax  = flag.Duration("reconnect-max", 30*time.Second, "maximum reconnect backoff")

		journalDriver  = flag.String("journal-driver", "", "audit journal driver (kafka|stdio); empty disables the journal")
		journalBrokers = flag.String("journal-brokers", "", "kafka brokers for the audit journal (comma-separated)")
		journalTopic   = flag.String("journal-topic", "wagr.events.v1", "kafka topic for the audit journal")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *postgresDSN == "" || *wsRPCURL == "" || *httpRPCURL == "" || *contractAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn, --ws-rpc-url, --http-rpc-url, and --contract-address are required")
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

	wsClient, err := chain.Dial(ctx, *wsRPCURL)
	if err != nil {
		log.Error("dial websocket rpc", "err", err)
		os.Exit(2)
	}
	defer wsClient.Close()
	httpClient, err := chain.Dial(ctx, *httpRPCURL)
	if err != nil {
		log.Error("dial http rpc", "err", err)
		os.Exit(2)
	}
	defer httpClient.Close()

	contract := common.HexToAddress(*contractAddr)
	reader, err := chain.NewReader(httpClient, contract)
	if err != nil {
		log.Error("init contract reader", "err", err)
		os.Exit(2)
	}

	hub := notify.NewHub(log)
	fanout, err := notify.NewFanout(mirrorStore, hub, log)
	if err != nil {
		log.Error("init notification fanout", "err", err)
		os.Exit(2)
	}

	var recorder reconcile.Recorder
	if strings.TrimSpace(*journalDriver) != "" {
		j, err := journal.New(journal.Config{
			Driver:  *journalDriver,
			Brokers: splitCommaList(*journalBrokers),
			Topic:   *journalTopic,
		})
		if err != nil {
			log.Error("init audit journal", "err", err)
			os.Exit(2)
		}
		defer j.Close()
		recorder = j
		log.Info("audit journal enabled", "driver", *journalDriver, "topic", *journalTopic)
	}

	engine, err := reconcile.New(mirrorStore, users, reader, fanout, recorder, log)
	if err != nil {
		log.Error("init reconcile engine", "err", err)
		os.Exit(2)
	}

	watcher, err := chain.NewWatcher(chain.WatcherConfig{
		Contract:      contract,
		StartBlock:    *startBlock,
		BackfillBatch: *backfillBatch,
		ReconnectMin:  *reconnectMin,
		ReconnectMax:  *reconnectMax,
	}, wsClient, mirrorStore, engine, log)
	if err != nil {
		log.Error("init log watcher", "err", err)
		os.Exit(2)
	}

	handler, err := relayapi.NewHandler(relayapi.Config{
		FrontendOrigin: *frontendOrigin,
	}, mirrorStore, users, fanout, hub, idempotency.Source{}, log)
	if err != nil {
		log.Error("init api handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	watchErrCh := make(chan error, 1)
	go func() { watchErrCh <- watcher.Run(ctx) }()

	srvErrCh := make(chan error, 1)
	go func() {
		log.Info("wagr-relay listening", "addr", *listenAddr, "contract", contract.Hex())
		srvErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-watchErrCh:
		if err != nil && ctx.Err() == nil {
			log.Error("watcher stopped", "err", err)
		}
	case err := <-srvErrCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func splitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
