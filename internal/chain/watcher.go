package chain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/wagr-app/wagr-relay/internal/metrics"
)

// Handler consumes raw contract logs in chain order.
type Handler interface {
	HandleLog(ctx context.Context, log types.Log) error
}

// Cursor persists the watcher's progress. mirror.Store satisfies it.
type Cursor interface {
	LastProcessedBlock(ctx context.Context, contract string) (block uint64, ok bool, err error)
	SaveProcessedBlock(ctx context.Context, contract string, block uint64) error
}

type WatcherConfig struct {
	Contract common.Address

	// StartBlock seeds the cursor on first run (contract deployment
	// block). Ignored once a cursor exists.
	StartBlock uint64

	// BackfillBatch caps the block range per FilterLogs query. Public
	// RPC providers reject unbounded ranges.
	BackfillBatch uint64

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
}

// Watcher streams contract logs into a Handler. On each (re)connect it
// first backfills the gap since the stored cursor with ranged FilterLogs
// queries, then switches to the live subscription. Handler errors are
// logged and skipped; the event dedupe downstream makes replays safe, and
// the historical sync tool repairs anything dropped.
type Watcher struct {
	cfg     WatcherConfig
	logs    LogSource
	cursor  Cursor
	handler Handler
	log     *slog.Logger
}

func NewWatcher(cfg WatcherConfig, logs LogSource, cursor Cursor, handler Handler, log *slog.Logger) (*Watcher, error) {
	if (cfg.Contract == common.Address{}) {
		return nil, fmt.Errorf("%w: zero contract address", ErrInvalidConfig)
	}
	if logs == nil || cursor == nil || handler == nil {
		return nil, fmt.Errorf("%w: nil log source/cursor/handler", ErrInvalidConfig)
	}
	if cfg.BackfillBatch == 0 {
		cfg.BackfillBatch = 5000
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{cfg: cfg, logs: logs, cursor: cursor, handler: handler, log: log}, nil
}

// Run watches until ctx is cancelled. A dropped subscription or a failed
// backfill reconnects with exponential backoff; the cursor guarantees no
// gap across reconnects.
func (w *Watcher) Run(ctx context.Context) error {
	backoff := w.cfg.ReconnectMin
	for {
		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.WatcherReconnects.Inc()
		w.log.Warn("log stream interrupted, reconnecting", "backoff", backoff, "err", err)

		if err := w.cfg.Sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > w.cfg.ReconnectMax {
			backoff = w.cfg.ReconnectMax
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) error {
	// Subscribe before backfilling so no log falls between the two.
	// Anything the subscription duplicates is deduped downstream.
	ch := make(chan types.Log, 64)
	sub, err := w.logs.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{w.cfg.Contract},
	}, ch)
	if err != nil {
		return fmt.Errorf("chain: subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	if err := w.backfill(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("chain: subscription closed: %w", err)
		case lg := <-ch:
			if lg.Removed {
				// Reorged-out log. The mirror follows the canonical
				// chain; the replacement log arrives separately.
				w.log.Warn("ignoring removed log", "block", lg.BlockNumber, "tx", lg.TxHash.Hex())
				continue
			}
			if err := w.handler.HandleLog(ctx, lg); err != nil {
				w.log.Error("log handler failed", "block", lg.BlockNumber, "tx", lg.TxHash.Hex(), "err", err)
			}
			// Blocks before this one are complete; this one may still
			// have logs in flight.
			if lg.BlockNumber > 0 {
				w.saveCursor(ctx, lg.BlockNumber-1)
			}
		}
	}
}

// backfill replays logs from the cursor to the current head in bounded
// ranges. The first block re-queried is the cursor block itself: its tail
// may not have been processed before the last shutdown.
func (w *Watcher) backfill(ctx context.Context) error {
	from := w.cfg.StartBlock
	if last, ok, err := w.cursor.LastProcessedBlock(ctx, w.cfg.Contract.Hex()); err != nil {
		return fmt.Errorf("chain: load cursor: %w", err)
	} else if ok && last >= from {
		from = last
	}

	for {
		head, err := w.headBlock(ctx)
		if err != nil {
			return err
		}
		if from > head {
			return nil
		}

		to := from + w.cfg.BackfillBatch - 1
		if to > head {
			to = head
		}

		logs, err := w.logs.FilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []common.Address{w.cfg.Contract},
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
		})
		if err != nil {
			return fmt.Errorf("chain: backfill %d-%d: %w", from, to, err)
		}
		for _, lg := range logs {
			if err := w.handler.HandleLog(ctx, lg); err != nil {
				w.log.Error("log handler failed during backfill", "block", lg.BlockNumber, "tx", lg.TxHash.Hex(), "err", err)
			}
		}
		w.log.Info("backfilled log range", "from", from, "to", to, "logs", len(logs))
		w.saveCursor(ctx, to)

		if to == head {
			return nil
		}
		from = to + 1
	}
}

func (w *Watcher) headBlock(ctx context.Context) (uint64, error) {
	head, err := w.logs.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: head block: %w", err)
	}
	return head, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w *Watcher) saveCursor(ctx context.Context, block uint64) {
	if err := w.cursor.SaveProcessedBlock(ctx, w.cfg.Contract.Hex(), block); err != nil {
		w.log.Error("save watcher cursor", "block", block, "err", err)
		return
	}
	metrics.LastProcessedBlock.Set(float64(block))
}
