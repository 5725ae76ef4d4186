// Package chain talks to the Wagr contract: read-only calls over JSON-RPC
// and the log subscription the relay feeds on. The relay never sends
// transactions; users move funds from their own wallets.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/wagr-app/wagr-relay/internal/wagrabi"
)

var ErrInvalidConfig = errors.New("chain: invalid config")

// Backend is the subset of ethclient used for contract reads.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// LogSource is the subset of ethclient used for log streaming. The live
// subscription needs a websocket endpoint; ranged FilterLogs works over
// plain HTTP too.
type LogSource interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Dial connects an ethclient to the given RPC endpoint.
func Dial(ctx context.Context, rawURL string) (*ethclient.Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty rpc url", ErrInvalidConfig)
	}
	c, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rawURL, err)
	}
	return c, nil
}

// Reader reads current Wagr contract state at the latest block.
type Reader struct {
	backend  Backend
	contract common.Address
}

func NewReader(backend Backend, contract common.Address) (*Reader, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidConfig)
	}
	if (contract == common.Address{}) {
		return nil, fmt.Errorf("%w: zero contract address", ErrInvalidConfig)
	}
	return &Reader{backend: backend, contract: contract}, nil
}

// ReadWager fetches the on-chain record for one wager id.
func (r *Reader) ReadWager(ctx context.Context, id *big.Int) (wagrabi.WagerRecord, error) {
	data, err := wagrabi.PackWagersCall(id)
	if err != nil {
		return wagrabi.WagerRecord{}, err
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return wagrabi.WagerRecord{}, fmt.Errorf("chain: call wagers(%s): %w", id, err)
	}
	return wagrabi.UnpackWagerRecord(out)
}

// NextID fetches the id the next created wager will take. Existing wagers
// occupy ids 0..NextID-1.
func (r *Reader) NextID(ctx context.Context) (*big.Int, error) {
	data, err := wagrabi.PackNextIDCall()
	if err != nil {
		return nil, err
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call nextId(): %w", err)
	}
	return wagrabi.UnpackNextID(out)
}

// BlockNumber returns the current chain head.
func (r *Reader) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}
