package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/wagr-app/wagr-relay/internal/wagrabi"
)

var wagrAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")

type fakeBackend struct {
	lastCall ethereum.CallMsg
	ret      []byte
	err      error
	head     uint64
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.lastCall = msg
	return b.ret, b.err
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return b.head, b.err
}

func wagerReturnData(t *testing.T, rec wagrabi.WagerRecord) []byte {
	t.Helper()

	addrT, _ := abi.NewType("address", "", nil)
	uint256T, _ := abi.NewType("uint256", "", nil)
	stringT, _ := abi.NewType("string", "", nil)
	uint8T, _ := abi.NewType("uint8", "", nil)

	args := abi.Arguments{
		{Type: addrT}, {Type: addrT}, {Type: addrT},
		{Type: uint256T}, {Type: uint256T}, {Type: uint256T},
		{Type: stringT}, {Type: uint8T}, {Type: uint8T},
	}
	data, err := args.Pack(
		rec.Creator, rec.Counter, rec.AllowedCounter,
		rec.CreatorStake, rec.CounterStake, rec.CreatedAt,
		rec.Description, uint8(rec.Status), uint8(rec.Outcome),
	)
	if err != nil {
		t.Fatalf("pack wager return: %v", err)
	}
	return data
}

func TestReader_ReadWager(t *testing.T) {
	t.Parallel()

	want := wagrabi.WagerRecord{
		Creator:        common.HexToAddress("0x01"),
		Counter:        common.HexToAddress("0x02"),
		AllowedCounter: common.HexToAddress("0x02"),
		CreatorStake:   big.NewInt(5_000_000),
		CounterStake:   big.NewInt(5_000_000),
		CreatedAt:      big.NewInt(1_700_000_000),
		Description:    "rain tomorrow",
		Status:         wagrabi.StatusCountered,
		Outcome:        wagrabi.OutcomeNone,
	}
	backend := &fakeBackend{ret: wagerReturnData(t, want)}
	r, err := NewReader(backend, wagrAddr)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	got, err := r.ReadWager(context.Background(), big.NewInt(7))
	if err != nil {
		t.Fatalf("ReadWager: %v", err)
	}
	if got.Creator != want.Creator || got.Counter != want.Counter {
		t.Fatalf("parties: %+v", got)
	}
	if got.CreatorStake.Cmp(want.CreatorStake) != 0 || got.Description != want.Description {
		t.Fatalf("record: %+v", got)
	}
	if got.Status != wagrabi.StatusCountered || got.Outcome != wagrabi.OutcomeNone {
		t.Fatalf("enums: status=%d outcome=%d", got.Status, got.Outcome)
	}

	if backend.lastCall.To == nil || *backend.lastCall.To != wagrAddr {
		t.Fatalf("call target: %v", backend.lastCall.To)
	}
	wantData, _ := wagrabi.PackWagersCall(big.NewInt(7))
	if string(backend.lastCall.Data) != string(wantData) {
		t.Fatalf("calldata mismatch")
	}
}

func TestReader_NextID(t *testing.T) {
	t.Parallel()

	uint256T, _ := abi.NewType("uint256", "", nil)
	ret, err := abi.Arguments{{Type: uint256T}}.Pack(big.NewInt(42))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	r, err := NewReader(&fakeBackend{ret: ret}, wagrAddr)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	next, err := r.NextID(context.Background())
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if next.Int64() != 42 {
		t.Fatalf("next id: got %s want 42", next)
	}
}

func TestReader_CallErrorIsWrapped(t *testing.T) {
	t.Parallel()

	r, err := NewReader(&fakeBackend{err: errors.New("connection refused")}, wagrAddr)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := r.ReadWager(context.Background(), big.NewInt(1)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewReader_RejectsZeroConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewReader(nil, wagrAddr); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil backend: %v", err)
	}
	if _, err := NewReader(&fakeBackend{}, common.Address{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero contract: %v", err)
	}
}
