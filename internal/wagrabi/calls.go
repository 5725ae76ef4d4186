package wagrabi

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WagerRecord is the full on-chain wager as returned by wagers(uint256).
// Events carry partial data; Countered and Resolved handling re-reads the
// record to recover the creator and counter addresses.
type WagerRecord struct {
	Creator        common.Address
	Counter        common.Address
	AllowedCounter common.Address
	CreatorStake   *big.Int
	CounterStake   *big.Int
	CreatedAt      *big.Int // unix seconds
	Description    string
	Status         Status
	Outcome        Outcome
}

// PackWagersCall builds calldata for wagers(id).
func PackWagersCall(id *big.Int) ([]byte, error) {
	parsed, err := contractABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("wagers", id)
	if err != nil {
		return nil, fmt.Errorf("wagrabi: pack wagers call: %w", err)
	}
	return data, nil
}

// UnpackWagerRecord decodes the wagers(id) return data.
func UnpackWagerRecord(data []byte) (WagerRecord, error) {
	parsed, err := contractABI()
	if err != nil {
		return WagerRecord{}, err
	}
	vals, err := parsed.Unpack("wagers", data)
	if err != nil {
		return WagerRecord{}, fmt.Errorf("wagrabi: unpack wagers return: %w", err)
	}
	if len(vals) != 9 {
		return WagerRecord{}, fmt.Errorf("wagrabi: wagers return arity: got %d want 9", len(vals))
	}
	return WagerRecord{
		Creator:        vals[0].(common.Address),
		Counter:        vals[1].(common.Address),
		AllowedCounter: vals[2].(common.Address),
		CreatorStake:   vals[3].(*big.Int),
		CounterStake:   vals[4].(*big.Int),
		CreatedAt:      vals[5].(*big.Int),
		Description:    vals[6].(string),
		Status:         Status(vals[7].(uint8)),
		Outcome:        Outcome(vals[8].(uint8)),
	}, nil
}

// PackNextIDCall builds calldata for nextId().
func PackNextIDCall() ([]byte, error) {
	parsed, err := contractABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("nextId")
	if err != nil {
		return nil, fmt.Errorf("wagrabi: pack nextId call: %w", err)
	}
	return data, nil
}

// UnpackNextID decodes the nextId() return data.
func UnpackNextID(data []byte) (*big.Int, error) {
	parsed, err := contractABI()
	if err != nil {
		return nil, err
	}
	vals, err := parsed.Unpack("nextId", data)
	if err != nil {
		return nil, fmt.Errorf("wagrabi: unpack nextId return: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("wagrabi: nextId return arity: got %d want 1", len(vals))
	}
	return vals[0].(*big.Int), nil
}
