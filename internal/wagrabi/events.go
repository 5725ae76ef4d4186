package wagrabi

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event names as emitted by the contract. Audit-event and notification
// rows reuse these spellings verbatim.
const (
	EventWagerCreated   = "WagerCreated"
	EventWagerCountered = "WagerCountered"
	EventWagerResolved  = "WagerResolved"
	EventWagerCancelled = "WagerCancelled"
)

// Event is a decoded contract log. The concrete type carries the payload;
// dispatch on it with a type switch.
type Event interface {
	Name() string
	WagerID() *big.Int
}

type WagerCreated struct {
	ID             *big.Int
	Creator        common.Address
	Stake          *big.Int
	Description    string
	AllowedCounter common.Address
}

func (WagerCreated) Name() string { return EventWagerCreated }

func (e WagerCreated) WagerID() *big.Int { return e.ID }

type WagerCountered struct {
	ID      *big.Int
	Counter common.Address
}

func (WagerCountered) Name() string { return EventWagerCountered }

func (e WagerCountered) WagerID() *big.Int { return e.ID }

type WagerResolved struct {
	ID             *big.Int
	Outcome        Outcome
	Winner         common.Address // zero address means draw
	ResolutionType ResolutionType
}

func (WagerResolved) Name() string { return EventWagerResolved }

func (e WagerResolved) WagerID() *big.Int { return e.ID }

type WagerCancelled struct {
	ID      *big.Int
	Creator common.Address
	Amount  *big.Int
}

func (WagerCancelled) Name() string { return EventWagerCancelled }

func (e WagerCancelled) WagerID() *big.Int { return e.ID }

// DecodeLog decodes a raw contract log into a typed event. A log whose
// first topic matches no Wagr event yields ErrUnknownEvent; a recognized
// topic with a payload that does not unpack yields ErrMalformedLog. Either
// way the log is dropped by the caller, never retried.
func DecodeLog(log types.Log) (Event, error) {
	parsed, err := contractABI()
	if err != nil {
		return nil, err
	}
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrMalformedLog)
	}

	ev, err := parsed.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	data, err := ev.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s data: %v", ErrMalformedLog, ev.Name, err)
	}

	switch ev.Name {
	case EventWagerCreated:
		if len(log.Topics) != 3 || len(data) != 3 {
			return nil, fmt.Errorf("%w: %s shape", ErrMalformedLog, ev.Name)
		}
		return WagerCreated{
			ID:             new(big.Int).SetBytes(log.Topics[1].Bytes()),
			Creator:        common.BytesToAddress(log.Topics[2].Bytes()),
			Stake:          data[0].(*big.Int),
			Description:    data[1].(string),
			AllowedCounter: data[2].(common.Address),
		}, nil

	case EventWagerCountered:
		if len(log.Topics) != 3 {
			return nil, fmt.Errorf("%w: %s shape", ErrMalformedLog, ev.Name)
		}
		return WagerCountered{
			ID:      new(big.Int).SetBytes(log.Topics[1].Bytes()),
			Counter: common.BytesToAddress(log.Topics[2].Bytes()),
		}, nil

	case EventWagerResolved:
		if len(log.Topics) != 2 || len(data) != 3 {
			return nil, fmt.Errorf("%w: %s shape", ErrMalformedLog, ev.Name)
		}
		return WagerResolved{
			ID:             new(big.Int).SetBytes(log.Topics[1].Bytes()),
			Outcome:        Outcome(data[0].(uint8)),
			Winner:         data[1].(common.Address),
			ResolutionType: ResolutionType(data[2].(uint8)),
		}, nil

	case EventWagerCancelled:
		if len(log.Topics) != 3 || len(data) != 1 {
			return nil, fmt.Errorf("%w: %s shape", ErrMalformedLog, ev.Name)
		}
		return WagerCancelled{
			ID:      new(big.Int).SetBytes(log.Topics[1].Bytes()),
			Creator: common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:  data[0].(*big.Int),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Name)
	}
}
