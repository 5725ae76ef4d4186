// Package wagrabi is the codec for the deployed Wagr contract: it decodes
// raw logs into typed events and packs/unpacks the read calls the relay
// needs. The ABI is a fixed external interface; the contract itself is a
// trusted collaborator.
package wagrabi

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownEvent = errors.New("wagrabi: unknown event")
	ErrMalformedLog = errors.New("wagrabi: malformed log")
)

// ZeroAddress is the open-invitation / draw marker on-chain.
var ZeroAddress = common.Address{}

// Status mirrors the contract's Status enum.
type Status uint8

const (
	StatusPending Status = iota
	StatusCountered
	StatusResolved
	StatusCancelled
)

// Outcome mirrors the contract's Outcome enum.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeCreatorWon
	OutcomeCounterWon
	OutcomeDraw
)

// ResolutionType mirrors the contract's ResolutionType enum.
type ResolutionType uint8

const (
	ResolutionNone ResolutionType = iota
	ResolutionConceded
	ResolutionOwnerResolved
)

var (
	initOnce sync.Once
	initErr  error

	wagrABI abi.ABI
)

func contractABI() (abi.ABI, error) {
	initOnce.Do(func() {
		var err error
		wagrABI, err = abi.JSON(strings.NewReader(wagrABIJSON))
		if err != nil {
			initErr = fmt.Errorf("wagrabi: parse contract ABI: %w", err)
		}
	})
	return wagrABI, initErr
}

const wagrABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "stake", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "description", "type": "string"},
      {"indexed": false, "internalType": "address", "name": "allowedCounter", "type": "address"}
    ],
    "name": "WagerCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "counter", "type": "address"}
    ],
    "name": "WagerCountered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": false, "internalType": "uint8", "name": "outcome", "type": "uint8"},
      {"indexed": false, "internalType": "address", "name": "winner", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "resolutionType", "type": "uint8"}
    ],
    "name": "WagerResolved",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "WagerCancelled",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "name": "wagers",
    "outputs": [
      {"internalType": "address", "name": "creator", "type": "address"},
      {"internalType": "address", "name": "counter", "type": "address"},
      {"internalType": "address", "name": "allowedCounter", "type": "address"},
      {"internalType": "uint256", "name": "creatorStake", "type": "uint256"},
      {"internalType": "uint256", "name": "counterStake", "type": "uint256"},
      {"internalType": "uint256", "name": "createdAt", "type": "uint256"},
      {"internalType": "string", "name": "description", "type": "string"},
      {"internalType": "uint8", "name": "status", "type": "uint8"},
      {"internalType": "uint8", "name": "outcome", "type": "uint8"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "nextId",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`
