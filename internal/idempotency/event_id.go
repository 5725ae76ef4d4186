// Package idempotency derives the deterministic identifiers that make
// repeated writes safe: the chain-event id keyed by transaction hash and
// log index, and stable row ids for the historical sync tool.
package idempotency

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// EventID computes the audit-event primary key for a chain log.
// The same log always maps to the same id, so a replayed delivery
// collides on insert instead of creating a second row.
func EventID(txHash common.Hash, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash.Hex(), logIndex)
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const idLen = 32

// DeriveID computes a stable 32-character base62 row id from the given
// parts. The sync tool keys backfilled rows this way so a re-run upserts
// instead of duplicating.
//
//	DeriveID("notification", wagerID, userID, "WagerCreated")
func DeriveID(parts ...string) string {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return encodeID(h.Sum(nil))
}

// NewID returns a random 32-character base62 row id, the same shape the
// authentication layer uses for its primary keys.
func NewID() string {
	var buf [idLen]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("idempotency: read random bytes: %v", err))
	}
	return encodeID(buf[:])
}

// Source adapts the package functions to the id-source interfaces
// consumers accept.
type Source struct{}

func (Source) DeriveID(parts ...string) string { return DeriveID(parts...) }

func (Source) NewID() string { return NewID() }

func encodeID(raw []byte) string {
	out := make([]byte, idLen)
	for i := 0; i < idLen; i++ {
		out[i] = idAlphabet[int(raw[i%len(raw)])%len(idAlphabet)]
	}
	return string(out)
}
