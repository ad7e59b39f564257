// Package idempotency derives deduplication keys and request fingerprints
// and decides whether a claimed key is a replay or a conflict.
//
// The key space itself is a unique constraint in the store; claiming is an
// insert-if-absent, never a read followed by a write.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
)

const maxKeyLen = 255

func scoped(scope domain.IdempotencyScope, key string) string {
	return string(scope) + ":" + key
}

func BankKey(providerTxID string) string {
	return scoped(domain.ScopeBank, providerTxID)
}

func ChainKey(txid string, eventIndex int) string {
	return scoped(domain.ScopeChain, fmt.Sprintf("%s:%d", txid, eventIndex))
}

// ScopeOf returns the scope a key was derived in.
func ScopeOf(key string) domain.IdempotencyScope {
	scope, _, _ := strings.Cut(key, ":")
	return domain.IdempotencyScope(scope)
}

// ClientKey validates a caller-supplied Idempotency-Key and places it in the
// client scope. A caller cannot reach the bank or chain scope whatever the
// key looks like.
func ClientKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	if len(key) > maxKeyLen {
		return "", domain.Errorf(domain.ErrIdempotencyKeyRequired, "idempotency key longer than %d bytes", maxKeyLen)
	}
	return scoped(domain.ScopeClient, key), nil
}

// MintFingerprint identifies a mint of one external transaction, so every
// key used for the same deposit describes the same logical request.
func MintFingerprint(providerTxID string) string {
	return fingerprint("mint", providerTxID)
}

func RedeemFingerprint(userID uuid.UUID, amountUnits int64) string {
	return fingerprint("redeem", userID.String(), strconv.FormatInt(amountUnits, 10))
}

func ChainFingerprint(txid string, eventIndex int, eventType, address string, amountUnits int64) string {
	return fingerprint("chain", txid, strconv.Itoa(eventIndex), eventType, address, strconv.FormatInt(amountUnits, 10))
}

func fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Resolve decides what to do with a key that was already claimed.
// A nil record means the key is free. A matching fingerprint is a replay of
// the stored job; anything else is a conflict.
func Resolve(existing *domain.IdempotencyRecord, requestHash string) (replay bool, err error) {
	if existing == nil {
		return false, nil
	}
	if existing.RequestHash != requestHash {
		return false, domain.Errorf(domain.ErrIdempotencyConflict, "key %q was used for a different request", existing.Key)
	}
	return true, nil
}
