// Package idempotency defines replay storage for operations callers may retry
// after an ambiguous failure.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
)

// Record stores the outcome of one completed operation.
type Record struct {
	Key         string    `db:"idempotency_key"`
	Operation   string    `db:"operation"`
	ActorID     string    `db:"actor_id"`
	RequestHash string    `db:"request_hash"` // SHA256 of the canonical request
	Response    []byte    `db:"response"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// Store persists records. Save runs inside the business transaction so a
// record exists if and only if the operation committed.
type Store interface {
	// Lookup returns (nil, nil) when the key was never used for operation.
	Lookup(ctx context.Context, key, operation string) (*Record, error)
	// Save fails with DUPLICATE_ENTRY when the key is already stored.
	Save(ctx context.Context, rec Record) error
}

// RequestHash is the SHA256 of the JSON encoding of request.
func RequestHash(request any) (string, error) {
	b, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("hash request: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Replay checks a stored record against the current request and decodes its
// response into out. A different request hash fails with IDEMPOTENCY_CONFLICT.
func Replay(rec *Record, requestHash string, out any) error {
	if rec.RequestHash != requestHash {
		return apperror.NewIdempotencyMismatch(rec.Key).
			WithDetail("operation", rec.Operation).
			WithDetail("stored_request_hash", rec.RequestHash).
			WithDetail("request_request_hash", requestHash)
	}
	if err := json.Unmarshal(rec.Response, out); err != nil {
		return fmt.Errorf("decode stored response: %w", err)
	}
	return nil
}
