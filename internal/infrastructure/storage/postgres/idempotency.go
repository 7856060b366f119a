package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/idempotency"
	"stockledger/pkg/logger"
)

var _ idempotency.Store = (*IdempotencyStore)(nil)

// IdempotencyStore persists operation results keyed by (idempotency_key, operation).
// Save runs inside the caller's transaction, so a stored result exists exactly
// when the operation committed.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
	now       func() time.Time
}

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		txManager: txManager,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Lookup returns the unexpired record for key and operation, or (nil, nil).
func (s *IdempotencyStore) Lookup(ctx context.Context, key, operation string) (*idempotency.Record, error) {
	var rec idempotency.Record
	err := pgxscan.Get(ctx, s.txManager.GetQuerier(ctx), &rec, `
		SELECT idempotency_key, operation, actor_id, request_hash, response, created_at, expires_at
		FROM sys_idempotency
		WHERE idempotency_key = $1 AND operation = $2 AND expires_at > $3
	`, key, operation, s.now())
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return &rec, nil
}

// Save stores rec. A concurrent request that committed the same key first
// makes this fail with DUPLICATE_ENTRY and the caller's transaction roll back.
// An expired row under the same key is replaced.
func (s *IdempotencyStore) Save(ctx context.Context, rec idempotency.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.CreatedAt.Add(s.ttl)
	}

	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_idempotency (idempotency_key, operation, actor_id, request_hash, response, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key, operation) DO UPDATE
		SET actor_id = EXCLUDED.actor_id,
			request_hash = EXCLUDED.request_hash,
			response = EXCLUDED.response,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE sys_idempotency.expires_at <= EXCLUDED.created_at
	`, rec.Key, rec.Operation, rec.ActorID, rec.RequestHash, rec.Response, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return TranslateError(ctx, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewDuplicate("idempotency key", "sys_idempotency_pkey").
			WithDetail("idempotency_key", rec.Key)
	}
	return nil
}

// CleanupExpired removes expired records. Returns the number deleted.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_idempotency WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		logger.Info(ctx, "expired idempotency keys removed", "count", n)
	}
	return tag.RowsAffected(), nil
}
