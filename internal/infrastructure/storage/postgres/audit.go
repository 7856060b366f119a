package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"stockledger/internal/core/id"
	"stockledger/internal/domain/audit"
)

var _ audit.Sink = (*AuditStore)(nil)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditEntry is a row of sys_audit.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	Action            string          `db:"action"`
	EntityType        string          `db:"entity_type"`
	EntityID          string          `db:"entity_id"`
	Severity          string          `db:"severity"`
	ActorID           string          `db:"actor_id"`
	ActorRole         string          `db:"actor_role"`
	CorrelationID     *string         `db:"correlation_id"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	Metadata          json.RawMessage `db:"metadata"`
	OccurredAt        time.Time       `db:"occurred_at"`
}

// changeSet is the stored form of an event's before/after states.
type changeSet struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
}

// AuditStore writes audit events to sys_audit. Change sets above the
// compression threshold are stored zstd-compressed.
type AuditStore struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int // bytes, default 10KB
}

// NewAuditStore creates a new audit store.
func NewAuditStore(txManager *TxManager) (*AuditStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditStore{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024,
	}, nil
}

// Record implements audit.Sink.
func (s *AuditStore) Record(ctx context.Context, event audit.Event) error {
	entry, err := s.entryFor(event)
	if err != nil {
		return err
	}

	_, err = s.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_audit (
			id, action, entity_type, entity_id, severity, actor_id, actor_role,
			correlation_id, changes, changes_compressed, compression_algo, metadata,
			occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.Severity,
		entry.ActorID, entry.ActorRole, entry.CorrelationID,
		entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo, entry.Metadata,
		entry.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) entryFor(event audit.Event) (AuditEntry, error) {
	entry := AuditEntry{
		ID:              id.New(),
		Action:          event.Action,
		EntityType:      event.EntityType,
		EntityID:        event.EntityID,
		Severity:        string(event.Severity),
		ActorID:         event.ActorID,
		ActorRole:       event.ActorRole,
		CompressionAlgo: CompressionNone,
		OccurredAt:      event.OccurredAt,
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if event.CorrelationID != "" {
		entry.CorrelationID = &event.CorrelationID
	}

	if event.Before != nil || event.After != nil {
		changes, err := json.Marshal(changeSet{Before: event.Before, After: event.After})
		if err != nil {
			return entry, fmt.Errorf("marshal changes: %w", err)
		}
		entry.Changes = changes
	}
	if event.Metadata != nil {
		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return entry, fmt.Errorf("marshal metadata: %w", err)
		}
		entry.Metadata = metadata
	}

	if len(entry.Changes) > s.compressThreshold {
		entry.ChangesCompressed = s.encoder.EncodeAll(entry.Changes, nil)
		entry.Changes = nil
		entry.CompressionAlgo = CompressionZstd
	}
	return entry, nil
}

// EntityHistory returns the newest audit entries for an entity, decompressed.
func (s *AuditStore) EntityHistory(ctx context.Context, entityType, entityID string, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := pgxscan.Select(ctx, s.txManager.GetQuerier(ctx), &entries, `
		SELECT id, action, entity_type, entity_id, severity, actor_id, actor_role,
			   correlation_id, changes, changes_compressed, compression_algo, metadata,
			   occurred_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at DESC, id DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	for i := range entries {
		e := &entries[i]
		if e.CompressionAlgo == CompressionZstd && len(e.ChangesCompressed) > 0 {
			decompressed, err := s.decoder.DecodeAll(e.ChangesCompressed, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress changes: %w", err)
			}
			e.Changes = decompressed
			e.ChangesCompressed = nil
		}
	}
	return entries, nil
}
