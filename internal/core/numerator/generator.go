package numerator

import (
	"context"
	"time"
)

// Generator generates sequential reference numbers.
// Implementations live in pkg/numerator (Postgres) and storage/memory.
//
// Callers obtain numbers before opening their business transaction so that
// concurrent receptions never conflict on the sequence row.
type Generator interface {
	// GetNextNumber generates the next number, e.g. REC-2024-00001.
	GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)

	// SetNextNumber sets the current value (for data migrations).
	SetNextNumber(ctx context.Context, cfg Config, period time.Time, value int64) error
}
