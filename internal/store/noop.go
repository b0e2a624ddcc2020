// Package store holds journal implementations that need no backing database.
package store

import (
	"context"
	"fmt"
	"time"

	"chart-rsi/internal/model"
)

// Noop is the journal used when no SQLite path is configured. It accepts and
// discards every write.
type Noop struct{}

var _ model.AnalysisJournal = Noop{}

func (Noop) Save(context.Context, *model.Analysis) error { return nil }

func (Noop) Get(_ context.Context, id string) (*model.Analysis, error) {
	return nil, fmt.Errorf("%w: %s (journal disabled)", model.ErrNotFound, id)
}

func (Noop) List(context.Context, int) ([]model.Summary, error) { return []model.Summary{}, nil }

func (Noop) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (Noop) Close() error { return nil }
