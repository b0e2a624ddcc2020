package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the HTTP layer from concrete storage implementations
// (SQLite journal, Redis fan-out). Each implementation satisfies one of them.

// AnalysisJournal persists finished analyses for later lookup.
type AnalysisJournal interface {
	// Save stores a finished analysis.
	Save(ctx context.Context, a *Analysis) error

	// Get returns the analysis with the given id.
	Get(ctx context.Context, id string) (*Analysis, error)

	// List returns up to limit summaries, newest first.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Prune deletes analyses created before cutoff and returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases underlying resources.
	Close() error
}

// AnalysisPublisher fans finished analyses out to other service instances.
type AnalysisPublisher interface {
	// Publish announces a finished analysis.
	Publish(ctx context.Context, a *Analysis) error

	// Subscribe streams published payloads until ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan []byte, error)

	// Close releases underlying resources.
	Close() error
}
