// Package store provides the content store backing the pipeline: classroom
// uploads and chat messages are read-only inputs, generated insights are
// written back as one row per (classroom, insight type).
package store

import (
	"context"
	"fmt"
	"time"

	"cogni/internal/config"
	"cogni/internal/core"
)

// Store is the persistence contract the pipeline runs against. Read methods
// return (nil, nil) when the row does not exist.
type Store interface {
	// ListUploads returns all uploads for a classroom in creation order.
	ListUploads(ctx context.Context, classroomID string) ([]core.Upload, error)

	// ListMessages returns chat messages for a classroom sent at or after
	// since, in creation order.
	ListMessages(ctx context.Context, classroomID string, since time.Time) ([]core.ChatMessage, error)

	// GetStudyGuide returns the live study guide for a classroom.
	GetStudyGuide(ctx context.Context, classroomID string) (*core.StudyGuide, error)

	// GetClusterState returns the persisted clustering state for a classroom.
	GetClusterState(ctx context.Context, classroomID string) (*core.ClusterState, error)

	// GetConfusionSummary returns the latest confusion summary for a classroom.
	GetConfusionSummary(ctx context.Context, classroomID string) (*core.ConfusionSummary, error)

	// SaveStudyGuide persists the guide and its clustering state in a single
	// transaction. Either both rows update or neither does.
	SaveStudyGuide(ctx context.Context, guide *core.StudyGuide, state *core.ClusterState) error

	// SaveConfusionSummary upserts the confusion summary row for a classroom.
	SaveConfusionSummary(ctx context.Context, summary *core.ConfusionSummary) error

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Open creates a store for the configured driver.
func Open(cfg config.Store) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresStore(cfg.DSN)
	case "sqlite":
		return NewSQLiteStore(cfg.DataDir)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
}

// summaryMetadata is the metadata column payload for confusion summary rows.
type summaryMetadata struct {
	ID          string    `json:"id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	GeneratedAt time.Time `json:"generated_at"`
}
