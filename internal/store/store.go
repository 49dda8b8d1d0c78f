// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"newstrace/internal/models"
)

// TrackingStore persists tracking tasks and their checkpoints.
type TrackingStore interface {
	CreateTask(ctx context.Context, task *models.TrackingTask) error
	GetTask(ctx context.Context, id string) (*models.TrackingTask, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]models.TrackingTask, error)
	ActiveTasks(ctx context.Context) ([]models.TrackingTask, error)

	// CaptureCheckpoint stores cp if the task has none at cp.Offset.
	// It reports whether a new checkpoint was written.
	CaptureCheckpoint(ctx context.Context, trackingID string, cp models.Checkpoint) (bool, error)

	// CloseTask moves an active task to closed together with its final metrics.
	// It reports false when the task was not active.
	CloseTask(ctx context.Context, trackingID string, metrics models.TaskMetrics, closedAt time.Time) (bool, error)

	// FeedbackCandidates returns unconsumed tasks holding a checkpoint at offset,
	// most recently captured first.
	FeedbackCandidates(ctx context.Context, offset, limit int) ([]models.TrackingTask, error)
	CountFeedbackCandidates(ctx context.Context, offset int) (int, error)

	// MarkEvolved flags tasks as consumed by an evolution cycle and returns how
	// many were newly flagged.
	MarkEvolved(ctx context.Context, trackingIDs []string) (int, error)
}

// AuditSource resolves the audit result of a news item.
// A missing audit yields errors.ErrAuditNotFound.
type AuditSource interface {
	GetAudit(ctx context.Context, newsID string) (*models.AuditResult, error)
}

// AuditStore is an AuditSource that can also record audits.
type AuditStore interface {
	AuditSource
	SaveAudit(ctx context.Context, audit *models.AuditResult) error
}

// WeightStore keeps the append-only snapshot history and evolution log.
type WeightStore interface {
	// SaveSnapshot appends snap and returns it with its assigned version.
	SaveSnapshot(ctx context.Context, snap models.WeightSnapshot) (models.WeightSnapshot, error)
	// LatestSnapshot returns errors.ErrNoSnapshot when nothing was committed yet.
	LatestSnapshot(ctx context.Context) (models.WeightSnapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]models.WeightSnapshot, error)

	AppendEvolution(ctx context.Context, rec *models.EvolutionRecord) error
	ListEvolutions(ctx context.Context, limit int) ([]models.EvolutionRecord, error)
}

// DataStore bundles every persistence concern behind one handle.
type DataStore interface {
	TrackingStore
	AuditStore
	WeightStore
	Close() error
}

// TaskFilter represents filters for querying tracking tasks.
type TaskFilter struct {
	NewsID string
	Ticker string
	Status models.TaskStatus
	Limit  int
}
