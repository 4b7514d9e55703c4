package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// OnboardingSession model related methods.
	CreateOnboardingSession(ctx context.Context, create *OnboardingSession) (*OnboardingSession, error)
	ListOnboardingSessions(ctx context.Context, find *FindOnboardingSession) ([]*OnboardingSession, error)
	UpdateOnboardingSession(ctx context.Context, update *UpdateOnboardingSession) error
	DeleteOnboardingSessions(ctx context.Context, delete *DeleteOnboardingSession) error

	// CreateGoalGraph creates the goal/milestone/task/vision-image records
	// atomically in one transaction.
	CreateGoalGraph(ctx context.Context, create *GoalGraph) (*GoalGraph, error)

	// Sync bookkeeping for locally created records.
	ListUnsyncedRecords(ctx context.Context, find *FindUnsyncedRecord) ([]*SyncRecord, error)
	MarkRecordsSynced(ctx context.Context, refs []string, syncedTs int64) error
}
