package store

import (
	"context"
	"fmt"
)

// Record kinds used for sync record refs ("<kind>:<uid>").
const (
	RecordKindVisionImage = "vision_image"
	RecordKindGoal        = "goal"
	RecordKindMilestone   = "milestone"
	RecordKindTask        = "task"
)

// VisionImage is a generated vision-board image attached to a goal.
type VisionImage struct {
	ID        int32
	UID       string
	OwnerID   string
	CreatedTs int64
	Prompt    string
	Style     string
	ImageRef  string
	SyncedTs  *int64
}

// Goal is the object representing a user goal.
type Goal struct {
	ID             int32
	UID            string
	OwnerID        string
	CreatedTs      int64
	Title          string
	Emotions       string // JSON array string
	VisionImageUID *string
	IsCompleted    bool
	SyncedTs       *int64
}

// Milestone is an intermediate target under a goal.
type Milestone struct {
	ID        int32
	UID       string
	OwnerID   string
	CreatedTs int64
	GoalUID   string
	Title     string
	SyncedTs  *int64
}

// Task is a unit of work under a milestone.
type Task struct {
	ID           int32
	UID          string
	OwnerID      string
	CreatedTs    int64
	GoalUID      string
	MilestoneUID string
	Title        string
	ScheduledTs  *int64
	IsPriority   bool
	SyncedTs     *int64
}

// GoalGraph is the set of interdependent records created together when a
// completed onboarding session is materialized. VisionImage is optional;
// the remaining records are required and reference each other by UID.
type GoalGraph struct {
	OwnerID   string
	CreatedTs int64

	VisionImage *VisionImage
	Goal        *Goal
	Milestone   *Milestone
	Task        *Task
}

// SyncRecord is a lightweight reference to a locally created record that has
// not yet been pushed to the remote store.
type SyncRecord struct {
	Kind      string
	UID       string
	OwnerID   string
	CreatedTs int64
}

// Ref returns the record reference in "<kind>:<uid>" form.
func (r *SyncRecord) Ref() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.UID)
}

// FindUnsyncedRecord is the find condition for unsynced records.
type FindUnsyncedRecord struct {
	Limit *int
}

// CreateGoalGraph creates the goal graph records in a single transaction.
// Either all records exist afterwards or none do.
func (s *Store) CreateGoalGraph(ctx context.Context, create *GoalGraph) (*GoalGraph, error) {
	return s.driver.CreateGoalGraph(ctx, create)
}

// ListUnsyncedRecords lists locally created records that have not been
// marked as pushed to the remote store.
func (s *Store) ListUnsyncedRecords(ctx context.Context, find *FindUnsyncedRecord) ([]*SyncRecord, error) {
	return s.driver.ListUnsyncedRecords(ctx, find)
}

// MarkRecordsSynced stamps the given record refs as synchronized so the
// background reconciliation pass skips them.
func (s *Store) MarkRecordsSynced(ctx context.Context, refs []string, syncedTs int64) error {
	if len(refs) == 0 {
		return nil
	}
	return s.driver.MarkRecordsSynced(ctx, refs, syncedTs)
}
