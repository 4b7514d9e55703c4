package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/sparkgoals/spark/store"
)

func (d *DB) CreateGoalGraph(ctx context.Context, create *store.GoalGraph) (*store.GoalGraph, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if v := create.VisionImage; v != nil {
		stmt := `INSERT INTO vision_image (uid, owner_id, created_ts, prompt, style, image_ref)
			VALUES (` + placeholders(6) + `) RETURNING id`
		if err := tx.QueryRowContext(ctx, stmt,
			v.UID, v.OwnerID, v.CreatedTs, v.Prompt, v.Style, v.ImageRef,
		).Scan(&v.ID); err != nil {
			return nil, fmt.Errorf("failed to create vision image: %w", err)
		}
	}

	goal := create.Goal
	stmt := `INSERT INTO goal (uid, owner_id, created_ts, title, emotions, vision_image_uid, is_completed)
		VALUES (` + placeholders(7) + `) RETURNING id`
	if err := tx.QueryRowContext(ctx, stmt,
		goal.UID, goal.OwnerID, goal.CreatedTs, goal.Title, goal.Emotions, goal.VisionImageUID, goal.IsCompleted,
	).Scan(&goal.ID); err != nil {
		return nil, fmt.Errorf("failed to create goal: %w", err)
	}

	milestone := create.Milestone
	stmt = `INSERT INTO milestone (uid, owner_id, created_ts, goal_uid, title)
		VALUES (` + placeholders(5) + `) RETURNING id`
	if err := tx.QueryRowContext(ctx, stmt,
		milestone.UID, milestone.OwnerID, milestone.CreatedTs, milestone.GoalUID, milestone.Title,
	).Scan(&milestone.ID); err != nil {
		return nil, fmt.Errorf("failed to create milestone: %w", err)
	}

	task := create.Task
	stmt = `INSERT INTO task (uid, owner_id, created_ts, goal_uid, milestone_uid, title, scheduled_ts, is_priority)
		VALUES (` + placeholders(8) + `) RETURNING id`
	if err := tx.QueryRowContext(ctx, stmt,
		task.UID, task.OwnerID, task.CreatedTs, task.GoalUID, task.MilestoneUID, task.Title, task.ScheduledTs, task.IsPriority,
	).Scan(&task.ID); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit goal graph: %w", err)
	}

	return create, nil
}

func (d *DB) ListUnsyncedRecords(ctx context.Context, find *store.FindUnsyncedRecord) ([]*store.SyncRecord, error) {
	query := `
		SELECT '` + store.RecordKindVisionImage + `' AS kind, uid, owner_id, created_ts FROM vision_image WHERE synced_ts IS NULL
		UNION ALL
		SELECT '` + store.RecordKindGoal + `', uid, owner_id, created_ts FROM goal WHERE synced_ts IS NULL
		UNION ALL
		SELECT '` + store.RecordKindMilestone + `', uid, owner_id, created_ts FROM milestone WHERE synced_ts IS NULL
		UNION ALL
		SELECT '` + store.RecordKindTask + `', uid, owner_id, created_ts FROM task WHERE synced_ts IS NULL
		ORDER BY created_ts ASC`

	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced records: %w", err)
	}
	defer rows.Close()

	list := make([]*store.SyncRecord, 0)
	for rows.Next() {
		var record store.SyncRecord
		if err := rows.Scan(&record.Kind, &record.UID, &record.OwnerID, &record.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan unsynced record: %w", err)
		}
		list = append(list, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unsynced records: %w", err)
	}

	return list, nil
}

func (d *DB) MarkRecordsSynced(ctx context.Context, refs []string, syncedTs int64) error {
	uidsByKind := map[string][]any{}
	for _, ref := range refs {
		kind, uid, ok := strings.Cut(ref, ":")
		if !ok {
			return fmt.Errorf("malformed record ref %q", ref)
		}
		switch kind {
		case store.RecordKindVisionImage, store.RecordKindGoal, store.RecordKindMilestone, store.RecordKindTask:
			uidsByKind[kind] = append(uidsByKind[kind], uid)
		default:
			return fmt.Errorf("unknown record kind in ref %q", ref)
		}
	}

	for kind, uids := range uidsByKind {
		args := append([]any{syncedTs}, uids...)
		stmt := `UPDATE ` + kind + ` SET synced_ts = ` + placeholder(1) + ` WHERE uid IN (` + placeholders(len(uids)) + `)`
		if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("failed to mark %s records synced: %w", kind, err)
		}
	}

	return nil
}
