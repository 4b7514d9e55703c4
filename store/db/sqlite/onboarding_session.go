package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sparkgoals/spark/store"
)

func (d *DB) CreateOnboardingSession(ctx context.Context, create *store.OnboardingSession) (*store.OnboardingSession, error) {
	fields := []string{"uid", "owner_id", "started_ts", "current_step", "is_completed", "answers"}
	placeholderValues := []any{
		create.UID, create.OwnerID, create.StartedTs, create.CurrentStep, create.IsCompleted, create.Answers,
	}
	if create.CompletedTs != nil {
		fields = append(fields, "completed_ts")
		placeholderValues = append(placeholderValues, *create.CompletedTs)
	}
	if create.MaterializedIDs != nil {
		fields = append(fields, "materialized_ids")
		placeholderValues = append(placeholderValues, *create.MaterializedIDs)
	}

	stmt := `INSERT INTO onboarding_session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to create onboarding session: %w", err)
	}

	return create, nil
}

func (d *DB) ListOnboardingSessions(ctx context.Context, find *store.FindOnboardingSession) ([]*store.OnboardingSession, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "onboarding_session.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "onboarding_session.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.OwnerID; v != nil {
		where, args = append(where, "onboarding_session.owner_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.IsCompleted; v != nil {
		where, args = append(where, "onboarding_session.is_completed = "+placeholder(len(args)+1)), append(args, *v)
	}

	// Most recently started first, id breaks ties from same-second inserts.
	query := `
		SELECT
			id, uid, owner_id, started_ts, completed_ts,
			current_step, is_completed, answers, materialized_ids
		FROM onboarding_session
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY onboarding_session.started_ts DESC, onboarding_session.id DESC`

	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
		if find.Offset != nil {
			query = fmt.Sprintf("%s OFFSET %d", query, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query onboarding sessions: %w", err)
	}
	defer rows.Close()

	list := make([]*store.OnboardingSession, 0)
	for rows.Next() {
		var session store.OnboardingSession
		var completedTs sql.NullInt64
		var materializedIDs sql.NullString

		if err := rows.Scan(
			&session.ID,
			&session.UID,
			&session.OwnerID,
			&session.StartedTs,
			&completedTs,
			&session.CurrentStep,
			&session.IsCompleted,
			&session.Answers,
			&materializedIDs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan onboarding session: %w", err)
		}

		if completedTs.Valid {
			session.CompletedTs = &completedTs.Int64
		}
		if materializedIDs.Valid {
			session.MaterializedIDs = &materializedIDs.String
		}

		list = append(list, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate onboarding sessions: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateOnboardingSession(ctx context.Context, update *store.UpdateOnboardingSession) error {
	set, args := []string{}, []any{}

	if v := update.CurrentStep; v != nil {
		set, args = append(set, "current_step = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.CompletedTs; v != nil {
		set, args = append(set, "completed_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.IsCompleted; v != nil {
		set, args = append(set, "is_completed = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Answers; v != nil {
		set, args = append(set, "answers = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.MaterializedIDs; v != nil {
		set, args = append(set, "materialized_ids = "+placeholder(len(args)+1)), append(args, *v)
	}

	// If no fields to update, return early
	if len(set) == 0 {
		return nil
	}

	args = append(args, update.ID)

	stmt := `UPDATE onboarding_session SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to update onboarding session: %w", err)
	}

	return nil
}

func (d *DB) DeleteOnboardingSessions(ctx context.Context, delete *store.DeleteOnboardingSession) error {
	if len(delete.IDs) == 0 {
		return nil
	}

	args := make([]any, 0, len(delete.IDs))
	for _, id := range delete.IDs {
		args = append(args, id)
	}

	stmt := `DELETE FROM onboarding_session WHERE id IN (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete onboarding sessions: %w", err)
	}

	return nil
}
