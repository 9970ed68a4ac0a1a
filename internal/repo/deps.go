package repo

import (
	"context"
	"database/sql"

	"taskboard/internal/domain"
)

// ListDependencyIDs returns the outgoing "depends on" edges of a task.
func (r Repo) ListDependencyIDs(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT depends_on_task_id FROM task_deps WHERE task_id=? ORDER BY created_at ASC, depends_on_task_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// ListDependencySummaries joins edges with their target tasks.
func (r Repo) ListDependencySummaries(ctx context.Context, taskID string) ([]domain.DependencySummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT t.id, t.title, t.status, t.claim_phase, t.claimed_by
FROM task_deps d JOIN tasks t ON t.id = d.depends_on_task_id
WHERE d.task_id=? ORDER BY d.created_at ASC, t.id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DependencySummary
	for rows.Next() {
		var s domain.DependencySummary
		var kind string
		var phase, claimedBy sql.NullString
		if err := rows.Scan(&s.TaskID, &s.Title, &kind, &phase, &claimedBy); err != nil {
			return nil, err
		}
		status := domain.Status{Kind: domain.StatusKind(kind)}
		if phase.Valid {
			status.Phase = domain.ClaimPhase(phase.String)
		}
		s.State = status.State()
		if claimedBy.Valid {
			s.ClaimedBy = &claimedBy.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DependencyExists(ctx context.Context, taskID, dependsOnTaskID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM task_deps WHERE task_id=? AND depends_on_task_id=?`, taskID, dependsOnTaskID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) InsertDependency(ctx context.Context, tx *sql.Tx, taskID, dependsOnTaskID, createdAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_deps(task_id, depends_on_task_id, created_at) VALUES (?,?,?)`,
		taskID, dependsOnTaskID, createdAt)
	return err
}

// DeleteDependency removes one edge; false means it was not present.
func (r Repo) DeleteDependency(ctx context.Context, tx *sql.Tx, taskID, dependsOnTaskID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE task_id=? AND depends_on_task_id=?`, taskID, dependsOnTaskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
