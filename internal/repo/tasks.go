package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

const taskColumns = `id,project_id,type_id,title,COALESCE(description,''),priority,status,claim_phase,version,claimed_by,claimed_at,completed_at,milestone_id,card_id,created_at,updated_at`

type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(row taskScanner) (domain.Task, error) {
	var t domain.Task
	var kind string
	var phase, claimedBy, claimedAt, completedAt, milestoneID, cardID sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.TypeID, &t.Title, &t.Description, &t.Priority,
		&kind, &phase, &t.Version, &claimedBy, &claimedAt, &completedAt, &milestoneID, &cardID,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.Status{Kind: domain.StatusKind(kind)}
	if phase.Valid {
		t.Status.Phase = domain.ClaimPhase(phase.String)
	}
	if !t.Status.Valid() {
		return t, fmt.Errorf("task %s has corrupt status %q/%q", t.ID, kind, phase.String)
	}
	if claimedBy.Valid {
		t.ClaimedBy = &claimedBy.String
	}
	if claimedAt.Valid {
		t.ClaimedAt = &claimedAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if milestoneID.Valid {
		t.MilestoneID = &milestoneID.String
	}
	if cardID.Valid {
		t.CardID = &cardID.String
	}
	return t, nil
}

func statusColumns(s domain.Status) (string, any) {
	if s.Kind == domain.StatusClaimed {
		return string(s.Kind), string(s.Phase)
	}
	return string(s.Kind), nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	kind, phase := statusColumns(t.Status)
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,type_id,title,description,priority,status,claim_phase,version,claimed_by,claimed_at,completed_at,milestone_id,card_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.TypeID, t.Title, nullable(t.Description), t.Priority, kind, phase, t.Version,
		nullableStringPtr(t.ClaimedBy), nullableStringPtr(t.ClaimedAt), nullableStringPtr(t.CompletedAt),
		nullableStringPtr(t.MilestoneID), nullableStringPtr(t.CardID), t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask loads a task with its dependency summaries and blocked count.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	deps, err := r.ListDependencySummaries(ctx, id)
	if err != nil {
		return t, err
	}
	t.Dependencies = deps
	for _, d := range deps {
		if d.State != "completed" {
			t.BlockedCount++
		}
	}
	return t, nil
}

// GetTaskRow loads a task without dependency data, for conflict re-reads.
func (r Repo) GetTaskRow(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// UpdateTaskCAS is the single conditional write every task mutation goes
// through: it matches on (id, version) and bumps the version in the same
// statement. A false return means zero rows matched and the caller must
// re-read to find out why.
func (r Repo) UpdateTaskCAS(ctx context.Context, tx *sql.Tx, t domain.Task, expectedVersion int64) (bool, error) {
	kind, phase := statusColumns(t.Status)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	res, err := exec(`UPDATE tasks SET type_id=?, title=?, description=?, priority=?, status=?, claim_phase=?,
claimed_by=?, claimed_at=?, completed_at=?, milestone_id=?, card_id=?, updated_at=?, version=version+1
WHERE id=? AND version=?`,
		t.TypeID, t.Title, nullable(t.Description), t.Priority, kind, phase,
		nullableStringPtr(t.ClaimedBy), nullableStringPtr(t.ClaimedAt), nullableStringPtr(t.CompletedAt),
		nullableStringPtr(t.MilestoneID), nullableStringPtr(t.CardID), t.UpdatedAt,
		t.ID, expectedVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type TaskFilters struct {
	ProjectID string
	State     string
	TypeID    string
	ClaimedBy string
	Limit     int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.State != "" {
		st, err := domain.StatusFromState(f.State)
		if err != nil {
			return nil, err
		}
		kind, phase := statusColumns(st)
		clauses = append(clauses, "status=?")
		args = append(args, kind)
		if phase != nil {
			clauses = append(clauses, "claim_phase=?")
			args = append(args, phase)
		}
	}
	if f.TypeID != "" {
		clauses = append(clauses, "type_id=?")
		args = append(args, f.TypeID)
	}
	if f.ClaimedBy != "" {
		clauses = append(clauses, "claimed_by=?")
		args = append(args, f.ClaimedBy)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY priority ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertCard(ctx context.Context, c domain.Card) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cards(id,project_id,title,status,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Title, c.Status, c.Version, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCard(ctx context.Context, id string) (domain.Card, error) {
	var c domain.Card
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,title,status,version,created_at,updated_at FROM cards WHERE id=?`, id).
		Scan(&c.ID, &c.ProjectID, &c.Title, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// UpdateCardCAS mirrors UpdateTaskCAS for the card lifecycle.
func (r Repo) UpdateCardCAS(ctx context.Context, c domain.Card, expectedVersion int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE cards SET title=?, status=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		c.Title, c.Status, c.UpdatedAt, c.ID, expectedVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) ListCards(ctx context.Context, projectID string) ([]domain.Card, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,title,status,version,created_at,updated_at FROM cards WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Card
	for rows.Next() {
		var c domain.Card
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Title, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
