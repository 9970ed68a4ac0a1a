package repo

import (
	"context"
	"database/sql"

	"taskboard/internal/domain"
)

func (r Repo) InsertWorkflow(ctx context.Context, w domain.Workflow) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workflows(id,project_id,name,active,created_at) VALUES (?,?,?,?,?)`,
		w.ID, w.ProjectID, w.Name, w.Active, w.CreatedAt)
	return err
}

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	var w domain.Workflow
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,active,created_at FROM workflows WHERE id=?`, id).
		Scan(&w.ID, &w.ProjectID, &w.Name, &w.Active, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) ListWorkflows(ctx context.Context, projectID string) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,active,created_at FROM workflows WHERE project_id=? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workflow
	for rows.Next() {
		var w domain.Workflow
		if err := rows.Scan(&w.ID, &w.ProjectID, &w.Name, &w.Active, &w.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// DeleteWorkflow removes a workflow; its rules go with it (FK cascade).
func (r Repo) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflows WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetWorkflowActive flips the workflow flag and overwrites every owned rule's
// flag to the same value in one transaction.
func (r Repo) SetWorkflowActive(ctx context.Context, id string, active bool) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE workflows SET active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE rules SET active=? WHERE workflow_id=?`, active, id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanRule(row interface{ Scan(...any) error }) (domain.Rule, error) {
	var rl domain.Rule
	var taskType sql.NullString
	err := row.Scan(&rl.ID, &rl.WorkflowID, &rl.ResourceType, &taskType, &rl.TargetState, &rl.Name, &rl.Action, &rl.Active, &rl.CreatedAt)
	if err == sql.ErrNoRows {
		return rl, ErrNotFound
	}
	if err != nil {
		return rl, err
	}
	if taskType.Valid {
		rl.TaskTypeID = &taskType.String
	}
	return rl, nil
}

const ruleColumns = `id,workflow_id,resource_type,task_type_id,target_state,name,action,active,created_at`

func (r Repo) InsertRule(ctx context.Context, rl domain.Rule) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO rules(`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		rl.ID, rl.WorkflowID, rl.ResourceType, nullableStringPtr(rl.TaskTypeID), rl.TargetState, rl.Name, rl.Action, rl.Active, rl.CreatedAt)
	return err
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	return scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id=?`, id))
}

func (r Repo) ListRulesForWorkflow(ctx context.Context, workflowID string) ([]domain.Rule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE workflow_id=? ORDER BY created_at ASC, id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rl)
	}
	return res, rows.Err()
}

// ListActiveRules returns rules whose own flag and owning workflow flag are
// both set, for one project and resource kind. Activation state is read fresh
// here on every evaluation, never cached.
func (r Repo) ListActiveRules(ctx context.Context, projectID, resourceType string) ([]domain.Rule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.id,r.workflow_id,r.resource_type,r.task_type_id,r.target_state,r.name,r.action,r.active,r.created_at
FROM rules r JOIN workflows w ON w.id = r.workflow_id
WHERE w.project_id=? AND r.resource_type=? AND r.active=1 AND w.active=1
ORDER BY r.created_at ASC, r.id ASC`, projectID, resourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rl)
	}
	return res, rows.Err()
}

func (r Repo) SetRuleActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE rules SET active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimRuleExecution conditionally inserts the (rule, resource) ledger row.
// False means the row already existed: the rule has applied for this resource
// before and must be suppressed.
func (r Repo) ClaimRuleExecution(ctx context.Context, ex domain.RuleExecution) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO rule_executions(rule_id,resource_id,state,executed_at) VALUES (?,?,?,?)
ON CONFLICT(rule_id,resource_id) DO NOTHING`, ex.RuleID, ex.ResourceID, ex.State, ex.ExecutedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) RuleExecutionExists(ctx context.Context, ruleID, resourceID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM rule_executions WHERE rule_id=? AND resource_id=?`, ruleID, resourceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
