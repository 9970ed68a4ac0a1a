package engine

import (
	"context"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// AddDependency records "task depends on target" after the validation chain:
// self edge, cross project, completed target, duplicate, cycle — in that
// order, short-circuiting. Requires manager or admin role in the project.
func (e Engine) AddDependency(ctx context.Context, taskID, dependsOnTaskID, actorID string) error {
	if taskID == dependsOnTaskID {
		return validationErrf(CodeSelfDependency, "task cannot depend on itself")
	}
	task, err := e.Repo.GetTaskRow(ctx, taskID)
	if err != nil {
		return err
	}
	target, err := e.Repo.GetTaskRow(ctx, dependsOnTaskID)
	if err != nil {
		return err
	}
	if task.ProjectID != target.ProjectID {
		return validationErrf(CodeCrossProject, "tasks %s and %s are in different projects", taskID, dependsOnTaskID)
	}
	if err := e.requireManager(ctx, task.ProjectID, actorID); err != nil {
		return err
	}
	if target.Status.IsTerminal() {
		return validationErrf(CodeTargetCompleted, "dependency target %s is already completed", dependsOnTaskID)
	}
	exists, err := e.Repo.DependencyExists(ctx, taskID, dependsOnTaskID)
	if err != nil {
		return err
	}
	if exists {
		return validationErrf(CodeDuplicateDependency, "dependency %s -> %s already exists", taskID, dependsOnTaskID)
	}
	cycle, err := e.wouldCycle(ctx, taskID, dependsOnTaskID)
	if err != nil {
		return err
	}
	if cycle {
		return validationErrf(CodeCycleDetected, "dependency %s -> %s would create a cycle", taskID, dependsOnTaskID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDependency(ctx, tx, taskID, dependsOnTaskID, e.nowString()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeDependencyAdded, task.ProjectID, "task", taskID, actorID, events.EventPayload{
		"depends_on": dependsOnTaskID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// wouldCycle walks breadth-first from the proposed target's own outgoing
// edges. Reaching the source means the target already transitively depends
// on it, so the new edge would close a cycle. The visited set bounds the walk
// to each reachable node once.
func (e Engine) wouldCycle(ctx context.Context, sourceID, targetID string) (bool, error) {
	visited := map[string]bool{targetID: true}
	queue := []string{targetID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		deps, err := e.Repo.ListDependencyIDs(ctx, current)
		if err != nil {
			return false, err
		}
		for _, dep := range deps {
			if dep == sourceID {
				return true, nil
			}
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return false, nil
}

// DeleteDependency removes one edge. No cycle check is needed on deletion.
func (e Engine) DeleteDependency(ctx context.Context, taskID, dependsOnTaskID, actorID string) error {
	task, err := e.Repo.GetTaskRow(ctx, taskID)
	if err != nil {
		return err
	}
	if err := e.requireManager(ctx, task.ProjectID, actorID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	removed, err := e.Repo.DeleteDependency(ctx, tx, taskID, dependsOnTaskID)
	if err != nil {
		return err
	}
	if !removed {
		return repo.ErrNotFound
	}
	if err := e.Events.Append(ctx, tx, events.TypeDependencyRemoved, task.ProjectID, "task", taskID, actorID, events.EventPayload{
		"depends_on": dependsOnTaskID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Dependencies returns the summaries for a task's outgoing edges.
func (e Engine) Dependencies(ctx context.Context, taskID string) ([]domain.DependencySummary, error) {
	if _, err := e.Repo.GetTaskRow(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListDependencySummaries(ctx, taskID)
}
