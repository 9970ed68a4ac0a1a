package engine

import (
	"context"

	"taskboard/internal/domain"
	"taskboard/internal/events"
)

// TransitionOptions identify one status-changing attempt. ExpectedVersion is
// the optimistic-concurrency token from the caller's last read.
type TransitionOptions struct {
	TaskID          string
	ActorID         string
	ExpectedVersion int64
}

type transitionOp struct {
	name      string
	eventType string
	target    domain.Status
	// needsOwnership: the operation is only legal for the current claimant.
	needsOwnership bool
}

var (
	opClaim    = transitionOp{name: "claim", eventType: events.TypeTaskClaimed, target: domain.ClaimedTaken()}
	opStart    = transitionOp{name: "start", eventType: events.TypeTaskStarted, target: domain.ClaimedOngoing(), needsOwnership: true}
	opPause    = transitionOp{name: "pause", eventType: events.TypeTaskPaused, target: domain.ClaimedTaken(), needsOwnership: true}
	opRelease  = transitionOp{name: "release", eventType: events.TypeTaskReleased, target: domain.Available(), needsOwnership: true}
	opComplete = transitionOp{name: "complete", eventType: events.TypeTaskCompleted, target: domain.Completed(), needsOwnership: true}
)

// Claim takes an available task for the actor.
func (e Engine) Claim(ctx context.Context, opts TransitionOptions) (domain.Task, []RuleResult, error) {
	return e.transition(ctx, opClaim, opts)
}

// StartWork opens a work session on a task the actor holds.
func (e Engine) StartWork(ctx context.Context, opts TransitionOptions) (domain.Task, []RuleResult, error) {
	return e.transition(ctx, opStart, opts)
}

// PauseWork closes the work session, keeping the claim.
func (e Engine) PauseWork(ctx context.Context, opts TransitionOptions) (domain.Task, []RuleResult, error) {
	return e.transition(ctx, opPause, opts)
}

// Release returns a claimed task to the pool. Only the claimant may release.
func (e Engine) Release(ctx context.Context, opts TransitionOptions) (domain.Task, []RuleResult, error) {
	return e.transition(ctx, opRelease, opts)
}

// Complete moves a claimed task to its terminal state.
func (e Engine) Complete(ctx context.Context, opts TransitionOptions) (domain.Task, []RuleResult, error) {
	return e.transition(ctx, opComplete, opts)
}

// transition performs one status change as a single conditional write. The
// precondition check before the write and the reclassification after a CAS
// miss use the same mapping, both derived from a fresh read.
func (e Engine) transition(ctx context.Context, op transitionOp, opts TransitionOptions) (domain.Task, []RuleResult, error) {
	t, err := e.Repo.GetTaskRow(ctx, opts.TaskID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if err := classifyAgainstState(op, t, opts.ActorID); err != nil {
		return domain.Task{}, nil, err
	}

	prev := t.Status
	now := e.nowString()
	t.Status = op.target
	t.UpdatedAt = now
	switch op.target.Kind {
	case domain.StatusClaimed:
		if prev.Kind == domain.StatusAvailable {
			actor := opts.ActorID
			t.ClaimedBy = &actor
			t.ClaimedAt = &now
		}
	case domain.StatusAvailable:
		t.ClaimedBy = nil
		t.ClaimedAt = nil
	case domain.StatusCompleted:
		t.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, nil, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateTaskCAS(ctx, tx, t, opts.ExpectedVersion)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if !ok {
		tx.Rollback()
		return domain.Task{}, nil, e.classifyConflict(ctx, op, opts)
	}
	prevState := prev.State()
	ev := domain.TransitionEvent{
		ResourceType: "task",
		ResourceID:   t.ID,
		ProjectID:    t.ProjectID,
		ActorID:      opts.ActorID,
		PrevState:    &prevState,
		NewState:     t.Status.State(),
		TaskTypeID:   t.TypeID,
	}
	if err := e.Events.Append(ctx, tx, op.eventType, t.ProjectID, "task", t.ID, opts.ActorID, events.TransitionPayload(ev)); err != nil {
		return domain.Task{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, nil, err
	}

	results, err := e.EvaluateRules(ctx, ev)
	if err != nil {
		return domain.Task{}, nil, err
	}
	fresh, err := e.Repo.GetTask(ctx, t.ID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	return fresh, results, nil
}

// classifyAgainstState maps the current row state to the discriminated
// outcome for an attempted operation, ignoring the version token. A nil
// return means the transition is legal for this actor and only the CAS can
// still refuse it.
func classifyAgainstState(op transitionOp, t domain.Task, actorID string) error {
	if !domain.CanTransition(t.Status, op.target) {
		// Claim against a claimed task is an ownership conflict, not a
		// transition shape problem.
		if op.name == "claim" && t.Status.IsClaimed() {
			return ErrAlreadyClaimed
		}
		return InvalidTransitionError{From: t.Status.State(), To: op.target.State()}
	}
	if op.needsOwnership {
		if t.ClaimedBy == nil || *t.ClaimedBy != actorID {
			return ErrNotAuthorized
		}
	}
	return nil
}

// classifyConflict re-derives the reason for a CAS miss from fresh state.
// The miss itself does not say why; the re-read does:
//  1. row gone            -> not found
//  2. transition illegal  -> invalid transition / already claimed
//  3. legal but stale     -> ownership conflict or version conflict
func (e Engine) classifyConflict(ctx context.Context, op transitionOp, opts TransitionOptions) error {
	fresh, err := e.Repo.GetTaskRow(ctx, opts.TaskID)
	if err != nil {
		return err
	}
	if err := classifyAgainstState(op, fresh, opts.ActorID); err != nil {
		return err
	}
	return ErrVersionConflict
}
