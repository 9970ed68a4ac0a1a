package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

func (env testEnv) createWorkflowAndRule(t *testing.T, targetState string) (domain.Workflow, domain.Rule) {
	t.Helper()
	w, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		ProjectID: "proj-1", Name: "automation", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	rl, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		WorkflowID: w.ID, Name: "on " + targetState,
		ResourceType: "task", TargetState: targetState,
		Action: "notify", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return w, rl
}

func TestRuleAppliedOnceThenSuppressed(t *testing.T) {
	env := newTestEnv(t)
	_, rl := env.createWorkflowAndRule(t, "taken")
	task := env.createTask(t, "automated")

	_, results, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(results) != 1 || results[0].RuleID != rl.ID || results[0].Outcome != engine.OutcomeApplied {
		t.Fatalf("first firing: %+v", results)
	}

	// Reach the same state again: release, claim. The ledger suppresses.
	if _, _, err := env.Engine.Release(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 2}); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, results, err = env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "bob", ExpectedVersion: 3})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != engine.OutcomeSuppressed || results[0].Reason != engine.ReasonIdempotent {
		t.Fatalf("second firing: %+v", results)
	}
}

func TestRuleIdempotencyIsPerResource(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflowAndRule(t, "taken")
	a := env.createTask(t, "first")
	b := env.createTask(t, "second")

	_, ra, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: a.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim a: %v", err)
	}
	_, rb, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: b.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim b: %v", err)
	}
	if ra[0].Outcome != engine.OutcomeApplied || rb[0].Outcome != engine.OutcomeApplied {
		t.Fatalf("per-resource firing: a=%+v b=%+v", ra, rb)
	}
}

func TestRuleTypeFilter(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{ProjectID: "proj-1", Name: "wf", ActorID: "tester"})
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if _, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		WorkflowID: w.ID, Name: "design only", ResourceType: "task",
		TaskTypeID: "design", TargetState: "taken", Action: "notify", ActorID: "tester",
	}); err != nil {
		t.Fatalf("rule: %v", err)
	}

	other, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Title: "tech", TypeID: "technical", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create technical: %v", err)
	}
	_, results, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: other.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim technical: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("type filter leaked: %+v", results)
	}

	match, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Title: "mock", TypeID: "design", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create design: %v", err)
	}
	_, results, err = env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: match.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim design: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != engine.OutcomeApplied {
		t.Fatalf("filtered rule did not fire: %+v", results)
	}
}

func TestInactiveRuleIsNotEvaluated(t *testing.T) {
	env := newTestEnv(t)
	_, rl := env.createWorkflowAndRule(t, "taken")
	if err := env.Engine.SetRuleActive(env.Ctx, rl.ID, "tester", false); err != nil {
		t.Fatalf("disable rule: %v", err)
	}
	task := env.createTask(t, "quiet")
	_, results, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Absent from results entirely, not reported as suppressed.
	if len(results) != 0 {
		t.Fatalf("inactive rule surfaced: %+v", results)
	}
}

func TestWorkflowCascadeOverwritesRuleFlags(t *testing.T) {
	env := newTestEnv(t)
	w, r1 := env.createWorkflowAndRule(t, "taken")
	r2, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		WorkflowID: w.ID, Name: "on completed", ResourceType: "task",
		TargetState: "completed", Action: "notify", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("second rule: %v", err)
	}
	if err := env.Engine.SetRuleActive(env.Ctx, r1.ID, "tester", false); err != nil {
		t.Fatalf("disable r1: %v", err)
	}

	// Deactivate then reactivate the workflow: the cascade overwrites the
	// individual toggle on r1.
	if err := env.Engine.SetWorkflowActive(env.Ctx, w.ID, "tester", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	for _, id := range []string{r1.ID, r2.ID} {
		got, err := env.Engine.Repo.GetRule(env.Ctx, id)
		if err != nil {
			t.Fatalf("get rule: %v", err)
		}
		if got.Active {
			t.Fatalf("rule %s still active after cascade off", id)
		}
	}

	if err := env.Engine.SetWorkflowActive(env.Ctx, w.ID, "tester", true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	for _, id := range []string{r1.ID, r2.ID} {
		got, err := env.Engine.Repo.GetRule(env.Ctx, id)
		if err != nil {
			t.Fatalf("get rule: %v", err)
		}
		if !got.Active {
			t.Fatalf("rule %s inactive after cascade on", id)
		}
	}
}

func TestInactiveWorkflowMutesActiveRules(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.createWorkflowAndRule(t, "taken")
	if err := env.Engine.SetWorkflowActive(env.Ctx, w.ID, "tester", false); err != nil {
		t.Fatalf("deactivate workflow: %v", err)
	}
	task := env.createTask(t, "muted")
	_, results, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("muted workflow fired: %+v", results)
	}
}

func TestRuleEffectFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	_, rl := env.createWorkflowAndRule(t, "taken")
	env.Engine.Action = func(ctx context.Context, rule domain.Rule, ev domain.TransitionEvent) (string, error) {
		return fmt.Sprintf("%s(%s)", rule.Action, ev.ResourceID), errors.New("webhook down")
	}
	task := env.createTask(t, "fragile")
	got, results, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("transition must survive effect failure: %v", err)
	}
	if got.Status.State() != "taken" {
		t.Fatalf("state after failed effect: %s", got.Status.State())
	}
	if len(results) != 1 || results[0].RuleID != rl.ID || results[0].Err == nil {
		t.Fatalf("failure not reported: %+v", results)
	}
	// The ledger entry stands; the rule does not retry on re-entry.
	if _, _, err := env.Engine.Release(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 2}); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, results, err = env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 3})
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != engine.OutcomeSuppressed {
		t.Fatalf("failed effect retried: %+v", results)
	}
}

func TestRuleTargetValidation(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{ProjectID: "proj-1", Name: "wf", ActorID: "tester"})
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	cases := []struct {
		name string
		opts engine.RuleCreateOptions
		code string
	}{
		{"bad resource", engine.RuleCreateOptions{ResourceType: "epic", TargetState: "taken"}, engine.CodeInvalidResourceType},
		{"bad task state", engine.RuleCreateOptions{ResourceType: "task", TargetState: "paused"}, engine.CodeInvalidTaskState},
		{"card with type filter", engine.RuleCreateOptions{ResourceType: "card", TaskTypeID: "design", TargetState: "done"}, engine.CodeTaskTypeNotAllowed},
		{"bad card state", engine.RuleCreateOptions{ResourceType: "card", TargetState: "taken"}, engine.CodeInvalidCardState},
		{"unknown type filter", engine.RuleCreateOptions{ResourceType: "task", TaskTypeID: "ops", TargetState: "taken"}, engine.CodeUnknownTaskType},
		{"unknown action", engine.RuleCreateOptions{ResourceType: "task", TargetState: "taken", Action: "page_everyone"}, engine.CodeUnknownAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := tc.opts
			opts.WorkflowID = w.ID
			opts.ActorID = "tester"
			if opts.Name == "" {
				opts.Name = tc.name
			}
			if opts.Action == "" {
				opts.Action = "notify"
			}
			_, err := env.Engine.CreateRule(env.Ctx, opts)
			wantValidationCode(t, err, tc.code)
		})
	}
}

func TestDeleteWorkflowRemovesRules(t *testing.T) {
	env := newTestEnv(t)
	w, rl := env.createWorkflowAndRule(t, "taken")
	if err := env.Engine.DeleteWorkflow(env.Ctx, w.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	task := env.createTask(t, "orphan free")
	_, results, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("rule %s survived workflow deletion: %+v", rl.ID, results)
	}
}

func TestWorkflowAdminRoleGate(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddMember(env.Ctx, "proj-1", "tester", "worker", "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	_, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{ProjectID: "proj-1", Name: "nope", ActorID: "worker"})
	if !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("member creates workflow: want ErrNotAuthorized, got %v", err)
	}
	w, _ := env.createWorkflowAndRule(t, "taken")
	if err := env.Engine.SetWorkflowActive(env.Ctx, w.ID, "worker", false); !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("member toggles workflow: want ErrNotAuthorized, got %v", err)
	}
}
