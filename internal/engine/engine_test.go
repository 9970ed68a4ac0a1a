package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "org-1", "Project One", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) createTask(t *testing.T, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1",
		Title:     title,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task
}

func TestClaimStartCompleteFlow(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "build the thing")
	if task.Version != 1 || task.Status.State() != "available" {
		t.Fatalf("fresh task: state=%s version=%d", task.Status.State(), task.Version)
	}

	task, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if task.Status.State() != "taken" || task.Version != 2 {
		t.Fatalf("after claim: state=%s version=%d", task.Status.State(), task.Version)
	}
	if task.ClaimedBy == nil || *task.ClaimedBy != "alice" {
		t.Fatalf("claimant not recorded: %+v", task.ClaimedBy)
	}

	task, _, err = env.Engine.StartWork(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if task.Status.State() != "ongoing" || task.Version != 3 {
		t.Fatalf("after start: state=%s version=%d", task.Status.State(), task.Version)
	}

	task, _, err = env.Engine.PauseWork(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 3})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if task.Status.State() != "taken" {
		t.Fatalf("after pause: state=%s", task.Status.State())
	}

	task, _, err = env.Engine.Complete(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 4})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status.State() != "completed" || task.Version != 5 {
		t.Fatalf("after complete: state=%s version=%d", task.Status.State(), task.Version)
	}
	if task.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	// Completed is terminal.
	_, _, err = env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "bob", ExpectedVersion: 5})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("claim completed task: want InvalidTransitionError, got %v", err)
	}
}

func TestClaimOfClaimedTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "contested")
	if _, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// Fresh read: precheck already sees the claim.
	_, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "bob", ExpectedVersion: 2})
	if !errors.Is(err, engine.ErrAlreadyClaimed) {
		t.Fatalf("want ErrAlreadyClaimed, got %v", err)
	}
	// Stale read: CAS miss must reclassify to the same outcome, not a bare
	// version conflict.
	_, _, err = env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "bob", ExpectedVersion: 1})
	if !errors.Is(err, engine.ErrAlreadyClaimed) {
		t.Fatalf("stale claim: want ErrAlreadyClaimed, got %v", err)
	}
}

func TestOwnershipGate(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "mine")
	task, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	for name, fn := range map[string]func(context.Context, engine.TransitionOptions) (domain.Task, []engine.RuleResult, error){
		"start":    env.Engine.StartWork,
		"release":  env.Engine.Release,
		"complete": env.Engine.Complete,
	} {
		_, _, err := fn(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "bob", ExpectedVersion: task.Version})
		if !errors.Is(err, engine.ErrNotAuthorized) {
			t.Fatalf("%s by non-claimant: want ErrNotAuthorized, got %v", name, err)
		}
	}
}

func TestStaleVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "racy")
	title := "renamed"
	if _, err := env.Engine.EditTask(env.Ctx, engine.TaskEditOptions{
		TaskID: task.ID, ActorID: "tester", ExpectedVersion: 1, Title: &title,
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	// Task is still available, so the transition shape is legal; only the
	// version token is stale.
	_, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
	if !errors.Is(err, engine.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
	// Current version succeeds.
	if _, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 2}); err != nil {
		t.Fatalf("claim at current version: %v", err)
	}
}

func TestInvalidTransitionShapes(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "shapes")
	cases := []struct {
		name string
		fn   func(context.Context, engine.TransitionOptions) (domain.Task, []engine.RuleResult, error)
	}{
		{"start", env.Engine.StartWork},
		{"pause", env.Engine.PauseWork},
		{"release", env.Engine.Release},
		{"complete", env.Engine.Complete},
	}
	for _, tc := range cases {
		_, _, err := tc.fn(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
		var ite engine.InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("%s on available task: want InvalidTransitionError, got %v", tc.name, err)
		}
	}
}

func TestReleaseClearsClaim(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "loop")
	task, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	task, _, err = env.Engine.Release(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 2})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if task.Status.State() != "available" || task.ClaimedBy != nil || task.ClaimedAt != nil {
		t.Fatalf("after release: state=%s claimed_by=%v", task.Status.State(), task.ClaimedBy)
	}
	// The pool is open again for anyone.
	if _, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "bob", ExpectedVersion: 3}); err != nil {
		t.Fatalf("re-claim: %v", err)
	}
}

func TestTransitionMissingTask(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: "nope", ActorID: "alice", ExpectedVersion: 1})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "x", TypeID: "bogus", ActorID: "tester"})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("unknown type: want validation error, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "x", Priority: 9, ActorID: "tester"})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("priority out of range: want validation error, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "", ActorID: "tester"})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("empty title: want validation error, got %v", err)
	}
}

func TestEditTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "original")
	title := "updated"
	prio := 4
	edited, err := env.Engine.EditTask(env.Ctx, engine.TaskEditOptions{
		TaskID: task.ID, ActorID: "tester", ExpectedVersion: 1,
		Title: &title, Priority: &prio,
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Title != "updated" || edited.Priority != 4 || edited.Version != 2 {
		t.Fatalf("edit result: %+v", edited)
	}

	// Stale token.
	_, err = env.Engine.EditTask(env.Ctx, engine.TaskEditOptions{TaskID: task.ID, ActorID: "tester", ExpectedVersion: 1, Title: &title})
	if !errors.Is(err, engine.ErrVersionConflict) {
		t.Fatalf("stale edit: want ErrVersionConflict, got %v", err)
	}
}

func TestEditCompletedTaskRejected(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "short lived")
	var err error
	if task, _, err = env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 1}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if task, _, err = env.Engine.Complete(env.Ctx, engine.TransitionOptions{TaskID: task.ID, ActorID: "alice", ExpectedVersion: 2}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	title := "too late"
	_, err = env.Engine.EditTask(env.Ctx, engine.TaskEditOptions{TaskID: task.ID, ActorID: "tester", ExpectedVersion: task.Version, Title: &title})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("edit completed: want InvalidTransitionError, got %v", err)
	}
}

func TestMilestoneCardExclusivity(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Repo.InsertMilestone(env.Ctx, domain.Milestone{
		ID: "m-1", ProjectID: "proj-1", Title: "v1", CreatedAt: "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert milestone: %v", err)
	}
	card, err := env.Engine.CreateCard(env.Ctx, "proj-1", "board column", "tester")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Title: "torn", ActorID: "tester",
		MilestoneID: "m-1", CardID: card.ID,
	})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("both memberships: want validation error, got %v", err)
	}

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Title: "anchored", ActorID: "tester", MilestoneID: "m-1",
	})
	if err != nil {
		t.Fatalf("create with milestone: %v", err)
	}
	// Moving to a card must drop the milestone first; setting both is refused.
	cardID := card.ID
	_, err = env.Engine.EditTask(env.Ctx, engine.TaskEditOptions{
		TaskID: task.ID, ActorID: "tester", ExpectedVersion: 1, CardID: &cardID,
	})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("edit into both memberships: want validation error, got %v", err)
	}
	empty := ""
	moved, err := env.Engine.EditTask(env.Ctx, engine.TaskEditOptions{
		TaskID: task.ID, ActorID: "tester", ExpectedVersion: 1, MilestoneID: &empty, CardID: &cardID,
	})
	if err != nil {
		t.Fatalf("swap membership: %v", err)
	}
	if moved.MilestoneID != nil || moved.CardID == nil {
		t.Fatalf("membership after swap: milestone=%v card=%v", moved.MilestoneID, moved.CardID)
	}
}

func TestAddMemberGate(t *testing.T) {
	env := newTestEnv(t)
	// tester became admin at init; admin can add.
	if _, err := env.Engine.AddMember(env.Ctx, "proj-1", "tester", "mallory", "member"); err != nil {
		t.Fatalf("admin add: %v", err)
	}
	// Plain member cannot grant roles.
	_, err := env.Engine.AddMember(env.Ctx, "proj-1", "mallory", "mallory", "admin")
	if !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("member grants admin: want ErrNotAuthorized, got %v", err)
	}
	_, err = env.Engine.AddMember(env.Ctx, "proj-1", "tester", "eve", "owner")
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("unknown role: want validation error, got %v", err)
	}
}
