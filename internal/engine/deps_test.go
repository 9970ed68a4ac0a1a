package engine_test

import (
	"errors"
	"testing"

	"taskboard/internal/engine"
	"taskboard/internal/repo"
)

func wantValidationCode(t *testing.T, err error, code string) {
	t.Helper()
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError %s, got %v", code, err)
	}
	if ve.Code != code {
		t.Fatalf("want code %s, got %s (%v)", code, ve.Code, err)
	}
}

func TestAddDependencySelfEdge(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "solo")
	err := env.Engine.AddDependency(env.Ctx, task.ID, task.ID, "tester")
	wantValidationCode(t, err, engine.CodeSelfDependency)
}

func TestAddDependencyCrossProject(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitProject(env.Ctx, "proj-2", "org-1", "Project Two", "tester"); err != nil {
		t.Fatalf("init second project: %v", err)
	}
	a := env.createTask(t, "here")
	b, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-2", Title: "there", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create in proj-2: %v", err)
	}
	err = env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "tester")
	wantValidationCode(t, err, engine.CodeCrossProject)
}

func TestAddDependencyCompletedTarget(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	b := env.createTask(t, "b")
	if _, _, err := env.Engine.Claim(env.Ctx, engine.TransitionOptions{TaskID: b.ID, ActorID: "tester", ExpectedVersion: 1}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, _, err := env.Engine.Complete(env.Ctx, engine.TransitionOptions{TaskID: b.ID, ActorID: "tester", ExpectedVersion: 2}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err := env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "tester")
	wantValidationCode(t, err, engine.CodeTargetCompleted)
}

func TestAddDependencyDuplicate(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	b := env.createTask(t, "b")
	if err := env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "tester"); err != nil {
		t.Fatalf("first edge: %v", err)
	}
	err := env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "tester")
	wantValidationCode(t, err, engine.CodeDuplicateDependency)
}

func TestAddDependencyCycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	b := env.createTask(t, "b")
	c := env.createTask(t, "c")
	// a -> b -> c
	if err := env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "tester"); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := env.Engine.AddDependency(env.Ctx, b.ID, c.ID, "tester"); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	// Direct back edge.
	err := env.Engine.AddDependency(env.Ctx, b.ID, a.ID, "tester")
	wantValidationCode(t, err, engine.CodeCycleDetected)
	// Transitive back edge.
	err = env.Engine.AddDependency(env.Ctx, c.ID, a.ID, "tester")
	wantValidationCode(t, err, engine.CodeCycleDetected)
	// Diamond sharing is not a cycle: a -> c alongside a -> b -> c.
	if err := env.Engine.AddDependency(env.Ctx, a.ID, c.ID, "tester"); err != nil {
		t.Fatalf("diamond edge rejected: %v", err)
	}
}

func TestDependencyRoleGate(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	b := env.createTask(t, "b")
	if _, err := env.Engine.AddMember(env.Ctx, "proj-1", "tester", "worker", "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "worker"); !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("member adds edge: want ErrNotAuthorized, got %v", err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, "proj-1", "tester", "lead", "manager"); err != nil {
		t.Fatalf("add manager: %v", err)
	}
	if err := env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "lead"); err != nil {
		t.Fatalf("manager adds edge: %v", err)
	}
	if err := env.Engine.DeleteDependency(env.Ctx, a.ID, b.ID, "worker"); !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("member removes edge: want ErrNotAuthorized, got %v", err)
	}
}

func TestDeleteDependency(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	b := env.createTask(t, "b")
	if err := env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "tester"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := env.Engine.DeleteDependency(env.Ctx, a.ID, b.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.Engine.DeleteDependency(env.Ctx, a.ID, b.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("delete absent edge: want ErrNotFound, got %v", err)
	}
	// Removal reopens the reverse direction.
	if err := env.Engine.AddDependency(env.Ctx, b.ID, a.ID, "tester"); err != nil {
		t.Fatalf("reverse edge after removal: %v", err)
	}
}

func TestDependencySummariesAndBlockedCount(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "parent")
	b := env.createTask(t, "child one")
	c := env.createTask(t, "child two")
	if err := env.Engine.AddDependency(env.Ctx, a.ID, b.ID, "tester"); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := env.Engine.AddDependency(env.Ctx, a.ID, c.ID, "tester"); err != nil {
		t.Fatalf("a->c: %v", err)
	}
	if err := env.Engine.AddDependency(env.Ctx, b.ID, c.ID, "tester"); err != nil {
		t.Fatalf("b->c: %v", err)
	}

	got, err := env.Engine.GetTask(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Dependencies) != 2 {
		t.Fatalf("dependency count: %d", len(got.Dependencies))
	}
	for _, d := range got.Dependencies {
		if d.State != "available" {
			t.Fatalf("dependency state: %s", d.State)
		}
	}

	// c blocks both a and b.
	blocked, err := env.Engine.GetTask(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get c: %v", err)
	}
	if blocked.BlockedCount != 2 {
		t.Fatalf("blocked count for c: %d", blocked.BlockedCount)
	}
}
