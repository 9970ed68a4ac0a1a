package engine_test

import (
	"errors"
	"testing"

	"taskboard/internal/engine"
)

func TestCardLifecycle(t *testing.T) {
	env := newTestEnv(t)
	card, err := env.Engine.CreateCard(env.Ctx, "proj-1", "sprint board", "tester")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if card.Status != "open" || card.Version != 1 {
		t.Fatalf("fresh card: status=%s version=%d", card.Status, card.Version)
	}

	card, _, err = env.Engine.SetCardStatus(env.Ctx, engine.CardTransitionOptions{
		CardID: card.ID, ActorID: "tester", ExpectedVersion: 1, NewStatus: "in_review",
	})
	if err != nil {
		t.Fatalf("to in_review: %v", err)
	}
	card, _, err = env.Engine.SetCardStatus(env.Ctx, engine.CardTransitionOptions{
		CardID: card.ID, ActorID: "tester", ExpectedVersion: 2, NewStatus: "done",
	})
	if err != nil {
		t.Fatalf("to done: %v", err)
	}
	if card.Status != "done" || card.Version != 3 {
		t.Fatalf("after done: status=%s version=%d", card.Status, card.Version)
	}

	// done only moves forward to archived.
	_, _, err = env.Engine.SetCardStatus(env.Ctx, engine.CardTransitionOptions{
		CardID: card.ID, ActorID: "tester", ExpectedVersion: 3, NewStatus: "open",
	})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("done->open: want InvalidTransitionError, got %v", err)
	}

	card, _, err = env.Engine.SetCardStatus(env.Ctx, engine.CardTransitionOptions{
		CardID: card.ID, ActorID: "tester", ExpectedVersion: 3, NewStatus: "archived",
	})
	if err != nil {
		t.Fatalf("to archived: %v", err)
	}
	_, _, err = env.Engine.SetCardStatus(env.Ctx, engine.CardTransitionOptions{
		CardID: card.ID, ActorID: "tester", ExpectedVersion: 4, NewStatus: "open",
	})
	if !errors.As(err, &ite) {
		t.Fatalf("archived is terminal: got %v", err)
	}
}

func TestCardVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	card, err := env.Engine.CreateCard(env.Ctx, "proj-1", "contended", "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := env.Engine.SetCardStatus(env.Ctx, engine.CardTransitionOptions{
		CardID: card.ID, ActorID: "tester", ExpectedVersion: 1, NewStatus: "in_review",
	}); err != nil {
		t.Fatalf("first move: %v", err)
	}
	// Same token again, to a move that is still legal from in_review.
	_, _, err = env.Engine.SetCardStatus(env.Ctx, engine.CardTransitionOptions{
		CardID: card.ID, ActorID: "tester", ExpectedVersion: 1, NewStatus: "done",
	})
	if !errors.Is(err, engine.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
}

func TestCardStateValidation(t *testing.T) {
	env := newTestEnv(t)
	card, err := env.Engine.CreateCard(env.Ctx, "proj-1", "typo", "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _, err = env.Engine.SetCardStatus(env.Ctx, engine.CardTransitionOptions{
		CardID: card.ID, ActorID: "tester", ExpectedVersion: 1, NewStatus: "closed",
	})
	wantValidationCode(t, err, engine.CodeInvalidCardState)
}

func TestCardRuleFires(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{ProjectID: "proj-1", Name: "cards", ActorID: "tester"})
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	rl, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		WorkflowID: w.ID, Name: "archive done", ResourceType: "card",
		TargetState: "done", Action: "archive_card", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("rule: %v", err)
	}
	card, err := env.Engine.CreateCard(env.Ctx, "proj-1", "ship it", "tester")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	_, results, err := env.Engine.SetCardStatus(env.Ctx, engine.CardTransitionOptions{
		CardID: card.ID, ActorID: "tester", ExpectedVersion: 1, NewStatus: "done",
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(results) != 1 || results[0].RuleID != rl.ID || results[0].Outcome != engine.OutcomeApplied {
		t.Fatalf("card rule: %+v", results)
	}
}
