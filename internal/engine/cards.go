package engine

import (
	"context"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/events"
)

func (e Engine) CreateCard(ctx context.Context, projectID, title, actorID string) (domain.Card, error) {
	if title == "" {
		return domain.Card{}, validationErrf(CodeInvalidInput, "card title is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Card{}, err
	}
	now := e.nowString()
	c := domain.Card{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Title:     title,
		Status:    "open",
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertCard(ctx, c); err != nil {
		return domain.Card{}, err
	}
	return c, nil
}

// CardTransitionOptions identify one card status change attempt.
type CardTransitionOptions struct {
	CardID          string
	ActorID         string
	ExpectedVersion int64
	NewStatus       string
}

// SetCardStatus moves a card through its lifecycle under the same CAS
// discipline as tasks and feeds the resulting transition event to the rule
// engine.
func (e Engine) SetCardStatus(ctx context.Context, opts CardTransitionOptions) (domain.Card, []RuleResult, error) {
	if !domain.ValidCardState(opts.NewStatus) {
		return domain.Card{}, nil, validationErrf(CodeInvalidCardState, "invalid card state %q", opts.NewStatus)
	}
	c, err := e.Repo.GetCard(ctx, opts.CardID)
	if err != nil {
		return domain.Card{}, nil, err
	}
	if !domain.CanTransitionCard(c.Status, opts.NewStatus) {
		return domain.Card{}, nil, InvalidTransitionError{From: c.Status, To: opts.NewStatus}
	}
	prev := c.Status
	c.Status = opts.NewStatus
	c.UpdatedAt = e.nowString()
	ok, err := e.Repo.UpdateCardCAS(ctx, c, opts.ExpectedVersion)
	if err != nil {
		return domain.Card{}, nil, err
	}
	if !ok {
		fresh, err := e.Repo.GetCard(ctx, opts.CardID)
		if err != nil {
			return domain.Card{}, nil, err
		}
		if !domain.CanTransitionCard(fresh.Status, opts.NewStatus) {
			return domain.Card{}, nil, InvalidTransitionError{From: fresh.Status, To: opts.NewStatus}
		}
		return domain.Card{}, nil, ErrVersionConflict
	}
	ev := domain.TransitionEvent{
		ResourceType: "card",
		ResourceID:   c.ID,
		ProjectID:    c.ProjectID,
		ActorID:      opts.ActorID,
		PrevState:    &prev,
		NewState:     c.Status,
	}
	if err := e.Events.AppendDB(ctx, events.TypeCardUpdated, c.ProjectID, "card", c.ID, opts.ActorID, events.TransitionPayload(ev)); err != nil {
		return domain.Card{}, nil, err
	}
	results, err := e.EvaluateRules(ctx, ev)
	if err != nil {
		return domain.Card{}, nil, err
	}
	fresh, err := e.Repo.GetCard(ctx, c.ID)
	if err != nil {
		return domain.Card{}, nil, err
	}
	return fresh, results, nil
}
