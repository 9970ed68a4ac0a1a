package server

import (
	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

type TaskDTO struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	TypeID       string          `json:"type_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Priority     int             `json:"priority"`
	State        string          `json:"state"`
	Version      int64           `json:"version"`
	ClaimedBy    *string         `json:"claimed_by,omitempty"`
	ClaimedAt    *string         `json:"claimed_at,omitempty"`
	CompletedAt  *string         `json:"completed_at,omitempty"`
	MilestoneID  *string         `json:"milestone_id,omitempty"`
	CardID       *string         `json:"card_id,omitempty"`
	Dependencies []DependencyDTO `json:"dependencies,omitempty"`
	BlockedCount int             `json:"blocked_count"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

type DependencyDTO struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

type RuleResultDTO struct {
	RuleID  string `json:"rule_id"`
	Outcome string `json:"outcome"`
	Effect  string `json:"effect,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CardDTO struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type WorkflowDTO struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type RuleDTO struct {
	ID           string  `json:"id"`
	WorkflowID   string  `json:"workflow_id"`
	Name         string  `json:"name"`
	ResourceType string  `json:"resource_type"`
	TaskTypeID   *string `json:"task_type_id,omitempty"`
	TargetState  string  `json:"target_state"`
	Action       string  `json:"action"`
	Active       bool    `json:"active"`
	CreatedAt    string  `json:"created_at"`
}

type EventDTO struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

type InitProjectRequest struct {
	ID    string `json:"id,omitempty"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
}

type AddMemberRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"admin,manager,member"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	TypeID      string  `json:"type_id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    *int    `json:"priority,omitempty" minimum:"1" maximum:"5"`
	MilestoneID *string `json:"milestone_id,omitempty"`
	CardID      *string `json:"card_id,omitempty"`
}

type EditTaskRequest struct {
	ExpectedVersion int64   `json:"expected_version" minimum:"1"`
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Priority        *int    `json:"priority,omitempty"`
	TypeID          *string `json:"type_id,omitempty"`
	MilestoneID     *string `json:"milestone_id,omitempty"`
	CardID          *string `json:"card_id,omitempty"`
}

type TransitionRequest struct {
	ExpectedVersion int64 `json:"expected_version" minimum:"1"`
}

type AddDependencyRequest struct {
	DependsOnTaskID string `json:"depends_on_task_id"`
}

type CreateCardRequest struct {
	Title string `json:"title"`
}

type CardStatusRequest struct {
	ExpectedVersion int64  `json:"expected_version" minimum:"1"`
	Status          string `json:"status" enum:"open,in_review,done,archived"`
}

type CreateWorkflowRequest struct {
	Name string `json:"name"`
}

type CreateRuleRequest struct {
	Name         string  `json:"name"`
	ResourceType string  `json:"resource_type" enum:"task,card"`
	TaskTypeID   *string `json:"task_type_id,omitempty"`
	TargetState  string  `json:"target_state"`
	Action       string  `json:"action"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

// TaskMutationResponse pairs the post-transition task with the automation
// outcomes triggered by the transition.
type TaskMutationResponse struct {
	Task       TaskDTO         `json:"task"`
	Automation []RuleResultDTO `json:"automation,omitempty"`
}

type CardMutationResponse struct {
	Card       CardDTO         `json:"card"`
	Automation []RuleResultDTO `json:"automation,omitempty"`
}

func toTaskDTO(t domain.Task) TaskDTO {
	dto := TaskDTO{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		TypeID:       t.TypeID,
		Title:        t.Title,
		Description:  t.Description,
		Priority:     t.Priority,
		State:        t.Status.State(),
		Version:      t.Version,
		ClaimedBy:    t.ClaimedBy,
		ClaimedAt:    t.ClaimedAt,
		CompletedAt:  t.CompletedAt,
		MilestoneID:  t.MilestoneID,
		CardID:       t.CardID,
		BlockedCount: t.BlockedCount,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	for _, d := range t.Dependencies {
		dto.Dependencies = append(dto.Dependencies, DependencyDTO{
			TaskID: d.TaskID,
			Title:  d.Title,
			State:  d.State,
		})
	}
	return dto
}

func toTaskDTOs(tasks []domain.Task) []TaskDTO {
	out := make([]TaskDTO, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskDTO(t))
	}
	return out
}

func toRuleResultDTOs(results []engine.RuleResult) []RuleResultDTO {
	out := make([]RuleResultDTO, 0, len(results))
	for _, r := range results {
		dto := RuleResultDTO{
			RuleID:  r.RuleID,
			Outcome: string(r.Outcome),
			Effect:  r.Effect,
			Reason:  r.Reason,
		}
		if r.Err != nil {
			dto.Error = r.Err.Error()
		}
		out = append(out, dto)
	}
	return out
}

func toCardDTO(c domain.Card) CardDTO {
	return CardDTO{
		ID:        c.ID,
		ProjectID: c.ProjectID,
		Title:     c.Title,
		State:     c.Status,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toWorkflowDTO(w domain.Workflow) WorkflowDTO {
	return WorkflowDTO{
		ID:        w.ID,
		ProjectID: w.ProjectID,
		Name:      w.Name,
		Active:    w.Active,
		CreatedAt: w.CreatedAt,
	}
}

func toRuleDTO(r domain.Rule) RuleDTO {
	return RuleDTO{
		ID:           r.ID,
		WorkflowID:   r.WorkflowID,
		Name:         r.Name,
		ResourceType: r.ResourceType,
		TaskTypeID:   r.TaskTypeID,
		TargetState:  r.TargetState,
		Action:       r.Action,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
	}
}

func toEventDTOs(events []domain.Event) []EventDTO {
	out := make([]EventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, EventDTO{
			ID:         ev.ID,
			TS:         ev.TS,
			Type:       ev.Type,
			ProjectID:  ev.ProjectID,
			EntityKind: ev.EntityKind,
			EntityID:   ev.EntityID,
			ActorID:    ev.ActorID,
			Payload:    ev.Payload,
		})
	}
	return out
}
