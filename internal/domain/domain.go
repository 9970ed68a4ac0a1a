package domain

type Project struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID           string              `json:"id"`
	ProjectID    string              `json:"project_id"`
	TypeID       string              `json:"type_id"`
	Title        string              `json:"title"`
	Description  string              `json:"description,omitempty"`
	Priority     int                 `json:"priority"`
	Status       Status              `json:"status"`
	Version      int64               `json:"version"`
	ClaimedBy    *string             `json:"claimed_by,omitempty"`
	ClaimedAt    *string             `json:"claimed_at,omitempty" format:"date-time"`
	CompletedAt  *string             `json:"completed_at,omitempty" format:"date-time"`
	MilestoneID  *string             `json:"milestone_id,omitempty"`
	CardID       *string             `json:"card_id,omitempty"`
	Dependencies []DependencySummary `json:"dependencies,omitempty"`
	BlockedCount int                 `json:"blocked_count"`
	CreatedAt    string              `json:"created_at" format:"date-time"`
	UpdatedAt    string              `json:"updated_at" format:"date-time"`
}

// DependencySummary is the flattened view of one outgoing dependency edge.
type DependencySummary struct {
	TaskID    string  `json:"task_id"`
	Title     string  `json:"title"`
	State     string  `json:"state"`
	ClaimedBy *string `json:"claimed_by,omitempty"`
}

type Card struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Status    string `json:"status" enum:"open,in_review,done,archived"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Milestone struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Workflow groups rules that can be bulk-activated or deactivated.
// Deleting a workflow deletes its rules.
type Workflow struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Rule fires when a resource of its kind reaches TargetState, provided both
// the rule and its owning workflow are active. TaskTypeID narrows task rules
// to one task type; card rules never carry one.
type Rule struct {
	ID           string  `json:"id"`
	WorkflowID   string  `json:"workflow_id"`
	ResourceType string  `json:"resource_type" enum:"task,card"`
	TaskTypeID   *string `json:"task_type_id,omitempty"`
	TargetState  string  `json:"target_state"`
	Name         string  `json:"name"`
	Action       string  `json:"action"`
	Active       bool    `json:"active"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

/// TransitionEvent describes one accepted state change. It is ephemeral: only
// the rule-execution ledger persists anything derived from it.
type TransitionEvent struct {
	ResourceType string  `json:"resource_type" enum:"task,card"`
	ResourceID   string  `json:"resource_id"`
	ProjectID    string  `json:"project_id"`
	OrgID        string  `json:"org_id"`
	ActorID      string  `json:"actor_id"`
	PrevState    *string `json:"prev_state,omitempty"`
	NewState     string  `json:"new_state"`
	TaskTypeID   string  `json:"task_type_id,omitempty"`
}

// RuleExecution marks that a rule already applied its effect for a resource.
type RuleExecution struct {
	RuleID     string `json:"rule_id"`
	ResourceID string `json:"resource_id"`
	State      string `json:"state"`
	ExecutedAt string `json:"executed_at" format:"date-time"`
}

type Member struct {
	ProjectID string `json:"project_id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role" enum:"member,manager,admin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
