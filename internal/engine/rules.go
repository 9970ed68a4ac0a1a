package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/events"
)

// RuleTarget is the validated (resource kind, optional type filter, state)
// triple a rule matches against. Both rule administration and evaluation go
// through it, so a stored rule can always be matched.
type RuleTarget struct {
	ResourceType string
	TaskTypeID   string
	TargetState  string
}

// RuleTargetFromStrings validates the three raw inputs.
func RuleTargetFromStrings(resourceType, taskTypeID, targetState string) (RuleTarget, error) {
	switch resourceType {
	case "task":
		if !domain.ValidTaskState(targetState) {
			return RuleTarget{}, validationErrf(CodeInvalidTaskState, "invalid task state %q", targetState)
		}
	case "card":
		if taskTypeID != "" {
			return RuleTarget{}, validationErrf(CodeTaskTypeNotAllowed, "card rules cannot carry a task type filter")
		}
		if !domain.ValidCardState(targetState) {
			return RuleTarget{}, validationErrf(CodeInvalidCardState, "invalid card state %q", targetState)
		}
	default:
		return RuleTarget{}, validationErrf(CodeInvalidResourceType, "resource type must be task or card, got %q", resourceType)
	}
	return RuleTarget{ResourceType: resourceType, TaskTypeID: taskTypeID, TargetState: targetState}, nil
}

// DBValues serializes deterministically for storage and comparison.
func (t RuleTarget) DBValues() (resourceType string, taskTypeID string, targetState string) {
	return t.ResourceType, t.TaskTypeID, t.TargetState
}

// Matches applies the rule-matching predicate to a transition event.
// PrevState is informational and never matched against.
func (t RuleTarget) Matches(ev domain.TransitionEvent) bool {
	if t.ResourceType != ev.ResourceType {
		return false
	}
	if t.TargetState != ev.NewState {
		return false
	}
	if t.ResourceType == "task" && t.TaskTypeID != "" && t.TaskTypeID != ev.TaskTypeID {
		return false
	}
	return true
}

func ruleTarget(rl domain.Rule) RuleTarget {
	t := RuleTarget{ResourceType: rl.ResourceType, TargetState: rl.TargetState}
	if rl.TaskTypeID != nil {
		t.TaskTypeID = *rl.TaskTypeID
	}
	return t
}

// RuleOutcome discriminates a per-rule evaluation result.
type RuleOutcome string

const (
	OutcomeApplied    RuleOutcome = "applied"
	OutcomeSuppressed RuleOutcome = "suppressed"
)

// ReasonIdempotent marks suppression by the execution ledger.
const ReasonIdempotent = "idempotent"

// RuleResult is one matched rule's outcome. Err is set when the effect ran
// and failed; the failure is isolated to this rule.
type RuleResult struct {
	RuleID  string      `json:"rule_id"`
	Outcome RuleOutcome `json:"outcome"`
	Effect  string      `json:"effect,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Err     error       `json:"-"`
}

// RuleActionFunc executes a matched rule's effect and describes it.
type RuleActionFunc func(ctx context.Context, rule domain.Rule, ev domain.TransitionEvent) (string, error)

// EvaluateRules finds active rules matching the event, applies idempotency
// suppression, executes effects and reports per-rule outcomes. Activation
// flags are read fresh from the store; rules are evaluated independently of
// one another. The returned error covers only store-level failures in the
// candidate query itself.
func (e Engine) EvaluateRules(ctx context.Context, ev domain.TransitionEvent) ([]RuleResult, error) {
	candidates, err := e.Repo.ListActiveRules(ctx, ev.ProjectID, ev.ResourceType)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	var results []RuleResult
	for _, rl := range candidates {
		if !ruleTarget(rl).Matches(ev) {
			continue
		}
		results = append(results, e.applyRule(ctx, rl, ev))
	}
	return results, nil
}

// applyRule claims the (rule, resource) ledger row before any side effect.
// Losing the conditional insert means an earlier delivery already applied
// this rule for the resource.
func (e Engine) applyRule(ctx context.Context, rl domain.Rule, ev domain.TransitionEvent) RuleResult {
	claimed, err := e.Repo.ClaimRuleExecution(ctx, domain.RuleExecution{
		RuleID:     rl.ID,
		ResourceID: ev.ResourceID,
		State:      ev.NewState,
		ExecutedAt: e.nowString(),
	})
	if err != nil {
		return RuleResult{RuleID: rl.ID, Outcome: OutcomeSuppressed, Reason: "ledger error", Err: err}
	}
	if !claimed {
		return RuleResult{RuleID: rl.ID, Outcome: OutcomeSuppressed, Reason: ReasonIdempotent}
	}
	action := e.Action
	if action == nil {
		action = e.defaultAction
	}
	effect, err := action(ctx, rl, ev)
	if err != nil {
		_ = e.Events.AppendDB(ctx, events.TypeAutomationFailed, ev.ProjectID, ev.ResourceType, ev.ResourceID, ev.ActorID, events.EventPayload{
			"rule_id": rl.ID, "action": rl.Action, "error": err.Error(),
		})
		return RuleResult{RuleID: rl.ID, Outcome: OutcomeApplied, Effect: effect, Err: err}
	}
	return RuleResult{RuleID: rl.ID, Outcome: OutcomeApplied, Effect: effect}
}

// defaultAction records the application in the event log.
func (e Engine) defaultAction(ctx context.Context, rl domain.Rule, ev domain.TransitionEvent) (string, error) {
	effect := fmt.Sprintf("%s(%s)", rl.Action, ev.ResourceID)
	err := e.Events.AppendDB(ctx, events.TypeAutomationApplied, ev.ProjectID, ev.ResourceType, ev.ResourceID, ev.ActorID, events.EventPayload{
		"rule_id": rl.ID, "rule": rl.Name, "action": rl.Action, "state": ev.NewState,
	})
	return effect, err
}

// WorkflowCreateOptions are parameters for creating a workflow.
type WorkflowCreateOptions struct {
	ProjectID string
	Name      string
	ActorID   string
}

func (e Engine) CreateWorkflow(ctx context.Context, opts WorkflowCreateOptions) (domain.Workflow, error) {
	if opts.Name == "" {
		return domain.Workflow{}, validationErrf(CodeInvalidInput, "workflow name is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Workflow{}, err
	}
	if err := e.requireManager(ctx, opts.ProjectID, opts.ActorID); err != nil {
		return domain.Workflow{}, err
	}
	w := domain.Workflow{
		ID:        uuid.New().String(),
		ProjectID: opts.ProjectID,
		Name:      opts.Name,
		Active:    true,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertWorkflow(ctx, w); err != nil {
		return domain.Workflow{}, err
	}
	return w, nil
}

// RuleCreateOptions are parameters for adding a rule to a workflow.
type RuleCreateOptions struct {
	WorkflowID   string
	Name         string
	ResourceType string
	TaskTypeID   string
	TargetState  string
	Action       string
	ActorID      string
}

func (e Engine) CreateRule(ctx context.Context, opts RuleCreateOptions) (domain.Rule, error) {
	if e.Config == nil {
		return domain.Rule{}, fmt.Errorf("config not loaded")
	}
	if opts.Name == "" {
		return domain.Rule{}, validationErrf(CodeInvalidInput, "rule name is required")
	}
	w, err := e.Repo.GetWorkflow(ctx, opts.WorkflowID)
	if err != nil {
		return domain.Rule{}, err
	}
	if err := e.requireManager(ctx, w.ProjectID, opts.ActorID); err != nil {
		return domain.Rule{}, err
	}
	target, err := RuleTargetFromStrings(opts.ResourceType, opts.TaskTypeID, opts.TargetState)
	if err != nil {
		return domain.Rule{}, err
	}
	if opts.TaskTypeID != "" && !e.Config.KnownTaskType(opts.TaskTypeID) {
		return domain.Rule{}, validationErrf(CodeUnknownTaskType, "task type %s not in catalog", opts.TaskTypeID)
	}
	if !e.Config.KnownAction(opts.Action) {
		return domain.Rule{}, validationErrf(CodeUnknownAction, "action %s not in catalog", opts.Action)
	}
	resourceType, taskTypeID, targetState := target.DBValues()
	rl := domain.Rule{
		ID:           uuid.New().String(),
		WorkflowID:   w.ID,
		ResourceType: resourceType,
		TaskTypeID:   optionalString(taskTypeID),
		TargetState:  targetState,
		Name:         opts.Name,
		Action:       opts.Action,
		Active:       true,
		CreatedAt:    e.nowString(),
	}
	if err := e.Repo.InsertRule(ctx, rl); err != nil {
		return domain.Rule{}, err
	}
	return rl, nil
}

// SetWorkflowActive flips a workflow and cascades the value onto every owned
// rule's flag, overwriting any independent rule toggles.
func (e Engine) SetWorkflowActive(ctx context.Context, workflowID, actorID string, active bool) error {
	w, err := e.Repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := e.requireManager(ctx, w.ProjectID, actorID); err != nil {
		return err
	}
	if err := e.Repo.SetWorkflowActive(ctx, workflowID, active); err != nil {
		return err
	}
	return e.Events.AppendDB(ctx, events.TypeWorkflowToggled, w.ProjectID, "workflow", workflowID, actorID, events.EventPayload{"active": active})
}

// SetRuleActive toggles one rule without touching its siblings.
func (e Engine) SetRuleActive(ctx context.Context, ruleID, actorID string, active bool) error {
	rl, err := e.Repo.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	w, err := e.Repo.GetWorkflow(ctx, rl.WorkflowID)
	if err != nil {
		return err
	}
	if err := e.requireManager(ctx, w.ProjectID, actorID); err != nil {
		return err
	}
	if err := e.Repo.SetRuleActive(ctx, ruleID, active); err != nil {
		return err
	}
	return e.Events.AppendDB(ctx, events.TypeRuleToggled, w.ProjectID, "rule", ruleID, actorID, events.EventPayload{"active": active})
}

// DeleteWorkflow removes a workflow and, through the store's cascade, all of
// its rules.
func (e Engine) DeleteWorkflow(ctx context.Context, workflowID, actorID string) error {
	w, err := e.Repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := e.requireManager(ctx, w.ProjectID, actorID); err != nil {
		return err
	}
	return e.Repo.DeleteWorkflow(ctx, workflowID)
}
