package engine

import (
	"errors"
	"fmt"
)

// The engine never auto-retries; every operation is one attempt whose failure
// is one of these discriminated outcomes for the caller to act on. Not-found
// is repo.ErrNotFound.
var (
	// ErrNotAuthorized: the actor lacks the role or ownership the operation
	// requires (e.g. releasing someone else's claim).
	ErrNotAuthorized = errors.New("not authorized")

	// ErrAlreadyClaimed: someone already holds the task, making the
	// operation illegal for this actor regardless of their version token.
	ErrAlreadyClaimed = errors.New("task already claimed")

	// ErrVersionConflict: the supplied version is stale but the transition
	// would otherwise be legal for this actor.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidTransition matches any InvalidTransitionError via errors.Is.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation matches any ValidationError via errors.Is.
	ErrValidation = errors.New("validation error")
)

// InvalidTransitionError reports a state change that is illegal from the
// current state no matter what version the caller supplied.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task transition %s -> %s", e.From, e.To)
}

func (e InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Validation error codes.
const (
	CodeSelfDependency      = "self_dependency"
	CodeCrossProject        = "cross_project"
	CodeTargetCompleted     = "target_already_completed"
	CodeDuplicateDependency = "duplicate_dependency"
	CodeCycleDetected       = "cycle_detected"
	CodeInvalidResourceType = "invalid_resource_type"
	CodeInvalidTaskState    = "invalid_task_state"
	CodeInvalidCardState    = "invalid_card_state"
	CodeTaskTypeNotAllowed  = "task_type_not_allowed_for_card"
	CodeInvalidInput        = "invalid_input"
	CodeUnknownTaskType     = "unknown_task_type"
	CodeUnknownAction       = "unknown_action"
	CodeExclusiveMembership = "milestone_card_exclusive"
)

// ValidationError is a structural input problem: self dependency, cross
// project edge, duplicate edge, cycle, disallowed type filter, bad field.
type ValidationError struct {
	Code string
	Msg  string
}

func (e ValidationError) Error() string { return e.Msg }

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationErrf(code, format string, args ...any) ValidationError {
	return ValidationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}
