package domain

import (
	"encoding/json"
	"fmt"
)

// StatusKind is the top-level lifecycle state of a task.
type StatusKind string

const (
	StatusAvailable StatusKind = "available"
	StatusClaimed   StatusKind = "claimed"
	StatusCompleted StatusKind = "completed"
)

// ClaimPhase refines a claimed task: taken means held but idle, ongoing means
// an active work session is open.
type ClaimPhase string

const (
	PhaseTaken   ClaimPhase = "taken"
	PhaseOngoing ClaimPhase = "ongoing"
)

// Status is a closed value type: the only valid values are the ones the
// constructors below produce. Phase is meaningful only when Kind is claimed.
type Status struct {
	Kind  StatusKind `json:"kind"`
	Phase ClaimPhase `json:"phase,omitempty"`
}

func Available() Status    { return Status{Kind: StatusAvailable} }
func ClaimedTaken() Status { return Status{Kind: StatusClaimed, Phase: PhaseTaken} }
func ClaimedOngoing() Status {
	return Status{Kind: StatusClaimed, Phase: PhaseOngoing}
}
func Completed() Status { return Status{Kind: StatusCompleted} }

// State returns the flat state name used by transition events and rule
// targets: available, taken, ongoing or completed.
func (s Status) State() string {
	if s.Kind == StatusClaimed {
		return string(s.Phase)
	}
	return string(s.Kind)
}

func (s Status) IsClaimed() bool  { return s.Kind == StatusClaimed }
func (s Status) IsTerminal() bool { return s.Kind == StatusCompleted }

func (s Status) Valid() bool {
	switch s.Kind {
	case StatusAvailable, StatusCompleted:
		return s.Phase == ""
	case StatusClaimed:
		return s.Phase == PhaseTaken || s.Phase == PhaseOngoing
	}
	return false
}

// StatusFromState parses a flat state name back into a Status.
func StatusFromState(state string) (Status, error) {
	switch state {
	case "available":
		return Available(), nil
	case "taken":
		return ClaimedTaken(), nil
	case "ongoing":
		return ClaimedOngoing(), nil
	case "completed":
		return Completed(), nil
	}
	return Status{}, fmt.Errorf("unknown task state %q", state)
}

// allowedTransitions is the strict transition relation over flat states.
// Completed has no outgoing edges.
var allowedTransitions = map[string]map[string]struct{}{
	"available": {
		"taken": {},
	},
	"taken": {
		"ongoing":   {},
		"available": {},
		"completed": {},
	},
	"ongoing": {
		"taken":     {},
		"available": {},
		"completed": {},
	},
	"completed": {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from.State()]
	if !ok {
		return false
	}
	_, ok = next[to.State()]
	return ok
}

// TaskStates is the enumeration rule targets for resource "task" draw from.
func TaskStates() []string {
	return []string{"available", "taken", "ongoing", "completed"}
}

// CardStates is the enumeration rule targets for resource "card" draw from.
func CardStates() []string {
	return []string{"open", "in_review", "done", "archived"}
}

func ValidTaskState(state string) bool {
	_, err := StatusFromState(state)
	return err == nil
}

func ValidCardState(state string) bool {
	for _, s := range CardStates() {
		if s == state {
			return true
		}
	}
	return false
}

// cardTransitions mirrors the task relation for the card lifecycle; archived
// is terminal.
var cardTransitions = map[string]map[string]struct{}{
	"open": {
		"in_review": {},
		"done":      {},
		"archived":  {},
	},
	"in_review": {
		"open":     {},
		"done":     {},
		"archived": {},
	},
	"done": {
		"archived": {},
	},
	"archived": {},
}

func CanTransitionCard(from, to string) bool {
	next, ok := cardTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// MarshalJSON renders the flat state name; the nested kind/phase pair is an
// internal representation.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.State())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var state string
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	parsed, err := StatusFromState(state)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
