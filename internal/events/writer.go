package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"taskboard/internal/domain"
)

// Event types written by the engine. The log is append-only audit data; rule
// idempotency does not depend on it.
const (
	TypeProjectInit       = "project.init"
	TypeTaskCreated       = "task.created"
	TypeTaskClaimed       = "task.claimed"
	TypeTaskStarted       = "task.started"
	TypeTaskPaused        = "task.paused"
	TypeTaskReleased      = "task.released"
	TypeTaskCompleted     = "task.completed"
	TypeTaskEdited        = "task.edited"
	TypeDependencyAdded   = "task.dependency.added"
	TypeDependencyRemoved = "task.dependency.removed"
	TypeCardUpdated       = "card.updated"
	TypeWorkflowToggled   = "workflow.toggled"
	TypeRuleToggled       = "rule.toggled"
	TypeAutomationApplied = "automation.applied"
	TypeAutomationFailed  = "automation.failed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// TransitionPayload flattens a transition event into log payload fields.
func TransitionPayload(ev domain.TransitionEvent) EventPayload {
	p := EventPayload{"to": ev.NewState}
	if ev.PrevState != nil {
		p["from"] = *ev.PrevState
	}
	if ev.TaskTypeID != "" {
		p["type_id"] = ev.TaskTypeID
	}
	return p
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// AppendDB writes outside a transaction, for effects that run after the
// triggering mutation already committed.
func (w Writer) AppendDB(ctx context.Context, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
