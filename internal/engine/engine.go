package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// Engine owns the task lifecycle state machine, the dependency graph
// validator and the rule evaluation engine. It holds no in-process locks:
// every cross-request coordination goes through the store's conditional
// writes.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	// Action executes a matched rule's effect. Left nil, the default
	// executor records an automation event.
	Action RuleActionFunc
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitProject creates a project, stores its config and makes the creating
// actor an admin member.
func (e Engine) InitProject(ctx context.Context, projectID, orgID, name, actorID string) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	if name == "" {
		name = projectID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:        projectID,
		OrgID:     orgID,
		Name:      name,
		Status:    "active",
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, e.Config); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Repo.UpsertMember(ctx, tx, domain.Member{
		ProjectID: p.ID, ActorID: actorID, Role: "admin", CreatedAt: p.CreatedAt,
	}); err != nil {
		return domain.Project{}, fmt.Errorf("insert member: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectInit, p.ID, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// AddMember upserts a project membership; only admins may change roles,
// except when the project has no members yet.
func (e Engine) AddMember(ctx context.Context, projectID, actorID, targetActorID, role string) (domain.Member, error) {
	switch role {
	case "member", "manager", "admin":
	default:
		return domain.Member{}, validationErrf(CodeInvalidInput, "unknown role %q", role)
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Member{}, err
	}
	callerRole, err := e.Repo.GetMemberRole(ctx, projectID, actorID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		// Bootstrap: a memberless project accepts its first member from anyone.
		existing, err := e.Repo.ListMembers(ctx, projectID)
		if err != nil {
			return domain.Member{}, err
		}
		if len(existing) > 0 {
			return domain.Member{}, ErrNotAuthorized
		}
	case err != nil:
		return domain.Member{}, err
	case callerRole != "admin":
		return domain.Member{}, ErrNotAuthorized
	}
	m := domain.Member{ProjectID: projectID, ActorID: targetActorID, Role: role, CreatedAt: e.nowString()}
	if err := e.Repo.UpsertMember(ctx, nil, m); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// requireManager checks that the actor holds manager or admin in the project.
func (e Engine) requireManager(ctx context.Context, projectID, actorID string) error {
	role, err := e.Repo.GetMemberRole(ctx, projectID, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotAuthorized
	}
	if err != nil {
		return err
	}
	if role != "manager" && role != "admin" {
		return ErrNotAuthorized
	}
	return nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	TypeID      string
	Title       string
	Description string
	Priority    int
	MilestoneID string
	CardID      string
	ActorID     string
}

// CreateTask seeds a task at version 1, status available.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Task{}, validationErrf(CodeInvalidInput, "title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, validationErrf(CodeInvalidInput, "project is required")
	}
	if opts.TypeID == "" {
		opts.TypeID = e.Config.DefaultTaskType()
	}
	if !e.Config.KnownTaskType(opts.TypeID) {
		return domain.Task{}, validationErrf(CodeUnknownTaskType, "task type %s not in catalog", opts.TypeID)
	}
	if opts.Priority == 0 {
		opts.Priority = e.Config.DefaultPriority()
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return domain.Task{}, validationErrf(CodeInvalidInput, "priority must be 1-5, got %d", opts.Priority)
	}
	if opts.MilestoneID != "" && opts.CardID != "" {
		return domain.Task{}, validationErrf(CodeExclusiveMembership, "task may belong to a milestone or a card, not both")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	if opts.MilestoneID != "" {
		m, err := e.Repo.GetMilestone(ctx, opts.MilestoneID)
		if err != nil {
			return domain.Task{}, err
		}
		if m.ProjectID != opts.ProjectID {
			return domain.Task{}, validationErrf(CodeCrossProject, "milestone %s not in project %s", opts.MilestoneID, opts.ProjectID)
		}
	}
	if opts.CardID != "" {
		c, err := e.Repo.GetCard(ctx, opts.CardID)
		if err != nil {
			return domain.Task{}, err
		}
		if c.ProjectID != opts.ProjectID {
			return domain.Task{}, validationErrf(CodeCrossProject, "card %s not in project %s", opts.CardID, opts.ProjectID)
		}
	}

	id := opts.ID
	now := e.nowString()
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:          id,
		ProjectID:   opts.ProjectID,
		TypeID:      opts.TypeID,
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    opts.Priority,
		Status:      domain.Available(),
		Version:     1,
		MilestoneID: optionalString(opts.MilestoneID),
		CardID:      optionalString(opts.CardID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCreated, t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title, "state": t.Status.State(),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskEditOptions carries the partial field updates Edit applies. Nil fields
// are left alone. Status never changes through Edit.
type TaskEditOptions struct {
	TaskID          string
	ActorID         string
	ExpectedVersion int64
	Title           *string
	Description     *string
	Priority        *int
	TypeID          *string
	MilestoneID     *string
	CardID          *string
}

// EditTask updates mutable fields under the same CAS guard as status
// transitions. Completed tasks reject edits.
func (e Engine) EditTask(ctx context.Context, opts TaskEditOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	t, err := e.Repo.GetTaskRow(ctx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status.IsTerminal() {
		return domain.Task{}, InvalidTransitionError{From: t.Status.State(), To: t.Status.State()}
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Task{}, validationErrf(CodeInvalidInput, "title cannot be empty")
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil {
		if *opts.Priority < 1 || *opts.Priority > 5 {
			return domain.Task{}, validationErrf(CodeInvalidInput, "priority must be 1-5, got %d", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.TypeID != nil {
		if !e.Config.KnownTaskType(*opts.TypeID) {
			return domain.Task{}, validationErrf(CodeUnknownTaskType, "task type %s not in catalog", *opts.TypeID)
		}
		t.TypeID = *opts.TypeID
	}
	if opts.MilestoneID != nil {
		t.MilestoneID = optionalString(*opts.MilestoneID)
	}
	if opts.CardID != nil {
		t.CardID = optionalString(*opts.CardID)
	}
	if t.MilestoneID != nil && t.CardID != nil {
		return domain.Task{}, validationErrf(CodeExclusiveMembership, "task may belong to a milestone or a card, not both")
	}
	if t.MilestoneID != nil {
		m, err := e.Repo.GetMilestone(ctx, *t.MilestoneID)
		if err != nil {
			return domain.Task{}, err
		}
		if m.ProjectID != t.ProjectID {
			return domain.Task{}, validationErrf(CodeCrossProject, "milestone %s not in project %s", *t.MilestoneID, t.ProjectID)
		}
	}
	if t.CardID != nil {
		c, err := e.Repo.GetCard(ctx, *t.CardID)
		if err != nil {
			return domain.Task{}, err
		}
		if c.ProjectID != t.ProjectID {
			return domain.Task{}, validationErrf(CodeCrossProject, "card %s not in project %s", *t.CardID, t.ProjectID)
		}
	}
	t.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateTaskCAS(ctx, tx, t, opts.ExpectedVersion)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		tx.Rollback()
		return domain.Task{}, e.classifyEditConflict(ctx, opts.TaskID)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskEdited, t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// classifyEditConflict re-reads after an Edit CAS miss. Ownership does not
// gate edits, so the only outcomes are gone, terminal, or stale version.
func (e Engine) classifyEditConflict(ctx context.Context, taskID string) error {
	fresh, err := e.Repo.GetTaskRow(ctx, taskID)
	if err != nil {
		return err
	}
	if fresh.Status.IsTerminal() {
		return InvalidTransitionError{From: fresh.Status.State(), To: fresh.Status.State()}
	}
	return ErrVersionConflict
}

// GetTask returns the task with dependency summaries and blocked count.
func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
