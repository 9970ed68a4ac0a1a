package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"version_conflict"`
	Message string         `json:"message" example:"task was modified concurrently"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskboard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request validation is the caller's fault.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Taskboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerDependencies(group, cfg.Engine)
	registerCards(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's error taxonomy onto HTTP statuses. Conflict
// classes stay distinguishable through the envelope code.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrNotAuthorized) {
		return newAPIError(http.StatusForbidden, "not_authorized", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrAlreadyClaimed) {
		return newAPIError(http.StatusConflict, "already_claimed", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrVersionConflict) {
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), nil)
	}
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"from": ite.From, "to": ite.To,
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, ve.Code, ve.Msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "not_authorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_transition"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		}
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			}
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "init-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Initialize project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body InitProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		p, err := e.InitProject(ctx, input.Body.ID, input.Body.OrgID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-member",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/members",
		Summary:       "Add project member",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      AddMemberRequest `json:"body"`
	}) (*struct {
		Body domain.Member `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddMember(ctx, input.ProjectID, actorID, input.Body.ActorID, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Member `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List project members",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.Member `json:"body"`
	}, error) {
		members, err := e.Repo.ListMembers(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Member `json:"body"`
		}{Body: members}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskDTO `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		opts := engine.TaskCreateOptions{
			ProjectID: input.ProjectID,
			TypeID:    input.Body.TypeID,
			Title:     input.Body.Title,
			ActorID:   actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		if input.Body.MilestoneID != nil {
			opts.MilestoneID = *input.Body.MilestoneID
		}
		if input.Body.CardID != nil {
			opts.CardID = *input.Body.CardID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskDTO `json:"body"`
		}{Body: toTaskDTO(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		State     string `query:"state"`
		TypeID    string `query:"type"`
		ClaimedBy string `query:"claimed_by"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []TaskDTO `json:"body"`
	}, error) {
		tasks, err := e.ListTasks(ctx, repo.TaskFilters{
			ProjectID: input.ProjectID,
			State:     input.State,
			TypeID:    input.TypeID,
			ClaimedBy: input.ClaimedBy,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskDTO `json:"body"`
		}{Body: toTaskDTOs(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskDTO `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskDTO `json:"body"`
		}{Body: toTaskDTO(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Edit task fields",
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   EditTaskRequest `json:"body"`
	}) (*struct {
		Body TaskDTO `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.EditTask(ctx, engine.TaskEditOptions{
			TaskID:          input.TaskID,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			Priority:        input.Body.Priority,
			TypeID:          input.Body.TypeID,
			MilestoneID:     input.Body.MilestoneID,
			CardID:          input.Body.CardID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskDTO `json:"body"`
		}{Body: toTaskDTO(t)}, nil
	})

	type transitionFunc func(context.Context, engine.TransitionOptions) (domain.Task, []engine.RuleResult, error)
	transitions := []struct {
		verb string
		fn   transitionFunc
	}{
		{"claim", e.Claim},
		{"start", e.StartWork},
		{"pause", e.PauseWork},
		{"release", e.Release},
		{"complete", e.Complete},
	}
	for _, tr := range transitions {
		tr := tr
		huma.Register(api, huma.Operation{
			OperationID: tr.verb + "-task",
			Method:      http.MethodPost,
			Path:        "/tasks/{task_id}/" + tr.verb,
			Summary:     "Task lifecycle: " + tr.verb,
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusUnprocessableEntity,
			},
		}, func(ctx context.Context, input *struct {
			TaskID string            `path:"task_id"`
			Body   TransitionRequest `json:"body"`
		}) (*struct {
			Body TaskMutationResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			t, results, err := tr.fn(ctx, engine.TransitionOptions{
				TaskID:          input.TaskID,
				ActorID:         actorID,
				ExpectedVersion: input.Body.ExpectedVersion,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body TaskMutationResponse `json:"body"`
			}{Body: TaskMutationResponse{
				Task:       toTaskDTO(t),
				Automation: toRuleResultDTOs(results),
			}}, nil
		})
	}
}

func registerDependencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/dependencies",
		Summary:       "Add task dependency",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   AddDependencyRequest `json:"body"`
	}) (*struct {
		Body []DependencyDTO `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.DependsOnTaskID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "depends_on_task_id is required", nil)
		}
		if err := e.AddDependency(ctx, input.TaskID, input.Body.DependsOnTaskID, actorID); err != nil {
			return nil, handleError(err)
		}
		return dependenciesResponse(ctx, e, input.TaskID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dependencies",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/dependencies",
		Summary:     "List task dependencies",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body []DependencyDTO `json:"body"`
	}, error) {
		return dependenciesResponse(ctx, e, input.TaskID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-dependency",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/dependencies/{depends_on_task_id}",
		Summary:     "Remove task dependency",
	}, func(ctx context.Context, input *struct {
		TaskID          string `path:"task_id"`
		DependsOnTaskID string `path:"depends_on_task_id"`
	}) (*struct {
		Body []DependencyDTO `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDependency(ctx, input.TaskID, input.DependsOnTaskID, actorID); err != nil {
			return nil, handleError(err)
		}
		return dependenciesResponse(ctx, e, input.TaskID)
	})
}

func dependenciesResponse(ctx context.Context, e engine.Engine, taskID string) (*struct {
	Body []DependencyDTO `json:"body"`
}, error) {
	deps, err := e.Dependencies(ctx, taskID)
	if err != nil {
		return nil, handleError(err)
	}
	out := make([]DependencyDTO, 0, len(deps))
	for _, d := range deps {
		out = append(out, DependencyDTO{TaskID: d.TaskID, Title: d.Title, State: d.State})
	}
	return &struct {
		Body []DependencyDTO `json:"body"`
	}{Body: out}, nil
}

func registerCards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-card",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/cards",
		Summary:       "Create card",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateCardRequest `json:"body"`
	}) (*struct {
		Body CardDTO `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCard(ctx, input.ProjectID, input.Body.Title, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CardDTO `json:"body"`
		}{Body: toCardDTO(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cards",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/cards",
		Summary:     "List cards",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []CardDTO `json:"body"`
	}, error) {
		cards, err := e.Repo.ListCards(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]CardDTO, 0, len(cards))
		for _, c := range cards {
			out = append(out, toCardDTO(c))
		}
		return &struct {
			Body []CardDTO `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-card-status",
		Method:      http.MethodPost,
		Path:        "/cards/{card_id}/status",
		Summary:     "Move card to a new state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CardID string            `path:"card_id"`
		Body   CardStatusRequest `json:"body"`
	}) (*struct {
		Body CardMutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, results, err := e.SetCardStatus(ctx, engine.CardTransitionOptions{
			CardID:          input.CardID,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
			NewStatus:       input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CardMutationResponse `json:"body"`
		}{Body: CardMutationResponse{
			Card:       toCardDTO(c),
			Automation: toRuleResultDTOs(results),
		}}, nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/workflows",
		Summary:       "Create workflow",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowDTO `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWorkflow(ctx, engine.WorkflowCreateOptions{
			ProjectID: input.ProjectID,
			Name:      input.Body.Name,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowDTO `json:"body"`
		}{Body: toWorkflowDTO(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []WorkflowDTO `json:"body"`
	}, error) {
		workflows, err := e.Repo.ListWorkflows(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]WorkflowDTO, 0, len(workflows))
		for _, w := range workflows {
			out = append(out, toWorkflowDTO(w))
		}
		return &struct {
			Body []WorkflowDTO `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-workflow-active",
		Method:      http.MethodPost,
		Path:        "/workflows/{workflow_id}/active",
		Summary:     "Activate or deactivate a workflow and all its rules",
	}, func(ctx context.Context, input *struct {
		WorkflowID string           `path:"workflow_id"`
		Body       SetActiveRequest `json:"body"`
	}) (*struct {
		Body WorkflowDTO `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetWorkflowActive(ctx, input.WorkflowID, actorID, input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		w, err := e.Repo.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowDTO `json:"body"`
		}{Body: toWorkflowDTO(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-workflow",
		Method:        http.MethodDelete,
		Path:          "/workflows/{workflow_id}",
		Summary:       "Delete workflow and its rules",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWorkflow(ctx, input.WorkflowID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/workflows/{workflow_id}/rules",
		Summary:       "Create rule",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		WorkflowID string            `path:"workflow_id"`
		Body       CreateRuleRequest `json:"body"`
	}) (*struct {
		Body RuleDTO `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.RuleCreateOptions{
			WorkflowID:   input.WorkflowID,
			Name:         input.Body.Name,
			ResourceType: input.Body.ResourceType,
			TargetState:  input.Body.TargetState,
			Action:       input.Body.Action,
			ActorID:      actorID,
		}
		if input.Body.TaskTypeID != nil {
			opts.TaskTypeID = *input.Body.TaskTypeID
		}
		rl, err := e.CreateRule(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleDTO `json:"body"`
		}{Body: toRuleDTO(rl)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}/rules",
		Summary:     "List workflow rules",
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body []RuleDTO `json:"body"`
	}, error) {
		rules, err := e.Repo.ListRulesForWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RuleDTO, 0, len(rules))
		for _, rl := range rules {
			out = append(out, toRuleDTO(rl))
		}
		return &struct {
			Body []RuleDTO `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-rule-active",
		Method:      http.MethodPost,
		Path:        "/rules/{rule_id}/active",
		Summary:     "Activate or deactivate a rule",
	}, func(ctx context.Context, input *struct {
		RuleID string           `path:"rule_id"`
		Body   SetActiveRequest `json:"body"`
	}) (*struct {
		Body RuleDTO `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetRuleActive(ctx, input.RuleID, actorID, input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		rl, err := e.Repo.GetRule(ctx, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleDTO `json:"body"`
		}{Body: toRuleDTO(rl)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent project events",
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []EventDTO `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		evs, err := e.Repo.LatestEvents(ctx, limit, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventDTO `json:"body"`
		}{Body: toEventDTOs(evs)}, nil
	})
}
