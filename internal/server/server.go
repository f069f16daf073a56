// Package server exposes the HTTP API: webhook ingestion for each
// configured provider plus a small read/command surface over sprints,
// dependencies, dreams and the processed event log.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bloompath/internal/classify"
	"bloompath/internal/dream"
	"bloompath/internal/events"
	"bloompath/internal/processor"
	"bloompath/internal/provider"
	"bloompath/internal/queue"
)

// Config for the HTTP API handler.
type Config struct {
	Providers  map[string]provider.IssueProvider
	Default    string
	Classifier *classify.Classifier
	Queue      *queue.Queue
	Processor  *processor.Processor
	Dreams     *dream.Engine
	DreamStore *dream.Store
	Events     *events.Writer
	Auth       AuthConfig
	Logger     *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"unknown provider"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the BloomPath API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.New(nil)
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(cfg.Auth))
	hcfg := huma.DefaultConfig("BloomPath API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)

	registerHealth(api, cfg)
	registerWebhooks(api, cfg)
	registerSprintStatus(api, cfg)
	registerIssues(api, cfg)
	registerCompleteTask(api, cfg)
	registerDependencies(api, cfg)
	registerTeamMembers(api, cfg)
	registerDreams(api, cfg)
	registerEvents(api, cfg)

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

// handleError maps domain errors onto HTTP statuses. Configuration
// problems are the operator's to fix (400); provider transport failures
// surface as a bad gateway because the remote tracker, not this service,
// failed.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ce *provider.ConfigurationError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadRequest, "configuration_error", err.Error(), nil)
	}
	var te *provider.TransportError
	if errors.As(err, &te) {
		return newAPIError(http.StatusBadGateway, "provider_unavailable", err.Error(), nil)
	}
	var se *dream.UnknownScenarioError
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadRequest, "unknown_scenario", err.Error(), map[string]any{
			"valid_scenarios": dream.ValidScenarios(),
		})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadGateway:
		return "provider_unavailable"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// providerFor resolves a provider by name, falling back to the configured
// default when the name is empty.
func (cfg Config) providerFor(name string) (provider.IssueProvider, huma.StatusError) {
	if name == "" {
		name = cfg.Default
	}
	p, ok := cfg.Providers[name]
	if !ok || p == nil {
		return nil, newAPIError(http.StatusBadRequest, "unknown_provider",
			fmt.Sprintf("unknown provider %q", name), nil)
	}
	return p, nil
}

func registerHealth(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		res := HealthResponse{
			Status:    "ok",
			Providers: map[string]bool{},
		}
		for name, p := range cfg.Providers {
			res.Providers[name] = p != nil
		}
		if cfg.Queue != nil {
			res.QueueDepth = cfg.Queue.Depth()
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerSprintStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "sprint-status",
		Method:      http.MethodGet,
		Path:        "/sprint_status",
		Summary:     "Active sprint health",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Provider string `query:"provider"`
	}) (*struct {
		Body processor.SprintHealth `json:"body"`
	}, error) {
		prov, apiErr := cfg.providerFor(input.Provider)
		if apiErr != nil {
			return nil, apiErr
		}
		health, err := cfg.Processor.Health(ctx, prov)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body processor.SprintHealth `json:"body"`
		}{Body: health}, nil
	})
}

func registerIssues(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Fetch one issue",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		IssueID  string `path:"issue_id"`
		Provider string `query:"provider"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		prov, apiErr := cfg.providerFor(input.Provider)
		if apiErr != nil {
			return nil, apiErr
		}
		t, err := prov.GetIssue(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		if t == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found",
				fmt.Sprintf("issue %s not found", input.IssueID), nil)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(*t)}, nil
	})
}

func registerCompleteTask(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/complete_task",
		Summary:     "Transition an issue to done",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body CompleteTaskResponse `json:"body"`
	}, error) {
		if input.Body.IssueID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "issue_id is required", nil)
		}
		prov, apiErr := cfg.providerFor(input.Body.Provider)
		if apiErr != nil {
			return nil, apiErr
		}
		if err := prov.TransitionToDone(ctx, input.Body.IssueID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompleteTaskResponse `json:"body"`
		}{Body: CompleteTaskResponse{
			Status:  "completed",
			Issue:   input.Body.IssueID,
			Message: fmt.Sprintf("%s transitioned to done", input.Body.IssueID),
		}}, nil
	})
}

func registerDependencies(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "issue-dependencies",
		Method:      http.MethodGet,
		Path:        "/dependencies/{issue_id}",
		Summary:     "Dependency edges of one issue",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		IssueID  string `path:"issue_id"`
		Provider string `query:"provider"`
	}) (*struct {
		Body DependenciesResponse `json:"body"`
	}, error) {
		prov, apiErr := cfg.providerFor(input.Provider)
		if apiErr != nil {
			return nil, apiErr
		}
		deps, err := prov.Dependencies(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DependenciesResponse `json:"body"`
		}{Body: DependenciesResponse{
			Issue:        input.IssueID,
			Dependencies: deps,
		}}, nil
	})
}

func registerTeamMembers(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "team-members",
		Method:      http.MethodGet,
		Path:        "/team_members",
		Summary:     "Assignees of the active sprint",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Provider string `query:"provider"`
	}) (*struct {
		Body TeamMembersResponse `json:"body"`
	}, error) {
		prov, apiErr := cfg.providerFor(input.Provider)
		if apiErr != nil {
			return nil, apiErr
		}
		res := TeamMembersResponse{Members: []TeamMember{}}
		sprint, err := prov.ActiveSprint(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if sprint == nil {
			return &struct {
				Body TeamMembersResponse `json:"body"`
			}{Body: res}, nil
		}
		issues, err := prov.SprintIssues(ctx, sprint.ID)
		if err != nil {
			return nil, handleError(err)
		}
		byID := map[string]*TeamMember{}
		order := []string{}
		for _, t := range issues {
			if t.AssigneeName == "" && t.AssigneeID == "" {
				continue
			}
			key := t.AssigneeID
			if key == "" {
				key = t.AssigneeName
			}
			m, ok := byID[key]
			if !ok {
				m = &TeamMember{
					ID:     t.AssigneeID,
					Name:   t.AssigneeName,
					Avatar: t.AssigneeAvatar,
				}
				byID[key] = m
				order = append(order, key)
			}
			m.IssueCount++
		}
		for _, key := range order {
			res.Members = append(res.Members, *byID[key])
		}
		return &struct {
			Body TeamMembersResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerDreams(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "run-dream",
		Method:      http.MethodPost,
		Path:        "/dream",
		Summary:     "Run a what-if simulation",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body DreamRequest `json:"body"`
	}) (*struct {
		Body dream.Result `json:"body"`
	}, error) {
		if input.Body.Scenario == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "scenario is required", map[string]any{
				"valid_scenarios": dream.ValidScenarios(),
			})
		}
		prov, apiErr := cfg.providerFor(input.Body.Provider)
		if apiErr != nil {
			return nil, apiErr
		}
		snap, err := dream.BuildSnapshot(ctx, prov, nil)
		if err != nil {
			return nil, handleError(err)
		}
		result, err := cfg.Dreams.Dream(ctx, input.Body.Scenario, snap, input.Body.overrides())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body dream.Result `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dreams",
		Method:      http.MethodGet,
		Path:        "/dreams",
		Summary:     "List recorded dreams",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DreamListResponse `json:"body"`
	}, error) {
		items, err := cfg.DreamStore.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []dream.Metadata{}
		}
		return &struct {
			Body DreamListResponse `json:"body"`
		}{Body: DreamListResponse{Dreams: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dream",
		Method:      http.MethodGet,
		Path:        "/dreams/{dream_id}",
		Summary:     "Fetch one recorded dream",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DreamID string `path:"dream_id"`
	}) (*struct {
		Body dream.Result `json:"body"`
	}, error) {
		result, err := cfg.DreamStore.Load(ctx, input.DreamID)
		if err != nil {
			return nil, handleError(err)
		}
		if result == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found",
				fmt.Sprintf("dream %s not found", input.DreamID), nil)
		}
		return &struct {
			Body dream.Result `json:"body"`
		}{Body: *result}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recently processed events",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		if cfg.Events == nil {
			return &struct {
				Body EventListResponse `json:"body"`
			}{Body: EventListResponse{Events: []events.Record{}}}, nil
		}
		records, err := cfg.Events.Recent(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if records == nil {
			records = []events.Record{}
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Events: records}}, nil
	})
}

