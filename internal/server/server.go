package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
	"planline/internal/tools"
)

// ActorHeader names the agent or operator a request acts for.
const ActorHeader = "X-Actor-Id"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Tools    *tools.Registry
	BasePath string
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"story proj:1-2 changed since it was read"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"current_updated_at\":\"2024-01-01T09:00:00.000000000Z\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the planline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Tools == nil {
		return nil, errors.New("server: tool registry required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
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
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(actorMiddleware)
	hcfg := huma.DefaultConfig("Planline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTools(group, cfg.Tools)
	registerProjects(group, cfg.Engine)
	registerStories(group, cfg.Engine)
	registerReservations(group, cfg.Engine)
	registerPlanningDocs(group, cfg.Engine)
	registerVersions(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(tools.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			began := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(began),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
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

// handleError maps business errors to their HTTP status and keeps the kind
// as the error code. Anything else is a 500.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if ae, ok := apperr.As(err); ok {
		return newAPIError(ae.Kind.HTTPStatus(), string(ae.Kind), ae.Message, ae.Details)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_argument"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_state"
	case http.StatusServiceUnavailable:
		return "busy"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var errorStatuses = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Planline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Send X-Actor-Id to attribute writes to an agent.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// registerTools exposes the tool registry. Calls answer 200 with the result
// envelope for every business outcome, matching what MCP clients see.
func registerTools(api huma.API, reg *tools.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "List tools with their argument schemas",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ToolResponse `json:"body"`
	}, error) {
		return &struct {
			Body []ToolResponse `json:"body"`
		}{Body: toolResponses(reg.List())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "call-tool",
		Method:      http.MethodPost,
		Path:        "/tools/{name}",
		Summary:     "Call a tool",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Name    string `path:"name"`
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body tools.Result `json:"body"`
	}, error) {
		res, err := reg.Call(ctx, input.Name, input.RawBody)
		if errors.Is(err, tools.ErrUnknownTool) {
			return nil, newAPIError(http.StatusNotFound, "unknown_tool", err.Error(), map[string]any{"tool": input.Name})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body tools.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "register-project",
		Method:      http.MethodPost,
		Path:        "/projects",
		Summary:     "Register or refresh a project",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body RegisterProjectRequest `json:"body"`
	}) (*struct {
		Body RegisterProjectResponse `json:"body"`
	}, error) {
		p, created, err := e.RegisterProject(ctx, engine.RegisterProjectOptions{
			ID:       input.Body.ID,
			Name:     input.Body.Name,
			RootPath: input.Body.RootPath,
			Config:   input.Body.Config,
			Actor:    tools.ActorFrom(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RegisterProjectResponse `json:"body"`
		}{Body: RegisterProjectResponse{Project: p, Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-context",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Project overview",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body engine.ProjectContext `json:"body"`
	}, error) {
		pc, err := e.GetProjectContext(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectContext `json:"body"`
		}{Body: pc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sprint-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sprint-status",
		Summary:     "Story and task counts per epic",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body engine.SprintStatus `json:"body"`
	}, error) {
		st, err := e.GetSprintStatus(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SprintStatus `json:"body"`
		}{Body: st}, nil
	})
}

func registerStories(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stories",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stories",
		Summary:     "List stories",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Epic      int    `query:"epic" minimum:"0"`
		Status    string `query:"status" enum:"draft,ready-for-dev,in-progress,review,done,blocked"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Story `json:"body"`
	}, error) {
		f := repo.StoryFilters{ProjectID: input.ProjectID, Status: input.Status, Limit: normalizeLimit(input.Limit)}
		if input.Epic > 0 {
			f.EpicID = repo.EpicID(input.ProjectID, input.Epic)
		}
		items, err := e.ListStories(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Story `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-story",
		Method:      http.MethodGet,
		Path:        "/stories/{story_id}",
		Summary:     "Story with task tree, progress and reservations",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StoryID string `path:"story_id"`
	}) (*struct {
		Body engine.StoryContext `json:"body"`
	}, error) {
		sc, err := e.GetStoryContext(ctx, input.StoryID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StoryContext `json:"body"`
		}{Body: sc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-story",
		Method:      http.MethodPatch,
		Path:        "/stories/{story_id}",
		Summary:     "Update story fields",
		Description: "With expected_updated_at the write is rejected with 409 if the story changed since it was read.",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		StoryID string             `path:"story_id"`
		Body    UpdateStoryRequest `json:"body"`
	}) (*struct {
		Body engine.WriteResult `json:"body"`
	}, error) {
		u := engine.StoryUpdate{
			StoryID:            input.StoryID,
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			EpicNumber:         input.Body.EpicNumber,
			AcceptanceCriteria: input.Body.AcceptanceCriteria,
			DevNotes:           input.Body.DevNotes,
			ExpectedUpdatedAt:  input.Body.ExpectedUpdatedAt,
			Actor:              tools.ActorFrom(ctx),
		}
		if input.Body.Status != nil {
			st := domain.StoryStatus(*input.Body.Status)
			u.Status = &st
		}
		res, err := e.UpdateStory(ctx, u)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WriteResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/stories/{story_id}/tasks/{task_idx}/complete",
		Summary:     "Mark a task or subtask done",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		StoryID string              `path:"story_id"`
		TaskIdx int                 `path:"task_idx"`
		Body    CompleteTaskRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body engine.CompleteResult `json:"body"`
	}, error) {
		res, err := e.CompleteTask(ctx, engine.CompleteTaskOptions{
			StoryID:    input.StoryID,
			TaskIdx:    input.TaskIdx,
			SubtaskIdx: input.Body.SubtaskIdx,
			Note:       input.Body.Note,
			Actor:      tools.ActorFrom(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CompleteResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerReservations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reserve-task",
		Method:      http.MethodPost,
		Path:        "/stories/{story_id}/tasks/{task_idx}/reservation",
		Summary:     "Claim or renew a task lease",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body ReserveTaskRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body domain.Reservation `json:"body"`
	}, error) {
		agent := input.Body.Agent
		if agent == "" {
			agent = tools.ActorFrom(ctx)
		}
		res, err := e.ReserveTask(ctx, engine.ReserveOptions{
			StoryID:    input.StoryID,
			TaskIdx:    input.TaskIdx,
			Agent:      agent,
			TTLSeconds: input.Body.TTLSeconds,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reservation `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-task",
		Method:      http.MethodDelete,
		Path:        "/stories/{story_id}/tasks/{task_idx}/reservation",
		Summary:     "Release a task lease",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Agent string `query:"agent" doc:"Defaults to the X-Actor-Id header"`
	}) (*struct {
		Body ReleaseResponse `json:"body"`
	}, error) {
		agent := input.Agent
		if agent == "" {
			agent = tools.ActorFrom(ctx)
		}
		released, err := e.ReleaseTask(ctx, input.StoryID, input.TaskIdx, agent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReleaseResponse `json:"body"`
		}{Body: ReleaseResponse{Released: released}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reservations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/reservations",
		Summary:     "Live task leases",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		StoryID   string `query:"story_id"`
		Agent     string `query:"agent"`
	}) (*struct {
		Body []domain.Reservation `json:"body"`
	}, error) {
		items, err := e.ListReservations(ctx, repo.ReservationFilters{ProjectID: input.ProjectID, StoryID: input.StoryID, Agent: input.Agent})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Reservation `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerPlanningDocs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-planning-doc",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/docs/{doc_type}",
		Summary:     "Read a planning doc",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		DocPath
		Format string `query:"format" enum:"full,summary"`
	}) (*struct {
		Body engine.PlanningDocView `json:"body"`
	}, error) {
		doc, err := e.GetPlanningDoc(ctx, input.ProjectID, input.DocType, input.Format)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PlanningDocView `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-planning-doc",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/docs/{doc_type}",
		Summary:     "Create or replace a planning doc",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		DocPath
		Body PlanningDocRequest `json:"body"`
	}) (*struct {
		Body engine.WriteResult `json:"body"`
	}, error) {
		res, err := e.UpdatePlanningDoc(ctx, engine.UpdatePlanningDocOptions{
			ProjectID:         input.ProjectID,
			Type:              input.DocType,
			Content:           input.Body.Content,
			GenerateSummary:   input.Body.GenerateSummary,
			ExpectedUpdatedAt: input.Body.ExpectedUpdatedAt,
			Actor:             tools.ActorFrom(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WriteResult `json:"body"`
		}{Body: res}, nil
	})
}

// Path inputs shared by several routes.
type TaskPath struct {
	StoryID string `path:"story_id"`
	TaskIdx int    `path:"task_idx"`
}

type EpicPath struct {
	ProjectID  string `path:"project_id"`
	EpicNumber int    `path:"epic_number"`
}

func (p EpicPath) key() engine.EpicKey {
	return engine.EpicKey{ProjectID: p.ProjectID, Number: p.EpicNumber}
}

type StoryPath struct {
	StoryID string `path:"story_id"`
}

type DocPath struct {
	ProjectID string `path:"project_id"`
	DocType   string `path:"doc_type"`
}

func (p DocPath) key() engine.DocKey {
	return engine.DocKey{ProjectID: p.ProjectID, Type: p.DocType}
}

// versionRoutes describes one versioned entity. P is the path input, S and W
// embed it for the snapshot and switch routes.
type versionRoutes[P, S, W any] struct {
	name     string
	path     string
	list     func(ctx context.Context, e engine.Engine, in *P) ([]domain.VersionInfo, error)
	snapshot func(ctx context.Context, e engine.Engine, in *S, actor string) (domain.VersionInfo, error)
	switchTo func(ctx context.Context, e engine.Engine, in *W, actor string) (engine.WriteResult, error)
}

type epicSnapshotInput struct {
	EpicPath
	Body SnapshotRequest `json:"body"`
}

type epicSwitchInput struct {
	EpicPath
	Version string `path:"version"`
}

type storySnapshotInput struct {
	StoryPath
	Body SnapshotRequest `json:"body"`
}

type storySwitchInput struct {
	StoryPath
	Version string `path:"version"`
}

type docSnapshotInput struct {
	DocPath
	Body SnapshotRequest `json:"body"`
}

type docSwitchInput struct {
	DocPath
	Version string `path:"version"`
}

func registerVersions(api huma.API, e engine.Engine) {
	registerVersionRoutes(api, e, versionRoutes[EpicPath, epicSnapshotInput, epicSwitchInput]{
		name: "epic",
		path: "/projects/{project_id}/epics/{epic_number}/versions",
		list: func(ctx context.Context, e engine.Engine, in *EpicPath) ([]domain.VersionInfo, error) {
			return e.ListEpicVersions(ctx, in.key())
		},
		snapshot: func(ctx context.Context, e engine.Engine, in *epicSnapshotInput, actor string) (domain.VersionInfo, error) {
			return e.SnapshotEpic(ctx, in.key(), in.Body.Version, actor)
		},
		switchTo: func(ctx context.Context, e engine.Engine, in *epicSwitchInput, actor string) (engine.WriteResult, error) {
			return e.SwitchEpicVersion(ctx, in.key(), in.Version, actor)
		},
	})
	registerVersionRoutes(api, e, versionRoutes[StoryPath, storySnapshotInput, storySwitchInput]{
		name: "story",
		path: "/stories/{story_id}/versions",
		list: func(ctx context.Context, e engine.Engine, in *StoryPath) ([]domain.VersionInfo, error) {
			return e.ListStoryVersions(ctx, in.StoryID)
		},
		snapshot: func(ctx context.Context, e engine.Engine, in *storySnapshotInput, actor string) (domain.VersionInfo, error) {
			return e.SnapshotStory(ctx, in.StoryID, in.Body.Version, actor)
		},
		switchTo: func(ctx context.Context, e engine.Engine, in *storySwitchInput, actor string) (engine.WriteResult, error) {
			return e.SwitchStoryVersion(ctx, in.StoryID, in.Version, actor)
		},
	})
	registerVersionRoutes(api, e, versionRoutes[DocPath, docSnapshotInput, docSwitchInput]{
		name: "planning-doc",
		path: "/projects/{project_id}/docs/{doc_type}/versions",
		list: func(ctx context.Context, e engine.Engine, in *DocPath) ([]domain.VersionInfo, error) {
			return e.ListPlanningDocVersions(ctx, in.key())
		},
		snapshot: func(ctx context.Context, e engine.Engine, in *docSnapshotInput, actor string) (domain.VersionInfo, error) {
			return e.SnapshotPlanningDoc(ctx, in.key(), in.Body.Version, actor)
		},
		switchTo: func(ctx context.Context, e engine.Engine, in *docSwitchInput, actor string) (engine.WriteResult, error) {
			return e.SwitchPlanningDocVersion(ctx, in.key(), in.Version, actor)
		},
	})
}

func registerVersionRoutes[P, S, W any](api huma.API, e engine.Engine, v versionRoutes[P, S, W]) {
	huma.Register(api, huma.Operation{
		OperationID: "list-" + v.name + "-versions",
		Method:      http.MethodGet,
		Path:        v.path,
		Summary:     "List " + v.name + " versions, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *P) (*struct {
		Body []domain.VersionInfo `json:"body"`
	}, error) {
		items, err := v.list(ctx, e, input)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.VersionInfo `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "snapshot-" + v.name,
		Method:        http.MethodPost,
		Path:          v.path,
		Summary:       "Snapshot the " + v.name + " under a new label",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *S) (*struct {
		Body domain.VersionInfo `json:"body"`
	}, error) {
		info, err := v.snapshot(ctx, e, input, tools.ActorFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.VersionInfo `json:"body"`
		}{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "switch-" + v.name + "-version",
		Method:      http.MethodPost,
		Path:        v.path + "/{version}/switch",
		Summary:     "Restore the " + v.name + " from a version",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *W) (*struct {
		Body engine.WriteResult `json:"body"`
	}, error) {
		res, err := v.switchTo(ctx, e, input, tools.ActorFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WriteResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,epic,story,planning_doc"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "invalid_argument", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			BeforeID:   cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
