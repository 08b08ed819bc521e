package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/engine/notify"
	"signoff/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Notify   notify.Dispatch
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_action"`
	Message string         `json:"message" example:"there already is an active request for this title"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"title_id\":\"t1\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Signoff API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Signoff API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWorkflows(group, cfg.Engine)
	registerGroups(group, cfg.Engine)
	registerPages(group, cfg.Engine)
	registerBindings(group, cfg.Engine)
	registerModeration(group, cfg.Engine, cfg.Notify)
	registerPending(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ia engine.InvalidActionError
	if errors.As(err, &ia) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_action", err.Error(), nil)
	}
	var np engine.NotPublishableError
	if errors.As(err, &np) {
		return newAPIError(http.StatusConflict, "not_publishable", err.Error(), map[string]any{"title_id": np.TitleID})
	}
	if errors.Is(err, engine.ErrMultipleDefaults) {
		return newAPIError(http.StatusInternalServerError, "configuration_error", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "unique") || strings.Contains(lowered, "constraint"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_action"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	// all operations are registered by now, so the document can be
	// rendered once and served as-is
	oas := api.OpenAPI()
	ensureDefaultErrorResponses(oas)
	applyAuthSecurity(oas, basePath)
	spec, _ := json.Marshal(oas)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
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
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
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

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>Signoff API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Create workflow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		seen := map[string]bool{}
		for _, s := range input.Body.Stages {
			if s.GroupID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "stage group_id is required", nil)
			}
			if seen[s.GroupID] {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "a group may appear only once per workflow", map[string]any{"group_id": s.GroupID})
			}
			seen[s.GroupID] = true
		}
		w := domain.Workflow{
			ID:        uuid.NewString(),
			Name:      input.Body.Name,
			Default:   input.Body.Default,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		for _, s := range input.Body.Stages {
			w.Stages = append(w.Stages, domain.Stage{
				ID:         uuid.NewString(),
				WorkflowID: w.ID,
				GroupID:    s.GroupID,
				Order:      s.Order,
				Optional:   s.Optional,
			})
		}
		if err := e.Repo.CreateWorkflow(ctx, w); err != nil {
			return nil, handleError(err)
		}
		created, err := e.Repo.GetWorkflow(ctx, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []WorkflowResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkflows(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkflowResponse `json:"body"`
		}{Body: mapWorkflows(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkflow(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-default-workflow",
		Method:      http.MethodPost,
		Path:        "/workflows/{id}/default",
		Summary:     "Mark workflow as the default",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.SetDefault(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		w, err := e.Repo.GetWorkflow(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-workflow",
		Method:      http.MethodDelete,
		Path:        "/workflows/{id}",
		Summary:     "Delete workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteWorkflow(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerGroups(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        "/groups",
		Summary:     "List groups",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []GroupResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListGroups(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []GroupResponse{}
		for _, g := range items {
			res = append(res, groupResponse(g))
		}
		return &struct {
			Body []GroupResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-group-members",
		Method:      http.MethodGet,
		Path:        "/groups/{id}/members",
		Summary:     "List group members",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGroup(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		users, err := e.Repo.ListMembers(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []UserResponse{}
		for _, u := range users {
			res = append(res, userResponse(u))
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-group-member",
		Method:        http.MethodPost,
		Path:          "/groups/{id}/members",
		Summary:       "Add group member",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body AddMemberRequest `json:"body"`
	}) (*struct{}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetGroup(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.AddGroupMember(ctx, input.ID, input.Body.UserID, input.Body.Email); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-page",
		Method:        http.MethodPost,
		Path:          "/pages",
		Summary:       "Create page",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePageRequest `json:"body"`
	}) (*struct {
		Body PageResponse `json:"body"`
	}, error) {
		if input.Body.Slug == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "slug is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p := domain.Page{
			ID:        uuid.NewString(),
			SiteID:    e.SiteID(),
			ParentID:  input.Body.ParentID,
			Slug:      input.Body.Slug,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertPage(ctx, p); err != nil {
			return nil, handleError(err)
		}
		created, err := e.Repo.GetPage(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PageResponse `json:"body"`
		}{Body: pageResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pages",
		Method:      http.MethodGet,
		Path:        "/pages",
		Summary:     "List pages",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PageResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPages(ctx, e.SiteID())
		if err != nil {
			return nil, handleError(err)
		}
		res := []PageResponse{}
		for _, p := range items {
			res = append(res, pageResponse(p))
		}
		return &struct {
			Body []PageResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-title",
		Method:        http.MethodPost,
		Path:          "/pages/{id}/titles",
		Summary:       "Create title",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body CreateTitleRequest `json:"body"`
	}) (*struct {
		Body TitleResponse `json:"body"`
	}, error) {
		if input.Body.Language == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "language is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetPage(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		t := domain.Title{
			ID:        uuid.NewString(),
			PageID:    input.ID,
			Language:  input.Body.Language,
			Text:      input.Body.Text,
			Draft:     true,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertTitle(ctx, t); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TitleResponse `json:"body"`
		}{Body: titleResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-title",
		Method:      http.MethodGet,
		Path:        "/titles/{id}",
		Summary:     "Get title",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TitleResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTitle(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TitleResponse `json:"body"`
		}{Body: titleResponse(t)}, nil
	})
}

func registerBindings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "bind-workflow",
		Method:      http.MethodPut,
		Path:        "/titles/{id}/workflow",
		Summary:     "Bind workflow to title",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body BindWorkflowRequest `json:"body"`
	}) (*struct {
		Body BindingResponse `json:"body"`
	}, error) {
		if input.Body.WorkflowID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "workflow_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetTitle(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetWorkflow(ctx, input.Body.WorkflowID); err != nil {
			return nil, handleError(err)
		}
		b := domain.Binding{
			TitleID:     input.ID,
			WorkflowID:  input.Body.WorkflowID,
			Descendants: input.Body.Descendants,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.UpsertBinding(ctx, b); err != nil {
			return nil, handleError(err)
		}
		saved, err := e.Repo.GetBinding(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BindingResponse `json:"body"`
		}{Body: bindingResponse(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unbind-workflow",
		Method:      http.MethodDelete,
		Path:        "/titles/{id}/workflow",
		Summary:     "Remove workflow binding",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteBinding(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-workflow",
		Method:      http.MethodGet,
		Path:        "/titles/{id}/workflow",
		Summary:     "Resolve the workflow governing a title",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body *WorkflowResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTitle(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		w, err := e.ResolveWorkflow(ctx, t)
		if err != nil {
			return nil, handleError(err)
		}
		if w == nil {
			return &struct {
				Body *WorkflowResponse `json:"body"`
			}{Body: nil}, nil
		}
		resp := workflowResponse(*w)
		return &struct {
			Body *WorkflowResponse `json:"body"`
		}{Body: &resp}, nil
	})
}

func registerModeration(api huma.API, e engine.Engine, d notify.Dispatch) {
	type moderationInput struct {
		ID   string                  `path:"id"`
		Body ModerationActionRequest `json:"body"`
	}
	type moderationOutput struct {
		Body ActionResponse `json:"body"`
	}
	register := func(opID, pathSuffix, summary string, fn func(context.Context, engine.ActionOptions) (domain.Action, error)) {
		huma.Register(api, huma.Operation{
			OperationID:   opID,
			Method:        http.MethodPost,
			Path:          "/titles/{id}/" + pathSuffix,
			Summary:       summary,
			DefaultStatus: http.StatusCreated,
			Errors: []int{
				http.StatusBadRequest,
				http.StatusNotFound,
				http.StatusUnprocessableEntity,
				http.StatusInternalServerError,
			},
		}, func(ctx context.Context, input *moderationInput) (*moderationOutput, error) {
			userID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			opts := engine.ActionOptions{
				TitleID: input.ID,
				UserID:  userID,
				Message: input.Body.Message,
				Editor:  input.Body.Editor,
			}
			a, err := fn(ctx, opts)
			if err != nil {
				return nil, handleError(err)
			}
			d.Send(ctx, a, opts.Editor)
			return &moderationOutput{Body: actionResponse(a)}, nil
		})
	}
	register("request-moderation", "request", "Open an approval request", e.SubmitRequest)
	register("approve-title", "approve", "Approve at the next eligible stage", e.Approve)
	register("reject-title", "reject", "Reject the open request", e.Reject)
	register("cancel-request", "cancel", "Cancel the open request", e.Cancel)

	huma.Register(api, huma.Operation{
		OperationID:   "record-published",
		Method:        http.MethodPost,
		Path:          "/titles/{id}/published",
		Summary:       "Publish-success hook",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body PublishedHookRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		userID := input.Body.UserID
		if userID == "" {
			actor, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			userID = actor
		}
		a, err := e.RecordPublish(ctx, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "title-status",
		Method:      http.MethodGet,
		Path:        "/titles/{id}/status",
		Summary:     "Title moderation status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TitleStatusResponse `json:"body"`
	}, error) {
		st, err := e.Status(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TitleStatusResponse `json:"body"`
		}{Body: statusResponse(st)}, nil
	})
}

func registerPending(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "pending",
		Method:      http.MethodGet,
		Path:        "/pending",
		Summary:     "Titles awaiting the caller's approval",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TitleStatusResponse `json:"body"`
	}, error) {
		userID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.RequiringAction(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []TitleStatusResponse{}
		for _, st := range items {
			res = append(res, statusResponse(st))
		}
		return &struct {
			Body []TitleStatusResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.LatestEvents(ctx, limit, e.SiteID(), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []EventResponse{}
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		raw := uuid.NewString()
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   input.Body.ActorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			Key:       raw,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []APIKeyResponse{}
		for _, k := range keys {
			res = append(res, APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
