package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"radsite/internal/action"
	"radsite/internal/auth"
	"radsite/internal/callctx"
	"radsite/internal/config"
	"radsite/internal/dispatch"
	"radsite/internal/engine"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/urlsign"
)

const defaultBasePath = "/api"

// Config for the site handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Webhooks []config.Webhook
	// Context stops background webhook delivery when done.
	Context context.Context
	Logger  *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns the site handler: HTML views, action endpoints and the JSON
// API under the base path.
func New(cfg Config) (http.Handler, error) {
	e := cfg.Engine
	if e == nil {
		return nil, errors.New("server needs an engine")
	}
	basePath := strings.TrimSuffix(cfg.BasePath, "/")
	if basePath == "" {
		basePath = defaultBasePath
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
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Use(e.Auth.Identify)
	router.Use(newAPIAuthMiddleware(basePath))

	routes, err := e.Views.Routes(e.Env)
	if err != nil {
		return nil, err
	}
	for _, rt := range routes {
		router.Handle(rt.Pattern, e.Auth.Gate(rt.Level, rt.Handler))
	}
	router.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return e.Auth.Gate(0, next) })
		dispatch.New(e.Env).Mount(r)
	})

	hcfg := huma.DefaultConfig("radsite API", "0.1.0")
	hcfg.OpenAPIPath = "" // served under the base path below
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerActions(group, e)
	registerAvailableActions(group, e)
	registerURLs(group, e)
	registerEvents(group, e)
	registerOpenAPI(router, api, basePath)

	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	startWebhookDispatcher(ctx, e.Repo, cfg.Webhooks, cfg.Logger)
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
	var notAllowed *action.NotAllowedError
	if errors.As(err, &notAllowed) {
		return newAPIError(http.StatusForbidden, "not_allowed", err.Error(), map[string]any{"action": notAllowed.Action})
	}
	var missing *callctx.MissingParamError
	if errors.As(err, &missing) {
		return newAPIError(http.StatusInternalServerError, "configuration_error", err.Error(), nil)
	}
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, action.ErrNotFound), errors.Is(err, model.ErrUnknownModel):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, urlsign.ErrExpired):
		return newAPIError(http.StatusBadRequest, "signature_expired", err.Error(), nil)
	case errors.Is(err, urlsign.ErrMissing), errors.Is(err, urlsign.ErrInvalidSignature), errors.Is(err, urlsign.ErrMangledData):
		return newAPIError(http.StatusBadRequest, "invalid_signature", err.Error(), nil)
	case errors.Is(err, urlsign.ErrNotPath):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
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
		Name: auth.APIKeyHeader,
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
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
    <title>radsite API Docs</title>
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
      Authenticate with the session cookie, Authorization: Bearer &lt;session token&gt; or X-Api-Key.
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

func registerActions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List registered actions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Owner string `query:"owner" doc:"Model key such as contacts.contact"`
	}) (*struct {
		Body []ActionResponse `json:"body"`
	}, error) {
		var owner *model.Model
		if input.Owner != "" {
			m, err := e.Models.Get(input.Owner)
			if err != nil {
				return nil, handleError(err)
			}
			owner = m
		}
		items := []ActionResponse{}
		for _, a := range e.Actions.All() {
			if owner != nil && a.Owner != owner {
				continue
			}
			items = append(items, actionResponse(a, nil))
		}
		return &struct {
			Body []ActionResponse `json:"body"`
		}{Body: items}, nil
	})
}

func registerAvailableActions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "available-actions",
		Method:      http.MethodGet,
		Path:        "/models/{model}/actions",
		Summary:     "Actions available to the caller for a model or one of its records",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Model   string `path:"model"`
		PK      int64  `query:"pk"`
		Field   string `query:"field" doc:"Only actions attached to this field"`
		Unbound bool   `query:"unbound" doc:"Only actions attached to no field"`
	}) (*struct {
		Body []ActionResponse `json:"body"`
	}, error) {
		m, err := e.Models.Get(input.Model)
		if err != nil {
			return nil, handleError(err)
		}
		ctx = e.Env.Context(ctx)
		q := action.Query{Model: m}
		if input.PK != 0 {
			rec, err := e.Repo.Get(ctx, m, input.PK)
			if err != nil {
				return nil, handleError(err)
			}
			q.Instance = rec
		}
		switch {
		case input.Field != "":
			q.Field = action.Attached(input.Field)
		case input.Unbound:
			q.Field = action.Unbound()
		}
		available, err := e.Actions.Available(ctx, q, auth.UserFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		items := []ActionResponse{}
		for _, a := range available {
			items = append(items, actionResponse(a, q.Instance))
		}
		return &struct {
			Body []ActionResponse `json:"body"`
		}{Body: items}, nil
	})
}

func registerURLs(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sign-url",
		Method:      http.MethodPost,
		Path:        "/urls/sign",
		Summary:     "Sign a site path",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SignURLRequest `json:"body"`
	}) (*struct {
		Body SignedURLResponse `json:"body"`
	}, error) {
		p := strings.TrimSpace(input.Body.Path)
		if p == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "path is required", nil)
		}
		var opts []urlsign.Option
		if input.Body.ExpireSeconds != nil {
			opts = append(opts, urlsign.Expire(time.Duration(*input.Body.ExpireSeconds)*time.Second))
		}
		if len(input.Body.Verbs) > 0 {
			opts = append(opts, urlsign.Verbs(input.Body.Verbs...))
		}
		if pk := input.Body.UserPK; pk != nil {
			u := auth.UserFrom(ctx)
			if u == nil || u.ID != *pk {
				return nil, newAPIError(http.StatusForbidden, "forbidden", "can only sign URLs for yourself", map[string]any{"user_pk": *pk})
			}
			opts = append(opts, urlsign.User(*pk))
		}
		su, err := e.Signer.Sign(p, opts...)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignedURLResponse `json:"body"`
		}{Body: signedURLResponse(su)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-url",
		Method:      http.MethodPost,
		Path:        "/urls/verify",
		Summary:     "Check the signature carried by a site path",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body VerifyURLRequest `json:"body"`
	}) (*struct {
		Body SignedURLResponse `json:"body"`
	}, error) {
		su, err := e.Signer.Check(strings.TrimSpace(input.Body.Path))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignedURLResponse `json:"body"`
		}{Body: signedURLResponse(su)}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type" enum:"action.called,transition.applied"`
		Action     string `query:"action"`
		EntityKind string `query:"entity_kind"`
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
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.ListEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			Action:     input.Action,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = formatCursor(items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
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
