package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"readyline/internal/engine"
	"readyline/internal/engine/auth"
	"readyline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"interview not found: 5d1f"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"kind\":\"interview\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the readyline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
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
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(accessLog(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Readyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCompanies(group, cfg.Engine)
	registerInterviews(group, cfg.Engine)
	registerResponses(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"company_id": fe.CompanyID})
	}
	var ce engine.CreationError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusInternalServerError, "creation_failed", "interview creation failed", map[string]any{
			"interview_id": ce.InterviewID,
			"step":         ce.Step,
		})
	}
	var nf engine.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var ic engine.InvalidConfigurationError
	if errors.As(err, &ic) {
		details := map[string]any{"question_id": ic.QuestionID}
		if ic.PartID != "" {
			details["part_id"] = ic.PartID
		}
		return newAPIError(http.StatusUnprocessableEntity, "invalid_configuration", err.Error(), details)
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
	case http.StatusUnprocessableEntity:
		return "invalid_configuration"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func principalFromRequest(ctx context.Context) (auth.Principal, huma.StatusError) {
	if p, ok := auth.FromContext(ctx); ok && p.ActorID != "" {
		return p, nil
	}
	return auth.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// requireCompany returns the caller's actor id when it is scoped to
// companyID.
func requireCompany(ctx context.Context, companyID string) (string, error) {
	p, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return "", authErr
	}
	if err := p.Require(companyID); err != nil {
		return "", err
	}
	return p.ActorID, nil
}

func requireInterview(ctx context.Context, e engine.Engine, interviewID string) (string, error) {
	if _, authErr := principalFromRequest(ctx); authErr != nil {
		return "", authErr
	}
	companyID, err := e.CompanyOfInterview(ctx, interviewID)
	if err != nil {
		return "", err
	}
	return requireCompany(ctx, companyID)
}

func requireResponse(ctx context.Context, e engine.Engine, responseID string) (string, error) {
	if _, authErr := principalFromRequest(ctx); authErr != nil {
		return "", authErr
	}
	companyID, err := e.CompanyOfResponse(ctx, responseID)
	if err != nil {
		return "", err
	}
	return requireCompany(ctx, companyID)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
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
    <title>Readyline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

func registerCompanies(api huma.API, e engine.Engine) {
	type companyPath struct {
		CompanyID string `path:"company_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-company-roles",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/roles",
		Summary:     "List company roles with org paths",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *companyPath) (*struct {
		Body []RoleResponse `json:"body"`
	}, error) {
		if _, err := requireCompany(ctx, input.CompanyID); err != nil {
			return nil, handleError(err)
		}
		roles, err := e.ListCompanyRoles(ctx, input.CompanyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RoleResponse `json:"body"`
		}{Body: mapRoles(roles)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-interviews",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/interviews",
		Summary:     "List interviews",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		Status    string `query:"status" enum:"pending,in_progress,completed"`
		ContactID string `query:"contact_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedInterviews `json:"body"`
	}, error) {
		if _, err := requireCompany(ctx, input.CompanyID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListInterviews(ctx, repo.InterviewFilters{
			CompanyID: input.CompanyID,
			Status:    input.Status,
			ContactID: input.ContactID,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedInterviews `json:"body"`
		}{Body: paginatedInterviews{Items: mapInterviews(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-interview",
		Method:        http.MethodPost,
		Path:          "/companies/{company_id}/interviews",
		Summary:       "Create interview",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string                 `path:"company_id"`
		Body      CreateInterviewRequest `json:"body"`
	}) (*struct {
		Body InterviewResponse `json:"body"`
	}, error) {
		actorID, err := requireCompany(ctx, input.CompanyID)
		if err != nil {
			return nil, handleError(err)
		}
		iv, err := e.CreateInterview(ctx, engine.InterviewCreateOptions{
			CompanyID:       input.CompanyID,
			QuestionnaireID: input.Body.QuestionnaireID,
			AssessmentID:    input.Body.AssessmentID,
			ContactID:       input.Body.ContactID,
			RoleIDs:         input.Body.RoleIDs,
			Name:            input.Body.Name,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InterviewResponse `json:"body"`
		}{Body: interviewResponse(iv)}, nil
	})
}

func registerInterviews(api huma.API, e engine.Engine) {
	type interviewPath struct {
		ID string `path:"id"`
	}
	interviewErrors := []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound}

	huma.Register(api, huma.Operation{
		OperationID: "get-interview",
		Method:      http.MethodGet,
		Path:        "/interviews/{id}",
		Summary:     "Get interview",
		Errors:      interviewErrors,
	}, func(ctx context.Context, input *interviewPath) (*struct {
		Body InterviewResponse `json:"body"`
	}, error) {
		if _, err := requireInterview(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		iv, err := e.GetInterview(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InterviewResponse `json:"body"`
		}{Body: interviewResponse(iv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-interview",
		Method:        http.MethodDelete,
		Path:          "/interviews/{id}",
		Summary:       "Delete interview",
		DefaultStatus: http.StatusNoContent,
		Errors:        interviewErrors,
	}, func(ctx context.Context, input *interviewPath) (*struct{}, error) {
		actorID, err := requireInterview(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteInterview(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-interview-enabled",
		Method:      http.MethodPatch,
		Path:        "/interviews/{id}/enabled",
		Summary:     "Enable or disable an individual interview",
		Errors:      append([]int{http.StatusBadRequest}, interviewErrors...),
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body SetEnabledRequest `json:"body"`
	}) (*struct {
		Body InterviewResponse `json:"body"`
	}, error) {
		actorID, err := requireInterview(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		iv, err := e.SetInterviewEnabled(ctx, input.ID, input.Body.Enabled, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InterviewResponse `json:"body"`
		}{Body: interviewResponse(iv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-interview-progress",
		Method:      http.MethodGet,
		Path:        "/interviews/{id}/progress",
		Summary:     "Interview progress",
		Errors:      interviewErrors,
	}, func(ctx context.Context, input *interviewPath) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		if _, err := requireInterview(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetProgress(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: ProgressResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-interview-responses",
		Method:      http.MethodGet,
		Path:        "/interviews/{id}/responses",
		Summary:     "List interview responses",
		Errors:      interviewErrors,
	}, func(ctx context.Context, input *interviewPath) (*struct {
		Body []ResponseResponse `json:"body"`
	}, error) {
		if _, err := requireInterview(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListResponses(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ResponseResponse `json:"body"`
		}{Body: mapResponses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applicable-roles",
		Method:      http.MethodGet,
		Path:        "/interviews/{id}/questions/{question_id}/applicable-roles",
		Summary:     "Roles that may answer a question",
		Errors:      interviewErrors,
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		QuestionID string `path:"question_id"`
	}) (*struct {
		Body ApplicableRolesResponse `json:"body"`
	}, error) {
		if _, err := requireInterview(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		res, err := e.ListApplicableRoles(ctx, input.ID, input.QuestionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicableRolesResponse `json:"body"`
		}{Body: applicableRolesResponse(res)}, nil
	})
}

func registerResponses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-response",
		Method:      http.MethodPatch,
		Path:        "/responses/{id}",
		Summary:     "Update a response",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateResponseRequest `json:"body"`
	}) (*struct {
		Body ResponseResponse `json:"body"`
	}, error) {
		actorID, err := requireResponse(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := e.UpdateResponse(ctx, engine.ResponseUpdateOptions{
			ID:          input.ID,
			RatingScore: input.Body.RatingScore,
			IsUnknown:   input.Body.IsUnknown,
			ClearRating: input.Body.ClearRating,
			RoleIDs:     input.Body.RoleIDs,
			PartAnswers: partAnswers(input.Body.PartAnswers),
			Comments:    input.Body.Comments,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResponseResponse `json:"body"`
		}{Body: responseResponse(resp)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CompanyID  string `query:"company_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"interview,response,catalog"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.CompanyID == "" && !p.Allows(auth.Wildcard) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "company_id is required", map[string]any{"field": "company_id"})
		}
		if input.CompanyID != "" {
			if err := p.Require(input.CompanyID); err != nil {
				return nil, handleError(err)
			}
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.LatestEvents(ctx, repo.EventFilters{
			CompanyID:  input.CompanyID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     before,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
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
