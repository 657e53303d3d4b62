package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"faas-controller/internal/core/billing"
	"faas-controller/internal/core/functions"
	"faas-controller/internal/core/invocation"
	"faas-controller/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.opentelemetry.io/otel/propagation"
)

const (
	maxUploadBytes  = 10 << 20
	maxPayloadBytes = 6 << 20
)

// FunctionService is the single-region lifecycle of functions.
type FunctionService interface {
	Deploy(ctx context.Context, project, region string, spec functions.FunctionSpec) (*functions.Function, error)
	Get(ctx context.Context, ref functions.Ref) (*functions.Function, error)
	List(ctx context.Context, project string) ([]functions.Function, error)
	Configure(ctx context.Context, ref functions.Ref, cfg functions.AutoscalingConfig) (*functions.Function, error)
	Delete(ctx context.Context, ref functions.Ref) error
	Deployments(ctx context.Context, project, name string) ([]functions.Deployment, error)
}

type MultiRegionDeployer interface {
	DeployAll(ctx context.Context, project string, spec functions.FunctionSpec, regions []string) (*functions.MultiRegionResult, error)
}

type Invoker interface {
	Invoke(ctx context.Context, req invocation.Request) (*invocation.Result, error)
}

type MetricsReader interface {
	GetMetrics(ctx context.Context, project, name string, iv billing.Interval) (*billing.Report, error)
}

// Deps are the services behind the API.
type Deps struct {
	Functions   FunctionService
	MultiRegion MultiRegionDeployer
	Invoker     Invoker
	Metrics     MetricsReader
	Gatherer    prometheus.Gatherer
	// Health reports whether the registry is reachable.
	Health func(ctx context.Context) error
}

type Handler struct {
	deps Deps
	now  func() time.Time
	lg   zerolog.Logger
}

func NewHandler(deps Deps, lg zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := &Handler{deps: deps, now: time.Now, lg: lg.With().Str("component", "http").Logger()}

	r.Route("/projects/{project}/functions", func(r chi.Router) {
		r.Post("/", h.handleDeployFunction)
		r.Get("/", h.handleListFunctions)
		r.Post("/multi-region", h.handleDeployMultiRegion)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.handleGetFunction)
			r.Delete("/", h.handleDeleteFunction)
			r.Post("/invoke", h.handleInvokeFunction)
			r.Put("/autoscaling", h.handleConfigureAutoscaling)
			r.Get("/metrics", h.handleGetMetrics)
			r.Get("/deployments", h.handleListDeployments)
		})
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", h.handleHealth)
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	return r
}

func (h *Handler) ref(r *http.Request) functions.Ref {
	return functions.Ref{
		Project: chi.URLParam(r, "project"),
		Name:    chi.URLParam(r, "name"),
		Region:  r.URL.Query().Get("region"),
	}
}

// readSpec parses the multipart "spec" JSON field into v and returns the "source" file.
func readSpec(r *http.Request, v any) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, errors.New("invalid form data")
	}
	raw := r.FormValue("spec")
	if raw == "" {
		return nil, errors.New("missing 'spec' in form")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return nil, errors.New("'spec' is not valid json: " + err.Error())
	}
	file, _, err := r.FormFile("source")
	if err != nil {
		return nil, errors.New("missing 'source' in form")
	}
	defer file.Close()
	src, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, errors.New("could not read 'source'")
	}
	return src, nil
}

// handleDeployFunction deploys a function to one region.
// @Summary      Deploy a function
// @Tags         functions
// @Accept       multipart/form-data
// @Produce      json
// @Param        project  path      string  true   "Project"
// @Param        region   query     string  false  "Region (defaults to the configured default region)"
// @Param        spec     formData  string  true   "Function spec as JSON"
// @Param        source   formData  file    true   "Function source"
// @Success      201  {object}  functions.Function
// @Failure      400,409,502  {object}  errorResponse
// @Router       /projects/{project}/functions [post]
func (h *Handler) handleDeployFunction(w http.ResponseWriter, r *http.Request) {
	var spec functions.FunctionSpec
	src, err := readSpec(r, &spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec.Source = src

	fn, err := h.deps.Functions.Deploy(r.Context(), chi.URLParam(r, "project"), r.URL.Query().Get("region"), spec)
	if err != nil {
		h.fail(w, "deploy function", err)
		return
	}
	writeJSON(w, http.StatusCreated, fn)
}

// handleDeployMultiRegion deploys a function to several regions at once.
// @Summary      Deploy a function to several regions
// @Tags         functions
// @Accept       multipart/form-data
// @Produce      json
// @Param        project  path      string  true  "Project"
// @Param        spec     formData  string  true  "Function spec as JSON with a regions list"
// @Param        source   formData  file    true  "Function source"
// @Success      201  {object}  functions.MultiRegionResult
// @Failure      400  {object}  errorResponse
// @Router       /projects/{project}/functions/multi-region [post]
func (h *Handler) handleDeployMultiRegion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		functions.FunctionSpec
		Regions []string `json:"regions"`
	}
	src, err := readSpec(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Source = src

	res, err := h.deps.MultiRegion.DeployAll(r.Context(), chi.URLParam(r, "project"), req.FunctionSpec, req.Regions)
	if err != nil {
		h.fail(w, "deploy multi-region", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleListFunctions lists the live functions of a project.
// @Summary  List functions
// @Tags     functions
// @Produce  json
// @Param    project  path  string  true  "Project"
// @Success  200  {array}  functions.Function
// @Router   /projects/{project}/functions [get]
func (h *Handler) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Functions.List(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		h.fail(w, "list functions", err)
		return
	}
	if list == nil {
		list = []functions.Function{}
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary  Get a function
// @Tags     functions
// @Produce  json
// @Param    project  path   string  true   "Project"
// @Param    name     path   string  true   "Function name"
// @Param    region   query  string  false  "Region"
// @Success  200  {object}  functions.Function
// @Failure  404  {object}  errorResponse
// @Router   /projects/{project}/functions/{name} [get]
func (h *Handler) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := h.deps.Functions.Get(r.Context(), h.ref(r))
	if err != nil {
		h.fail(w, "get function", err)
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

// @Summary  Delete a function
// @Tags     functions
// @Param    project  path   string  true   "Project"
// @Param    name     path   string  true   "Function name"
// @Param    region   query  string  false  "Region"
// @Success  204
// @Failure  404  {object}  errorResponse
// @Router   /projects/{project}/functions/{name} [delete]
func (h *Handler) handleDeleteFunction(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Functions.Delete(r.Context(), h.ref(r)); err != nil {
		h.fail(w, "delete function", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInvokeFunction forwards the request body as the payload. A W3C traceparent header
// continues the caller's trace; X-Trace-Id pins the trace id.
// @Summary  Invoke a function
// @Tags     invocation
// @Accept   json
// @Produce  json
// @Param    project     path    string  true   "Project"
// @Param    name        path    string  true   "Function name"
// @Param    region      query   string  false  "Region"
// @Param    X-Trace-Id  header  string  false  "Trace id to propagate"
// @Success  200  {object}  invocation.Result
// @Failure  404,502,504  {object}  errorResponse
// @Router   /projects/{project}/functions/{name}/invoke [post]
func (h *Handler) handleInvokeFunction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	payload := json.RawMessage("null")
	if len(strings.TrimSpace(string(body))) > 0 {
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		payload = body
	}

	ctx := telemetry.Propagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ref := h.ref(r)
	res, err := h.deps.Invoker.Invoke(ctx, invocation.Request{
		Project: ref.Project,
		Name:    ref.Name,
		Region:  ref.Region,
		Payload: payload,
		TraceID: r.Header.Get(invocation.HeaderTraceID),
	})
	if err != nil {
		h.fail(w, "invoke function", err)
		return
	}
	w.Header().Set(invocation.HeaderTraceID, res.TraceID)
	writeJSON(w, http.StatusOK, res)
}

// @Summary  Configure autoscaling
// @Tags     functions
// @Accept   json
// @Produce  json
// @Param    project  path   string                       true   "Project"
// @Param    name     path   string                       true   "Function name"
// @Param    region   query  string                       false  "Region"
// @Param    config   body   functions.AutoscalingConfig  true   "Autoscaling config"
// @Success  200  {object}  functions.Function
// @Failure  400,404  {object}  errorResponse
// @Router   /projects/{project}/functions/{name}/autoscaling [put]
func (h *Handler) handleConfigureAutoscaling(w http.ResponseWriter, r *http.Request) {
	var cfg functions.AutoscalingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	fn, err := h.deps.Functions.Configure(r.Context(), h.ref(r), cfg)
	if err != nil {
		h.fail(w, "configure autoscaling", err)
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

// @Summary  Usage metrics and cost estimate
// @Tags     metrics
// @Produce  json
// @Param    project   path   string  true   "Project"
// @Param    name      path   string  true   "Function name"
// @Param    interval  query  string  false  "Window ending now, e.g. 1h or 7d"  default(1h)
// @Param    bucket    query  string  false  "Bucket width, e.g. 1m"
// @Success  200  {object}  billing.Report
// @Failure  400,404  {object}  errorResponse
// @Router   /projects/{project}/functions/{name}/metrics [get]
func (h *Handler) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("interval")
	if window == "" {
		window = "1h"
	}
	iv, err := billing.ParseInterval(window, r.URL.Query().Get("bucket"), h.now())
	if err != nil {
		h.fail(w, "parse interval", err)
		return
	}
	report, err := h.deps.Metrics.GetMetrics(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "name"), iv)
	if err != nil {
		h.fail(w, "get metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// @Summary  List multi-region deployments
// @Tags     functions
// @Produce  json
// @Param    project  path  string  true  "Project"
// @Param    name     path  string  true  "Function name"
// @Success  200  {array}  functions.Deployment
// @Router   /projects/{project}/functions/{name}/deployments [get]
func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Functions.Deployments(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "list deployments", err)
		return
	}
	if list == nil {
		list = []functions.Deployment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error   string `json:"error"`
	Class   string `json:"class,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, functions.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, functions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, functions.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, functions.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, functions.ErrBuild), errors.Is(err, functions.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.lg.Error().Err(err).Msg(op)
	} else {
		h.lg.Debug().Err(err).Msg(op)
	}
	resp := errorResponse{Error: err.Error()}
	var ierr *invocation.Error
	if errors.As(err, &ierr) {
		resp.Class = ierr.Class
		resp.TraceID = ierr.TraceID
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
