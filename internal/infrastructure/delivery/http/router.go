// Package httprouter exposes the job and tools services over HTTP.
package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/consts"
	"tubefetch/internal/errs"
	"tubefetch/internal/infrastructure/delivery/http/middleware"
	"tubefetch/internal/infrastructure/delivery/http/request"
	"tubefetch/internal/infrastructure/delivery/http/response"
	"tubefetch/internal/observability"
	"tubefetch/internal/service"
)

const maxBodySize = 1 << 20

// Router is a ServeMux with a global middleware chain.
type Router struct {
	*http.ServeMux

	log         *slog.Logger
	cfg         *config.Config
	globalChain []func(http.Handler) http.Handler
	svc         service.Job
	tools       service.Tools
	metrics     *observability.Metrics
}

// New builds the router with every route registered.
func New(
	log *slog.Logger,
	cfg *config.Config,
	svc service.Job,
	tools service.Tools,
	metrics *observability.Metrics,
) *Router {
	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		cfg:      cfg,
		svc:      svc,
		tools:    tools,
		metrics:  metrics,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

// Use appends middlewares to the global chain.
func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	r.globalChain = append(r.globalChain, middleware...)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.ServeMux

	for _, middleware := range slices.Backward(r.globalChain) {
		h = middleware(h)
	}

	h.ServeHTTP(w, req)
}

// SetGlobalMiddlewares installs the middlewares every request goes through.
func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer(r.log),
		middleware.RequestID,
		middleware.Logger(r.log),
		middleware.Metrics(r.metrics),
	)
}

// SetRoutes registers every route.
func (r *Router) SetRoutes() {
	r.SetRoutesHealthcheck()
	r.SetRoutesJob()
	r.SetRoutesTools()
	r.SetRoutesSettings()

	r.Handle("GET /metrics", r.metrics.Handler())
}

// SetRoutesHealthcheck registers GET /v1/readyz.
func (r *Router) SetRoutesHealthcheck() {
	r.HandleFunc("GET /v1/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// SetRoutesJob registers the /v1/jobs/ routes.
func (r *Router) SetRoutesJob() {
	jobRouter := http.NewServeMux()
	jobRouter.HandleFunc("POST /enqueue", r.Enqueue)
	jobRouter.HandleFunc("GET /{$}", r.GetJobs)
	jobRouter.HandleFunc("GET /{id}", r.GetJob)
	jobRouter.HandleFunc("DELETE /{id}/cancel", r.CancelJob)

	r.Handle("/v1/jobs/", http.StripPrefix("/v1/jobs", jobRouter))
}

// SetRoutesTools registers the /v1/tools/ routes.
func (r *Router) SetRoutesTools() {
	toolsRouter := http.NewServeMux()
	toolsRouter.HandleFunc("GET /{$}", r.GetTools)
	toolsRouter.HandleFunc("POST /install", r.InstallTools)

	r.Handle("/v1/tools/", http.StripPrefix("/v1/tools", toolsRouter))
}

// SetRoutesSettings registers the /v1/settings/ routes.
func (r *Router) SetRoutesSettings() {
	r.HandleFunc("PUT /v1/settings/tools-dir", r.SetToolsDir)
}

func (r *Router) handlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := r.cfg.HTTP.HandlerTimeout
	if timeout <= 0 {
		timeout = consts.DefaultHandlerTimeout
	}

	return context.WithTimeout(parent, timeout)
}

func decode(w http.ResponseWriter, req *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodySize)).Decode(v) //nolint:wrapcheck
}

// Enqueue handles POST /v1/jobs/enqueue.
func (r *Router) Enqueue(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "Enqueue"), slog.String("request_id", middleware.GetRequestID(req.Context())))

	ctx, cancel := r.handlerContext(req.Context())
	defer cancel()

	var in request.Enqueue
	if err := decode(w, req, &in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	job, err := r.svc.Enqueue(ctx, in.URL, in.Quality)

	switch {
	case errors.Is(err, errs.ErrJobAlreadyExists):
		log.DebugContext(ctx, consts.RespJobAlreadyExists, slog.String("job_id", job.ID))
		response.OK(w, consts.RespJobAlreadyExists, job)
	case errors.Is(err, errs.ErrInvalidURL), errors.Is(err, errs.ErrInvalidQuality):
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)
	case errors.Is(err, errs.ErrServiceClosed), errors.Is(err, errs.ErrJobQueueFull):
		log.WarnContext(ctx, consts.RespJobEnqueueFail, slog.Any("error", err))
		response.ServiceUnavailable(w, consts.RespJobEnqueueFail, err)
	case err != nil:
		log.ErrorContext(ctx, consts.RespJobEnqueueFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobEnqueueFail, err)
	default:
		log.InfoContext(ctx, consts.RespJobEnqueued, slog.String("url", job.URL), slog.String("job_id", job.ID))
		response.Accepted(w, consts.RespJobEnqueued, job)
	}
}

// GetJob handles GET /v1/jobs/{id}.
func (r *Router) GetJob(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := r.handlerContext(req.Context())
	defer cancel()

	id := req.PathValue("id")
	if id == "" {
		response.BadRequest(w, consts.RespQueryParamMissing, errs.ErrJobIDEmpty)

		return
	}

	job, ok := r.svc.GetByID(ctx, id)
	if !ok {
		response.NotFound(w, consts.RespJobNotFound, errs.ErrJobNotFound)

		return
	}

	response.OK(w, consts.RespJobRetrieved, job)
}

// GetJobs handles GET /v1/jobs/.
func (r *Router) GetJobs(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "GetJobs"))

	ctx, cancel := r.handlerContext(req.Context())
	defer cancel()

	jobs, err := r.svc.GetAll(ctx)
	if errors.Is(err, errs.ErrNoJobs) {
		response.NoContent(w)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespGetJobsFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespGetJobsFail, err)

		return
	}

	response.OK(w, consts.RespJobsRetrieved, jobs)
}

// CancelJob handles DELETE /v1/jobs/{id}/cancel.
func (r *Router) CancelJob(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "CancelJob"))
	ctx := req.Context()

	job, err := r.svc.Cancel(ctx, req.PathValue("id"))

	switch {
	case errors.Is(err, errs.ErrJobIDEmpty):
		response.BadRequest(w, consts.RespQueryParamMissing, err)
	case errors.Is(err, errs.ErrJobNotFound):
		response.NotFound(w, consts.RespJobNotFound, err)
	case errors.Is(err, errs.ErrJobNotActive):
		response.Conflict(w, consts.RespJobCancelFail, job, err)
	case err != nil:
		log.ErrorContext(ctx, consts.RespJobCancelFail, slog.Any("error", err))
		response.WriteJSON(w, http.StatusInternalServerError, consts.RespJobCancelFail, job, err)
	default:
		response.OK(w, consts.RespJobCancelled, job)
	}
}

// GetTools handles GET /v1/tools/.
func (r *Router) GetTools(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := r.handlerContext(req.Context())
	defer cancel()

	response.OK(w, consts.RespToolsRetrieved, r.tools.Status(ctx))
}

// InstallTools handles POST /v1/tools/install. The response is written once every tool is installed.
func (r *Router) InstallTools(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "InstallTools"))
	ctx := req.Context()
	start := time.Now()

	status, err := r.tools.Install(ctx)
	if err != nil {
		log.ErrorContext(ctx, consts.RespToolsInstallFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespToolsInstallFail, err)

		return
	}

	log.InfoContext(ctx, consts.RespToolsInstalled, slog.Duration("took", time.Since(start)))
	response.OK(w, consts.RespToolsInstalled, status)
}

// SetToolsDir handles PUT /v1/settings/tools-dir.
func (r *Router) SetToolsDir(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "SetToolsDir"))

	ctx, cancel := r.handlerContext(req.Context())
	defer cancel()

	var in request.ToolsDir
	if err := decode(w, req, &in); err != nil {
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	dir, err := r.tools.SetToolsDir(ctx, in.Dir)
	if err != nil {
		log.ErrorContext(ctx, consts.RespSettingsUpdateFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespSettingsUpdateFail, err)

		return
	}

	response.OK(w, consts.RespSettingsUpdated, request.ToolsDir{Dir: dir})
}
