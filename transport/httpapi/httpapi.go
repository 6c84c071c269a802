// Package httpapi is the REST surface for work orders, runs and queue
// introspection. It replaces the teacher's manual http.HandleFunc string
// routing (main.go's "/states/" suffix-slicing) with chi route groups and
// middleware chaining, while keeping the teacher's envelope/error shape and
// its bearer-auth middleware unchanged in behavior.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	appmw "github.com/workbenchhq/controlplane/middleware"
	"github.com/workbenchhq/controlplane/auth"
	"github.com/workbenchhq/controlplane/internal/events"
	"github.com/workbenchhq/controlplane/internal/persistence"
	"github.com/workbenchhq/controlplane/internal/queuefacade"
	"github.com/workbenchhq/controlplane/internal/resource"
	"github.com/workbenchhq/controlplane/internal/service"
	"github.com/workbenchhq/controlplane/internal/telemetry"
	"github.com/workbenchhq/controlplane/internal/workorder"
)

// errCode mirrors spec.md §6's fixed error code enum.
type errCode string

const (
	codeBadRequest     errCode = "BAD_REQUEST"
	codeUnauthorized   errCode = "UNAUTHORIZED"
	codeForbidden      errCode = "FORBIDDEN"
	codeNotFound       errCode = "NOT_FOUND"
	codeConflict       errCode = "CONFLICT"
	codeUnavailable    errCode = "SERVICE_UNAVAILABLE"
	codeInternal       errCode = "INTERNAL_ERROR"
)

type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     *apiErr `json:"error,omitempty"`
	RequestID string `json:"requestId"`
}

type apiErr struct {
	Code    errCode `json:"code"`
	Message string  `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// API holds the collaborators the handlers dispatch to.
type API struct {
	svc         *service.Service
	store       persistence.Store
	facade      *queuefacade.Facade
	broadcast   *events.Broadcaster
	monitor     *resource.Monitor
	requireAuth bool
}

// Options configures the router.
type Options struct {
	Service        *service.Service
	Store          persistence.Store
	Facade         *queuefacade.Facade
	Broadcast      *events.Broadcaster
	Monitor        *resource.Monitor
	RequireAuth    bool
	AllowedOrigins []string
}

// NewRouter builds the chi router with the full /api/v1 surface wired in.
func NewRouter(opts Options) http.Handler {
	a := &API{svc: opts.Service, store: opts.Store, facade: opts.Facade, broadcast: opts.Broadcast, monitor: opts.Monitor, requireAuth: opts.RequireAuth}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", a.handleHealth)
	r.Get("/health/ready", a.handleHealthReady)
	r.Get("/health/live", a.handleHealthLive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/work-orders", func(r chi.Router) {
			r.Get("/", a.handleListWorkOrders)
			r.With(a.auth(auth.ScopeSubmit)).Post("/", a.handleSubmitWorkOrder)
			r.Get("/{id}", a.handleGetWorkOrder)
			r.With(a.auth(auth.ScopeCancel)).Delete("/{id}", a.handleCancelWorkOrder)
			r.With(a.auth(auth.ScopeSubmit)).Post("/{id}/runs", a.handleStartRun)
			r.With(a.auth(auth.ScopeKill)).Post("/{id}/kill", a.handleKillWorkOrder)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", a.handleListRuns)
			r.Get("/{id}", a.handleGetRun)
			r.Get("/{id}/stream", a.handleStreamRun)
		})
		r.Route("/queue", func(r chi.Router) {
			r.Get("/health", a.handleQueueHealth)
			r.Get("/stats", a.handleQueueStats)
			r.Get("/position/{id}", a.handleQueuePosition)
			r.With(a.auth(auth.ScopeSubmit)).Post("/rollout/config", a.handleRolloutConfig)
			r.Get("/rollout/status", a.handleRolloutStatus)
			r.Get("/rollout/comparison", a.handleRolloutComparison)
		})
	})

	return r
}

func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		telemetry.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// auth wraps RequireAuth + RequireScope, or is a no-op when the deployment
// has no JWT_SECRET configured (spec.md: "mutating endpoints require
// bearer token when configured").
func (a *API) auth(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !a.requireAuth {
			return next
		}
		return appmw.RequireAuth(appmw.RequireScope(scope, next))
	}
}

func requestID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (a *API) ok(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data, RequestID: requestID(r.Context())})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, status int, code errCode, msg string, fields ...string) {
	writeJSON(w, status, envelope{Success: false, Error: &apiErr{Code: code, Message: msg, Fields: fields}, RequestID: requestID(r.Context())})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.ok(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	a.ok(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	a.ok(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

func (a *API) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := workorder.WorkOrderStatus(q.Get("status"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	list, err := a.store.ListWorkOrders(r.Context(), status, limit, offset)
	if err != nil {
		a.fail(w, r, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	a.ok(w, r, http.StatusOK, list)
}

func (a *API) handleSubmitWorkOrder(w http.ResponseWriter, r *http.Request) {
	if a.monitor != nil && !a.monitor.AllowSubmission(clientKey(r)) {
		a.fail(w, r, http.StatusTooManyRequests, codeUnavailable, "submission rate limit exceeded")
		return
	}

	var wo workorder.WorkOrder
	if err := json.NewDecoder(r.Body).Decode(&wo); err != nil {
		a.fail(w, r, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	if wo.Prompt == "" {
		a.fail(w, r, http.StatusBadRequest, codeBadRequest, "validation failed", "prompt")
		return
	}

	saved, admitted, err := a.svc.SubmitWorkOrder(r.Context(), wo)
	if err != nil {
		a.fail(w, r, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	if !admitted {
		a.fail(w, r, http.StatusServiceUnavailable, codeUnavailable, "queue is at capacity")
		return
	}
	a.ok(w, r, http.StatusCreated, saved)
}

func (a *API) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wo, err := a.store.LoadWorkOrder(r.Context(), id)
	if err != nil {
		a.notFoundOrErr(w, r, err)
		return
	}
	runs, err := a.store.ListRuns(r.Context(), id)
	if err != nil {
		a.fail(w, r, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	a.ok(w, r, http.StatusOK, map[string]any{"workOrder": wo, "runs": runs})
}

func (a *API) handleCancelWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wo, err := a.store.LoadWorkOrder(r.Context(), id)
	if err != nil {
		a.notFoundOrErr(w, r, err)
		return
	}
	if isTerminal(wo.Status) {
		a.fail(w, r, http.StatusConflict, codeConflict, "work order already in a terminal state")
		return
	}
	if err := a.svc.CancelWorkOrder(r.Context(), id); err != nil {
		a.fail(w, r, http.StatusConflict, codeConflict, err.Error())
		return
	}
	a.ok(w, r, http.StatusOK, map[string]string{"status": "canceled"})
}

func (a *API) handleStartRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wo, err := a.store.LoadWorkOrder(r.Context(), id)
	if err != nil {
		a.notFoundOrErr(w, r, err)
		return
	}
	if wo.Status != workorder.StatusQueued && wo.Status != workorder.StatusFailed {
		a.fail(w, r, http.StatusConflict, codeConflict, "work order must be queued or failed to start a new run")
		return
	}
	_, admitted, err := a.svc.SubmitWorkOrder(r.Context(), wo)
	if err != nil {
		a.fail(w, r, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	if !admitted {
		a.fail(w, r, http.StatusServiceUnavailable, codeUnavailable, "queue is at capacity")
		return
	}
	a.ok(w, r, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (a *API) handleKillWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.store.LoadWorkOrder(r.Context(), id); err != nil {
		a.notFoundOrErr(w, r, err)
		return
	}
	if err := a.svc.KillWorkOrder(r.Context(), id); err != nil {
		a.fail(w, r, http.StatusConflict, codeConflict, err.Error())
		return
	}
	a.ok(w, r, http.StatusOK, map[string]string{"status": "killed"})
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	workOrderID := r.URL.Query().Get("workOrderId")
	runs, err := a.store.ListRuns(r.Context(), workOrderID)
	if err != nil {
		a.fail(w, r, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	a.ok(w, r, http.StatusOK, runs)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.store.LoadRun(r.Context(), id)
	if err != nil {
		a.notFoundOrErr(w, r, err)
		return
	}
	iterations, err := a.store.ListIterations(r.Context(), id)
	if err != nil {
		a.fail(w, r, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	a.ok(w, r, http.StatusOK, map[string]any{"run": run, "iterations": iterations})
}

// handleStreamRun serves GET /api/v1/runs/{id}/stream as Server-Sent Events,
// grounded on the teacher's ping/pong WebSocket keep-alive design
// (api_stream.go) adapted to SSE framing: a periodic comment-ping keeps
// intermediary proxies from closing the connection instead of a WS ping
// frame.
func (a *API) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.store.LoadRun(r.Context(), id)
	if err != nil {
		a.notFoundOrErr(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.fail(w, r, http.StatusInternalServerError, codeInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	clientID := uuid.NewString()
	writeSSE(w, "connected", map[string]any{
		"clientId":         clientID,
		"runId":             run.ID,
		"runStatus":         run.State,
		"currentIteration":  run.Iteration,
		"timestamp":         time.Now(),
	})
	flusher.Flush()

	ch := a.broadcast.Subscribe(clientID, run.WorkOrderID, nil)
	defer a.broadcast.Unsubscribe(clientID)

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, string(ev.Type), ev)
			flusher.Flush()
			if ev.Type == events.TypeRunCompleted || ev.Type == events.TypeRunFailed {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("httpapi: sse marshal: %v", err)
		return
	}
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

func (a *API) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	cfg := a.facade.Config()
	a.ok(w, r, http.StatusOK, map[string]any{"phase": cfg.Phase(), "status": "ok"})
}

func (a *API) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	a.ok(w, r, http.StatusOK, a.facade.Counters())
}

func (a *API) handleQueuePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pos, ok := a.facade.Position(id)
	if !ok {
		a.fail(w, r, http.StatusNotFound, codeNotFound, "work order not queued")
		return
	}
	a.ok(w, r, http.StatusOK, pos)
}

func (a *API) handleRolloutConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UseNewQueueSystem *bool `json:"useNewQueueSystem"`
		ShadowMode        *bool `json:"shadowMode"`
		RolloutPercent    *int  `json:"rolloutPercent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, r, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	if req.RolloutPercent != nil && (*req.RolloutPercent < 0 || *req.RolloutPercent > 100) {
		a.fail(w, r, http.StatusBadRequest, codeBadRequest, "validation failed", "rolloutPercent")
		return
	}
	a.facade.UpdateConfig(func(c *queuefacade.Config) {
		if req.UseNewQueueSystem != nil {
			c.UseNewQueueSystem = *req.UseNewQueueSystem
		}
		if req.ShadowMode != nil {
			c.ShadowMode = *req.ShadowMode
		}
		if req.RolloutPercent != nil {
			c.RolloutPercent = *req.RolloutPercent
		}
	})
	a.ok(w, r, http.StatusOK, a.facade.Config())
}

func (a *API) handleRolloutStatus(w http.ResponseWriter, r *http.Request) {
	a.ok(w, r, http.StatusOK, a.facade.Config())
}

func (a *API) handleRolloutComparison(w http.ResponseWriter, r *http.Request) {
	counters := a.facade.Counters()
	comparison := map[string]any{
		"routedToLegacy":   counters.RoutedToLegacy,
		"routedToNew":      counters.RoutedToNew,
		"shadowMismatches": counters.ShadowMismatches,
		"totalRouted":      counters.TotalRouted,
	}
	a.ok(w, r, http.StatusOK, comparison)
}

func (a *API) notFoundOrErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		a.fail(w, r, http.StatusNotFound, codeNotFound, "not found")
		return
	}
	a.fail(w, r, http.StatusInternalServerError, codeInternal, err.Error())
}

// clientKey identifies the caller for submission rate limiting: the
// authenticated role if present, else the remote address.
func clientKey(r *http.Request) string {
	if claims, ok := appmw.ClaimsFromContext(r.Context()); ok {
		return claims.Role
	}
	return r.RemoteAddr
}

func isTerminal(s workorder.WorkOrderStatus) bool {
	switch s {
	case workorder.StatusSucceeded, workorder.StatusFailed, workorder.StatusCanceled:
		return true
	default:
		return false
	}
}
