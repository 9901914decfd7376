// Package control exposes the scheduler's message protocol as a local JSON
// API, plus REST shortcuts used by focusctl.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/haukened/focusflow/internal/focus/common/log"
	"github.com/haukened/focusflow/internal/focus/domain"
	"github.com/haukened/focusflow/internal/focus/services/scheduler"
)

const maxBodyBytes = 64 << 10

// Dispatcher is the scheduler surface the API drives.
type Dispatcher interface {
	Handle(ctx context.Context, msg scheduler.Message) (scheduler.Response, error)
	Enabled() bool
	Ready() <-chan struct{}
}

// API routes control requests to a Dispatcher.
type API struct {
	sched    Dispatcher
	validate *validator.Validate
	logger   log.Logger
	router   chi.Router
}

// ErrorBody is the JSON shape of every error reply.
type ErrorBody struct {
	Error string `json:"error"`
}

// HealthBody is the JSON shape of GET /healthz.
type HealthBody struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Enabled bool   `json:"enabled"`
}

type scheduleRequest struct {
	AlwaysOn  bool   `json:"alwaysOn"`
	StartTime string `json:"startTime" validate:"omitempty,clock"`
	EndTime   string `json:"endTime" validate:"omitempty,clock"`
}

type domainRequest struct {
	Domain string `json:"domain" validate:"required"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type timezoneRequest struct {
	Timezone string `json:"timezone" validate:"required,iana_tz"`
}

type usageRequest struct {
	Domain  string `json:"domain" validate:"required"`
	Seconds int64  `json:"seconds" validate:"required,gt=0"`
}

// New builds the router. It fails only if validator registration fails.
func New(sched Dispatcher, logger log.Logger) (*API, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	v, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	a := &API{sched: sched, validate: v, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", a.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", a.postMessage)
		r.Get("/rules", a.getRules)
		r.Post("/domains", a.blockDomain)
		r.Route("/domains/{domain}", func(r chi.Router) {
			r.Delete("/", a.unblockDomain)
			r.Get("/check", a.checkDomain)
			r.Put("/schedule", a.putSchedule)
		})
		r.Put("/enabled", a.putEnabled)
		r.Put("/timezone", a.putTimezone)
		r.Get("/usage", a.getUsage)
		r.Post("/usage", a.postUsage)
	})
	a.router = r
	return a, nil
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ready := false
	select {
	case <-a.sched.Ready():
		ready = true
	default:
	}
	writeJSON(w, http.StatusOK, HealthBody{Status: "ok", Ready: ready, Enabled: a.sched.Enabled()})
}

func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	var msg scheduler.Message
	if !a.decode(w, r, &msg) {
		return
	}
	a.dispatch(w, r, msg)
}

func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	a.dispatch(w, r, scheduler.Message{Type: scheduler.MsgGetAllRules})
}

func (a *API) blockDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.dispatch(w, r, scheduler.Message{Type: scheduler.MsgBlockSite, Domain: req.Domain})
}

func (a *API) unblockDomain(w http.ResponseWriter, r *http.Request) {
	msg := scheduler.Message{Type: scheduler.MsgUnblockSite, Domain: chi.URLParam(r, "domain")}
	if raw := r.URL.Query().Get("ruleId"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("ruleId must be a positive integer"))
			return
		}
		msg.RuleID = &id
	}
	a.dispatch(w, r, msg)
}

func (a *API) checkDomain(w http.ResponseWriter, r *http.Request) {
	a.dispatch(w, r, scheduler.Message{Type: scheduler.MsgCheckBlockTime, Domain: chi.URLParam(r, "domain")})
}

func (a *API) putSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.dispatch(w, r, scheduler.Message{
		Type:   scheduler.MsgUpdateBlockSchedule,
		Domain: chi.URLParam(r, "domain"),
		Schedule: &domain.BlockSchedule{
			Enabled:   true,
			AlwaysOn:  req.AlwaysOn,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		},
	})
}

func (a *API) putEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.dispatch(w, r, scheduler.Message{Type: scheduler.MsgSetExtensionEnabled, Enabled: req.Enabled})
}

func (a *API) putTimezone(w http.ResponseWriter, r *http.Request) {
	var req timezoneRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.dispatch(w, r, scheduler.Message{Type: scheduler.MsgSetTimezone, Timezone: req.Timezone})
}

func (a *API) getUsage(w http.ResponseWriter, r *http.Request) {
	a.dispatch(w, r, scheduler.Message{Type: scheduler.MsgGetUsage})
}

func (a *API) postUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.dispatch(w, r, scheduler.Message{Type: scheduler.MsgRecordUsage, Domain: req.Domain, Seconds: req.Seconds})
}

// decode reads and validates a JSON body into v. On failure it writes a
// 400 reply and returns false.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("validation failed: %w", err))
		return false
	}
	return true
}

func (a *API) dispatch(w http.ResponseWriter, r *http.Request, msg scheduler.Message) {
	resp, err := a.sched.Handle(r.Context(), msg)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			a.logger.Error(map[string]any{
				"type":       string(msg.Type),
				"error":      err.Error(),
				"request_id": chimiddleware.GetReqID(r.Context()),
			}, "message failed")
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case scheduler.IsInvalidInput(err):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorBody{Error: err.Error()})
}
