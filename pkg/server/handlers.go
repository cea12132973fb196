package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/lethe/pkg/engine"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/audit"
	"mercator-hq/lethe/pkg/lifecycle/catalog"
	"mercator-hq/lethe/pkg/lifecycle/hold"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
	"mercator-hq/lethe/pkg/lifecycle/scheduler"
	"mercator-hq/lethe/pkg/security/auth"
	"mercator-hq/lethe/pkg/security/secrets"
	sectls "mercator-hq/lethe/pkg/security/tls"
	"mercator-hq/lethe/pkg/telemetry/health"
	"mercator-hq/lethe/pkg/telemetry/logging"
	"mercator-hq/lethe/pkg/telemetry/metrics"
)

// maxBodyBytes bounds request bodies, catalog files included.
const maxBodyBytes = 1 << 20

// Engine is the engine surface served over HTTP.
type Engine interface {
	RegisterRecord(ctx context.Context, req ledger.RegisterRequest) (*lifecycle.Record, error)
	TouchRecord(ctx context.Context, recordID string, at time.Time) error
	RecordConsentWithdrawal(ctx context.Context, recordID string, at time.Time) error
	GetRecord(ctx context.Context, recordID string) (*lifecycle.Record, error)

	PlaceLegalHold(ctx context.Context, req hold.PlaceRequest) (*lifecycle.LegalHold, error)
	ReleaseLegalHold(ctx context.Context, holdID string, req hold.ReleaseRequest) (*lifecycle.LegalHold, error)
	ForcePlaceHold(ctx context.Context, req hold.PlaceRequest) (*lifecycle.LegalHold, error)
	ForceReleaseHold(ctx context.Context, holdID string, req hold.ReleaseRequest) (*lifecycle.LegalHold, error)
	ListLegalHolds(ctx context.Context, activeOnly bool) ([]*lifecycle.LegalHold, error)

	GetDeletionCertificate(ctx context.Context, recordID string) (*lifecycle.DeletionCertificate, error)
	ExportAuditLog(ctx context.Context, from, to time.Time) ([]*lifecycle.AuditEntry, error)
	VerifyAuditLog(ctx context.Context) (*audit.VerifyReport, error)
	GetCurrentPolicyCatalog(ctx context.Context) (*lifecycle.CatalogVersion, error)
	PublishCatalog(ctx context.Context, draft *catalog.Draft) (*lifecycle.CatalogVersion, error)
	ListAnomalies(ctx context.Context, q lifecycle.AnomalyQuery) ([]*lifecycle.Anomaly, error)

	RunJob(ctx context.Context, job, category, actor string) (*scheduler.RunReport, error)
	OverrideState(ctx context.Context, req engine.OverrideRequest) (*engine.OverrideResult, error)

	Health() *health.Checker
	Metrics() *metrics.Collector
	Secrets() *secrets.Manager
}

var _ Engine = (*engine.Engine)(nil)

// Error codes returned in error bodies.
const (
	codeInvalidArgument = "invalid_argument"
	codeNotFound        = "not_found"
	codeConflict        = "conflict"
	codeHeld            = "held"
	codeUnknownCategory = "unknown_category"
	codeIncomplete      = "deletion_incomplete"
	codeUnauthorized    = "unauthorized"
	codeForbidden       = "forbidden"
	codeInternal        = "internal"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type handlers struct {
	engine Engine
	logger *slog.Logger
}

// routerOptions carries the optional security layers of the router.
type routerOptions struct {
	// auth authenticates /v1 routes when non-nil.
	auth *auth.Middleware

	// identitySource, when set, takes the actor from the verified client
	// certificate.
	identitySource string
}

func newRouter(e Engine, logger *slog.Logger, opts routerOptions) chi.Router {
	h := &handlers{engine: e, logger: logger}

	r := chi.NewRouter()
	r.Use(recoveryMiddleware(logger))
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(actorMiddleware)
	if opts.identitySource != "" {
		r.Use(sectls.IdentityMiddleware(opts.identitySource))
	}

	require := func(role auth.Role) func(http.Handler) http.Handler {
		if opts.auth == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return opts.auth.RequireRole(role)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.auth != nil {
			r.Use(opts.auth.Handle)
		}

		r.Group(func(r chi.Router) {
			r.Use(require(auth.RoleIngest))
			r.Post("/records", h.registerRecord)
			r.Post("/records/{id}/touch", h.touchRecord)
			r.Post("/records/{id}/consent-withdrawal", h.withdrawConsent)
		})

		r.Group(func(r chi.Router) {
			r.Use(require(auth.RoleRead))
			r.Get("/records/{id}", h.getRecord)
			r.Get("/records/{id}/certificate", h.getCertificate)
			r.Get("/holds", h.listHolds)
			r.Get("/audit", h.exportAudit)
			r.Get("/catalog", h.getCatalog)
			r.Get("/anomalies", h.listAnomalies)
		})

		r.Group(func(r chi.Router) {
			r.Use(require(auth.RoleOperator))
			r.Post("/holds", h.placeHold)
			r.Post("/holds/{id}/release", h.releaseHold)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/jobs/{job}", h.runJob)
				r.Post("/records/{id}/state", h.overrideState)
				r.Post("/catalog", h.publishCatalog)
				r.Get("/audit/verify", h.verifyAudit)
			})
		})
	})
	return r
}

// authError writes authentication failures in the API error format.
func authError(w http.ResponseWriter, status int, message string) {
	code := codeUnauthorized
	if status == http.StatusForbidden {
		code = codeForbidden
	}
	writeError(w, status, code, message)
}

func (h *handlers) registerRecord(w http.ResponseWriter, r *http.Request) {
	var req ledger.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.engine.RegisterRecord(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// atRequest carries an optional event time; zero means now.
type atRequest struct {
	At time.Time `json:"at"`
}

func (h *handlers) touchRecord(w http.ResponseWriter, r *http.Request) {
	var req atRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.engine.TouchRecord(r.Context(), chi.URLParam(r, "id"), req.At); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) withdrawConsent(w http.ResponseWriter, r *http.Request) {
	var req atRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.engine.RecordConsentWithdrawal(r.Context(), chi.URLParam(r, "id"), req.At); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.engine.GetDeletionCertificate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (h *handlers) listHolds(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := parseBool(r, "active")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	holds, err := h.engine.ListLegalHolds(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holds": nonNil(holds)})
}

func (h *handlers) placeHold(w http.ResponseWriter, r *http.Request) {
	var req hold.PlaceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlacedBy == "" {
		req.PlacedBy = logging.GetActor(r.Context())
	}

	place := h.engine.PlaceLegalHold
	if req.Force {
		place = h.engine.ForcePlaceHold
	}
	held, err := place(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, held)
}

func (h *handlers) releaseHold(w http.ResponseWriter, r *http.Request) {
	var req hold.ReleaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ReleasedBy == "" {
		req.ReleasedBy = logging.GetActor(r.Context())
	}

	release := h.engine.ReleaseLegalHold
	if req.Force {
		release = h.engine.ForceReleaseHold
	}
	released, err := release(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, released)
}

func (h *handlers) exportAudit(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r, "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.engine.ExportAuditLog(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
}

func (h *handlers) verifyAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.VerifyAuditLog(r.Context())
	var broken *audit.ChainError
	switch {
	case errors.As(err, &broken):
		writeJSON(w, http.StatusConflict, map[string]any{
			"valid":  false,
			"seq":    broken.Seq,
			"reason": broken.Reason,
		})
	case err != nil:
		h.fail(w, r, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":     true,
			"entries":   report.Entries,
			"head_seq":  report.HeadSeq,
			"head_hash": report.HeadHash,
		})
	}
}

func (h *handlers) getCatalog(w http.ResponseWriter, r *http.Request) {
	v, err := h.engine.GetCurrentPolicyCatalog(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) publishCatalog(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "failed to read catalog file")
		return
	}
	draft, err := catalog.ParseFile(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}
	v, err := h.engine.PublishCatalog(r.Context(), draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *handlers) listAnomalies(w http.ResponseWriter, r *http.Request) {
	since, err := parseTime(r, "since")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			h.fail(w, r, fmt.Errorf("%w: limit must be a non-negative integer", lifecycle.ErrInvalidArgument))
			return
		}
	}
	anomalies, err := h.engine.ListAnomalies(r.Context(), lifecycle.AnomalyQuery{
		Kind:     lifecycle.AnomalyKind(r.URL.Query().Get("kind")),
		RecordID: r.URL.Query().Get("record_id"),
		Since:    since,
		Limit:    limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": nonNil(anomalies)})
}

func (h *handlers) runJob(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RunJob(r.Context(),
		chi.URLParam(r, "job"),
		r.URL.Query().Get("category"),
		logging.GetActor(r.Context()),
	)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) overrideState(w http.ResponseWriter, r *http.Request) {
	var req engine.OverrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.RecordID = chi.URLParam(r, "id")
	if req.Actor == "" {
		req.Actor = logging.GetActor(r.Context())
	}
	res, err := h.engine.OverrideState(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *handlers) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, v)
}

// fail maps engine errors onto HTTP statuses.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		unknown      *lifecycle.UnknownCategoryError
		held         *lifecycle.HeldError
		transition   *lifecycle.TransitionError
		partial      *lifecycle.PartialDeletionError
		verification *lifecycle.VerificationFailure
		contention   *lifecycle.LeaseContentionError
	)
	switch {
	case errors.As(err, &unknown):
		writeError(w, http.StatusUnprocessableEntity, codeUnknownCategory, err.Error())
	case errors.As(err, &held):
		writeError(w, http.StatusConflict, codeHeld, err.Error())
	case errors.As(err, &transition), errors.As(err, &contention),
		errors.Is(err, lifecycle.ErrConflict), errors.Is(err, lifecycle.ErrStateConflict),
		errors.Is(err, lifecycle.ErrEscalated):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.As(err, &partial), errors.As(err, &verification):
		writeError(w, http.StatusBadGateway, codeIncomplete, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
	case errors.Is(err, lifecycle.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, codeInternal, "an internal error occurred")
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	var body errorBody
	body.Error.Code = errCode
	body.Error.Message = message
	writeJSON(w, code, body)
}

func parseTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", lifecycle.ErrInvalidArgument, key)
	}
	return t, nil
}

func parseBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", lifecycle.ErrInvalidArgument, key)
	}
	return b, nil
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
