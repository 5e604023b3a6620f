/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission service via REST API. Handles HTTP request and
  response, JSON serialization, and delegates to commission.Service.

ENDPOINTS:
  Commissions:
    POST   /api/commissions/calculate  Calculate and record a commission
    POST   /api/commissions/simulate   What-if simulation (not recorded)
    GET    /api/commissions/stats      Stats for ?period=day|week|month|year

  Rules:
    GET    /api/rules                  List rules by priority
    POST   /api/rules                  Create rule
    GET    /api/rules/{id}             Get rule
    PATCH  /api/rules/{id}             Partial update
    DELETE /api/rules/{id}             Delete rule

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, invalid rule, invalid request, unknown period
  - 404: Rule not found
  - 503: Stats requested without a history ledger
  - 500: Internal errors
  Field-level problems are listed in "details".

SECURITY NOTE:
  No authentication or authorization. Who may edit rules is decided in
  front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *commission.Service
	Logger  *slog.Logger
}

// NewHandler creates a new handler around the service.
func NewHandler(svc *commission.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// Calculate computes the commission for one transaction.
// POST /api/commissions/calculate
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !h.decode(w, r, &req) {
		return
	}

	calc, err := h.Service.CalculateCommission(r.Context(), req.toRequest())
	if err != nil {
		h.writeServiceError(w, r, "Failed to calculate commission", err)
		return
	}

	writeJSON(w, http.StatusOK, toCalculationDTO(calc))
}

// Simulate returns the baseline and alternatives for a hypothetical transaction.
// POST /api/commissions/simulate
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if !h.decode(w, r, &req) {
		return
	}

	sim, err := h.Service.SimulateCommission(r.Context(), req.toRequest())
	if err != nil {
		h.writeServiceError(w, r, "Failed to simulate commission", err)
		return
	}

	writeJSON(w, http.StatusOK, toSimulationDTO(sim))
}

// GetStats returns commission statistics for the current period.
// GET /api/commissions/stats?period=month
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	period, err := commission.ParseStatsPeriod(r.URL.Query().Get("period"))
	if err != nil {
		h.writeServiceError(w, r, "Invalid period", err)
		return
	}

	stats, err := h.Service.GetCommissionStats(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get stats", err)
		return
	}

	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all rules in ascending priority.
// GET /api/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Service.GetAllRules(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list rules", err)
		return
	}

	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = factory.FromRule(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule adds a rule. Any "id" in the body is ignored.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req factory.RuleJSON
	if !h.decode(w, r, &req) {
		return
	}

	draft, err := req.ToDraft()
	if err != nil {
		h.writeServiceError(w, r, "Invalid rule", err)
		return
	}

	rule, err := h.Service.AddRule(r.Context(), draft)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create rule", err)
		return
	}

	writeJSON(w, http.StatusCreated, factory.FromRule(rule))
}

// GetRule returns a single rule.
// GET /api/rules/{id}
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := commission.RuleID(chi.URLParam(r, "id"))

	rule, err := h.Service.GetRuleByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get rule", err)
		return
	}

	writeJSON(w, http.StatusOK, factory.FromRule(rule))
}

// UpdateRule applies a partial update.
// PATCH /api/rules/{id}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := commission.RuleID(chi.URLParam(r, "id"))

	var req factory.RulePatchJSON
	if !h.decode(w, r, &req) {
		return
	}

	patch, err := req.ToPatch()
	if err != nil {
		h.writeServiceError(w, r, "Invalid rule", err)
		return
	}

	rule, err := h.Service.UpdateRule(r.Context(), id, patch)
	if err != nil {
		h.writeServiceError(w, r, "Failed to update rule", err)
		return
	}

	writeJSON(w, http.StatusOK, factory.FromRule(rule))
}

// DeleteRule removes a rule. Unknown ids are a 404.
// DELETE /api/rules/{id}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.Service.DeleteRule(r.Context(), commission.RuleID(id))
	if err != nil {
		h.writeServiceError(w, r, "Failed to delete rule", err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "Rule not found",
			Code:    "rule_not_found",
			Details: DeleteRuleResponse{ID: id, Deleted: false},
		})
		return
	}

	writeJSON(w, http.StatusOK, DeleteRuleResponse{ID: id, Deleted: true})
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Service.GetAllRules(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Rule store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, HealthDTO{
		Status:  "ok",
		Rules:   len(rules),
		History: h.Service.HasHistory(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// FieldError is one entry of a 400 response's details.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeServiceError maps commission errors to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case commission.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Rule not found", Code: "rule_not_found", Details: err.Error()})
	case errors.Is(err, commission.ErrHistoryUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: message, Code: "history_unavailable", Details: err.Error()})
	case errors.Is(err, commission.ErrInvalidPeriod):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid_period", Details: err.Error()})
	case errors.Is(err, commission.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid_request", Details: fieldErrors(err)})
	case errors.Is(err, commission.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid_rule", Details: fieldErrors(err)})
	default:
		h.Logger.ErrorContext(r.Context(), message,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// fieldErrors flattens joined and wrapped errors into field/reason pairs.
func fieldErrors(err error) []FieldError {
	var out []FieldError
	var walk func(error)
	walk = func(e error) {
		var verr *commission.ValidationError
		var rerr *commission.RequestError
		switch {
		case e == nil:
		case asDirect(e, &verr):
			out = append(out, FieldError{Field: verr.Field, Reason: verr.Reason})
		case asDirect(e, &rerr):
			out = append(out, FieldError{Field: rerr.Field, Reason: rerr.Reason})
		default:
			switch u := e.(type) {
			case interface{ Unwrap() []error }:
				for _, inner := range u.Unwrap() {
					walk(inner)
				}
			case interface{ Unwrap() error }:
				walk(u.Unwrap())
			}
		}
	}
	walk(err)
	return out
}

// asDirect is errors.As without descending into joined errors, so each
// joined member is reported once.
func asDirect[T error](err error, target *T) bool {
	t, ok := err.(T)
	if ok {
		*target = t
	}
	return ok
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
