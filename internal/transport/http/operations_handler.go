package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "quantlab/internal/errors"
	"quantlab/internal/operations"
	"quantlab/internal/services"
)

var validate = validator.New()

// OperationsHandler handles operation-related HTTP requests
type OperationsHandler struct {
	service OperationsServiceInterface
	logger  *slog.Logger
}

// NewOperationsHandler creates the handler
func NewOperationsHandler(service OperationsServiceInterface, logger *slog.Logger) *OperationsHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationsHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "operations")),
	}
}

// Routes mounts the operation endpoints
func (h *OperationsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.StartOperation)
	r.Get("/", h.ListOperations)
	r.Delete("/", h.CleanupOperations)
	r.Get("/{id}", h.GetOperation)
	r.Get("/{id}/results", h.GetResults)
	r.Post("/{id}/cancel", h.CancelOperation)
	return r
}

// StartOperationRequest is the body of POST /api/operations
type StartOperationRequest struct {
	Type        string            `json:"type" validate:"required,oneof=data-load training backtest generic"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ExecutorJob string            `json:"executor_job,omitempty"`
}

// Bind implements the render.Binder interface for request validation
func (r *StartOperationRequest) Bind(req *http.Request) error {
	return validate.Struct(r)
}

// CancelOperationRequest is the optional body of POST /api/operations/{id}/cancel
type CancelOperationRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Bind implements the render.Binder interface
func (r *CancelOperationRequest) Bind(req *http.Request) error {
	return nil
}

// StartOperationResponse is returned with 201 Created
type StartOperationResponse struct {
	ID     string            `json:"id"`
	Type   operations.Type   `json:"type"`
	Status operations.Status `json:"status"`
}

// ListOperationsResponse carries one page plus the total match count
type ListOperationsResponse struct {
	Operations []*operations.Record `json:"operations"`
	TotalCount int                  `json:"total_count"`
	Limit      int                  `json:"limit,omitempty"`
	Offset     int                  `json:"offset,omitempty"`
}

// CancelOperationResponse reports the status after a cancellation request
type CancelOperationResponse struct {
	ID     string            `json:"id"`
	Status operations.Status `json:"status"`
}

// ResultsResponse wraps a terminal operation's result summary
type ResultsResponse struct {
	ID            string            `json:"id"`
	Status        operations.Status `json:"status"`
	ResultSummary map[string]any    `json:"result_summary,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}

// CleanupResponse reports how many terminal records were removed
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// StartOperation handles POST /api/operations
func (h *OperationsHandler) StartOperation(w http.ResponseWriter, r *http.Request) {
	var req StartOperationRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	record, err := h.service.Start(r.Context(), services.StartRequest{
		Type:        operations.Type(req.Type),
		Metadata:    req.Metadata,
		ExecutorJob: req.ExecutorJob,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, StartOperationResponse{
		ID:     record.ID,
		Type:   record.Type,
		Status: record.Status,
	})
}

// GetOperation handles GET /api/operations/{id}
func (h *OperationsHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, record)
}

// ListOperations handles GET /api/operations
func (h *OperationsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	records, total := h.service.List(r.Context(), filter)
	render.JSON(w, r, ListOperationsResponse{
		Operations: records,
		TotalCount: total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// GetResults handles GET /api/operations/{id}/results
func (h *OperationsHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	summary, err := h.service.Results(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	// The record is terminal at this point; fetch it for status and error
	// detail. A concurrent Cleanup may have removed it meanwhile.
	record, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, ResultsResponse{
		ID:            id,
		Status:        record.Status,
		ResultSummary: summary,
		ErrorMessage:  record.ErrorMessage,
	})
}

// CancelOperation handles POST /api/operations/{id}/cancel
func (h *OperationsHandler) CancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CancelOperationRequest
	if r.ContentLength > 0 {
		if err := render.Bind(r, &req); err != nil {
			render.Render(w, r, apierrors.InvalidRequestWithError(err))
			return
		}
	}

	status, err := h.service.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, CancelOperationResponse{ID: id, Status: status})
}

// CleanupOperations handles DELETE /api/operations?older_than=24h
func (h *OperationsHandler) CleanupOperations(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than")
	if raw == "" {
		render.Render(w, r, apierrors.NewWithDetails(http.StatusBadRequest,
			"MISSING_PARAMETER", "Required parameter is missing", "older_than"))
		return
	}
	olderThan, err := time.ParseDuration(raw)
	if err != nil || olderThan < 0 {
		render.Render(w, r, apierrors.NewWithDetails(http.StatusBadRequest,
			"INVALID_PARAMETER", "older_than must be a non-negative duration", raw))
		return
	}

	removed := h.service.Cleanup(r.Context(), olderThan)
	render.JSON(w, r, CleanupResponse{Removed: removed})
}

func (h *OperationsHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.FromOperations(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request_failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	render.Render(w, r, apiErr)
}

func parseListFilter(r *http.Request) (operations.Filter, error) {
	q := r.URL.Query()
	filter := operations.Filter{
		Type:   operations.Type(q.Get("type")),
		Status: operations.Status(q.Get("status")),
	}

	if filter.Type != "" && !filter.Type.Valid() {
		return filter, fmt.Errorf("unknown operation type %q", filter.Type)
	}

	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, err
		}
		filter.ActiveOnly = active
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, err
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return filter, err
		}
		filter.Offset = offset
	}
	return filter, nil
}
