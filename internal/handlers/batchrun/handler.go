// Package batchrun exposes print and EFT runs to operators over HTTP.
package batchrun

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	serviceports "github.com/kevin07696/payment-batch/internal/services/ports"
)

const maxBodyBytes = 1 << 20

// Handler serves the operator run API
type Handler struct {
	service serviceports.BatchRunService
	logger  ports.Logger
}

// NewHandler creates a new batch run handler
func NewHandler(service serviceports.BatchRunService, logger ports.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts every route on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/print-runs", h.CreatePrintRun)
	mux.HandleFunc("GET /v1/print-runs/{id}", h.GetPrintRun)
	mux.HandleFunc("POST /v1/print-runs/{id}/dispatch", h.DispatchPrintRun)
	mux.HandleFunc("POST /v1/print-runs/{id}/decision", h.DecidePrintRun)
	mux.HandleFunc("POST /v1/print-runs/{id}/review", h.ReviewPrintRun)
	mux.HandleFunc("POST /v1/print-runs/{id}/cancel", h.CancelPrintRun)

	mux.HandleFunc("GET /v1/bank-accounts/{id}/eft-preview", h.PreviewEFT)
	mux.HandleFunc("POST /v1/eft-runs", h.CreateEFTRun)
	mux.HandleFunc("GET /v1/eft-runs/{id}", h.GetEFTRun)
	mux.HandleFunc("POST /v1/eft-runs/{id}/decision", h.DecideEFTRun)

	mux.HandleFunc("POST /v1/payments/{id}/printed", h.MarkPrinted)
}

// CreatePrintRunRequest is the body of POST /v1/print-runs
type CreatePrintRunRequest struct {
	TemplateID     string    `json:"template_id"`
	Count          int       `json:"count"`
	StartingNumber int64     `json:"starting_number"`
	BankAccountID  uuid.UUID `json:"bank_account_id"`
}

// PrintDecisionRequest is the body of POST /v1/print-runs/{id}/decision
type PrintDecisionRequest struct {
	AllPrinted *bool `json:"all_printed"`
}

// PrintDecisionResponse carries the run and any payments the operator still has to review
type PrintDecisionResponse struct {
	Run    *domain.PrintRun          `json:"run"`
	Review []*domain.PaymentDocument `json:"review,omitempty"`
}

// ReviewRequest is the body of POST /v1/print-runs/{id}/review
type ReviewRequest struct {
	Printed []uuid.UUID `json:"printed"`
}

// CreateEFTRunRequest is the body of POST /v1/eft-runs.
// OutputName is a file name relative to the server's EFT output directory.
type CreateEFTRunRequest struct {
	OutputName    string    `json:"output_name"`
	Count         int       `json:"count"`
	BankAccountID uuid.UUID `json:"bank_account_id"`
	AcceptPartial bool      `json:"accept_partial"`
}

// EFTDecisionRequest is the body of POST /v1/eft-runs/{id}/decision
type EFTDecisionRequest struct {
	Accept *bool `json:"accept"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// CreatePrintRun handles POST /v1/print-runs
func (h *Handler) CreatePrintRun(w http.ResponseWriter, r *http.Request) {
	var req CreatePrintRunRequest
	if !h.decode(w, r, &req) {
		return
	}

	run, err := h.service.CreatePrintRun(r.Context(), &serviceports.CreatePrintRunRequest{
		BankAccountID:  req.BankAccountID,
		Count:          req.Count,
		StartingNumber: req.StartingNumber,
		TemplateID:     req.TemplateID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, run)
}

// GetPrintRun handles GET /v1/print-runs/{id}
func (h *Handler) GetPrintRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	run, err := h.service.GetPrintRun(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, run)
}

// DispatchPrintRun handles POST /v1/print-runs/{id}/dispatch
func (h *Handler) DispatchPrintRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	run, err := h.service.DispatchPrintRun(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, run)
}

// DecidePrintRun handles POST /v1/print-runs/{id}/decision
func (h *Handler) DecidePrintRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req PrintDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.AllPrinted == nil {
		h.respondError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "all_printed is required"))
		return
	}

	run, review, err := h.service.DecidePrintRun(r.Context(), id, *req.AllPrinted)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, PrintDecisionResponse{Run: run, Review: review})
}

// ReviewPrintRun handles POST /v1/print-runs/{id}/review
func (h *Handler) ReviewPrintRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ReviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	run, err := h.service.ReviewPrintRun(r.Context(), id, req.Printed)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, run)
}

// CancelPrintRun handles POST /v1/print-runs/{id}/cancel
func (h *Handler) CancelPrintRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	run, err := h.service.CancelPrintRun(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, run)
}

// PreviewEFT handles GET /v1/bank-accounts/{id}/eft-preview
func (h *Handler) PreviewEFT(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "count must be a non-negative integer").
				WithDetail("count", raw))
			return
		}
		count = n
	}

	preview, err := h.service.PreviewEFT(r.Context(), id, count)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, preview)
}

// CreateEFTRun handles POST /v1/eft-runs
func (h *Handler) CreateEFTRun(w http.ResponseWriter, r *http.Request) {
	var req CreateEFTRunRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.OutputName != "" && !filepath.IsLocal(req.OutputName) {
		h.respondError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed,
			"output_name must be a relative path inside the EFT output directory").
			WithDetail("output_name", req.OutputName))
		return
	}

	run, err := h.service.CreateEFTRun(r.Context(), &serviceports.CreateEFTRunRequest{
		BankAccountID: req.BankAccountID,
		Count:         req.Count,
		AcceptPartial: req.AcceptPartial,
		OutputName:    req.OutputName,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, run)
}

// GetEFTRun handles GET /v1/eft-runs/{id}
func (h *Handler) GetEFTRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	run, err := h.service.GetEFTRun(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, run)
}

// DecideEFTRun handles POST /v1/eft-runs/{id}/decision
func (h *Handler) DecideEFTRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req EFTDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Accept == nil {
		h.respondError(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "accept is required"))
		return
	}

	run, err := h.service.DecideEFTRun(r.Context(), id, *req.Accept)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, run)
}

// MarkPrinted handles POST /v1/payments/{id}/printed
func (h *Handler) MarkPrinted(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkPrinted(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.respondError(w, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid id", err).
			WithDetail("id", raw))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid request body", err))
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", ports.Err(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)

	var domainErr *domain.DomainError
	resp := ErrorResponse{
		Code:    string(domain.ErrorCodeInternalError),
		Message: "internal error",
	}
	if errors.As(err, &domainErr) && status < http.StatusInternalServerError {
		resp.Code = string(domainErr.Code)
		resp.Message = domainErr.Message
		resp.Details = domainErr.Details
	} else if domainErr != nil {
		resp.Code = string(domainErr.Code)
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Batch run request failed",
			ports.String("code", resp.Code),
			ports.Err(err))
	}
	h.respond(w, status, resp)
}

// StatusFor maps a domain error to its HTTP status
func StatusFor(err error) int {
	switch code := domain.GetErrorCode(err); {
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	case code == domain.ErrorCodeValidationFailed:
		return http.StatusBadRequest
	case code == domain.ErrorCodeSelectionEmpty,
		code == domain.ErrorCodeEFTNotEnabled,
		code == domain.ErrorCodeEFTNoRecipients:
		return http.StatusUnprocessableEntity
	case domain.IsConflictError(err):
		return http.StatusConflict
	case code == domain.ErrorCodeTemplateLoad,
		code == domain.ErrorCodeRender,
		code == domain.ErrorCodeSpool,
		code == domain.ErrorCodeEFTKeyUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
