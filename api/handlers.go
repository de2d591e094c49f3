/*
handlers.go - HTTP API handlers for the payout engine

PURPOSE:
  Exposes the allocator and its read models via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to package payout.

ENDPOINTS:
  Payments:
    POST   /api/payments                          Record and allocate a payment
    GET    /api/payments/{id}/receipt             PDF receipt

  Vendors:
    GET    /api/vendors/{vendorID}/stats             Outstanding work per employee
    GET    /api/vendors/{vendorID}/assigned-services Unpaid assignments, newest first
    GET    /api/vendors/{vendorID}/billable          Count x rate per service
    GET    /api/vendors/{vendorID}/drift             Stored vs computed remaining

  Employees:
    GET    /api/employees/{id}                    Employee and balances
    GET    /api/employees/{id}/unpaid             Unpaid ledger, FIFO order
    GET    /api/employees/{id}/service-history    Past assignments, newest first
    GET    /api/employees/{id}/payments           Payment history, newest first
    POST   /api/employees/{id}/reconcile          Repair drift (?dryRun=true to check)

  Scenarios (dev only):
    GET    /api/scenarios                         List demo scenarios
    POST   /api/scenarios/load                    Reset and load a scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags, then domain rules)
  3. Call payout
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  Errors are returned as ErrorResponse with a stable Code:
  - 400 VALIDATION_ERROR / INVALID_BODY
  - 404 NOT_FOUND
  - 409 CONCURRENT_MODIFICATION (retryable), IDEMPOTENCY_*
  - 429 RATE_LIMITED
  - 500 PERSISTENCE_ERROR / INTERNAL_ERROR / ENCODING_ERROR
  - 503 UNAVAILABLE

SECURITY NOTE:
  No authentication middleware. Session issuance lives outside this
  service; put it behind the gateway that does.

SEE ALSO:
  - dto.go: Request/response data structures
  - idempotency.go: Idempotency-Key replay
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/payout-engine/payout"
)

const maxBodyBytes = 1 << 20

// Pinger is implemented by stores that can check connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      payout.TxStore
	Allocator  *payout.Allocator
	Stats      *payout.StatsProjector
	Reports    *payout.Reports
	Reconciler *payout.Reconciler

	// Seeder enables the scenario routes when set.
	Seeder payout.Seeder
	// Idempotency enables Idempotency-Key handling when set.
	Idempotency     IdempotencyStore
	ReceiptCurrency string
	Logger          *slog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engine components over one store.
func NewHandler(store payout.TxStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:           store,
		Allocator:       payout.NewAllocator(store, logger),
		Stats:           payout.NewStatsProjector(store),
		Reports:         payout.NewReports(store),
		Reconciler:      payout.NewReconciler(store, logger),
		ReceiptCurrency: "USD",
		Logger:          logger,
	}
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePayment records one payment and allocates it.
// POST /api/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" || h.Idempotency == nil {
		status, raw := h.encodeResponse(h.allocatePayment(ctx, body))
		writeRawJSON(w, status, raw)
		return
	}

	hash := hashRequest(body)
	existing, reserved, err := h.Idempotency.Reserve(ctx, key, hash)
	if err != nil {
		h.Logger.Error("idempotency reservation failed", "key", key, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "Idempotency store unavailable", Code: "UNAVAILABLE",
		})
		return
	}
	if !reserved {
		h.replay(w, key, hash, existing)
		return
	}

	allocStatus, payload := h.allocatePayment(ctx, body)
	status, raw := h.encodeResponse(allocStatus, payload)

	// Retryable outcomes release the key so the client's retry runs again.
	// A committed payment always keeps its key, whatever was written back.
	committed := allocStatus < http.StatusBadRequest
	storeCtx := context.WithoutCancel(ctx)
	if !committed && (status >= http.StatusInternalServerError || status == http.StatusConflict) {
		if err := h.Idempotency.Release(storeCtx, key); err != nil {
			h.Logger.Warn("idempotency release failed", "key", key, "err", err)
		}
	} else if err := h.Idempotency.Complete(storeCtx, key, IdempotencyRecord{
		RequestHash: hash, Status: status, Body: raw,
	}); err != nil {
		h.Logger.Warn("idempotency completion failed", "key", key, "err", err)
	}
	writeRawJSON(w, status, raw)
}

func (h *Handler) replay(w http.ResponseWriter, key, hash string, rec IdempotencyRecord) {
	switch {
	case rec.RequestHash != hash:
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "Idempotency key was already used for a different request",
			Code:  "IDEMPOTENCY_KEY_REUSED",
		})
	case rec.Pending:
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "A request with this idempotency key is still in progress",
			Code:  "IDEMPOTENCY_IN_FLIGHT",
		})
	default:
		h.Logger.Info("idempotent replay", "key", key, "status", rec.Status)
		w.Header().Set("Idempotent-Replayed", "true")
		writeRawJSON(w, rec.Status, rec.Body)
	}
}

// encodeResponse marshals payload, falling back to a 500 error body.
func (h *Handler) encodeResponse(status int, payload any) (int, []byte) {
	raw, err := json.Marshal(payload)
	if err == nil {
		return status, raw
	}
	h.Logger.Error("failed to encode response", "status", status, "err", err)
	raw, _ = json.Marshal(ErrorResponse{
		Error: "Failed to encode response", Code: "ENCODING_ERROR", Details: err.Error(),
	})
	return http.StatusInternalServerError, raw
}

// allocatePayment runs the whole payment flow and returns the response
// status and payload without writing them.
func (h *Handler) allocatePayment(ctx context.Context, body []byte) (int, any) {
	var dto PaymentRequest
	if err := json.Unmarshal(body, &dto); err != nil {
		return http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_BODY", Details: err.Error()}
	}

	req, err := parsePayment(dto)
	if err != nil {
		return errorResponse(err)
	}

	res, err := h.Allocator.Allocate(ctx, req)
	if err != nil {
		status, payload := errorResponse(err)
		if status >= http.StatusInternalServerError {
			h.Logger.Error("payment failed", "employeeId", req.EmployeeID, "err", err)
		}
		return status, payload
	}
	return http.StatusCreated, toPaymentResponse(res)
}

// parsePayment applies validator tags and domain rules, reporting every
// field problem at once.
func parsePayment(dto PaymentRequest) (payout.PaymentRequest, error) {
	verr := &payout.ValidationError{}
	tagged := make(map[string]bool)
	if err := validateRequest(dto); err != nil {
		var ve *payout.ValidationError
		if !errors.As(err, &ve) {
			return payout.PaymentRequest{}, err
		}
		for _, f := range ve.Fields {
			verr.Fields = append(verr.Fields, f)
			base, _, _ := strings.Cut(f.Field, "[")
			tagged[base] = true
		}
	}

	req, err := dto.toDomain()
	if err == nil {
		err = req.Validate()
	}
	var ve *payout.ValidationError
	if errors.As(err, &ve) {
		for _, f := range ve.Fields {
			if !tagged[f.Field] {
				verr.Fields = append(verr.Fields, f)
			}
		}
	} else if err != nil {
		return payout.PaymentRequest{}, err
	}

	if len(verr.Fields) > 0 {
		return payout.PaymentRequest{}, verr
	}
	return req, nil
}

// GetReceipt renders a payment history row as PDF.
// GET /api/payments/{id}/receipt
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payment, err := h.Store.GetPayment(ctx, payout.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get payment", err)
		return
	}
	emp, err := h.Store.GetEmployee(ctx, payment.EmployeeID)
	if err != nil {
		h.writeDomainError(w, "Failed to get employee", err)
		return
	}

	var buf bytes.Buffer
	receipt := Receipt{Payment: payment, Employee: emp, Currency: h.ReceiptCurrency}
	if err := receipt.WritePDF(&buf); err != nil {
		h.writeDomainError(w, "Failed to render receipt", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="receipt-`+string(payment.ID)+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// =============================================================================
// VENDOR HANDLERS
// =============================================================================

// GetVendorStats returns outstanding work per active employee.
// GET /api/vendors/{vendorID}/stats
func (h *Handler) GetVendorStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.Stats.EmployeeStats(r.Context(), vendorParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(report))
}

// GetAssignedServices lists unpaid assignments of every active employee.
// GET /api/vendors/{vendorID}/assigned-services
func (h *Handler) GetAssignedServices(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reports.AssignedServices(r.Context(), vendorParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list assigned services", err)
		return
	}
	out := make([]EmployeeAssignmentsDTO, len(list))
	for i, a := range list {
		out[i] = toEmployeeAssignmentsDTO(a)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetBillable returns count x rate per service for each active employee.
// GET /api/vendors/{vendorID}/billable
func (h *Handler) GetBillable(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reports.Billable(r.Context(), vendorParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to compute billable totals", err)
		return
	}
	out := make([]BillableDTO, len(list))
	for i, b := range list {
		out[i] = toBillableDTO(b)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetVendorDrift reports stored vs computed TotalRemaining without writing.
// GET /api/vendors/{vendorID}/drift
func (h *Handler) GetVendorDrift(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Reconciler.CheckVendor(r.Context(), vendorParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to check drift", err)
		return
	}
	onlyDrifted := r.URL.Query().Get("onlyDrifted") == "true"
	out := make([]DriftDTO, 0, len(drifts))
	for _, d := range drifts {
		if onlyDrifted && !d.HasDrift() {
			continue
		}
		out = append(out, toDriftDTO(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// GetEmployee returns a single employee with balances.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), employeeParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// GetUnpaid returns the unpaid ledger in allocation order.
// GET /api/employees/{id}/unpaid
func (h *Handler) GetUnpaid(w http.ResponseWriter, r *http.Request) {
	a, err := h.Reports.Unpaid(r.Context(), employeeParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list unpaid assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeAssignmentsDTO(a))
}

// GetServiceHistory returns past, non-cancelled assignments.
// GET /api/employees/{id}/service-history
func (h *Handler) GetServiceHistory(w http.ResponseWriter, r *http.Request) {
	a, err := h.Reports.ServiceHistory(r.Context(), employeeParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get service history", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeAssignmentsDTO(a))
}

// ListPayments returns payment history, newest first.
// GET /api/employees/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := employeeParam(r)
	if _, err := h.Store.GetEmployee(ctx, id); err != nil {
		h.writeDomainError(w, "Failed to get employee", err)
		return
	}
	payments, err := h.Store.ListPayments(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to list payments", err)
		return
	}
	out := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		out[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// ReconcileEmployee repairs TotalRemaining drift for one employee.
// POST /api/employees/{id}/reconcile[?dryRun=true]
func (h *Handler) ReconcileEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := employeeParam(r)

	var (
		d   payout.Drift
		err error
	)
	if r.URL.Query().Get("dryRun") == "true" {
		d, err = h.Reconciler.Check(ctx, id)
	} else {
		d, err = h.Reconciler.Repair(ctx, id)
	}
	if err != nil {
		h.writeDomainError(w, "Failed to reconcile balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toDriftDTO(d))
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz reports the process is up.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether the store answers.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
				Error: "Store unavailable", Code: "UNAVAILABLE", Details: err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// =============================================================================
// HELPERS
// =============================================================================

func vendorParam(r *http.Request) payout.VendorID {
	return payout.VendorID(chi.URLParam(r, "vendorID"))
}

func employeeParam(r *http.Request) payout.EmployeeID {
	return payout.EmployeeID(chi.URLParam(r, "id"))
}

type fieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// errorResponse maps an engine error to a status and body.
func errorResponse(err error) (int, ErrorResponse) {
	var verr *payout.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]fieldErrorDTO, len(verr.Fields))
		for i, f := range verr.Fields {
			fields[i] = fieldErrorDTO{Field: f.Field, Message: f.Message}
		}
		return http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "VALIDATION_ERROR", Details: fields}
	case errors.Is(err, payout.ErrEmployeeNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "Employee not found", Code: "NOT_FOUND"}
	case errors.Is(err, payout.ErrPaymentNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "Payment not found", Code: "NOT_FOUND"}
	case errors.Is(err, payout.ErrAssignmentNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "Assignment not found", Code: "NOT_FOUND"}
	case errors.Is(err, payout.ErrConcurrentModification):
		return http.StatusConflict, ErrorResponse{Error: "Concurrent modification, retry the request", Code: "CONCURRENT_MODIFICATION"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "Request timed out", Code: "UNAVAILABLE"}
	case errors.Is(err, payout.ErrPersistence):
		return http.StatusInternalServerError, ErrorResponse{Error: "Storage failure, retry the request", Code: "PERSISTENCE_ERROR"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Code: "INTERNAL_ERROR"}
	}
}

// writeDomainError maps err and logs anything server-side.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status, resp := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, "err", err)
	}
	if status == http.StatusConflict {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
