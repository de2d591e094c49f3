/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the payout domain model from the external contract:
  - Money is decimal inside the engine and float64 on the wire
  - IDs are plain strings on the wire
  - Timestamps are RFC3339 strings, dates are YYYY-MM-DD

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request structs carry go-playground/validator tags for shape checks
  (required fields, blank ids). Business rules (amount > 0, autoPaid with
  ids) are enforced by payout.PaymentRequest.Validate. Both surface as
  400 with per-field details.

LEGACY FIELD:
  assignedEmployeeIds is accepted as an alias for assignmentIds. Older
  clients send the explicit selection under that name even though the
  values are assignment ids. assignmentIds wins when both are present.

SEE ALSO:
  - handlers.go: Uses these types
  - payout/policy.go: PaymentRequest
*/
package api

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/payout-engine/payout"
)

const dateLayout = "2006-01-02"

// =============================================================================
// PAYMENT REQUEST
// =============================================================================

// PaymentRequest is the body of POST /api/payments.
type PaymentRequest struct {
	EmployeeID string          `json:"employeeId" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	// PaidAt accepts RFC3339 or YYYY-MM-DD.
	PaidAt              *string  `json:"paidAt,omitempty"`
	AutoPaid            bool     `json:"autoPaid"`
	AssignmentIDs       []string `json:"assignmentIds,omitempty" validate:"omitempty,dive,required"`
	AssignedEmployeeIDs []string `json:"assignedEmployeeIds,omitempty" validate:"omitempty,dive,required"`
}

// selection returns the explicit ids, honouring the legacy alias.
func (r PaymentRequest) selection() []string {
	if len(r.AssignmentIDs) > 0 {
		return r.AssignmentIDs
	}
	return r.AssignedEmployeeIDs
}

// toDomain converts the wire request. Only paidAt parsing can fail here.
func (r PaymentRequest) toDomain() (payout.PaymentRequest, error) {
	req := payout.PaymentRequest{
		EmployeeID: payout.EmployeeID(strings.TrimSpace(r.EmployeeID)),
		Amount:     r.Amount,
		AutoPay:    r.AutoPaid,
	}
	if r.PaidAt != nil && strings.TrimSpace(*r.PaidAt) != "" {
		t, err := parseTimestamp(*r.PaidAt)
		if err != nil {
			return payout.PaymentRequest{}, &payout.ValidationError{Fields: []payout.FieldError{
				{Field: "paidAt", Message: "must be RFC3339 or YYYY-MM-DD"},
			}}
		}
		req.PaidAt = &t
	}
	for _, id := range r.selection() {
		req.AssignmentIDs = append(req.AssignmentIDs, payout.AssignmentID(id))
	}
	return req, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(dateLayout, s)
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = validator.New()

// validateRequest runs struct tags and converts failures to the domain
// ValidationError so handlers map them like any other 400.
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &payout.ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, payout.FieldError{
			Field:   jsonFieldName(fe.Namespace()),
			Message: tagMessage(fe.Tag()),
		})
	}
	return out
}

// jsonFieldName turns "PaymentRequest.AssignmentIDs[1]" into
// "assignmentIds[1]".
func jsonFieldName(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	switch {
	case strings.HasPrefix(ns, "EmployeeID"):
		return "employeeId" + strings.TrimPrefix(ns, "EmployeeID")
	case strings.HasPrefix(ns, "AssignmentIDs"):
		return "assignmentIds" + strings.TrimPrefix(ns, "AssignmentIDs")
	case strings.HasPrefix(ns, "AssignedEmployeeIDs"):
		return "assignedEmployeeIds" + strings.TrimPrefix(ns, "AssignedEmployeeIDs")
	case strings.HasPrefix(ns, "ScenarioID"):
		return "scenario_id"
	}
	return ns
}

func tagMessage(tag string) string {
	switch tag {
	case "required":
		return "is required"
	default:
		return "failed " + tag + " check"
	}
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalancesDTO is the three running totals.
type BalancesDTO struct {
	TotalPaid      float64 `json:"totalPaid"`
	TotalRemaining float64 `json:"totalRemaining"`
	ExtraAmount    float64 `json:"extraAmount"`
}

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID       string      `json:"id"`
	VendorID string      `json:"vendorId"`
	Name     string      `json:"name"`
	StatusID string      `json:"statusId,omitempty"`
	Status   string      `json:"status,omitempty"`
	Active   bool        `json:"active"`
	Balances BalancesDTO `json:"balances"`
}

// PaymentDTO is one payment history row.
type PaymentDTO struct {
	ID         string  `json:"id"`
	EmployeeID string  `json:"employeeId"`
	Amount     float64 `json:"amount"`
	PaidAt     string  `json:"paidAt"`
	CreatedAt  string  `json:"createdAt"`
}

// AssignmentDTO is an assignment with its resolved charge and event.
type AssignmentDTO struct {
	ID           string  `json:"id"`
	ServiceID    string  `json:"serviceId"`
	ServiceName  string  `json:"serviceName"`
	BookingID    string  `json:"bookingId"`
	EventDate    string  `json:"eventDate"`
	EventName    string  `json:"eventName,omitempty"`
	CustomerName string  `json:"customerName,omitempty"`
	Location     string  `json:"location,omitempty"`
	Charge       float64 `json:"charge"`
	ZeroCharge   bool    `json:"zeroCharge,omitempty"`
	IsPaid       bool    `json:"isPaid"`
	PaidAt       *string `json:"paidAt"`
}

// PaymentResponse is returned by POST /api/payments.
type PaymentResponse struct {
	Payment  PaymentDTO      `json:"payment"`
	Employee EmployeeDTO     `json:"employee"`
	Settled  []AssignmentDTO `json:"settled"`
	Absorbed float64         `json:"absorbed"`
	Policy   string          `json:"policy"`
	Skipped  []string        `json:"skipped,omitempty"`
}

// ServiceStatsDTO is one service row inside an employee's stats.
type ServiceStatsDTO struct {
	ServiceID       string  `json:"serviceId"`
	ServiceName     string  `json:"serviceName"`
	Count           int     `json:"count"`
	TotalAmount     float64 `json:"totalAmount"`
	PaidAmount      float64 `json:"paidAmount"`
	RemainingAmount float64 `json:"remainingAmount"`
}

// EmployeeStatsDTO is the per-employee stats roll-up.
type EmployeeStatsDTO struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	StatusID       string            `json:"statusId,omitempty"`
	Status         string            `json:"status,omitempty"`
	TotalServices  int               `json:"totalServices"`
	TotalAmount    float64           `json:"totalAmount"`
	TotalPaid      float64           `json:"totalPaid"`
	TotalRemaining float64           `json:"totalRemaining"`
	ExtraAmount    float64           `json:"extraAmount"`
	Services       []ServiceStatsDTO `json:"services"`
}

// StatsResponse is returned by GET /api/vendors/{vendorID}/stats.
type StatsResponse struct {
	EmployeeStats map[string]EmployeeStatsDTO `json:"employeeStats"`
	IDs           []string                    `json:"ids"`
}

// EmployeeAssignmentsDTO is an employee with a list of assignments.
type EmployeeAssignmentsDTO struct {
	EmployeeID  string          `json:"employeeId"`
	Name        string          `json:"name"`
	Balances    BalancesDTO     `json:"balances"`
	Assignments []AssignmentDTO `json:"assignments"`
}

// BillableServiceDTO is count x rate for one service.
type BillableServiceDTO struct {
	ServiceID   string  `json:"serviceId"`
	ServiceName string  `json:"serviceName"`
	Count       int     `json:"count"`
	Rate        float64 `json:"rate"`
	Amount      float64 `json:"amount"`
}

// BillableDTO is one employee's billable summary.
type BillableDTO struct {
	EmployeeID  string               `json:"employeeId"`
	Name        string               `json:"name"`
	TotalCount  int                  `json:"totalCount"`
	TotalAmount float64              `json:"totalAmount"`
	Services    []BillableServiceDTO `json:"services"`
}

// DriftDTO reports stored vs computed TotalRemaining.
type DriftDTO struct {
	EmployeeID string  `json:"employeeId"`
	Stored     float64 `json:"stored"`
	Computed   float64 `json:"computed"`
	Delta      float64 `json:"delta"`
	HasDrift   bool    `json:"hasDrift"`
	Unpaid     int     `json:"unpaid"`
	ZeroCharge int     `json:"zeroCharge"`
	Repaired   bool    `json:"repaired"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func amount(d decimal.Decimal) float64 { return d.InexactFloat64() }

func toBalancesDTO(b payout.Balances) BalancesDTO {
	return BalancesDTO{
		TotalPaid:      amount(b.TotalPaid),
		TotalRemaining: amount(b.TotalRemaining),
		ExtraAmount:    amount(b.ExtraAmount),
	}
}

func toEmployeeDTO(e payout.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:       string(e.ID),
		VendorID: string(e.VendorID),
		Name:     e.Name,
		StatusID: e.StatusID,
		Status:   e.Status,
		Active:   e.Active,
		Balances: toBalancesDTO(e.Balances),
	}
}

func toPaymentDTO(p payout.PaymentHistory) PaymentDTO {
	return PaymentDTO{
		ID:         string(p.ID),
		EmployeeID: string(p.EmployeeID),
		Amount:     amount(p.Amount),
		PaidAt:     p.PaidAt.UTC().Format(time.RFC3339),
		CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toAssignmentDTO(e payout.LedgerEntry) AssignmentDTO {
	dto := AssignmentDTO{
		ID:           string(e.ID),
		ServiceID:    string(e.ServiceID),
		ServiceName:  e.ServiceName,
		BookingID:    string(e.BookingID),
		EventDate:    e.EventDate().Format(dateLayout),
		EventName:    e.Booking.EventName,
		CustomerName: e.Booking.CustomerName,
		Location:     e.Booking.Location,
		Charge:       amount(e.Charge),
		ZeroCharge:   e.ZeroCharge,
		IsPaid:       e.IsPaid,
	}
	if e.PaidAt != nil {
		s := e.PaidAt.UTC().Format(time.RFC3339)
		dto.PaidAt = &s
	}
	return dto
}

func toAssignmentDTOs(entries []payout.LedgerEntry) []AssignmentDTO {
	out := make([]AssignmentDTO, len(entries))
	for i, e := range entries {
		out[i] = toAssignmentDTO(e)
	}
	return out
}

func toPaymentResponse(res payout.PaymentResult) PaymentResponse {
	resp := PaymentResponse{
		Payment:  toPaymentDTO(res.Payment),
		Employee: toEmployeeDTO(res.Employee),
		Settled:  toAssignmentDTOs(res.Settled),
		Absorbed: amount(res.Absorbed),
		Policy:   string(res.Policy),
	}
	for _, id := range res.Skipped {
		resp.Skipped = append(resp.Skipped, string(id))
	}
	return resp
}

func toStatsResponse(r payout.StatsReport) StatsResponse {
	resp := StatsResponse{
		EmployeeStats: make(map[string]EmployeeStatsDTO, len(r.IDs)),
		IDs:           make([]string, 0, len(r.IDs)),
	}
	for _, id := range r.IDs {
		s := r.Employees[id]
		dto := EmployeeStatsDTO{
			ID:             string(s.EmployeeID),
			Name:           s.Name,
			StatusID:       s.StatusID,
			Status:         s.Status,
			TotalServices:  s.TotalServices,
			TotalAmount:    amount(s.TotalAmount),
			TotalPaid:      amount(s.Balances.TotalPaid),
			TotalRemaining: amount(s.Balances.TotalRemaining),
			ExtraAmount:    amount(s.Balances.ExtraAmount),
			Services:       make([]ServiceStatsDTO, len(s.Services)),
		}
		for i, svc := range s.Services {
			dto.Services[i] = ServiceStatsDTO{
				ServiceID:       string(svc.ServiceID),
				ServiceName:     svc.ServiceName,
				Count:           svc.Count,
				TotalAmount:     amount(svc.TotalAmount),
				PaidAmount:      amount(svc.PaidAmount),
				RemainingAmount: amount(svc.RemainingAmount),
			}
		}
		resp.EmployeeStats[string(id)] = dto
		resp.IDs = append(resp.IDs, string(id))
	}
	return resp
}

func toEmployeeAssignmentsDTO(a payout.EmployeeAssignments) EmployeeAssignmentsDTO {
	return EmployeeAssignmentsDTO{
		EmployeeID:  string(a.EmployeeID),
		Name:        a.Name,
		Balances:    toBalancesDTO(a.Balances),
		Assignments: toAssignmentDTOs(a.Entries),
	}
}

func toBillableDTO(b payout.BillableSummary) BillableDTO {
	dto := BillableDTO{
		EmployeeID:  string(b.EmployeeID),
		Name:        b.Name,
		TotalCount:  b.TotalCount,
		TotalAmount: amount(b.TotalAmount),
		Services:    make([]BillableServiceDTO, len(b.Services)),
	}
	for i, s := range b.Services {
		dto.Services[i] = BillableServiceDTO{
			ServiceID:   string(s.ServiceID),
			ServiceName: s.ServiceName,
			Count:       s.Count,
			Rate:        amount(s.Rate),
			Amount:      amount(s.Amount),
		}
	}
	return dto
}

func toDriftDTO(d payout.Drift) DriftDTO {
	return DriftDTO{
		EmployeeID: string(d.EmployeeID),
		Stored:     amount(d.Stored),
		Computed:   amount(d.Computed),
		Delta:      amount(d.Delta()),
		HasDrift:   d.HasDrift(),
		Unpaid:     d.Unpaid,
		ZeroCharge: d.ZeroCharge,
		Repaired:   d.Repaired,
	}
}
