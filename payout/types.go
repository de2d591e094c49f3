/*
Package payout provides the employee payout reconciliation engine.

PURPOSE:
  Given one incoming payment for an employee, decide which outstanding
  service-assignment debts it settles, update the employee's running
  balances and leave an append-only audit row. Everything happens inside
  a single store transaction scoped to that employee.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal, never float64 (floats only at the JSON edge)
  - Employee + Balances: identity plus three running totals
  - Assignment: one unit of billable work (employee x service x booking)
  - ServiceRate: charge per service, optionally overridden per employee
  - PaymentHistory: append-only audit record of money received
  - LedgerEntry: an assignment enriched with its resolved charge

BALANCE SEMANTICS:
  TotalPaid:      cumulative amount ever paid (never decreases)
  TotalRemaining: sum of charges of currently unpaid assignments
  ExtraAmount:    signed. > 0 is unassigned credit held for the employee,
                  < 0 is a shortfall carried over from an earlier
                  under-allocation.

SEE ALSO:
  - rate.go: charge resolution
  - ledger.go: ordered unpaid assignments
  - allocator.go: the allocation algorithm
  - stats.go: reporting projection
*/
package payout

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type VendorID string
type ServiceID string
type BookingID string
type AssignmentID string
type PaymentID string
type RateID string

// =============================================================================
// MONEY
// =============================================================================

// Zero is the zero amount. decimal.Decimal's zero value is also usable,
// this just reads better at call sites.
var Zero = decimal.Zero

// Money builds an amount from a float literal. Intended for tests, seeds
// and the JSON edge; arithmetic stays in decimal.
func Money(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// MaxAmount bounds a single payment. Every amount below it has a finite
// float64 form at the JSON edge.
var MaxAmount = decimal.New(1, 12)

// ParseMoney parses a stored decimal string.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// MustParseMoney parses a decimal literal and panics on malformed input.
// Use ParseMoney for anything read from storage or a request.
func MustParseMoney(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// EMPLOYEE
// =============================================================================

// Balances are the three running totals kept on the employee row.
// They are maintained incrementally by the Allocator.
type Balances struct {
	TotalPaid      decimal.Decimal
	TotalRemaining decimal.Decimal
	ExtraAmount    decimal.Decimal
}

type Employee struct {
	ID       EmployeeID
	VendorID VendorID
	Name     string
	StatusID string
	Status   string
	// Active mirrors the linked user account status; inactive employees
	// are excluded from vendor projections.
	Active    bool
	Balances  Balances
	CreatedAt time.Time
}

// =============================================================================
// SERVICES, RATES, BOOKINGS
// =============================================================================

type Service struct {
	ID   ServiceID
	Name string
}

// ServiceRate is the charge for a service. EmployeeID == nil marks the
// default rate for that service.
type ServiceRate struct {
	ID         RateID
	ServiceID  ServiceID
	EmployeeID *EmployeeID
	Charge     decimal.Decimal
}

// IsDefault reports whether the rate applies to every employee.
func (r ServiceRate) IsDefault() bool { return r.EmployeeID == nil }

// Validate rejects rates that would resolve to a negative charge.
func (r ServiceRate) Validate() error {
	verr := &ValidationError{}
	if r.Charge.IsNegative() {
		verr.add("charge", "must not be negative")
	}
	return verr.orNil()
}

// Booking carries the event date used for FIFO ordering.
type Booking struct {
	ID           BookingID
	EventDate    time.Time
	EventName    string
	CustomerName string
	Location     string
	Cancelled    bool
}

// =============================================================================
// ASSIGNMENT
// =============================================================================

// Assignment links one employee to one service within one booking.
// IsPaid only ever moves false -> true, and only through the Allocator.
type Assignment struct {
	ID         AssignmentID
	EmployeeID EmployeeID
	ServiceID  ServiceID
	BookingID  BookingID
	IsPaid     bool
	PaidAt     *time.Time
}

// AssignmentView is an assignment joined with its service name and booking.
type AssignmentView struct {
	Assignment
	ServiceName string
	Booking     Booking
}

// EventDate is the booking's event date.
func (v AssignmentView) EventDate() time.Time { return v.Booking.EventDate }

// LedgerEntry is an assignment with its charge resolved at read time.
type LedgerEntry struct {
	AssignmentView
	Charge decimal.Decimal
	// ZeroCharge is set when no rate row resolved for the assignment.
	ZeroCharge bool
}

// =============================================================================
// PAYMENT HISTORY
// =============================================================================

// PaymentHistory records money received. One row per allocator call,
// equal to the requested amount no matter how it was distributed.
type PaymentHistory struct {
	ID         PaymentID
	EmployeeID EmployeeID
	Amount     decimal.Decimal
	PaidAt     time.Time
	CreatedAt  time.Time
}
