/*
store.go - Persistence interfaces for the payout engine

PURPOSE:
  Defines the boundary between the allocation logic and the relational
  store. The engine never talks SQL; it talks to these interfaces.

KEY INTERFACES:
  Store:    reads and the three writes the allocator needs
  TxStore:  Store + WithTx for the all-or-nothing unit of work
  Seeder:   creation of employees, services, rates, bookings and
            assignments. Owned by external collaborators in production;
            used here by demo scenarios and tests.

LOCKING:
  LockEmployee must be called first inside WithTx. It returns the
  employee row and guarantees no other transaction can read-modify-write
  that employee's balances or assignments until commit:
    - postgres: SELECT ... FOR UPDATE
    - sqlite:   single writer connection
    - memory:   store mutex held for the whole transaction
  Outside a transaction it behaves like GetEmployee.

WRITES:
  AppendPayment:       append-only, never updated or deleted
  MarkAssignmentPaid:  false -> true only; ErrAlreadyPaid otherwise
  UpdateBalances:      overwrites the three running totals

IMPLEMENTATIONS:
  - payout/store/memory.go: in-memory, snapshot + rollback
  - store/sqlite:           SQLite
  - store/postgres:         PostgreSQL via pgx
*/
package payout

import (
	"context"
	"time"
)

// AssignmentFilter narrows ListAssignments. Zero values mean "no filter".
type AssignmentFilter struct {
	EmployeeID EmployeeID
	UnpaidOnly bool
	// EventOnOrBefore keeps assignments whose event date is <= the value.
	EventOnOrBefore *time.Time
	// EventBefore keeps assignments whose event date is strictly before the value.
	EventBefore      *time.Time
	ExcludeCancelled bool
}

// RateSource is the slice of Store the RateResolver needs.
type RateSource interface {
	// ServiceRates returns every rate row for the service, default and
	// employee-specific alike.
	ServiceRates(ctx context.Context, serviceID ServiceID) ([]ServiceRate, error)
}

// Store is the persistence surface of the engine.
type Store interface {
	RateSource

	// GetEmployee returns ErrEmployeeNotFound when the id does not resolve.
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)

	// LockEmployee is GetEmployee plus a row lock held until the
	// surrounding transaction ends.
	LockEmployee(ctx context.Context, id EmployeeID) (Employee, error)

	// ListVendors returns every distinct vendor id that has employees, sorted.
	ListVendors(ctx context.Context) ([]VendorID, error)

	// ListEmployees returns the vendor's employees ordered by name, id.
	ListEmployees(ctx context.Context, vendorID VendorID, activeOnly bool) ([]Employee, error)

	// ListAssignments returns joined assignment views. Order is not
	// guaranteed; callers sort.
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]AssignmentView, error)

	// ListPayments returns payment history rows, newest first.
	ListPayments(ctx context.Context, employeeID EmployeeID) ([]PaymentHistory, error)

	// GetPayment returns ErrPaymentNotFound when the id does not resolve.
	GetPayment(ctx context.Context, id PaymentID) (PaymentHistory, error)

	AppendPayment(ctx context.Context, p PaymentHistory) error
	MarkAssignmentPaid(ctx context.Context, id AssignmentID, paidAt time.Time) error
	UpdateBalances(ctx context.Context, id EmployeeID, b Balances) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Seeder creates the debt model rows the engine reads.
type Seeder interface {
	SaveEmployee(ctx context.Context, e Employee) error
	SaveService(ctx context.Context, s Service) error
	SaveRate(ctx context.Context, r ServiceRate) error
	SaveBooking(ctx context.Context, b Booking) error
	SaveAssignment(ctx context.Context, a Assignment) error
	Reset(ctx context.Context) error
}
