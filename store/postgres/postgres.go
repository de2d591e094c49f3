/*
Package postgres provides a PostgreSQL implementation of the payout storage interfaces.

PURPOSE:
  Production store. Same tables as store/sqlite, with native NUMERIC,
  BOOLEAN and TIMESTAMPTZ columns, reached through a pgx connection pool.

LOCKING:
  WithTx opens a READ COMMITTED transaction. LockEmployee issues
  SELECT ... FOR UPDATE on the employee row, so two payments for the same
  employee queue on that row while payments for different employees run
  in parallel. Every engine write for an employee happens after the lock
  is taken, which makes the fetch-then-mutate sequence serial per
  employee.

ERRORS:
  SQLSTATE 40001 (serialization_failure), 40P01 (deadlock_detected) and
  55P03 (lock_not_available) map to payout.ErrConcurrentModification.

MONEY:
  NUMERIC columns are read as text (::text) and parsed by
  shopspring/decimal; values are written as text and cast to numeric.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/payout-engine/payout"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the payout storage interfaces on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// Connect opens a pool for databaseURL and migrates the schema.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// New wraps an existing pool. The schema is not touched.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	vendor_id TEXT NOT NULL,
	name TEXT NOT NULL,
	status_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	total_paid NUMERIC NOT NULL DEFAULT 0,
	total_remaining NUMERIC NOT NULL DEFAULT 0,
	extra_amount NUMERIC NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_employees_vendor ON employees(vendor_id, active);

CREATE TABLE IF NOT EXISTS services (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS service_rates (
	id TEXT PRIMARY KEY,
	service_id TEXT NOT NULL REFERENCES services(id),
	employee_id TEXT REFERENCES employees(id),
	charge NUMERIC NOT NULL CHECK (charge >= 0)
);

CREATE INDEX IF NOT EXISTS idx_service_rates_service ON service_rates(service_id);

CREATE TABLE IF NOT EXISTS bookings (
	id TEXT PRIMARY KEY,
	event_date TIMESTAMPTZ NOT NULL,
	event_name TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	cancelled BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL REFERENCES employees(id),
	service_id TEXT NOT NULL REFERENCES services(id),
	booking_id TEXT NOT NULL REFERENCES bookings(id),
	is_paid BOOLEAN NOT NULL DEFAULT FALSE,
	paid_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_assignments_employee_unpaid ON assignments(employee_id, is_paid);

CREATE TABLE IF NOT EXISTS payment_history (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL REFERENCES employees(id),
	amount NUMERIC NOT NULL CHECK (amount > 0),
	paid_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_payment_history_employee ON payment_history(employee_id, paid_at DESC);

CREATE OR REPLACE FUNCTION payment_history_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'payment_history is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS payment_history_no_update ON payment_history;
CREATE TRIGGER payment_history_no_update
	BEFORE UPDATE ON payment_history
	FOR EACH ROW EXECUTE FUNCTION payment_history_append_only();
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Store{pool: s.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

const employeeSelect = `
	SELECT id, vendor_id, name, status_id, status, active,
	       total_paid::text, total_remaining::text, extra_amount::text, created_at
	FROM employees`

func (s *Store) GetEmployee(ctx context.Context, id payout.EmployeeID) (payout.Employee, error) {
	return s.getEmployee(ctx, employeeSelect+` WHERE id = $1`, id)
}

// LockEmployee takes a row lock held until the transaction ends.
// Outside WithTx the lock is released immediately.
func (s *Store) LockEmployee(ctx context.Context, id payout.EmployeeID) (payout.Employee, error) {
	return s.getEmployee(ctx, employeeSelect+` WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) getEmployee(ctx context.Context, query string, id payout.EmployeeID) (payout.Employee, error) {
	emp, err := scanEmployee(s.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return payout.Employee{}, payout.ErrEmployeeNotFound
	}
	if err != nil {
		return payout.Employee{}, mapError(err)
	}
	return emp, nil
}

func (s *Store) ListVendors(ctx context.Context) ([]payout.VendorID, error) {
	rows, err := s.q.Query(ctx, `SELECT DISTINCT vendor_id FROM employees ORDER BY vendor_id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []payout.VendorID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		out = append(out, payout.VendorID(id))
	}
	return out, mapError(rows.Err())
}

func (s *Store) ListEmployees(ctx context.Context, vendorID payout.VendorID, activeOnly bool) ([]payout.Employee, error) {
	query := employeeSelect + ` WHERE vendor_id = $1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY name, id`

	rows, err := s.q.Query(ctx, query, vendorID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []payout.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, emp)
	}
	return out, mapError(rows.Err())
}

func (s *Store) UpdateBalances(ctx context.Context, id payout.EmployeeID, b payout.Balances) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE employees
		SET total_paid = $2::numeric, total_remaining = $3::numeric, extra_amount = $4::numeric
		WHERE id = $1`,
		id, b.TotalPaid.String(), b.TotalRemaining.String(), b.ExtraAmount.String())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return payout.ErrEmployeeNotFound
	}
	return nil
}

func scanEmployee(row pgx.Row) (payout.Employee, error) {
	var (
		emp                    payout.Employee
		paid, remaining, extra string
	)
	err := row.Scan(&emp.ID, &emp.VendorID, &emp.Name, &emp.StatusID, &emp.Status, &emp.Active,
		&paid, &remaining, &extra, &emp.CreatedAt)
	if err != nil {
		return emp, err
	}
	if emp.Balances, err = parseBalances(paid, remaining, extra); err != nil {
		return emp, fmt.Errorf("failed to scan employee %s: %w", emp.ID, err)
	}
	emp.CreatedAt = emp.CreatedAt.UTC()
	return emp, nil
}

// =============================================================================
// ASSIGNMENTS AND RATES
// =============================================================================

func (s *Store) ListAssignments(ctx context.Context, f payout.AssignmentFilter) ([]payout.AssignmentView, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.EmployeeID != "" {
		where = append(where, "a.employee_id = "+arg(f.EmployeeID))
	}
	if f.UnpaidOnly {
		where = append(where, "NOT a.is_paid")
	}
	if f.EventOnOrBefore != nil {
		where = append(where, "b.event_date <= "+arg(*f.EventOnOrBefore))
	}
	if f.EventBefore != nil {
		where = append(where, "b.event_date < "+arg(*f.EventBefore))
	}
	if f.ExcludeCancelled {
		where = append(where, "NOT b.cancelled")
	}

	query := `
		SELECT a.id, a.employee_id, a.service_id, a.booking_id, a.is_paid, a.paid_at,
		       COALESCE(s.name, ''),
		       b.id, b.event_date, b.event_name, b.customer_name, b.location, b.cancelled
		FROM assignments a
		JOIN bookings b ON b.id = a.booking_id
		LEFT JOIN services s ON s.id = a.service_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.event_date, a.id"

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []payout.AssignmentView
	for rows.Next() {
		var v payout.AssignmentView
		err := rows.Scan(&v.ID, &v.EmployeeID, &v.ServiceID, &v.BookingID, &v.IsPaid, &v.PaidAt,
			&v.ServiceName,
			&v.Booking.ID, &v.Booking.EventDate, &v.Booking.EventName, &v.Booking.CustomerName,
			&v.Booking.Location, &v.Booking.Cancelled)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		v.Booking.EventDate = v.Booking.EventDate.UTC()
		if v.PaidAt != nil {
			t := v.PaidAt.UTC()
			v.PaidAt = &t
		}
		out = append(out, v)
	}
	return out, mapError(rows.Err())
}

func (s *Store) ServiceRates(ctx context.Context, serviceID payout.ServiceID) ([]payout.ServiceRate, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, service_id, employee_id, charge::text FROM service_rates WHERE service_id = $1 ORDER BY id`,
		serviceID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []payout.ServiceRate
	for rows.Next() {
		var (
			r      payout.ServiceRate
			charge string
		)
		if err := rows.Scan(&r.ID, &r.ServiceID, &r.EmployeeID, &charge); err != nil {
			return nil, fmt.Errorf("failed to scan service rate: %w", err)
		}
		if r.Charge, err = payout.ParseMoney(charge); err != nil {
			return nil, fmt.Errorf("failed to scan service rate %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, mapError(rows.Err())
}

func (s *Store) MarkAssignmentPaid(ctx context.Context, id payout.AssignmentID, paidAt time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE assignments SET is_paid = TRUE, paid_at = $2 WHERE id = $1 AND NOT is_paid`,
		id, paidAt.UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		return payout.ErrAssignmentNotFound
	}
	return payout.ErrAlreadyPaid
}

// =============================================================================
// PAYMENT HISTORY
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, p payout.PaymentHistory) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO payment_history (id, employee_id, amount, paid_at, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5)`,
		p.ID, p.EmployeeID, p.Amount.String(), p.PaidAt.UTC(), p.CreatedAt.UTC())
	return mapError(err)
}

const paymentSelect = `SELECT id, employee_id, amount::text, paid_at, created_at FROM payment_history`

func (s *Store) ListPayments(ctx context.Context, employeeID payout.EmployeeID) ([]payout.PaymentHistory, error) {
	rows, err := s.q.Query(ctx, paymentSelect+` WHERE employee_id = $1 ORDER BY paid_at DESC, created_at DESC, id`, employeeID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []payout.PaymentHistory
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func (s *Store) GetPayment(ctx context.Context, id payout.PaymentID) (payout.PaymentHistory, error) {
	p, err := scanPayment(s.q.QueryRow(ctx, paymentSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return payout.PaymentHistory{}, payout.ErrPaymentNotFound
	}
	return p, mapError(err)
}

func scanPayment(row pgx.Row) (payout.PaymentHistory, error) {
	var (
		p      payout.PaymentHistory
		amount string
	)
	if err := row.Scan(&p.ID, &p.EmployeeID, &amount, &p.PaidAt, &p.CreatedAt); err != nil {
		return p, err
	}
	amt, err := payout.ParseMoney(amount)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment %s: %w", p.ID, err)
	}
	p.Amount = amt
	p.PaidAt = p.PaidAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// =============================================================================
// SEEDER
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e payout.Employee) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO employees (id, vendor_id, name, status_id, status, active,
		                       total_paid, total_remaining, extra_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10)
		ON CONFLICT (id) DO UPDATE SET
			vendor_id = EXCLUDED.vendor_id,
			name = EXCLUDED.name,
			status_id = EXCLUDED.status_id,
			status = EXCLUDED.status,
			active = EXCLUDED.active,
			total_paid = EXCLUDED.total_paid,
			total_remaining = EXCLUDED.total_remaining,
			extra_amount = EXCLUDED.extra_amount`,
		e.ID, e.VendorID, e.Name, e.StatusID, e.Status, e.Active,
		e.Balances.TotalPaid.String(), e.Balances.TotalRemaining.String(), e.Balances.ExtraAmount.String(),
		createdAt)
	return mapError(err)
}

func (s *Store) SaveService(ctx context.Context, svc payout.Service) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO services (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		svc.ID, svc.Name)
	return mapError(err)
}

func (s *Store) SaveRate(ctx context.Context, r payout.ServiceRate) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO service_rates (id, service_id, employee_id, charge) VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (id) DO UPDATE SET
			service_id = EXCLUDED.service_id,
			employee_id = EXCLUDED.employee_id,
			charge = EXCLUDED.charge`,
		r.ID, r.ServiceID, r.EmployeeID, r.Charge.String())
	return mapError(err)
}

func (s *Store) SaveBooking(ctx context.Context, b payout.Booking) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO bookings (id, event_date, event_name, customer_name, location, cancelled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			event_date = EXCLUDED.event_date,
			event_name = EXCLUDED.event_name,
			customer_name = EXCLUDED.customer_name,
			location = EXCLUDED.location,
			cancelled = EXCLUDED.cancelled`,
		b.ID, b.EventDate.UTC(), b.EventName, b.CustomerName, b.Location, b.Cancelled)
	return mapError(err)
}

func (s *Store) SaveAssignment(ctx context.Context, a payout.Assignment) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO assignments (id, employee_id, service_id, booking_id, is_paid, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.EmployeeID, a.ServiceID, a.BookingID, a.IsPaid, a.PaidAt)
	return mapError(err)
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.q.Exec(ctx,
		`TRUNCATE payment_history, assignments, service_rates, bookings, services, employees`)
	return mapError(err)
}

// =============================================================================
// ERRORS
// =============================================================================

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return errors.Join(payout.ErrConcurrentModification, err)
		}
	}
	return err
}

var (
	_ payout.TxStore = (*Store)(nil)
	_ payout.Seeder  = (*Store)(nil)
)

func parseBalances(paid, remaining, extra string) (payout.Balances, error) {
	var (
		b   payout.Balances
		err error
	)
	if b.TotalPaid, err = payout.ParseMoney(paid); err != nil {
		return b, fmt.Errorf("total_paid: %w", err)
	}
	if b.TotalRemaining, err = payout.ParseMoney(remaining); err != nil {
		return b, fmt.Errorf("total_remaining: %w", err)
	}
	if b.ExtraAmount, err = payout.ParseMoney(extra); err != nil {
		return b, fmt.Errorf("extra_amount: %w", err)
	}
	return b, nil
}
