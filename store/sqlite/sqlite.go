/*
Package sqlite provides a SQLite-backed implementation of the payout storage interfaces.

PURPOSE:
  Implements payout.TxStore and payout.Seeder on SQLite. Used for local
  runs, demos and integration-style tests (":memory:"). PostgreSQL is the
  production store (store/postgres); the schema is the same modulo types.

INTERFACES IMPLEMENTED:
  payout.Store:    engine reads and writes
  payout.TxStore:  WithTx
  payout.Seeder:   employees, services, rates, bookings, assignments

KEY TABLES:
  employees:        identity + the three running balances
  services:         service catalogue
  service_rates:    per-service charge, employee_id NULL = default
  bookings:         event date, cancellation flag
  assignments:      employee x service x booking, is_paid one-way flag
  payment_history:  append-only audit of money received

APPEND-ONLY ENFORCEMENT:
  - payment_history has a BEFORE UPDATE trigger that aborts
  - the Store never issues UPDATE or DELETE on it (Reset aside)
  - assignments only move is_paid 0 -> 1 (guarded in the WHERE clause)

MONEY AND TIME:
  Decimals are stored as TEXT and parsed with shopspring/decimal, so no
  value ever passes through float64. Timestamps are fixed-width UTC text
  so string comparison in SQL orders them correctly.

CONCURRENCY:
  The pool is capped at one connection. A transaction holds that
  connection until it ends, which serializes every WithTx call: that is
  the per-employee lock (and more). It also keeps ":memory:" databases
  consistent, since each SQLite connection would otherwise open its own
  empty in-memory database.

USAGE:
  store, err := sqlite.New("./data/payout.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  alloc := payout.NewAllocator(store, logger)

SEE ALSO:
  - payout/store.go: interface definitions
  - payout/store/memory.go: in-memory implementation for unit tests
  - store/postgres: row-locking production implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/payout-engine/payout"
)

// timeLayout is RFC3339 with fixed-width fractional seconds.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all payout storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	q  querier
	// inTx is set on the view handed to WithTx callbacks.
	inTx bool
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		vendor_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		total_paid TEXT NOT NULL DEFAULT '0',
		total_remaining TEXT NOT NULL DEFAULT '0',
		extra_amount TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
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
		charge TEXT NOT NULL CHECK (CAST(charge AS REAL) >= 0)
	);

	CREATE INDEX IF NOT EXISTS idx_service_rates_service ON service_rates(service_id);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		event_date TEXT NOT NULL,
		event_name TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		cancelled INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		booking_id TEXT NOT NULL REFERENCES bookings(id),
		is_paid INTEGER NOT NULL DEFAULT 0,
		paid_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_employee_unpaid
		ON assignments(employee_id, is_paid);

	CREATE TABLE IF NOT EXISTS payment_history (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		amount TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_history_employee
		ON payment_history(employee_id, paid_at);

	CREATE TRIGGER IF NOT EXISTS payment_history_append_only
		BEFORE UPDATE ON payment_history
	BEGIN
		SELECT RAISE(ABORT, 'payment_history is append-only');
	END;
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (payout.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// Calling WithTx on the transaction view joins the running transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payout.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, inTx: true}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

const employeeColumns = `id, vendor_id, name, status_id, status, active,
	total_paid, total_remaining, extra_amount, created_at`

func (s *Store) GetEmployee(ctx context.Context, id payout.EmployeeID) (payout.Employee, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payout.Employee{}, payout.ErrEmployeeNotFound
	}
	return emp, err
}

// LockEmployee reads the employee row. Inside WithTx the single
// connection already excludes every other transaction.
func (s *Store) LockEmployee(ctx context.Context, id payout.EmployeeID) (payout.Employee, error) {
	return s.GetEmployee(ctx, id)
}

func (s *Store) ListVendors(ctx context.Context) ([]payout.VendorID, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT DISTINCT vendor_id FROM employees ORDER BY vendor_id`)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query vendors: %w", err))
	}
	defer rows.Close()

	var out []payout.VendorID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan vendor: %w", err)
		}
		out = append(out, payout.VendorID(id))
	}
	return out, rows.Err()
}

func (s *Store) ListEmployees(ctx context.Context, vendorID payout.VendorID, activeOnly bool) ([]payout.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE vendor_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := s.q.QueryContext(ctx, query, vendorID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query employees: %w", err))
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
	return out, rows.Err()
}

func (s *Store) UpdateBalances(ctx context.Context, id payout.EmployeeID, b payout.Balances) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE employees
		SET total_paid = ?, total_remaining = ?, extra_amount = ?
		WHERE id = ?`,
		b.TotalPaid.String(), b.TotalRemaining.String(), b.ExtraAmount.String(), id)
	if err != nil {
		return mapError(fmt.Errorf("failed to update balances: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payout.ErrEmployeeNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (payout.Employee, error) {
	var (
		emp                    payout.Employee
		active                 int
		paid, remaining, extra string
		createdAt              string
	)
	err := row.Scan(&emp.ID, &emp.VendorID, &emp.Name, &emp.StatusID, &emp.Status, &active,
		&paid, &remaining, &extra, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return emp, err
		}
		return emp, fmt.Errorf("failed to scan employee: %w", err)
	}
	emp.Active = active == 1
	if emp.Balances, err = parseBalances(paid, remaining, extra); err != nil {
		return emp, fmt.Errorf("failed to scan employee %s: %w", emp.ID, err)
	}
	emp.CreatedAt = parseTime(createdAt)
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
	if f.EmployeeID != "" {
		where = append(where, "a.employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.UnpaidOnly {
		where = append(where, "a.is_paid = 0")
	}
	if f.EventOnOrBefore != nil {
		where = append(where, "b.event_date <= ?")
		args = append(args, formatTime(*f.EventOnOrBefore))
	}
	if f.EventBefore != nil {
		where = append(where, "b.event_date < ?")
		args = append(args, formatTime(*f.EventBefore))
	}
	if f.ExcludeCancelled {
		where = append(where, "b.cancelled = 0")
	}

	query := `
		SELECT a.id, a.employee_id, a.service_id, a.booking_id, a.is_paid, a.paid_at,
		       COALESCE(s.name, ''),
		       b.id, b.event_date, b.event_name, b.customer_name, b.location, b.cancelled
		FROM assignments a
		JOIN bookings b ON b.id = a.booking_id
		LEFT JOIN services s ON s.id = a.service_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY b.event_date, a.id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query assignments: %w", err))
	}
	defer rows.Close()

	var out []payout.AssignmentView
	for rows.Next() {
		var (
			v                 payout.AssignmentView
			isPaid, cancelled int
			paidAt            sql.NullString
			eventDate         string
		)
		err := rows.Scan(&v.ID, &v.EmployeeID, &v.ServiceID, &v.BookingID, &isPaid, &paidAt,
			&v.ServiceName,
			&v.Booking.ID, &eventDate, &v.Booking.EventName, &v.Booking.CustomerName,
			&v.Booking.Location, &cancelled)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		v.IsPaid = isPaid == 1
		if paidAt.Valid {
			t := parseTime(paidAt.String)
			v.PaidAt = &t
		}
		v.Booking.EventDate = parseTime(eventDate)
		v.Booking.Cancelled = cancelled == 1
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ServiceRates(ctx context.Context, serviceID payout.ServiceID) ([]payout.ServiceRate, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, service_id, employee_id, charge FROM service_rates WHERE service_id = ? ORDER BY id`,
		serviceID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query service rates: %w", err))
	}
	defer rows.Close()

	var out []payout.ServiceRate
	for rows.Next() {
		var (
			r          payout.ServiceRate
			employeeID sql.NullString
			charge     string
		)
		if err := rows.Scan(&r.ID, &r.ServiceID, &employeeID, &charge); err != nil {
			return nil, fmt.Errorf("failed to scan service rate: %w", err)
		}
		if employeeID.Valid {
			id := payout.EmployeeID(employeeID.String)
			r.EmployeeID = &id
		}
		if r.Charge, err = payout.ParseMoney(charge); err != nil {
			return nil, fmt.Errorf("failed to scan service rate %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkAssignmentPaid flips is_paid. The WHERE clause makes the flip one-way.
func (s *Store) MarkAssignmentPaid(ctx context.Context, id payout.AssignmentID, paidAt time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE assignments SET is_paid = 1, paid_at = ? WHERE id = ? AND is_paid = 0`,
		formatTime(paidAt), id)
	if err != nil {
		return mapError(fmt.Errorf("failed to mark assignment paid: %w", err))
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return mapError(fmt.Errorf("failed to check assignment: %w", err))
	}
	if exists == 0 {
		return payout.ErrAssignmentNotFound
	}
	return payout.ErrAlreadyPaid
}

// =============================================================================
// PAYMENT HISTORY (append-only)
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, p payout.PaymentHistory) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payment_history (id, employee_id, amount, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.EmployeeID, p.Amount.String(), formatTime(p.PaidAt), formatTime(p.CreatedAt))
	if err != nil {
		return mapError(fmt.Errorf("failed to append payment: %w", err))
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, employeeID payout.EmployeeID) ([]payout.PaymentHistory, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, employee_id, amount, paid_at, created_at
		FROM payment_history
		WHERE employee_id = ?
		ORDER BY paid_at DESC, created_at DESC, id`,
		employeeID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query payments: %w", err))
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
	return out, rows.Err()
}

func (s *Store) GetPayment(ctx context.Context, id payout.PaymentID) (payout.PaymentHistory, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, employee_id, amount, paid_at, created_at FROM payment_history WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payout.PaymentHistory{}, payout.ErrPaymentNotFound
	}
	return p, err
}

func scanPayment(row rowScanner) (payout.PaymentHistory, error) {
	var (
		p                         payout.PaymentHistory
		amount, paidAt, createdAt string
	)
	if err := row.Scan(&p.ID, &p.EmployeeID, &amount, &paidAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	amt, err := payout.ParseMoney(amount)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment %s: %w", p.ID, err)
	}
	p.Amount = amt
	p.PaidAt = parseTime(paidAt)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// SEEDER (payout.Seeder interface)
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e payout.Employee) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vendor_id = excluded.vendor_id,
			name = excluded.name,
			status_id = excluded.status_id,
			status = excluded.status,
			active = excluded.active,
			total_paid = excluded.total_paid,
			total_remaining = excluded.total_remaining,
			extra_amount = excluded.extra_amount`,
		e.ID, e.VendorID, e.Name, e.StatusID, e.Status, boolInt(e.Active),
		e.Balances.TotalPaid.String(), e.Balances.TotalRemaining.String(), e.Balances.ExtraAmount.String(),
		formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) SaveService(ctx context.Context, svc payout.Service) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO services (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		svc.ID, svc.Name)
	if err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}
	return nil
}

func (s *Store) SaveRate(ctx context.Context, r payout.ServiceRate) error {
	var employeeID sql.NullString
	if r.EmployeeID != nil {
		employeeID = sql.NullString{String: string(*r.EmployeeID), Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO service_rates (id, service_id, employee_id, charge) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			service_id = excluded.service_id,
			employee_id = excluded.employee_id,
			charge = excluded.charge`,
		r.ID, r.ServiceID, employeeID, r.Charge.String())
	if err != nil {
		return fmt.Errorf("failed to save service rate: %w", err)
	}
	return nil
}

func (s *Store) SaveBooking(ctx context.Context, b payout.Booking) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO bookings (id, event_date, event_name, customer_name, location, cancelled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_date = excluded.event_date,
			event_name = excluded.event_name,
			customer_name = excluded.customer_name,
			location = excluded.location,
			cancelled = excluded.cancelled`,
		b.ID, formatTime(b.EventDate), b.EventName, b.CustomerName, b.Location, boolInt(b.Cancelled))
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

// SaveAssignment creates an assignment. Existing assignments are left
// untouched so a seed can never re-open a settled one.
func (s *Store) SaveAssignment(ctx context.Context, a payout.Assignment) error {
	var paidAt sql.NullString
	if a.PaidAt != nil {
		paidAt = sql.NullString{String: formatTime(*a.PaidAt), Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assignments (id, employee_id, service_id, booking_id, is_paid, paid_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		a.ID, a.EmployeeID, a.ServiceID, a.BookingID, boolInt(a.IsPaid), paidAt)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

// Reset clears all data (for demo/testing).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"payment_history", "assignments", "service_rates", "bookings", "services", "employees"}
	for _, table := range tables {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// mapError turns SQLite lock contention into payout.ErrConcurrentModification
// so callers can classify it as retryable.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
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
