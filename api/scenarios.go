/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built ledgers that reproduce the reference allocation
  cases. Each scenario resets the store, seeds one vendor with services,
  rates, bookings, assignments and an employee, and advertises the
  payment to send next so the outcome can be checked by hand.

AVAILABLE SCENARIOS:
  exact-auto-pay:     one 1000 assignment, pay 1000 auto -> settled, no credit
  overpayment:        one 1000 assignment, pay 1500 auto -> settled, +500 credit
  shortfall-credit:   extra -200, pay 100 with no flags -> extra -100, nothing settled
  strict-fifo:        Jan 1 (500) and Jan 15 (300), pay 500 auto -> only Jan 1
  explicit-overdraft: select an 800 assignment, pay 300 -> settled, extra -500

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Save services and rates (default + employee overrides)
 3. Save the employee with its starting balances
 4. Save bookings and assignments
 5. Client POSTs the scenario's payment to /api/payments

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "strict-fifo"}

NOTE:
	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: payment endpoint
  - payout/store.go: Seeder
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/payout-engine/payout"
)

// DemoVendor is the vendor every scenario seeds.
const DemoVendor payout.VendorID = "vendor-demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// seedPlan is the data a scenario writes, in insertion order.
type seedPlan struct {
	services    []payout.Service
	rates       []payout.ServiceRate
	employees   []payout.Employee
	bookings    []payout.Booking
	assignments []payout.Assignment
}

type scenario struct {
	ScenarioDTO
	payment PaymentRequest
	plan    func() seedPlan
}

// ScenarioDetailDTO is a scenario plus the payment that demonstrates it.
type ScenarioDetailDTO struct {
	ScenarioDTO
	Vendor  string         `json:"vendorId"`
	Payment PaymentRequest `json:"payment"`
}

var (
	photo = payout.Service{ID: "svc-photo", Name: "Photography"}
	video = payout.Service{ID: "svc-video", Name: "Videography"}
	drone = payout.Service{ID: "svc-drone", Name: "Drone Coverage"}
)

func demoDate(month time.Month, day int) time.Time {
	return time.Date(2025, month, day, 18, 0, 0, 0, time.UTC)
}

func demoEmployee(id payout.EmployeeID, name string, remaining, extra string) payout.Employee {
	return payout.Employee{
		ID:       id,
		VendorID: DemoVendor,
		Name:     name,
		StatusID: "1",
		Status:   "active",
		Active:   true,
		Balances: payout.Balances{
			TotalPaid:      payout.Zero,
			TotalRemaining: payout.MustParseMoney(remaining),
			ExtraAmount:    payout.MustParseMoney(extra),
		},
		CreatedAt: demoDate(time.January, 1),
	}
}

func defaultRate(svc payout.Service, charge string) payout.ServiceRate {
	return payout.ServiceRate{
		ID:        payout.RateID("rate-" + string(svc.ID)),
		ServiceID: svc.ID,
		Charge:    payout.MustParseMoney(charge),
	}
}

func employeeRate(svc payout.Service, emp payout.EmployeeID, charge string) payout.ServiceRate {
	return payout.ServiceRate{
		ID:         payout.RateID("rate-" + string(svc.ID) + "-" + string(emp)),
		ServiceID:  svc.ID,
		EmployeeID: &emp,
		Charge:     payout.MustParseMoney(charge),
	}
}

// singleAssignment is the one-debt ledger used by the first three scenarios.
func singleAssignment(emp payout.EmployeeID, name, extra string) func() seedPlan {
	return func() seedPlan {
		return seedPlan{
			services:  []payout.Service{photo},
			rates:     []payout.ServiceRate{defaultRate(photo, "1000")},
			employees: []payout.Employee{demoEmployee(emp, name, "1000", extra)},
			bookings: []payout.Booking{
				{ID: "booking-wedding", EventDate: demoDate(time.January, 1), EventName: "Harbor Wedding", CustomerName: "M. Okafor", Location: "Pier 7"},
			},
			assignments: []payout.Assignment{
				{ID: "asg-wedding-photo", EmployeeID: emp, ServiceID: photo.ID, BookingID: "booking-wedding"},
			},
		}
	}
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "exact-auto-pay",
			Name:        "Exact Auto-Pay",
			Description: "One unpaid 1000 assignment paid exactly with auto-pay: settled, no credit left",
		},
		payment: PaymentRequest{EmployeeID: "emp-avery", Amount: payout.MustParseMoney("1000"), AutoPaid: true},
		plan:    singleAssignment("emp-avery", "Avery Chen", "0"),
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "overpayment",
			Name:        "Overpayment",
			Description: "One unpaid 1000 assignment paid 1500 with auto-pay: settled, 500 becomes credit",
		},
		payment: PaymentRequest{EmployeeID: "emp-avery", Amount: payout.MustParseMoney("1500"), AutoPaid: true},
		plan:    singleAssignment("emp-avery", "Avery Chen", "0"),
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "shortfall-credit",
			Name:        "Shortfall Absorbed by Credit",
			Description: "Prior shortfall of 200, plain 100 payment: shortfall shrinks to 100, no assignment touched",
		},
		payment: PaymentRequest{EmployeeID: "emp-blake", Amount: payout.MustParseMoney("100")},
		plan:    singleAssignment("emp-blake", "Blake Rivera", "-200"),
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "strict-fifo",
			Name:        "Strict FIFO",
			Description: "Jan 1 (500) and Jan 15 (300) unpaid, auto-pay 500: only Jan 1 settles",
		},
		payment: PaymentRequest{EmployeeID: "emp-casey", Amount: payout.MustParseMoney("500"), AutoPaid: true},
		plan: func() seedPlan {
			emp := payout.EmployeeID("emp-casey")
			return seedPlan{
				services: []payout.Service{photo, video},
				rates: []payout.ServiceRate{
					defaultRate(photo, "1000"),
					employeeRate(photo, emp, "500"),
					defaultRate(video, "300"),
				},
				employees: []payout.Employee{demoEmployee(emp, "Casey Morgan", "800", "0")},
				bookings: []payout.Booking{
					{ID: "booking-gala", EventDate: demoDate(time.January, 15), EventName: "Winter Gala", CustomerName: "Northwind Ltd", Location: "City Hall"},
					{ID: "booking-launch", EventDate: demoDate(time.January, 1), EventName: "Product Launch", CustomerName: "Acme Corp", Location: "Warehouse 3"},
				},
				assignments: []payout.Assignment{
					{ID: "asg-gala-video", EmployeeID: emp, ServiceID: video.ID, BookingID: "booking-gala"},
					{ID: "asg-launch-photo", EmployeeID: emp, ServiceID: photo.ID, BookingID: "booking-launch"},
				},
			}
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "explicit-overdraft",
			Name:        "Explicit Overdraft",
			Description: "Explicitly settle an 800 assignment with a 300 payment: settled anyway, extra goes to -500",
		},
		payment: PaymentRequest{EmployeeID: "emp-drew", Amount: payout.MustParseMoney("300"), AssignmentIDs: []string{"asg-festival-drone"}},
		plan: func() seedPlan {
			emp := payout.EmployeeID("emp-drew")
			return seedPlan{
				services:  []payout.Service{drone, photo},
				rates:     []payout.ServiceRate{defaultRate(drone, "800"), defaultRate(photo, "1000")},
				employees: []payout.Employee{demoEmployee(emp, "Drew Patel", "1800", "0")},
				bookings: []payout.Booking{
					{ID: "booking-festival", EventDate: demoDate(time.March, 8), EventName: "Spring Festival", CustomerName: "Parks Dept", Location: "Riverside"},
					{ID: "booking-portrait", EventDate: demoDate(time.February, 2), EventName: "Portrait Day", CustomerName: "Lincoln High", Location: "Gym"},
				},
				assignments: []payout.Assignment{
					{ID: "asg-festival-drone", EmployeeID: emp, ServiceID: drone.ID, BookingID: "booking-festival"},
					{ID: "asg-portrait-photo", EmployeeID: emp, ServiceID: photo.ID, BookingID: "booking-portrait"},
				},
			}
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

func (s scenario) detail() ScenarioDetailDTO {
	return ScenarioDetailDTO{ScenarioDTO: s.ScenarioDTO, Vendor: string(DemoVendor), Payment: s.payment}
}

// LoadScenario resets the store and seeds the named scenario.
func LoadScenario(ctx context.Context, seeder payout.Seeder, id string) error {
	sc, ok := findScenario(id)
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}
	if err := seeder.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	return sc.plan().apply(ctx, seeder)
}

func (p seedPlan) apply(ctx context.Context, s payout.Seeder) error {
	for _, svc := range p.services {
		if err := s.SaveService(ctx, svc); err != nil {
			return fmt.Errorf("failed to save service %s: %w", svc.ID, err)
		}
	}
	for _, e := range p.employees {
		if err := s.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("failed to save employee %s: %w", e.ID, err)
		}
	}
	for _, r := range p.rates {
		if err := s.SaveRate(ctx, r); err != nil {
			return fmt.Errorf("failed to save rate %s: %w", r.ID, err)
		}
	}
	for _, b := range p.bookings {
		if err := s.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("failed to save booking %s: %w", b.ID, err)
		}
	}
	for _, a := range p.assignments {
		if err := s.SaveAssignment(ctx, a); err != nil {
			return fmt.Errorf("failed to save assignment %s: %w", a.ID, err)
		}
	}
	return nil
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDetailDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.detail()
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	sc, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, sc.detail())
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		h.writeDomainError(w, "Invalid scenario request", err)
		return
	}

	sc, ok := findScenario(req.ScenarioID)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Unknown scenario", Code: "NOT_FOUND", Details: req.ScenarioID})
		return
	}

	// Loading is not concurrent-safe against itself.
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := LoadScenario(r.Context(), h.Seeder, sc.ID); err != nil {
		h.writeDomainError(w, "Failed to load scenario", err)
		return
	}
	h.currentScenario = sc.ID
	h.Logger.Info("scenario loaded", "scenario", sc.ID)

	writeJSON(w, http.StatusOK, sc.detail())
}
