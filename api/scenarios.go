/*
scenarios.go - Demo data sets for training sessions and manual testing

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	VSLA data: staff accounts, an enrolled group with officers and members,
	a few meetings worth of savings, and loans at different stages.

AVAILABLE SCENARIOS:

	new-group:      Freshly enrolled group, members registered, no money yet
	active-cycle:   Four meetings of savings and social fund, one loan being repaid
	arrears-watch:  Group on the fallback rate with a loan behind schedule

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create staff users
 3. Create group and members
 4. Record contributions through the ledger
 5. Submit, disburse and repay loans through the loan service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "active-cycle"}

NOTE:

	Scenarios reset the database. The routes are only mounted when the
	server runs with dev login enabled.

SEE ALSO:
  - server.go: Route mounting
  - loans/service.go: Submit, Disburse, RecordRepayment
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/ledger"
	"github.com/warp/vsla-engine/loans"
	"github.com/warp/vsla-engine/registry"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-group",
		Name:        "New Group",
		Description: "Group enrolled by a field attendant with officers and members, no transactions",
	},
	{
		ID:          "active-cycle",
		Name:        "Active Cycle",
		Description: "Four weekly meetings of share purchases and social fund, one loan disbursed and part repaid",
	},
	{
		ID:          "arrears-watch",
		Name:        "Arrears Watch",
		Description: "Group without its own rate (fallback applies) and a loan three months behind",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "new-group":
		load = h.loadNewGroupScenario
	case "active-cycle":
		load = h.loadActiveCycleScenario
	case "arrears-watch":
		load = h.loadArrearsWatchScenario
	default:
		badRequest(w, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeDomainError(w, h.Log, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeDomainError(w, h.Log, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Log.Warn().Str("scenario", req.ScenarioID).Msg("database reset and demo scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewGroupScenario(ctx context.Context) error {
	if err := h.seedStaff(ctx); err != nil {
		return err
	}
	return h.seedGroup(ctx, registry.Group{
		ID:              "g-tusubira",
		Name:            "Tusubira Women's Group",
		Location:        "Mukono",
		Currency:        "UGX",
		LoanRatePercent: decimal.NewNullDecimal(decimal.NewFromInt(24)),
		ShareValue:      decimal.NewFromInt(2000),
		MeetingDay:      "tuesday",
		FieldOfficerID:  "staff-monitor",
		EnrolledBy:      "staff-attendant",
	})
}

func (h *Handler) loadActiveCycleScenario(ctx context.Context) error {
	if err := h.loadNewGroupScenario(ctx); err != nil {
		return err
	}
	const groupID = "g-tusubira"
	now := h.Now().UTC()

	members, err := h.Store.ListMembers(ctx, groupID)
	if err != nil {
		return err
	}

	// Four weekly meetings. Each member buys between one and five shares.
	var txs []ledger.Transaction
	for week := 4; week >= 1; week-- {
		meeting := now.AddDate(0, 0, -7*week)
		for i, m := range members {
			shares := int64(1 + (i+week)%5)
			txs = append(txs,
				ledger.Transaction{
					GroupID: groupID, MemberID: m.ID, Type: ledger.TxSavings,
					Amount:         ledger.NewMoney(decimal.NewFromInt(2000*shares), "UGX"),
					EffectiveAt:    meeting,
					IdempotencyKey: fmt.Sprintf("demo-savings-%s-w%d", m.ID, week),
					RecordedBy:     "m-secretary",
				},
				ledger.Transaction{
					GroupID: groupID, MemberID: m.ID, Type: ledger.TxSocialFund,
					Amount:         ledger.NewMoney(decimal.NewFromInt(500), "UGX"),
					EffectiveAt:    meeting,
					IdempotencyKey: fmt.Sprintf("demo-social-%s-w%d", m.ID, week),
					RecordedBy:     "m-secretary",
				},
			)
		}
	}
	txs = append(txs, ledger.Transaction{
		GroupID: groupID, MemberID: "m-nakato", Type: ledger.TxFine,
		Amount:         ledger.NewMoney(decimal.NewFromInt(1000), "UGX"),
		EffectiveAt:    now.AddDate(0, 0, -14),
		Reason:         "late to meeting",
		IdempotencyKey: "demo-fine-nakato",
		RecordedBy:     "m-secretary",
	})
	if _, err := h.Ledger.AppendBatch(ctx, txs); err != nil {
		return err
	}

	loan, err := h.seedLoan(ctx, groupID, "m-nakato", 100000, 6, "stock for market stall")
	if err != nil {
		return err
	}
	_, _, err = h.Loans.RecordRepayment(ctx, loans.RepaymentRequest{
		LoanID:         loan.ID,
		Amount:         loan.MonthlyPayment,
		IdempotencyKey: "demo-repay-nakato-1",
		RecordedBy:     "m-finance",
	})
	if err != nil {
		return err
	}

	return h.Store.CreateMeeting(ctx, registry.Meeting{
		ID:          "meet-next",
		GroupID:     groupID,
		ScheduledAt: now.AddDate(0, 0, 7),
		Location:    "Mukono parish hall",
		Agenda:      "share purchase, loan applications",
		ScheduledBy: "m-chair",
	})
}

func (h *Handler) loadArrearsWatchScenario(ctx context.Context) error {
	if err := h.seedStaff(ctx); err != nil {
		return err
	}
	const groupID = "g-amani"
	err := h.seedGroup(ctx, registry.Group{
		ID:             "g-amani",
		Name:           "Amani Savings Circle",
		Location:       "Kisumu",
		Currency:       "KES",
		ShareValue:     decimal.NewFromInt(100),
		MeetingDay:     "friday",
		FieldOfficerID: "staff-monitor",
		EnrolledBy:     "staff-monitor",
	})
	if err != nil {
		return err
	}

	now := h.Now().UTC()
	if _, err := h.Ledger.Append(ctx, ledger.Transaction{
		GroupID: groupID, MemberID: "m-chair", Type: ledger.TxSavings,
		Amount:         ledger.NewMoney(decimal.NewFromInt(50000), "KES"),
		EffectiveAt:    now.AddDate(0, -4, 0),
		IdempotencyKey: "demo-savings-seed",
		RecordedBy:     "m-secretary",
	}); err != nil {
		return err
	}

	loan, err := h.seedLoan(ctx, groupID, "m-nakato", 30000, 6, "school fees")
	if err != nil {
		return err
	}
	// Backdate the payout so three instalments have fallen due.
	disbursed := now.AddDate(0, -3, -1)
	loan.DisbursedAt = &disbursed
	if err := h.Loans.Loans.UpdateLoan(ctx, *loan); err != nil {
		return err
	}
	_, err = h.Loans.SweepArrears(ctx, now)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedStaff(ctx context.Context) error {
	users := []registry.StaffUser{
		{ID: "staff-admin", Name: "Programme Admin", Email: "admin@vsla.example", Role: access.RoleAdmin, Active: true},
		{ID: "staff-monitor", Name: "Okello James", Email: "okello@vsla.example", Role: access.RoleFieldMonitor, Active: true},
		{ID: "staff-attendant", Name: "Akinyi Grace", Email: "akinyi@vsla.example", Role: access.RoleFieldAttendant, Active: true},
	}
	for _, u := range users {
		if err := h.Store.CreateStaffUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// seedGroup creates g with three officers and three ordinary members.
func (h *Handler) seedGroup(ctx context.Context, g registry.Group) error {
	if err := h.Store.CreateGroup(ctx, g); err != nil {
		return err
	}
	members := []registry.Member{
		{ID: "m-chair", Name: "Namuli Sarah", Role: access.RoleChairman},
		{ID: "m-secretary", Name: "Ssempa David", Role: access.RoleSecretary},
		{ID: "m-finance", Name: "Achieng Mary", Role: access.RoleFinance},
		{ID: "m-nakato", Name: "Nakato Joy", Role: access.RoleMember},
		{ID: "m-wanjiru", Name: "Wanjiru Ann", Role: access.RoleMember},
		{ID: "m-otieno", Name: "Otieno Paul", Role: access.RoleMember},
	}
	joined := h.Now().UTC().AddDate(0, -6, 0)
	for _, m := range members {
		m.GroupID = g.ID
		m.JoinedAt = joined
		if err := h.Store.CreateMember(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// seedLoan submits, approves if needed and disburses a loan.
func (h *Handler) seedLoan(ctx context.Context, groupID, memberID string, principal int64, months int, purpose string) (*loans.Loan, error) {
	loan, err := h.Loans.Submit(ctx, loans.SubmitRequest{
		GroupID:     groupID,
		MemberID:    memberID,
		Principal:   decimal.NewFromInt(principal),
		TermMonths:  months,
		Purpose:     purpose,
		RequestedBy: "m-secretary",
	})
	if err != nil {
		return nil, err
	}
	if loan.Status == loans.StatusPending {
		if loan, err = h.Loans.Approve(ctx, loan.ID, "m-chair"); err != nil {
			return nil, err
		}
	}
	return h.Loans.Disburse(ctx, loan.ID, "m-finance")
}
