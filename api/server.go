/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers and every route
  to the action it needs in the access matrix.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zerolog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus counters and latency histogram
  5. CORS:       Cross-origin requests for the field app

ROUTE GROUPS:
  /healthz                 Liveness, pings the database
  /metrics                 Prometheus scrape endpoint
  /api/auth/dev-login      Token minting (dev only)
  /api/groups/*            Groups, members, ledger, loans, meetings
  /api/loans/*             Loan lifecycle
  /api/transactions/*      Reversal
  /api/calculator          Schedule preview (rate limited)
  /api/users               Staff management
  /api/reports/*           Portfolio reporting
  /api/admin/arrears       Arrears sweep status and trigger
  /api/scenarios/*         Demo scenarios (dev only)

AUTHORIZATION:
  Everything under /api except dev-login runs behind Authenticate. Each
  route then names the single action it requires; group scope is checked
  inside the handlers.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticate and Require
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/session"
)

// RouterOptions carries the pieces of the router that depend on deployment.
type RouterOptions struct {
	Verifier       session.Verifier
	AllowedOrigins []string

	// CalcLimiter throttles the loan calculator. Nil disables throttling.
	CalcLimiter *RateLimiter
	// Scheduler exposes the arrears sweep under /api/admin. Nil hides it.
	Scheduler *ArrearsScheduler
	// DevRoutes mounts dev-login and the demo scenarios.
	DevRoutes bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(Metrics())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	can := func(a access.Action) func(http.Handler) http.Handler {
		return Require(h.Matrix, a, h.Log)
	}

	r.Route("/api", func(r chi.Router) {
		if opts.DevRoutes {
			r.Post("/auth/dev-login", h.DevLogin)
		}

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(opts.Verifier, h.Log))

			r.Get("/me", h.Me)
			r.Get("/navigation", h.Navigation)

			// Group routes
			r.Route("/groups", func(r chi.Router) {
				r.With(can(access.ActionViewGroups)).Get("/", h.ListGroups)
				r.With(can(access.ActionEnrollGroup)).Post("/", h.CreateGroup)

				r.Route("/{groupID}", func(r chi.Router) {
					r.With(can(access.ActionViewGroups)).Get("/", h.GetGroup)
					r.With(can(access.ActionViewTransactions)).Get("/balance", h.GetGroupBalance)

					r.With(can(access.ActionViewMembers)).Get("/members", h.ListMembers)
					r.With(can(access.ActionEditMembers)).Post("/members", h.CreateMember)
					r.With(can(access.ActionViewMembers)).Get("/members/{memberID}", h.GetMember)
					r.With(can(access.ActionViewTransactions)).Get("/members/{memberID}/balance", h.GetMemberBalance)

					r.With(can(access.ActionSubmitSavings)).Post("/savings", h.RecordSavings)
					r.With(can(access.ActionSubmitSavings)).Post("/fines", h.RecordFine)
					r.With(can(access.ActionSubmitSavings)).Post("/social-fund", h.RecordSocialFund)
					r.With(can(access.ActionApproveLoan)).Post("/withdrawals", h.RecordWithdrawal)

					r.With(can(access.ActionViewTransactions)).Get("/transactions", h.ListTransactions)
					r.With(can(access.ActionSubmitSavings)).Post("/transactions/replay", h.ReplayTransactions)

					r.With(can(access.ActionViewLoans)).Get("/loans", h.ListLoans)
					r.With(can(access.ActionSubmitLoan)).Post("/loans", h.SubmitLoan)

					r.With(can(access.ActionViewMeetings)).Get("/meetings", h.ListMeetings)
					r.With(can(access.ActionScheduleMeeting)).Post("/meetings", h.ScheduleMeeting)
				})
			})

			// Loan routes
			r.Route("/loans/{loanID}", func(r chi.Router) {
				r.With(can(access.ActionViewLoans)).Get("/", h.GetLoan)
				r.With(can(access.ActionViewLoans)).Get("/schedule", h.GetLoanSchedule)
				r.With(can(access.ActionApproveLoan)).Post("/approve", h.ApproveLoan)
				r.With(can(access.ActionApproveLoan)).Post("/reject", h.RejectLoan)
				r.With(can(access.ActionApproveLoan)).Post("/disburse", h.DisburseLoan)
				r.With(can(access.ActionSubmitLoanPayment)).Post("/repayments", h.RepayLoan)
			})

			r.With(can(access.ActionReverseTx)).Post("/transactions/{txID}/reverse", h.ReverseTransaction)

			// Calculator
			calc := r.With(can(access.ActionLoanCalculator))
			if opts.CalcLimiter != nil {
				calc = calc.With(opts.CalcLimiter.Limit)
			}
			calc.Post("/calculator", h.Calculate)

			r.With(can(access.ActionViewReports)).Get("/reports/portfolio", h.PortfolioReport)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(can(access.ActionManageUsers))

				r.Get("/users", h.ListStaffUsers)
				r.Post("/users", h.CreateStaffUser)

				if opts.Scheduler != nil {
					r.Get("/admin/arrears", opts.Scheduler.Status)
					r.Post("/admin/arrears/run", opts.Scheduler.Trigger)
				}

				if opts.DevRoutes {
					r.Route("/scenarios", func(r chi.Router) {
						r.Get("/", h.ListScenarios)
						r.Get("/current", h.GetCurrentScenario)
						r.Post("/load", h.LoadScenario)
					})
				}
			})
		})
	})

	return r
}

// Health reports whether the database is reachable.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Log.Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
