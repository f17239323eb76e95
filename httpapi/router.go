package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"jobflow/auth"
)

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(log *logrus.Logger, h *Handlers, authMW *Auth, rateLimit *RateLimit) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recovery(log))

	r.Get("/api/v1/health", h.Health)
	r.Post("/api/v1/auth/register", h.Register)
	r.Post("/api/v1/auth/login", h.Login)
	r.Post("/api/v1/webhooks/payment", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(authMW.Authenticate)
		r.Use(rateLimit.Limit)

		r.Post("/api/v1/jobs", h.PostJob)
		r.Get("/api/v1/jobs/{jobID}", h.GetJob)
		r.Post("/api/v1/jobs/{jobID}/access", h.PurchaseAccess)
		r.Post("/api/v1/jobs/{jobID}/assign", h.AssignContractor)
		r.Post("/api/v1/jobs/{jobID}/final-price", h.ProposeFinalPrice)
		r.Post("/api/v1/jobs/{jobID}/confirm", h.ConfirmFinalPrice)
		r.Post("/api/v1/jobs/{jobID}/cancel", h.CancelJob)

		r.Post("/api/v1/jobs/{jobID}/disputes", h.OpenDispute)
		r.Get("/api/v1/jobs/{jobID}/disputes", h.ListJobDisputes)
		r.Get("/api/v1/disputes/{disputeID}", h.GetDispute)
		r.Post("/api/v1/disputes/{disputeID}/responses", h.RespondToDispute)
		r.Get("/api/v1/disputes/{disputeID}/responses", h.ListDisputeResponses)

		r.Get("/api/v1/credits/balance", h.CreditBalance)
		r.Get("/api/v1/credits/history", h.CreditHistory)
		r.Post("/api/v1/credits/purchase", h.PurchaseCredits)

		r.Get("/api/v1/commissions", h.ListCommissions)
		r.Get("/api/v1/subscription", h.GetSubscription)
		r.Get("/api/v1/notifications", h.ListNotifications)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(authMW.RequireRole(auth.RoleAdmin))

			r.Post("/api/v1/admin/disputes/{disputeID}/resolve", h.ResolveDispute)
			r.Post("/api/v1/admin/disputes/{disputeID}/close", h.CloseDispute)
			r.Post("/api/v1/admin/contractors/{contractorID}/approve", h.ApproveContractor)
			r.Post("/api/v1/admin/contractors/{contractorID}/suspend", h.SuspendContractor)
		})
	})

	return r
}
