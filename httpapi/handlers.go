package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"jobflow/auth"
	"jobflow/commission"
	"jobflow/contractor"
	"jobflow/dispute"
	"jobflow/job"
	"jobflow/ledger"
	"jobflow/notify"
	"jobflow/payment"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	log           *logrus.Logger
	validate      *validator.Validate
	auth          *auth.Service
	jobs          *job.Service
	disputes      *dispute.Engine
	credits       *ledger.Service
	commissions   *commission.Service
	payments      *payment.Service
	contractors   *contractor.Service
	notifications *notify.Repository
}

func NewHandlers(log *logrus.Logger, authSvc *auth.Service, jobs *job.Service, disputes *dispute.Engine,
	credits *ledger.Service, commissions *commission.Service, payments *payment.Service,
	contractors *contractor.Service, notifications *notify.Repository) *Handlers {
	return &Handlers{
		log:           log,
		validate:      validator.New(),
		auth:          authSvc,
		jobs:          jobs,
		disputes:      disputes,
		credits:       credits,
		commissions:   commissions,
		payments:      payments,
		contractors:   contractors,
		notifications: notifications,
	}
}

// decode parses and validates the JSON body into dst.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Request failed validation", err.Error())
		return false
	}
	return true
}

// --- auth ---

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
		FullName string `json:"full_name" validate:"required"`
		Role     string `json:"role" validate:"omitempty,oneof=customer contractor"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.auth.Register(r.Context(), auth.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     auth.Role(req.Role),
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondCreated(w, map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
	})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), auth.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":        result.User.ID,
			"email":     result.User.Email,
			"full_name": result.User.FullName,
			"role":      result.User.Role,
		},
	})
}

// --- jobs ---

func (h *Handlers) PostJob(w http.ResponseWriter, r *http.Request) {
	customerID, _ := UserID(r)
	var req struct {
		Title          string `json:"title" validate:"required"`
		Description    string `json:"description"`
		LeadPrice      int64  `json:"lead_price" validate:"required,gt=0"`
		Budget         *int64 `json:"budget" validate:"omitempty,gt=0"`
		MaxContractors int    `json:"max_contractors" validate:"omitempty,gt=0"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.jobs.Post(r.Context(), job.PostParams{
		CustomerID:     customerID,
		Title:          req.Title,
		Description:    req.Description,
		LeadPrice:      req.LeadPrice,
		Budget:         req.Budget,
		MaxContractors: req.MaxContractors,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondCreated(w, created)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, j)
}

func (h *Handlers) PurchaseAccess(w http.ResponseWriter, r *http.Request) {
	contractorID, _ := UserID(r)
	var req struct {
		UseCredits bool   `json:"use_credits"`
		PaymentRef string `json:"payment_ref"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	access, err := h.jobs.PurchaseAccess(r.Context(), job.PurchaseAccessParams{
		JobID:        chi.URLParam(r, "jobID"),
		ContractorID: contractorID,
		UseCredits:   req.UseCredits,
		PaymentRef:   req.PaymentRef,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondCreated(w, access)
}

func (h *Handlers) AssignContractor(w http.ResponseWriter, r *http.Request) {
	customerID, _ := UserID(r)
	var req struct {
		ContractorID string `json:"contractor_id" validate:"required,uuid"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.jobs.AssignContractor(r.Context(), job.AssignParams{
		JobID:        chi.URLParam(r, "jobID"),
		CustomerID:   customerID,
		ContractorID: req.ContractorID,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, updated)
}

func (h *Handlers) ProposeFinalPrice(w http.ResponseWriter, r *http.Request) {
	contractorID, _ := UserID(r)
	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.jobs.ProposeFinalPrice(r.Context(), job.ProposeFinalPriceParams{
		JobID:        chi.URLParam(r, "jobID"),
		ContractorID: contractorID,
		Amount:       req.Amount,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, updated)
}

func (h *Handlers) ConfirmFinalPrice(w http.ResponseWriter, r *http.Request) {
	customerID, _ := UserID(r)
	updated, err := h.jobs.ConfirmFinalPrice(r.Context(), job.ConfirmFinalPriceParams{
		JobID: chi.URLParam(r, "jobID"),
		Actor: customerID,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, updated)
}

func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	actorID, _ := UserID(r)
	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.jobs.Cancel(r.Context(), job.CancelParams{
		JobID:   chi.URLParam(r, "jobID"),
		ActorID: actorID,
		Reason:  req.Reason,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, updated)
}

// --- disputes ---

func (h *Handlers) OpenDispute(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r)
	role, _ := UserRole(r)
	var req struct {
		Type        string   `json:"type" validate:"omitempty,oneof=quality payment no_show other"`
		Priority    string   `json:"priority" validate:"omitempty,oneof=low normal high"`
		Description string   `json:"description" validate:"required"`
		Evidence    []string `json:"evidence"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.disputes.Open(r.Context(), dispute.OpenParams{
		JobID:       chi.URLParam(r, "jobID"),
		RaisedBy:    userID,
		RaiserRole:  dispute.Role(role),
		Type:        dispute.Type(req.Type),
		Priority:    dispute.Priority(req.Priority),
		Description: req.Description,
		Evidence:    req.Evidence,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondCreated(w, rec)
}

func (h *Handlers) ListJobDisputes(w http.ResponseWriter, r *http.Request) {
	recs, err := h.disputes.ListByJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, recs)
}

func (h *Handlers) GetDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := h.disputes.Get(r.Context(), chi.URLParam(r, "disputeID"))
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, rec)
}

func (h *Handlers) RespondToDispute(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r)
	role, _ := UserRole(r)
	var req struct {
		Message    string `json:"message" validate:"required"`
		IsInternal bool   `json:"is_internal"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	// only admins may write internal notes
	if req.IsInternal && role != auth.RoleAdmin {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "Internal notes are admin-only", nil)
		return
	}

	resp, err := h.disputes.Respond(r.Context(), dispute.RespondParams{
		DisputeID:  chi.URLParam(r, "disputeID"),
		AuthorID:   userID,
		Message:    req.Message,
		IsInternal: req.IsInternal,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondCreated(w, resp)
}

func (h *Handlers) ListDisputeResponses(w http.ResponseWriter, r *http.Request) {
	role, _ := UserRole(r)
	resps, err := h.disputes.Responses(r.Context(), chi.URLParam(r, "disputeID"), role == auth.RoleAdmin)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, resps)
}

func (h *Handlers) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	adminID, _ := UserID(r)
	var req struct {
		Resolution       string `json:"resolution" validate:"required,oneof=favor_customer favor_contractor partial_refund no_action"`
		Notes            string `json:"notes"`
		RefundCredits    bool   `json:"refund_credits"`
		CreditAmount     int64  `json:"credit_amount" validate:"omitempty,gt=0"`
		AdjustCommission bool   `json:"adjust_commission"`
		CommissionAmount int64  `json:"commission_amount" validate:"omitempty,gte=0"`
		CompleteJob      bool   `json:"complete_job"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.disputes.Resolve(r.Context(), dispute.ResolveRequest{
		DisputeID:        chi.URLParam(r, "disputeID"),
		AdminID:          adminID,
		Resolution:       dispute.Resolution(req.Resolution),
		Notes:            req.Notes,
		RefundCredits:    req.RefundCredits,
		CreditAmount:     req.CreditAmount,
		AdjustCommission: req.AdjustCommission,
		CommissionAmount: req.CommissionAmount,
		CompleteJob:      req.CompleteJob,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, rec)
}

func (h *Handlers) CloseDispute(w http.ResponseWriter, r *http.Request) {
	adminID, _ := UserID(r)
	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.disputes.Close(r.Context(), dispute.CloseParams{
		DisputeID: chi.URLParam(r, "disputeID"),
		AdminID:   adminID,
		Reason:    req.Reason,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, rec)
}

// --- credits ---

func (h *Handlers) CreditBalance(w http.ResponseWriter, r *http.Request) {
	contractorID, _ := UserID(r)
	balance, err := h.credits.Balance(r.Context(), contractorID)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, map[string]int64{"balance": balance})
}

func (h *Handlers) CreditHistory(w http.ResponseWriter, r *http.Request) {
	contractorID, _ := UserID(r)
	history, err := h.credits.History(r.Context(), contractorID, 100)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, history)
}

func (h *Handlers) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	contractorID, _ := UserID(r)
	var req struct {
		PaymentRef string `json:"payment_ref" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.payments.PurchaseCredits(r.Context(), contractorID, req.PaymentRef)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondCreated(w, entry)
}

// --- commissions / subscription / notifications ---

func (h *Handlers) ListCommissions(w http.ResponseWriter, r *http.Request) {
	contractorID, _ := UserID(r)
	payments, err := h.commissions.ListByContractor(r.Context(), contractorID, 100)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, payments)
}

func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	contractorID, _ := UserID(r)
	sub, err := h.payments.Subscription(r.Context(), contractorID)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, sub)
}

func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r)
	items, err := h.notifications.ListByUser(r.Context(), userID, 50)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, items)
}

// --- admin: contractor approval ---

func (h *Handlers) ApproveContractor(w http.ResponseWriter, r *http.Request) {
	adminID, _ := UserID(r)
	var req struct {
		// Verified selects the verify-first path with no KYC deadline.
		Verified bool `json:"verified"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	contractorID := chi.URLParam(r, "contractorID")
	var (
		profile contractor.Profile
		err     error
	)
	if req.Verified {
		profile, err = h.contractors.ApproveVerified(r.Context(), contractorID, adminID)
	} else {
		profile, err = h.contractors.Approve(r.Context(), contractorID, adminID)
	}
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, profile)
}

func (h *Handlers) SuspendContractor(w http.ResponseWriter, r *http.Request) {
	adminID, _ := UserID(r)
	profile, err := h.contractors.Suspend(r.Context(), chi.URLParam(r, "contractorID"), adminID)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, profile)
}

// --- webhooks ---

// PaymentWebhook accepts gateway callbacks. The gateway authenticates with a
// shared signature checked upstream of this handler in production deployments.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID                string `json:"id" validate:"required"`
		Type              string `json:"type" validate:"required"`
		Purpose           string `json:"purpose"`
		Ref               string `json:"ref"`
		Amount            int64  `json:"amount"`
		ContractorID      string `json:"contractor_id"`
		CommissionID      string `json:"commission_id"`
		Tier              string `json:"tier"`
		WeeklyCreditLimit int64  `json:"weekly_credit_limit"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	err := h.payments.HandleWebhook(r.Context(), payment.WebhookEvent{
		ID:                req.ID,
		Type:              req.Type,
		Purpose:           req.Purpose,
		Ref:               req.Ref,
		Amount:            req.Amount,
		ContractorID:      req.ContractorID,
		CommissionID:      req.CommissionID,
		Tier:              req.Tier,
		WeeklyCreditLimit: req.WeeklyCreditLimit,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}
