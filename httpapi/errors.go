package httpapi

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"jobflow/auth"
	"jobflow/commission"
	"jobflow/contractor"
	"jobflow/dispute"
	"jobflow/job"
	"jobflow/ledger"
	"jobflow/payment"
)

// respondServiceError translates domain sentinel errors to HTTP statuses.
// Unknown errors surface as 500 with the request id so the client report can
// be matched to the server log.
func respondServiceError(w http.ResponseWriter, r *http.Request, log *logrus.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)

	case errors.Is(err, job.ErrForbidden):
		respondError(w, http.StatusForbidden, "FORBIDDEN", "You are not allowed to perform this action", nil)

	case errors.Is(err, job.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, commission.ErrNotFound),
		errors.Is(err, contractor.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, payment.ErrSubscriptionNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "The requested resource does not exist", nil)

	case errors.Is(err, ledger.ErrInsufficientCredits):
		respondError(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "Not enough credits for this purchase", nil)

	case errors.Is(err, payment.ErrUnpaidCharge):
		respondError(w, http.StatusPaymentRequired, "PAYMENT_NOT_SETTLED", "The payment has not settled", nil)

	case errors.Is(err, payment.ErrGatewayUnavailable):
		respondError(w, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "Direct credit purchases are not available", nil)

	case errors.Is(err, job.ErrInvalidState),
		errors.Is(err, dispute.ErrInvalidState):
		respondError(w, http.StatusConflict, "INVALID_STATE", "The resource is not in a state that allows this operation", nil)

	case errors.Is(err, job.ErrCapacityReached):
		respondError(w, http.StatusConflict, "CAPACITY_REACHED", "The job already has its maximum number of contractors", nil)

	case errors.Is(err, job.ErrAccessExists):
		respondError(w, http.StatusConflict, "ACCESS_EXISTS", "Access to this job was already purchased", nil)

	case errors.Is(err, dispute.ErrDuplicate):
		respondError(w, http.StatusConflict, "DISPUTE_EXISTS", "The job already has an open dispute", nil)

	case errors.Is(err, commission.ErrAlreadySettled):
		respondError(w, http.StatusConflict, "ALREADY_SETTLED", "The commission payment was already settled", nil)

	case errors.Is(err, auth.ErrDuplicateEmail):
		respondError(w, http.StatusConflict, "EMAIL_EXISTS", "The email address is already registered", nil)

	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, ledger.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)

	default:
		requestID := requestIDFrom(r)
		log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred",
			map[string]string{"request_id": requestID})
	}
}
