package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"jobflow/commission"
	"jobflow/db"
	"jobflow/ledger"
)

var (
	// ErrUnpaidCharge signals the gateway reports the charge as not settled.
	ErrUnpaidCharge = errors.New("payment: charge not settled")
	// ErrUnknownEvent signals a webhook type the service does not handle.
	ErrUnknownEvent = errors.New("payment: unknown event type")
	// ErrGatewayUnavailable signals direct purchases are disabled because no
	// gateway is configured.
	ErrGatewayUnavailable = errors.New("payment: gateway not configured")
)

// Repo defines the data access required by the service.
type Repo interface {
	ClaimEventTx(ctx context.Context, tx pgx.Tx, key string) (bool, error)
	UpsertSubscriptionTx(ctx context.Context, tx pgx.Tx, sub Subscription) (Subscription, error)
	CancelSubscriptionTx(ctx context.Context, tx pgx.Tx, externalRef string) error
	GetSubscription(ctx context.Context, contractorID string) (Subscription, error)
	ActiveSubscriptions(ctx context.Context) ([]Subscription, error)
}

// CreditWriter adds purchased credits inside the webhook transaction.
type CreditWriter interface {
	CreditTx(ctx context.Context, tx pgx.Tx, params ledger.CreditParams) (ledger.Transaction, error)
}

// CommissionSettler settles the obligation inside the webhook transaction.
type CommissionSettler interface {
	MarkPaidTx(ctx context.Context, tx pgx.Tx, id, externalRef string) (commission.Payment, error)
}

// OutboxWriter enqueues a message in the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service applies gateway callbacks to the ledger, the commission book, and
// the subscription table. Every webhook claims its event id first, in the
// same transaction as its effects, so a redelivered event is a no-op.
type Service struct {
	pool        db.TxBeginner
	repo        Repo
	credits     CreditWriter
	commissions CommissionSettler
	outbox      OutboxWriter
	gateway     Gateway
	log         *logrus.Logger
}

func NewService(pool db.TxBeginner, repo Repo, credits CreditWriter, commissions CommissionSettler,
	outbox OutboxWriter, gateway Gateway, log *logrus.Logger) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		credits:     credits,
		commissions: commissions,
		outbox:      outbox,
		gateway:     gateway,
		log:         log,
	}
}

// HandleWebhook processes one gateway event exactly once.
func (s *Service) HandleWebhook(ctx context.Context, evt WebhookEvent) error {
	if evt.ID == "" {
		return fmt.Errorf("payment: webhook event without id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payment: begin webhook: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := s.repo.ClaimEventTx(ctx, tx, evt.ID)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.WithFields(logrus.Fields{
			"event_id": evt.ID,
			"type":     evt.Type,
		}).Info("duplicate webhook ignored")
		return nil
	}

	if err := s.apply(ctx, tx, evt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payment: commit webhook: %w", err)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, tx pgx.Tx, evt WebhookEvent) error {
	switch evt.Type {
	case EventPaymentSucceeded:
		return s.applyPaymentSucceeded(ctx, tx, evt)

	case EventPaymentFailed:
		s.log.WithFields(logrus.Fields{
			"event_id": evt.ID,
			"ref":      evt.Ref,
			"purpose":  evt.Purpose,
		}).Warn("payment failed")
		if s.outbox != nil && evt.ContractorID != "" {
			return s.outbox.Enqueue(ctx, tx, "payment.failed", map[string]any{
				"ref": evt.Ref,
				"recipients": []map[string]any{{
					"user_id": evt.ContractorID,
					"title":   "Payment failed",
					"message": "Your payment did not go through. Please try again or use another method.",
				}},
			})
		}
		return nil

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		_, err := s.repo.UpsertSubscriptionTx(ctx, tx, Subscription{
			ContractorID:      evt.ContractorID,
			ExternalRef:       evt.Ref,
			Tier:              evt.Tier,
			WeeklyCreditLimit: evt.WeeklyCreditLimit,
			Status:            SubscriptionActive,
		})
		return err

	case EventSubscriptionDeleted:
		err := s.repo.CancelSubscriptionTx(ctx, tx, evt.Ref)
		if errors.Is(err, ErrSubscriptionNotFound) {
			// cancellation for a subscription this system never saw
			s.log.WithField("ref", evt.Ref).Warn("cancellation for unknown subscription")
			return nil
		}
		return err

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Type)
	}
}

func (s *Service) applyPaymentSucceeded(ctx context.Context, tx pgx.Tx, evt WebhookEvent) error {
	switch evt.Purpose {
	case PurposeCreditTopup:
		_, err := s.credits.CreditTx(ctx, tx, ledger.CreditParams{
			ContractorID: evt.ContractorID,
			Amount:       evt.Amount,
			Kind:         ledger.KindAddition,
		})
		return err

	case PurposeCommission:
		_, err := s.commissions.MarkPaidTx(ctx, tx, evt.CommissionID, evt.Ref)
		if errors.Is(err, commission.ErrAlreadySettled) {
			// gateway retried an already-booked payment under a new event id
			s.log.WithField("commission_id", evt.CommissionID).Info("commission already settled")
			return nil
		}
		return err

	default:
		return fmt.Errorf("payment: unknown payment purpose %q", evt.Purpose)
	}
}

// PurchaseCredits verifies a checkout reference against the gateway and
// credits the contractor. Verification runs before the transaction opens.
func (s *Service) PurchaseCredits(ctx context.Context, contractorID, ref string) (ledger.Transaction, error) {
	if contractorID == "" || ref == "" {
		return ledger.Transaction{}, fmt.Errorf("payment: missing contractor or payment reference")
	}
	if s.gateway == nil {
		return ledger.Transaction{}, ErrGatewayUnavailable
	}

	charge, err := s.gateway.VerifyPayment(ctx, ref)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("payment: verify %s: %w", ref, err)
	}
	if !charge.Paid {
		return ledger.Transaction{}, ErrUnpaidCharge
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("payment: begin purchase: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := s.repo.ClaimEventTx(ctx, tx, "purchase:"+ref)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !claimed {
		return ledger.Transaction{}, fmt.Errorf("payment: reference %s already redeemed", ref)
	}

	entry, err := s.credits.CreditTx(ctx, tx, ledger.CreditParams{
		ContractorID: contractorID,
		Amount:       charge.Amount,
		Kind:         ledger.KindAddition,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Transaction{}, fmt.Errorf("payment: commit purchase: %w", err)
	}
	return entry, nil
}

// Subscription returns a contractor's subscription.
func (s *Service) Subscription(ctx context.Context, contractorID string) (Subscription, error) {
	return s.repo.GetSubscription(ctx, contractorID)
}
