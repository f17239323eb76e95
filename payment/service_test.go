package payment

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"jobflow/commission"
	"jobflow/ledger"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newService(repo *fakeRepo, credits *fakeCredits, settler *fakeSettler, gateway Gateway) (*Service, *fakePool) {
	pool := &fakePool{}
	return NewService(pool, repo, credits, settler, nil, gateway, quietLogger()), pool
}

func TestHandleWebhook_CreditTopup(t *testing.T) {
	repo := newFakeRepo()
	credits := &fakeCredits{}
	svc, pool := newService(repo, credits, &fakeSettler{}, nil)

	err := svc.HandleWebhook(context.Background(), WebhookEvent{
		ID:           "evt-1",
		Type:         EventPaymentSucceeded,
		Purpose:      PurposeCreditTopup,
		ContractorID: "contractor-1",
		Amount:       50,
	})
	if err != nil {
		t.Fatalf("webhook: unexpected error: %v", err)
	}
	if len(credits.entries) != 1 || credits.entries[0].Amount != 50 || credits.entries[0].Kind != ledger.KindAddition {
		t.Fatalf("unexpected credit entries %+v", credits.entries)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestHandleWebhook_DuplicateEventIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	credits := &fakeCredits{}
	svc, _ := newService(repo, credits, &fakeSettler{}, nil)
	ctx := context.Background()

	evt := WebhookEvent{
		ID:           "evt-1",
		Type:         EventPaymentSucceeded,
		Purpose:      PurposeCreditTopup,
		ContractorID: "contractor-1",
		Amount:       50,
	}
	if err := svc.HandleWebhook(ctx, evt); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleWebhook(ctx, evt); err != nil {
		t.Fatalf("redelivery: expected nil error, got %v", err)
	}
	if len(credits.entries) != 1 {
		t.Fatalf("expected the credit applied once, got %d entries", len(credits.entries))
	}
}

func TestHandleWebhook_CommissionAlreadySettled(t *testing.T) {
	repo := newFakeRepo()
	settler := &fakeSettler{err: commission.ErrAlreadySettled}
	svc, pool := newService(repo, &fakeCredits{}, settler, nil)

	err := svc.HandleWebhook(context.Background(), WebhookEvent{
		ID:           "evt-1",
		Type:         EventPaymentSucceeded,
		Purpose:      PurposeCommission,
		CommissionID: "payment-1",
		Ref:          "charge-1",
	})
	if err != nil {
		t.Fatalf("expected duplicate settlement to be absorbed, got %v", err)
	}
	if !pool.tx.committed {
		t.Error("expected commit so the event id stays claimed")
	}
}

func TestHandleWebhook_SubscriptionLifecycle(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newService(repo, &fakeCredits{}, &fakeSettler{}, nil)
	ctx := context.Background()

	err := svc.HandleWebhook(ctx, WebhookEvent{
		ID:                "evt-1",
		Type:              EventSubscriptionCreated,
		Ref:               "sub-ref-1",
		ContractorID:      "contractor-1",
		Tier:              "pro",
		WeeklyCreditLimit: 25,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sub := repo.subs["contractor-1"]
	if sub.Status != SubscriptionActive || sub.WeeklyCreditLimit != 25 {
		t.Fatalf("unexpected subscription %+v", sub)
	}

	err = svc.HandleWebhook(ctx, WebhookEvent{
		ID:   "evt-2",
		Type: EventSubscriptionDeleted,
		Ref:  "sub-ref-1",
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if repo.subs["contractor-1"].Status != SubscriptionCancelled {
		t.Fatalf("expected cancelled, got %s", repo.subs["contractor-1"].Status)
	}
}

func TestHandleWebhook_UnknownType(t *testing.T) {
	repo := newFakeRepo()
	svc, pool := newService(repo, &fakeCredits{}, &fakeSettler{}, nil)

	err := svc.HandleWebhook(context.Background(), WebhookEvent{ID: "evt-1", Type: "mystery"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected rollback on unknown event")
	}
}

func TestPurchaseCredits_VerifiesBeforeCrediting(t *testing.T) {
	repo := newFakeRepo()
	credits := &fakeCredits{}
	gateway := &fakeGateway{charges: map[string]Charge{
		"charge-1": {Ref: "charge-1", Amount: 40, Paid: true},
	}}
	svc, _ := newService(repo, credits, &fakeSettler{}, gateway)

	entry, err := svc.PurchaseCredits(context.Background(), "contractor-1", "charge-1")
	if err != nil {
		t.Fatalf("purchase: unexpected error: %v", err)
	}
	if entry.Amount != 40 {
		t.Fatalf("expected amount from the gateway, got %d", entry.Amount)
	}

	// the same reference cannot be redeemed twice
	if _, err := svc.PurchaseCredits(context.Background(), "contractor-1", "charge-1"); err == nil {
		t.Fatal("expected second redemption to fail")
	}
	if len(credits.entries) != 1 {
		t.Fatalf("expected one credit, got %d", len(credits.entries))
	}
}

func TestPurchaseCredits_NoGatewayConfigured(t *testing.T) {
	credits := &fakeCredits{}
	svc, pool := newService(newFakeRepo(), credits, &fakeSettler{}, nil)

	_, err := svc.PurchaseCredits(context.Background(), "contractor-1", "charge-1")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if len(credits.entries) != 0 {
		t.Fatalf("expected no credits, got %d entries", len(credits.entries))
	}
	if pool.tx != nil {
		t.Error("expected no transaction to be opened")
	}
}

func TestPurchaseCredits_RejectsUnpaidCharge(t *testing.T) {
	gateway := &fakeGateway{charges: map[string]Charge{
		"charge-1": {Ref: "charge-1", Amount: 40, Paid: false},
	}}
	svc, _ := newService(newFakeRepo(), &fakeCredits{}, &fakeSettler{}, gateway)

	_, err := svc.PurchaseCredits(context.Background(), "contractor-1", "charge-1")
	if !errors.Is(err, ErrUnpaidCharge) {
		t.Fatalf("expected ErrUnpaidCharge, got %v", err)
	}
}

// --- fakes ---

type fakeRepo struct {
	claimed map[string]bool
	subs    map[string]Subscription
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{claimed: make(map[string]bool), subs: make(map[string]Subscription)}
}

func (f *fakeRepo) ClaimEventTx(ctx context.Context, tx pgx.Tx, key string) (bool, error) {
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeRepo) UpsertSubscriptionTx(ctx context.Context, tx pgx.Tx, sub Subscription) (Subscription, error) {
	f.subs[sub.ContractorID] = sub
	return sub, nil
}

func (f *fakeRepo) CancelSubscriptionTx(ctx context.Context, tx pgx.Tx, externalRef string) error {
	for id, sub := range f.subs {
		if sub.ExternalRef == externalRef {
			sub.Status = SubscriptionCancelled
			f.subs[id] = sub
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

func (f *fakeRepo) GetSubscription(ctx context.Context, contractorID string) (Subscription, error) {
	sub, ok := f.subs[contractorID]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (f *fakeRepo) ActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	var out []Subscription
	for _, sub := range f.subs {
		if sub.Status == SubscriptionActive {
			out = append(out, sub)
		}
	}
	return out, nil
}

type fakeCredits struct {
	entries []ledger.CreditParams
}

func (f *fakeCredits) CreditTx(ctx context.Context, tx pgx.Tx, params ledger.CreditParams) (ledger.Transaction, error) {
	f.entries = append(f.entries, params)
	return ledger.Transaction{ID: "tx-1", ContractorID: params.ContractorID, Amount: params.Amount, Kind: params.Kind}, nil
}

type fakeSettler struct {
	calls []string
	err   error
}

func (f *fakeSettler) MarkPaidTx(ctx context.Context, tx pgx.Tx, id, externalRef string) (commission.Payment, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return commission.Payment{}, f.err
	}
	return commission.Payment{ID: id, Status: commission.StatusPaid}, nil
}

type fakeGateway struct {
	charges map[string]Charge
}

func (f *fakeGateway) VerifyPayment(ctx context.Context, ref string) (Charge, error) {
	charge, ok := f.charges[ref]
	if !ok {
		return Charge{}, errors.New("unknown charge")
	}
	return charge, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

// fakeTx satisfies pgx.Tx via embedding; only Commit and Rollback run on the
// paths under test.
type fakeTx struct {
	pgx.Tx
	rolled    bool
	committed bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}
