package contractor

import (
	"context"
	"fmt"
	"time"

	"jobflow/config"
)

// ProfileStore abstracts repository operations for the service.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	SetStatus(ctx context.Context, id string, status Status, approvedBy string, kycDeadline *time.Time) (Profile, error)
	ListPendingKYC(ctx context.Context, deadline time.Time) ([]Profile, error)
}

// Service exposes the contractor approval workflow. Two admission paths
// exist: approve-first, which activates the account immediately with a KYC
// deadline, and verify-first, which activates it with no deadline because
// verification already happened.
type Service struct {
	repo        ProfileStore
	kycDeadline time.Duration
	now         func() time.Time
}

// NewService builds a Service using the provided repository.
func NewService(repo ProfileStore, billing config.BillingConfig) *Service {
	return &Service{
		repo:        repo,
		kycDeadline: time.Duration(billing.KYCDeadlineDays) * 24 * time.Hour,
		now:         time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Approve activates the contractor before verification, starting the KYC
// clock.
func (s *Service) Approve(ctx context.Context, contractorID, adminID string) (Profile, error) {
	if adminID == "" {
		return Profile{}, fmt.Errorf("contractor: missing approving admin")
	}
	deadline := s.now().UTC().Add(s.kycDeadline)
	return s.repo.SetStatus(ctx, contractorID, StatusActive, adminID, &deadline)
}

// ApproveVerified activates a contractor whose identity checks already
// passed; no KYC deadline applies.
func (s *Service) ApproveVerified(ctx context.Context, contractorID, adminID string) (Profile, error) {
	if adminID == "" {
		return Profile{}, fmt.Errorf("contractor: missing approving admin")
	}
	return s.repo.SetStatus(ctx, contractorID, StatusActive, adminID, nil)
}

// Suspend blocks the contractor from purchasing access or being assigned.
func (s *Service) Suspend(ctx context.Context, contractorID, adminID string) (Profile, error) {
	return s.repo.SetStatus(ctx, contractorID, StatusSuspended, adminID, nil)
}

// GetByID returns the contractor profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// OverdueKYC lists active contractors whose KYC deadline has elapsed.
func (s *Service) OverdueKYC(ctx context.Context) ([]Profile, error) {
	return s.repo.ListPendingKYC(ctx, s.now().UTC())
}
