package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"jobflow/config"
	"jobflow/job"
	"jobflow/payment"
)

// JobConfirmer confirms an overdue final price on behalf of the system.
type JobConfirmer interface {
	ConfirmFinalPrice(ctx context.Context, params job.ConfirmFinalPriceParams) (job.Job, error)
}

// JobSource lists jobs with pending confirmation deadlines.
type JobSource interface {
	DueForAutoConfirm(ctx context.Context, now time.Time) ([]string, error)
	AwaitingConfirmation(ctx context.Context) ([]job.PendingConfirmation, error)
}

// ReminderStore deduplicates and records confirmation reminders.
type ReminderStore interface {
	HasRecentReminder(ctx context.Context, jobID string, thresholdHours int, window time.Duration) (bool, error)
	CreateReminder(ctx context.Context, jobID, userID string, thresholdHours int, title, message string) error
}

// CommissionSweeper flips pending obligations past due to overdue.
type CommissionSweeper interface {
	MarkOverdue(ctx context.Context) (int, error)
}

// Allocator tops a subscribed contractor's balance up to the tier limit.
type Allocator interface {
	WeeklyAllocate(ctx context.Context, contractorID string, tierLimit int64) (int64, error)
}

// SubscriptionSource lists subscriptions eligible for the weekly allocation.
type SubscriptionSource interface {
	ActiveSubscriptions(ctx context.Context) ([]payment.Subscription, error)
}

// Scheduler drives the time-based passes: auto-confirmation of expired final
// prices, confirmation reminders, the overdue commission sweep, and the
// weekly credit allocation. Every pass is safe to re-run; the services it
// calls are idempotent under their row locks.
type Scheduler struct {
	jobs          JobConfirmer
	source        JobSource
	reminders     ReminderStore
	commissions   CommissionSweeper
	allocator     Allocator
	subscriptions SubscriptionSource
	log           *logrus.Logger
	cfg           config.SchedulerConfig
	thresholds    []int
	window        time.Duration
	now           func() time.Time
}

func New(jobs JobConfirmer, source JobSource, reminders ReminderStore, commissions CommissionSweeper,
	allocator Allocator, subscriptions SubscriptionSource, log *logrus.Logger, cfg config.Config) *Scheduler {
	return &Scheduler{
		jobs:          jobs,
		source:        source,
		reminders:     reminders,
		commissions:   commissions,
		allocator:     allocator,
		subscriptions: subscriptions,
		log:           log,
		cfg:           cfg.Scheduler,
		thresholds:    cfg.Jobs.ReminderThresholdHours,
		window:        cfg.Jobs.FinalPriceTimeout,
		now:           time.Now,
	}
}

// WithClock overrides the scheduler clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run drives all passes until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop(ctx, s.cfg.AutoConfirmInterval, "auto_confirm", s.RunAutoConfirmPass)
	})
	g.Go(func() error {
		return s.loop(ctx, s.cfg.ReminderInterval, "reminders", s.RunReminderPass)
	})
	g.Go(func() error {
		return s.loop(ctx, s.cfg.OverdueInterval, "commission_overdue", s.RunOverduePass)
	})
	g.Go(func() error {
		return s.loop(ctx, s.cfg.AllocationInterval, "weekly_allocation", s.RunAllocationPass)
	})

	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, name string, pass func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := pass(ctx); err != nil {
				s.log.WithError(err).WithField("pass", name).Warn("scheduler pass failed")
			}
		}
	}
}

// RunAutoConfirmPass confirms every job whose confirmation deadline elapsed,
// acting as the system. A job confirmed by the customer between the listing
// and the confirmation loses the row-lock race and reports an invalid state,
// which the pass treats as already handled.
func (s *Scheduler) RunAutoConfirmPass(ctx context.Context) error {
	ids, err := s.source.DueForAutoConfirm(ctx, s.now().UTC())
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.jobs.ConfirmFinalPrice(ctx, job.ConfirmFinalPriceParams{
				JobID: id,
				Actor: job.SystemActor,
			})
			if err != nil && !errors.Is(err, job.ErrInvalidState) {
				return fmt.Errorf("scheduler: auto confirm %s: %w", id, err)
			}
			if err == nil {
				s.log.WithField("job_id", id).Info("final price auto-confirmed")
			}
			return nil
		})
	}
	return g.Wait()
}

// RunReminderPass sends at most one reminder per (job, threshold) to the
// customer who still has a price to confirm.
func (s *Scheduler) RunReminderPass(ctx context.Context) error {
	pending, err := s.source.AwaitingConfirmation(ctx)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	for _, p := range pending {
		threshold, ok := DueThreshold(s.thresholds, p.TimeoutAt.Sub(now))
		if !ok {
			continue
		}

		sent, err := s.reminders.HasRecentReminder(ctx, p.JobID, threshold, s.window)
		if err != nil {
			return err
		}
		if sent {
			continue
		}

		msg := fmt.Sprintf("The proposed final price will be accepted automatically in about %d hours unless you confirm or dispute it.", threshold)
		if err := s.reminders.CreateReminder(ctx, p.JobID, p.CustomerID, threshold, "Confirmation deadline approaching", msg); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{
			"job_id":    p.JobID,
			"threshold": threshold,
		}).Info("confirmation reminder sent")
	}
	return nil
}

// RunOverduePass marks commissions past their due date overdue.
func (s *Scheduler) RunOverduePass(ctx context.Context) error {
	n, err := s.commissions.MarkOverdue(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("commission obligations marked overdue")
	}
	return nil
}

// RunAllocationPass tops every active subscriber's balance up to the tier
// limit. Per-contractor failures are logged and do not abort the pass.
func (s *Scheduler) RunAllocationPass(ctx context.Context) error {
	subs, err := s.subscriptions.ActiveSubscriptions(ctx)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		delta, err := s.allocator.WeeklyAllocate(ctx, sub.ContractorID, sub.WeeklyCreditLimit)
		if err != nil {
			s.log.WithError(err).WithField("contractor_id", sub.ContractorID).Warn("weekly allocation failed")
			continue
		}
		if delta > 0 {
			s.log.WithFields(logrus.Fields{
				"contractor_id": sub.ContractorID,
				"delta":         delta,
			}).Info("weekly credits allocated")
		}
	}
	return nil
}
