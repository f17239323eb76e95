package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"jobflow/config"
	"jobflow/job"
	"jobflow/payment"
)

func testConfig() config.Config {
	return config.Config{
		Jobs: config.JobsConfig{
			FinalPriceTimeout:      48 * time.Hour,
			ReminderThresholdHours: []int{24, 12, 6, 2, 1},
		},
		Scheduler: config.SchedulerConfig{
			AutoConfirmInterval: time.Hour,
			ReminderInterval:    time.Hour,
			OverdueInterval:     time.Hour,
			AllocationInterval:  time.Hour,
		},
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newScheduler(confirmer *fakeConfirmer, source *fakeSource, reminders *fakeReminders,
	sweeper *fakeSweeper, allocator *fakeAllocator, subs *fakeSubs) *Scheduler {
	now := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return New(confirmer, source, reminders, sweeper, allocator, subs, quietLogger(), testConfig()).WithClock(now)
}

func TestAutoConfirmPass_ConfirmsDueJobs(t *testing.T) {
	confirmer := &fakeConfirmer{}
	source := &fakeSource{due: []string{"job-1", "job-2"}}
	s := newScheduler(confirmer, source, &fakeReminders{}, &fakeSweeper{}, &fakeAllocator{}, &fakeSubs{})

	if err := s.RunAutoConfirmPass(context.Background()); err != nil {
		t.Fatalf("pass: unexpected error: %v", err)
	}

	confirmed := confirmer.confirmedIDs()
	if len(confirmed) != 2 {
		t.Fatalf("expected 2 confirmations, got %d", len(confirmed))
	}
	for _, params := range confirmer.calls {
		if params.Actor != job.SystemActor {
			t.Fatalf("expected system actor, got %q", params.Actor)
		}
	}
}

func TestAutoConfirmPass_ToleratesLostRace(t *testing.T) {
	// the customer confirmed between the listing and the pass
	confirmer := &fakeConfirmer{errs: map[string]error{"job-1": job.ErrInvalidState}}
	source := &fakeSource{due: []string{"job-1", "job-2"}}
	s := newScheduler(confirmer, source, &fakeReminders{}, &fakeSweeper{}, &fakeAllocator{}, &fakeSubs{})

	if err := s.RunAutoConfirmPass(context.Background()); err != nil {
		t.Fatalf("expected lost race to be tolerated, got %v", err)
	}
	if len(confirmer.confirmedIDs()) != 1 {
		t.Fatalf("expected one effective confirmation, got %d", len(confirmer.confirmedIDs()))
	}
}

func TestReminderPass_SelectsThresholdAndDedupes(t *testing.T) {
	// deadline five hours out selects the 6h threshold
	timeout := time.Date(2025, 6, 1, 17, 0, 0, 0, time.UTC)
	source := &fakeSource{pending: []job.PendingConfirmation{
		{JobID: "job-1", CustomerID: "customer-1", TimeoutAt: timeout},
	}}
	reminders := &fakeReminders{}
	s := newScheduler(&fakeConfirmer{}, source, reminders, &fakeSweeper{}, &fakeAllocator{}, &fakeSubs{})

	if err := s.RunReminderPass(context.Background()); err != nil {
		t.Fatalf("pass: unexpected error: %v", err)
	}
	if len(reminders.created) != 1 {
		t.Fatalf("expected one reminder, got %d", len(reminders.created))
	}
	if reminders.created[0].threshold != 6 {
		t.Fatalf("expected 6h threshold, got %d", reminders.created[0].threshold)
	}

	// a second pass inside the same window sends nothing
	if err := s.RunReminderPass(context.Background()); err != nil {
		t.Fatalf("second pass: unexpected error: %v", err)
	}
	if len(reminders.created) != 1 {
		t.Fatalf("expected reminder deduplicated, got %d", len(reminders.created))
	}
}

func TestReminderPass_SkipsExpiredDeadlines(t *testing.T) {
	timeout := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC) // already past
	source := &fakeSource{pending: []job.PendingConfirmation{
		{JobID: "job-1", CustomerID: "customer-1", TimeoutAt: timeout},
	}}
	reminders := &fakeReminders{}
	s := newScheduler(&fakeConfirmer{}, source, reminders, &fakeSweeper{}, &fakeAllocator{}, &fakeSubs{})

	if err := s.RunReminderPass(context.Background()); err != nil {
		t.Fatalf("pass: unexpected error: %v", err)
	}
	if len(reminders.created) != 0 {
		t.Fatal("expected no reminder for an expired deadline; auto-confirm owns it")
	}
}

func TestAllocationPass_ContinuesPastFailures(t *testing.T) {
	subs := &fakeSubs{subs: []payment.Subscription{
		{ContractorID: "contractor-1", WeeklyCreditLimit: 10},
		{ContractorID: "contractor-2", WeeklyCreditLimit: 20},
	}}
	allocator := &fakeAllocator{failFor: "contractor-1"}
	s := newScheduler(&fakeConfirmer{}, &fakeSource{}, &fakeReminders{}, &fakeSweeper{}, allocator, subs)

	if err := s.RunAllocationPass(context.Background()); err != nil {
		t.Fatalf("pass: unexpected error: %v", err)
	}
	if len(allocator.calls) != 2 {
		t.Fatalf("expected both contractors attempted, got %d", len(allocator.calls))
	}
}

// --- fakes ---

type fakeConfirmer struct {
	mu    sync.Mutex
	calls []job.ConfirmFinalPriceParams
	errs  map[string]error
}

func (f *fakeConfirmer) ConfirmFinalPrice(ctx context.Context, params job.ConfirmFinalPriceParams) (job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[params.JobID]; err != nil {
		return job.Job{}, err
	}
	f.calls = append(f.calls, params)
	return job.Job{ID: params.JobID, Status: job.StatusCompleted}, nil
}

func (f *fakeConfirmer) confirmedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		ids = append(ids, c.JobID)
	}
	return ids
}

type fakeSource struct {
	due     []string
	pending []job.PendingConfirmation
}

func (f *fakeSource) DueForAutoConfirm(ctx context.Context, now time.Time) ([]string, error) {
	return f.due, nil
}

func (f *fakeSource) AwaitingConfirmation(ctx context.Context) ([]job.PendingConfirmation, error) {
	return f.pending, nil
}

type createdReminder struct {
	jobID     string
	userID    string
	threshold int
}

type fakeReminders struct {
	created []createdReminder
}

func (f *fakeReminders) HasRecentReminder(ctx context.Context, jobID string, thresholdHours int, window time.Duration) (bool, error) {
	for _, c := range f.created {
		if c.jobID == jobID && c.threshold == thresholdHours {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReminders) CreateReminder(ctx context.Context, jobID, userID string, thresholdHours int, title, message string) error {
	f.created = append(f.created, createdReminder{jobID: jobID, userID: userID, threshold: thresholdHours})
	return nil
}

type fakeSweeper struct {
	count int
}

func (f *fakeSweeper) MarkOverdue(ctx context.Context) (int, error) {
	return f.count, nil
}

type fakeAllocator struct {
	calls   []string
	failFor string
}

func (f *fakeAllocator) WeeklyAllocate(ctx context.Context, contractorID string, tierLimit int64) (int64, error) {
	f.calls = append(f.calls, contractorID)
	if contractorID == f.failFor {
		return 0, context.DeadlineExceeded
	}
	return tierLimit, nil
}

type fakeSubs struct {
	subs []payment.Subscription
}

func (f *fakeSubs) ActiveSubscriptions(ctx context.Context) ([]payment.Subscription, error) {
	return f.subs, nil
}
