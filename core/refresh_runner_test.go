package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffScheduler(t *testing.T) {
	scheduler := ExponentialBackoffScheduler{Initial: 100 * time.Millisecond, Max: time.Second}
	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, want := range expected {
		if got := scheduler.NextDelay(i + 1); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want, got)
		}
	}
	if got := (ExponentialBackoffScheduler{}).NextDelay(0); got != defaultRefreshInitialBackoff {
		t.Fatalf("expected default initial backoff, got %s", got)
	}
}

func TestRetryPolicyRetriesOnlyTransientErrors(t *testing.T) {
	policy := fastRetryPolicy()

	calls := 0
	attempts, err := policy.Do(context.Background(), func(context.Context, int) error {
		calls++
		return &ProviderError{Transient: true}
	})
	if err == nil || attempts != 3 || calls != 3 {
		t.Fatalf("expected three transient attempts, got %d/%d (%v)", attempts, calls, err)
	}

	calls = 0
	attempts, err = policy.Do(context.Background(), func(context.Context, int) error {
		calls++
		return &ProviderError{StatusCode: 400}
	})
	if err == nil || attempts != 1 || calls != 1 {
		t.Fatalf("expected permanent error to stop immediately, got %d/%d", attempts, calls)
	}

	attempts, err = policy.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 2 {
			return &ProviderError{Transient: true}
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Fatalf("expected success on second attempt, got %d (%v)", attempts, err)
	}
}

func TestRetryPolicyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, Backoff: ExponentialBackoffScheduler{Initial: time.Hour, Max: time.Hour}}
	cancel()
	_, err := policy.Do(ctx, func(context.Context, int) error {
		return &ProviderError{Transient: true}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestMemoryLeaseLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLeaseLocker()
	now := time.Now().UTC()
	locker.nowFn = func() time.Time { return now }

	first, err := locker.Acquire(ctx, refreshLeaseKey("int-1"), time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, refreshLeaseKey("int-1"), time.Minute); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected held lease, got %v", err)
	}
	if _, err := locker.Acquire(ctx, refreshLeaseKey("int-2"), time.Minute); err != nil {
		t.Fatalf("expected independent keys, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	second, err := locker.Acquire(ctx, refreshLeaseKey("int-1"), time.Minute)
	if err != nil {
		t.Fatalf("expected expired lease to be reclaimable: %v", err)
	}
	if err := first.Extend(ctx, time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected stale holder to lose the lease, got %v", err)
	}
	if err := second.Extend(ctx, 5*time.Minute); err != nil {
		t.Fatalf("extend owned lease: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := locker.Acquire(ctx, refreshLeaseKey("int-1"), time.Minute); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected extended lease to still be held, got %v", err)
	}
	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := locker.Acquire(ctx, refreshLeaseKey("int-1"), time.Minute); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("stale handle must not release the new holder, got %v", err)
	}
	_ = second.Unlock(ctx)
	if _, err := locker.Acquire(ctx, refreshLeaseKey("int-1"), time.Minute); err != nil {
		t.Fatalf("expected lease free after release: %v", err)
	}
}

func TestRefreshSchedulerScanOnce(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.connect(t, testUserID)
	second := f.connect(t, "user-2")

	report, err := f.service.RefreshScheduler().ScanOnce(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.Scanned != 0 {
		t.Fatalf("expected nothing due, got %+v", report)
	}

	f.clock.Advance(56 * time.Minute)
	report, err = f.service.RefreshScheduler().ScanOnce(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.Scanned != 2 || report.Refreshed != 2 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, id := range []string{first, second} {
		if !containsAction(f.auditActions(t, id), AuditActionRefresh) {
			t.Fatalf("expected refresh audit for %s", id)
		}
	}

	report, _ = f.service.RefreshScheduler().ScanOnce(ctx)
	if report.Scanned != 0 {
		t.Fatalf("expected renewed credentials to leave the window, got %+v", report)
	}
}

func TestRefreshSchedulerContinuesPastFailures(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.connect(t, testUserID)
	f.connect(t, "user-2")

	f.provider.refreshFn = func(_ context.Context, refreshToken string, _ []string) (TokenSet, error) {
		if refreshToken == "refresh-code-"+testUserID {
			return TokenSet{}, &ProviderError{ProviderID: testProviderID, Operation: "refresh", StatusCode: 401, Code: "invalid_grant"}
		}
		return TokenSet{AccessToken: "ok", ExpiresAt: f.clock.Now().Add(time.Hour)}, nil
	}
	f.clock.Advance(56 * time.Minute)

	report, err := f.service.RefreshScheduler().ScanOnce(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.Refreshed != 1 || report.Failed != 1 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRefreshSchedulersShareLeases(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.connect(t, testUserID)

	f.provider.refreshFn = func(context.Context, string, []string) (TokenSet, error) {
		time.Sleep(50 * time.Millisecond)
		return TokenSet{AccessToken: "renewed", ExpiresAt: f.clock.Now().Add(time.Hour)}, nil
	}
	f.clock.Advance(56 * time.Minute)

	reports := make(chan RefreshScanReport, 2)
	for i := 0; i < 2; i++ {
		go func() {
			report, _ := NewRefreshScheduler(f.service).ScanOnce(ctx)
			reports <- report
		}()
	}
	total := RefreshScanReport{}
	for i := 0; i < 2; i++ {
		report := <-reports
		total.Refreshed += report.Refreshed
		total.Failed += report.Failed
	}
	if total.Refreshed != 1 || total.Failed != 0 {
		t.Fatalf("expected a single refresh across instances, got %+v", total)
	}
	if calls := f.provider.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected one provider call, got %d", calls)
	}
}

func TestRefreshSchedulerRunStopsOnCancel(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.service.RefreshScheduler().Run(ctx)
	}()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}
