package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RefreshCandidate is a credential that falls inside the refresh window.
type RefreshCandidate struct {
	IntegrationID string
	ExpiresAt     time.Time
}

type RefreshScanReport struct {
	StartedAt  time.Time
	Duration   time.Duration
	Scanned    int
	Refreshed  int
	Skipped    int
	Failed     int
	Revoked    int
	StatesGone int
	Errors     map[string]string
}

// RefreshScheduler periodically renews credentials nearing expiry. Running it
// on several instances at once is safe: the per-integration lease keeps
// provider calls single-flight.
type RefreshScheduler struct {
	service  *Service
	interval time.Duration
	window   time.Duration
	batch    int
}

func NewRefreshScheduler(service *Service) *RefreshScheduler {
	cfg := DefaultConfig().Refresh
	if service != nil {
		cfg = service.config.Refresh
	}
	return &RefreshScheduler{
		service:  service,
		interval: cfg.ScanInterval,
		window:   cfg.Window,
		batch:    cfg.BatchSize,
	}
}

// Run scans immediately and then on every interval until ctx is done.
func (r *RefreshScheduler) Run(ctx context.Context) error {
	if r == nil || r.service == nil {
		return fmt.Errorf("core: refresh scheduler is not configured")
	}
	interval := r.interval
	if interval <= 0 {
		interval = defaultRefreshScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			r.service.logError(ctx, "refresh scan failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ScanOnce refreshes every credential due within the window. A failing
// integration never stops the scan.
func (r *RefreshScheduler) ScanOnce(ctx context.Context) (RefreshScanReport, error) {
	if r == nil || r.service == nil {
		return RefreshScanReport{}, fmt.Errorf("core: refresh scheduler is not configured")
	}
	svc := r.service
	report := RefreshScanReport{StartedAt: svc.now(), Errors: map[string]string{}}

	candidates, err := svc.ListDueForRefresh(ctx, r.window, r.batch)
	if err != nil {
		return report, err
	}
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++
		outcome, refreshErr := svc.refreshIntegration(ctx, candidate.IntegrationID, refreshOptions{})
		switch {
		case outcome.Revoked:
			report.Revoked++
		case outcome.Refreshed:
			report.Refreshed++
		case outcome.Skipped:
			report.Skipped++
		}
		if refreshErr != nil {
			report.Failed++
			report.Errors[candidate.IntegrationID] = refreshErr.Error()
		}
	}

	if purger, ok := svc.stateStore.(StatePurger); ok {
		removed, purgeErr := purger.Purge(ctx, svc.now().Add(-svc.config.State.TTL))
		if purgeErr != nil {
			svc.logError(ctx, "authorization state purge failed", map[string]any{"error": purgeErr.Error()})
		}
		report.StatesGone = removed
	}

	report.Duration = svc.now().Sub(report.StartedAt)
	svc.logInfo(ctx, "refresh scan completed", map[string]any{
		"scanned":     report.Scanned,
		"refreshed":   report.Refreshed,
		"skipped":     report.Skipped,
		"failed":      report.Failed,
		"revoked":     report.Revoked,
		"duration_ms": report.Duration.Milliseconds(),
	})
	svc.recordCounter(ctx, metricName("refresh_scan", "refreshed"), int64(report.Refreshed), nil)
	svc.recordCounter(ctx, metricName("refresh_scan", "failed"), int64(report.Failed), nil)
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
		return report, ctx.Err()
	}
	return report, nil
}

// ListDueForRefresh returns credentials expiring within window from now.
func (s *Service) ListDueForRefresh(ctx context.Context, window time.Duration, limit int) ([]RefreshCandidate, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	if window <= 0 {
		window = s.config.Refresh.Window
	}
	if limit <= 0 {
		limit = s.config.Refresh.BatchSize
	}
	records, err := s.vault.DueCredentials(ctx, s.now(), window, limit)
	if err != nil {
		return nil, s.mapError(err)
	}
	out := make([]RefreshCandidate, 0, len(records))
	for _, record := range records {
		out = append(out, RefreshCandidate{IntegrationID: record.IntegrationID, ExpiresAt: record.ExpiresAt})
	}
	return out, nil
}

func (s *Service) RefreshScheduler() *RefreshScheduler {
	return NewRefreshScheduler(s)
}
