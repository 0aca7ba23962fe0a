package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/adapters/gologger"
	"github.com/goliatone/go-integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDRefresh      = "integrations.refresh"
	ScriptPathRefresh = "integrations.refresh"

	ParamIntegrationID = "integration_id"
	ParamExpiresAt     = "expires_at"

	// DedupPolicyDrop discards a message whose idempotency key is already
	// queued.
	DedupPolicyDrop = "drop"

	defaultPollInterval = time.Second
)

// RetryPolicy bounds how a failed refresh delivery is requeued.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       5 * time.Second,
		MaxDelay:        5 * time.Minute,
		DeadLetterOnMax: true,
	}
}

// NormalizeAttempt caps the delay and stops requeueing once attempt reaches
// MaxAttempts.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay <= 0 && p.BaseDelay > 0 {
		out.Delay = p.BaseDelay
		for i := 1; i < attempt; i++ {
			out.Delay *= 2
			if p.MaxDelay > 0 && out.Delay >= p.MaxDelay {
				break
			}
		}
	}
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// RefreshService is the part of core.Service the refresh queue drives.
type RefreshService interface {
	ListDueForRefresh(ctx context.Context, window time.Duration, limit int) ([]core.RefreshCandidate, error)
	RefreshIntegration(ctx context.Context, integrationID string) (core.RefreshOutcome, error)
}

// NewRefreshMessage builds the queue message for one due credential. The
// idempotency key includes the expiry so a renewed credential can be queued
// again once it nears its new expiry.
func NewRefreshMessage(candidate core.RefreshCandidate) (*job.ExecutionMessage, error) {
	integrationID := strings.TrimSpace(candidate.IntegrationID)
	if integrationID == "" {
		return nil, fmt.Errorf("gojob: integration id is required")
	}
	expiry := int64(0)
	if !candidate.ExpiresAt.IsZero() {
		expiry = candidate.ExpiresAt.UTC().Unix()
	}
	return &job.ExecutionMessage{
		JobID:      JobIDRefresh,
		ScriptPath: ScriptPathRefresh,
		Parameters: map[string]any{
			ParamIntegrationID: integrationID,
			ParamExpiresAt:     expiry,
		},
		IdempotencyKey: RefreshIdempotencyKey(integrationID, candidate.ExpiresAt),
		DedupPolicy:    job.DeduplicationPolicy(DedupPolicyDrop),
	}, nil
}

func RefreshIdempotencyKey(integrationID string, expiresAt time.Time) string {
	expiry := int64(0)
	if !expiresAt.IsZero() {
		expiry = expiresAt.UTC().Unix()
	}
	return "refresh:" + strings.TrimSpace(integrationID) + ":" + strconv.FormatInt(expiry, 10)
}

// IntegrationIDFromMessage extracts the integration id of a refresh message.
func IntegrationIDFromMessage(msg *job.ExecutionMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDRefresh {
		return "", fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	raw, ok := msg.Parameters[ParamIntegrationID]
	if !ok {
		return "", fmt.Errorf("gojob: %s parameter is required", ParamIntegrationID)
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("gojob: %s parameter must be a non-empty string", ParamIntegrationID)
	}
	return strings.TrimSpace(value), nil
}

// RefreshJobEnqueuer turns a refresh scan into one queue message per due
// integration, letting workers on any instance perform the refresh.
type RefreshJobEnqueuer struct {
	service  RefreshService
	enqueuer queue.Enqueuer
	window   time.Duration
	batch    int
	logger   glog.Logger
}

type EnqueuerOption func(*RefreshJobEnqueuer)

func WithEnqueueWindow(window time.Duration) EnqueuerOption {
	return func(e *RefreshJobEnqueuer) {
		if window > 0 {
			e.window = window
		}
	}
}

func WithEnqueueBatchSize(size int) EnqueuerOption {
	return func(e *RefreshJobEnqueuer) {
		if size > 0 {
			e.batch = size
		}
	}
}

func WithEnqueuerLogger(provider glog.LoggerProvider, logger glog.Logger) EnqueuerOption {
	return func(e *RefreshJobEnqueuer) {
		_, e.logger = gologger.Resolve("integrations.refresh.enqueuer", provider, logger)
	}
}

func NewRefreshJobEnqueuer(service RefreshService, enqueuer queue.Enqueuer, opts ...EnqueuerOption) (*RefreshJobEnqueuer, error) {
	if service == nil {
		return nil, fmt.Errorf("gojob: refresh service is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	defaults := core.DefaultConfig().Refresh
	out := &RefreshJobEnqueuer{
		service:  service,
		enqueuer: enqueuer,
		window:   defaults.Window,
		batch:    defaults.BatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(out)
		}
	}
	if out.logger == nil {
		_, out.logger = gologger.Resolve("integrations.refresh.enqueuer", nil, nil)
	}
	return out, nil
}

// EnqueueDue queues every credential due within the window and returns how
// many messages were accepted. An enqueue failure for one integration does
// not stop the others.
func (e *RefreshJobEnqueuer) EnqueueDue(ctx context.Context) (int, error) {
	if e == nil || e.service == nil || e.enqueuer == nil {
		return 0, fmt.Errorf("gojob: refresh enqueuer is not configured")
	}
	candidates, err := e.service.ListDueForRefresh(ctx, e.window, e.batch)
	if err != nil {
		return 0, err
	}
	queued := 0
	var errs []error
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		msg, buildErr := NewRefreshMessage(candidate)
		if buildErr != nil {
			errs = append(errs, buildErr)
			continue
		}
		if enqueueErr := e.enqueuer.Enqueue(ctx, msg); enqueueErr != nil {
			e.logger.Error("refresh enqueue failed", "integration_id", candidate.IntegrationID, "error", enqueueErr.Error())
			errs = append(errs, fmt.Errorf("gojob: enqueue %s: %w", candidate.IntegrationID, enqueueErr))
			continue
		}
		queued++
	}
	e.logger.Info("refresh jobs enqueued", "due", len(candidates), "queued", queued)
	return queued, errors.Join(errs...)
}

// RefreshWorker consumes refresh deliveries. Successful and terminal outcomes
// are acked; transient failures and held leases are nacked under the retry
// policy.
type RefreshWorker struct {
	service      RefreshService
	dequeuer     queue.Dequeuer
	policy       RetryPolicy
	hooks        []worker.Hook
	logger       glog.Logger
	pollInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*RefreshWorker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *RefreshWorker) {
		w.policy = policy
	}
}

func WithHooks(hooks ...worker.Hook) WorkerOption {
	return func(w *RefreshWorker) {
		for _, hook := range hooks {
			if hook != nil {
				w.hooks = append(w.hooks, hook)
			}
		}
	}
}

func WithWorkerLogger(provider glog.LoggerProvider, logger glog.Logger) WorkerOption {
	return func(w *RefreshWorker) {
		_, w.logger = gologger.Resolve("integrations.refresh.worker", provider, logger)
	}
}

func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *RefreshWorker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func NewRefreshWorker(service RefreshService, dequeuer queue.Dequeuer, opts ...WorkerOption) (*RefreshWorker, error) {
	if service == nil {
		return nil, fmt.Errorf("gojob: refresh service is required")
	}
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	out := &RefreshWorker{
		service:      service,
		dequeuer:     dequeuer,
		policy:       DefaultRetryPolicy(),
		pollInterval: defaultPollInterval,
		now:          time.Now,
		attempts:     map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(out)
		}
	}
	if out.logger == nil {
		_, out.logger = gologger.Resolve("integrations.refresh.worker", nil, nil)
	}
	return out, nil
}

// Run processes deliveries until ctx is done. Dequeue errors are logged and
// retried after the poll interval.
func (w *RefreshWorker) Run(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("gojob: refresh worker is not configured")
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("refresh worker iteration failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// ProcessNext dequeues and handles a single delivery.
func (w *RefreshWorker) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.service == nil {
		return fmt.Errorf("gojob: refresh worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	return w.Handle(ctx, delivery)
}

// Handle runs the refresh for one delivery and settles it.
func (w *RefreshWorker) Handle(ctx context.Context, delivery queue.Delivery) error {
	msg := delivery.Message()
	integrationID, err := IntegrationIDFromMessage(msg)
	if err != nil {
		w.logger.Error("refresh delivery rejected", "error", err.Error())
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	logger := gologger.WithIntegration(w.logger, integrationID, "")
	key := deliveryKey(msg, integrationID)
	attempt := w.nextAttempt(key)
	startedAt := w.now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	w.emit(ctx, func(hook worker.Hook) { hook.OnStart(ctx, event) })

	outcome, refreshErr := w.service.RefreshIntegration(ctx, integrationID)
	event.Duration = w.now().Sub(startedAt)
	event.Err = refreshErr

	if refreshErr == nil || outcome.Revoked || !retryable(refreshErr) {
		w.forget(key)
		if refreshErr == nil {
			w.emit(ctx, func(hook worker.Hook) { hook.OnSuccess(ctx, event) })
		} else {
			// The failure is already recorded on the integration.
			w.emit(ctx, func(hook worker.Hook) { hook.OnFailure(ctx, event) })
			logger.Warn("refresh failed permanently",
				"status", string(outcome.Status),
				"error", refreshErr.Error(),
			)
		}
		return delivery.Ack(ctx)
	}

	nack := w.policy.NormalizeAttempt(queue.NackOptions{Requeue: true, Reason: refreshErr.Error()}, attempt)
	event.Delay = nack.Delay
	if nack.DeadLetter {
		w.forget(key)
		w.emit(ctx, func(hook worker.Hook) { hook.OnFailure(ctx, event) })
	} else {
		w.emit(ctx, func(hook worker.Hook) { hook.OnRetry(ctx, event) })
	}
	logger.Info("refresh delivery nacked",
		"attempt", attempt,
		"requeue", nack.Requeue,
		"dead_letter", nack.DeadLetter,
	)
	return delivery.Nack(ctx, nack)
}

// Attempts reports the attempts recorded for a refresh message still in
// flight.
func (w *RefreshWorker) Attempts(integrationID string, expiresAt time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts[RefreshIdempotencyKey(integrationID, expiresAt)]
}

func (w *RefreshWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *RefreshWorker) forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func (w *RefreshWorker) emit(ctx context.Context, fn func(worker.Hook)) {
	if ctx.Err() != nil {
		return
	}
	for _, hook := range w.hooks {
		fn(hook)
	}
}

func deliveryKey(msg *job.ExecutionMessage, integrationID string) string {
	if msg != nil && strings.TrimSpace(msg.IdempotencyKey) != "" {
		return strings.TrimSpace(msg.IdempotencyKey)
	}
	return RefreshIdempotencyKey(integrationID, time.Time{})
}

func retryable(err error) bool {
	return errors.Is(err, core.ErrLeaseHeld) || errors.Is(err, core.ErrLeaseLost) || core.IsTransientProviderError(err)
}

var (
	_ RefreshService = (*core.Service)(nil)
)
