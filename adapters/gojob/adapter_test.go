package gojob

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestNewRefreshMessage_IdempotencyKeyTracksExpiry(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := NewRefreshMessage(core.RefreshCandidate{IntegrationID: "int-1", ExpiresAt: expiry})
	if err != nil {
		t.Fatalf("build refresh message: %v", err)
	}
	if msg.JobID != JobIDRefresh || msg.ScriptPath != ScriptPathRefresh {
		t.Fatalf("unexpected job identity: %#v", msg)
	}
	expectedKey := fmt.Sprintf("refresh:int-1:%d", expiry.Unix())
	if msg.IdempotencyKey != expectedKey {
		t.Fatalf("expected idempotency key %q, got %q", expectedKey, msg.IdempotencyKey)
	}
	if string(msg.DedupPolicy) != DedupPolicyDrop {
		t.Fatalf("expected drop dedup policy, got %q", msg.DedupPolicy)
	}

	id, err := IntegrationIDFromMessage(msg)
	if err != nil || id != "int-1" {
		t.Fatalf("expected integration id round trip, got %q err=%v", id, err)
	}

	renewed, err := NewRefreshMessage(core.RefreshCandidate{IntegrationID: "int-1", ExpiresAt: expiry.Add(time.Hour)})
	if err != nil {
		t.Fatalf("build renewed message: %v", err)
	}
	if renewed.IdempotencyKey == msg.IdempotencyKey {
		t.Fatalf("expected a renewed credential to produce a new idempotency key")
	}

	if _, err := NewRefreshMessage(core.RefreshCandidate{}); err == nil {
		t.Fatalf("expected empty integration id to be rejected")
	}
}

func TestIntegrationIDFromMessage_RejectsMalformed(t *testing.T) {
	cases := map[string]*job.ExecutionMessage{
		"nil":         nil,
		"wrong job":   {JobID: "other", Parameters: map[string]any{ParamIntegrationID: "int-1"}},
		"missing id":  {JobID: JobIDRefresh, Parameters: map[string]any{}},
		"non string":  {JobID: JobIDRefresh, Parameters: map[string]any{ParamIntegrationID: 42}},
		"blank value": {JobID: JobIDRefresh, Parameters: map[string]any{ParamIntegrationID: "  "}},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := IntegrationIDFromMessage(msg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRefreshJobEnqueuer_EnqueueDue(t *testing.T) {
	expiry := time.Now().UTC().Add(2 * time.Minute)
	svc := &stubRefreshService{
		due: []core.RefreshCandidate{
			{IntegrationID: "int-1", ExpiresAt: expiry},
			{IntegrationID: "int-2", ExpiresAt: expiry},
			{IntegrationID: "int-3", ExpiresAt: expiry},
		},
	}
	enqueuer := &stubQueueEnqueuer{failFor: "int-2"}
	adapter, err := NewRefreshJobEnqueuer(svc, enqueuer, WithEnqueueWindow(10*time.Minute), WithEnqueueBatchSize(25))
	if err != nil {
		t.Fatalf("new enqueuer: %v", err)
	}

	queued, err := adapter.EnqueueDue(context.Background())
	if err == nil {
		t.Fatalf("expected the failed enqueue to be reported")
	}
	if queued != 2 {
		t.Fatalf("expected 2 queued messages, got %d", queued)
	}
	if svc.lastWindow != 10*time.Minute || svc.lastLimit != 25 {
		t.Fatalf("expected options to reach the scan, got window=%s limit=%d", svc.lastWindow, svc.lastLimit)
	}
	if len(enqueuer.messages) != 2 || enqueuer.messages[1].Parameters[ParamIntegrationID] != "int-3" {
		t.Fatalf("expected remaining candidates to be queued, got %#v", enqueuer.messages)
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second, DeadLetterOnMax: true}

	first := policy.NormalizeAttempt(queue.NackOptions{Requeue: true}, 1)
	if first.Delay != time.Second || !first.Requeue {
		t.Fatalf("unexpected first nack: %#v", first)
	}
	second := policy.NormalizeAttempt(queue.NackOptions{Requeue: true}, 2)
	if second.Delay != 2*time.Second {
		t.Fatalf("expected doubled delay, got %s", second.Delay)
	}
	capped := policy.NormalizeAttempt(queue.NackOptions{Requeue: true, Delay: time.Minute}, 2)
	if capped.Delay != 3*time.Second {
		t.Fatalf("expected delay to be capped, got %s", capped.Delay)
	}
	last := policy.NormalizeAttempt(queue.NackOptions{Requeue: true}, 3)
	if last.Requeue || !last.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", last)
	}
}

func TestRefreshWorker_AcksSuccessAndPermanentFailure(t *testing.T) {
	svc := &stubRefreshService{
		results: map[string]refreshResult{
			"int-ok":   {outcome: core.RefreshOutcome{IntegrationID: "int-ok", Refreshed: true}},
			"int-perm": {outcome: core.RefreshOutcome{IntegrationID: "int-perm", Failed: true}, err: &core.ProviderError{ProviderID: "notion", Code: "invalid_grant"}},
		},
	}
	hook := &capturingHook{}
	w, err := NewRefreshWorker(svc, &stubQueueDequeuer{}, WithHooks(hook))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	ok := newDelivery(t, "int-ok")
	if err := w.Handle(context.Background(), ok); err != nil {
		t.Fatalf("handle success: %v", err)
	}
	if !ok.acked || hook.successes != 1 {
		t.Fatalf("expected success ack, acked=%v successes=%d", ok.acked, hook.successes)
	}

	perm := newDelivery(t, "int-perm")
	if err := w.Handle(context.Background(), perm); err != nil {
		t.Fatalf("handle permanent: %v", err)
	}
	if !perm.acked || perm.nacked {
		t.Fatalf("expected permanent failure to be acked")
	}
	if hook.failures != 1 || hook.last.Err == nil {
		t.Fatalf("expected failure hook with error, got %#v", hook.last)
	}
}

func TestRefreshWorker_RequeuesTransientUntilDeadLetter(t *testing.T) {
	transient := &core.ProviderError{ProviderID: "google_calendar", StatusCode: 503, Transient: true}
	svc := &stubRefreshService{
		results: map[string]refreshResult{
			"int-1": {outcome: core.RefreshOutcome{IntegrationID: "int-1", Failed: true}, err: transient},
		},
	}
	hook := &capturingHook{}
	w, err := NewRefreshWorker(svc, &stubQueueDequeuer{}, WithHooks(hook), WithRetryPolicy(RetryPolicy{
		MaxAttempts:     2,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	}))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	first := newDelivery(t, "int-1")
	if err := w.Handle(context.Background(), first); err != nil {
		t.Fatalf("handle first: %v", err)
	}
	if !first.nacked || !first.nackOpts.Requeue || first.nackOpts.Delay != time.Second {
		t.Fatalf("expected requeue with base delay, got %#v", first.nackOpts)
	}
	if hook.retries != 1 || hook.last.Attempt != 1 {
		t.Fatalf("expected retry hook on attempt 1, got retries=%d attempt=%d", hook.retries, hook.last.Attempt)
	}

	second := newDelivery(t, "int-1")
	if err := w.Handle(context.Background(), second); err != nil {
		t.Fatalf("handle second: %v", err)
	}
	if !second.nackOpts.DeadLetter || second.nackOpts.Requeue {
		t.Fatalf("expected dead letter on the last attempt, got %#v", second.nackOpts)
	}
	if w.Attempts("int-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) != 0 {
		t.Fatalf("expected attempt tracking to be cleared after dead letter")
	}
}

func TestRefreshWorker_RevokedOutcomeIsAcked(t *testing.T) {
	svc := &stubRefreshService{
		results: map[string]refreshResult{
			"int-1": {
				outcome: core.RefreshOutcome{IntegrationID: "int-1", Failed: true, Revoked: true},
				err:     &core.ProviderError{ProviderID: "notion", Transient: true},
			},
		},
	}
	w, err := NewRefreshWorker(svc, &stubQueueDequeuer{})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	delivery := newDelivery(t, "int-1")
	if err := w.Handle(context.Background(), delivery); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected revoked integration delivery to be acked")
	}
}

func TestRefreshWorker_ProcessNextDeadLettersMalformed(t *testing.T) {
	malformed := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRefresh}}
	w, err := NewRefreshWorker(&stubRefreshService{}, &stubQueueDequeuer{delivery: malformed})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if !malformed.nackOpts.DeadLetter {
		t.Fatalf("expected malformed message to be dead-lettered")
	}
}

func TestRefreshWorker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dequeuer := &stubQueueDequeuer{err: errors.New("queue empty"), onDequeue: cancel}
	w, err := NewRefreshWorker(&stubRefreshService{}, dequeuer, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := w.Run(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}

type refreshResult struct {
	outcome core.RefreshOutcome
	err     error
}

type stubRefreshService struct {
	due        []core.RefreshCandidate
	results    map[string]refreshResult
	lastWindow time.Duration
	lastLimit  int
}

func (s *stubRefreshService) ListDueForRefresh(_ context.Context, window time.Duration, limit int) ([]core.RefreshCandidate, error) {
	s.lastWindow = window
	s.lastLimit = limit
	return s.due, nil
}

func (s *stubRefreshService) RefreshIntegration(_ context.Context, integrationID string) (core.RefreshOutcome, error) {
	result, ok := s.results[integrationID]
	if !ok {
		return core.RefreshOutcome{IntegrationID: integrationID, Skipped: true, SkipReason: "fresh"}, nil
	}
	return result.outcome, result.err
}

type stubQueueEnqueuer struct {
	failFor  string
	messages []*job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg.Parameters[ParamIntegrationID] == s.failFor {
		return errors.New("queue unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

type stubQueueDequeuer struct {
	delivery  queue.Delivery
	err       error
	onDequeue func()
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	if s.onDequeue != nil {
		s.onDequeue()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func newDelivery(t *testing.T, integrationID string) *stubQueueDelivery {
	t.Helper()
	msg, err := NewRefreshMessage(core.RefreshCandidate{
		IntegrationID: integrationID,
		ExpiresAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("build delivery: %v", err)
	}
	return &stubQueueDelivery{msg: msg}
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	successes int
	failures  int
	retries   int
	last      worker.Event
}

func (h *capturingHook) OnStart(context.Context, worker.Event) {}

func (h *capturingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.successes++
	h.last = event
}

func (h *capturingHook) OnFailure(_ context.Context, event worker.Event) {
	h.failures++
	h.last = event
}

func (h *capturingHook) OnRetry(_ context.Context, event worker.Event) {
	h.retries++
	h.last = event
}

var _ worker.Hook = (*capturingHook)(nil)
