package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testProviderID  = "google_calendar"
	testUserID      = "user-1"
	testRedirectURI = "https://app.example.com/oauth/callback"
	nativeReadScope = "https://www.googleapis.com/auth/calendar.readonly"
	nativeFullScope = "https://www.googleapis.com/auth/calendar"
)

type fakeProvider struct {
	id   string
	kind ProviderKind
	now  func() time.Time

	exchangeFn func(ctx context.Context, req ExchangeRequest) (TokenSet, error)
	refreshFn  func(ctx context.Context, refreshToken string, scopes []string) (TokenSet, error)
	revokeFn   func(ctx context.Context, token string) error

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	revokeCalls   atomic.Int32
	userInfoCalls atomic.Int32

	mu         sync.Mutex
	lastAuth   AuthorizationURLRequest
	lastVerify string
}

func newFakeProvider(now func() time.Time) *fakeProvider {
	return &fakeProvider{id: testProviderID, kind: ProviderKindCalendar, now: now}
}

func (p *fakeProvider) ID() string         { return p.id }
func (p *fakeProvider) Kind() ProviderKind { return p.kind }

func (p *fakeProvider) Scopes() []ScopeDescriptor {
	return []ScopeDescriptor{
		{ProviderID: p.id, ScopeID: "calendar.read", ProviderScope: nativeReadScope, DisplayName: "Read calendars", Required: true},
		{ProviderID: p.id, ScopeID: "calendar.write", ProviderScope: nativeFullScope, DisplayName: "Manage calendars", Dangerous: true},
	}
}

func (p *fakeProvider) BuildAuthorizationURL(_ context.Context, req AuthorizationURLRequest) (string, error) {
	p.mu.Lock()
	p.lastAuth = req
	p.mu.Unlock()
	query := url.Values{}
	query.Set("state", req.State)
	query.Set("redirect_uri", req.RedirectURI)
	query.Set("scope", strings.Join(req.Scopes, " "))
	query.Set("code_challenge", req.CodeChallenge)
	query.Set("code_challenge_method", req.CodeChallengeMethod)
	return "https://accounts.example.com/o/oauth2/auth?" + query.Encode(), nil
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, req ExchangeRequest) (TokenSet, error) {
	p.exchangeCalls.Add(1)
	p.mu.Lock()
	p.lastVerify = req.CodeVerifier
	p.mu.Unlock()
	if p.exchangeFn != nil {
		return p.exchangeFn(ctx, req)
	}
	return TokenSet{
		AccessToken:  "access-" + req.Code,
		RefreshToken: "refresh-" + req.Code,
		TokenType:    "Bearer",
		ExpiresAt:    p.now().Add(time.Hour),
		Scopes:       []string{nativeReadScope},
	}, nil
}

func (p *fakeProvider) RefreshToken(ctx context.Context, refreshToken string, scopes []string) (TokenSet, error) {
	calls := p.refreshCalls.Add(1)
	if p.refreshFn != nil {
		return p.refreshFn(ctx, refreshToken, scopes)
	}
	return TokenSet{
		AccessToken: fmt.Sprintf("access-refreshed-%d", calls),
		TokenType:   "Bearer",
		ExpiresAt:   p.now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) RevokeToken(ctx context.Context, token string) error {
	p.revokeCalls.Add(1)
	if p.revokeFn != nil {
		return p.revokeFn(ctx, token)
	}
	return nil
}

func (p *fakeProvider) FetchProviderUserID(context.Context, string) (string, error) {
	p.userInfoCalls.Add(1)
	return "provider-user-1", nil
}

func (p *fakeProvider) verifier() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastVerify
}

func (p *fakeProvider) authRequest() AuthorizationURLRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuth
}

// testCipher binds ciphertext to the integration id so a swapped row fails to
// open.
type testCipher struct{}

func (testCipher) Encrypt(_ context.Context, integrationID string, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test cipher: plaintext is required")
	}
	return []byte("enc:" + integrationID + ":" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testCipher) Decrypt(_ context.Context, integrationID string, ciphertext []byte) ([]byte, error) {
	prefix := "enc:" + integrationID + ":"
	value := string(ciphertext)
	if !strings.HasPrefix(value, prefix) {
		return nil, fmt.Errorf("test cipher: ciphertext not bound to %s", integrationID)
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
}

func (testCipher) Metadata() (string, int) {
	return "test-key", 1
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type serviceFixture struct {
	service  *Service
	provider *fakeProvider
	stores   *MemoryStores
	clock    *testClock
}

func fastRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoffScheduler{Initial: time.Millisecond, Max: 2 * time.Millisecond},
	}
}

func newServiceFixture(t *testing.T, opts ...Option) *serviceFixture {
	t.Helper()
	clock := newTestClock()
	provider := newFakeProvider(clock.Now)
	stores := NewMemoryStores(defaultStateTTL)

	base := []Option{
		WithRegistry(NewProviderRegistry(provider)),
		WithRepositoryFactory(stores),
		WithCredentialCipher(testCipher{}),
		WithClock(clock.Now),
		WithRetryPolicy(fastRetryPolicy()),
		WithLogger(stubLogger{}),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &serviceFixture{service: svc, provider: provider, stores: stores, clock: clock}
}

// connect runs a full initiate/callback round trip and returns the new
// integration id.
func (f *serviceFixture) connect(t *testing.T, userID string, scopes ...string) string {
	t.Helper()
	if len(scopes) == 0 {
		scopes = []string{"calendar.read"}
	}
	ctx := context.Background()
	initiated, err := f.service.Initiate(ctx, InitiateRequest{
		UserID:      userID,
		ProviderID:  testProviderID,
		Scopes:      scopes,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	resp, err := f.service.Callback(ctx, CallbackRequest{
		Code:       "code-" + userID,
		State:      initiated.State,
		ProviderID: testProviderID,
		Evidence:   ConsentEvidence{IPAddress: "203.0.113.7", UserAgent: "test-agent", ConsentVersion: "v1"},
	})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if resp.Status != IntegrationStatusActive {
		t.Fatalf("expected active integration, got %s", resp.Status)
	}
	return resp.IntegrationID
}

func (f *serviceFixture) integration(t *testing.T, id string) Integration {
	t.Helper()
	record, err := f.stores.IntegrationStore().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get integration %s: %v", id, err)
	}
	return record
}

func (f *serviceFixture) auditActions(t *testing.T, integrationID string) []AuditAction {
	t.Helper()
	events, err := f.stores.AuditStore().List(context.Background(), AuditFilter{IntegrationID: integrationID, Limit: 1000})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	actions := make([]AuditAction, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		actions = append(actions, events[i].Action)
	}
	return actions
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

func containsAction(actions []AuditAction, want AuditAction) bool {
	for _, action := range actions {
		if action == want {
			return true
		}
	}
	return false
}
