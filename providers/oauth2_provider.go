package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/identity"
)

const (
	defaultTokenTTL            = time.Hour
	defaultTokenRequestTimeout = 15 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

// UserIDResolver looks up the provider-side account id behind an access
// token. identity.Resolver satisfies it.
type UserIDResolver interface {
	ProviderUserID(ctx context.Context, providerID string, accessToken string) (string, error)
}

type OAuth2Config struct {
	ID   string
	Kind core.ProviderKind

	AuthURL     string
	TokenURL    string
	RevokeURL   string
	UserInfoURL string

	ClientID     string
	ClientSecret string
	// ClientSecretInBody sends client credentials as form fields instead of
	// HTTP basic auth.
	ClientSecretInBody bool
	// JSONTokenRequest posts token requests as a JSON document. Notion is the
	// only built-in provider that needs it.
	JSONTokenRequest bool

	ScopeSeparator string
	// OmitScopeParam leaves scope off the authorization URL for providers
	// whose permissions are picked on the consent screen.
	OmitScopeParam  bool
	ExtraAuthParams map[string]string
	Scopes          []core.ScopeDescriptor

	// TokenTTL applies when the token endpoint omits expires_in.
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          *http.Client

	UserIDResolver UserIDResolver
	// UserIDFromToken extracts the account id from a raw token response when
	// the provider includes it there.
	UserIDFromToken func(raw map[string]any) string
}

// OAuth2Provider is the authorization-code adapter shared by all variants.
type OAuth2Provider struct {
	cfg        OAuth2Config
	httpClient *http.Client
	resolver   UserIDResolver
}

func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	cfg.UserInfoURL = strings.TrimSpace(cfg.UserInfoURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("providers: auth url is required for provider %q", cfg.ID)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("providers: client id is required for provider %q", cfg.ID)
	}
	if cfg.ScopeSeparator == "" {
		cfg.ScopeSeparator = " "
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	cfg.Scopes = cloneScopes(cfg.ID, cfg.Scopes)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}
	resolver := cfg.UserIDResolver
	if resolver == nil && cfg.UserInfoURL != "" {
		resolver = identity.NewResolver(identity.Config{
			HTTPClient:     httpClient,
			RequestTimeout: cfg.TokenRequestTimeout,
			ProviderUserInfo: map[string]identity.ProviderUserInfoConfig{
				cfg.ID: {URL: cfg.UserInfoURL},
			},
		})
	}

	return &OAuth2Provider{cfg: cfg, httpClient: httpClient, resolver: resolver}, nil
}

func (p *OAuth2Provider) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

func (p *OAuth2Provider) Kind() core.ProviderKind {
	if p == nil {
		return ""
	}
	return p.cfg.Kind
}

// Scopes feeds the default scope catalog.
func (p *OAuth2Provider) Scopes() []core.ScopeDescriptor {
	if p == nil {
		return nil
	}
	return cloneScopes(p.cfg.ID, p.cfg.Scopes)
}

func (p *OAuth2Provider) BuildAuthorizationURL(_ context.Context, req core.AuthorizationURLRequest) (string, error) {
	if p == nil {
		return "", fmt.Errorf("providers: oauth2 provider is nil")
	}
	if strings.TrimSpace(req.State) == "" {
		return "", fmt.Errorf("providers: state is required")
	}
	opts := make([]oauth2.AuthCodeOption, 0, len(p.cfg.ExtraAuthParams)+3)
	if scopes := normalizeScopeList(req.Scopes); len(scopes) > 0 && !p.cfg.OmitScopeParam {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(scopes, p.cfg.ScopeSeparator)))
	}
	if challenge := strings.TrimSpace(req.CodeChallenge); challenge != "" {
		method := strings.TrimSpace(req.CodeChallengeMethod)
		if method == "" {
			method = "S256"
		}
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", method),
		)
	}
	for key, value := range p.cfg.ExtraAuthParams {
		if strings.TrimSpace(key) == "" {
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}
	return p.oauthConfig(req.RedirectURI).AuthCodeURL(req.State, opts...), nil
}

func (p *OAuth2Provider) ExchangeCode(ctx context.Context, req core.ExchangeRequest) (core.TokenSet, error) {
	const operation = "exchange"
	if p == nil {
		return core.TokenSet{}, fmt.Errorf("providers: oauth2 provider is nil")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return core.TokenSet{}, p.permanent(operation, "invalid_request", fmt.Errorf("authorization code is required"))
	}
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	if p.cfg.JSONTokenRequest {
		body := map[string]any{
			"grant_type":   "authorization_code",
			"code":         code,
			"redirect_uri": strings.TrimSpace(req.RedirectURI),
		}
		if verifier := strings.TrimSpace(req.CodeVerifier); verifier != "" {
			body["code_verifier"] = verifier
		}
		return p.postJSONToken(ctx, operation, body)
	}

	var opts []oauth2.AuthCodeOption
	if verifier := strings.TrimSpace(req.CodeVerifier); verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	token, err := p.oauthConfig(req.RedirectURI).Exchange(ctx, code, opts...)
	if err != nil {
		return core.TokenSet{}, p.classify(operation, err)
	}
	return p.tokenSetFromOAuth2(token), nil
}

func (p *OAuth2Provider) RefreshToken(ctx context.Context, refreshToken string, scopes []string) (core.TokenSet, error) {
	const operation = "refresh"
	if p == nil {
		return core.TokenSet{}, fmt.Errorf("providers: oauth2 provider is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenSet{}, p.permanent(operation, "invalid_grant", fmt.Errorf("refresh token is required"))
	}
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	if p.cfg.JSONTokenRequest {
		return p.postJSONToken(ctx, operation, map[string]any{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		})
	}

	conf := p.oauthConfig("")
	conf.Scopes = normalizeScopeList(scopes)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.TokenSet{}, p.classify(operation, err)
	}
	return p.tokenSetFromOAuth2(token), nil
}

// RevokeToken posts to the revocation endpoint. Providers without one treat
// revocation as a local-only operation.
func (p *OAuth2Provider) RevokeToken(ctx context.Context, token string) error {
	const operation = "revoke"
	if p == nil {
		return fmt.Errorf("providers: oauth2 provider is nil")
	}
	token = strings.TrimSpace(token)
	if p.cfg.RevokeURL == "" || token == "" {
		return nil
	}
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	form := url.Values{}
	form.Set("token", token)
	var body io.Reader = strings.NewReader(form.Encode())
	contentType := "application/x-www-form-urlencoded"
	if p.cfg.JSONTokenRequest {
		encoded, _ := json.Marshal(map[string]string{"token": token})
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RevokeURL, body)
	if err != nil {
		return p.permanent(operation, "", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if p.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	res, err := p.httpClient.Do(httpReq)
	if err != nil {
		return p.classify(operation, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxTokenResponseBodyBytes))
	if res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	payload, _ := decodeTokenPayload(raw, res.Header.Get("Content-Type"))
	code := readAnyString(payload["error"])
	// Revoking an already invalid token is success from our side.
	if res.StatusCode == http.StatusBadRequest && (code == "invalid_token" || code == "invalid_grant") {
		return nil
	}
	return p.statusError(operation, res.StatusCode, code, describeTokenError(payload))
}

func (p *OAuth2Provider) FetchProviderUserID(ctx context.Context, accessToken string) (string, error) {
	const operation = "userinfo"
	if p == nil {
		return "", fmt.Errorf("providers: oauth2 provider is nil")
	}
	if p.resolver == nil {
		return "", nil
	}
	id, err := p.resolver.ProviderUserID(ctx, p.cfg.ID, accessToken)
	if err != nil {
		var statusErr *identity.StatusError
		if errors.As(err, &statusErr) {
			return "", p.statusError(operation, statusErr.StatusCode, "", statusErr.Error())
		}
		if errors.Is(err, identity.ErrProfileNotFound) {
			return "", p.permanent(operation, "profile_not_found", err)
		}
		return "", p.classify(operation, err)
	}
	return id, nil
}

func (p *OAuth2Provider) oauthConfig(redirectURI string) *oauth2.Config {
	style := oauth2.AuthStyleInHeader
	if p.cfg.ClientSecretInBody {
		style = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  strings.TrimSpace(redirectURI),
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.cfg.AuthURL,
			TokenURL:  p.cfg.TokenURL,
			AuthStyle: style,
		},
	}
}

// requestContext bounds a provider call and routes x/oauth2 through the
// configured client.
func (p *OAuth2Provider) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	return context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
}

func (p *OAuth2Provider) tokenSetFromOAuth2(token *oauth2.Token) core.TokenSet {
	raw := map[string]any{}
	for _, key := range []string{"scope", "id_token", "owner", "bot_id", "workspace_id", "workspace_name"} {
		if value := token.Extra(key); value != nil {
			raw[key] = value
		}
	}
	var expiresIn int64
	if token.ExpiresIn > 0 {
		expiresIn = token.ExpiresIn
	}
	set := core.TokenSet{
		AccessToken:  strings.TrimSpace(token.AccessToken),
		RefreshToken: strings.TrimSpace(token.RefreshToken),
		TokenType:    normalizeTokenType(token.TokenType),
		ExpiresAt:    p.resolveExpiresAt(expiresIn, token.Expiry),
		Scopes:       parseScopeList(readAnyString(raw["scope"])),
	}
	set.ProviderUserID = p.userIDFromRaw(raw)
	set.Raw = publicTokenFields(raw)
	return set
}

func (p *OAuth2Provider) postJSONToken(ctx context.Context, operation string, body map[string]any) (core.TokenSet, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return core.TokenSet{}, p.permanent(operation, "", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, bytes.NewReader(encoded))
	if err != nil {
		return core.TokenSet{}, p.permanent(operation, "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)

	res, err := p.httpClient.Do(httpReq)
	if err != nil {
		return core.TokenSet{}, p.classify(operation, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxTokenResponseBodyBytes+1))
	if err != nil {
		return core.TokenSet{}, p.classify(operation, err)
	}
	if int64(len(raw)) > maxTokenResponseBodyBytes {
		return core.TokenSet{}, p.permanent(operation, "", fmt.Errorf("token response exceeds %d bytes", maxTokenResponseBodyBytes))
	}
	payload, decodeErr := decodeTokenPayload(raw, res.Header.Get("Content-Type"))
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return core.TokenSet{}, p.statusError(operation, res.StatusCode, readAnyString(payload["error"]), describeTokenError(payload))
	}
	if decodeErr != nil {
		return core.TokenSet{}, p.permanent(operation, "", fmt.Errorf("decode token response: %w", decodeErr))
	}
	if code := readAnyString(payload["error"]); code != "" {
		return core.TokenSet{}, p.permanent(operation, code, errors.New(describeTokenError(payload)))
	}
	accessToken := readAnyString(payload["access_token"])
	if accessToken == "" {
		return core.TokenSet{}, p.permanent(operation, "", fmt.Errorf("token response missing access token"))
	}
	set := core.TokenSet{
		AccessToken:  accessToken,
		RefreshToken: readAnyString(payload["refresh_token"]),
		TokenType:    normalizeTokenType(readAnyString(payload["token_type"])),
		ExpiresAt:    p.resolveExpiresAt(readAnyInt64(payload["expires_in"]), time.Time{}),
		Scopes:       parseScopeList(readAnyString(payload["scope"])),
	}
	set.ProviderUserID = p.userIDFromRaw(payload)
	set.Raw = publicTokenFields(payload)
	return set, nil
}

func (p *OAuth2Provider) userIDFromRaw(raw map[string]any) string {
	if p.cfg.UserIDFromToken != nil {
		if id := strings.TrimSpace(p.cfg.UserIDFromToken(raw)); id != "" {
			return id
		}
	}
	if idToken := readAnyString(raw["id_token"]); idToken != "" {
		if profile, err := identity.ProfileFromIDToken(p.cfg.ID, idToken); err == nil {
			return profile.Subject
		}
	}
	return ""
}

func (p *OAuth2Provider) resolveExpiresAt(expiresIn int64, expiry time.Time) time.Time {
	now := p.cfg.Now().UTC()
	switch {
	case expiresIn > 0:
		return now.Add(time.Duration(expiresIn) * time.Second)
	case !expiry.IsZero():
		return expiry.UTC()
	default:
		return now.Add(p.cfg.TokenTTL)
	}
}

// classify sorts transport and token endpoint failures into transient and
// permanent provider errors.
func (p *OAuth2Provider) classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	var providerErr *core.ProviderError
	if errors.As(err, &providerErr) {
		return err
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if status == 0 {
			return p.permanent(operation, retrieveErr.ErrorCode, err)
		}
		return p.statusError(operation, status, retrieveErr.ErrorCode, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return p.permanent(operation, "canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return p.transient(operation, 0, "timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return p.transient(operation, 0, "network", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return p.transient(operation, 0, "network", err)
	}
	return p.permanent(operation, "", err)
}

func (p *OAuth2Provider) statusError(operation string, status int, code string, message string) error {
	cause := errors.New(strings.TrimSpace(message))
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return p.transient(operation, status, code, cause)
	}
	return &core.ProviderError{
		ProviderID: p.cfg.ID,
		Operation:  operation,
		StatusCode: status,
		Code:       code,
		Cause:      cause,
	}
}

func (p *OAuth2Provider) transient(operation string, status int, code string, cause error) error {
	return &core.ProviderError{
		ProviderID: p.cfg.ID,
		Operation:  operation,
		StatusCode: status,
		Code:       code,
		Transient:  true,
		Cause:      cause,
	}
}

func (p *OAuth2Provider) permanent(operation string, code string, cause error) error {
	return &core.ProviderError{
		ProviderID: p.cfg.ID,
		Operation:  operation,
		Code:       code,
		Cause:      cause,
	}
}

func decodeTokenPayload(body []byte, contentType string) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}, fmt.Errorf("empty payload")
	}
	contentType = strings.ToLower(contentType)
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return decodeFormPayload(trimmed)
	}
	decoded := map[string]any{}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		if form, formErr := decodeFormPayload(trimmed); formErr == nil {
			return form, nil
		}
		return map[string]any{}, err
	}
	return decoded, nil
}

func decodeFormPayload(body []byte) (map[string]any, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return map[string]any{}, err
	}
	out := make(map[string]any, len(values))
	for key := range values {
		out[key] = values.Get(key)
	}
	return out, nil
}

func describeTokenError(payload map[string]any) string {
	if description := readAnyString(payload["error_description"]); description != "" {
		return description
	}
	if code := readAnyString(payload["error"]); code != "" {
		return code
	}
	if message := readAnyString(payload["message"]); message != "" {
		return message
	}
	return "unknown error"
}

// publicTokenFields drops every secret from a token response before it is
// returned to callers.
func publicTokenFields(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		switch key {
		case "access_token", "refresh_token", "id_token":
			continue
		}
		out[key] = value
	}
	return out
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func parseScopeList(value string) []string {
	return normalizeScopeList(strings.Fields(strings.ReplaceAll(value, ",", " ")))
}

func normalizeScopeList(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	return values
}

func cloneScopes(providerID string, input []core.ScopeDescriptor) []core.ScopeDescriptor {
	out := make([]core.ScopeDescriptor, 0, len(input))
	for _, descriptor := range input {
		descriptor.ProviderID = providerID
		out = append(out, descriptor)
	}
	return out
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
		if parsed, err := typed.Float64(); err == nil {
			return int64(parsed)
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

var (
	_ core.Provider    = (*OAuth2Provider)(nil)
	_ core.ScopeSource = (*OAuth2Provider)(nil)
)
