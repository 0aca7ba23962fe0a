package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRequestTimeout   = 10 * time.Second
	maxProfileResponseBytes = 1 << 20 // 1 MiB

	GoogleIssuer      = "https://accounts.google.com"
	GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	NotionIssuer      = "https://api.notion.com"
	NotionUserInfoURL = "https://api.notion.com/v1/users/me"
	NotionAPIVersion  = "2022-06-28"

	TextCodeProfileNotFound = "INTEGRATION_PROFILE_NOT_FOUND"
)

var ErrProfileNotFound = errors.New("identity: profile not found")

type ProfileNotFoundError struct {
	Cause error
}

func (e *ProfileNotFoundError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrProfileNotFound.Error()
	}
	return ErrProfileNotFound.Error() + ": " + e.Cause.Error()
}

func (e *ProfileNotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return ErrProfileNotFound
	}
	return errors.Join(ErrProfileNotFound, e.Cause)
}

func (e *ProfileNotFoundError) ToServiceError() *goerrors.Error {
	message := ErrProfileNotFound.Error()
	if e != nil && e.Cause != nil {
		message = e.Error()
	}
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(TextCodeProfileNotFound)
}

func profileNotFound(cause error) error {
	return &ProfileNotFoundError{Cause: cause}
}

// StatusError reports a non-2xx response from a profile endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity: profile endpoint returned status %d", e.StatusCode)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UserProfile is what a provider says about the account that granted access.
// Subject is the opaque provider-side user id.
type UserProfile struct {
	ProviderID string
	Issuer     string
	Subject    string
	Email      string
	Name       string
	Raw        map[string]any
}

type ProfileNormalizer func(providerID string, issuer string, payload map[string]any) UserProfile

type ProviderUserInfoConfig struct {
	URL        string
	Issuer     string
	Headers    map[string]string
	Normalizer ProfileNormalizer
}

type Config struct {
	HTTPClient       HTTPDoer
	RequestTimeout   time.Duration
	ProviderUserInfo map[string]ProviderUserInfoConfig
}

type Resolver struct {
	httpClient       HTTPDoer
	requestTimeout   time.Duration
	providerUserInfo map[string]ProviderUserInfoConfig
}

func NewResolver(cfg Config) *Resolver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	providerUserInfo := defaultProviderUserInfoConfigs()
	for key, value := range cfg.ProviderUserInfo {
		normalizedID := normalizeProviderID(key)
		if normalizedID == "" {
			continue
		}
		providerUserInfo[normalizedID] = ProviderUserInfoConfig{
			URL:        strings.TrimSpace(value.URL),
			Issuer:     strings.TrimSpace(value.Issuer),
			Headers:    value.Headers,
			Normalizer: value.Normalizer,
		}
	}

	return &Resolver{
		httpClient:       httpClient,
		requestTimeout:   requestTimeout,
		providerUserInfo: providerUserInfo,
	}
}

func DefaultResolver() *Resolver {
	return NewResolver(Config{})
}

// Resolve looks up the profile behind accessToken. An id_token in metadata
// wins over a network round trip.
func (r *Resolver) Resolve(ctx context.Context, providerID string, accessToken string, metadata map[string]any) (UserProfile, error) {
	if r == nil {
		return UserProfile{}, profileNotFound(nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	normalizedProviderID := normalizeProviderID(providerID)

	if idToken := readString(metadata["id_token"]); idToken != "" {
		if profile, err := ProfileFromIDToken(normalizedProviderID, idToken); err == nil {
			return profile, nil
		}
	}

	endpointConfig, ok := r.providerUserInfo[normalizedProviderID]
	userInfoURL := readString(metadata["userinfo_endpoint"])
	if userInfoURL == "" && ok {
		userInfoURL = endpointConfig.URL
	}
	if userInfoURL == "" {
		return UserProfile{}, profileNotFound(fmt.Errorf("identity: no userinfo endpoint for %q", normalizedProviderID))
	}

	payload, err := r.fetchUserInfo(ctx, userInfoURL, strings.TrimSpace(accessToken), endpointConfig.Headers)
	if err != nil {
		return UserProfile{}, err
	}

	issuer := readString(payload["iss"])
	if issuer == "" {
		issuer = endpointConfig.Issuer
	}
	normalizer := endpointConfig.Normalizer
	if normalizer == nil {
		normalizer = NormalizeOIDCProfile
	}
	profile := normalizer(normalizedProviderID, issuer, payload)
	if strings.TrimSpace(profile.Subject) == "" {
		return UserProfile{}, profileNotFound(nil)
	}
	return profile, nil
}

// ProviderUserID resolves only the opaque subject.
func (r *Resolver) ProviderUserID(ctx context.Context, providerID string, accessToken string) (string, error) {
	profile, err := r.Resolve(ctx, providerID, accessToken, nil)
	if err != nil {
		return "", err
	}
	return profile.Subject, nil
}

func defaultProviderUserInfoConfigs() map[string]ProviderUserInfoConfig {
	google := ProviderUserInfoConfig{URL: GoogleUserInfoURL, Issuer: GoogleIssuer}
	return map[string]ProviderUserInfoConfig{
		"google_calendar": google,
		"google_gmail":    google,
		"google_youtube":  google,
		"notion": {
			URL:        NotionUserInfoURL,
			Issuer:     NotionIssuer,
			Headers:    map[string]string{"Notion-Version": NotionAPIVersion},
			Normalizer: NormalizeNotionProfile,
		},
	}
}

func (r *Resolver) fetchUserInfo(ctx context.Context, endpoint string, accessToken string, headers map[string]string) (map[string]any, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("identity: access token is required")
	}
	requestCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxProfileResponseBytes+1))
	if readErr != nil {
		return nil, fmt.Errorf("identity: read profile response: %w", readErr)
	}
	if int64(len(body)) > maxProfileResponseBytes {
		return nil, fmt.Errorf("identity: profile response exceeds %d bytes", maxProfileResponseBytes)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: res.StatusCode, Body: string(body)}
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, profileNotFound(fmt.Errorf("identity: decode profile response: %w", err))
	}
	return payload, nil
}

// ProfileFromIDToken reads the claims of an id_token without verifying its
// signature. It is only used on tokens received directly from the token
// endpoint over TLS.
func ProfileFromIDToken(providerID string, idToken string) (UserProfile, error) {
	payload, err := decodeJWTPayload(idToken)
	if err != nil {
		return UserProfile{}, err
	}
	issuer := readString(payload["iss"])
	if issuer == "" {
		issuer = defaultIssuerForProvider(providerID)
	}
	profile := NormalizeOIDCProfile(providerID, issuer, payload)
	if profile.Subject == "" {
		return UserProfile{}, fmt.Errorf("identity: id_token is missing subject")
	}
	return profile, nil
}

func decodeJWTPayload(token string) (map[string]any, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("identity: invalid id_token format")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("identity: decode id_token payload: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("identity: decode id_token claims: %w", err)
	}
	return payload, nil
}

func NormalizeOIDCProfile(providerID string, issuer string, payload map[string]any) UserProfile {
	profile := UserProfile{
		ProviderID: normalizeProviderID(providerID),
		Issuer:     strings.TrimSpace(issuer),
		Subject:    readString(payload["sub"]),
		Email:      readString(payload["email"]),
		Name:       readString(payload["name"]),
		Raw:        copyMap(payload),
	}
	if profile.Name == "" {
		profile.Name = strings.TrimSpace(readString(payload["given_name"]) + " " + readString(payload["family_name"]))
	}
	return profile
}

// NormalizeNotionProfile handles /v1/users/me, which describes the bot of the
// integration. The granting person sits under bot.owner.user.
func NormalizeNotionProfile(providerID string, issuer string, payload map[string]any) UserProfile {
	profile := UserProfile{
		ProviderID: normalizeProviderID(providerID),
		Issuer:     strings.TrimSpace(issuer),
		Raw:        copyMap(payload),
	}
	if owner := NotionOwnerUser(payload); owner != nil {
		profile.Subject = readString(owner["id"])
		profile.Name = readString(owner["name"])
		if person, ok := owner["person"].(map[string]any); ok {
			profile.Email = readString(person["email"])
		}
	}
	if profile.Subject == "" {
		profile.Subject = readString(payload["id"])
		profile.Name = readString(payload["name"])
	}
	return profile
}

// NotionOwnerUser digs owner.user out of either a users/me payload or a
// token response.
func NotionOwnerUser(payload map[string]any) map[string]any {
	owner, _ := payload["owner"].(map[string]any)
	if owner == nil {
		if bot, ok := payload["bot"].(map[string]any); ok {
			owner, _ = bot["owner"].(map[string]any)
		}
	}
	if owner == nil {
		return nil
	}
	user, _ := owner["user"].(map[string]any)
	return user
}

func defaultIssuerForProvider(providerID string) string {
	switch normalizeProviderID(providerID) {
	case "google_calendar", "google_gmail", "google_youtube":
		return GoogleIssuer
	case "notion":
		return NotionIssuer
	default:
		return ""
	}
}

func normalizeProviderID(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

func copyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return map[string]any{}
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func readString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}
