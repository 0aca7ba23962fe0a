package core

import (
	"context"
	"net/http"
	"testing"
)

func newTestRequest() (*http.Request, error) {
	return http.NewRequest(http.MethodGet, "https://www.googleapis.com/calendar/v3/users/me/calendarList", nil)
}

func TestBearerTokenSigner(t *testing.T) {
	req, err := newTestRequest()
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := (BearerTokenSigner{}).Sign(context.Background(), req, AccessToken{Token: " tok "}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Fatalf("unexpected header %q", got)
	}
	if err := (BearerTokenSigner{}).Sign(context.Background(), req, AccessToken{}); err == nil {
		t.Fatalf("expected empty token to fail")
	}
	if err := (BearerTokenSigner{}).Sign(context.Background(), nil, AccessToken{Token: "tok"}); err == nil {
		t.Fatalf("expected nil request to fail")
	}
}
