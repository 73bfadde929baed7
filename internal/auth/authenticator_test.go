package auth

import (
	"context"
	"testing"
	"time"

	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/internal/merchant"
	"github.com/cardflow/gateway/internal/token"
)

func newTestDirectory(t *testing.T, active bool) merchant.Directory {
	t.Helper()
	d := merchant.NewMemoryDirectory(merchant.DefaultLockoutPolicy())
	err := d.Upsert(context.Background(), merchant.Merchant{
		TeamID:   "team-1",
		TeamSlug: "demo-team",
		Secret:   "s3cret",
		IsActive: active,
	})
	if err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	return d
}

func signedParams(secret string) (map[string]any, string) {
	params := map[string]any{
		"TeamSlug": "demo-team",
		"Amount":   int64(100000),
		"OrderId":  "order-1",
		"Currency": "RUB",
	}
	return params, token.Sign(params, secret)
}

func TestAuthenticateSuccess(t *testing.T) {
	a := NewAuthenticator(newTestDirectory(t, true))
	params, tok := signedParams("s3cret")

	m, authErr := a.Authenticate(context.Background(), "demo-team", tok, params)
	if authErr != nil {
		t.Fatalf("Authenticate: %v", authErr)
	}
	if m.TeamID != "team-1" {
		t.Errorf("TeamID = %q, want team-1", m.TeamID)
	}
}

func TestAuthenticateWrongToken(t *testing.T) {
	a := NewAuthenticator(newTestDirectory(t, true))
	params, _ := signedParams("s3cret")

	_, authErr := a.Authenticate(context.Background(), "demo-team", "deadbeef", params)
	if authErr == nil || authErr.Code != errors.CodeInvalidToken {
		t.Fatalf("error = %v, want code %s", authErr, errors.CodeInvalidToken)
	}
}

func TestAuthenticateUnknownTeamSameCode(t *testing.T) {
	a := NewAuthenticator(newTestDirectory(t, true))
	params, tok := signedParams("s3cret")

	_, authErr := a.Authenticate(context.Background(), "no-such-team", tok, params)
	if authErr == nil || authErr.Code != errors.CodeInvalidToken {
		t.Fatalf("error = %v, want code %s for unknown team", authErr, errors.CodeInvalidToken)
	}
}

func TestAuthenticateInactiveTerminal(t *testing.T) {
	a := NewAuthenticator(newTestDirectory(t, false))
	params, tok := signedParams("s3cret")

	_, authErr := a.Authenticate(context.Background(), "demo-team", tok, params)
	if authErr == nil || authErr.Code != errors.CodeTerminalInactive {
		t.Fatalf("error = %v, want code %s", authErr, errors.CodeTerminalInactive)
	}
}

func TestAuthenticateLockoutFlow(t *testing.T) {
	d := newTestDirectory(t, true)
	a := NewAuthenticator(d)
	params, tok := signedParams("s3cret")
	ctx := context.Background()

	for i := 0; i < merchant.DefaultLockoutPolicy().MaxFailures; i++ {
		_, authErr := a.Authenticate(ctx, "demo-team", "deadbeef", params)
		if authErr == nil || authErr.Code != errors.CodeInvalidToken {
			t.Fatalf("attempt %d: error = %v, want invalid token", i, authErr)
		}
	}

	// Even the correct token is rejected while the lockout holds.
	_, authErr := a.Authenticate(ctx, "demo-team", tok, params)
	if authErr == nil || authErr.Code != errors.CodeTeamLocked {
		t.Fatalf("error = %v, want code %s after lockout", authErr, errors.CodeTeamLocked)
	}
}

func TestAuthenticateSuccessResetsCounter(t *testing.T) {
	d := newTestDirectory(t, true)
	a := NewAuthenticator(d)
	params, tok := signedParams("s3cret")
	ctx := context.Background()

	for i := 0; i < merchant.DefaultLockoutPolicy().MaxFailures-1; i++ {
		a.Authenticate(ctx, "demo-team", "deadbeef", params)
	}
	if _, authErr := a.Authenticate(ctx, "demo-team", tok, params); authErr != nil {
		t.Fatalf("Authenticate: %v", authErr)
	}

	m, err := d.Lookup(ctx, "demo-team")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if m.FailedAuthAttempts != 0 {
		t.Errorf("FailedAuthAttempts = %d after success, want 0", m.FailedAuthAttempts)
	}
	if m.Locked(time.Now()) {
		t.Error("merchant locked after successful auth")
	}
}
