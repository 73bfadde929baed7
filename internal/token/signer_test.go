package token

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSignIsDeterministic(t *testing.T) {
	params := map[string]any{
		"TeamSlug": "demo-team",
		"Amount":   int64(100000),
		"Currency": "RUB",
		"OrderId":  "O1",
	}
	first := Sign(params, "secret")
	for i := 0; i < 10; i++ {
		if got := Sign(params, "secret"); got != first {
			t.Fatalf("Sign not deterministic: %s != %s", got, first)
		}
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}
}

func TestSignMatchesManualConcatenation(t *testing.T) {
	// Keys sorted byte-wise: Amount, Currency, OrderId, Password, TeamSlug.
	params := map[string]any{
		"TeamSlug": "demo-team",
		"Amount":   int64(100000),
		"Currency": "RUB",
		"OrderId":  "O1",
	}
	sum := sha256.Sum256([]byte("100000RUBO1s3cretdemo-team"))
	want := hex.EncodeToString(sum[:])
	if got := Sign(params, "s3cret"); got != want {
		t.Errorf("Sign = %s, want %s", got, want)
	}
}

func TestSignExcludesNonScalars(t *testing.T) {
	base := map[string]any{"OrderId": "O1", "Amount": 500}
	withNested := map[string]any{
		"OrderId": "O1",
		"Amount":  500,
		"Receipt": map[string]any{"Email": "a@b.c"},
		"Items":   []any{1, 2, 3},
		"Empty":   "",
		"Nil":     nil,
	}
	if Sign(base, "pw") != Sign(withNested, "pw") {
		t.Error("nested, empty, and nil values must not affect the token")
	}
}

func TestSignRendering(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]any
	}{
		{"bool lowercase", map[string]any{"X": true}, map[string]any{"X": "true"}},
		{"int canonical", map[string]any{"X": 42}, map[string]any{"X": "42"}},
		{"json float64 integral", map[string]any{"X": float64(100000)}, map[string]any{"X": "100000"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if Sign(tc.a, "pw") != Sign(tc.b, "pw") {
				t.Errorf("%s: renderings disagree", tc.name)
			}
		})
	}
}

func TestSignOverridesPasswordParam(t *testing.T) {
	// A caller-supplied "Password" key must not displace the real secret.
	honest := map[string]any{"OrderId": "O1"}
	forged := map[string]any{"OrderId": "O1", "Password": "guess"}
	if Sign(honest, "real") != Sign(forged, "real") {
		t.Error("caller-supplied Password key must be ignored")
	}
}

func TestVerify(t *testing.T) {
	params := map[string]any{"TeamSlug": "demo-team", "OrderId": "O1", "Amount": 1000}
	good := Sign(params, "pw")

	if !Verify(params, good, "pw") {
		t.Error("Verify rejected a valid token")
	}
	if Verify(params, good, "other") {
		t.Error("Verify accepted a token signed with a different secret")
	}
	if Verify(params, "deadbeef", "pw") {
		t.Error("Verify accepted a bogus token")
	}
	// Uppercase hex from the client still verifies.
	upper := make([]byte, len(good))
	for i := 0; i < len(good); i++ {
		c := good[i]
		if c >= 'a' && c <= 'f' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	if !Verify(params, string(upper), "pw") {
		t.Error("Verify must accept uppercase hex")
	}
}
