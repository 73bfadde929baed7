// Package token implements the request-signing scheme merchants use to
// authenticate server-to-server calls. A token is the SHA-256 of the
// byte-sorted scalar request parameters with the merchant secret mixed in
// under the "Password" key.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// passwordKey is the reserved key the merchant secret is inserted under
// before sorting. A request parameter with this name is overwritten.
const passwordKey = "Password"

// Sign computes the authentication token for the given request parameters.
//
// Non-scalar values (nested objects, arrays) and empty values are excluded
// so that the token is stable across client-side JSON serializers. The
// remaining entries are sorted by key with byte-wise comparison and their
// rendered values concatenated with no separator before hashing.
func Sign(params map[string]any, secret string) string {
	entries := make([]struct{ key, val string }, 0, len(params)+1)
	for k, v := range params {
		if k == passwordKey {
			continue
		}
		s, ok := renderScalar(v)
		if !ok || s == "" {
			continue
		}
		entries = append(entries, struct{ key, val string }{k, s})
	}
	entries = append(entries, struct{ key, val string }{passwordKey, secret})

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.val)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the token and compares it to the expected value in
// constant time.
func Verify(params map[string]any, expected, secret string) bool {
	computed := Sign(params, secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(expected))) == 1
}

// renderScalar converts a scalar parameter to its canonical string form.
// Booleans render lowercase, integers in plain decimal. JSON numbers arrive
// as float64; integral values render without a fractional part.
func renderScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return renderScalar(float64(t))
	default:
		// Nested maps, slices, nil: excluded from signing by contract.
		return "", false
	}
}
