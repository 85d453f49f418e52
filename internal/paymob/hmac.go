// Package paymob verifies the keyed digests Paymob attaches to transaction
// notifications, both for the server-to-server webhook and the browser callback.
package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrSecretMissing    = errors.New("paymob hmac secret is not configured")
	ErrInvalidSignature = errors.New("invalid signature")
)

// signedFields is the provider-defined concatenation order. Dotted paths
// resolve through nested objects.
var signedFields = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) Configured() bool { return v.secret != "" }

// Verify checks the signature of a webhook transaction object.
func (v *Verifier) Verify(obj map[string]any, signature string) error {
	if v.secret == "" {
		return ErrSecretMissing
	}
	return compare(Sign(CanonicalString(obj), v.secret), signature)
}

// VerifyQuery checks the signature of a browser callback. The callback
// carries the same fields flattened into the query string, except order.id
// which arrives as "order".
func (v *Verifier) VerifyQuery(q url.Values, signature string) error {
	if v.secret == "" {
		return ErrSecretMissing
	}
	return compare(Sign(CanonicalQueryString(q), v.secret), signature)
}

func compare(expected, provided string) error {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the lowercase hex HMAC-SHA512 of data.
func Sign(data, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func CanonicalString(obj map[string]any) string {
	var b strings.Builder
	for _, path := range signedFields {
		v, _ := Lookup(obj, path)
		b.WriteString(Stringify(v))
	}
	return b.String()
}

func CanonicalQueryString(q url.Values) string {
	var b strings.Builder
	for _, path := range signedFields {
		key := path
		if path == "order.id" {
			key = "order"
		}
		b.WriteString(q.Get(key))
	}
	return b.String()
}

// Lookup resolves a dotted path through nested JSON objects.
func Lookup(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a decoded JSON value the way the provider does when it
// builds the signed string. Numbers should be decoded with UseNumber so that
// their text survives unchanged.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
