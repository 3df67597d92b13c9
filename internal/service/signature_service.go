package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// passwordKey is the reserved key under which the team secret is folded
// into the canonical parameter set before signing.
const passwordKey = "Password"

// SHA256SignatureService implements ports.SignatureService.
//
// The token is SHA-256 over a canonical projection of the request
// parameters: scalars only, the Token key excluded, the team password
// inserted under "Password", keys sorted by code point, values
// concatenated without separator, hex-encoded lowercase.
type SHA256SignatureService struct{}

// NewSHA256SignatureService creates a new request token service.
func NewSHA256SignatureService() *SHA256SignatureService {
	return &SHA256SignatureService{}
}

// GenerateToken computes the request token for params and the team
// password.
//
// Status lookups (PaymentId and TeamSlug present, Amount absent) do NOT
// use lexicographic order: they concatenate PaymentId, Password,
// TeamSlug in that fixed sequence. Deployed clients depend on this
// exact byte stream, so both formulas are kept.
func (s *SHA256SignatureService) GenerateToken(params map[string]interface{}, password string) string {
	var payload string
	if isStatusLookup(params) {
		paymentID, _ := scalarByKey(params, "PaymentId")
		teamSlug, _ := scalarByKey(params, "TeamSlug")
		payload = paymentID + password + teamSlug
	} else {
		payload = canonicalConcat(params, password)
	}

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ValidateToken recomputes the token and compares it with the supplied
// value in constant time. Length mismatch rejects immediately.
func (s *SHA256SignatureService) ValidateToken(params map[string]interface{}, password, token string) bool {
	expected := s.GenerateToken(params, password)
	if len(expected) != len(token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// isStatusLookup recognises a payment status request: PaymentId and
// TeamSlug present as scalars, Amount absent.
func isStatusLookup(params map[string]interface{}) bool {
	_, hasPayment := scalarByKey(params, "PaymentId")
	_, hasTeam := scalarByKey(params, "TeamSlug")
	_, hasAmount := scalarByKey(params, "Amount")
	return hasPayment && hasTeam && !hasAmount
}

// canonicalConcat flattens params to (key, scalar) pairs, drops the
// reserved Token key, adds the password, sorts keys by code point and
// concatenates the formatted values.
func canonicalConcat(params map[string]interface{}, password string) string {
	flat := make(map[string]string, len(params)+1)
	for key, value := range params {
		if strings.EqualFold(key, "token") {
			continue
		}
		str, ok := formatScalar(value)
		if !ok {
			continue // nested objects, arrays and nulls are excluded
		}
		flat[key] = str
	}
	flat[passwordKey] = password

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(flat[k])
	}
	return b.String()
}

// scalarByKey finds a scalar parameter by case-insensitive key.
func scalarByKey(params map[string]interface{}, key string) (string, bool) {
	for k, v := range params {
		if strings.EqualFold(k, key) {
			return formatScalar(v)
		}
	}
	return "", false
}

// formatScalar renders a scalar parameter the way it participates in
// the signature. JSON decoding yields float64 for every number, so
// whole floats print without a fractional part.
func formatScalar(v interface{}) (string, bool) {
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
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case time.Time:
		return t.UTC().Format(time.RFC3339), true
	default:
		return "", false
	}
}
