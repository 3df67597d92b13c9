package service

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestGenerateToken_StatusLookupUsesFixedOrder(t *testing.T) {
	svc := NewSHA256SignatureService()

	// PaymentId + TeamSlug without Amount: fixed sequence
	// PaymentId . Password . TeamSlug, NOT lexicographic.
	params := map[string]interface{}{
		"TeamSlug":  "acme",
		"PaymentId": "P",
	}
	token := svc.GenerateToken(params, "pw")
	assert.Equal(t, sha256Hex("P"+"pw"+"acme"), token)
}

func TestGenerateToken_LexicographicOrder(t *testing.T) {
	svc := NewSHA256SignatureService()

	// With Amount present the general formula applies: keys sorted by
	// code point (Amount, Password, PaymentId, TeamSlug), values
	// concatenated.
	params := map[string]interface{}{
		"TeamSlug":  "acme",
		"PaymentId": "P",
		"Amount":    100,
	}
	token := svc.GenerateToken(params, "pw")
	assert.Equal(t, sha256Hex("100"+"pw"+"P"+"acme"), token)
}

func TestGenerateToken_Deterministic(t *testing.T) {
	svc := NewSHA256SignatureService()
	params := map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "o-1",
		"Amount":   int64(2500),
		"Currency": "RUB",
	}
	first := svc.GenerateToken(params, "secret")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, svc.GenerateToken(params, "secret"))
	}
}

func TestGenerateToken_TokenKeyExcluded(t *testing.T) {
	svc := NewSHA256SignatureService()
	params := map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "o-1",
		"Amount":   100,
	}
	base := svc.GenerateToken(params, "pw")

	// sign(params + {Token: sign(params)}) == sign(params)
	withToken := map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "o-1",
		"Amount":   100,
		"Token":    base,
	}
	assert.Equal(t, base, svc.GenerateToken(withToken, "pw"))

	// Case-insensitive exclusion.
	withToken["token"] = base
	delete(withToken, "Token")
	assert.Equal(t, base, svc.GenerateToken(withToken, "pw"))
}

func TestGenerateToken_ComplexValuesElided(t *testing.T) {
	svc := NewSHA256SignatureService()
	plain := map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "o-1",
		"Amount":   100,
	}
	withComplex := map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "o-1",
		"Amount":   100,
		"Receipt":  map[string]interface{}{"Email": "a@b.c"},
		"Items":    []interface{}{"a", "b"},
		"Comment":  nil,
	}
	assert.Equal(t, svc.GenerateToken(plain, "pw"), svc.GenerateToken(withComplex, "pw"))
}

func TestGenerateToken_ScalarFormatting(t *testing.T) {
	svc := NewSHA256SignatureService()

	// JSON numbers arrive as float64; whole values must print without a
	// fractional part.
	fromJSON := map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "o-1",
		"Amount":   float64(100),
	}
	fromInt := map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "o-1",
		"Amount":   100,
	}
	assert.Equal(t, svc.GenerateToken(fromInt, "pw"), svc.GenerateToken(fromJSON, "pw"))

	// Booleans and timestamps participate as canonical strings.
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	params := map[string]interface{}{
		"TeamSlug":  "acme",
		"OrderId":   "o-1",
		"Amount":    1,
		"Recurrent": true,
		"DueDate":   ts,
	}
	// Keys sorted: Amount, DueDate, OrderId, Password, Recurrent, TeamSlug.
	assert.Equal(t,
		sha256Hex("1"+"2026-03-01T12:00:00Z"+"o-1"+"pw"+"true"+"acme"),
		svc.GenerateToken(params, "pw"))
}

func TestValidateToken(t *testing.T) {
	svc := NewSHA256SignatureService()
	params := map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "o-1",
		"Amount":   100,
	}
	token := svc.GenerateToken(params, "pw")

	assert.True(t, svc.ValidateToken(params, "pw", token))
	assert.False(t, svc.ValidateToken(params, "wrong", token))
	assert.False(t, svc.ValidateToken(params, "pw", token[:32]), "length mismatch must reject")
	assert.False(t, svc.ValidateToken(params, "pw", ""))

	tampered := map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "o-1",
		"Amount":   101,
	}
	assert.False(t, svc.ValidateToken(tampered, "pw", token))
}

func TestIsStatusLookup(t *testing.T) {
	assert.True(t, isStatusLookup(map[string]interface{}{
		"PaymentId": "P", "TeamSlug": "acme",
	}))
	assert.False(t, isStatusLookup(map[string]interface{}{
		"PaymentId": "P", "TeamSlug": "acme", "Amount": 100,
	}))
	assert.False(t, isStatusLookup(map[string]interface{}{
		"TeamSlug": "acme", "OrderId": "o-1",
	}))
}
