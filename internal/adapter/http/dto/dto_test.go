package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenPreservesIntegerFormatting(t *testing.T) {
	body := []byte(`{"TeamSlug":"acme","Amount":19900,"Rate":1.5,"Token":"abc"}`)

	params, err := Flatten(body)
	require.NoError(t, err)

	amount, ok := params["Amount"].(json.Number)
	require.True(t, ok)
	assert.Equal(t, "19900", amount.String())

	rate, ok := params["Rate"].(json.Number)
	require.True(t, ok)
	assert.Equal(t, "1.5", rate.String())
}

func TestFlattenRejectsNonObject(t *testing.T) {
	_, err := Flatten([]byte(`[1,2,3]`))
	assert.Error(t, err)

	_, err = Flatten([]byte(`not json`))
	assert.Error(t, err)
}

func TestStringParamCaseInsensitive(t *testing.T) {
	params := map[string]interface{}{"teamslug": "acme", "Token": "abc"}

	v, ok := StringParam(params, "TeamSlug")
	require.True(t, ok)
	assert.Equal(t, "acme", v)

	_, ok = StringParam(params, "PaymentId")
	assert.False(t, ok)
}
