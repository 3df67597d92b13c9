package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"payment-gateway-core/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/Init", nil)
	return c, w
}

func TestOK(t *testing.T) {
	c, w := setup()
	OK(c, map[string]string{"paymentId": "p-1"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.NotEmpty(t, resp.RequestID)
}

func TestError_AppError(t *testing.T) {
	c, w := setup()
	Error(c, apperror.ErrInvalidState("NEW", "Confirm"))

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "INVALID_STATE", resp.ErrorCode)
	// The wrapped cause (from/event) stays out of the body.
	assert.NotContains(t, resp.ErrorMessage, "NEW")
}

func TestError_UnknownError(t *testing.T) {
	c, w := setup()
	Error(c, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INTERNAL_ERROR", resp.ErrorCode)
	assert.NotContains(t, resp.ErrorMessage, "connection refused")
}

func TestRequestIDPassthrough(t *testing.T) {
	c, w := setup()
	c.Set("request_id", "req-42")
	OK(c, nil)

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "req-42", resp.RequestID)
}
