package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthCheck_AllHealthy(t *testing.T) {
	ctrl := gomock.NewController(t)
	pg := mocks.NewMockHealthChecker(ctrl)
	rd := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Name().Return("postgres")
	pg.EXPECT().Check(gomock.Any()).Return(nil)
	rd.EXPECT().Name().Return("redis")
	rd.EXPECT().Check(gomock.Any()).Return(nil)

	r := gin.New()
	r.GET("/healthz", HealthCheck(pg, rd))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Checks["postgres"])
	assert.Equal(t, "healthy", body.Checks["redis"])
}

func TestHealthCheck_OneFailing(t *testing.T) {
	ctrl := gomock.NewController(t)
	pg := mocks.NewMockHealthChecker(ctrl)
	rd := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Name().Return("postgres")
	pg.EXPECT().Check(gomock.Any()).Return(nil)
	rd.EXPECT().Name().Return("redis")
	rd.EXPECT().Check(gomock.Any()).Return(errors.New("connection refused"))

	r := gin.New()
	r.GET("/healthz", HealthCheck(pg, rd))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestToPaymentResponse(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	p := &domain.Payment{
		ID:        uuid.New(),
		PaymentID: "pay_abc",
		TeamSlug:  "acme",
		OrderID:   "order-1",
		Amount:    19900,
		Currency:  "EUR",
		Status:    domain.StatusConfirmed,
		CreatedAt: now,
		UpdatedAt: now.Add(time.Minute),
	}

	resp := toPaymentResponse(p)
	assert.Equal(t, "pay_abc", resp.PaymentID)
	assert.Equal(t, "CONFIRMED", resp.Status)
	assert.Equal(t, "2026-08-24T12:30:00Z", resp.CreatedAt)
	assert.Equal(t, "2026-08-24T12:31:00Z", resp.UpdatedAt)
}
