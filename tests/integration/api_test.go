package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	httpHandler "payment-gateway-core/internal/adapter/http/handler"
	redisStorage "payment-gateway-core/internal/adapter/storage/redis"
	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/core/ports"
	"payment-gateway-core/internal/metrics"
	"payment-gateway-core/internal/service"
	"payment-gateway-core/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAESKey        = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testTeamPassword  = "team-password"
	testWebhookSecret = "team-webhook-secret"
	testAdminUser     = "ops"
	testAdminPassword = "ops-password"
)

// receivedWebhook is one delivery captured by the test receiver.
type receivedWebhook struct {
	Envelope  map[string]interface{}
	Body      []byte
	Event     string
	Signature string
	Timestamp string
}

// webhookReceiver is the merchant endpoint under test. Responses can be
// scripted per event type to exercise the retry path.
type webhookReceiver struct {
	server *httptest.Server

	mu       sync.Mutex
	received []receivedWebhook
	failures map[string]int // event type -> remaining 500s before success
}

func newWebhookReceiver() *webhookReceiver {
	r := &webhookReceiver{failures: make(map[string]int)}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body := new(bytes.Buffer)
		_, _ = body.ReadFrom(req.Body)

		var envelope map[string]interface{}
		_ = json.Unmarshal(body.Bytes(), &envelope)

		r.mu.Lock()
		event := req.Header.Get("X-Webhook-Event")
		r.received = append(r.received, receivedWebhook{
			Envelope:  envelope,
			Body:      body.Bytes(),
			Event:     event,
			Signature: req.Header.Get("X-Webhook-Signature"),
			Timestamp: req.Header.Get("X-Webhook-Timestamp"),
		})
		remaining := r.failures[event]
		if remaining > 0 {
			r.failures[event] = remaining - 1
		}
		r.mu.Unlock()

		if remaining > 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return r
}

func (r *webhookReceiver) failNext(event string, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[event] = times
}

func (r *webhookReceiver) deliveries() []receivedWebhook {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]receivedWebhook, len(r.received))
	copy(out, r.received)
	return out
}

func (r *webhookReceiver) countByEvent(event string) int {
	n := 0
	for _, d := range r.deliveries() {
		if d.Event == event {
			n++
		}
	}
	return n
}

type testApp struct {
	server   *httptest.Server
	receiver *webhookReceiver
	redis    *miniredis.Miniredis

	sigSvc   *service.SHA256SignatureService
	engine   *service.WebhookEngine
	disp     *service.Dispatcher
	attempts *memAttemptRepo
	audits   *memAuditRepo
	team     *domain.Team
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.NewWithWriter("error", testWriter{t})
	m := metrics.NewNop()

	encSvc, err := service.NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	sigSvc := service.NewSHA256SignatureService()

	passwordEnc, err := encSvc.Encrypt(testTeamPassword)
	require.NoError(t, err)
	secretEnc, err := encSvc.Encrypt(testWebhookSecret)
	require.NoError(t, err)

	receiver := newWebhookReceiver()
	t.Cleanup(receiver.server.Close)

	webhookURL := receiver.server.URL
	team := &domain.Team{
		ID:                    uuid.New(),
		Slug:                  "acme",
		PasswordEnc:           passwordEnc,
		WebhookURL:            &webhookURL,
		WebhookSecretEnc:      &secretEnc,
		WebhookTimeoutSeconds: 5,
		EnableWebhooks:        true,
		IsActive:              true,
		CreatedAt:             time.Now().UTC(),
		UpdatedAt:             time.Now().UTC(),
	}

	teamRepo := newMemTeamRepo(team)
	paymentRepo := newMemPaymentRepo()
	txRepo := newMemTransactionRepo()
	auditRepo := newMemAuditRepo()
	attemptRepo := newMemAttemptRepo()

	lockStore := redisStorage.NewLockStore(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	windowStore := redisStorage.NewWindowStore(rdb)

	auditSvc := service.NewAuditService(auditRepo, log)
	jwtSvc := service.NewJWTTokenService("integration-test-jwt-secret-key", time.Hour, "test")
	tokenSvc := service.NewExpiringTokenService(sigSvc, teamRepo, encSvc, 15*time.Minute, 10, log)
	verifier := service.NewWebhookVerifier(nonceStore)

	engine := service.NewWebhookEngine(
		&http.Client{Timeout: 5 * time.Second},
		attemptRepo, windowStore, teamRepo, encSvc,
		service.WebhookEngineConfig{
			Workers:          1, // keeps delivery order deterministic

			QueueCapacity:    100,
			DefaultTimeout:   5 * time.Second,
			ReplayProtection: true,
			MaxPayloadBytes:  1 << 20,
		},
		m, log,
	)
	engine.Start()
	t.Cleanup(engine.Stop)

	paymentSvc := service.NewPaymentService(service.PaymentServiceDeps{
		DB:       memDB{},
		Payments: paymentRepo,
		Txs:      txRepo,
		Teams:    teamRepo,
		Audit:    auditSvc,
		Locker:   lockStore,
		Sink:     engine,
		Metrics:  m,
		Log:      log,

		LockTimeout:       2 * time.Second,
		ProcessingTimeout: 5 * time.Second,
		MaxRetries:        2,
		BaseRetryDelay:    time.Millisecond,
		GlobalConcurrency: 16,
	})

	disp := service.NewDispatcher(paymentSvc, service.DispatcherConfig{
		QueueCapacity:        100,
		Workers:              4,
		GlobalConcurrency:    8,
		TeamConcurrency:      8,
		AllowConcurrentTeams: false,
		MaxRetries:           1,
		BaseRetryDelay:       time.Millisecond,
	}, m, log)
	disp.Start()
	t.Cleanup(disp.Stop)

	adminSvc := service.NewAdminService(memDB{}, paymentRepo, txRepo, auditRepo, teamRepo,
		auditSvc, jwtSvc, testAdminUser, testAdminPassword, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Payments:   paymentSvc,
		Dispatcher: disp,
		Tokens:     tokenSvc,
		Admin:      adminSvc,
		Verifier:   verifier,

		Teams:       teamRepo,
		EncSvc:      encSvc,
		SigSvc:      sigSvc,
		AdminTokens: jwtSvc,

		HealthCheckers: []ports.HealthChecker{redisStorage.NewHealthChecker(rdb)},
		Logger:         log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testApp{
		server:   srv,
		receiver: receiver,
		redis:    mr,
		sigSvc:   sigSvc,
		engine:   engine,
		disp:     disp,
		attempts: attemptRepo,
		audits:   auditRepo,
		team:     team,
	}
}

// testWriter routes logs into the test output.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// envelope is the standard response wrapper.
type envelope struct {
	Status       string          `json:"status"`
	Data         json.RawMessage `json:"data"`
	ErrorCode    string          `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage"`
}

type paymentData struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

// post sends a token-signed request: the Token is computed over the
// payload with the team password before sending.
func (a *testApp) post(t *testing.T, path string, params map[string]interface{}) (int, envelope) {
	t.Helper()
	payload := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["Token"] = a.sigSvc.GenerateToken(params, testTeamPassword)
	return a.postRaw(t, path, payload, "")
}

func (a *testApp) postRaw(t *testing.T, path string, payload map[string]interface{}, bearer string) (int, envelope) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, a.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (a *testApp) initPayment(t *testing.T, orderID string, amount int64) paymentData {
	t.Helper()
	code, env := a.post(t, "/api/v1/payments/init", map[string]interface{}{
		"TeamSlug":          "acme",
		"OrderId":           orderID,
		"Amount":            amount,
		"Currency":          "EUR",
		"ExternalRequestId": uuid.NewString(),
	})
	require.Equal(t, http.StatusOK, code, "init failed: %s", env.ErrorMessage)

	var p paymentData
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func (a *testApp) command(t *testing.T, cmd, paymentID string, extra map[string]interface{}) (int, envelope) {
	t.Helper()
	params := map[string]interface{}{
		"TeamSlug":          "acme",
		"PaymentId":         paymentID,
		"ExternalRequestId": uuid.NewString(),
	}
	for k, v := range extra {
		params[k] = v
	}
	return a.post(t, "/api/v1/payments/"+cmd, params)
}

func decodePayment(t *testing.T, env envelope) paymentData {
	t.Helper()
	var p paymentData
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func TestPaymentLifecycle(t *testing.T) {
	app := newTestApp(t)

	p := app.initPayment(t, "order-1", 19900)
	assert.Equal(t, "NEW", p.Status)
	assert.NotEmpty(t, p.PaymentID)

	code, env := app.command(t, "authorize", p.PaymentID, nil)
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)
	assert.Equal(t, "AUTHORIZED", decodePayment(t, env).Status)

	code, env = app.command(t, "state", p.PaymentID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "AUTHORIZED", decodePayment(t, env).Status)

	code, env = app.command(t, "confirm", p.PaymentID, nil)
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)
	assert.Equal(t, "CONFIRMED", decodePayment(t, env).Status)

	// Status webhooks: NEW, FORM_SHOWED, AUTHORIZED, CONFIRMED, plus the
	// success notification for the confirm.
	require.Eventually(t, func() bool {
		return app.receiver.countByEvent("PAYMENT_STATUS_CHANGE") >= 4 &&
			app.receiver.countByEvent("PAYMENT_SUCCESS") >= 1
	}, 10*time.Second, 50*time.Millisecond)

	var statuses []string
	for _, d := range app.receiver.deliveries() {
		if d.Event != "PAYMENT_STATUS_CHANGE" {
			continue
		}
		statuses = append(statuses, d.Envelope["status"].(string))

		// Every delivery must carry a valid detached signature.
		assert.Equal(t, service.SignWebhookBody([]byte(testWebhookSecret), d.Body), d.Signature)
		assert.NotEmpty(t, d.Timestamp)
	}
	assert.Equal(t, []string{"NEW", "FORM_SHOWED", "AUTHORIZED", "CONFIRMED"}, statuses)
}

func TestIllegalTransitionRejected(t *testing.T) {
	app := newTestApp(t)
	p := app.initPayment(t, "order-1", 1000)

	code, env := app.command(t, "confirm", p.PaymentID, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", env.ErrorCode)
}

func TestCancelConfirmedPaymentRefunds(t *testing.T) {
	app := newTestApp(t)
	p := app.initPayment(t, "order-1", 5000)

	code, env := app.command(t, "authorize", p.PaymentID, nil)
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)
	code, env = app.command(t, "confirm", p.PaymentID, nil)
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)

	// Partial amounts are rejected before any state change.
	code, env = app.command(t, "cancel", p.PaymentID, map[string]interface{}{"Amount": 4999})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "PARTIAL_NOT_SUPPORTED", env.ErrorCode)

	code, env = app.command(t, "cancel", p.PaymentID, map[string]interface{}{"Amount": 5000})
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)
	assert.Equal(t, "REFUNDED", decodePayment(t, env).Status)

	require.Eventually(t, func() bool {
		return app.receiver.countByEvent("PAYMENT_FAILURE") == 0 &&
			app.receiver.countByEvent("PAYMENT_STATUS_CHANGE") >= 5
	}, 10*time.Second, 50*time.Millisecond)
}

func TestUnknownPaymentIsNotFound(t *testing.T) {
	app := newTestApp(t)

	code, env := app.command(t, "state", uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.ErrorCode)
}

func TestBadTokenRejected(t *testing.T) {
	app := newTestApp(t)

	code, env := app.postRaw(t, "/api/v1/payments/init", map[string]interface{}{
		"TeamSlug": "acme",
		"OrderId":  "order-1",
		"Amount":   100,
		"Currency": "EUR",
		"Token":    "deadbeef",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTHENTICATION_ERROR", env.ErrorCode)
}

func TestInitIsIdempotentPerExternalRequest(t *testing.T) {
	app := newTestApp(t)
	externalID := uuid.NewString()

	params := map[string]interface{}{
		"TeamSlug":          "acme",
		"OrderId":           "order-1",
		"Amount":            100,
		"Currency":          "EUR",
		"ExternalRequestId": externalID,
	}

	code, env := app.post(t, "/api/v1/payments/init", params)
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)
	first := decodePayment(t, env)

	code, env = app.post(t, "/api/v1/payments/init", params)
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)
	assert.Equal(t, first.PaymentID, decodePayment(t, env).PaymentID)
}

func TestWebhookRetryAfterServerError(t *testing.T) {
	app := newTestApp(t)
	app.receiver.failNext("PAYMENT_SUCCESS", 1)

	p := app.initPayment(t, "order-1", 700)
	code, env := app.command(t, "authorize", p.PaymentID, nil)
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)
	code, env = app.command(t, "confirm", p.PaymentID, nil)
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)

	// First attempt gets a 500, the engine retries and succeeds.
	require.Eventually(t, func() bool {
		return app.receiver.countByEvent("PAYMENT_SUCCESS") >= 2
	}, 15*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, app.attempts.count(), 2)
}

func TestWebhookVerifyEndpoint(t *testing.T) {
	app := newTestApp(t)

	body := []byte(`{"event":"PAYMENT_STATUS_CHANGE","status":"CONFIRMED"}`)
	signature := service.SignWebhookBody([]byte(testWebhookSecret), body)

	code, env := app.post(t, "/api/v1/webhooks/verify", map[string]interface{}{
		"TeamSlug":  "acme",
		"Payload":   string(body),
		"Signature": signature,
	})
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)

	code, env = app.post(t, "/api/v1/webhooks/verify", map[string]interface{}{
		"TeamSlug":  "acme",
		"Payload":   string(body),
		"Signature": "sha256=0000",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTHENTICATION_ERROR", env.ErrorCode)
}

func TestAdminBulkDeleteAndAuditVerify(t *testing.T) {
	app := newTestApp(t)

	p := app.initPayment(t, "order-1", 900)
	code, env := app.command(t, "authorize", p.PaymentID, nil)
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)

	// Login.
	code, env = app.postRaw(t, "/api/v1/admin/login", map[string]interface{}{
		"username": testAdminUser,
		"password": testAdminPassword,
	}, "")
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &login))
	require.NotEmpty(t, login.Token)

	// Audit chain is intact before deletion.
	req, err := http.NewRequest(http.MethodGet,
		app.server.URL+"/api/v1/admin/payments/"+p.PaymentID+"/audit", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var auditEnv envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&auditEnv))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report struct {
		Valid   bool `json:"valid"`
		Entries int  `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(auditEnv.Data, &report))
	assert.True(t, report.Valid)
	assert.Greater(t, report.Entries, 0)

	// Bulk delete the tenant's payments.
	req, err = http.NewRequest(http.MethodDelete,
		app.server.URL+"/api/v1/admin/teams/acme/payments", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The payment is gone.
	code, env = app.command(t, "state", p.PaymentID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.ErrorCode)

	// Without a bearer token the admin surface refuses.
	req, err = http.NewRequest(http.MethodDelete,
		app.server.URL+"/api/v1/admin/teams/acme/payments", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenIssueAndRefresh(t *testing.T) {
	app := newTestApp(t)

	code, env := app.post(t, "/api/v1/tokens", map[string]interface{}{
		"TeamSlug": "acme",
	})
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)

	var issued struct {
		TokenID      string  `json:"token_id"`
		Token        string  `json:"token"`
		RefreshToken *string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &issued))
	require.NotEmpty(t, issued.TokenID)
	require.NotNil(t, issued.RefreshToken)

	code, env = app.postRaw(t, "/api/v1/tokens/refresh", map[string]interface{}{
		"RefreshToken": *issued.RefreshToken,
	}, "")
	require.Equal(t, http.StatusOK, code, env.ErrorMessage)
	var refreshed struct {
		TokenID string `json:"token_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &refreshed))
	assert.NotEqual(t, issued.TokenID, refreshed.TokenID)

	// Refresh tokens are single-use.
	code, _ = app.postRaw(t, "/api/v1/tokens/refresh", map[string]interface{}{
		"RefreshToken": *issued.RefreshToken,
	}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
