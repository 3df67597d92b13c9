package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/core/ports"
	"payment-gateway-core/internal/metrics"
	"payment-gateway-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerEvent     = "X-Webhook-Event"
	headerDelivery  = "X-Webhook-Delivery"
	headerTimestamp = "X-Webhook-Timestamp"

	deliveryJitterCeil = time.Second
)

// WebhookEnvelope is the wire body of one notification.
type WebhookEnvelope struct {
	Event          string            `json:"event"`
	NotificationID string            `json:"notificationId"`
	PaymentID      string            `json:"paymentId"`
	TeamSlug       string            `json:"teamSlug"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Timestamp      time.Time         `json:"timestamp"`
	Data           map[string]string `json:"data,omitempty"`
}

// WebhookEngineConfig tunes the delivery engine.
type WebhookEngineConfig struct {
	Workers          int // 0 => 2*NumCPU
	QueueCapacity    int // 0 => 10000
	DefaultTimeout   time.Duration
	UserAgent        string
	ReplayProtection bool
	MaxPayloadBytes  int
}

// WebhookEngine delivers signed notifications to merchant endpoints
// with per-type retry policies and per-(team, type) rate windows. It
// implements PaymentEventSink.
type WebhookEngine struct {
	client   ports.HTTPClient
	attempts ports.DeliveryAttemptRepository
	windows  ports.WindowStore
	teams    ports.TeamRepository
	enc      ports.EncryptionService
	metrics  *metrics.Metrics
	log      zerolog.Logger

	cfg     WebhookEngineConfig
	queue   chan *domain.NotificationTask
	backoff func(base time.Duration, attempt int) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebhookEngine creates a stopped engine; call Start to run it.
func NewWebhookEngine(
	client ports.HTTPClient,
	attempts ports.DeliveryAttemptRepository,
	windows ports.WindowStore,
	teams ports.TeamRepository,
	enc ports.EncryptionService,
	cfg WebhookEngineConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *WebhookEngine {
	if cfg.Workers <= 0 {
		cfg.Workers = 2 * runtime.NumCPU()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10_000
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "payment-gateway-core/1.0"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookEngine{
		client:   client,
		attempts: attempts,
		windows:  windows,
		teams:    teams,
		enc:      enc,
		metrics:  m,
		log:      log,
		cfg:      cfg,
		queue:    make(chan *domain.NotificationTask, cfg.QueueCapacity),
		backoff:  deliveryBackoff,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the delivery workers.
func (e *WebhookEngine) Start() {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.log.Info().Int("workers", e.cfg.Workers).Msg("webhook engine started")
}

// Stop interrupts in-flight deliveries and waits for workers to exit.
// Queued tasks are dropped; merchants reconcile via status polling.
func (e *WebhookEngine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.log.Info().Int("dropped", len(e.queue)).Msg("webhook engine stopped")
}

// PaymentStatusChanged implements PaymentEventSink. Every committed
// transition produces a PAYMENT_STATUS_CHANGE notification; reaching
// CONFIRMED additionally produces PAYMENT_SUCCESS, and REJECTED
// produces PAYMENT_FAILURE.
func (e *WebhookEngine) PaymentStatusChanged(ctx context.Context, p *domain.Payment, from domain.PaymentStatus, event domain.Event) {
	types := []domain.NotificationType{domain.NotifyPaymentStatusChange}
	switch p.Status {
	case domain.StatusConfirmed:
		types = append(types, domain.NotifyPaymentSuccess)
	case domain.StatusRejected:
		types = append(types, domain.NotifyPaymentFailure)
	}
	for _, typ := range types {
		if err := e.Notify(ctx, p, from, typ); err != nil {
			e.log.Warn().Err(err).
				Str("payment_id", p.PaymentID).
				Str("type", string(typ)).
				Msg("webhook notification not scheduled")
		}
	}
}

// Notify builds, signs and schedules one notification for a payment.
func (e *WebhookEngine) Notify(ctx context.Context, p *domain.Payment, from domain.PaymentStatus, typ domain.NotificationType) error {
	team, err := e.teams.GetBySlug(ctx, p.TeamSlug)
	if err != nil {
		return fmt.Errorf("looking up team %s: %w", p.TeamSlug, err)
	}
	if team == nil || !team.WebhooksConfigured() {
		return nil
	}

	env := WebhookEnvelope{
		Event:          string(typ),
		NotificationID: uuid.NewString(),
		PaymentID:      p.PaymentID,
		TeamSlug:       p.TeamSlug,
		Status:         string(p.Status),
		Amount:         p.Amount,
		Currency:       p.Currency,
		Timestamp:      time.Now().UTC(),
		Data:           map[string]string{"previousStatus": string(from)},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	task := &domain.NotificationTask{
		NotificationID: uuid.MustParse(env.NotificationID),
		TeamID:         team.ID,
		TeamSlug:       team.Slug,
		Type:           typ,
		Endpoint:       *team.WebhookURL,
		Payload:        payload,
		Priority:       5,
		Timeout:        team.WebhookTimeout(e.cfg.DefaultTimeout),
		CreatedAt:      time.Now().UTC(),
	}

	secret := ""
	if team.WebhookSecretEnc != nil {
		secret, err = e.enc.Decrypt(*team.WebhookSecretEnc)
		if err != nil {
			return fmt.Errorf("decrypting webhook secret: %w", err)
		}
	}
	task.Headers = map[string]string{
		headerSignature: SignWebhookBody([]byte(secret), payload),
		headerEvent:     string(typ),
	}

	return e.Schedule(ctx, task)
}

// Schedule enqueues a prepared task. Oversized payloads and tasks over
// the team's delivery rate window are rejected without enqueueing.
func (e *WebhookEngine) Schedule(ctx context.Context, task *domain.NotificationTask) error {
	if e.cfg.MaxPayloadBytes > 0 && len(task.Payload) > e.cfg.MaxPayloadBytes {
		return apperror.New(string(domain.FailPayloadTooLarge),
			"Webhook payload exceeds the size limit", apperror.KindInput, http.StatusRequestEntityTooLarge)
	}

	window := domain.WindowFor(task.Type)
	key := fmt.Sprintf("webhook:rate:%s:%s", task.TeamID, task.Type)
	allowed, err := e.windows.Allow(ctx, key, window.MaxPerMinute, window.MaxPerHour)
	if err != nil {
		return fmt.Errorf("checking delivery window: %w", err)
	}
	if !allowed {
		if e.metrics != nil {
			e.metrics.RateLimitHits.WithLabelValues("webhook_"+string(task.Type), "team").Inc()
		}
		return apperror.ErrRateLimited(time.Minute)
	}

	select {
	case e.queue <- task:
	case <-ctx.Done():
		return apperror.ErrCancelled()
	case <-e.ctx.Done():
		return apperror.ErrCancelled()
	}
	if e.metrics != nil {
		e.metrics.PendingDeliveries.
			WithLabelValues(task.TeamSlug, string(task.Type), strconv.Itoa(task.Priority)).Inc()
	}
	return nil
}

func (e *WebhookEngine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case task := <-e.queue:
			e.deliver(task)
			if e.metrics != nil {
				e.metrics.PendingDeliveries.
					WithLabelValues(task.TeamSlug, string(task.Type), strconv.Itoa(task.Priority)).Dec()
			}
		}
	}
}

// deliver runs the attempt loop for one task until success, a permanent
// failure, or the per-type attempt budget runs out.
func (e *WebhookEngine) deliver(task *domain.NotificationTask) {
	policy := domain.PolicyFor(task.Type)
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		task.AttemptCount = attempt
		code, duration, err := e.attemptOnce(task)
		e.recordAttempt(task, attempt, code, duration, err)

		if err == nil {
			e.log.Debug().
				Str("notification_id", task.NotificationID.String()).
				Int("attempt", attempt).
				Msg("webhook delivered")
			return
		}

		kind, retryable := classifyDeliveryFailure(code, err)
		e.log.Warn().Err(err).
			Str("notification_id", task.NotificationID.String()).
			Str("failure", string(kind)).
			Int("attempt", attempt).
			Msg("webhook delivery failed")
		if !retryable {
			return
		}
		if attempt == policy.MaxAttempts {
			e.log.Error().
				Str("notification_id", task.NotificationID.String()).
				Str("failure", string(domain.FailMaxRetries)).
				Int("attempts", attempt).
				Msg("webhook delivery abandoned")
			return
		}

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(e.backoff(policy.BaseDelay, attempt)):
		}
	}
}

// attemptOnce sends one POST. Returns the HTTP status (0 when the
// request never produced a response).
func (e *WebhookEngine) attemptOnce(task *domain.NotificationTask) (int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(e.ctx, task.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.Endpoint, bytes.NewReader(task.Payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set(headerDelivery, uuid.NewString())
	for k, v := range task.Headers {
		req.Header.Set(k, v)
	}
	if e.cfg.ReplayProtection {
		req.Header.Set(headerTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	duration := time.Since(start)

	result := "success"
	code := 0
	if err == nil {
		code = resp.StatusCode
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if code < 200 || code >= 300 {
			err = fmt.Errorf("endpoint returned %d", code)
		}
	}
	if err != nil {
		result = "failure"
	}
	if e.metrics != nil {
		e.metrics.NotificationOps.WithLabelValues(task.TeamSlug, string(task.Type), result).Inc()
		e.metrics.DeliveryDuration.WithLabelValues(string(task.Type), "http").Observe(duration.Seconds())
	}
	return code, duration, err
}

func (e *WebhookEngine) recordAttempt(task *domain.NotificationTask, attempt, code int, duration time.Duration, err error) {
	row := &domain.DeliveryAttempt{
		ID:             uuid.New(),
		NotificationID: task.NotificationID,
		AttemptNumber:  attempt,
		Status:         domain.DeliverySuccess,
		Duration:       duration,
		CreatedAt:      time.Now().UTC(),
	}
	if code != 0 {
		c := code
		row.ResponseCode = &c
	}
	if err != nil {
		row.Status = domain.DeliveryFailed
		msg := err.Error()
		row.Error = &msg
	}
	if appendErr := e.attempts.Append(context.WithoutCancel(e.ctx), row); appendErr != nil {
		e.log.Error().Err(appendErr).
			Str("notification_id", task.NotificationID.String()).
			Msg("recording delivery attempt")
	}
}

// classifyDeliveryFailure maps an attempt outcome onto the failure
// taxonomy and decides retryability: 5xx, 429 and transport faults
// retry; other HTTP statuses do not.
func classifyDeliveryFailure(code int, err error) (domain.DeliveryFailureKind, bool) {
	if code != 0 {
		if code >= 500 || code == http.StatusTooManyRequests {
			return domain.FailHTTPError, true
		}
		return domain.FailHTTPError, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FailTimeout, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailTimeout, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.FailDNS, true
	}
	var certErr *tls.CertificateVerificationError
	var recErr tls.RecordHeaderError
	var unkErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &recErr) || errors.As(err, &unkErr) || errors.As(err, &hostErr) {
		return domain.FailTLS, false
	}
	return domain.FailHTTPError, true
}

// deliveryBackoff is the wait after a failed attempt:
// base * 2^(attempt-1) + jitter[0, 1s).
func deliveryBackoff(base time.Duration, attempt int) time.Duration {
	return base<<(attempt-1) + rand.N(deliveryJitterCeil)
}

// SignWebhookBody computes the signature header value for a payload:
// "sha256=" plus the lowercase hex HMAC-SHA256 of the body.
func SignWebhookBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
