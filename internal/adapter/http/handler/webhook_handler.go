package handler

import (
	"payment-gateway-core/internal/adapter/http/dto"
	"payment-gateway-core/internal/adapter/http/middleware"
	"payment-gateway-core/internal/core/ports"
	"payment-gateway-core/internal/service"
	"payment-gateway-core/pkg/apperror"
	"payment-gateway-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler lets a merchant check a received webhook against the
// gateway's own verification logic, so integration bugs surface before
// production traffic does.
type WebhookHandler struct {
	verifier *service.WebhookVerifier
	enc      ports.EncryptionService
}

// NewWebhookHandler creates the webhook verification handler.
func NewWebhookHandler(verifier *service.WebhookVerifier, enc ports.EncryptionService) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, enc: enc}
}

// Verify handles POST /api/v1/webhooks/verify.
func (h *WebhookHandler) Verify(c *gin.Context) {
	var req dto.VerifyWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	team, ok := middleware.TeamFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthentication("no authenticated team"))
		return
	}
	if team.WebhookSecretEnc == nil {
		response.Error(c, apperror.Validation("team has no webhook secret configured"))
		return
	}

	secret, err := h.enc.Decrypt(*team.WebhookSecretEnc)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	if err := h.verifier.Verify(c.Request.Context(), []byte(secret),
		[]byte(req.Payload), req.Signature, req.Timestamp); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"valid": true})
}
