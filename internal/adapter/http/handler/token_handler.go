package handler

import (
	"payment-gateway-core/internal/adapter/http/dto"
	"payment-gateway-core/internal/adapter/http/middleware"
	"payment-gateway-core/internal/service"
	"payment-gateway-core/pkg/apperror"
	"payment-gateway-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// TokenHandler exposes the expiring-token layer.
type TokenHandler struct {
	tokens *service.ExpiringTokenService
}

// NewTokenHandler creates the token handler.
func NewTokenHandler(tokens *service.ExpiringTokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// Issue handles POST /api/v1/tokens. The request itself is token-signed;
// the issued expiring token is bound to the supplied params.
func (h *TokenHandler) Issue(c *gin.Context) {
	var req dto.TokenIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	team, ok := middleware.TeamFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthentication("no authenticated team"))
		return
	}

	tok, err := h.tokens.Issue(c.Request.Context(), team.Slug, req.Params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tok)
}

// Refresh handles POST /api/v1/tokens/refresh. The single-use refresh
// token is the credential.
func (h *TokenHandler) Refresh(c *gin.Context) {
	var req dto.TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	tok, err := h.tokens.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		// Revoked or unknown refresh tokens read the same as any other
		// credential failure.
		response.Error(c, apperror.ErrAuthentication(err.Error()))
		return
	}
	response.OK(c, tok)
}
