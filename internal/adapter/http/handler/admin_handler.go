package handler

import (
	"payment-gateway-core/internal/adapter/http/dto"
	"payment-gateway-core/internal/adapter/http/middleware"
	"payment-gateway-core/internal/service"
	"payment-gateway-core/pkg/apperror"
	"payment-gateway-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the ops surface: login, tenant bulk delete and
// audit chain verification.
type AdminHandler struct {
	admin *service.AdminService
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Login handles POST /api/v1/admin/login.
func (h *AdminHandler) Login(c *gin.Context) {
	var req dto.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	token, expiresAt, err := h.admin.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"token":      token,
		"expires_at": dto.FormatTime(expiresAt),
	})
}

// BulkDeleteTeamPayments handles DELETE /api/v1/admin/teams/:slug/payments.
func (h *AdminHandler) BulkDeleteTeamPayments(c *gin.Context) {
	report, err := h.admin.BulkDeleteTeamPayments(c.Request.Context(),
		c.Param("slug"), c.GetString(middleware.CtxAdminUser))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// VerifyPaymentAudit handles GET /api/v1/admin/payments/:id/audit.
func (h *AdminHandler) VerifyPaymentAudit(c *gin.Context) {
	report, err := h.admin.VerifyPaymentAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}
