package handler

import (
	"payment-gateway-core/internal/adapter/http/dto"
	"payment-gateway-core/internal/adapter/http/middleware"
	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/service"
	"payment-gateway-core/pkg/apperror"
	"payment-gateway-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler exposes the payment lifecycle. Init and state lookups
// run the engine directly; authorize, confirm and cancel go through the
// dispatcher so per-team concurrency limits apply.
type PaymentHandler struct {
	payments   *service.PaymentService
	dispatcher *service.Dispatcher
}

// NewPaymentHandler creates the lifecycle handler.
func NewPaymentHandler(payments *service.PaymentService, dispatcher *service.Dispatcher) *PaymentHandler {
	return &PaymentHandler{payments: payments, dispatcher: dispatcher}
}

// Init handles POST /api/v1/payments/init.
func (h *PaymentHandler) Init(c *gin.Context) {
	var req dto.InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	p, err := h.payments.Initialize(c.Request.Context(), service.InitializeRequest{
		TeamSlug:          authedSlug(c, req.TeamSlug),
		OrderID:           req.OrderID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Description:       req.Description,
		ExternalRequestID: req.ExternalRequestID,
		Priority:          req.Priority,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toPaymentResponse(p))
}

// Authorize handles POST /api/v1/payments/authorize.
func (h *PaymentHandler) Authorize(c *gin.Context) {
	h.dispatch(c, service.CommandAuthorize)
}

// Confirm handles POST /api/v1/payments/confirm.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	h.dispatch(c, service.CommandConfirm)
}

// Cancel handles POST /api/v1/payments/cancel.
func (h *PaymentHandler) Cancel(c *gin.Context) {
	h.dispatch(c, service.CommandCancel)
}

// GetState handles POST /api/v1/payments/state. A POST because the
// lookup token is signed over the request body.
func (h *PaymentHandler) GetState(c *gin.Context) {
	var req dto.StateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	p, err := h.payments.Get(c.Request.Context(), authedSlug(c, req.TeamSlug), req.PaymentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toPaymentResponse(p))
}

func (h *PaymentHandler) dispatch(c *gin.Context, command service.Command) {
	var req dto.LifecycleCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	future, err := h.dispatcher.Enqueue(c.Request.Context(), command, service.LifecycleRequest{
		TeamSlug:          authedSlug(c, req.TeamSlug),
		PaymentID:         req.PaymentID,
		Amount:            req.Amount,
		Reason:            req.Reason,
		ExternalRequestID: req.ExternalRequestID,
		Priority:          req.Priority,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := future.Wait(c.Request.Context())
	if err != nil {
		// Caller went away; let the queued task finish but stop waiting.
		future.Cancel()
		response.Error(c, apperror.ErrCancelled())
		return
	}
	if result.Err != nil {
		response.Error(c, result.Err)
		return
	}
	response.OK(c, toPaymentResponse(result.Payment))
}

// authedSlug prefers the authenticated team over the body field, so a
// valid token for team A can never act as team B.
func authedSlug(c *gin.Context, fromBody string) string {
	if team, ok := middleware.TeamFromContext(c); ok {
		return team.Slug
	}
	return fromBody
}

func toPaymentResponse(p *domain.Payment) dto.PaymentResponse {
	return dto.PaymentResponse{
		PaymentID: p.PaymentID,
		OrderID:   p.OrderID,
		TeamSlug:  p.TeamSlug,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    string(p.Status),
		CreatedAt: dto.FormatTime(p.CreatedAt),
		UpdatedAt: dto.FormatTime(p.UpdatedAt),
	}
}
