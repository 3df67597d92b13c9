package response

import (
	"errors"
	"net/http"

	"payment-gateway-core/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id"`
}

// ErrorResponse is the standard error envelope. ErrorCode values are
// stable strings clients may branch on.
type ErrorResponse struct {
	Status       string `json:"status"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	RequestID    string `json:"request_id"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Status:    "success",
		Data:      data,
		RequestID: getRequestID(c),
	})
}

// Error sends an error response. Unknown errors collapse to INTERNAL_ERROR;
// internal detail never reaches the response body.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, ErrorResponse{
			Status:       "error",
			ErrorCode:    appErr.Code,
			ErrorMessage: appErr.Message,
			RequestID:    getRequestID(c),
		})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Status:       "error",
		ErrorCode:    "INTERNAL_ERROR",
		ErrorMessage: "Internal server error",
		RequestID:    getRequestID(c),
	})
}

// getRequestID retrieves request ID from context, or generates one.
func getRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}
