package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"payment-gateway-core/internal/adapter/http/dto"
	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/core/ports"
	"payment-gateway-core/pkg/apperror"
	"payment-gateway-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys set by the middleware chain.
const (
	CtxRequestID = "request_id"
	CtxTeamSlug  = "team_slug"
	CtxTeam      = "team"
	CtxAdminUser = "admin_user"
)

// RequestID assigns a request id used in logs and response envelopes.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(CtxRequestID, id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// TokenAuth verifies the request token carried in the JSON body against
// the canonical parameter projection and the team's password. The body
// is restored for the handler to bind.
func TokenAuth(
	teams ports.TeamRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	log zerolog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Error(c, apperror.Validation("cannot read request body"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		params, err := dto.Flatten(body)
		if err != nil {
			response.Error(c, apperror.Validation("request body is not a JSON object"))
			c.Abort()
			return
		}

		teamSlug, _ := dto.StringParam(params, "TeamSlug")
		token, _ := dto.StringParam(params, "Token")
		if teamSlug == "" || token == "" {
			response.Error(c, apperror.ErrAuthentication("missing TeamSlug or Token"))
			c.Abort()
			return
		}

		team, err := teams.GetBySlug(c.Request.Context(), teamSlug)
		if err != nil {
			log.Error().Err(err).Str("team", teamSlug).Msg("team lookup failed")
			response.Error(c, apperror.InternalError(err))
			c.Abort()
			return
		}
		// Unknown and inactive teams get the same answer as a bad token.
		if team == nil || !team.IsActive {
			response.Error(c, apperror.ErrAuthentication("unknown or inactive team"))
			c.Abort()
			return
		}

		password, err := encSvc.Decrypt(team.PasswordEnc)
		if err != nil {
			log.Error().Err(err).Str("team", teamSlug).Msg("password decryption failed")
			response.Error(c, apperror.InternalError(err))
			c.Abort()
			return
		}

		if !sigSvc.ValidateToken(params, password, token) {
			response.Error(c, apperror.ErrAuthentication("token mismatch"))
			c.Abort()
			return
		}

		c.Set(CtxTeamSlug, team.Slug)
		c.Set(CtxTeam, team)
		c.Next()
	}
}

// TeamFromContext returns the authenticated team, if any.
func TeamFromContext(c *gin.Context) (*domain.Team, bool) {
	v, ok := c.Get(CtxTeam)
	if !ok {
		return nil, false
	}
	team, ok := v.(*domain.Team)
	return team, ok
}

// JWTAuth guards the admin ops surface with a bearer session token.
func JWTAuth(tokens ports.AdminTokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			response.Error(c, apperror.ErrAuthentication("missing bearer token"))
			c.Abort()
			return
		}
		subject, err := tokens.Validate(header[7:])
		if err != nil {
			response.Error(c, apperror.ErrAuthentication("invalid session token"))
			c.Abort()
			return
		}
		c.Set(CtxAdminUser, subject)
		c.Next()
	}
}

// MaxBodySize rejects request bodies above limit bytes.
func MaxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// RequestLogger logs every HTTP request with latency and status.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(CtxRequestID)).
			Msg("http request")
	}
}

// Recovery converts panics into a 500 without leaking internals.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorResponse{
					Status:       "error",
					ErrorCode:    "INTERNAL_ERROR",
					ErrorMessage: "Internal server error",
					RequestID:    c.GetString(CtxRequestID),
				})
			}
		}()
		c.Next()
	}
}
