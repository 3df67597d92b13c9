package service

import (
	"context"
	"crypto/subtle"
	"time"

	"payment-gateway-core/internal/core/ports"
	"payment-gateway-core/pkg/apperror"

	"github.com/rs/zerolog"
)

// BulkDeleteReport summarizes one bulk deletion.
type BulkDeleteReport struct {
	TeamSlug     string `json:"team_slug"`
	Payments     int64  `json:"payments"`
	Transactions int64  `json:"transactions"`
	AuditEntries int64  `json:"audit_entries"`
}

// AdminService backs the operator surface: session login, bulk data
// deletion and audit chain verification.
type AdminService struct {
	db       ports.DBTransactor
	payments ports.PaymentRepository
	txs      ports.TransactionRepository
	auditDB  ports.AuditRepository
	teams    ports.TeamRepository
	audit    *AuditService
	tokens   ports.AdminTokenService
	log      zerolog.Logger

	username string
	password string
}

// NewAdminService creates the admin surface. username and password are
// the operator credentials from configuration.
func NewAdminService(
	db ports.DBTransactor,
	payments ports.PaymentRepository,
	txs ports.TransactionRepository,
	auditDB ports.AuditRepository,
	teams ports.TeamRepository,
	audit *AuditService,
	tokens ports.AdminTokenService,
	username, password string,
	log zerolog.Logger,
) *AdminService {
	return &AdminService{
		db:       db,
		payments: payments,
		txs:      txs,
		auditDB:  auditDB,
		teams:    teams,
		audit:    audit,
		tokens:   tokens,
		log:      log,
		username: username,
		password: password,
	}
}

// Login exchanges operator credentials for a session token.
func (s *AdminService) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !userOK || !passOK {
		return "", time.Time{}, apperror.ErrAuthentication("admin credentials mismatch")
	}
	token, expiresAt, err := s.tokens.Generate(username)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(err)
	}
	s.log.Info().Str("admin", username).Msg("admin session issued")
	return token, expiresAt, nil
}

// BulkDeleteTeamPayments removes every payment of a team together with
// its child rows, in one transaction, children first. The deletion
// itself leaves a sensitive audit entry on the team.
func (s *AdminService) BulkDeleteTeamPayments(ctx context.Context, teamSlug, actor string) (*BulkDeleteReport, error) {
	team, err := s.teams.GetBySlug(ctx, teamSlug)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if team == nil {
		return nil, apperror.ErrNotFound("Team")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, apperror.Transient(err)
	}
	defer tx.Rollback(ctx)

	ids, err := s.payments.ListIDsByTeam(ctx, tx, team.ID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	report := &BulkDeleteReport{TeamSlug: teamSlug}
	if len(ids) > 0 {
		if report.Transactions, err = s.txs.DeleteForPayments(ctx, tx, ids); err != nil {
			return nil, apperror.InternalError(err)
		}
		if report.AuditEntries, err = s.auditDB.DeleteForEntities(ctx, tx, ids); err != nil {
			return nil, apperror.InternalError(err)
		}
	}
	if report.Payments, err = s.payments.DeleteByTeam(ctx, tx, team.ID); err != nil {
		return nil, apperror.InternalError(err)
	}

	if _, err := s.audit.Record(ctx, tx, team.Slug, "team", "payments_bulk_deleted", &actor, report, nil, true); err != nil {
		return nil, apperror.InternalError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.Transient(err)
	}

	s.log.Warn().
		Str("team", teamSlug).
		Str("actor", actor).
		Int64("payments", report.Payments).
		Msg("team payments bulk deleted")
	return report, nil
}

// VerifyPaymentAudit recomputes the audit chain of one payment.
func (s *AdminService) VerifyPaymentAudit(ctx context.Context, paymentID string) (*ChainReport, error) {
	return s.audit.VerifyChain(ctx, paymentID, "payment")
}
