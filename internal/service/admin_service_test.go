package service

import (
	"context"
	"testing"
	"time"

	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/core/ports/mocks"
	"payment-gateway-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type adminHarness struct {
	pool     pgxmock.PgxPoolIface
	payments *mocks.MockPaymentRepository
	txs      *mocks.MockTransactionRepository
	auditDB  *mocks.MockAuditRepository
	teams    *mocks.MockTeamRepository
	tokens   *mocks.MockAdminTokenService
	svc      *AdminService
}

func newAdminHarness(t *testing.T) *adminHarness {
	t.Helper()
	ctrl := gomock.NewController(t)
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	h := &adminHarness{
		pool:     pool,
		payments: mocks.NewMockPaymentRepository(ctrl),
		txs:      mocks.NewMockTransactionRepository(ctrl),
		auditDB:  mocks.NewMockAuditRepository(ctrl),
		teams:    mocks.NewMockTeamRepository(ctrl),
		tokens:   mocks.NewMockAdminTokenService(ctrl),
	}
	h.svc = NewAdminService(pool, h.payments, h.txs, h.auditDB, h.teams,
		NewAuditService(h.auditDB, zerolog.Nop()), h.tokens,
		"admin", "s3cret", zerolog.Nop())
	return h
}

func TestAdminService_Login(t *testing.T) {
	h := newAdminHarness(t)
	expiry := time.Now().Add(time.Hour)
	h.tokens.EXPECT().Generate("admin").Return("jwt-token", expiry, nil)

	token, expiresAt, err := h.svc.Login(context.Background(), "admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Equal(t, expiry, expiresAt)

	_, _, err = h.svc.Login(context.Background(), "admin", "wrong")
	assert.Equal(t, "AUTHENTICATION_ERROR", apperror.CodeOf(err))

	_, _, err = h.svc.Login(context.Background(), "intruder", "s3cret")
	assert.Equal(t, "AUTHENTICATION_ERROR", apperror.CodeOf(err))
}

func TestAdminService_BulkDeleteChildrenFirst(t *testing.T) {
	h := newAdminHarness(t)
	team := &domain.Team{ID: uuid.New(), Slug: "acme", IsActive: true}
	h.teams.EXPECT().GetBySlug(gomock.Any(), "acme").Return(team, nil)

	ids := []string{"P-1", "P-2", "P-3"}
	h.pool.ExpectBegin()

	// gomock.InOrder pins the delete order: transactions, then audit
	// entries, then payments.
	listCall := h.payments.EXPECT().ListIDsByTeam(gomock.Any(), gomock.Any(), team.ID).Return(ids, nil)
	txDel := h.txs.EXPECT().DeleteForPayments(gomock.Any(), gomock.Any(), ids).Return(int64(5), nil)
	auditDel := h.auditDB.EXPECT().DeleteForEntities(gomock.Any(), gomock.Any(), ids).Return(int64(9), nil)
	payDel := h.payments.EXPECT().DeleteByTeam(gomock.Any(), gomock.Any(), team.ID).Return(int64(3), nil)
	gomock.InOrder(listCall, txDel, auditDel, payDel)

	h.auditDB.EXPECT().LastHash(gomock.Any(), "acme", "team").Return(nil, nil)
	h.auditDB.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, e *domain.AuditEntry) error {
			assert.True(t, e.IsSensitive)
			assert.Equal(t, "payments_bulk_deleted", e.Action)
			return nil
		})
	h.pool.ExpectCommit()
	h.pool.ExpectRollback()

	report, err := h.svc.BulkDeleteTeamPayments(context.Background(), "acme", "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Payments)
	assert.Equal(t, int64(5), report.Transactions)
	assert.Equal(t, int64(9), report.AuditEntries)
}

func TestAdminService_BulkDeleteEmptyTeam(t *testing.T) {
	h := newAdminHarness(t)
	team := &domain.Team{ID: uuid.New(), Slug: "acme", IsActive: true}
	h.teams.EXPECT().GetBySlug(gomock.Any(), "acme").Return(team, nil)

	h.pool.ExpectBegin()
	h.payments.EXPECT().ListIDsByTeam(gomock.Any(), gomock.Any(), team.ID).Return(nil, nil)
	h.payments.EXPECT().DeleteByTeam(gomock.Any(), gomock.Any(), team.ID).Return(int64(0), nil)
	h.auditDB.EXPECT().LastHash(gomock.Any(), "acme", "team").Return(nil, nil)
	h.auditDB.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	h.pool.ExpectCommit()
	h.pool.ExpectRollback()

	report, err := h.svc.BulkDeleteTeamPayments(context.Background(), "acme", "admin")
	require.NoError(t, err)
	assert.Zero(t, report.Payments)
}

func TestAdminService_BulkDeleteUnknownTeam(t *testing.T) {
	h := newAdminHarness(t)
	h.teams.EXPECT().GetBySlug(gomock.Any(), "ghost").Return(nil, nil)

	_, err := h.svc.BulkDeleteTeamPayments(context.Background(), "ghost", "admin")
	assert.Equal(t, "NOT_FOUND", apperror.CodeOf(err))
}

func TestAdminService_VerifyPaymentAudit(t *testing.T) {
	h := newAdminHarness(t)
	h.auditDB.EXPECT().ListByEntity(gomock.Any(), "P-1", "payment").Return(buildChain(3), nil)

	report, err := h.svc.VerifyPaymentAudit(context.Background(), "P-1")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Entries)
}
