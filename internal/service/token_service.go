package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"time"

	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExpiringTokenService issues short-lived request tokens bound to a
// team and the originating parameters, with single-use refresh tokens.
// State is in-memory; tokens do not survive a restart, which matches
// their validity window.
type ExpiringTokenService struct {
	sigSvc ports.SignatureService
	teams  ports.TeamRepository
	encSvc ports.EncryptionService
	log    zerolog.Logger

	ttl        time.Duration
	maxPerTeam int

	mu        sync.Mutex
	byID      map[string]*domain.ExpiringToken
	byRefresh map[string]string // refresh token -> token id
}

// NewExpiringTokenService creates the expiring-token layer.
func NewExpiringTokenService(
	sigSvc ports.SignatureService,
	teams ports.TeamRepository,
	encSvc ports.EncryptionService,
	ttl time.Duration,
	maxPerTeam int,
	log zerolog.Logger,
) *ExpiringTokenService {
	return &ExpiringTokenService{
		sigSvc:     sigSvc,
		teams:      teams,
		encSvc:     encSvc,
		log:        log,
		ttl:        ttl,
		maxPerTeam: maxPerTeam,
		byID:       make(map[string]*domain.ExpiringToken),
		byRefresh:  make(map[string]string),
	}
}

// Issue creates a token for teamSlug over params. The binding
// {tokenId, issuedAt, expiresAt, teamSlug} is folded into the signed
// parameter map, so the token cannot be replayed under other bindings.
func (s *ExpiringTokenService) Issue(ctx context.Context, teamSlug string, params map[string]interface{}) (*domain.ExpiringToken, error) {
	password, err := s.teamPassword(ctx, teamSlug)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tok := &domain.ExpiringToken{
		TokenID:        uuid.New().String(),
		TeamSlug:       teamSlug,
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.ttl),
		OriginalParams: params,
	}
	tok.Token = s.sigSvc.GenerateToken(s.boundParams(tok), password)

	refresh, err := newRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}
	tok.RefreshToken = &refresh

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[tok.TokenID] = tok
	s.byRefresh[refresh] = tok.TokenID
	s.evictOverflowLocked(teamSlug)

	return tok, nil
}

// Validate checks a presented token against the stored one in constant
// time and enforces expiry. A successful check stamps LastUsedAt.
func (s *ExpiringTokenService) Validate(ctx context.Context, tokenID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[tokenID]
	if !ok {
		return fmt.Errorf("token %s: not found", tokenID)
	}
	now := time.Now().UTC()
	if stored.Expired(now) {
		return fmt.Errorf("token %s: expired", tokenID)
	}
	if len(stored.Token) != len(token) ||
		subtle.ConstantTimeCompare([]byte(stored.Token), []byte(token)) != 1 {
		return fmt.Errorf("token %s: mismatch", tokenID)
	}
	stored.LastUsedAt = &now
	return nil
}

// Refresh exchanges a refresh token for a new token. The refresh token
// is revoked on use. The new token is signed with the real team
// password resolved from the registry.
func (s *ExpiringTokenService) Refresh(ctx context.Context, refreshToken string) (*domain.ExpiringToken, error) {
	s.mu.Lock()
	tokenID, ok := s.byRefresh[refreshToken]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("refresh token: not found")
	}
	old := s.byID[tokenID]
	delete(s.byRefresh, refreshToken)
	delete(s.byID, tokenID)
	s.mu.Unlock()

	if old == nil {
		return nil, fmt.Errorf("refresh token: dangling")
	}
	return s.Issue(ctx, old.TeamSlug, old.OriginalParams)
}

// Cleanup drops expired tokens. Wired to the scheduler.
func (s *ExpiringTokenService) Cleanup(ctx context.Context) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, tok := range s.byID {
		if tok.Expired(now) {
			s.removeLocked(id, tok)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("expired tokens cleaned up")
	}
}

// LiveCount reports the number of live tokens for a team.
func (s *ExpiringTokenService) LiveCount(teamSlug string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tok := range s.byID {
		if tok.TeamSlug == teamSlug {
			n++
		}
	}
	return n
}

func (s *ExpiringTokenService) boundParams(tok *domain.ExpiringToken) map[string]interface{} {
	bound := make(map[string]interface{}, len(tok.OriginalParams)+4)
	for k, v := range tok.OriginalParams {
		bound[k] = v
	}
	bound["TokenId"] = tok.TokenID
	bound["IssuedAt"] = tok.IssuedAt
	bound["ExpiresAt"] = tok.ExpiresAt
	bound["TeamSlug"] = tok.TeamSlug
	return bound
}

func (s *ExpiringTokenService) teamPassword(ctx context.Context, teamSlug string) (string, error) {
	team, err := s.teams.GetBySlug(ctx, teamSlug)
	if err != nil {
		return "", fmt.Errorf("looking up team %s: %w", teamSlug, err)
	}
	if team == nil {
		return "", fmt.Errorf("team %s: not found", teamSlug)
	}
	password, err := s.encSvc.Decrypt(team.PasswordEnc)
	if err != nil {
		return "", fmt.Errorf("decrypting team password: %w", err)
	}
	return password, nil
}

// evictOverflowLocked enforces the per-team cap, dropping oldest first.
func (s *ExpiringTokenService) evictOverflowLocked(teamSlug string) {
	var live []*domain.ExpiringToken
	for _, tok := range s.byID {
		if tok.TeamSlug == teamSlug {
			live = append(live, tok)
		}
	}
	if len(live) <= s.maxPerTeam {
		return
	}
	sort.Slice(live, func(i, j int) bool { return live[i].IssuedAt.Before(live[j].IssuedAt) })
	for _, tok := range live[:len(live)-s.maxPerTeam] {
		s.removeLocked(tok.TokenID, tok)
	}
}

func (s *ExpiringTokenService) removeLocked(id string, tok *domain.ExpiringToken) {
	delete(s.byID, id)
	if tok.RefreshToken != nil {
		delete(s.byRefresh, *tok.RefreshToken)
	}
}

// newRefreshToken returns 32 random bytes, url-safe base64 encoded.
func newRefreshToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
