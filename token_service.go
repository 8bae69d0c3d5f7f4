package tokenauth

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService issues, validates and rotates token pairs.
type TokenService struct {
	signingKey []byte
	cfg        Config
	codec      *ClaimCodec
	accounts   AccountStore
	registry   RefreshRegistry
	clock      Clock
	logger     Logger
	metrics    Metrics
}

// TokenServiceOption customizes a TokenService.
type TokenServiceOption func(*TokenService)

// WithClock overrides the time source.
func WithClock(clock Clock) TokenServiceOption {
	return func(s *TokenService) {
		s.clock = resolveClock(clock)
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) TokenServiceOption {
	return func(s *TokenService) {
		s.logger = resolveLogger(logger)
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) TokenServiceOption {
	return func(s *TokenService) {
		s.metrics = resolveMetrics(metrics)
	}
}

// NewTokenService validates cfg and returns a TokenService. The account
// store is read on refresh; the registry enforces refresh token rotation.
func NewTokenService(cfg Config, accounts AccountStore, registry RefreshRegistry, opts ...TokenServiceOption) (*TokenService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if accounts == nil {
		return nil, goerrors.New("account store is required", goerrors.CategoryBadInput)
	}
	if registry == nil {
		return nil, goerrors.New("refresh registry is required", goerrors.CategoryBadInput)
	}

	codec, err := NewClaimCodec(cfg.SigningAlgorithm)
	if err != nil {
		return nil, err
	}

	s := &TokenService{
		signingKey: []byte(cfg.SigningSecret),
		cfg:        cfg,
		codec:      codec,
		accounts:   accounts,
		registry:   registry,
		clock:      resolveClock(nil),
		logger:     defLogger{},
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if cfg.WeakSecret() {
		s.logger.Warn("signing secret is shorter than recommended", "min_bytes", MinSigningSecretLength)
	}

	return s, nil
}

// Codec exposes the claim codec, e.g. for tooling that inspects tokens.
func (s *TokenService) Codec() *ClaimCodec {
	return s.codec
}

// IssuePair mints an access and a refresh token for account and starts a new
// refresh family. Roles are snapshotted now; later role changes only show up
// after the next refresh.
func (s *TokenService) IssuePair(ctx context.Context, account *Account) (*TokenPair, error) {
	if err := account.CheckActive(); err != nil {
		return nil, err
	}

	familyID := uuid.NewString()
	pair, record, err := s.mint(account, familyID)
	if err != nil {
		return nil, err
	}

	if err := s.registry.Register(ctx, record); err != nil {
		s.logger.Error("TokenService failed to register refresh family", "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to register refresh token")
	}

	s.metrics.TokenIssued(TokenTypeAccess)
	s.metrics.TokenIssued(TokenTypeRefresh)
	return pair, nil
}

// Validate checks a token and returns its claims. Checks run in order:
// signature and structure, issuer, type, expiry. The first failure wins.
func (s *TokenService) Validate(token string, expected TokenType) (*Claims, error) {
	claims, err := s.validate(token, expected)
	s.metrics.TokenValidated(expected, KindOf(err))
	return claims, err
}

func (s *TokenService) validate(token string, expected TokenType) (*Claims, error) {
	claims, err := s.codec.Decode(strings.TrimSpace(token), s.signingKey)
	if err != nil {
		return nil, err
	}

	if claims.Username() == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, withDetail(ErrTokenMalformed, "missing required claims", nil)
	}
	if !claims.Expires().After(claims.Issued()) {
		return nil, withDetail(ErrTokenMalformed, "exp must be after iat", nil)
	}

	if claims.Issuer != s.cfg.Issuer {
		return nil, ErrTokenIssuerMismatch
	}

	if !claims.Type.IsValid() {
		return nil, withDetail(ErrTokenMalformed, "unknown token type", nil)
	}
	if claims.Type != expected {
		return nil, ErrTokenWrongType
	}

	if !s.clock().Before(claims.Expires()) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// Refresh redeems a refresh token for a new pair. The account is re-read so
// the new pair carries the current roles. The presented token stops being
// redeemable once this returns successfully; presenting it again fails with
// ErrTokenReused and revokes the whole family.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.Validate(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if claims.FamilyID == "" || claims.TokenID() == "" {
		return nil, withDetail(ErrTokenMalformed, "refresh token without family", nil)
	}

	account, err := s.accounts.FindByUsername(ctx, claims.Username())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account for refresh")
	}
	if account == nil {
		s.logger.Info("TokenService refresh for unknown subject", "family", claims.FamilyID)
		return nil, ErrAccountNotFound
	}
	if err := account.CheckActive(); err != nil {
		if revokeErr := s.registry.RevokeFamily(ctx, claims.FamilyID); revokeErr != nil {
			s.logger.Error("TokenService failed to revoke family of inactive account", "error", revokeErr)
		}
		return nil, err
	}

	pair, next, err := s.mint(account, claims.FamilyID)
	if err != nil {
		return nil, err
	}

	if err := s.registry.Rotate(ctx, claims.FamilyID, claims.TokenID(), next); err != nil {
		if goerrors.Is(err, ErrTokenReused) {
			s.logger.Warn("TokenService refresh token reuse detected, family revoked", "family", claims.FamilyID)
			return nil, ErrTokenReused
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate refresh token")
	}

	s.metrics.TokenIssued(TokenTypeAccess)
	s.metrics.TokenIssued(TokenTypeRefresh)
	return pair, nil
}

// Revoke ends the login session a refresh token belongs to.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.Validate(refreshToken, TokenTypeRefresh)
	if err != nil {
		return err
	}
	if claims.FamilyID == "" {
		return withDetail(ErrTokenMalformed, "refresh token without family", nil)
	}
	return s.registry.RevokeFamily(ctx, claims.FamilyID)
}

func (s *TokenService) mint(account *Account, familyID string) (*TokenPair, RefreshRecord, error) {
	if account == nil || account.Username == "" {
		return nil, RefreshRecord{}, goerrors.New("account with username is required", goerrors.CategoryBadInput)
	}

	now := s.clock()
	accessExp := now.Add(s.cfg.AccessTokenTTL)
	refreshExp := now.Add(s.cfg.RefreshTokenTTL)
	refreshID := uuid.NewString()

	access, err := s.codec.Encode(newClaims(account, TokenTypeAccess, s.cfg.Issuer, familyID, uuid.NewString(), now, accessExp), s.signingKey)
	if err != nil {
		return nil, RefreshRecord{}, err
	}

	refresh, err := s.codec.Encode(newClaims(account, TokenTypeRefresh, s.cfg.Issuer, familyID, refreshID, now, refreshExp), s.signingKey)
	if err != nil {
		return nil, RefreshRecord{}, err
	}

	pair := &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.cfg.AccessTokenTTL.Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}
	record := RefreshRecord{
		ID:        refreshID,
		FamilyID:  familyID,
		Subject:   account.Username,
		ExpiresAt: refreshExp,
	}
	return pair, record, nil
}
