package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AUTH - Bearer tokens resolving to user ids
// ═══════════════════════════════════════════════════════════════════════════════
//
// HS256 access/refresh pairs. Every token carries a jti; logout
// blacklists the jti until its natural expiry, so revocation needs no
// token table.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Blacklist revokes token ids until expiry.
type Blacklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Claims is the token payload.
type Claims struct {
	TokenType string `json:"token_type"` // "access" or "refresh"
	jwt.RegisteredClaims
}

// TokenPair is what login and refresh hand out.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Service issues and verifies tokens.
type Service struct {
	store      *storage.Store
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	blacklist  Blacklist
}

// New creates the auth service.
func New(store *storage.Store, secret string, accessTTL, refreshTTL time.Duration, blacklist Blacklist) *Service {
	return &Service{
		store:      store,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		blacklist:  blacklist,
	}
}

// Login verifies the password and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.store.GetUserByEmail(email)
	if err != nil {
		// Same answer for unknown user and bad password.
		return nil, guarderr.New(guarderr.CodeUnauthorized, "invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, guarderr.New(guarderr.CodeUnauthorized, "invalid credentials")
	}
	return s.issuePair(user.ID)
}

// Refresh exchanges a live refresh token for a new pair and revokes the
// old refresh token's jti.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.verify(ctx, refreshToken, "refresh")
	if err != nil {
		return nil, err
	}
	if s.blacklist != nil {
		ttl := time.Until(claims.ExpiresAt.Time)
		if ttl > 0 {
			if err := s.blacklist.Revoke(ctx, claims.ID, ttl); err != nil {
				return nil, guarderr.Newf(guarderr.CodeInternal, "revoke: %v", err)
			}
		}
	}
	return s.issuePair(claims.Subject)
}

// Logout blacklists the access token's jti until its expiry.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.verify(ctx, accessToken, "access")
	if err != nil {
		return err
	}
	if s.blacklist == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return s.blacklist.Revoke(ctx, claims.ID, ttl)
}

// Authenticate resolves a bearer token to a user id.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.verify(ctx, accessToken, "access")
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// HashPassword wraps bcrypt for user provisioning.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func (s *Service) issuePair(userID string) (*TokenPair, error) {
	access, err := s.sign(userID, "access", s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(userID, "refresh", s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

func (s *Service) sign(userID, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", guarderr.Newf(guarderr.CodeInternal, "token signing: %v", err)
	}
	return signed, nil
}

func (s *Service) verify(ctx context.Context, tokenStr, wantType string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, guarderr.New(guarderr.CodeUnauthorized, "unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, guarderr.New(guarderr.CodeUnauthorized, "invalid token")
	}
	if claims.TokenType != wantType {
		return nil, guarderr.New(guarderr.CodeUnauthorized, "wrong token type")
	}
	if s.blacklist != nil {
		revoked, berr := s.blacklist.IsRevoked(ctx, claims.ID)
		if berr != nil {
			return nil, guarderr.Newf(guarderr.CodeInternal, "blacklist: %v", berr)
		}
		if revoked {
			return nil, guarderr.New(guarderr.CodeUnauthorized, "token revoked")
		}
	}
	return &claims, nil
}
