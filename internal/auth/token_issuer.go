package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 8 * time.Hour
	roleClaimKey    = "role"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// Session identifies an authenticated participant.
type Session struct {
	User string
	Role string
}

// TokenIssuerConfig configures the session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 session tokens carrying the
// username as subject and the participant role as a private claim.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// IssueSessionToken produces a signed JWT and its expiry (seconds) for the
// authenticated session.
func (i *TokenIssuer) IssueSessionToken(session Session) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if session.User == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.User,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: session.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the session token is well formed and returns the
// session it represents. The role in the token, not any client-supplied
// payload field, is the effective role for every privileged command.
func (i *TokenIssuer) ValidateToken(tokenString string) (Session, error) {
	if len(i.config.SigningSecret) == 0 {
		return Session{}, errMissingSigningSecret
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return Session{}, err
	}
	if claims.Subject == "" {
		return Session{}, errMissingSubjectClaim
	}
	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return Session{User: claims.Subject, Role: role}, nil
}
