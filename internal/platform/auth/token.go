package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 24 * time.Hour
	defaultIssuer   = "parcelhub-api"
)

var (
	// ErrTokenExpired signals that the presented access token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the presented access token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the JWT payload issued on login: the subject is the username and
// the role claim carries the account role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies HMAC-signed access tokens.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	clock  func() time.Time
}

// TokenOption customises TokenCodec construction.
type TokenOption func(*TokenCodec)

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(c *TokenCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTokenIssuer overrides the issuer claim.
func WithTokenIssuer(issuer string) TokenOption {
	return func(c *TokenCodec) {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithTokenClock injects a custom clock, primarily for tests.
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewTokenCodec constructs a codec signing with the provided shared secret.
func NewTokenCodec(secret string, opts ...TokenOption) (*TokenCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}

	codec := &TokenCodec{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
		issuer: defaultIssuer,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(codec)
		}
	}
	return codec, nil
}

// Issue signs a token for the given subject and role and returns it with its expiry.
func (c *TokenCodec) Issue(subject, role string) (string, time.Time, error) {
	if c == nil {
		return "", time.Time{}, errors.New("auth: token codec not initialised")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: token subject is required")
	}

	now := c.clock().UTC()
	expires := now.Add(c.ttl)
	claims := Claims{
		Role: normaliseRole(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses and validates the token, returning its claims.
func (c *TokenCodec) Verify(tokenStr string) (Claims, error) {
	if c == nil {
		return Claims{}, ErrTokenInvalid
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Claims{}, ErrTokenInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.clock().UTC() }),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}
