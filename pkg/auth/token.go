package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/pkg/config"
)

// Clock skew tolerated between the identity service and this API.
const clockLeeway = 30 * time.Second

var (
	ErrTokenExpired = errors.New("access token expired")
	ErrTokenInvalid = errors.New("access token invalid")
)

// Codec signs and verifies HS256 access tokens for one issuer.
type Codec struct {
	secret []byte
	issuer string
}

func NewCodec(cfg config.JWTConfig) *Codec {
	return &Codec{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

// Mint is used by tooling and tests. Production tokens come from the
// identity service.
func (c *Codec) Mint(now time.Time, ttl time.Duration, payload AccessTokenPayload) (string, error) {
	switch {
	case len(c.secret) == 0:
		return "", errors.New("jwt secret is required")
	case c.issuer == "":
		return "", errors.New("jwt issuer is required")
	case ttl <= 0:
		return "", errors.New("jwt ttl must be positive")
	case !payload.Role.IsValid():
		return "", fmt.Errorf("invalid user role %q", payload.Role)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Email:  payload.Email,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Parse returns ErrTokenExpired or ErrTokenInvalid, each wrapping the
// underlying jwt error.
func (c *Codec) Parse(raw string) (*AccessTokenClaims, error) {
	if len(c.secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	case claims.UserID == uuid.Nil:
		return nil, fmt.Errorf("%w: missing user_id", ErrTokenInvalid)
	}
	return claims, nil
}
