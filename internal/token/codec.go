package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/school-auth-api/internal/models"
)

const accessTokenType = "access"

// Decode failures are distinguished for logging and metrics. Callers must
// collapse all of them to a single unauthorized outcome at the API boundary.
var (
	ErrExpired          = errors.New("token expired")
	ErrMalformed        = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
)

// Config carries the process-wide signing material.
type Config struct {
	Secret string
	Issuer string
}

// Codec signs and verifies access tokens. It holds only the immutable signing
// secret, so a single instance serves all requests without locking and
// neither Issue nor Decode ever touches storage.
type Codec struct {
	secret []byte
	issuer string
}

// NewCodec validates the signing configuration. An empty secret is a startup
// misconfiguration, not a per-request failure.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token codec: signing secret is empty")
	}
	return &Codec{secret: []byte(cfg.Secret), issuer: cfg.Issuer}, nil
}

// Issue signs an access token for the user with the role's static permission
// set embedded, valid for ttl from now.
func (c *Codec) Issue(userID string, role models.UserRole, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &models.AccessClaims{
		UserID:      userID,
		Role:        role,
		Permissions: models.PermissionsForRole(role),
		TokenType:   accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Decode verifies signature, expiry and token type, returning the claims.
func (c *Codec) Decode(tokenString string) (*models.AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &models.AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	claims, ok := parsed.Claims.(*models.AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.TokenType != accessTokenType {
		return nil, ErrMalformed
	}

	return claims, nil
}
