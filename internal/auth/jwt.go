package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"dronelab/internal/config"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
	ErrNoSubject    = errors.New("token has no subject")
)

// RevocationKey is the hash holding revoked token ids as fields.
const RevocationKey = "auth:revoked"

// TokenQueryParam carries the token on socket handshakes, where browsers
// cannot set headers.
const TokenQueryParam = "token"

// Revocations looks up revoked token ids.
type Revocations interface {
	GetField(ctx context.Context, key, field string) (string, bool, error)
}

// Claims are the instructor token claims. The subject is the instructor id.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTValidator checks HS256 instructor tokens. Issuance happens elsewhere.
type JWTValidator struct {
	cfg         *config.AuthConfig
	revocations Revocations
}

// NewJWTValidator creates a validator. revocations may be nil.
func NewJWTValidator(cfg *config.AuthConfig, revocations Revocations) *JWTValidator {
	return &JWTValidator{cfg: cfg, revocations: revocations}
}

// Enabled reports whether instructor endpoints require a token.
func (v *JWTValidator) Enabled() bool {
	return v.cfg.Enabled
}

// ValidateToken parses and validates a token string and returns its claims.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrNoSubject
	}

	if v.revocations != nil && claims.ID != "" {
		_, revoked, err := v.revocations.GetField(ctx, RevocationKey, claims.ID)
		if err != nil {
			// fail open on store errors
			log.Error().Str("module", "auth").Err(err).Msg("failed to check token revocation")
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// Authenticate extracts the token from the request and returns the
// instructor id it was issued to.
func (v *JWTValidator) Authenticate(r *http.Request) (string, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return "", ErrMissingToken
	}
	claims, err := v.ValidateToken(r.Context(), token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// TokenFromRequest reads an Authorization bearer header, falling back to
// the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}
