package facade

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// callerClaims is the JWT payload this façade expects on the bearer token's
// subject: the caller's requester id, propagated into task attribution.
// Grounded on the teacher's auth.Claims (internal/auth/jwt.go), trimmed to
// the one field the façade actually consumes.
type callerClaims struct {
	jwt.RegisteredClaims
}

// JWTAuth validates HS256 bearer tokens and attaches the token subject to
// the request context as the requester id, grounded on the teacher's
// auth.JWTService.Validate but reshaped into an AuthMiddleware so it plugs
// into Config.Auth without the façade depending on a concrete auth package.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth builds a JWTAuth verifying HS256 tokens signed with secret. An
// empty secret makes every request unauthenticated ("rejected"), rather
// than silently accepting unsigned tokens.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret)}
}

// Middleware returns an AuthMiddleware that requires a valid
// "Authorization: Bearer <token>" header, rejecting with 401 otherwise.
func (a *JWTAuth) Middleware() AuthMiddleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			requesterID, err := a.validate(r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, fmt.Sprintf("unauthorized: %v", err), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), requesterID)))
		})
	}
}

func (a *JWTAuth) validate(header string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("auth is not configured")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimPrefix(header, prefix)

	parsed, err := jwt.ParseWithClaims(raw, &callerClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*callerClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs a short-lived bearer token for subject, for operators
// bootstrapping a caller credential without a separate identity service.
func (a *JWTAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("auth is not configured")
	}
	claims := callerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
