package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/mindlogger/mindlogger-go/internal/utils"
)

type authCtxKey int

const authKey authCtxKey = 1

// Claims identifies the calling user. Coordinator tokens additionally see
// individualized schedules of other subjects.
type Claims struct {
	UID         string `json:"uid"`
	Coordinator bool   `json:"coordinator"`
	jwt.RegisteredClaims
}

func secret() []byte {
	return []byte(utils.SafeEnv("MINDLOGGER_JWT_SECRET", "mindlogger-dev-secret"))
}

// SignToken issues an HS256 token for uid.
func SignToken(uid string, coordinator bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UID:         uid,
		Coordinator: coordinator,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret())
}

func parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(*jwt.Token) (interface{}, error) { return secret(), nil })
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// WithAuth attaches claims to the context when a valid bearer token is
// present; anonymous requests pass through unchanged.
func WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			if c, err := parseToken(tok); err == nil {
				ctx := context.WithValue(r.Context(), authKey, c)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests that carry no valid claims.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(authKey).(*Claims); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserIDFromContext returns the caller's user id hex, if authenticated.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if c, ok := ctx.Value(authKey).(*Claims); ok && c.UID != "" {
		return c.UID, true
	}
	return "", false
}

// IsCoordinator reports whether the caller holds a coordinator token.
func IsCoordinator(ctx context.Context) bool {
	c, ok := ctx.Value(authKey).(*Claims)
	return ok && c.Coordinator
}
