package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "clinic_session"

// Role is the role of an authenticated user.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
	RolePatient Role = "patient"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

var errNoToken = errors.New("missing session token")

// IssueToken signs an HS256 session token for p.
func IssueToken(secret []byte, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: p.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates a session token and returns its principal.
func ParseToken(secret []byte, token string) (Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("invalid session token: %w", err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid subject: %w", err)
	}
	return Principal{UserID: id, Role: claims.Role}, nil
}

// SessionAuth authenticates requests by a bearer token or the session
// cookie. Websocket clients that cannot set headers may pass ?token=.
func SessionAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := tokenFromRequest(r)
			if err != nil {
				writeError(w, err.Error(), http.StatusUnauthorized)
				return
			}
			p, err := ParseToken(secret, token)
			if err != nil {
				writeError(w, "invalid session", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", errors.New("invalid authorization format")
		}
		return parts[1], nil
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return "", errNoToken
}

// RequireRole rejects principals whose role is not listed.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipal(r.Context())
			if !ok {
				writeError(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			if !slices.Contains(roles, p.Role) {
				writeError(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal returns the authenticated caller.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}
