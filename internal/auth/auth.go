// Package auth issues and verifies the identity tokens hub connections
// present, and carries the resulting user through request contexts.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zeebo/xxh3"

	"github.com/Samijain03/Collab-X/internal/metrics"
	"github.com/Samijain03/Collab-X/pkg/models"
)

type contextKey string

const userContextKey contextKey = "user"

// DefaultTTL is the lifetime of tokens minted without an explicit TTL.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrNoSecret     = errors.New("jwt secret is empty")
)

// Claims holds JWT token claims.
type Claims struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Color       string `json:"user_color,omitempty"`
	jwt.RegisteredClaims
}

// User converts the claims to the identity attached to a session. A
// missing color is derived from the user id.
func (c *Claims) User() models.User {
	u := models.User{
		ID:          models.ID(c.UserID),
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Color:       c.Color,
	}
	if u.Color == "" {
		u.Color = ColorFor(u.ID)
	}
	return u
}

// Auth signs and validates HS256 tokens.
type Auth struct {
	secret []byte
	now    func() time.Time
}

// New creates an Auth with the shared secret.
func New(secret string) (*Auth, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Auth{secret: []byte(secret), now: time.Now}, nil
}

// Issue mints a token for u. ttl <= 0 uses DefaultTTL.
func (a *Auth) Issue(u models.User, ttl time.Duration) (string, time.Time, error) {
	if u.ID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := a.now()
	claims := &Claims{
		UserID:      string(u.ID),
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Color:       u.Color,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(u.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify validates a token and returns its claims.
func (a *Auth) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user_id")
	}
	return claims, nil
}

// Peek decodes the claims of a token without checking its signature.
// Clients use it to learn their own identity; the hub verifies.
func Peek(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user_id")
	}
	return claims, nil
}

// Middleware rejects requests without a valid token and stores the
// claims in the request context. Browsers cannot set headers on websocket
// upgrades, so a ?token= query parameter is accepted too.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, ErrMissingToken.Error())
			return
		}
		claims, err := a.Verify(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}
		metrics.RecordAuthAttempt(true)
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, c)
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (models.User, bool) {
	c := GetClaims(ctx)
	if c == nil {
		return models.User{}, false
	}
	return c.User(), true
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// palette holds the presence colors assigned to users without one.
var palette = []string{
	"#e11d48", "#2563eb", "#16a34a", "#d97706",
	"#7c3aed", "#0891b2", "#db2777", "#65a30d",
}

// ColorFor picks a stable presence color for a user id.
func ColorFor(id models.ID) string {
	return palette[xxh3.HashString(string(id))%uint64(len(palette))]
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
