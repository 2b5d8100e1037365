// Package session binds the "current user" to a client through a signed cookie.
//
// The binding lives in the client's cookie jar, so two clients talking to the
// same server never see each other's current user.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
)

// CookieName is the name of the cookie carrying the current user.
const CookieName = "current_user"

// KeySize is the length of keys produced by RandomKey.
const KeySize = 32

type contextKey string

const userIDContextKey contextKey = "current_user_id"

// Manager issues and verifies current-user cookies.
type Manager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewManager returns a Manager signing cookies with key. Cookies expire after ttl.
func NewManager(key []byte, ttl time.Duration) (*Manager, error) {
	if len(key) == 0 {
		return nil, errors.New("session key is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	return &Manager{key: key, ttl: ttl, now: time.Now}, nil
}

// RandomKey returns a fresh signing key. Cookies signed with it do not survive a restart.
func RandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}

// Bind makes userID the current user of the client receiving w.
func (m *Manager) Bind(w http.ResponseWriter, userID int64) error {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return fmt.Errorf("sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.ttl / time.Second),
	})
	return nil
}

// Current returns the current user id of the client that sent r.
// It returns errors.ErrNoCurrentUser when the cookie is missing, expired or forged.
func (m *Manager) Current(r *http.Request) (int64, error) {
	if userID, ok := UserIDFromContext(r.Context()); ok {
		return userID, nil
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return 0, internalerrors.ErrNoCurrentUser
	}
	return m.parse(cookie.Value)
}

func (m *Manager) parse(tokenString string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", internalerrors.ErrNoCurrentUser, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: malformed subject %q", internalerrors.ErrNoCurrentUser, claims.Subject)
	}
	return userID, nil
}

// Load is a middleware that puts the current user id, when the request carries
// a valid cookie, into the request context.
func (m *Manager) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(CookieName); err == nil {
			if userID, err := m.parse(cookie.Value); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserID returns a copy of ctx carrying userID as the current user.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext returns the current user id stored by Load or WithUserID.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}
