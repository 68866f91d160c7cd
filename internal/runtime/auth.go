package runtime

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// SessionCookie carries the session token in browsers.
	SessionCookie = "realism-session"

	ContactPhone = "phone"
	ContactEmail = "email"

	userIDKey = "user_id"
)

var ErrInvalidSession = errors.New("invalid session")

// Blocklist records revoked token ids.
type Blocklist interface {
	BlockToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenBlocked(ctx context.Context, jti string) (bool, error)
}

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	UserID      string `json:"userId"`
	Contact     string `json:"contact"`
	ContactType string `json:"contactType"`
	jwt.RegisteredClaims
}

// UserIDFromContact derives the stable user id for a phone number or email.
func UserIDFromContact(contact string) string {
	sum := sha256.Sum256([]byte(contact))
	return hex.EncodeToString(sum[:])[:16]
}

// Sessions issues and validates HS256 session tokens.
type Sessions struct {
	secret    []byte
	ttl       time.Duration
	blocklist Blocklist
	secure    bool
	now       func() time.Time
}

type SessionOption func(*Sessions)

func WithSecureCookie(secure bool) SessionOption { return func(s *Sessions) { s.secure = secure } }

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Sessions) { s.now = now }
}

func NewSessions(secret []byte, ttl time.Duration, blocklist Blocklist, opts ...SessionOption) *Sessions {
	s := &Sessions{secret: secret, ttl: ttl, blocklist: blocklist, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a new session for contact.
func (s *Sessions) Issue(contact, contactType string) (string, SessionClaims, error) {
	if contactType == "" {
		contactType = ContactPhone
	}
	now := s.now()
	claims := SessionClaims{
		UserID:      UserIDFromContact(contact),
		Contact:     contact,
		ContactType: contactType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", SessionClaims{}, fmt.Errorf("sign session: %w", err)
	}
	return tok, claims, nil
}

// Parse verifies signature and expiry. It does not consult the blocklist.
func (s *Sessions) Parse(token string) (SessionClaims, error) {
	var claims SessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSession
	}
	if claims.UserID == "" {
		return SessionClaims{}, ErrInvalidSession
	}
	return claims, nil
}

// Validate parses token and rejects revoked sessions.
func (s *Sessions) Validate(ctx context.Context, token string) (SessionClaims, error) {
	if token == "" {
		return SessionClaims{}, ErrInvalidSession
	}
	claims, err := s.Parse(token)
	if err != nil {
		return SessionClaims{}, err
	}
	if claims.ID != "" && s.blocklist != nil {
		blocked, err := s.blocklist.IsTokenBlocked(ctx, claims.ID)
		if err != nil {
			return SessionClaims{}, fmt.Errorf("check blocklist: %w", err)
		}
		if blocked {
			return SessionClaims{}, ErrInvalidSession
		}
	}
	return claims, nil
}

// Revoke blocklists the token id until the token would have expired.
// Tokens that no longer parse are ignored.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	claims, err := s.Parse(token)
	if err != nil || claims.ID == "" || s.blocklist == nil {
		return nil
	}
	ttl := s.ttl
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
	}
	if ttl <= 0 {
		return nil
	}
	return s.blocklist.BlockToken(ctx, claims.ID, ttl)
}

// SetCookie attaches token to the response.
func (s *Sessions) SetCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) ClearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware rejects requests without a valid session and stores the user
// id on both the echo context and the request context.
func (s *Sessions) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := s.Validate(c.Request().Context(), SessionToken(c))
			if err != nil {
				if !errors.Is(err, ErrInvalidSession) {
					c.Logger().Error(err)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			c.Set(userIDKey, claims.UserID)
			c.SetRequest(c.Request().WithContext(ContextWithSubject(c.Request().Context(), claims.UserID)))
			return next(c)
		}
	}
}

// SessionToken reads the session token from the cookie or a bearer header.
func SessionToken(c echo.Context) string {
	if ck, err := c.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	if h := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// UserID returns the authenticated user set by Middleware.
func UserID(c echo.Context) (string, bool) {
	v, ok := c.Get(userIDKey).(string)
	return v, ok && v != ""
}

// InternalAuth guards machine-to-machine routes with a shared bearer token.
// An empty token rejects every request.
func InternalAuth(token string) echo.MiddlewareFunc {
	want := []byte(token)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get(echo.HeaderAuthorization)
			got := []byte(strings.TrimPrefix(h, "Bearer "))
			if len(want) == 0 || !strings.HasPrefix(h, "Bearer ") || subtle.ConstantTimeCompare(got, want) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			return next(c)
		}
	}
}

type subjectKey struct{}

func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the user id stored by Middleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(subjectKey{}).(string)
	return s, ok
}
