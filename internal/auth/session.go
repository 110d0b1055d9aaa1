package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultCookieName = "radsite_session"

var ErrNoSession = errors.New("no session")

// Sessions keeps the logged-in user in an HS256 signed cookie.
type Sessions struct {
	Secret     string
	CookieName string
	TTL        time.Duration
	Secure     bool
	Now        func() time.Time
}

func (s Sessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Sessions) cookieName() string {
	if s.CookieName != "" {
		return s.CookieName
	}
	return defaultCookieName
}

func (s Sessions) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return 14 * 24 * time.Hour
}

// Issue returns a session token for userID.
func (s Sessions) Issue(userID int64) (string, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return "", errors.New("session secret not configured")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl())),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
}

// Parse validates token and returns the user id it carries.
func (s Sessions) Parse(token string) (int64, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return 0, errors.New("session secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		return 0, err
	}
	if !parsed.Valid {
		return 0, errors.New("invalid session")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("session subject is not a user id")
	}
	return id, nil
}

// Authenticate reads the session cookie, or a bearer token for API clients.
func (s Sessions) Authenticate(r *http.Request) (int64, error) {
	if c, err := r.Cookie(s.cookieName()); err == nil && c.Value != "" {
		return s.Parse(c.Value)
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return s.Parse(token)
	}
	return 0, ErrNoSession
}

// Login sets the session cookie for userID.
func (s Sessions) Login(w http.ResponseWriter, userID int64) error {
	token, err := s.Issue(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    token,
		Path:     "/",
		Expires:  s.now().Add(s.ttl()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Logout clears the session cookie.
func (s Sessions) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
