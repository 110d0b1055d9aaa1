package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"radsite/internal/domain"
	"radsite/internal/urlsign"
)

const (
	msgExpired = "The URL has expired."
	msgInvalid = "The URL signature could not be validated."
)

// UserStore resolves identities carried by sessions and signed URLs.
type UserStore interface {
	UserByID(ctx context.Context, id int64) (*domain.User, error)
}

// KeyStore resolves API keys sent in the APIKeyHeader.
type KeyStore interface {
	UserIDForKey(ctx context.Context, key string) (int64, error)
}

// APIKeyHeader carries an API key. A valid key counts as a session.
const APIKeyHeader = "X-Api-Key"

// Identity is what Identify learnt about a request.
type Identity struct {
	Level     Level
	User      *domain.User
	SignedURL *urlsign.SignedURL
	// SignatureErr is set when a signature was present but rejected.
	SignatureErr error
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the request identity, anonymous when none was computed.
func FromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.Level == 0 {
		id.Level = Anonymous
	}
	return id
}

// UserFrom returns the acting user, nil for anonymous requests.
func UserFrom(ctx context.Context) *domain.User {
	return FromContext(ctx).User
}

// Middleware computes request trust and gates views on it.
type Middleware struct {
	Signer   urlsign.Signer
	Sessions Sessions
	Users    UserStore
	Keys     KeyStore
	// Default is the level views need when they declare none. Zero means Cached.
	Default Level
	// Exceptions match paths that only need Anonymous.
	Exceptions []*regexp.Regexp
	LoginURL   string
	Logger     *log.Logger
}

func (m Middleware) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Default()
}

func (m Middleware) loginURL() string {
	if m.LoginURL != "" {
		return m.LoginURL
	}
	return "/login"
}

// Identify stores the request Identity in the context.
func (m Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := m.identify(r)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m Middleware) identify(r *http.Request) Identity {
	ctx := r.Context()
	if uid, err := m.Sessions.Authenticate(r); err == nil {
		if u := m.lookup(ctx, uid); u != nil {
			return Identity{Level: Cached, User: u}
		}
	}
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" && m.Keys != nil {
		uid, err := m.Keys.UserIDForKey(ctx, key)
		if err != nil {
			m.logger().Printf("WARNING: %s: rejected API key: %v", r.URL.Path, err)
		} else if u := m.lookup(ctx, uid); u != nil {
			return Identity{Level: Cached, User: u}
		}
	}
	if _, ok := r.URL.Query()[urlsign.QueryKey]; !ok {
		return Identity{Level: Anonymous}
	}
	su, err := m.Signer.Check(r.URL.RequestURI())
	if err != nil {
		if !errors.Is(err, urlsign.ErrExpired) {
			m.logger().Printf("WARNING: %s: %v", r.URL.RequestURI(), err)
		}
		return Identity{Level: Anonymous, SignatureErr: err}
	}
	id := Identity{Level: Implied, SignedURL: &su}
	if su.UserPK != nil {
		id.User = m.lookup(ctx, *su.UserPK)
	}
	return id
}

func (m Middleware) lookup(ctx context.Context, uid int64) *domain.User {
	if m.Users == nil {
		return nil
	}
	u, err := m.Users.UserByID(ctx, uid)
	if err != nil || u == nil || !u.Active {
		return nil
	}
	return u
}

// Needed returns the level a request to path must reach. A declared level
// wins over exceptions and the site default.
func (m Middleware) Needed(path string, declared Level) Level {
	if declared != 0 {
		return declared
	}
	if path == m.loginURL() {
		return Anonymous
	}
	for _, re := range m.Exceptions {
		if loc := re.FindStringIndex(path); loc != nil && loc[0] == 0 {
			return Anonymous
		}
	}
	if m.Default != 0 {
		return m.Default
	}
	return Cached
}

// Gate serves h when the request reaches the needed level and redirects to
// login otherwise. A zero declared level falls back to what h declares.
func (m Middleware) Gate(declared Level, h http.Handler) http.Handler {
	if declared == 0 {
		declared = DeclaredLevel(h)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id.Level >= m.Needed(r.URL.Path, declared) {
			h.ServeHTTP(w, r)
			return
		}
		if id.SignatureErr != nil {
			text := msgInvalid
			if errors.Is(id.SignatureErr, urlsign.ErrExpired) {
				text = msgExpired
			}
			AddMessage(w, r, MessageWarning, text)
		}
		http.Redirect(w, r, m.loginURL()+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
	})
}

type leveled struct {
	http.Handler
	level Level
}

func (l leveled) AuthLevel() Level { return l.level }

// RequireLevel declares the minimum level h needs.
func RequireLevel(level Level, h http.Handler) http.Handler {
	return leveled{Handler: h, level: level}
}

// DeclaredLevel returns the level v declares through an AuthLevel method, zero otherwise.
func DeclaredLevel(v any) Level {
	if l, ok := v.(interface{ AuthLevel() Level }); ok {
		return l.AuthLevel()
	}
	return 0
}
