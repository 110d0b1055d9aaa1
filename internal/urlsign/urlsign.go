// Package urlsign issues and verifies stateless signed URLs.
//
// A signed URL carries its own capability token in the X-URL-Signature query
// parameter. The token covers the full path including every other query
// parameter, an optional expiry, the HTTP verbs it was issued for and an
// optional user the link acts on behalf of.
package urlsign

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// QueryKey is the query parameter holding the token. It must come last.
const QueryKey = "X-URL-Signature"

// DefaultExpire applies when a Signer has no DefaultExpire.
const DefaultExpire = time.Hour

// Check failures. Callers branch on them with errors.Is.
var (
	ErrMissing          = errors.New("url signature missing")
	ErrInvalidSignature = errors.New("url signature invalid")
	ErrExpired          = errors.New("url signature expired")
	ErrMangledData      = errors.New("url does not match its signature")
)

// ErrNotPath is a usage error: signing and checking work on paths only.
var ErrNotPath = errors.New("urlsign expects a path, not an URL")

var (
	schemeRe    = regexp.MustCompile(`^\w+://`)
	signatureRe = regexp.MustCompile(`[?&]` + QueryKey + `=[^&$]*`)
)

// SignedURL is the verified or freshly signed content of a token.
// ValidUntil is a unix timestamp, -1 when the URL never expires.
type SignedURL struct {
	Path       string   `json:"path"`
	ValidUntil int64    `json:"valid_until"`
	Verbs      []string `json:"verbs"`
	UserPK     *int64   `json:"user_pk"`
	Signature  string   `json:"-"`
}

// FullPath appends the signature parameter to the signed path.
func (u SignedURL) FullPath() string {
	glue := "?"
	if strings.Contains(u.Path, "?") {
		glue = "&"
	}
	return u.Path + glue + QueryKey + "=" + u.Signature
}

// FullURL resolves FullPath against the host of r.
func (u SignedURL) FullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + u.FullPath()
}

// Expires returns the expiry time, false when the URL never expires.
func (u SignedURL) Expires() (time.Time, bool) {
	if u.ValidUntil < 0 {
		return time.Time{}, false
	}
	return time.Unix(u.ValidUntil, 0), true
}

// Signer signs and checks URLs with a process-wide secret.
type Signer struct {
	Secret        string
	Salt          string
	DefaultExpire time.Duration
	Now           func() time.Time
}

type signOptions struct {
	expire *time.Duration
	verbs  []string
	userPK *int64
}

type Option func(*signOptions)

// Expire sets the lifetime of the URL. A negative duration never expires.
func Expire(d time.Duration) Option {
	return func(o *signOptions) { o.expire = &d }
}

// Never issues a URL without expiry.
func Never() Option {
	return Expire(-1)
}

// Verbs records the HTTP verbs the URL is meant for.
func Verbs(verbs ...string) Option {
	return func(o *signOptions) { o.verbs = append([]string(nil), verbs...) }
}

// User makes the URL imply the identity of the given user.
func User(pk int64) Option {
	return func(o *signOptions) { o.userPK = &pk }
}

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Signer) salt() string {
	if s.Salt != "" {
		return s.Salt
	}
	return defaultSalt
}

// Sign issues a token for path, which may already carry query parameters.
func (s Signer) Sign(path string, opts ...Option) (SignedURL, error) {
	if schemeRe.MatchString(path) {
		return SignedURL{}, ErrNotPath
	}
	var o signOptions
	for _, opt := range opts {
		opt(&o)
	}
	expire := s.DefaultExpire
	if expire == 0 {
		expire = DefaultExpire
	}
	if o.expire != nil {
		expire = *o.expire
	}
	now := s.now()
	u := SignedURL{Path: path, ValidUntil: -1, Verbs: o.verbs, UserPK: o.userPK}
	if expire >= 0 {
		u.ValidUntil = now.Add(expire).Unix()
	}
	sig, err := dumps(s.Secret, s.salt(), now.Unix(), u)
	if err != nil {
		return SignedURL{}, err
	}
	u.Signature = sig
	return u, nil
}

// Check verifies the token carried by path.
func (s Signer) Check(path string) (SignedURL, error) {
	if schemeRe.MatchString(path) {
		return SignedURL{}, ErrNotPath
	}
	_, rawQuery, _ := strings.Cut(path, "?")
	// Malformed escapes elsewhere in the query do not hide the signature.
	values, _ := url.ParseQuery(rawQuery)
	sigs, ok := values[QueryKey]
	if !ok || len(sigs) == 0 {
		return SignedURL{}, ErrMissing
	}
	var u SignedURL
	if err := loads(s.Secret, s.salt(), sigs[0], &u); err != nil {
		return SignedURL{}, ErrInvalidSignature
	}
	u.Signature = sigs[0]
	if u.ValidUntil >= 0 && u.ValidUntil < s.now().Unix() {
		return u, ErrExpired
	}
	if signatureRe.ReplaceAllString(path, "") != u.Path {
		return u, ErrMangledData
	}
	return u, nil
}
