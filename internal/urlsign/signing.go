package urlsign

import (
	"bytes"
	"compress/zlib"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Tokens follow the Django signing.dumps layout so that links issued by
// earlier deployments sharing the secret keep validating:
//
//	b64(json) ":" base62(timestamp) ":" b64(hmac-sha1)
//
// A payload starting with "." is zlib compressed.

const (
	defaultSalt = "django.core.signing"
	sep         = ":"
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

var errBadSignature = errors.New("bad signature")

func b64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func b64Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func base62Encode(n int64) string {
	if n == 0 {
		return "0"
	}
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{base62Chars[n%62]}, buf...)
		n /= 62
	}
	return sign + string(buf)
}

func base62Decode(s string) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return 0, errBadSignature
	}
	var n int64
	for _, c := range s {
		i := strings.IndexRune(base62Chars, c)
		if i < 0 {
			return 0, errBadSignature
		}
		n = n*62 + int64(i)
	}
	if neg {
		n = -n
	}
	return n, nil
}

func signingKey(secret, salt string) []byte {
	h := sha1.Sum([]byte(salt + "signer" + secret))
	return h[:]
}

func mac(secret, salt, value string) string {
	m := hmac.New(sha1.New, signingKey(secret, salt))
	m.Write([]byte(value))
	return b64Encode(m.Sum(nil))
}

// marshalCompact encodes v as compact JSON without HTML escaping.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func dumps(secret, salt string, ts int64, v any) (string, error) {
	data, err := marshalCompact(v)
	if err != nil {
		return "", err
	}
	value := b64Encode(data) + sep + base62Encode(ts)
	return value + sep + mac(secret, salt, value), nil
}

// loads verifies token and decodes its payload into v. Token age is not
// checked; expiry lives in the payload.
func loads(secret, salt, token string, v any) error {
	i := strings.LastIndex(token, sep)
	if i < 0 {
		return errBadSignature
	}
	value, sig := token[:i], token[i+1:]
	if !hmac.Equal([]byte(sig), []byte(mac(secret, salt, value))) {
		return errBadSignature
	}
	j := strings.LastIndex(value, sep)
	if j < 0 {
		return errBadSignature
	}
	if _, err := base62Decode(value[j+1:]); err != nil {
		return err
	}
	payload := value[:j]
	compressed := strings.HasPrefix(payload, ".")
	data, err := b64Decode(strings.TrimPrefix(payload, "."))
	if err != nil {
		return errBadSignature
	}
	if compressed {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return errBadSignature
		}
		defer r.Close()
		if data, err = io.ReadAll(r); err != nil {
			return errBadSignature
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errBadSignature
	}
	return nil
}
