package auth

import (
	"fmt"
	"strings"
)

// Level is the trust established for a request, computed fresh every time.
type Level int

const (
	Anonymous Level = iota + 1
	// Implied comes from a valid signed URL.
	Implied
	// Cached comes from an authenticated session.
	Cached
	// Good is reserved for same-session freshness and never computed.
	Good
)

func (l Level) String() string {
	switch l {
	case Anonymous:
		return "anonymous"
	case Implied:
		return "implied"
	case Cached:
		return "cached"
	case Good:
		return "good"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel accepts level names in any case, with or without an "AuthLevel." prefix.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "authlevel.")
	for _, l := range []Level{Anonymous, Implied, Cached, Good} {
		if l.String() == name {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown auth level %q", s)
}

// MarshalText lets levels appear in YAML and JSON by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
