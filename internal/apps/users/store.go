package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"radsite/internal/domain"
	"radsite/internal/form"
	"radsite/internal/model"
	"radsite/internal/repo"
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// NewUser holds the attributes of an account to create. An empty Password
// gets a random one.
type NewUser struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Store reads and writes accounts through the generic record repo.
type Store struct {
	Repo  repo.Repo
	Model *model.Model
	Now   func() time.Time
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// UserByID resolves session identities.
func (s *Store) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	rec, err := s.Repo.Get(ctx, s.Model, id)
	if err != nil {
		return nil, err
	}
	return domainUser(rec), nil
}

// ByUsername loads the account record called username.
func (s *Store) ByUsername(ctx context.Context, username string) (*model.Record, error) {
	items, err := s.Repo.List(ctx, s.Model, repo.Query{Limit: 1}.Where("username", username))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, repo.ErrNotFound
	}
	return items[0], nil
}

// Authenticate checks a username and password pair.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	rec, err := s.ByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	hash := rec.Str("password")
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	u := domainUser(rec)
	if !u.Active {
		return nil, ErrBadCredentials
	}
	return u, nil
}

// Active lists the active accounts by username.
func (s *Store) Active(ctx context.Context) ([]*domain.User, error) {
	items, err := s.Repo.List(ctx, s.Model, repo.Query{OrderBy: []string{"username"}}.Where("is_active", true))
	if err != nil {
		return nil, err
	}
	out := make([]*domain.User, 0, len(items))
	for _, rec := range items {
		out = append(out, domainUser(rec))
	}
	return out, nil
}

// Create stores a new active account. Invalid or taken usernames are
// reported as form validation errors.
func (s *Store) Create(ctx context.Context, in NewUser) (*model.Record, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, &form.ValidationError{Field: "username", Message: form.ErrRequired.Error()}
	}
	if !usernamePattern.MatchString(username) {
		return nil, &form.ValidationError{Field: "username", Message: "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."}
	}
	n, err := s.Repo.Count(ctx, s.Model, repo.Query{}.Where("username", username))
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, &form.ValidationError{Field: "username", Message: "A user with that username already exists."}
	}
	pw := in.Password
	if pw == "" {
		if pw, err = RandomPassword(); err != nil {
			return nil, err
		}
	}
	hash, err := hashPassword(pw)
	if err != nil {
		return nil, err
	}
	rec := model.New(s.Model, map[string]any{
		"username":    username,
		"email":       strings.TrimSpace(in.Email),
		"first_name":  strings.TrimSpace(in.FirstName),
		"last_name":   strings.TrimSpace(in.LastName),
		"password":    hash,
		"date_joined": s.now().UTC(),
	})
	if err := s.Repo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}
	return rec, nil
}

// SetPassword hashes pw onto rec and saves it.
func (s *Store) SetPassword(ctx context.Context, rec *model.Record, pw string) error {
	hash, err := hashPassword(pw)
	if err != nil {
		return err
	}
	rec.Set("password", hash)
	return s.Repo.Save(ctx, rec)
}
