// Package users owns the account model of a site: password login, the
// actions managing accounts and the identity store sessions resolve against.
package users

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"radsite/internal/action"
	"radsite/internal/app"
	"radsite/internal/callctx"
	"radsite/internal/domain"
	"radsite/internal/form"
	"radsite/internal/model"
	"radsite/internal/view"
	"radsite/internal/view/generic"
)

const Label = "users"

// UserKey is the model key other apps point relations at.
const UserKey = Label + ".user"

const (
	randomPasswordLength = 10
	randomPasswordChars  = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	minPasswordLength    = 8
)

var ErrBadCredentials = errors.New("bad credentials")

// App is the users application. Now defaults to time.Now.
type App struct {
	User *model.Model
	Now  func() time.Time

	store *Store
}

func New() *App {
	return &App{User: userModel()}
}

func (a *App) Label() string          { return Label }
func (a *App) Models() []*model.Model { return []*model.Model{a.User} }

// Store returns the account store; nil before Register.
func (a *App) Store() *Store { return a.store }

func userModel() *model.Model {
	return &model.Model{
		AppLabel:          Label,
		Name:              "user",
		VerboseName:       "user",
		VerboseNamePlural: "users",
		Icon:              "user",
		Ordering:          []string{"username"},
		Fields: []*model.Field{
			{Name: "username", Type: model.String, Required: true, MaxLength: 150, HelpText: "Letters, digits and @/./+/-/_ only."},
			{Name: "first_name", Type: model.String, MaxLength: 150},
			{Name: "last_name", Type: model.String, MaxLength: 150},
			{Name: "email", Type: model.Email, VerboseName: "email address"},
			{Name: "is_active", Type: model.Bool, Default: true, VerboseName: "active"},
			{Name: "password", Type: model.String, ReadOnly: true},
			{Name: "date_joined", Type: model.DateTime, ReadOnly: true, VerboseName: "date joined"},
		},
		Display: func(r *model.Record) string {
			return domainUser(r).FullName()
		},
	}
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) Register(site *app.Site) error {
	a.store = &Store{Repo: site.Repo, Model: a.User, Now: a.now}
	site.Users = a.store

	if _, err := site.Actions.Register(action.Spec{
		Name:        "create",
		VerboseName: "Create a new User",
		Owner:       a.User,
		Icon:        "user plus",
		Params: []callctx.Param{
			callctx.Required("first_name"),
			callctx.Required("last_name"),
			callctx.Required("username"),
			callctx.Required("email"),
		},
		Func: func(ctx context.Context, args callctx.Args) (any, error) {
			rec, err := a.store.Create(ctx, NewUser{
				Username:  args.Str("username"),
				Email:     args.Str("email"),
				FirstName: args.Str("first_name"),
				LastName:  args.Str("last_name"),
			})
			if err != nil {
				return nil, err
			}
			return rec, nil
		},
	}); err != nil {
		return err
	}

	if _, err := site.Actions.Register(action.Spec{
		Name:          "reset_password",
		VerboseName:   "Reset user password",
		Owner:         a.User,
		NeedsInstance: true,
		Icon:          "redo",
		Conditions: []action.Condition{
			action.When("is_active", func(_ context.Context, args callctx.Args) bool {
				inst := callctx.Get[*model.Record](args, action.KeyInstance)
				return inst != nil && inst.Get("is_active") == true
			}, callctx.Typed[*model.Record](action.KeyInstance)),
		},
		Params: []callctx.Param{callctx.Typed[*model.Record](action.KeyInstance)},
		Func: func(ctx context.Context, args callctx.Args) (any, error) {
			inst := callctx.Get[*model.Record](args, action.KeyInstance)
			pw, err := RandomPassword()
			if err != nil {
				return nil, err
			}
			if err := a.store.SetPassword(ctx, inst, pw); err != nil {
				return nil, err
			}
			return inst, nil
		},
	}); err != nil {
		return err
	}

	if _, err := site.Actions.Register(action.Spec{
		Name:          "set_password",
		VerboseName:   "Change password",
		Owner:         a.User,
		NeedsInstance: true,
		Icon:          "key",
		Conditions: []action.Condition{
			action.When("own_account", func(_ context.Context, args callctx.Args) bool {
				inst := callctx.Get[*model.Record](args, action.KeyInstance)
				u := callctx.Get[*domain.User](args, action.KeyRequestUser)
				return inst != nil && u != nil && inst.PK() == u.ID
			}, callctx.Typed[*model.Record](action.KeyInstance), callctx.Typed[*domain.User](action.KeyRequestUser)),
		},
		Params: []callctx.Param{
			callctx.Typed[*model.Record](action.KeyInstance),
			callctx.Optional("password1", form.Secret("New password", 128)),
			callctx.Optional("password2", form.Secret("New password confirmation", 128)),
		},
		Func: func(ctx context.Context, args callctx.Args) (any, error) {
			p1, p2 := args.Str("password1"), args.Str("password2")
			if p1 != p2 {
				return nil, &form.ValidationError{Field: "password2", Message: "The two password fields didn't match."}
			}
			if len([]rune(p1)) < minPasswordLength {
				return nil, &form.ValidationError{Field: "password1", Message: fmt.Sprintf("This password is too short. It must contain at least %d characters.", minPasswordLength)}
			}
			inst := callctx.Get[*model.Record](args, action.KeyInstance)
			if err := a.store.SetPassword(ctx, inst, p1); err != nil {
				return nil, err
			}
			return inst, nil
		},
	}); err != nil {
		return err
	}

	if err := site.Views.RegisterModelView(a.User, view.List, false, &generic.ListView{
		Model:   a.User,
		Fields:  generic.Fields{Include: []string{"username", "first_name", "last_name", "email", "is_active"}},
		Filters: []string{"username", "is_active"},
	}); err != nil {
		return err
	}
	if err := site.Views.RegisterModelView(a.User, view.Detail, true, &generic.DetailView{
		Model: a.User,
		Fields: generic.Fields{
			Exclude: []string{"password"},
			Layout:  [][]string{{"username", "email"}, {"first_name", "last_name"}, {"is_active", "date_joined"}},
		},
		Headline: generic.Headline{Subtitle: "email"},
	}); err != nil {
		return err
	}

	login, ok := site.Views.View("login")
	if !ok {
		return errors.New("no login view to replace")
	}
	return site.Views.RegisterView("login", login.Paths, generic.Login{
		Check: a.store.Authenticate,
		Users: a.store.Active,
	}, view.Replace(generic.LoginSource), view.Source("radsite.users.login"))
}

// RandomPassword returns a password drawn from unambiguous letters and digits.
func RandomPassword() (string, error) {
	var b strings.Builder
	n := big.NewInt(int64(len(randomPasswordChars)))
	for range randomPasswordLength {
		i, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		b.WriteByte(randomPasswordChars[i.Int64()])
	}
	return b.String(), nil
}

func hashPassword(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func domainUser(r *model.Record) *domain.User {
	active, _ := r.Get("is_active").(bool)
	return &domain.User{
		ID:        r.PK(),
		Username:  r.Str("username"),
		Email:     r.Str("email"),
		FirstName: r.Str("first_name"),
		LastName:  r.Str("last_name"),
		Active:    active,
	}
}
