// Package contacts keeps people and organisations along with the ways to
// reach them.
package contacts

import (
	"context"
	"net/http"

	"radsite/internal/action"
	"radsite/internal/app"
	"radsite/internal/callctx"
	"radsite/internal/model"
	"radsite/internal/view"
	"radsite/internal/view/generic"
)

const Label = "contacts"

// ContactKey is the model key other apps point relations at.
const ContactKey = Label + ".contact"

// App is the contacts application.
type App struct {
	Contact       *model.Model
	Mech          *model.Model
	PostalAddress *model.Model
	PhoneNumber   *model.Model
	EmailAddress  *model.Model
}

// New builds the app with the assignee relation pointing at userKey.
func New(userKey string) *App {
	base := mechBase()
	return &App{
		Contact:       contactModel(userKey),
		Mech:          base,
		PostalAddress: postalAddressModel(base),
		PhoneNumber:   phoneNumberModel(base),
		EmailAddress:  emailAddressModel(base),
	}
}

func (a *App) Label() string { return Label }

func (a *App) Models() []*model.Model {
	return []*model.Model{a.Contact, a.Mech, a.PostalAddress, a.PhoneNumber, a.EmailAddress}
}

func (a *App) mechs() []*model.Model {
	return []*model.Model{a.PostalAddress, a.PhoneNumber, a.EmailAddress}
}

func (a *App) Register(site *app.Site) error {
	if err := a.registerActions(site); err != nil {
		return err
	}
	return a.registerViews(site)
}

func (a *App) registerActions(site *app.Site) error {
	if _, err := site.Actions.Register(action.Spec{
		Name:        "create",
		VerboseName: "Create a new contact",
		Owner:       a.Contact,
		Icon:        "plus",
		Params: []callctx.Param{
			callctx.Required("contact_type"),
			callctx.Required("first_name"),
			callctx.Required("last_name"),
			callctx.Optional("language", "es"),
			callctx.Optional("web_address", ""),
		},
		Func: func(ctx context.Context, args callctx.Args) (any, error) {
			rec := model.New(a.Contact, args)
			if err := site.Repo.Save(ctx, rec); err != nil {
				return nil, err
			}
			return rec, nil
		},
	}); err != nil {
		return err
	}

	verbose := map[*model.Model]string{
		a.PostalAddress: "Add a postal address",
		a.PhoneNumber:   "Add a phone number",
		a.EmailAddress:  "Add an email address",
	}
	for _, m := range a.mechs() {
		params := []callctx.Param{callctx.Required("contact")}
		for _, f := range m.Fields {
			if f.Name == "contact" || f.Name == "is_active" || !f.Editable() {
				continue
			}
			p := callctx.Required(f.Name)
			if !f.Required {
				p = p.WithDefault(f.Default)
			}
			params = append(params, p)
		}
		if _, err := site.Actions.Register(action.Spec{
			Name:        "create",
			VerboseName: verbose[m],
			Owner:       m,
			Icon:        m.Icon,
			Params:      params,
			Func:        createMech(site, m),
		}); err != nil {
			return err
		}
		if _, err := site.Actions.RegisterTransition(action.TransitionSpec{
			Spec: action.Spec{
				Name:        "deactivate",
				VerboseName: "Mark as no longer valid",
				Owner:       m,
				Icon:        "archive",
				Params:      []callctx.Param{callctx.Typed[*model.Record](action.KeyInstance)},
				Func: func(ctx context.Context, args callctx.Args) (any, error) {
					inst := callctx.Get[*model.Record](args, action.KeyInstance)
					return inst, site.Repo.Save(ctx, inst)
				},
			},
			Field:  "is_active",
			Source: []any{true},
			Target: false,
		}); err != nil {
			return err
		}
	}
	return nil
}

// createMech stores a new mechanism of m for the chosen contact.
func createMech(site *app.Site, m *model.Model) callctx.Func {
	return func(ctx context.Context, args callctx.Args) (any, error) {
		rec := model.New(m, args)
		if err := site.Repo.Save(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
}

func (a *App) registerViews(site *app.Site) error {
	if err := site.Views.RegisterModelView(a.Contact, view.List, false, &generic.ListView{
		Model:   a.Contact,
		Fields:  generic.Fields{Include: []string{"id", "contact_type", "full_name", "language", "assignee"}},
		Filters: []string{"contact_type", "full_name", "assignee"},
	}); err != nil {
		return err
	}

	var embeds []generic.Embed
	if a.Contact.HasField("partner") {
		embeds = append(embeds, generic.Related("partner"))
	}
	embeds = append(embeds,
		generic.Explicit(&generic.Embeddable{
			Name:   "postal_addresses",
			Title:  a.PostalAddress.Label(),
			Model:  a.PostalAddress,
			Field:  "postal_addresses",
			Fields: generic.Fields{Include: []string{"address"}},
		}),
		generic.Explicit(&generic.Embeddable{
			Name:   "phone_numbers",
			Title:  a.PhoneNumber.Label(),
			Model:  a.PhoneNumber,
			Field:  "phone_numbers",
			Fields: generic.Fields{Include: []string{"number"}},
		}),
		generic.Related("email_addresses"),
	)
	if err := site.Views.RegisterModelView(a.Contact, view.Detail, true, &generic.DetailView{
		Model: a.Contact,
		Fields: generic.Fields{Layout: [][]string{
			{"full_name", "contact_type"},
			{"assignee", "language"},
			{"web_address"},
		}},
		Embeds: embeds,
	}); err != nil {
		return err
	}
	if err := site.Views.RegisterModelView(a.PostalAddress, view.List, false, &generic.ListView{
		Model:  a.PostalAddress,
		Fields: generic.Fields{Include: []string{"id", "contact", "address", "is_active"}},
	}); err != nil {
		return err
	}
	if err := site.Views.RegisterModelView(a.EmailAddress, view.EmbedList, false, &generic.Embeddable{
		Fields: generic.Fields{Include: []string{"email", "is_active"}},
		Limit:  5,
	}); err != nil {
		return err
	}
	return site.Views.RegisterView("sample_view", []string{"/contacts/sample_view/"}, view.Func(sampleView))
}

func sampleView(_ *view.Env, w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Hello"))
}
