// Package partners tracks which contacts are business partners and walks
// them through approval.
package partners

import (
	"context"
	"fmt"
	"time"

	"radsite/internal/action"
	"radsite/internal/app"
	"radsite/internal/callctx"
	"radsite/internal/form"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/view"
	"radsite/internal/view/generic"
)

const Label = "partners"

// Partner statuses.
const (
	StatusNew      int64 = 10
	StatusApproved int64 = 100
	StatusRejected int64 = 200
	StatusDisabled int64 = 201
)

// Reject reasons.
const (
	ReasonRisky   int64 = 10
	ReasonStartup int64 = 20
)

var statusChoices = []model.Choice{
	{Value: StatusNew, Label: "New account"},
	{Value: StatusApproved, Label: "Approved partner"},
	{Value: StatusRejected, Label: "Rejected partner"},
	{Value: StatusDisabled, Label: "Disabled partner"},
}

var reasonChoices = []model.Choice{
	{Value: ReasonRisky, Label: "Too much risk"},
	{Value: ReasonStartup, Label: "Too young for risk assessment"},
}

// App is the partners application.
type App struct {
	Partner    *model.Model
	contactKey string
}

// New builds the app with partners pointing at contactKey.
func New(contactKey string) *App {
	return &App{Partner: partnerModel(contactKey), contactKey: contactKey}
}

func (a *App) Label() string          { return Label }
func (a *App) Models() []*model.Model { return []*model.Model{a.Partner} }

func partnerModel(contactKey string) *model.Model {
	return &model.Model{
		AppLabel:          Label,
		Name:              "partner",
		VerboseName:       "partner",
		VerboseNamePlural: "partners",
		Icon:              "industry",
		Fields: []*model.Field{
			{Name: "contact", Kind: model.OneToOne, Related: contactKey, Required: true, ReadOnly: true},
			{Name: "status", Type: model.Int, Default: StatusNew, ReadOnly: true, VerboseName: "partner status", Choices: statusChoices},
			{Name: "reject_reason", Type: model.Int, ReadOnly: true, VerboseName: "reject reason", Choices: reasonChoices},
			{Name: "reevaluate_on", Type: model.Date, ReadOnly: true, VerboseName: "re-evaluate risk on"},
			{Name: "reconsider", Type: model.Bool, Default: false, ReadOnly: true, VerboseName: "reconsider re-enablement"},
		},
	}
}

// RejectForm asks why a partner is rejected.
func RejectForm() *form.Form {
	return form.New("", "").
		Add("reason", form.Choice("Reject reason", reasonChoices)).
		Add("may_reeval", form.Date("Re-evaluate risk on").Optional())
}

func (a *App) Register(site *app.Site) error {
	contact, err := site.Models.Get(a.contactKey)
	if err != nil {
		return err
	}
	if _, err := site.Actions.Register(action.Spec{
		Name:        "create",
		VerboseName: "Create new partner",
		Owner:       a.Partner,
		Icon:        "plus",
		Params: []callctx.Param{
			callctx.Optional("contact", form.ModelChoice("Contact", contact, nil)),
		},
		Func: func(ctx context.Context, args callctx.Args) (any, error) {
			c := callctx.Get[*model.Record](args, "contact")
			if c == nil {
				return nil, &form.ValidationError{Field: "contact", Message: form.ErrRequired.Error()}
			}
			n, err := site.Repo.Count(ctx, a.Partner, repo.Query{}.Where("contact", c.PK()))
			if err != nil {
				return nil, err
			}
			if n > 0 {
				return nil, &form.ValidationError{Field: "contact", Message: "Partner with this Contact already exists."}
			}
			rec := model.New(a.Partner, map[string]any{"contact": c})
			if err := site.Repo.Save(ctx, rec); err != nil {
				return nil, err
			}
			return rec, nil
		},
	}); err != nil {
		return err
	}

	instance := callctx.Typed[*model.Record](action.KeyInstance)
	save := func(ctx context.Context, inst *model.Record) (any, error) {
		if err := site.Repo.Save(ctx, inst); err != nil {
			return nil, err
		}
		return inst, nil
	}
	transitions := []action.TransitionSpec{
		{
			Spec: action.Spec{
				Name:        "approve_partner",
				VerboseName: "Approve partner account",
				Icon:        "thumbs up",
				Params:      []callctx.Param{instance},
				Func: func(ctx context.Context, args callctx.Args) (any, error) {
					inst := callctx.Get[*model.Record](args, action.KeyInstance)
					inst.Set("reject_reason", nil)
					inst.Set("reevaluate_on", nil)
					return save(ctx, inst)
				},
			},
			Source: []any{StatusNew, StatusRejected, StatusDisabled},
			Target: StatusApproved,
		},
		{
			Spec: action.Spec{
				Name:        "reject_partner",
				VerboseName: "Reject partner account",
				Icon:        "thumbs down",
				Params:      []callctx.Param{instance, callctx.Optional("why", &form.Spec{Title: "Why", Build: RejectForm})},
				Func: func(ctx context.Context, args callctx.Args) (any, error) {
					inst := callctx.Get[*model.Record](args, action.KeyInstance)
					why, ok := args.Value("why").(*form.Form)
					if !ok || !why.Valid() {
						return nil, fmt.Errorf("reject_partner needs a validated why form")
					}
					data := why.CleanedData()
					inst.Set("reject_reason", data["reason"])
					if d, ok := data["may_reeval"].(time.Time); ok {
						inst.Set("reevaluate_on", d)
					} else {
						inst.Set("reevaluate_on", nil)
					}
					return save(ctx, inst)
				},
			},
			Source: []any{StatusNew, StatusApproved},
			Target: StatusRejected,
		},
		{
			Spec: action.Spec{
				Name:        "disable_partner",
				VerboseName: "Disable partner account",
				Icon:        "power off",
				Params: []callctx.Param{instance, callctx.Optional("reconsider",
					form.Boolean("Reconsider re-enablement in the future").WithInitial(false))},
				Func: func(ctx context.Context, args callctx.Args) (any, error) {
					inst := callctx.Get[*model.Record](args, action.KeyInstance)
					inst.Set("reconsider", args.Bool("reconsider"))
					return save(ctx, inst)
				},
			},
			Source: []any{StatusNew, StatusApproved, StatusRejected},
			Target: StatusDisabled,
		},
	}
	for _, ts := range transitions {
		ts.Owner = a.Partner
		ts.Field = "status"
		if _, err := site.Actions.RegisterTransition(ts); err != nil {
			return err
		}
	}

	if err := site.Views.RegisterModelView(a.Partner, view.List, false, &generic.ListView{
		Model:   a.Partner,
		Fields:  generic.Fields{Include: []string{"id", "contact", "status"}},
		Filters: []string{"status"},
	}); err != nil {
		return err
	}
	if err := site.Views.RegisterModelView(a.Partner, view.Detail, true, &generic.DetailView{
		Model:    a.Partner,
		Fields:   generic.Fields{Layout: [][]string{{"contact", "status"}, {"reject_reason", "reevaluate_on"}}},
		Headline: generic.Headline{Subtitle: "status"},
	}); err != nil {
		return err
	}
	return site.Views.RegisterModelView(a.Partner, view.EmbedDetail, true, &generic.Embeddable{
		Fields: generic.Fields{Include: []string{"status", "reconsider"}},
	})
}
