package contacts

import (
	"strings"

	"radsite/internal/model"
)

const (
	TypeNatural = "PF"
	TypeEntity  = "PJ"
)

func contactModel(userKey string) *model.Model {
	return &model.Model{
		AppLabel:          Label,
		Name:              "contact",
		VerboseName:       "contact",
		VerboseNamePlural: "contacts",
		Icon:              "id badge",
		Ordering:          []string{"full_name"},
		Fields: []*model.Field{
			{Name: "contact_type", Type: model.String, Required: true, MaxLength: 2, Default: TypeNatural, VerboseName: "type", Choices: []model.Choice{
				{Value: TypeNatural, Label: "Natural Person"},
				{Value: TypeEntity, Label: "Legal entity"},
			}},
			{Name: "first_name", Type: model.String, Required: true, MaxLength: 150, VerboseName: "name", HelpText: "First name, or legal name"},
			{Name: "last_name", Type: model.String, MaxLength: 150, Default: ""},
			{Name: "full_name", Type: model.String, MaxLength: 300, Default: "", ReadOnly: true},
			{Name: "assignee", Kind: model.ForeignKey, Related: userKey, RelatedName: "assigned_contacts", ReadOnly: true, VerboseName: "assigned to"},
			{Name: "language", Type: model.String, Required: true, MaxLength: 2, Default: "es", VerboseName: "preferred language", Choices: []model.Choice{
				{Value: "ca", Label: "Catalan"},
				{Value: "es", Label: "Spanish"},
				{Value: "en", Label: "English"},
			}},
			{Name: "web_address", Type: model.URL, Default: "", VerboseName: "web page"},
		},
		Display:    fullName,
		BeforeSave: func(r *model.Record) { r.Set("full_name", fullName(r)) },
	}
}

// fullName is "last, first" when both are set.
func fullName(r *model.Record) string {
	first, last := r.Str("first_name"), r.Str("last_name")
	if first != "" && last != "" {
		return last + ", " + first
	}
	if last != "" {
		return last
	}
	return first
}

// mechBase is the abstract parent of every contact mechanism.
func mechBase() *model.Model {
	return &model.Model{
		AppLabel: Label,
		Name:     "contactmech",
		Abstract: true,
		Fields: []*model.Field{
			{Name: "contact", Kind: model.ForeignKey, Related: Label + ".contact", Required: true},
			{Name: "is_active", Type: model.Bool, Default: true, VerboseName: "current", HelpText: "Whether the data is still valid"},
			{Name: "internal_note", Type: model.Text, Default: "", VerboseName: "internal note"},
		},
	}
}

func postalAddressModel(base *model.Model) *model.Model {
	return &model.Model{
		AppLabel:           Label,
		Name:               "postaladdress",
		VerboseName:        "postal address",
		VerboseNamePlural:  "postal addresses",
		Icon:               "address card",
		Ordering:           []string{"address_to", "country"},
		Bases:              []*model.Model{base},
		DefaultRelatedName: "postal_addresses",
		Fields: []*model.Field{
			{Name: "address_to", Type: model.String, MaxLength: 150, Default: "", VerboseName: "address to", HelpText: "To whom mailings are addressed"},
			{Name: "address_line1", Type: model.String, Required: true, MaxLength: 150, VerboseName: "address line"},
			{Name: "address_line2", Type: model.String, MaxLength: 150, Default: "", VerboseName: "address line (extra)"},
			{Name: "postal_code", Type: model.String, Required: true, MaxLength: 10, VerboseName: "postal code"},
			{Name: "country", Type: model.String, MaxLength: 100, Default: ""},
		},
		Display: postalAddress,
		Computed: map[string]func(*model.Record) any{
			"address": func(r *model.Record) any { return postalAddress(r) },
		},
	}
}

func postalAddress(r *model.Record) string {
	var lines []string
	for _, f := range []string{"address_to", "address_line1", "address_line2"} {
		if v := r.Str(f); v != "" {
			lines = append(lines, v)
		}
	}
	lines = append(lines, r.Str("postal_code")+", "+r.Str("country"))
	return strings.Join(lines, "\n")
}

func phoneNumberModel(base *model.Model) *model.Model {
	return &model.Model{
		AppLabel:           Label,
		Name:               "phonenumber",
		VerboseName:        "phone number",
		Icon:               "phone square",
		Ordering:           []string{"number"},
		Bases:              []*model.Model{base},
		DefaultRelatedName: "phone_numbers",
		Fields: []*model.Field{
			{Name: "number", Type: model.String, Required: true, MaxLength: 100},
			{Name: "can_sms", Type: model.Bool, Default: false, VerboseName: "handles SMS", HelpText: "Whether the number can receive SMS"},
		},
		Display: func(r *model.Record) string { return r.Str("number") },
	}
}

func emailAddressModel(base *model.Model) *model.Model {
	return &model.Model{
		AppLabel:           Label,
		Name:               "emailaddress",
		VerboseName:        "e-mail address",
		VerboseNamePlural:  "e-mail addresses",
		Icon:               "at",
		Ordering:           []string{"email"},
		Bases:              []*model.Model{base},
		DefaultRelatedName: "email_addresses",
		Fields: []*model.Field{
			{Name: "email", Type: model.Email, Required: true, VerboseName: "e-mail"},
		},
		Display: func(r *model.Record) string { return r.Str("email") },
	}
}
