// Package demo fills a site with reproducible sample data.
package demo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"radsite/internal/apps/contacts"
	"radsite/internal/apps/partners"
	"radsite/internal/apps/users"
	"radsite/internal/engine"
	"radsite/internal/model"
)

// Options sizes the generated data. Equal options always produce equal data.
type Options struct {
	Users     int
	Companies int
	Persons   int
	Partners  int
	Seed      uint64
	// Password is set on every generated account.
	Password string
}

func DefaultOptions() Options {
	return Options{Users: 5, Companies: 20, Persons: 20, Partners: 20, Seed: 1, Password: "demo-password"}
}

// Summary counts the created records.
type Summary struct {
	Users    int `json:"users"`
	Contacts int `json:"contacts"`
	Mechs    int `json:"mechs"`
	Partners int `json:"partners"`
}

var (
	firstNames = []string{"Ada", "Alan", "Barbara", "Claude", "Donald", "Edsger", "Frances", "Grace", "John", "Katherine", "Leslie", "Margaret", "Niklaus", "Radia", "Tim"}
	lastNames  = []string{"Lovelace", "Turing", "Liskov", "Shannon", "Knuth", "Dijkstra", "Allen", "Hopper", "McCarthy", "Johnson", "Lamport", "Hamilton", "Wirth", "Perlman", "Berners-Lee"}
	companies  = []string{"Acme", "Globex", "Initech", "Umbrella", "Hooli", "Stark", "Wayne", "Tyrell", "Soylent", "Cyberdyne", "Vandelay", "Wonka"}
	suffixes   = []string{"Industries", "Systems", "Labs", "Holdings", "Logistics"}
	countries  = []string{"Spain", "Portugal", "France", "Andorra"}
	languages  = []string{"ca", "es", "en"}
)

// Seed creates users, contacts with their mechanisms and partners. It needs
// the users, contacts and partners apps installed.
func Seed(ctx context.Context, e *engine.Engine, opts Options) (Summary, error) {
	var sum Summary
	ua, ok := e.App(users.Label)
	if !ok {
		return sum, errors.New("demo data needs the users app")
	}
	ca, ok := e.App(contacts.Label)
	if !ok {
		return sum, errors.New("demo data needs the contacts app")
	}
	pa, ok := e.App(partners.Label)
	if !ok {
		return sum, errors.New("demo data needs the partners app")
	}
	u, c, p := ua.(*users.App), ca.(*contacts.App), pa.(*partners.App)
	rnd := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	var accounts []*model.Record
	for i := range opts.Users {
		first, last := pick(rnd, firstNames), pick(rnd, lastNames)
		rec, err := u.Store().Create(ctx, users.NewUser{
			Username:  fmt.Sprintf("%s%d", strings.ToLower(first), i+1),
			Email:     fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), i+1),
			FirstName: first,
			LastName:  last,
			Password:  opts.Password,
		})
		if err != nil {
			return sum, fmt.Errorf("seed users: %w", err)
		}
		accounts = append(accounts, rec)
		sum.Users++
	}

	var people []*model.Record
	newContact := func(values map[string]any) (*model.Record, error) {
		if len(accounts) > 0 {
			values["assignee"] = pick(rnd, accounts)
		}
		values["language"] = pick(rnd, languages)
		rec := model.New(c.Contact, values)
		if err := e.Repo.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("seed contacts: %w", err)
		}
		sum.Contacts++
		n, err := seedMechs(ctx, e, c, rnd, rec)
		sum.Mechs += n
		return rec, err
	}
	for i := range opts.Companies {
		name := fmt.Sprintf("%s %s", pick(rnd, companies), pick(rnd, suffixes))
		rec, err := newContact(map[string]any{
			"contact_type": contacts.TypeEntity,
			"first_name":   name,
			"web_address":  fmt.Sprintf("https://www.company%d.example.com/", i+1),
		})
		if err != nil {
			return sum, err
		}
		people = append(people, rec)
	}
	for range opts.Persons {
		rec, err := newContact(map[string]any{
			"contact_type": contacts.TypeNatural,
			"first_name":   pick(rnd, firstNames),
			"last_name":    pick(rnd, lastNames),
		})
		if err != nil {
			return sum, err
		}
		people = append(people, rec)
	}

	statuses := []int64{partners.StatusNew, partners.StatusApproved, partners.StatusRejected, partners.StatusDisabled}
	rnd.Shuffle(len(people), func(i, j int) { people[i], people[j] = people[j], people[i] })
	for i := 0; i < opts.Partners && i < len(people); i++ {
		rec := model.New(p.Partner, map[string]any{
			"contact": people[i],
			"status":  pick(rnd, statuses),
		})
		if rec.Get("status") == partners.StatusRejected {
			rec.Set("reject_reason", partners.ReasonRisky)
		}
		if err := e.Repo.Save(ctx, rec); err != nil {
			return sum, fmt.Errorf("seed partners: %w", err)
		}
		sum.Partners++
	}
	return sum, nil
}

func seedMechs(ctx context.Context, e *engine.Engine, c *contacts.App, rnd *rand.Rand, contact *model.Record) (int, error) {
	slug := strings.ToLower(strings.NewReplacer(",", "", " ", ".").Replace(contact.String()))
	recs := []*model.Record{
		model.New(c.EmailAddress, map[string]any{"contact": contact, "email": fmt.Sprintf("%s.%d@example.com", slug, contact.PK())}),
		model.New(c.PhoneNumber, map[string]any{"contact": contact, "number": fmt.Sprintf("+34 6%08d", rnd.IntN(100000000)), "can_sms": rnd.IntN(2) == 0}),
	}
	if rnd.IntN(2) == 0 {
		recs = append(recs, model.New(c.PostalAddress, map[string]any{
			"contact":       contact,
			"address_to":    contact.String(),
			"address_line1": fmt.Sprintf("Carrer Major %d", rnd.IntN(200)+1),
			"postal_code":   fmt.Sprintf("%05d", rnd.IntN(52000)+1000),
			"country":       pick(rnd, countries),
		}))
	}
	for _, rec := range recs {
		if err := e.Repo.Save(ctx, rec); err != nil {
			return 0, fmt.Errorf("seed %s: %w", rec.Model().Key(), err)
		}
	}
	return len(recs), nil
}

func pick[T any](rnd *rand.Rand, items []T) T {
	return items[rnd.IntN(len(items))]
}
