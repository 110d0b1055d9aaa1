// Package apps lists the applications a site can install.
package apps

import (
	"radsite/internal/app"
	"radsite/internal/apps/contacts"
	"radsite/internal/apps/partners"
	"radsite/internal/apps/users"
)

// Available returns fresh instances of every bundled app. Sites pick from
// them by label with app.Resolve.
func Available() []app.App {
	return []app.App{
		users.New(),
		contacts.New(users.UserKey),
		partners.New(contacts.ContactKey),
	}
}
