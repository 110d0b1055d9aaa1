package server

import (
	"encoding/json"
	"fmt"
	"time"

	"radsite/internal/action"
	"radsite/internal/domain"
	"radsite/internal/model"
	"radsite/internal/urlsign"
)

// Request payloads

type SignURLRequest struct {
	Path string `json:"path" example:"/partners/partner/3/detail"`
	// ExpireSeconds overrides the site default; negative never expires.
	ExpireSeconds *int64   `json:"expire_seconds,omitempty"`
	Verbs         []string `json:"verbs,omitempty"`
	UserPK        *int64   `json:"user_pk,omitempty"`
}

type VerifyURLRequest struct {
	Path string `json:"path"`
}

// Response payloads

type TransitionResponse struct {
	Field  string `json:"field"`
	Source []any  `json:"source"`
	Target any    `json:"target"`
}

type ActionResponse struct {
	Name          string              `json:"name"`
	FullName      string              `json:"full_name"`
	VerboseName   string              `json:"verbose_name"`
	Icon          string              `json:"icon,omitempty"`
	Owner         string              `json:"owner,omitempty"`
	Field         string              `json:"field,omitempty"`
	NeedsInstance bool                `json:"needs_instance"`
	Params        []string            `json:"params"`
	URL           string              `json:"url,omitempty"`
	Transition    *TransitionResponse `json:"transition,omitempty"`
}

type SignedURLResponse struct {
	Path       string   `json:"path"`
	FullPath   string   `json:"full_path"`
	ValidUntil int64    `json:"valid_until"`
	ExpiresAt  string   `json:"expires_at,omitempty" format:"date-time"`
	Verbs      []string `json:"verbs"`
	UserPK     *int64   `json:"user_pk,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	UID        string         `json:"uid"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	Action     string         `json:"action"`
	EntityKind string         `json:"entity_kind,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func actionResponse(a *action.Action, instance *model.Record) ActionResponse {
	res := ActionResponse{
		Name:          a.Name,
		FullName:      a.FullName,
		VerboseName:   a.VerboseName,
		Icon:          a.Icon,
		Field:         a.Field,
		NeedsInstance: a.NeedsInstance,
		Params:        nonNilSlice(a.Signature.Names()),
	}
	if a.Owner != nil {
		res.Owner = a.Owner.Key()
	}
	if !a.NeedsInstance || instance != nil {
		if u, err := a.URL(instance, ""); err == nil {
			res.URL = u
		}
	}
	if t := a.Transition; t != nil {
		res.Transition = &TransitionResponse{Field: t.Field, Source: nonNilSlice(t.Source), Target: t.Target}
	}
	return res
}

func signedURLResponse(u urlsign.SignedURL) SignedURLResponse {
	res := SignedURLResponse{
		Path:       u.Path,
		FullPath:   u.FullPath(),
		ValidUntil: u.ValidUntil,
		Verbs:      nonNilSlice(u.Verbs),
		UserPK:     u.UserPK,
	}
	if t, ok := u.Expires(); ok {
		res.ExpiresAt = t.UTC().Format(time.RFC3339)
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		UID:        e.UID,
		TS:         e.TS,
		Type:       e.Type,
		Action:     e.Action,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}

func formatCursor(id int64) string {
	return fmt.Sprintf("%d", id)
}
