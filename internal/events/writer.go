package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"radsite/internal/action"
	"radsite/internal/auth"
	"radsite/internal/domain"
	"radsite/internal/model"
	"radsite/internal/repo"
)

const (
	TypeActionCalled      = "action.called"
	TypeTransitionApplied = "transition.applied"
)

// Writer appends to the event log.
type Writer struct {
	Repo   repo.Repo
	Now    func() time.Time
	Logger *log.Logger
}

func (w Writer) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

type EventPayload map[string]any

// Entity identifies the record an event is about.
type Entity struct {
	Kind string
	ID   string
}

// EntityOf returns the identity of a saved record, zero otherwise.
func EntityOf(v any) Entity {
	rec, ok := v.(*model.Record)
	if !ok || rec == nil || !rec.Saved() {
		return Entity{}
	}
	return Entity{Kind: rec.Model().Key(), ID: strconv.FormatInt(rec.PK(), 10)}
}

func (w Writer) Append(ctx context.Context, evtType, actionName string, entity Entity, actorID string, payload EventPayload) (domain.Event, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	e := domain.Event{
		UID:        uuid.NewString(),
		TS:         w.Now().UTC().Format(time.RFC3339),
		Type:       evtType,
		Action:     actionName,
		EntityKind: entity.Kind,
		EntityID:   entity.ID,
		ActorID:    actorID,
	}
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
		}
		e.Payload = string(data)
	}
	id, err := w.Repo.InsertEvent(ctx, e)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}
	e.ID = id
	return e, nil
}

// Subscribe records every completed action call and transition. The action
// has already run when the hooks fire, so a failed insert is logged and the
// call still succeeds.
func (w Writer) Subscribe(h *action.Hooks) {
	h.OnActionPost(func(ctx context.Context, e action.Event) error {
		entity := EntityOf(e.Values[action.KeyInstance])
		if entity == (Entity{}) {
			entity = EntityOf(e.Result)
		}
		if _, err := w.Append(ctx, TypeActionCalled, e.Action.FullName, entity, actor(ctx, e.Values), nil); err != nil {
			w.logger().Printf("WARNING: %s: event not recorded: %v", e.Action.FullName, err)
		}
		return nil
	})
	h.OnTransitionPost(func(ctx context.Context, e action.TransitionEvent) error {
		_, err := w.Append(ctx, TypeTransitionApplied, e.Action.FullName, EntityOf(e.Instance), actor(ctx, nil), EventPayload{
			"field": e.Field,
			"from":  e.Old,
			"to":    e.New,
		})
		if err != nil {
			w.logger().Printf("WARNING: %s: event not recorded: %v", e.Action.FullName, err)
		}
		return nil
	})
}

// actor prefers the user an action was called for over the request identity.
func actor(ctx context.Context, values map[string]any) string {
	u, _ := values[action.KeyRequestUser].(*domain.User)
	if u == nil {
		u = auth.UserFrom(ctx)
	}
	if u == nil {
		return ""
	}
	return strconv.FormatInt(u.ID, 10)
}
