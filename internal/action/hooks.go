package action

import (
	"context"

	"radsite/internal/model"
)

// Event describes one action call. Result is set for post hooks only.
type Event struct {
	Action *Action
	Values map[string]any
	Result any
}

// TransitionEvent carries the field values around a transition. Pre hooks
// see the current value as Old and the target as New.
type TransitionEvent struct {
	Action   *Action
	Instance *model.Record
	Field    string
	Old      any
	New      any
}

// Hooks holds ordered synchronous callbacks. Subscribe during startup only.
// A callback error aborts the call that fired it.
type Hooks struct {
	actionPre      []func(context.Context, Event) error
	actionPost     []func(context.Context, Event) error
	transitionPre  []func(context.Context, TransitionEvent) error
	transitionPost []func(context.Context, TransitionEvent) error
}

func (h *Hooks) OnActionPre(fn func(context.Context, Event) error) {
	h.actionPre = append(h.actionPre, fn)
}

func (h *Hooks) OnActionPost(fn func(context.Context, Event) error) {
	h.actionPost = append(h.actionPost, fn)
}

func (h *Hooks) OnTransitionPre(fn func(context.Context, TransitionEvent) error) {
	h.transitionPre = append(h.transitionPre, fn)
}

func (h *Hooks) OnTransitionPost(fn func(context.Context, TransitionEvent) error) {
	h.transitionPost = append(h.transitionPost, fn)
}

func (h *Hooks) fireActionPre(ctx context.Context, e Event) error {
	for _, fn := range h.actionPre {
		if err := fn(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) fireActionPost(ctx context.Context, e Event) error {
	for _, fn := range h.actionPost {
		if err := fn(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) fireTransitionPre(ctx context.Context, e TransitionEvent) error {
	for _, fn := range h.transitionPre {
		if err := fn(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) fireTransitionPost(ctx context.Context, e TransitionEvent) error {
	for _, fn := range h.transitionPost {
		if err := fn(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
