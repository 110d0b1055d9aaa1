package action

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("action does not exist")
	ErrFrozen   = errors.New("action registry is frozen")
)

type DuplicateError struct {
	FullName string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("the registry already has an action named %s", e.FullName)
}

// NotAllowedError is returned by action functions refusing to run.
type NotAllowedError struct {
	Action string
	Reason string
}

func (e *NotAllowedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("action %s not allowed", e.Action)
	}
	return fmt.Sprintf("action %s not allowed: %s", e.Action, e.Reason)
}
