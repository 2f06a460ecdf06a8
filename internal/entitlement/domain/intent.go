package domain

import (
	"fmt"
	"strings"
)

// Action is what the caller wants done to a key.
type Action string

const (
	// ActionToggle flips presence: create when absent, delete when present.
	ActionToggle Action = "toggle"
	// ActionEnable ensures the record exists.
	ActionEnable Action = "enable"
	// ActionDisable ensures the record does not exist.
	ActionDisable Action = "disable"
	// ActionUpdate rewrites attributes of an existing record.
	ActionUpdate Action = "update"
)

// ParseAction validates an action name. Empty means toggle.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return ActionToggle, nil
	}
	switch a {
	case ActionToggle, ActionEnable, ActionDisable, ActionUpdate:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidIntent, s)
	}
}

// Intent is a requested change to one entitlement key.
type Intent struct {
	// SubjectID defaults to the calling principal when empty.
	SubjectID  string
	ResourceID string
	Kind       Kind
	Action     Action
	Attributes Attributes
	// NotifySubjectID is told about a newly created like or subscription.
	NotifySubjectID string
	Reason          string
}

// Validate checks the intent once SubjectID has been resolved.
func (i Intent) Validate() error {
	if err := i.Key().Validate(); err != nil {
		return err
	}
	if !i.Kind.IsToggle() {
		return fmt.Errorf("%w: %s is changed through payment operations", ErrInvalidIntent, i.Kind)
	}
	if _, err := ParseAction(string(i.Action)); err != nil {
		return err
	}
	if i.Action == ActionUpdate && len(i.Attributes) == 0 {
		return fmt.Errorf("%w: update requires attributes", ErrInvalidIntent)
	}
	return ValidateAttributes(i.Kind, i.Attributes)
}

// Key returns the entitlement key the intent targets.
func (i Intent) Key() Key {
	return Key{
		SubjectID:  strings.TrimSpace(i.SubjectID),
		ResourceID: strings.TrimSpace(i.ResourceID),
		Kind:       i.Kind,
	}
}
