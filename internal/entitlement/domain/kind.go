package domain

import (
	"fmt"
	"strings"
)

// Kind is the type of entitlement held on a resource.
type Kind string

const (
	KindLike          Kind = "like"
	KindSubscription  Kind = "subscription"
	KindPaymentStatus Kind = "payment_status"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidIntent, s)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindLike, KindSubscription, KindPaymentStatus:
		return true
	default:
		return false
	}
}

// IsToggle reports whether the kind is a presence toggle (record exists = on).
func (k Kind) IsToggle() bool {
	return k == KindLike || k == KindSubscription
}

// State is the stored state of a record. StateAbsent only appears in audit entries.
type State string

const (
	StateOn      State = "on"
	StateAbsent  State = "absent"
	StateNone    State = "none"
	StateActive  State = "active"
	StateExpired State = "expired"
)

func (s State) String() string { return string(s) }

// ParsePaymentState validates a payment status name.
func ParsePaymentState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StateNone, StateActive, StateExpired:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown payment status %q", ErrInvalidTransition, s)
	}
}

// Key identifies a record: at most one exists per key.
type Key struct {
	SubjectID  string
	ResourceID string
	Kind       Kind
}

// NewKey builds a key and validates its parts.
func NewKey(subjectID, resourceID string, kind Kind) (Key, error) {
	k := Key{
		SubjectID:  strings.TrimSpace(subjectID),
		ResourceID: strings.TrimSpace(resourceID),
		Kind:       kind,
	}
	return k, k.Validate()
}

// Validate checks that every part of the key is set.
func (k Key) Validate() error {
	switch {
	case k.SubjectID == "":
		return fmt.Errorf("%w: subject id is required", ErrInvalidIntent)
	case k.ResourceID == "":
		return fmt.Errorf("%w: resource id is required", ErrInvalidIntent)
	case !k.Kind.IsValid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIntent, k.Kind)
	}
	return nil
}

// String renders the key for locks and logs. Subject and resource are
// length-prefixed so distinct keys never render alike.
func (k Key) String() string {
	return fmt.Sprintf("%d:%s|%d:%s|%s", len(k.SubjectID), k.SubjectID, len(k.ResourceID), k.ResourceID, k.Kind)
}
