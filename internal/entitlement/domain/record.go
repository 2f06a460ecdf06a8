package domain

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Attribute names. The set is closed per kind.
const (
	AttrNotifyOnPost             = "notify_on_post"
	AttrNotifyOnReply            = "notify_on_reply"
	AttrPlan                     = "plan"
	AttrLastTransactionReference = "last_transaction_reference"
	AttrLastPaymentMethod        = "last_payment_method"
	AttrRenewedAt                = "renewed_at"
)

var allowedAttributes = map[Kind]map[string]bool{
	KindLike:         {},
	KindSubscription: {AttrNotifyOnPost: true, AttrNotifyOnReply: true},
	KindPaymentStatus: {
		AttrPlan:                     true,
		AttrLastTransactionReference: true,
		AttrLastPaymentMethod:        true,
		AttrRenewedAt:                true,
	},
}

// Attributes is a kind-specific string map.
type Attributes map[string]string

// ValidateAttributes rejects keys outside the kind's schema and
// non-boolean subscription preferences.
func ValidateAttributes(kind Kind, attrs Attributes) error {
	allowed, ok := allowedAttributes[kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAttributes, kind)
	}

	var unknown []string
	for key, value := range attrs {
		if !allowed[key] {
			unknown = append(unknown, key)
			continue
		}
		if kind == KindSubscription {
			if _, err := strconv.ParseBool(value); err != nil {
				return fmt.Errorf("%w: %s must be true or false", ErrInvalidAttributes, key)
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %q not allowed for %s", ErrInvalidAttributes, unknown, kind)
	}
	return nil
}

// Record is the persisted entitlement for one key.
type Record struct {
	ID         uuid.UUID
	SubjectID  string
	ResourceID string
	Kind       Kind
	State      State
	Attributes Attributes
	// Version is zero until the record is first stored.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord creates an unsaved record for key.
func NewRecord(key Key, state State, attrs Attributes) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateAttributes(key.Kind, attrs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Record{
		ID:         uuid.New(),
		SubjectID:  key.SubjectID,
		ResourceID: key.ResourceID,
		Kind:       key.Kind,
		State:      state,
		Attributes: maps.Clone(attrs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Key returns the record's composite key.
func (r *Record) Key() Key {
	return Key{SubjectID: r.SubjectID, ResourceID: r.ResourceID, Kind: r.Kind}
}

// Enabled reports whether the record grants its entitlement: on for likes
// and subscriptions, active for a paid plan. A nil record is not enabled.
func (r *Record) Enabled() bool {
	if r == nil {
		return false
	}
	if r.Kind == KindPaymentStatus {
		return r.State == StateActive
	}
	return r.State == StateOn
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Attributes = maps.Clone(r.Attributes)
	return &c
}

// Attribute returns the value for name, or "".
func (r *Record) Attribute(name string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[name]
}

// BoolAttribute parses a boolean attribute, defaulting to def when unset.
func (r *Record) BoolAttribute(name string, def bool) bool {
	v, err := strconv.ParseBool(r.Attribute(name))
	if err != nil {
		return def
	}
	return v
}

// MergeAttributes overlays attrs onto the record after validating them.
func (r *Record) MergeAttributes(attrs Attributes) error {
	if err := ValidateAttributes(r.Kind, attrs); err != nil {
		return err
	}
	if r.Attributes == nil {
		r.Attributes = make(Attributes, len(attrs))
	}
	maps.Copy(r.Attributes, attrs)
	return nil
}
