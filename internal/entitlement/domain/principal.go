package domain

import "slices"

// CapabilityAdmin allows acting on other subjects and on payment status.
const CapabilityAdmin = "entitlements:admin"

// Principal is the authenticated caller of a reconciliation.
type Principal struct {
	SubjectID    string
	Capabilities []string
}

// Anonymous is the zero principal.
var Anonymous = Principal{}

// NewPrincipal creates a principal with the given capabilities.
func NewPrincipal(subjectID string, capabilities ...string) Principal {
	return Principal{SubjectID: subjectID, Capabilities: capabilities}
}

// IsAuthenticated reports whether the principal has an identity.
func (p Principal) IsAuthenticated() bool {
	return p.SubjectID != ""
}

// HasCapability reports whether the principal holds name.
func (p Principal) HasCapability(name string) bool {
	return slices.Contains(p.Capabilities, name)
}
