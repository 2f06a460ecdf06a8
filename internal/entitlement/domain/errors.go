package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized       = errors.New("principal is not authenticated")
	ErrForbidden          = errors.New("principal lacks the required capability")
	ErrStorageConflict    = errors.New("concurrent writer won the race; re-read and retry")
	ErrStorageUnavailable = errors.New("entitlement storage unavailable")
	ErrPartialFailure     = errors.New("entitlement changed but audit entry was not recorded")
	ErrInvalidIntent      = errors.New("invalid intent")
	ErrInvalidAttributes  = errors.New("invalid attributes")
	ErrInvalidTransition  = errors.New("invalid payment status transition")
	ErrPaymentNotVerified = errors.New("payment could not be verified")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrDuplicateTransaction marks an idempotent replay. It is reported
	// through OutcomeReplayed, never returned as an error.
	ErrDuplicateTransaction = errors.New("transaction reference already applied")
)

// PartialFailureError carries the audit entry that could not be appended.
// The entitlement mutation it describes has been committed.
type PartialFailureError struct {
	Entry *AuditEntry
	Err   error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrPartialFailure, e.Entry.Key(), e.Err)
}

// Unwrap exposes both the sentinel and the underlying append error.
func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, e.Err}
}
