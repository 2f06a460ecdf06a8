package domain

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// PaymentConfirmation is a gateway-reported payment for a plan.
type PaymentConfirmation struct {
	SubjectID            string
	PlanID               string
	PaymentMethod        string
	TransactionReference string
	// Amount is in minor units of Currency.
	Amount   int64
	Currency string
}

// Validate checks required fields and normalizes the currency code.
func (p *PaymentConfirmation) Validate() error {
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	switch {
	case strings.TrimSpace(p.SubjectID) == "":
		return fmt.Errorf("%w: subject id is required", ErrInvalidIntent)
	case strings.TrimSpace(p.PlanID) == "":
		return fmt.Errorf("%w: plan id is required", ErrInvalidIntent)
	case strings.TrimSpace(p.PaymentMethod) == "":
		return fmt.Errorf("%w: payment method is required", ErrInvalidIntent)
	case strings.TrimSpace(p.TransactionReference) == "":
		return fmt.Errorf("%w: transaction reference is required", ErrInvalidIntent)
	case p.Amount < 0:
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidIntent)
	case !currencyCode.MatchString(p.Currency):
		return fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidIntent)
	}
	return nil
}

// Key returns the payment status key for the plan.
func (p PaymentConfirmation) Key() Key {
	return Key{SubjectID: p.SubjectID, ResourceID: p.PlanID, Kind: KindPaymentStatus}
}

// AuditMetadata returns the metadata every payment transition records.
func (p PaymentConfirmation) AuditMetadata() map[string]string {
	return map[string]string{
		MetaPaymentMethod:        p.PaymentMethod,
		MetaTransactionReference: p.TransactionReference,
		MetaAmount:               strconv.FormatInt(p.Amount, 10),
		MetaCurrency:             p.Currency,
	}
}

// PaymentVerifier asks the gateway whether a payment happened.
// A transport failure is an error; a definite "no" is false, nil.
type PaymentVerifier interface {
	Verify(ctx context.Context, paymentMethod, transactionReference string) (bool, error)
}

// CanConfirm reports whether a verified payment may move from into active.
func CanConfirm(from State) bool {
	switch from {
	case StateAbsent, StateNone, StateActive, StateExpired:
		return true
	default:
		return false
	}
}

// CanSet reports whether an administrator may move a payment status from one
// state to another. Expiry needs an existing record.
func CanSet(from, to State) bool {
	switch to {
	case StateNone, StateActive:
		return from == StateAbsent || from == StateNone || from == StateActive || from == StateExpired
	case StateExpired:
		return from == StateNone || from == StateActive || from == StateExpired
	default:
		return false
	}
}
