package api

import (
	"errors"
	"time"

	"github.com/felixgeelhaar/agora/internal/entitlement/application"
	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

type recordView struct {
	ID         string            `json:"id"`
	SubjectID  string            `json:"subject_id"`
	ResourceID string            `json:"resource_id"`
	Kind       string            `json:"kind"`
	State      string            `json:"state"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Version    int64             `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func newRecordView(r *domain.Record) *recordView {
	if r == nil {
		return nil
	}
	return &recordView{
		ID:         r.ID.String(),
		SubjectID:  r.SubjectID,
		ResourceID: r.ResourceID,
		Kind:       string(r.Kind),
		State:      string(r.State),
		Attributes: r.Attributes,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type auditView struct {
	ID                   int64             `json:"id"`
	SubjectID            string            `json:"subject_id"`
	ResourceID           string            `json:"resource_id"`
	Kind                 string            `json:"kind"`
	OldState             string            `json:"old_state"`
	NewState             string            `json:"new_state"`
	Reason               string            `json:"reason,omitempty"`
	ChangedBy            string            `json:"changed_by"`
	OccurredAt           time.Time         `json:"occurred_at"`
	TransactionReference string            `json:"transaction_reference,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

func newAuditView(e *domain.AuditEntry) *auditView {
	if e == nil {
		return nil
	}
	return &auditView{
		ID:                   e.ID,
		SubjectID:            e.SubjectID,
		ResourceID:           e.ResourceID,
		Kind:                 string(e.Kind),
		OldState:             string(e.OldState),
		NewState:             string(e.NewState),
		Reason:               e.Reason,
		ChangedBy:            e.ChangedBy,
		OccurredAt:           e.OccurredAt,
		TransactionReference: e.TransactionReference,
		Metadata:             e.Metadata,
	}
}

func newAuditViews(entries []*domain.AuditEntry) []*auditView {
	views := make([]*auditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newAuditView(e))
	}
	return views
}

// resultView is the confirmation returned by every mutating endpoint.
type resultView struct {
	Outcome       string      `json:"outcome"`
	Enabled       bool        `json:"enabled"`
	Replayed      bool        `json:"replayed"`
	AuditRecorded bool        `json:"audit_recorded"`
	Record        *recordView `json:"record"`
	Audit         *auditView  `json:"audit,omitempty"`
}

func newResultView(res application.Result, err error) resultView {
	var partial *domain.PartialFailureError
	return resultView{
		Outcome:       string(res.Outcome),
		Enabled:       res.Enabled(),
		Replayed:      res.Outcome == application.OutcomeReplayed,
		AuditRecorded: !errors.As(err, &partial),
		Record:        newRecordView(res.Record),
		Audit:         newAuditView(res.Audit),
	}
}
