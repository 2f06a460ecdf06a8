package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/agora/internal/shared/domain"
	"github.com/felixgeelhaar/agora/pkg/observability"
)

type metadataSetter interface {
	SetMetadata(metadata domain.EventMetadata)
}

// NewEventMetadata stamps events raised on behalf of subjectID. The
// request's correlation id is carried over when it is a UUID so a
// notification can be traced back to the call that caused it.
func NewEventMetadata(ctx context.Context, subjectID string) domain.EventMetadata {
	correlation, err := uuid.Parse(observability.CorrelationIDFromContext(ctx))
	if err != nil {
		correlation = uuid.New()
	}
	return domain.EventMetadata{
		CorrelationID: correlation,
		CausationID:   uuid.New(),
		SubjectID:     subjectID,
	}
}

// ApplyEventMetadata sets metadata on every event that accepts it.
func ApplyEventMetadata(events []domain.DomainEvent, metadata domain.EventMetadata) {
	for _, event := range events {
		if setter, ok := event.(metadataSetter); ok {
			setter.SetMetadata(metadata)
		}
	}
}
