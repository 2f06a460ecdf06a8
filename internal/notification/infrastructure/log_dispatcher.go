package infrastructure

import (
	"context"
	"log/slog"
	"sort"

	"github.com/felixgeelhaar/agora/internal/notification/domain"
)

// LogDispatcher writes notifications to the log instead of delivering them.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a dispatcher that logs at info level.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	attrs := []any{
		"notification_id", n.ID,
		"recipient_id", n.RecipientID,
		"actor_id", n.ActorID,
		"resource_id", n.ResourceID,
		"template", string(n.Template),
	}
	if n.Reason != "" {
		attrs = append(attrs, "reason", n.Reason)
	}

	keys := make([]string, 0, len(n.Data))
	for k := range n.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, "data."+k, n.Data[k])
	}

	d.logger.InfoContext(ctx, "notification dispatched", attrs...)
	return nil
}

var _ domain.Dispatcher = (*LogDispatcher)(nil)
