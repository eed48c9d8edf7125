package notify

import (
	"context"

	"github.com/dmitrijs2005/legacyvault/internal/logging"
)

// LogDispatcher records that an event happened. The payload is never
// logged.
type LogDispatcher struct {
	logger logging.Logger
}

func NewLogDispatcher(logger logging.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With("module", "notify")}
}

func (d *LogDispatcher) Notify(ctx context.Context, e Event) {
	d.logger.Info(ctx, "notification", "type", string(e.Type), "kind", string(e.Kind), "target_id", e.TargetID)
}
