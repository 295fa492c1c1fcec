package hooks

import (
	"context"

	"goa.design/relay/runtime/relay/telemetry"
)

// Logging returns a callback that logs every event it receives along with the
// running counts. Register it with OnAll.
func Logging(logger telemetry.Logger) Callback {
	return func(ctx context.Context, evt Event) error {
		kv := []any{
			"kind", string(evt.Kind),
			"turn", evt.TurnID,
			"user", evt.UserID,
			"count", evt.Counts[evt.Kind],
		}
		if evt.Stage != "" {
			kv = append(kv, "stage", string(evt.Stage))
		}
		if evt.Target != "" {
			kv = append(kv, "target", string(evt.Target))
		}
		if evt.Tool != "" {
			kv = append(kv, "tool", string(evt.Tool))
		}
		if evt.Err != nil {
			logger.Error(ctx, "lifecycle", append(kv, "err", evt.Err)...)
			return nil
		}
		logger.Info(ctx, "lifecycle", kv...)
		return nil
	}
}
