package hostfuncs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tetratelabs/wazero/api"
	"github.com/toolhost-dev/toolhost/wireformat"
)

// Log emits a component log line through the host logger. No capability
// is required; the component identity is attached so lines stay
// attributable.
func Log(ctx context.Context, mod api.Module, packed uint64) {
	payload, ok := readGuestBytes(ctx, mod, packed)
	if !ok {
		return
	}

	var line wireformat.LogWire
	if err := json.Unmarshal(payload, &line); err != nil {
		slog.DebugContext(ctx, "dropping malformed component log line", "error", err)
		return
	}

	attrs := make([]any, 0, 2+2*len(line.Attrs))
	attrs = append(attrs, "component", callerID(ctx, mod))
	for k, v := range line.Attrs {
		attrs = append(attrs, k, v)
	}

	switch line.Level {
	case "debug":
		slog.DebugContext(ctx, line.Message, attrs...)
	case "warn":
		slog.WarnContext(ctx, line.Message, attrs...)
	case "error":
		slog.ErrorContext(ctx, line.Message, attrs...)
	default:
		slog.InfoContext(ctx, line.Message, attrs...)
	}
}
