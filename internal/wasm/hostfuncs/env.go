package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"github.com/toolhost-dev/toolhost/wireformat"
)

// EnvGet resolves an environment variable on behalf of a component
// after an env capability check. Values come from the environment
// snapshot frozen at host startup, so components never observe
// variables set afterwards.
func EnvGet(ctx context.Context, mod api.Module, packed uint64, checker Checker, frozenEnv []string) uint64 {
	fail := func(detail *wireformat.ErrorDetail) uint64 {
		return writeGuestResponse(ctx, mod, wireformat.EnvResponseWire{Error: detail})
	}

	requestBytes, ok := readGuestBytes(ctx, mod, packed)
	if !ok {
		return fail(&wireformat.ErrorDetail{Message: "failed to read env request from guest memory", Type: "internal"})
	}

	var request wireformat.EnvRequestWire
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		return fail(&wireformat.ErrorDetail{Message: fmt.Sprintf("malformed env request: %v", err), Type: "internal"})
	}
	if request.Name == "" {
		return fail(&wireformat.ErrorDetail{Message: "env request without variable name", Type: "validation"})
	}

	componentID := callerID(ctx, mod)
	if err := checker.Check(componentID, "env", request.Name); err != nil {
		slog.WarnContext(ctx, "environment read denied",
			"component", componentID, "name", request.Name, "error", err)
		return fail(&wireformat.ErrorDetail{Message: err.Error(), Type: "capability", Code: "env"})
	}

	for _, entry := range frozenEnv {
		if name, value, found := strings.Cut(entry, "="); found && name == request.Name {
			return writeGuestResponse(ctx, mod, wireformat.EnvResponseWire{Value: value, Present: true})
		}
	}
	return writeGuestResponse(ctx, mod, wireformat.EnvResponseWire{Present: false})
}
