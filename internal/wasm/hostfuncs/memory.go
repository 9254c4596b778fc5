package hostfuncs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tetratelabs/wazero/api"
)

// PackPtrLen packs a guest pointer and length into the uint64 the ABI
// uses for payload hand-off: pointer in the high 32 bits, length low.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed uint64 back into pointer and length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed & 0xFFFFFFFF)
}

// readGuestBytes copies a packed payload out of guest memory. The guest
// owns that allocation; the host deallocates it after copying.
func readGuestBytes(ctx context.Context, mod api.Module, packed uint64) ([]byte, bool) {
	ptr, length := UnpackPtrLen(packed)
	if ptr == 0 || length == 0 {
		return nil, false
	}

	defer func() {
		if deallocate := mod.ExportedFunction("deallocate"); deallocate != nil {
			_, _ = deallocate.Call(ctx, uint64(ptr), uint64(length))
		}
	}()

	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, data)
	return out, true
}

// writeGuestResponse marshals a response, allocates guest memory through
// the component's allocate export, writes the payload and returns the
// packed ptr/len. Returns 0 when the guest cannot receive the payload;
// the guest treats 0 as a host-internal failure.
func writeGuestResponse(ctx context.Context, mod api.Module, v any) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "hostfuncs: failed to marshal response", "error", err)
		return 0
	}

	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		slog.ErrorContext(ctx, "hostfuncs: component does not export allocate")
		return 0
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		slog.ErrorContext(ctx, "hostfuncs: guest allocation failed", "error", err)
		return 0
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0
	}
	if !mod.Memory().Write(ptr, data) {
		slog.ErrorContext(ctx, "hostfuncs: failed to write response to guest memory", "ptr", ptr)
		return 0
	}
	return PackPtrLen(ptr, uint32(len(data)))
}
