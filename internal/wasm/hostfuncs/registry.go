package hostfuncs

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/toolhost-dev/toolhost/wireformat"
)

// HostModuleName is the import namespace components link against.
const HostModuleName = "toolhost_host"

// Register instantiates the host module on a component's runtime. All
// functions use the packed ptr/len calling convention: one i64 request
// payload in, one i64 response payload out (log returns nothing).
func Register(ctx context.Context, runtime wazero.Runtime, checker Checker, env []string) error {
	builder := runtime.NewHostModuleBuilder(HostModuleName)

	packedInOut := func(fn func(context.Context, api.Module, uint64) uint64) api.GoModuleFunc {
		return func(ctx context.Context, mod api.Module, stack []uint64) {
			stack[0] = fn(ctx, mod, stack[0])
		}
	}

	builder.NewFunctionBuilder().
		WithGoModuleFunction(packedInOut(func(ctx context.Context, mod api.Module, packed uint64) uint64 {
			return HTTPRequest(ctx, mod, packed, checker)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("http_request")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(packedInOut(func(ctx context.Context, mod api.Module, packed uint64) uint64 {
			return FSAccess(ctx, mod, packed, checker)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("fs_access")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(packedInOut(func(ctx context.Context, mod api.Module, packed uint64) uint64 {
			return EnvGet(ctx, mod, packed, checker, env)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("env_get")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			Log(ctx, mod, stack[0])
		}), []api.ValueType{api.ValueTypeI64}, nil).
		Export("log")

	_, err := builder.Instantiate(ctx)
	return err
}

// callerID resolves the calling component, preferring the context tag
// set by the sandbox over the module's own name.
func callerID(ctx context.Context, mod api.Module) string {
	if id, ok := ComponentIDFromContext(ctx); ok {
		return id
	}
	return mod.Name()
}

// contextFromWire derives the host-side context for an effectful call
// from the guest's serialized context, keeping the parent for
// cancellation.
func contextFromWire(parent context.Context, wire wireformat.ContextWireFormat) (context.Context, context.CancelFunc) {
	if wire.Cancelled {
		ctx, cancel := context.WithCancel(parent)
		cancel()
		return ctx, cancel
	}
	if wire.Deadline != nil {
		return context.WithDeadline(parent, *wire.Deadline)
	}
	if wire.TimeoutMs > 0 {
		return context.WithTimeout(parent, time.Duration(wire.TimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(parent)
}
