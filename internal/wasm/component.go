package wasm

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/toolhost-dev/toolhost/internal/policy"
	"github.com/toolhost-dev/toolhost/internal/wasm/hostfuncs"
	"golang.org/x/sync/semaphore"
)

// Component is one loaded, callable sandbox. Calls acquire a pool slot,
// instantiate a fresh module, run and tear it down; a trap or a forced
// cancellation therefore never poisons later calls.
type Component struct {
	id      string
	runtime wazero.Runtime
	module  wazero.CompiledModule
	limits  policy.Limits
	pool    *semaphore.Weighted
}

func newComponent(id string, runtime wazero.Runtime, module wazero.CompiledModule, limits policy.Limits, poolSize int) *Component {
	return &Component{
		id:      id,
		runtime: runtime,
		module:  module,
		limits:  limits,
		pool:    semaphore.NewWeighted(int64(poolSize)),
	}
}

// ID returns the component identity the sandbox is bound to.
func (c *Component) ID() string { return c.id }

// Limits returns the resource ceilings applied at load time.
func (c *Component) Limits() policy.Limits { return c.limits }

// DescribeInterface runs the component's describe() export and returns
// the raw interface JSON it emits.
func (c *Component) DescribeInterface(ctx context.Context) ([]byte, error) {
	ctx = hostfuncs.WithComponentID(ctx, c.id)

	instance, err := c.instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = instance.Close(ctx) }()

	return c.callPacked(ctx, instance, "describe")
}

// Call invokes one exported tool function with a JSON payload and
// returns the JSON payload it produced. A context cancellation aborts
// the in-flight call at its next checkpoint; the error then reflects
// the context, not a trap.
func (c *Component) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	if err := c.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.pool.Release(1)

	ctx = hostfuncs.WithComponentID(ctx, c.id)

	instance, err := c.instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Close with a background context: the call context may
		// already be cancelled and teardown must still happen.
		_ = instance.Close(context.WithoutCancel(ctx))
	}()

	ptr, err := c.writePayload(ctx, instance, payload)
	if err != nil {
		return nil, err
	}
	defer func() {
		if deallocate := instance.ExportedFunction("deallocate"); deallocate != nil {
			_, _ = deallocate.Call(context.WithoutCancel(ctx), uint64(ptr), uint64(len(payload)))
		}
	}()

	return c.callPacked(ctx, instance, export, uint64(ptr), uint64(len(payload)))
}

// Close tears down the component's runtime and every cached
// compilation artifact owned by it.
func (c *Component) Close(ctx context.Context) error {
	return c.runtime.Close(ctx)
}

// instantiate creates a fresh anonymous module instance. Anonymous
// names allow concurrent instances of the same compiled module.
func (c *Component) instantiate(ctx context.Context) (api.Module, error) {
	config := wazero.NewModuleConfig().
		WithName("").
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStderr(os.Stderr)

	instance, err := c.runtime.InstantiateModule(ctx, c.module, config)
	if err != nil {
		return nil, &InstantiationError{Cause: fmt.Errorf("component %s: %w", c.id, err)}
	}

	// Modules built as reactors expose _initialize instead of _start.
	if initFn := instance.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = instance.Close(ctx)
			return nil, &InstantiationError{Cause: fmt.Errorf("component %s initialization: %w", c.id, err)}
		}
	}

	return instance, nil
}

// callPacked calls an export returning a packed ptr/len uint64, reads
// the payload out of guest memory and deallocates it.
func (c *Component) callPacked(ctx context.Context, instance api.Module, export string, params ...uint64) ([]byte, error) {
	fn := instance.ExportedFunction(export)
	if fn == nil {
		return nil, &TrapError{Cause: fmt.Errorf("component %s does not export %q", c.id, export)}
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TrapError{Cause: err}
	}
	if len(results) == 0 {
		return nil, &TrapError{Cause: fmt.Errorf("%s() returned no results", export)}
	}

	ptr, size := hostfuncs.UnpackPtrLen(results[0])
	if ptr == 0 || size == 0 {
		return nil, &TrapError{Cause: fmt.Errorf("%s() returned an empty payload", export)}
	}

	defer func() {
		if deallocate := instance.ExportedFunction("deallocate"); deallocate != nil {
			_, _ = deallocate.Call(context.WithoutCancel(ctx), uint64(ptr), uint64(size))
		}
	}()

	data, ok := instance.Memory().Read(ptr, size)
	if !ok {
		return nil, &TrapError{Cause: fmt.Errorf("%s() returned an out-of-bounds payload", export)}
	}
	out := make([]byte, size)
	copy(out, data)
	return out, nil
}

// writePayload allocates guest memory through the component's allocate
// export and copies the payload in.
func (c *Component) writePayload(ctx context.Context, instance api.Module, payload []byte) (uint32, error) {
	allocate := instance.ExportedFunction("allocate")
	if allocate == nil {
		return 0, &TrapError{Cause: fmt.Errorf("component %s does not export allocate", c.id)}
	}

	results, err := allocate.Call(ctx, uint64(len(payload)))
	if err != nil || len(results) == 0 {
		return 0, &TrapError{Cause: fmt.Errorf("guest allocation failed: %w", err)}
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, &TrapError{Cause: fmt.Errorf("guest allocator returned a null pointer")}
	}
	if !instance.Memory().Write(ptr, payload) {
		return 0, &TrapError{Cause: fmt.Errorf("failed to write payload to guest memory")}
	}
	return ptr, nil
}
