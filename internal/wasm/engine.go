// Package wasm executes components with wazero. Each component gets its
// own runtime so memory ceilings apply per component, and every call
// runs in a fresh module instance: linear memory is never shared
// between calls, which makes a single component safe to call
// concurrently up to its pool width.
package wasm

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/toolhost-dev/toolhost/internal/policy"
	"github.com/toolhost-dev/toolhost/internal/wasm/hostfuncs"
)

// DefaultMemoryLimitMB bounds a component's linear memory when no
// resource grant says otherwise.
const DefaultMemoryLimitMB = 256

// maxMemoryPages is the wasm32 ceiling of 65536 64KB pages (4GB).
const maxMemoryPages = 1 << 16

// memoryPages converts a megabyte limit into 64KB wasm pages, clamped
// to the wasm32 ceiling so an oversized policy value cannot wrap the
// uint32 conversion into a tiny limit.
func memoryPages(memoryMB int) uint32 {
	const pagesPerMB = 16
	if memoryMB >= maxMemoryPages/pagesPerMB {
		return maxMemoryPages
	}
	return uint32(memoryMB * pagesPerMB)
}

// globalCache shares compiled code across component runtimes.
var globalCache = wazero.NewCompilationCache()

// Config tunes the execution environment.
type Config struct {
	// DefaultMemoryLimitMB applies when a component has no memory
	// grant. Zero means DefaultMemoryLimitMB.
	DefaultMemoryLimitMB int
	// PoolSize is the number of interchangeable instances a component
	// may run concurrently. Zero means 1: calls fully serialized.
	PoolSize int
}

// Engine compiles component binaries into callable sandboxes.
type Engine struct {
	checker   hostfuncs.Checker
	cfg       Config
	frozenEnv []string
}

// NewEngine creates an engine whose host functions consult the given
// capability checker. The process environment is snapshotted once here;
// later changes to the host environment are invisible to components.
func NewEngine(checker hostfuncs.Checker, cfg Config) *Engine {
	if cfg.DefaultMemoryLimitMB <= 0 {
		cfg.DefaultMemoryLimitMB = DefaultMemoryLimitMB
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	return &Engine{
		checker:   checker,
		cfg:       cfg,
		frozenEnv: os.Environ(),
	}
}

// Load compiles a component binary into a sandbox, applying the given
// resource ceilings. The binary must export describe, allocate and
// deallocate; compile failures mean the binary is not a component at
// all, missing exports mean it does not speak the expected interface.
func (e *Engine) Load(ctx context.Context, componentID string, binary []byte, limits policy.Limits) (*Component, error) {
	memoryMB := e.cfg.DefaultMemoryLimitMB
	if limits.MemoryBytes > 0 {
		memoryMB = int(limits.MemoryBytes >> 20)
		if memoryMB < 1 {
			memoryMB = 1
		}
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithCompilationCache(globalCache).
		WithMemoryLimitPages(memoryPages(memoryMB)).
		// In-flight calls abort at the next checkpoint when their
		// context is cancelled or times out.
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, &InstantiationError{Cause: fmt.Errorf("instantiating WASI: %w", err)}
	}
	if err := hostfuncs.Register(ctx, runtime, e.checker, e.frozenEnv); err != nil {
		_ = runtime.Close(ctx)
		return nil, &InstantiationError{Cause: fmt.Errorf("registering host functions: %w", err)}
	}

	module, err := runtime.CompileModule(ctx, binary)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, &CompileError{Cause: err}
	}

	exports := module.ExportedFunctions()
	for _, required := range []string{"describe", "allocate", "deallocate"} {
		if _, ok := exports[required]; !ok {
			_ = runtime.Close(ctx)
			return nil, &MissingExportError{Export: required}
		}
	}

	return newComponent(componentID, runtime, module, limits, e.cfg.PoolSize), nil
}
