package registry

import (
	"context"
	"errors"

	"github.com/toolhost-dev/toolhost/internal/policy"
	"github.com/toolhost-dev/toolhost/internal/wasm"
)

// Instance is one callable sandbox bound to a component.
type Instance interface {
	DescribeInterface(ctx context.Context) ([]byte, error)
	Call(ctx context.Context, export string, payload []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// Engine builds sandbox instances out of component binaries.
type Engine interface {
	Load(ctx context.Context, componentID string, binary []byte, limits policy.Limits) (Instance, error)
}

// WasmEngine adapts the wazero engine to the Engine interface.
func WasmEngine(e *wasm.Engine) Engine { return wasmEngine{e} }

type wasmEngine struct {
	inner *wasm.Engine
}

func (w wasmEngine) Load(ctx context.Context, componentID string, binary []byte, limits policy.Limits) (Instance, error) {
	return w.inner.Load(ctx, componentID, binary, limits)
}

// classifyLoadErr maps sandbox construction failures onto the load
// error taxonomy.
func classifyLoadErr(id string, err error) error {
	var compileErr *wasm.CompileError
	if errors.As(err, &compileErr) {
		return &MalformedError{ID: id, Cause: compileErr.Cause}
	}
	var exportErr *wasm.MissingExportError
	if errors.As(err, &exportErr) {
		return &UnsupportedInterfaceError{ID: id, Cause: exportErr}
	}
	var instErr *wasm.InstantiationError
	if errors.As(err, &instErr) {
		return &InstantiationFailedError{ID: id, Cause: instErr.Cause}
	}
	return &InstantiationFailedError{ID: id, Cause: err}
}
