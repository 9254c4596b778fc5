// Package dispatch routes invocations into sandbox instances: it
// validates the call against the component's schema, applies the
// deadline, and folds every outcome into the call error taxonomy so
// callers never see raw sandbox faults.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/toolhost-dev/toolhost/internal/policy"
	"github.com/toolhost-dev/toolhost/internal/registry"
	"github.com/toolhost-dev/toolhost/internal/schema"
	"github.com/toolhost-dev/toolhost/internal/wasm"
	"github.com/toolhost-dev/toolhost/wireformat"
)

// DefaultTimeout applies when an invocation carries no deadline.
const DefaultTimeout = 30 * time.Second

// Invocation is one ephemeral call request. Args are positional, one
// per declared parameter.
type Invocation struct {
	ComponentID string
	Function    string
	Args        []any
	// Deadline bounds the call. Zero means the configured default.
	Deadline time.Time
}

// Source hands out component leases and accepts fault reports.
type Source interface {
	Acquire(ctx context.Context, id string) (*registry.Handle, error)
	MarkFailed(id string, reason error)
}

// Config tunes dispatch behavior.
type Config struct {
	// DefaultTimeout applies when an invocation has no deadline. Zero
	// means DefaultTimeout.
	DefaultTimeout time.Duration
}

// Dispatcher validates and executes invocations.
type Dispatcher struct {
	source  Source
	limits  *policy.Store
	timeout time.Duration
}

// New creates a dispatcher over a component source. The policy store
// supplies per-component CPU budgets, which cap every call's deadline.
func New(source Source, store *policy.Store, cfg Config) *Dispatcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	return &Dispatcher{source: source, limits: store, timeout: cfg.DefaultTimeout}
}

// Invoke runs one invocation to completion and returns the decoded
// result value.
func (d *Dispatcher) Invoke(ctx context.Context, inv Invocation) (any, error) {
	handle, err := d.source.Acquire(ctx, inv.ComponentID)
	if err != nil {
		var notFound *registry.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &NotFoundError{Component: inv.ComponentID}
		}
		return nil, &ComponentFaultError{Component: inv.ComponentID, Cause: err}
	}
	defer handle.Release()

	sig, ok := handle.Schema().Tool(inv.Function)
	if !ok {
		return nil, &NotFoundError{Component: inv.ComponentID, Function: inv.Function}
	}

	payload, err := encodeArgs(sig, inv.Args)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithDeadline(ctx, d.deadline(inv))
	defer cancel()

	started := time.Now()
	raw, callErr := handle.Call(callCtx, sig.Export, payload)
	slog.Debug("invocation finished",
		"component", inv.ComponentID, "tool", inv.Function,
		"duration", time.Since(started), "failed", callErr != nil)

	if callErr != nil {
		return nil, d.classify(ctx, callCtx, inv, callErr)
	}

	return decodeResult(inv, sig, raw)
}

// deadline resolves the effective call deadline: the invocation's own,
// or the default, and never later than the component's CPU time budget
// allows.
func (d *Dispatcher) deadline(inv Invocation) time.Time {
	now := time.Now()
	eff := inv.Deadline
	if eff.IsZero() {
		eff = now.Add(d.timeout)
	}
	if budget := d.limits.LimitsFor(inv.ComponentID).CPUTime; budget > 0 {
		if ceiling := now.Add(budget); ceiling.Before(eff) {
			eff = ceiling
		}
	}
	return eff
}

// classify folds a sandbox call failure into the call error taxonomy.
func (d *Dispatcher) classify(ctx, callCtx context.Context, inv Invocation, err error) error {
	// Caller cancellation is not a component failure; propagate it.
	if ctx.Err() != nil && callCtx.Err() != context.DeadlineExceeded {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Component: inv.ComponentID, Function: inv.Function}
	}

	var trap *wasm.TrapError
	if errors.As(err, &trap) {
		if isCorruptState(trap) {
			d.source.MarkFailed(inv.ComponentID, trap)
		}
		return &ComponentFaultError{
			Component: inv.ComponentID,
			Detail:    &wireformat.ErrorDetail{Message: "component trapped during execution", Type: "panic"},
			Cause:     trap,
		}
	}
	return &ComponentFaultError{Component: inv.ComponentID, Cause: err}
}

// isCorruptState reports whether a trap suggests the component's state
// is no longer trustworthy, warranting re-instantiation.
func isCorruptState(trap *wasm.TrapError) bool {
	msg := trap.Error()
	return strings.Contains(msg, "out of bounds memory access") ||
		strings.Contains(msg, "stack overflow")
}

// encodeArgs validates the positional arguments against the signature
// and marshals them into the guest call payload, an object keyed by
// parameter name.
func encodeArgs(sig *schema.ToolSignature, args []any) ([]byte, error) {
	if len(args) != len(sig.Params) {
		return nil, &TypeMismatchError{
			Function: sig.Name,
			Path:     "$",
			Detail:   fmt.Sprintf("expected %d arguments, got %d", len(sig.Params), len(args)),
		}
	}

	fields := make(map[string]any, len(args))
	for i, param := range sig.Params {
		if err := schema.Validate(param.Type, args[i]); err != nil {
			return nil, mismatch(sig.Name, param.Name, err)
		}
		encoded, err := schema.Encode(param.Type, args[i])
		if err != nil {
			return nil, mismatch(sig.Name, param.Name, err)
		}
		fields[param.Name] = encoded
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, &TypeMismatchError{Function: sig.Name, Path: "$", Detail: err.Error()}
	}
	return payload, nil
}

// decodeResult parses the guest's wire result, maps structured errors,
// and validates the value against the declared result type.
func decodeResult(inv Invocation, sig *schema.ToolSignature, raw []byte) (any, error) {
	var wire wireformat.CallResultWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ComponentFaultError{
			Component: inv.ComponentID,
			Detail:    &wireformat.ErrorDetail{Message: "component returned a malformed result payload", Type: "internal"},
			Cause:     err,
		}
	}

	if wire.Error != nil {
		switch wire.Error.Type {
		case "capability":
			return nil, &CapabilityDeniedError{
				Component: inv.ComponentID,
				Kind:      wire.Error.Code,
				Detail:    wire.Error.Message,
			}
		case "timeout":
			return nil, &TimeoutError{Component: inv.ComponentID, Function: inv.Function}
		default:
			return nil, &ComponentFaultError{Component: inv.ComponentID, Detail: wire.Error}
		}
	}

	if err := schema.Validate(sig.Result, wire.Result); err != nil {
		return nil, &ComponentFaultError{
			Component: inv.ComponentID,
			Detail: &wireformat.ErrorDetail{
				Message: fmt.Sprintf("result does not match the declared type: %v", err),
				Type:    "validation",
			},
		}
	}
	return schema.Decode(sig.Result, wire.Result)
}

// mismatch rebases a validation error's field path under the parameter
// name.
func mismatch(function, param string, err error) error {
	var me *schema.MismatchError
	if errors.As(err, &me) {
		path := param
		switch {
		case me.Path == "" || me.Path == "$":
		case strings.HasPrefix(me.Path, "["):
			path += me.Path
		default:
			path += "." + me.Path
		}
		return &TypeMismatchError{
			Function: function,
			Path:     path,
			Detail:   fmt.Sprintf("expected %s, got %s", me.Expected, me.Got),
		}
	}
	return &TypeMismatchError{Function: function, Path: param, Detail: err.Error()}
}
