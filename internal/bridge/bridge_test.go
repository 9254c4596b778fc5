package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolhost-dev/toolhost/internal/dispatch"
	"github.com/toolhost-dev/toolhost/internal/policy"
	"github.com/toolhost-dev/toolhost/internal/registry"
	"github.com/toolhost-dev/toolhost/internal/schema"
	"github.com/toolhost-dev/toolhost/wireformat"
)

type fakeInstance struct {
	describe []byte
}

func (f *fakeInstance) DescribeInterface(ctx context.Context) ([]byte, error) {
	return f.describe, nil
}

func (f *fakeInstance) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	return []byte(`{"result":0}`), nil
}

func (f *fakeInstance) Close(ctx context.Context) error { return nil }

type fakeEngine struct{}

func (fakeEngine) Load(ctx context.Context, componentID string, binary []byte, limits policy.Limits) (registry.Instance, error) {
	return &fakeInstance{describe: binary}, nil
}

type fakeInvoker struct {
	got    dispatch.Invocation
	result any
	err    error
}

func (f *fakeInvoker) Invoke(ctx context.Context, inv dispatch.Invocation) (any, error) {
	f.got = inv
	return f.result, f.err
}

func newTestBridge(t *testing.T) (*Bridge, *registry.Registry, *fakeInvoker) {
	t.Helper()
	reg := registry.New(fakeEngine{}, policy.NewStore(), registry.Config{Grace: 100 * time.Millisecond})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	invoker := &fakeInvoker{}
	return New(reg, invoker, Config{Name: "toolhost-test", Version: "0.0.0"}), reg, invoker
}

func TestQualifiedNames(t *testing.T) {
	assert.Equal(t, "calc__add", Qualify("calc", "add"))

	tests := []struct {
		name      string
		component string
		tool      string
		ok        bool
	}{
		{"calc__add", "calc", "add", true},
		{"url_fetcher__fetch_page", "url_fetcher", "fetch_page", true},
		{"noseparator", "", "", false},
		{"__add", "", "", false},
		{"calc__", "", "", false},
	}
	for _, tt := range tests {
		component, tool, ok := SplitQualified(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		if tt.ok {
			assert.Equal(t, tt.component, component)
			assert.Equal(t, tt.tool, tool)
		}
	}
}

func intType() *schema.Type { return &schema.Type{Kind: schema.KindInt} }

func addSignature() schema.ToolSignature {
	return schema.ToolSignature{
		Name:   "add",
		Export: "add",
		Params: []schema.Param{
			{Name: "x", Type: intType()},
			{Name: "y", Type: intType()},
		},
		Result: intType(),
	}
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestHandlerOrdersArgumentsAndReturnsResult(t *testing.T) {
	b, _, invoker := newTestBridge(t)
	invoker.result = int64(5)

	handler := b.handler("calc", addSignature())
	result, err := handler(context.Background(), callRequest("calc__add", map[string]any{
		"y": 3, "x": 2,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "calc", invoker.got.ComponentID)
	assert.Equal(t, "add", invoker.got.Function)
	assert.Equal(t, []any{2, 3}, invoker.got.Args, "arguments are ordered per the signature")
	assert.JSONEq(t, "5", textContent(t, result))
}

func TestHandlerReturnsStructuredErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType string
		wantCode string
	}{
		{
			name:     "not found",
			err:      &dispatch.NotFoundError{Component: "calc", Function: "divide"},
			wantType: "not_found",
		},
		{
			name:     "type mismatch carries the field path",
			err:      &dispatch.TypeMismatchError{Function: "add", Path: "x", Detail: "expected int, got string"},
			wantType: "validation",
			wantCode: "x",
		},
		{
			name:     "timeout",
			err:      &dispatch.TimeoutError{Component: "calc", Function: "hang"},
			wantType: "timeout",
		},
		{
			name:     "capability denied carries the kind",
			err:      &dispatch.CapabilityDeniedError{Component: "fetcher", Kind: "network", Detail: "no matching grant"},
			wantType: "capability",
			wantCode: "network",
		},
		{
			name: "component fault hides trap detail",
			err: &dispatch.ComponentFaultError{
				Component: "calc",
				Detail:    &wireformat.ErrorDetail{Message: "component trapped during execution", Type: "panic"},
				Cause:     errors.New("wasm error: out of bounds memory access at 0xdeadbeef"),
			},
			wantType: "component_fault",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, invoker := newTestBridge(t)
			invoker.err = tt.err

			handler := b.handler("calc", addSignature())
			result, err := handler(context.Background(), callRequest("calc__add", map[string]any{"x": 1, "y": 2}))
			require.NoError(t, err, "taxonomy errors become payloads, not protocol errors")
			require.True(t, result.IsError)

			var payload struct {
				Error wireformat.ErrorDetail `json:"error"`
			}
			require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
			assert.Equal(t, tt.wantType, payload.Error.Type)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, payload.Error.Code)
			}
			assert.NotContains(t, textContent(t, result), "0xdeadbeef", "raw trap text never reaches the wire")
		})
	}
}

func iface(tools ...string) []byte {
	out := `{"exports":[`
	for i, name := range tools {
		if i > 0 {
			out += ","
		}
		out += `{"name":"` + name + `","result":{"kind":"int"}}`
	}
	return []byte(out + `]}`)
}

func registeredTools(b *Bridge, componentID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.registered[componentID]...)
}

func TestRunSyncsToolListWithRegistry(t *testing.T) {
	b, reg, _ := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()

	require.NoError(t, reg.LoadBytes(ctx, "calc", iface("add", "sub")))
	require.Eventually(t, func() bool {
		return len(registeredTools(b, "calc")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"calc__add", "calc__sub"}, registeredTools(b, "calc"))

	// A compatible reload that adds a tool extends the advertised list.
	require.NoError(t, reg.ReloadBytes(ctx, "calc", iface("add", "sub", "mul")))
	require.Eventually(t, func() bool {
		return len(registeredTools(b, "calc")) == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, reg.Unload(ctx, "calc"))
	require.Eventually(t, func() bool {
		return len(registeredTools(b, "calc")) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge loop did not stop on cancellation")
	}
}

func TestApplyWithdrawsStaleTools(t *testing.T) {
	b, _, _ := newTestBridge(t)

	full, err := schema.ParseCallSchema([]byte(`{"tools":[
		{"name":"add","export":"add","params":[],"result":{"kind":"int"}},
		{"name":"sub","export":"sub","params":[],"result":{"kind":"int"}}
	]}`))
	require.NoError(t, err)

	b.apply(registry.Event{Kind: registry.EventAdded, ID: "calc", Schema: full})
	assert.ElementsMatch(t, []string{"calc__add", "calc__sub"}, registeredTools(b, "calc"))

	// Updates carrying a narrower schema drop the vanished tools. The
	// registry only permits this through a failed-record replacement,
	// but the bridge reconciles whatever state it is told.
	narrow, err := schema.ParseCallSchema([]byte(`{"tools":[
		{"name":"add","export":"add","params":[],"result":{"kind":"int"}}
	]}`))
	require.NoError(t, err)

	b.apply(registry.Event{Kind: registry.EventUpdated, ID: "calc", Schema: narrow})
	assert.Equal(t, []string{"calc__add"}, registeredTools(b, "calc"))
}
