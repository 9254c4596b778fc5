// Package bridge exposes the registry's components over the Model
// Context Protocol: discovery is the MCP tool list with names qualified
// by component id, invocation is MCP tools/call routed through the
// dispatcher. Registry changes stream to connected clients as tool
// list-changed notifications, in the order the changes occurred.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/toolhost-dev/toolhost/internal/dispatch"
	"github.com/toolhost-dev/toolhost/internal/registry"
	"github.com/toolhost-dev/toolhost/internal/schema"
)

// separator joins component id and tool name into a qualified MCP tool
// name. Component ids are normalized and never contain a double
// underscore, so the split is unambiguous.
const separator = "__"

// Qualify builds the MCP tool name for one component tool.
func Qualify(componentID, tool string) string {
	return componentID + separator + tool
}

// SplitQualified resolves a qualified MCP tool name back into component
// id and tool name.
func SplitQualified(name string) (componentID, tool string, ok bool) {
	componentID, tool, ok = strings.Cut(name, separator)
	if !ok || componentID == "" || tool == "" {
		return "", "", false
	}
	return componentID, tool, true
}

// Invoker runs one validated invocation. Satisfied by the dispatcher.
type Invoker interface {
	Invoke(ctx context.Context, inv dispatch.Invocation) (any, error)
}

// Config identifies the server to MCP clients.
type Config struct {
	Name    string
	Version string
}

// Bridge is the MCP surface over one registry.
type Bridge struct {
	server   *server.MCPServer
	registry *registry.Registry
	invoker  Invoker

	mu         sync.Mutex
	registered map[string][]string // component id -> qualified tool names
}

// New builds the bridge. Tools appear as registry events arrive through
// Run; the server starts empty.
func New(reg *registry.Registry, invoker Invoker, cfg Config) *Bridge {
	if cfg.Name == "" {
		cfg.Name = "toolhost"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Bridge{
		server: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		registry:   reg,
		invoker:    invoker,
		registered: make(map[string][]string),
	}
}

// Server exposes the underlying MCP server for transport wiring.
func (b *Bridge) Server() *server.MCPServer { return b.server }

// Run consumes registry events until the context is cancelled, keeping
// the advertised tool list in sync. Events apply in order, so clients
// observe every intermediate state.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.registry.Subscribe()
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			b.apply(ev)
		}
	}
}

// apply reconciles one registry event into the MCP tool list.
func (b *Bridge) apply(ev registry.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous := b.registered[ev.ID]

	if ev.Kind == registry.EventRemoved {
		if len(previous) > 0 {
			b.server.DeleteTools(previous...)
		}
		delete(b.registered, ev.ID)
		slog.Debug("component tools withdrawn", "component", ev.ID, "tools", len(previous))
		return
	}

	current := make([]string, 0, len(ev.Schema.Tools))
	currentSet := make(map[string]struct{}, len(ev.Schema.Tools))
	for i := range ev.Schema.Tools {
		sig := ev.Schema.Tools[i]
		qualified := Qualify(ev.ID, sig.Name)
		current = append(current, qualified)
		currentSet[qualified] = struct{}{}

		tool := mcp.NewToolWithRawSchema(qualified, sig.Doc, schema.InputSchema(&sig))
		b.server.AddTool(tool, b.handler(ev.ID, sig))
	}

	var stale []string
	for _, name := range previous {
		if _, still := currentSet[name]; !still {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		b.server.DeleteTools(stale...)
	}

	b.registered[ev.ID] = current
	slog.Debug("component tools advertised", "component", ev.ID, "tools", len(current))
}

// handler adapts one tool signature into an MCP call handler. Arguments
// arrive keyed by parameter name and are ordered per the signature
// before dispatch.
func (b *Bridge) handler(componentID string, sig schema.ToolSignature) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		requestID := uuid.NewString()
		supplied := req.GetArguments()

		args := make([]any, len(sig.Params))
		for i, p := range sig.Params {
			args[i] = supplied[p.Name]
		}

		result, err := b.invoker.Invoke(ctx, dispatch.Invocation{
			ComponentID: componentID,
			Function:    sig.Name,
			Args:        args,
		})
		if err != nil {
			slog.Warn("tool call failed",
				"request", requestID, "component", componentID, "tool", sig.Name, "error", err)
			return errorResult(err), nil
		}

		encoded, err := schema.Encode(sig.Result, result)
		if err != nil {
			return errorResult(err), nil
		}
		payload, err := json.Marshal(encoded)
		if err != nil {
			return errorResult(fmt.Errorf("encoding result: %w", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// ServeStdio runs the MCP server over stdin/stdout until the context is
// cancelled.
func (b *Bridge) ServeStdio(ctx context.Context) error {
	return server.NewStdioServer(b.server).Listen(ctx, os.Stdin, os.Stdout)
}

// NewSSEServer wires the bridge into an SSE transport.
func (b *Bridge) NewSSEServer(baseURL string) *server.SSEServer {
	opts := []server.SSEOption{}
	if baseURL != "" {
		opts = append(opts, server.WithBaseURL(baseURL))
	}
	return server.NewSSEServer(b.server, opts...)
}

// NewStreamableHTTPServer wires the bridge into a streamable HTTP
// transport.
func (b *Bridge) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(b.server)
}
