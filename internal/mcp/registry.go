package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/redmine-mcp/redmine-mcp-server/internal/redmine"
)

// McpServer is the subset of the mcp-go server used for registration.
type McpServer interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

// registeredTool pairs a tool definition with its declared parameter
// set and handler.
type registeredTool struct {
	tool    mcp.Tool
	params  map[string]struct{}
	handler server.ToolHandlerFunc
}

// Registry is an explicit mapping from tool name to handler plus the
// parameter names the tool accepts. Registration happens once at
// startup; dispatch is stateless.
type Registry struct {
	order []string
	tools map[string]registeredTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register associates a tool with its handler. params is the complete
// set of argument names the handler accepts; anything else supplied by
// a caller is rejected before the handler runs.
func (r *Registry) Register(tool mcp.Tool, params []string, handler server.ToolHandlerFunc) {
	set := make(map[string]struct{}, len(params))
	for _, p := range params {
		set[p] = struct{}{}
	}
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = registeredTool{tool: tool, params: set, handler: handler}
}

// Attach adds every registered tool to the MCP server, wrapping each
// handler with argument validation.
func (r *Registry) Attach(s McpServer) {
	for _, name := range r.order {
		rt := r.tools[name]
		s.AddTool(rt.tool, withValidation(rt.params, rt.handler))
	}
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// withValidation rejects calls carrying arguments the tool does not
// declare. The error names the offending parameter(s) and the accepted
// set rather than a bare framework message.
func withValidation(accepted map[string]struct{}, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var unknown []string
		for name := range req.GetArguments() {
			if _, ok := accepted[name]; !ok {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return errorResult(&redmine.Error{
				Kind: redmine.KindValidation,
				Message: fmt.Sprintf("unknown parameter(s) %s; accepted parameters: %s",
					strings.Join(unknown, ", "), strings.Join(sortedKeys(accepted), ", ")),
			}), nil
		}
		return handler(ctx, req)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return []string{"(none)"}
	}
	return keys
}
