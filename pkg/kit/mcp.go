package kit

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDecodeResult carries the decoded request an MCP tool handler passes
// into its Endpoint.
type MCPDecodeResult struct {
	Request any
}

// RegisterMCPTool bridges an Endpoint onto an MCP tool: the decoder maps
// the raw tool call onto a typed request, the endpoint runs it, and the
// result is returned as JSON text.
func RegisterMCPTool(srv *server.MCPServer, tool mcp.Tool, endpoint Endpoint,
	decode func(mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ctx = WithTransport(ctx, "mcp")
		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		out, err := json.Marshal(resp)
		if err != nil {
			return mcp.NewToolResultError("encoding result: " + err.Error()), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	})
}
