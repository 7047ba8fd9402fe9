// Package mcptransport implements the two MCP wire transports this
// gateway speaks to tool servers: Streamable-HTTP and subprocess stdio.
package mcptransport

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// ProtocolVersion is the MCP protocol version this gateway negotiates.
const ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION

// request is an outbound JSON-RPC 2.0 request or notification. Omitting
// ID marks it a notification.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  any             `json:"params,omitempty"`
}

// response is an inbound JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) String() string {
	return e.Message
}

// clientInfo identifies this gateway to an MCP server during initialize.
type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      clientInfo     `json:"serverInfo"`
}

// ToolInfo is one entry of a tools/list result, as received on the wire.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

type callToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// ToolCallResult is the result of a tools/call, as received on the wire.
type ToolCallResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// ToolContent is one element of a ToolCallResult's content array.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newRequest(id int, method string, params any) request {
	idCopy := id
	return request{JSONRPC: "2.0", ID: &idCopy, Method: method, Params: params}
}

func newNotification(method string, params any) request {
	return request{JSONRPC: "2.0", Method: method, Params: params}
}
