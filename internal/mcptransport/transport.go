package mcptransport

import (
	"context"
	"errors"
)

// ClientName and ClientVersion identify this gateway during the MCP
// initialize handshake.
const (
	ClientName    = "mcp-injector"
	ClientVersion = "0.1.0"
)

// ErrRequestTimeout is returned by CallTool/ListTools when a stdio
// request doesn't receive a reply within its timeout.
var ErrRequestTimeout = errors.New("request timed out")

// Transport is the interface shared by the HTTP Streamable and
// subprocess stdio MCP transports. A JSON-RPC error reply is returned as
// a Go error, as is any failure to reach the transport at all (e.g. the
// process failed to spawn, or a request timed out). A tool-level failure
// that the server reports in a successful tools/call reply arrives as
// ToolCallResult.IsError.
type Transport interface {
	// Initialize performs the initialize handshake and, on success, the
	// notifications/initialized follow-up. Safe to call repeatedly;
	// subsequent calls reuse the cached session unless it was discarded.
	Initialize(ctx context.Context) error

	// ListTools issues tools/list and returns the raw server-side tool
	// list, unfiltered.
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// CallTool issues tools/call for name with the given arguments.
	CallTool(ctx context.Context, name string, arguments any) (*ToolCallResult, error)

	// Close tears down any live session or child process.
	Close() error
}
