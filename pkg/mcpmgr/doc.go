// Package mcpmgr maintains named, independently configured connections to
// Model Context Protocol (MCP) servers from a single Go process. It layers
// per-server lifecycle tracking, a status view, and capability pass-throughs
// on top of the modelcontextprotocol/go-sdk client so callers can focus on
// consuming tools, prompts, and resources instead of rebuilding MCP plumbing.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct one with
//     NewManager and share it between request handlers. Connect and
//     Disconnect are totally ordered per server id; distinct ids proceed in
//     parallel.
//   - ServerConfig declares how a server is launched or contacted. Its Spec is
//     exactly one of *StdioSpec (subprocess over stdin/stdout), *HTTPSpec
//     (Streamable HTTP) or *SSESpec (HTTP with server-sent events). The
//     variants are distinct; SSE never falls back to Streamable HTTP.
//   - NewTransport turns a config into a Transport without doing any I/O.
//     The process or socket is only opened during Connect.
//
// Once connected, ListTools, CallTool, ListPrompts, GetPrompt, ListResources
// and ReadResource forward to the server and return its results unmodified.
// Calls against a server without a live session fail with a
// *NotConnectedError before any I/O happens.
//
// Status and AllStatuses never fail. They consult the live registry first and
// then the session cache, which remembers the last known status of servers
// that have no live connection object. The session cache is memory-only and
// does not survive a restart of the process.
//
// Errors can be inspected with errors.Is against ErrConfiguration,
// ErrConnectFailed, ErrNotConnected, ErrTimeout and ErrTeardown, or with
// errors.As against the matching *Error types.
package mcpmgr
