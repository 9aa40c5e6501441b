// Package mcpgateway exposes an HTTP-facing aggregation layer that mirrors the
// tools, prompts, and resources of every server connected through an
// mcpmgr.Manager over a single Streamable MCP server. Downstream clients can
// connect to one host and have their calls proxied to the right upstream
// server. Upstream names are namespaced per server ("serverID__tool") and the
// mirror follows connects, disconnects and list_changed notifications.
package mcpgateway
