package mcpgateway

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultAddr        = "127.0.0.1:8700"
	defaultPath        = "/mcp"
	defaultSyncTimeout = 30 * time.Second
)

// Options configure a Gateway. The zero value is usable.
type Options struct {
	// Implementation is reported to downstream clients during initialize.
	Implementation *mcp.Implementation
	// Addr is where ListenAndServe listens.
	Addr string
	// Path mounts the endpoint in Handler's mux.
	Path string
	// Namespace rewrites upstream identifiers. When nil, PrefixNamespace is
	// used with Separator.
	Namespace Namespace
	Separator string
	// ServerFilter limits which connected servers are mirrored. Nil mirrors
	// every connected server.
	ServerFilter func(serverID string) bool
	Streamable   mcp.StreamableHTTPOptions
	Logger       *slog.Logger
	// SyncTimeout bounds each list refresh against an upstream server.
	SyncTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	impl := mcp.Implementation{Name: "mcphost-gateway", Title: "MCP Host Gateway", Version: "0.1.0"}
	if opts.Implementation != nil {
		impl = *opts.Implementation
	}
	opts.Implementation = &impl
	if opts.Addr == "" {
		opts.Addr = defaultAddr
	}
	if opts.Path == "" {
		opts.Path = defaultPath
	}
	if opts.Namespace == nil {
		opts.Namespace = PrefixNamespace{Separator: opts.Separator}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}
	return opts
}
