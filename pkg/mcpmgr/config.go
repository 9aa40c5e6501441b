package mcpmgr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportKind names the wire binding used to reach a server. The values
// match the keys used by configuration stores.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportStreamableHTTP TransportKind = "streamable-http"
	TransportSSE            TransportKind = "sse"
)

// Valid reports whether k is one of the supported transport kinds.
func (k TransportKind) Valid() bool {
	switch k {
	case TransportStdio, TransportStreamableHTTP, TransportSSE:
		return true
	default:
		return false
	}
}

// TransportSpec is the transport-specific half of a ServerConfig. It is
// implemented only by *StdioSpec, *HTTPSpec and *SSESpec, so the kind of a
// config is always derived from the spec it carries.
type TransportSpec interface {
	Kind() TransportKind
	validate(serverID string) error
}

// StdioSpec launches a server as a subprocess and talks to it over
// stdin/stdout. Env is overlaid on the host process environment.
type StdioSpec struct {
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

func (s *StdioSpec) Kind() TransportKind { return TransportStdio }

func (s *StdioSpec) validate(serverID string) error {
	if s == nil {
		return missingSpec(serverID, TransportStdio)
	}
	if s.Command == "" {
		return &ConfigurationError{ServerID: serverID, Field: "stdio.command", Reason: "command is required"}
	}
	return nil
}

// HTTPSpec reaches a server over the Streamable HTTP transport. Headers are
// attached to every request.
type HTTPSpec struct {
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

func (s *HTTPSpec) Kind() TransportKind { return TransportStreamableHTTP }

func (s *HTTPSpec) validate(serverID string) error {
	if s == nil {
		return missingSpec(serverID, TransportStreamableHTTP)
	}
	return validateEndpoint(serverID, "http.url", s.URL)
}

// SSESpec reaches a server over the legacy HTTP+SSE transport. Headers are
// attached to the event stream and to every posted message.
type SSESpec struct {
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

func (s *SSESpec) Kind() TransportKind { return TransportSSE }

func (s *SSESpec) validate(serverID string) error {
	if s == nil {
		return missingSpec(serverID, TransportSSE)
	}
	return validateEndpoint(serverID, "sse.url", s.URL)
}

func missingSpec(serverID string, kind TransportKind) error {
	return &ConfigurationError{ServerID: serverID, Field: string(kind), Reason: "transport spec is nil"}
}

func validateEndpoint(serverID, field, raw string) error {
	if raw == "" {
		return &ConfigurationError{ServerID: serverID, Field: field, Reason: "url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigurationError{ServerID: serverID, Field: field, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigurationError{ServerID: serverID, Field: field, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return &ConfigurationError{ServerID: serverID, Field: field, Reason: "host is required"}
	}
	return nil
}

// ServerConfig identifies one remote server and describes how to reach it.
// CreatedAt and UpdatedAt belong to whichever store owns the record; the
// manager never changes them.
type ServerConfig struct {
	ID   string
	Name string
	Spec TransportSpec
	// Timeout bounds the connect handshake. Zero falls back to the manager's
	// DefaultTimeout.
	Timeout   time.Duration
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewStdioConfig returns a subprocess server config.
func NewStdioConfig(id, name string, spec StdioSpec) ServerConfig {
	return ServerConfig{ID: id, Name: name, Spec: &spec}
}

// NewHTTPConfig returns a Streamable HTTP server config.
func NewHTTPConfig(id, name string, spec HTTPSpec) ServerConfig {
	return ServerConfig{ID: id, Name: name, Spec: &spec}
}

// NewSSEConfig returns an HTTP+SSE server config.
func NewSSEConfig(id, name string, spec SSESpec) ServerConfig {
	return ServerConfig{ID: id, Name: name, Spec: &spec}
}

// Transport returns the kind of the populated spec, or "" when none is set.
func (c ServerConfig) Transport() TransportKind {
	if c.Spec == nil {
		return ""
	}
	return c.Spec.Kind()
}

// Validate checks that the config names a server and carries a usable spec.
func (c ServerConfig) Validate() error {
	if c.ID == "" {
		return &ConfigurationError{Field: "id", Reason: "server id is required"}
	}
	if c.Spec == nil {
		return &ConfigurationError{ServerID: c.ID, Field: "transport", Reason: "transport spec is required"}
	}
	if c.Timeout < 0 {
		return &ConfigurationError{ServerID: c.ID, Field: "timeout", Reason: "timeout must not be negative"}
	}
	return c.Spec.validate(c.ID)
}

// Clone returns a deep copy so callers can hold on to a config without
// sharing maps or slices with the store that produced it.
func (c ServerConfig) Clone() ServerConfig {
	out := c
	switch s := c.Spec.(type) {
	case *StdioSpec:
		if s == nil {
			break
		}
		cp := *s
		cp.Args = slices.Clone(s.Args)
		cp.Env = maps.Clone(s.Env)
		out.Spec = &cp
	case *HTTPSpec:
		if s == nil {
			break
		}
		cp := *s
		cp.Headers = maps.Clone(s.Headers)
		out.Spec = &cp
	case *SSESpec:
		if s == nil {
			break
		}
		cp := *s
		cp.Headers = maps.Clone(s.Headers)
		out.Spec = &cp
	}
	return out
}

// LogValue keeps header values and environment overlays out of logs.
func (c ServerConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("name", c.Name),
		slog.String("transport", string(c.Transport())),
	)
}

// serverConfigWire is the on-disk and on-the-wire shape: a transport tag plus
// optional per-kind sections, exactly one of which must be set.
type serverConfigWire struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Transport TransportKind `json:"transport" yaml:"transport"`
	Stdio     *StdioSpec    `json:"stdio,omitempty" yaml:"stdio,omitempty"`
	HTTP      *HTTPSpec     `json:"http,omitempty" yaml:"http,omitempty"`
	SSE       *SSESpec      `json:"sse,omitempty" yaml:"sse,omitempty"`
	Timeout   string        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	CreatedAt time.Time     `json:"createdAt,omitzero" yaml:"createdAt,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt,omitzero" yaml:"updatedAt,omitempty"`
}

func (c ServerConfig) toWire() serverConfigWire {
	w := serverConfigWire{
		ID:        c.ID,
		Name:      c.Name,
		Transport: c.Transport(),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.Timeout > 0 {
		w.Timeout = c.Timeout.String()
	}
	switch s := c.Spec.(type) {
	case *StdioSpec:
		w.Stdio = s
	case *HTTPSpec:
		w.HTTP = s
	case *SSESpec:
		w.SSE = s
	}
	return w
}

func (w serverConfigWire) toConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		ID:        w.ID,
		Name:      w.Name,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	if w.Timeout != "" {
		d, err := time.ParseDuration(w.Timeout)
		if err != nil {
			return ServerConfig{}, &ConfigurationError{ServerID: w.ID, Field: "timeout", Reason: err.Error()}
		}
		cfg.Timeout = d
	}
	populated := 0
	for _, set := range []bool{w.Stdio != nil, w.HTTP != nil, w.SSE != nil} {
		if set {
			populated++
		}
	}
	if populated > 1 {
		return ServerConfig{}, &ConfigurationError{ServerID: w.ID, Field: "transport", Reason: "exactly one of stdio, http, sse may be set"}
	}
	switch w.Transport {
	case TransportStdio:
		if w.Stdio == nil {
			return ServerConfig{}, &ConfigurationError{ServerID: w.ID, Field: "stdio", Reason: "stdio config is required for stdio transport"}
		}
		cfg.Spec = w.Stdio
	case TransportStreamableHTTP:
		if w.HTTP == nil {
			return ServerConfig{}, &ConfigurationError{ServerID: w.ID, Field: "http", Reason: "http config is required for streamable-http transport"}
		}
		cfg.Spec = w.HTTP
	case TransportSSE:
		if w.SSE == nil {
			return ServerConfig{}, &ConfigurationError{ServerID: w.ID, Field: "sse", Reason: "sse config is required for sse transport"}
		}
		cfg.Spec = w.SSE
	default:
		return ServerConfig{}, &ConfigurationError{ServerID: w.ID, Field: "transport", Reason: fmt.Sprintf("unsupported transport type %q", w.Transport)}
	}
	return cfg, nil
}

// MarshalJSON encodes the config in its tagged wire form.
func (c ServerConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.toWire())
}

// UnmarshalJSON decodes the tagged wire form, rejecting a transport tag that
// does not match the populated section.
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var w serverConfigWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	cfg, err := w.toConfig()
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c ServerConfig) MarshalYAML() (any, error) {
	return c.toWire(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler using the same rules as
// UnmarshalJSON.
func (c *ServerConfig) UnmarshalYAML(unmarshal func(any) error) error {
	var w serverConfigWire
	if err := unmarshal(&w); err != nil {
		return err
	}
	cfg, err := w.toConfig()
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientName is advertised to servers during initialization. Defaults to
	// "mcp-connection-manager".
	ClientName string
	// ClientVersion is the semantic version reported to servers.
	ClientVersion string
	// DefaultTimeout bounds connect handshakes whose config omits a timeout.
	DefaultTimeout time.Duration
	// DisconnectTimeout bounds graceful teardown before the transport is
	// forcibly closed.
	DisconnectTimeout time.Duration
	// ClientOptions are passed to every mcp.Client the manager creates. The
	// list-changed handlers are wrapped so OnListChanged listeners also fire.
	ClientOptions mcp.ClientOptions
	// LogJSONRPC traces every JSON-RPC message at debug level.
	LogJSONRPC bool
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Dial builds the transport for a config. Defaults to NewTransport with
	// the manager's logger and tracing settings.
	Dial DialFunc
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.ClientName == "" {
		opts.ClientName = "mcp-connection-manager"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
