// Package mcpmgrtest provides in-process transports and fixture servers for
// testing code built on mcpmgr without spawning processes or opening sockets.
package mcpmgrtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

// EchoArgs is the input of the fixture "echo" tool.
type EchoArgs struct {
	Text string `json:"text" jsonschema:"text to echo back"`
}

// NewServer returns an MCP server declaring one tool ("echo"), one prompt
// ("greet" with a required "name" argument) and one resource
// ("test://readme").
func NewServer(name string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: name, Version: "0.0.1"}, nil)
	mcp.AddTool(srv, &mcp.Tool{Name: "echo", Description: "Echo the input text"},
		func(ctx context.Context, req *mcp.CallToolRequest, in EchoArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: in.Text}}}, nil, nil
		})
	srv.AddPrompt(&mcp.Prompt{
		Name:        "greet",
		Description: "Greet someone",
		Arguments:   []*mcp.PromptArgument{{Name: "name", Required: true}},
	}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		who := req.Params.Arguments["name"]
		return &mcp.GetPromptResult{
			Description: "greeting",
			Messages: []*mcp.PromptMessage{{
				Role:    "user",
				Content: &mcp.TextContent{Text: "Hello, " + who + "!"},
			}},
		}, nil
	})
	srv.AddResource(&mcp.Resource{URI: "test://readme", Name: "readme", MIMEType: "text/plain"},
		func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     "hello from " + name,
			}}}, nil
		})
	return srv
}

// Factory builds a fresh transport for one dial.
type Factory func(cfg mcpmgr.ServerConfig) mcpmgr.Transport

// Dialer routes dials by server id to registered factories and counts them.
// Ids without a factory fall through to mcpmgr.NewTransport.
type Dialer struct {
	mu        sync.Mutex
	factories map[string]Factory
	dials     map[string]int
}

// NewDialer returns an empty Dialer.
func NewDialer() *Dialer {
	return &Dialer{factories: make(map[string]Factory), dials: make(map[string]int)}
}

// Register routes dials for id to f.
func (d *Dialer) Register(id string, f Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[id] = f
}

// Serve routes dials for id to srv over an in-memory transport.
func (d *Dialer) Serve(id string, srv *mcp.Server) {
	d.Register(id, func(cfg mcpmgr.ServerConfig) mcpmgr.Transport {
		return NewInMemoryTransport(srv, cfg.Transport())
	})
}

// Dial implements mcpmgr.DialFunc.
func (d *Dialer) Dial(cfg mcpmgr.ServerConfig) (mcpmgr.Transport, error) {
	d.mu.Lock()
	d.dials[cfg.ID]++
	f, ok := d.factories[cfg.ID]
	d.mu.Unlock()
	if ok {
		return f(cfg), nil
	}
	return mcpmgr.NewTransport(cfg, mcpmgr.TransportOptions{})
}

// Dials reports how many transports were built for id.
func (d *Dialer) Dials(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[id]
}

// TotalDials reports how many transports were built for any id.
func (d *Dialer) TotalDials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.dials {
		total += n
	}
	return total
}

// InMemoryTransport connects a client to an in-process mcp.Server.
type InMemoryTransport struct {
	srv  *mcp.Server
	kind mcpmgr.TransportKind

	mu      sync.Mutex
	conn    mcp.Connection
	session *mcp.ServerSession
	closed  atomic.Bool
}

// NewInMemoryTransport returns a transport that reports kind and serves srv.
func NewInMemoryTransport(srv *mcp.Server, kind mcpmgr.TransportKind) *InMemoryTransport {
	if kind == "" {
		kind = mcpmgr.TransportStdio
	}
	return &InMemoryTransport{srv: srv, kind: kind}
}

func (t *InMemoryTransport) Kind() mcpmgr.TransportKind { return t.kind }

func (t *InMemoryTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil || t.closed.Load() {
		return nil, errors.New("mcpmgrtest: transport already used")
	}
	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := t.srv.Connect(ctx, serverT, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpmgrtest: server connect: %w", err)
	}
	conn, err := clientT.Connect(ctx)
	if err != nil {
		_ = ss.Close()
		return nil, err
	}
	t.conn, t.session = conn, ss
	return conn, nil
}

// Close tears down both ends.
func (t *InMemoryTransport) Close() error {
	t.closed.Store(true)
	t.mu.Lock()
	conn, ss := t.conn, t.session
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if ss != nil {
		_ = ss.Close()
	}
	return nil
}

// Closed reports whether Close was called.
func (t *InMemoryTransport) Closed() bool { return t.closed.Load() }

// DropServer closes the server end, simulating a server that goes away.
func (t *InMemoryTransport) DropServer() {
	t.mu.Lock()
	ss := t.session
	t.mu.Unlock()
	if ss != nil {
		_ = ss.Close()
	}
}

// HangingTransport opens successfully but never answers, like a subprocess
// that starts and then ignores its input.
type HangingTransport struct {
	opened atomic.Bool
	closed chan struct{}
	once   sync.Once
}

// NewHangingTransport returns an unopened HangingTransport.
func NewHangingTransport() *HangingTransport {
	return &HangingTransport{closed: make(chan struct{})}
}

func (t *HangingTransport) Kind() mcpmgr.TransportKind { return mcpmgr.TransportStdio }

func (t *HangingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	t.opened.Store(true)
	return &hangingConn{t: t}, nil
}

func (t *HangingTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// Opened reports whether Connect was called.
func (t *HangingTransport) Opened() bool { return t.opened.Load() }

// Closed reports whether the transport was released.
func (t *HangingTransport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

type hangingConn struct {
	t *HangingTransport
}

// Read ignores ctx: like an OS pipe, it only returns once the transport is
// closed.
func (c *hangingConn) Read(context.Context) (jsonrpc.Message, error) {
	<-c.t.closed
	return nil, io.EOF
}

func (c *hangingConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-c.t.closed:
		return io.ErrClosedPipe
	default:
		return nil
	}
}

func (c *hangingConn) Close() error { return c.t.Close() }

func (c *hangingConn) SessionID() string { return "" }

// FailingTransport fails to open with Err.
type FailingTransport struct {
	Err    error
	closed atomic.Bool
}

func (t *FailingTransport) Kind() mcpmgr.TransportKind { return mcpmgr.TransportStreamableHTTP }

func (t *FailingTransport) Connect(context.Context) (mcp.Connection, error) {
	return nil, t.Err
}

func (t *FailingTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (t *FailingTransport) Closed() bool { return t.closed.Load() }
