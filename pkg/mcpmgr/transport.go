package mcpmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport is a not-yet-opened binding to one server. Connect opens it (for
// stdio this spawns the process) and may be called at most once. Close
// releases whatever Connect opened, killing a subprocess if needed, and is
// safe to call at any time, any number of times.
type Transport interface {
	mcp.Transport
	Kind() TransportKind
	Close() error
}

// DialFunc builds the Transport for a config without opening it.
type DialFunc func(ServerConfig) (Transport, error)

// TransportOptions tunes the transports built by NewTransport.
type TransportOptions struct {
	// HTTPClient is the base client for HTTP and SSE transports. Its
	// RoundTripper is wrapped to attach configured headers.
	HTTPClient *http.Client
	// MaxRetries bounds stream reconnection attempts for Streamable HTTP.
	MaxRetries int
	// Logger receives subprocess stderr at debug level.
	Logger *slog.Logger
}

// NewTransport selects and constructs the transport for cfg. It performs no
// I/O: no process is started and no socket is opened until Connect.
func NewTransport(cfg ServerConfig, opts TransportOptions) (Transport, error) {
	if cfg.Spec == nil {
		return nil, &ConfigurationError{ServerID: cfg.ID, Field: "transport", Reason: "transport spec is required"}
	}
	if err := cfg.Spec.validate(cfg.ID); err != nil {
		return nil, err
	}
	switch spec := cfg.Spec.(type) {
	case *StdioSpec:
		return newStdioTransport(cfg.ID, spec, opts.Logger), nil
	case *HTTPSpec:
		client := decorateHTTPClient(opts.HTTPClient, spec.Headers)
		return &streamableTransport{
			client: client,
			inner: &mcp.StreamableClientTransport{
				Endpoint:   spec.URL,
				HTTPClient: client,
				MaxRetries: opts.MaxRetries,
			},
		}, nil
	case *SSESpec:
		client := decorateHTTPClient(opts.HTTPClient, spec.Headers)
		return &sseTransport{
			client: client,
			inner:  &mcp.SSEClientTransport{Endpoint: spec.URL, HTTPClient: client},
		}, nil
	default:
		return nil, &ConfigurationError{ServerID: cfg.ID, Field: "transport", Reason: fmt.Sprintf("unsupported transport type %T", cfg.Spec)}
	}
}

// connHolder remembers the connection returned by Connect so Close can
// release it exactly once. The connection outlives the Connect call, so it is
// opened on a context detached from the caller's; the caller's context only
// bounds the open itself, and Close cancels the detached one.
type connHolder struct {
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	conn    mcp.Connection
	closed  bool
	err     error
}

func (h *connHolder) open(ctx context.Context, t mcp.Transport) (mcp.Connection, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errors.New("mcpmgr: transport closed")
	}
	if h.started {
		h.mu.Unlock()
		return nil, errors.New("mcpmgr: transport already connected")
	}
	h.started = true
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, cancel)
	conn, err := t.Connect(connCtx)
	stopped := stop()
	if err == nil && !stopped {
		_ = conn.Close()
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = conn.Close()
		return nil, errors.New("mcpmgr: transport closed")
	}
	h.conn = &onceConn{Connection: conn}
	return h.conn, nil
}

// close closes the connection while its context is still live, so a
// Streamable session can still send its DELETE, then cancels the context.
func (h *connHolder) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.err
	}
	h.closed = true
	if h.conn != nil {
		h.err = h.conn.Close()
	}
	if h.cancel != nil {
		h.cancel()
	}
	return h.err
}

// onceConn makes Close idempotent; the session and the owning Transport both
// close it.
type onceConn struct {
	mcp.Connection
	once sync.Once
	err  error
}

func (c *onceConn) Close() error {
	c.once.Do(func() { c.err = c.Connection.Close() })
	return c.err
}

type stdioTransport struct {
	cmd   *exec.Cmd
	inner *mcp.CommandTransport
	// startMu guards cmd.Process, which Start sets.
	startMu sync.Mutex
	connHolder
}

func newStdioTransport(serverID string, spec *StdioSpec, logger *slog.Logger) *stdioTransport {
	cmd := exec.Command(spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		env := os.Environ()
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
		}
		cmd.Env = env
	}
	if logger != nil {
		cmd.Stderr = &stderrLogger{logger: logger.With("server", serverID)}
	}
	return &stdioTransport{cmd: cmd, inner: &mcp.CommandTransport{Command: cmd}}
}

func (t *stdioTransport) Kind() TransportKind { return TransportStdio }

func (t *stdioTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	return t.open(ctx, t.inner)
}

// Close kills the process before closing the pipes. Closing the pipes first
// waits for the process to exit on its own, which a hung server never does.
// A clean disconnect closes the session first, so by the time Close runs the
// process has already exited.
func (t *stdioTransport) Close() error {
	t.startMu.Lock()
	proc := t.cmd.Process
	t.startMu.Unlock()
	var err error
	if proc != nil {
		if kerr := proc.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = kerr
		}
	}
	if cerr := t.close(); err == nil {
		err = cerr
	}
	return err
}

type streamableTransport struct {
	client *http.Client
	inner  *mcp.StreamableClientTransport
	connHolder
}

func (t *streamableTransport) Kind() TransportKind { return TransportStreamableHTTP }

func (t *streamableTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	return t.open(ctx, t.inner)
}

func (t *streamableTransport) Close() error {
	err := t.close()
	t.client.CloseIdleConnections()
	return err
}

type sseTransport struct {
	client *http.Client
	inner  *mcp.SSEClientTransport
	connHolder
}

func (t *sseTransport) Kind() TransportKind { return TransportSSE }

func (t *sseTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	return t.open(ctx, t.inner)
}

func (t *sseTransport) Close() error {
	err := t.close()
	t.client.CloseIdleConnections()
	return err
}

func decorateHTTPClient(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport.(*http.Transport).Clone()
	}
	clone.Transport = &headerDecorator{next: next, headers: toHeader(headers)}
	return &clone
}

func toHeader(headers map[string]string) http.Header {
	if len(headers) == 0 {
		return nil
	}
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return h
}

// headerDecorator attaches static headers to every outgoing request,
// replacing any value the SDK set for the same key.
type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(d.headers) > 0 {
		req = req.Clone(req.Context())
		for k, values := range d.headers {
			req.Header.Del(k)
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
	}
	return d.next.RoundTrip(req)
}

func (d *headerDecorator) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if ci, ok := d.next.(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}

// loggingTransport traces JSON-RPC traffic at debug level.
type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   *slog.Logger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   *slog.Logger
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(ctx, "recv", msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(ctx, "send", msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(ctx context.Context, direction string, msg jsonrpc.Message) {
	if !c.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger.DebugContext(ctx, "jsonrpc",
		slog.String("server", c.serverID),
		slog.String("direction", direction),
		slog.String("message", string(encoded)),
	)
}

// stderrLogger forwards a subprocess's stderr line by line.
type stderrLogger struct {
	logger *slog.Logger
	mu     sync.Mutex
	buf    bytes.Buffer
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			w.logger.Debug("server stderr", slog.String("line", line))
		}
	}
	return len(p), nil
}
