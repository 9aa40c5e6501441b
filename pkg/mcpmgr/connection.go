package mcpmgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectionState is the lifecycle position of a Connection.
type ConnectionState string

const (
	StateIdle          ConnectionState = "idle"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateFailed        ConnectionState = "failed"
	StateDisconnecting ConnectionState = "disconnecting"
)

// statusTimeout is the error text recorded when a handshake runs out of time.
const statusTimeout = "timeout"

// statusClosed is recorded when a live session ends without a disconnect.
const statusClosed = "connection closed"

// ConnectionStatus is a point-in-time view of one connection. Connected and
// Error are never both set.
type ConnectionStatus struct {
	Connected   bool            `json:"connected"`
	ConnectedAt *time.Time      `json:"connectedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	State       ConnectionState `json:"state,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
}

func (s ConnectionStatus) clone() ConnectionStatus {
	if s.ConnectedAt != nil {
		at := *s.ConnectedAt
		s.ConnectedAt = &at
	}
	return s
}

// Connection owns one transport and one protocol client for a single server.
// A Connection is never reused across reconnects; the store replaces it.
type Connection struct {
	cfg       ServerConfig
	dial      DialFunc
	newClient func() *mcp.Client
	timeout   time.Duration
	trace     bool
	logger    *slog.Logger
	onChange  func(ConnectionStatus)

	// opMu serializes Connect and Disconnect.
	opMu sync.Mutex

	mu        sync.RWMutex
	status    ConnectionStatus
	transport Transport
	client    *mcp.Client
	session   *mcp.ClientSession
}

type connectionOptions struct {
	dial      DialFunc
	newClient func() *mcp.Client
	timeout   time.Duration
	trace     bool
	logger    *slog.Logger
	onChange  func(ConnectionStatus)
}

func newConnection(cfg ServerConfig, opts connectionOptions) *Connection {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = opts.timeout
	}
	return &Connection{
		cfg:       cfg,
		dial:      opts.dial,
		newClient: opts.newClient,
		timeout:   timeout,
		trace:     opts.trace,
		logger:    opts.logger.With("server", cfg.ID, "transport", string(cfg.Transport())),
		onChange:  opts.onChange,
		status:    ConnectionStatus{State: StateIdle},
	}
}

// Config returns the config this connection was built from.
func (c *Connection) Config() ServerConfig { return c.cfg.Clone() }

// Status returns a copy of the current status.
func (c *Connection) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.clone()
}

// Session returns the live client session, or nil unless connected.
func (c *Connection) Session() *mcp.ClientSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Client returns the protocol client, or nil unless connected.
func (c *Connection) Client() *mcp.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Connect opens the transport and performs the initialize handshake. It is a
// no-op when already connected. The handshake is bounded by the config's
// timeout (or the manager default) and by ctx; on failure everything opened
// so far is released before returning.
func (c *Connection) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Session() != nil {
		return nil
	}

	transport, err := c.dial(c.cfg)
	if err != nil {
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			err = &ConnectFailedError{ServerID: c.cfg.ID, Err: err}
		}
		c.setStatus(ConnectionStatus{State: StateFailed, Error: err.Error()})
		return err
	}

	c.setStatus(ConnectionStatus{State: StateConnecting})
	c.logger.Debug("connecting")

	connectCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client := c.newClient()
	var mt mcp.Transport = transport
	if c.trace {
		mt = &loggingTransport{serverID: c.cfg.ID, delegate: transport, logger: c.logger}
	}
	// A server that never answers initialize keeps Client.Connect waiting on
	// the in-flight request even after connectCtx ends; closing the transport
	// is what unblocks it.
	stopClose := context.AfterFunc(connectCtx, func() { _ = transport.Close() })
	session, err := client.Connect(connectCtx, mt, nil)
	if err == nil && !stopClose() {
		// The deadline fired as the handshake completed; the transport is
		// already being torn down.
		_ = session.Close()
		err = connectCtx.Err()
	}
	if err != nil {
		stopClose()
		_ = transport.Close()
		if errors.Is(connectCtx.Err(), context.DeadlineExceeded) {
			c.setStatus(ConnectionStatus{State: StateFailed, Error: statusTimeout})
			c.logger.Warn("connect timed out", slog.Duration("timeout", c.timeout))
			return &TimeoutError{ServerID: c.cfg.ID, After: c.timeout}
		}
		c.setStatus(ConnectionStatus{State: StateFailed, Error: err.Error()})
		c.logger.Warn("connect failed", slog.Any("error", err))
		return &ConnectFailedError{ServerID: c.cfg.ID, Err: err}
	}

	now := time.Now()
	c.mu.Lock()
	c.transport = transport
	c.client = client
	c.session = session
	c.status = ConnectionStatus{
		Connected:   true,
		ConnectedAt: &now,
		State:       StateConnected,
		SessionID:   session.ID(),
	}
	st := c.status.clone()
	c.mu.Unlock()
	c.notify(st)
	c.logger.Info("connected")

	go c.monitorSession(session)
	return nil
}

// monitorSession marks the connection failed when the session ends on its
// own, e.g. the subprocess exits or the HTTP stream is lost.
func (c *Connection) monitorSession(session *mcp.ClientSession) {
	err := session.Wait()
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	transport := c.transport
	c.session = nil
	c.client = nil
	c.transport = nil
	c.status = ConnectionStatus{State: StateFailed, Error: statusClosed}
	st := c.status.clone()
	c.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	c.logger.Warn("session closed unexpectedly", slog.Any("error", err))
	c.notify(st)
}

// Disconnect closes the session and its transport. It is idempotent. The
// status always ends disconnected; a teardown failure is recorded in the
// status and returned as a *TeardownError. If ctx ends first the transport is
// closed forcibly.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	session, transport := c.session, c.transport
	if session == nil && transport == nil {
		if c.status.State == StateIdle {
			c.mu.Unlock()
			return nil
		}
		c.status = ConnectionStatus{State: StateIdle}
		st := c.status.clone()
		c.mu.Unlock()
		c.notify(st)
		return nil
	}
	c.session = nil
	c.client = nil
	c.transport = nil
	c.status = ConnectionStatus{State: StateDisconnecting}
	st := c.status.clone()
	c.mu.Unlock()
	c.notify(st)

	done := make(chan error, 1)
	go func() {
		var err error
		if session != nil {
			err = session.Close()
		}
		if transport != nil {
			if cerr := transport.Close(); err == nil {
				err = cerr
			}
		}
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if transport != nil {
			_ = transport.Close()
		}
		err = ctx.Err()
	}

	if err != nil {
		c.setStatus(ConnectionStatus{State: StateIdle, Error: err.Error()})
		c.logger.Warn("disconnect failed", slog.Any("error", err))
		return &TeardownError{ServerID: c.cfg.ID, Err: err}
	}
	c.setStatus(ConnectionStatus{State: StateIdle})
	c.logger.Info("disconnected")
	return nil
}

func (c *Connection) setStatus(st ConnectionStatus) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	c.notify(st.clone())
}

func (c *Connection) notify(st ConnectionStatus) {
	if c.onChange != nil {
		c.onChange(st)
	}
}
