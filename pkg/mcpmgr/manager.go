package mcpmgr

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListKind names a capability list whose contents a server reported changed.
type ListKind string

const (
	ListTools     ListKind = "tools"
	ListPrompts   ListKind = "prompts"
	ListResources ListKind = "resources"
)

// StatusListener observes every status transition of every server.
type StatusListener func(serverID string, status ConnectionStatus)

// ListChangedListener observes list_changed notifications from servers.
type ListChangedListener func(serverID string, kind ListKind)

// Manager is the entry point for the rest of an application. It owns the
// connection registry and the session cache, serializes connect and
// disconnect per server id, and forwards capability calls to live sessions.
//
// Create one Manager per process and share it between request handlers; all
// methods are safe for concurrent use.
type Manager struct {
	options ManagerOptions
	logger  *slog.Logger
	store   *connectionStore

	listenersMu     sync.RWMutex
	statusListeners []StatusListener
	listListeners   []ListChangedListener
}

// NewManager constructs a Manager. Callers can provide nil options to fall
// back to sensible defaults.
func NewManager(opts *ManagerOptions) *Manager {
	options := opts.withDefaults()
	m := &Manager{
		options: options,
		logger:  options.Logger,
	}
	if m.options.Dial == nil {
		m.options.Dial = func(cfg ServerConfig) (Transport, error) {
			return NewTransport(cfg, TransportOptions{Logger: m.logger})
		}
	}
	m.store = newConnectionStore(m.newConnection, options.DisconnectTimeout, m.logger)
	return m
}

func (m *Manager) newConnection(cfg ServerConfig) *Connection {
	id := cfg.ID
	return newConnection(cfg, connectionOptions{
		dial:      m.options.Dial,
		newClient: func() *mcp.Client { return m.newClient(id) },
		timeout:   m.options.DefaultTimeout,
		trace:     m.options.LogJSONRPC,
		logger:    m.logger,
		onChange:  func(st ConnectionStatus) { m.dispatchStatus(id, st) },
	})
}

func (m *Manager) newClient(serverID string) *mcp.Client {
	impl := &mcp.Implementation{Name: m.options.ClientName, Version: m.options.ClientVersion}
	opts := m.composeClientOptions(serverID)
	return mcp.NewClient(impl, &opts)
}

// composeClientOptions chains the configured list-changed handlers with the
// manager's listener fan-out.
func (m *Manager) composeClientOptions(serverID string) mcp.ClientOptions {
	wrapped := m.options.ClientOptions

	originalTool := wrapped.ToolListChangedHandler
	originalPrompt := wrapped.PromptListChangedHandler
	originalResList := wrapped.ResourceListChangedHandler

	wrapped.ToolListChangedHandler = func(ctx context.Context, req *mcp.ToolListChangedRequest) {
		if originalTool != nil {
			originalTool(ctx, req)
		}
		m.dispatchListChanged(serverID, ListTools)
	}
	wrapped.PromptListChangedHandler = func(ctx context.Context, req *mcp.PromptListChangedRequest) {
		if originalPrompt != nil {
			originalPrompt(ctx, req)
		}
		m.dispatchListChanged(serverID, ListPrompts)
	}
	wrapped.ResourceListChangedHandler = func(ctx context.Context, req *mcp.ResourceListChangedRequest) {
		if originalResList != nil {
			originalResList(ctx, req)
		}
		m.dispatchListChanged(serverID, ListResources)
	}
	return wrapped
}

// Connect establishes a connection for cfg.ID, first tearing down any
// existing connection for that id. A config that fails validation is
// rejected with a *ConfigurationError before any state changes. Any later
// failure is recorded in the status and returned as a *ConnectFailedError or
// *TimeoutError.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) error {
	return m.store.connectServer(ctx, cfg)
}

// Disconnect tears down the connection for serverID and forgets its session
// shadow. Unknown ids are a no-op.
func (m *Manager) Disconnect(ctx context.Context, serverID string) error {
	return m.store.disconnectServer(ctx, serverID)
}

// DisconnectAll disconnects every server concurrently. Failures are logged
// per server and joined into the returned error.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	return m.store.disconnectAll(ctx)
}

// Close disconnects every server using the configured disconnect timeout.
func (m *Manager) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.options.DisconnectTimeout)
	defer cancel()
	return m.DisconnectAll(ctx)
}

// Status returns the status for serverID. It never fails; unknown ids report
// a plain disconnected status.
func (m *Manager) Status(serverID string) ConnectionStatus {
	return m.store.status(serverID)
}

// AllStatuses returns the status of every registered server plus every
// server only known from the session cache. It does not block on in-flight
// connects.
func (m *Manager) AllStatuses() map[string]ConnectionStatus {
	return m.store.allStatuses()
}

// Servers returns the configs of registered servers sorted by id.
func (m *Manager) Servers() []ServerConfig {
	snapshot := m.store.registry.Snapshot()
	out := make([]ServerConfig, 0, len(snapshot))
	for _, conn := range snapshot {
		out = append(out, conn.Config())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Config returns the config last used for serverID, from the registry or
// else the session cache.
func (m *Manager) Config(serverID string) (ServerConfig, bool) {
	if conn, ok := m.store.registry.Get(serverID); ok {
		return conn.Config(), true
	}
	if rec, ok := m.store.sessions.Get(serverID); ok {
		return rec.Config.Clone(), true
	}
	return ServerConfig{}, false
}

// Clients returns the live session of every connected server.
func (m *Manager) Clients() map[string]*mcp.ClientSession {
	out := make(map[string]*mcp.ClientSession)
	for id, conn := range m.store.registry.Snapshot() {
		if s := conn.Session(); s != nil {
			out[id] = s
		}
	}
	return out
}

// Session returns the live session for serverID or a *NotConnectedError.
func (m *Manager) Session(serverID string) (*mcp.ClientSession, error) {
	conn, ok := m.store.registry.Get(serverID)
	if !ok {
		return nil, &NotConnectedError{ServerID: serverID}
	}
	session := conn.Session()
	if session == nil {
		return nil, &NotConnectedError{ServerID: serverID}
	}
	return session, nil
}

// Sessions returns the session cache contents.
func (m *Manager) Sessions() map[string]SessionRecord {
	return m.store.sessions.All()
}

// RestoreSession seeds the session cache, e.g. with records exported before
// a restart. It never touches the registry, which stays authoritative.
func (m *Manager) RestoreSession(rec SessionRecord) {
	if rec.ServerID == "" {
		return
	}
	m.store.sessions.Save(rec.ServerID, rec.Status, rec.Config)
}

// ListTools forwards tools/list to the server's session.
func (m *Manager) ListTools(ctx context.Context, serverID string) (*mcp.ListToolsResult, error) {
	session, err := m.Session(serverID)
	if err != nil {
		return nil, err
	}
	return session.ListTools(ctx, &mcp.ListToolsParams{})
}

// CallTool forwards tools/call. The result is returned as the server sent it,
// including tool-level errors reported through IsError.
func (m *Manager) CallTool(ctx context.Context, serverID, name string, args any) (*mcp.CallToolResult, error) {
	session, err := m.Session(serverID)
	if err != nil {
		return nil, err
	}
	return session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

// ListPrompts forwards prompts/list.
func (m *Manager) ListPrompts(ctx context.Context, serverID string) (*mcp.ListPromptsResult, error) {
	session, err := m.Session(serverID)
	if err != nil {
		return nil, err
	}
	return session.ListPrompts(ctx, &mcp.ListPromptsParams{})
}

// GetPrompt forwards prompts/get.
func (m *Manager) GetPrompt(ctx context.Context, serverID, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, err := m.Session(serverID)
	if err != nil {
		return nil, err
	}
	return session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
}

// ListResources forwards resources/list.
func (m *Manager) ListResources(ctx context.Context, serverID string) (*mcp.ListResourcesResult, error) {
	session, err := m.Session(serverID)
	if err != nil {
		return nil, err
	}
	return session.ListResources(ctx, &mcp.ListResourcesParams{})
}

// ReadResource forwards resources/read.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	session, err := m.Session(serverID)
	if err != nil {
		return nil, err
	}
	return session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

// Ping checks that the server still answers.
func (m *Manager) Ping(ctx context.Context, serverID string) error {
	session, err := m.Session(serverID)
	if err != nil {
		return err
	}
	return session.Ping(ctx, &mcp.PingParams{})
}

// OnStatusChange registers a listener for status transitions. Listeners run
// synchronously on the goroutine that changed the status and must not call
// Connect or Disconnect for the same server.
func (m *Manager) OnStatusChange(fn StatusListener) {
	if fn == nil {
		return
	}
	m.listenersMu.Lock()
	m.statusListeners = append(m.statusListeners, fn)
	m.listenersMu.Unlock()
}

// OnListChanged registers a listener for tools, prompts and resources
// list_changed notifications.
func (m *Manager) OnListChanged(fn ListChangedListener) {
	if fn == nil {
		return
	}
	m.listenersMu.Lock()
	m.listListeners = append(m.listListeners, fn)
	m.listenersMu.Unlock()
}

func (m *Manager) dispatchStatus(serverID string, st ConnectionStatus) {
	m.listenersMu.RLock()
	listeners := append([]StatusListener(nil), m.statusListeners...)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		m.safeCall(func() { fn(serverID, st.clone()) })
	}
}

func (m *Manager) dispatchListChanged(serverID string, kind ListKind) {
	m.listenersMu.RLock()
	listeners := append([]ListChangedListener(nil), m.listListeners...)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		m.safeCall(func() { fn(serverID, kind) })
	}
}

// safeCall keeps one panicking listener from taking down the caller.
func (m *Manager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("listener panicked", slog.Any("panic", r))
		}
	}()
	fn()
}
