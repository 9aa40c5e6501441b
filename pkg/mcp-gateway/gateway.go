package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

// Gateway exposes a Streamable MCP server that fronts every connected server
// of an mcpmgr.Manager under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	catalog *catalog

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	httpHandler   http.Handler

	// syncMu orders syncs and removals so a slow sync cannot resurrect the
	// features of a server that disconnected meanwhile.
	syncMu sync.Mutex

	srvMu sync.Mutex
	srv   *http.Server

	wg sync.WaitGroup
}

// NewGateway builds a Gateway, mirrors every currently connected server, and
// follows the manager's status and list-changed events from then on.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		manager: mgr,
		opts:    options,
		catalog: newCatalog(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	mgr.OnStatusChange(g.handleStatus)
	mgr.OnListChanged(g.handleListChanged)

	if err := g.SyncAll(context.Background()); err != nil {
		return nil, err
	}
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// StreamHandler returns the bare Streamable handler for mounting under a
// caller-owned mux.
func (g *Gateway) StreamHandler() http.Handler {
	return g.streamHandler
}

// ListenAndServe listens on Options.Addr and serves until ctx is done.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.opts.Addr)
	if err != nil {
		return fmt.Errorf("mcpgateway: listen %s: %w", g.opts.Addr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Shutdown is called.
// A cancelled ctx is a clean stop and returns nil.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     g.httpHandler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	g.srvMu.Lock()
	if g.srv != nil {
		g.srvMu.Unlock()
		_ = ln.Close()
		return errors.New("mcpgateway: already serving")
	}
	g.srv = srv
	g.srvMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	err := srv.Serve(ln)
	g.srvMu.Lock()
	if g.srv == srv {
		g.srv = nil
	}
	g.srvMu.Unlock()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops a running Serve and waits for in-flight syncs.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.srvMu.Lock()
	srv := g.srv
	g.srv = nil
	g.srvMu.Unlock()

	var errs []error
	if srv != nil {
		errs = append(errs, srv.Shutdown(ctx))
	}
	idle := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("mcpgateway: waiting for syncs: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

// SyncAll refreshes every connected server that passes the filter.
func (g *Gateway) SyncAll(ctx context.Context) error {
	var errs []error
	for serverID := range g.manager.Clients() {
		if !g.included(serverID) {
			continue
		}
		if err := g.SyncServer(ctx, serverID); err != nil {
			errs = append(errs, err)
			g.logError("sync server", err, "server", serverID)
		}
	}
	return errors.Join(errs...)
}

// SyncServer refreshes a specific server's tools, prompts, and resources. A
// server that is no longer connected is removed instead.
func (g *Gateway) SyncServer(ctx context.Context, serverID string) error {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()

	if !g.included(serverID) || !g.manager.Status(serverID).Connected {
		g.removeLocked(serverID)
		return nil
	}
	if err := g.syncToolsLocked(ctx, serverID); err != nil {
		return err
	}
	if err := g.syncPromptsLocked(ctx, serverID); err != nil {
		return err
	}
	return g.syncResourcesLocked(ctx, serverID)
}

// Servers returns the ids whose features are currently mirrored.
func (g *Gateway) Servers() []string {
	return g.catalog.Servers()
}

// RemoveServer withdraws every feature mirrored from serverID.
func (g *Gateway) RemoveServer(serverID string) {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	g.removeLocked(serverID)
}

func (g *Gateway) removeLocked(serverID string) {
	tools, prompts, resources := g.catalog.RemoveServer(serverID)
	if len(tools) > 0 {
		g.server.RemoveTools(tools...)
	}
	if len(prompts) > 0 {
		g.server.RemovePrompts(prompts...)
	}
	if len(resources) > 0 {
		g.server.RemoveResources(resources...)
	}
}

// syncKind refreshes one list in response to a list_changed notification.
func (g *Gateway) syncKind(ctx context.Context, serverID string, kind mcpmgr.ListKind) error {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	if !g.included(serverID) || !g.manager.Status(serverID).Connected {
		return nil
	}
	switch kind {
	case mcpmgr.ListTools:
		return g.syncToolsLocked(ctx, serverID)
	case mcpmgr.ListPrompts:
		return g.syncPromptsLocked(ctx, serverID)
	case mcpmgr.ListResources:
		return g.syncResourcesLocked(ctx, serverID)
	default:
		return nil
	}
}

func (g *Gateway) syncToolsLocked(ctx context.Context, serverID string) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	session, err := g.manager.Session(serverID)
	if err != nil {
		return err
	}
	items, err := collect(session.Tools(ctx, nil))
	if err != nil {
		return err
	}
	removed, added := g.catalog.UpdateTools(serverID, items)
	publish(removed, added, g.server.RemoveTools, func(reg registration[mcp.Tool]) {
		g.server.AddTool(reg.Feature, g.toolHandler(reg.Route))
	})
	return nil
}

func (g *Gateway) syncPromptsLocked(ctx context.Context, serverID string) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	session, err := g.manager.Session(serverID)
	if err != nil {
		return err
	}
	items, err := collect(session.Prompts(ctx, nil))
	if err != nil {
		return err
	}
	removed, added := g.catalog.UpdatePrompts(serverID, items)
	publish(removed, added, g.server.RemovePrompts, func(reg registration[mcp.Prompt]) {
		g.server.AddPrompt(reg.Feature, g.promptHandler(reg.Route))
	})
	return nil
}

func (g *Gateway) syncResourcesLocked(ctx context.Context, serverID string) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	session, err := g.manager.Session(serverID)
	if err != nil {
		return err
	}
	items, err := collect(session.Resources(ctx, nil))
	if err != nil {
		return err
	}
	removed, added := g.catalog.UpdateResources(serverID, items)
	publish(removed, added, g.server.RemoveResources, func(reg registration[mcp.Resource]) {
		g.server.AddResource(reg.Feature, g.resourceHandler(reg.Route))
	})
	return nil
}

// collect drains a paginated list, following every cursor.
func collect[T any](seq iter.Seq2[*T, error]) ([]*T, error) {
	var out []*T
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// publish withdraws the stale entries before adding the fresh ones, so a
// feature whose exposed name did not change is replaced rather than lost.
func publish[T any](removed []string, added []registration[T], remove func(...string), add func(registration[T])) {
	if len(removed) > 0 {
		remove(removed...)
	}
	for _, reg := range added {
		add(reg)
	}
}

// handleStatus runs on the manager's goroutine, under its per-server lock,
// so the actual work happens in the background. Events can be handled out of
// order; SyncServer always converges on the server's current status.
func (g *Gateway) handleStatus(serverID string, st mcpmgr.ConnectionStatus) {
	if st.State == mcpmgr.StateConnecting {
		return
	}
	g.background(func() {
		if err := g.SyncServer(context.Background(), serverID); err != nil {
			g.logError("sync server", err, "server", serverID)
		}
	})
}

func (g *Gateway) handleListChanged(serverID string, kind mcpmgr.ListKind) {
	g.background(func() {
		if err := g.syncKind(context.Background(), serverID, kind); err != nil {
			g.logError("sync "+string(kind), err, "server", serverID)
		}
	})
}

func (g *Gateway) background(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

func (g *Gateway) included(serverID string) bool {
	return g.opts.ServerFilter == nil || g.opts.ServerFilter(serverID)
}

func (g *Gateway) toolHandler(r route) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args any
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.manager.CallTool(ctx, r.ServerID, r.Native, args)
	}
}

func (g *Gateway) promptHandler(r route) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.manager.GetPrompt(ctx, r.ServerID, r.Native, args)
	}
}

func (g *Gateway) resourceHandler(r route) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return g.manager.ReadResource(ctx, r.ServerID, r.Native)
	}
}

// mountHandler serves the endpoint at the configured path, with or without a
// trailing slash, and 404s everything else.
func (g *Gateway) mountHandler() http.Handler {
	path := "/" + strings.Trim(g.opts.Path, "/")
	mux := http.NewServeMux()
	mux.Handle(path, g.streamHandler)
	if path != "/" {
		mux.Handle(path+"/", g.streamHandler)
	}
	return mux
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if g.opts.SyncTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
