package mcpmgr_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr/mcpmgrtest"
)

const (
	// stdioServerEnv turns the test binary into a stdio MCP server.
	stdioServerEnv = "MCPMGR_TEST_STDIO_SERVER"
	// stdioHangEnv turns the test binary into a process that writes its pid
	// to the named file and then never reads its input.
	stdioHangEnv = "MCPMGR_TEST_STDIO_HANG"
)

func TestMain(m *testing.M) {
	if path := os.Getenv(stdioHangEnv); path != "" {
		_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
		time.Sleep(time.Hour)
		os.Exit(0)
	}
	if os.Getenv(stdioServerEnv) == "1" {
		srv := mcpmgrtest.NewServer("stdio-fixture")
		_ = srv.Run(context.Background(), &mcp.StdioTransport{})
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func stdioFixtureConfig(t *testing.T, id string) mcpmgr.ServerConfig {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	cfg := mcpmgr.NewStdioConfig(id, "stdio fixture", mcpmgr.StdioSpec{
		Command: exe,
		Args:    []string{"-test.run=^$"},
		Env:     map[string]string{stdioServerEnv: "1"},
	})
	cfg.Timeout = 20 * time.Second
	return cfg
}

func newTestManager(t *testing.T, dialer *mcpmgrtest.Dialer) *mcpmgr.Manager {
	t.Helper()
	opts := &mcpmgr.ManagerOptions{
		ClientName:     "manager-tests",
		DefaultTimeout: 10 * time.Second,
	}
	if dialer != nil {
		opts.Dial = dialer.Dial
	}
	m := mcpmgr.NewManager(opts)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func memConfig(id string) mcpmgr.ServerConfig {
	return mcpmgr.NewStdioConfig(id, id, mcpmgr.StdioSpec{Command: "unused-in-memory"})
}

func TestStdioServerLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess test in short mode")
	}
	t.Parallel()

	ctx := t.Context()
	m := newTestManager(t, nil)

	require.NoError(t, m.Connect(ctx, stdioFixtureConfig(t, "s1")))

	st := m.Status("s1")
	assert.True(t, st.Connected)
	require.NotNil(t, st.ConnectedAt)
	assert.Empty(t, st.Error)
	assert.Equal(t, mcpmgr.StateConnected, st.State)

	tools, err := m.ListTools(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "echo", tools.Tools[0].Name)
	assert.Equal(t, "Echo the input text", tools.Tools[0].Description)

	require.NoError(t, m.Disconnect(ctx, "s1"))
	st = m.Status("s1")
	assert.False(t, st.Connected)
	assert.Nil(t, st.ConnectedAt)
	assert.Empty(t, st.Error)

	_, err = m.ListTools(ctx, "s1")
	require.ErrorIs(t, err, mcpmgr.ErrNotConnected)
	var nce *mcpmgr.NotConnectedError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, "s1", nce.ServerID)
}

func TestUnreachableHTTPServerFailsToConnect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL + "/mcp"
	srv.Close()

	m := newTestManager(t, nil)
	cfg := mcpmgr.NewHTTPConfig("s2", "unreachable", mcpmgr.HTTPSpec{URL: endpoint})
	cfg.Timeout = 5 * time.Second

	err := m.Connect(t.Context(), cfg)
	require.ErrorIs(t, err, mcpmgr.ErrConnectFailed)
	var cfe *mcpmgr.ConnectFailedError
	require.ErrorAs(t, err, &cfe)
	assert.Equal(t, "s2", cfe.ServerID)

	st := m.Status("s2")
	assert.False(t, st.Connected)
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, mcpmgr.StateFailed, st.State)

	// The failed attempt is still registered and shadowed.
	cfgBack, ok := m.Config("s2")
	require.True(t, ok)
	assert.Equal(t, endpoint, mcpmgr.EndpointOf(cfgBack))
	assert.Contains(t, m.Sessions(), "s2")
}

func TestStreamableHTTPServerWithHeaders(t *testing.T) {
	t.Parallel()

	fixture := mcpmgrtest.NewServer("http-fixture")
	var (
		sawHeader atomic.Bool
		deletes   atomic.Int32
	)
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return fixture }, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") == "secret" {
			sawHeader.Store(true)
		}
		if r.Method == http.MethodDelete {
			deletes.Add(1)
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(t, nil)
	cfg := mcpmgr.NewHTTPConfig("remote", "remote", mcpmgr.HTTPSpec{
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
	})
	require.NoError(t, m.Connect(t.Context(), cfg))

	res, err := m.CallTool(t.Context(), "remote", "echo", map[string]any{"text": "over http"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "over http", text.Text)
	assert.True(t, sawHeader.Load(), "configured header was not sent")

	// The session must outlive the connect call.
	time.Sleep(300 * time.Millisecond)
	require.True(t, m.Status("remote").Connected)
	_, err = m.ListTools(t.Context(), "remote")
	require.NoError(t, err)

	require.NoError(t, m.Disconnect(t.Context(), "remote"))
	assert.False(t, m.Status("remote").Connected)
	assert.Empty(t, m.Status("remote").Error)
	assert.Equal(t, int32(1), deletes.Load(), "session was not deleted on the server")
}

func TestSSEServerStaysConnected(t *testing.T) {
	t.Parallel()

	fixture := mcpmgrtest.NewServer("sse-fixture")
	srv := httptest.NewServer(mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return fixture }, nil))
	t.Cleanup(srv.Close)

	m := newTestManager(t, nil)
	cfg := mcpmgr.NewSSEConfig("legacy", "legacy", mcpmgr.SSESpec{URL: srv.URL})
	require.NoError(t, m.Connect(t.Context(), cfg))

	time.Sleep(300 * time.Millisecond)
	st := m.Status("legacy")
	require.True(t, st.Connected, "status after connect: %+v", st)

	tools, err := m.ListTools(t.Context(), "legacy")
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "echo", tools.Tools[0].Name)

	require.NoError(t, m.Disconnect(t.Context(), "legacy"))
	assert.Empty(t, m.Status("legacy").Error)
}

func TestStreamableHTTPListChanged(t *testing.T) {
	t.Parallel()

	fixture := mcpmgrtest.NewServer("http-dynamic")
	srv := httptest.NewServer(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return fixture }, nil))
	t.Cleanup(srv.Close)

	m := newTestManager(t, nil)
	var toolsChanged atomic.Int32
	m.OnListChanged(func(id string, kind mcpmgr.ListKind) {
		if id == "remote" && kind == mcpmgr.ListTools {
			toolsChanged.Add(1)
		}
	})
	require.NoError(t, m.Connect(t.Context(), mcpmgr.NewHTTPConfig("remote", "remote", mcpmgr.HTTPSpec{URL: srv.URL})))

	// The notification travels on the standalone stream, which opens
	// asynchronously, so keep adding tools until one is reported.
	var added int
	require.Eventually(t, func() bool {
		added++
		mcp.AddTool(fixture, &mcp.Tool{Name: "late" + strconv.Itoa(added)},
			func(ctx context.Context, req *mcp.CallToolRequest, in mcpmgrtest.EchoArgs) (*mcp.CallToolResult, any, error) {
				return &mcp.CallToolResult{}, nil, nil
			})
		return toolsChanged.Load() > 0
	}, 5*time.Second, 100*time.Millisecond)

	require.NoError(t, m.Disconnect(t.Context(), "remote"))
}

func TestCapabilityPassThrough(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	dialer.Serve("mem", mcpmgrtest.NewServer("mem"))
	m := newTestManager(t, dialer)
	ctx := t.Context()

	require.NoError(t, m.Connect(ctx, memConfig("mem")))

	tools, err := m.ListTools(ctx, "mem")
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "echo", tools.Tools[0].Name)

	res, err := m.CallTool(ctx, "mem", "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hi", res.Content[0].(*mcp.TextContent).Text)

	prompts, err := m.ListPrompts(ctx, "mem")
	require.NoError(t, err)
	require.Len(t, prompts.Prompts, 1)
	assert.Equal(t, "greet", prompts.Prompts[0].Name)

	prompt, err := m.GetPrompt(ctx, "mem", "greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "Hello, Ada!", prompt.Messages[0].Content.(*mcp.TextContent).Text)

	resources, err := m.ListResources(ctx, "mem")
	require.NoError(t, err)
	require.Len(t, resources.Resources, 1)
	assert.Equal(t, "test://readme", resources.Resources[0].URI)

	read, err := m.ReadResource(ctx, "mem", "test://readme")
	require.NoError(t, err)
	require.Len(t, read.Contents, 1)
	assert.Equal(t, "hello from mem", read.Contents[0].Text)

	require.NoError(t, m.Ping(ctx, "mem"))

	// Remote failures propagate as-is.
	_, err = m.CallTool(ctx, "mem", "no-such-tool", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, mcpmgr.ErrNotConnected)

	clients := m.Clients()
	require.Contains(t, clients, "mem")
	assert.NotNil(t, clients["mem"])
}

func TestCapabilityCallWithoutConnectionDoesNoIO(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	m := newTestManager(t, dialer)
	ctx := t.Context()

	calls := map[string]func() error{
		"ListTools":     func() error { _, err := m.ListTools(ctx, "ghost"); return err },
		"CallTool":      func() error { _, err := m.CallTool(ctx, "ghost", "echo", nil); return err },
		"ListPrompts":   func() error { _, err := m.ListPrompts(ctx, "ghost"); return err },
		"GetPrompt":     func() error { _, err := m.GetPrompt(ctx, "ghost", "greet", nil); return err },
		"ListResources": func() error { _, err := m.ListResources(ctx, "ghost"); return err },
		"ReadResource":  func() error { _, err := m.ReadResource(ctx, "ghost", "test://readme"); return err },
		"Ping":          func() error { return m.Ping(ctx, "ghost") },
	}
	for name, call := range calls {
		err := call()
		require.ErrorIs(t, err, mcpmgr.ErrNotConnected, name)
	}
	assert.Zero(t, dialer.TotalDials())
}

func TestFailedConnectIsObservable(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	failing := &mcpmgrtest.FailingTransport{Err: errors.New("connection refused")}
	dialer.Register("bad", func(mcpmgr.ServerConfig) mcpmgr.Transport { return failing })
	m := newTestManager(t, dialer)

	err := m.Connect(t.Context(), memConfig("bad"))
	require.ErrorIs(t, err, mcpmgr.ErrConnectFailed)
	assert.NotErrorIs(t, err, mcpmgr.ErrTimeout)

	st := m.Status("bad")
	assert.False(t, st.Connected)
	assert.NotEmpty(t, st.Error)
	assert.True(t, failing.Closed(), "failed transport was not released")

	all := m.AllStatuses()
	require.Contains(t, all, "bad")
	assert.Equal(t, st.Error, all["bad"].Error)

	_, err = m.ListTools(t.Context(), "bad")
	require.ErrorIs(t, err, mcpmgr.ErrNotConnected)
}

func TestConnectTimeoutReleasesTransport(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	hang := mcpmgrtest.NewHangingTransport()
	dialer.Register("slow", func(mcpmgr.ServerConfig) mcpmgr.Transport { return hang })
	m := newTestManager(t, dialer)

	cfg := memConfig("slow")
	cfg.Timeout = 200 * time.Millisecond

	start := time.Now()
	err := m.Connect(t.Context(), cfg)
	require.ErrorIs(t, err, mcpmgr.ErrTimeout)
	require.ErrorIs(t, err, mcpmgr.ErrConnectFailed)
	assert.Less(t, time.Since(start), 5*time.Second)

	var te *mcpmgr.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 200*time.Millisecond, te.After)

	assert.True(t, hang.Opened())
	assert.True(t, hang.Closed(), "timed-out transport was not closed")
	assert.Equal(t, mcpmgr.ConnectionStatus{Error: "timeout", State: mcpmgr.StateFailed}, m.Status("slow"))
}

func TestCallerDeadlineBoundsConnect(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	hang := mcpmgrtest.NewHangingTransport()
	dialer.Register("slow", func(mcpmgr.ServerConfig) mcpmgr.Transport { return hang })
	m := newTestManager(t, dialer)

	ctx, cancel := context.WithTimeout(t.Context(), 150*time.Millisecond)
	defer cancel()
	err := m.Connect(ctx, memConfig("slow"))
	require.ErrorIs(t, err, mcpmgr.ErrTimeout)
	assert.Equal(t, "timeout", m.Status("slow").Error)
	assert.True(t, hang.Closed())
}

func TestInvalidConfigIsRejectedWithoutSideEffects(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	m := newTestManager(t, dialer)

	cases := map[string]mcpmgr.ServerConfig{
		"missing id":      mcpmgr.NewStdioConfig("", "x", mcpmgr.StdioSpec{Command: "echo"}),
		"missing spec":    {ID: "nospec"},
		"missing command": mcpmgr.NewStdioConfig("nocmd", "x", mcpmgr.StdioSpec{}),
		"bad url":         mcpmgr.NewHTTPConfig("badurl", "x", mcpmgr.HTTPSpec{URL: "ftp://example.com"}),
	}
	for name, cfg := range cases {
		err := m.Connect(t.Context(), cfg)
		require.ErrorIs(t, err, mcpmgr.ErrConfiguration, name)
		var ce *mcpmgr.ConfigurationError
		require.ErrorAs(t, err, &ce, name)
	}
	assert.Zero(t, dialer.TotalDials())
	assert.Empty(t, m.AllStatuses())
	assert.Equal(t, mcpmgr.ConnectionStatus{}, m.Status("nocmd"))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	var transports []*mcpmgrtest.InMemoryTransport
	srv := mcpmgrtest.NewServer("mem")
	dialer.Register("mem", func(cfg mcpmgr.ServerConfig) mcpmgr.Transport {
		tr := mcpmgrtest.NewInMemoryTransport(srv, cfg.Transport())
		transports = append(transports, tr)
		return tr
	})
	m := newTestManager(t, dialer)
	ctx := t.Context()

	require.NoError(t, m.Connect(ctx, memConfig("mem")))
	require.NoError(t, m.Disconnect(ctx, "mem"))
	require.NoError(t, m.Disconnect(ctx, "mem"))
	require.NoError(t, m.Disconnect(ctx, "never-seen"))

	assert.False(t, m.Status("mem").Connected)
	assert.Empty(t, m.Status("mem").Error)
	assert.NotContains(t, m.AllStatuses(), "mem")
	assert.NotContains(t, m.Sessions(), "mem")
	require.Len(t, transports, 1)
	assert.True(t, transports[0].Closed())
}

func TestReconnectReplacesConnection(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	srv := mcpmgrtest.NewServer("mem")
	var (
		mu         sync.Mutex
		transports []*mcpmgrtest.InMemoryTransport
	)
	dialer.Register("mem", func(cfg mcpmgr.ServerConfig) mcpmgr.Transport {
		tr := mcpmgrtest.NewInMemoryTransport(srv, cfg.Transport())
		mu.Lock()
		transports = append(transports, tr)
		mu.Unlock()
		return tr
	})
	m := newTestManager(t, dialer)
	ctx := t.Context()

	require.NoError(t, m.Connect(ctx, memConfig("mem")))
	first, err := m.Session("mem")
	require.NoError(t, err)

	renamed := memConfig("mem")
	renamed.Name = "renamed"
	require.NoError(t, m.Connect(ctx, renamed))
	second, err := m.Session("mem")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, dialer.Dials("mem"))
	mu.Lock()
	require.Len(t, transports, 2)
	assert.True(t, transports[0].Closed(), "old transport still open after reconnect")
	assert.False(t, transports[1].Closed())
	mu.Unlock()

	cfg, ok := m.Config("mem")
	require.True(t, ok)
	assert.Equal(t, "renamed", cfg.Name)
	assert.Len(t, m.Servers(), 1)
}

func TestAtMostOneLiveConnectionUnderRaces(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	srv := mcpmgrtest.NewServer("mem")
	var (
		mu         sync.Mutex
		transports []*mcpmgrtest.InMemoryTransport
	)
	dialer.Register("race", func(cfg mcpmgr.ServerConfig) mcpmgr.Transport {
		tr := mcpmgrtest.NewInMemoryTransport(srv, cfg.Transport())
		mu.Lock()
		transports = append(transports, tr)
		mu.Unlock()
		return tr
	})
	m := newTestManager(t, dialer)
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%3 == 0 {
				assert.NoError(t, m.Disconnect(ctx, "race"))
				return
			}
			_ = m.Connect(ctx, memConfig("race"))
		}()
	}
	wg.Wait()

	mu.Lock()
	open := 0
	for _, tr := range transports {
		if !tr.Closed() {
			open++
		}
	}
	mu.Unlock()
	assert.LessOrEqual(t, open, 1)
	assert.LessOrEqual(t, len(m.Servers()), 1)

	st := m.Status("race")
	if st.Connected {
		assert.Equal(t, 1, open)
	} else {
		assert.Zero(t, open)
	}

	require.NoError(t, m.Disconnect(ctx, "race"))
	mu.Lock()
	for _, tr := range transports {
		assert.True(t, tr.Closed())
	}
	mu.Unlock()
	assert.False(t, m.Status("race").Connected)
}

func TestDisconnectWaitsForInFlightConnect(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	hang := mcpmgrtest.NewHangingTransport()
	dialer.Register("slow", func(mcpmgr.ServerConfig) mcpmgr.Transport { return hang })
	m := newTestManager(t, dialer)

	// Set from inside Connect, before the per-server lock is released.
	var connectFinished atomic.Bool
	m.OnStatusChange(func(id string, st mcpmgr.ConnectionStatus) {
		if id == "slow" && st.State == mcpmgr.StateFailed {
			connectFinished.Store(true)
		}
	})

	cfg := memConfig("slow")
	cfg.Timeout = 300 * time.Millisecond

	connectDone := make(chan error, 1)
	go func() { connectDone <- m.Connect(t.Context(), cfg) }()

	require.Eventually(t, func() bool {
		return m.Status("slow").State == mcpmgr.StateConnecting
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Disconnect(t.Context(), "slow"))
	assert.True(t, connectFinished.Load(), "disconnect returned before the in-flight connect finished")
	require.ErrorIs(t, <-connectDone, mcpmgr.ErrTimeout)
	assert.True(t, hang.Closed())
	assert.Equal(t, mcpmgr.ConnectionStatus{}, m.Status("slow"))
}

func TestDistinctServersDoNotBlockEachOther(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	hang := mcpmgrtest.NewHangingTransport()
	dialer.Register("slow", func(mcpmgr.ServerConfig) mcpmgr.Transport { return hang })
	dialer.Serve("fast", mcpmgrtest.NewServer("fast"))
	m := newTestManager(t, dialer)

	slow := memConfig("slow")
	slow.Timeout = 3 * time.Second
	go func() { _ = m.Connect(context.Background(), slow) }()

	require.Eventually(t, func() bool {
		return m.AllStatuses()["slow"].State == mcpmgr.StateConnecting
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Connect(t.Context(), memConfig("fast")))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, m.Status("fast").Connected)
	assert.Equal(t, mcpmgr.StateConnecting, m.Status("slow").State)
}

func TestSessionShadowPrecedence(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	dialer.Serve("live", mcpmgrtest.NewServer("live"))
	m := newTestManager(t, dialer)

	m.RestoreSession(mcpmgr.SessionRecord{
		ServerID: "live",
		Status:   mcpmgr.ConnectionStatus{Error: "stale"},
		Config:   memConfig("live"),
	})
	m.RestoreSession(mcpmgr.SessionRecord{
		ServerID: "ghost",
		Status:   mcpmgr.ConnectionStatus{Error: "previous session lost"},
		Config:   memConfig("ghost"),
	})

	assert.Equal(t, "stale", m.Status("live").Error)

	require.NoError(t, m.Connect(t.Context(), memConfig("live")))

	all := m.AllStatuses()
	require.Contains(t, all, "live")
	require.Contains(t, all, "ghost")
	assert.True(t, all["live"].Connected)
	assert.Empty(t, all["live"].Error)
	assert.Equal(t, "previous session lost", all["ghost"].Error)
	assert.Equal(t, "previous session lost", m.Status("ghost").Error)

	ghostCfg, ok := m.Config("ghost")
	require.True(t, ok)
	assert.Equal(t, "ghost", ghostCfg.ID)

	// An explicit disconnect clears the shadow even without a live entry.
	require.NoError(t, m.Disconnect(t.Context(), "ghost"))
	assert.NotContains(t, m.AllStatuses(), "ghost")
	assert.Equal(t, mcpmgr.ConnectionStatus{}, m.Status("ghost"))
}

func TestUnknownServerStatus(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, mcpmgrtest.NewDialer())
	assert.Equal(t, mcpmgr.ConnectionStatus{Connected: false}, m.Status("nobody"))
	_, ok := m.Config("nobody")
	assert.False(t, ok)
	assert.Empty(t, m.Servers())
}

func TestDroppedSessionIsReported(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	srv := mcpmgrtest.NewServer("flaky")
	var tr *mcpmgrtest.InMemoryTransport
	dialer.Register("flaky", func(cfg mcpmgr.ServerConfig) mcpmgr.Transport {
		tr = mcpmgrtest.NewInMemoryTransport(srv, cfg.Transport())
		return tr
	})
	m := newTestManager(t, dialer)

	var (
		mu     sync.Mutex
		events []mcpmgr.ConnectionStatus
	)
	m.OnStatusChange(func(id string, st mcpmgr.ConnectionStatus) {
		if id != "flaky" {
			return
		}
		mu.Lock()
		events = append(events, st)
		mu.Unlock()
	})

	require.NoError(t, m.Connect(t.Context(), memConfig("flaky")))
	tr.DropServer()

	require.Eventually(t, func() bool {
		return m.Status("flaky").Error == "connection closed"
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, m.Status("flaky").Connected)
	assert.True(t, tr.Closed())

	_, err := m.ListTools(t.Context(), "flaky")
	require.ErrorIs(t, err, mcpmgr.ErrNotConnected)

	mu.Lock()
	defer mu.Unlock()
	states := make([]mcpmgr.ConnectionState, 0, len(events))
	for _, ev := range events {
		states = append(states, ev.State)
	}
	assert.Equal(t, []mcpmgr.ConnectionState{mcpmgr.StateConnecting, mcpmgr.StateConnected, mcpmgr.StateFailed}, states)
}

func TestListChangedNotifications(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	srv := mcpmgrtest.NewServer("dynamic")
	dialer.Serve("dynamic", srv)
	m := newTestManager(t, dialer)

	var toolsChanged atomic.Int32
	m.OnListChanged(func(id string, kind mcpmgr.ListKind) {
		if id == "dynamic" && kind == mcpmgr.ListTools {
			toolsChanged.Add(1)
		}
	})
	m.OnListChanged(func(string, mcpmgr.ListKind) { panic("listener bug") })

	require.NoError(t, m.Connect(t.Context(), memConfig("dynamic")))

	mcp.AddTool(srv, &mcp.Tool{Name: "late", Description: "added after connect"},
		func(ctx context.Context, req *mcp.CallToolRequest, in mcpmgrtest.EchoArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{}, nil, nil
		})

	require.Eventually(t, func() bool { return toolsChanged.Load() > 0 }, 5*time.Second, 10*time.Millisecond)

	tools, err := m.ListTools(t.Context(), "dynamic")
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 2)
}

func TestDisconnectAll(t *testing.T) {
	t.Parallel()

	dialer := mcpmgrtest.NewDialer()
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		dialer.Serve(id, mcpmgrtest.NewServer(id))
	}
	m := newTestManager(t, dialer)
	for _, id := range ids {
		require.NoError(t, m.Connect(t.Context(), memConfig(id)))
	}
	assert.Len(t, m.Clients(), 3)

	require.NoError(t, m.DisconnectAll(t.Context()))
	for _, id := range ids {
		assert.False(t, m.Status(id).Connected, id)
	}
	assert.Empty(t, m.Clients())
	assert.Empty(t, m.Servers())
	assert.Empty(t, m.AllStatuses())
}
