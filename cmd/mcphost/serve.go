package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-connection-manager-go/internal/api"
	"github.com/vikashloomba/mcp-connection-manager-go/internal/config"
	"github.com/vikashloomba/mcp-connection-manager-go/internal/logging"
	"github.com/vikashloomba/mcp-connection-manager-go/internal/serverstore"
	mcpgateway "github.com/vikashloomba/mcp-connection-manager-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

const shutdownGrace = 10 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the management API and the MCP gateway",
		Long: "Starts the HTTP management API under " + api.Prefix + " and the aggregating MCP\n" +
			"endpoint (default /mcp). Servers from the servers file are connected at startup\n" +
			"unless --auto-connect=false, and the file is watched for changes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, nil)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.listen, "listen", "", "address for the HTTP listener")
	f.DurationVar(&flags.connectTimeout, "connect-timeout", 0, "default handshake timeout for servers without their own")
	f.StringVar(&flags.gatewayPath, "gateway-path", "", "path of the aggregating MCP endpoint; empty disables it")
	f.StringSliceVar(&flags.allowedOrigins, "allowed-origin", nil, "browser origin allowed by CORS (repeatable)")
	f.BoolVar(&flags.autoConnect, "auto-connect", true, "connect every server in the servers file at startup")
	f.BoolVar(&flags.watchServers, "watch", true, "follow changes to the servers file")
	f.BoolVar(&flags.logJSONRPC, "log-jsonrpc", false, "trace JSON-RPC traffic at debug level")
	return cmd
}

// serve runs until ctx is done. ready, when set, receives the bound listener
// address once requests are being accepted.
func serve(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	logger := logging.New(cfg.Logging())
	slog.SetDefault(logger)

	store, err := serverstore.Open(cfg.ServersFile, &serverstore.Options{Logger: logger})
	if err != nil {
		return err
	}

	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		ClientName:        "mcphost",
		DefaultTimeout:    cfg.ConnectTimeout,
		DisconnectTimeout: cfg.DisconnectTimeout,
		LogJSONRPC:        cfg.LogJSONRPC,
		Logger:            logger,
	})

	apiServer, err := api.New(api.Options{
		Manager:        manager,
		Store:          store,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	apiServer.Register(mux)

	var gateway *mcpgateway.Gateway
	if cfg.GatewayPath != "" {
		gateway, err = mcpgateway.NewGateway(manager, &mcpgateway.Options{
			Path:   cfg.GatewayPath,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		mux.Handle(cfg.GatewayPath, gateway.StreamHandler())
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	httpServer := &http.Server{
		Handler:           apiServer.WithCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived streams end with ctx instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve(listener) }()
	logger.Info("mcphost listening",
		"addr", listener.Addr().String(),
		"api", api.Prefix,
		"gateway", cfg.GatewayPath,
		"servers", store.Path(),
	)
	if ready != nil {
		ready <- listener.Addr().String()
	}

	rec := newReconciler(manager, logger, cfg.AutoConnect)
	servers, listErr := store.List()
	if err := rec.apply(ctx, servers, listErr); err != nil {
		logger.Warn("some servers failed to connect", "error", err)
	}
	if cfg.WatchServers {
		err := store.Watch(ctx, func(servers []mcpmgr.ServerConfig, err error) {
			if err := rec.apply(ctx, servers, err); err != nil {
				logger.Warn("reconcile servers file", "error", err)
			}
		})
		if err != nil {
			logger.Warn("servers file will not be watched", "error", err)
		}
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = manager.Close()
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if gateway != nil {
		if err := gateway.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := manager.DisconnectAll(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
