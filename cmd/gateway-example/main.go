package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpgateway "github.com/vikashloomba/mcp-connection-manager-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{ClientName: "gateway-example"})
	defer manager.Close()

	gateway, err := mcpgateway.NewGateway(manager, &mcpgateway.Options{
		Addr: ":8787",
		Path: "/mcp",
		Streamable: mcp.StreamableHTTPOptions{
			JSONResponse: true,
		},
	})
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}

	everything := mcpmgr.NewStdioConfig("everything", "Everything", mcpmgr.StdioSpec{
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-everything"},
	})
	everything.Timeout = 15 * time.Second
	// The gateway picks the server up from the manager's status events.
	if err := manager.Connect(ctx, everything); err != nil {
		log.Fatalf("failed to connect %s: %v", everything.ID, err)
	}

	log.Printf("gateway serving Streamable MCP on :8787/mcp")
	if err := gateway.ListenAndServe(ctx); err != nil {
		log.Fatalf("gateway server stopped: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = gateway.Shutdown(shutdownCtx)
	_ = manager.DisconnectAll(shutdownCtx)
}
