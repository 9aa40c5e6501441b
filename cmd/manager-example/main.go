package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

func main() {
	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{ClientName: "manager-example"})
	defer manager.Close()

	manager.OnStatusChange(func(id string, st mcpmgr.ConnectionStatus) {
		fmt.Printf("[%s] state=%s connected=%t %s\n", id, st.State, st.Connected, st.Error)
	})

	cfg := mcpmgr.NewStdioConfig("everything", "Everything", mcpmgr.StdioSpec{
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-everything"},
	})
	cfg.Timeout = 30 * time.Second

	ctx := context.Background()
	if err := manager.Connect(ctx, cfg); err != nil {
		var timeout *mcpmgr.TimeoutError
		if errors.As(err, &timeout) {
			fmt.Printf("server did not answer within %s\n", timeout.After)
		} else {
			fmt.Printf("connect error: %v\n", err)
		}
		os.Exit(1)
	}

	tools, err := manager.ListTools(ctx, cfg.ID)
	if err != nil {
		fmt.Printf("list tools: %v\n", err)
		os.Exit(1)
	}
	for _, tool := range tools.Tools {
		fmt.Printf("tool: %s - %s\n", tool.Name, tool.Description)
	}

	res, err := manager.CallTool(ctx, cfg.ID, "echo", map[string]any{"message": "hello"})
	if err != nil {
		fmt.Printf("call echo: %v\n", err)
	} else {
		for _, c := range res.Content {
			fmt.Printf("echo: %v\n", c)
		}
	}

	if err := manager.DisconnectAll(ctx); err != nil {
		fmt.Printf("disconnect error: %v\n", err)
	}
}
