package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vikashloomba/mcp-connection-manager-go/internal/config"
)

type rootFlags struct {
	configFile string

	listen         string
	serversFile    string
	connectTimeout time.Duration
	logLevel       string
	logFormat      string
	gatewayPath    string
	allowedOrigins []string
	autoConnect    bool
	watchServers   bool
	logJSONRPC     bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "mcphost",
		Short: "Manage connections to MCP servers",
		Long: "mcphost keeps connections to Model Context Protocol servers (stdio subprocesses,\n" +
			"Streamable HTTP and SSE endpoints) and exposes them over an HTTP API and a single\n" +
			"aggregating MCP endpoint.\n\n" +
			"Settings are read from mcphost.yaml (or --config), then MCPHOST_* environment\n" +
			"variables, then flags.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "path to the mcphost config file (default ./"+config.DefaultFile+" when present)")
	pf.StringVar(&flags.serversFile, "servers", "", "path to the servers file")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", "", "text or json")

	cmd.AddCommand(newServeCmd(flags), newValidateCmd(flags))
	return cmd
}

// loadConfig layers flags the user actually set over the file and env layers.
func (f *rootFlags) loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if fs.Changed("listen") {
		cfg.Listen = f.listen
	}
	if fs.Changed("servers") {
		cfg.ServersFile = f.serversFile
	}
	if fs.Changed("connect-timeout") {
		cfg.ConnectTimeout = f.connectTimeout
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fs.Changed("gateway-path") {
		cfg.GatewayPath = f.gatewayPath
	}
	if fs.Changed("allowed-origin") {
		cfg.AllowedOrigins = f.allowedOrigins
	}
	if fs.Changed("auto-connect") {
		cfg.AutoConnect = f.autoConnect
	}
	if fs.Changed("watch") {
		cfg.WatchServers = f.watchServers
	}
	if fs.Changed("log-jsonrpc") {
		cfg.LogJSONRPC = f.logJSONRPC
	}
	return cfg, cfg.Validate()
}
