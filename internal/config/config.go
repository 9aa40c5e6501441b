// Package config loads mcphost settings.
//
// Values are layered: built-in defaults, then the YAML file, then MCPHOST_*
// environment variables. Command-line flags are applied last by the caller,
// and only for flags the user actually passed.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-connection-manager-go/internal/logging"
)

// DefaultFile is read when no explicit path is given and it exists in the
// working directory.
const DefaultFile = "mcphost.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MCPHOST_"

// Config is the complete mcphost configuration.
type Config struct {
	Listen            string        `yaml:"listen"`
	ServersFile       string        `yaml:"serversFile"`
	ConnectTimeout    time.Duration `yaml:"connectTimeout"`
	DisconnectTimeout time.Duration `yaml:"disconnectTimeout"`
	LogLevel          string        `yaml:"logLevel"`
	LogFormat         string        `yaml:"logFormat"`
	LogJSONRPC        bool          `yaml:"logJsonRpc"`
	AllowedOrigins    []string      `yaml:"allowedOrigins"`
	AutoConnect       bool          `yaml:"autoConnect"`
	WatchServers      bool          `yaml:"watchServers"`
	GatewayPath       string        `yaml:"gatewayPath"`

	// Source records where the file layer came from; empty when none was read.
	Source string `yaml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Listen:            "127.0.0.1:8700",
		ServersFile:       "servers.yaml",
		ConnectTimeout:    30 * time.Second,
		DisconnectTimeout: 10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
		AllowedOrigins:    []string{"http://localhost:3000"},
		AutoConnect:       true,
		WatchServers:      true,
		GatewayPath:       "/mcp",
	}
}

// Error reports a bad setting together with where it came from.
type Error struct {
	Source string
	Key    string
	Msg    string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %s: %s", e.Source, e.Msg)
	}
	return fmt.Sprintf("config: %s: %s: %s", e.Source, e.Key, e.Msg)
}

// Load builds a Config from defaults, the file at path and the process
// environment. An empty path falls back to DefaultFile when present; an
// explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.mergeFile(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			err = nil
		} else {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields absent from the document keep their current values, which is
	// what makes an explicit `autoConnect: false` distinguishable from unset.
	if err := yaml.Unmarshal(data, c); err != nil {
		return &Error{Source: path, Msg: err.Error()}
	}
	c.Source = path
	return nil
}

// ApplyEnv overlays MCPHOST_* variables reported by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Source: "env", Key: EnvPrefix + key, Msg: err.Error()}
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return &Error{Source: "env", Key: EnvPrefix + key, Msg: err.Error()}
		}
		*dst = d
		return nil
	}

	str("LISTEN", &c.Listen)
	str("SERVERS_FILE", &c.ServersFile)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("GATEWAY_PATH", &c.GatewayPath)
	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = SplitList(v)
	}
	return errors.Join(
		duration("CONNECT_TIMEOUT", &c.ConnectTimeout),
		duration("DISCONNECT_TIMEOUT", &c.DisconnectTimeout),
		boolean("LOG_JSONRPC", &c.LogJSONRPC),
		boolean("AUTO_CONNECT", &c.AutoConnect),
		boolean("WATCH_SERVERS", &c.WatchServers),
	)
}

// Validate checks values that the YAML and env layers cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, &Error{Source: "config", Key: "listen", Msg: "must not be empty"})
	}
	if strings.TrimSpace(c.ServersFile) == "" {
		errs = append(errs, &Error{Source: "config", Key: "serversFile", Msg: "must not be empty"})
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, &Error{Source: "config", Key: "connectTimeout", Msg: "must be positive"})
	}
	if c.DisconnectTimeout <= 0 {
		errs = append(errs, &Error{Source: "config", Key: "disconnectTimeout", Msg: "must be positive"})
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, &Error{Source: "config", Key: "logLevel", Msg: err.Error()})
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		errs = append(errs, &Error{Source: "config", Key: "logFormat", Msg: err.Error()})
	}
	if c.GatewayPath != "" && !strings.HasPrefix(c.GatewayPath, "/") {
		errs = append(errs, &Error{Source: "config", Key: "gatewayPath", Msg: "must start with /"})
	}
	return errors.Join(errs...)
}

// Logging converts the log settings for logging.New. Call after Validate.
func (c *Config) Logging() logging.Config {
	level, _ := logging.ParseLevel(c.LogLevel)
	format, _ := logging.ParseFormat(c.LogFormat)
	return logging.Config{Level: level, Format: format}
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
