package mcpmgr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Every error returned by the manager matches
// exactly one of these, except TimeoutError which also matches
// ErrConnectFailed.
var (
	ErrConfiguration = errors.New("mcpmgr: invalid server configuration")
	ErrConnectFailed = errors.New("mcpmgr: connect failed")
	ErrNotConnected  = errors.New("mcpmgr: server not connected")
	ErrTimeout       = errors.New("mcpmgr: timeout")
	ErrTeardown      = errors.New("mcpmgr: teardown failed")
)

// ConfigurationError reports a ServerConfig that cannot be used. It is a
// caller mistake and is never retried.
type ConfigurationError struct {
	ServerID string
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.ServerID == "" {
		return fmt.Sprintf("mcpmgr: invalid config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("mcpmgr: invalid config for %q: %s: %s", e.ServerID, e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ConnectFailedError reports a transport-open or handshake failure. The
// caller may retry by connecting again.
type ConnectFailedError struct {
	ServerID string
	Err      error
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("mcpmgr: connect %q: %v", e.ServerID, e.Err)
}

func (e *ConnectFailedError) Is(target error) bool { return target == ErrConnectFailed }

func (e *ConnectFailedError) Unwrap() error { return e.Err }

// NotConnectedError is returned by capability calls against a server with no
// live session.
type NotConnectedError struct {
	ServerID string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("mcpmgr: server %q is not connected", e.ServerID)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// TimeoutError reports a connect handshake that did not finish in time.
type TimeoutError struct {
	ServerID string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcpmgr: connect %q timed out after %s", e.ServerID, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == ErrConnectFailed
}

// TeardownError reports a failure while closing a session or its transport.
// The connection is still considered disconnected.
type TeardownError struct {
	ServerID string
	Err      error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("mcpmgr: disconnect %q: %v", e.ServerID, e.Err)
}

func (e *TeardownError) Is(target error) bool { return target == ErrTeardown }

func (e *TeardownError) Unwrap() error { return e.Err }
