package mcpmgr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	cases := []struct {
		err     error
		matches []error
		not     []error
	}{
		{&ConfigurationError{ServerID: "a", Field: "stdio.command", Reason: "command is required"}, []error{ErrConfiguration}, []error{ErrConnectFailed}},
		{&ConnectFailedError{ServerID: "a", Err: cause}, []error{ErrConnectFailed, cause}, []error{ErrTimeout}},
		{&TimeoutError{ServerID: "a", After: time.Second}, []error{ErrTimeout, ErrConnectFailed}, []error{ErrNotConnected}},
		{&NotConnectedError{ServerID: "a"}, []error{ErrNotConnected}, []error{ErrConnectFailed}},
		{&TeardownError{ServerID: "a", Err: cause}, []error{ErrTeardown, cause}, []error{ErrConnectFailed}},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("api: %w", tc.err)
		for _, target := range tc.matches {
			assert.ErrorIs(t, wrapped, target, "%T", tc.err)
		}
		for _, target := range tc.not {
			assert.NotErrorIs(t, wrapped, target, "%T", tc.err)
		}
		assert.Contains(t, tc.err.Error(), `"a"`)
	}
}
