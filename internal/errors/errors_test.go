package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpawnError(t *testing.T) {
	root := errors.New("exec: not found")
	err := &SpawnError{
		Command: "nonexistent-server",
		Err:     root,
	}

	require.Equal(t, `failed to spawn "nonexistent-server": exec: not found`, err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsBridgeError())
}

func TestStartFailureError_WrapsSpawnError(t *testing.T) {
	root := errors.New("permission denied")
	spawn := &SpawnError{Command: "/opt/tool", Err: root}
	err := &StartFailureError{Server: "tools", Err: spawn}

	require.Equal(
		t,
		`failed to start server "tools": failed to spawn "/opt/tool": permission denied`,
		err.Error(),
	)
	require.ErrorIs(t, err, root)

	var asSpawn *SpawnError
	require.ErrorAs(t, err, &asSpawn)
	require.Equal(t, "/opt/tool", asSpawn.Command)
	require.True(t, err.IsBridgeError())
}

func TestDuplicateNameError(t *testing.T) {
	err := &DuplicateNameError{Name: "echo"}

	require.Equal(t, `server "echo" already registered`, err.Error())
	require.True(t, err.IsBridgeError())
}

func TestUnknownServerError(t *testing.T) {
	err := &UnknownServerError{Name: "missing"}

	require.Equal(t, `unknown server "missing"`, err.Error())
	require.True(t, err.IsBridgeError())
}

func TestRPCError(t *testing.T) {
	err := &RPCError{
		Code:    -32601,
		Message: "method not found",
		Data:    []byte(`{"method":"bogus"}`),
	}

	require.Equal(t, "rpc error -32601: method not found", err.Error())
	require.True(t, err.IsBridgeError())
}

func TestSentinels_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotRunning,
		ErrHandleStopped,
		ErrBrokenPipe,
		ErrRequestTimeout,
		ErrClientStopped,
		ErrConnectionClosed,
		ErrTooManyInFlight,
		ErrBridgeClosed,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				require.ErrorIs(t, a, b)

				continue
			}

			require.NotErrorIs(t, a, b)
		}
	}
}
