package process

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mludvig/mcp-http-bridge/internal/errors"
)

// requireUnix skips tests that depend on Unix process and signal semantics.
func requireUnix(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("Test requires Unix process semantics")
	}
}

func catSpec(name string) Spec {
	return Spec{Name: name, Command: "cat"}
}

func shSpec(name, script string) Spec {
	return Spec{Name: name, Command: "sh", Args: []string{"-c", script}}
}

func TestHandle_StartThenStop(t *testing.T) {
	requireUnix(t)

	h := NewHandle(slog.Default(), catSpec("cat"))
	require.False(t, h.IsRunning())

	require.NoError(t, h.Start(context.Background()))
	require.True(t, h.IsRunning())
	require.NotZero(t, h.Pid())

	require.NoError(t, h.Stop(5*time.Second))
	require.False(t, h.IsRunning())

	// Idempotent.
	require.NoError(t, h.Stop(5*time.Second))
	require.False(t, h.IsRunning())
}

func TestHandle_StartAfterStop(t *testing.T) {
	requireUnix(t)

	h := NewHandle(slog.Default(), catSpec("cat"))
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop(5*time.Second))

	// Stopped is terminal; a fresh handle is required to run again.
	err := h.Start(context.Background())
	require.ErrorIs(t, err, errors.ErrHandleStopped)
}

func TestHandle_SpawnFailure(t *testing.T) {
	h := NewHandle(slog.Default(), Spec{
		Name:    "missing",
		Command: "definitely-not-a-real-binary-4f7c1",
	})

	err := h.Start(context.Background())
	require.Error(t, err)

	var spawnErr *errors.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, "definitely-not-a-real-binary-4f7c1", spawnErr.Command)
	require.False(t, h.IsRunning())
}

func TestHandle_DoubleStartIsNoop(t *testing.T) {
	requireUnix(t)

	h := NewHandle(slog.Default(), catSpec("cat"))
	require.NoError(t, h.Start(context.Background()))

	defer h.Stop(time.Second) //nolint:errcheck

	pid := h.Pid()

	require.NoError(t, h.Start(context.Background()))
	require.Equal(t, pid, h.Pid())
}

func TestHandle_WriteLineBeforeStart(t *testing.T) {
	h := NewHandle(slog.Default(), catSpec("cat"))

	err := h.WriteLine(context.Background(), []byte("hello"))
	require.ErrorIs(t, err, errors.ErrNotRunning)

	_, err = h.ReadLine()
	require.ErrorIs(t, err, errors.ErrNotRunning)
}

func TestHandle_EchoLine(t *testing.T) {
	requireUnix(t)

	h := NewHandle(slog.Default(), catSpec("cat"))
	require.NoError(t, h.Start(context.Background()))

	defer h.Stop(time.Second) //nolint:errcheck

	require.NoError(t, h.WriteLine(context.Background(), []byte(`{"hello":"world"}`)))

	line, err := h.ReadLine()
	require.NoError(t, err)
	require.Equal(t, `{"hello":"world"}`, string(line))
}

func TestHandle_EnvMergedOverInherited(t *testing.T) {
	requireUnix(t)

	t.Setenv("BRIDGE_TEST_VALUE", "inherited")

	spec := shSpec("env", `echo "$BRIDGE_TEST_VALUE"`)
	spec.Env = map[string]string{"BRIDGE_TEST_VALUE": "merged"}

	h := NewHandle(slog.Default(), spec)
	require.NoError(t, h.Start(context.Background()))

	defer h.Stop(time.Second) //nolint:errcheck

	line, err := h.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "merged", string(line))
}

func TestHandle_WorkingDirectory(t *testing.T) {
	requireUnix(t)

	dir := t.TempDir()

	spec := shSpec("pwd", "pwd")
	spec.Cwd = dir

	h := NewHandle(slog.Default(), spec)
	require.NoError(t, h.Start(context.Background()))

	defer h.Stop(time.Second) //nolint:errcheck

	line, err := h.ReadLine()
	require.NoError(t, err)

	// Resolve symlinks: on some systems TempDir lives behind one.
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	got, err := filepath.EvalSymlinks(string(line))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestHandle_OutputSurvivesFastExit(t *testing.T) {
	requireUnix(t)

	// A child that answers and exits immediately: its final output must be
	// delivered even when the reader only shows up after the exit.
	h := NewHandle(slog.Default(), shSpec("fast", "echo one"))
	require.NoError(t, h.Start(context.Background()))

	time.Sleep(200 * time.Millisecond)

	line, err := h.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "one", string(line))

	_, err = h.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestHandle_ReadLineEOFAfterExit(t *testing.T) {
	requireUnix(t)

	h := NewHandle(slog.Default(), shSpec("oneshot", "echo one"))
	require.NoError(t, h.Start(context.Background()))

	line, err := h.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "one", string(line))

	_, err = h.ReadLine()
	require.ErrorIs(t, err, io.EOF)

	// Self-exit flips the handle to stopped.
	require.Eventually(t, func() bool {
		return !h.IsRunning()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandle_StopUnblocksReader(t *testing.T) {
	requireUnix(t)

	h := NewHandle(slog.Default(), catSpec("cat"))
	require.NoError(t, h.Start(context.Background()))

	readDone := make(chan error, 1)

	go func() {
		_, err := h.ReadLine()
		readDone <- err
	}()

	// Give the reader time to block.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, h.Stop(5*time.Second))

	select {
	case err := <-readDone:
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadLine did not unblock after Stop")
	}
}

func TestHandle_StopKillsAfterGracePeriod(t *testing.T) {
	requireUnix(t)

	// Child ignores SIGTERM, so Stop has to escalate to SIGKILL.
	h := NewHandle(slog.Default(), shSpec("hung", `trap "" TERM; while :; do sleep 0.1; done`))
	require.NoError(t, h.Start(context.Background()))

	start := time.Now()
	err := h.Stop(200 * time.Millisecond)

	require.Error(t, err)
	require.Contains(t, err.Error(), "did not exit")
	require.False(t, h.IsRunning())
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestHandle_WriteLineBrokenPipe(t *testing.T) {
	requireUnix(t)

	// Child closes its stdin but keeps running, so writes hit a pipe with
	// no reader.
	h := NewHandle(slog.Default(), shSpec("nostdin", "exec 0<&-; sleep 5"))
	require.NoError(t, h.Start(context.Background()))

	defer h.Stop(time.Second) //nolint:errcheck

	// Let the child close its end first.
	time.Sleep(100 * time.Millisecond)

	err := h.WriteLine(context.Background(), []byte("anyone there"))
	require.Error(t, err)
	require.ErrorIs(t, err, errors.ErrBrokenPipe)
	require.False(t, h.IsRunning())
}

func TestHandle_WriteLineCancelledContext(t *testing.T) {
	requireUnix(t)

	h := NewHandle(slog.Default(), catSpec("cat"))
	require.NoError(t, h.Start(context.Background()))

	defer h.Stop(time.Second) //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.WriteLine(ctx, []byte("late"))
	require.True(t, stderrors.Is(err, context.Canceled) || err == nil)
}

func TestHandle_StderrCaptured(t *testing.T) {
	requireUnix(t)

	h := NewHandle(slog.Default(), shSpec("noisy", "echo oops >&2; sleep 0.2"))
	require.NoError(t, h.Start(context.Background()))

	defer h.Stop(time.Second) //nolint:errcheck

	require.Eventually(t, func() bool {
		return h.Stderr() == "oops"
	}, 5*time.Second, 10*time.Millisecond)
}
