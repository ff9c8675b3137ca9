package process

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mludvig/mcp-http-bridge/internal/errors"
)

const (
	// maxLineSize is the maximum buffer size for reading server output lines.
	maxLineSize = 1024 * 1024 // 1MB
	// maxStderrBufferSize caps the retained stderr buffer. Stderr draining
	// continues past this limit so the child never blocks on a full pipe,
	// but the buffer stops growing.
	maxStderrBufferSize = 256 * 1024 // 256KB

	// DefaultGracePeriod is how long Stop waits for voluntary exit before
	// force-killing the process.
	DefaultGracePeriod = 5 * time.Second
)

// Spec describes how to launch one stdio MCP server.
// Specs are built from configuration at startup and never mutated.
type Spec struct {
	// Name uniquely identifies the server within a Registry.
	Name string
	// Command is the executable to launch.
	Command string
	// Args are passed to the command in order.
	Args []string
	// Env is merged over the inherited environment; entries here win on conflict.
	Env map[string]string
	// Cwd is the working directory. Empty means inherit.
	Cwd string
}

// state is the handle lifecycle: unstarted -> running -> stopping -> stopped.
// No transition leaves stopped.
type state int

const (
	stateUnstarted state = iota
	stateRunning
	stateStopping
	stateStopped
)

// Handle owns one spawned child process and its pipes.
//
// ReadLine is the handle's sole blocking operation and is intended for a
// single reader (the RPC client's response listener). All other methods are
// safe for concurrent use.
type Handle struct {
	log  *slog.Logger
	spec Spec

	mu          sync.Mutex // guards state, cmd, stdin, stdout handoff
	state       state
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdinClosed bool

	// stdoutLines carries scanned stdout lines to ReadLine; closed by the
	// drain goroutine once stdout reaches EOF. readErr holds a scanner
	// failure, valid once stdoutLines is closed.
	stdoutLines chan []byte
	readErr     error

	// discard, once closed, tells the stdout drain to drop undelivered
	// lines so it can reach EOF without a reader.
	discard     chan struct{}
	discardOnce sync.Once

	writeMu sync.Mutex // serializes stdin frames

	stderrMu  sync.Mutex
	stderrBuf strings.Builder

	// pipeWg tracks the stdout and stderr drains; both pipes must reach
	// EOF before the process is reaped.
	pipeWg sync.WaitGroup

	waitErr error         // valid after exited is closed
	exited  chan struct{} // closed once the process has been reaped
}

// NewHandle creates an unstarted handle for the given spec.
func NewHandle(log *slog.Logger, spec Spec) *Handle {
	return &Handle{
		log:  log.With("component", "process", "server", spec.Name),
		spec: spec,
	}
}

// Spec returns the server spec this handle was built from.
func (h *Handle) Spec() Spec {
	return h.spec
}

// Start spawns the child process and connects its pipes.
//
// The environment is the inherited one merged with the spec's entries (spec
// wins on conflict); the working directory is the spec's or inherited.
// Starting an already-running handle is a no-op returning nil, so concurrent
// callers cannot trigger duplicate spawns. Starting a stopped handle returns
// ErrHandleStopped: handles are single-use.
//
// Launch failures (executable not found, permission denied) are returned as
// *SpawnError and leave the handle unstarted; there is no retry.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case stateRunning:
		h.log.Warn("Server already running, ignoring start")

		return nil

	case stateStopping, stateStopped:
		return errors.ErrHandleStopped

	case stateUnstarted:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Deliberately not CommandContext: the process must outlive the request
	// contexts flowing through it. Stop is the only way it terminates.
	//nolint:gosec // G204: launching configured server commands is the point
	cmd := exec.Command(h.spec.Command, h.spec.Args...)
	cmd.Env = mergedEnv(h.spec.Env)
	cmd.Dir = h.spec.Cwd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.SpawnError{Command: h.spec.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.SpawnError{Command: h.spec.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errors.SpawnError{Command: h.spec.Command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return &errors.SpawnError{Command: h.spec.Command, Err: err}
	}

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	h.cmd = cmd
	h.stdin = stdin
	h.stdinClosed = false
	h.stdoutLines = make(chan []byte, 16)
	h.discard = make(chan struct{})
	h.exited = make(chan struct{})
	h.state = stateRunning

	h.pipeWg.Add(2)

	go h.drainStdout(scanner)
	go h.drainStderr(stderr)
	go h.waitForExit()

	h.log.Info("Server started", "command", h.spec.Command, "pid", cmd.Process.Pid)

	return nil
}

// IsRunning reports whether the process was started and has neither exited
// nor been stopped.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state == stateRunning
}

// terminal reports whether the handle can never run again.
func (h *Handle) terminal() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state == stateStopping || h.state == stateStopped
}

// Pid returns the child's process id, or 0 if it was never started.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}

	return h.cmd.Process.Pid
}

// WriteLine appends one newline-terminated frame to the child's stdin.
//
// Frames from concurrent callers are written whole, in acquisition order.
// Returns ErrNotRunning if the process is not running and an error wrapping
// ErrBrokenPipe if the stream is closed underneath us (child exited or
// crashed mid-write); a broken pipe also transitions the handle to stopped.
// A blocking write respects ctx: on cancellation stdin is closed to unblock
// the writer.
func (h *Handle) WriteLine(ctx context.Context, data []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()

	if h.state != stateRunning {
		h.mu.Unlock()

		return errors.ErrNotRunning
	}

	if h.stdinClosed {
		h.mu.Unlock()

		return errors.ErrBrokenPipe
	}

	stdin := h.stdin
	h.mu.Unlock()

	// Explicit copy so a caller's slice with spare capacity is never mutated.
	frame := make([]byte, len(data)+1)
	copy(frame, data)
	frame[len(data)] = '\n'

	// Write in a goroutine to respect context cancellation.
	done := make(chan error, 1)

	go func() {
		_, err := stdin.Write(frame)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}

		if isClosedPipe(err) {
			h.log.Warn("Stdin closed mid-write, marking server stopped", "error", err)
			h.markBroken()

			return fmt.Errorf("%w: %w", errors.ErrBrokenPipe, err)
		}

		return fmt.Errorf("write to stdin: %w", err)

	case <-ctx.Done():
		h.log.Debug("Context cancelled during write, closing stdin")
		h.closeStdin()

		// Bounded wait for the writer goroutine to observe the close.
		select {
		case <-done:
		case <-time.After(time.Second):
			h.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// ReadLine blocks until a full line is available on the child's stdout,
// returning it without the trailing newline. It returns io.EOF once the
// stream ends, which happens when the child exits or the handle is stopped.
// Output the child wrote before exiting is still delivered: lines are
// buffered by the drain goroutine, so a child that answers and immediately
// exits does not lose its final line. Intended for a single reader.
func (h *Handle) ReadLine() ([]byte, error) {
	h.mu.Lock()
	lines := h.stdoutLines
	h.mu.Unlock()

	if lines == nil {
		return nil, errors.ErrNotRunning
	}

	line, ok := <-lines
	if !ok {
		h.mu.Lock()
		err := h.readErr
		h.mu.Unlock()

		if err != nil {
			return nil, err
		}

		return nil, io.EOF
	}

	return line, nil
}

// Stop terminates the child process: SIGTERM, then up to grace for voluntary
// exit, then SIGKILL. It always leaves the handle in the stopped state and is
// idempotent. A non-nil error reports an abnormal path (signal failure or a
// forced kill after the grace period expired); the handle is stopped either way.
func (h *Handle) Stop(grace time.Duration) error {
	h.mu.Lock()

	switch h.state {
	case stateUnstarted:
		h.state = stateStopped
		h.mu.Unlock()

		return nil

	case stateStopped:
		h.mu.Unlock()

		return nil

	case stateStopping:
		exited := h.exited
		h.mu.Unlock()

		// Another caller is already stopping; wait for it to finish.
		<-exited

		return nil

	case stateRunning:
	}

	h.state = stateStopping
	cmd := h.cmd
	exited := h.exited
	h.mu.Unlock()

	h.closeStdin()
	h.dropUndelivered()

	var stopErr error

	h.log.Debug("Sending SIGTERM", "pid", cmd.Process.Pid)

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		stopErr = fmt.Errorf("signal process: %w", err)
	}

	select {
	case <-exited:

	case <-time.After(grace):
		h.log.Warn("Server did not exit within grace period, killing",
			"grace", grace, "pid", cmd.Process.Pid)

		if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			stopErr = stderrors.Join(stopErr, fmt.Errorf("kill process: %w", err))
		} else {
			stopErr = stderrors.Join(stopErr,
				fmt.Errorf("process did not exit within %s, killed", grace))
		}

		<-exited
	}

	h.mu.Lock()
	h.state = stateStopped
	h.mu.Unlock()

	h.log.Info("Server stopped")

	return stopErr
}

// Stderr returns the stderr output captured so far, capped at
// maxStderrBufferSize.
func (h *Handle) Stderr() string {
	h.stderrMu.Lock()
	defer h.stderrMu.Unlock()

	return h.stderrBuf.String()
}

// closeStdin closes stdin exactly once.
func (h *Handle) closeStdin() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdin != nil && !h.stdinClosed {
		_ = h.stdin.Close()
		h.stdinClosed = true
	}
}

// markBroken flips a running handle to stopped after a pipe failure.
// The wait goroutine reaps the dead child independently.
func (h *Handle) markBroken() {
	h.mu.Lock()

	if h.state == stateRunning {
		h.state = stateStopped
	}

	if h.stdin != nil && !h.stdinClosed {
		_ = h.stdin.Close()
		h.stdinClosed = true
	}

	h.mu.Unlock()

	h.dropUndelivered()
}

// drainStdout scans the child's stdout line by line, handing each line to
// ReadLine through the channel. Once the reader is gone (discard closed by
// Stop or a broken pipe) further lines are dropped so the scan still reaches
// EOF. Closing stdoutLines is what turns into ReadLine's io.EOF.
func (h *Handle) drainStdout(scanner *bufio.Scanner) {
	defer h.pipeWg.Done()
	defer close(h.stdoutLines)

	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())

		select {
		case h.stdoutLines <- line:
		case <-h.discard:
		}
	}

	if err := scanner.Err(); err != nil && !stderrors.Is(err, fs.ErrClosed) {
		h.mu.Lock()
		h.readErr = fmt.Errorf("read from stdout: %w", err)
		h.mu.Unlock()

		h.log.Debug("Stdout scanner error", "error", err)
	}
}

// dropUndelivered releases the stdout drain from waiting on a reader.
func (h *Handle) dropUndelivered() {
	h.discardOnce.Do(func() {
		close(h.discard)
	})
}

// waitForExit reaps the process and records its exit. Both pipes must reach
// EOF before Wait per the os/exec pipe contract; waiting on them also
// guarantees the child's final output was scanned before the pipe read ends
// are closed.
func (h *Handle) waitForExit() {
	h.pipeWg.Wait()

	err := h.cmd.Wait()

	h.mu.Lock()

	h.waitErr = err
	if h.state == stateRunning {
		// Self-exit, not a Stop: flip straight to stopped.
		h.state = stateStopped
	}

	exited := h.exited
	h.mu.Unlock()

	if err != nil {
		h.log.Warn("Server exited with error", "error", err, "stderr", h.Stderr())
	} else {
		h.log.Debug("Server exited")
	}

	close(exited)
}

// drainStderr consumes the child's stderr so it can never block on a full
// pipe, retaining a capped buffer for failure diagnostics.
func (h *Handle) drainStderr(stderr io.Reader) {
	defer h.pipeWg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		h.log.Debug("Server stderr", "line", line)

		h.stderrMu.Lock()

		if h.stderrBuf.Len() < maxStderrBufferSize {
			if h.stderrBuf.Len() > 0 {
				h.stderrBuf.WriteString("\n")
			}

			h.stderrBuf.WriteString(line)
		}

		h.stderrMu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		h.log.Debug("Stderr scanner error", "error", err)
	}
}

// isClosedPipe reports whether a write failed because the far end is gone.
func isClosedPipe(err error) bool {
	return stderrors.Is(err, syscall.EPIPE) ||
		stderrors.Is(err, fs.ErrClosed) ||
		stderrors.Is(err, io.ErrClosedPipe)
}

// mergedEnv merges extra over the inherited environment. Entries appended
// later win when exec resolves duplicates, which gives the spec precedence.
func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // nil means inherit as-is
	}

	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}

	return env
}
