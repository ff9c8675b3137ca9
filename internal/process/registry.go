package process

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mludvig/mcp-http-bridge/internal/errors"
)

// Registry is a named collection of server handles.
//
// It is the exclusive owner of every handle it creates: only the Registry
// terminates processes it started. Servers are started lazily by
// EnsureRunning, and a stopped server is restarted with a fresh handle since
// handles are single-use.
type Registry struct {
	log   *slog.Logger
	grace time.Duration

	mu      sync.RWMutex
	specs   map[string]Spec
	handles map[string]*Handle

	// startGroup collapses concurrent EnsureRunning calls for the same name
	// into one start attempt.
	startGroup singleflight.Group
}

// NewRegistry creates an empty registry. Stops initiated by StopAll use
// grace as the termination grace period; pass 0 for DefaultGracePeriod.
func NewRegistry(log *slog.Logger, grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	return &Registry{
		log:     log.With("component", "registry"),
		grace:   grace,
		specs:   make(map[string]Spec, 8),
		handles: make(map[string]*Handle, 8),
	}
}

// Register adds a server under name without starting it. The spec's Name
// field is overridden by name. Returns *DuplicateNameError if the name is
// already present; the existing registration is untouched.
func (r *Registry) Register(name string, spec Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[name]; exists {
		return &errors.DuplicateNameError{Name: name}
	}

	spec.Name = name
	r.specs[name] = spec
	r.handles[name] = NewHandle(r.log, spec)

	r.log.Debug("Registered server", "server", name, "command", spec.Command)

	return nil
}

// EnsureRunning returns a running handle for name, starting the server if
// needed. Concurrent callers for the same name observe a single start
// attempt and its one outcome. Returns *UnknownServerError for unregistered
// names and *StartFailureError when the spawn fails.
func (r *Registry) EnsureRunning(ctx context.Context, name string) (*Handle, error) {
	r.mu.RLock()
	spec, known := r.specs[name]
	r.mu.RUnlock()

	if !known {
		return nil, &errors.UnknownServerError{Name: name}
	}

	v, err, _ := r.startGroup.Do(name, func() (any, error) {
		r.mu.RLock()
		handle := r.handles[name]
		r.mu.RUnlock()

		if handle.IsRunning() {
			return handle, nil
		}

		if handle.terminal() {
			// Handles never leave the stopped state; restarting means a
			// fresh handle.
			r.log.Info("Replacing stopped handle", "server", name)
			handle = NewHandle(r.log, spec)
		}

		if err := handle.Start(ctx); err != nil {
			return nil, &errors.StartFailureError{Server: name, Err: err}
		}

		r.mu.Lock()
		r.handles[name] = handle
		r.mu.Unlock()

		return handle, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Handle), nil
}

// Handle returns the current handle for name without starting it.
func (r *Registry) Handle(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, known := r.handles[name]
	if !known {
		return nil, &errors.UnknownServerError{Name: name}
	}

	return handle, nil
}

// Stop terminates one server. Returns *UnknownServerError for unregistered
// names; stopping a server that is not running is a no-op.
func (r *Registry) Stop(name string) error {
	r.mu.RLock()
	handle, known := r.handles[name]
	r.mu.RUnlock()

	if !known {
		return &errors.UnknownServerError{Name: name}
	}

	return handle.Stop(r.grace)
}

// StopAll stops every server concurrently and waits for all attempts to
// finish. Individual failures are collected and reported joined together,
// never aborting the remaining stops: one hung server cannot block shutdown
// of the rest.
func (r *Registry) StopAll() error {
	r.mu.RLock()

	handles := make(map[string]*Handle, len(r.handles))
	for name, handle := range r.handles {
		handles[name] = handle
	}

	r.mu.RUnlock()

	r.log.Info("Stopping all servers", "count", len(handles))

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		failed []error
	)

	for name, handle := range handles {
		name, handle := name, handle

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := handle.Stop(r.grace); err != nil {
				errMu.Lock()
				failed = append(failed, fmt.Errorf("stop %q: %w", name, err))
				errMu.Unlock()
			}
		}()
	}

	wg.Wait()

	return stderrors.Join(failed...)
}

// Status returns a point-in-time snapshot of name to running state.
func (r *Registry) Status() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]bool, len(r.handles))
	for name, handle := range r.handles {
		status[name] = handle.IsRunning()
	}

	return status
}

// Names returns the registered server names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
