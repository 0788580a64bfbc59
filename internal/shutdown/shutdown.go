// Package shutdown runs the launcher's exit hooks once the child is gone
package shutdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/sealaunch/internal/logging"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager collects exit hooks and runs them in reverse order
type Manager struct {
	hooks   []hook
	mu      sync.Mutex
	timeout time.Duration
	log     *logging.Logger
	once    sync.Once
}

// New creates a manager whose hooks share one deadline
func New(timeout time.Duration, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{timeout: timeout, log: log}
}

// Register adds a hook. Hooks run LIFO.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Shutdown runs every hook once. Hook errors are logged and returned;
// they never stop later hooks.
func (m *Manager) Shutdown() []error {
	var errs []error
	m.once.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(m.hooks) - 1; i >= 0; i-- {
			h := m.hooks[i]
			if err := h.fn(ctx); err != nil {
				m.log.Debugf("Exit hook %s failed: %v", h.name, err)
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			}
		}
	})
	return errs
}

// CloseResource creates a hook for anything with a Close method
func CloseResource(closer interface{ Close() }) func(context.Context) error {
	return func(ctx context.Context) error {
		closer.Close()
		return nil
	}
}
