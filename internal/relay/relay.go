// Package relay forwards termination requests received by the launcher to
// the child process it spawned.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/psantana5/sealaunch/internal/logging"
	"github.com/psantana5/sealaunch/internal/platform"
)

// State of a Relay. Triggering does not change the state: a relay stays
// Installed and forwards every later notification too.
type State int

const (
	Uninstalled State = iota
	Installed
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installed:
		return "installed"
	default:
		return "unknown"
	}
}

// ErrAlreadyInstalled is returned by a second Install call
var ErrAlreadyInstalled = errors.New("relay already installed")

// Relay turns platform notifications into interrupts for one child pid
type Relay struct {
	host platform.Host
	log  *logging.Logger

	// OnForward, if set, is called after every forward attempt
	OnForward func(pid int, err error)

	mu     sync.Mutex
	state  State
	pid    int
	stop   func()
	quit   chan struct{}
	done   chan struct{}
	notify chan struct{}

	triggered atomic.Uint64
}

// New creates an uninstalled relay
func New(host platform.Host, log *logging.Logger) *Relay {
	if log == nil {
		log = logging.Discard()
	}
	return &Relay{host: host, log: log}
}

// Install registers the platform handler and starts forwarding to pid.
// A failure here is fatal for the launch: without the relay an interrupt
// would leave the child running.
func (r *Relay) Install(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Uninstalled {
		return ErrAlreadyInstalled
	}
	if pid <= 0 {
		return fmt.Errorf("failed to install interrupt relay: invalid pid %d", pid)
	}

	// single slot: notifications arriving while a forward is in flight
	// collapse into the next forward
	notify := make(chan struct{}, 1)
	stop, err := r.host.Notify(notify)
	if err != nil {
		return fmt.Errorf("failed to install interrupt relay for pid %d: %w", pid, err)
	}

	r.pid = pid
	r.notify = notify
	r.stop = stop
	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	r.state = Installed

	go r.forward()

	r.log.Debugf("Interrupt relay installed for pid %d", pid)
	return nil
}

func (r *Relay) forward() {
	defer close(r.done)

	for {
		select {
		case <-r.notify:
			n := r.triggered.Add(1)
			err := r.host.Interrupt(r.pid)
			if err != nil {
				r.log.Debugf("Failed to forward interrupt #%d to pid %d: %v", n, r.pid, err)
			} else {
				r.log.Debugf("Forwarded interrupt #%d to pid %d", n, r.pid)
			}
			if r.OnForward != nil {
				r.OnForward(r.pid, err)
			}
		case <-r.quit:
			return
		}
	}
}

// State returns the current state
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Triggered returns how many notifications have been forwarded so far
func (r *Relay) Triggered() uint64 {
	return r.triggered.Load()
}

// Close unregisters the handler and stops the forwarding goroutine
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Installed {
		return
	}
	r.stop()
	close(r.quit)
	<-r.done
	r.state = Uninstalled
}
