// Package platform holds the operations whose implementation differs between
// the unix family and windows: in-use detection for extraction directories,
// termination notifications, and interrupting a specific child process.
package platform

import (
	"path/filepath"
	"strings"

	"github.com/psantana5/sealaunch/internal/logging"
)

// Host is the per-OS capability set used by the sweeper, relay and launcher
type Host interface {
	// DirInUse reports whether a running process executes an image from
	// inside dir. The answer is a heuristic and may be stale immediately.
	DirInUse(dir string) (bool, error)

	// Notify delivers one value on ch for every termination request the
	// parent receives (interrupt, terminal close, logoff, shutdown) until
	// stop is called.
	Notify(ch chan<- struct{}) (stop func(), err error)

	// Interrupt sends an interrupt to pid only, never to its process group
	Interrupt(pid int) error

	// RuntimeBinary is the runtime executable relative to a generation dir
	RuntimeBinary() string
}

// Current returns the Host for the running OS
func Current(log *logging.Logger) Host {
	if log == nil {
		log = logging.Discard()
	}
	return newHost(log)
}

// isWithin reports whether path lies inside dir (or is dir)
func isWithin(dir, path string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
