//go:build !windows

package platform

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/psantana5/sealaunch/internal/logging"
)

// unixHost relies on unlink semantics: removing a directory whose binary is
// executing succeeds and the running image stays mapped. Only the process
// scan keeps the sweeper away from live generations.
type unixHost struct {
	log *logging.Logger
}

func newHost(log *logging.Logger) Host {
	return &unixHost{log: log}
}

func (h *unixHost) DirInUse(dir string) (bool, error) {
	candidates := []string{dir}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil && resolved != dir {
		candidates = append(candidates, resolved)
	}

	procs, err := process.Processes()
	if err != nil {
		return false, fmt.Errorf("failed to list processes: %w", err)
	}

	for _, p := range procs {
		// other users' processes and zombies have no readable exe
		exe, err := p.Exe()
		if err != nil || exe == "" {
			continue
		}
		for _, c := range candidates {
			if isWithin(c, exe) {
				h.log.Debugf("DirInUse: %s is in use by pid %d (%s)", dir, p.Pid, exe)
				return true, nil
			}
		}
	}

	// a process may start from dir right after this returns
	h.log.Debugf("DirInUse: no running process executes from %s", dir)
	return false, nil
}

func (h *unixHost) Notify(ch chan<- struct{}) (func(), error) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				h.log.Debugf("Received %v", sig)
				// plain goroutine context, so blocking until the relay
				// takes the notification is safe
				select {
				case ch <- struct{}{}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		signal.Stop(sigs)
		close(done)
	}
	return stop, nil
}

func (h *unixHost) Interrupt(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return unix.Kill(pid, unix.SIGINT)
}

func (h *unixHost) RuntimeBinary() string {
	return filepath.Join("bin", "node")
}
