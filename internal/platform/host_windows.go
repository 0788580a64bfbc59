//go:build windows

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/windows"

	"github.com/psantana5/sealaunch/internal/logging"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procSetConsoleCtrlHandler = kernel32.NewProc("SetConsoleCtrlHandler")
	procAttachConsole         = kernel32.NewProc("AttachConsole")
	procFreeConsole           = kernel32.NewProc("FreeConsole")
)

// windowsHost relies on the OS refusing to rename a directory that holds a
// running image. The rename probe is the in-use signal.
type windowsHost struct {
	log *logging.Logger

	once     sync.Once
	callback uintptr

	// mu serializes writers; handler only loads targets
	mu      sync.Mutex
	targets atomic.Pointer[[]chan<- struct{}]
}

func newHost(log *logging.Logger) Host {
	return &windowsHost{log: log}
}

func (h *windowsHost) DirInUse(dir string) (bool, error) {
	if err := os.Rename(dir, dir); err != nil {
		h.log.Debugf("DirInUse: %s could not be renamed, likely in use: %v", dir, err)
		return true, nil
	}
	// a process may start from dir right after this returns
	h.log.Debugf("DirInUse: %s renamed successfully, not in use", dir)
	return false, nil
}

// handler runs on a thread owned by the console subsystem. It must not
// block: it hands the event off with a non-blocking send and returns TRUE so
// the default handler (which would exit the parent) does not run.
func (h *windowsHost) handler(ctrlType uintptr) uintptr {
	switch uint32(ctrlType) {
	case windows.CTRL_C_EVENT, windows.CTRL_BREAK_EVENT, windows.CTRL_CLOSE_EVENT,
		windows.CTRL_LOGOFF_EVENT, windows.CTRL_SHUTDOWN_EVENT:
		if targets := h.targets.Load(); targets != nil {
			for _, ch := range *targets {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
		return 1
	default:
		return 0
	}
}

func (h *windowsHost) Notify(ch chan<- struct{}) (func(), error) {
	var err error
	h.once.Do(func() {
		h.callback = windows.NewCallback(h.handler)
		r1, _, callErr := procSetConsoleCtrlHandler.Call(h.callback, 1)
		if r1 == 0 {
			err = fmt.Errorf("SetConsoleCtrlHandler: %w", callErr)
		}
	})
	if err != nil {
		return nil, err
	}

	h.update(func(targets []chan<- struct{}) []chan<- struct{} {
		return append(targets, ch)
	})

	stop := func() {
		h.update(func(targets []chan<- struct{}) []chan<- struct{} {
			for i, t := range targets {
				if t == ch {
					return append(targets[:i], targets[i+1:]...)
				}
			}
			return targets
		})
	}
	return stop, nil
}

// update publishes a modified copy of the target list
func (h *windowsHost) update(fn func([]chan<- struct{}) []chan<- struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var current []chan<- struct{}
	if p := h.targets.Load(); p != nil {
		current = *p
	}
	next := fn(append([]chan<- struct{}(nil), current...))
	h.targets.Store(&next)
}

// Interrupt attaches to the child's console and raises CTRL_C there. The
// parent ignores CTRL_C from then on so the event only terminates the child.
func (h *windowsHost) Interrupt(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if r1, _, err := procFreeConsole.Call(); r1 == 0 {
		return fmt.Errorf("FreeConsole: %w", err)
	}
	if r1, _, err := procAttachConsole.Call(uintptr(uint32(pid))); r1 == 0 {
		return fmt.Errorf("AttachConsole(%d): %w", pid, err)
	}
	if r1, _, err := procSetConsoleCtrlHandler.Call(0, 1); r1 == 0 {
		return fmt.Errorf("SetConsoleCtrlHandler(nil): %w", err)
	}
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_C_EVENT, 0); err != nil {
		return fmt.Errorf("GenerateConsoleCtrlEvent: %w", err)
	}
	return nil
}

func (h *windowsHost) RuntimeBinary() string {
	return filepath.Join("bin", "node.exe")
}
