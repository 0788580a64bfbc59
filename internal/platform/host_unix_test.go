//go:build !windows

package platform

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// copySleep places a copy of the sleep binary inside dir so that a running
// process has its image there.
func copySleep(t *testing.T, dir string) string {
	t.Helper()
	src, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}
	in, err := os.Open(src)
	if err != nil {
		t.Skipf("cannot read %s: %v", src, err)
	}
	defer in.Close()

	dst := filepath.Join(dir, "bin", "sleep")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY, 0o755)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	return dst
}

func TestDirInUseDetectsRunningImage(t *testing.T) {
	dir := t.TempDir()
	bin := copySleep(t, dir)

	cmd := exec.Command(bin, "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start copied sleep: %v", err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	h := Current(nil)
	inUse, err := h.DirInUse(dir)
	if err != nil {
		t.Fatalf("DirInUse failed: %v", err)
	}
	if !inUse {
		t.Fatalf("Expected %s to be in use by pid %d", dir, cmd.Process.Pid)
	}

	cmd.Process.Kill()
	cmd.Wait()

	inUse, err = h.DirInUse(dir)
	if err != nil {
		t.Fatalf("DirInUse failed: %v", err)
	}
	if inUse {
		t.Error("Expected directory to be free after the process exited")
	}
}

func TestNotifyDeliversTermination(t *testing.T) {
	h := Current(nil)
	ch := make(chan struct{}, 1)
	stop, err := h.Notify(ch)
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	defer stop()

	if err := unix.Kill(os.Getpid(), unix.SIGHUP); err != nil {
		t.Fatalf("Failed to signal self: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a notification after SIGHUP")
	}
}

func TestInterruptTargetsChild(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}

	if err := Current(nil).Interrupt(cmd.Process.Pid); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}

	err := cmd.Wait()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected exit error, got %v", err)
	}
	status := exitErr.Sys().(syscall.WaitStatus)
	if !status.Signaled() || status.Signal() != syscall.SIGINT {
		t.Errorf("Expected SIGINT termination, got %v", status)
	}
}

func TestInterruptRejectsBadPID(t *testing.T) {
	if err := Current(nil).Interrupt(0); err == nil {
		t.Error("Expected error for pid 0, which would signal the whole group")
	}
}
