package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/sealaunch/internal/logging"
	"github.com/psantana5/sealaunch/internal/platform"
)

// Environment variables the child uses to locate its own installation
const (
	EnvExtractedRoot  = "SEA_EXTRACTED_ROOT"
	EnvExecutablePath = "SEA_EXECUTABLE_PATH"
	EnvTargetEnv      = "SEA_TARGET_ENV"
)

// Command is the runtime invocation assembled by the caller. An empty
// Program means the runtime binary inside the generation directory.
type Command struct {
	Program string
	Args    []string
	Env     []string // KEY=VALUE, appended after the inherited environment
}

// SpawnError carries the attempted command line for diagnostics
type SpawnError struct {
	CommandLine string
	Err         error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.CommandLine, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Launcher starts the runtime rooted at a generation directory
type Launcher struct {
	host platform.Host
	log  *logging.Logger

	// executable resolves the launcher's own path; replaceable in tests
	executable func() (string, error)
}

// New creates a launcher
func New(host platform.Host, log *logging.Logger) *Launcher {
	if log == nil {
		log = logging.Discard()
	}
	if host == nil {
		host = platform.Current(log)
	}
	return &Launcher{
		host:       host,
		log:        log,
		executable: os.Executable,
	}
}

// RuntimePath returns the runtime binary location inside dir
func (l *Launcher) RuntimePath(dir string) string {
	return filepath.Join(dir, l.host.RuntimeBinary())
}

// Spawn starts the child with inherited stdio and returns its handle.
// The child stays in our process group so terminal job control and reads
// from the tty keep working.
func (l *Launcher) Spawn(dir string, c Command) (*Child, error) {
	program := c.Program
	if program == "" {
		program = l.RuntimePath(dir)
	}
	commandLine := formatCommandLine(program, c.Args)

	self, err := l.resolveExecutable()
	if err != nil {
		return nil, &SpawnError{CommandLine: commandLine, Err: err}
	}

	extra := append([]string{}, c.Env...)
	extra = append(extra,
		EnvExtractedRoot+"="+dir,
		EnvExecutablePath+"="+self,
	)
	if target := platform.TargetEnv(); target != "" {
		extra = append(extra, EnvTargetEnv+"="+target)
	}

	cmd := exec.Command(program, c.Args...)
	cmd.Env = append(os.Environ(), extra...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	l.log.Debugf("Spawning %s", commandLine)
	for _, kv := range extra {
		l.log.Debugf("Environment variable: %s", kv)
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{CommandLine: commandLine, Err: err}
	}

	l.log.Debugf("Started pid %d", cmd.Process.Pid)

	return &Child{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startTime: time.Now(),
		log:       l.log,
	}, nil
}

// resolveExecutable returns our own path with symlinks resolved, so a
// self-update run by the child replaces the real file
func (l *Launcher) resolveExecutable() (string, error) {
	exe, err := l.executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path %s: %w", exe, err)
	}
	return resolved, nil
}

func formatCommandLine(program string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, p := range append([]string{program}, args...) {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			p = fmt.Sprintf("%q", p)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}
