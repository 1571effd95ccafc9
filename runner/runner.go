// Package runner provides the transport abstraction for spawning provider CLI
// processes. A Runner turns a uniform SpawnCommand into a running child process
// regardless of whether the target is the local machine, a WSL distribution, or
// a remote host reached over SSH.
//
// The package is organized into focused modules:
//   - runner.go: SpawnCommand, Process handle, Runner interface
//   - local.go: direct spawning, including Windows quoting and UNC handling
//   - wsl.go: WSL transport (wsl.exe wrapping, HOME correction)
//   - ssh.go: SSH transport (batch mode, connection multiplexing)
//   - shell.go: POSIX quoting and bootstrap script construction
//   - detect.go: transport and provider availability probes
package runner

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"

	"github.com/okapi-tools/switchboard/logger"
)

// SpawnCommand describes one child-process invocation. It is immutable per
// invocation; drivers construct a fresh value for every turn.
type SpawnCommand struct {
	// Binary is the executable name, resolved on the target's PATH.
	Binary string
	// Args is the ordered argument list. Flags must precede positional
	// arguments; the provider CLIs misattribute trailing flags.
	Args []string
	// Dir is the working directory on the target.
	Dir string
	// Preamble is an optional shell bootstrap sourced before Binary runs
	// (e.g. nvm/rbenv setup on a remote host). Ignored when the transport
	// has no shell layer to run it in.
	Preamble string
	// Stdin is an optional payload written to the process's stdin, after
	// which the stream is closed. When empty, stdin is closed immediately
	// so the child can never block on an interactive prompt.
	Stdin string
}

// Process is the handle for a spawned child process. Stdout and Stderr are
// live pipes; Done is closed when the process exits.
type Process struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu       sync.Mutex
	exitCode *int
}

// PID returns the operating-system process id of the child. For the WSL and
// SSH transports this is the pid of the wrapping process on the host.
func (p *Process) PID() int {
	return p.pid
}

// Done returns a channel closed when the process has exited and its exit
// status recorded.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the process exit code, or nil if the process has not
// exited yet or was killed by a signal. Callers treat nil and zero alike as a
// clean exit; a stop request kills the child by signal and that must not be
// reported as a failure.
func (p *Process) ExitCode() *int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Terminate asks the process to exit gracefully (SIGTERM). Drivers escalate
// to Kill after a grace period.
func (p *Process) Terminate() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill forcefully terminates the process.
func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Runner spawns child processes on one execution target. Implementations are
// stateless per call beyond their fixed connection parameters, so a single
// Runner is safely shared by every driver bound to the same target.
type Runner interface {
	// Spawn starts the described command and returns its handle. The
	// returned Process already has its stdin payload written (or stdin
	// closed) and an exit monitor running.
	Spawn(cmd SpawnCommand) (*Process, error)

	// Description returns a short human-readable label for logs and the
	// doctor command (e.g. "local", "wsl:Ubuntu", "ssh:dev@build-box").
	Description() string
}

// start wires pipes, launches cmd, handles the stdin payload, and begins
// monitoring for exit. Shared by all three transports.
func start(cmd *exec.Cmd, stdinPayload string) (*Process, error) {
	log := logger.WithComponent("runner")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	p := &Process{
		Stdout: stdout,
		Stderr: stderr,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
	}

	if stdinPayload != "" {
		// Write the payload off the caller's goroutine; a pipe-buffer-sized
		// payload would otherwise deadlock against an un-read stdout.
		go func() {
			if _, err := io.WriteString(stdin, stdinPayload); err != nil {
				log.Debug("stdin payload write failed", "pid", p.pid, "error", err)
			}
			stdin.Close()
		}()
	} else {
		stdin.Close()
	}

	// monitorExit is the sole caller of cmd.Wait(). Everyone else observes
	// the Done channel and ExitCode.
	go p.monitorExit(log)

	return p, nil
}

// monitorExit waits for the process and records its exit status.
func (p *Process) monitorExit(log *slog.Logger) {
	err := p.cmd.Wait()

	p.mu.Lock()
	if err == nil {
		code := 0
		p.exitCode = &code
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		// ExitCode is -1 when the process was killed by a signal; leave
		// the exit code nil in that case so callers treat it as clean.
		if code := exitErr.ExitCode(); code >= 0 {
			p.exitCode = &code
		}
	}
	exitCode := p.exitCode
	p.mu.Unlock()

	if exitCode != nil {
		log.Debug("process exited", "pid", p.pid, "code", *exitCode)
	} else {
		log.Debug("process exited", "pid", p.pid, "code", "signal")
	}
	close(p.done)
}
