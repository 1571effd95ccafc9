package runner

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/okapi-tools/switchboard/logger"
)

// probeTimeout is the maximum time to wait for availability probes.
// Probes run on the UI path (doctor, transport pickers), so they must not
// block for long on a wedged wsl.exe or an unreachable host.
const probeTimeout = 5 * time.Second

// BinaryOnPath returns true if the named executable is on the local PATH.
func BinaryOnPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// WSLInstalled returns true if the wsl.exe CLI is available.
func WSLInstalled() bool {
	if runtime.GOOS != "windows" {
		return false
	}
	return BinaryOnPath("wsl.exe")
}

// WSLDistros returns the installed WSL distribution names.
// Returns nil (not an error) if WSL is unavailable or the listing fails.
func WSLDistros() []string {
	if !WSLInstalled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "wsl.exe", "--list", "--quiet").Output()
	if err != nil {
		logger.WithComponent("runner").Debug("wsl --list failed", "error", err)
		return nil
	}

	return parseWSLList(out)
}

// parseWSLList decodes `wsl.exe --list --quiet` output. wsl.exe writes
// UTF-16LE to its stdout pipe, so the NUL bytes have to be stripped before
// splitting lines.
func parseWSLList(out []byte) []string {
	cleaned := make([]byte, 0, len(out)/2)
	for _, b := range out {
		if b != 0 {
			cleaned = append(cleaned, b)
		}
	}

	var distros []string
	for _, line := range strings.Split(string(cleaned), "\n") {
		name := strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if name != "" {
			distros = append(distros, name)
		}
	}
	return distros
}

// WSLDistroExists returns true if the named distribution is installed.
func WSLDistroExists(distro string) bool {
	for _, d := range WSLDistros() {
		if strings.EqualFold(d, distro) {
			return true
		}
	}
	return false
}

// SSHInstalled returns true if the ssh CLI is on the PATH.
func SSHInstalled() bool {
	return BinaryOnPath("ssh")
}

// Reachable probes whether the configured host accepts a non-interactive
// session. The probe runs `true` on the remote and succeeds only on a clean
// exit, bounded by the connect timeout.
func (s *SSH) Reachable() bool {
	p, err := s.Spawn(SpawnCommand{Binary: "true"})
	if err != nil {
		return false
	}

	select {
	case <-p.Done():
	case <-time.After(probeTimeout + sshConnectTimeout*time.Second):
		p.Kill()
		<-p.Done()
	}

	code := p.ExitCode()
	return code != nil && *code == 0
}

// AgentProcess is a running provider CLI process found on the local system,
// typically an orphan left behind by a crash.
type AgentProcess struct {
	PID     int
	Command string
}

// FindAgentProcesses lists provider CLI processes currently running on the
// local machine. The binaries argument names the CLIs to look for (e.g.
// "claude", "codex", "gemini").
func FindAgentProcesses(binaries []string) ([]AgentProcess, error) {
	var procs []AgentProcess
	log := logger.WithComponent("runner")

	switch runtime.GOOS {
	case "darwin", "linux":
		for _, bin := range binaries {
			out, err := exec.Command("pgrep", "-f", bin).Output()
			if err != nil {
				// pgrep exits 1 when nothing matches
				if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
					continue
				}
				return nil, err
			}
			for _, pidStr := range strings.Fields(string(out)) {
				pid, err := strconv.Atoi(strings.TrimSpace(pidStr))
				if err != nil {
					continue
				}
				psOut, err := exec.Command("ps", "-p", pidStr, "-o", "args=").Output()
				if err != nil {
					continue
				}
				procs = append(procs, AgentProcess{
					PID:     pid,
					Command: strings.TrimSpace(string(psOut)),
				})
			}
		}

	case "windows":
		for _, bin := range binaries {
			out, err := exec.Command("tasklist", "/FI", "IMAGENAME eq "+bin+"*", "/FO", "CSV", "/NH").Output()
			if err != nil {
				return nil, err
			}
			for _, line := range strings.Split(string(out), "\n") {
				fields := strings.Split(line, ",")
				if len(fields) < 2 {
					continue
				}
				pidStr := strings.Trim(strings.TrimSpace(fields[1]), "\"")
				pid, err := strconv.Atoi(pidStr)
				if err != nil {
					continue
				}
				procs = append(procs, AgentProcess{
					PID:     pid,
					Command: strings.Trim(fields[0], "\""),
				})
			}
		}
	}

	log.Debug("found agent processes", "count", len(procs))
	return procs, nil
}

// KillPID kills a process by PID using the platform kill tool.
func KillPID(pid int) error {
	switch runtime.GOOS {
	case "darwin", "linux":
		return exec.Command("kill", "-9", strconv.Itoa(pid)).Run()
	case "windows":
		return exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run()
	}
	return nil
}
