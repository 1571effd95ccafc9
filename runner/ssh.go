package runner

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/okapi-tools/switchboard/logger"
	"github.com/okapi-tools/switchboard/paths"
)

// sshConnectTimeout bounds how long a spawn waits on an unreachable host.
const sshConnectTimeout = 10 // seconds, passed to -o ConnectTimeout

// SSH spawns processes on a remote host through the ssh CLI. Sessions are
// opened non-interactively (BatchMode) so a missing key or passphrase prompt
// fails fast instead of hanging; unknown host keys are auto-accepted.
type SSH struct {
	Host    string
	User    string
	Port    int
	KeyPath string
}

// NewSSH returns a Runner targeting user@host.
func NewSSH(host, user string, port int, keyPath string) *SSH {
	return &SSH{Host: host, User: user, Port: port, KeyPath: keyPath}
}

// Description implements Runner.
func (s *SSH) Description() string {
	return "ssh:" + s.target()
}

func (s *SSH) target() string {
	if s.User != "" {
		return s.User + "@" + s.Host
	}
	return s.Host
}

// Spawn implements Runner.
func (s *SSH) Spawn(sc SpawnCommand) (*Process, error) {
	log := logger.WithComponent("runner")

	script := buildPosixScript(sc, false)

	args := []string{
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", sshConnectTimeout),
		"-o", "StrictHostKeyChecking=accept-new",
	}
	args = append(args, s.multiplexArgs()...)
	if s.Port != 0 {
		args = append(args, "-p", strconv.Itoa(s.Port))
	}
	if s.KeyPath != "" {
		args = append(args, "-i", s.KeyPath)
	}
	args = append(args, s.target(), script)

	log.Debug("spawning SSH process", "target", s.target(), "binary", sc.Binary, "dir", sc.Dir)
	cmd := exec.Command("ssh", args...)
	return start(cmd, sc.Stdin)
}

// multiplexArgs enables connection reuse where the platform supports it.
// Windows OpenSSH has no ControlMaster support, so multiplexing is skipped
// there and every turn pays the full connection cost.
func (s *SSH) multiplexArgs() []string {
	if runtime.GOOS == "windows" {
		return nil
	}
	stateDir, err := paths.StateDir()
	if err != nil {
		return nil
	}
	controlPath := filepath.Join(stateDir, "ssh-%C")
	return []string{
		"-o", "ControlMaster=auto",
		"-o", "ControlPath=" + controlPath,
		"-o", "ControlPersist=10m",
	}
}
