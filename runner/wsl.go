package runner

import (
	"os/exec"

	"github.com/okapi-tools/switchboard/logger"
)

// WSL spawns processes inside a Windows Subsystem for Linux distribution by
// wrapping them in wsl.exe. The command always runs through a login shell so
// the distro's own profile applies, with HOME corrected first (the host
// environment leaks a Windows HOME into the distro, which breaks toolchain
// discovery inside it).
type WSL struct {
	// Distro is the distribution name (as shown by `wsl.exe --list`).
	// Empty means the default distribution.
	Distro string
}

// NewWSL returns a Runner targeting the named WSL distribution.
func NewWSL(distro string) *WSL {
	return &WSL{Distro: distro}
}

// Description implements Runner.
func (w *WSL) Description() string {
	if w.Distro == "" {
		return "wsl"
	}
	return "wsl:" + w.Distro
}

// Spawn implements Runner.
func (w *WSL) Spawn(sc SpawnCommand) (*Process, error) {
	log := logger.WithComponent("runner")

	script := buildPosixScript(sc, true)

	args := []string{}
	if w.Distro != "" {
		args = append(args, "-d", w.Distro)
	}
	args = append(args, "--", "sh", "-lc", script)

	log.Debug("spawning WSL process", "distro", w.Distro, "binary", sc.Binary, "dir", sc.Dir)
	cmd := exec.Command("wsl.exe", args...)
	return start(cmd, sc.Stdin)
}
