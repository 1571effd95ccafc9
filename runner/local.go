package runner

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/okapi-tools/switchboard/logger"
	"github.com/okapi-tools/switchboard/paths"
)

// Local spawns processes directly on the host machine.
type Local struct{}

// NewLocal returns a Runner that spawns on the host.
func NewLocal() *Local {
	return &Local{}
}

// Description implements Runner.
func (l *Local) Description() string {
	return "local"
}

// Spawn implements Runner.
//
// On POSIX hosts the binary is spawned directly (or through sh -c when a
// preamble is supplied). On Windows, cmd.exe cannot safely join argument
// arrays, so a single command string is built with per-argument quoting; UNC
// working directories additionally go through a short launch script because
// cmd.exe refuses a UNC path as its current directory.
func (l *Local) Spawn(sc SpawnCommand) (*Process, error) {
	log := logger.WithComponent("runner")

	if runtime.GOOS == "windows" {
		return l.spawnWindows(sc)
	}

	var cmd *exec.Cmd
	if sc.Preamble != "" {
		cmd = exec.Command("sh", "-c", buildPosixScript(SpawnCommand{
			Binary:   sc.Binary,
			Args:     sc.Args,
			Preamble: sc.Preamble,
		}, false))
	} else {
		cmd = exec.Command(sc.Binary, sc.Args...)
	}
	cmd.Dir = sc.Dir

	log.Debug("spawning local process", "binary", sc.Binary, "dir", sc.Dir)
	return start(cmd, sc.Stdin)
}

// spawnWindows spawns through cmd.exe with explicit quoting.
func (l *Local) spawnWindows(sc SpawnCommand) (*Process, error) {
	log := logger.WithComponent("runner")

	command := windowsCommandString(sc.Binary, sc.Args)

	if isUNCPath(sc.Dir) {
		// cmd.exe cannot cd into \\server\share paths. pushd maps a
		// temporary drive letter instead, so route through a script.
		scriptPath, err := writeWindowsLaunchScript(sc.Dir, command)
		if err != nil {
			return nil, err
		}
		log.Debug("spawning via UNC launch script", "script", scriptPath, "dir", sc.Dir)
		cmd := exec.Command("cmd.exe", "/d", "/c", scriptPath)
		return start(cmd, sc.Stdin)
	}

	cmd := exec.Command("cmd.exe", "/d", "/s", "/c", command)
	cmd.Dir = sc.Dir
	log.Debug("spawning local process", "command", command, "dir", sc.Dir)
	return start(cmd, sc.Stdin)
}

// windowsCommandString joins a binary and arguments into one cmd.exe command
// line, quoting any argument containing whitespace or shell metacharacters.
func windowsCommandString(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, windowsQuote(binary))
	for _, a := range args {
		parts = append(parts, windowsQuote(a))
	}
	return strings.Join(parts, " ")
}

// windowsQuote quotes a single argument for cmd.exe if needed. Double quotes
// inside the argument are doubled, which is how cmd.exe escapes them.
func windowsQuote(arg string) string {
	if arg == "" {
		return `""`
	}
	if !strings.ContainsAny(arg, " \t\"&|<>^%()") {
		return arg
	}
	return `"` + strings.ReplaceAll(arg, `"`, `""`) + `"`
}

// isUNCPath reports whether p is a UNC-style path (\\server\share\...).
func isUNCPath(p string) bool {
	return strings.HasPrefix(p, `\\`)
}

// writeWindowsLaunchScript writes a short .cmd file that pushd's into the UNC
// directory before running the command. pushd maps the share to a temporary
// drive letter, which is the only way cmd.exe can treat it as a working
// directory.
func writeWindowsLaunchScript(dir, command string) (string, error) {
	scratch, err := paths.ScratchDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve scratch dir: %w", err)
	}
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}

	script := "@echo off\r\n" +
		"pushd \"" + dir + "\"\r\n" +
		command + "\r\n" +
		"set EXITCODE=%ERRORLEVEL%\r\n" +
		"popd\r\n" +
		"exit /b %EXITCODE%\r\n"

	name := fmt.Sprintf("launch-%d.cmd", time.Now().UnixNano())
	path := filepath.Join(scratch, name)
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		return "", fmt.Errorf("failed to write launch script: %w", err)
	}
	return path, nil
}
