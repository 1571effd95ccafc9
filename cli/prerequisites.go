// Package cli provides availability checks for the provider CLIs, both on
// the local PATH and through a configured transport.
package cli

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/okapi-tools/switchboard/driver"
	"github.com/okapi-tools/switchboard/runner"
)

// checkTimeout bounds a single probe through a transport. A wedged wsl.exe
// or an unreachable SSH host must not hang the doctor command.
const checkTimeout = 15 * time.Second

// Prerequisite represents one CLI tool threads can run on.
type Prerequisite struct {
	Name        string // Command name (e.g., "claude", "codex")
	Required    bool   // Whether the tool is required to run the app
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
}

// ProviderPrerequisites returns the provider CLIs switchboard can drive.
// None is individually required; ValidateRequired demands at least one.
func ProviderPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        string(driver.ProviderClaude),
			Description: "Claude Code CLI",
			InstallURL:  "https://claude.ai/code",
		},
		{
			Name:        string(driver.ProviderCodex),
			Description: "Codex CLI",
			InstallURL:  "https://github.com/openai/codex",
		},
		{
			Name:        string(driver.ProviderGemini),
			Description: "Gemini CLI",
			InstallURL:  "https://github.com/google-gemini/gemini-cli",
		},
	}
}

// CheckResult contains the result of checking a prerequisite.
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found (local checks only)
	Version      string // Version string if available
	Error        error
}

// Check verifies that a CLI tool is available on the local PATH.
func Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := exec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = localVersion(prereq.Name)
	return result
}

// CheckAll verifies all prerequisites on the local PATH.
func CheckAll(prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(prereq)
	}
	return results
}

// CheckOnRunner verifies that a CLI tool is available through a transport by
// running `name --version` on the target. For the local transport this is
// equivalent to Check, minus the resolved path.
func CheckOnRunner(run runner.Runner, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	p, err := run.Spawn(runner.SpawnCommand{
		Binary: prereq.Name,
		Args:   []string{"--version"},
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to probe %s on %s: %w", prereq.Name, run.Description(), err)
		return result
	}

	go io.Copy(io.Discard, p.Stderr)
	out, _ := io.ReadAll(p.Stdout)
	select {
	case <-p.Done():
	case <-time.After(checkTimeout):
		p.Kill()
		<-p.Done()
		result.Error = fmt.Errorf("probe for %s on %s timed out", prereq.Name, run.Description())
		return result
	}

	code := p.ExitCode()
	if code == nil || *code != 0 {
		result.Error = fmt.Errorf("%s not available on %s", prereq.Name, run.Description())
		return result
	}

	result.Found = true
	result.Version = firstLine(string(out))
	return result
}

// CheckAllOnRunner verifies all prerequisites through a transport.
func CheckAllOnRunner(run runner.Runner, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = CheckOnRunner(run, prereq)
	}
	return results
}

// ValidateRequired checks that the results include every required tool and
// at least one provider CLI. Returns an error describing what's missing.
func ValidateRequired(results []CheckResult) error {
	var missing []string
	anyProvider := false

	for _, result := range results {
		if result.Found {
			if !result.Prerequisite.Required {
				anyProvider = true
			}
			continue
		}
		if result.Prerequisite.Required {
			missing = append(missing, describe(result.Prerequisite))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	if !anyProvider {
		var all []string
		for _, result := range results {
			if !result.Prerequisite.Required {
				all = append(all, describe(result.Prerequisite))
			}
		}
		if len(all) > 0 {
			return fmt.Errorf("no provider CLI found; install at least one of:\n%s", strings.Join(all, "\n"))
		}
	}
	return nil
}

func describe(prereq Prerequisite) string {
	return fmt.Sprintf("  - %s (%s)\n    Install: %s",
		prereq.Name, prereq.Description, prereq.InstallURL)
}

// FormatCheckResults renders check results for terminal display.
func FormatCheckResults(results []CheckResult) string {
	var b strings.Builder
	b.WriteString("Provider CLIs:\n")

	for _, result := range results {
		if result.Found {
			b.WriteString(fmt.Sprintf("  ✓ %s", result.Prerequisite.Name))
			if result.Version != "" {
				b.WriteString(fmt.Sprintf(" (%s)", result.Version))
			}
			b.WriteString("\n")
			continue
		}

		label := "optional"
		if result.Prerequisite.Required {
			label = "REQUIRED"
		}
		b.WriteString(fmt.Sprintf("  ✗ %s [%s] - %s\n",
			result.Prerequisite.Name, label, result.Prerequisite.Description))
		if result.Prerequisite.InstallURL != "" {
			b.WriteString(fmt.Sprintf("      Install: %s\n", result.Prerequisite.InstallURL))
		}
	}
	return b.String()
}

// localVersion attempts to get the version of a CLI tool on the local PATH.
func localVersion(name string) string {
	output, err := exec.Command(name, "--version").Output()
	if err != nil {
		return ""
	}
	return firstLine(string(output))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	line = strings.TrimSpace(line)
	if len(line) > 100 {
		line = line[:100] + "..."
	}
	return line
}
