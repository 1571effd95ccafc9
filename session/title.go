package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/okapi-tools/switchboard/driver"
	"github.com/okapi-tools/switchboard/runner"
)

const (
	maxTitleLen = 60

	titlePrompt = "Reply with only a short title (at most six words, no quotes, no punctuation at the end) summarizing this request: "
)

// TitleGenerator produces a thread title from its first message.
type TitleGenerator interface {
	Generate(content string) (string, error)
}

// ProvisionalTitle derives an immediate placeholder title from a message:
// its first line, truncated.
func ProvisionalTitle(content string) string {
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > maxTitleLen {
		line = line[:maxTitleLen-3] + "..."
	}
	return line
}

// CLITitleGenerator asks the provider CLI for a title with a one-shot,
// non-streaming completion through the same transport the thread uses.
type CLITitleGenerator struct {
	Provider driver.Provider
	Runner   runner.Runner
}

func (g *CLITitleGenerator) Generate(content string) (string, error) {
	sc, err := titleCommand(g.Provider, titlePrompt+content)
	if err != nil {
		return "", err
	}

	proc, err := g.Runner.Spawn(sc)
	if err != nil {
		return "", fmt.Errorf("failed to start title generation: %w", err)
	}

	go io.Copy(io.Discard, proc.Stderr)
	out, _ := io.ReadAll(proc.Stdout)
	<-proc.Done()

	if code := proc.ExitCode(); code != nil && *code != 0 {
		return "", fmt.Errorf("title generation exited with code %d", *code)
	}

	title := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	title = strings.Trim(title, `"`)
	if title == "" {
		return "", fmt.Errorf("title generation produced no output")
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen-3] + "..."
	}
	return title, nil
}

// titleCommand builds the plain-output invocation per provider. Gemini takes
// the prompt on stdin, the other two as a trailing positional.
func titleCommand(provider driver.Provider, prompt string) (runner.SpawnCommand, error) {
	switch provider {
	case driver.ProviderClaude:
		return runner.SpawnCommand{Binary: "claude", Args: []string{"-p", prompt}}, nil
	case driver.ProviderCodex:
		return runner.SpawnCommand{Binary: "codex", Args: []string{"exec", "--skip-git-repo-check", prompt}}, nil
	case driver.ProviderGemini:
		return runner.SpawnCommand{Binary: "gemini", Stdin: prompt}, nil
	}
	return runner.SpawnCommand{}, fmt.Errorf("unknown provider %q", provider)
}
