package driver

import (
	"encoding/json"
	"testing"
)

func TestExtractToolInputDescription(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{"read path shortened", "Read", `{"file_path":"/home/u/project/main.go"}`, "main.go"},
		{"gemini read path shortened", "read_file", `{"path":"/etc/hosts"}`, "hosts"},
		{"grep pattern truncated", "Grep", `{"pattern":"a very long pattern that keeps going on"}`, "a very long pattern that ke..."},
		{"bash command truncated", "Bash", `{"command":"git log --oneline --graph --decorate --all"}`, "git log --oneline --graph --decorate ..."},
		{"unknown tool falls back to first string", "Mystery", `{"target":"thing"}`, "thing"},
		{"empty input", "Read", ``, ""},
		{"non-object input", "Read", `"just a string"`, ""},
		{"missing field falls back", "Read", `{"offset":10,"limit":5}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractToolInputDescription(tt.tool, json.RawMessage(tt.input))
			if got != tt.want {
				t.Errorf("extractToolInputDescription(%q, %s) = %q, want %q", tt.tool, tt.input, got, tt.want)
			}
		})
	}
}

func TestCommandToolName(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"bash -lc 'ls -la'", "ls"},
		{"sh -c \"make test\"", "make"},
		{"git status", "git"},
		{"zsh -lc npm install", "npm"},
		{"", "shell"},
		{"   ", "shell"},
	}

	for _, tt := range tests {
		if got := commandToolName(tt.command); got != tt.want {
			t.Errorf("commandToolName(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}

func TestUnwrapShellCommand(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"bash -lc 'ls -la'", "ls -la"},
		{"sh -c \"echo hi\"", "echo hi"},
		{"ls -la", "ls -la"},
		{"bash script.sh", "bash script.sh"},
	}

	for _, tt := range tests {
		if got := unwrapShellCommand(tt.command); got != tt.want {
			t.Errorf("unwrapShellCommand(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}
