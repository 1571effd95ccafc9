package driver

import (
	"encoding/json"
	"strings"
)

// toolInputConfig defines how to extract a short description from a tool's
// input payload.
type toolInputConfig struct {
	Field       string // JSON field to extract
	ShortenPath bool   // Whether to shorten file paths to just the filename
	MaxLen      int    // Maximum length before truncation (0 = no limit)
}

// toolInputConfigs maps tool names to their input extraction configuration.
// Claude and gemini use capitalized and lowercase names respectively for the
// same operations, so both spellings appear.
var toolInputConfigs = map[string]toolInputConfig{
	// File operations - extract the path and shorten to filename
	"Read":       {Field: "file_path", ShortenPath: true},
	"Edit":       {Field: "file_path", ShortenPath: true},
	"Write":      {Field: "file_path", ShortenPath: true},
	"read_file":  {Field: "path", ShortenPath: true},
	"write_file": {Field: "path", ShortenPath: true},
	"edit_file":  {Field: "path", ShortenPath: true},

	// Search operations - extract the pattern/query
	"Glob":      {Field: "pattern"},
	"Grep":      {Field: "pattern", MaxLen: 30},
	"WebSearch": {Field: "query"},
	"glob":      {Field: "pattern"},
	"grep":      {Field: "pattern", MaxLen: 30},

	// Command execution - show the command with truncation
	"Bash":              {Field: "command", MaxLen: 40},
	"run_shell_command": {Field: "command", MaxLen: 40},

	// Task delegation - show the description
	"Task": {Field: "description"},

	// Web operations - show URL with truncation
	"WebFetch":  {Field: "url", MaxLen: 40},
	"web_fetch": {Field: "url", MaxLen: 40},
}

// defaultToolInputMaxLen is the default max length for tool descriptions.
const defaultToolInputMaxLen = 40

// extractToolInputDescription extracts a brief, human-readable description
// from a tool's input payload.
func extractToolInputDescription(toolName string, input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}

	var inputMap map[string]any
	if err := json.Unmarshal(input, &inputMap); err != nil {
		return ""
	}

	if cfg, ok := toolInputConfigs[toolName]; ok {
		if value, exists := inputMap[cfg.Field].(string); exists {
			return formatToolInput(value, cfg.ShortenPath, cfg.MaxLen)
		}
	}

	// Default: return first string value found
	for _, v := range inputMap {
		if s, ok := v.(string); ok && s != "" {
			return truncateString(s, defaultToolInputMaxLen)
		}
	}
	return ""
}

// formatToolInput formats a tool input value according to the config.
func formatToolInput(value string, shorten bool, maxLen int) string {
	if shorten {
		value = shortenPath(value)
	}
	if maxLen > 0 {
		value = truncateString(value, maxLen)
	}
	return value
}

// truncateString truncates a string to maxLen characters, including "..."
// suffix. A maxLen of 0 means no limit.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// shortenPath returns just the filename or last path component.
func shortenPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return path
}

// commandToolName resolves a display name for a shell command item. The codex
// CLI wraps commands in a shell invocation ("bash -lc <command>"); the name
// shown is the first word of the unwrapped command.
func commandToolName(command string) string {
	cmd := unwrapShellCommand(command)
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "shell"
	}
	return fields[0]
}

// unwrapShellCommand strips a "bash -lc"/"sh -c" wrapper from a command
// string, returning the wrapped command text.
func unwrapShellCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) >= 3 && (fields[0] == "bash" || fields[0] == "sh" || fields[0] == "zsh") &&
		strings.HasPrefix(fields[1], "-") && strings.Contains(fields[1], "c") {
		rest := strings.Join(fields[2:], " ")
		return strings.Trim(rest, `"'`)
	}
	return command
}
