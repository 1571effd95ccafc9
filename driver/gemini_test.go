package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiBuildCommand(t *testing.T) {
	p := newGeminiProtocol("")
	sc := p.buildCommand(turnRequest{Content: "hello", Dir: "/work"})

	assert.Equal(t, "gemini", sc.Binary)
	assert.Equal(t, []string{"--output-format", "stream-json"}, sc.Args)
	// Gemini never takes the prompt as a positional; it arrives on stdin.
	assert.Equal(t, "hello", sc.Stdin)
}

func TestGeminiBuildCommandResume(t *testing.T) {
	p := newGeminiProtocol("sess-7")
	sc := p.buildCommand(turnRequest{Content: "more", Model: "flash", ResumeID: p.resumeID()})

	assert.Equal(t, []string{"--output-format", "stream-json", "--model", "flash", "--resume", "sess-7"}, sc.Args)
}

func TestGeminiSessionIDCapture(t *testing.T) {
	p := newGeminiProtocol("")
	parseAll(t, p,
		`{"type":"init","session_id":"g-1"}`,
		`{"type":"message","session_id":"g-2","role":"assistant","content":"hi"}`,
	)
	assert.Equal(t, "g-1", p.resumeID())
}

func TestGeminiAssistantMessage(t *testing.T) {
	p := newGeminiProtocol("")
	events := parseAll(t, p,
		`{"type":"message","session_id":"g-1","role":"assistant","content":"Here you go."}`,
		`{"type":"message","session_id":"g-1","role":"user","content":"ignored"}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "Here you go.", events[0].Content)
}

func TestGeminiThought(t *testing.T) {
	p := newGeminiProtocol("")
	events := parseAll(t, p,
		`{"type":"message","session_id":"g-1","role":"assistant","content":"hmm","thought":true}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventThinking, events[0].Kind)
}

func TestGeminiToolEmittedOnlyWhenFinished(t *testing.T) {
	p := newGeminiProtocol("")
	pending := parseAll(t, p,
		`{"type":"tool_use","session_id":"g-1","tool_id":"t1","tool_name":"read_file","tool_input":{"path":"/src/main.go"},"status":"pending"}`,
		`{"type":"tool_use","session_id":"g-1","tool_id":"t1","tool_name":"read_file","tool_input":{"path":"/src/main.go"},"status":"running"}`,
	)
	assert.Empty(t, pending)

	events := parseAll(t, p,
		`{"type":"tool_use","session_id":"g-1","tool_id":"t1","tool_name":"read_file","tool_input":{"path":"/src/main.go"},"status":"completed","output":"package main"}`,
	)

	require.Len(t, events, 2)
	assert.Equal(t, EventToolCall, events[0].Kind)
	assert.Equal(t, "t1", events[0].ToolUseID())
	assert.Equal(t, "read_file", events[0].Meta[MetaToolName])
	assert.Equal(t, "main.go", events[0].Meta[MetaToolInput])
	assert.Equal(t, EventToolResult, events[1].Kind)
	assert.Equal(t, "package main", events[1].Content)
	assert.NotContains(t, events[1].Meta, MetaIsError)
}

func TestGeminiFinishedToolNotReEmitted(t *testing.T) {
	p := newGeminiProtocol("")
	line := `{"type":"tool_use","session_id":"g-1","tool_id":"t2","tool_name":"glob","tool_input":{"pattern":"*.go"},"status":"completed","output":"a.go"}`

	require.Len(t, parseAll(t, p, line), 2)
	assert.Empty(t, parseAll(t, p, line))
}

func TestGeminiFailedTool(t *testing.T) {
	p := newGeminiProtocol("")
	events := parseAll(t, p,
		`{"type":"tool_use","session_id":"g-1","tool_id":"t3","tool_name":"run_shell_command","tool_input":{"command":"false"},"status":"failed"}`,
	)

	require.Len(t, events, 2)
	assert.Equal(t, true, events[1].Meta[MetaIsError])
	assert.Empty(t, events[1].Content)
}

func TestGeminiStats(t *testing.T) {
	p := newGeminiProtocol("")
	events := parseAll(t, p,
		`{"type":"stats","session_id":"g-1","input_tokens":50,"output_tokens":20}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventUsage, events[0].Kind)
	assert.Equal(t, 50, events[0].Meta[MetaInputTokens])
}

func TestGeminiError(t *testing.T) {
	p := newGeminiProtocol("")
	events := parseAll(t, p,
		`{"type":"error","session_id":"g-1","message":"internal failure"}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
}

func TestGeminiRateLimit(t *testing.T) {
	p := newGeminiProtocol("")
	events := parseAll(t, p,
		`{"type":"error","session_id":"g-1","message":"Rate limit reached, retry later"}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventRateLimit, events[0].Kind)
}

func TestGeminiUnknownTypeIgnored(t *testing.T) {
	p := newGeminiProtocol("")
	assert.Empty(t, parseAll(t, p, `{"type":"telemetry","session_id":"g-1"}`))
}
