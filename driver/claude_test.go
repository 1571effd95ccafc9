package driver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger discards output; parse paths log but never depend on it.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// parseAll feeds lines through a protocol and collects every event.
func parseAll(t *testing.T, p protocol, lines ...string) []Event {
	t.Helper()
	log := testLogger()
	var events []Event
	for _, line := range lines {
		events = append(events, p.parseLine(line, log)...)
	}
	return events
}

func TestClaudeBuildCommand(t *testing.T) {
	p := newClaudeProtocol("")
	sc := p.buildCommand(turnRequest{Content: "hello", Dir: "/work"})

	assert.Equal(t, "claude", sc.Binary)
	assert.Equal(t, []string{"-p", "--output-format", "stream-json", "--verbose", "hello"}, sc.Args)
	assert.Equal(t, "/work", sc.Dir)
	assert.Empty(t, sc.Stdin)
}

func TestClaudeBuildCommandFlagsPrecedePrompt(t *testing.T) {
	p := newClaudeProtocol("sess-1")
	sc := p.buildCommand(turnRequest{Content: "continue", Model: "opus", ResumeID: p.resumeID()})

	require.NotEmpty(t, sc.Args)
	assert.Equal(t, "continue", sc.Args[len(sc.Args)-1])
	assert.Contains(t, sc.Args, "--model")
	assert.Contains(t, sc.Args, "--resume")
	assert.Equal(t, []string{"-p", "--output-format", "stream-json", "--verbose", "--model", "opus", "--resume", "sess-1", "continue"}, sc.Args)
}

func TestClaudeSimpleTurn(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"system","subtype":"init","session_id":"abc-123"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Hi."}]}}`,
		`{"type":"result","subtype":"success","session_id":"abc-123","usage":{"input_tokens":10,"output_tokens":3},"total_cost_usd":0.01}`,
	)

	require.Len(t, events, 2)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "Hi.", events[0].Content)
	assert.Equal(t, EventUsage, events[1].Kind)
	assert.Equal(t, 10, events[1].Meta[MetaInputTokens])
	assert.Equal(t, 3, events[1].Meta[MetaOutputTokens])
	assert.Equal(t, 0.01, events[1].Meta[MetaCostUSD])

	assert.Equal(t, "abc-123", p.resumeID())
}

func TestClaudeSessionIDCapturedOnce(t *testing.T) {
	p := newClaudeProtocol("")
	parseAll(t, p,
		`{"type":"system","subtype":"init","session_id":"first"}`,
		`{"type":"result","subtype":"success","session_id":"second"}`,
	)
	assert.Equal(t, "first", p.resumeID())
}

func TestClaudeToolCallAndResult(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu_1","name":"Read","input":{"file_path":"/src/pkg/main.go"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_1","content":"package main"}]}}`,
	)

	require.Len(t, events, 2)
	assert.Equal(t, EventToolCall, events[0].Kind)
	assert.Equal(t, "tu_1", events[0].ToolUseID())
	assert.Equal(t, "Read", events[0].Meta[MetaToolName])
	assert.Equal(t, "main.go", events[0].Meta[MetaToolInput])

	assert.Equal(t, EventToolResult, events[1].Kind)
	assert.Equal(t, "tu_1", events[1].ToolUseID())
	assert.Equal(t, "package main", events[1].Content)
	assert.NotContains(t, events[1].Meta, MetaIsError)
}

func TestClaudeToolResultWithoutContent(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_2"}]}}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventToolResult, events[0].Kind)
	assert.Equal(t, "tu_2", events[0].ToolUseID())
	assert.Empty(t, events[0].Content)
}

func TestClaudeToolResultBlockContent(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_3","content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}],"is_error":true}]}}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, "line one\nline two", events[0].Content)
	assert.Equal(t, true, events[0].Meta[MetaIsError])
}

func TestClaudeThinking(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"considering options"},{"type":"text","text":"Done."}]}}`,
	)

	require.Len(t, events, 2)
	assert.Equal(t, EventThinking, events[0].Kind)
	assert.Equal(t, "considering options", events[0].Content)
	assert.Equal(t, EventText, events[1].Kind)
}

func TestClaudePlanReady(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu_plan","name":"ExitPlanMode","input":{"plan":"1. do the thing"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_plan","content":"approved"}]}}`,
	)

	// The plan tool's own result is resolved through the approval flow,
	// never surfaced as a tool_result.
	require.Len(t, events, 1)
	assert.Equal(t, EventPlanReady, events[0].Kind)
	assert.Equal(t, "1. do the thing", events[0].Content)
}

func TestClaudeQuestion(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu_q","name":"AskUserQuestion","input":{"questions":[{"question":"Which database?","multiSelect":false,"options":[{"label":"postgres"},{"label":"sqlite"}]}]}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_q","content":"answered"}]}}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventQuestion, events[0].Kind)
	assert.Equal(t, "Which database?", events[0].Content)
	assert.Equal(t, []string{"postgres", "sqlite"}, events[0].Meta[MetaQuestionOptions])
	assert.Equal(t, false, events[0].Meta[MetaQuestionMulti])
}

func TestClaudeErrorResult(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"something broke"}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, "something broke", events[0].Content)
}

func TestClaudeRateLimitResult(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"You have hit your usage limit for today"}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventRateLimit, events[0].Kind)
}

func TestClaudeErrorResultFallbackText(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p,
		`{"type":"result","subtype":"error_max_turns","is_error":true}`,
	)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Contains(t, events[0].Content, "error_max_turns")
}

func TestClaudeGarbageLine(t *testing.T) {
	p := newClaudeProtocol("")
	events := parseAll(t, p, `{"type":`)
	assert.Empty(t, events)
}

func TestClaudeSuppressionResetsPerTurn(t *testing.T) {
	p := newClaudeProtocol("")
	parseAll(t, p,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu_plan","name":"ExitPlanMode","input":{"plan":"x"}}]}}`,
	)
	p.resetTurn()

	events := parseAll(t, p,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_plan","content":"ok"}]}}`,
	)
	require.Len(t, events, 1)
	assert.Equal(t, EventToolResult, events[0].Kind)
}
