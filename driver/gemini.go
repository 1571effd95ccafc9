package driver

import (
	"encoding/json"
	"log/slog"

	"github.com/okapi-tools/switchboard/runner"
)

// geminiStreamMessage is one line of `gemini --output-format stream-json`
// output. The stream is flat: every event carries the session id and a type
// tag, with the remaining fields populated per type.
type geminiStreamMessage struct {
	Type      string `json:"type"` // "init", "message", "tool_use", "stats", "error"
	SessionID string `json:"session_id,omitempty"`

	// message fields
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Thought bool   `json:"thought,omitempty"`

	// tool_use fields
	ToolID    string          `json:"tool_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Status    string          `json:"status,omitempty"` // "pending", "running", "completed", "failed"
	Output    string          `json:"output,omitempty"`

	// stats fields
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// error fields
	Message string `json:"message,omitempty"`
}

// geminiProtocol adapts the gemini CLI stream. Tool events are only surfaced
// once the tool has finished: gemini re-emits the same tool_use event on every
// status transition, so acting on pending/running states would announce each
// call several times. A finished event yields the call and its result
// back-to-back, with emittedTools guarding against finished-state re-emission.
type geminiProtocol struct {
	sessionID string

	emittedTools map[string]bool
}

func newGeminiProtocol(resumeID string) *geminiProtocol {
	p := &geminiProtocol{sessionID: resumeID}
	p.resetTurn()
	return p
}

func (p *geminiProtocol) resumeID() string {
	return p.sessionID
}

func (p *geminiProtocol) resetTurn() {
	p.emittedTools = make(map[string]bool)
}

// buildCommand constructs the gemini invocation. Gemini takes no positional
// prompt; it always reads the prompt from standard input.
func (p *geminiProtocol) buildCommand(req turnRequest) runner.SpawnCommand {
	args := []string{"--output-format", "stream-json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}

	return runner.SpawnCommand{
		Binary:   "gemini",
		Args:     args,
		Dir:      req.Dir,
		Preamble: req.Preamble,
		Stdin:    req.Content,
	}
}

func (p *geminiProtocol) parseLine(line string, log *slog.Logger) []Event {
	var msg geminiStreamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		log.Warn("failed to parse gemini stream message", "error", err, "line", truncateForLog(line))
		return nil
	}

	if msg.SessionID != "" && p.sessionID == "" {
		p.sessionID = msg.SessionID
		log.Debug("captured gemini session id", "sessionID", p.sessionID)
	}

	switch msg.Type {
	case "init":
		return nil

	case "message":
		return p.parseMessage(&msg)

	case "tool_use":
		return p.parseToolUse(&msg, log)

	case "stats":
		return []Event{usageEvent(msg.InputTokens, msg.OutputTokens, 0)}

	case "error":
		return []Event{errorEvent(msg.Message)}
	}

	log.Debug("unhandled gemini event type", "type", msg.Type)
	return nil
}

func (p *geminiProtocol) parseMessage(msg *geminiStreamMessage) []Event {
	if msg.Role != "assistant" || msg.Content == "" {
		return nil
	}
	if msg.Thought {
		return []Event{thinkingEvent(msg.Content)}
	}
	return []Event{textEvent(msg.Content)}
}

// parseToolUse surfaces a finished tool as one call event immediately
// followed by one result event. A failed status sets the result's error flag;
// a missing output field resolves as success with empty output.
func (p *geminiProtocol) parseToolUse(msg *geminiStreamMessage, log *slog.Logger) []Event {
	switch msg.Status {
	case "completed", "failed":
	default:
		return nil
	}
	if p.emittedTools[msg.ToolID] {
		log.Debug("suppressing re-emitted gemini tool event", "toolID", msg.ToolID)
		return nil
	}
	p.emittedTools[msg.ToolID] = true

	input := extractToolInputDescription(msg.ToolName, msg.ToolInput)
	return []Event{
		toolCallEvent(msg.ToolID, msg.ToolName, input),
		toolResultEvent(msg.ToolID, msg.Output, msg.Status == "failed"),
	}
}
