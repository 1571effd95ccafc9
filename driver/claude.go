package driver

import (
	"encoding/json"
	"log/slog"

	"github.com/okapi-tools/switchboard/runner"
)

// planToolName and questionToolName are the two claude tools routed to
// dedicated event kinds instead of generic tool calls. Their results are
// resolved through the plan-approval and question flows, so the stream's own
// result blocks for them are suppressed.
const (
	planToolName     = "ExitPlanMode"
	questionToolName = "AskUserQuestion"
)

// claudeStreamUsage is the token usage block in claude's stream output.
type claudeStreamUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// claudeStreamMessage is one line of claude's stream-json output.
type claudeStreamMessage struct {
	Type    string `json:"type"`    // "system", "assistant", "user", "result"
	Subtype string `json:"subtype"` // "init", "success", "error_during_execution", ...
	Message struct {
		Content []struct {
			Type      string          `json:"type"` // "text", "thinking", "tool_use", "tool_result"
			ID        string          `json:"id,omitempty"`
			Text      string          `json:"text,omitempty"`
			Thinking  string          `json:"thinking,omitempty"`
			Name      string          `json:"name,omitempty"`
			Input     json.RawMessage `json:"input,omitempty"`
			ToolUseID string          `json:"tool_use_id,omitempty"`
			Content   json.RawMessage `json:"content,omitempty"`
			IsError   bool            `json:"is_error,omitempty"`
		} `json:"content"`
		Usage *claudeStreamUsage `json:"usage,omitempty"`
	} `json:"message"`
	SessionID    string             `json:"session_id,omitempty"`
	Result       string             `json:"result,omitempty"`
	Error        string             `json:"error,omitempty"`
	IsError      bool               `json:"is_error,omitempty"`
	TotalCostUSD float64            `json:"total_cost_usd,omitempty"`
	Usage        *claudeStreamUsage `json:"usage,omitempty"`
}

// claudeProtocol adapts the claude CLI's turn-oriented stream: assistant
// turns carry ordered content blocks, a system init event carries the
// resumable id, and a terminal result event carries usage and/or an error.
type claudeProtocol struct {
	sessionID string

	// suppressedResults holds tool_use ids whose result blocks must not be
	// surfaced because the call was routed to a plan/question event and is
	// resolved through a different interaction path. Reset per turn.
	suppressedResults map[string]bool
}

func newClaudeProtocol(resumeID string) *claudeProtocol {
	return &claudeProtocol{
		sessionID:         resumeID,
		suppressedResults: make(map[string]bool),
	}
}

func (c *claudeProtocol) resumeID() string {
	return c.sessionID
}

func (c *claudeProtocol) resetTurn() {
	c.suppressedResults = make(map[string]bool)
}

// buildCommand constructs the claude invocation. All flags precede the
// positional prompt; claude's parser misattributes flags placed after it.
func (c *claudeProtocol) buildCommand(req turnRequest) runner.SpawnCommand {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}
	args = append(args, req.Content)

	return runner.SpawnCommand{
		Binary:   "claude",
		Args:     args,
		Dir:      req.Dir,
		Preamble: req.Preamble,
	}
}

func (c *claudeProtocol) parseLine(line string, log *slog.Logger) []Event {
	var msg claudeStreamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		log.Warn("failed to parse claude stream message", "error", err, "line", truncateForLog(line))
		return nil
	}

	if msg.SessionID != "" && c.sessionID == "" {
		c.sessionID = msg.SessionID
		log.Debug("captured claude session id", "sessionID", c.sessionID)
	}

	switch msg.Type {
	case "system":
		if msg.Subtype == "init" {
			log.Debug("claude session initialized")
		}
		return nil

	case "assistant":
		return c.parseAssistant(&msg)

	case "user":
		return c.parseUser(&msg)

	case "result":
		return c.parseResult(&msg)
	}

	log.Debug("unhandled claude message type", "type", msg.Type)
	return nil
}

// parseAssistant translates an assistant turn's ordered content blocks.
func (c *claudeProtocol) parseAssistant(msg *claudeStreamMessage) []Event {
	var events []Event
	for _, block := range msg.Message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				events = append(events, textEvent(block.Text))
			}

		case "thinking":
			if block.Thinking != "" {
				events = append(events, thinkingEvent(block.Thinking))
			}

		case "tool_use":
			switch block.Name {
			case planToolName:
				c.suppressedResults[block.ID] = true
				events = append(events, Event{
					Kind:    EventPlanReady,
					Content: extractPlanText(block.Input),
				})
			case questionToolName:
				c.suppressedResults[block.ID] = true
				if ev, ok := parseClaudeQuestion(block.Input); ok {
					events = append(events, ev)
				}
			default:
				input := extractToolInputDescription(block.Name, block.Input)
				events = append(events, toolCallEvent(block.ID, block.Name, input))
			}
		}
	}
	return events
}

// parseUser translates tool result blocks, which arrive as user messages in
// the stream.
func (c *claudeProtocol) parseUser(msg *claudeStreamMessage) []Event {
	var events []Event
	for _, block := range msg.Message.Content {
		if block.Type != "tool_result" && block.ToolUseID == "" {
			continue
		}
		if c.suppressedResults[block.ToolUseID] {
			continue
		}
		// A result with no content field still yields an event with
		// empty content; pairing logic needs a result for every call.
		events = append(events, toolResultEvent(block.ToolUseID, claudeResultText(block.Content), block.IsError))
	}
	return events
}

// parseResult translates the terminal result event into usage and/or error.
func (c *claudeProtocol) parseResult(msg *claudeStreamMessage) []Event {
	var events []Event

	if msg.IsError || (msg.Subtype != "" && msg.Subtype != "success") {
		text := msg.Result
		if text == "" {
			text = msg.Error
		}
		if text == "" {
			text = "claude reported an error (" + msg.Subtype + ")"
		}
		events = append(events, errorEvent(text))
	}

	usage := msg.Usage
	if usage == nil {
		usage = msg.Message.Usage
	}
	if usage != nil {
		events = append(events, usageEvent(usage.InputTokens, usage.OutputTokens, msg.TotalCostUSD))
	}

	return events
}

// claudeResultText extracts display text from a tool_result content field,
// which may be a plain string or an array of typed blocks.
func claudeResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				if out != "" {
					out += "\n"
				}
				out += b.Text
			}
		}
		return out
	}

	return ""
}

// extractPlanText pulls the plan body out of the plan tool's input.
func extractPlanText(input json.RawMessage) string {
	var payload struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return ""
	}
	return payload.Plan
}

// parseClaudeQuestion translates the question tool's structured input into a
// question event. Only the first question is surfaced; the CLI sends one at
// a time in practice.
func parseClaudeQuestion(input json.RawMessage) (Event, bool) {
	var payload struct {
		Questions []struct {
			Question    string `json:"question"`
			MultiSelect bool   `json:"multiSelect"`
			Options     []struct {
				Label string `json:"label"`
			} `json:"options"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(input, &payload); err != nil || len(payload.Questions) == 0 {
		return Event{}, false
	}

	q := payload.Questions[0]
	options := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		options = append(options, o.Label)
	}

	return Event{
		Kind:    EventQuestion,
		Content: q.Question,
		Meta: map[string]any{
			MetaQuestionOptions: options,
			MetaQuestionMulti:   q.MultiSelect,
		},
	}, true
}
