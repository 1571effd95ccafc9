package driver

import (
	"encoding/json"
	"log/slog"

	"github.com/okapi-tools/switchboard/runner"
)

// codexItem is the item payload inside item.* events.
type codexItem struct {
	ID               string `json:"id"`
	Type             string `json:"item_type"` // "agent_message", "reasoning", "command_execution", "file_change", "mcp_tool_call", "web_search"
	Text             string `json:"text,omitempty"`
	Command          string `json:"command,omitempty"`
	AggregatedOutput string `json:"aggregated_output,omitempty"`
	ExitCode         *int   `json:"exit_code,omitempty"`
	Status           string `json:"status,omitempty"` // "in_progress", "completed", "failed"
	Server           string `json:"server,omitempty"`
	Tool             string `json:"tool,omitempty"`
	Query            string `json:"query,omitempty"`
	Path             string `json:"path,omitempty"`
}

// codexStreamMessage is one line of `codex exec --json` output.
type codexStreamMessage struct {
	Type     string     `json:"type"` // "thread.started", "turn.started", "turn.completed", "turn.failed", "item.started", "item.delta", "item.completed", "error"
	ThreadID string     `json:"thread_id,omitempty"`
	Item     *codexItem `json:"item,omitempty"`
	ItemID   string     `json:"item_id,omitempty"`
	Delta    string     `json:"delta,omitempty"`
	Usage    *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// codexToolItemTypes are the item types surfaced as tool calls.
var codexToolItemTypes = map[string]bool{
	"command_execution": true,
	"file_change":       true,
	"mcp_tool_call":     true,
	"web_search":        true,
}

// codexProtocol adapts the codex CLI's item/turn-oriented stream. The stream
// replays already-completed items in practice (the conditions are empirically
// observed, not documented), and long agent messages arrive as delta events
// before a final completed item carrying the full text, so three seen-id sets
// guard against duplicates:
//
//   - started: items already announced as tool calls, so the completed event
//     does not announce them again
//   - completed: items already finalized, so a replayed completed event is
//     suppressed entirely
//   - streamed: items whose text already arrived via deltas, so the
//     completed event's full text is not re-emitted
//
// All three reset at the start of every turn.
type codexProtocol struct {
	threadID string

	started   map[string]bool
	completed map[string]bool
	streamed  map[string]bool
}

func newCodexProtocol(resumeID string) *codexProtocol {
	p := &codexProtocol{threadID: resumeID}
	p.resetTurn()
	return p
}

func (p *codexProtocol) resumeID() string {
	return p.threadID
}

func (p *codexProtocol) resetTurn() {
	p.started = make(map[string]bool)
	p.completed = make(map[string]bool)
	p.streamed = make(map[string]bool)
}

// buildCommand constructs the codex invocation. Flags precede the resume
// subcommand and positional prompt; codex's parser misattributes them
// otherwise.
func (p *codexProtocol) buildCommand(req turnRequest) runner.SpawnCommand {
	args := []string{"exec", "--json", "--skip-git-repo-check"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.ResumeID != "" {
		args = append(args, "resume", req.ResumeID)
	}
	args = append(args, req.Content)

	return runner.SpawnCommand{
		Binary:   "codex",
		Args:     args,
		Dir:      req.Dir,
		Preamble: req.Preamble,
	}
}

func (p *codexProtocol) parseLine(line string, log *slog.Logger) []Event {
	var msg codexStreamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		log.Warn("failed to parse codex stream message", "error", err, "line", truncateForLog(line))
		return nil
	}

	switch msg.Type {
	case "thread.started":
		if msg.ThreadID != "" && p.threadID == "" {
			p.threadID = msg.ThreadID
			log.Debug("captured codex thread id", "threadID", p.threadID)
		}
		return nil

	case "item.started":
		return p.parseItemStarted(msg.Item)

	case "item.delta":
		return p.parseItemDelta(&msg)

	case "item.completed":
		return p.parseItemCompleted(msg.Item, log)

	case "turn.completed":
		if msg.Usage != nil {
			return []Event{usageEvent(msg.Usage.InputTokens, msg.Usage.OutputTokens, 0)}
		}
		return nil

	case "turn.failed":
		if msg.Error != nil {
			return []Event{errorEvent(msg.Error.Message)}
		}
		return []Event{errorEvent("codex turn failed")}

	case "error":
		return []Event{errorEvent(msg.Message)}
	}

	log.Debug("unhandled codex event type", "type", msg.Type)
	return nil
}

// parseItemStarted announces tool items as soon as they start running.
func (p *codexProtocol) parseItemStarted(item *codexItem) []Event {
	if item == nil || !codexToolItemTypes[item.Type] {
		return nil
	}
	if p.started[item.ID] {
		return nil
	}
	p.started[item.ID] = true
	return []Event{p.toolCallFor(item)}
}

// parseItemDelta emits streamed text chunks, marking the item so the final
// completed event's full text is suppressed.
func (p *codexProtocol) parseItemDelta(msg *codexStreamMessage) []Event {
	if msg.Delta == "" {
		return nil
	}
	p.streamed[msg.ItemID] = true
	return []Event{textEvent(msg.Delta)}
}

// parseItemCompleted finalizes an item. A completed tool item always yields
// exactly one result event, even when no output field is present — downstream
// pairing needs a result to close out every call.
func (p *codexProtocol) parseItemCompleted(item *codexItem, log *slog.Logger) []Event {
	if item == nil {
		return nil
	}
	if p.completed[item.ID] {
		log.Debug("suppressing replayed codex item", "itemID", item.ID)
		return nil
	}
	p.completed[item.ID] = true

	switch {
	case item.Type == "agent_message":
		if p.streamed[item.ID] {
			// Full text already delivered via deltas
			return nil
		}
		if item.Text == "" {
			return nil
		}
		return []Event{textEvent(item.Text)}

	case item.Type == "reasoning":
		if p.streamed[item.ID] || item.Text == "" {
			return nil
		}
		return []Event{thinkingEvent(item.Text)}

	case codexToolItemTypes[item.Type]:
		var events []Event
		if !p.started[item.ID] {
			// started event was missed (or replay arrived without it);
			// announce before resolving so the pair is complete
			p.started[item.ID] = true
			events = append(events, p.toolCallFor(item))
		}
		failed := item.Status == "failed" || (item.ExitCode != nil && *item.ExitCode != 0)
		events = append(events, toolResultEvent(item.ID, item.AggregatedOutput, failed))
		return events
	}

	log.Debug("unhandled codex item type", "itemType", item.Type)
	return nil
}

// toolCallFor builds the call event for a tool item.
func (p *codexProtocol) toolCallFor(item *codexItem) Event {
	switch item.Type {
	case "command_execution":
		return toolCallEvent(item.ID, commandToolName(item.Command), unwrapShellCommand(item.Command))
	case "file_change":
		return toolCallEvent(item.ID, "edit", shortenPath(item.Path))
	case "mcp_tool_call":
		name := item.Tool
		if item.Server != "" {
			name = item.Server + "." + item.Tool
		}
		return toolCallEvent(item.ID, name, "")
	case "web_search":
		return toolCallEvent(item.ID, "web_search", truncateString(item.Query, defaultToolInputMaxLen))
	}
	return toolCallEvent(item.ID, item.Type, "")
}
