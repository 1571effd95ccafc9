package driver

import "strings"

// EventKind discriminates the normalized event model. Every provider's native
// stream is translated into exactly these kinds.
type EventKind string

const (
	// EventText is assistant-visible prose (full blocks or streamed deltas).
	EventText EventKind = "text"
	// EventToolCall announces a tool invocation. Meta carries the
	// correlation id under MetaToolUseID.
	EventToolCall EventKind = "tool_call"
	// EventToolResult closes out a tool call. Carries the same correlation
	// id so consumers can pair it with the earlier call.
	EventToolResult EventKind = "tool_result"
	// EventThinking is model reasoning text, displayed differently from
	// regular prose.
	EventThinking EventKind = "thinking"
	// EventPlanReady carries a proposed plan awaiting user approval.
	EventPlanReady EventKind = "plan_ready"
	// EventQuestion carries a structured clarifying question.
	EventQuestion EventKind = "question"
	// EventUsage reports token usage for the turn.
	EventUsage EventKind = "usage"
	// EventError is a provider-reported application error.
	EventError EventKind = "error"
	// EventRateLimit indicates the provider refused the turn due to a
	// usage/rate limit.
	EventRateLimit EventKind = "rate_limit"
)

// Metadata keys used in Event.Meta.
const (
	// MetaToolUseID correlates a tool_call with its tool_result.
	MetaToolUseID = "tool_use_id"
	// MetaToolName is the tool's display name on a tool_call.
	MetaToolName = "tool_name"
	// MetaToolInput is a short human-readable description of the input.
	MetaToolInput = "tool_input"
	// MetaIsError marks a tool_result or terminal event as failed.
	MetaIsError = "is_error"
	// MetaCancelled marks a synthesized result for a call whose real
	// result never arrived.
	MetaCancelled = "cancelled"
	// MetaInputTokens / MetaOutputTokens carry usage counts (int).
	MetaInputTokens  = "input_tokens"
	MetaOutputTokens = "output_tokens"
	// MetaCostUSD carries the turn cost where the provider reports one.
	MetaCostUSD = "cost_usd"
	// MetaQuestionOptions is a []string of selectable answers on a
	// question event.
	MetaQuestionOptions = "options"
	// MetaQuestionMulti marks a question that accepts multiple selections.
	MetaQuestionMulti = "multi_select"
)

// Event is one normalized output event. Content is the display string; Meta
// holds optional structured metadata keyed by the Meta* constants.
type Event struct {
	Kind    EventKind
	Content string
	Meta    map[string]any
}

// ToolUseID returns the correlation id for tool_call/tool_result events, or
// the empty string.
func (e Event) ToolUseID() string {
	if e.Meta == nil {
		return ""
	}
	id, _ := e.Meta[MetaToolUseID].(string)
	return id
}

// textEvent builds a plain text event.
func textEvent(content string) Event {
	return Event{Kind: EventText, Content: content}
}

// thinkingEvent builds a reasoning event.
func thinkingEvent(content string) Event {
	return Event{Kind: EventThinking, Content: content}
}

// toolCallEvent builds a tool_call with its correlation id.
func toolCallEvent(id, name, input string) Event {
	return Event{
		Kind:    EventToolCall,
		Content: input,
		Meta: map[string]any{
			MetaToolUseID: id,
			MetaToolName:  name,
			MetaToolInput: input,
		},
	}
}

// toolResultEvent builds a tool_result with its correlation id. A call with
// no observable output still gets a result with empty content so downstream
// pairing always terminates.
func toolResultEvent(id, content string, isError bool) Event {
	ev := Event{
		Kind:    EventToolResult,
		Content: content,
		Meta:    map[string]any{MetaToolUseID: id},
	}
	if isError {
		ev.Meta[MetaIsError] = true
	}
	return ev
}

// CancelledResultEvent builds the synthesized tool_result used to close out a
// call whose real result never arrived (process exited, errored, or was
// stopped mid-call).
func CancelledResultEvent(id string) Event {
	return Event{
		Kind:    EventToolResult,
		Content: "",
		Meta: map[string]any{
			MetaToolUseID: id,
			MetaCancelled: true,
		},
	}
}

// usageEvent builds a usage event from token counts.
func usageEvent(inputTokens, outputTokens int, costUSD float64) Event {
	meta := map[string]any{
		MetaInputTokens:  inputTokens,
		MetaOutputTokens: outputTokens,
	}
	if costUSD > 0 {
		meta[MetaCostUSD] = costUSD
	}
	return Event{Kind: EventUsage, Meta: meta}
}

// errorEvent builds an error event, upgrading rate-limit refusals to their
// own kind so the UI can show a retry hint instead of a failure.
func errorEvent(message string) Event {
	if isRateLimitMessage(message) {
		return Event{Kind: EventRateLimit, Content: message}
	}
	return Event{Kind: EventError, Content: message}
}

// isRateLimitMessage recognizes the usage-limit phrasings the provider CLIs
// use in their error text. None of them report a machine-readable code for
// this today.
func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "usage limit") ||
		strings.Contains(lower, "quota exceeded")
}
