package session

import (
	"time"

	"github.com/okapi-tools/switchboard/driver"
)

// Status is the finite thread state machine. Transitions out of running are
// picked at turn end by priority: error > plan_pending > question_pending >
// idle, with stopped overriding everything when a stop was requested.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusRunning         Status = "running"
	StatusError           Status = "error"
	StatusPlanPending     Status = "plan_pending"
	StatusQuestionPending Status = "question_pending"
	StatusStopped         Status = "stopped"
)

// Role classifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Thread is one conversation. It owns named agent sessions, of which exactly
// one is active at a time.
type Thread struct {
	ID                   string          `json:"id"`
	Title                string          `json:"title,omitempty"`
	TitleGenerated       bool            `json:"title_generated,omitempty"`
	Provider             driver.Provider `json:"provider"`
	Model                string          `json:"model,omitempty"`
	WorkDir              string          `json:"work_dir"`
	Status               Status          `json:"status"`
	ActiveAgentSessionID string          `json:"active_agent_session_id,omitempty"`
	InputTokens          int             `json:"input_tokens"`
	OutputTokens         int             `json:"output_tokens"`
	CreatedAt            time.Time       `json:"created_at"`
}

// AgentSession is a named, independently resumable conversation context
// within a thread ("Planning", "Execution", ...). Each binds 1:1 to a Driver
// at runtime and to a provider-side resumable id in storage.
type AgentSession struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Name      string    `json:"name"`
	ResumeID  string    `json:"resume_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one persisted conversation entry, owned by an agent session.
type Message struct {
	ID             string         `json:"id"`
	ThreadID       string         `json:"thread_id"`
	AgentSessionID string         `json:"agent_session_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Meta           map[string]any `json:"meta,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Store is the persistence collaborator. The core only ever touches storage
// through these narrow calls; schema and medium are the implementation's
// business.
type Store interface {
	GetThread(id string) (*Thread, error)
	SaveThread(t *Thread) error
	UpdateThreadStatus(threadID string, status Status) error
	SetThreadTitle(threadID, title string, generated bool) error
	AddUsage(threadID string, inputTokens, outputTokens int) error

	ListAgentSessions(threadID string) ([]*AgentSession, error)
	CreateAgentSession(as *AgentSession) error
	SetAgentSessionResumeID(id, resumeID string) error
	SetActiveAgentSession(threadID, agentSessionID string) error

	InsertMessage(m *Message) error
}
