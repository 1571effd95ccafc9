package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okapi-tools/switchboard/driver"
	"github.com/okapi-tools/switchboard/logger"
	"github.com/okapi-tools/switchboard/runner"
)

// defaultAgentSessionName is the name of the sub-context a fresh thread
// starts with.
const defaultAgentSessionName = "Main"

// planApprovalMessage is the synthesized confirmation sent when the user
// approves a pending plan. It resumes the same agent session.
const planApprovalMessage = "The plan is approved. Proceed with the implementation."

var (
	// ErrBusy is returned when a send arrives while the active driver
	// already has a turn in flight. The message is not queued.
	ErrBusy = errors.New("a turn is already in flight")

	// ErrNoPendingPlan is returned by plan resolution calls outside
	// plan_pending.
	ErrNoPendingPlan = errors.New("no plan is pending approval")

	// ErrNoPendingQuestion is returned by AnswerQuestion outside
	// question_pending.
	ErrNoPendingQuestion = errors.New("no question is pending")
)

// AgentDriver is what a Session needs from a driver. *driver.Driver
// satisfies it; tests substitute fakes.
type AgentDriver interface {
	SendMessage(content string, onEvent func(driver.Event), onDone func(error)) error
	Stop()
	IsRunning() bool
	PID() int
	ResumeID() string
}

// DriverFactory constructs the driver for one agent session.
type DriverFactory func(provider driver.Provider, run runner.Runner, opts driver.Options) (AgentDriver, error)

func defaultDriverFactory(provider driver.Provider, run runner.Runner, opts driver.Options) (AgentDriver, error) {
	return driver.New(provider, run, opts)
}

// Deps carries a Session's collaborators.
type Deps struct {
	Store    Store
	Notifier Notifier
	Runner   runner.Runner
	// Titles generates thread titles asynchronously. Nil means provisional
	// titles only.
	Titles TitleGenerator
	// NewDriver overrides driver construction. Nil uses driver.New.
	NewDriver DriverFactory
}

// Session orchestrates one conversation thread: its named agent sessions,
// each lazily bound to a Driver, the thread status machine, persistence
// writes, and UI notification. Safe for concurrent use.
//
// Notifier and Store calls are made without the internal lock held.
type Session struct {
	threadID  string
	store     Store
	notifier  Notifier
	titles    TitleGenerator
	newDriver DriverFactory
	log       *slog.Logger

	mu            sync.Mutex
	thread        *Thread
	agentSessions map[string]*AgentSession
	drivers       map[string]AgentDriver
	run           runner.Runner
	activeID      string
	status        Status

	// per-turn state, reset by beginTurnLocked
	stopRequested   bool
	sawError        bool
	pendingPlan     bool
	pendingQuestion bool
	planText        string
	openCalls       map[string]bool
}

// New opens the Session for a thread: loads the thread record and its agent
// sessions, creating the default one if the thread has none. A freshly
// opened thread never has a live process, so the status starts idle.
func New(threadID string, deps Deps) (*Session, error) {
	thread, err := deps.Store.GetThread(threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	s := &Session{
		threadID:      threadID,
		store:         deps.Store,
		notifier:      deps.Notifier,
		titles:        deps.Titles,
		newDriver:     deps.NewDriver,
		log:           logger.WithThread(threadID),
		thread:        thread,
		agentSessions: make(map[string]*AgentSession),
		drivers:       make(map[string]AgentDriver),
		run:           deps.Runner,
		status:        StatusIdle,
		openCalls:     make(map[string]bool),
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.newDriver == nil {
		s.newDriver = defaultDriverFactory
	}

	existing, err := deps.Store.ListAgentSessions(threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent sessions: %w", err)
	}
	for _, as := range existing {
		s.agentSessions[as.ID] = as
	}

	if len(existing) == 0 {
		as := &AgentSession{
			ID:        uuid.New().String(),
			ThreadID:  threadID,
			Name:      defaultAgentSessionName,
			CreatedAt: time.Now(),
		}
		if err := deps.Store.CreateAgentSession(as); err != nil {
			return nil, fmt.Errorf("failed to create agent session: %w", err)
		}
		s.agentSessions[as.ID] = as
		s.activeID = as.ID
		if err := deps.Store.SetActiveAgentSession(threadID, as.ID); err != nil {
			return nil, fmt.Errorf("failed to set active agent session: %w", err)
		}
		thread.ActiveAgentSessionID = as.ID
	} else {
		s.activeID = thread.ActiveAgentSessionID
		if _, ok := s.agentSessions[s.activeID]; !ok {
			s.activeID = existing[0].ID
		}
	}

	s.log.Info("session opened",
		"provider", string(thread.Provider),
		"agentSessions", len(s.agentSessions),
		"active", s.activeID)
	return s, nil
}

// ThreadID returns the owning thread id.
func (s *Session) ThreadID() string {
	return s.threadID
}

// Status returns the current thread status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsRunning reports whether the active agent session has a turn in flight.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.drivers[s.activeID]
	return d != nil && d.IsRunning()
}

// ActiveAgentSession returns a copy of the active agent session record.
func (s *Session) ActiveAgentSession() AgentSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.agentSessions[s.activeID]
}

// AgentSessions returns copies of all agent sessions, creation order not
// guaranteed.
func (s *Session) AgentSessions() []AgentSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentSession, 0, len(s.agentSessions))
	for _, as := range s.agentSessions {
		out = append(out, *as)
	}
	return out
}

// PendingPlan returns the captured plan text while a plan awaits approval.
func (s *Session) PendingPlan() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planText, s.pendingPlan
}

// SendMessage starts a turn on the active agent session with a user
// message. Returns ErrBusy if a turn is already in flight.
func (s *Session) SendMessage(content string) error {
	return s.startTurn(content, content, RoleUser, nil)
}

// Stop requests termination of the in-flight turn. Events still emitted by
// the dying process are discarded, and the terminal status is forced to
// stopped regardless of the exit code.
func (s *Session) Stop() {
	s.mu.Lock()
	drv := s.drivers[s.activeID]
	if drv == nil || !drv.IsRunning() {
		s.mu.Unlock()
		return
	}
	s.stopRequested = true
	s.mu.Unlock()

	s.log.Info("stop requested")
	drv.Stop()
}

// ApprovePlan resumes the same agent session with a synthesized
// confirmation message. The status moves from plan_pending to running.
func (s *Session) ApprovePlan() error {
	s.mu.Lock()
	if s.status != StatusPlanPending {
		s.mu.Unlock()
		return ErrNoPendingPlan
	}
	s.mu.Unlock()

	return s.startTurn(planApprovalMessage, planApprovalMessage, RoleUser,
		map[string]any{"synthesized": true})
}

// RejectPlan clears the pending plan and returns to idle. The provider-side
// context is untouched; no process is running at plan_pending.
func (s *Session) RejectPlan() error {
	s.mu.Lock()
	if s.status != StatusPlanPending {
		s.mu.Unlock()
		return ErrNoPendingPlan
	}
	s.pendingPlan = false
	s.planText = ""
	s.mu.Unlock()

	s.transition(StatusIdle)
	return nil
}

// AnswerQuestion resolves a pending question: the selected options (plus an
// optional free-text clarification) are persisted as a user-facing message
// and forwarded to the driver as a machine-directed follow-up.
func (s *Session) AnswerQuestion(selected []string, freeText string) error {
	s.mu.Lock()
	if s.status != StatusQuestionPending {
		s.mu.Unlock()
		return ErrNoPendingQuestion
	}
	s.mu.Unlock()

	display := "Selected: " + strings.Join(selected, ", ")
	wire := "The user answered the question with: " + strings.Join(selected, ", ")
	if freeText != "" {
		display += "\n\n" + freeText
		wire += "\n\nAdditional context from the user: " + freeText
	}

	return s.startTurn(wire, display, RoleUser, map[string]any{"answer": true})
}

// ExecutePlanInNewAgentSession creates a fresh agent session (new
// provider-side context, no resumption), makes it active, and immediately
// sends a synthesized execution message built from the captured plan.
func (s *Session) ExecutePlanInNewAgentSession() error {
	s.mu.Lock()
	if !s.pendingPlan || s.planText == "" {
		s.mu.Unlock()
		return ErrNoPendingPlan
	}
	plan := s.planText
	s.pendingPlan = false
	s.planText = ""

	as := &AgentSession{
		ID:        uuid.New().String(),
		ThreadID:  s.threadID,
		Name:      s.nextExecutionNameLocked(),
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateAgentSession(as); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create agent session: %w", err)
	}
	s.agentSessions[as.ID] = as
	s.activeID = as.ID
	s.thread.ActiveAgentSessionID = as.ID
	s.mu.Unlock()

	if err := s.store.SetActiveAgentSession(s.threadID, as.ID); err != nil {
		s.log.Warn("failed to persist active agent session", "error", err)
	}
	s.log.Info("executing plan in new agent session", "agentSession", as.Name)

	wire := "Execute this plan:\n\n" + plan
	return s.startTurn(wire, wire, RoleUser, map[string]any{"synthesized": true})
}

// nextExecutionNameLocked picks "Execution", then "Execution 2", and so on.
func (s *Session) nextExecutionNameLocked() string {
	taken := make(map[string]bool, len(s.agentSessions))
	for _, as := range s.agentSessions {
		taken[as.Name] = true
	}
	if !taken["Execution"] {
		return "Execution"
	}
	for n := 2; ; n++ {
		name := fmt.Sprintf("Execution %d", n)
		if !taken[name] {
			return name
		}
	}
}

// UpdateTransport rebinds the session to a new transport. Idle drivers are
// dropped and recreated lazily against the new runner; a running driver is
// left untouched until its turn finishes.
func (s *Session) UpdateTransport(run runner.Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.run = run
	for id, d := range s.drivers {
		if !d.IsRunning() {
			delete(s.drivers, id)
		}
	}
	s.log.Info("transport updated", "transport", run.Description())
}

// startTurn is the shared send path: wire is what the driver receives,
// persistContent what the store records.
func (s *Session) startTurn(wire, persistContent string, role Role, meta map[string]any) error {
	s.mu.Lock()
	asID := s.activeID
	drv, err := s.driverLocked(asID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if drv.IsRunning() {
		s.mu.Unlock()
		s.log.Warn("send rejected, turn in flight")
		return ErrBusy
	}
	s.beginTurnLocked()
	firstMessage := s.thread.Title == ""
	s.mu.Unlock()

	s.persistMessage(asID, role, persistContent, meta)
	s.transition(StatusRunning)

	if firstMessage {
		s.applyTitles(persistContent)
	}

	if err := drv.SendMessage(wire,
		func(ev driver.Event) { s.handleEvent(asID, ev) },
		func(err error) { s.handleDone(asID, drv, err) },
	); err != nil {
		s.log.Error("failed to start turn", "error", err)
		s.persistMessage(asID, RoleSystem, err.Error(), map[string]any{"error": true})
		s.notifier.OnEvent(s.threadID, asID, driver.Event{Kind: driver.EventError, Content: err.Error()})
		s.transition(StatusError)
		return err
	}

	s.notifier.OnProcessID(s.threadID, drv.PID())
	return nil
}

// beginTurnLocked resets all per-turn state before a send.
func (s *Session) beginTurnLocked() {
	s.stopRequested = false
	s.sawError = false
	s.pendingPlan = false
	s.pendingQuestion = false
	s.openCalls = make(map[string]bool)
}

// driverLocked returns the driver for an agent session, creating it on
// first use with the stored resumable id.
func (s *Session) driverLocked(asID string) (AgentDriver, error) {
	if d := s.drivers[asID]; d != nil {
		return d, nil
	}

	as := s.agentSessions[asID]
	if as == nil {
		return nil, fmt.Errorf("unknown agent session %q", asID)
	}

	d, err := s.newDriver(s.thread.Provider, s.run, driver.Options{
		WorkDir:  s.thread.WorkDir,
		Model:    s.thread.Model,
		ResumeID: as.ResumeID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}
	s.drivers[asID] = d
	return d, nil
}

// handleEvent processes one normalized event from the read loop. After a
// stop request, events from the dying process are discarded rather than
// surfaced or persisted.
func (s *Session) handleEvent(asID string, ev driver.Event) {
	s.mu.Lock()
	if s.stopRequested {
		s.mu.Unlock()
		s.log.Debug("discarding event after stop", "kind", string(ev.Kind))
		return
	}

	switch ev.Kind {
	case driver.EventToolCall:
		if id := ev.ToolUseID(); id != "" {
			s.openCalls[id] = true
		}
	case driver.EventToolResult:
		delete(s.openCalls, ev.ToolUseID())
	case driver.EventPlanReady:
		s.pendingPlan = true
		s.planText = ev.Content
	case driver.EventQuestion:
		s.pendingQuestion = true
	case driver.EventError, driver.EventRateLimit:
		s.sawError = true
	case driver.EventUsage:
		in, _ := ev.Meta[driver.MetaInputTokens].(int)
		out, _ := ev.Meta[driver.MetaOutputTokens].(int)
		s.thread.InputTokens += in
		s.thread.OutputTokens += out
		s.mu.Unlock()
		if err := s.store.AddUsage(s.threadID, in, out); err != nil {
			s.log.Warn("failed to record usage", "error", err)
		}
		s.notifier.OnEvent(s.threadID, asID, ev)
		return
	}
	s.mu.Unlock()

	s.persistEvent(asID, ev)
	s.notifier.OnEvent(s.threadID, asID, ev)
}

// handleDone finalizes a turn when the child process has closed. Any tool
// call still missing its result gets a synthesized cancelled result, so
// pairing logic keyed on call ids always terminates.
func (s *Session) handleDone(asID string, drv AgentDriver, doneErr error) {
	if rid := drv.ResumeID(); rid != "" {
		s.mu.Lock()
		as := s.agentSessions[asID]
		stale := as != nil && as.ResumeID != rid
		if stale {
			as.ResumeID = rid
		}
		s.mu.Unlock()
		if stale {
			if err := s.store.SetAgentSessionResumeID(asID, rid); err != nil {
				s.log.Warn("failed to persist resume id", "error", err)
			}
		}
	}

	s.mu.Lock()
	stopped := s.stopRequested
	orphaned := make([]string, 0, len(s.openCalls))
	for id := range s.openCalls {
		orphaned = append(orphaned, id)
	}
	s.openCalls = make(map[string]bool)

	var final Status
	switch {
	case stopped:
		final = StatusStopped
	case doneErr != nil || s.sawError:
		final = StatusError
	case s.pendingPlan:
		final = StatusPlanPending
	case s.pendingQuestion:
		final = StatusQuestionPending
	default:
		final = StatusIdle
	}
	s.status = final
	s.thread.Status = final
	s.mu.Unlock()

	for _, id := range orphaned {
		ev := driver.CancelledResultEvent(id)
		s.persistEvent(asID, ev)
		s.notifier.OnEvent(s.threadID, asID, ev)
	}

	if doneErr != nil && !stopped {
		s.persistMessage(asID, RoleSystem, doneErr.Error(), map[string]any{"error": true})
		s.notifier.OnEvent(s.threadID, asID, driver.Event{Kind: driver.EventError, Content: doneErr.Error()})
	}

	if err := s.store.UpdateThreadStatus(s.threadID, final); err != nil {
		s.log.Warn("failed to persist thread status", "error", err)
	}

	s.log.Info("turn finalized", "status", string(final), "orphanedCalls", len(orphaned))
	s.notifier.OnProcessID(s.threadID, 0)
	s.notifier.OnStatus(s.threadID, final)
	s.notifier.OnTurnDone(s.threadID, final)
}

// transition moves the thread status, persists it, and notifies.
func (s *Session) transition(status Status) {
	s.mu.Lock()
	s.status = status
	s.thread.Status = status
	s.mu.Unlock()

	if err := s.store.UpdateThreadStatus(s.threadID, status); err != nil {
		s.log.Warn("failed to persist thread status", "error", err)
	}
	s.notifier.OnStatus(s.threadID, status)
}

// applyTitles sets a provisional title synchronously and, when a generator
// is configured, publishes a generated title once ready.
func (s *Session) applyTitles(content string) {
	provisional := ProvisionalTitle(content)
	if provisional == "" {
		return
	}

	s.mu.Lock()
	s.thread.Title = provisional
	s.mu.Unlock()

	if err := s.store.SetThreadTitle(s.threadID, provisional, false); err != nil {
		s.log.Warn("failed to persist provisional title", "error", err)
	}
	s.notifier.OnTitle(s.threadID, provisional)

	if s.titles == nil {
		return
	}
	go func() {
		title, err := s.titles.Generate(content)
		if err != nil {
			s.log.Debug("title generation failed", "error", err)
			return
		}

		s.mu.Lock()
		s.thread.Title = title
		s.thread.TitleGenerated = true
		s.mu.Unlock()

		if err := s.store.SetThreadTitle(s.threadID, title, true); err != nil {
			s.log.Warn("failed to persist generated title", "error", err)
		}
		s.notifier.OnTitle(s.threadID, title)
	}()
}

// persistMessage records one message; persistence failures are logged, not
// fatal, so a storage hiccup never kills a live turn.
func (s *Session) persistMessage(asID string, role Role, content string, meta map[string]any) {
	msg := &Message{
		ID:             uuid.New().String(),
		ThreadID:       s.threadID,
		AgentSessionID: asID,
		Role:           role,
		Content:        content,
		Meta:           meta,
		CreatedAt:      time.Now(),
	}
	if err := s.store.InsertMessage(msg); err != nil {
		s.log.Warn("failed to persist message", "role", string(role), "error", err)
	}
}

// persistEvent maps a normalized event onto a stored message.
func (s *Session) persistEvent(asID string, ev driver.Event) {
	role := RoleAssistant
	if ev.Kind == driver.EventError || ev.Kind == driver.EventRateLimit {
		role = RoleSystem
	}

	meta := map[string]any{"kind": string(ev.Kind)}
	for k, v := range ev.Meta {
		meta[k] = v
	}
	s.persistMessage(asID, role, ev.Content, meta)
}
