package session

import "github.com/okapi-tools/switchboard/driver"

// Notifier is the UI delivery collaborator. Implementations receive
// callbacks from the turn's read loop goroutine and must not block; the
// Session holds no lock while calling them.
type Notifier interface {
	// OnEvent delivers one normalized event, tagged with the agent session
	// that produced it. Events arrive in child-process emission order.
	OnEvent(threadID, agentSessionID string, ev driver.Event)

	// OnStatus reports every thread status transition.
	OnStatus(threadID string, status Status)

	// OnTurnDone fires once per turn with the terminal status.
	OnTurnDone(threadID string, status Status)

	// OnProcessID broadcasts the running child's pid, 0 when none.
	OnProcessID(threadID string, pid int)

	// OnTitle publishes a thread title (provisional or generated).
	OnTitle(threadID, title string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OnEvent(string, string, driver.Event) {}
func (NopNotifier) OnStatus(string, Status)              {}
func (NopNotifier) OnTurnDone(string, Status)            {}
func (NopNotifier) OnProcessID(string, int)              {}
func (NopNotifier) OnTitle(string, string)               {}
