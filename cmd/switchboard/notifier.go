package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/okapi-tools/switchboard/driver"
	"github.com/okapi-tools/switchboard/session"
)

// consoleNotifier renders normalized events to the terminal and signals the
// command when the turn finishes.
type consoleNotifier struct {
	done chan session.Status
}

func newConsoleNotifier() *consoleNotifier {
	return &consoleNotifier{done: make(chan session.Status, 1)}
}

// waitTurn blocks until the running turn reaches a terminal status and
// reports pending plans and questions to the user.
func (n *consoleNotifier) waitTurn(sess *session.Session) error {
	status := <-n.done

	switch status {
	case session.StatusPlanPending:
		fmt.Fprintf(os.Stderr, "\nplan pending; approve with: switchboard approve %s\n", sess.ThreadID())
	case session.StatusQuestionPending:
		fmt.Fprintf(os.Stderr, "\nthe agent asked a question; answer with another send\n")
	case session.StatusError:
		return fmt.Errorf("turn failed")
	}
	return nil
}

func (n *consoleNotifier) OnEvent(threadID, agentSessionID string, ev driver.Event) {
	switch ev.Kind {
	case driver.EventText:
		fmt.Println(ev.Content)

	case driver.EventThinking:
		for _, line := range strings.Split(strings.TrimRight(ev.Content, "\n"), "\n") {
			fmt.Printf("  · %s\n", line)
		}

	case driver.EventToolCall:
		name, _ := ev.Meta[driver.MetaToolName].(string)
		input, _ := ev.Meta[driver.MetaToolInput].(string)
		if input != "" {
			fmt.Printf("→ %s (%s)\n", name, input)
		} else {
			fmt.Printf("→ %s\n", name)
		}

	case driver.EventToolResult:
		if isErr, _ := ev.Meta[driver.MetaIsError].(bool); isErr {
			fmt.Printf("  ✗ %s\n", firstLine(ev.Content))
		}
		if cancelled, _ := ev.Meta[driver.MetaCancelled].(bool); cancelled {
			fmt.Println("  ✗ cancelled")
		}

	case driver.EventPlanReady:
		fmt.Printf("\n--- plan ---\n%s\n------------\n", ev.Content)

	case driver.EventQuestion:
		fmt.Printf("\n? %s\n", ev.Content)
		if options, ok := ev.Meta[driver.MetaQuestionOptions].([]string); ok {
			for i, opt := range options {
				fmt.Printf("  %d. %s\n", i+1, opt)
			}
		}

	case driver.EventUsage:
		in, _ := ev.Meta[driver.MetaInputTokens].(int)
		out, _ := ev.Meta[driver.MetaOutputTokens].(int)
		fmt.Fprintf(os.Stderr, "[%d in / %d out tokens]\n", in, out)

	case driver.EventError, driver.EventRateLimit:
		fmt.Fprintf(os.Stderr, "error: %s\n", ev.Content)
	}
}

func (n *consoleNotifier) OnStatus(threadID string, status session.Status) {}

func (n *consoleNotifier) OnTurnDone(threadID string, status session.Status) {
	select {
	case n.done <- status:
	default:
	}
}

func (n *consoleNotifier) OnProcessID(threadID string, pid int) {}

func (n *consoleNotifier) OnTitle(threadID, title string) {}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
