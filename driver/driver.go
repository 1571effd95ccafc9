// Package driver adapts the provider CLIs to one normalized event model.
//
// A Driver owns at most one in-flight child process (one conversation turn)
// and translates the provider's newline-delimited JSON output into Events.
// The provider-specific pieces live behind the protocol interface:
//   - claude.go: turn-oriented stream with explicit content blocks
//   - codex.go: item/turn-oriented stream with deltas and replays
//   - gemini.go: flat session-id-stamped events
//
// The package is organized into focused modules:
//   - driver.go: Driver lifecycle, line buffering, stop escalation
//   - events.go: normalized Event model
//   - tools.go: tool input description extraction
package driver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/okapi-tools/switchboard/logger"
	"github.com/okapi-tools/switchboard/runner"
)

// Provider identifies one of the supported agent CLIs.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
	ProviderGemini Provider = "gemini"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderClaude, ProviderCodex, ProviderGemini}

// ErrAlreadyRunning is returned when a message is sent while a turn is still
// in flight. Queuing is a Session-level concern; the Driver only rejects.
var ErrAlreadyRunning = errors.New("driver already has a turn in flight")

// stopGracePeriod is how long Stop waits for the child to exit after the
// graceful signal before escalating to a forceful kill.
const stopGracePeriod = 3 * time.Second

// Options configures a Driver at construction time.
type Options struct {
	// WorkDir is the working directory for every turn.
	WorkDir string
	// Model is the provider model flag value; empty uses the CLI default.
	Model string
	// ResumeID seeds the resumable provider-side session id (from a
	// persisted conversation). Empty starts a fresh context.
	ResumeID string
	// Preamble is a transport bootstrap script forwarded to the Runner.
	Preamble string
}

// turnRequest is what a protocol needs to build one CLI invocation.
type turnRequest struct {
	Content  string
	Model    string
	ResumeID string
	Dir      string
	Preamble string
}

// protocol is the per-provider adapter: command construction and stream
// translation. Implementations are not safe for concurrent use; the Driver
// serializes all calls.
type protocol interface {
	// buildCommand constructs the CLI invocation for one turn. Flag
	// arguments must precede positional/resumption arguments.
	buildCommand(req turnRequest) runner.SpawnCommand

	// parseLine translates one stdout line into zero or more normalized
	// events. Lines that are not valid JSON of a recognized shape yield
	// nil; the providers emit incidental non-protocol output and their
	// schemas drift across versions, so nothing here is fatal.
	parseLine(line string, log *slog.Logger) []Event

	// resetTurn clears per-turn de-duplication state. Called before every
	// send; the seen-id sets must persist across events within a turn but
	// never across turns.
	resetTurn()

	// resumeID returns the provider-side resumable id, captured from the
	// stream once observed and reused on every subsequent turn.
	resumeID() string
}

// Driver runs one conversation context against a provider CLI through a
// Runner. Safe for concurrent use.
type Driver struct {
	provider Provider
	proto    protocol
	log      *slog.Logger

	mu       sync.Mutex
	run      runner.Runner
	workDir  string
	model    string
	preamble string
	proc     *runner.Process
}

// New constructs a Driver for the given provider over the given transport.
func New(provider Provider, run runner.Runner, opts Options) (*Driver, error) {
	var proto protocol
	switch provider {
	case ProviderClaude:
		proto = newClaudeProtocol(opts.ResumeID)
	case ProviderCodex:
		proto = newCodexProtocol(opts.ResumeID)
	case ProviderGemini:
		proto = newGeminiProtocol(opts.ResumeID)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	return &Driver{
		provider: provider,
		proto:    proto,
		run:      run,
		workDir:  opts.WorkDir,
		model:    opts.Model,
		preamble: opts.Preamble,
		log:      logger.WithComponent("driver").With("provider", string(provider), "transport", run.Description()),
	}, nil
}

// Provider returns the provider this driver adapts.
func (d *Driver) Provider() Provider {
	return d.provider
}

// Runner returns the transport this driver spawns through.
func (d *Driver) Runner() runner.Runner {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run
}

// SetModel changes the model used for subsequent turns.
func (d *Driver) SetModel(model string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.model = model
}

// IsRunning reports whether a turn is currently in flight. The process
// handle is cleared only when the child's close is observed, so this stays
// accurate while a stop is in flight.
func (d *Driver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.proc != nil
}

// PID returns the child process id, or 0 when no turn is in flight.
func (d *Driver) PID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc == nil {
		return 0
	}
	return d.proc.PID()
}

// ResumeID returns the provider-side resumable session id, or empty if none
// has been observed yet.
func (d *Driver) ResumeID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.proto.resumeID()
}

// SendMessage starts one turn: builds the provider invocation for content,
// spawns it, and streams normalized events to onEvent. onDone is invoked
// exactly once when the process closes, with a non-nil error if the child
// exited non-zero (a nil exit code — killed by signal — counts as clean).
//
// Returns ErrAlreadyRunning if a turn is already in flight; the message is
// not queued.
func (d *Driver) SendMessage(content string, onEvent func(Event), onDone func(error)) error {
	d.mu.Lock()
	if d.proc != nil {
		d.mu.Unlock()
		d.log.Warn("send rejected, turn already in flight")
		return ErrAlreadyRunning
	}

	d.proto.resetTurn()

	sc := d.proto.buildCommand(turnRequest{
		Content:  content,
		Model:    d.model,
		ResumeID: d.proto.resumeID(),
		Dir:      d.workDir,
		Preamble: d.preamble,
	})

	proc, err := d.run.Spawn(sc)
	if err != nil {
		d.mu.Unlock()
		d.log.Error("spawn failed", "binary", sc.Binary, "error", err)
		return fmt.Errorf("failed to start %s: %w", sc.Binary, err)
	}
	d.proc = proc
	d.mu.Unlock()

	d.log.Info("turn started", "pid", proc.PID(), "resuming", d.proto.resumeID() != "")

	go d.readLoop(proc, onEvent, onDone)
	return nil
}

// Stop requests graceful termination of the in-flight turn. If the child has
// not exited after the grace period, it is killed. The process handle is
// cleared by the read loop when the close is observed, not here.
func (d *Driver) Stop() {
	d.mu.Lock()
	proc := d.proc
	d.mu.Unlock()

	if proc == nil {
		return
	}

	d.log.Info("stop requested", "pid", proc.PID())
	if err := proc.Terminate(); err != nil {
		d.log.Debug("graceful terminate failed, killing", "error", err)
		proc.Kill()
		return
	}

	go func() {
		select {
		case <-proc.Done():
		case <-time.After(stopGracePeriod):
			d.log.Warn("grace period expired, killing", "pid", proc.PID())
			proc.Kill()
		}
	}()
}

// readLoop consumes the child's stdout line by line, parses each into
// events, and finalizes the turn when the process closes. Events are
// delivered in exactly the order the child emitted them.
func (d *Driver) readLoop(proc *runner.Process, onEvent func(Event), onDone func(error)) {
	stderrCh := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(proc.Stderr)
		stderrCh <- strings.TrimSpace(string(data))
	}()

	reader := bufio.NewReader(proc.Stdout)
	for {
		line, err := reader.ReadString('\n')
		// ReadString returns any partial final line alongside the
		// error, so the flush on close happens here for free.
		if line != "" {
			for _, ev := range d.handleLine(line) {
				onEvent(ev)
			}
		}
		if err != nil {
			if err != io.EOF {
				d.log.Debug("stdout read error", "error", err)
			}
			break
		}
	}

	<-proc.Done()
	stderr := <-stderrCh

	d.mu.Lock()
	d.proc = nil
	d.mu.Unlock()

	var doneErr error
	if code := proc.ExitCode(); code != nil && *code != 0 {
		if stderr != "" {
			doneErr = fmt.Errorf("%s exited with code %d: %s", d.provider, *code, stderr)
		} else {
			doneErr = fmt.Errorf("%s exited with code %d", d.provider, *code)
		}
		d.log.Error("turn failed", "code", *code, "stderr", truncateForLog(stderr))
	} else {
		d.log.Info("turn complete")
	}

	onDone(doneErr)
}

// handleLine filters a raw stdout line before handing it to the protocol.
func (d *Driver) handleLine(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	// Providers emit incidental non-JSON lines (update notices, verbose
	// chatter); skip them silently.
	if !strings.HasPrefix(line, "{") {
		d.log.Debug("skipping non-JSON line", "line", truncateForLog(line))
		return nil
	}

	return d.proto.parseLine(line, d.log)
}

// truncateForLog truncates long strings for log messages.
func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
