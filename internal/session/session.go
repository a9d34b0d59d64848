// Package session implements the protocol-level state of one debug
// session: breakpoint bookkeeping (DAP breakpoint ids are the debugger
// state's internal ids), the variable-reference allocator, the
// source-to-script map, thread identity, and the event forwarder that
// turns worker-originated DebugEvent values into outbound DAP events.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/ecal-dap/ecal-dap/internal/core/config"
	"github.com/ecal-dap/ecal-dap/internal/core/diagnostics"
	"github.com/ecal-dap/ecal-dap/internal/core/exceptions"
	"github.com/ecal-dap/ecal-dap/internal/debugger"
	"github.com/ecal-dap/ecal-dap/internal/interp"
	"github.com/ecal-dap/ecal-dap/internal/wire"
)

// ThreadID is the session's single, constant thread identity; the
// interpreter is single-threaded.
const ThreadID = 1

// InterpreterFactory builds a fresh, unbuilt interpreter collaborator;
// the worker calls Build/SetHook/Setup on it exactly once, on its own
// thread.
type InterpreterFactory func() interp.Interpreter

// varRef records what a variablesReference handle points at.
type varRef struct {
	frameDepth int
	scope      debugger.ScopeKind
}

// Session owns everything scoped to one DAP connection: debugger state,
// the evaluation worker (once launched), breakpoint/variable-reference
// bookkeeping, and the event forwarder goroutine.
type Session struct {
	conn    *wire.Conn
	factory InterpreterFactory
	cfg     *config.Config
	logger  *log.Logger

	diag       *diagnostics.Streamer
	throttle   *diagnostics.OutputThrottle
	excTracker *exceptions.Tracker
	id         string

	mu sync.Mutex

	state          *debugger.State
	worker         *debugger.Worker
	forwarderDone  chan struct{}
	tasksClosed    bool
	pendingProgram *debugger.Task

	initialized   bool
	running       bool
	stoppedReason string
	programPath   string
	noDebug       bool

	sourceToScript map[string]int
	nextScriptID   int

	nextVariableReference int
	variableReferences    map[int]varRef
}

// New creates a session bound to conn, using factory to build a fresh
// interpreter collaborator for each launch.
func New(conn *wire.Conn, factory InterpreterFactory, cfg *config.Config, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Session{
		conn:               conn,
		factory:            factory,
		cfg:                cfg,
		logger:             logger,
		diag:               diagnostics.NewStreamer(cfg.Log.BufferSize),
		throttle:           diagnostics.NewOutputThrottle(cfg.Log.OutputEventsPerSecond, cfg.Log.OutputBurst),
		excTracker:         exceptions.NewTracker(),
		id:                 uuid.New().String(),
		state:              debugger.NewState(),
		sourceToScript:     make(map[string]int),
		variableReferences: make(map[int]varRef),
	}
}

// ID is the session's diagnostic identifier, used only in log lines.
func (s *Session) ID() string { return s.id }

// Diagnostics exposes the ring buffer for CLI/test inspection.
func (s *Session) Diagnostics() *diagnostics.Streamer { return s.diag }

func (s *Session) logf(format string, args ...interface{}) {
	if os.Getenv("ECAL_DAP_DEBUG") != "" {
		s.logger.Printf("session[%s]: "+format, append([]interface{}{s.id}, args...)...)
	}
}

// HandleInitialize records the handshake and returns the fixed
// capability set this front-end supports; the response envelope and the
// trailing `initialized` event are the caller's job (internal/dapserver).
func (s *Session) HandleInitialize(args dap.InitializeRequestArguments) dap.Capabilities {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	return dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportsConditionalBreakpoints:   true,
		SupportsLogPoints:                true,
		SupportsEvaluateForHovers:        true,
		SupportsTerminateRequest:         true,
		SupportsValueFormattingOptions:   true,
		SupportsSetVariable:              false,
		SupportsFunctionBreakpoints:      false,
		SupportsStepBack:                 false,
		SupportsRestartRequest:           false,
		SupportsDataBreakpoints:          false,
	}
}

// HandleLaunch reads the program, creates the worker, spawns the event
// forwarder, and prepares the program task; StartLaunchedProgram submits
// it. stopOnEntry is nil
// when the client omitted it; the configured default applies then.
func (s *Session) HandleLaunch(ctx context.Context, programPath string, noDebug bool, stopOnEntry *bool) error {
	source, err := os.ReadFile(programPath)
	if err != nil {
		return fmt.Errorf("reading program: %w", err)
	}

	entryStop := s.cfg.Debugger.StopOnEntryDefault
	if stopOnEntry != nil {
		entryStop = *stopOnEntry
	}
	if noDebug {
		entryStop = false
	}

	s.mu.Lock()
	s.programPath = programPath
	s.noDebug = noDebug
	s.scriptIDForLocked(programPath)
	s.mu.Unlock()

	s.state.SetNoDebug(noDebug)
	if entryStop {
		s.state.SetEntryPending()
	}

	it := s.factory()
	worker := debugger.NewWorker(it, s.state, 16, 64, s.logger)

	s.mu.Lock()
	s.worker = worker
	s.forwarderDone = make(chan struct{})
	s.mu.Unlock()

	// Spawn the forwarder BEFORE submitting the program so the earliest
	// events (including an entry stop) are never lost.
	go s.forward(worker.Events())

	// Console output rides the event channel like every other debug
	// event, so it stays in FIFO order with the stops and the
	// termination around it and only the forwarder touches the writer.
	setup := func(it interp.Interpreter) error {
		if bridge, ok := it.(interface{ SetPrintFunc(func(string, string)) }); ok {
			bridge.SetPrintFunc(worker.EmitOutput)
		}
		return nil
	}

	go worker.Run(ctx, setup)

	s.logf("launching %s (noDebug=%v stopOnEntry=%v)", programPath, noDebug, entryStop)
	s.mu.Lock()
	s.pendingProgram = &debugger.Task{
		Kind:     debugger.TaskExecuteAsync,
		Source:   string(source),
		FilePath: programPath,
	}
	s.mu.Unlock()
	return nil
}

// StartLaunchedProgram submits the program prepared by HandleLaunch.
// Kept separate so the dispatcher can write the launch response first;
// otherwise the program's earliest stopped/output events could reach the
// client before the response they follow from.
func (s *Session) StartLaunchedProgram() error {
	s.mu.Lock()
	task := s.pendingProgram
	s.pendingProgram = nil
	s.mu.Unlock()
	if task == nil {
		return fmt.Errorf("no launched program pending")
	}
	return s.post(task)
}

// post enqueues a task on the worker's channel, refusing once the
// session has shut down so nothing ever sends on a closed channel.
func (s *Session) post(task *debugger.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker == nil {
		return fmt.Errorf("no active debuggee")
	}
	if s.tasksClosed {
		return fmt.Errorf("session is shutting down")
	}
	select {
	case s.worker.Tasks() <- task:
		return nil
	default:
		return fmt.Errorf("task queue full")
	}
}

// forward is the event forwarder: it reads the worker's event channel
// and rewrites each DebugEvent as one or more outbound DAP messages,
// sharing the connection's seq counter and writer mutex with the
// request-handling goroutine.
func (s *Session) forward(events <-chan debugger.DebugEvent) {
	defer close(s.forwarderDone)

	for ev := range events {
		switch ev.Kind {
		case debugger.EventStopped:
			s.mu.Lock()
			s.running = false
			s.stoppedReason = ev.Reason
			s.clearVariableReferencesLocked()
			s.mu.Unlock()

			body := dap.StoppedEventBody{Reason: ev.Reason, ThreadId: ThreadID, AllThreadsStopped: true}
			if ev.Description != "" {
				body.Description = ev.Description
			}
			s.conn.Write(&dap.StoppedEvent{Event: s.conn.NewEvent("stopped"), Body: body})

		case debugger.EventOutput:
			s.diag.Add(ev.Category, ev.Text)
			if s.throttle.Allow(ev.Category) {
				s.conn.Write(&dap.OutputEvent{Event: s.conn.NewEvent("output"), Body: dap.OutputEventBody{Category: ev.Category, Output: ev.Text + "\n"}})
			}

		case debugger.EventTerminated:
			if ev.Err != nil {
				msg := "Error: " + ev.Err.Error()
				exc, first := s.excTracker.Track(msg)
				if first {
					s.conn.Write(&dap.OutputEvent{Event: s.conn.NewEvent("output"), Body: dap.OutputEventBody{Category: "stderr", Output: msg + "\n"}})
				} else {
					s.conn.Write(&dap.OutputEvent{Event: s.conn.NewEvent("output"), Body: dap.OutputEventBody{Category: "stderr", Output: fmt.Sprintf("%s (seen %d times)\n", msg, exc.Count)}})
				}
			}
			s.conn.Write(&dap.TerminatedEvent{Event: s.conn.NewEvent("terminated")})

		case debugger.EventExited:
			s.conn.Write(&dap.ExitedEvent{Event: s.conn.NewEvent("exited"), Body: dap.ExitedEventBody{ExitCode: ev.ExitCode}})

		case debugger.EventShutdown:
			return
		}
	}
}

// scriptIDForLocked resolves or allocates a script id for path. Must be
// called with s.mu held. Ids are allocated in first-seen order, matching
// the order the worker registers the same paths with the interpreter.
func (s *Session) scriptIDForLocked(path string) int {
	if id, ok := s.sourceToScript[path]; ok {
		return id
	}
	s.nextScriptID++
	s.sourceToScript[path] = s.nextScriptID
	return s.nextScriptID
}

// clearVariableReferencesLocked drops every allocated variable
// reference; a handle is only valid for the lifetime of one pause.
// Must be called with s.mu held.
func (s *Session) clearVariableReferencesLocked() {
	s.variableReferences = make(map[int]varRef)
}

// IsPaused reports whether the debugger is currently paused.
func (s *Session) IsPaused() bool { return s.state.IsPaused() }

// Shutdown tears the session down: signals the debugger state, closes
// the worker's task channel so its receive loop (or the host-hook wait
// loop) unwinds, and waits for the forwarder to drain the final events
// and exit. Safe to call more than once.
func (s *Session) Shutdown() {
	s.logf("shutting down")
	s.state.Shutdown()

	s.mu.Lock()
	worker := s.worker
	forwarderDone := s.forwarderDone
	alreadyClosed := s.tasksClosed
	s.tasksClosed = true
	s.mu.Unlock()

	if worker == nil {
		return
	}
	if !alreadyClosed {
		close(worker.Tasks())
	}
	if forwarderDone != nil {
		<-forwarderDone
	}
}
