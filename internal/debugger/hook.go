package debugger

import (
	"errors"
	"log"

	"github.com/ecal-dap/ecal-dap/internal/interp"
)

// ErrTerminating is returned by the host-hook wait loop when it drains a
// Terminate task (or a closed task channel) while paused.
var ErrTerminating = errors.New("terminating")

// ErrShuttingDown is returned by the host-hook wait loop when it observes
// the shutting-down flag while paused.
var ErrShuttingDown = errors.New("shutdown")

// ErrBusy is the rejection reason logged for ExecuteBlocking/ExecuteAsync
// tasks received while the interpreter is already paused.
var ErrBusy = errors.New("busy")

// Hook implements interp.Hook: the two synchronous callbacks the
// interpreter invokes on the worker thread. Pausing the interpreter
// means parking that thread on the state's condition variable — but the
// client may legitimately ask for a stack trace or an evaluation while
// paused, and those requests arrive as tasks on the same channel the
// parked worker would normally be reading. The wait loop therefore
// alternates draining the task channel (servicing inspection tasks
// inline) and sleeping on the condition variable.
type Hook struct {
	state       *State
	tasks       chan *Task
	events      chan<- DebugEvent
	interpreter interp.Interpreter
	logger      *log.Logger
}

// NewHook wires a host-hook adapter to the state, task channel,
// event sink and interpreter it will coordinate.
func NewHook(state *State, tasks chan *Task, events chan<- DebugEvent, it interp.Interpreter, logger *log.Logger) *Hook {
	if logger == nil {
		logger = log.Default()
	}
	return &Hook{state: state, tasks: tasks, events: events, interpreter: it, logger: logger}
}

// OnDebuggerStatement implements interp.Hook. A `debugger;` statement is
// ignored entirely when the session was launched with noDebug=true.
func (h *Hook) OnDebuggerStatement() error {
	if h.state.IsNoDebug() {
		return nil
	}
	h.state.Pause()
	h.emit(DebugEvent{Kind: EventStopped, Reason: "pause"})
	return h.waitLoop()
}

// OnStep implements interp.Hook. It peeks the debugger state without
// holding the lock longer than a single read.
func (h *Hook) OnStep(scriptID, pc, depth int) error {
	_, shuttingDown, mode := h.state.Snapshot()
	if shuttingDown {
		return ErrShuttingDown
	}
	if h.state.IsNoDebug() {
		return nil
	}

	reason := ""
	switch {
	case h.state.TakeEntryPending():
		reason = "entry"
	case ShouldPauseForStep(mode, depth):
		reason = "step"
	case h.state.HasBreakpoint(scriptID, pc):
		reason = "breakpoint"
	default:
		return nil
	}

	h.state.Pause()
	h.emit(DebugEvent{Kind: EventStopped, Reason: reason})
	return h.waitLoop()
}

// waitLoop alternates draining the task channel and sleeping on the
// condition variable, until resumed or shut down.
func (h *Hook) waitLoop() error {
	for {
		if err := h.drain(); err != nil {
			return err
		}

		resumed, shuttingDown := h.checkAndWait()
		if resumed {
			return nil
		}
		if shuttingDown {
			return ErrShuttingDown
		}
		// Woken by Resume, Shutdown or NotifyInspectionPosted: loop
		// back around to drain again.
	}
}

// checkAndWait locks the state, decides whether to return immediately or
// to park on the condition variable, and always unlocks before
// returning. The condvar wait releases the mutex atomically while
// parked, so this never holds the lock across a channel operation.
// An inspection notice posted since the last drain is consumed here,
// under the same mutex, instead of parking: the matching task is already
// in the channel, and sleeping past its broadcast would strand it.
func (h *Hook) checkAndWait() (resumed, shuttingDown bool) {
	var result struct{ resumed, shuttingDown bool }
	h.state.WithLock(func(wait func()) {
		if !h.state.paused {
			result.resumed = true
			return
		}
		if h.state.shuttingDown {
			result.shuttingDown = true
			return
		}
		if h.state.pendingInspections > 0 {
			h.state.pendingInspections = 0
			return
		}
		wait()
	})
	return result.resumed, result.shuttingDown
}

// drain services every task currently waiting on the channel without
// blocking. StackTrace, Evaluate and Variables are serviced inline, on
// the worker thread: the interpreter's stack-read API performs no
// further interpreter calls of its own, so it is safe to invoke while
// the interpreter is parked mid-step.
func (h *Hook) drain() error {
	for {
		select {
		case task, ok := <-h.tasks:
			if !ok {
				return ErrTerminating
			}
			if err := h.service(task); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (h *Hook) service(task *Task) error {
	switch task.Kind {
	case TaskExecuteBlocking:
		h.logger.Printf("debugger: rejecting ExecuteBlocking task while paused: %v", ErrBusy)
		if task.ReplyString != nil {
			task.ReplyString <- StringResult{Err: ErrBusy}
		}
		return nil

	case TaskExecuteAsync:
		h.logger.Printf("debugger: dropping ExecuteAsync task while paused: %v", ErrBusy)
		return nil

	case TaskTerminate:
		return ErrTerminating

	case TaskStackTrace:
		frames := h.interpreter.CallStack()
		task.ReplyStack <- StackResult{Frames: framesFromInterp(frames)}
		return nil

	case TaskEvaluate:
		v, err := h.interpreter.EvaluateInFrame(task.FrameDepth, task.Expression)
		task.ReplyString <- StringResult{Value: v, Err: err}
		return nil

	case TaskVariables:
		task.ReplyVariables <- VariablesResult{Variables: readVariables(h.interpreter, task)}
		return nil
	}
	return nil
}

// readVariables resolves a Variables task against whatever the
// interpreter optionally exposes (see interp.LocalsProvider); an
// interpreter collaborator that doesn't implement it yields an empty
// scope rather than an error.
func readVariables(it interp.Interpreter, task *Task) []interp.Variable {
	lp, ok := it.(interp.LocalsProvider)
	if !ok {
		return nil
	}
	if task.Scope == ScopeGlobal {
		return lp.Globals()
	}
	return lp.FrameLocals(task.FrameDepth)
}

func (h *Hook) emit(ev DebugEvent) {
	select {
	case h.events <- ev:
	default:
		// A full buffer means the forwarder died; there is no one left
		// to deliver the event to.
		h.logger.Printf("debugger: event channel full, dropping %+v", ev)
	}
}
