package debugger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"

	"github.com/ecal-dap/ecal-dap/internal/interp"
)

// Worker is the dedicated evaluation worker: a single goroutine pinned to
// its own OS thread, owning an interp.Interpreter exclusively for the
// lifetime of the run. It is the only goroutine ever allowed to call into
// the interpreter — every other component reaches it only by enqueueing
// a Task and waiting on the Task's reply channel.
type Worker struct {
	interpreter interp.Interpreter
	hook        *Hook
	tasks       chan *Task
	events      chan DebugEvent
	state       *State
	logger      *log.Logger

	done chan struct{}
}

// NewWorker wires a fresh worker around it, with the given task queue
// depth and event buffer depth.
func NewWorker(it interp.Interpreter, state *State, taskBuf, eventBuf int, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	tasks := make(chan *Task, taskBuf)
	events := make(chan DebugEvent, eventBuf)
	w := &Worker{
		interpreter: it,
		tasks:       tasks,
		events:      events,
		state:       state,
		logger:      logger,
		done:        make(chan struct{}),
	}
	w.hook = NewHook(state, tasks, events, it, logger)
	return w
}

// Events returns the channel the session's event forwarder should drain.
func (w *Worker) Events() <-chan DebugEvent { return w.events }

// Tasks returns the channel callers enqueue Task values on. Closing it
// is the producer's way of telling the worker no more tasks are coming.
func (w *Worker) Tasks() chan<- *Task { return w.tasks }

// Done is closed once Run has returned, after the interpreter context has
// been torn down on its owning thread.
func (w *Worker) Done() <-chan struct{} { return w.done }

// EmitOutput queues interpreter console output for the event forwarder,
// keeping it in FIFO order with the stopped/terminated events around it.
// Called on the worker thread by the console bridge the setup function
// installs.
func (w *Worker) EmitOutput(category, text string) {
	w.emit(DebugEvent{Kind: EventOutput, Category: category, Text: text})
}

// Run owns the interpreter for the lifetime of the goroutine that calls
// it. It must be invoked with `go worker.Run(ctx, setup)` exactly once,
// immediately after the session creates the worker; LockOSThread pins
// the goroutine to one OS thread so the interpreter never observes a
// thread switch mid-call. The program itself arrives as an ExecuteAsync
// task once the worker starts receiving on its task channel.
func (w *Worker) Run(ctx context.Context, setup func(interp.Interpreter) error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Runs last: fail any still-queued tasks, then tell the forwarder
	// there is nothing more coming.
	defer func() {
		w.drainRemaining()
		w.emit(DebugEvent{Kind: EventShutdown})
		close(w.events)
		close(w.done)
	}()

	defer func() {
		if r := recover(); r != nil {
			w.emit(DebugEvent{Kind: EventTerminated, Err: fmt.Errorf("evaluation worker panicked: %v", r)})
		}
	}()

	if err := w.interpreter.Build(); err != nil {
		w.emit(DebugEvent{Kind: EventTerminated, Err: fmt.Errorf("building interpreter: %w", err)})
		return
	}
	w.interpreter.SetHook(w.hook)

	if setup != nil {
		if err := w.interpreter.Setup(ctx, setup); err != nil {
			w.emit(DebugEvent{Kind: EventTerminated, Err: fmt.Errorf("interpreter setup: %w", err)})
			return
		}
	}

	w.loop()
}

// loop receives tasks until Terminate or a closed channel.
func (w *Worker) loop() {
	for {
		task, ok := <-w.tasks
		if !ok {
			return
		}
		if w.runTask(task) {
			return
		}
	}
}

// runTask executes one task to completion on the worker thread and
// reports whether the worker should stop.
func (w *Worker) runTask(task *Task) (stop bool) {
	switch task.Kind {
	case TaskTerminate:
		return true

	case TaskExecuteBlocking:
		v, err := w.interpreter.Eval("", task.Source)
		task.ReplyString <- StringResult{Value: v, Err: err}
		return false

	case TaskExecuteAsync:
		w.runExecuteAsync(task)
		return false

	case TaskStackTrace:
		frames := w.interpreter.CallStack()
		task.ReplyStack <- StackResult{Frames: framesFromInterp(frames)}
		return false

	case TaskEvaluate:
		v, err := w.interpreter.EvaluateInFrame(task.FrameDepth, task.Expression)
		task.ReplyString <- StringResult{Value: v, Err: err}
		return false

	case TaskVariables:
		task.ReplyVariables <- VariablesResult{Variables: readVariables(w.interpreter, task)}
		return false
	}
	return false
}

// runExecuteAsync runs the launched program to completion (including
// nested debugger pauses serviced by the hook as the step hook fires),
// then emits Terminated followed by Exited before returning to the
// ordinary task loop for any REPL-style follow-up evaluation. A
// shutdown-initiated unwind is a clean termination, not a script error.
func (w *Worker) runExecuteAsync(task *Task) {
	_, err := w.interpreter.Eval(task.FilePath, task.Source)
	if errors.Is(err, ErrShuttingDown) || errors.Is(err, ErrTerminating) {
		err = nil
	}

	exitCode := 0
	if err != nil {
		exitCode = 1
	}
	w.emit(DebugEvent{Kind: EventTerminated, Err: err})
	w.emit(DebugEvent{Kind: EventExited, ExitCode: exitCode})
}

// drainRemaining replies ErrTerminating to every task still queued so no
// caller blocks forever on a reply channel after the worker has exited.
func (w *Worker) drainRemaining() {
	for {
		select {
		case task, ok := <-w.tasks:
			if !ok {
				return
			}
			switch task.Kind {
			case TaskExecuteBlocking, TaskEvaluate:
				if task.ReplyString != nil {
					task.ReplyString <- StringResult{Err: ErrTerminating}
				}
			case TaskStackTrace:
				if task.ReplyStack != nil {
					task.ReplyStack <- StackResult{Err: ErrTerminating}
				}
			case TaskVariables:
				if task.ReplyVariables != nil {
					task.ReplyVariables <- VariablesResult{Err: ErrTerminating}
				}
			}
		default:
			return
		}
	}
}

func (w *Worker) emit(ev DebugEvent) {
	select {
	case w.events <- ev:
	default:
		w.logger.Printf("debugger: event channel full, dropping %+v", ev)
	}
}
