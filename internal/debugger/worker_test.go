package debugger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecal-dap/ecal-dap/internal/interp"
	"github.com/ecal-dap/ecal-dap/internal/interp/mini"
)

// drainUntilStopped reads events until it sees a Stopped event or the
// timeout fires, returning every event observed along the way.
func drainUntilStopped(t *testing.T, events <-chan DebugEvent, timeout time.Duration) []DebugEvent {
	t.Helper()
	var seen []DebugEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return seen
			}
			seen = append(seen, ev)
			if ev.Kind == EventStopped {
				return seen
			}
		case <-deadline:
			t.Fatal("timed out waiting for a Stopped event")
		}
	}
}

// drainUntilExited reads events until EventExited (always emitted right
// after EventTerminated on a clean ExecuteAsync completion, before the
// worker returns to its ordinary task loop) and returns every kind seen.
func drainUntilExited(t *testing.T, events <-chan DebugEvent, timeout time.Duration) []EventKind {
	t.Helper()
	var kinds []EventKind
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return kinds
			}
			kinds = append(kinds, ev.Kind)
			if ev.Kind == EventExited {
				return kinds
			}
		case <-deadline:
			t.Fatal("timed out waiting for worker events")
		}
	}
}

func TestWorkerRunsProgramWithNoBreakpointsToTermination(t *testing.T) {
	state := NewState()
	w := NewWorker(mini.New(), state, 4, 16, nil)

	go w.Run(context.Background(), nil)
	w.Tasks() <- &Task{Kind: TaskExecuteAsync, Source: `console.log("a"); console.log("b"); 42+58;`}

	kinds := drainUntilExited(t, w.Events(), 2*time.Second)

	assert.Contains(t, kinds, EventTerminated)
	assert.NotContains(t, kinds, EventStopped)

	w.Tasks() <- &Task{Kind: TaskTerminate}
	<-w.Done()
}

func TestWorkerPausesOnDebuggerStatementAndResumes(t *testing.T) {
	state := NewState()
	w := NewWorker(mini.New(), state, 4, 16, nil)

	go w.Run(context.Background(), nil)
	w.Tasks() <- &Task{Kind: TaskExecuteAsync, Source: `var x=1; debugger; var y=2;`}

	seen := drainUntilStopped(t, w.Events(), 2*time.Second)
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Equal(t, EventStopped, last.Kind)
	assert.Equal(t, "pause", last.Reason)

	require.Eventually(t, state.IsPaused, time.Second, 5*time.Millisecond)

	state.Resume()

	kinds := drainUntilExited(t, w.Events(), 2*time.Second)
	assert.Contains(t, kinds, EventTerminated)

	w.Tasks() <- &Task{Kind: TaskTerminate}
	<-w.Done()
}

// A stack-trace task sent while the worker is parked in the host-hook
// wait loop must be serviced inline without blocking the caller.
func TestInspectionDuringPauseDoesNotDeadlock(t *testing.T) {
	state := NewState()
	w := NewWorker(mini.New(), state, 4, 16, nil)

	go w.Run(context.Background(), nil)
	w.Tasks() <- &Task{
		Kind: TaskExecuteAsync,
		Source: `function inner() { debugger; return 1; }
function outer() { return inner(); }
outer();`,
	}

	drainUntilStopped(t, w.Events(), 2*time.Second)
	require.Eventually(t, state.IsPaused, time.Second, 5*time.Millisecond)

	reply := make(chan StackResult, 1)
	w.Tasks() <- &Task{Kind: TaskStackTrace, ReplyStack: reply}
	state.NotifyInspectionPosted()

	select {
	case res := <-reply:
		require.NoError(t, res.Err)
		assert.NotEmpty(t, res.Frames)
	case <-time.After(2 * time.Second):
		t.Fatal("stackTrace did not return while paused: deadlock")
	}

	state.Resume()
	w.Tasks() <- &Task{Kind: TaskTerminate}
	<-w.Done()
}

func TestExecuteBlockingWhilePausedIsRejectedAsBusy(t *testing.T) {
	state := NewState()
	w := NewWorker(mini.New(), state, 4, 16, nil)

	go w.Run(context.Background(), nil)
	w.Tasks() <- &Task{Kind: TaskExecuteAsync, Source: `debugger;`}

	drainUntilStopped(t, w.Events(), 2*time.Second)
	require.Eventually(t, state.IsPaused, time.Second, 5*time.Millisecond)

	reply := make(chan StringResult, 1)
	w.Tasks() <- &Task{Kind: TaskExecuteBlocking, Source: "1+1", ReplyString: reply}
	state.NotifyInspectionPosted()

	select {
	case res := <-reply:
		require.Error(t, res.Err)
		assert.ErrorIs(t, res.Err, ErrBusy)
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteBlocking was not rejected while paused")
	}

	state.Resume()
	w.Tasks() <- &Task{Kind: TaskTerminate}
	<-w.Done()
}

func TestStepModeSurvivesResumeAndPausesAtNextStatement(t *testing.T) {
	state := NewState()
	w := NewWorker(mini.New(), state, 4, 16, nil)

	go w.Run(context.Background(), nil)
	w.Tasks() <- &Task{Kind: TaskExecuteAsync, Source: `var x=1; debugger; var y=2; var z=3;`}

	seen := drainUntilStopped(t, w.Events(), 2*time.Second)
	assert.Equal(t, "pause", seen[len(seen)-1].Reason)
	require.Eventually(t, state.IsPaused, time.Second, 5*time.Millisecond)

	// A single step: the worker must stop again at `var y=2`, not run to
	// termination.
	state.SetStepMode(StepMode{Kind: StepInto})
	state.Resume()

	seen = drainUntilStopped(t, w.Events(), 2*time.Second)
	assert.Equal(t, "step", seen[len(seen)-1].Reason)
	require.Eventually(t, state.IsPaused, time.Second, 5*time.Millisecond)

	state.SetStepMode(StepMode{Kind: StepNone})
	state.Resume()

	kinds := drainUntilExited(t, w.Events(), 2*time.Second)
	assert.Contains(t, kinds, EventTerminated)

	w.Tasks() <- &Task{Kind: TaskTerminate}
	<-w.Done()
}

func TestEntryPendingStopsAtFirstStatement(t *testing.T) {
	state := NewState()
	w := NewWorker(mini.New(), state, 4, 16, nil)

	state.SetEntryPending()
	go w.Run(context.Background(), nil)
	w.Tasks() <- &Task{Kind: TaskExecuteAsync, Source: `var x=1; var y=2;`}

	seen := drainUntilStopped(t, w.Events(), 2*time.Second)
	last := seen[len(seen)-1]
	assert.Equal(t, "entry", last.Reason)
	require.Eventually(t, state.IsPaused, time.Second, 5*time.Millisecond)

	// The program must still run to completion after the entry stop.
	state.Resume()
	kinds := drainUntilExited(t, w.Events(), 2*time.Second)
	assert.Contains(t, kinds, EventTerminated)

	w.Tasks() <- &Task{Kind: TaskTerminate}
	<-w.Done()
}

func TestClosingTaskChannelStopsWorker(t *testing.T) {
	state := NewState()
	w := NewWorker(mini.New(), state, 4, 16, nil)

	go w.Run(context.Background(), nil)
	close(w.Tasks())

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after its task channel closed")
	}
}

// compile-time assertion that *mini.Interpreter satisfies the narrow
// interp.Interpreter collaborator contract.
var _ interp.Interpreter = (*mini.Interpreter)(nil)
