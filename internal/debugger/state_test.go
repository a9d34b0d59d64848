package debugger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateStartsRunning(t *testing.T) {
	s := NewState()
	assert.False(t, s.IsPaused())
	assert.False(t, s.IsShuttingDown())
}

func TestResumeBeforeAnyPauseIsNoOp(t *testing.T) {
	s := NewState()
	s.Resume()
	assert.False(t, s.IsPaused())
}

func TestPauseThenResume(t *testing.T) {
	s := NewState()
	s.Pause()
	assert.True(t, s.IsPaused())

	s.Resume()
	assert.False(t, s.IsPaused())
}

func TestResumePreservesStepMode(t *testing.T) {
	s := NewState()
	s.SetStepMode(StepMode{Kind: StepInto})
	s.Resume()

	// The mode installed for this resume must survive it; Resume
	// clearing it would turn every step request into a continue.
	_, _, mode := s.Snapshot()
	assert.Equal(t, StepInto, mode.Kind)
}

func TestShutdownWakesWaiter(t *testing.T) {
	s := NewState()
	s.Pause()

	woke := make(chan struct{})
	go func() {
		s.WithLock(func(wait func()) {
			for !s.shuttingDown {
				wait()
			}
		})
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine reach Wait()
	s.Shutdown()

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not wake the waiter")
	}
	assert.True(t, s.IsShuttingDown())
}

func TestNotifyInspectionPostedWakesWaiterWithoutChangingState(t *testing.T) {
	s := NewState()
	s.Pause()

	notified := make(chan struct{})
	go func() {
		s.WithLock(func(wait func()) {
			wait()
		})
		close(notified)
	}()

	time.Sleep(20 * time.Millisecond)
	s.NotifyInspectionPosted()

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyInspectionPosted did not wake the waiter")
	}
	assert.True(t, s.IsPaused()) // unrelated to paused/shutting_down
}

// A notice posted while no one is parked must not be lost: the next
// wait decision has to consume it and skip parking, because the task it
// announces is already sitting in the channel.
func TestInspectionNoticePostedBeforeParkIsNotLost(t *testing.T) {
	s := NewState()
	s.Pause()
	s.NotifyInspectionPosted()

	done := make(chan struct{})
	go func() {
		s.WithLock(func(wait func()) {
			if s.pendingInspections > 0 {
				s.pendingInspections = 0
				return
			}
			wait()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wait decision parked past a pending inspection notice")
	}
}

func TestShouldPauseForStepRules(t *testing.T) {
	assert.False(t, ShouldPauseForStep(StepMode{Kind: StepNone}, 3))

	assert.True(t, ShouldPauseForStep(StepMode{Kind: StepInto}, 0))
	assert.True(t, ShouldPauseForStep(StepMode{Kind: StepInto}, 5))

	over := StepMode{Kind: StepOver, Depth: 2}
	assert.True(t, ShouldPauseForStep(over, 0))
	assert.True(t, ShouldPauseForStep(over, 2))
	assert.False(t, ShouldPauseForStep(over, 3))

	out := StepMode{Kind: StepOut, Depth: 2}
	assert.True(t, ShouldPauseForStep(out, 1))
	assert.False(t, ShouldPauseForStep(out, 2))
	assert.False(t, ShouldPauseForStep(out, 3))
}

func TestSetBreakpointAllocatesMonotonicIDs(t *testing.T) {
	s := NewState()
	id1 := s.SetBreakpoint(1, 10)
	id2 := s.SetBreakpoint(1, 20)
	assert.Greater(t, id2, id1)
}

func TestHasBreakpoint(t *testing.T) {
	s := NewState()
	s.SetBreakpoint(1, 10)

	assert.True(t, s.HasBreakpoint(1, 10))
	assert.False(t, s.HasBreakpoint(1, 11))
	assert.False(t, s.HasBreakpoint(2, 10))
}

func TestReplaceBreakpointsAtomicSwap(t *testing.T) {
	s := NewState()
	first := s.SetBreakpoint(1, 5)

	out := s.ReplaceBreakpoints(1, []int{10, 20, 30})
	require.Len(t, out, 3)
	for _, bp := range out {
		assert.Greater(t, bp.ID, first)
	}
	assert.False(t, s.HasBreakpoint(1, 5))
	assert.True(t, s.HasBreakpoint(1, 10))
	assert.True(t, s.HasBreakpoint(1, 20))
	assert.True(t, s.HasBreakpoint(1, 30))
}

func TestReplaceBreakpointsEmptyClearsSource(t *testing.T) {
	s := NewState()
	s.ReplaceBreakpoints(1, []int{10})
	require.True(t, s.HasBreakpoint(1, 10))

	out := s.ReplaceBreakpoints(1, nil)
	assert.Empty(t, out)
	assert.False(t, s.HasBreakpoint(1, 10))
}

func TestEntryPendingIsOneShot(t *testing.T) {
	s := NewState()
	assert.False(t, s.TakeEntryPending())

	s.SetEntryPending()
	assert.True(t, s.TakeEntryPending())
	assert.False(t, s.TakeEntryPending())
}

func TestNoDebugFlag(t *testing.T) {
	s := NewState()
	assert.False(t, s.IsNoDebug())
	s.SetNoDebug(true)
	assert.True(t, s.IsNoDebug())
}
