package session

import (
	"fmt"

	"github.com/google/go-dap"

	"github.com/ecal-dap/ecal-dap/internal/debugger"
)

// variableReferenceBase keeps allocated variablesReference handles well
// clear of the frameIDBase+depth range HandleStackTrace uses, so the
// two id spaces never collide without needing a shared allocator.
const variableReferenceBase = 10000

const frameIDBase = 1000

func frameIDForDepth(depth int) int   { return frameIDBase + depth }
func depthForFrameID(frameID int) int { return frameID - frameIDBase }

// HandleSetBreakpoints replaces the prior breakpoint set for the source
// atomically and reports every new one verified (optimistic line
// verification; a stricter interpreter collaborator can flip the config
// flag off).
func (s *Session) HandleSetBreakpoints(sourcePath string, lines []int) []dap.Breakpoint {
	s.mu.Lock()
	scriptID := s.scriptIDForLocked(sourcePath)
	s.mu.Unlock()

	records := s.state.ReplaceBreakpoints(scriptID, lines)

	out := make([]dap.Breakpoint, len(records))
	for i, bp := range records {
		out[i] = dap.Breakpoint{
			Id:       bp.ID,
			Verified: s.cfg.Debugger.OptimisticVerification,
			Line:     bp.Line,
			Source:   &dap.Source{Path: sourcePath},
		}
	}
	return out
}

// HandleConfigurationDone is a no-op acknowledgement; the launched
// program is already submitted by the launch handling itself.
func (s *Session) HandleConfigurationDone() error { return nil }

// HandleAttach is unsupported; this front-end only launches a program it
// owns, it never attaches to one already running.
func (s *Session) HandleAttach() error {
	return fmt.Errorf("attach is not supported")
}

// resumeWith installs mode, wakes the host-hook wait loop, and resets
// the pause-scoped session state: every variablesReference handle dies
// on resume. A resume that actually leaves a pause is announced to the
// client with a `continued` event; a resume while already running stays
// silent.
func (s *Session) resumeWith(mode debugger.StepMode) {
	wasPaused := s.state.IsPaused()
	s.state.SetStepMode(mode)
	s.state.Resume()

	s.mu.Lock()
	s.running = true
	s.stoppedReason = ""
	s.clearVariableReferencesLocked()
	s.mu.Unlock()

	if wasPaused {
		s.conn.Write(&dap.ContinuedEvent{
			Event: s.conn.NewEvent("continued"),
			Body:  dap.ContinuedEventBody{ThreadId: ThreadID, AllThreadsContinued: true},
		})
	}
}

// HandleContinue resumes execution with no active step mode.
func (s *Session) HandleContinue() {
	s.resumeWith(debugger.StepMode{Kind: debugger.StepNone})
}

// HandlePause has no effect on a cooperative tree-walking interpreter
// that only checks for a pause request at its own step boundaries: the
// worker is always either already paused or will reach the next step
// boundary on its own, so there is no separate "request a pause" signal
// to send it.
func (s *Session) HandlePause() {}

// currentDepth reads the innermost frame depth from the interpreter's
// own call stack; used to anchor next/stepOut step modes at the depth
// they were issued from.
func (s *Session) currentDepth() int {
	frames, err := s.sendStackTrace()
	if err != nil {
		return 0
	}
	return len(frames)
}

// HandleNext steps over the current line.
func (s *Session) HandleNext() {
	depth := s.currentDepth()
	s.resumeWith(debugger.StepMode{Kind: debugger.StepOver, Depth: depth})
}

// HandleStepIn steps into the next call.
func (s *Session) HandleStepIn() {
	s.resumeWith(debugger.StepMode{Kind: debugger.StepInto})
}

// HandleStepOut runs until the current frame returns.
func (s *Session) HandleStepOut() {
	depth := s.currentDepth()
	s.resumeWith(debugger.StepMode{Kind: debugger.StepOut, Depth: depth})
}

// HandleThreads always reports the single interpreter thread.
func (s *Session) HandleThreads() []dap.Thread {
	return []dap.Thread{{Id: ThreadID, Name: "Main Thread"}}
}

// sendStackTrace posts a StackTrace task to the worker and waits for its
// reply. The condition variable is notified only AFTER the task is
// queued, so a paused worker's drain loop picks it up deterministically.
func (s *Session) sendStackTrace() ([]debugger.StackFrameResult, error) {
	s.mu.Lock()
	worker := s.worker
	s.mu.Unlock()
	if worker == nil {
		return nil, fmt.Errorf("no active debuggee")
	}

	reply := make(chan debugger.StackResult, 1)
	if err := s.post(&debugger.Task{Kind: debugger.TaskStackTrace, ReplyStack: reply}); err != nil {
		return nil, err
	}
	s.state.NotifyInspectionPosted()

	select {
	case res := <-reply:
		return res.Frames, res.Err
	case <-worker.Done():
		return nil, fmt.Errorf("debuggee terminated")
	}
}

// HandleStackTrace maps each live frame to a frameId. Before any launch
// there is nothing to inspect; the response is an empty list, not an
// error.
func (s *Session) HandleStackTrace() ([]dap.StackFrame, error) {
	s.mu.Lock()
	worker := s.worker
	s.mu.Unlock()
	if worker == nil {
		return []dap.StackFrame{}, nil
	}

	frames, err := s.sendStackTrace()
	if err != nil {
		return nil, err
	}
	out := make([]dap.StackFrame, len(frames))
	for depth, f := range frames {
		out[depth] = dap.StackFrame{
			Id:     frameIDForDepth(depth),
			Name:   f.FunctionName,
			Line:   f.Line,
			Column: f.Column,
			Source: &dap.Source{Path: f.SourcePath},
		}
	}
	return out, nil
}

// HandleScopes always exposes exactly a Local and a Global scope for the
// given frame, each with a freshly allocated variablesReference. The
// references are only valid until the next resume.
func (s *Session) HandleScopes(frameID int) []dap.Scope {
	depth := depthForFrameID(frameID)

	s.mu.Lock()
	localRef := s.allocVariableReferenceLocked(varRef{frameDepth: depth, scope: debugger.ScopeLocal})
	globalRef := s.allocVariableReferenceLocked(varRef{frameDepth: depth, scope: debugger.ScopeGlobal})
	s.mu.Unlock()

	return []dap.Scope{
		{Name: "Local", VariablesReference: localRef, Expensive: false},
		{Name: "Global", VariablesReference: globalRef, Expensive: true},
	}
}

// allocVariableReferenceLocked must be called with s.mu held.
func (s *Session) allocVariableReferenceLocked(ref varRef) int {
	if s.nextVariableReference == 0 {
		s.nextVariableReference = variableReferenceBase
	}
	s.nextVariableReference++
	id := s.nextVariableReference
	s.variableReferences[id] = ref
	return id
}

// HandleVariables resolves a previously allocated variablesReference
// against the worker's live interpreter state.
func (s *Session) HandleVariables(variablesReference int) ([]dap.Variable, error) {
	s.mu.Lock()
	ref, ok := s.variableReferences[variablesReference]
	worker := s.worker
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown variablesReference %d", variablesReference)
	}
	if worker == nil {
		return nil, fmt.Errorf("no active debuggee")
	}

	reply := make(chan debugger.VariablesResult, 1)
	if err := s.post(&debugger.Task{
		Kind:           debugger.TaskVariables,
		FrameDepth:     ref.frameDepth,
		Scope:          ref.scope,
		ReplyVariables: reply,
	}); err != nil {
		return nil, err
	}
	s.state.NotifyInspectionPosted()

	var res debugger.VariablesResult
	select {
	case res = <-reply:
	case <-worker.Done():
		return nil, fmt.Errorf("debuggee terminated")
	}
	if res.Err != nil {
		return nil, res.Err
	}
	out := make([]dap.Variable, len(res.Variables))
	for i, v := range res.Variables {
		out[i] = dap.Variable{Name: v.Name, Value: v.Value}
	}
	return out, nil
}

// HandleEvaluate routes an evaluate request. While paused with a live
// frame it is serviced inline by the host-hook wait loop; an evaluation
// failure during a pause comes back in the result string and never
// unpauses or terminates the session. Otherwise it runs as an ordinary
// blocking eval on the worker.
func (s *Session) HandleEvaluate(expression string, frameID int) (string, error) {
	s.mu.Lock()
	worker := s.worker
	s.mu.Unlock()
	if worker == nil {
		return "", fmt.Errorf("no active debuggee")
	}
	paused := s.state.IsPaused()

	reply := make(chan debugger.StringResult, 1)

	if !paused || frameID < frameIDBase {
		if err := s.post(&debugger.Task{Kind: debugger.TaskExecuteBlocking, Source: expression, ReplyString: reply}); err != nil {
			return "", err
		}
		select {
		case res := <-reply:
			return res.Value, res.Err
		case <-worker.Done():
			return "", fmt.Errorf("debuggee terminated")
		}
	}

	if err := s.post(&debugger.Task{
		Kind:        debugger.TaskEvaluate,
		Expression:  expression,
		FrameDepth:  depthForFrameID(frameID),
		ReplyString: reply,
	}); err != nil {
		return "", err
	}
	s.state.NotifyInspectionPosted()

	select {
	case res := <-reply:
		if res.Err != nil {
			return "Error: " + res.Err.Error(), nil
		}
		return res.Value, nil
	case <-worker.Done():
		return "", fmt.Errorf("debuggee terminated")
	}
}

// HandleDisconnect tears the session down.
func (s *Session) HandleDisconnect() {
	s.Shutdown()
}
