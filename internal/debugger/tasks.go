package debugger

import "github.com/ecal-dap/ecal-dap/internal/interp"

// TaskKind discriminates Task variants.
type TaskKind int

const (
	TaskExecuteBlocking TaskKind = iota
	TaskExecuteAsync
	TaskStackTrace
	TaskEvaluate
	TaskVariables
	TaskTerminate
)

// ScopeKind discriminates the two scopes a `scopes` response always
// returns.
type ScopeKind int

const (
	ScopeLocal ScopeKind = iota
	ScopeGlobal
)

// StackFrameResult is one frame of an inspection reply.
type StackFrameResult struct {
	FunctionName string
	SourcePath   string
	Line         int
	Column       int
	PC           int
}

// Task is a tagged variant sent from the session to the evaluation
// worker over the single-producer/single-consumer task channel.
type Task struct {
	Kind TaskKind

	// ExecuteBlocking / ExecuteAsync
	Source   string
	FilePath string

	// Evaluate / Variables
	Expression string
	FrameDepth int
	Scope      ScopeKind

	// Reply channels. Exactly one is set, matching Kind.
	ReplyString    chan StringResult
	ReplyStack     chan StackResult
	ReplyVariables chan VariablesResult
}

// StringResult is the reply payload for ExecuteBlocking and Evaluate.
type StringResult struct {
	Value string
	Err   error
}

// StackResult is the reply payload for StackTrace.
type StackResult struct {
	Frames []StackFrameResult
	Err    error
}

// VariablesResult is the reply payload for Variables.
type VariablesResult struct {
	Variables []interp.Variable
	Err       error
}

// framesFromInterp adapts interp.Frame values to StackFrameResult.
func framesFromInterp(in []interp.Frame) []StackFrameResult {
	out := make([]StackFrameResult, len(in))
	for i, f := range in {
		out[i] = StackFrameResult{
			FunctionName: f.FunctionName,
			SourcePath:   f.SourcePath,
			Line:         f.Line,
			Column:       f.Column,
			PC:           f.PC,
		}
	}
	return out
}
