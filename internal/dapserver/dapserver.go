// Package dapserver is the thin request dispatcher: it decodes each
// incoming dap.Message into typed arguments, delegates to
// internal/session for every behavior decision, and wraps the result
// back into a response (plus, for initialize, a trailing `initialized`
// event). It owns no debugger state of its own.
package dapserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/go-dap"

	"github.com/ecal-dap/ecal-dap/internal/session"
	"github.com/ecal-dap/ecal-dap/internal/wire"
)

// Server dispatches one DAP connection's requests to a Session.
type Server struct {
	conn    *wire.Conn
	session *session.Session
	logger  *log.Logger
}

// New wires a dispatcher around an already-constructed session.
func New(conn *wire.Conn, sess *session.Session, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{conn: conn, session: sess, logger: logger}
}

// Handle decodes and services one request, writing its response (and any
// response-adjacent events) to the connection. It never returns an error
// for a malformed or unknown request; those are reported to the client
// as a DAP error response.
func (s *Server) Handle(ctx context.Context, msg dap.Message) {
	switch r := msg.(type) {
	case *dap.InitializeRequest:
		s.onInitialize(r)
	case *dap.LaunchRequest:
		s.onLaunch(ctx, r)
	case *dap.AttachRequest:
		s.onAttach(r)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpoints(r)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDone(r)
	case *dap.ContinueRequest:
		s.onContinue(r)
	case *dap.NextRequest:
		s.onNext(r)
	case *dap.StepInRequest:
		s.onStepIn(r)
	case *dap.StepOutRequest:
		s.onStepOut(r)
	case *dap.PauseRequest:
		s.onPause(r)
	case *dap.StackTraceRequest:
		s.onStackTrace(r)
	case *dap.ScopesRequest:
		s.onScopes(r)
	case *dap.VariablesRequest:
		s.onVariables(r)
	case *dap.EvaluateRequest:
		s.onEvaluate(r)
	case *dap.ThreadsRequest:
		s.onThreads(r)
	case *dap.TerminateRequest:
		s.onTerminate(r)
	case *dap.DisconnectRequest:
		s.onDisconnect(r)
	default:
		command := fmt.Sprintf("%T", msg)
		if req, ok := msg.(*dap.Request); ok && req.Command != "" {
			command = req.Command
		}
		s.writeError(msg.GetSeq(), command, fmt.Sprintf("Unknown command: %s (not implemented)", command))
	}
}

func (s *Server) writeError(requestSeq int, command, format string) {
	s.conn.Write(s.conn.NewErrorResponse(requestSeq, command, format, 1))
}

func (s *Server) onInitialize(r *dap.InitializeRequest) {
	caps := s.session.HandleInitialize(r.Arguments)
	resp := &dap.InitializeResponse{Response: s.conn.NewResponse(r.Seq, "initialize"), Body: caps}
	s.conn.Write(resp)
	s.conn.Write(&dap.InitializedEvent{Event: s.conn.NewEvent("initialized")})
}

type launchArgs struct {
	Program     string `json:"program"`
	NoDebug     bool   `json:"noDebug"`
	StopOnEntry *bool  `json:"stopOnEntry"`
}

func (s *Server) onLaunch(ctx context.Context, r *dap.LaunchRequest) {
	var args launchArgs
	if err := json.Unmarshal(r.Arguments, &args); err != nil {
		s.writeError(r.Seq, "launch", "invalid launch arguments: "+err.Error())
		return
	}
	if err := s.session.HandleLaunch(ctx, args.Program, args.NoDebug, args.StopOnEntry); err != nil {
		s.writeError(r.Seq, "launch", err.Error())
		return
	}
	s.conn.Write(&dap.LaunchResponse{Response: s.conn.NewResponse(r.Seq, "launch")})
	if err := s.session.StartLaunchedProgram(); err != nil {
		s.logger.Printf("dapserver: starting launched program: %v", err)
	}
}

func (s *Server) onAttach(r *dap.AttachRequest) {
	if err := s.session.HandleAttach(); err != nil {
		s.writeError(r.Seq, "attach", err.Error())
		return
	}
	s.conn.Write(&dap.AttachResponse{Response: s.conn.NewResponse(r.Seq, "attach")})
}

func (s *Server) onSetBreakpoints(r *dap.SetBreakpointsRequest) {
	lines := make([]int, len(r.Arguments.Breakpoints))
	for i, bp := range r.Arguments.Breakpoints {
		lines[i] = bp.Line
	}
	out := s.session.HandleSetBreakpoints(r.Arguments.Source.Path, lines)
	resp := &dap.SetBreakpointsResponse{
		Response: s.conn.NewResponse(r.Seq, "setBreakpoints"),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: out},
	}
	s.conn.Write(resp)
}

func (s *Server) onConfigurationDone(r *dap.ConfigurationDoneRequest) {
	if err := s.session.HandleConfigurationDone(); err != nil {
		s.writeError(r.Seq, "configurationDone", err.Error())
		return
	}
	s.conn.Write(&dap.ConfigurationDoneResponse{Response: s.conn.NewResponse(r.Seq, "configurationDone")})
}

func (s *Server) onContinue(r *dap.ContinueRequest) {
	s.session.HandleContinue()
	resp := &dap.ContinueResponse{
		Response: s.conn.NewResponse(r.Seq, "continue"),
		Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
	}
	s.conn.Write(resp)
}

func (s *Server) onNext(r *dap.NextRequest) {
	s.session.HandleNext()
	s.conn.Write(&dap.NextResponse{Response: s.conn.NewResponse(r.Seq, "next")})
}

func (s *Server) onStepIn(r *dap.StepInRequest) {
	s.session.HandleStepIn()
	s.conn.Write(&dap.StepInResponse{Response: s.conn.NewResponse(r.Seq, "stepIn")})
}

func (s *Server) onStepOut(r *dap.StepOutRequest) {
	s.session.HandleStepOut()
	s.conn.Write(&dap.StepOutResponse{Response: s.conn.NewResponse(r.Seq, "stepOut")})
}

func (s *Server) onPause(r *dap.PauseRequest) {
	s.session.HandlePause()
	s.conn.Write(&dap.PauseResponse{Response: s.conn.NewResponse(r.Seq, "pause")})
}

func (s *Server) onStackTrace(r *dap.StackTraceRequest) {
	frames, err := s.session.HandleStackTrace()
	if err != nil {
		s.writeError(r.Seq, "stackTrace", err.Error())
		return
	}
	resp := &dap.StackTraceResponse{
		Response: s.conn.NewResponse(r.Seq, "stackTrace"),
		Body:     dap.StackTraceResponseBody{StackFrames: frames, TotalFrames: len(frames)},
	}
	s.conn.Write(resp)
}

func (s *Server) onScopes(r *dap.ScopesRequest) {
	scopes := s.session.HandleScopes(r.Arguments.FrameId)
	resp := &dap.ScopesResponse{
		Response: s.conn.NewResponse(r.Seq, "scopes"),
		Body:     dap.ScopesResponseBody{Scopes: scopes},
	}
	s.conn.Write(resp)
}

func (s *Server) onVariables(r *dap.VariablesRequest) {
	vars, err := s.session.HandleVariables(r.Arguments.VariablesReference)
	if err != nil {
		s.writeError(r.Seq, "variables", err.Error())
		return
	}
	resp := &dap.VariablesResponse{
		Response: s.conn.NewResponse(r.Seq, "variables"),
		Body:     dap.VariablesResponseBody{Variables: vars},
	}
	s.conn.Write(resp)
}

func (s *Server) onEvaluate(r *dap.EvaluateRequest) {
	result, err := s.session.HandleEvaluate(r.Arguments.Expression, r.Arguments.FrameId)
	if err != nil {
		s.writeError(r.Seq, "evaluate", err.Error())
		return
	}
	resp := &dap.EvaluateResponse{
		Response: s.conn.NewResponse(r.Seq, "evaluate"),
		Body:     dap.EvaluateResponseBody{Result: result, VariablesReference: 0},
	}
	s.conn.Write(resp)
}

func (s *Server) onThreads(r *dap.ThreadsRequest) {
	resp := &dap.ThreadsResponse{
		Response: s.conn.NewResponse(r.Seq, "threads"),
		Body:     dap.ThreadsResponseBody{Threads: s.session.HandleThreads()},
	}
	s.conn.Write(resp)
}

func (s *Server) onTerminate(r *dap.TerminateRequest) {
	s.session.HandleDisconnect()
	s.conn.Write(&dap.TerminateResponse{Response: s.conn.NewResponse(r.Seq, "terminate")})
}

func (s *Server) onDisconnect(r *dap.DisconnectRequest) {
	s.session.HandleDisconnect()
	s.conn.Write(&dap.DisconnectResponse{Response: s.conn.NewResponse(r.Seq, "disconnect")})
}
