// Package transport accepts exactly one DAP connection (stdio or a
// single TCP accept), reads protocol messages off it in a loop, and
// hands each one to the dispatcher until the connection closes or the
// session disconnects.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/google/go-dap"

	"github.com/ecal-dap/ecal-dap/internal/dapserver"
	"github.com/ecal-dap/ecal-dap/internal/session"
	"github.com/ecal-dap/ecal-dap/internal/wire"
)

// RunStdio serves exactly one DAP connection over stdin/stdout, logging
// diagnostics to stderr. It returns when stdin reaches EOF or a
// transport-level I/O error occurs.
func RunStdio(ctx context.Context, newSession func(*wire.Conn) *session.Session, logger *log.Logger) error {
	conn := wire.NewConn(os.Stdin, os.Stdout)
	return serve(ctx, conn, newSession, logger)
}

// RunTCP listens on 127.0.0.1:port, accepts exactly one connection, and
// serves it to completion before returning. DAP is one session per
// process.
func RunTCP(ctx context.Context, port int, newSession func(*wire.Conn) *session.Session, logger *log.Logger) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	logger.Printf("transport: listening on %s", addr)

	nc, err := ln.Accept()
	ln.Close()
	if err != nil {
		return fmt.Errorf("accepting connection: %w", err)
	}
	defer nc.Close()

	conn := wire.NewConn(nc, nc)
	return serve(ctx, conn, newSession, logger)
}

// serve runs the read loop: decode a message, dispatch it, repeat. A
// message that frames correctly but fails to decode (a command this
// adapter has no type for, arguments that do not fit the command's
// type, or a body that is not valid JSON) is answered with a failure
// response and the loop continues; the stream is still in sync because
// the framed body was consumed in full. Any other read error (EOF on a
// closed pipe/socket, an I/O error, or a frame header that cannot be
// parsed) ends the loop.
func serve(ctx context.Context, conn *wire.Conn, newSession func(*wire.Conn) *session.Session, logger *log.Logger) error {
	sess := newSession(conn)
	server := dapserver.New(conn, sess, logger)
	defer sess.Shutdown()

	for {
		msg, err := conn.Read()
		if err != nil {
			var fieldErr *dap.DecodeProtocolMessageFieldError
			if errors.As(err, &fieldErr) {
				logger.Printf("transport: undecodable message: %v", err)
				format := err.Error()
				command := ""
				if fieldErr.FieldName == "command" {
					command = fieldErr.FieldValue
					format = fmt.Sprintf("Unknown command: %s (not implemented)", command)
				}
				conn.Write(conn.NewErrorResponse(fieldErr.Seq, command, format, 1))
				continue
			}
			if msg != nil {
				// A known request whose arguments did not decode.
				logger.Printf("transport: undecodable arguments: %v", err)
				command := ""
				if req, ok := msg.(interface{ GetRequest() *dap.Request }); ok {
					command = req.GetRequest().Command
				}
				conn.Write(conn.NewErrorResponse(msg.GetSeq(), command, err.Error(), 1))
				continue
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				logger.Printf("transport: malformed JSON body: %v", err)
				conn.Write(conn.NewErrorResponse(0, "", err.Error(), 1))
				continue
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading DAP message: %w", err)
		}
		server.Handle(ctx, msg)
	}
}
