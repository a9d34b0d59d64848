// Package wire implements the Debug Adapter Protocol message framing:
// reading and writing length-prefixed JSON messages over any
// io.Reader/io.Writer pair, with a single atomically-incrementing
// sequence counter and a mutex-guarded writer shared by the request
// dispatcher and the event forwarder.
package wire

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
)

// Conn is a framed DAP connection: dap.ReadProtocolMessage/
// dap.WriteProtocolMessage over a buffered reader/writer, plus the
// server-side sequence counter.
type Conn struct {
	r *bufio.Reader

	writeMu sync.Mutex
	w       *bufio.Writer

	seq int64
}

// NewConn wraps r and w (both ends of a net.Conn, or os.Stdin and
// os.Stdout) in a framed DAP connection.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: bufio.NewReader(r), w: bufio.NewWriter(w)}
}

// Read blocks until one complete DAP message has been framed off the
// underlying reader, or returns the error ReadProtocolMessage produced
// (io.EOF on a clean close).
func (c *Conn) Read() (dap.Message, error) {
	return dap.ReadProtocolMessage(c.r)
}

// NextSeq returns the next value of the server's outbound sequence
// counter. Safe for concurrent use by the dispatcher (for responses) and
// the event forwarder (for events) at once.
func (c *Conn) NextSeq() int {
	return int(atomic.AddInt64(&c.seq, 1))
}

// Write frames and flushes msg. Safe for concurrent use; every writer
// goes through the same mutex so interleaved responses and events never
// corrupt each other's Content-Length framing.
func (c *Conn) Write(msg dap.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := dap.WriteProtocolMessage(c.w, msg); err != nil {
		return err
	}
	return c.w.Flush()
}

// NewEvent builds the common Event envelope with a freshly allocated seq.
func (c *Conn) NewEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.NextSeq(), Type: "event"},
		Event:           event,
	}
}

// NewResponse builds the common Response envelope for requestSeq/command
// with a freshly allocated seq and Success defaulted to true.
func (c *Conn) NewResponse(requestSeq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.NextSeq(), Type: "response"},
		RequestSeq:      requestSeq,
		Command:         command,
		Success:         true,
	}
}

// NewErrorResponse builds a failure Response carrying a single
// ErrorMessage body, matching the shape DAP clients expect from a
// rejected or unimplemented request.
func (c *Conn) NewErrorResponse(requestSeq int, command, format string, id int) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = c.NewResponse(requestSeq, command)
	er.Success = false
	er.Message = format
	er.Body.Error = &dap.ErrorMessage{Id: id, Format: format}
	return er
}
