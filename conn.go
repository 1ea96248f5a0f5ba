package lesson_server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	atom "go.uber.org/atomic"
)

// Connection buffers are recycled across connections.
var (
	readerPool = sync.Pool{New: func() any { return bufio.NewReader(nil) }}
	writerPool = sync.Pool{New: func() any { return bufio.NewWriter(nil) }}
)

type ConnState int

// Connection lifecycle: New -> Active <-> Idle -> Closed.
const (
	StateNew    ConnState = iota // accepted, no request read yet
	StateActive                  // a request is being read or served
	StateIdle                    // between keep-alive requests
	StateClosed                  // terminal
)

var stateName = map[ConnState]string{
	StateNew:    "new",
	StateActive: "active",
	StateIdle:   "idle",
	StateClosed: "closed",
}

func (c ConnState) String() string {
	return stateName[c]
}

// A conn represents the server side of a connection.
type conn struct {
	srv       *Server
	cancelCtx context.CancelFunc
	rwc       net.Conn

	// remoteAddr is set at the start of serve and copied into
	// each Request.
	remoteAddr string

	// werr is the first write error seen by checkConnErrorWriter.
	werr error

	bufr *bufio.Reader
	bufw *bufio.Writer // over checkConnErrorWriter{c}

	curState atom.Uint64 // packed (unixtime<<8|uint8(ConnState))
}

func (c *conn) setState(st ConnState) {
	if st < 0 || st > 0xff {
		panic("lesson_server: bad conn state")
	}
	if st == StateNew || st == StateClosed {
		c.srv.trackConn(c, st == StateNew)
	}
	c.curState.Store(uint64(time.Now().Unix())<<8 | uint64(st))
}

// getState returns the state and the unix second it was entered.
func (c *conn) getState() (ConnState, int64) {
	v := c.curState.Load()
	return ConnState(v & 0xff), int64(v >> 8)
}

// serve runs the request loop of one connection until it closes.
func (c *conn) serve(ctx context.Context) {
	c.remoteAddr = c.rwc.RemoteAddr().String()
	ctx = context.WithValue(ctx, LocalAddrContextKey, c.rwc.LocalAddr())
	defer func() {
		if err := recover(); err != nil {
			stack := make([]byte, 64<<10)
			stack = stack[:runtime.Stack(stack, false)]
			c.srv.logger().Error().
				Str("remote", c.remoteAddr).
				Interface("panic", err).
				Bytes("stack", stack).
				Msg("panic serving connection")
		}
		c.close()
		c.setState(StateClosed)
	}()

	ctx, cancelCtx := context.WithCancel(ctx)
	c.cancelCtx = cancelCtx
	defer cancelCtx()

	c.bufr = readerPool.Get().(*bufio.Reader)
	c.bufr.Reset(c.rwc)
	c.bufw = writerPool.Get().(*bufio.Writer)
	c.bufw.Reset(checkConnErrorWriter{c})

	for {
		w, err := c.readRequest(ctx)
		c.setState(StateActive)
		if err != nil {
			if isQuietReadError(err) {
				return
			}
			c.srv.logger().Debug().Str("remote", c.remoteAddr).Err(err).Msg("read request")
			c.replyError(err)
			return
		}

		serverHandler{c.srv}.Serve(w, w.req)
		w.cancelCtx()

		if !w.finishRequest() || c.werr != nil || c.srv.shuttingDown() {
			return
		}

		c.setState(StateIdle)

		if idle := c.srv.idleTimeout(); idle > 0 {
			// wait for the next request line under the idle deadline
			c.rwc.SetReadDeadline(deadline(time.Now(), idle))
			if _, err := c.bufr.Peek(4); err != nil {
				return
			}
		}
		c.rwc.SetReadDeadline(time.Time{})
	}
}

// isQuietReadError reports whether err means the peer went away or
// timed out, in which case nothing is written back.
func isQuietReadError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "read"
}

func (c *conn) readRequest(ctx context.Context) (w *response, err error) {
	start := time.Now()
	headerBy := deadline(start, c.srv.readHeaderTimeout())
	requestBy := deadline(start, c.srv.ReadTimeout)
	c.rwc.SetReadDeadline(headerBy)
	if wt := c.srv.WriteTimeout; wt > 0 {
		// counted from the end of the header
		defer func() { c.rwc.SetWriteDeadline(deadline(time.Now(), wt)) }()
	}

	req, err := readRequest(c.bufr, c.srv.maxHeaderBytes(), c.srv.maxBodyBytes())
	if err != nil {
		return nil, err
	}
	req.RemoteAddr = c.remoteAddr

	ctx, cancel := context.WithCancel(ctx)
	req.ctx = ctx

	if !headerBy.Equal(requestBy) {
		c.rwc.SetReadDeadline(requestBy)
	}

	return newResponse(c, req, cancel), nil
}

// deadline is t+d, or the zero time (no deadline) when d is zero.
func deadline(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return t.Add(d)
}

// replyError writes a bare error response for a request that could
// not be parsed. The connection is closed afterwards.
func (c *conn) replyError(err error) {
	var code int
	switch {
	case errors.Is(err, ErrHeaderTooLarge):
		code = http.StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, ErrBadRequest):
		code = http.StatusBadRequest
	default:
		return
	}
	text := statusText(code)
	fmt.Fprintf(c.bufw, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\nContent-Length: %d\r\n\r\n%s",
		code, text, len(text), text)
	c.bufw.Flush()
}

func (c *conn) close() {
	c.finalFlush()
	if c.rwc != nil {
		c.rwc.Close()
	}
}

// checkConnErrorWriter writes to c.rwc, keeping the first error in
// c.werr and canceling the connection context on it.
type checkConnErrorWriter struct {
	c *conn
}

func (w checkConnErrorWriter) Write(p []byte) (n int, err error) {
	n, err = w.c.rwc.Write(p)
	if err != nil && w.c.werr == nil {
		w.c.werr = err
		w.c.cancelCtx()
	}
	return
}

func (c *conn) finalFlush() {
	if br := c.bufr; br != nil {
		c.bufr = nil
		br.Reset(nil)
		readerPool.Put(br)
	}
	if bw := c.bufw; bw != nil {
		c.bufw = nil
		bw.Flush()
		bw.Reset(nil)
		writerPool.Put(bw)
	}
}
