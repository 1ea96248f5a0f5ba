package lesson_server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// A ResponseWriter is used by a Handler to construct a response.
//
// Header changes made after the first call to Write are not sent: the
// status line and headers are committed at that point.
type ResponseWriter interface {
	// Header returns the header map that will be sent.
	Header() Header

	// WriteHeader sets the status code. Only the first call has an
	// effect. Without a call the status is 200.
	WriteHeader(statusCode int)

	// Write appends p to the body, committing the headers first if
	// needed. Each call is sent in the order made.
	Write(p []byte) (int, error)
}

// maxPostHandlerDrain is how much of an unread body the server reads
// to keep the connection alive.
const maxPostHandlerDrain = 256 << 10

// A response represents the server side of a response.
type response struct {
	conn      *conn
	req       *Request           // request for this response
	cancelCtx context.CancelFunc // when Serve exits

	handlerHeader Header
	status        int
	wroteHeader   bool // status code set by the handler
	committed     bool // status line and headers are on the wire

	body          io.Writer // bufw, or a chunkedWriter over it
	chunked       bool
	contentLength int64 // declared by the handler, or PayloadLenUnknown
	written       int64

	// closeAfter is set when the connection must not be reused.
	closeAfter bool
}

func newResponse(c *conn, req *Request, cancel context.CancelFunc) *response {
	h := make(Header)
	h.Set("Server", c.srv.serverName())
	return &response{
		conn:          c,
		req:           req,
		cancelCtx:     cancel,
		handlerHeader: h,
		status:        http.StatusOK,
		contentLength: PayloadLenUnknown,
		closeAfter:    req.wantsClose(),
	}
}

func (w *response) Header() Header {
	return w.handlerHeader
}

func (w *response) WriteHeader(code int) {
	if w.wroteHeader || w.committed {
		w.conn.srv.logger().Warn().
			Str("remote", w.conn.remoteAddr).
			Int("status", code).
			Msg("superfluous WriteHeader call")
		return
	}
	if code < 100 || code > 999 {
		w.conn.srv.logger().Warn().
			Str("remote", w.conn.remoteAddr).
			Int("status", code).
			Msg("invalid status code ignored")
		return
	}
	w.wroteHeader = true
	w.status = code
}

func (w *response) Write(p []byte) (n int, err error) {
	if w.conn.werr != nil {
		return 0, w.conn.werr
	}
	if !w.committed {
		w.commit(false)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !w.bodyAllowed() {
		return 0, ErrBodyNotAllowed
	}
	if w.contentLength != PayloadLenUnknown && w.written+int64(len(p)) > w.contentLength {
		return 0, ErrContentLength
	}
	n, err = w.body.Write(p)
	w.written += int64(n)
	if err != nil {
		w.closeAfter = true
	}
	return n, err
}

// commit writes the status line and headers. final is set when the
// handler has returned and no body was written.
func (w *response) commit(final bool) {
	w.committed = true
	h := w.handlerHeader

	if !h.Has("Date") {
		h.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	switch {
	case w.req.Method == "HEAD":
		h.Del("Transfer-Encoding")
	case !bodyAllowedForStatus(w.status):
		h.Del("Content-Length")
		h.Del("Transfer-Encoding")
	case h.Has("Content-Length"):
		w.contentLength = h.ContentLength()
		if w.contentLength == PayloadLenUnknown {
			h.Del("Content-Length")
			w.closeAfter = true
		}
		h.Del("Transfer-Encoding")
	case final:
		h.Set("Content-Length", "0")
		w.contentLength = 0
	case w.req.Proto == "HTTP/1.1":
		h.Set("Transfer-Encoding", "chunked")
		w.chunked = true
	default:
		w.closeAfter = true
	}
	if w.closeAfter || w.conn.srv.shuttingDown() {
		w.closeAfter = true
		h.Set("Connection", "close")
	}

	bw := w.conn.bufw
	fmt.Fprintf(bw, "%s %03d %s\r\n", w.req.Proto, w.status, statusText(w.status))
	h.Write(bw)
	io.WriteString(bw, "\r\n")

	w.body = bw
	if w.chunked {
		w.body = chunkedWriter{bw}
	}
}

// finishRequest completes the response and reports whether the
// connection can serve another request.
func (w *response) finishRequest() bool {
	if !w.committed {
		w.commit(true)
	}
	if w.chunked {
		if err := w.body.(chunkedWriter).Close(); err != nil {
			w.closeAfter = true
		}
	}
	if w.contentLength != PayloadLenUnknown && w.written < w.contentLength && w.bodyAllowed() {
		// short body, the client would wait for the rest
		w.closeAfter = true
	}
	if err := w.conn.bufw.Flush(); err != nil {
		w.closeAfter = true
	}
	if w.closeAfter {
		return false
	}

	n, err := io.CopyN(io.Discard, w.req.Body, maxPostHandlerDrain+1)
	if n > maxPostHandlerDrain || (err != nil && err != io.EOF) {
		return false
	}
	return true
}

func (w *response) bodyAllowed() bool {
	return w.req.Method != "HEAD" && bodyAllowedForStatus(w.status)
}

func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent:
		return false
	case status == http.StatusNotModified:
		return false
	}
	return true
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "status code " + strconv.Itoa(code)
}
