package lesson_server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// A Request represents an HTTP request received by a server.
type Request struct {
	ctx context.Context

	Method   string // GET, POST, PUT, DELETE, ...
	Path     string // decoded path, "/" when empty
	RawQuery string // query string without the '?'
	Proto    string // "HTTP/1.1"

	Header Header

	// Body is the request body. It is never nil; requests without a
	// body have an empty reader.
	Body io.Reader

	// RemoteAddr is the network address of the client.
	RemoteAddr string

	query url.Values
	form  url.Values
}

// NewRequest returns a request for target, which is a path with an
// optional query string, suitable for passing to a Handler in tests.
func NewRequest(method, target string, body io.Reader) *Request {
	if body == nil {
		body = strings.NewReader("")
	}
	req := &Request{
		ctx:    context.Background(),
		Method: method,
		Proto:  "HTTP/1.1",
		Header: make(Header),
		Body:   body,
	}
	req.setTarget(target)
	return req
}

// Context returns the request's context. It is canceled when the
// handler returns or the connection breaks.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

func (r *Request) setTarget(target string) {
	if !strings.HasPrefix(target, "/") && strings.Contains(target, "://") {
		// absolute-form, as sent to proxies
		if u, err := url.ParseRequestURI(target); err == nil && u.IsAbs() {
			r.Path = u.Path
			if r.Path == "" {
				r.Path = "/"
			}
			r.RawQuery = u.RawQuery
			return
		}
	}
	path, rawQuery, _ := strings.Cut(target, "?")
	if p, err := url.PathUnescape(path); err == nil {
		path = p
	}
	if path == "" {
		path = "/"
	}
	r.Path = path
	r.RawQuery = rawQuery
}

// Query parses RawQuery. Pairs that fail to decode are dropped.
func (r *Request) Query() url.Values {
	if r.query == nil {
		r.query = parseValues(r.RawQuery)
	}
	return r.query
}

// UserAgent returns the client's User-Agent, if sent.
func (r *Request) UserAgent() string {
	return r.Header.Get("User-Agent")
}

// ReadForm reads the body to completion and parses it as
// application/x-www-form-urlencoded. A body that fails to read or
// decode yields whatever pairs could be parsed; a body over the
// server's size limit yields none. The body is consumed only once.
func (r *Request) ReadForm() url.Values {
	if r.form != nil {
		return r.form
	}
	b, err := io.ReadAll(r.Body)
	if errors.Is(err, ErrBodyTooLarge) {
		r.form = make(url.Values)
		return r.form
	}
	r.form = parseValues(string(b))
	return r.form
}

// parseValues is url.ParseQuery with errors ignored; ParseQuery keeps
// every pair it could decode.
func parseValues(s string) url.Values {
	v, _ := url.ParseQuery(s)
	if v == nil {
		v = make(url.Values)
	}
	return v
}

// readRequest reads the request line and headers from br and sets up
// the body reader. Errors reading the request line are returned as is,
// so io.EOF means the peer closed before sending anything. Malformed
// input wraps ErrBadRequest. Body reads past maxBodyBytes fail with
// ErrBodyTooLarge.
func readRequest(br *bufio.Reader, maxHeaderBytes int, maxBodyBytes int64) (*Request, error) {
	budget := maxHeaderBytes
	line, err := readLine(br, &budget)
	if err != nil {
		return nil, err
	}

	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || method == "" || target == "" || strings.Contains(proto, " ") {
		return nil, fmt.Errorf("%w: malformed request line %q", ErrBadRequest, line)
	}
	if proto != "HTTP/1.1" && proto != "HTTP/1.0" {
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrBadRequest, proto)
	}

	req := &Request{Method: method, Proto: proto}
	req.setTarget(target)

	req.Header, err = readHeader(br, &budget)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.EqualFold(req.Header.Get("Transfer-Encoding"), "chunked"):
		req.Body = &maxBytesReader{r: newChunkedReader(br), n: maxBodyBytes}
	case req.Header.Has("Transfer-Encoding"):
		return nil, fmt.Errorf("%w: unsupported transfer encoding %q", ErrBadRequest, req.Header.Get("Transfer-Encoding"))
	case req.Header.Has("Content-Length"):
		n := req.Header.ContentLength()
		if n == PayloadLenUnknown {
			return nil, fmt.Errorf("%w: invalid content length %q", ErrBadRequest, req.Header.Get("Content-Length"))
		}
		if n > maxBodyBytes {
			// refused up front, nothing of it is read
			req.Body = &maxBytesReader{err: ErrBodyTooLarge}
			break
		}
		req.Body = io.LimitReader(br, n)
	default:
		req.Body = strings.NewReader("")
	}
	return req, nil
}

// maxBytesReader reads at most n bytes from r, then fails with
// ErrBodyTooLarge if r has more.
type maxBytesReader struct {
	r   io.Reader
	n   int64
	err error
}

func (l *maxBytesReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	// one byte over the limit tells "exactly n" from "more than n"
	if int64(len(p))-1 > l.n {
		p = p[:l.n+1]
	}
	n, err := l.r.Read(p)
	if int64(n) <= l.n {
		l.n -= int64(n)
		l.err = err
		return n, err
	}
	n = int(l.n)
	l.n = 0
	l.err = ErrBodyTooLarge
	return n, l.err
}

// wantsClose reports whether the connection must close after req.
// HTTP/1.0 connections are never kept alive.
func (r *Request) wantsClose() bool {
	return r.Proto == "HTTP/1.0" || strings.EqualFold(r.Header.Get("Connection"), "close")
}
