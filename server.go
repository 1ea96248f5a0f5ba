package lesson_server

import (
	"cmp"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	atom "go.uber.org/atomic"
)

type contextKey struct {
	name string
}

var (
	// ServerContextKey holds the *Server in every request context.
	ServerContextKey = &contextKey{"lesson_server"}

	// LocalAddrContextKey holds the net.Addr the connection was
	// accepted on.
	LocalAddrContextKey = &contextKey{"lesson_server_local_addr"}
)

var shutdownPollInterval = 500 * time.Millisecond

var (
	ErrServerClosed       = errors.New("lesson_server: server closed")
	ErrServerAddrError    = errors.New("lesson_server: address error")
	ErrServerNetworkError = errors.New("lesson_server: network type error")

	ErrBadRequest     = errors.New("lesson_server: bad request")
	ErrHeaderTooLarge = errors.New("lesson_server: request header too large")
	ErrBodyNotAllowed = errors.New("lesson_server: request method or response status code does not allow body")
	ErrContentLength  = errors.New("lesson_server: wrote more than the declared Content-Length")
	ErrBodyTooLarge   = errors.New("lesson_server: request body too large")
)

// DefaultMaxHeaderBytes is the maximum permitted size of the request
// line and headers, unless overridden by Server.MaxHeaderBytes.
const DefaultMaxHeaderBytes = 1 << 20

// DefaultMaxBodyBytes caps how much of a request body a handler can
// read, unless overridden by Server.MaxBodyBytes.
const DefaultMaxBodyBytes = 30 << 20

const defaultServerName = "lesson_server"

var defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// A Server defines parameters for running an HTTP/1.1 server.
// The zero value for Server is a valid configuration apart from Addr.
type Server struct {
	Network string // network type to listen on, "tcp" if empty
	Addr    string // address to listen on, ErrServerAddrError if empty

	Handler Handler // handler to invoke, HelloWorldHandler if nil

	// Name is the default value of the Server response header.
	// Handlers may override it.
	Name string

	// ReadHeaderTimeout bounds reading the request line and
	// headers. Falls back to ReadTimeout when zero.
	ReadHeaderTimeout time.Duration

	// ReadTimeout bounds reading a whole request, body included.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the response; the deadline is
	// set once the request headers are in.
	WriteTimeout time.Duration

	// IdleTimeout bounds the wait for the next keep-alive request.
	// Falls back to ReadTimeout when zero.
	IdleTimeout time.Duration

	// MaxHeaderBytes limits the request line plus headers.
	// Zero means DefaultMaxHeaderBytes.
	MaxHeaderBytes int

	// MaxBodyBytes limits how much of a request body can be read.
	// Reads past it fail with ErrBodyTooLarge. Zero means
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Logger receives accept errors, read errors and handler
	// panics. If nil, a JSON logger on stderr is used.
	Logger *zerolog.Logger

	inShutdown atom.Bool

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	activeConn map[*conn]struct{}
	doneChan   chan struct{}
}

// ListenAndServe serves handler on addr. It always returns a
// non-nil error.
func ListenAndServe(network string, addr string, handler Handler) error {
	return (&Server{Network: network, Addr: addr, Handler: handler}).ListenAndServe()
}

// ListenAndServe listens on srv.Addr and calls Serve. A blank Addr
// yields ErrServerAddrError.
func (srv *Server) ListenAndServe() error {
	if srv.shuttingDown() {
		return ErrServerClosed
	}
	if srv.Addr == "" {
		return ErrServerAddrError
	}
	network := srv.Network
	if network == "" {
		network = "tcp"
	}
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return ErrServerNetworkError
	}

	ln, err := net.Listen(network, srv.Addr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

func (srv *Server) shuttingDown() bool {
	return srv.inShutdown.Load()
}

// Serve accepts incoming connections on l, creating a new service
// goroutine for each. Serve always returns a non-nil error; after
// Shutdown or Close it is ErrServerClosed.
func (srv *Server) Serve(l net.Listener) error {
	ln := &onceCloseListener{Listener: l}
	defer ln.Close()

	if !srv.addListener(ln) {
		return ErrServerClosed
	}
	defer srv.removeListener(ln)

	ctx := context.WithValue(context.Background(), ServerContextKey, srv)
	var backoff time.Duration
	for {
		rwc, err := ln.Accept()
		if err != nil {
			if srv.closed() {
				return ErrServerClosed
			}
			// EMFILE, ENFILE and friends report Temporary; back off
			// instead of giving up on the listener.
			if te, ok := err.(interface{ Temporary() bool }); ok && te.Temporary() {
				backoff = acceptBackoff(backoff)
				srv.logger().Error().Err(err).Dur("retry", backoff).Msg("accept error")
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		c := &conn{srv: srv, rwc: rwc}
		c.setState(StateNew) // before Serve can return
		go c.serve(ctx)
	}
}

// acceptBackoff doubles d, starting at 5ms and capped at 1s.
func acceptBackoff(d time.Duration) time.Duration {
	const lo, hi = 5 * time.Millisecond, time.Second
	switch {
	case d == 0:
		return lo
	case 2*d > hi:
		return hi
	}
	return 2 * d
}

func (srv *Server) trackConn(c *conn, add bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if !add {
		delete(srv.activeConn, c)
		return
	}
	if srv.activeConn == nil {
		srv.activeConn = make(map[*conn]struct{})
	}
	srv.activeConn[c] = struct{}{}
}

// addListener registers ln unless the server is already shutting down.
func (srv *Server) addListener(ln net.Listener) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.shuttingDown() {
		return false
	}
	if srv.listeners == nil {
		srv.listeners = make(map[net.Listener]struct{})
	}
	srv.listeners[ln] = struct{}{}
	return true
}

func (srv *Server) removeListener(ln net.Listener) {
	srv.mu.Lock()
	delete(srv.listeners, ln)
	srv.mu.Unlock()
}

// Shutdown gracefully shuts down the server: it closes all listeners,
// then closes idle connections and waits for active ones to go idle.
// If ctx expires first, Shutdown returns ctx.Err().
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.inShutdown.Store(true)
	srv.mu.Lock()
	err := srv.stopLocked()
	srv.mu.Unlock()

	poll := time.NewTicker(shutdownPollInterval)
	defer poll.Stop()
	for !srv.closeIdleConns() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
		}
	}
	return err
}

// closeIdleConns closes idle connections and reports whether none
// are left.
func (srv *Server) closeIdleConns() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	staleBefore := time.Now().Unix() - 5
	left := 0
	for c := range srv.activeConn {
		st, since := c.getState()
		// a connection that sent nothing for 5s counts as idle
		idle := st == StateIdle || (st == StateNew && since < staleBefore)
		// since == 0: state not stored yet
		if !idle || since == 0 {
			left++
			continue
		}
		c.rwc.Close()
		delete(srv.activeConn, c)
	}
	return left == 0
}

// Close drops every listener and connection at once, whatever its
// state. It returns the first listener close error. Use Shutdown to
// let in-flight requests finish.
func (srv *Server) Close() error {
	srv.inShutdown.Store(true)
	srv.mu.Lock()
	defer srv.mu.Unlock()

	err := srv.stopLocked()
	for c := range srv.activeConn {
		c.rwc.Close()
	}
	clear(srv.activeConn)
	return err
}

// stopLocked signals Serve loops to exit and closes every listener,
// returning the first close error. srv.mu must be held.
func (srv *Server) stopLocked() error {
	srv.initDoneLocked()
	select {
	case <-srv.doneChan:
	default:
		close(srv.doneChan)
	}

	var first error
	for ln := range srv.listeners {
		if err := ln.Close(); err != nil && first == nil {
			first = err
		}
	}
	clear(srv.listeners)
	return first
}

func (srv *Server) initDoneLocked() {
	if srv.doneChan == nil {
		srv.doneChan = make(chan struct{})
	}
}

// closed reports whether Shutdown or Close was called.
func (srv *Server) closed() bool {
	srv.mu.Lock()
	srv.initDoneLocked()
	done := srv.doneChan
	srv.mu.Unlock()
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func (srv *Server) logger() *zerolog.Logger {
	if srv.Logger != nil {
		return srv.Logger
	}
	return &defaultLogger
}

func (srv *Server) serverName() string {
	if srv.Name != "" {
		return srv.Name
	}
	return defaultServerName
}

// idleTimeout and readHeaderTimeout fall back to ReadTimeout.
func (srv *Server) idleTimeout() time.Duration {
	return cmp.Or(srv.IdleTimeout, srv.ReadTimeout)
}

func (srv *Server) readHeaderTimeout() time.Duration {
	return cmp.Or(srv.ReadHeaderTimeout, srv.ReadTimeout)
}

func (srv *Server) maxBodyBytes() int64 {
	if srv.MaxBodyBytes > 0 {
		return srv.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}

func (srv *Server) maxHeaderBytes() int {
	if srv.MaxHeaderBytes > 0 {
		return srv.MaxHeaderBytes
	}
	return DefaultMaxHeaderBytes
}

// onceCloseListener wraps a net.Listener, protecting it from
// multiple Close calls.
type onceCloseListener struct {
	net.Listener
	once     sync.Once
	closeErr error
}

func (oc *onceCloseListener) Close() error {
	oc.once.Do(oc.close)
	return oc.closeErr
}

func (oc *onceCloseListener) close() { oc.closeErr = oc.Listener.Close() }
