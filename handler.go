package lesson_server

import "fmt"

type serverHandler struct {
	srv *Server
}

func (sh serverHandler) Serve(rw ResponseWriter, req *Request) {
	handler := sh.srv.Handler
	if handler == nil {
		handler = HelloWorldHandler()
	}
	handler.Serve(rw, req)
}

// A Handler responds to an HTTP request. Serve should set headers and
// status before writing the body and return when the response is done.
type Handler interface {
	Serve(ResponseWriter, *Request)
}

type HandlerFunc func(ResponseWriter, *Request)

// Serve calls f(w, r).
func (f HandlerFunc) Serve(w ResponseWriter, r *Request) {
	f(w, r)
}

// HelloWorld replies to the request with a plain greeting.
func HelloWorld(w ResponseWriter, r *Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Hello, World!")
}

// HelloWorldHandler returns a simple request handler
// that replies to each request with a ``Hello, World!'' reply.
// It is used when a Server has no Handler.
func HelloWorldHandler() Handler { return HandlerFunc(HelloWorld) }
