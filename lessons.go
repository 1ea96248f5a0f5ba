package lesson_server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrUnknownLesson is returned by LookupLesson for names not in Lessons.
var ErrUnknownLesson = errors.New("lesson_server: unknown lesson")

// A Predicate is a condition evaluated against a request.
type Predicate func(*Request) bool

// Always holds for every request.
func Always(*Request) bool { return true }

// Never holds for no request.
func Never(*Request) bool { return false }

// StatusCode answers 200 when cond holds and 400 otherwise, then
// writes a greeting. A nil cond behaves like Always.
func StatusCode(cond Predicate) Handler {
	if cond == nil {
		cond = Always
	}
	return HandlerFunc(func(w ResponseWriter, r *Request) {
		if cond(r) {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusBadRequest)
		}
		io.WriteString(w, "Hello, World!")
	})
}

// ResponseHeaders sets a custom header, overrides Server and sends
// an HTML body in two writes.
func ResponseHeaders() Handler {
	return HandlerFunc(func(w ResponseWriter, r *Request) {
		h := w.Header()
		h.Set("MyKey", "my value")
		h.Set("Server", "My server")
		h.Set("Content-Type", "text/html")

		io.WriteString(w, "<h1>Hello</h1>")
		io.WriteString(w, "<h2>World</h2>")
	})
}

// RequestInfo echoes the request path and method as HTML paragraphs.
func RequestInfo() Handler {
	return HandlerFunc(func(w ResponseWriter, r *Request) {
		w.Header().Set("Content-Type", "text/html")

		fmt.Fprintf(w, "<p>%s</p>", r.Path)
		fmt.Fprintf(w, "<p>%s</p>", r.Method)
	})
}

// QueryString writes the id query parameter of GET requests.
func QueryString() Handler {
	return HandlerFunc(func(w ResponseWriter, r *Request) {
		w.Header().Set("Content-Type", "text/html")

		if r.Method != http.MethodGet {
			return
		}
		q := r.Query()
		if !q.Has("id") {
			return
		}
		fmt.Fprintf(w, "<p>%s</p>", strings.Join(q["id"], ","))
	})
}

// RequestHeaders writes the client's User-Agent.
func RequestHeaders() Handler {
	return HandlerFunc(func(w ResponseWriter, r *Request) {
		w.Header().Set("Content-Type", "text/html")

		if !r.Header.Has("User-Agent") {
			return
		}
		fmt.Fprintf(w, "<p>%s</p>", r.UserAgent())
	})
}

// FormBody reads a form-urlencoded body and writes the first
// firstName value as is.
func FormBody() Handler {
	return HandlerFunc(func(w ResponseWriter, r *Request) {
		form := r.ReadForm()
		if !form.Has("firstName") {
			return
		}
		io.WriteString(w, form.Get("firstName"))
	})
}

// A Lesson is one demonstration handler.
type Lesson struct {
	Name    string
	Title   string
	Handler Handler
}

// Lessons returns the lessons in teaching order. statusOK is the
// condition of the status code lesson.
func Lessons(statusOK Predicate) []Lesson {
	return []Lesson{
		{Name: "status", Title: "HTTP Status Codes", Handler: StatusCode(statusOK)},
		{Name: "response-headers", Title: "HTTP Response Headers", Handler: ResponseHeaders()},
		{Name: "request", Title: "HTTP Request", Handler: RequestInfo()},
		{Name: "query", Title: "Query String", Handler: QueryString()},
		{Name: "request-headers", Title: "HTTP Request Headers", Handler: RequestHeaders()},
		{Name: "form", Title: "HTTP Get Vs Post", Handler: FormBody()},
	}
}

// LookupLesson finds a lesson by name.
func LookupLesson(name string, statusOK Predicate) (Lesson, error) {
	for _, l := range Lessons(statusOK) {
		if l.Name == name {
			return l, nil
		}
	}
	return Lesson{}, fmt.Errorf("%w: %q", ErrUnknownLesson, name)
}
