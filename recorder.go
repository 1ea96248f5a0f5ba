package lesson_server

import (
	"bytes"
	"net/http"
)

// Recorder is an in-memory ResponseWriter for testing handlers
// without a connection.
type Recorder struct {
	// Code is the status code set by WriteHeader, 200 by default.
	Code int

	// HeaderMap is the live header map handed to the handler.
	HeaderMap Header

	// Body receives every Write, in order.
	Body *bytes.Buffer

	// Writes counts the calls to Write with a non-empty buffer.
	Writes int

	snapHeader  Header
	wroteHeader bool
	committed   bool
}

// NewRecorder returns an initialized Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		Code:      http.StatusOK,
		HeaderMap: make(Header),
		Body:      new(bytes.Buffer),
	}
}

func (rw *Recorder) Header() Header {
	if rw.HeaderMap == nil {
		rw.HeaderMap = make(Header)
	}
	return rw.HeaderMap
}

func (rw *Recorder) WriteHeader(code int) {
	if rw.wroteHeader || rw.committed {
		return
	}
	rw.wroteHeader = true
	rw.Code = code
}

func (rw *Recorder) Write(p []byte) (int, error) {
	rw.commit()
	if len(p) > 0 {
		rw.Writes++
	}
	if rw.Body == nil {
		rw.Body = new(bytes.Buffer)
	}
	return rw.Body.Write(p)
}

func (rw *Recorder) commit() {
	if rw.committed {
		return
	}
	rw.committed = true
	rw.snapHeader = rw.Header().Clone()
}

// Result returns the headers as they would have been sent: the
// snapshot taken at the first Write, or the current map if nothing
// was written.
func (rw *Recorder) Result() Header {
	if rw.committed {
		return rw.snapHeader
	}
	return rw.Header().Clone()
}
