package lesson_server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// maxChunkLen bounds a single chunk-size line's value.
const maxChunkLen = 1 << 30

var errInvalidChunk = errors.New("lesson_server: invalid chunked encoding")

// chunkedReader decodes a chunked request body. Trailers are read and
// discarded.
type chunkedReader struct {
	r        *bufio.Reader
	chunkLen int // -1 means the beginning of the next chunk
	done     bool
}

func newChunkedReader(r *bufio.Reader) *chunkedReader {
	return &chunkedReader{r: r, chunkLen: -1}
}

func (r *chunkedReader) readChunkLength() error {
	b, err := r.r.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("%w: reading chunk length: %v", errInvalidChunk, err)
	}
	blen := len(b)
	if blen < 3 || b[blen-2] != '\r' {
		return errInvalidChunk
	}

	length := 0
	for _, v := range b[:blen-2] {
		var d int
		switch {
		case v >= '0' && v <= '9':
			d = int(v - '0')
		case v >= 'a' && v <= 'f':
			d = int(v-'a') + 10
		case v >= 'A' && v <= 'F':
			d = int(v-'A') + 10
		case v == ';':
			// chunk extension, ignored
			r.chunkLen = length
			return nil
		default:
			return fmt.Errorf("%w: bad chunk length %q", errInvalidChunk, b)
		}
		length = length*16 + d
		if length > maxChunkLen {
			return fmt.Errorf("%w: chunk too large", errInvalidChunk)
		}
	}
	r.chunkLen = length
	return nil
}

func (r *chunkedReader) readCRLF() error {
	b, err := r.r.ReadBytes('\n')
	if err != nil {
		return err
	}
	if len(b) != 2 || b[0] != '\r' {
		return fmt.Errorf("%w: missing CRLF", errInvalidChunk)
	}
	return nil
}

// skipTrailer consumes trailer lines up to the terminating blank line.
func (r *chunkedReader) skipTrailer() error {
	for {
		b, err := r.r.ReadBytes('\n')
		if err != nil {
			return err
		}
		if len(b) == 2 && b[0] == '\r' {
			return nil
		}
	}
}

func (r *chunkedReader) Read(b []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	if r.chunkLen < 0 {
		if err := r.readChunkLength(); err != nil {
			return 0, err
		}
	}
	if r.chunkLen == 0 {
		r.done = true
		if err := r.skipTrailer(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	n := min(r.chunkLen, len(b))
	m, err := r.r.Read(b[:n])
	r.chunkLen -= m
	if err == io.EOF && r.chunkLen > 0 {
		err = io.ErrUnexpectedEOF
	}
	if r.chunkLen == 0 {
		r.chunkLen = -1
		if cerr := r.readCRLF(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return m, err
}

// chunkedWriter frames each Write as one chunk. Close writes the
// terminating zero-length chunk.
type chunkedWriter struct {
	w io.Writer
}

func (cw chunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(cw.w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	n, err := cw.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := io.WriteString(cw.w, "\r\n"); err != nil {
		return n, err
	}
	return n, nil
}

func (cw chunkedWriter) Close() error {
	_, err := io.WriteString(cw.w, "0\r\n\r\n")
	return err
}
