package lesson_server

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
)

const (
	// PayloadLenUnknown is returned by ContentLength when the
	// header is absent or cannot be parsed.
	PayloadLenUnknown = -1
)

var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

// A Header represents the key-value pairs in an HTTP header.
// Keys are stored in canonical form, so lookups are case-insensitive.
type Header map[string][]string

// Get returns the value associated with key. Repeated headers are
// joined with ", ". It returns "" if there are no values.
func (h Header) Get(key string) string {
	v := h[textproto.CanonicalMIMEHeaderKey(key)]
	switch len(v) {
	case 0:
		return ""
	case 1:
		return v[0]
	}
	return strings.Join(v, ", ")
}

// Values returns all values associated with key.
func (h Header) Values(key string) []string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Has reports whether key is present, with any value.
func (h Header) Has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// Set replaces any existing values of key with value.
func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = []string{value}
}

// Add appends value to key.
func (h Header) Add(key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	h[key] = append(h[key], value)
}

func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	h2 := make(Header, len(h))
	for k, vv := range h {
		h2[k] = append([]string(nil), vv...)
	}
	return h2
}

// ContentLength returns the parsed Content-Length, or PayloadLenUnknown.
func (h Header) ContentLength() int64 {
	v := strings.TrimSpace(h.Get("Content-Length"))
	if v == "" {
		return PayloadLenUnknown
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return PayloadLenUnknown
	}
	return n
}

// Write writes h in wire format, keys sorted.
func (h Header) Write(w io.Writer) (int, error) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total int
	for _, k := range keys {
		for _, v := range h[k] {
			v = headerNewlineToSpace.Replace(v)
			n, err := fmt.Fprintf(w, "%s: %s\r\n", k, v)
			total += n
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// readLine reads one line without its CRLF, limited to *budget bytes.
// similar to readLineSlice() in net/textproto/reader.go
func readLine(r *bufio.Reader, budget *int) (string, error) {
	var line []byte
	for {
		l, more, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		*budget -= len(l) + 2
		if *budget < 0 {
			return "", ErrHeaderTooLarge
		}
		if line == nil && !more {
			return string(l), nil
		}
		line = append(line, l...)
		if !more {
			break
		}
	}
	return string(line), nil
}

// readHeader reads header lines up to the blank line.
func readHeader(r *bufio.Reader, budget *int) (Header, error) {
	h := make(Header)
	for {
		line, err := readLine(r, budget)
		if err != nil {
			if err == ErrHeaderTooLarge {
				return nil, err
			}
			// err stays visible so a timeout or reset is told apart
			// from malformed input
			return nil, fmt.Errorf("%w: reading header: %w", ErrBadRequest, err)
		}
		if len(line) == 0 {
			break
		}
		fs := strings.SplitN(line, ":", 2)
		if len(fs) != 2 {
			return nil, fmt.Errorf("%w: invalid header line %q", ErrBadRequest, line)
		}
		// no whitespace is allowed between the name and the colon
		key := fs[0]
		if key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("%w: invalid header name %q", ErrBadRequest, fs[0])
		}
		h.Add(key, strings.TrimSpace(fs[1]))
	}
	return h, nil
}
