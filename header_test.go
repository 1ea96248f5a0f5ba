package lesson_server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderCaseInsensitive(t *testing.T) {
	h := make(Header)
	h.Set("content-type", "text/plain")
	h.Set("Content-Type", "text/html")

	assert.Equal(t, "text/html", h.Get("CONTENT-TYPE"))
	assert.True(t, h.Has("content-TYPE"))
	assert.Len(t, h, 1)

	h.Del("Content-type")
	assert.False(t, h.Has("Content-Type"))
	assert.Equal(t, "", h.Get("Content-Type"))
}

func TestHeaderAddJoins(t *testing.T) {
	h := make(Header)
	h.Add("Accept", "text/html")
	h.Add("accept", "application/json")

	assert.Equal(t, []string{"text/html", "application/json"}, h.Values("Accept"))
	assert.Equal(t, "text/html, application/json", h.Get("Accept"))
}

func TestHeaderClone(t *testing.T) {
	h := Header{"A": {"1"}}
	c := h.Clone()
	c.Add("A", "2")
	assert.Equal(t, []string{"1"}, h["A"])

	var nilHeader Header
	assert.Nil(t, nilHeader.Clone())
}

func TestHeaderContentLength(t *testing.T) {
	tests := []struct {
		value string
		want  int64
	}{
		{"", PayloadLenUnknown},
		{"0", 0},
		{" 42 ", 42},
		{"-1", PayloadLenUnknown},
		{"abc", PayloadLenUnknown},
	}
	for _, tc := range tests {
		h := make(Header)
		if tc.value != "" {
			h.Set("Content-Length", tc.value)
		}
		assert.Equal(t, tc.want, h.ContentLength(), "Content-Length %q", tc.value)
	}
}

func TestHeaderWrite(t *testing.T) {
	h := make(Header)
	h.Set("Server", "My server")
	h.Set("mykey", "my value")
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Set("X-Evil", "a\r\nInjected: yes")

	var buf bytes.Buffer
	n, err := h.Write(&buf)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)
	assert.Equal(t, "Mykey: my value\r\n"+
		"Server: My server\r\n"+
		"Set-Cookie: a=1\r\n"+
		"Set-Cookie: b=2\r\n"+
		"X-Evil: a  Injected: yes\r\n", buf.String())
}

func TestReadHeader(t *testing.T) {
	raw := "Host: example.com\r\nuser-agent:  TestAgent/1.0 \r\nX-Multi: 1\r\nX-Multi: 2\r\n\r\nbody"
	br := bufio.NewReader(strings.NewReader(raw))
	budget := DefaultMaxHeaderBytes

	h, err := readHeader(br, &budget)
	require.NoError(t, err)
	assert.Equal(t, "example.com", h.Get("Host"))
	assert.Equal(t, "TestAgent/1.0", h.Get("User-Agent"))
	assert.Equal(t, "1, 2", h.Get("X-Multi"))

	rest, _ := br.ReadString(0)
	assert.Equal(t, "body", rest)
}

func TestReadHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no colon", "Host example.com\r\n\r\n"},
		{"empty name", ": value\r\n\r\n"},
		{"space in name", "Bad Name: value\r\n\r\n"},
		{"space before colon", "Host : example.com\r\n\r\n"},
		{"tab before colon", "Host\t: example.com\r\n\r\n"},
		{"leading space", " Host: example.com\r\n\r\n"},
		{"truncated", "Host: example.com\r\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			budget := DefaultMaxHeaderBytes
			_, err := readHeader(bufio.NewReader(strings.NewReader(tc.raw)), &budget)
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

func TestReadHeaderKeepsCause(t *testing.T) {
	budget := DefaultMaxHeaderBytes
	r := io.MultiReader(strings.NewReader("Host: example.com\r\n"), errReader{timeoutError{}})
	_, err := readHeader(bufio.NewReader(r), &budget)
	assert.ErrorIs(t, err, ErrBadRequest)

	var ne net.Error
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.True(t, ne.Timeout())
	assert.True(t, isQuietReadError(err))

	budget = DefaultMaxHeaderBytes
	_, err = readHeader(bufio.NewReader(strings.NewReader("Host: example.com\r\n")), &budget)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, isQuietReadError(err))

	budget = DefaultMaxHeaderBytes
	_, err = readHeader(bufio.NewReader(strings.NewReader("nocolon\r\n\r\n")), &budget)
	assert.False(t, isQuietReadError(err))
}

// errReader fails every read with err.
type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestReadHeaderTooLarge(t *testing.T) {
	raw := "X-Big: " + strings.Repeat("a", 100) + "\r\n\r\n"
	budget := 64
	_, err := readHeader(bufio.NewReader(strings.NewReader(raw)), &budget)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}
