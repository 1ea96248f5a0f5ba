package lesson_server

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseRequest(raw string) (*Request, error) {
	return readRequest(bufio.NewReader(strings.NewReader(raw)), DefaultMaxHeaderBytes, DefaultMaxBodyBytes)
}

func TestReadRequest(t *testing.T) {
	req, err := parseRequest("GET /foo/bar?id=12345&id=6 HTTP/1.1\r\nHost: localhost\r\nUser-Agent: TestAgent/1.0\r\n\r\n")
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/foo/bar", req.Path)
	assert.Equal(t, "id=12345&id=6", req.RawQuery)
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Equal(t, "localhost", req.Header.Get("host"))
	assert.Equal(t, "TestAgent/1.0", req.UserAgent())
	assert.Equal(t, []string{"12345", "6"}, req.Query()["id"])
	assert.False(t, req.wantsClose())

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestReadRequestPathDecoding(t *testing.T) {
	req, err := parseRequest("GET /a%20b HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "/a b", req.Path)

	req, err = parseRequest("GET /%zz HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "/%zz", req.Path)

	req, err = parseRequest("OPTIONS ?x=1 HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "/", req.Path)
	assert.Equal(t, "1", req.Query().Get("x"))
}

func TestReadRequestAbsoluteForm(t *testing.T) {
	tests := []struct {
		target, path, query string
	}{
		{"http://h/foo", "/foo", ""},
		{"http://h/foo?id=1", "/foo", "id=1"},
		{"http://h:8080", "/", ""},
		{"https://h/a%20b?x=1&y=2", "/a b", "x=1&y=2"},
		{"/plain?id=1", "/plain", "id=1"},
	}
	for _, tc := range tests {
		t.Run(tc.target, func(t *testing.T) {
			req, err := parseRequest("GET " + tc.target + " HTTP/1.1\r\n\r\n")
			require.NoError(t, err)
			assert.Equal(t, tc.path, req.Path)
			assert.Equal(t, tc.query, req.RawQuery)
		})
	}
}

func TestReadRequestContentLength(t *testing.T) {
	req, err := parseRequest("POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhelloGET / HTTP/1.1\r\n\r\n")
	require.NoError(t, err)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestReadRequestChunked(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"9\r\nfirstName\r\n6\r\n=Alice\r\n0\r\n\r\n"
	req, err := parseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "Alice", req.ReadForm().Get("firstName"))
}

func TestReadRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"eof", "", io.EOF},
		{"one field", "GET\r\n\r\n", ErrBadRequest},
		{"two fields", "GET /\r\n\r\n", ErrBadRequest},
		{"four fields", "GET / HTTP/1.1 extra\r\n\r\n", ErrBadRequest},
		{"bad proto", "GET / HTTP/2.0\r\n\r\n", ErrBadRequest},
		{"bad header", "GET / HTTP/1.1\r\nnocolon\r\n\r\n", ErrBadRequest},
		{"bad length", "POST / HTTP/1.1\r\nContent-Length: x\r\n\r\n", ErrBadRequest},
		{"gzip encoding", "POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", ErrBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseRequest(tc.raw)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestReadRequestBodyLimit(t *testing.T) {
	read := func(raw string, limit int64) (*Request, string, error) {
		req, err := readRequest(bufio.NewReader(strings.NewReader(raw)), DefaultMaxHeaderBytes, limit)
		require.NoError(t, err)
		b, err := io.ReadAll(req.Body)
		return req, string(b), err
	}

	_, body, err := read("POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello", 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", body)

	_, body, err = read("POST / HTTP/1.1\r\nContent-Length: 6\r\n\r\nhello!", 5)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Empty(t, body)

	_, _, err = read("POST / HTTP/1.1\r\nContent-Length: 9223372036854775807\r\n\r\n", DefaultMaxBodyBytes)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	chunked := "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"9\r\nfirstName\r\n6\r\n=Alice\r\n0\r\n\r\n"
	_, body, err = read(chunked, 15)
	require.NoError(t, err)
	assert.Equal(t, "firstName=Alice", body)

	req, body, err := read(chunked, 10)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, "firstName=", body)
	// reads keep failing once the limit is hit
	_, err = req.Body.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestReadFormBodyTooLarge(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nContent-Length: 15\r\n\r\nfirstName=Alice"
	req, err := readRequest(bufio.NewReader(strings.NewReader(raw)), DefaultMaxHeaderBytes, 8)
	require.NoError(t, err)
	form := req.ReadForm()
	assert.NotNil(t, form)
	assert.Empty(t, form)
}

func TestReadRequestHeaderTooLarge(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 200) + "\r\n\r\n"
	_, err := readRequest(bufio.NewReader(strings.NewReader(raw)), 100, DefaultMaxBodyBytes)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestWantsClose(t *testing.T) {
	tests := []struct {
		proto, connection string
		want              bool
	}{
		{"HTTP/1.1", "", false},
		{"HTTP/1.1", "close", true},
		{"HTTP/1.1", "Close", true},
		{"HTTP/1.1", "keep-alive", false},
		{"HTTP/1.0", "", true},
		{"HTTP/1.0", "keep-alive", true},
	}
	for _, tc := range tests {
		req := NewRequest("GET", "/", nil)
		req.Proto = tc.proto
		if tc.connection != "" {
			req.Header.Set("Connection", tc.connection)
		}
		assert.Equal(t, tc.want, req.wantsClose(), "%s Connection: %q", tc.proto, tc.connection)
	}
}

func TestReadFormOnce(t *testing.T) {
	req := NewRequest("POST", "/", strings.NewReader("firstName=Alice"))
	assert.Equal(t, "Alice", req.ReadForm().Get("firstName"))
	// body is drained, the cached form is returned
	assert.Equal(t, "Alice", req.ReadForm().Get("firstName"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestReadFormDegrades(t *testing.T) {
	req := NewRequest("POST", "/", io.MultiReader(strings.NewReader("firstName=Alice&"), failingReader{}))
	form := req.ReadForm()
	assert.Equal(t, "Alice", form.Get("firstName"))

	req = NewRequest("POST", "/", failingReader{})
	assert.Empty(t, req.ReadForm())
}

func TestNewRequestDefaults(t *testing.T) {
	req := NewRequest("GET", "", nil)
	assert.Equal(t, "/", req.Path)
	assert.NotNil(t, req.Body)
	assert.NotNil(t, req.Context())
	assert.Empty(t, req.Query())
}
