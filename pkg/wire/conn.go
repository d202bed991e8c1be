package wire

import (
	"bufio"
	"io"
)

// Conn wraps a bidirectional stream with a single read buffer. The buffer has
// to live as long as the connection; wrapping the stream per read would drop
// whatever the peer sent between calls.
type Conn struct {
	rw io.ReadWriter
	br *bufio.Reader
}

// NewConn wraps the passed stream.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		rw: rw,
		br: bufio.NewReaderSize(rw, 4096),
	}
}

// ReadStringUntil reads until the delimiter byte and returns everything read,
// including the delimiter.
func (c *Conn) ReadStringUntil(delim byte) (string, error) {
	return c.br.ReadString(delim)
}

// ReadLine reads a newline terminated message and returns it without the
// terminator.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.ReadStringUntil('\n')
	if err != nil {
		return "", err
	}

	return line[:len(line)-1], nil
}

// WriteLine writes the passed message followed by a newline.
func (c *Conn) WriteLine(text string) error {
	return WriteStringDelim(c.rw, text, '\n')
}

// Read implements io.Reader through the connection's buffer.
func (c *Conn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

// Write implements io.Writer.
func (c *Conn) Write(p []byte) (int, error) {
	return c.rw.Write(p)
}
