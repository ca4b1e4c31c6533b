// Package tcp serves chat sessions over raw TCP. Frames are newline-delimited
// JSON; the first line of every connection is a handshake carrying the user id
// and token.
package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"imhub/internal/im"
)

const WriteWait = 10 * time.Second // max time to flush one frame to the peer

// ErrFrameTooLarge is returned by Receive when a line exceeds the size limit.
var ErrFrameTooLarge = errors.New("tcp: frame exceeds size limit")

// Conn wraps a net.Conn as an im.Transport.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxSize int

	writeMu sync.Mutex
	writer  *bufio.Writer
}

var _ im.Transport = (*Conn)(nil)

// NewConn wraps conn. maxSize <= 0 disables the line length limit.
func NewConn(conn net.Conn, maxSize int) *Conn {
	return &Conn{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		maxSize: maxSize,
	}
}

// Receive returns the next non-empty line without its terminator.
func (c *Conn) Receive(_ context.Context) ([]byte, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) > 0 {
			return line, nil
		}
	}
}

func (c *Conn) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if c.maxSize > 0 && len(bytes.TrimRight(line, "\r\n")) > c.maxSize {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, c.maxSize)
		}
		switch {
		case err == nil:
			return bytes.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			// last line without a terminator
			return bytes.TrimRight(line, "\r\n"), nil
		default:
			return nil, err
		}
	}
}

// Send writes data followed by a newline.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)

	if _, err := c.writer.Write(data); err != nil {
		return err
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Conn) Close() error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
