// Package transport owns the single TCP connection to one server: it
// reads length-prefixed frames, writes framed requests, and reports
// disconnection (spec §4.3). It implements the "generic full-duplex,
// length-prefixed, reliable byte stream" the session machine assumes.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pg9182/zkgo/pkg/wire"
)

// ErrClosed is returned by Send, and surfaced through Err, when the
// transport has already closed.
var ErrClosed = errors.New("transport: closed")

// frameBacklog bounds how many fully-read frames may sit in the inbound
// channel before the reader blocks on a slow consumer. The session
// machine's response-read loop is the only consumer and drains promptly,
// so this only guards against pathological stalls.
const frameBacklog = 32

// Conn owns one net.Conn for the lifetime of a single connection attempt.
// At most one Conn is ever open for a given session at once (spec §3).
type Conn struct {
	logger zerolog.Logger

	mu   sync.Mutex // serializes writes (spec §5: "writes to one transport are mutually exclusive")
	conn net.Conn

	frames chan []byte
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a TCP connection to addr and returns a live Conn. The
// context bounds only the dial itself; once connected, writes are bounded
// only by the writeDeadline passed to Send, and reads have no deadline.
func Dial(ctx context.Context, addr string, logger zerolog.Logger) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return newConn(nc, logger), nil
}

func newConn(nc net.Conn, logger zerolog.Logger) *Conn {
	c := &Conn{
		logger: logger,
		conn:   nc,
		frames: make(chan []byte, frameBacklog),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Frames returns the channel of inbound frame bodies (length prefix
// already stripped). It is closed when the connection is closed, after
// which Err reports why.
func (c *Conn) Frames() <-chan []byte { return c.frames }

// Done is closed when the connection has closed for any reason.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that caused the connection to close, if any. It
// is only meaningful after Done is closed.
func (c *Conn) Err() error {
	return c.closeErr
}

// Send writes frame to the connection as given; frame must already carry
// its length prefix (as built by wire.EncodeRequestFrame or
// wire.EncodeConnectFrame). Safe to call concurrently with
// itself and with reads; the teacher's nspkt.Listener.send serializes
// writes the same way, under a single mutex guarding the live conn.
func (c *Conn) Send(frame []byte, writeDeadline time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if writeDeadline > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	}
	_, err := c.conn.Write(frame)
	if err != nil {
		c.closeWith(fmt.Errorf("transport: write: %w", err))
		return err
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.frames)

	var lenBuf [wire.LengthPrefixSize]byte
	for {
		if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
			c.closeWith(readErr(err))
			return
		}
		n, err := wire.DecodeFrameLength(int32(binary.BigEndian.Uint32(lenBuf[:])))
		if err != nil {
			c.closeWith(fmt.Errorf("transport: %w", err))
			return
		}

		body := make([]byte, n)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			c.closeWith(readErr(err))
			return
		}

		select {
		case c.frames <- body:
		case <-c.done:
			return
		}
	}
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return fmt.Errorf("transport: read: %w", err)
}

// Close tears the connection down, cancelling all readers/writers.
// Idempotent: subsequent calls are no-ops and Err still reports the
// first reason (spec §4.3: "Close is idempotent").
func (c *Conn) Close(reason error) {
	if reason == nil {
		reason = ErrClosed
	}
	c.closeWith(reason)
}

func (c *Conn) closeWith(reason error) {
	c.closeOnce.Do(func() {
		c.closeErr = reason
		c.conn.Close()
		close(c.done)
		c.logger.Debug().Err(reason).Msg("transport closed")
	})
}
