package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func listenerPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	select {
	case s := <-acceptCh:
		return c, s
	case err := <-errCh:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out accepting")
	}
	return nil, nil
}

func writeFrame(t *testing.T, w net.Conn, body []byte) {
	t.Helper()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := w.Write(body); err != nil {
		t.Fatalf("write body: %v", err)
	}
}

func TestSendAndReceive(t *testing.T) {
	client, server := listenerPair(t)
	defer server.Close()

	c := newConn(client, zerolog.Nop())
	defer c.Close(nil)

	if err := c.Send([]byte{0x00, 0x00, 0x00, 0x02, 0xAA, 0xBB}, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var hdr [4]byte
	if _, err := readFullT(t, server, hdr[:]); err != nil {
		t.Fatalf("read header: %v", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n != 2 {
		t.Fatalf("frame length = %d, want 2", n)
	}

	writeFrame(t, server, []byte("hello"))

	select {
	case got := <-c.Frames():
		if string(got) != "hello" {
			t.Errorf("got %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func readFullT(t *testing.T, r net.Conn, buf []byte) (int, error) {
	t.Helper()
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestCloseIsIdempotentAndSurfacesDisconnect(t *testing.T) {
	client, server := listenerPair(t)
	defer server.Close()

	c := newConn(client, zerolog.Nop())

	server.Close() // force a read error on the client side

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
	if c.Err() == nil {
		t.Error("Err() = nil after disconnect, want non-nil")
	}

	// idempotent: calling Close again must not panic or block
	c.Close(nil)
	c.Close(nil)
}

func TestSendAfterCloseFails(t *testing.T) {
	client, server := listenerPair(t)
	defer server.Close()

	c := newConn(client, zerolog.Nop())
	c.Close(nil)

	if err := c.Send([]byte("x"), 0); err == nil {
		t.Error("Send after Close = nil error, want ErrClosed")
	}
}
