package zk

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/pg9182/zkgo/pkg/wire"
)

// fakeServer is a minimal single-connection stand-in for the cluster
// side of the protocol, used to drive the session machine through
// handshake/request/reconnect scenarios without a real server.
type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeServer{ln: ln}
}

func (f *fakeServer) addr() string { return f.ln.Addr().String() }

func (f *fakeServer) accept(t *testing.T) net.Conn {
	t.Helper()
	c, err := f.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return c
}

func readFrame(t *testing.T, c net.Conn) (wire.RequestHeader, []byte) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hdr [4]byte
	if _, err := readFullConn(c, hdr[:]); err != nil {
		t.Fatalf("read length prefix: %v", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	body := make([]byte, n)
	if _, err := readFullConn(c, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return wire.RequestHeader{}, body
}

// readConnectRequest reads a frame known to be the connect request,
// which omits the xid/opcode header.
func readConnectRequest(t *testing.T, c net.Conn) wire.ConnectRequest {
	t.Helper()
	_, body := readFrame(t, c)
	d := wire.NewDecoder(body)
	req := wire.DecodeConnectRequest(d)
	if d.Err() != nil {
		t.Fatalf("decode connect request: %v", d.Err())
	}
	return req
}

// readRequest reads a frame known to carry the normal xid/opcode header.
func readRequest(t *testing.T, c net.Conn) (int32, wire.OpCode, []byte) {
	t.Helper()
	_, body := readFrame(t, c)
	d := wire.NewDecoder(body)
	h := wire.DecodeRequestHeader(d)
	if d.Err() != nil {
		t.Fatalf("decode request header: %v", d.Err())
	}
	return h.Xid, h.Opcode, body[8:]
}

func readFullConn(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeFrame(t *testing.T, c net.Conn, body []byte) {
	t.Helper()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := c.Write(hdr[:]); err != nil {
		t.Fatalf("write length prefix: %v", err)
	}
	if _, err := c.Write(body); err != nil {
		t.Fatalf("write body: %v", err)
	}
}

func writeConnectResponse(t *testing.T, c net.Conn, resp wire.ConnectResponse) {
	t.Helper()
	e := wire.NewEncoder(nil)
	resp.Encode(e)
	writeFrame(t, c, e.Bytes())
}

func writeResponse(t *testing.T, c net.Conn, xid int32, zxid int64, errCode int32, body interface{ Encode(*wire.Encoder) }) {
	t.Helper()
	e := wire.NewEncoder(nil)
	wire.ResponseHeader{Xid: xid, Zxid: zxid, Err: errCode}.Encode(e)
	if body != nil {
		body.Encode(e)
	}
	writeFrame(t, c, e.Bytes())
}

func TestHandshakeThenCreate(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	sess, err := Connect(srv.addr(), 10*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.CloseSession()

	conn := srv.accept(t)
	defer conn.Close()

	readConnectRequest(t, conn)
	writeConnectResponse(t, conn, wire.ConnectResponse{
		ProtocolVersion: 0, Timeout: 10000, SessionID: 42, Passwd: make([]byte, 16),
	})

	done := make(chan createResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		path, err := sess.Create(ctx, "/foo", []byte("bar"), WorldACL, Persistent)
		done <- createResult{path, err}
	}()

	xid, opcode, body := readRequest(t, conn)
	if opcode != wire.OpCreate {
		t.Fatalf("opcode = %v, want OpCreate", opcode)
	}
	d := wire.NewDecoder(body)
	req := wire.DecodeCreateRequest(d)
	if req.Path != "/foo" {
		t.Fatalf("path = %q, want /foo", req.Path)
	}
	writeResponse(t, conn, xid, 1, 0, wire.CreateResponse{Path: "/foo"})

	res := <-done
	if res.err != nil {
		t.Fatalf("Create: %v", res.err)
	}
	if res.path != "/foo" {
		t.Fatalf("Create returned %q, want /foo", res.path)
	}
}

type createResult struct {
	path string
	err  error
}

func TestChrootIsAppliedAndStripped(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	sess, err := Connect(srv.addr(), 10*time.Second, WithChroot("/app/a"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.CloseSession()

	conn := srv.accept(t)
	defer conn.Close()
	readConnectRequest(t, conn)
	writeConnectResponse(t, conn, wire.ConnectResponse{Timeout: 10000, SessionID: 1, Passwd: make([]byte, 16)})

	done := make(chan createResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		path, err := sess.Create(ctx, "/foo", nil, WorldACL, Persistent)
		done <- createResult{path, err}
	}()

	xid, _, body := readRequest(t, conn)
	d := wire.NewDecoder(body)
	req := wire.DecodeCreateRequest(d)
	if req.Path != "/app/a/foo" {
		t.Fatalf("path on wire = %q, want /app/a/foo", req.Path)
	}
	writeResponse(t, conn, xid, 1, 0, wire.CreateResponse{Path: "/app/a/foo"})

	res := <-done
	if res.err != nil {
		t.Fatalf("Create: %v", res.err)
	}
	if res.path != "/foo" {
		t.Fatalf("Create returned %q, want chroot stripped back to /foo", res.path)
	}
}

func TestExistsArmsExistWatchWhenMissing(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	events := make(chan Event, 1)
	sess, err := Connect(srv.addr(), 10*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.CloseSession()

	conn := srv.accept(t)
	defer conn.Close()
	readConnectRequest(t, conn)
	writeConnectResponse(t, conn, wire.ConnectResponse{Timeout: 10000, SessionID: 1, Passwd: make([]byte, 16)})

	type existsResult struct {
		stat *Stat
		err  error
	}
	done := make(chan existsResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stat, err := sess.Exists(ctx, "/missing", WatcherFunc(func(ev Event) { events <- ev }))
		done <- existsResult{stat, err}
	}()

	xid, opcode, _ := readRequest(t, conn)
	if opcode != wire.OpExists {
		t.Fatalf("opcode = %v, want OpExists", opcode)
	}
	writeResponse(t, conn, xid, 1, int32(-101 /* NoNode */), nil)

	res := <-done
	if res.err != nil {
		t.Fatalf("Exists: %v", res.err)
	}
	if res.stat != nil {
		t.Fatalf("stat = %+v, want nil for nonexistent node", res.stat)
	}

	// server creates the node and fires the watch.
	e := wire.NewEncoder(nil)
	wire.ResponseHeader{Xid: wire.XidWatchEvent, Zxid: 2, Err: 0}.Encode(e)
	wire.WatcherEvent{Type: int32(EventNodeCreated), State: int32(StateSyncConnected), Path: "/missing"}.Encode(e)
	writeFrame(t, conn, e.Bytes())

	select {
	case ev := <-events:
		if ev.Type != EventNodeCreated || ev.Path != "/missing" {
			t.Fatalf("event = %+v, want NodeCreated on /missing", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}

func TestSessionExpiryOnZeroTimeout(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	sess, err := Connect(srv.addr(), 10*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn := srv.accept(t)
	defer conn.Close()
	readConnectRequest(t, conn)
	writeConnectResponse(t, conn, wire.ConnectResponse{Timeout: 0})

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to end")
	}
	if got := sess.State(); got != StateExpired {
		t.Fatalf("State() = %v, want StateExpired", got)
	}
}

func TestReconnectReplaysAuthBeforeWatches(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	sess, err := Connect(srv.addr(), 10*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.CloseSession()

	conn1 := srv.accept(t)
	readConnectRequest(t, conn1)
	writeConnectResponse(t, conn1, wire.ConnectResponse{Timeout: 10000, SessionID: 7, Passwd: make([]byte, 16)})

	if err := sess.AddAuth("digest", []byte("user:pass")); err != nil {
		t.Fatalf("AddAuth: %v", err)
	}
	readRequest(t, conn1) // drain the auth frame sent on conn1

	// arm a data watch so Snapshot() has something to replay.
	getDone := make(chan struct{})
	go func() {
		defer close(getDone)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sess.GetData(ctx, "/watched", WatcherFunc(func(Event) {}))
		_ = ctx
	}()
	xid, opcode, _ := readRequest(t, conn1)
	if opcode != wire.OpGetData {
		t.Fatalf("opcode = %v, want OpGetData", opcode)
	}
	writeResponse(t, conn1, xid, 1, 0, wire.GetDataResponse{Data: []byte("v"), Stat: wire.Stat{}})
	<-getDone // the watch is armed only once GetData has handled its response

	// force a reconnect.
	conn1.Close()

	conn2 := srv.accept(t)
	defer conn2.Close()
	readConnectRequest(t, conn2)
	writeConnectResponse(t, conn2, wire.ConnectResponse{Timeout: 10000, SessionID: 7, Passwd: make([]byte, 16)})

	_, opcode, body := readRequest(t, conn2)
	if opcode != wire.OpAuth {
		t.Fatalf("first frame after reconnect = %v, want OpAuth (auth must replay before watches)", opcode)
	}
	d := wire.NewDecoder(body)
	auth := wire.DecodeAuthRequestBody(d)
	if auth.Scheme != "digest" {
		t.Fatalf("auth scheme = %q, want digest", auth.Scheme)
	}

	_, opcode, body = readRequest(t, conn2)
	if opcode != wire.OpSetWatches {
		t.Fatalf("second frame after reconnect = %v, want OpSetWatches", opcode)
	}
	d = wire.NewDecoder(body)
	sw := wire.DecodeSetWatchesRequest(d)
	found := false
	for _, p := range sw.DataPaths {
		if p == "/watched" {
			found = true
		}
	}
	if !found {
		t.Fatalf("SetWatches data paths = %v, want to include /watched", sw.DataPaths)
	}
}

// TestRequestDuringHandshakeWaitsForSyncConnected guards against a
// request frame racing the handshake's own ConnectRequest frame onto
// the wire: a call issued while the machine is mid-handshake must block
// until the handshake resolves, and its frame must not appear before
// the connect response has been processed.
func TestRequestDuringHandshakeWaitsForSyncConnected(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	sess, err := Connect(srv.addr(), 10*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.CloseSession()

	conn := srv.accept(t)
	defer conn.Close()
	readConnectRequest(t, conn)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := sess.Create(ctx, "/foo", nil, WorldACL, Persistent)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Create returned before the handshake completed (err=%v)", err)
	case <-time.After(200 * time.Millisecond):
	}

	writeConnectResponse(t, conn, wire.ConnectResponse{Timeout: 10000, SessionID: 9, Passwd: make([]byte, 16)})

	xid, opcode, _ := readRequest(t, conn)
	if opcode != wire.OpCreate {
		t.Fatalf("opcode = %v, want OpCreate", opcode)
	}
	writeResponse(t, conn, xid, 1, 0, wire.CreateResponse{Path: "/foo"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Create to complete after handshake")
	}
}

// TestRequestWhilePlainlyDisconnectedFailsImmediately checks the other
// half of the gating rule: a request issued while the machine is
// between connection attempts (not mid-handshake) fails fast with
// ConnectionLost instead of blocking.
func TestRequestWhilePlainlyDisconnectedFailsImmediately(t *testing.T) {
	sess := &Session{
		stateCh: make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	sess.state = ssDisconnected

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sess.awaitSendable(ctx)
	if err == nil {
		t.Fatal("awaitSendable returned nil, want ConnectionLost")
	}
	ze, ok := err.(*Error)
	if !ok || ze.Code != CodeConnectionLost {
		t.Fatalf("err = %v, want *Error{Code: CodeConnectionLost}", err)
	}
}

func TestXidsAreUnique(t *testing.T) {
	sess := &Session{}
	seen := make(map[int32]bool)
	for i := 0; i < 1000; i++ {
		xid := sess.nextXid()
		if seen[xid] {
			t.Fatalf("duplicate xid %d", xid)
		}
		seen[xid] = true
	}
}
