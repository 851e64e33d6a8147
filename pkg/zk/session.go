// Package zk implements the session machine and public API surface of a
// session-oriented client for a hierarchical, replicated coordination
// service: endpoint rotation, session handshake, XID-correlated requests,
// watch fan-out, heartbeating, and transparent failover across a single
// logical session.
package zk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
	"github.com/valyala/fastrand"

	"github.com/pg9182/zkgo/pkg/pending"
	"github.com/pg9182/zkgo/pkg/transport"
	"github.com/pg9182/zkgo/pkg/watch"
	"github.com/pg9182/zkgo/pkg/wire"
	"github.com/pg9182/zkgo/pkg/zkpath"
)

const (
	protocolVersion = 0
	pingInterval    = 3 * time.Second
	dialTimeout     = 5 * time.Second
	staleCheckEvery = time.Second
)

var (
	ErrNotConnected = errors.New("zkgo: not connected")

	errSessionExpiredTerminal = errors.New("zkgo: session expired")
	errClosing                = errors.New("zkgo: session closing")
	errPingTimeout            = errors.New("zkgo: no frame received within negotiated timeout")
	errSessionClosed          = errors.New("zkgo: session closed")
)

// sessionState is the Session Machine's internal state: a strict
// superset of KeeperState with the transient Connecting and terminal
// Closed states, which are never reported over the wire.
type sessionState int32

const (
	ssDisconnected sessionState = iota
	ssConnecting
	ssSyncConnected
	ssExpired
	ssAuthFailed
	ssClosed
)

func (s sessionState) keeperState() KeeperState {
	switch s {
	case ssSyncConnected:
		return StateSyncConnected
	case ssExpired:
		return StateExpired
	case ssAuthFailed:
		return StateAuthFailed
	default:
		return StateDisconnected
	}
}

func (s sessionState) terminal() bool {
	return s == ssExpired || s == ssAuthFailed || s == ssClosed
}

// Session is one logical binding to the cluster, identified by
// (sessionID, sessionPasswd), surviving transport reconnects until
// expiry or an explicit CloseSession.
type Session struct {
	logger  zerolog.Logger
	metrics *sessionMetrics

	chroot           string
	requestedTimeout time.Duration

	defaultWatcher Watcher
	frameObserver  FrameObserver
	annotate       EndpointAnnotator

	metricsSetOverride *metrics.Set

	// endpoints/serverIndex are owned exclusively by run's goroutine: no
	// other code reads or writes them, so no lock guards them.
	endpoints   []string
	serverIndex int

	// idMu guards the session identity fields mutated only by the
	// session machine's own goroutine; other goroutines only ever read
	// them through State/sessionSnapshot.
	idMu              sync.Mutex
	state             sessionState
	stateCh           chan struct{} // closed and replaced on every state transition
	sessionID         int64
	sessionPasswd     []byte
	negotiatedTimeout int32
	lastZxid          int64

	xidSeq int32 // atomic

	authMu sync.Mutex
	auths  []wire.AuthRequestBody

	pending *pending.Table
	watches *watch.Registry

	connMu sync.Mutex
	conn   *transport.Conn

	lastFrameMu sync.Mutex
	lastFrameAt time.Time

	closeCh   chan struct{}
	closeOnce sync.Once
	doneCh    chan struct{}
}

// Connect parses connString (comma-separated host:port endpoints),
// constructs a Session, and starts its connect loop in the background.
// Calls issued while a handshake is in progress block until it completes
// or fails; calls issued while plainly disconnected (not mid-handshake:
// before the first connection has been dialled, or between reconnect
// attempts) fail immediately with a ConnectionLost error wrapping
// ErrNotConnected.
func Connect(connString string, sessionTimeout time.Duration, opts ...Option) (*Session, error) {
	endpoints, err := parseEndpoints(connString)
	if err != nil {
		return nil, fmt.Errorf("zkgo: %w", err)
	}

	s := &Session{
		endpoints:        endpoints,
		requestedTimeout: sessionTimeout,
		sessionPasswd:    make([]byte, 16),
		pending:          pending.New(),
		stateCh:          make(chan struct{}),
		closeCh:          make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	s.metrics = newSessionMetrics(s.metricsSetOverride, s.pending.Len)
	s.watches = watch.New(
		watch.WithLogger(s.logger.With().Str("component", "watch").Logger()),
		watch.WithFiredHook(func(kind string) { s.metrics.watchFired.byKind(kind).Inc() }),
	)
	if s.defaultWatcher != nil {
		s.watches.SetDefault(s.defaultWatcher)
	}

	go s.run()
	return s, nil
}

func parseEndpoints(connString string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(connString, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty connection string")
	}
	return out, nil
}

// State returns the session's current externally visible connection
// condition.
func (s *Session) State() KeeperState {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.state.keeperState()
}

// Done is closed once the session's connect loop has fully stopped,
// after CloseSession or a terminal Expired/AuthFailed transition.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// CloseSession sends a CloseSession frame, transitions to Closed, and
// tears down the transport. Idempotent.
func (s *Session) CloseSession() error {
	s.closeOnce.Do(func() {
		xid := s.nextXid()
		frame := wire.EncodeRequestFrame(xid, wire.OpCloseSession, wire.Empty{})
		_ = s.pending.Register(xid, pending.SinkFunc{
			OnComplete: func([]byte) {},
			OnFail:     func(error) {},
		}, time.Time{})
		_ = s.sendFrame(frame, xid, wire.OpCloseSession)

		s.setState(ssClosed)
		close(s.closeCh)

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close(errSessionClosed)
		}
		s.connMu.Unlock()
	})
	<-s.doneCh
	return nil
}

func (s *Session) setState(st sessionState) {
	s.idMu.Lock()
	s.transitionLocked(st)
	s.idMu.Unlock()
}

// transitionLocked sets the session state and wakes everything blocked
// in awaitSendable, which re-checks state against the new stateCh. idMu
// must be held by the caller.
func (s *Session) transitionLocked(st sessionState) {
	s.state = st
	close(s.stateCh)
	s.stateCh = make(chan struct{})
}

// awaitSendable blocks until the session has finished its current
// handshake and is SyncConnected, so sendFrame's frame doesn't race the
// handshake's own ConnectRequest on the wire (spec §4.7: operations
// issued while mid-handshake queue until it completes or fails). A
// session that is plainly Disconnected between connection attempts, or
// in a terminal state, fails immediately instead of queuing.
func (s *Session) awaitSendable(ctx context.Context) error {
	for {
		s.idMu.Lock()
		st := s.state
		ch := s.stateCh
		s.idMu.Unlock()

		switch st {
		case ssSyncConnected:
			return nil
		case ssExpired:
			return newErr(CodeSessionExpired, "", errSessionExpiredTerminal)
		case ssAuthFailed:
			return newErr(CodeAuthFailed, "", ErrAuthFailed)
		case ssClosed:
			return newErr(CodeConnectionLost, "", errSessionClosed)
		case ssDisconnected:
			return newErr(CodeConnectionLost, "", ErrNotConnected)
		}

		select {
		case <-ch:
		case <-s.closeCh:
			return newErr(CodeConnectionLost, "", errSessionClosed)
		case <-ctx.Done():
			return newErr(CodeSystemError, "", ctx.Err())
		}
	}
}

func (s *Session) nextXid() int32 {
	return atomic.AddInt32(&s.xidSeq, 1)
}

func (s *Session) touchLastFrame() {
	s.lastFrameMu.Lock()
	s.lastFrameAt = time.Now()
	s.lastFrameMu.Unlock()
}

func (s *Session) lastFrameTime() time.Time {
	s.lastFrameMu.Lock()
	defer s.lastFrameMu.Unlock()
	return s.lastFrameAt
}

// run is the session machine's connect loop (spec: Disconnected →
// Connecting → SyncConnected → Disconnected*, terminal Expired/
// AuthFailed/Closed), grounded on the vonwenm zk client's loop/
// authenticate/sendLoop/recvLoop split, restructured into the teacher's
// config-driven, single-goroutine style.
func (s *Session) run() {
	defer close(s.doneCh)
	first := true
	for {
		select {
		case <-s.closeCh:
			return
		default:
		}
		if !first {
			s.metrics.reconnects.Inc()
		}
		first = false

		conn, err := s.dialNext()
		if err != nil {
			return // closeCh fired while dialing
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.setState(ssConnecting)

		if hsErr := s.handshake(conn); hsErr != nil {
			conn.Close(nil)
			if hsErr == errSessionExpiredTerminal {
				return
			}
			s.logger.Warn().Err(hsErr).Msg("handshake failed")
			s.pending.FailAll(newErr(CodeConnectionLost, "", hsErr))
			s.serverIndex = (s.serverIndex + 1) % len(s.endpoints)
			select {
			case <-s.closeCh:
				return
			case <-time.After(s.reconnectBackoff()):
			}
			continue
		}

		s.watches.Notify(watch.Event{Type: watch.EventNone, State: watch.StateSyncConnected})
		s.logger.Info().Msg("session established")

		if err := s.replayAfterHandshake(); err != nil {
			s.logger.Warn().Err(err).Msg("post-handshake replay failed")
			conn.Close(nil)
			continue
		}

		if terminal := s.serve(conn); terminal {
			return
		}
	}
}

func (s *Session) dialNext() (*transport.Conn, error) {
	start := s.serverIndex
	attempts := 0
	for {
		select {
		case <-s.closeCh:
			return nil, errClosing
		default:
		}

		addr := s.endpoints[s.serverIndex]
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		conn, err := transport.Dial(ctx, addr, s.logger.With().
			Str("component", "transport").
			Str("endpoint", s.annotateEndpoint(addr)).
			Logger())
		cancel()
		if err == nil {
			return conn, nil
		}

		s.logger.Warn().Err(err).Str("endpoint", addr).Msg("dial failed")
		s.serverIndex = (s.serverIndex + 1) % len(s.endpoints)
		attempts++
		if s.serverIndex == start && attempts >= len(s.endpoints) {
			select {
			case <-s.closeCh:
				return nil, errClosing
			case <-time.After(s.reconnectBackoff()):
			}
		}
	}
}

func (s *Session) annotateEndpoint(addr string) string {
	if s.annotate == nil {
		return addr
	}
	if desc := s.annotate(addr); desc != "" {
		return addr + " (" + desc + ")"
	}
	return addr
}

// reconnectBackoff jitters the base 1-second retry delay using
// valyala/fastrand, the same generator VictoriaMetrics/metrics uses
// internally for sampling, avoiding a math/rand dependency.
func (s *Session) reconnectBackoff() time.Duration {
	return time.Second + time.Duration(fastrand.Uint32n(250))*time.Millisecond
}

// handshake performs the connect-request/connect-response exchange (spec
// §4.6). On success the session is left in SyncConnected with its
// identity fields updated. A non-nil, non-terminal error means the
// connection failed before or during the handshake and should be
// retried against the next endpoint.
func (s *Session) handshake(conn *transport.Conn) error {
	s.idMu.Lock()
	sessID := s.sessionID
	passwd := s.sessionPasswd
	lastZxid := s.lastZxid
	s.idMu.Unlock()

	req := wire.ConnectRequest{
		ProtocolVersion: protocolVersion,
		LastZxidSeen:    lastZxid,
		Timeout:         int32(s.requestedTimeout / time.Millisecond),
		SessionID:       sessID,
		Passwd:          passwd,
	}
	frame := wire.EncodeConnectFrame(req)
	if err := conn.Send(frame, dialTimeout); err != nil {
		return fmt.Errorf("send connect request: %w", err)
	}
	s.metrics.framesSent.Inc()
	if s.frameObserver != nil {
		s.frameObserver(true, 0, wire.OpCreateSession, frame)
	}

	select {
	case body, ok := <-conn.Frames():
		if !ok {
			return fmt.Errorf("connection closed during handshake: %w", conn.Err())
		}
		s.metrics.framesReceived.Inc()
		s.touchLastFrame()

		resp, err := wire.ParseConnectResponseFrame(body)
		if err != nil {
			return fmt.Errorf("%w", err)
		}
		if s.frameObserver != nil {
			s.frameObserver(false, 0, wire.OpCreateSession, body)
		}

		if resp.Timeout <= 0 {
			s.idMu.Lock()
			s.sessionID, s.sessionPasswd, s.negotiatedTimeout, s.lastZxid = 0, make([]byte, 16), 0, 0
			s.transitionLocked(ssExpired)
			s.idMu.Unlock()
			s.metrics.sessionExpired.Inc()
			s.pending.FailAll(newErr(CodeSessionExpired, "", nil))
			s.watches.FailAll(StateExpired)
			s.logger.Warn().Msg("session expired")
			return errSessionExpiredTerminal
		}

		s.idMu.Lock()
		s.sessionID = resp.SessionID
		s.sessionPasswd = resp.Passwd
		s.negotiatedTimeout = resp.Timeout
		s.transitionLocked(ssSyncConnected)
		s.idMu.Unlock()
		return nil

	case <-time.After(dialTimeout):
		return fmt.Errorf("handshake timed out")
	case <-s.closeCh:
		return errClosing
	}
}

// replayAfterHandshake replays stored auth credentials and then re-arms
// watches, in that order (spec §4.6).
func (s *Session) replayAfterHandshake() error {
	s.authMu.Lock()
	auths := append([]wire.AuthRequestBody(nil), s.auths...)
	s.authMu.Unlock()

	for _, a := range auths {
		frame := wire.EncodeRequestFrame(wire.XidAuth, wire.OpAuth, a)
		if err := s.sendFrame(frame, wire.XidAuth, wire.OpAuth); err != nil {
			return err
		}
	}

	dataPaths, existPaths, childPaths := s.watches.Snapshot()
	if len(dataPaths)+len(existPaths)+len(childPaths) == 0 {
		return nil
	}
	s.idMu.Lock()
	zxid := s.lastZxid
	s.idMu.Unlock()

	req := wire.SetWatchesRequest{
		RelativeZxid: zxid,
		DataPaths:    dataPaths,
		ExistPaths:   existPaths,
		ChildPaths:   childPaths,
	}
	frame := wire.EncodeRequestFrame(wire.XidSetWatches, wire.OpSetWatches, req)
	return s.sendFrame(frame, wire.XidSetWatches, wire.OpSetWatches)
}

// serve runs the response-read loop plus the heartbeat and staleness
// timers until the transport drops, the session closes, or a terminal
// protocol event (AuthFailed, or a session-machine CloseSession) occurs.
// terminal reports whether the session's connect loop should stop
// entirely rather than reconnect.
func (s *Session) serve(conn *transport.Conn) (terminal bool) {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()
	staleTicker := time.NewTicker(staleCheckEvery)
	defer staleTicker.Stop()

	for {
		select {
		case body, ok := <-conn.Frames():
			if !ok {
				s.onDisconnect(conn)
				return false
			}
			s.metrics.framesReceived.Inc()
			s.touchLastFrame()
			if term := s.handleFrame(body); term {
				return true
			}

		case <-pingTicker.C:
			s.idMu.Lock()
			connected := s.state == ssSyncConnected
			s.idMu.Unlock()
			if connected {
				frame := wire.EncodeRequestFrame(wire.XidPing, wire.OpPing, wire.Empty{})
				if err := s.sendFrame(frame, wire.XidPing, wire.OpPing); err != nil {
					s.onDisconnect(conn)
					return false
				}
			}

		case <-staleTicker.C:
			s.idMu.Lock()
			timeout := time.Duration(s.negotiatedTimeout) * time.Millisecond
			s.idMu.Unlock()
			if timeout > 0 && time.Since(s.lastFrameTime()) > timeout {
				s.logger.Warn().Msg("no frame received within negotiated timeout")
				conn.Close(errPingTimeout)
			}
			if n := s.pending.ExpireDue(time.Now(), newErr(CodeSystemError, "", context.DeadlineExceeded)); n > 0 {
				s.logger.Debug().Int("count", n).Msg("expired pending requests past their per-request deadline")
			}

		case <-conn.Done():
			s.onDisconnect(conn)
			return false

		case <-s.closeCh:
			return true
		}
	}
}

func (s *Session) onDisconnect(conn *transport.Conn) {
	s.idMu.Lock()
	if !s.state.terminal() {
		s.transitionLocked(ssDisconnected)
	}
	s.idMu.Unlock()
	s.pending.FailAll(newErr(CodeConnectionLost, "", conn.Err()))
	s.watches.Notify(watch.Event{Type: watch.EventNone, State: watch.StateDisconnected})
	s.logger.Info().Err(conn.Err()).Msg("disconnected")
}

// handleFrame dispatches one inbound response frame per spec §4.6.
// terminal reports an unrecoverable protocol event (AuthFailed) that
// should end the connect loop entirely.
func (s *Session) handleFrame(body []byte) (terminal bool) {
	header, rest, err := wire.ParseResponseFrame(body)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed frame")
		return false
	}
	if s.frameObserver != nil {
		s.frameObserver(false, header.Xid, wire.OpCode(0), rest)
	}
	if header.Zxid > 0 {
		s.idMu.Lock()
		if header.Zxid > s.lastZxid {
			s.lastZxid = header.Zxid
		}
		s.idMu.Unlock()
	}

	switch header.Xid {
	case wire.XidWatchEvent:
		d := wire.NewDecoder(rest)
		ev := wire.DecodeWatcherEvent(d)
		if d.Err() != nil {
			s.logger.Warn().Err(d.Err()).Msg("dropping malformed watcher event")
			return false
		}
		path := zkpath.RemoveChroot(s.chroot, ev.Path)
		s.watches.Notify(watch.Event{Type: watch.EventType(ev.Type), State: watch.KeeperState(ev.State), Path: path})

	case wire.XidPing:
		// liveness only; lastFrameAt already updated by the caller.

	case wire.XidAuth:
		if header.Err != 0 && translateServerError(header.Err) == CodeAuthFailed {
			s.logger.Warn().Msg("authentication failed")
			s.setState(ssAuthFailed)
			s.pending.FailAll(newErr(CodeAuthFailed, "", nil))
			s.watches.FailAll(StateAuthFailed)
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.Close(ErrAuthFailed)
			}
			s.connMu.Unlock()
			return true
		}

	case wire.XidSetWatches:
		if header.Err != 0 {
			s.logger.Warn().Int32("err", header.Err).Msg("set-watches replay failed")
		}

	default:
		if header.Xid < 0 {
			s.logger.Warn().Int32("xid", header.Xid).Msg("unexpected reserved xid")
			return false
		}
		if header.Err != 0 {
			code := translateServerError(header.Err)
			if !s.pending.Fail(header.Xid, newErr(code, "", nil)) {
				s.logger.Warn().Int32("xid", header.Xid).Msg("response for unknown request")
			}
		} else if !s.pending.Complete(header.Xid, rest) {
			s.logger.Warn().Int32("xid", header.Xid).Msg("response for unknown request")
		}
	}
	return false
}

func (s *Session) sendFrame(frame []byte, xid int32, opcode wire.OpCode) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return newErr(CodeConnectionLost, "", ErrNotConnected)
	}
	if err := conn.Send(frame, 0); err != nil {
		return newErr(CodeConnectionLost, "", err)
	}
	s.metrics.framesSent.Inc()
	if s.frameObserver != nil {
		s.frameObserver(true, xid, opcode, frame)
	}
	return nil
}
