package zk

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/pg9182/zkgo/pkg/wire"
)

// Option configures a Session at construction.
type Option func(*Session)

// WithLogger attaches a logger. The zero zerolog.Logger is valid and
// disabled, so logging is opt-in.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetricsSet attaches a private metrics.Set instead of the one the
// Session creates for itself, e.g. to wire it into an existing exposition
// endpoint. The Session registers its zkgo_* metrics in set under fixed
// names, and metrics.Set panics on a duplicate name, so one set cannot
// be shared by several Sessions.
func WithMetricsSet(set *metrics.Set) Option {
	return func(s *Session) { s.metricsSetOverride = set }
}

// WithChroot virtualizes the namespace root: every client-visible path is
// prefixed with path on the wire and stripped back off on the way out.
func WithChroot(path string) Option {
	return func(s *Session) { s.chroot = path }
}

// WithDefaultWatcher registers w to receive every session-level
// state-change event for the session's lifetime.
func WithDefaultWatcher(w Watcher) Option {
	return func(s *Session) { s.defaultWatcher = w }
}

// FrameObserver is invoked for every frame crossing the transport, with
// outbound=true for frames this session sent and outbound=false for
// frames it received. opcode is only meaningful for outbound frames
// (the caller knows what it's sending); inbound frames pass
// wire.OpCode(0), since the response itself doesn't carry its request's
// opcode, except the connect response, which passes
// wire.OpCreateSession. Observers must not block or retain body past the
// call.
type FrameObserver func(outbound bool, xid int32, opcode wire.OpCode, body []byte)

// WithFrameObserver attaches a FrameObserver, e.g. internal/recorder.
func WithFrameObserver(fn FrameObserver) Option {
	return func(s *Session) { s.frameObserver = fn }
}

// EndpointAnnotator optionally describes a host:port endpoint (e.g. with
// GeoIP/ASN info) for inclusion in connect/reconnect log lines.
type EndpointAnnotator func(hostport string) string

// WithEndpointAnnotator attaches an EndpointAnnotator, e.g. internal/netinfo.
func WithEndpointAnnotator(fn EndpointAnnotator) Option {
	return func(s *Session) { s.annotate = fn }
}
