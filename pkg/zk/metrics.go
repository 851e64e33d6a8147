package zk

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// sessionMetrics mirrors the teacher's apiMetrics: a private *metrics.Set
// owned by the Session (pkg/api/api0's metrics.go), not the global
// default set, so multiple Sessions in one process don't collide.
type sessionMetrics struct {
	set *metrics.Set

	framesSent      *metrics.Counter
	framesReceived  *metrics.Counter
	requestsPending *metrics.Gauge
	reconnects      *metrics.Counter
	sessionExpired  *metrics.Counter
	requestDuration *metrics.Histogram
	watchFired      watchFiredCounters
}

type watchFiredCounters struct {
	data    *metrics.Counter
	exist   *metrics.Counter
	child   *metrics.Counter
	session *metrics.Counter
}

func (w watchFiredCounters) byKind(kind string) *metrics.Counter {
	switch kind {
	case "data":
		return w.data
	case "exist":
		return w.exist
	case "child":
		return w.child
	default:
		return w.session
	}
}

func newSessionMetrics(set *metrics.Set, pendingLen func() int) *sessionMetrics {
	if set == nil {
		set = metrics.NewSet()
	}
	m := &sessionMetrics{
		set:             set,
		framesSent:      set.NewCounter("zkgo_frames_sent_total"),
		framesReceived:  set.NewCounter("zkgo_frames_received_total"),
		reconnects:      set.NewCounter("zkgo_reconnects_total"),
		sessionExpired:  set.NewCounter("zkgo_session_expired_total"),
		requestDuration: set.NewHistogram("zkgo_request_duration_seconds"),
		watchFired: watchFiredCounters{
			data:    set.NewCounter(`zkgo_watch_fired_total{kind="data"}`),
			exist:   set.NewCounter(`zkgo_watch_fired_total{kind="exist"}`),
			child:   set.NewCounter(`zkgo_watch_fired_total{kind="child"}`),
			session: set.NewCounter(`zkgo_watch_fired_total{kind="session"}`),
		},
	}
	m.requestsPending = set.NewGauge("zkgo_requests_pending", func() float64 {
		return float64(pendingLen())
	})
	return m
}

// WritePrometheus writes the session's metrics in Prometheus exposition
// format, mirroring pkg/api/api0.Handler.WritePrometheus.
func (s *Session) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}
