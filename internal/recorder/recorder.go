// Package recorder captures every frame crossing a session's transport
// to a gzip-compressed JSON-lines log, for offline protocol debugging.
// It is wired in through zk.FrameObserver and never sits on the
// session's I/O path: a full recorder drops frames rather than block.
package recorder

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/pg9182/zkgo/pkg/wire"
)

// Entry is one recorded frame.
type Entry struct {
	Time     time.Time   `json:"time"`
	Outbound bool        `json:"outbound"`
	Xid      int32       `json:"xid"`
	Opcode   wire.OpCode `json:"opcode,omitempty"`
	Bytes    int         `json:"bytes"`
}

// backlog bounds how many captured entries may queue for the writer
// goroutine before Observe starts dropping, mirroring
// pkg/nspkt.Listener's non-blocking fan-out to monitor channels: a slow
// consumer never stalls the session's frame-handling goroutine.
const backlog = 256

// Recorder writes captured Entry values to an underlying writer as
// gzip-compressed newline-delimited JSON.
type Recorder struct {
	entries chan Entry

	mu      sync.Mutex
	dropped uint64

	done chan struct{}
}

// New starts a Recorder writing to w. Close must be called to flush and
// stop the background writer.
func New(w io.Writer) *Recorder {
	r := &Recorder{
		entries: make(chan Entry, backlog),
		done:    make(chan struct{}),
	}
	go r.run(w)
	return r
}

func (r *Recorder) run(w io.Writer) {
	defer close(r.done)
	gz := gzip.NewWriter(w)
	defer gz.Close()
	enc := json.NewEncoder(gz)
	for e := range r.entries {
		_ = enc.Encode(e) // a malformed entry never aborts the log
	}
}

// Observe implements zk.FrameObserver: attach via
// zk.WithFrameObserver(rec.Observe).
func (r *Recorder) Observe(outbound bool, xid int32, opcode wire.OpCode, body []byte) {
	e := Entry{Time: time.Now(), Outbound: outbound, Xid: xid, Opcode: opcode, Bytes: len(body)}
	select {
	case r.entries <- e:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// Dropped returns how many entries were discarded because the backlog
// was full.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting new entries and blocks until the writer has
// flushed everything already queued.
func (r *Recorder) Close() {
	close(r.entries)
	<-r.done
}
