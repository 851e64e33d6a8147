// Package auditlog persists every session-state change and watch
// firing to a sqlite3 database, for after-the-fact review of a long
// running client's connection history.
package auditlog

import (
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pg9182/zkgo/pkg/zk"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	time       INTEGER NOT NULL,
	event_type INTEGER NOT NULL,
	state      INTEGER NOT NULL,
	path       TEXT NOT NULL
);
`

// DB stores a session's watch/state-change history in a sqlite3
// database, grounded on pdatadb's sqlx.Connect + WAL-journal dsn.
type DB struct {
	x *sqlx.DB
}

// Open opens (creating if necessary) a sqlite3 database at name.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	if _, err := x.Exec(schema); err != nil {
		x.Close()
		return nil, err
	}
	return &DB{x: x}, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Record writes ev to the log. Intended as a zk.WatcherFunc, e.g. via
// zk.WithDefaultWatcher(zk.WatcherFunc(db.Record)) plus per-path
// watchers that also call it.
func (db *DB) Record(ev zk.Event) {
	_, _ = db.x.Exec(
		`INSERT INTO events (time, event_type, state, path) VALUES (?, ?, ?, ?)`,
		time.Now().UnixNano(), int32(ev.Type), int32(ev.State), ev.Path,
	)
}

// Event is one row read back from the log.
type Event struct {
	ID        int64     `db:"id"`
	Time      int64     `db:"time"`
	EventType int32     `db:"event_type"`
	State     int32     `db:"state"`
	Path      string    `db:"path"`
}

// Recent returns the most recent n events, newest first.
func (db *DB) Recent(n int) ([]Event, error) {
	var out []Event
	err := db.x.Select(&out, `SELECT id, time, event_type, state, path FROM events ORDER BY id DESC LIMIT ?`, n)
	return out, err
}
