// Package zkgo is the root facade of the module: it re-exports the
// session package's public surface so that ordinary consumers only ever
// need to import github.com/pg9182/zkgo, the way pkg/atlas sits as the
// facade over atlas's subsystem packages.
package zkgo

import (
	"time"

	"github.com/pg9182/zkgo/pkg/zk"
)

// Session is one logical binding to the cluster, surviving transport
// reconnects until expiry or an explicit CloseSession.
type Session = zk.Session

// Option configures a Session at construction.
type Option = zk.Option

// Connect parses connString (comma-separated host:port endpoints),
// constructs a Session, and starts its connect loop in the background.
func Connect(connString string, sessionTimeout time.Duration, opts ...Option) (*Session, error) {
	return zk.Connect(connString, sessionTimeout, opts...)
}

var (
	WithLogger            = zk.WithLogger
	WithMetricsSet        = zk.WithMetricsSet
	WithChroot            = zk.WithChroot
	WithDefaultWatcher    = zk.WithDefaultWatcher
	WithFrameObserver     = zk.WithFrameObserver
	WithEndpointAnnotator = zk.WithEndpointAnnotator
)

type (
	FrameObserver     = zk.FrameObserver
	EndpointAnnotator = zk.EndpointAnnotator
)

// ACL is an access-control entry: (permissions, scheme, id).
type ACL = zk.ACL

// Stat is the znode metadata record returned by data/ACL operations.
type Stat = zk.Stat

// EventType identifies what changed about a watched path, or EventNone
// for a session-level state-change event.
type EventType = zk.EventType

const (
	EventNone                = zk.EventNone
	EventNodeCreated         = zk.EventNodeCreated
	EventNodeDeleted         = zk.EventNodeDeleted
	EventNodeDataChanged     = zk.EventNodeDataChanged
	EventNodeChildrenChanged = zk.EventNodeChildrenChanged
)

// KeeperState is the session's externally visible connection condition.
type KeeperState = zk.KeeperState

const (
	StateUnknown         = zk.StateUnknown
	StateDisconnected    = zk.StateDisconnected
	StateNoSyncConnected = zk.StateNoSyncConnected
	StateSyncConnected   = zk.StateSyncConnected
	StateAuthFailed      = zk.StateAuthFailed
	StateExpired         = zk.StateExpired
)

// Event is delivered to a Watcher.
type Event = zk.Event

// Watcher receives watch and session-state-change events.
type Watcher = zk.Watcher

// WatcherFunc adapts a function to a Watcher.
type WatcherFunc = zk.WatcherFunc

const (
	PermRead   = zk.PermRead
	PermWrite  = zk.PermWrite
	PermCreate = zk.PermCreate
	PermDelete = zk.PermDelete
	PermAdmin  = zk.PermAdmin
	PermAll    = zk.PermAll
)

// WorldACL grants PermAll to anyone.
var WorldACL = zk.WorldACL

// CreateMode selects a znode's persistence and naming behavior.
type CreateMode = zk.CreateMode

const (
	Persistent           = zk.Persistent
	Ephemeral            = zk.Ephemeral
	PersistentSequential = zk.PersistentSequential
	EphemeralSequential  = zk.EphemeralSequential
)

// Code identifies the category of a protocol-level error.
type Code = zk.Code

// Error wraps a protocol-level failure with the path it occurred on.
type Error = zk.Error

var (
	ErrNoNode                  = zk.ErrNoNode
	ErrNoAuth                  = zk.ErrNoAuth
	ErrBadVersion              = zk.ErrBadVersion
	ErrNoChildrenForEphemerals = zk.ErrNoChildrenForEphemerals
	ErrNodeExists              = zk.ErrNodeExists
	ErrNotEmpty                = zk.ErrNotEmpty
	ErrSessionExpired          = zk.ErrSessionExpired
	ErrInvalidACL              = zk.ErrInvalidACL
	ErrAuthFailed              = zk.ErrAuthFailed
	ErrInvalidCallback         = zk.ErrInvalidCallback
	ErrSessionMoved            = zk.ErrSessionMoved
	ErrInvalidPath             = zk.ErrInvalidPath
	ErrConnectionLost          = zk.ErrConnectionLost
	ErrSystemError             = zk.ErrSystemError
)
