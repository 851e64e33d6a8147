package zk

import (
	"github.com/pg9182/zkgo/pkg/watch"
	"github.com/pg9182/zkgo/pkg/wire"
)

// ACL is an access-control entry: (permissions, scheme, id).
type ACL = wire.ACL

// Stat is the znode metadata record returned by data/ACL operations.
type Stat = wire.Stat

// EventType identifies what changed about a watched path, or EventNone for
// a session-level state-change event.
type EventType = watch.EventType

const (
	EventNone                = watch.EventNone
	EventNodeCreated         = watch.EventNodeCreated
	EventNodeDeleted         = watch.EventNodeDeleted
	EventNodeDataChanged     = watch.EventNodeDataChanged
	EventNodeChildrenChanged = watch.EventNodeChildrenChanged
)

// KeeperState is the session's externally visible connection condition.
type KeeperState = watch.KeeperState

const (
	StateUnknown         = watch.StateUnknown
	StateDisconnected    = watch.StateDisconnected
	StateNoSyncConnected = watch.StateNoSyncConnected
	StateSyncConnected   = watch.StateSyncConnected
	StateAuthFailed      = watch.StateAuthFailed
	StateExpired         = watch.StateExpired
)

// Event is delivered to a Watcher: either a per-path notification (Type !=
// EventNone) or a session-level state change (Type == EventNone).
type Event = watch.Event

// Watcher receives watch and session-state-change events. Registered
// one-shot against a single path (Exists/GetData/GetChildren/GetChildren2),
// or as the session's default watcher (WithDefaultWatcher) which receives
// every session-level state change for the session's lifetime.
type Watcher = watch.Watcher

// WatcherFunc adapts a function to a Watcher.
type WatcherFunc = watch.WatcherFunc

// Permission bits for an ACL entry.
const (
	PermRead   int32 = 1 << 0
	PermWrite  int32 = 1 << 1
	PermCreate int32 = 1 << 2
	PermDelete int32 = 1 << 3
	PermAdmin  int32 = 1 << 4
	PermAll    int32 = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin
)

// WorldACL grants PermAll to anyone: the permissive default used when a
// caller has no real ACL requirements.
var WorldACL = []ACL{{Perms: PermAll, Scheme: "world", ID: "anyone"}}

// CreateMode selects a znode's persistence and naming behavior.
type CreateMode int32

const (
	Persistent           CreateMode = CreateMode(wire.FlagPersistent)
	Ephemeral            CreateMode = CreateMode(wire.FlagEphemeral)
	PersistentSequential CreateMode = CreateMode(wire.FlagPersistentSequential)
	EphemeralSequential  CreateMode = CreateMode(wire.FlagEphemeralSequential)
)

func (m CreateMode) sequential() bool {
	return m == PersistentSequential || m == EphemeralSequential
}
