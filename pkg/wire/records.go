package wire

// OpCode identifies the operation a request/response frame carries
// (spec §6). Values are stable, server-defined protocol constants.
type OpCode int32

const (
	OpNotification  OpCode = 0
	OpCreate        OpCode = 1
	OpDelete        OpCode = 2
	OpExists        OpCode = 3
	OpGetData       OpCode = 4
	OpSetData       OpCode = 5
	OpGetACL        OpCode = 6
	OpSetACL        OpCode = 7
	OpGetChildren   OpCode = 8
	OpSync          OpCode = 9
	OpPing          OpCode = 11
	OpGetChildren2  OpCode = 12
	OpCheck         OpCode = 13
	OpMulti         OpCode = 14
	OpAuth          OpCode = 100
	OpSetWatches    OpCode = 101
	OpCreateSession OpCode = -10
	OpCloseSession  OpCode = -11
)

func (o OpCode) String() string {
	switch o {
	case OpNotification:
		return "notification"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpExists:
		return "exists"
	case OpGetData:
		return "getData"
	case OpSetData:
		return "setData"
	case OpGetACL:
		return "getACL"
	case OpSetACL:
		return "setACL"
	case OpGetChildren:
		return "getChildren"
	case OpSync:
		return "sync"
	case OpPing:
		return "ping"
	case OpGetChildren2:
		return "getChildren2"
	case OpCheck:
		return "check"
	case OpMulti:
		return "multi"
	case OpAuth:
		return "auth"
	case OpSetWatches:
		return "setWatches"
	case OpCreateSession:
		return "createSession"
	case OpCloseSession:
		return "closeSession"
	default:
		return "unknown"
	}
}

// CreateMode flags (spec §6).
const (
	FlagPersistent           int32 = 0
	FlagEphemeral            int32 = 1
	FlagPersistentSequential int32 = 2
	FlagEphemeralSequential  int32 = 3
)

// Reserved request XIDs (spec §3).
const (
	XidWatchEvent int32 = -1
	XidPing       int32 = -2
	XidAuth       int32 = -4
	XidSetWatches int32 = -8
)

// ACL is an access-control entry: (permissions, scheme, id).
type ACL struct {
	Perms  int32
	Scheme string
	ID     string
}

func (a ACL) encode(e *Encoder) {
	e.Int32(a.Perms)
	e.String(a.Scheme)
	e.String(a.ID)
}

func decodeACL(d *Decoder) ACL {
	var a ACL
	a.Perms = d.Int32()
	a.Scheme = d.String()
	a.ID = d.String()
	return a
}

func encodeACLs(e *Encoder, v []ACL) {
	if v == nil {
		e.Int32(NullLength)
		return
	}
	e.Int32(int32(len(v)))
	for _, a := range v {
		a.encode(e)
	}
}

func decodeACLs(d *Decoder) []ACL {
	n := d.Int32()
	if d.Err() != nil || n == NullLength {
		return nil
	}
	if n < 0 {
		d.fail(ErrNegativeLength)
		return nil
	}
	out := make([]ACL, n)
	for i := range out {
		out[i] = decodeACL(d)
	}
	return out
}

// Stat is the znode metadata record returned by data/ACL operations.
type Stat struct {
	Czxid          int64
	Mzxid          int64
	Ctime          int64
	Mtime          int64
	Version        int32
	Cversion       int32
	Aversion       int32
	EphemeralOwner int64
	DataLength     int32
	NumChildren    int32
	Pzxid          int64
}

func (s Stat) encode(e *Encoder) {
	e.Int64(s.Czxid)
	e.Int64(s.Mzxid)
	e.Int64(s.Ctime)
	e.Int64(s.Mtime)
	e.Int32(s.Version)
	e.Int32(s.Cversion)
	e.Int32(s.Aversion)
	e.Int64(s.EphemeralOwner)
	e.Int32(s.DataLength)
	e.Int32(s.NumChildren)
	e.Int64(s.Pzxid)
}

func decodeStat(d *Decoder) Stat {
	var s Stat
	s.Czxid = d.Int64()
	s.Mzxid = d.Int64()
	s.Ctime = d.Int64()
	s.Mtime = d.Int64()
	s.Version = d.Int32()
	s.Cversion = d.Int32()
	s.Aversion = d.Int32()
	s.EphemeralOwner = d.Int64()
	s.DataLength = d.Int32()
	s.NumChildren = d.Int32()
	s.Pzxid = d.Int64()
	return s
}

// RequestHeader prefixes every request frame body except the connect
// frame.
type RequestHeader struct {
	Xid    int32
	Opcode OpCode
}

// Encode appends h to e.
func (h RequestHeader) Encode(e *Encoder) {
	e.Int32(h.Xid)
	e.Int32(int32(h.Opcode))
}

// DecodeRequestHeader reads a RequestHeader from d.
func DecodeRequestHeader(d *Decoder) RequestHeader {
	var h RequestHeader
	h.Xid = d.Int32()
	h.Opcode = OpCode(d.Int32())
	return h
}

// ResponseHeader prefixes every response frame body except the connect
// reply.
type ResponseHeader struct {
	Xid  int32
	Zxid int64
	Err  int32
}

// Encode appends h to e (used by test fixtures/fake servers).
func (h ResponseHeader) Encode(e *Encoder) {
	e.Int32(h.Xid)
	e.Int64(h.Zxid)
	e.Int32(h.Err)
}

// DecodeResponseHeader reads a ResponseHeader from d.
func DecodeResponseHeader(d *Decoder) ResponseHeader {
	var h ResponseHeader
	h.Xid = d.Int32()
	h.Zxid = d.Int64()
	h.Err = d.Int32()
	return h
}

// ConnectRequest is the session-handshake request (connect frames omit
// the xid/opcode header).
type ConnectRequest struct {
	ProtocolVersion int32
	LastZxidSeen    int64
	Timeout         int32
	SessionID       int64
	Passwd          []byte
}

func (r ConnectRequest) Encode(e *Encoder) {
	e.Int32(r.ProtocolVersion)
	e.Int64(r.LastZxidSeen)
	e.Int32(r.Timeout)
	e.Int64(r.SessionID)
	e.ByteArray(r.Passwd)
}

func DecodeConnectRequest(d *Decoder) ConnectRequest {
	var r ConnectRequest
	r.ProtocolVersion = d.Int32()
	r.LastZxidSeen = d.Int64()
	r.Timeout = d.Int32()
	r.SessionID = d.Int64()
	r.Passwd = d.Bytes()
	return r
}

// ConnectResponse is the session-handshake reply (omits xid/err).
type ConnectResponse struct {
	ProtocolVersion int32
	Timeout         int32
	SessionID       int64
	Passwd          []byte
}

func (r ConnectResponse) Encode(e *Encoder) {
	e.Int32(r.ProtocolVersion)
	e.Int32(r.Timeout)
	e.Int64(r.SessionID)
	e.ByteArray(r.Passwd)
}

func DecodeConnectResponse(d *Decoder) ConnectResponse {
	var r ConnectResponse
	r.ProtocolVersion = d.Int32()
	r.Timeout = d.Int32()
	r.SessionID = d.Int64()
	r.Passwd = d.Bytes()
	return r
}

type CreateRequest struct {
	Path  string
	Data  []byte
	Acl   []ACL
	Flags int32
}

func (r CreateRequest) Encode(e *Encoder) {
	e.String(r.Path)
	e.ByteArray(r.Data)
	encodeACLs(e, r.Acl)
	e.Int32(r.Flags)
}

func DecodeCreateRequest(d *Decoder) CreateRequest {
	var r CreateRequest
	r.Path = d.String()
	r.Data = d.Bytes()
	r.Acl = decodeACLs(d)
	r.Flags = d.Int32()
	return r
}

type CreateResponse struct {
	Path string
}

func (r CreateResponse) Encode(e *Encoder) { e.String(r.Path) }

func DecodeCreateResponse(d *Decoder) CreateResponse {
	return CreateResponse{Path: d.String()}
}

type DeleteRequest struct {
	Path    string
	Version int32
}

func (r DeleteRequest) Encode(e *Encoder) {
	e.String(r.Path)
	e.Int32(r.Version)
}

func DecodeDeleteRequest(d *Decoder) DeleteRequest {
	return DeleteRequest{Path: d.String(), Version: d.Int32()}
}

type ExistsRequest struct {
	Path  string
	Watch bool
}

func (r ExistsRequest) Encode(e *Encoder) {
	e.String(r.Path)
	e.Bool(r.Watch)
}

func DecodeExistsRequest(d *Decoder) ExistsRequest {
	return ExistsRequest{Path: d.String(), Watch: d.Bool()}
}

// ExistsResponse carries the Stat when the node exists. The server
// signals nonexistence by setting an error code, not by a distinct
// body shape.
type ExistsResponse struct {
	Stat Stat
}

func (r ExistsResponse) Encode(e *Encoder) { r.Stat.encode(e) }

func DecodeExistsResponse(d *Decoder) ExistsResponse {
	return ExistsResponse{Stat: decodeStat(d)}
}

type GetDataRequest struct {
	Path  string
	Watch bool
}

func (r GetDataRequest) Encode(e *Encoder) {
	e.String(r.Path)
	e.Bool(r.Watch)
}

func DecodeGetDataRequest(d *Decoder) GetDataRequest {
	return GetDataRequest{Path: d.String(), Watch: d.Bool()}
}

type GetDataResponse struct {
	Data []byte
	Stat Stat
}

func (r GetDataResponse) Encode(e *Encoder) {
	e.ByteArray(r.Data)
	r.Stat.encode(e)
}

func DecodeGetDataResponse(d *Decoder) GetDataResponse {
	var r GetDataResponse
	r.Data = d.Bytes()
	r.Stat = decodeStat(d)
	return r
}

type SetDataRequest struct {
	Path    string
	Data    []byte
	Version int32
}

func (r SetDataRequest) Encode(e *Encoder) {
	e.String(r.Path)
	e.ByteArray(r.Data)
	e.Int32(r.Version)
}

func DecodeSetDataRequest(d *Decoder) SetDataRequest {
	var r SetDataRequest
	r.Path = d.String()
	r.Data = d.Bytes()
	r.Version = d.Int32()
	return r
}

type SetDataResponse struct {
	Stat Stat
}

func (r SetDataResponse) Encode(e *Encoder) { r.Stat.encode(e) }

func DecodeSetDataResponse(d *Decoder) SetDataResponse {
	return SetDataResponse{Stat: decodeStat(d)}
}

type GetACLRequest struct {
	Path string
}

func (r GetACLRequest) Encode(e *Encoder) { e.String(r.Path) }

func DecodeGetACLRequest(d *Decoder) GetACLRequest {
	return GetACLRequest{Path: d.String()}
}

type GetACLResponse struct {
	Acl  []ACL
	Stat Stat
}

func (r GetACLResponse) Encode(e *Encoder) {
	encodeACLs(e, r.Acl)
	r.Stat.encode(e)
}

func DecodeGetACLResponse(d *Decoder) GetACLResponse {
	var r GetACLResponse
	r.Acl = decodeACLs(d)
	r.Stat = decodeStat(d)
	return r
}

type SetACLRequest struct {
	Path    string
	Acl     []ACL
	Version int32
}

func (r SetACLRequest) Encode(e *Encoder) {
	e.String(r.Path)
	encodeACLs(e, r.Acl)
	e.Int32(r.Version)
}

func DecodeSetACLRequest(d *Decoder) SetACLRequest {
	var r SetACLRequest
	r.Path = d.String()
	r.Acl = decodeACLs(d)
	r.Version = d.Int32()
	return r
}

type SetACLResponse struct {
	Stat Stat
}

func (r SetACLResponse) Encode(e *Encoder) { r.Stat.encode(e) }

func DecodeSetACLResponse(d *Decoder) SetACLResponse {
	return SetACLResponse{Stat: decodeStat(d)}
}

type GetChildrenRequest struct {
	Path  string
	Watch bool
}

func (r GetChildrenRequest) Encode(e *Encoder) {
	e.String(r.Path)
	e.Bool(r.Watch)
}

func DecodeGetChildrenRequest(d *Decoder) GetChildrenRequest {
	return GetChildrenRequest{Path: d.String(), Watch: d.Bool()}
}

type GetChildrenResponse struct {
	Children []string
}

func (r GetChildrenResponse) Encode(e *Encoder) { e.StringSlice(r.Children) }

func DecodeGetChildrenResponse(d *Decoder) GetChildrenResponse {
	return GetChildrenResponse{Children: d.StringSlice()}
}

type GetChildren2Response struct {
	Children []string
	Stat     Stat
}

func (r GetChildren2Response) Encode(e *Encoder) {
	e.StringSlice(r.Children)
	r.Stat.encode(e)
}

func DecodeGetChildren2Response(d *Decoder) GetChildren2Response {
	var r GetChildren2Response
	r.Children = d.StringSlice()
	r.Stat = decodeStat(d)
	return r
}

type SetWatchesRequest struct {
	RelativeZxid int64
	DataPaths    []string
	ExistPaths   []string
	ChildPaths   []string
}

func (r SetWatchesRequest) Encode(e *Encoder) {
	e.Int64(r.RelativeZxid)
	e.StringSlice(r.DataPaths)
	e.StringSlice(r.ExistPaths)
	e.StringSlice(r.ChildPaths)
}

func DecodeSetWatchesRequest(d *Decoder) SetWatchesRequest {
	var r SetWatchesRequest
	r.RelativeZxid = d.Int64()
	r.DataPaths = d.StringSlice()
	r.ExistPaths = d.StringSlice()
	r.ChildPaths = d.StringSlice()
	return r
}

type AuthRequestBody struct {
	Type   int32
	Scheme string
	Cred   []byte
}

func (r AuthRequestBody) Encode(e *Encoder) {
	e.Int32(r.Type)
	e.String(r.Scheme)
	e.ByteArray(r.Cred)
}

func DecodeAuthRequestBody(d *Decoder) AuthRequestBody {
	var r AuthRequestBody
	r.Type = d.Int32()
	r.Scheme = d.String()
	r.Cred = d.Bytes()
	return r
}

// WatcherEvent is the body of an xid=-1 notification frame.
type WatcherEvent struct {
	Type  int32
	State int32
	Path  string
}

func (r WatcherEvent) Encode(e *Encoder) {
	e.Int32(r.Type)
	e.Int32(r.State)
	e.String(r.Path)
}

func DecodeWatcherEvent(d *Decoder) WatcherEvent {
	var r WatcherEvent
	r.Type = d.Int32()
	r.State = d.Int32()
	r.Path = d.String()
	return r
}

// Empty encodes/decodes to nothing; used for the CloseSession and Ping
// request bodies, which carry no fields beyond their header.
type Empty struct{}

func (Empty) Encode(*Encoder) {}

func DecodeEmpty(*Decoder) Empty { return Empty{} }
