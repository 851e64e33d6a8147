package zk

import (
	"context"
	"time"

	"github.com/pg9182/zkgo/pkg/pending"
	"github.com/pg9182/zkgo/pkg/wire"
	"github.com/pg9182/zkgo/pkg/zkpath"
)

type pendingResult struct {
	body []byte
	err  error
}

// doRequest sends a request frame for a freshly allocated XID and blocks
// the caller until its response arrives, ctx is done, or the session
// loses its connection. origPath is the caller's pre-chroot path, used
// only to annotate the returned Error.
func (s *Session) doRequest(ctx context.Context, opcode wire.OpCode, origPath string, body interface {
	Encode(*wire.Encoder)
}) ([]byte, error) {
	start := time.Now()
	defer func() { s.metrics.requestDuration.Update(time.Since(start).Seconds()) }()

	if err := s.awaitSendable(ctx); err != nil {
		return nil, reattachPath(err, origPath)
	}

	xid := s.nextXid()
	frame := wire.EncodeRequestFrame(xid, opcode, body)

	resultCh := make(chan pendingResult, 1)
	sink := pending.SinkFunc{
		OnComplete: func(b []byte) { resultCh <- pendingResult{body: b} },
		OnFail:     func(err error) { resultCh <- pendingResult{err: err} },
	}
	var deadline time.Time
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := s.pending.Register(xid, sink, deadline); err != nil {
		return nil, newErr(CodeSystemError, origPath, err)
	}

	if err := s.sendFrame(frame, xid, opcode); err != nil {
		s.pending.Fail(xid, err) // no-op if already resolved by a concurrent FailAll
		return nil, reattachPath(err, origPath)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, reattachPath(res.err, origPath)
		}
		return res.body, nil
	case <-ctx.Done():
		s.pending.Fail(xid, ctx.Err())
		return nil, newErr(CodeSystemError, origPath, ctx.Err())
	}
}

func reattachPath(err error, path string) error {
	if ze, ok := err.(*Error); ok {
		out := *ze
		out.Path = path
		return &out
	}
	return newErr(CodeConnectionLost, path, err)
}

// Create creates a znode at path with the given data, ACL, and mode,
// returning the server-assigned path (with any sequence suffix, and with
// the session's chroot stripped back off).
func (s *Session) Create(ctx context.Context, path string, data []byte, acl []ACL, mode CreateMode) (string, error) {
	if err := zkpath.Validate(path, mode.sequential()); err != nil {
		return "", newErr(CodeInvalidPath, path, err)
	}
	req := wire.CreateRequest{
		Path:  zkpath.PrependChroot(s.chroot, path),
		Data:  data,
		Acl:   acl,
		Flags: int32(mode),
	}
	body, err := s.doRequest(ctx, wire.OpCreate, path, req)
	if err != nil {
		return "", err
	}
	d := wire.NewDecoder(body)
	resp := wire.DecodeCreateResponse(d)
	if d.Err() != nil {
		return "", newErr(CodeDecodeError, path, d.Err())
	}
	return zkpath.RemoveChroot(s.chroot, resp.Path), nil
}

// Delete removes the znode at path if its version matches (or if version
// is -1, unconditionally).
func (s *Session) Delete(ctx context.Context, path string, version int32) error {
	if err := zkpath.Validate(path, false); err != nil {
		return newErr(CodeInvalidPath, path, err)
	}
	req := wire.DeleteRequest{Path: zkpath.PrependChroot(s.chroot, path), Version: version}
	_, err := s.doRequest(ctx, wire.OpDelete, path, req)
	return err
}

// Exists checks whether path exists, optionally arming w to fire once on
// the next relevant change. A nil Stat with a nil error means the node
// does not exist (the server's NoNode is not surfaced as an error here,
// matching the operation's name).
func (s *Session) Exists(ctx context.Context, path string, w Watcher) (*Stat, error) {
	if err := zkpath.Validate(path, false); err != nil {
		return nil, newErr(CodeInvalidPath, path, err)
	}
	cp := zkpath.PrependChroot(s.chroot, path)
	req := wire.ExistsRequest{Path: cp, Watch: w != nil}
	body, err := s.doRequest(ctx, wire.OpExists, path, req)
	if err != nil {
		if ze, ok := err.(*Error); ok && ze.Code == CodeNoNode {
			if w != nil {
				s.watches.RegisterExistWatcher(w, cp)
			}
			return nil, nil
		}
		return nil, err
	}
	d := wire.NewDecoder(body)
	resp := wire.DecodeExistsResponse(d)
	if d.Err() != nil {
		return nil, newErr(CodeDecodeError, path, d.Err())
	}
	if w != nil {
		// the node exists, so a watch armed through Exists behaves like a
		// data watch (fires on NodeDataChanged or NodeDeleted), matching
		// real client behavior for an exists-watch on a live node.
		s.watches.RegisterDataWatcher(w, cp)
	}
	stat := resp.Stat
	return &stat, nil
}

// GetData returns a znode's data and Stat, optionally arming w to fire
// once on the next data change or deletion.
func (s *Session) GetData(ctx context.Context, path string, w Watcher) ([]byte, *Stat, error) {
	if err := zkpath.Validate(path, false); err != nil {
		return nil, nil, newErr(CodeInvalidPath, path, err)
	}
	cp := zkpath.PrependChroot(s.chroot, path)
	req := wire.GetDataRequest{Path: cp, Watch: w != nil}
	body, err := s.doRequest(ctx, wire.OpGetData, path, req)
	if err != nil {
		return nil, nil, err
	}
	d := wire.NewDecoder(body)
	resp := wire.DecodeGetDataResponse(d)
	if d.Err() != nil {
		return nil, nil, newErr(CodeDecodeError, path, d.Err())
	}
	if w != nil {
		s.watches.RegisterDataWatcher(w, cp)
	}
	stat := resp.Stat
	return resp.Data, &stat, nil
}

// SetData replaces a znode's data if its version matches (or if version
// is -1, unconditionally), returning the updated Stat.
func (s *Session) SetData(ctx context.Context, path string, data []byte, version int32) (*Stat, error) {
	if err := zkpath.Validate(path, false); err != nil {
		return nil, newErr(CodeInvalidPath, path, err)
	}
	req := wire.SetDataRequest{Path: zkpath.PrependChroot(s.chroot, path), Data: data, Version: version}
	body, err := s.doRequest(ctx, wire.OpSetData, path, req)
	if err != nil {
		return nil, err
	}
	d := wire.NewDecoder(body)
	resp := wire.DecodeSetDataResponse(d)
	if d.Err() != nil {
		return nil, newErr(CodeDecodeError, path, d.Err())
	}
	stat := resp.Stat
	return &stat, nil
}

// GetACL returns a znode's ACL list and Stat.
func (s *Session) GetACL(ctx context.Context, path string) ([]ACL, *Stat, error) {
	if err := zkpath.Validate(path, false); err != nil {
		return nil, nil, newErr(CodeInvalidPath, path, err)
	}
	req := wire.GetACLRequest{Path: zkpath.PrependChroot(s.chroot, path)}
	body, err := s.doRequest(ctx, wire.OpGetACL, path, req)
	if err != nil {
		return nil, nil, err
	}
	d := wire.NewDecoder(body)
	resp := wire.DecodeGetACLResponse(d)
	if d.Err() != nil {
		return nil, nil, newErr(CodeDecodeError, path, d.Err())
	}
	stat := resp.Stat
	return resp.Acl, &stat, nil
}

// SetACL replaces a znode's ACL list if its version matches, returning
// the updated Stat.
func (s *Session) SetACL(ctx context.Context, path string, acl []ACL, version int32) (*Stat, error) {
	if err := zkpath.Validate(path, false); err != nil {
		return nil, newErr(CodeInvalidPath, path, err)
	}
	req := wire.SetACLRequest{Path: zkpath.PrependChroot(s.chroot, path), Acl: acl, Version: version}
	body, err := s.doRequest(ctx, wire.OpSetACL, path, req)
	if err != nil {
		return nil, err
	}
	d := wire.NewDecoder(body)
	resp := wire.DecodeSetACLResponse(d)
	if d.Err() != nil {
		return nil, newErr(CodeDecodeError, path, d.Err())
	}
	stat := resp.Stat
	return &stat, nil
}

// GetChildren lists a znode's immediate children, optionally arming w to
// fire once the next time the child list changes.
func (s *Session) GetChildren(ctx context.Context, path string, w Watcher) ([]string, error) {
	if err := zkpath.Validate(path, false); err != nil {
		return nil, newErr(CodeInvalidPath, path, err)
	}
	cp := zkpath.PrependChroot(s.chroot, path)
	req := wire.GetChildrenRequest{Path: cp, Watch: w != nil}
	body, err := s.doRequest(ctx, wire.OpGetChildren, path, req)
	if err != nil {
		return nil, err
	}
	d := wire.NewDecoder(body)
	resp := wire.DecodeGetChildrenResponse(d)
	if d.Err() != nil {
		return nil, newErr(CodeDecodeError, path, d.Err())
	}
	if w != nil {
		s.watches.RegisterChildWatcher(w, cp)
	}
	return resp.Children, nil
}

// GetChildren2 is GetChildren plus the parent's Stat.
func (s *Session) GetChildren2(ctx context.Context, path string, w Watcher) ([]string, *Stat, error) {
	if err := zkpath.Validate(path, false); err != nil {
		return nil, nil, newErr(CodeInvalidPath, path, err)
	}
	cp := zkpath.PrependChroot(s.chroot, path)
	req := wire.GetChildrenRequest{Path: cp, Watch: w != nil}
	body, err := s.doRequest(ctx, wire.OpGetChildren2, path, req)
	if err != nil {
		return nil, nil, err
	}
	d := wire.NewDecoder(body)
	resp := wire.DecodeGetChildren2Response(d)
	if d.Err() != nil {
		return nil, nil, newErr(CodeDecodeError, path, d.Err())
	}
	if w != nil {
		s.watches.RegisterChildWatcher(w, cp)
	}
	stat := resp.Stat
	return resp.Children, &stat, nil
}

// AddAuth appends (scheme, cred) to the session's auth list and sends an
// Auth frame immediately. Auth responses aren't correlated through the
// Pending Request Table (they use the reserved XID -4); a failure only
// surfaces asynchronously as a session-ending AuthFailed transition.
// Like every other request, the immediate send waits out a in-progress
// handshake rather than racing it (see doRequest); the credential is
// already queued in s.auths by the time this blocks, so a concurrent
// reconnect's replay picks it up regardless of how this call resolves.
func (s *Session) AddAuth(scheme string, cred []byte) error {
	auth := wire.AuthRequestBody{Type: 0, Scheme: scheme, Cred: cred}
	s.authMu.Lock()
	s.auths = append(s.auths, auth)
	s.authMu.Unlock()

	if err := s.awaitSendable(context.Background()); err != nil {
		return err
	}

	frame := wire.EncodeRequestFrame(wire.XidAuth, wire.OpAuth, auth)
	return s.sendFrame(frame, wire.XidAuth, wire.OpAuth)
}
