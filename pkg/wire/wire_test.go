package wire

import (
	"bytes"
	"testing"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	e := NewEncoder(nil)
	e.Int32(-42).Int64(1<<40 + 7).Bool(true).Bool(false).ByteArray([]byte("hello")).ByteArray(nil).String("znode")

	d := NewDecoder(e.Bytes())
	if v := d.Int32(); v != -42 {
		t.Errorf("int32 = %d, want -42", v)
	}
	if v := d.Int64(); v != 1<<40+7 {
		t.Errorf("int64 = %d, want %d", v, int64(1)<<40+7)
	}
	if v := d.Bool(); !v {
		t.Error("bool #1 = false, want true")
	}
	if v := d.Bool(); v {
		t.Error("bool #2 = true, want false")
	}
	if v := d.Bytes(); !bytes.Equal(v, []byte("hello")) {
		t.Errorf("bytes = %q, want %q", v, "hello")
	}
	if v := d.Bytes(); v != nil {
		t.Errorf("null bytes = %v, want nil", v)
	}
	if v := d.String(); v != "znode" {
		t.Errorf("string = %q, want %q", v, "znode")
	}
	if err := d.Err(); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	e := NewEncoder(nil)
	e.Int32(5)
	buf := e.Bytes()[:2] // chop the int32 in half

	d := NewDecoder(buf)
	d.Int32()
	if d.Err() == nil {
		t.Error("expected short-buffer error, got nil")
	}
}

func TestDecodeNegativeLength(t *testing.T) {
	e := NewEncoder(nil)
	e.Int32(-5) // not NullLength (-1), so must fail
	d := NewDecoder(e.Bytes())
	d.Bytes()
	if d.Err() == nil {
		t.Error("expected negative-length error, got nil")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Run("ConnectRequest", func(t *testing.T) {
		want := ConnectRequest{ProtocolVersion: 0, LastZxidSeen: 123, Timeout: 10000, SessionID: 0xAB, Passwd: bytes.Repeat([]byte{0x11}, 16)}
		e := NewEncoder(nil)
		want.Encode(e)
		got := DecodeConnectRequest(NewDecoder(e.Bytes()))
		if got.ProtocolVersion != want.ProtocolVersion || got.LastZxidSeen != want.LastZxidSeen || got.Timeout != want.Timeout || got.SessionID != want.SessionID || !bytes.Equal(got.Passwd, want.Passwd) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
	t.Run("ConnectResponse", func(t *testing.T) {
		want := ConnectResponse{ProtocolVersion: 0, Timeout: 10000, SessionID: 0xAB, Passwd: bytes.Repeat([]byte{0x11}, 16)}
		e := NewEncoder(nil)
		want.Encode(e)
		got := DecodeConnectResponse(NewDecoder(e.Bytes()))
		if got.ProtocolVersion != want.ProtocolVersion || got.Timeout != want.Timeout || got.SessionID != want.SessionID || !bytes.Equal(got.Passwd, want.Passwd) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
	t.Run("CreateRequest", func(t *testing.T) {
		want := CreateRequest{Path: "/foo", Data: []byte{0x01}, Acl: []ACL{{Perms: 31, Scheme: "world", ID: "anyone"}}, Flags: FlagPersistent}
		e := NewEncoder(nil)
		want.Encode(e)
		got := DecodeCreateRequest(NewDecoder(e.Bytes()))
		if got.Path != want.Path || !bytes.Equal(got.Data, want.Data) || got.Flags != want.Flags || len(got.Acl) != 1 || got.Acl[0] != want.Acl[0] {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
	t.Run("Stat", func(t *testing.T) {
		want := Stat{Czxid: 1, Mzxid: 2, Ctime: 3, Mtime: 4, Version: 5, Cversion: 6, Aversion: 7, EphemeralOwner: 8, DataLength: 9, NumChildren: 10, Pzxid: 11}
		e := NewEncoder(nil)
		want.encode(e)
		got := decodeStat(NewDecoder(e.Bytes()))
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
	t.Run("GetChildren2Response", func(t *testing.T) {
		want := GetChildren2Response{Children: []string{"a", "b", "c"}, Stat: Stat{Version: 1}}
		e := NewEncoder(nil)
		want.Encode(e)
		got := DecodeGetChildren2Response(NewDecoder(e.Bytes()))
		if len(got.Children) != 3 || got.Children[1] != "b" || got.Stat != want.Stat {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
	t.Run("SetWatchesRequest", func(t *testing.T) {
		want := SetWatchesRequest{RelativeZxid: 42, DataPaths: []string{"/a"}, ExistPaths: nil, ChildPaths: []string{"/b"}}
		e := NewEncoder(nil)
		want.Encode(e)
		got := DecodeSetWatchesRequest(NewDecoder(e.Bytes()))
		if got.RelativeZxid != want.RelativeZxid || len(got.DataPaths) != 1 || got.ExistPaths != nil || len(got.ChildPaths) != 1 {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
	t.Run("WatcherEvent", func(t *testing.T) {
		want := WatcherEvent{Type: 1, State: 3, Path: "/k"}
		e := NewEncoder(nil)
		want.Encode(e)
		got := DecodeWatcherEvent(NewDecoder(e.Bytes()))
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
}

func TestRequestFrameLengthPrefix(t *testing.T) {
	frame := EncodeRequestFrame(1, OpPing, Empty{})
	d := NewDecoder(frame)
	n := d.Int32()
	if int(n) != len(frame)-LengthPrefixSize {
		t.Errorf("length prefix = %d, want %d", n, len(frame)-LengthPrefixSize)
	}

	h := DecodeRequestHeader(d)
	if h.Xid != 1 || h.Opcode != OpPing {
		t.Errorf("got %+v, want xid=1 opcode=ping", h)
	}
}

func TestDecodeFrameLength(t *testing.T) {
	tests := []struct {
		n       int32
		wantErr bool
	}{
		{0, false},
		{1024, false},
		{maxFrameLength, false},
		{maxFrameLength + 1, true},
		{-1, true}, // not a valid frame length prefix; -1 is only reserved for byte-array null
		{-100, true},
	}
	for _, tt := range tests {
		_, err := DecodeFrameLength(tt.n)
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodeFrameLength(%d) err = %v, wantErr %v", tt.n, err, tt.wantErr)
		}
	}
}

func FuzzDecodeResponseHeader(f *testing.F) {
	f.Add([]byte{})
	f.Add(bytes.Repeat([]byte{0xff}, 16))
	e := NewEncoder(nil)
	ResponseHeader{Xid: 5, Zxid: 99, Err: 0}.Encode(e)
	f.Add(e.Bytes())

	f.Fuzz(func(t *testing.T, b []byte) {
		// must never panic, regardless of input
		ParseResponseFrame(b)
	})
}
