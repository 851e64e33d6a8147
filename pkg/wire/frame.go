package wire

import "fmt"

// LengthPrefixSize is the width of the frame length prefix.
const LengthPrefixSize = 4

// EncodeRequestFrame serializes a request frame: a 4-byte length prefix
// (not counted in its own value) followed by {xid, opcode, body...}.
// The connect frame uses EncodeConnectFrame instead, since it omits the
// xid/opcode header; the close frame is an ordinary request frame with
// opcode OpCloseSession and an Empty body.
func EncodeRequestFrame(xid int32, opcode OpCode, body interface{ Encode(*Encoder) }) []byte {
	e := NewEncoder(make([]byte, 0, 64))
	e.Int32(0) // length placeholder
	RequestHeader{Xid: xid, Opcode: opcode}.Encode(e)
	body.Encode(e)
	return finishFrame(e)
}

// EncodeConnectFrame serializes the connect request frame, which omits
// the request header entirely.
func EncodeConnectFrame(req ConnectRequest) []byte {
	e := NewEncoder(make([]byte, 0, 64))
	e.Int32(0) // length placeholder
	req.Encode(e)
	return finishFrame(e)
}

func finishFrame(e *Encoder) []byte {
	buf := e.Bytes()
	n := len(buf) - LengthPrefixSize
	NewEncoder(buf[:0]).Int32(int32(n))
	return buf
}

// ParseResponseFrame splits a received frame body (with the length
// prefix already stripped by the transport) into its response header and
// remaining body bytes.
func ParseResponseFrame(frame []byte) (ResponseHeader, []byte, error) {
	d := NewDecoder(frame)
	h := DecodeResponseHeader(d)
	if err := d.Err(); err != nil {
		return ResponseHeader{}, nil, fmt.Errorf("wire: decode response header: %w", err)
	}
	return h, frame[d.pos:], nil
}

// ParseConnectResponseFrame splits a received connect-reply frame (no
// xid/err header) into the ConnectResponse.
func ParseConnectResponseFrame(frame []byte) (ConnectResponse, error) {
	d := NewDecoder(frame)
	r := DecodeConnectResponse(d)
	if err := d.Err(); err != nil {
		return ConnectResponse{}, fmt.Errorf("wire: decode connect response: %w", err)
	}
	return r, nil
}
