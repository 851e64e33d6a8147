// Package wire implements the fixed big-endian wire codec used to
// correlate and serialize requests and responses against the
// coordination service (spec §4.1, §6).
//
// Every record is a fixed-order concatenation of int32/int64/bool/bytes/
// string fields. A byte array (and string, which is just a UTF-8 byte
// array) is encoded as a 4-byte length prefix followed by the bytes; a
// length of -1 denotes null. The codec is total: it never panics on
// malformed input, and always returns ErrShortBuffer/ErrNegativeLength
// instead.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a Decoder runs out of bytes mid-field.
var ErrShortBuffer = errors.New("wire: buffer too short")

// ErrNegativeLength is returned when a length-prefixed field has a
// negative length other than the reserved null marker (-1).
var ErrNegativeLength = errors.New("wire: negative length prefix")

// NullLength is the length prefix reserved to mean "null" for a byte
// array or string field.
const NullLength = -1

// Encoder appends fixed big-endian fields to an internal buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with buf as its initial backing array
// (len(buf) may be 0; cap(buf) is reused).
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf[:0]}
}

// Bytes returns the encoded buffer so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Int32 appends a big-endian int32.
func (e *Encoder) Int32(v int32) *Encoder {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
	return e
}

// Int64 appends a big-endian int64.
func (e *Encoder) Int64(v int64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	e.buf = append(e.buf, b[:]...)
	return e
}

// Bool appends a single byte, 0 or 1.
func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
	return e
}

// ByteArray appends a length-prefixed byte array. A nil slice is encoded
// as NullLength with no following bytes.
func (e *Encoder) ByteArray(v []byte) *Encoder {
	if v == nil {
		e.Int32(NullLength)
		return e
	}
	e.Int32(int32(len(v)))
	e.buf = append(e.buf, v...)
	return e
}

// String appends a length-prefixed UTF-8 string, using the same encoding
// as ByteArray.
func (e *Encoder) String(v string) *Encoder {
	e.ByteArray([]byte(v))
	return e
}

// StringSlice appends a length-prefixed array of strings.
func (e *Encoder) StringSlice(v []string) *Encoder {
	if v == nil {
		e.Int32(NullLength)
		return e
	}
	e.Int32(int32(len(v)))
	for _, s := range v {
		e.String(s)
	}
	return e
}

// Decoder reads fixed big-endian fields from a fixed buffer, tracking a
// read cursor. All methods are safe to call on an exhausted or
// malformed Decoder; they leave d.err set and further reads are no-ops
// returning zero values.
type Decoder struct {
	buf []byte
	pos int
	err error
}

// NewDecoder returns a Decoder reading from buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Err returns the first decode error encountered, if any.
func (d *Decoder) Err() error { return d.err }

// Remaining reports how many bytes have not yet been consumed.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.buf) {
		d.fail(fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, len(d.buf)-d.pos))
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

// Int32 reads a big-endian int32.
func (d *Decoder) Int32() int32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

// Int64 reads a big-endian int64.
func (d *Decoder) Int64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// Bool reads a single byte as a bool; any nonzero byte is true.
func (d *Decoder) Bool() bool {
	b := d.take(1)
	if b == nil {
		return false
	}
	return b[0] != 0
}

// Bytes reads a length-prefixed byte array. A NullLength prefix yields a
// nil slice. The returned slice is a copy, safe to retain beyond the
// lifetime of the Decoder's backing buffer.
func (d *Decoder) Bytes() []byte {
	n := d.Int32()
	if d.err != nil {
		return nil
	}
	if n == NullLength {
		return nil
	}
	if n < 0 {
		d.fail(fmt.Errorf("%w: %d", ErrNegativeLength, n))
		return nil
	}
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String reads a length-prefixed UTF-8 string, using the same encoding
// as Bytes. A null-length prefix yields "".
func (d *Decoder) String() string {
	b := d.Bytes()
	return string(b)
}

// StringSlice reads a length-prefixed array of strings. A NullLength
// prefix yields nil.
func (d *Decoder) StringSlice() []string {
	n := d.Int32()
	if d.err != nil {
		return nil
	}
	if n == NullLength {
		return nil
	}
	if n < 0 {
		d.fail(fmt.Errorf("%w: %d", ErrNegativeLength, n))
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = d.String()
		if d.err != nil {
			return nil
		}
	}
	return out
}

// maxFrameLength bounds a single frame's declared length to something
// sane, rejecting corrupt/adversarial length prefixes well before they'd
// cause a multi-gigabyte allocation.
const maxFrameLength = 1 << 20

// DecodeFrameLength validates a frame length prefix read off the
// transport, per §4.1: deterministic failure on any negative length (the
// -1 null marker applies to byte arrays, not to frame lengths), and on
// unreasonably large lengths.
func DecodeFrameLength(n int32) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeLength, n)
	}
	if int64(n) > maxFrameLength {
		return 0, fmt.Errorf("wire: frame length %d exceeds maximum %d", n, maxFrameLength)
	}
	return int(n), nil
}
