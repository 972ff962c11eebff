package idhash

import (
	"bytes"
	"encoding/binary"
)

// Encoder builds canonical byte strings for hashing and signing.
// Integers are big-endian fixed width; strings carry a uint32 length prefix.
type Encoder struct {
	buf bytes.Buffer
}

// Raw appends fixed-size bytes without a prefix.
func (e *Encoder) Raw(b []byte) {
	e.buf.Write(b)
}

// Str appends a length-prefixed string.
func (e *Encoder) Str(s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	e.buf.Write(n[:])
	e.buf.WriteString(s)
}

// U64 appends an unsigned integer.
func (e *Encoder) U64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// I64 appends a signed integer as its two's complement bits.
func (e *Encoder) I64(v int64) {
	e.U64(uint64(v))
}

// Flag appends a boolean as one byte.
func (e *Encoder) Flag(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// Bytes returns the encoded buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}
