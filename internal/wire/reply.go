package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tag identifies the type of a reply frame's body.
type Tag byte

const (
	TagNil     Tag = 0
	TagError   Tag = 1
	TagString  Tag = 2
	TagInteger Tag = 3
	TagDouble  Tag = 4
)

// AppendNil appends an empty-bodied Nil reply to buf.
func AppendNil(buf []byte) []byte {
	return append(buf, byte(TagNil))
}

// AppendError appends an Error reply: a 4-byte little-endian signed code
// followed by a 4-byte length-prefixed message.
func AppendError(buf []byte, code int32, msg string) []byte {
	buf = append(buf, byte(TagError))
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(code))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(msg)))
	buf = append(buf, hdr[:]...)
	return append(buf, msg...)
}

// AppendString appends a String reply: a 4-byte length prefix and the
// payload bytes.
func AppendString(buf []byte, s string) []byte {
	buf = append(buf, byte(TagString))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

// AppendInteger appends an Integer reply as ASCII decimal text terminated
// by "\r\n".
func AppendInteger(buf []byte, v int64) []byte {
	buf = append(buf, byte(TagInteger))
	buf = append(buf, []byte(fmt.Sprintf("%d\r\n", v))...)
	return buf
}

// AppendDouble appends a Double reply as 8 raw bytes of a little-endian
// IEEE-754 double.
func AppendDouble(buf []byte, v float64) []byte {
	buf = append(buf, byte(TagDouble))
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

// WrapReply prefixes a fully-serialized reply body with its 4-byte
// little-endian total length, producing one complete reply frame.
func WrapReply(body []byte) []byte {
	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}
