// Package wire implements the length-prefixed request/reply codec the
// server speaks on the TCP connection: big-endian length-prefixed request
// frames in, little-endian length-prefixed tagged reply frames out.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrIncomplete is returned by ParseRequest when buf does not yet hold a
// full frame. It is not a protocol error: the caller keeps buffering.
var ErrIncomplete = errors.New("wire: incomplete frame")

// headerLen is the size of the 4-byte big-endian payload length prefix.
const headerLen = 4

// ParseRequest extracts one request frame from the front of buf.
//
// On success it returns the parsed argument vector and the number of bytes
// consumed from buf. If buf does not yet contain a complete frame, it
// returns ErrIncomplete and the caller must keep reading before retrying.
// Any other error is fatal to the connection: a malformed trailing tuple
// whose declared length exceeds the remaining payload.
func ParseRequest(buf []byte) (args []string, consumed int, err error) {
	if len(buf) < headerLen {
		return nil, 0, ErrIncomplete
	}

	payloadLen := binary.BigEndian.Uint32(buf[:headerLen])
	total := headerLen + int(payloadLen)
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}

	payload := buf[headerLen:total]
	for len(payload) > 0 {
		if len(payload) < headerLen {
			return nil, 0, fmt.Errorf("wire: truncated string-length tuple in frame")
		}
		strLen := binary.BigEndian.Uint32(payload[:headerLen])
		payload = payload[headerLen:]

		if uint64(strLen) > uint64(len(payload)) {
			return nil, 0, fmt.Errorf("wire: string length %d exceeds remaining payload of %d bytes", strLen, len(payload))
		}

		args = append(args, string(payload[:strLen]))
		payload = payload[strLen:]
	}

	return args, total, nil
}

// EncodeRequest serializes args the same way ParseRequest expects to read
// them back; it exists for clients and for tests.
func EncodeRequest(args []string) []byte {
	payloadLen := 0
	for _, a := range args {
		payloadLen += headerLen + len(a)
	}

	buf := make([]byte, headerLen, headerLen+payloadLen)
	binary.BigEndian.PutUint32(buf[:headerLen], uint32(payloadLen))

	for _, a := range args {
		var lenBuf [headerLen]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(a)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, a...)
	}

	return buf
}
