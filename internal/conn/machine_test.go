package conn

import (
	"bytes"
	"testing"

	"github.com/epokhe/keyserv/internal/wire"
)

// echoDispatch replies with the command name as a String, so tests can
// tell which request produced which response.
func echoDispatch(args []string) []byte {
	return wire.AppendString(nil, args[0])
}

func TestRequestResponseRoundTrip(t *testing.T) {
	m := New(echoDispatch)
	if m.State() != StateRequest {
		t.Fatalf("initial state = %v, want Request", m.State())
	}

	req := wire.EncodeRequest([]string{"PING"})
	m.Feed(req)

	if !m.TryAdvance() {
		t.Fatalf("TryAdvance on a complete frame returned false")
	}
	if m.State() != StateResponse {
		t.Fatalf("state after dispatch = %v, want Response", m.State())
	}

	out := m.PendingWrite()
	reply, consumed, err := wire.ParseReplyFrame(out)
	if err != nil || consumed != len(out) {
		t.Fatalf("reply frame malformed: %v", err)
	}
	if reply.Str != "PING" {
		t.Errorf("reply = %q, want PING", reply.Str)
	}

	m.MarkWritten(len(out))
	if m.State() != StateRequest {
		t.Errorf("state after full drain = %v, want Request", m.State())
	}
}

func TestIncompleteFrameWaitsForMoreBytes(t *testing.T) {
	m := New(echoDispatch)
	req := wire.EncodeRequest([]string{"GET", "foo"})

	m.Feed(req[:len(req)-1])
	if m.TryAdvance() {
		t.Fatalf("TryAdvance succeeded on a truncated frame")
	}
	if m.State() != StateRequest {
		t.Fatalf("state after incomplete frame = %v, want Request", m.State())
	}

	m.Feed(req[len(req)-1:])
	if !m.TryAdvance() {
		t.Fatalf("TryAdvance failed once the frame completed")
	}
}

// TestFrameBoundaryIndependentOfSplit checks that the concatenation of
// two valid frames parses as two requests regardless of where the byte
// stream happens to be split across Feed calls.
func TestFrameBoundaryIndependentOfSplit(t *testing.T) {
	f1 := wire.EncodeRequest([]string{"SET", "a", "1"})
	f2 := wire.EncodeRequest([]string{"SET", "b", "2"})
	both := append(append([]byte{}, f1...), f2...)

	for split := 0; split <= len(both); split++ {
		m := New(echoDispatch)
		m.Feed(both[:split])
		m.Feed(both[split:])

		var replies [][]byte
		for {
			if m.State() == StateRequest {
				if !m.TryAdvance() {
					break
				}
			}
			if m.State() != StateResponse {
				break
			}
			out := append([]byte{}, m.PendingWrite()...)
			replies = append(replies, out)
			m.MarkWritten(len(out))
		}

		if len(replies) != 2 {
			t.Fatalf("split=%d: got %d replies, want 2", split, len(replies))
		}
		if m.State() != StateRequest {
			t.Fatalf("split=%d: final state = %v, want Request", split, m.State())
		}
	}
}

// TestPipelinedRequestsReplyInOrder checks that two requests delivered in
// one read are dispatched and replied to strictly in arrival order.
func TestPipelinedRequestsReplyInOrder(t *testing.T) {
	calls := []string{"FIRST", "SECOND"}
	i := 0
	d := func(args []string) []byte {
		got := args[0]
		if got != calls[i] {
			t.Errorf("dispatch order: call %d got %q, want %q", i, got, calls[i])
		}
		i++
		return wire.AppendString(nil, got)
	}

	m := New(d)
	both := append(wire.EncodeRequest([]string{"FIRST"}), wire.EncodeRequest([]string{"SECOND"})...)
	m.Feed(both)

	if !m.TryAdvance() {
		t.Fatalf("TryAdvance failed on first pipelined frame")
	}
	out1 := append([]byte{}, m.PendingWrite()...)
	m.MarkWritten(len(out1))
	if m.State() != StateRequest {
		t.Fatalf("state after first reply drained = %v, want Request", m.State())
	}

	if !m.TryAdvance() {
		t.Fatalf("TryAdvance failed on second pipelined frame")
	}
	out2 := append([]byte{}, m.PendingWrite()...)
	m.MarkWritten(len(out2))

	r1, _, _ := wire.ParseReplyFrame(out1)
	r2, _, _ := wire.ParseReplyFrame(out2)
	if r1.Str != "FIRST" || r2.Str != "SECOND" {
		t.Errorf("replies = %q, %q, want FIRST, SECOND in order", r1.Str, r2.Str)
	}
}

func TestMalformedFrameEndsConnection(t *testing.T) {
	m := New(echoDispatch)

	// A trailing string-length tuple declaring more bytes than remain in
	// the payload is a fatal frame error.
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 4}) // payload length = 4
	buf.Write([]byte{0, 0, 0, 99})
	m.Feed(buf.Bytes())

	if m.TryAdvance() {
		t.Fatalf("TryAdvance succeeded on a malformed frame")
	}
	if m.State() != StateEnd {
		t.Fatalf("state after malformed frame = %v, want End", m.State())
	}
}

func TestPartialWriteDoesNotAdvanceState(t *testing.T) {
	m := New(echoDispatch)
	m.Feed(wire.EncodeRequest([]string{"PING"}))
	m.TryAdvance()

	full := m.PendingWrite()
	half := len(full) / 2
	m.MarkWritten(half)

	if m.State() != StateResponse {
		t.Fatalf("state after partial write = %v, want Response", m.State())
	}
	if len(m.PendingWrite()) != len(full)-half {
		t.Errorf("PendingWrite after partial write = %d bytes, want %d", len(m.PendingWrite()), len(full)-half)
	}

	m.MarkWritten(len(m.PendingWrite()))
	if m.State() != StateRequest {
		t.Fatalf("state after full drain = %v, want Request", m.State())
	}
}

// TestReadBufferBoundary checks a buffer holding exactly MaxReadBuf-1
// bytes of a pending frame still accepts the one more byte that completes
// the frame at exactly MaxReadBuf.
func TestReadBufferBoundary(t *testing.T) {
	// 8 bytes of frame overhead (4-byte payload length + 4-byte string
	// length) plus a 4088-byte argument lands the frame at exactly 4096
	// bytes.
	arg := string(make([]byte, MaxReadBuf-8))
	req := wire.EncodeRequest([]string{arg})
	if len(req) != MaxReadBuf {
		t.Fatalf("test setup: frame is %d bytes, want exactly %d", len(req), MaxReadBuf)
	}

	m := New(echoDispatch)
	almostFull := MaxReadBuf - 1
	m.Feed(req[:almostFull])
	if m.TryAdvance() {
		t.Fatalf("TryAdvance succeeded before the frame was complete")
	}
	if m.State() != StateRequest {
		t.Fatalf("state at MaxReadBuf-1 bytes = %v, want Request", m.State())
	}

	m.Feed(req[almostFull:])
	if !m.TryAdvance() {
		t.Fatalf("TryAdvance failed to accept the byte completing the frame at exactly %d", MaxReadBuf)
	}
}

// TestReadBufferRejectsOversizedFrame checks that a frame requiring more
// than MaxReadBuf bytes ends the connection instead of growing the buffer
// without bound.
func TestReadBufferRejectsOversizedFrame(t *testing.T) {
	arg := string(make([]byte, MaxReadBuf-8+1))
	req := wire.EncodeRequest([]string{arg})
	if len(req) != MaxReadBuf+1 {
		t.Fatalf("test setup: frame is %d bytes, want exactly %d", len(req), MaxReadBuf+1)
	}

	m := New(echoDispatch)
	m.Feed(req)

	if m.State() != StateEnd {
		t.Fatalf("state after oversized frame = %v, want End", m.State())
	}
	if m.TryAdvance() {
		t.Fatalf("TryAdvance succeeded after the connection was ended")
	}
}
