// Package conn implements the per-connection state machine:
// Request/Response/End, buffered frame parsing with pipelining support,
// and idle-activity tracking. Machine itself does no I/O — it consumes
// bytes handed to it and produces bytes to be written, so it is
// unit-testable without a real socket. internal/reactor drives it against
// a net.Conn. The read buffer is bounded at MaxReadBuf; a client that
// never completes a frame within that bound gets ended rather than
// allowed to grow the buffer forever.
package conn

import "github.com/epokhe/keyserv/internal/wire"

// State is one of the three states a connection moves through.
type State int

const (
	StateRequest State = iota
	StateResponse
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateRequest:
		return "Request"
	case StateResponse:
		return "Response"
	case StateEnd:
		return "End"
	default:
		return "unknown"
	}
}

// ReadChunkSize is the size of the buffer the reactor reads into per
// socket read.
const ReadChunkSize = 4096

// MaxReadBuf bounds the read buffer: a client whose buffered bytes exceed
// this without yielding a complete frame (a declared payload length too
// large, or simply never finishing a frame) gets its connection ended
// rather than left to grow the buffer without limit.
const MaxReadBuf = 4096

// Dispatch runs one parsed command and returns its serialized reply body
// (unwrapped — Machine adds the length prefix).
type Dispatch func(args []string) []byte

// Machine is the per-connection state machine. The zero value is not
// usable; construct with New.
type Machine struct {
	state       State
	readBuf     []byte
	writeBuf    []byte
	writeCursor int
	dispatch    Dispatch
}

// New returns a Machine in the Request state, ready to have bytes fed to
// it via Feed.
func New(dispatch Dispatch) *Machine {
	return &Machine{
		state:    StateRequest,
		readBuf:  make([]byte, 0, ReadChunkSize),
		dispatch: dispatch,
	}
}

// State reports the machine's current state.
func (m *Machine) State() State { return m.state }

// Feed appends newly-read bytes to the read buffer. It does not parse;
// call TryAdvance to attempt extracting and dispatching a frame. Feed is
// only meaningful in the Request state. If the buffered bytes grow past
// MaxReadBuf without completing a frame, the connection is ended instead
// of letting the buffer grow without bound.
func (m *Machine) Feed(data []byte) {
	m.readBuf = append(m.readBuf, data...)
	if len(m.readBuf) > MaxReadBuf {
		m.state = StateEnd
	}
}

// TryAdvance attempts to parse and dispatch one complete frame from the
// buffered bytes. It reports whether it made progress:
//
//   - true, with state now Response: a full frame was parsed and
//     dispatched; its reply is queued for writing.
//   - false, with state still Request: the buffer holds no complete
//     frame yet; the caller must read more bytes before trying again.
//   - false, with state now End: the buffered bytes form a malformed
//     frame and the connection must be dropped.
//
// TryAdvance is a no-op outside the Request state.
func (m *Machine) TryAdvance() bool {
	if m.state != StateRequest {
		return false
	}

	args, consumed, err := wire.ParseRequest(m.readBuf)
	if err == wire.ErrIncomplete {
		return false
	}
	if err != nil {
		m.state = StateEnd
		return false
	}

	// Compact: drop the consumed frame, keep any pipelined trailing bytes
	// for the next round through Request.
	remaining := len(m.readBuf) - consumed
	copy(m.readBuf, m.readBuf[consumed:])
	m.readBuf = m.readBuf[:remaining]

	body := m.dispatch(args)
	m.writeBuf = wire.WrapReply(body)
	m.writeCursor = 0
	m.state = StateResponse
	return true
}

// PendingWrite returns the slice of the reply still to be written. It is
// only meaningful in the Response state.
func (m *Machine) PendingWrite() []byte {
	return m.writeBuf[m.writeCursor:]
}

// MarkWritten records that n bytes of the pending reply were flushed to
// the socket. Once the whole reply has drained, the write buffer is
// cleared and the machine returns to Request so TryAdvance can look for
// the next pipelined frame already sitting in the read buffer.
func (m *Machine) MarkWritten(n int) {
	m.writeCursor += n
	if m.writeCursor >= len(m.writeBuf) {
		m.writeBuf = nil
		m.writeCursor = 0
		m.state = StateRequest
	}
}

// End forces the machine into the End state, used on read EOF, write
// error, or any I/O error other than a transient retry.
func (m *Machine) End() {
	m.state = StateEnd
}
