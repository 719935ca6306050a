package reactor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/epokhe/keyserv/internal/store"
	"github.com/epokhe/keyserv/internal/wire"
)

func startReactor(t *testing.T, opts ...Option) (addr string, stop func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	r := New(ln, store.New(), opts...)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ln.Addr().String(), cancel
}

func sendCommand(t *testing.T, c net.Conn, args ...string) wire.Reply {
	t.Helper()
	if _, err := c.Write(wire.EncodeRequest(args)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	hdr := make([]byte, 4)
	if _, err := readFull(c, hdr); err != nil {
		t.Fatalf("read reply header: %v", err)
	}
	bodyLen := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16 | int(hdr[3])<<24
	body := make([]byte, bodyLen)
	if _, err := readFull(c, body); err != nil {
		t.Fatalf("read reply body: %v", err)
	}

	frame := append(hdr, body...)
	reply, _, err := wire.ParseReplyFrame(frame)
	if err != nil {
		t.Fatalf("ParseReplyFrame: %v", err)
	}
	return reply
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestEndToEndSetGetDel(t *testing.T) {
	addr, _ := startReactor(t)

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if r := sendCommand(t, c, "SET", "foo", "bar"); r.Str != "OK" {
		t.Errorf("SET reply = %+v, want OK", r)
	}
	if r := sendCommand(t, c, "GET", "foo"); r.Str != "bar" {
		t.Errorf("GET reply = %+v, want bar", r)
	}
	if r := sendCommand(t, c, "DEL", "foo"); r.Int != 1 {
		t.Errorf("DEL reply = %+v, want 1", r)
	}
}

// TestTwoConnectionsShareKeyspace checks that a value set on one
// connection is visible from another once the first request has
// completed.
func TestTwoConnectionsShareKeyspace(t *testing.T) {
	addr, _ := startReactor(t)

	a, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial a: %v", err)
	}
	defer a.Close()
	b, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial b: %v", err)
	}
	defer b.Close()

	if r := sendCommand(t, a, "SET", "x", "1"); r.Str != "OK" {
		t.Fatalf("SET on connection a = %+v, want OK", r)
	}
	if r := sendCommand(t, b, "GET", "x"); r.Str != "1" {
		t.Errorf("GET on connection b after a's SET completed = %+v, want 1", r)
	}
}

func TestPipelinedRequestsOverOneWrite(t *testing.T) {
	addr, _ := startReactor(t)

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	both := append(wire.EncodeRequest([]string{"SET", "a", "1"}), wire.EncodeRequest([]string{"SET", "b", "2"})...)
	if _, err := c.Write(both); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for i, key := range []string{"a", "b"} {
		hdr := make([]byte, 4)
		if _, err := readFull(c, hdr); err != nil {
			t.Fatalf("reply %d header: %v", i, err)
		}
		bodyLen := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16 | int(hdr[3])<<24
		body := make([]byte, bodyLen)
		if _, err := readFull(c, body); err != nil {
			t.Fatalf("reply %d body: %v", i, err)
		}
		reply, _, err := wire.ParseReplyFrame(append(hdr, body...))
		if err != nil || reply.Str != "OK" {
			t.Errorf("reply %d for key %q = %+v, err %v, want OK", i, key, reply, err)
		}
	}
}

func TestIdleConnectionIsClosed(t *testing.T) {
	addr, _ := startReactor(t, WithIdleTimeout(50*time.Millisecond))

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = c.Read(buf)
	if err == nil {
		t.Fatalf("expected the idle connection to be closed, got no error")
	}
}
