// Package reactor owns the listening socket, accepts connections, and
// drives each one's internal/conn state machine. The one discipline that
// actually matters — all keyspace mutations execute on a single
// goroutine — is realized here with a dispatcher goroutine reached over
// an unbuffered channel, the share-memory-by-communicating rendition of
// "one thread owns the keyspace". Per-connection goroutines do their own
// blocking socket I/O; Go's runtime network poller is the non-blocking
// multiplexer underneath.
package reactor

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/epokhe/keyserv/internal/command"
	connpkg "github.com/epokhe/keyserv/internal/conn"
	"github.com/epokhe/keyserv/internal/store"
	"github.com/epokhe/keyserv/internal/wire"
)

// DefaultIdleTimeout is how long a single read or write on a connection may
// wait without transferring any bytes before the reactor closes it.
const DefaultIdleTimeout = 5 * time.Second

// DefaultSweepInterval bounds how often the dispatcher checks the expiry
// heap for keys past their deadline.
const DefaultSweepInterval = 1 * time.Second

// Option configures a Reactor at construction time.
type Option func(*Reactor)

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Reactor) { r.idleTimeout = d }
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Reactor) { r.sweepInterval = d }
}

// WithLogger overrides the reactor's logger, which defaults to the
// standard library's package-level logger — matching every logging call
// site elsewhere in the service.
func WithLogger(l *log.Logger) Option {
	return func(r *Reactor) { r.logger = l }
}

// request is one parsed command vector in flight to the dispatcher
// goroutine, with a reply channel the owning connection goroutine blocks
// on. Buffering it at 1 lets the dispatcher goroutine send without
// waiting for the connection to be ready to receive, in case of
// cancellation races during shutdown.
type request struct {
	args  []string
	reply chan []byte
}

// Reactor accepts TCP connections and serves them against a single
// Keyspace. The zero value is not usable; construct with New.
type Reactor struct {
	ln            net.Listener
	dispatcher    *command.Dispatcher
	ks            *store.Keyspace
	idleTimeout   time.Duration
	sweepInterval time.Duration
	logger        *log.Logger

	reqCh chan request

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// New returns a Reactor that will accept on ln and serve commands against
// ks.
func New(ln net.Listener, ks *store.Keyspace, opts ...Option) *Reactor {
	r := &Reactor{
		ln:            ln,
		dispatcher:    command.New(ks),
		ks:            ks,
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		logger:        log.Default(),
		reqCh:         make(chan request),
		conns:         make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives the accept loop and the dispatcher goroutine until ctx is
// canceled, at which point it closes the listening socket and every open
// connection and returns. Run blocks until shutdown is complete. A panic
// in one connection's goroutine is recovered and logged, dropping only
// that connection; it never propagates to Run or to other connections.
func (r *Reactor) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.runDispatcher(ctx)
	}()

	go func() {
		<-ctx.Done()
		_ = r.ln.Close()
		r.closeAllConns()
	}()

	for {
		c, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.Printf("reactor: accept error: %v", err)
			continue
		}

		r.trackConn(c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Printf("reactor: recovered from panic serving connection: %v", rec)
				}
			}()
			r.serve(ctx, c)
		}()
	}

	wg.Wait()
	return nil
}

// runDispatcher is the single goroutine that ever touches r.ks. It
// alternates between servicing command requests and sweeping expired
// keys off the heap.
func (r *Reactor) runDispatcher(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.reqCh:
			req.reply <- r.safeDispatch(req.args)
		case <-ticker.C:
			r.ks.SweepExpired(store.NowMicros())
		}
	}
}

// safeDispatch runs one command through the dispatcher, recovering a
// panic so that a single bad command cannot bring down the dispatcher
// goroutine and with it every connection sharing the keyspace. A
// recovered panic is logged and turned into an error reply for the
// connection that triggered it.
func (r *Reactor) safeDispatch(args []string) (body []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("reactor: recovered from panic dispatching %v: %v", args, rec)
			body = wire.AppendError(nil, command.ErrArgument, "internal error")
		}
	}()
	return r.dispatcher.Dispatch(args, nil)
}

// dispatch sends a parsed command to the dispatcher goroutine and blocks
// for its reply, preserving strict in-connection ordering: a connection's
// goroutine never issues its next request until this one's reply arrives.
func (r *Reactor) dispatch(ctx context.Context, args []string) []byte {
	reply := make(chan []byte, 1)
	select {
	case r.reqCh <- request{args: args, reply: reply}:
	case <-ctx.Done():
		return wire.AppendError(nil, command.ErrArgument, "server shutting down")
	}

	select {
	case body := <-reply:
		return body
	case <-ctx.Done():
		return wire.AppendError(nil, command.ErrArgument, "server shutting down")
	}
}

// serve drives one connection's state machine to completion, doing
// blocking reads/writes against c and using SetReadDeadline/
// SetWriteDeadline symmetrically to enforce the per-connection idle
// timeout on both directions.
func (r *Reactor) serve(ctx context.Context, c net.Conn) {
	defer r.untrackConn(c)
	defer c.Close()

	m := connpkg.New(func(args []string) []byte {
		return r.dispatch(ctx, args)
	})

	readBuf := make([]byte, connpkg.ReadChunkSize)

	for m.State() != connpkg.StateEnd {
		switch m.State() {
		case connpkg.StateRequest:
			if m.TryAdvance() {
				continue
			}

			if err := c.SetReadDeadline(time.Now().Add(r.idleTimeout)); err != nil {
				m.End()
				continue
			}
			n, err := c.Read(readBuf)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					var ne net.Error
					if !(errors.As(err, &ne) && ne.Timeout()) {
						r.logger.Printf("reactor: read error: %v", err)
					}
				}
				m.End()
				continue
			}
			m.Feed(readBuf[:n])

		case connpkg.StateResponse:
			if err := c.SetWriteDeadline(time.Now().Add(r.idleTimeout)); err != nil {
				m.End()
				continue
			}
			out := m.PendingWrite()
			n, err := c.Write(out)
			if err != nil {
				r.logger.Printf("reactor: write error: %v", err)
				m.End()
				continue
			}
			m.MarkWritten(n)
		}
	}
}

func (r *Reactor) trackConn(c net.Conn) {
	r.connsMu.Lock()
	r.conns[c] = struct{}{}
	r.connsMu.Unlock()
}

func (r *Reactor) untrackConn(c net.Conn) {
	r.connsMu.Lock()
	delete(r.conns, c)
	r.connsMu.Unlock()
}

func (r *Reactor) closeAllConns() {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	for c := range r.conns {
		_ = c.Close()
	}
}
