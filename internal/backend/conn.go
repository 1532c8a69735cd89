// Package backend owns the persistent TLS connection to the LOCO messaging
// backend: dialing, stream reassembly over arbitrary-sized reads, monotonic
// outbound packet IDs, and an ordered inbound packet stream.
package backend

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/theman001/KakaoWebTalk/internal/loco"
	"github.com/theman001/KakaoWebTalk/internal/util"
)

// Tuning constants.
const (
	readBufferSize  = 16 * 1024        // per-read chunk size
	inboxBufferSize = 64               // inbound packet channel capacity
	dialTimeout     = 10 * time.Second // TLS dial bound

	// MaxBodyLength caps the declared body length the deframer will accept.
	// A larger value means framing has been lost — LOCO has no resync
	// marker, so the only safe recovery is dropping the connection.
	MaxBodyLength = 16 * 1024 * 1024
)

// Connection errors.
var (
	ErrClosed       = errors.New("backend: connection closed")
	ErrInvalidState = errors.New("backend: operation not allowed in this state")
	ErrFramingLost  = errors.New("backend: declared body length exceeds limit, framing lost")
)

// DialFunc opens the transport socket. The default dials TLS with the
// configured trust policy; tests substitute an in-process pipe.
type DialFunc func(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error)

// Options configures a Conn.
type Options struct {
	Addr string // backend host:port

	// TLSConfig sets the certificate trust policy. The production backend
	// presents a non-standard chain, so callers may need to supply a config
	// with InsecureSkipVerify or a custom RootCAs pool. Never hardcoded here.
	TLSConfig *tls.Config

	// Dial overrides the transport dialer (mainly for tests).
	Dial DialFunc
}

// Conn is one TLS session to the messaging backend. It is exclusively owned
// by a single gateway session and destroyed when that session ends.
type Conn struct {
	opts Options

	state atomic.Int32
	seq   atomic.Uint32 // outbound packet counter; first Next is 1

	sock    net.Conn
	writeMu sync.Mutex

	packets chan *loco.Packet

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	errMu   sync.Mutex
	lastErr error
}

// New creates a disconnected Conn. Call Connect before Send.
func New(parentCtx context.Context, opts Options) *Conn {
	if opts.Dial == nil {
		opts.Dial = dialTLS
	}
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Conn{
		opts:    opts,
		packets: make(chan *loco.Packet, inboxBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// Connect opens the transport socket and starts the read loop.
// On success the state is Connected; on failure the Conn is Closed.
func (c *Conn) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return errors.Wrapf(ErrInvalidState, "connect in state %s", c.State())
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	sock, err := c.opts.Dial(dialCtx, c.opts.Addr, c.opts.TLSConfig)
	if err != nil {
		c.closeWith(errors.Wrapf(err, "backend: dial %s", c.opts.Addr))
		return errors.Wrapf(err, "backend: dial %s", c.opts.Addr)
	}

	c.sock = sock
	c.state.Store(int32(StateConnected))
	util.LogDebug("backend connected to %s", c.opts.Addr)

	go c.readLoop()
	go func() {
		// Parent context cancellation tears the socket down, which in turn
		// unblocks the read loop.
		<-c.ctx.Done()
		sock.Close()
	}()

	return nil
}

// Send assigns the next outbound packet ID, encodes the packet, and writes
// it to the socket. Allowed in Connected or later states. A write failure
// closes the connection; retry policy belongs to the caller.
func (c *Conn) Send(method string, body loco.Document) error {
	s := c.State()
	if s < StateConnected || s == StateClosed {
		return errors.Wrapf(ErrInvalidState, "send %s in state %s", method, s)
	}

	data, err := loco.Encode(c.seq.Add(1), method, body)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	_, err = c.sock.Write(data)
	c.writeMu.Unlock()

	if err != nil {
		wrapped := errors.Wrapf(err, "backend: write %s", method)
		c.closeWith(wrapped)
		return wrapped
	}

	util.Stats.AddSent(len(data))
	return nil
}

// Packets returns the ordered inbound packet stream. The channel is closed
// when the connection shuts down; packets are delivered in decode order.
func (c *Conn) Packets() <-chan *loco.Packet {
	return c.packets
}

// Done returns a channel closed exactly once when the connection reaches
// Closed, whether by error or explicit Close.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err reports the error that closed the connection, nil for a clean Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Close terminates the socket and releases the read loop. Idempotent.
func (c *Conn) Close() {
	c.closeWith(nil)
}

// closeWith records the cause (first one wins) and performs the one-time
// shutdown: state → Closed, socket closed, context cancelled.
func (c *Conn) closeWith(cause error) {
	c.closeOnce.Do(func() {
		if cause != nil {
			c.errMu.Lock()
			c.lastErr = cause
			c.errMu.Unlock()
		}
		c.state.Store(int32(StateClosed))
		c.cancel()
		if c.sock != nil {
			c.sock.Close()
		}
	})
}

// readLoop performs blocking socket reads, feeds the deframer, and delivers
// complete packets to the inbox channel in decode order. It exits when the
// socket errors or the connection is closed, and always closes the packet
// channel on the way out.
func (c *Conn) readLoop() {
	defer close(c.packets)

	var accum []byte // bytes received but not yet forming a complete packet
	buf := make([]byte, readBufferSize)

	for {
		n, err := c.sock.Read(buf)
		if n > 0 {
			util.Stats.AddRecv(n)
			accum = append(accum, buf[:n]...)

			if !c.drain(&accum) {
				return
			}
		}
		if err != nil {
			select {
			case <-c.ctx.Done():
				// Shutdown already in progress.
			default:
				c.closeWith(errors.Wrap(err, "backend: read"))
			}
			return
		}
	}
}

// drain extracts every complete packet currently in the accumulator.
// Returns false when framing is unrecoverable and the connection was closed.
func (c *Conn) drain(accum *[]byte) bool {
	for {
		if bodyLen, ok := loco.PeekBodyLength(*accum); ok && bodyLen > MaxBodyLength {
			// No in-band resync marker exists, so a corrupted length field
			// poisons everything after it. Drop the accumulator and close.
			*accum = nil
			c.closeWith(ErrFramingLost)
			return false
		}

		pkt, consumed, err := loco.DecodeOne(*accum)
		if err != nil {
			if errors.Is(err, loco.ErrNeedMoreData) {
				return true
			}
			var malformed *loco.MalformedError
			if errors.As(err, &malformed) {
				// One undecodable body; the header framing is intact, so
				// skip this packet and keep the stream position.
				util.LogWarning("dropping malformed packet: %v", err)
				*accum = (*accum)[malformed.Consumed:]
				continue
			}
			c.closeWith(err)
			return false
		}

		*accum = (*accum)[consumed:]

		select {
		case c.packets <- pkt:
		case <-c.ctx.Done():
			return false
		}
	}
}

// dialTLS is the default DialFunc.
func dialTLS(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error) {
	d := &tls.Dialer{Config: cfg}
	return d.DialContext(ctx, "tcp", addr)
}
