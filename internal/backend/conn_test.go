package backend_test

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/theman001/KakaoWebTalk/internal/backend"
	"github.com/theman001/KakaoWebTalk/internal/loco"
)

// newPipeConn creates a connected Conn backed by an in-process pipe and
// returns the far end the test drives directly.
func newPipeConn(t *testing.T) (*backend.Conn, net.Conn) {
	t.Helper()

	client, server := net.Pipe()
	c := backend.New(context.Background(), backend.Options{
		Addr: "backend.test:443",
		Dial: func(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error) {
			return client, nil
		},
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})
	return c, server
}

func mustEncode(t *testing.T, id uint32, method string, body loco.Document) []byte {
	t.Helper()
	data, err := loco.Encode(id, method, body)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}

func recvPacket(t *testing.T, c *backend.Conn) *loco.Packet {
	t.Helper()
	select {
	case pkt, ok := <-c.Packets():
		if !ok {
			t.Fatal("packet channel closed unexpectedly")
		}
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func expectNoPacket(t *testing.T, c *backend.Conn) {
	t.Helper()
	select {
	case pkt, ok := <-c.Packets():
		if ok {
			t.Fatalf("unexpected packet: %s id=%d", pkt.Method, pkt.ID)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// TestPartialReadResilience feeds one encoded packet a single byte at a time
// and expects exactly one packet event, identical to feeding it whole.
func TestPartialReadResilience(t *testing.T) {
	c, server := newPipeConn(t)

	frame := mustEncode(t, 7, loco.MethodMessage, loco.Document{"chatId": int64(5), "seq": int32(9)})
	go func() {
		for i := range frame {
			if _, err := server.Write(frame[i : i+1]); err != nil {
				return
			}
		}
	}()

	pkt := recvPacket(t, c)
	if pkt.ID != 7 || pkt.Method != loco.MethodMessage {
		t.Errorf("got packet %s id=%d, want MSG id=7", pkt.Method, pkt.ID)
	}

	expectNoPacket(t, c)
}

// TestMultiPacketConcatenation writes N packets in a single segment and
// expects N packet events in stream order.
func TestMultiPacketConcatenation(t *testing.T) {
	c, server := newPipeConn(t)

	const n = 10
	var buf []byte
	for i := uint32(1); i <= n; i++ {
		buf = append(buf, mustEncode(t, i, loco.MethodMessage, loco.Document{"seq": int32(i)})...)
	}

	go server.Write(buf)

	for i := uint32(1); i <= n; i++ {
		pkt := recvPacket(t, c)
		if pkt.ID != i {
			t.Fatalf("packet %d arrived with id %d, order violated", i, pkt.ID)
		}
	}
	expectNoPacket(t, c)
}

// TestMonotonicOutboundIDs sends K packets and asserts the observed ids are
// strictly increasing from 1.
func TestMonotonicOutboundIDs(t *testing.T) {
	c, server := newPipeConn(t)

	const k = 25
	ids := make(chan uint32, k)
	go func() {
		var accum []byte
		buf := make([]byte, 4096)
		for {
			n, err := server.Read(buf)
			if n > 0 {
				accum = append(accum, buf[:n]...)
				for {
					pkt, consumed, derr := loco.DecodeOne(accum)
					if derr != nil {
						break
					}
					accum = accum[consumed:]
					ids <- pkt.ID
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for i := 0; i < k; i++ {
		if err := c.Send(loco.MethodPing, nil); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	var prev uint32
	for i := 0; i < k; i++ {
		select {
		case id := <-ids:
			if id <= prev {
				t.Fatalf("outbound id %d after %d, not strictly increasing", id, prev)
			}
			if i == 0 && id != 1 {
				t.Fatalf("first outbound id is %d, want 1", id)
			}
			prev = id
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for outbound packet %d", i)
		}
	}
}

// TestSendRequiresConnection verifies the state guard on Send.
func TestSendRequiresConnection(t *testing.T) {
	c := backend.New(context.Background(), backend.Options{Addr: "backend.test:443"})

	err := c.Send(loco.MethodPing, nil)
	if !errors.Is(err, backend.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// TestMalformedPacketSkipped interleaves an undecodable body between two
// valid packets; the stream must survive and deliver both valid packets.
func TestMalformedPacketSkipped(t *testing.T) {
	c, server := newPipeConn(t)

	bad := make([]byte, loco.HeaderSize+5)
	binary.LittleEndian.PutUint32(bad[0:4], 2)
	copy(bad[6:], "MSG")
	binary.LittleEndian.PutUint32(bad[18:22], 5)
	bad[loco.HeaderSize] = 0xFF

	var buf []byte
	buf = append(buf, mustEncode(t, 1, loco.MethodMessage, loco.Document{"seq": int32(1)})...)
	buf = append(buf, bad...)
	buf = append(buf, mustEncode(t, 3, loco.MethodMessage, loco.Document{"seq": int32(3)})...)

	go server.Write(buf)

	first := recvPacket(t, c)
	second := recvPacket(t, c)
	if first.ID != 1 || second.ID != 3 {
		t.Errorf("got ids %d, %d; want 1, 3", first.ID, second.ID)
	}

	if c.State() == backend.StateClosed {
		t.Error("connection closed by a single malformed body")
	}
}

// TestFramingLostClosesConnection verifies the documented recovery policy:
// an implausible declared body length drops the connection.
func TestFramingLostClosesConnection(t *testing.T) {
	c, server := newPipeConn(t)

	header := make([]byte, loco.HeaderSize)
	copy(header[6:], "MSG")
	binary.LittleEndian.PutUint32(header[18:22], uint32(backend.MaxBodyLength+1))

	go server.Write(header)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close on lost framing")
	}

	if !errors.Is(c.Err(), backend.ErrFramingLost) {
		t.Errorf("Err: got %v, want ErrFramingLost", c.Err())
	}
}

// TestCloseIdempotent verifies Close can be called repeatedly, reports a
// terminal state, and leaves Err nil for a clean shutdown.
func TestCloseIdempotent(t *testing.T) {
	c, _ := newPipeConn(t)

	c.Close()
	c.Close()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done did not fire after Close")
	}

	if c.State() != backend.StateClosed {
		t.Errorf("state after Close: %s", c.State())
	}
	if err := c.Err(); err != nil {
		t.Errorf("clean Close recorded error: %v", err)
	}

	if err := c.Send(loco.MethodPing, nil); !errors.Is(err, backend.ErrInvalidState) {
		t.Errorf("Send after Close: got %v, want ErrInvalidState", err)
	}
}

// TestAdvanceNeverResurrectsClosed pins the state machine edges the relay
// depends on.
func TestAdvanceNeverResurrectsClosed(t *testing.T) {
	c, _ := newPipeConn(t)

	if !c.Advance(backend.StateCheckedIn) {
		t.Fatal("Advance to CheckedIn failed on a connected conn")
	}
	if c.Advance(backend.StateCheckedIn) {
		t.Error("repeat Advance to the same state succeeded")
	}
	if !c.Advance(backend.StateAuthenticated) {
		t.Fatal("Advance to Authenticated failed")
	}

	c.Close()
	if c.Advance(backend.StateAuthenticated) {
		t.Error("Advance succeeded on a closed conn")
	}
	if c.State() != backend.StateClosed {
		t.Errorf("state after Close: %s", c.State())
	}
}
