package loco

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Codec sentinel errors.
var (
	// ErrNeedMoreData is returned by DecodeOne when the buffer does not yet
	// hold a complete packet. The caller should read more bytes and retry.
	ErrNeedMoreData = errors.New("loco: incomplete packet")

	// ErrMethodTooLong is returned by Encode when the method name exceeds
	// MaxMethodLen bytes. This is a caller bug, not a runtime condition.
	ErrMethodTooLong = errors.New("loco: method name exceeds 11 bytes")
)

// MalformedError reports a packet whose header was plausible but whose body
// could not be deserialized. Consumed tells the caller how many bytes the
// broken packet occupied so the stream position can still advance.
type MalformedError struct {
	Method   string
	Consumed int
	cause    error
}

func (e *MalformedError) Error() string {
	return "loco: malformed packet (method=" + e.Method + "): " + e.cause.Error()
}

func (e *MalformedError) Unwrap() error { return e.cause }

// Encode serializes a packet into its wire form: 22-byte header followed by
// the BSON body. Fails only on an oversized method name or a body that BSON
// cannot marshal; both indicate caller bugs.
func Encode(id uint32, method string, body Document) ([]byte, error) {
	if len(method) > MaxMethodLen {
		return nil, errors.Wrap(ErrMethodTooLong, method)
	}

	if body == nil {
		body = Document{}
	}
	raw, err := bson.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "loco: marshal %s body", method)
	}

	buf := make([]byte, HeaderSize+len(raw))
	binary.LittleEndian.PutUint32(buf[0:4], id)
	binary.LittleEndian.PutUint16(buf[4:6], 0)
	copy(buf[6:6+MaxMethodLen], method) // remainder stays NUL
	buf[17] = BodyTypeBSON
	binary.LittleEndian.PutUint32(buf[18:22], uint32(len(raw)))
	copy(buf[HeaderSize:], raw)
	return buf, nil
}

// DecodeOne attempts to extract one packet from the front of buf.
//
// It returns the packet and the number of bytes consumed. ErrNeedMoreData
// means buf does not yet hold a full header + body. A *MalformedError means
// the header was read but the body failed to deserialize; its Consumed field
// still lets the caller advance past the broken packet.
func DecodeOne(buf []byte) (*Packet, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrNeedMoreData
	}

	bodyLen := int(binary.LittleEndian.Uint32(buf[18:22]))
	total := HeaderSize + bodyLen
	if len(buf) < total {
		return nil, 0, ErrNeedMoreData
	}

	pkt := &Packet{
		ID:       binary.LittleEndian.Uint32(buf[0:4]),
		Status:   binary.LittleEndian.Uint16(buf[4:6]),
		Method:   strings.TrimRight(string(buf[6:6+MaxMethodLen]), "\x00"),
		BodyType: buf[17],
	}

	var body Document
	if err := bson.Unmarshal(buf[HeaderSize:total], &body); err != nil {
		return nil, total, &MalformedError{Method: pkt.Method, Consumed: total, cause: err}
	}
	pkt.Body = body

	return pkt, total, nil
}

// PeekBodyLength reads the declared body length from a buffer holding at
// least a full header. Used by the connection to sanity-check framing before
// committing to a large read.
func PeekBodyLength(buf []byte) (int, bool) {
	if len(buf) < HeaderSize {
		return 0, false
	}
	return int(binary.LittleEndian.Uint32(buf[18:22])), true
}
