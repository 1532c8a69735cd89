// Package loco defines the packet format and codec for the LOCO chat protocol.
package loco

import "go.mongodb.org/mongo-driver/bson"

// Backend method names observed on the wire.
const (
	MethodCheckin = "CHECKIN"   // register the client before authentication
	MethodLogin   = "LOGINLIST" // authenticate with token + device id
	MethodWrite   = "WRITE"     // send a chat message
	MethodMessage = "MSG"       // inbound message delivery
	MethodBuyCS   = "BUYCS"     // request a chat server address
	MethodPing    = "PING"      // keepalive
)

// Wire layout constants. The header is exactly 22 bytes, little-endian:
// id(4) status(2) method(11, NUL-padded ASCII) bodyType(1) bodyLength(4).
const (
	HeaderSize   = 22
	MaxMethodLen = 11
)

// BodyTypeBSON is the only body encoding in use (discriminator byte 0).
const BodyTypeBSON uint8 = 0

// Document is the body of a packet: a schemaless mapping of field names to
// typed values. Schemas vary per method and are not fixed.
type Document = bson.M

// Packet represents a single LOCO protocol message.
type Packet struct {
	ID       uint32   // sender-assigned, strictly increasing per direction
	Status   uint16   // result code, 0 on requests
	Method   string   // trimmed command name (≤ MaxMethodLen bytes on the wire)
	BodyType uint8    // BodyTypeBSON
	Body     Document // deserialized body document
}
