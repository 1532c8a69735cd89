package gateway

import (
	"strconv"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/theman001/KakaoWebTalk/internal/loco"
	"github.com/theman001/KakaoWebTalk/internal/util"
)

// dispatch is the per-connection loop consuming the ordered inbound packet
// stream. Message deliveries are logged to the store and forwarded as
// messageReceived; every other method is forwarded opaquely so the browser
// layer can handle protocol variants without per-method knowledge here.
// When the stream ends it unbinds the session and, if the connection died
// rather than being torn down deliberately, tells the browser.
func (g *Gateway) dispatch(s *session) {
	for pkt := range s.conn.Packets() {
		g.opts.Metrics.PacketIn()

		switch pkt.Method {
		case loco.MethodMessage:
			g.relayMessage(s, pkt)
		default:
			s.emitter.Emit(backendEvent(pkt.Method, pkt.Body))
		}
	}

	if g.remove(s.clientID, s) && s.conn.Err() != nil {
		util.LogWarning("backend connection lost for session %s: %v", s.sessionID, s.conn.Err())
		s.emitter.Emit(chatError("backend connection lost"))
	}
}

// relayMessage translates an inbound MSG packet into a browser event and a
// best-effort append to the chat log. A store failure never blocks relay.
func (g *Gateway) relayMessage(s *session, pkt *loco.Packet) {
	chatID := asInt64(pkt.Body["chatId"])
	sender := asString(pkt.Body["authorNickname"])
	if sender == "" {
		sender = asString(pkt.Body["senderId"])
	}

	var text string
	if chatLog := asDocument(pkt.Body["chatLog"]); chatLog != nil {
		text = asString(chatLog["msg"])
	}

	if err := g.opts.Store.AppendMessage(chatID, asString(pkt.Body["senderId"]), text); err != nil {
		util.LogWarning("chat log append failed: %v", err)
		g.opts.Metrics.StoreError()
	}

	g.opts.Metrics.MessageRelayed()
	s.emitter.Emit(messageReceived(chatID, sender, text))
}

// BSON deserialization yields int32/int64/float64 for numbers and bson.D for
// nested documents decoded through interface{}; these helpers normalize the
// variants.

func asDocument(v interface{}) loco.Document {
	switch d := v.(type) {
	case loco.Document:
		return d
	case bson.D:
		m := make(loco.Document, len(d))
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m
	default:
		return nil
	}
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	case int32:
		return strconv.FormatInt(int64(s), 10)
	default:
		return ""
	}
}
