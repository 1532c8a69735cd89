// Package store persists browser sessions and the chat message log.
package store

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/theman001/KakaoWebTalk/internal/gateway"
)

var (
	bucketSessions = []byte("sessions")
	bucketChatLog  = []byte("chatlog")
)

// Bolt is the durable session store backed by a single bbolt file.
// Sessions live in one bucket keyed by session token; the chat log is an
// append-only nested bucket per chat.
type Bolt struct {
	db *bolt.DB
}

var _ gateway.Store = (*Bolt)(nil)

// sessionDoc is the on-disk shape of a session record.
type sessionDoc struct {
	UserID    int64  `bson:"userId"`
	AuthToken string `bson:"authToken"`
	DeviceID  string `bson:"deviceUuid"`
	Revision  int64  `bson:"revision"`
}

// messageDoc is the on-disk shape of one chat log entry.
type messageDoc struct {
	SenderID string `bson:"senderId"`
	Text     string `bson:"text"`
	LoggedAt int64  `bson:"loggedAt"` // unix millis
}

// Open opens (or creates) the store file and its buckets.
func Open(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSessions); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketChatLog)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: init buckets")
	}

	return &Bolt{db: db}, nil
}

// Close releases the underlying database file.
func (s *Bolt) Close() error {
	return s.db.Close()
}

// SaveSession persists sessionID → record, overwriting any previous value.
func (s *Bolt) SaveSession(sessionID string, rec gateway.SessionRecord) error {
	raw, err := bson.Marshal(sessionDoc{
		UserID:    rec.UserID,
		AuthToken: rec.AuthToken,
		DeviceID:  rec.DeviceID,
		Revision:  rec.Revision,
	})
	if err != nil {
		return errors.Wrap(err, "store: marshal session")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(sessionID), raw)
	})
	return errors.Wrap(err, "store: save session")
}

// RestoreSession looks up a session record. Unknown sessions return (nil, nil).
func (s *Bolt) RestoreSession(sessionID string) (*gateway.SessionRecord, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSessions).Get([]byte(sessionID)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: restore session")
	}
	if raw == nil {
		return nil, nil
	}

	var doc sessionDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "store: unmarshal session")
	}
	return &gateway.SessionRecord{
		UserID:    doc.UserID,
		AuthToken: doc.AuthToken,
		DeviceID:  doc.DeviceID,
		Revision:  doc.Revision,
	}, nil
}

// AppendMessage appends one entry to the chat's log under a monotonically
// increasing sequence key.
func (s *Bolt) AppendMessage(chatID int64, senderID, text string) error {
	raw, err := bson.Marshal(messageDoc{
		SenderID: senderID,
		Text:     text,
		LoggedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return errors.Wrap(err, "store: marshal message")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		chat, err := tx.Bucket(bucketChatLog).CreateBucketIfNotExists(chatKey(chatID))
		if err != nil {
			return err
		}
		seq, err := chat.NextSequence()
		if err != nil {
			return err
		}
		return chat.Put(seqKey(seq), raw)
	})
	return errors.Wrap(err, "store: append message")
}

// MessageCount reports how many entries the chat's log holds.
func (s *Bolt) MessageCount(chatID int64) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		chat := tx.Bucket(bucketChatLog).Bucket(chatKey(chatID))
		if chat == nil {
			return nil
		}
		n = chat.Stats().KeyN
		return nil
	})
	return n, errors.Wrap(err, "store: count messages")
}

func chatKey(chatID int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(chatID))
	return k[:]
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}
