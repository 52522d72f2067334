// Package badger implements store.Store on top of an embedded BadgerDB.
//
// Key layout:
//
//	room:{name}                  -> roomRecord (JSON)
//	token:{room}\x00{token}      -> valid_till unix nanos, stored with a matching entry TTL
//	msg:{room}\x00{seq:020d}     -> messageRecord (JSON)
//
// The message sequence is a single monotonically increasing counter, so a reverse
// prefix scan yields room history most recent first.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomrelay/internal/store"
)

const (
	roomPrefix   = "room:"
	tokenPrefix  = "token:"
	msgPrefix    = "msg:"
	seqKey       = "seq:messages"
	seqBandwidth = 128
	keySep       = "\x00"
)

// BadgerStore implements store.Store for BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	now func() time.Time
}

var _ store.Store = (*BadgerStore)(nil)

type roomRecord struct {
	PasswordHash string   `json:"password_hash,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	Description  string   `json:"description,omitempty"`
	CreatedAt    int64    `json:"created_at"`
}

type messageRecord struct {
	User      string `json:"user"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// New opens (or creates) a BadgerDB in dir.
func New(dir string) (*BadgerStore, error) {
	return open(badger.DefaultOptions(dir).WithLogger(nil))
}

// NewInMemory opens a BadgerDB that lives only in memory. Used by tests.
func NewInMemory() (*BadgerStore, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("message sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, now: time.Now}, nil
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	releaseErr := s.seq.Release()
	if err := s.db.Close(); err != nil {
		return err
	}
	return releaseErr
}

// ==== MessageStore implementation ====

// InsertMessage persists a chat message.
func (s *BadgerStore) InsertMessage(ctx context.Context, room, user, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next message id: %w", err)
	}

	value, err := json.Marshal(messageRecord{User: user, Text: text, CreatedAt: s.now().UnixNano()})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := fmt.Sprintf("%s%s%s%020d", msgPrefix, room, keySep, n)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	}); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns one page of room history, most recent first.
func (s *BadgerStore) ListMessages(ctx context.Context, room string, page, pageSize int) ([]*store.Message, error) {
	if page < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("invalid page %d/%d", page, pageSize)
	}

	prefix := []byte(msgPrefix + room + keySep)
	skip := page * pageSize
	messages := make([]*store.Message, 0, pageSize)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the highest possible sequence for this room.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(messages) < pageSize; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if skip > 0 {
				skip--
				continue
			}

			var rec messageRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			messages = append(messages, &store.Message{
				Room:      room,
				User:      rec.User,
				Text:      rec.Text,
				CreatedAt: time.Unix(0, rec.CreatedAt),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// ==== TokenStore implementation ====

// InsertToken stores a token bound to a room. Badger expires the entry on its own.
func (s *BadgerStore) InsertToken(ctx context.Context, token *store.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ttl := token.ValidTill.Sub(s.now())
	if ttl <= 0 {
		// Already expired; keep it around briefly so lookups still see it as invalid.
		ttl = time.Second
	}

	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(token.ValidTill.UnixNano()))

	entry := badger.NewEntry(tokenKey(token.Value, token.Room), value).WithTTL(ttl)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// IsTokenValid reports whether the token exists for the room and has not expired.
func (s *BadgerStore) IsTokenValid(ctx context.Context, token, room string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var validTill int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey(token, room))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt token record of %d bytes", len(val))
			}
			validTill = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query token: %w", err)
	}
	return validTill >= s.now().UnixNano(), nil
}

// DeleteToken removes the token. Deleting a missing token is not an error.
func (s *BadgerStore) DeleteToken(ctx context.Context, token, room string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(tokenKey(token, room))
	}); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func tokenKey(token, room string) []byte {
	return []byte(tokenPrefix + room + keySep + token)
}

// ==== RoomStore implementation ====

// CreateRoom inserts a new room, returning store.ErrRoomExists on name collision.
func (s *BadgerStore) CreateRoom(ctx context.Context, room *store.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}

	value, err := json.Marshal(roomRecord{
		PasswordHash: room.PasswordHash,
		Keywords:     store.NormalizeKeywords(room.Keywords),
		Description:  room.Description,
		CreatedAt:    room.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}

	key := []byte(roomPrefix + room.Name)
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return store.ErrRoomExists
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key, value)
	})
	switch {
	case errors.Is(err, store.ErrRoomExists), errors.Is(err, badger.ErrConflict):
		return store.ErrRoomExists
	case err != nil:
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// GetRoomByName retrieves a room by name.
func (s *BadgerStore) GetRoomByName(ctx context.Context, name string) (*store.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var room *store.Room
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(roomPrefix + name))
		if err != nil {
			return err
		}
		room, err = decodeRoom(name, item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query room: %w", err)
	}
	return room, nil
}

// FindRooms lists rooms tagged with any of the keywords, or all rooms if none given.
func (s *BadgerStore) FindRooms(ctx context.Context, keywords []string) ([]*store.Room, error) {
	keywords = store.NormalizeKeywords(keywords)
	prefix := []byte(roomPrefix)

	var rooms []*store.Room
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			room, err := decodeRoom(string(item.Key()[len(prefix):]), item)
			if err != nil {
				return err
			}
			if len(keywords) == 0 || lo.Some(room.Keywords, keywords) {
				rooms = append(rooms, room)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find rooms: %w", err)
	}
	return rooms, nil
}

func decodeRoom(name string, item *badger.Item) (*store.Room, error) {
	var rec roomRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode room %q: %w", name, err)
	}
	return &store.Room{
		Name:         name,
		PasswordHash: rec.PasswordHash,
		Keywords:     rec.Keywords,
		Description:  rec.Description,
		CreatedAt:    time.Unix(0, rec.CreatedAt),
	}, nil
}
