package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps messages under "msg:{conversation}:{timestamp}:{id}" so a
// prefix scan returns a conversation in chronological order. A secondary
// "msgid:{id}" key points at the primary key for lookups by id.
type BadgerStore struct {
	db    *badger.DB
	log   *slog.Logger
	limit int
	now   func() time.Time
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) a BadgerDB at path.
func OpenBadger(path string, log *slog.Logger, historyLimit int) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("database opening failed: %w", err)
	}
	return NewBadgerStore(db, log, historyLimit), nil
}

func NewBadgerStore(db *badger.DB, log *slog.Logger, historyLimit int) *BadgerStore {
	return &BadgerStore{
		db:    db,
		log:   log.With("component", "badger_store"),
		limit: historyLimit,
		now:   time.Now,
	}
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// conversationKey is the same for (a, b) and (b, a).
func conversationKey(a, b chat.Identity) string {
	if b < a {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}

func messageKey(m chat.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s",
		conversationKey(m.SenderID, m.ReceiverID),
		m.CreatedAt.UnixNano(),
		m.ID,
	))
}

func messageIDKey(id string) []byte {
	return []byte("msgid:" + id)
}

func (s *BadgerStore) Persist(_ context.Context, msg chat.Message) (chat.Message, error) {
	msg = stamp(msg, s.now())
	value, err := json.Marshal(msg)
	if err != nil {
		return chat.Message{}, err
	}
	key := messageKey(msg)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(messageIDKey(msg.ID), key)
	})
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// FetchHistory scans the conversation newest first so the history limit keeps
// the latest messages, then returns them oldest first.
func (s *BadgerStore) FetchHistory(_ context.Context, a, b chat.Identity) ([]chat.Message, error) {
	prefix := []byte("msg:" + conversationKey(a, b) + ":")
	var messages []chat.Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the largest possible timestamp for this prefix.
		for it.Seek(append(slices.Clone(prefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if s.limit > 0 && len(messages) == s.limit {
				s.log.Debug("History limit reached", "limit", s.limit)
				break
			}
			var m chat.Message
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (chat.Message, error) {
	var m chat.Message
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := s.primaryKey(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &m)
		})
	})
	if err != nil {
		return chat.Message{}, translate(err)
	}
	return m, nil
}

func (s *BadgerStore) Remove(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key, err := s.primaryKey(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(messageIDKey(id))
	})
	return translate(err)
}

func (s *BadgerStore) primaryKey(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(messageIDKey(id))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func userKey(id chat.Identity) []byte { return []byte("user:" + string(id)) }

func emailKey(email string) []byte { return []byte("email:" + strings.ToLower(email)) }

func (s *BadgerStore) CreateUser(_ context.Context, u UserRecord) (chat.User, error) {
	u = newUser(u, s.now())
	value, err := json.Marshal(u)
	if err != nil {
		return chat.User{}, fmt.Errorf("marshal failed: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(emailKey(u.Email)); err == nil {
			return chat.ErrUserExists
		}
		if err := txn.Set(emailKey(u.Email), []byte(u.ID)); err != nil {
			return err
		}
		return txn.Set(userKey(u.ID), value)
	})
	if err != nil {
		return chat.User{}, err
	}
	return u.Public(), nil
}

func (s *BadgerStore) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	var u UserRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(emailKey(email))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		u, err = s.readUser(txn, chat.Identity(id))
		return err
	})
	return u, translate(err)
}

func (s *BadgerStore) GetUser(_ context.Context, id chat.Identity) (chat.User, error) {
	var u UserRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		u, err = s.readUser(txn, id)
		return err
	})
	if err != nil {
		return chat.User{}, translate(err)
	}
	return u.Public(), nil
}

func (s *BadgerStore) ListUsers(_ context.Context, except chat.Identity) ([]chat.User, error) {
	var records []UserRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("user:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var u UserRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &u)
			}); err != nil {
				return err
			}
			records = append(records, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return publicUsers(records, except), nil
}

func (s *BadgerStore) readUser(txn *badger.Txn, id chat.Identity) (UserRecord, error) {
	var u UserRecord
	item, err := txn.Get(userKey(id))
	if err != nil {
		return u, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &u)
	})
	return u, err
}

func translate(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.ErrNotFound
	}
	return err
}
