package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore is the relational backend. Timestamps are stored as unix
// nanoseconds so ORDER BY follows creation order.
type SQLiteStore struct {
	conn  *sql.DB
	log   *slog.Logger
	limit int
	now   func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database file at path and applies the schema.
func OpenSQLite(path string, log *slog.Logger, historyLimit int) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{
		conn:  conn,
		log:   log.With("component", "sqlite_store"),
		limit: historyLimit,
		now:   time.Now,
	}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			full_name TEXT NOT NULL,
			password TEXT NOT NULL,
			profile_pic TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			image TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, receiver, created_at)`,
	}
	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Persist(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg = stamp(msg, s.now())
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO messages (id, sender, receiver, text, image, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, string(msg.SenderID), string(msg.ReceiverID), msg.Text, msg.Image, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// FetchHistory reads the latest messages newest first, then flips them.
func (s *SQLiteStore) FetchHistory(ctx context.Context, a, b chat.Identity) ([]chat.Message, error) {
	query := `
		SELECT id, sender, receiver, text, image, created_at
		FROM messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY created_at DESC, id DESC`
	args := []any{string(a), string(b), string(b), string(a)}
	if s.limit > 0 {
		query += " LIMIT ?"
		args = append(args, s.limit)
	}
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (chat.Message, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, sender, receiver, text, image, created_at FROM messages WHERE id = ?", id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, chat.ErrNotFound
	}
	return m, err
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return chat.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (chat.Message, error) {
	var (
		m                chat.Message
		sender, receiver string
		createdAt        int64
	)
	if err := row.Scan(&m.ID, &sender, &receiver, &m.Text, &m.Image, &createdAt); err != nil {
		return chat.Message{}, err
	}
	m.SenderID = chat.Identity(sender)
	m.ReceiverID = chat.Identity(receiver)
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return m, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u UserRecord) (chat.User, error) {
	u = newUser(u, s.now())
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO users (id, email, full_name, password, profile_pic, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		string(u.ID), strings.ToLower(u.Email), u.FullName, u.PasswordHash, u.ProfilePic, u.CreatedAt.UnixNano(),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return chat.User{}, chat.ErrUserExists
	}
	if err != nil {
		return chat.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u.Public(), nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, email, full_name, password, profile_pic, created_at FROM users WHERE email = ?",
		strings.ToLower(email))
	return scanUser(row)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id chat.Identity) (chat.User, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, email, full_name, password, profile_pic, created_at FROM users WHERE id = ?", string(id))
	u, err := scanUser(row)
	if err != nil {
		return chat.User{}, err
	}
	return u.Public(), nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context, except chat.Identity) ([]chat.User, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, email, full_name, password, profile_pic, created_at FROM users ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return publicUsers(records, except), nil
}

func scanUser(row scanner) (UserRecord, error) {
	var (
		u         UserRecord
		id        string
		createdAt int64
	)
	err := row.Scan(&id, &u.Email, &u.FullName, &u.PasswordHash, &u.ProfilePic, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, chat.ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	u.ID = chat.Identity(id)
	u.CreatedAt = time.Unix(0, createdAt).UTC()
	return u, nil
}
