//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package storage persists users and messages. Two backends share the same
// contract: BadgerDB (default, embedded key/value) and SQLite.
package storage

import (
	"context"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MessageStore persists, fetches and removes messages.
type MessageStore interface {
	// Persist assigns an id and a creation timestamp and stores the message.
	Persist(ctx context.Context, msg chat.Message) (chat.Message, error)
	// FetchHistory returns the conversation between a and b, oldest first.
	FetchHistory(ctx context.Context, a, b chat.Identity) ([]chat.Message, error)
	Get(ctx context.Context, id string) (chat.Message, error)
	// Remove deletes a message, or returns chat.ErrNotFound.
	Remove(ctx context.Context, id string) error
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u UserRecord) (chat.User, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUser(ctx context.Context, id chat.Identity) (chat.User, error)
	ListUsers(ctx context.Context, except chat.Identity) ([]chat.User, error)
}

// Store is the full storage collaborator.
type Store interface {
	MessageStore
	UserStore
	Close() error
}

// UserRecord is the stored form of an account, password hash included.
type UserRecord struct {
	ID           chat.Identity `json:"id"`
	Email        string        `json:"email"`
	FullName     string        `json:"fullName"`
	PasswordHash string        `json:"passwordHash"`
	ProfilePic   string        `json:"profilePic"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Public strips the password hash.
func (u UserRecord) Public() chat.User {
	return chat.User{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		ProfilePic: u.ProfilePic,
		CreatedAt:  u.CreatedAt,
	}
}

// stamp fills the storage-owned fields of a message.
func stamp(msg chat.Message, now time.Time) chat.Message {
	msg.ID = uuid.NewString()
	msg.CreatedAt = now.UTC()
	return msg
}

func newUser(u UserRecord, now time.Time) UserRecord {
	if u.ID == "" {
		u.ID = chat.Identity(uuid.NewString())
	}
	u.CreatedAt = now.UTC()
	return u
}

// publicUsers drops the caller and the password hashes.
func publicUsers(records []UserRecord, except chat.Identity) []chat.User {
	return lo.FilterMap(records, func(u UserRecord, _ int) (chat.User, bool) {
		return u.Public(), u.ID != except
	})
}
