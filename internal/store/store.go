// Package store is the Message Store: durable append, paged read, point
// lookup, edit-with-history, media attach, soft/hard delete, and membership
// lookup, over the four-table wide-column schema described in the external
// interfaces.
package store

import (
	"context"
	"encoding/base64"

	"github.com/chatcore/chatcore/internal/model"
)

// Store is the full Message Store contract. CassandraStore is the
// production implementation (gocql/ScyllaDB); MemoryStore is an
// in-process fake with identical semantics used by tests and by the
// in-memory fan-out scenarios that don't need a real cluster.
type Store interface {
	Insert(ctx context.Context, msg model.Message) error
	GetByID(ctx context.Context, messageID string) (model.Message, error)
	FetchRecentPaged(ctx context.Context, chatID string, limit int, pagingState []byte) ([]model.Message, []byte, error)
	EditWithHistory(ctx context.Context, messageID, newContent, editor string) error
	AttachMedia(ctx context.Context, messageID string, urls []string, meta map[string]string) error
	SoftDelete(ctx context.Context, messageID, requester string, isAdmin bool) error
	Restore(ctx context.Context, messageID, requester string, isAdmin bool) error
	HardDelete(ctx context.Context, messageID string, isAdmin bool) error
	FetchEdits(ctx context.Context, messageID string, limit int) ([]model.MessageEdit, error)
	GetUserChats(ctx context.Context, userID string) ([]string, error)
	IsUserInChat(ctx context.Context, userID, chatID string) (bool, error)
}

// UserRecord is the auth collaborator's row in the shared store's `users`
// table: keyed by email for login, by id for lookup.
type UserRecord struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
}

// UserStore is the auth service's slice of the shared wide-column store.
type UserStore interface {
	CreateUser(ctx context.Context, u UserRecord) error
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, id string) (UserRecord, error)
}

// ClampRecentLimit enforces the [1, 200] bound on fetch_recent_paged.
func ClampRecentLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 200 {
		return 200
	}
	return limit
}

// ClampEditsLimit enforces the [1, 500] bound on fetch_edits.
func ClampEditsLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// EncodePagingState renders an opaque continuation token for wire transport.
func EncodePagingState(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.URLEncoding.EncodeToString(state)
}

// DecodePagingState parses a token produced by EncodePagingState. An empty
// string decodes to a nil state, meaning "start from the beginning".
func DecodePagingState(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	return base64.URLEncoding.DecodeString(token)
}
