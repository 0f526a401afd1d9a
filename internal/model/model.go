// Package model holds the entities shared across the store, the event bus,
// the fan-out manager, and the REST/WebSocket surfaces.
package model

import "time"

// User is owned by the auth collaborator; the chat core only ever persists
// and compares the id.
type User struct {
	ID          string
	Email       string
	DisplayName string
	AvatarRef   string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chat is a conversation scope. The chat core never creates chats; it only
// reads membership against an id handed to it by callers.
type Chat struct {
	ID string
}

// Membership is a (user, chat) relation row in user_chats.
type Membership struct {
	UserID string
	ChatID string
}

// Message is the core entity. chat_id/created_at/message_id together form
// the primary-table key; message_id alone keys the point-lookup table.
type Message struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`

	UserID    string            `json:"user_id"`
	Content   string            `json:"content,omitempty"`
	MediaURLs []string          `json:"media_urls,omitempty"`
	MediaMeta map[string]string `json:"media_meta,omitempty"`

	IsDeleted bool       `json:"is_deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	EditedAt *time.Time `json:"edited_at,omitempty"`
	EditedBy string     `json:"edited_by,omitempty"`

	// Version increases by exactly 1 per accepted edit that changes
	// content; it starts at 0 and a no-op edit never bumps it.
	Version int64 `json:"version,omitempty"`
}

// MessageEdit is one row per historical revision, appended before the
// Message rows are updated for that edit.
type MessageEdit struct {
	MessageID  string            `json:"message_id"`
	EditID     string            `json:"edit_id"`
	EditedAt   time.Time         `json:"edited_at"`
	Editor     string            `json:"editor"`
	OldContent string            `json:"old_content"`
	NewContent string            `json:"new_content"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// ChatEvent is the canonical bus payload: a Message snapshot at the instant
// of publication. JSON tags match the wire contract in the external
// interfaces section verbatim, including omitempty on the optional fields.
type ChatEvent struct {
	ChatID    string            `json:"chat_id"`
	MessageID string            `json:"message_id"`
	UserID    string            `json:"user_id"`
	Content   string            `json:"content,omitempty"`
	MediaURLs []string          `json:"media_urls,omitempty"`
	MediaMeta map[string]string `json:"media_meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	EditedAt  *time.Time        `json:"edited_at,omitempty"`
	EditedBy  string            `json:"edited_by,omitempty"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
	IsDeleted bool              `json:"is_deleted,omitempty"`
	Version   int64             `json:"version,omitempty"`
}

// EventFromMessage builds the bus/wire snapshot for a Message.
func EventFromMessage(m Message) ChatEvent {
	return ChatEvent{
		ChatID:    m.ChatID,
		MessageID: m.MessageID,
		UserID:    m.UserID,
		Content:   m.Content,
		MediaURLs: m.MediaURLs,
		MediaMeta: m.MediaMeta,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
		EditedBy:  m.EditedBy,
		DeletedAt: m.DeletedAt,
		IsDeleted: m.IsDeleted,
		Version:   m.Version,
	}
}

// MessageFromEvent converts a consumed ChatEvent back into the Message
// snapshot the consumer hands to the store.
func MessageFromEvent(e ChatEvent) Message {
	return Message{
		ChatID:    e.ChatID,
		MessageID: e.MessageID,
		UserID:    e.UserID,
		Content:   e.Content,
		MediaURLs: e.MediaURLs,
		MediaMeta: e.MediaMeta,
		CreatedAt: e.CreatedAt,
		EditedAt:  e.EditedAt,
		EditedBy:  e.EditedBy,
		DeletedAt: e.DeletedAt,
		IsDeleted: e.IsDeleted,
		Version:   e.Version,
	}
}
