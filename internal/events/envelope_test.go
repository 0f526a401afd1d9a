package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/chatcore/internal/model"
)

func TestEncodeDecodeEvent_RoundTrips(t *testing.T) {
	editedAt := time.Now().UTC()
	want := model.ChatEvent{
		ChatID:    "chat-1",
		MessageID: uuid.NewString(),
		UserID:    "user-1",
		Content:   "hello",
		MediaURLs: []string{"https://example.com/a.png"},
		MediaMeta: map[string]string{"a.png": "image/png"},
		CreatedAt: time.Now().UTC(),
		EditedAt:  &editedAt,
		EditedBy:  "user-1",
		Version:   1,
	}

	raw, err := EncodeEvent(want)
	require.NoError(t, err)

	got, err := DecodeEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, want.ChatID, got.ChatID)
	assert.Equal(t, want.MessageID, got.MessageID)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.MediaURLs, got.MediaURLs)
	assert.Equal(t, want.MediaMeta, got.MediaMeta)
	assert.WithinDuration(t, want.CreatedAt, got.CreatedAt, time.Millisecond)
	require.NotNil(t, got.EditedAt)
	assert.WithinDuration(t, *want.EditedAt, *got.EditedAt, time.Millisecond)
	assert.Equal(t, want.EditedBy, got.EditedBy)
	assert.Equal(t, want.Version, got.Version)
}

func TestDecodeEvent_RejectsMalformedJSON(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"chat_id": not-json}`))
	require.Error(t, err)
}

func TestEncodeEvent_OmitsEmptyOptionalFields(t *testing.T) {
	raw, err := EncodeEvent(model.ChatEvent{
		ChatID:    "chat-1",
		MessageID: "msg-1",
		UserID:    "user-1",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	s := string(raw)
	assert.NotContains(t, s, `"media_urls"`)
	assert.NotContains(t, s, `"edited_at"`)
	assert.NotContains(t, s, `"is_deleted"`)
}
