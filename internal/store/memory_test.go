package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/chatcore/internal/apperr"
	"github.com/chatcore/chatcore/internal/model"
)

func seedMessage(t *testing.T, s *MemoryStore, chatID, userID, content string) model.Message {
	t.Helper()
	msg := model.Message{
		ChatID:    chatID,
		MessageID: uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		UserID:    userID,
		Content:   content,
	}
	require.NoError(t, s.Insert(context.Background(), msg))
	return msg
}

func TestEditWithHistory_AppendsRevisionAndBumpsVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msg := seedMessage(t, s, "chat-1", "user-1", "a")

	require.NoError(t, s.EditWithHistory(ctx, msg.MessageID, "b", "user-1"))
	require.NoError(t, s.EditWithHistory(ctx, msg.MessageID, "c", "user-1"))

	got, err := s.GetByID(ctx, msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "c", got.Content)
	assert.EqualValues(t, 2, got.Version)

	edits, err := s.FetchEdits(ctx, msg.MessageID, 10)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, "a", edits[0].OldContent)
	assert.Equal(t, "b", edits[0].NewContent)
	assert.Equal(t, "b", edits[1].OldContent)
	assert.Equal(t, "c", edits[1].NewContent)
}

// P2: for a message with version n>0, exactly n edit rows exist and the
// latest by edited_at matches current content.
func TestHistoryStateAgreement(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msg := seedMessage(t, s, "chat-1", "user-1", "v0")

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.EditWithHistory(ctx, msg.MessageID, string(rune('a'+i)), "user-1"))
	}

	got, err := s.GetByID(ctx, msg.MessageID)
	require.NoError(t, err)

	edits, err := s.FetchEdits(ctx, msg.MessageID, 500)
	require.NoError(t, err)
	require.Len(t, edits, int(got.Version))
	assert.Equal(t, got.Content, edits[len(edits)-1].NewContent)
}

// P3: editing with identical content is a no-op.
func TestNoOpEdit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msg := seedMessage(t, s, "chat-1", "user-1", "x")

	require.NoError(t, s.EditWithHistory(ctx, msg.MessageID, "x", "user-1"))

	got, err := s.GetByID(ctx, msg.MessageID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Version)

	edits, err := s.FetchEdits(ctx, msg.MessageID, 10)
	require.NoError(t, err)
	assert.Empty(t, edits)
}

// P4: two consecutive soft-deletes leave state equal to one soft-delete.
func TestSoftDeleteIdempotence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msg := seedMessage(t, s, "chat-1", "user-1", "x")

	require.NoError(t, s.SoftDelete(ctx, msg.MessageID, "user-1", false))
	first, err := s.GetByID(ctx, msg.MessageID)
	require.NoError(t, err)

	require.NoError(t, s.SoftDelete(ctx, msg.MessageID, "user-1", false))
	second, err := s.GetByID(ctx, msg.MessageID)
	require.NoError(t, err)

	assert.Equal(t, first.IsDeleted, second.IsDeleted)
	assert.Equal(t, first.DeletedAt, second.DeletedAt)
}

func TestSoftDelete_PermissionDenied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msg := seedMessage(t, s, "chat-1", "user-1", "x")

	err := s.SoftDelete(ctx, msg.MessageID, "user-2", false)
	require.Error(t, err)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	got, _ := s.GetByID(ctx, msg.MessageID)
	assert.False(t, got.IsDeleted)
}

func TestHardDelete_RemovesMessageAndHistory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msg := seedMessage(t, s, "chat-1", "user-1", "x")
	require.NoError(t, s.EditWithHistory(ctx, msg.MessageID, "y", "user-1"))

	require.NoError(t, s.HardDelete(ctx, msg.MessageID, true))

	_, err := s.GetByID(ctx, msg.MessageID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	edits, err := s.FetchEdits(ctx, msg.MessageID, 10)
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestHardDelete_RequiresAdmin(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msg := seedMessage(t, s, "chat-1", "user-1", "x")

	err := s.HardDelete(ctx, msg.MessageID, false)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))
}

// P7: paging through fetch_recent_paged with a fixed limit covers every
// non-deleted message exactly once.
func TestFetchRecentPaged_CoversAllMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const total = 75
	want := make(map[string]bool, total)
	for i := 0; i < total; i++ {
		m := seedMessage(t, s, "chat-1", "user-1", "msg")
		want[m.MessageID] = true
	}

	seen := make(map[string]bool, total)
	var pageState []byte
	pages := 0
	for {
		page, next, err := s.FetchRecentPaged(ctx, "chat-1", 20, pageState)
		require.NoError(t, err)
		pages++
		for _, m := range page {
			assert.False(t, seen[m.MessageID], "message seen twice")
			seen[m.MessageID] = true
		}
		if next == nil {
			break
		}
		pageState = next
	}

	assert.Equal(t, want, seen)
	assert.Equal(t, 4, pages) // 20+20+20+15
}

// P7 open-question decision: fetch_recent_paged does not filter
// is_deleted itself, so a soft-deleted message still surfaces in the
// paging walk exactly once, with IsDeleted set — callers are responsible
// for filtering it out of what they show a user.
func TestFetchRecentPaged_IncludesSoftDeletedMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	kept := seedMessage(t, s, "chat-1", "user-1", "still here")
	deleted := seedMessage(t, s, "chat-1", "user-1", "going away")
	require.NoError(t, s.SoftDelete(ctx, deleted.MessageID, "user-1", false))

	var all []model.Message
	var pageState []byte
	for {
		page, next, err := s.FetchRecentPaged(ctx, "chat-1", 20, pageState)
		require.NoError(t, err)
		all = append(all, page...)
		if next == nil {
			break
		}
		pageState = next
	}

	require.Len(t, all, 2)
	byID := make(map[string]model.Message, len(all))
	for _, m := range all {
		byID[m.MessageID] = m
	}
	assert.False(t, byID[kept.MessageID].IsDeleted)
	assert.True(t, byID[deleted.MessageID].IsDeleted)
}

func TestFetchRecentPaged_ClampsLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		seedMessage(t, s, "chat-1", "user-1", "msg")
	}

	page, _, err := s.FetchRecentPaged(ctx, "chat-1", 10000, nil)
	require.NoError(t, err)
	assert.Len(t, page, 10)
}

func TestMembership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.AddMembership("user-1", "chat-1")
	s.AddMembership("user-1", "chat-2")

	in, err := s.IsUserInChat(ctx, "user-1", "chat-1")
	require.NoError(t, err)
	assert.True(t, in)

	in, err = s.IsUserInChat(ctx, "user-1", "chat-3")
	require.NoError(t, err)
	assert.False(t, in)

	chats, err := s.GetUserChats(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chat-1", "chat-2"}, chats)
}

func TestAttachMedia_IsAdditive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msg := seedMessage(t, s, "chat-1", "user-1", "x")

	require.NoError(t, s.AttachMedia(ctx, msg.MessageID, []string{"a.png"}, map[string]string{"w": "100"}))
	require.NoError(t, s.AttachMedia(ctx, msg.MessageID, []string{"b.png"}, map[string]string{"h": "200"}))

	got, err := s.GetByID(ctx, msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, got.MediaURLs)
	assert.Equal(t, map[string]string{"w": "100", "h": "200"}, got.MediaMeta)
}

func TestCreateUser_DuplicateEmailConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, UserRecord{Email: "a@example.com", PasswordHash: "h"}))

	err := s.CreateUser(ctx, UserRecord{Email: "a@example.com", PasswordHash: "h2"})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}
