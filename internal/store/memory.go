package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatcore/chatcore/internal/apperr"
	"github.com/chatcore/chatcore/internal/model"
)

// MemoryStore is an in-process fake of the wide-column schema with the
// same operation semantics as CassandraStore. It backs the unit tests of
// the store, REST, session and auth packages; cmd/chatd and cmd/authd
// always use CassandraStore.
type MemoryStore struct {
	mu sync.RWMutex

	messages map[string]model.Message   // message_id -> row (source of truth)
	order    map[string][]string        // chat_id -> message_ids in insertion order
	edits    map[string][]model.MessageEdit
	memberships map[string]map[string]bool // user_id -> set of chat_id

	users        map[string]UserRecord
	usersByEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:     make(map[string]model.Message),
		order:        make(map[string][]string),
		edits:        make(map[string][]model.MessageEdit),
		memberships:  make(map[string]map[string]bool),
		users:        make(map[string]UserRecord),
		usersByEmail: make(map[string]string),
	}
}

// AddMembership seeds user_chats for tests and for the Session Handler's
// fixture data; the spec does not give the chat core a chat-creation
// operation so membership is assumed pre-populated by the collaborator.
func (s *MemoryStore) AddMembership(userID, chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.memberships[userID]
	if !ok {
		set = make(map[string]bool)
		s.memberships[userID] = set
	}
	set[chatID] = true
}

func (s *MemoryStore) Insert(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.MessageID]; !exists {
		s.order[msg.ChatID] = append(s.order[msg.ChatID], msg.MessageID)
	}
	s.messages[msg.MessageID] = msg
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, messageID string) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return model.Message{}, apperr.NotFoundf("message %s not found", messageID)
	}
	return msg, nil
}

func (s *MemoryStore) FetchRecentPaged(_ context.Context, chatID string, limit int, pagingState []byte) ([]model.Message, []byte, error) {
	limit = ClampRecentLimit(limit)

	s.mu.RLock()
	ids := s.order[chatID]
	rows := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			rows = append(rows, msg)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].MessageID < rows[j].MessageID
	})

	offset := 0
	if len(pagingState) > 0 {
		n, err := strconv.Atoi(string(pagingState))
		if err != nil {
			return nil, nil, apperr.BadRequestf("invalid paging state")
		}
		offset = n
	}
	if offset > len(rows) {
		offset = len(rows)
	}

	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	page := rows[offset:end]

	var next []byte
	if end < len(rows) {
		next = []byte(strconv.Itoa(end))
	}
	return page, next, nil
}

func (s *MemoryStore) EditWithHistory(_ context.Context, messageID, newContent, editor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return apperr.NotFoundf("message %s not found", messageID)
	}

	if newContent == msg.Content {
		return nil // no-op edit: no history row, no version bump
	}

	now := time.Now().UTC()
	s.edits[messageID] = append(s.edits[messageID], model.MessageEdit{
		MessageID:  messageID,
		EditID:     uuid.NewString(),
		EditedAt:   now,
		Editor:     editor,
		OldContent: msg.Content,
		NewContent: newContent,
	})

	msg.Content = newContent
	msg.EditedAt = &now
	msg.EditedBy = editor
	msg.Version++
	s.messages[messageID] = msg
	return nil
}

func (s *MemoryStore) AttachMedia(_ context.Context, messageID string, urls []string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return apperr.NotFoundf("message %s not found", messageID)
	}

	msg.MediaURLs = append(msg.MediaURLs, urls...)
	if len(meta) > 0 {
		if msg.MediaMeta == nil {
			msg.MediaMeta = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			msg.MediaMeta[k] = v
		}
	}
	s.messages[messageID] = msg
	return nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, messageID, requester string, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return apperr.NotFoundf("message %s not found", messageID)
	}
	if requester != msg.UserID && !isAdmin {
		return apperr.Forbiddenf("requester may not delete another user's message")
	}
	if msg.IsDeleted {
		return nil // idempotent
	}
	now := time.Now().UTC()
	msg.IsDeleted = true
	msg.DeletedAt = &now
	s.messages[messageID] = msg
	return nil
}

func (s *MemoryStore) Restore(_ context.Context, messageID, requester string, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return apperr.NotFoundf("message %s not found", messageID)
	}
	if requester != msg.UserID && !isAdmin {
		return apperr.Forbiddenf("requester may not restore another user's message")
	}
	if !msg.IsDeleted {
		return nil // idempotent
	}
	msg.IsDeleted = false
	msg.DeletedAt = nil
	s.messages[messageID] = msg
	return nil
}

func (s *MemoryStore) HardDelete(_ context.Context, messageID string, isAdmin bool) error {
	if !isAdmin {
		return apperr.Forbiddenf("hard delete requires admin")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return apperr.NotFoundf("message %s not found", messageID)
	}
	delete(s.messages, messageID)
	delete(s.edits, messageID)
	return nil
}

func (s *MemoryStore) FetchEdits(_ context.Context, messageID string, limit int) ([]model.MessageEdit, error) {
	limit = ClampEditsLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.edits[messageID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]model.MessageEdit, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *MemoryStore) GetUserChats(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.memberships[userID]
	chats := make([]string, 0, len(set))
	for chatID := range set {
		chats = append(chats, chatID)
	}
	sort.Strings(chats)
	return chats, nil
}

func (s *MemoryStore) IsUserInChat(_ context.Context, userID, chatID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memberships[userID][chatID], nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[u.Email]; exists {
		return apperr.Conflictf("email %s already registered", u.Email)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = u
	s.usersByEmail[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return UserRecord{}, apperr.NotFoundf("no user with email %s", email)
	}
	return s.users[id], nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return UserRecord{}, apperr.NotFoundf("no user with id %s", id)
	}
	return u, nil
}

var _ Store = (*MemoryStore)(nil)
var _ UserStore = (*MemoryStore)(nil)
