package store

import (
	"context"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/chatcore/chatcore/internal/apperr"
	"github.com/chatcore/chatcore/internal/metrics"
	"github.com/chatcore/chatcore/internal/model"
)

func observeLatency(operation string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Schema is the keyspace DDL for the four logical tables named in the
// external interfaces: messages (partitioned by chat_id, recent-first
// clustering), messages_by_id (point lookup / cross-partition mutation),
// message_edits (revision history), user_chats (membership), plus the
// users table the auth collaborator owns in the same keyspace.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
    chat_id     uuid,
    created_at  timestamp,
    message_id  uuid,
    user_id     uuid,
    content     text,
    media_urls  list<text>,
    media_meta  map<text, text>,
    is_deleted  boolean,
    deleted_at  timestamp,
    edited_at   timestamp,
    edited_by   uuid,
    version     bigint,
    PRIMARY KEY (chat_id, created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at DESC, message_id ASC);

CREATE TABLE IF NOT EXISTS messages_by_id (
    message_id  uuid PRIMARY KEY,
    chat_id     uuid,
    created_at  timestamp,
    user_id     uuid,
    content     text,
    media_urls  list<text>,
    media_meta  map<text, text>,
    is_deleted  boolean,
    deleted_at  timestamp,
    edited_at   timestamp,
    edited_by   uuid,
    version     bigint
);

CREATE TABLE IF NOT EXISTS message_edits (
    message_id   uuid,
    edit_id      uuid,
    edited_at    timestamp,
    editor       uuid,
    old_content  text,
    new_content  text,
    meta         map<text, text>,
    PRIMARY KEY (message_id, edit_id)
) WITH CLUSTERING ORDER BY (edit_id ASC);

CREATE TABLE IF NOT EXISTS user_chats (
    user_id  uuid,
    chat_id  uuid,
    PRIMARY KEY (user_id, chat_id)
);

CREATE TABLE IF NOT EXISTS users (
    id            uuid PRIMARY KEY,
    email         text,
    display_name  text,
    password_hash text
);

CREATE TABLE IF NOT EXISTS users_by_email (
    email  text PRIMARY KEY,
    id     uuid
);
`

// CassandraStore is the production Message Store, backed by a ScyllaDB or
// Cassandra cluster via gocql. It preserves the dual-table write discipline
// the schema comment in the design notes calls for: every mutation updates
// `messages` and `messages_by_id` in the same order, and a failure between
// the two leaves the next successful mutation to reconcile the pair.
type CassandraStore struct {
	session *gocql.Session
}

// NewCassandraStore dials hosts (comma-separated) and binds to keyspace.
func NewCassandraStore(hosts []string, keyspace string) (*CassandraStore, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 10 * time.Second
	cluster.ReconnectionPolicy = &gocql.ConstantReconnectionPolicy{MaxRetries: 5, Interval: time.Second}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, apperr.Transientf(err, "connect to store cluster")
	}
	return &CassandraStore{session: session}, nil
}

func (c *CassandraStore) Close() { c.session.Close() }

func mustUUID(s string) gocql.UUID {
	id, err := gocql.ParseUUID(s)
	if err != nil {
		// ids are always generated by this codebase via google/uuid, so a
		// parse failure here means a caller violated the id contract.
		return gocql.UUID{}
	}
	return id
}

func (c *CassandraStore) Insert(ctx context.Context, msg model.Message) error {
	defer observeLatency("insert", time.Now())

	chatID := mustUUID(msg.ChatID)
	messageID := mustUUID(msg.MessageID)
	userID := mustUUID(msg.UserID)

	batch := c.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`INSERT INTO messages (chat_id, created_at, message_id, user_id, content, media_urls, media_meta,
			is_deleted, deleted_at, edited_at, edited_by, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chatID, msg.CreatedAt, messageID, userID, msg.Content, msg.MediaURLs, msg.MediaMeta,
		msg.IsDeleted, msg.DeletedAt, msg.EditedAt, optionalUUID(msg.EditedBy), msg.Version,
	)
	batch.Query(
		`INSERT INTO messages_by_id (message_id, chat_id, created_at, user_id, content, media_urls, media_meta,
			is_deleted, deleted_at, edited_at, edited_by, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		messageID, chatID, msg.CreatedAt, userID, msg.Content, msg.MediaURLs, msg.MediaMeta,
		msg.IsDeleted, msg.DeletedAt, msg.EditedAt, optionalUUID(msg.EditedBy), msg.Version,
	)

	if err := c.session.ExecuteBatch(batch); err != nil {
		return apperr.Transientf(err, "insert message %s", msg.MessageID)
	}
	return nil
}

func optionalUUID(s string) *gocql.UUID {
	if s == "" {
		return nil
	}
	id := mustUUID(s)
	return &id
}

func (c *CassandraStore) GetByID(ctx context.Context, messageID string) (model.Message, error) {
	defer observeLatency("get_by_id", time.Now())
	var row cassandraMessageRow
	err := c.session.Query(
		`SELECT chat_id, message_id, created_at, user_id, content, media_urls, media_meta,
			is_deleted, deleted_at, edited_at, edited_by, version FROM messages_by_id WHERE message_id = ?`,
		mustUUID(messageID),
	).WithContext(ctx).Scan(
		&row.chatID, &row.messageID, &row.createdAt, &row.userID, &row.content, &row.mediaURLs, &row.mediaMeta,
		&row.isDeleted, &row.deletedAt, &row.editedAt, &row.editedBy, &row.version,
	)
	if err == gocql.ErrNotFound {
		return model.Message{}, apperr.NotFoundf("message %s not found", messageID)
	}
	if err != nil {
		return model.Message{}, apperr.Transientf(err, "get message %s", messageID)
	}
	return row.toModel(), nil
}

func (c *CassandraStore) FetchRecentPaged(ctx context.Context, chatID string, limit int, pagingState []byte) ([]model.Message, []byte, error) {
	defer observeLatency("fetch_recent_paged", time.Now())
	limit = ClampRecentLimit(limit)

	q := c.session.Query(
		`SELECT chat_id, message_id, created_at, user_id, content, media_urls, media_meta,
			is_deleted, deleted_at, edited_at, edited_by, version FROM messages WHERE chat_id = ?`,
		mustUUID(chatID),
	).WithContext(ctx).PageSize(limit).PageState(pagingState)

	iter := q.Iter()
	rows := make([]model.Message, 0, limit)
	var row cassandraMessageRow
	for iter.Scan(
		&row.chatID, &row.messageID, &row.createdAt, &row.userID, &row.content, &row.mediaURLs, &row.mediaMeta,
		&row.isDeleted, &row.deletedAt, &row.editedAt, &row.editedBy, &row.version,
	) {
		rows = append(rows, row.toModel())
	}
	next := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, apperr.Transientf(err, "fetch recent messages for chat %s", chatID)
	}
	if len(next) == 0 {
		next = nil
	}
	return rows, next, nil
}

func (c *CassandraStore) EditWithHistory(ctx context.Context, messageID, newContent, editor string) error {
	defer observeLatency("edit_with_history", time.Now())
	current, err := c.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if newContent == current.Content {
		return nil
	}

	now := time.Now().UTC()
	if err := c.session.Query(
		`INSERT INTO message_edits (message_id, edit_id, edited_at, editor, old_content, new_content) VALUES (?, ?, ?, ?, ?, ?)`,
		mustUUID(messageID), gocql.UUIDFromTime(now), now, mustUUID(editor), current.Content, newContent,
	).WithContext(ctx).Exec(); err != nil {
		return apperr.Transientf(err, "append edit history for message %s", messageID)
	}

	batch := c.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`UPDATE messages SET content = ?, edited_at = ?, edited_by = ?, version = ? WHERE chat_id = ? AND created_at = ? AND message_id = ?`,
		newContent, now, mustUUID(editor), current.Version+1, mustUUID(current.ChatID), current.CreatedAt, mustUUID(messageID),
	)
	batch.Query(
		`UPDATE messages_by_id SET content = ?, edited_at = ?, edited_by = ?, version = ? WHERE message_id = ?`,
		newContent, now, mustUUID(editor), current.Version+1, mustUUID(messageID),
	)
	if err := c.session.ExecuteBatch(batch); err != nil {
		// The history row is already durable; the next successful edit
		// reconciles the state per the dual-table-write design note.
		return apperr.Transientf(err, "apply edit for message %s", messageID)
	}
	return nil
}

func (c *CassandraStore) AttachMedia(ctx context.Context, messageID string, urls []string, meta map[string]string) error {
	defer observeLatency("attach_media", time.Now())
	current, err := c.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	mergedURLs := append(append([]string{}, current.MediaURLs...), urls...)
	mergedMeta := make(map[string]string, len(current.MediaMeta)+len(meta))
	for k, v := range current.MediaMeta {
		mergedMeta[k] = v
	}
	for k, v := range meta {
		mergedMeta[k] = v
	}

	batch := c.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`UPDATE messages SET media_urls = ?, media_meta = ? WHERE chat_id = ? AND created_at = ? AND message_id = ?`,
		mergedURLs, mergedMeta, mustUUID(current.ChatID), current.CreatedAt, mustUUID(messageID),
	)
	batch.Query(
		`UPDATE messages_by_id SET media_urls = ?, media_meta = ? WHERE message_id = ?`,
		mergedURLs, mergedMeta, mustUUID(messageID),
	)
	if err := c.session.ExecuteBatch(batch); err != nil {
		return apperr.Transientf(err, "attach media to message %s", messageID)
	}
	return nil
}

func (c *CassandraStore) setDeleted(ctx context.Context, messageID, requester string, isAdmin, deleted bool) error {
	defer observeLatency("set_deleted", time.Now())
	current, err := c.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if requester != current.UserID && !isAdmin {
		return apperr.Forbiddenf("requester may not modify another user's message")
	}
	if current.IsDeleted == deleted {
		return nil // idempotent
	}

	var deletedAt *time.Time
	if deleted {
		now := time.Now().UTC()
		deletedAt = &now
	}

	batch := c.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`UPDATE messages SET is_deleted = ?, deleted_at = ? WHERE chat_id = ? AND created_at = ? AND message_id = ?`,
		deleted, deletedAt, mustUUID(current.ChatID), current.CreatedAt, mustUUID(messageID),
	)
	batch.Query(
		`UPDATE messages_by_id SET is_deleted = ?, deleted_at = ? WHERE message_id = ?`,
		deleted, deletedAt, mustUUID(messageID),
	)
	if err := c.session.ExecuteBatch(batch); err != nil {
		return apperr.Transientf(err, "set deleted=%v for message %s", deleted, messageID)
	}
	return nil
}

func (c *CassandraStore) SoftDelete(ctx context.Context, messageID, requester string, isAdmin bool) error {
	return c.setDeleted(ctx, messageID, requester, isAdmin, true)
}

func (c *CassandraStore) Restore(ctx context.Context, messageID, requester string, isAdmin bool) error {
	return c.setDeleted(ctx, messageID, requester, isAdmin, false)
}

func (c *CassandraStore) HardDelete(ctx context.Context, messageID string, isAdmin bool) error {
	defer observeLatency("hard_delete", time.Now())
	if !isAdmin {
		return apperr.Forbiddenf("hard delete requires admin")
	}
	current, err := c.GetByID(ctx, messageID)
	if err != nil {
		return err
	}

	batch := c.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM messages WHERE chat_id = ? AND created_at = ? AND message_id = ?`,
		mustUUID(current.ChatID), current.CreatedAt, mustUUID(messageID))
	batch.Query(`DELETE FROM messages_by_id WHERE message_id = ?`, mustUUID(messageID))
	if err := c.session.ExecuteBatch(batch); err != nil {
		return apperr.Transientf(err, "hard delete message %s", messageID)
	}

	if err := c.session.Query(`DELETE FROM message_edits WHERE message_id = ?`, mustUUID(messageID)).
		WithContext(ctx).Exec(); err != nil {
		return apperr.Transientf(err, "hard delete edit history for message %s", messageID)
	}
	return nil
}

func (c *CassandraStore) FetchEdits(ctx context.Context, messageID string, limit int) ([]model.MessageEdit, error) {
	defer observeLatency("fetch_edits", time.Now())
	limit = ClampEditsLimit(limit)

	iter := c.session.Query(
		`SELECT edit_id, edited_at, editor, old_content, new_content FROM message_edits WHERE message_id = ? LIMIT ?`,
		mustUUID(messageID), limit,
	).WithContext(ctx).Iter()

	var (
		editID, oldContent, newContent string
		editedAt                       time.Time
		editor                         gocql.UUID
		out                            []model.MessageEdit
	)
	var rawEditID gocql.UUID
	for iter.Scan(&rawEditID, &editedAt, &editor, &oldContent, &newContent) {
		editID = rawEditID.String()
		out = append(out, model.MessageEdit{
			MessageID:  messageID,
			EditID:     editID,
			EditedAt:   editedAt,
			Editor:     editor.String(),
			OldContent: oldContent,
			NewContent: newContent,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, apperr.Transientf(err, "fetch edits for message %s", messageID)
	}
	return out, nil
}

func (c *CassandraStore) GetUserChats(ctx context.Context, userID string) ([]string, error) {
	defer observeLatency("get_user_chats", time.Now())
	iter := c.session.Query(`SELECT chat_id FROM user_chats WHERE user_id = ?`, mustUUID(userID)).
		WithContext(ctx).Iter()

	var chatID gocql.UUID
	var out []string
	for iter.Scan(&chatID) {
		out = append(out, chatID.String())
	}
	if err := iter.Close(); err != nil {
		return nil, apperr.Transientf(err, "fetch chats for user %s", userID)
	}
	return out, nil
}

func (c *CassandraStore) IsUserInChat(ctx context.Context, userID, chatID string) (bool, error) {
	defer observeLatency("is_user_in_chat", time.Now())
	var found gocql.UUID
	err := c.session.Query(`SELECT chat_id FROM user_chats WHERE user_id = ? AND chat_id = ?`,
		mustUUID(userID), mustUUID(chatID)).WithContext(ctx).Scan(&found)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, apperr.Transientf(err, "check membership for user %s chat %s", userID, chatID)
	}
	return true, nil
}

func (c *CassandraStore) CreateUser(ctx context.Context, u UserRecord) error {
	defer observeLatency("create_user", time.Now())
	var existing gocql.UUID
	err := c.session.Query(`SELECT id FROM users_by_email WHERE email = ?`, u.Email).
		WithContext(ctx).Scan(&existing)
	if err == nil {
		return apperr.Conflictf("email %s already registered", u.Email)
	}
	if err != gocql.ErrNotFound {
		return apperr.Transientf(err, "check existing user %s", u.Email)
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	id := mustUUID(u.ID)

	batch := c.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO users (id, email, display_name, password_hash) VALUES (?, ?, ?, ?)`,
		id, u.Email, u.DisplayName, u.PasswordHash)
	batch.Query(`INSERT INTO users_by_email (email, id) VALUES (?, ?)`, u.Email, id)
	if err := c.session.ExecuteBatch(batch); err != nil {
		return apperr.Transientf(err, "create user %s", u.Email)
	}
	return nil
}

func (c *CassandraStore) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	defer observeLatency("get_user_by_email", time.Now())
	var id gocql.UUID
	if err := c.session.Query(`SELECT id FROM users_by_email WHERE email = ?`, email).
		WithContext(ctx).Scan(&id); err != nil {
		if err == gocql.ErrNotFound {
			return UserRecord{}, apperr.NotFoundf("no user with email %s", email)
		}
		return UserRecord{}, apperr.Transientf(err, "lookup user by email %s", email)
	}
	return c.GetUserByID(ctx, id.String())
}

func (c *CassandraStore) GetUserByID(ctx context.Context, id string) (UserRecord, error) {
	defer observeLatency("get_user_by_id", time.Now())
	var u UserRecord
	var rowID gocql.UUID
	err := c.session.Query(`SELECT id, email, display_name, password_hash FROM users WHERE id = ?`, mustUUID(id)).
		WithContext(ctx).Scan(&rowID, &u.Email, &u.DisplayName, &u.PasswordHash)
	if err == gocql.ErrNotFound {
		return UserRecord{}, apperr.NotFoundf("no user with id %s", id)
	}
	if err != nil {
		return UserRecord{}, apperr.Transientf(err, "lookup user %s", id)
	}
	u.ID = rowID.String()
	return u, nil
}

type cassandraMessageRow struct {
	chatID    gocql.UUID
	messageID gocql.UUID
	createdAt time.Time
	userID    gocql.UUID
	content   string
	mediaURLs []string
	mediaMeta map[string]string
	isDeleted bool
	deletedAt *time.Time
	editedAt  *time.Time
	editedBy  *gocql.UUID
	version   int64
}

func (r cassandraMessageRow) toModel() model.Message {
	m := model.Message{
		ChatID:    r.chatID.String(),
		MessageID: r.messageID.String(),
		CreatedAt: r.createdAt,
		UserID:    r.userID.String(),
		Content:   r.content,
		MediaURLs: r.mediaURLs,
		MediaMeta: r.mediaMeta,
		IsDeleted: r.isDeleted,
		DeletedAt: r.deletedAt,
		EditedAt:  r.editedAt,
		Version:   r.version,
	}
	if r.editedBy != nil {
		m.EditedBy = r.editedBy.String()
	}
	return m
}

var _ Store = (*CassandraStore)(nil)
var _ UserStore = (*CassandraStore)(nil)

// ApplySchema is a development/test convenience for bringing up a fresh
// keyspace; production deployments manage the keyspace DDL through a
// migration tool, out of scope per the purpose-and-scope section. Callers
// gate it behind an explicit opt-in (see CHAT_AUTO_MIGRATE/AUTH_AUTO_MIGRATE
// in cmd/chatd and cmd/authd) so it never runs unintentionally against a
// production keyspace.
func (c *CassandraStore) ApplySchema(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";\n\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := c.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return apperr.Internalf(err, "apply schema statement")
		}
	}
	return nil
}
