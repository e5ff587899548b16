package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/config"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

// sqliteTimeFormat is fixed width so text comparison orders timestamps.
const sqliteTimeFormat = "2006-01-02 15:04:05.000000"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/kayan.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/kayan.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		public_key TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		pair_key TEXT UNIQUE,
		created_at DATETIME NOT NULL,
		last_message_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		last_read_at DATETIME,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_reactions (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		emoji TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (message_id, user_id, emoji)
	);

	CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	now := sqliteTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, pair_key, created_at, last_message_at)
		VALUES (?, NULL, ?, ?)
	`, config.GlobalConversationID, now, now)
	return err
}

// sqliteErr maps constraint violations to store errors.
func sqliteErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrDuplicate
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKey
		}
	}
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateProfile creates a new profile record.
func (s *SQLiteStore) CreateProfile(ctx context.Context, publicKey, displayName, avatarURL string) (*models.Profile, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, public_key, display_name, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, publicKey, displayName, avatarURL, sqliteTime(time.Now()))
	if err != nil {
		return nil, sqliteErr(err)
	}
	return s.GetProfile(ctx, id)
}

func (s *SQLiteStore) scanProfile(row *sql.Row) (*models.Profile, error) {
	p := &models.Profile{}
	err := row.Scan(&p.ID, &p.PublicKey, &p.DisplayName, &p.AvatarURL, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// GetProfile retrieves a profile by ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `
		SELECT id, public_key, display_name, avatar_url, created_at
		FROM profiles WHERE id = ?
	`, id))
}

// GetProfileByPublicKey retrieves a profile by public key.
func (s *SQLiteStore) GetProfileByPublicKey(ctx context.Context, publicKey string) (*models.Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `
		SELECT id, public_key, display_name, avatar_url, created_at
		FROM profiles WHERE public_key = ?
	`, publicKey))
}

// CountProfiles returns the total number of registered profiles.
func (s *SQLiteStore) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}

// ResolveConversation returns or creates the private conversation of a and b.
// The connection string opens transactions with BEGIN IMMEDIATE, so two
// resolvers of the same pair are serialized.
func (s *SQLiteStore) ResolveConversation(ctx context.Context, a, b uuid.UUID, now time.Time) (*models.Conversation, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	key := models.PairKey(a, b)
	conv := &models.Conversation{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, created_at, last_message_at FROM conversations WHERE pair_key = ?
	`, key).Scan(&conv.ID, &conv.CreatedAt, &conv.LastMessageAt)
	if err == nil {
		return conv, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	conv.ID = newID()
	ts := sqliteTime(now)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, created_at, last_message_at)
		VALUES (?, ?, ?, ?)
	`, conv.ID, key, ts, ts); err != nil {
		return nil, false, sqliteErr(err)
	}
	for _, user := range []uuid.UUID{a, b} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)
		`, conv.ID, user); err != nil {
			return nil, false, sqliteErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	conv.CreatedAt = now.UTC().Truncate(time.Microsecond)
	conv.LastMessageAt = conv.CreatedAt
	return conv, true, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, last_message_at FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &conv.CreatedAt, &conv.LastMessageAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&n)
	return n > 0, err
}

// TouchConversation updates the last_message_at timestamp.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = MAX(last_message_at, ?) WHERE id = ?
	`, sqliteTime(at), id)
	return err
}

// MarkParticipantRead updates the participant's last_read_at timestamp.
func (s *SQLiteStore) MarkParticipantRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversation_participants SET last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?
	`, sqliteTime(at), conversationID, userID)
	return err
}

// ListConversationSummaries joins participants, profiles, the latest message
// and the unread count in a single statement.
func (s *SQLiteStore) ListConversationSummaries(ctx context.Context, userID, excludeID uuid.UUID) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.last_message_at,
			op.user_id, pr.display_name, pr.avatar_url,
			lm.id, lm.sender_id, lm.content, lm.created_at,
			(SELECT COUNT(*) FROM messages u
				WHERE u.conversation_id = c.id AND u.sender_id <> me.user_id AND u.is_read = 0)
		FROM conversation_participants me
		JOIN conversations c ON c.id = me.conversation_id
		LEFT JOIN conversation_participants op
			ON op.conversation_id = c.id AND op.user_id <> me.user_id
		LEFT JOIN profiles pr ON pr.id = op.user_id
		LEFT JOIN messages lm ON lm.id = (
			SELECT m.id FROM messages m WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC, m.id DESC LIMIT 1)
		WHERE me.user_id = ? AND c.id <> ?
		ORDER BY c.last_message_at DESC, c.id DESC
	`, userID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	seen := make(map[uuid.UUID]bool)
	for rows.Next() {
		var (
			sum         models.ConversationSummary
			otherID     uuid.NullUUID
			otherName   sql.NullString
			otherAvatar sql.NullString
			lastID      uuid.NullUUID
			lastSender  uuid.NullUUID
			lastContent sql.NullString
			lastAt      sql.NullTime
		)
		if err := rows.Scan(
			&sum.ID, &sum.LastMessageAt,
			&otherID, &otherName, &otherAvatar,
			&lastID, &lastSender, &lastContent, &lastAt,
			&sum.UnreadCount,
		); err != nil {
			return nil, err
		}
		// A malformed row with more than two participants yields one line.
		if seen[sum.ID] {
			continue
		}
		seen[sum.ID] = true
		summaries = append(summaries, buildSummary(sum, otherID, otherName, otherAvatar, lastID, lastSender, lastContent, lastAt))
	}
	return summaries, rows.Err()
}

// buildSummary fills the optional joins of a summary row. Both SQL stores
// share it.
func buildSummary(sum models.ConversationSummary, otherID uuid.NullUUID, otherName, otherAvatar sql.NullString,
	lastID, lastSender uuid.NullUUID, lastContent sql.NullString, lastAt sql.NullTime) models.ConversationSummary {
	sum.Other = models.PublicProfile{DisplayName: models.UnknownUserName}
	if otherID.Valid {
		sum.Other.ID = otherID.UUID
	}
	if otherName.Valid {
		sum.Other.DisplayName = otherName.String
		sum.Other.AvatarURL = otherAvatar.String
	}
	if lastID.Valid {
		sum.LastMessage = &models.LastMessage{
			ID:        lastID.UUID,
			SenderID:  lastSender.UUID,
			Content:   lastContent.String,
			CreatedAt: lastAt.Time,
		}
	}
	return sum
}

// ListAllConversations retrieves every conversation with its participants.
func (s *SQLiteStore) ListAllConversations(ctx context.Context, limit, offset int) ([]models.ConversationWithParticipants, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.created_at, c.last_message_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	convs := make([]models.ConversationWithParticipants, 0)
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var c models.ConversationWithParticipants
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.LastMessageAt, &c.MessageCount); err != nil {
			return nil, 0, err
		}
		c.Participants = []uuid.UUID{}
		index[c.ID] = len(convs)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(convs) == 0 {
		return convs, total, nil
	}

	args := make([]any, 0, len(convs))
	for _, c := range convs {
		args = append(args, c.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	prow, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, user_id FROM conversation_participants
		WHERE conversation_id IN (`+placeholders+`)
		ORDER BY user_id
	`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer prow.Close()
	for prow.Next() {
		var convID, userID uuid.UUID
		if err := prow.Scan(&convID, &userID); err != nil {
			return nil, 0, err
		}
		i := index[convID]
		convs[i].Participants = append(convs[i].Participants, userID)
	}
	return convs, total, prow.Err()
}

// CountConversations returns the number of conversations.
func (s *SQLiteStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// CreateMessage inserts a message. ID and CreatedAt are filled in when zero.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Microsecond)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.IsRead, sqliteTime(msg.CreatedAt))
	return sqliteErr(err)
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	msg := &models.Message{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, content, is_read, created_at
		FROM messages WHERE id = ?
	`, id).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.IsRead, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) queryThread(ctx context.Context, query string, args ...any) ([]models.ThreadMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ThreadMessage, 0)
	for rows.Next() {
		var m models.ThreadMessage
		var name sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt, &name); err != nil {
			return nil, err
		}
		m.SenderName = models.UnknownUserName
		if name.Valid {
			m.SenderName = name.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListThread returns a conversation's messages, oldest first.
func (s *SQLiteStore) ListThread(ctx context.Context, conversationID uuid.UUID) ([]models.ThreadMessage, error) {
	return s.queryThread(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.is_read, m.created_at, p.display_name
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID)
}

// ListRecentMessages returns the newest messages, newest first.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ThreadMessage, error) {
	return s.queryThread(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.is_read, m.created_at, p.display_name
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, conversationID, limit)
}

// MarkConversationRead flips is_read on messages not sent by readerID.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkMessageRead flips is_read on one message.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE id = ? AND is_read = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountMessages returns the total number of messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// GetMostRecentActivity returns the newest message timestamp.
func (s *SQLiteStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM messages ORDER BY created_at DESC LIMIT 1
	`).Scan(&t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ListReactions returns every reaction row of a message.
func (s *SQLiteStore) ListReactions(ctx context.Context, messageID uuid.UUID) ([]models.Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, user_id, emoji, created_at
		FROM message_reactions WHERE message_id = ?
		ORDER BY created_at ASC, id ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Reaction, 0)
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ToggleReaction deletes the (message, user, emoji) row when present and
// inserts it otherwise, inside one immediate transaction.
func (s *SQLiteStore) ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string, now time.Time) (*models.Reaction, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	r := &models.Reaction{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, message_id, user_id, emoji, created_at FROM message_reactions
		WHERE message_id = ? AND user_id = ? AND emoji = ?
	`, messageID, userID, emoji).Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM message_reactions WHERE id = ?`, r.ID); err != nil {
			return nil, false, err
		}
		return r, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, err
	}

	r = &models.Reaction{
		ID:        newID(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: now.UTC().Truncate(time.Microsecond),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_reactions (id, message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.MessageID, r.UserID, r.Emoji, sqliteTime(r.CreatedAt)); err != nil {
		return nil, false, sqliteErr(err)
	}
	return r, true, tx.Commit()
}
