package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/metrics"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// observe records the latency of one store call.
func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("postgres", op).Observe(time.Since(start).Seconds())
}

// pgErr maps constraint violations to store errors.
func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505":
			return ErrDuplicate
		case "23503":
			return ErrForeignKey
		}
	}
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateProfile creates a new profile record.
func (s *PostgresStore) CreateProfile(ctx context.Context, publicKey, displayName, avatarURL string) (*models.Profile, error) {
	p := &models.Profile{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, public_key, display_name, avatar_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, public_key, display_name, avatar_url, created_at
	`, newID(), publicKey, displayName, avatarURL).Scan(
		&p.ID,
		&p.PublicKey,
		&p.DisplayName,
		&p.AvatarURL,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, pgErr(err)
	}
	return p, nil
}

func scanPGProfile(row pgx.Row) (*models.Profile, error) {
	p := &models.Profile{}
	err := row.Scan(&p.ID, &p.PublicKey, &p.DisplayName, &p.AvatarURL, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// GetProfile retrieves a profile by ID.
func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return scanPGProfile(s.pool.QueryRow(ctx, `
		SELECT id, public_key, display_name, avatar_url, created_at
		FROM profiles WHERE id = $1
	`, id))
}

// GetProfileByPublicKey retrieves a profile by public key.
func (s *PostgresStore) GetProfileByPublicKey(ctx context.Context, publicKey string) (*models.Profile, error) {
	return scanPGProfile(s.pool.QueryRow(ctx, `
		SELECT id, public_key, display_name, avatar_url, created_at
		FROM profiles WHERE public_key = $1
	`, publicKey))
}

// CountProfiles returns the total number of registered profiles.
func (s *PostgresStore) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}

// ResolveConversation returns or creates the private conversation of a and b.
// The unique pair_key turns a concurrent create into a lookup of the winner.
func (s *PostgresStore) ResolveConversation(ctx context.Context, a, b uuid.UUID, now time.Time) (*models.Conversation, bool, error) {
	defer observe("resolve_conversation", time.Now())

	key := models.PairKey(a, b)
	conv := &models.Conversation{}
	created := false

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO conversations (id, pair_key, created_at, last_message_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (pair_key) DO NOTHING
			RETURNING id, created_at, last_message_at
		`, newID(), key, now).Scan(&conv.ID, &conv.CreatedAt, &conv.LastMessageAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return tx.QueryRow(ctx, `
				SELECT id, created_at, last_message_at FROM conversations WHERE pair_key = $1
			`, key).Scan(&conv.ID, &conv.CreatedAt, &conv.LastMessageAt)
		}
		if err != nil {
			return err
		}

		created = true
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES ($1, $2), ($1, $3)
		`, conv.ID, a, b)
		return err
	})
	if err != nil {
		return nil, false, pgErr(err)
	}
	return conv, created, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_at, last_message_at FROM conversations WHERE id = $1
	`, id).Scan(&conv.ID, &conv.CreatedAt, &conv.LastMessageAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&ok)
	return ok, err
}

// TouchConversation updates the last_message_at timestamp.
func (s *PostgresStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2) WHERE id = $1
	`, id, at)
	return err
}

// MarkParticipantRead updates the participant's last_read_at timestamp.
func (s *PostgresStore) MarkParticipantRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversation_participants SET last_read_at = $3
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID, at)
	return err
}

// ListConversationSummaries joins participants, profiles, the latest message
// and the unread count in a single statement.
func (s *PostgresStore) ListConversationSummaries(ctx context.Context, userID, excludeID uuid.UUID) ([]models.ConversationSummary, error) {
	defer observe("list_conversation_summaries", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (c.last_message_at, c.id)
			c.id, c.last_message_at,
			op.user_id, pr.display_name, pr.avatar_url,
			lm.id, lm.sender_id, lm.content, lm.created_at,
			(SELECT COUNT(*) FROM messages u
				WHERE u.conversation_id = c.id AND u.sender_id <> me.user_id AND NOT u.is_read)
		FROM conversation_participants me
		JOIN conversations c ON c.id = me.conversation_id
		LEFT JOIN conversation_participants op
			ON op.conversation_id = c.id AND op.user_id <> me.user_id
		LEFT JOIN profiles pr ON pr.id = op.user_id
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.content, m.created_at
			FROM messages m WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC, m.id DESC LIMIT 1
		) lm ON true
		WHERE me.user_id = $1 AND c.id <> $2
		ORDER BY c.last_message_at DESC, c.id DESC
	`, userID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
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
		summaries = append(summaries, buildSummary(sum, otherID, otherName, otherAvatar, lastID, lastSender, lastContent, lastAt))
	}
	return summaries, rows.Err()
}

// ListAllConversations retrieves every conversation with its participants.
func (s *PostgresStore) ListAllConversations(ctx context.Context, limit, offset int) ([]models.ConversationWithParticipants, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.created_at, c.last_message_at,
			COALESCE(ARRAY(
				SELECT p.user_id FROM conversation_participants p
				WHERE p.conversation_id = c.id ORDER BY p.user_id
			), '{}'),
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.last_message_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	convs := make([]models.ConversationWithParticipants, 0)
	for rows.Next() {
		var c models.ConversationWithParticipants
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.LastMessageAt, &c.Participants, &c.MessageCount); err != nil {
			return nil, 0, err
		}
		convs = append(convs, c)
	}
	return convs, total, rows.Err()
}

// CountConversations returns the number of conversations.
func (s *PostgresStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// CreateMessage inserts a message. ID and CreatedAt are filled in when zero.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer observe("create_message", time.Now())

	if msg.ID == uuid.Nil {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Microsecond)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.IsRead, msg.CreatedAt)
	return pgErr(err)
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	msg := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, sender_id, content, is_read, created_at
		FROM messages WHERE id = $1
	`, id).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.IsRead, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func (s *PostgresStore) queryThread(ctx context.Context, query string, args ...any) ([]models.ThreadMessage, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ThreadMessage, 0)
	for rows.Next() {
		var m models.ThreadMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt, &m.SenderName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListThread returns a conversation's messages, oldest first.
func (s *PostgresStore) ListThread(ctx context.Context, conversationID uuid.UUID) ([]models.ThreadMessage, error) {
	defer observe("list_thread", time.Now())

	return s.queryThread(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.is_read, m.created_at,
			COALESCE(p.display_name, $2)
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID, models.UnknownUserName)
}

// ListRecentMessages returns the newest messages, newest first.
func (s *PostgresStore) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ThreadMessage, error) {
	return s.queryThread(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.is_read, m.created_at,
			COALESCE(p.display_name, $2)
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	`, conversationID, models.UnknownUserName, limit)
}

// MarkConversationRead flips is_read on messages not sent by readerID.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = true
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkMessageRead flips is_read on one message.
func (s *PostgresStore) MarkMessageRead(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET is_read = true WHERE id = $1 AND NOT is_read`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountMessages returns the total number of messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// GetMostRecentActivity returns the newest message timestamp.
func (s *PostgresStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM messages`).Scan(&t)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListReactions returns every reaction row of a message.
func (s *PostgresStore) ListReactions(ctx context.Context, messageID uuid.UUID) ([]models.Reaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, user_id, emoji, created_at
		FROM message_reactions WHERE message_id = $1
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
// inserts it otherwise. The unique triple keeps a racing insert from
// duplicating the row.
func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string, now time.Time) (*models.Reaction, bool, error) {
	defer observe("toggle_reaction", time.Now())

	r := &models.Reaction{}
	present := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			DELETE FROM message_reactions
			WHERE message_id = $1 AND user_id = $2 AND emoji = $3
			RETURNING id, message_id, user_id, emoji, created_at
		`, messageID, userID, emoji).Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		present = true
		err = tx.QueryRow(ctx, `
			INSERT INTO message_reactions (id, message_id, user_id, emoji, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (message_id, user_id, emoji) DO NOTHING
			RETURNING id, message_id, user_id, emoji, created_at
		`, newID(), messageID, userID, emoji, now).Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent toggle inserted the same row first.
			return tx.QueryRow(ctx, `
				SELECT id, message_id, user_id, emoji, created_at FROM message_reactions
				WHERE message_id = $1 AND user_id = $2 AND emoji = $3
			`, messageID, userID, emoji).Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
		}
		return err
	})
	if err != nil {
		return nil, false, pgErr(err)
	}
	return r, present, nil
}
