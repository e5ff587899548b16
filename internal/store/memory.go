package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/config"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

type memConversation struct {
	models.Conversation
	pairKey      string
	participants map[uuid.UUID]*models.Participant
	order        []uuid.UUID
}

type reactionKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
	emoji     string
}

// MemoryStore is an in-memory DataStore for tests. All state is lost when
// the process exits.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[uuid.UUID]*models.Profile
	byPublicKey   map[string]uuid.UUID
	conversations map[uuid.UUID]*memConversation
	byPairKey     map[string]uuid.UUID
	messages      map[uuid.UUID]*models.Message
	threads       map[uuid.UUID][]uuid.UUID
	reactions     map[reactionKey]*models.Reaction
	byMessage     map[uuid.UUID][]reactionKey
}

// NewMemoryStore creates an empty store holding only the global conversation.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		profiles:      make(map[uuid.UUID]*models.Profile),
		byPublicKey:   make(map[string]uuid.UUID),
		conversations: make(map[uuid.UUID]*memConversation),
		byPairKey:     make(map[string]uuid.UUID),
		messages:      make(map[uuid.UUID]*models.Message),
		threads:       make(map[uuid.UUID][]uuid.UUID),
		reactions:     make(map[reactionKey]*models.Reaction),
		byMessage:     make(map[uuid.UUID][]reactionKey),
	}
	now := time.Now().UTC()
	s.conversations[config.GlobalConversationID] = &memConversation{
		Conversation: models.Conversation{
			ID:            config.GlobalConversationID,
			CreatedAt:     now,
			LastMessageAt: now,
		},
		participants: make(map[uuid.UUID]*models.Participant),
	}
	return s
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateProfile creates a new profile.
func (s *MemoryStore) CreateProfile(ctx context.Context, publicKey, displayName, avatarURL string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPublicKey[publicKey]; ok {
		return nil, ErrDuplicate
	}
	p := &models.Profile{
		ID:          newID(),
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		PublicKey:   publicKey,
		CreatedAt:   time.Now().UTC(),
	}
	s.profiles[p.ID] = p
	s.byPublicKey[publicKey] = p.ID
	cp := *p
	return &cp, nil
}

// GetProfile retrieves a profile by ID.
func (s *MemoryStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// GetProfileByPublicKey retrieves a profile by public key.
func (s *MemoryStore) GetProfileByPublicKey(ctx context.Context, publicKey string) (*models.Profile, error) {
	s.mu.RLock()
	id, ok := s.byPublicKey[publicKey]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.GetProfile(ctx, id)
}

// CountProfiles returns the number of profiles.
func (s *MemoryStore) CountProfiles(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.profiles)), nil
}

// ResolveConversation returns or creates the private conversation of a and b.
func (s *MemoryStore) ResolveConversation(ctx context.Context, a, b uuid.UUID, now time.Time) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.PairKey(a, b)
	if id, ok := s.byPairKey[key]; ok {
		c := s.conversations[id].Conversation
		return &c, false, nil
	}

	conv := &memConversation{
		Conversation: models.Conversation{
			ID:            newID(),
			CreatedAt:     now,
			LastMessageAt: now,
		},
		pairKey:      key,
		participants: make(map[uuid.UUID]*models.Participant, 2),
	}
	for _, user := range []uuid.UUID{a, b} {
		conv.participants[user] = &models.Participant{ConversationID: conv.ID, UserID: user}
		conv.order = append(conv.order, user)
	}
	s.conversations[conv.ID] = conv
	s.byPairKey[key] = conv.ID
	c := conv.Conversation
	return &c, true, nil
}

// GetConversation retrieves a conversation by ID.
func (s *MemoryStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	c := conv.Conversation
	return &c, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *MemoryStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false, nil
	}
	_, ok = conv.participants[userID]
	return ok, nil
}

// TouchConversation sets last_message_at.
func (s *MemoryStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[id]; ok && at.After(conv.LastMessageAt) {
		conv.LastMessageAt = at
	}
	return nil
}

// MarkParticipantRead sets the participant's last_read_at.
func (s *MemoryStore) MarkParticipantRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	if p, ok := conv.participants[userID]; ok {
		t := at
		p.LastReadAt = &t
	}
	return nil
}

// ListConversationSummaries builds the conversation list of userID.
func (s *MemoryStore) ListConversationSummaries(ctx context.Context, userID, excludeID uuid.UUID) ([]models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]models.ConversationSummary, 0)
	for id, conv := range s.conversations {
		if id == excludeID {
			continue
		}
		if _, ok := conv.participants[userID]; !ok {
			continue
		}

		summary := models.ConversationSummary{
			ID:            id,
			LastMessageAt: conv.LastMessageAt,
			Other:         models.PublicProfile{DisplayName: models.UnknownUserName},
		}
		for _, other := range conv.order {
			if other == userID {
				continue
			}
			summary.Other.ID = other
			if p, ok := s.profiles[other]; ok {
				summary.Other.DisplayName = p.DisplayName
				summary.Other.AvatarURL = p.AvatarURL
			}
			break
		}

		var last *models.Message
		for _, msgID := range s.threads[id] {
			msg := s.messages[msgID]
			if last == nil || !msg.CreatedAt.Before(last.CreatedAt) {
				last = msg
			}
			if !msg.IsRead && msg.SenderID != userID {
				summary.UnreadCount++
			}
		}
		if last != nil {
			summary.LastMessage = &models.LastMessage{
				ID:        last.ID,
				SenderID:  last.SenderID,
				Content:   last.Content,
				CreatedAt: last.CreatedAt,
			}
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].LastMessageAt.Equal(summaries[j].LastMessageAt) {
			return summaries[i].ID.String() > summaries[j].ID.String()
		}
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})
	return summaries, nil
}

// ListAllConversations lists every conversation, newest activity first.
func (s *MemoryStore) ListAllConversations(ctx context.Context, limit, offset int) ([]models.ConversationWithParticipants, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]models.ConversationWithParticipants, 0, len(s.conversations))
	for id, conv := range s.conversations {
		all = append(all, models.ConversationWithParticipants{
			Conversation: conv.Conversation,
			Participants: append([]uuid.UUID{}, conv.order...),
			MessageCount: int64(len(s.threads[id])),
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastMessageAt.After(all[j].LastMessageAt)
	})

	total := len(all)
	if offset >= total {
		return []models.ConversationWithParticipants{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// CountConversations returns the number of conversations, global included.
func (s *MemoryStore) CountConversations(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.conversations)), nil
}

// CreateMessage appends a message. ID and CreatedAt are filled in when zero.
func (s *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrForeignKey
	}
	if msg.ID == uuid.Nil {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	s.threads[msg.ConversationID] = append(s.threads[msg.ConversationID], msg.ID)
	return nil
}

// GetMessage retrieves a message by ID.
func (s *MemoryStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) threadMessage(msg *models.Message) models.ThreadMessage {
	name := models.UnknownUserName
	if p, ok := s.profiles[msg.SenderID]; ok {
		name = p.DisplayName
	}
	return models.ThreadMessage{Message: *msg, SenderName: name}
}

// ListThread returns the conversation's messages, oldest first.
func (s *MemoryStore) ListThread(ctx context.Context, conversationID uuid.UUID) ([]models.ThreadMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.threads[conversationID]
	out := make([]models.ThreadMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.threadMessage(s.messages[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListRecentMessages returns the newest messages, newest first.
func (s *MemoryStore) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ThreadMessage, error) {
	thread, err := s.ListThread(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ThreadMessage, 0, limit)
	for i := len(thread) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, thread[i])
	}
	return out, nil
}

// MarkConversationRead flips is_read on messages not sent by readerID.
func (s *MemoryStore) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.threads[conversationID] {
		msg := s.messages[id]
		if msg.IsRead || msg.SenderID == readerID {
			continue
		}
		msg.IsRead = true
		n++
	}
	return n, nil
}

// MarkMessageRead flips is_read on one message.
func (s *MemoryStore) MarkMessageRead(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok || msg.IsRead {
		return false, nil
	}
	msg.IsRead = true
	return true, nil
}

// CountMessages returns the number of messages.
func (s *MemoryStore) CountMessages(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.messages)), nil
}

// GetMostRecentActivity returns the newest message time, or nil.
func (s *MemoryStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *time.Time
	for _, msg := range s.messages {
		if latest == nil || msg.CreatedAt.After(*latest) {
			t := msg.CreatedAt
			latest = &t
		}
	}
	return latest, nil
}

// ListReactions returns every reaction row of a message.
func (s *MemoryStore) ListReactions(ctx context.Context, messageID uuid.UUID) ([]models.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byMessage[messageID]
	out := make([]models.Reaction, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.reactions[k])
	}
	return out, nil
}

// ToggleReaction removes or adds the (message, user, emoji) row.
func (s *MemoryStore) ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string, now time.Time) (*models.Reaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return nil, false, ErrForeignKey
	}

	key := reactionKey{messageID: messageID, userID: userID, emoji: emoji}
	if existing, ok := s.reactions[key]; ok {
		delete(s.reactions, key)
		keys := s.byMessage[messageID]
		for i, k := range keys {
			if k == key {
				s.byMessage[messageID] = append(keys[:i:i], keys[i+1:]...)
				break
			}
		}
		cp := *existing
		return &cp, false, nil
	}

	r := &models.Reaction{
		ID:        newID(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: now,
	}
	s.reactions[key] = r
	s.byMessage[messageID] = append(s.byMessage[messageID], key)
	cp := *r
	return &cp, true, nil
}
