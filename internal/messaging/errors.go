package messaging

import "errors"

var (
	ErrEmptyMessage         = errors.New("message content is empty")
	ErrMessageTooLong       = errors.New("message content too long")
	ErrSendInFlight         = errors.New("a send is already in flight")
	ErrNotParticipant       = errors.New("user is not a participant of this conversation")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrUnknownEmoji         = errors.New("emoji is not in the reaction set")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrUnauthenticated      = errors.New("no authenticated user")
)
