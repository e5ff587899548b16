package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/config"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

// Stats is a snapshot of platform activity.
type Stats struct {
	TotalProfiles      int64
	TotalConversations int64
	TotalMessages      int64
	LastActivity       *time.Time
	RecentGlobal       []models.ThreadMessage
}

// Stats gathers totals and the newest messages of the global conversation.
// The global listing is best-effort.
func (s *Service) Stats(ctx context.Context, recent int) (*Stats, error) {
	var st Stats
	var err error

	if st.TotalProfiles, err = s.store.CountProfiles(ctx); err != nil {
		return nil, fmt.Errorf("count profiles: %w", err)
	}
	if st.TotalConversations, err = s.store.CountConversations(ctx); err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}
	if st.TotalMessages, err = s.store.CountMessages(ctx); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if st.LastActivity, err = s.store.GetMostRecentActivity(ctx); err != nil {
		return nil, fmt.Errorf("last activity: %w", err)
	}

	st.RecentGlobal, err = s.store.ListRecentMessages(ctx, config.GlobalConversationID, recent)
	if err != nil {
		s.logger.Warn().Err(err).Msg("recent global messages unavailable")
		st.RecentGlobal = []models.ThreadMessage{}
	}
	return &st, nil
}
