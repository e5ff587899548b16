package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// MessagePreview represents a preview of a global conversation message.
type MessagePreview struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"ts"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalProfiles      int64            `json:"total_profiles"`
	TotalConversations int64            `json:"total_conversations"`
	TotalMessages      int64            `json:"total_messages"`
	LastActivity       string           `json:"last_activity"`
	RecentMessages     []MessagePreview `json:"recent_messages"`
}

// Stats returns platform statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context(), 5)
	if err != nil {
		h.ServiceError(w, r, err)
		return
	}

	lastActivity := "no activity yet"
	if st.LastActivity != nil {
		lastActivity = formatTimeAgo(*st.LastActivity, time.Now())
	}

	recent := make([]MessagePreview, 0, len(st.RecentGlobal))
	for _, m := range st.RecentGlobal {
		recent = append(recent, MessagePreview{
			ID:         m.ID.String(),
			SenderID:   m.SenderID.String(),
			SenderName: m.SenderName,
			Content:    truncate(m.Content, 200),
			Timestamp:  m.CreatedAt.UnixMilli(),
		})
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalProfiles:      st.TotalProfiles,
		TotalConversations: st.TotalConversations,
		TotalMessages:      st.TotalMessages,
		LastActivity:       lastActivity,
		RecentMessages:     recent,
	})
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

// formatTimeAgo formats t relative to now as a human-readable "X ago" string.
func formatTimeAgo(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
