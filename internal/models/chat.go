package models

import "time"

const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

const (
	SenderTypeUser         = "user"
	SenderTypeNutritionist = "nutritionist"
)

type ChatSession struct {
	ID             int64      `json:"id"`
	UserID         string     `json:"user_id"`
	UserName       string     `json:"user_name"`
	NutritionistID string     `json:"nutritionist_id"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LastMessageAt  time.Time  `json:"last_message_at"`
}

// CounterpartOf returns the participant on the other side of the session,
// or "" when subjectID is not a participant at all.
func (s *ChatSession) CounterpartOf(subjectID string) string {
	switch subjectID {
	case s.UserID:
		return s.NutritionistID
	case s.NutritionistID:
		return s.UserID
	default:
		return ""
	}
}

func (s *ChatSession) IsParticipant(subjectID string) bool {
	return subjectID == s.UserID || subjectID == s.NutritionistID
}

type ChatMessage struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	SenderID   string    `json:"sender_id"`
	SenderType string    `json:"sender_type"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"timestamp"`
}

type MessagePreview struct {
	Content    string    `json:"content"`
	SenderType string    `json:"sender_type"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"timestamp"`
}

type SessionSummary struct {
	ChatSession
	Nutritionist *NutritionistSummary `json:"nutritionist,omitempty"`
	LastMessage  *MessagePreview      `json:"last_message,omitempty"`
	UnreadCount  int                  `json:"unread_count"`
}
