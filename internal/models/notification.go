package models

import "time"

// NotificationJob is one pending push delivery, written to the outbox in the
// same transaction as the message it announces.
type NotificationJob struct {
	ID          string    `json:"id"`
	SessionID   int64     `json:"session_id"`
	MessageID   int64     `json:"message_id"`
	RecipientID string    `json:"recipient_id"`
	SenderName  string    `json:"sender_name"`
	Body        string    `json:"body"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
}
