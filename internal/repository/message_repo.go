package repository

import (
	"context"
	"time"

	"github.com/snsa-kscc/NutriChatBack/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append inserts a new unread message. The timestamp is clamped to notBefore
// (the session's current last_message_at) so that per-session timestamps never
// decrease even if the database clock reads earlier than a prior commit.
// Callers must hold the session row lock.
func (r *MessageRepository) Append(
	ctx context.Context,
	sessionID int64,
	senderID string,
	senderType string,
	content string,
	notBefore time.Time,
) (*models.ChatMessage, error) {
	query := `
		INSERT INTO chat_messages (session_id, sender_id, sender_type, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, GREATEST(NOW(), $5::timestamptz))
		RETURNING id, session_id, sender_id, sender_type, content, is_read, created_at
	`

	var message models.ChatMessage
	err := r.db.QueryRow(ctx, query, sessionID, senderID, senderType, content, notBefore).Scan(
		&message.ID,
		&message.SessionID,
		&message.SenderID,
		&message.SenderType,
		&message.Content,
		&message.IsRead,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// ListBySession returns messages in ascending timestamp order, ties broken by
// insertion order.
func (r *MessageRepository) ListBySession(
	ctx context.Context,
	sessionID int64,
	limit int,
	offset int,
) ([]models.ChatMessage, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM chat_messages
		WHERE session_id = $1
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, sessionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, session_id, sender_id, sender_type, content, is_read, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var message models.ChatMessage
		if err := rows.Scan(
			&message.ID,
			&message.SessionID,
			&message.SenderID,
			&message.SenderType,
			&message.Content,
			&message.IsRead,
			&message.CreatedAt,
		); err != nil {
			return nil, 0, err
		}

		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// MarkSessionRead flips every unread message of the given sender type to read
// and reports how many rows changed. Re-running it is a no-op.
func (r *MessageRepository) MarkSessionRead(
	ctx context.Context,
	sessionID int64,
	senderType string,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE chat_messages
		SET is_read = TRUE
		WHERE session_id = $1
		  AND sender_type = $2
		  AND is_read = FALSE
	`, sessionID, senderType)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) UnreadCount(
	ctx context.Context,
	sessionID int64,
	senderType string,
) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM chat_messages
		WHERE session_id = $1
		  AND sender_type = $2
		  AND is_read = FALSE
	`, sessionID, senderType).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *MessageRepository) DeleteBySession(ctx context.Context, sessionID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID)
	return err
}
