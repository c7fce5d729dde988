package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/snsa-kscc/NutriChatBack/internal/models"
)

const sessionColumns = `id, user_id, user_name, nutritionist_id, status, started_at, ended_at, last_message_at`

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateActive inserts a new active session. The partial unique index on
// (user_id) WHERE status = 'active' is the exclusivity guard: a concurrent
// insert for the same user surfaces here as a 23505 unique violation.
func (r *SessionRepository) CreateActive(
	ctx context.Context,
	userID string,
	userName string,
	nutritionistID string,
) (*models.ChatSession, error) {
	query := `
		INSERT INTO chat_sessions (user_id, user_name, nutritionist_id, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING ` + sessionColumns

	return r.scanSession(r.db.QueryRow(ctx, query, userID, userName, nutritionistID))
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.ChatSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE id = $1
	`
	return r.scanSession(r.db.QueryRow(ctx, query, sessionID))
}

// GetByIDForUpdate locks the session row for the duration of the enclosing
// transaction, serializing appends and lifecycle changes per session.
func (r *SessionRepository) GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.ChatSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE id = $1
		FOR UPDATE
	`
	return r.scanSession(r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) GetActiveByUser(ctx context.Context, userID string) (*models.ChatSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1 AND status = 'active'
	`
	return r.scanSession(r.db.QueryRow(ctx, query, userID))
}

// EndIfActive flips an active session to ended. Returns pgx.ErrNoRows when the
// session does not exist or has already ended, so repeated end calls fail
// instead of silently succeeding.
func (r *SessionRepository) EndIfActive(ctx context.Context, sessionID int64) (*models.ChatSession, error) {
	query := `
		UPDATE chat_sessions
		SET status = 'ended', ended_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + sessionColumns

	return r.scanSession(r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) SetLastMessageAt(ctx context.Context, sessionID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE chat_sessions
		SET last_message_at = GREATEST(last_message_at, $2)
		WHERE id = $1
	`, sessionID, at)
	return err
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, sessionID)
	return err
}

// ListForUser returns the user's sessions newest-activity first, each enriched
// with the nutritionist's profile summary, the latest message, and the count
// of unread nutritionist messages. Unread counts are recomputed by scan on
// every call rather than kept as a counter column.
func (r *SessionRepository) ListForUser(
	ctx context.Context,
	userID string,
	activeOnly bool,
) ([]models.SessionSummary, error) {
	query := `
		SELECT
			s.id, s.user_id, s.user_name, s.nutritionist_id, s.status,
			s.started_at, s.ended_at, s.last_message_at,
			n.name, n.specialization, n.is_online, n.avatar_url,
			lm.content, lm.sender_type, lm.is_read, lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM chat_sessions s
		LEFT JOIN nutritionists n ON n.subject_id = s.nutritionist_id
		LEFT JOIN LATERAL (
			SELECT content, sender_type, is_read, created_at
			FROM chat_messages
			WHERE session_id = s.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM chat_messages
			WHERE session_id = s.id
			  AND sender_type = 'nutritionist'
			  AND is_read = FALSE
		) uc ON TRUE
		WHERE s.user_id = $1 AND ($2 = FALSE OR s.status = 'active')
		ORDER BY s.last_message_at DESC, s.id DESC
	`

	rows, err := r.db.Query(ctx, query, userID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.SessionSummary, 0)
	for rows.Next() {
		var summary models.SessionSummary
		var nutritionistName sql.NullString
		var nutritionistSpecialization sql.NullString
		var nutritionistOnline sql.NullBool
		var nutritionistAvatar *string
		var previewContent sql.NullString
		var previewSenderType sql.NullString
		var previewIsRead sql.NullBool
		var previewCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.UserID,
			&summary.UserName,
			&summary.NutritionistID,
			&summary.Status,
			&summary.StartedAt,
			&summary.EndedAt,
			&summary.LastMessageAt,
			&nutritionistName,
			&nutritionistSpecialization,
			&nutritionistOnline,
			&nutritionistAvatar,
			&previewContent,
			&previewSenderType,
			&previewIsRead,
			&previewCreatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}

		if nutritionistName.Valid {
			summary.Nutritionist = &models.NutritionistSummary{
				Name:           nutritionistName.String,
				Specialization: nutritionistSpecialization.String,
				IsOnline:       nutritionistOnline.Bool,
				AvatarURL:      nutritionistAvatar,
			}
		}
		if previewCreatedAt.Valid {
			summary.LastMessage = &models.MessagePreview{
				Content:    previewContent.String,
				SenderType: previewSenderType.String,
				IsRead:     previewIsRead.Bool,
				CreatedAt:  previewCreatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// ListForNutritionist mirrors ListForUser from the other side: unread counts
// cover user-authored messages, and the user_name snapshot on the session row
// stands in for a profile summary.
func (r *SessionRepository) ListForNutritionist(
	ctx context.Context,
	nutritionistID string,
	activeOnly bool,
) ([]models.SessionSummary, error) {
	query := `
		SELECT
			s.id, s.user_id, s.user_name, s.nutritionist_id, s.status,
			s.started_at, s.ended_at, s.last_message_at,
			lm.content, lm.sender_type, lm.is_read, lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM chat_sessions s
		LEFT JOIN LATERAL (
			SELECT content, sender_type, is_read, created_at
			FROM chat_messages
			WHERE session_id = s.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM chat_messages
			WHERE session_id = s.id
			  AND sender_type = 'user'
			  AND is_read = FALSE
		) uc ON TRUE
		WHERE s.nutritionist_id = $1 AND ($2 = FALSE OR s.status = 'active')
		ORDER BY s.last_message_at DESC, s.id DESC
	`

	rows, err := r.db.Query(ctx, query, nutritionistID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.SessionSummary, 0)
	for rows.Next() {
		var summary models.SessionSummary
		var previewContent sql.NullString
		var previewSenderType sql.NullString
		var previewIsRead sql.NullBool
		var previewCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.UserID,
			&summary.UserName,
			&summary.NutritionistID,
			&summary.Status,
			&summary.StartedAt,
			&summary.EndedAt,
			&summary.LastMessageAt,
			&previewContent,
			&previewSenderType,
			&previewIsRead,
			&previewCreatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}

		if previewCreatedAt.Valid {
			summary.LastMessage = &models.MessagePreview{
				Content:    previewContent.String,
				SenderType: previewSenderType.String,
				IsRead:     previewIsRead.Bool,
				CreatedAt:  previewCreatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *SessionRepository) scanSession(row interface{ Scan(dest ...any) error }) (*models.ChatSession, error) {
	var session models.ChatSession
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.UserName,
		&session.NutritionistID,
		&session.Status,
		&session.StartedAt,
		&session.EndedAt,
		&session.LastMessageAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
