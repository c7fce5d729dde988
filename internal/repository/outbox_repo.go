package repository

import (
	"context"

	"github.com/snsa-kscc/NutriChatBack/internal/models"
)

type OutboxRepository struct {
	db DBTX
}

func NewOutboxRepository(db DBTX) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, job *models.NotificationJob) error {
	query := `
		INSERT INTO notification_outbox (id, session_id, message_id, recipient_id, sender_name, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING attempts, created_at
	`
	return r.db.QueryRow(
		ctx,
		query,
		job.ID,
		job.SessionID,
		job.MessageID,
		job.RecipientID,
		job.SenderName,
		job.Body,
	).Scan(&job.Attempts, &job.CreatedAt)
}

// ClaimBatch locks up to limit pending jobs for the enclosing transaction.
// SKIP LOCKED keeps concurrent dispatcher instances from claiming the same
// rows, and the lock only ever covers outbox rows.
func (r *OutboxRepository) ClaimBatch(
	ctx context.Context,
	limit int,
	maxAttempts int,
) ([]models.NotificationJob, error) {
	query := `
		SELECT id, session_id, message_id, recipient_id, sender_name, body, attempts, created_at
		FROM notification_outbox
		WHERE attempts < $2
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.db.Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.NotificationJob, 0)
	for rows.Next() {
		var job models.NotificationJob
		if err := rows.Scan(
			&job.ID,
			&job.SessionID,
			&job.MessageID,
			&job.RecipientID,
			&job.SenderName,
			&job.Body,
			&job.Attempts,
			&job.CreatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *OutboxRepository) Delete(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM notification_outbox WHERE id = $1`, jobID)
	return err
}

func (r *OutboxRepository) MarkAttempt(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_outbox
		SET attempts = attempts + 1
		WHERE id = $1
	`, jobID)
	return err
}

func (r *OutboxRepository) DeleteBySession(ctx context.Context, sessionID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM notification_outbox WHERE session_id = $1`, sessionID)
	return err
}
