package services

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/snsa-kscc/NutriChatBack/internal/models"
	"github.com/snsa-kscc/NutriChatBack/internal/repository"
	"go.uber.org/zap"
)

const (
	dispatchBatchSize   = 16
	maxDeliveryAttempts = 3
)

type sessionReader interface {
	GetByID(ctx context.Context, sessionID int64) (*models.ChatSession, error)
}

type pushRegistrationReader interface {
	GetBySubjectID(ctx context.Context, subjectID string) (*models.Account, error)
}

type wakeSubscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// NotificationDispatcher drains the notification outbox independently of the
// send path. Delivery is at-least-once: jobs are claimed with row locks that
// only ever cover outbox rows, retried a few times on transport failure, and
// then discarded. Nothing here can fail a committed message.
type NotificationDispatcher struct {
	db         *pgxpool.Pool
	sessions   sessionReader
	accounts   pushRegistrationReader
	gateway    PushSender
	subscriber wakeSubscriber
	interval   time.Duration
	logger     *zap.Logger
}

func NewNotificationDispatcher(
	db *pgxpool.Pool,
	sessions sessionReader,
	accounts pushRegistrationReader,
	gateway PushSender,
	subscriber wakeSubscriber,
	interval time.Duration,
	logger *zap.Logger,
) *NotificationDispatcher {
	return &NotificationDispatcher{
		db:         db,
		sessions:   sessions,
		accounts:   accounts,
		gateway:    gateway,
		subscriber: subscriber,
		interval:   interval,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled. The poll ticker alone guarantees
// delivery; the wake channel just shortens the latency after a send.
func (d *NotificationDispatcher) Run(ctx context.Context) {
	var wake <-chan *message.Message
	if d.subscriber != nil {
		ch, err := d.subscriber.Subscribe(ctx, TopicNotificationQueued)
		if err != nil {
			d.logger.Warn("subscribe to dispatcher wake topic", zap.Error(err))
		} else {
			wake = ch
		}
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case msg, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			msg.Ack()
		}
		d.Drain(ctx)
	}
}

// Drain processes batches until the outbox has no claimable jobs left.
func (d *NotificationDispatcher) Drain(ctx context.Context) {
	for {
		processed, err := d.processBatch(ctx)
		if err != nil {
			d.logger.Warn("drain notification outbox", zap.Error(err))
			return
		}
		if processed == 0 {
			return
		}
	}
}

func (d *NotificationDispatcher) processBatch(ctx context.Context) (int, error) {
	tx, err := d.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txOutboxRepo := repository.NewOutboxRepository(tx)
	jobs, err := txOutboxRepo.ClaimBatch(ctx, dispatchBatchSize, maxDeliveryAttempts)
	if err != nil {
		return 0, err
	}

	for i := range jobs {
		job := &jobs[i]
		if deliverErr := d.deliver(ctx, job); deliverErr != nil {
			if job.Attempts+1 >= maxDeliveryAttempts {
				d.logger.Warn("dropping notification after repeated failures",
					zap.String("job_id", job.ID),
					zap.Int64("session_id", job.SessionID),
					zap.Error(deliverErr))
				if err := txOutboxRepo.Delete(ctx, job.ID); err != nil {
					return 0, err
				}
			} else {
				if err := txOutboxRepo.MarkAttempt(ctx, job.ID); err != nil {
					return 0, err
				}
			}
			continue
		}
		if err := txOutboxRepo.Delete(ctx, job.ID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// deliver re-validates the job against current session state before touching
// the gateway. A vanished session, a recipient that is no longer a
// participant, or a missing device token drops the job silently: a stale
// notification is a benign no-op, never an error anyone sees.
func (d *NotificationDispatcher) deliver(ctx context.Context, job *models.NotificationJob) error {
	session, err := d.sessions.GetByID(ctx, job.SessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			d.logger.Debug("notification target session gone", zap.String("job_id", job.ID))
			return nil
		}
		return err
	}
	if !session.IsParticipant(job.RecipientID) {
		d.logger.Debug("notification recipient no longer a participant",
			zap.String("job_id", job.ID),
			zap.String("recipient_id", job.RecipientID))
		return nil
	}

	account, err := d.accounts.GetBySubjectID(ctx, job.RecipientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			d.logger.Debug("recipient has no push registration", zap.String("job_id", job.ID))
			return nil
		}
		return err
	}
	if account.PushToken == nil || *account.PushToken == "" {
		d.logger.Debug("recipient has no push token", zap.String("job_id", job.ID))
		return nil
	}

	if err := d.gateway.Send(ctx, PushNotification{
		Token:       *account.PushToken,
		Title:       job.SenderName,
		Body:        job.Body,
		SessionID:   job.SessionID,
		RecipientID: job.RecipientID,
	}); err != nil {
		d.logger.Warn("push gateway send failed",
			zap.String("job_id", job.ID),
			zap.Int64("session_id", job.SessionID),
			zap.Error(err))
		return err
	}

	return nil
}
