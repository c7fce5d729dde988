package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/snsa-kscc/NutriChatBack/internal/models"
	"github.com/snsa-kscc/NutriChatBack/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrForbidden            = errors.New("forbidden")
	ErrSessionConflict      = errors.New("another chat session is already active")
	ErrInvalidState         = errors.New("session is not active")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNutritionistNotFound = errors.New("nutritionist not found")
	ErrNutritionistOffline  = errors.New("nutritionist is offline")
)

// TopicNotificationQueued wakes the notification dispatcher after a message
// commit. Delivery does not depend on it; the dispatcher also polls.
const TopicNotificationQueued = "chat.notification.queued"

const maxMessageLength = 2000

const uniqueViolationCode = "23505"

// Actor is the verified identity of the caller, resolved by the auth
// middleware before any handler runs.
type Actor struct {
	ID   string
	Name string
}

type dispatchNotifier interface {
	Publish(topic string, messages ...*message.Message) error
}

type ChatService struct {
	db               *pgxpool.Pool
	sessionRepo      *repository.SessionRepository
	messageRepo      *repository.MessageRepository
	nutritionistRepo *repository.NutritionistRepository
	outboxRepo       *repository.OutboxRepository
	notifier         dispatchNotifier
	logger           *zap.Logger
}

// ChatDelivery is the result of a committed send: the session it landed in,
// the stored message, and the participant who should be notified.
type ChatDelivery struct {
	Session     *models.ChatSession
	Message     *models.ChatMessage
	RecipientID string
}

func NewChatService(
	db *pgxpool.Pool,
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	nutritionistRepo *repository.NutritionistRepository,
	outboxRepo *repository.OutboxRepository,
	notifier dispatchNotifier,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		db:               db,
		sessionRepo:      sessionRepo,
		messageRepo:      messageRepo,
		nutritionistRepo: nutritionistRepo,
		outboxRepo:       outboxRepo,
		notifier:         notifier,
		logger:           logger,
	}
}

// SendUserMessage locates the caller's active session or creates one against
// the requested nutritionist, then appends the message. A user holds at most
// one active session: sending to a different nutritionist while one is open
// fails with ErrSessionConflict.
func (s *ChatService) SendUserMessage(
	ctx context.Context,
	caller Actor,
	nutritionistID string,
	content string,
) (*ChatDelivery, error) {
	trimmed, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}
	if nutritionistID == "" || nutritionistID == caller.ID {
		return nil, ErrInvalidInput
	}

	session, err := s.createOrGetActiveSession(ctx, caller, nutritionistID)
	if err != nil {
		return nil, err
	}

	return s.appendMessage(ctx, session.ID, caller, models.SenderTypeUser, trimmed)
}

// SendNutritionistMessage appends a reply into an existing session. The caller
// must be the session's nutritionist and the session must still be active.
func (s *ChatService) SendNutritionistMessage(
	ctx context.Context,
	caller Actor,
	sessionID int64,
	content string,
) (*ChatDelivery, error) {
	trimmed, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}
	if sessionID <= 0 {
		return nil, ErrInvalidInput
	}

	return s.appendMessage(ctx, sessionID, caller, models.SenderTypeNutritionist, trimmed)
}

// createOrGetActiveSession resolves the exclusivity invariant. The insert is
// the atomic unit: the partial unique index on (user_id) WHERE status='active'
// rejects the second of two concurrent creations, and the loser re-reads the
// winner's row to decide between reuse and conflict. Check-then-insert on its
// own would race; the index makes the race unwinnable.
func (s *ChatService) createOrGetActiveSession(
	ctx context.Context,
	caller Actor,
	nutritionistID string,
) (*models.ChatSession, error) {
	for attempt := 0; attempt < 2; attempt++ {
		session, err := s.sessionRepo.GetActiveByUser(ctx, caller.ID)
		if err == nil {
			if session.NutritionistID != nutritionistID {
				return nil, ErrSessionConflict
			}
			return session, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}

		nutritionist, err := s.nutritionistRepo.GetBySubjectID(ctx, nutritionistID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNutritionistNotFound
			}
			return nil, err
		}
		if !nutritionist.IsOnline {
			return nil, ErrNutritionistOffline
		}

		created, err := s.sessionRepo.CreateActive(ctx, caller.ID, caller.Name, nutritionistID)
		if err == nil {
			return created, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			// Lost the creation race; re-read the winning session.
			continue
		}
		return nil, err
	}

	return nil, ErrSessionConflict
}

// appendMessage is the single write path for both roles. It locks the session
// row, re-validates status and sender under the lock, and commits the message,
// the last_message_at bump, and the notification outbox row as one unit.
func (s *ChatService) appendMessage(
	ctx context.Context,
	sessionID int64,
	sender Actor,
	senderType string,
	content string,
) (*ChatDelivery, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSessionRepo := repository.NewSessionRepository(tx)
	txMessageRepo := repository.NewMessageRepository(tx)
	txOutboxRepo := repository.NewOutboxRepository(tx)

	session, err := txSessionRepo.GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusActive {
		return nil, ErrInvalidState
	}

	expectedSender := session.UserID
	if senderType == models.SenderTypeNutritionist {
		expectedSender = session.NutritionistID
	}
	if sender.ID != expectedSender {
		return nil, ErrForbidden
	}

	msg, err := txMessageRepo.Append(ctx, session.ID, sender.ID, senderType, content, session.LastMessageAt)
	if err != nil {
		return nil, err
	}
	if err := txSessionRepo.SetLastMessageAt(ctx, session.ID, msg.CreatedAt); err != nil {
		return nil, err
	}

	recipientID := session.CounterpartOf(sender.ID)
	senderName := sender.Name
	if senderName == "" {
		senderName = "Someone"
	}
	job := &models.NotificationJob{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		MessageID:   msg.ID,
		RecipientID: recipientID,
		SenderName:  senderName,
		Body:        msg.Content,
	}
	if err := txOutboxRepo.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.wakeDispatcher(job.ID)

	session.LastMessageAt = msg.CreatedAt
	return &ChatDelivery{
		Session:     session,
		Message:     msg,
		RecipientID: recipientID,
	}, nil
}

// wakeDispatcher is a post-commit hint only. Failures are logged and dropped:
// the outbox poll picks the job up regardless.
func (s *ChatService) wakeDispatcher(jobID string) {
	if s.notifier == nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), message.Payload(jobID))
	if err := s.notifier.Publish(TopicNotificationQueued, msg); err != nil {
		s.logger.Warn("publish dispatcher wake-up", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *ChatService) ListUserSessions(
	ctx context.Context,
	callerID string,
	activeOnly bool,
) ([]models.SessionSummary, error) {
	return s.sessionRepo.ListForUser(ctx, callerID, activeOnly)
}

func (s *ChatService) ListNutritionistSessions(
	ctx context.Context,
	callerID string,
	activeOnly bool,
) ([]models.SessionSummary, error) {
	return s.sessionRepo.ListForNutritionist(ctx, callerID, activeOnly)
}

// ListMessages returns the session's messages ascending by timestamp. Both
// participants may read; nobody else.
func (s *ChatService) ListMessages(
	ctx context.Context,
	callerID string,
	sessionID int64,
	page int,
	limit int,
) ([]models.ChatMessage, int, error) {
	if sessionID <= 0 || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if !session.IsParticipant(callerID) {
		return nil, 0, ErrForbidden
	}

	return s.messageRepo.ListBySession(ctx, sessionID, limit, (page-1)*limit)
}

// MarkMessagesRead flips the counterpart's unread messages to read and
// reports how many changed. senderType names whose messages are affected and
// must be the caller's counterpart; a caller can never mark their own
// messages. Idempotent.
func (s *ChatService) MarkMessagesRead(
	ctx context.Context,
	callerID string,
	sessionID int64,
	senderType string,
) (int64, error) {
	if senderType != models.SenderTypeUser && senderType != models.SenderTypeNutritionist {
		return 0, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !session.IsParticipant(callerID) {
		return 0, ErrForbidden
	}
	ownSide := models.SenderTypeUser
	if callerID == session.NutritionistID {
		ownSide = models.SenderTypeNutritionist
	}
	if senderType == ownSide {
		return 0, ErrInvalidInput
	}

	return s.messageRepo.MarkSessionRead(ctx, sessionID, senderType)
}

// EndSession transitions active → ended. Either participant may end; ended is
// terminal, so a second call fails with ErrInvalidState rather than no-opping.
func (s *ChatService) EndSession(
	ctx context.Context,
	callerID string,
	sessionID int64,
) (*models.ChatSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(callerID) {
		return nil, ErrForbidden
	}

	ended, err := s.sessionRepo.EndIfActive(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	return ended, nil
}

// DeleteSession removes the session and every one of its messages. Only the
// session's nutritionist may delete, and the operation is legal on both
// active and ended sessions. Irreversible.
func (s *ChatService) DeleteSession(
	ctx context.Context,
	callerID string,
	sessionID int64,
) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if callerID != session.NutritionistID {
		return ErrForbidden
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSessionRepo := repository.NewSessionRepository(tx)
	txMessageRepo := repository.NewMessageRepository(tx)
	txOutboxRepo := repository.NewOutboxRepository(tx)

	if err := txMessageRepo.DeleteBySession(ctx, sessionID); err != nil {
		return err
	}
	if err := txOutboxRepo.DeleteBySession(ctx, sessionID); err != nil {
		return err
	}
	if err := txSessionRepo.Delete(ctx, sessionID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func normalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrInvalidInput
	}
	if utf8.RuneCountInString(trimmed) > maxMessageLength {
		return "", ErrInvalidInput
	}
	return trimmed, nil
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
