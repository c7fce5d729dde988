package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/snsa-kscc/NutriChatBack/internal/models"
	"github.com/snsa-kscc/NutriChatBack/internal/repository"
	"go.uber.org/zap"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

func TestChatServiceFirstSendCreatesSession(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	nutritionistID := createTestNutritionist(t, ctx, pool, true)
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, nutritionistID) })

	delivery, err := service.SendUserMessage(ctx, user, nutritionistID, "Hi, I need a meal plan")
	if err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}

	if delivery.Session.Status != models.SessionStatusActive {
		t.Fatalf("expected active session, got %q", delivery.Session.Status)
	}
	if delivery.Message.SenderType != models.SenderTypeUser || delivery.Message.IsRead {
		t.Fatalf("expected unread user message, got %+v", delivery.Message)
	}
	if delivery.RecipientID != nutritionistID {
		t.Fatalf("expected recipient %q, got %q", nutritionistID, delivery.RecipientID)
	}

	// A second send to the same nutritionist lands in the same session.
	second, err := service.SendUserMessage(ctx, user, nutritionistID, "Are you there?")
	if err != nil {
		t.Fatalf("second SendUserMessage: %v", err)
	}
	if second.Session.ID != delivery.Session.ID {
		t.Fatalf("expected session reuse, got %d then %d", delivery.Session.ID, second.Session.ID)
	}
}

func TestChatServiceRejectsSecondActiveSession(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	firstNutritionist := createTestNutritionist(t, ctx, pool, true)
	secondNutritionist := createTestNutritionist(t, ctx, pool, true)
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, firstNutritionist, secondNutritionist) })

	if _, err := service.SendUserMessage(ctx, user, firstNutritionist, "Hello"); err != nil {
		t.Fatalf("first SendUserMessage: %v", err)
	}

	_, err := service.SendUserMessage(ctx, user, secondNutritionist, "Hello to you too")
	if !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
}

func TestChatServiceConcurrentFirstSendsYieldOneSession(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	firstNutritionist := createTestNutritionist(t, ctx, pool, true)
	secondNutritionist := createTestNutritionist(t, ctx, pool, true)
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, firstNutritionist, secondNutritionist) })

	errs := make(chan error, 2)
	for _, target := range []string{firstNutritionist, secondNutritionist} {
		go func(nutritionistID string) {
			_, err := service.SendUserMessage(ctx, user, nutritionistID, "Racing hello")
			errs <- err
		}(target)
	}

	var conflicts, successes int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			successes++
		case errors.Is(err, ErrSessionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d conflicts", successes, conflicts)
	}

	sessions, err := service.ListUserSessions(ctx, user.ID, true)
	if err != nil {
		t.Fatalf("ListUserSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one active session, got %d", len(sessions))
	}
}

func TestChatServiceRejectsOfflineNutritionist(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	nutritionistID := createTestNutritionist(t, ctx, pool, false)
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, nutritionistID) })

	_, err := service.SendUserMessage(ctx, user, nutritionistID, "Hello?")
	if !errors.Is(err, ErrNutritionistOffline) {
		t.Fatalf("expected ErrNutritionistOffline, got %v", err)
	}
}

func TestChatServiceMessageOrderAndLastMessageAt(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	nutritionistID := createTestNutritionist(t, ctx, pool, true)
	nutritionist := Actor{ID: nutritionistID, Name: "Test Nutritionist"}
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, nutritionistID) })

	first, err := service.SendUserMessage(ctx, user, nutritionistID, "First")
	if err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	sessionID := first.Session.ID

	if _, err := service.SendNutritionistMessage(ctx, nutritionist, sessionID, "Second"); err != nil {
		t.Fatalf("SendNutritionistMessage: %v", err)
	}
	third, err := service.SendUserMessage(ctx, user, nutritionistID, "Third")
	if err != nil {
		t.Fatalf("third SendUserMessage: %v", err)
	}

	messages, total, err := service.ListMessages(ctx, user.ID, sessionID, 1, 50)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 3 || len(messages) != 3 {
		t.Fatalf("expected 3 messages, got total=%d len=%d", total, len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Fatalf("messages out of order: %v then %v", messages[i-1].CreatedAt, messages[i].CreatedAt)
		}
	}
	if messages[0].Content != "First" || messages[2].Content != "Third" {
		t.Fatalf("unexpected ordering: %q %q %q", messages[0].Content, messages[1].Content, messages[2].Content)
	}

	if third.Session.LastMessageAt.Before(messages[2].CreatedAt) {
		t.Fatalf("last_message_at %v behind newest message %v", third.Session.LastMessageAt, messages[2].CreatedAt)
	}
}

func TestChatServiceMarkMessagesRead(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	nutritionistID := createTestNutritionist(t, ctx, pool, true)
	nutritionist := Actor{ID: nutritionistID, Name: "Test Nutritionist"}
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, nutritionistID) })

	first, err := service.SendUserMessage(ctx, user, nutritionistID, "Question")
	if err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	sessionID := first.Session.ID
	if _, err := service.SendNutritionistMessage(ctx, nutritionist, sessionID, "Answer one"); err != nil {
		t.Fatalf("SendNutritionistMessage: %v", err)
	}
	if _, err := service.SendNutritionistMessage(ctx, nutritionist, sessionID, "Answer two"); err != nil {
		t.Fatalf("SendNutritionistMessage: %v", err)
	}

	// The user marks the nutritionist's side read.
	updated, err := service.MarkMessagesRead(ctx, user.ID, sessionID, models.SenderTypeNutritionist)
	if err != nil {
		t.Fatalf("MarkMessagesRead: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 updated, got %d", updated)
	}

	// Re-running is a no-op.
	updated, err = service.MarkMessagesRead(ctx, user.ID, sessionID, models.SenderTypeNutritionist)
	if err != nil {
		t.Fatalf("second MarkMessagesRead: %v", err)
	}
	if updated != 0 {
		t.Fatalf("expected idempotent no-op, got %d", updated)
	}

	// The user's own message is untouched.
	messages, _, err := service.ListMessages(ctx, user.ID, sessionID, 1, 50)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	for _, msg := range messages {
		if msg.SenderType == models.SenderTypeUser && msg.IsRead {
			t.Fatalf("user message was marked read: %+v", msg)
		}
	}

	// A caller cannot mark their own side.
	if _, err := service.MarkMessagesRead(ctx, user.ID, sessionID, models.SenderTypeUser); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	// Strangers cannot touch the session.
	stranger := testActor("user")
	if _, err := service.MarkMessagesRead(ctx, stranger.ID, sessionID, models.SenderTypeNutritionist); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestChatServiceEndSessionIsTerminal(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	nutritionistID := createTestNutritionist(t, ctx, pool, true)
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, nutritionistID) })

	first, err := service.SendUserMessage(ctx, user, nutritionistID, "Hello")
	if err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	sessionID := first.Session.ID

	ended, err := service.EndSession(ctx, user.ID, sessionID)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.Status != models.SessionStatusEnded || ended.EndedAt == nil {
		t.Fatalf("expected ended session with timestamp, got %+v", ended)
	}

	if _, err := service.EndSession(ctx, user.ID, sessionID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on repeated end, got %v", err)
	}

	// No sends into an ended session.
	nutritionist := Actor{ID: nutritionistID, Name: "Test Nutritionist"}
	if _, err := service.SendNutritionistMessage(ctx, nutritionist, sessionID, "Too late"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on send after end, got %v", err)
	}

	// Ending frees the user for a new session.
	second, err := service.SendUserMessage(ctx, user, nutritionistID, "Round two")
	if err != nil {
		t.Fatalf("SendUserMessage after end: %v", err)
	}
	if second.Session.ID == sessionID {
		t.Fatalf("expected a fresh session, got the ended one back")
	}
}

func TestChatServiceDeleteSession(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	nutritionistID := createTestNutritionist(t, ctx, pool, true)
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, nutritionistID) })

	first, err := service.SendUserMessage(ctx, user, nutritionistID, "Hello")
	if err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	sessionID := first.Session.ID

	// Only the session's nutritionist may delete.
	if err := service.DeleteSession(ctx, user.ID, sessionID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for user delete, got %v", err)
	}

	if err := service.DeleteSession(ctx, nutritionistID, sessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	sessionRepo := repository.NewSessionRepository(pool)
	if _, err := sessionRepo.GetByID(ctx, sessionID); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected session gone, got %v", err)
	}

	var remaining int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM chat_messages WHERE session_id = $1", sessionID).Scan(&remaining); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected messages removed, %d left", remaining)
	}
}

func TestChatServiceEnqueuesNotificationJob(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	nutritionistID := createTestNutritionist(t, ctx, pool, true)
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, nutritionistID) })

	delivery, err := service.SendUserMessage(ctx, user, nutritionistID, "Ping")
	if err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}

	var recipientID, senderName string
	err = pool.QueryRow(ctx, `
		SELECT recipient_id, sender_name
		FROM notification_outbox
		WHERE message_id = $1
	`, delivery.Message.ID).Scan(&recipientID, &senderName)
	if err != nil {
		t.Fatalf("read outbox row: %v", err)
	}
	if recipientID != nutritionistID || senderName != user.Name {
		t.Fatalf("unexpected outbox row: recipient=%q sender=%q", recipientID, senderName)
	}
}

func TestChatServiceRejectsBlankAndOversizedContent(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	user := testActor("user")
	nutritionistID := createTestNutritionist(t, ctx, pool, true)
	t.Cleanup(func() { cleanupChatData(t, ctx, pool, user.ID, nutritionistID) })

	if _, err := service.SendUserMessage(ctx, user, nutritionistID, "   \n\t "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank content, got %v", err)
	}

	oversized := make([]byte, 0, maxMessageLength+1)
	for i := 0; i <= maxMessageLength; i++ {
		oversized = append(oversized, 'a')
	}
	if _, err := service.SendUserMessage(ctx, user, nutritionistID, string(oversized)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized content, got %v", err)
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func newIntegrationChatService(pool *pgxpool.Pool) *ChatService {
	return NewChatService(
		pool,
		repository.NewSessionRepository(pool),
		repository.NewMessageRepository(pool),
		repository.NewNutritionistRepository(pool),
		repository.NewOutboxRepository(pool),
		nil,
		zap.NewNop(),
	)
}

func testActor(role string) Actor {
	id := fmt.Sprintf("chat-test-%s-%d", role, time.Now().UnixNano())
	return Actor{ID: id, Name: "Test " + role}
}

func createTestNutritionist(t *testing.T, ctx context.Context, pool *pgxpool.Pool, online bool) string {
	t.Helper()

	repo := repository.NewNutritionistRepository(pool)
	subjectID := fmt.Sprintf("chat-test-nutritionist-%d", time.Now().UnixNano())
	if _, err := repo.Upsert(ctx, &models.Nutritionist{
		SubjectID:      subjectID,
		Name:           "Test Nutritionist",
		Specialization: "sports nutrition",
		IsOnline:       online,
	}); err != nil {
		t.Fatalf("Upsert nutritionist: %v", err)
	}
	return subjectID
}

func cleanupChatData(t *testing.T, ctx context.Context, pool *pgxpool.Pool, subjectIDs ...string) {
	t.Helper()

	if len(subjectIDs) == 0 {
		return
	}

	if _, err := pool.Exec(ctx, `
		DELETE FROM notification_outbox
		WHERE session_id IN (SELECT id FROM chat_sessions WHERE user_id = ANY($1) OR nutritionist_id = ANY($1))
	`, subjectIDs); err != nil {
		t.Fatalf("cleanup outbox: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM chat_sessions WHERE user_id = ANY($1) OR nutritionist_id = ANY($1)", subjectIDs); err != nil {
		t.Fatalf("cleanup sessions: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM nutritionists WHERE subject_id = ANY($1)", subjectIDs); err != nil {
		t.Fatalf("cleanup nutritionists: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM accounts WHERE subject_id = ANY($1)", subjectIDs); err != nil {
		t.Fatalf("cleanup accounts: %v", err)
	}
}
