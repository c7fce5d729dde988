package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/snsa-kscc/NutriChatBack/internal/models"
	"github.com/snsa-kscc/NutriChatBack/internal/services"
	chatws "github.com/snsa-kscc/NutriChatBack/internal/websocket"
	"github.com/snsa-kscc/NutriChatBack/pkg/utils"
)

type chatApplicationService interface {
	SendUserMessage(ctx context.Context, caller services.Actor, nutritionistID string, content string) (*services.ChatDelivery, error)
	SendNutritionistMessage(ctx context.Context, caller services.Actor, sessionID int64, content string) (*services.ChatDelivery, error)
	ListUserSessions(ctx context.Context, callerID string, activeOnly bool) ([]models.SessionSummary, error)
	ListNutritionistSessions(ctx context.Context, callerID string, activeOnly bool) ([]models.SessionSummary, error)
	ListMessages(ctx context.Context, callerID string, sessionID int64, page int, limit int) ([]models.ChatMessage, int, error)
	MarkMessagesRead(ctx context.Context, callerID string, sessionID int64, senderType string) (int64, error)
	EndSession(ctx context.Context, callerID string, sessionID int64) (*models.ChatSession, error)
	DeleteSession(ctx context.Context, callerID string, sessionID int64) error
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	jwtSecret string
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub, jwtSecret string) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

type sendMessageRequest struct {
	NutritionistID string `json:"nutritionist_id" validate:"required"`
	Content        string `json:"content" validate:"required,max=2000"`
}

type sendReplyRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}

type markReadRequest struct {
	SenderType string `json:"sender_type" validate:"required,oneof=user nutritionist"`
}

// SendMessage is the user-side send. The target session is implicit: the
// service reuses the caller's active session or creates one against the
// requested nutritionist.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.SenderTypeUser {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "nutritionist_id and content are required"})
	}

	delivery, err := h.service.SendUserMessage(c.Context(), actor, req.NutritionistID, req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	h.broadcastDelivery(delivery)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": delivery.Message,
		"session": delivery.Session,
	})
}

// SendNutritionistMessage is the nutritionist-side send into an existing
// session.
func (h *ChatHandler) SendNutritionistMessage(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.SenderTypeNutritionist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req sendReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "content is required"})
	}

	delivery, err := h.service.SendNutritionistMessage(c.Context(), actor, sessionID, req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	h.broadcastDelivery(delivery)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": delivery.Message,
		"session": delivery.Session,
	})
}

func (h *ChatHandler) ListSessions(c *fiber.Ctx) error {
	return h.listSessions(c, false)
}

func (h *ChatHandler) ListActiveSessions(c *fiber.Ctx) error {
	return h.listSessions(c, true)
}

func (h *ChatHandler) listSessions(c *fiber.Ctx, activeOnly bool) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != models.SenderTypeUser && role != models.SenderTypeNutritionist) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var sessions []models.SessionSummary
	if role == models.SenderTypeUser {
		sessions, err = h.service.ListUserSessions(c.Context(), actor.ID, activeOnly)
	} else {
		sessions, err = h.service.ListNutritionistSessions(c.Context(), actor.ID, activeOnly)
	}
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != models.SenderTypeUser && role != models.SenderTypeNutritionist) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.ListMessages(c.Context(), actor.ID, sessionID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) MarkMessagesRead(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != models.SenderTypeUser && role != models.SenderTypeNutritionist) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req markReadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sender_type must be user or nutritionist"})
	}

	updated, err := h.service.MarkMessagesRead(c.Context(), actor.ID, sessionID, req.SenderType)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"updated": updated})
}

func (h *ChatHandler) EndSession(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != models.SenderTypeUser && role != models.SenderTypeNutritionist) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.EndSession(c.Context(), actor.ID, sessionID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *ChatHandler) DeleteSession(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.SenderTypeNutritionist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	if err := h.service.DeleteSession(c.Context(), actor.ID, sessionID); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("subject_id", claims.UserID)
	c.Locals("display_name", claims.Name)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	subjectID, _ := conn.Locals("subject_id").(string)
	client := chatws.NewClient(h.hub, conn, subjectID)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func (h *ChatHandler) broadcastDelivery(delivery *services.ChatDelivery) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(&chatws.Event{
		Type:        "message",
		SessionID:   strconv.FormatInt(delivery.Message.SessionID, 10),
		SenderID:    delivery.Message.SenderID,
		SenderType:  delivery.Message.SenderType,
		RecipientID: delivery.RecipientID,
		Content:     delivery.Message.Content,
		Timestamp:   services.FormatChatTimestamp(delivery.Message.CreatedAt),
	})
}

func parseSessionID(c *fiber.Ctx) (int64, error) {
	sessionID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		return 0, strconv.ErrSyntax
	}
	return sessionID, nil
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrSessionConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "End your current chat session before starting a new one"})
	case errors.Is(err, services.ErrInvalidState):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Session is not active"})
	case errors.Is(err, services.ErrNutritionistNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Nutritionist not found"})
	case errors.Is(err, services.ErrNutritionistOffline):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Nutritionist is offline"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
