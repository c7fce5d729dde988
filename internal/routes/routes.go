package routes

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/snsa-kscc/NutriChatBack/internal/config"
	"github.com/snsa-kscc/NutriChatBack/internal/handlers"
	"github.com/snsa-kscc/NutriChatBack/internal/middleware"
	"github.com/snsa-kscc/NutriChatBack/internal/repository"
	"github.com/snsa-kscc/NutriChatBack/internal/services"
	chatws "github.com/snsa-kscc/NutriChatBack/internal/websocket"
)

// RegisterRoutes wires repositories, services, and handlers onto the app and
// returns the notification dispatcher for the caller to run.
func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, logger *zap.Logger) *services.NotificationDispatcher {
	accountRepo := repository.NewAccountRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	nutritionistRepo := repository.NewNutritionistRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// In-process pub/sub carrying the post-commit dispatcher wake-ups. The
	// buffer keeps Publish from blocking the send path while the dispatcher
	// is mid-drain.
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewStdLogger(false, false))

	hub := chatws.NewHub()
	go hub.Run()

	chatService := services.NewChatService(
		db,
		sessionRepo,
		messageRepo,
		nutritionistRepo,
		outboxRepo,
		pubSub,
		logger,
	)

	pushGateway := services.NewExpoPushGateway(cfg.PushGatewayURL)
	dispatcher := services.NewNotificationDispatcher(
		db,
		sessionRepo,
		accountRepo,
		pushGateway,
		pubSub,
		cfg.PushDispatchInterval,
		logger,
	)

	chatHandler := handlers.NewChatHandler(chatService, hub, cfg.JWTSecret)
	nutritionistHandler := handlers.NewNutritionistHandler(nutritionistRepo)
	deviceHandler := handlers.NewDeviceHandler(accountRepo)

	api := app.Group("/api/v1")
	authRequired := middleware.AuthRequired(cfg.JWTSecret)

	// The socket authenticates itself from the query token so it stays usable
	// from clients that cannot set headers on upgrade requests.
	api.Get("/ws", chatHandler.WebSocketAuth, websocket.New(chatHandler.HandleWebSocket))

	chat := api.Group("/chat", authRequired)
	chat.Post("/messages", chatHandler.SendMessage)
	chat.Get("/sessions", chatHandler.ListSessions)
	chat.Get("/sessions/active", chatHandler.ListActiveSessions)
	chat.Get("/sessions/:id/messages", chatHandler.GetMessages)
	chat.Post("/sessions/:id/messages", chatHandler.SendNutritionistMessage)
	chat.Post("/sessions/:id/read", chatHandler.MarkMessagesRead)
	chat.Post("/sessions/:id/end", chatHandler.EndSession)
	chat.Delete("/sessions/:id", chatHandler.DeleteSession)

	nutritionists := api.Group("/nutritionists", authRequired)
	nutritionists.Get("/", nutritionistHandler.List)
	nutritionists.Get("/online", nutritionistHandler.ListOnline)
	nutritionists.Post("/", nutritionistHandler.Upsert)
	nutritionists.Put("/status", nutritionistHandler.UpdateStatus)

	me := api.Group("/me", authRequired)
	me.Put("/push-token", deviceHandler.RegisterPushToken)
	me.Delete("/push-token", deviceHandler.ClearPushToken)

	return dispatcher
}
