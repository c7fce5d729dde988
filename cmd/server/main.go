package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/snsa-kscc/NutriChatBack/internal/config"
	"github.com/snsa-kscc/NutriChatBack/internal/database"
	"github.com/snsa-kscc/NutriChatBack/internal/logging"
	"github.com/snsa-kscc/NutriChatBack/internal/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DBUrl)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to postgres")

	app := fiber.New(fiber.Config{
		AppName: "NutriChat API",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	dispatcher := routes.RegisterRoutes(app, cfg, db, logger)
	go dispatcher.Run(ctx)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		_ = app.Shutdown()
	}()

	logger.Info("starting server", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
