package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/snsa-kscc/NutriChatBack/internal/repository"
)

// DeviceHandler owns push registrations: the opaque delivery token the
// dispatcher looks up when it notifies a session counterpart.
type DeviceHandler struct {
	accountRepo *repository.AccountRepository
}

func NewDeviceHandler(accountRepo *repository.AccountRepository) *DeviceHandler {
	return &DeviceHandler{accountRepo: accountRepo}
}

type registerPushTokenRequest struct {
	PushToken string `json:"push_token" validate:"required,max=512"`
}

func (h *DeviceHandler) RegisterPushToken(c *fiber.Ctx) error {
	role, _ := c.Locals("role").(string)

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req registerPushTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "push_token is required"})
	}

	account, err := h.accountRepo.UpsertPushToken(c.Context(), actor.ID, actor.Name, role, req.PushToken)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to register push token"})
	}

	return c.JSON(fiber.Map{"account": account})
}

func (h *DeviceHandler) ClearPushToken(c *fiber.Ctx) error {
	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	if err := h.accountRepo.ClearPushToken(c.Context(), actor.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to clear push token"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
