package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/snsa-kscc/NutriChatBack/internal/models"
	"github.com/snsa-kscc/NutriChatBack/internal/repository"
)

type NutritionistHandler struct {
	nutritionistRepo *repository.NutritionistRepository
}

func NewNutritionistHandler(nutritionistRepo *repository.NutritionistRepository) *NutritionistHandler {
	return &NutritionistHandler{nutritionistRepo: nutritionistRepo}
}

type upsertNutritionistRequest struct {
	Name           string  `json:"name" validate:"required,max=120"`
	Specialization string  `json:"specialization" validate:"required,max=120"`
	Bio            string  `json:"bio" validate:"max=2000"`
	AvatarURL      *string `json:"avatar_url" validate:"omitempty,url"`
	IsOnline       bool    `json:"is_online"`
}

type updateStatusRequest struct {
	IsOnline *bool `json:"is_online" validate:"required"`
}

func (h *NutritionistHandler) List(c *fiber.Ctx) error {
	nutritionists, err := h.nutritionistRepo.List(c.Context(), false)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list nutritionists"})
	}
	return c.JSON(fiber.Map{"nutritionists": nutritionists})
}

func (h *NutritionistHandler) ListOnline(c *fiber.Ctx) error {
	nutritionists, err := h.nutritionistRepo.List(c.Context(), true)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list nutritionists"})
	}
	return c.JSON(fiber.Map{"nutritionists": nutritionists})
}

// Upsert creates or refreshes the caller's own directory profile. The profile
// is keyed by the verified subject id, never by a client-supplied one.
func (h *NutritionistHandler) Upsert(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.SenderTypeNutritionist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req upsertNutritionistRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name and specialization are required"})
	}

	nutritionist, err := h.nutritionistRepo.Upsert(c.Context(), &models.Nutritionist{
		SubjectID:      actor.ID,
		Name:           req.Name,
		Specialization: req.Specialization,
		Bio:            req.Bio,
		AvatarURL:      req.AvatarURL,
		IsOnline:       req.IsOnline,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save nutritionist profile"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"nutritionist": nutritionist})
}

// UpdateStatus flips the caller's own presence flag.
func (h *NutritionistHandler) UpdateStatus(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.SenderTypeNutritionist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actor, err := requestActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "is_online is required"})
	}

	nutritionist, err := h.nutritionistRepo.SetOnline(c.Context(), actor.ID, *req.IsOnline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Nutritionist not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update status"})
	}

	return c.JSON(fiber.Map{"nutritionist": nutritionist})
}
