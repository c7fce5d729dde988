package handlers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/snsa-kscc/NutriChatBack/internal/services"
)

var validate = validator.New()

var errMissingIdentity = errors.New("missing request identity")

// requestActor rebuilds the verified caller identity placed into request
// locals by the auth middleware. Handlers never read tokens themselves.
func requestActor(c *fiber.Ctx) (services.Actor, error) {
	subjectID, ok := c.Locals("subject_id").(string)
	if !ok || subjectID == "" {
		return services.Actor{}, errMissingIdentity
	}

	name, _ := c.Locals("display_name").(string)
	return services.Actor{ID: subjectID, Name: name}, nil
}
