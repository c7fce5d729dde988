package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/snsa-kscc/NutriChatBack/pkg/utils"
)

// AuthRequired is the identity gate: every protected route resolves to a
// verified {subject, display name, role} or is rejected before any business
// logic runs.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		tokenString := parts[1]
		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("subject_id", claims.UserID)
		c.Locals("display_name", claims.Name)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}
