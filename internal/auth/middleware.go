package auth

import (
	"github.com/gofiber/fiber/v2"
)

const userIDKey = "user_id"

// JWTMiddleware validates the access token from the bearer header or the jwt
// cookie and stores user_id in locals. Refresh tokens are rejected.
func JWTMiddleware(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := tokenFromRequest(c)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}

		claims, err := parseClaims(token, secretBytes, TokenAccess)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals(userIDKey, claims.UserID)
		return c.Next()
	}
}

// UserID returns the authenticated user set by JWTMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}
