package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

// CookieName holds the access token for browser clients.
const CookieName = "jwt"

func RegisterRoutes(r fiber.Router, svc *Service, secureCookie bool) {
	r.Post("/register", func(c *fiber.Ctx) error {
		var req RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		user, tokens, err := svc.Register(c.Context(), req)
		switch {
		case errors.Is(err, ErrValidation):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, ErrEmailTaken):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		setTokenCookie(c, tokens.AccessToken, secureCookie)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user, "tokens": tokens})
	})

	r.Post("/login", func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil || req.Email == "" || req.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "email and password required")
		}
		user, tokens, err := svc.Login(c.Context(), req)
		switch {
		case errors.Is(err, ErrInvalidCredentials), errors.Is(err, pgx.ErrNoRows):
			return fiber.NewError(fiber.StatusUnauthorized, ErrInvalidCredentials.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		setTokenCookie(c, tokens.AccessToken, secureCookie)
		return c.JSON(fiber.Map{"user": user, "tokens": tokens})
	})

	r.Post("/refresh", func(c *fiber.Ctx) error {
		var req RefreshRequest
		if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
			return fiber.NewError(fiber.StatusBadRequest, "refresh_token required")
		}

		userID, err := svc.ValidateRefreshToken(c.Context(), req.RefreshToken)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		resp, err := svc.GenerateTokens(c.Context(), userID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		setTokenCookie(c, resp.AccessToken, secureCookie)
		return c.JSON(resp)
	})

	r.Post("/logout", func(c *fiber.Ctx) error {
		var req RefreshRequest
		_ = c.BodyParser(&req)
		if req.RefreshToken != "" {
			if err := svc.RevokeRefreshToken(c.Context(), req.RefreshToken); err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
		}
		c.Cookie(&fiber.Cookie{
			Name:     CookieName,
			Value:    "",
			Expires:  time.Unix(0, 0),
			HTTPOnly: true,
			Secure:   secureCookie,
			SameSite: fiber.CookieSameSiteStrictMode,
		})
		return c.JSON(fiber.Map{"message": "logged out"})
	})

	r.Get("/jwt/verify", func(c *fiber.Ctx) error {
		token := tokenFromRequest(c)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}

		userID, err := svc.ValidateAccessToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		return c.JSON(fiber.Map{"user_id": userID})
	})
}

func setTokenCookie(c *fiber.Ctx, token string, secure bool) {
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    token,
		Expires:  time.Now().Add(accessTokenTTL),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// tokenFromRequest prefers the Authorization header over the cookie.
func tokenFromRequest(c *fiber.Ctx) string {
	if token := parseBearer(c.Get(fiber.HeaderAuthorization)); token != "" {
		return token
	}
	return c.Cookies(CookieName)
}

func parseBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
