package recording

import (
	"errors"

	"backend-stridetrack/internal/auth"
	"backend-stridetrack/internal/location"
	"backend-stridetrack/internal/recorder"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, mgr *Manager, authMiddleware fiber.Handler) {
	r.Get("/current", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(mgr.State(auth.UserID(c)))
	})

	r.Post("/current/start", authMiddleware, func(c *fiber.Ctx) error {
		st, err := mgr.Start(auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(st)
	})

	r.Post("/current/fixes", authMiddleware, func(c *fiber.Ctx) error {
		var fix location.Fix
		if err := c.BodyParser(&fix); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := mgr.PushFix(auth.UserID(c), fix); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/current/finish", authMiddleware, func(c *fiber.Ctx) error {
		st, err := mgr.Finish(auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(st)
	})

	r.Post("/current/save", authMiddleware, func(c *fiber.Ctx) error {
		a, err := mgr.Save(c.Context(), auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(a)
	})

	r.Post("/current/discard", authMiddleware, func(c *fiber.Ctx) error {
		st, err := mgr.Discard(auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(st)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, recorder.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrNotPushMode):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, location.ErrNoSubscriber):
		return fiber.NewError(fiber.StatusConflict, "no recording in progress")
	case errors.Is(err, location.ErrInvalidFix):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, recorder.ErrLocationUnavailable), errors.Is(err, recorder.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
