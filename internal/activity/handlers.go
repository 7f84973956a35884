package activity

import (
	"errors"
	"fmt"

	"backend-stridetrack/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req CreateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		a, err := svc.Create(c.Context(), auth.UserID(c), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(a)
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		list, err := svc.List(c.Context(), auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(list)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		a, err := svc.Get(c.Context(), auth.UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(a)
	})

	r.Get("/:id/export", authMiddleware, func(c *fiber.Ctx) error {
		a, err := svc.Get(c.Context(), auth.UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}

		var (
			data []byte
			mime string
		)
		format := c.Query("format", "fit")
		switch format {
		case "fit":
			data, err = EncodeFIT(a)
			mime = "application/vnd.ant.fit"
		case "parquet":
			data, err = EncodeParquet(a)
			mime = "application/vnd.apache.parquet"
		default:
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unsupported format %q (expected fit|parquet)", format))
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Attachment(fmt.Sprintf("activity-%s.%s", a.ID, format))
		c.Set(fiber.HeaderContentType, mime)
		return c.Send(data)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, pgx.ErrNoRows):
		return fiber.NewError(fiber.StatusNotFound, "activity not found")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
