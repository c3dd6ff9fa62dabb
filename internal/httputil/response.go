// Package httputil provides the JSON response shapes shared by every handler on the HTTP admin surface.
package httputil

import (
	"github.com/gofiber/fiber/v3"
)

// Fail sends the neutral {success: false, message} error shape used by every admin-surface failure.
func Fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

// Success sends {success: true, ...fields}, merging the given fields into the response body.
func Success(c fiber.Ctx, fields fiber.Map) error {
	body := fiber.Map{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(body)
}

// Health sends the unauthenticated /v1/health response, whose shape ({ok: true, ...}) differs from every
// other admin-surface endpoint's {success: ...} envelope.
func Health(c fiber.Ctx, fields fiber.Map) error {
	body := fiber.Map{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(body)
}
