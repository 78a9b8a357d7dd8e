package security

import (
	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	// Embedded means the frontend is served inside the Shopify admin
	// iframe, which requires frame-ancestors instead of a frame ban.
	Embedded bool
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if cfg.Embedded {
			c.Set("Content-Security-Policy", "frame-ancestors https://admin.shopify.com https://*.myshopify.com")
		} else {
			c.Set("X-Frame-Options", "DENY")
			c.Set("Content-Security-Policy", "frame-ancestors 'none'")
		}

		return c.Next()
	}
}
